package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"tagdesk/internal/alert"
	"tagdesk/internal/broadcast"
	"tagdesk/internal/remote"
	"tagdesk/internal/schedule"
	"tagdesk/internal/storage"
	"tagdesk/internal/tags"
	"tagdesk/internal/tasks"
	logx "tagdesk/pkg/logx"
)

// outcome is what one operator action reports.
type outcome struct {
	op     string
	target string
	level  alert.Level
	msg    string // empty: audit only
	meta   string
	err    error
}

var taskSuccess = map[string]string{
	"create": "Task created",
	"save":   "Task saved",
	"delete": "Task deleted",
}

// Do runs a task action. Every create, save and delete raises an alert:
// success, a warning for input the operator must fix, or danger with the
// server's reason.
func (a *App) Do(ctx context.Context, act tasks.Action) (tasks.Outcome, error) {
	start := time.Now()
	if _, ok := act.(tasks.Refresh); !ok {
		if err := a.ensureTags(ctx); err != nil {
			a.report(ctx, start, a.failure("task."+act.Name(), "", err))
			return tasks.Outcome{Action: act}, err
		}
	}
	out, err := a.tasks.Dispatch(ctx, act)

	o := outcome{op: "task." + act.Name(), target: actionTarget(act, out), err: err}
	switch {
	case err != nil:
		o = a.failure(o.op, o.target, err)
	case act.Name() == "refresh":
		o.meta = fmt.Sprintf("count=%d", out.Count)
	default:
		o.level, o.msg = alert.Success, taskSuccess[act.Name()]
	}
	a.report(ctx, start, o)
	return out, err
}

func actionTarget(act tasks.Action, out tasks.Outcome) string {
	switch x := act.(type) {
	case tasks.Save:
		return x.ID
	case tasks.Delete:
		return x.ID
	case tasks.Create:
		return out.Row.ID
	}
	return ""
}

// Refresh reloads the tag config and the task list.
func (a *App) Refresh(ctx context.Context) error {
	start := time.Now()
	err := a.sync(ctx)
	if err != nil {
		a.report(ctx, start, a.failure("config.load", "", err))
		return err
	}
	a.report(ctx, start, outcome{op: "config.load", level: alert.Success, msg: "Configuration loaded",
		meta: fmt.Sprintf("tags=%d tasks=%d", len(a.tags.EnabledTags()), a.tasks.Len())})
	return nil
}

// Broadcast sends message to every friend under tag. An empty tag uses the
// current broadcast selection. A partial delivery is a warning, not an
// error.
func (a *App) Broadcast(ctx context.Context, tag, message string) (broadcast.Result, error) {
	start := time.Now()
	if err := a.ensureTags(ctx); err != nil {
		a.report(ctx, start, a.failure("broadcast", tag, err))
		return broadcast.Result{}, err
	}
	if strings.TrimSpace(tag) == "" {
		tag = a.state.Selection().BroadcastTag
	}
	if tag = strings.TrimSpace(tag); tag != "" && !a.tags.IsEnabled(tag) {
		err := fmt.Errorf("broadcast to %q: %w", tag, tags.ErrUnknownTag)
		a.report(ctx, start, a.failure("broadcast", tag, err))
		return broadcast.Result{}, err
	}

	res, err := a.bcast.Send(ctx, tag, message)
	if err != nil {
		a.report(ctx, start, a.failure("broadcast", tag, err))
		return res, err
	}
	lvl := alert.Success
	if res.Partial() {
		lvl = alert.Warning
	}
	a.report(ctx, start, outcome{op: "broadcast", target: tag, level: lvl, msg: res.Summary(),
		meta: fmt.Sprintf("sent=%d failed=%d", res.SuccessCount, res.FailCount)})
	return res, nil
}

func (a *App) AddTag(ctx context.Context, tag string) error {
	return a.tagEdit(ctx, "tag.add", tag, "Tag added", func(ctx context.Context) error {
		return a.tags.AddTag(ctx, tag)
	})
}

func (a *App) RemoveTag(ctx context.Context, tag string) error {
	return a.tagEdit(ctx, "tag.remove", tag, "Tag removed", func(ctx context.Context) error {
		return a.tags.RemoveTag(ctx, tag)
	})
}

// MergeFriends adds friends to tag's group and returns the saved list.
func (a *App) MergeFriends(ctx context.Context, tag string, friends []string) ([]string, error) {
	var saved []string
	err := a.tagEdit(ctx, "friends.merge", tag, "Friends saved", func(ctx context.Context) error {
		var err error
		saved, err = a.tags.MergeFriends(ctx, tag, friends)
		return err
	})
	return saved, err
}

// SetFriends replaces tag's group and returns the saved list.
func (a *App) SetFriends(ctx context.Context, tag string, friends []string) ([]string, error) {
	var saved []string
	err := a.tagEdit(ctx, "friends.set", tag, "Friends saved", func(ctx context.Context) error {
		var err error
		saved, err = a.tags.SetFriends(ctx, tag, friends)
		return err
	})
	return saved, err
}

func (a *App) RemoveGroup(ctx context.Context, tag string) error {
	return a.tagEdit(ctx, "friends.remove", tag, "Group removed", func(ctx context.Context) error {
		return a.tags.RemoveGroup(ctx, tag)
	})
}

// SetAutoReplies replaces the auto-reply table and returns what was saved.
func (a *App) SetAutoReplies(ctx context.Context, replies map[string]string) (map[string]string, error) {
	var saved map[string]string
	err := a.tagEdit(ctx, "replies.set", "", "Auto replies saved", func(ctx context.Context) error {
		var err error
		saved, err = a.tags.SetAutoReplies(ctx, replies)
		return err
	})
	return saved, err
}

// SetSettings saves the bot-wide tag switches and returns what was saved.
func (a *App) SetSettings(ctx context.Context, set tags.Settings) (tags.Settings, error) {
	var saved tags.Settings
	err := a.tagEdit(ctx, "settings.set", "", "Settings saved", func(ctx context.Context) error {
		var err error
		saved, err = a.tags.SetSettings(ctx, set)
		return err
	})
	return saved, err
}

// Export returns the bot's full configuration. Only a failure alerts.
func (a *App) Export(ctx context.Context) (json.RawMessage, error) {
	start := time.Now()
	doc, err := a.tags.Export(ctx)
	if err != nil {
		a.report(ctx, start, a.failure("config.export", "", err))
		return nil, err
	}
	a.report(ctx, start, outcome{op: "config.export", meta: fmt.Sprintf("bytes=%d", len(doc))})
	return doc, nil
}

// Import replaces the bot's configuration, then reloads tags and tasks.
func (a *App) Import(ctx context.Context, doc json.RawMessage) error {
	start := time.Now()
	err := a.tags.Import(ctx, doc)
	if err == nil {
		a.state.Reconcile(a.tags.EnabledTags())
		_, err = a.tasks.List(ctx)
	}
	if err != nil {
		a.report(ctx, start, a.failure("config.import", "", err))
		return err
	}
	a.report(ctx, start, outcome{op: "config.import", level: alert.Success, msg: "Configuration imported"})
	return nil
}

// Select changes the tag selections of the task editor and the broadcast
// form.
func (a *App) Select(ctx context.Context, sel Selection) (Selection, error) {
	if err := a.ensureTags(ctx); err != nil {
		return a.state.Selection(), err
	}
	return a.state.Select(sel), nil
}

// RecentAudit returns the newest audit entries. It is empty when storage is
// disabled.
func (a *App) RecentAudit(ctx context.Context, limit int) ([]storage.AuditEntry, error) {
	if a.audit == nil {
		return nil, nil
	}
	return a.audit.RecentAudit(ctx, limit)
}

func (a *App) tagEdit(ctx context.Context, op, target, okMsg string, fn func(ctx context.Context) error) error {
	start := time.Now()
	err := a.ensureTags(ctx)
	if err == nil {
		err = fn(ctx)
	}
	if err != nil {
		a.report(ctx, start, a.failure(op, target, err))
		return err
	}
	a.state.Reconcile(a.tags.EnabledTags())
	a.report(ctx, start, outcome{op: op, target: target, level: alert.Success, msg: okMsg})
	return nil
}

func (a *App) ensureTags(ctx context.Context) error {
	if a.tags.Loaded() {
		return nil
	}
	if err := a.tags.Load(ctx); err != nil {
		return err
	}
	a.state.Reconcile(a.tags.EnabledTags())
	return nil
}

// failure classifies err. Input problems are warnings; everything else is
// danger with the server's text when there is one.
func (a *App) failure(op, target string, err error) outcome {
	o := outcome{op: op, target: target, err: err, level: alert.Danger}
	var ve *schedule.ValidationError
	switch {
	case errors.As(err, &ve):
		o.level, o.msg = alert.Warning, ve.Error()
	case errors.Is(err, broadcast.ErrTagRequired), errors.Is(err, broadcast.ErrMessageRequired),
		errors.Is(err, tags.ErrTagRequired), errors.Is(err, tags.ErrUnknownTag):
		o.level, o.msg = alert.Warning, err.Error()
	case errors.Is(err, tasks.ErrUnknownTask):
		o.msg = "Task not found: " + target
	default:
		var ae *remote.APIError
		if errors.As(err, &ae) && strings.TrimSpace(ae.Message) != "" {
			o.msg = ae.Message
		} else {
			o.msg = fmt.Sprintf("%s failed: %s", op, remote.OperatorMessage(err))
		}
	}
	return o
}

// report raises the alert (if any) and appends the audit entry.
func (a *App) report(ctx context.Context, start time.Time, o outcome) {
	now := time.Now()
	if o.msg != "" {
		al := alert.Alert{Level: o.level, Op: o.op, Message: o.msg, Time: now}
		a.alertsMu.RLock()
		sinks := append(alert.Multi{a.alerts}, a.extra...)
		a.alertsMu.RUnlock()
		if err := sinks.Notify(ctx, al); err != nil {
			a.log.Warn("alert delivery failed", logx.String("op", o.op), logx.Err(err))
		}
	}

	if a.audit == nil {
		return
	}
	e := storage.AuditEntry{
		At:      now.UTC(),
		Actor:   a.actor,
		Action:  o.op,
		Target:  o.target,
		OK:      o.err == nil,
		Message: o.msg,
		TookMS:  now.Sub(start).Milliseconds(),
		Meta:    o.meta,
	}
	if o.msg != "" {
		e.Level = o.level.String()
	}
	if o.err != nil {
		e.Error = o.err.Error()
	}
	// Audit must not depend on the caller's deadline.
	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if err := a.audit.AppendAudit(actx, e); err != nil {
		a.log.Warn("audit append failed", logx.String("action", o.op), logx.Err(err))
	}
}
