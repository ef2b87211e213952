package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"tagdesk/internal/app"
	"tagdesk/internal/schedule"
	"tagdesk/internal/tasks"
)

type usageError string

func (e usageError) Error() string { return string(e) }

var stdout io.Writer = os.Stdout

func dispatch(ctx context.Context, a *app.App, args []string) error {
	cmd, rest := args[0], args[1:]
	switch cmd {
	case "run":
		return run(ctx, a)
	case "status":
		return statusCmd(ctx, a)
	case "tasks":
		return tasksCmd(ctx, a, rest)
	case "types":
		w := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
		for _, ti := range schedule.Types() {
			fmt.Fprintf(w, "%s\t%s\n", ti.Type, ti.Label)
		}
		return w.Flush()
	case "broadcast":
		return broadcastCmd(ctx, a, rest)
	case "tags":
		return tagsCmd(ctx, a, rest)
	case "friends":
		return friendsCmd(ctx, a, rest)
	case "replies":
		return repliesCmd(ctx, a, rest)
	case "settings":
		return settingsCmd(ctx, a, rest)
	case "config":
		return configCmd(ctx, a, rest)
	case "audit":
		return auditCmd(ctx, a, rest)
	default:
		return usageError("unknown command: " + cmd)
	}
}

func sub(args []string, what string) (string, []string, error) {
	if len(args) == 0 {
		return "", nil, usageError(what + ": missing subcommand")
	}
	return args[0], args[1:], nil
}

func printRows(rows []tasks.Row) error {
	w := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTAG\tTYPE\tTIME\tRUNNING\tSUCCESS\tNEXT RUN\tMESSAGE")
	for _, r := range rows {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%t\t%.0f%% (%d/%d)\t%s\t%s\n",
			r.ID, r.Tag, r.ScheduleType.Label(), r.Time, r.Status.IsRunning,
			r.SuccessRate(), r.Status.SuccessCount, r.Status.TotalAttempts, r.NextRun, oneLine(r.Message))
	}
	return w.Flush()
}

func oneLine(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if r := []rune(s); len(r) > 40 {
		return string(r[:39]) + "…"
	}
	return s
}

func statusCmd(ctx context.Context, a *app.App) error {
	if _, err := a.Do(ctx, tasks.Refresh{}); err != nil {
		return err
	}
	if err := a.Poller().Cycle(ctx); err != nil {
		return fmt.Errorf("status poll: %w", err)
	}
	return printRows(a.Tasks().Rows())
}

// draftFlags registers the task fields on fs. The returned func starts from
// base and overrides only the flags that were given.
func draftFlags(fs *flag.FlagSet) func(base schedule.Definition) schedule.Definition {
	tag := fs.String("tag", "", "enabled tag")
	typ := fs.String("type", "", "schedule type, see the types command (add: daily)")
	at := fs.String("time", "", "HH:MM, or a cron expression for -type cron")
	msg := fs.String("message", "", "message text")
	return func(base schedule.Definition) schedule.Definition {
		d := base
		fs.Visit(func(f *flag.Flag) {
			switch f.Name {
			case "tag":
				d.Tag = *tag
			case "type":
				d.Type = schedule.Type(strings.ToLower(strings.TrimSpace(*typ)))
			case "time":
				d.Time = *at
			case "message":
				d.Message = *msg
			}
		})
		return d
	}
}

func tasksCmd(ctx context.Context, a *app.App, args []string) error {
	op, rest, err := sub(args, "tasks")
	if err != nil {
		return err
	}
	fs := flag.NewFlagSet("tasks "+op, flag.ContinueOnError)
	switch op {
	case "list":
		if _, err := a.Do(ctx, tasks.Refresh{}); err != nil {
			return err
		}
		return printRows(a.Tasks().Rows())
	case "add":
		draft := draftFlags(fs)
		if err := fs.Parse(rest); err != nil {
			return usageError(err.Error())
		}
		out, err := a.Do(ctx, tasks.Create{Draft: draft(schedule.Definition{Type: schedule.Daily})})
		if err != nil {
			return err
		}
		fmt.Fprintln(stdout, out.Row.ID)
		return nil
	case "update":
		id := fs.String("id", "", "task id")
		draft := draftFlags(fs)
		if err := fs.Parse(rest); err != nil {
			return usageError(err.Error())
		}
		if _, err := a.Do(ctx, tasks.Refresh{}); err != nil {
			return err
		}
		var base schedule.Definition
		if row, ok := a.Tasks().Get(*id); ok {
			base = row.Definition()
		}
		_, err := a.Do(ctx, tasks.Save{ID: *id, Draft: draft(base)})
		return err
	case "delete":
		id := fs.String("id", "", "task id")
		if err := fs.Parse(rest); err != nil {
			return usageError(err.Error())
		}
		if _, err := a.Do(ctx, tasks.Refresh{}); err != nil {
			return err
		}
		_, err := a.Do(ctx, tasks.Delete{ID: *id})
		return err
	default:
		return usageError("tasks: unknown subcommand " + op)
	}
}

func broadcastCmd(ctx context.Context, a *app.App, args []string) error {
	fs := flag.NewFlagSet("broadcast", flag.ContinueOnError)
	tag := fs.String("tag", "", "target tag (default: first enabled tag)")
	msg := fs.String("message", "", "message text")
	if err := fs.Parse(args); err != nil {
		return usageError(err.Error())
	}
	if *tag == "" {
		if _, err := a.Select(ctx, app.Selection{}); err != nil {
			return err
		}
	}
	_, err := a.Broadcast(ctx, *tag, *msg)
	return err
}

func tagsCmd(ctx context.Context, a *app.App, args []string) error {
	op, rest, err := sub(args, "tags")
	if err != nil {
		return err
	}
	switch op {
	case "list":
		if err := a.Tags().Load(ctx); err != nil {
			return err
		}
		groups := a.Tags().Groups()
		w := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "TAG\tFRIENDS")
		for _, t := range a.Tags().EnabledTags() {
			fmt.Fprintf(w, "%s\t%s\n", t, strings.Join(groups[t], ", "))
		}
		return w.Flush()
	case "add", "remove":
		if len(rest) != 1 {
			return usageError("tags " + op + ": exactly one tag required")
		}
		if op == "add" {
			return a.AddTag(ctx, rest[0])
		}
		return a.RemoveTag(ctx, rest[0])
	default:
		return usageError("tags: unknown subcommand " + op)
	}
}

func friendsCmd(ctx context.Context, a *app.App, args []string) error {
	op, rest, err := sub(args, "friends")
	if err != nil {
		return err
	}
	fs := flag.NewFlagSet("friends "+op, flag.ContinueOnError)
	tag := fs.String("tag", "", "tag whose group is edited")
	if err := fs.Parse(rest); err != nil {
		return usageError(err.Error())
	}
	var saved []string
	switch op {
	case "merge":
		saved, err = a.MergeFriends(ctx, *tag, fs.Args())
	case "set":
		saved, err = a.SetFriends(ctx, *tag, fs.Args())
	case "remove":
		return a.RemoveGroup(ctx, *tag)
	default:
		return usageError("friends: unknown subcommand " + op)
	}
	if err != nil {
		return err
	}
	fmt.Fprintln(stdout, strings.Join(saved, "\n"))
	return nil
}

func repliesCmd(ctx context.Context, a *app.App, args []string) error {
	op, rest, err := sub(args, "replies")
	if err != nil {
		return err
	}
	var replies map[string]string
	switch op {
	case "list":
		if err := a.Tags().Load(ctx); err != nil {
			return err
		}
		replies = a.Tags().AutoReplies()
	case "set":
		in := make(map[string]string, len(rest))
		for _, kv := range rest {
			k, v, ok := strings.Cut(kv, "=")
			if !ok {
				return usageError("replies set: expected TAG=REPLY, got " + kv)
			}
			in[k] = v
		}
		if replies, err = a.SetAutoReplies(ctx, in); err != nil {
			return err
		}
	default:
		return usageError("replies: unknown subcommand " + op)
	}
	keys := make([]string, 0, len(replies))
	for k := range replies {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	w := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	for _, k := range keys {
		fmt.Fprintf(w, "%s\t%s\n", k, oneLine(replies[k]))
	}
	return w.Flush()
}

func settingsCmd(ctx context.Context, a *app.App, args []string) error {
	op, rest, err := sub(args, "settings")
	if err != nil {
		return err
	}
	if err := a.Tags().Load(ctx); err != nil {
		return err
	}
	cur := a.Tags().Settings()
	switch op {
	case "show":
	case "set":
		fs := flag.NewFlagSet("settings set", flag.ContinueOnError)
		fs.BoolVar(&cur.Enable, "enable", cur.Enable, "enable the tag feature")
		fs.StringVar(&cur.TagPrefix, "prefix", cur.TagPrefix, "tag command prefix")
		fs.BoolVar(&cur.AllowAllAddTag, "allow-add", cur.AllowAllAddTag, "everyone may add tags")
		fs.BoolVar(&cur.AllowAllRemoveTag, "allow-remove", cur.AllowAllRemoveTag, "everyone may remove tags")
		fs.BoolVar(&cur.AllowAllViewTag, "allow-view", cur.AllowAllViewTag, "everyone may view tags")
		fs.BoolVar(&cur.AllowAllListTag, "allow-list", cur.AllowAllListTag, "everyone may list tags")
		admins := fs.String("admins", strings.Join(cur.AdminUsers, ","), "comma separated admin users")
		if err := fs.Parse(rest); err != nil {
			return usageError(err.Error())
		}
		cur.AdminUsers = strings.Split(*admins, ",")
		if cur, err = a.SetSettings(ctx, cur); err != nil {
			return err
		}
	default:
		return usageError("settings: unknown subcommand " + op)
	}
	w := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "enable\t%t\n", cur.Enable)
	fmt.Fprintf(w, "tag_prefix\t%s\n", cur.TagPrefix)
	fmt.Fprintf(w, "allow_all_add_tag\t%t\n", cur.AllowAllAddTag)
	fmt.Fprintf(w, "allow_all_remove_tag\t%t\n", cur.AllowAllRemoveTag)
	fmt.Fprintf(w, "allow_all_view_tag\t%t\n", cur.AllowAllViewTag)
	fmt.Fprintf(w, "allow_all_list_tag\t%t\n", cur.AllowAllListTag)
	fmt.Fprintf(w, "admin_users\t%s\n", strings.Join(cur.AdminUsers, ","))
	return w.Flush()
}

func configCmd(ctx context.Context, a *app.App, args []string) error {
	op, rest, err := sub(args, "config")
	if err != nil {
		return err
	}
	switch op {
	case "export":
		fs := flag.NewFlagSet("config export", flag.ContinueOnError)
		out := fs.String("o", "", "write to file instead of stdout")
		if err := fs.Parse(rest); err != nil {
			return usageError(err.Error())
		}
		doc, err := a.Export(ctx)
		if err != nil {
			return err
		}
		b, err := json.MarshalIndent(doc, "", "  ")
		if err != nil {
			return err
		}
		b = append(b, '\n')
		if *out == "" {
			_, err = stdout.Write(b)
			return err
		}
		return os.WriteFile(*out, b, 0o600)
	case "import":
		if len(rest) != 1 {
			return usageError("config import: exactly one file required")
		}
		b, err := os.ReadFile(rest[0])
		if err != nil {
			return err
		}
		return a.Import(ctx, json.RawMessage(b))
	default:
		return usageError("config: unknown subcommand " + op)
	}
}

func auditCmd(ctx context.Context, a *app.App, args []string) error {
	fs := flag.NewFlagSet("audit", flag.ContinueOnError)
	n := fs.Int("n", 20, "number of entries")
	if err := fs.Parse(args); err != nil {
		return usageError(err.Error())
	}
	if a.Audit() == nil {
		return fmt.Errorf("audit storage is disabled (set storage.driver)")
	}
	entries, err := a.RecentAudit(ctx, *n)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "AT\tACTOR\tACTION\tTARGET\tOK\tTOOK\tMESSAGE")
	for _, e := range entries {
		msg := e.Message
		if msg == "" {
			msg = e.Error
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%t\t%dms\t%s\n",
			e.At.Local().Format("2006-01-02 15:04:05"), e.Actor, e.Action, e.Target, e.OK, e.TookMS, oneLine(msg))
	}
	return w.Flush()
}
