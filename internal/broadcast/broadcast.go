// Package broadcast sends a one-shot message to every friend under a tag.
package broadcast

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"tagdesk/internal/remote"
	logx "tagdesk/pkg/logx"
)

var (
	ErrTagRequired     = errors.New("broadcast tag is required")
	ErrMessageRequired = errors.New("broadcast message is required")
)

// API is implemented by *remote.Client.
type API interface {
	Broadcast(ctx context.Context, tag, message string) (remote.BroadcastResponse, error)
}

type Failure struct {
	Name  string `json:"name"`
	Error string `json:"error,omitempty"`
}

// Result is the per-recipient outcome of one send. Failed keeps server order.
type Result struct {
	Tag          string    `json:"tag"`
	SuccessCount int       `json:"success_count"`
	FailCount    int       `json:"fail_count"`
	Failed       []Failure `json:"failed_friends"`
}

// Partial reports whether some recipients failed.
func (r Result) Partial() bool { return r.FailCount > 0 || len(r.Failed) > 0 }

// Level is "warning" when any recipient failed, "success" otherwise.
func (r Result) Level() string {
	if r.Partial() {
		return "warning"
	}
	return "success"
}

// Summary renders the result as one combined message.
func (r Result) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Broadcast finished: %d sent, %d failed", r.SuccessCount, r.FailCount)
	for _, f := range r.Failed {
		b.WriteString("\n- ")
		b.WriteString(f.Name)
		if f.Error != "" {
			b.WriteString(": ")
			b.WriteString(f.Error)
		}
	}
	return b.String()
}

type Dispatcher struct {
	api API
	log logx.Logger
}

func New(api API, log logx.Logger) *Dispatcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Dispatcher{api: api, log: log.With(logx.String("comp", "broadcast"))}
}

// Send makes exactly one broadcast call. Failed recipients are part of a
// successful Result; only a missing response or a server rejection is an
// error.
func (d *Dispatcher) Send(ctx context.Context, tag, message string) (Result, error) {
	tag = strings.TrimSpace(tag)
	if tag == "" {
		return Result{}, ErrTagRequired
	}
	if strings.TrimSpace(message) == "" {
		return Result{}, ErrMessageRequired
	}

	resp, err := d.api.Broadcast(ctx, tag, message)
	if err != nil {
		d.log.Warn("broadcast failed", logx.String("tag", tag), logx.Err(err))
		return Result{}, fmt.Errorf("broadcast to %q: %w", tag, err)
	}

	res := Result{Tag: tag, SuccessCount: resp.SuccessCount, FailCount: resp.FailCount}
	for _, f := range resp.FailedFriends {
		res.Failed = append(res.Failed, Failure{Name: f.Name, Error: f.Error})
	}
	d.log.Info("broadcast sent", logx.String("tag", tag), logx.Int("ok", res.SuccessCount), logx.Int("failed", res.FailCount))
	return res, nil
}
