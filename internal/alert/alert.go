// Package alert delivers operator-facing messages: the outcome of every
// task edit, tag edit and broadcast.
//
// Background work (status polling) never raises alerts; it logs instead.
package alert

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	logx "tagdesk/pkg/logx"
)

type Level int

const (
	Info Level = iota
	Success
	Warning
	Danger
)

func (l Level) String() string {
	switch l {
	case Success:
		return "success"
	case Warning:
		return "warning"
	case Danger:
		return "danger"
	default:
		return "info"
	}
}

// ParseLevel accepts the names returned by Level.String.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return Info, nil
	case "success":
		return Success, nil
	case "warning", "warn":
		return Warning, nil
	case "danger", "error":
		return Danger, nil
	}
	return Info, fmt.Errorf("unknown alert level %q", s)
}

type Alert struct {
	Level   Level
	Op      string
	Message string
	Time    time.Time
}

func (a Alert) String() string {
	return fmt.Sprintf("[%s] %s", strings.ToUpper(a.Level.String()), a.Message)
}

type Sink interface {
	Notify(ctx context.Context, a Alert) error
}

// Multi fans an alert out to every sink and joins their errors.
type Multi []Sink

func (m Multi) Notify(ctx context.Context, a Alert) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Notify(ctx, a); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// MinLevel drops alerts below Min before they reach Next.
type MinLevel struct {
	Min  Level
	Next Sink
}

func (f MinLevel) Notify(ctx context.Context, a Alert) error {
	if a.Level < f.Min || f.Next == nil {
		return nil
	}
	return f.Next.Notify(ctx, a)
}

// LogSink writes alerts to the structured log.
type LogSink struct {
	Log logx.Logger
}

func (s LogSink) Notify(_ context.Context, a Alert) error {
	fields := []logx.Field{logx.String("alert", a.Level.String()), logx.String("op", a.Op)}
	switch a.Level {
	case Danger:
		s.Log.Error(a.Message, fields...)
	case Warning:
		s.Log.Warn(a.Message, fields...)
	default:
		s.Log.Info(a.Message, fields...)
	}
	return nil
}

// WriterSink prints alerts as plain lines, for the CLI.
type WriterSink struct {
	W io.Writer
}

func (s WriterSink) Notify(_ context.Context, a Alert) error {
	_, err := fmt.Fprintln(s.W, a.String())
	return err
}

// Recorder keeps every alert in memory.
type Recorder struct {
	mu     sync.Mutex
	alerts []Alert
}

func (r *Recorder) Notify(_ context.Context, a Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, a)
	return nil
}

func (r *Recorder) Alerts() []Alert {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Alert(nil), r.alerts...)
}
