package tasks

import (
	"strings"

	"tagdesk/internal/remote"
	"tagdesk/internal/schedule"
)

// Task is a scheduled broadcast definition. ID is assigned by the bot and
// never changes across edits.
type Task struct {
	ID            string        `json:"id"`
	Tag           string        `json:"tag"`
	ScheduleType  schedule.Type `json:"schedule_type"`
	Time          string        `json:"time"`
	Message       string        `json:"message"`
	LastExecution string        `json:"last_execution,omitempty"`
}

// Definition returns the operator-editable fields of t.
func (t Task) Definition() schedule.Definition {
	return schedule.Definition{Tag: t.Tag, Type: t.ScheduleType, Time: t.Time, Message: t.Message}
}

// Status is the execution state reported by the bot. The store only ever
// copies it from status polls.
type Status struct {
	IsRunning     bool   `json:"is_running"`
	LastExecution string `json:"last_execution,omitempty"`
	LastSuccess   string `json:"last_success,omitempty"`
	LastError     string `json:"last_error,omitempty"`
	SuccessCount  int    `json:"success_count"`
	ErrorCount    int    `json:"error_count"`
	TotalAttempts int    `json:"total_attempts"`
}

// SuccessRate is SuccessCount / max(1, TotalAttempts) * 100.
func (s Status) SuccessRate() float64 {
	return float64(s.SuccessCount) / float64(max(1, s.TotalAttempts)) * 100
}

// Row is one task as shown to the operator.
type Row struct {
	Task
	Status  Status `json:"status"`
	NextRun string `json:"next_run,omitempty"`
	// Pending is set while an edit has been applied locally but not yet
	// confirmed by the bot.
	Pending bool `json:"pending,omitempty"`
}

func (r Row) SuccessRate() float64 { return r.Status.SuccessRate() }

func fromRemote(t remote.Task) Task {
	return Task{
		ID:            t.ID,
		Tag:           t.Tag,
		ScheduleType:  schedule.Type(t.ScheduleType),
		Time:          t.Time,
		Message:       t.Message,
		LastExecution: t.LastExecution,
	}
}

func statusFromRemote(s remote.ExecStatus) Status {
	return Status{
		IsRunning:     s.IsRunning,
		LastExecution: s.LastExecution,
		LastSuccess:   s.LastSuccess,
		LastError:     s.LastError,
		SuccessCount:  s.SuccessCount,
		ErrorCount:    s.ErrorCount,
		TotalAttempts: s.TotalAttempts,
	}
}

// payload builds the request body. Tag and message are trimmed; time is
// sent exactly as entered so cron expressions reach the bot unchanged.
func payload(d schedule.Definition) remote.TaskPayload {
	return remote.TaskPayload{
		Tag:          strings.TrimSpace(d.Tag),
		ScheduleType: string(d.Type),
		Time:         d.Time,
		Message:      strings.TrimSpace(d.Message),
	}
}

func applyPayload(t Task, p remote.TaskPayload) Task {
	t.Tag = p.Tag
	t.ScheduleType = schedule.Type(p.ScheduleType)
	t.Time = p.Time
	t.Message = p.Message
	return t
}
