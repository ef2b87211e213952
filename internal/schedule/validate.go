package schedule

import (
	"fmt"
	"slices"
	"strings"
)

// Definition is the operator-editable part of a task.
type Definition struct {
	Tag     string
	Type    Type
	Time    string
	Message string
}

// ValidationError is a local, pre-submission failure. It never reaches the
// network and names the first rule the definition broke.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Validate checks d against the rules in order and returns the first failure.
//
//  1. tag is set and enabled
//  2. type is a known schedule type
//  3. time is set; HH:MM unless the type is cron
//  4. message is non-blank
func Validate(d Definition, enabledTags []string) error {
	tag := strings.TrimSpace(d.Tag)
	if tag == "" {
		return &ValidationError{Field: "tag", Reason: "tag is required"}
	}
	if !slices.Contains(enabledTags, tag) {
		return &ValidationError{Field: "tag", Reason: fmt.Sprintf("tag %q is not enabled", tag)}
	}
	if !d.Type.Valid() {
		return &ValidationError{Field: "schedule_type", Reason: fmt.Sprintf("unknown schedule type %q", d.Type)}
	}
	if strings.TrimSpace(d.Time) == "" {
		if d.Type == Cron {
			return &ValidationError{Field: "time", Reason: "cron expression is required"}
		}
		return &ValidationError{Field: "time", Reason: "time is required"}
	}
	if d.Type.UsesClockTime() && !IsClockTime(d.Time) {
		return &ValidationError{Field: "time", Reason: fmt.Sprintf("%q is not a 24-hour HH:MM time", d.Time)}
	}
	if strings.TrimSpace(d.Message) == "" {
		return &ValidationError{Field: "message", Reason: "message is required"}
	}
	return nil
}
