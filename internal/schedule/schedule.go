// Package schedule models how a broadcast task recurs and validates task
// definitions before they are submitted to the bot.
//
// The server owns recurrence: this package only knows which companion value a
// schedule type needs. Every type except cron takes a local clock time
// ("HH:MM", 24-hour). Cron takes an opaque cron expression that is passed
// through unparsed; the server decides whether it is valid.
package schedule

import (
	"fmt"
	"regexp"
	"strings"
)

// Type is the recurrence kind of a task.
type Type string

const (
	Today            Type = "today"
	Tomorrow         Type = "tomorrow"
	DayAfterTomorrow Type = "day_after_tomorrow"
	Daily            Type = "daily"
	Workdays         Type = "workdays"
	Weekly           Type = "weekly"
	SpecificDate     Type = "specific_date"
	Cron             Type = "cron"
)

// TypeInfo pairs a schedule type with its display label.
type TypeInfo struct {
	Type  Type
	Label string
}

var types = []TypeInfo{
	{Today, "Today"},
	{Tomorrow, "Tomorrow"},
	{DayAfterTomorrow, "Day after tomorrow"},
	{Daily, "Every day"},
	{Workdays, "Workdays"},
	{Weekly, "Every week"},
	{SpecificDate, "Specific date"},
	{Cron, "Cron expression"},
}

// Types returns the closed set of schedule types in display order.
func Types() []TypeInfo {
	return append([]TypeInfo(nil), types...)
}

// Valid reports whether t is one of the known schedule types.
func (t Type) Valid() bool {
	for _, ti := range types {
		if ti.Type == t {
			return true
		}
	}
	return false
}

// UsesClockTime reports whether the companion value is an HH:MM clock time.
func (t Type) UsesClockTime() bool { return t != Cron }

func (t Type) Label() string {
	for _, ti := range types {
		if ti.Type == t {
			return ti.Label
		}
	}
	return string(t)
}

// ParseType accepts a type value (case-insensitive, surrounding space ignored).
func ParseType(raw string) (Type, error) {
	t := Type(strings.ToLower(strings.TrimSpace(raw)))
	if !t.Valid() {
		return "", fmt.Errorf("unknown schedule type %q", raw)
	}
	return t, nil
}

var reClock = regexp.MustCompile(`^([01]\d|2[0-3]):[0-5]\d$`)

// IsClockTime reports whether s is a 24-hour HH:MM time.
func IsClockTime(s string) bool { return reClock.MatchString(s) }
