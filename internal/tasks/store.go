package tasks

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"tagdesk/internal/eventbus"
	"tagdesk/internal/remote"
	"tagdesk/internal/schedule"
	logx "tagdesk/pkg/logx"
)

// Events published by the store.
const (
	EventCreated   = "tasks.created"   // Data: Row
	EventUpdated   = "tasks.updated"   // Data: Row (also when an edit is applied locally)
	EventDeleted   = "tasks.deleted"   // Data: task id
	EventRefreshed = "tasks.refreshed" // Data: row count
	EventStatus    = "tasks.status"    // Data: number of rows annotated
)

// ErrUnknownTask is returned for an id that matches no local row. No remote
// call is made in that case.
var ErrUnknownTask = errors.New("unknown task")

// API is the part of the bot API the store needs. *remote.Client
// implements it.
type API interface {
	ListTasks(ctx context.Context) ([]remote.Task, error)
	CreateTask(ctx context.Context, p remote.TaskPayload) (remote.Task, error)
	UpdateTask(ctx context.Context, id string, p remote.TaskPayload) (remote.Task, error)
	DeleteTask(ctx context.Context, id string) error
}

// TagSource supplies the currently enabled tags.
type TagSource interface {
	EnabledTags() []string
}

type entry struct {
	row Row
	// edit is the sequence number of the unconfirmed local edit, 0 if none.
	edit uint64
}

// Store mirrors the bot's task collection.
//
// Rows keep server order. The bot is authoritative: ids come only from its
// responses, deletes are applied only after it confirms, and List replaces
// the whole view. Status merges touch status fields only, so they never
// clobber an edit that is still in flight.
type Store struct {
	api  API
	tags TagSource
	bus  eventbus.Bus
	log  logx.Logger

	mu      sync.Mutex
	entries []*entry
	editSeq uint64
}

func NewStore(api API, tags TagSource, bus eventbus.Bus, log logx.Logger) *Store {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Store{api: api, tags: tags, bus: bus, log: log.With(logx.String("comp", "tasks"))}
}

// Rows returns a snapshot of the view.
func (s *Store) Rows() []Row {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Row, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e.row)
	}
	return out
}

func (s *Store) Get(id string) (Row, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e := s.findLocked(id); e != nil {
		return e.row, true
	}
	return Row{}, false
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *Store) findLocked(id string) *entry {
	for _, e := range s.entries {
		if e.row.ID == id {
			return e
		}
	}
	return nil
}

func (s *Store) validate(d schedule.Definition) error {
	var enabled []string
	if s.tags != nil {
		enabled = s.tags.EnabledTags()
	}
	return schedule.Validate(d, enabled)
}

// Create validates d and submits it. The row is added only after the bot
// returns its id; status arrives with the next poll.
func (s *Store) Create(ctx context.Context, d schedule.Definition) (Row, error) {
	if err := s.validate(d); err != nil {
		return Row{}, err
	}
	created, err := s.api.CreateTask(ctx, payload(d))
	if err != nil {
		return Row{}, fmt.Errorf("create task: %w", err)
	}
	t := fromRemote(created)

	s.mu.Lock()
	row := Row{Task: t}
	if e := s.findLocked(t.ID); e != nil {
		// A concurrent List already picked it up.
		e.row.Task, e.edit = t, 0
		row = e.row
	} else {
		s.entries = append(s.entries, &entry{row: row})
	}
	s.mu.Unlock()

	s.log.Info("task created", logx.String("id", t.ID), logx.String("tag", t.Tag), logx.String("type", string(t.ScheduleType)))
	s.publish(EventCreated, row)
	return row, nil
}

// Update validates d and replaces the task body on the bot. The local row
// shows d immediately and stays Pending until the bot accepts it. A failed
// call leaves the edited row in place; the next List replaces it.
func (s *Store) Update(ctx context.Context, id string, d schedule.Definition) (Row, error) {
	if err := s.validate(d); err != nil {
		return Row{}, err
	}
	p := payload(d)

	s.mu.Lock()
	e := s.findLocked(id)
	if e == nil {
		s.mu.Unlock()
		return Row{}, fmt.Errorf("update task %s: %w", id, ErrUnknownTask)
	}
	s.editSeq++
	seq := s.editSeq
	e.row.Task = applyPayload(e.row.Task, p)
	e.row.Pending = true
	e.edit = seq
	optimistic := e.row
	s.mu.Unlock()
	s.publish(EventUpdated, optimistic)

	updated, err := s.api.UpdateTask(ctx, id, p)

	s.mu.Lock()
	e = s.findLocked(id)
	var row Row
	switch {
	case e == nil:
		// Dropped by a concurrent List or Delete.
		if err == nil {
			row = Row{Task: fromRemote(updated)}
			row.ID = id
		}
	case err != nil:
		row = e.row
	default:
		t := fromRemote(updated)
		t.ID = id
		if e.edit == seq || e.edit == 0 {
			e.row.Task = t
			e.row.Pending = false
			e.edit = 0
		}
		row = e.row
	}
	s.mu.Unlock()

	if err != nil {
		s.log.Warn("task update failed; local edit kept until refresh", logx.String("id", id), logx.Err(err))
		return row, fmt.Errorf("update task %s: %w", id, err)
	}
	s.log.Info("task updated", logx.String("id", id))
	if e != nil {
		s.publish(EventUpdated, row)
	}
	return row, nil
}

// Delete removes a task on the bot and then from the view. Unknown ids
// return ErrUnknownTask without a remote call.
func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	known := s.findLocked(id) != nil
	s.mu.Unlock()
	if !known {
		return fmt.Errorf("delete task %s: %w", id, ErrUnknownTask)
	}

	if err := s.api.DeleteTask(ctx, id); err != nil {
		return fmt.Errorf("delete task %s: %w", id, err)
	}

	s.mu.Lock()
	s.entries = slices.DeleteFunc(s.entries, func(e *entry) bool { return e.row.ID == id })
	s.mu.Unlock()

	s.log.Info("task deleted", logx.String("id", id))
	s.publish(EventDeleted, id)
	return nil
}

// List replaces the view with the bot's task collection. Status already
// polled for ids that are still present is kept. Local edits that were not
// confirmed yet are discarded; each one is logged.
func (s *Store) List(ctx context.Context) ([]Row, error) {
	remoteTasks, err := s.api.ListTasks(ctx)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}

	s.mu.Lock()
	prev := make(map[string]*entry, len(s.entries))
	for _, e := range s.entries {
		prev[e.row.ID] = e
	}
	next := make([]*entry, 0, len(remoteTasks))
	out := make([]Row, 0, len(remoteTasks))
	var discarded []string
	for _, rt := range remoteTasks {
		t := fromRemote(rt)
		row := Row{Task: t}
		if old, ok := prev[t.ID]; ok {
			row.Status = old.row.Status
			row.NextRun = old.row.NextRun
			if old.edit != 0 && old.row.Task != t {
				discarded = append(discarded, t.ID)
			}
		}
		next = append(next, &entry{row: row})
		out = append(out, row)
	}
	s.entries = next
	s.mu.Unlock()

	for _, id := range discarded {
		s.log.Warn("unconfirmed local edit discarded by refresh", logx.String("id", id))
	}
	s.log.Debug("tasks refreshed", logx.Int("count", len(out)))
	s.publish(EventRefreshed, len(out))
	return out, nil
}

// MergeStatus copies polled status onto matching rows and returns how many
// rows were annotated. Entries for unknown ids are ignored. Only status
// fields and next run are written.
func (s *Store) MergeStatus(entries []remote.StatusEntry) int {
	s.mu.Lock()
	merged := 0
	for _, st := range entries {
		e := s.findLocked(st.ID)
		if e == nil {
			continue
		}
		e.row.Status = statusFromRemote(st.Status)
		e.row.NextRun = st.NextRun
		merged++
	}
	s.mu.Unlock()

	if skipped := len(entries) - merged; skipped > 0 {
		s.log.Debug("status for unknown tasks ignored", logx.Int("count", skipped))
	}
	if merged > 0 {
		s.publish(EventStatus, merged)
	}
	return merged
}

func (s *Store) publish(typ string, data any) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Data: data})
}
