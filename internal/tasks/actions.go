package tasks

import (
	"context"
	"fmt"

	"tagdesk/internal/schedule"
)

// Action is an operator command against the store. Front ends emit actions
// instead of calling store methods by name.
type Action interface {
	isAction()
	Name() string
}

// Create submits a new task.
type Create struct{ Draft schedule.Definition }

// Save replaces the body of task ID.
type Save struct {
	ID    string
	Draft schedule.Definition
}

// Delete removes task ID.
type Delete struct{ ID string }

// Refresh reloads the full task list.
type Refresh struct{}

func (Create) isAction()  {}
func (Save) isAction()    {}
func (Delete) isAction()  {}
func (Refresh) isAction() {}

func (Create) Name() string  { return "create" }
func (Save) Name() string    { return "save" }
func (Delete) Name() string  { return "delete" }
func (Refresh) Name() string { return "refresh" }

// Outcome describes what a dispatched action did.
type Outcome struct {
	Action Action
	// Row is the affected row for Create and Save.
	Row Row
	// Count is the number of rows after a Refresh.
	Count int
}

// Dispatch runs a.
func (s *Store) Dispatch(ctx context.Context, a Action) (Outcome, error) {
	out := Outcome{Action: a}
	var err error
	switch a := a.(type) {
	case Create:
		out.Row, err = s.Create(ctx, a.Draft)
	case Save:
		out.Row, err = s.Update(ctx, a.ID, a.Draft)
	case Delete:
		err = s.Delete(ctx, a.ID)
	case Refresh:
		var rows []Row
		rows, err = s.List(ctx)
		out.Count = len(rows)
	default:
		err = fmt.Errorf("unsupported action %T", a)
	}
	return out, err
}
