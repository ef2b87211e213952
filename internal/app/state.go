package app

import (
	"sync"

	"tagdesk/internal/tags"
)

// Selection is the tag currently chosen in each tag-referencing control.
// An empty string means no selection.
type Selection struct {
	TaskTag      string
	BroadcastTag string
}

// State is the operator session state owned by the App.
type State struct {
	mu      sync.RWMutex
	sel     Selection
	enabled []string
}

func (s *State) Selection() Selection {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sel
}

// Options returns the tags a control may offer.
func (s *State) Options() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.enabled...)
}

// Select sets both selections. Tags that are not enabled are replaced the
// same way a tag removal would replace them.
func (s *State) Select(sel Selection) Selection {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sel = Selection{
		TaskTag:      tags.ResolveSelection(sel.TaskTag, s.enabled),
		BroadcastTag: tags.ResolveSelection(sel.BroadcastTag, s.enabled),
	}
	return s.sel
}

// Reconcile re-derives the option set after the enabled tags changed.
func (s *State) Reconcile(enabled []string) Selection {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enabled = append([]string(nil), enabled...)
	s.sel = Selection{
		TaskTag:      tags.ResolveSelection(s.sel.TaskTag, s.enabled),
		BroadcastTag: tags.ResolveSelection(s.sel.BroadcastTag, s.enabled),
	}
	return s.sel
}
