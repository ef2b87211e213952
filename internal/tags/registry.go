package tags

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"

	"tagdesk/internal/eventbus"
	"tagdesk/internal/remote"
	logx "tagdesk/pkg/logx"
)

// EventChanged is published after the enabled tag set may have changed.
// Data is a Changed value.
const EventChanged = "tags.changed"

type Changed struct {
	Enabled []string
}

var (
	ErrTagRequired = errors.New("tag is required")
	ErrUnknownTag  = errors.New("tag is not enabled")
)

// API is the part of the bot API the registry needs. *remote.Client
// implements it.
type API interface {
	GetTagConfig(ctx context.Context) (remote.TagConfig, error)
	SaveTagConfig(ctx context.Context, doc remote.TagConfig) error
	AddTag(ctx context.Context, tag string) error
	RemoveTag(ctx context.Context, tag string) error
	ExportConfig(ctx context.Context) (json.RawMessage, error)
	ImportConfig(ctx context.Context, doc json.RawMessage) error
}

// Registry mirrors the bot's tag-config document.
//
// The document is the only source of enabled tags. Every edit reads the
// mirror, changes a copy and saves the whole document; the mirror is replaced
// only after the server accepted the save.
type Registry struct {
	api API
	bus eventbus.Bus
	log logx.Logger

	writeMu sync.Mutex // serializes read-modify-save cycles

	mu     sync.RWMutex
	doc    remote.TagConfig
	loaded bool
}

func New(api API, bus eventbus.Bus, log logx.Logger) *Registry {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Registry{api: api, bus: bus, log: log.With(logx.String("comp", "tags"))}
}

// Load fetches the tag-config document. Subscribers are notified when the
// enabled set differs from the previous mirror.
func (r *Registry) Load(ctx context.Context) error {
	return r.reload(ctx, false)
}

func (r *Registry) reload(ctx context.Context, notify bool) error {
	doc, err := r.api.GetTagConfig(ctx)
	if err != nil {
		return fmt.Errorf("load tag config: %w", err)
	}
	r.mu.Lock()
	changed := !r.loaded || !slices.Equal(r.doc.EnabledTags, doc.EnabledTags)
	r.doc = doc
	r.loaded = true
	enabled := slices.Clone(doc.EnabledTags)
	r.mu.Unlock()

	r.log.Debug("tag config loaded", logx.Int("enabled", len(enabled)), logx.Int("groups", len(doc.TagsFriends)))
	if changed || notify {
		r.publish(enabled)
	}
	return nil
}

func (r *Registry) publish(enabled []string) {
	if r.bus == nil {
		return
	}
	r.bus.Publish(eventbus.Event{Type: EventChanged, Data: Changed{Enabled: enabled}})
}

// Loaded reports whether a document has been fetched.
func (r *Registry) Loaded() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.loaded
}

// Document returns a copy of the mirrored document.
func (r *Registry) Document() remote.TagConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.doc.Clone()
}

// EnabledTags returns the enabled tags in document order.
func (r *Registry) EnabledTags() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.doc.EnabledTags)
}

func (r *Registry) IsEnabled(tag string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Contains(r.doc.EnabledTags, tag)
}

// Friends returns the normalized friend list of tag.
func (r *Registry) Friends(tag string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return NormalizeFriends(r.doc.TagsFriends[tag])
}

// Groups returns every tag→friends entry, normalized.
func (r *Registry) Groups() map[string][]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string][]string, len(r.doc.TagsFriends))
	for tag, friends := range r.doc.TagsFriends {
		out[tag] = NormalizeFriends(friends)
	}
	return out
}

func (r *Registry) AutoReplies() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return maps.Clone(r.doc.AutoReply)
}

// MergeFriends adds friends to tag's group as a set union and saves.
func (r *Registry) MergeFriends(ctx context.Context, tag string, friends []string) ([]string, error) {
	tag = strings.TrimSpace(tag)
	var merged []string
	err := r.edit(ctx, "merge friends", func(doc *remote.TagConfig) error {
		if err := requireEnabled(doc, tag); err != nil {
			return err
		}
		merged = MergeFriends(doc.TagsFriends[tag], friends)
		setGroup(doc, tag, merged)
		return nil
	})
	if err != nil {
		return nil, err
	}
	r.log.Info("friends merged", logx.String("tag", tag), logx.Int("count", len(merged)))
	return merged, nil
}

// SetFriends replaces tag's group with the normalized friends.
func (r *Registry) SetFriends(ctx context.Context, tag string, friends []string) ([]string, error) {
	tag = strings.TrimSpace(tag)
	var list []string
	err := r.edit(ctx, "set friends", func(doc *remote.TagConfig) error {
		if err := requireEnabled(doc, tag); err != nil {
			return err
		}
		list = NormalizeFriends(friends)
		setGroup(doc, tag, list)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return list, nil
}

// RemoveGroup deletes tag's friend group. The document is saved even when
// the group did not exist.
func (r *Registry) RemoveGroup(ctx context.Context, tag string) error {
	tag = strings.TrimSpace(tag)
	return r.edit(ctx, "remove group", func(doc *remote.TagConfig) error {
		if tag == "" {
			return ErrTagRequired
		}
		delete(doc.TagsFriends, tag)
		return nil
	})
}

// SetAutoReplies replaces the auto-reply map. Entries without a tag or
// without a reply are dropped.
func (r *Registry) SetAutoReplies(ctx context.Context, replies map[string]string) (map[string]string, error) {
	kept := make(map[string]string, len(replies))
	for tag, reply := range replies {
		tag = strings.TrimSpace(tag)
		if tag == "" || strings.TrimSpace(reply) == "" {
			continue
		}
		kept[tag] = reply
	}
	err := r.edit(ctx, "set auto replies", func(doc *remote.TagConfig) error {
		doc.AutoReply = kept
		return nil
	})
	if err != nil {
		return nil, err
	}
	return maps.Clone(kept), nil
}

// AddTag enables a new tag on the bot, then reloads.
func (r *Registry) AddTag(ctx context.Context, tag string) error {
	tag = strings.TrimSpace(tag)
	if tag == "" {
		return ErrTagRequired
	}
	if err := r.api.AddTag(ctx, tag); err != nil {
		return fmt.Errorf("add tag %q: %w", tag, err)
	}
	r.log.Info("tag added", logx.String("tag", tag))
	return r.reload(ctx, true)
}

// RemoveTag disables a tag on the bot, then reloads.
func (r *Registry) RemoveTag(ctx context.Context, tag string) error {
	tag = strings.TrimSpace(tag)
	if tag == "" {
		return ErrTagRequired
	}
	if err := r.api.RemoveTag(ctx, tag); err != nil {
		return fmt.Errorf("remove tag %q: %w", tag, err)
	}
	r.log.Info("tag removed", logx.String("tag", tag))
	return r.reload(ctx, true)
}

// Export returns the bot's whole configuration untouched.
func (r *Registry) Export(ctx context.Context) (json.RawMessage, error) {
	doc, err := r.api.ExportConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("export config: %w", err)
	}
	return doc, nil
}

// Import uploads a configuration produced by Export, then reloads.
func (r *Registry) Import(ctx context.Context, doc json.RawMessage) error {
	if err := r.api.ImportConfig(ctx, doc); err != nil {
		return fmt.Errorf("import config: %w", err)
	}
	r.log.Info("config imported", logx.Int("bytes", len(doc)))
	return r.reload(ctx, true)
}

func (r *Registry) edit(ctx context.Context, op string, fn func(doc *remote.TagConfig) error) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	if !r.Loaded() {
		if err := r.Load(ctx); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
	}
	doc := r.Document()
	if err := fn(&doc); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := r.api.SaveTagConfig(ctx, doc); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	r.mu.Lock()
	r.doc = doc
	r.mu.Unlock()
	return nil
}

func requireEnabled(doc *remote.TagConfig, tag string) error {
	if tag == "" {
		return ErrTagRequired
	}
	if !slices.Contains(doc.EnabledTags, tag) {
		return fmt.Errorf("%w: %q", ErrUnknownTag, tag)
	}
	return nil
}

func setGroup(doc *remote.TagConfig, tag string, friends []string) {
	if doc.TagsFriends == nil {
		doc.TagsFriends = map[string][]string{}
	}
	doc.TagsFriends[tag] = friends
}
