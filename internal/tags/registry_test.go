package tags_test

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tagdesk/internal/eventbus"
	"tagdesk/internal/remote"
	"tagdesk/internal/remote/remotetest"
	"tagdesk/internal/tags"
	logx "tagdesk/pkg/logx"
)

func setup(t *testing.T) (*tags.Registry, *remotetest.Server, eventbus.Bus) {
	t.Helper()
	srv := remotetest.New(t)
	srv.SetTagConfig(remote.TagConfig{
		Enable:      true,
		EnabledTags: []string{"vip", "family"},
		TagsFriends: map[string][]string{"vip": {"b", "a"}},
		AutoReply:   map[string]string{"vip": "hello vip"},
	})
	c, err := remote.New(remote.Config{BaseURL: srv.URL, RatePerSec: 100}, logx.Nop())
	require.NoError(t, err)
	bus := eventbus.New()
	return tags.New(c, bus, logx.Nop()), srv, bus
}

func TestMergeFriendsIsSortedUnion(t *testing.T) {
	t.Parallel()
	assert.Equal(t, []string{"a", "b", "c"}, tags.MergeFriends([]string{"a", "b"}, []string{"b", "c"}))
	assert.Equal(t, []string{"Bob", "alice", "bob"}, tags.MergeFriends([]string{" bob", "Bob"}, []string{"", "alice", "  "}))
	assert.Equal(t, []string{}, tags.NormalizeFriends(nil))
}

func TestResolveSelection(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "family", tags.ResolveSelection("family", []string{"vip", "family"}))
	assert.Equal(t, "vip", tags.ResolveSelection("work", []string{"vip", "family"}))
	assert.Equal(t, "vip", tags.ResolveSelection("", []string{"vip"}))
	assert.Equal(t, "", tags.ResolveSelection("vip", nil))
}

func TestRegistryMergePersistsWholeDocument(t *testing.T) {
	t.Parallel()
	reg, srv, _ := setup(t)
	ctx := context.Background()
	require.NoError(t, reg.Load(ctx))
	assert.Equal(t, []string{"vip", "family"}, reg.EnabledTags())

	got, err := reg.MergeFriends(ctx, "vip", []string{"b", "c"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, got)

	saved := srv.TagConfig()
	assert.Equal(t, []string{"a", "b", "c"}, saved.TagsFriends["vip"])
	assert.Equal(t, "hello vip", saved.AutoReply["vip"])
	assert.Equal(t, []string{"vip", "family"}, saved.EnabledTags)
}

func TestRegistryMergeRejectsDisabledTag(t *testing.T) {
	t.Parallel()
	reg, srv, _ := setup(t)
	_, err := reg.MergeFriends(context.Background(), "work", []string{"x"})
	require.ErrorIs(t, err, tags.ErrUnknownTag)
	assert.Zero(t, srv.Calls("POST /api/tag-config"))
}

func TestRegistryRemoveGroupAlwaysSaves(t *testing.T) {
	t.Parallel()
	reg, srv, _ := setup(t)
	ctx := context.Background()

	require.NoError(t, reg.RemoveGroup(ctx, "vip"))
	require.NoError(t, reg.RemoveGroup(ctx, "never-existed"))
	assert.Equal(t, 2, srv.Calls("POST /api/tag-config"))
	assert.NotContains(t, srv.TagConfig().TagsFriends, "vip")
}

func TestRegistryFailedSaveKeepsMirror(t *testing.T) {
	t.Parallel()
	reg, srv, _ := setup(t)
	ctx := context.Background()
	require.NoError(t, reg.Load(ctx))

	srv.Reject("POST /api/tag-config", http.StatusInternalServerError, "disk full")
	_, err := reg.SetFriends(ctx, "vip", []string{"z"})
	require.Error(t, err)
	assert.Equal(t, "disk full", remote.OperatorMessage(err))
	assert.Equal(t, []string{"a", "b"}, reg.Friends("vip"))
}

func TestRegistrySetAutoRepliesDropsIncomplete(t *testing.T) {
	t.Parallel()
	reg, srv, _ := setup(t)
	got, err := reg.SetAutoReplies(context.Background(), map[string]string{
		"vip":    "hi",
		"family": "  ",
		" ":      "orphan",
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"vip": "hi"}, got)
	assert.Equal(t, map[string]string{"vip": "hi"}, srv.TagConfig().AutoReply)
}

func TestRegistryRemoveTagPublishesChange(t *testing.T) {
	t.Parallel()
	reg, _, bus := setup(t)
	ctx := context.Background()
	require.NoError(t, reg.Load(ctx))

	ch, unsub := bus.Subscribe(4, tags.EventChanged)
	defer unsub()

	require.NoError(t, reg.RemoveTag(ctx, "vip"))
	select {
	case ev := <-ch:
		changed, ok := ev.Data.(tags.Changed)
		require.True(t, ok)
		assert.Equal(t, []string{"family"}, changed.Enabled)
		assert.Equal(t, "family", tags.ResolveSelection("vip", changed.Enabled))
	case <-time.After(time.Second):
		t.Fatal("no tags.changed event")
	}
	assert.False(t, reg.IsEnabled("vip"))
}

func TestRegistryAddTagRequiresName(t *testing.T) {
	t.Parallel()
	reg, srv, _ := setup(t)
	require.ErrorIs(t, reg.AddTag(context.Background(), "  "), tags.ErrTagRequired)
	assert.Zero(t, srv.Calls("POST /api/tags"))

	require.NoError(t, reg.AddTag(context.Background(), "work"))
	assert.Equal(t, []string{"vip", "family", "work"}, reg.EnabledTags())
}

func TestRegistryExportImportRoundTrip(t *testing.T) {
	t.Parallel()
	reg, srv, _ := setup(t)
	ctx := context.Background()

	doc, err := reg.Export(ctx)
	require.NoError(t, err)

	srv.SetTagConfig(remote.TagConfig{})
	require.NoError(t, reg.Import(ctx, doc))
	assert.Equal(t, []string{"vip", "family"}, reg.EnabledTags())
}

func TestRegistrySetSettingsKeepsRestOfDocument(t *testing.T) {
	t.Parallel()
	reg, srv, _ := setup(t)
	ctx := context.Background()
	require.NoError(t, reg.Load(ctx))
	assert.True(t, reg.Settings().Enable)

	saved, err := reg.SetSettings(ctx, tags.Settings{
		Enable:          false,
		TagPrefix:       "!",
		AllowAllViewTag: true,
		AdminUsers:      []string{" alice ", "", "bob"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "bob"}, saved.AdminUsers)
	assert.Equal(t, saved, reg.Settings())

	doc := srv.TagConfig()
	assert.False(t, doc.Enable)
	assert.Equal(t, "!", doc.TagPrefix)
	assert.True(t, doc.AllowAllViewTag)
	assert.False(t, doc.AllowAllAddTag)
	assert.Equal(t, []string{"alice", "bob"}, doc.AdminUsers)
	assert.Equal(t, []string{"vip", "family"}, doc.EnabledTags)
	assert.Equal(t, []string{"b", "a"}, doc.TagsFriends["vip"])
	assert.Equal(t, "hello vip", doc.AutoReply["vip"])
}

func TestRegistrySetSettingsFailureKeepsMirror(t *testing.T) {
	t.Parallel()
	reg, srv, _ := setup(t)
	ctx := context.Background()
	require.NoError(t, reg.Load(ctx))
	srv.Reject("POST /api/tag-config", http.StatusInternalServerError, "disk full")

	_, err := reg.SetSettings(ctx, tags.Settings{TagPrefix: "!"})
	require.Error(t, err)
	assert.True(t, reg.Settings().Enable)
	assert.Equal(t, "", reg.Settings().TagPrefix)
}
