package app_test

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tagdesk/internal/alert"
	"tagdesk/internal/app"
	"tagdesk/internal/config"
	"tagdesk/internal/remote"
	"tagdesk/internal/remote/remotetest"
	"tagdesk/internal/schedule"
	"tagdesk/internal/tasks"
	logx "tagdesk/pkg/logx"
)

type harness struct {
	srv    *remotetest.Server
	app    *app.App
	alerts *alert.Recorder
}

func testConfig(t *testing.T, srv *remotetest.Server) *config.Config {
	t.Helper()
	return &config.Config{
		Remote:  config.RemoteConfig{BaseURL: srv.URL, RatePerSec: 1000, Timeout: "2s"},
		Poller:  config.PollerConfig{Interval: "1h", RetryDelay: "10ms"},
		Storage: config.StorageConfig{Driver: "file", Path: filepath.Join(t.TempDir(), "tagdesk")},
	}
}

func newHarness(t *testing.T, mutate ...func(*config.Config)) harness {
	t.Helper()
	srv := remotetest.New(t)
	srv.SetTagConfig(remote.TagConfig{
		Enable:      true,
		EnabledTags: []string{"vip", "family"},
		AutoReply:   map[string]string{},
		TagsFriends: map[string][]string{"vip": {"alice", "bob"}},
	})
	cfg := testConfig(t, srv)
	for _, m := range mutate {
		m(cfg)
	}
	rec := &alert.Recorder{}
	a, err := app.NewFromConfig(cfg, app.WithLogger(logx.Nop()), app.WithAlertSink(rec), app.WithActor("tester"))
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.Stop(ctx, app.StopCommand)
	})
	return harness{srv: srv, app: a, alerts: rec}
}

func lastAlert(t *testing.T, rec *alert.Recorder) alert.Alert {
	t.Helper()
	all := rec.Alerts()
	require.NotEmpty(t, all)
	return all[len(all)-1]
}

func draft(tag, at, msg string) schedule.Definition {
	return schedule.Definition{Tag: tag, Type: schedule.Daily, Time: at, Message: msg}
}

func TestTaskActionsAlertAndAudit(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	out, err := h.app.Do(ctx, tasks.Create{Draft: draft("vip", "08:00", "morning")})
	require.NoError(t, err)
	al := lastAlert(t, h.alerts)
	assert.Equal(t, alert.Success, al.Level)
	assert.Equal(t, "Task created", al.Message)
	assert.Equal(t, "task.create", al.Op)

	_, err = h.app.Do(ctx, tasks.Create{Draft: draft("vip", "25:00", "late")})
	require.Error(t, err)
	al = lastAlert(t, h.alerts)
	assert.Equal(t, alert.Warning, al.Level)
	assert.Contains(t, al.Message, "invalid time")
	assert.Len(t, h.srv.Tasks(), 1)

	h.srv.Reject("PUT /api/tasks/{id}", http.StatusConflict, "schedule conflict")
	_, err = h.app.Do(ctx, tasks.Save{ID: out.Row.ID, Draft: draft("vip", "09:00", "moved")})
	require.Error(t, err)
	al = lastAlert(t, h.alerts)
	assert.Equal(t, alert.Danger, al.Level)
	assert.Equal(t, "schedule conflict", al.Message)

	_, err = h.app.Do(ctx, tasks.Delete{ID: "task_999"})
	require.ErrorIs(t, err, tasks.ErrUnknownTask)
	assert.Equal(t, "Task not found: task_999", lastAlert(t, h.alerts).Message)

	entries, err := h.app.RecentAudit(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 4)
	assert.Equal(t, "task.delete", entries[0].Action)
	assert.False(t, entries[0].OK)
	assert.Equal(t, "task.create", entries[3].Action)
	assert.True(t, entries[3].OK)
	assert.Equal(t, out.Row.ID, entries[3].Target)
	assert.Equal(t, "tester", entries[3].Actor)
	assert.Equal(t, "success", entries[3].Level)
}

func TestTransportFailureIsDanger(t *testing.T) {
	t.Parallel()
	rec := &alert.Recorder{}
	cfg := &config.Config{Remote: config.RemoteConfig{BaseURL: "http://127.0.0.1:1", Timeout: "500ms"}}
	a, err := app.NewFromConfig(cfg, app.WithLogger(logx.Nop()), app.WithAlertSink(rec))
	require.NoError(t, err)

	_, err = a.Do(context.Background(), tasks.Create{Draft: draft("vip", "08:00", "x")})
	require.Error(t, err)
	var te *remote.TransportError
	require.ErrorAs(t, err, &te)
	al := lastAlert(t, rec)
	assert.Equal(t, alert.Danger, al.Level)
	assert.Contains(t, al.Message, "task.create failed")
}

func TestPollingNeverAlerts(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	seeded := h.srv.SeedTask(remote.TaskPayload{Tag: "vip", ScheduleType: "daily", Time: "08:00", Message: "hi"})
	h.srv.SetStatus(seeded.ID, remote.ExecStatus{SuccessCount: 2, TotalAttempts: 2}, "2026-10-20 08:00:00")
	h.srv.SetStatus("ghost", remote.ExecStatus{IsRunning: true}, "")
	h.srv.NotInitialized(3)

	require.NoError(t, h.app.Start(context.Background()))

	require.Eventually(t, func() bool {
		row, ok := h.app.Tasks().Get(seeded.ID)
		return ok && row.Status.TotalAttempts == 2
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, 4, h.srv.Calls("GET /api/tasks/status"))

	h.srv.Reject("GET /api/tasks/status", http.StatusInternalServerError, "boom")
	require.Error(t, h.app.Poller().Cycle(context.Background()))

	assert.Empty(t, h.alerts.Alerts())
	row, _ := h.app.Tasks().Get(seeded.ID)
	assert.InDelta(t, 100.0, row.SuccessRate(), 0.001)
}

func TestStopHaltsPolling(t *testing.T) {
	t.Parallel()
	h := newHarness(t, func(c *config.Config) { c.Poller.Interval = "1s" })
	require.NoError(t, h.app.Start(context.Background()))
	require.Eventually(t, func() bool { return h.srv.Calls("GET /api/tasks/status") >= 1 }, 5*time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.app.Stop(ctx, app.StopCommand))

	select {
	case <-h.app.Done():
	default:
		t.Fatal("app context still live after Stop")
	}
	n := h.srv.Calls("GET /api/tasks/status")
	time.Sleep(1500 * time.Millisecond)
	assert.Equal(t, n, h.srv.Calls("GET /api/tasks/status"))
}

func TestSelectionFollowsTagRemoval(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	sel, err := h.app.Select(ctx, app.Selection{TaskTag: "family", BroadcastTag: "family"})
	require.NoError(t, err)
	assert.Equal(t, app.Selection{TaskTag: "family", BroadcastTag: "family"}, sel)

	require.NoError(t, h.app.RemoveTag(ctx, "family"))
	assert.Equal(t, app.Selection{TaskTag: "vip", BroadcastTag: "vip"}, h.app.State().Selection())
	assert.Equal(t, []string{"vip"}, h.app.State().Options())
	assert.Equal(t, "Tag removed", lastAlert(t, h.alerts).Message)

	require.NoError(t, h.app.RemoveTag(ctx, "vip"))
	assert.Equal(t, app.Selection{}, h.app.State().Selection())

	// A removed tag can no longer be submitted.
	_, err = h.app.Do(ctx, tasks.Create{Draft: draft("vip", "08:00", "x")})
	require.Error(t, err)
	assert.Equal(t, alert.Warning, lastAlert(t, h.alerts).Level)
}

func TestBroadcastPartialFailureIsWarning(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.srv.FailFriend("bob", "blocked")
	ctx := context.Background()

	_, err := h.app.Select(ctx, app.Selection{BroadcastTag: "vip"})
	require.NoError(t, err)

	res, err := h.app.Broadcast(ctx, "", "hello")
	require.NoError(t, err)
	assert.Equal(t, 1, res.SuccessCount)
	assert.Equal(t, 1, res.FailCount)

	al := lastAlert(t, h.alerts)
	assert.Equal(t, alert.Warning, al.Level)
	assert.Contains(t, al.Message, "1 sent, 1 failed")
	assert.Contains(t, al.Message, "bob: blocked")
	assert.Len(t, h.alerts.Alerts(), 1)

	_, err = h.app.Broadcast(ctx, "vip", "   ")
	require.Error(t, err)
	assert.Equal(t, alert.Warning, lastAlert(t, h.alerts).Level)
	assert.Equal(t, 1, h.srv.Calls("POST /api/broadcast"))
}

func TestFriendEditsAndImport(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	saved, err := h.app.MergeFriends(ctx, "vip", []string{" carol ", "alice", ""})
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "bob", "carol"}, saved)
	assert.Equal(t, saved, h.srv.TagConfig().TagsFriends["vip"])

	_, err = h.app.MergeFriends(ctx, "work", []string{"dave"})
	require.Error(t, err)
	assert.Equal(t, alert.Warning, lastAlert(t, h.alerts).Level)

	replies, err := h.app.SetAutoReplies(ctx, map[string]string{"vip": "hi!", "family": ""})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"vip": "hi!"}, replies)

	doc, err := h.app.Export(ctx)
	require.NoError(t, err)
	var exported map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(doc, &exported))
	assert.Contains(t, exported, "tag_config")

	h.srv.Reject("POST /api/import-config", http.StatusBadRequest, "invalid config file")
	require.Error(t, h.app.Import(ctx, json.RawMessage(`{"tag_config":{}}`)))
	al := lastAlert(t, h.alerts)
	assert.Equal(t, alert.Danger, al.Level)
	assert.Equal(t, "invalid config file", al.Message)
}

func TestNewFromFile(t *testing.T) {
	t.Parallel()
	srv := remotetest.New(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "tagdesk.yaml")
	body := "remote:\n  base_url: http://placeholder:1\n  rate_per_sec: 500\npoller:\n  interval: 2m\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	env := map[string]string{"TAGDESK_REMOTE_BASE_URL": srv.URL}
	a, err := app.New(path, app.WithLogger(logx.Nop()), app.WithEnv(func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}))
	require.NoError(t, err)
	defer a.Stop(context.Background(), app.StopCommand)

	assert.Equal(t, srv.URL, a.Client().BaseURL())
	assert.Equal(t, 2*time.Minute, a.Poller().Config().Interval)
	assert.Nil(t, a.Audit())

	require.NoError(t, a.Refresh(context.Background()))
	entries, err := a.RecentAudit(context.Background(), 5)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRejectsShortPollInterval(t *testing.T) {
	t.Parallel()
	srv := remotetest.New(t)
	cfg := testConfig(t, srv)
	cfg.Poller.Interval = "100ms"
	_, err := app.NewFromConfig(cfg, app.WithLogger(logx.Nop()))
	assert.ErrorContains(t, err, "poller.interval")
}
