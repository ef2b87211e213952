package poller_test

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tagdesk/internal/poller"
	"tagdesk/internal/remote"
	"tagdesk/internal/remote/remotetest"
	"tagdesk/internal/tasks"
	logx "tagdesk/pkg/logx"
)

const statusRoute = "GET /api/tasks/status"

type openTags struct{}

func (openTags) EnabledTags() []string { return []string{"vip"} }

func setup(t *testing.T, cfg poller.Config) (*poller.Poller, *remotetest.Server, *tasks.Store, string) {
	t.Helper()
	srv := remotetest.New(t)
	seeded := srv.SeedTask(remote.TaskPayload{Tag: "vip", ScheduleType: "daily", Time: "08:00", Message: "hi"})
	c, err := remote.New(remote.Config{BaseURL: srv.URL, RatePerSec: 1000}, logx.Nop())
	require.NoError(t, err)
	store := tasks.NewStore(c, openTags{}, nil, logx.Nop())
	_, err = store.List(context.Background())
	require.NoError(t, err)
	return poller.New(c, store, cfg, logx.Nop()), srv, store, seeded.ID
}

func TestCycleRetriesNotInitializedThenMerges(t *testing.T) {
	t.Parallel()
	for _, envelope := range []bool{false, true} {
		p, srv, store, id := setup(t, poller.Config{RetryDelay: 5 * time.Millisecond, RetryMax: 3})
		srv.Envelope = envelope
		srv.SetStatus(id, remote.ExecStatus{SuccessCount: 3, TotalAttempts: 4, IsRunning: true}, "2026-10-20 08:00:00")
		srv.NotInitialized(3)

		require.NoError(t, p.Cycle(context.Background()))
		assert.Equal(t, 4, srv.Calls(statusRoute))

		row, ok := store.Get(id)
		require.True(t, ok)
		assert.True(t, row.Status.IsRunning)
		assert.Equal(t, "2026-10-20 08:00:00", row.NextRun)
		assert.InDelta(t, 75.0, row.SuccessRate(), 0.001)

		st := p.Stats()
		assert.Equal(t, uint64(3), st.Retries)
		assert.Zero(t, st.Failures)
		assert.Equal(t, uint64(1), st.Merged)
	}
}

func TestCycleGivesUpAfterRetryMax(t *testing.T) {
	t.Parallel()
	p, srv, store, id := setup(t, poller.Config{RetryDelay: time.Millisecond, RetryMax: 3})
	srv.NotInitialized(4)
	before, _ := store.Get(id)

	err := p.Cycle(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, remote.ErrPluginNotInitialized))
	assert.Equal(t, 4, srv.Calls(statusRoute))

	after, _ := store.Get(id)
	assert.Equal(t, before, after)
	assert.Equal(t, uint64(1), p.Stats().Failures)
}

func TestCycleDoesNotRetryOtherErrors(t *testing.T) {
	t.Parallel()
	p, srv, _, _ := setup(t, poller.Config{RetryDelay: time.Millisecond, RetryMax: 3})
	srv.Reject(statusRoute, http.StatusInternalServerError, "database locked")

	err := p.Cycle(context.Background())
	var ae *remote.APIError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, 1, srv.Calls(statusRoute))
	assert.Zero(t, p.Stats().Retries)
}

func TestCycleIgnoresUnknownIDs(t *testing.T) {
	t.Parallel()
	p, srv, store, _ := setup(t, poller.Config{})
	srv.SetStatus("deleted_elsewhere", remote.ExecStatus{IsRunning: true}, "")
	before := store.Rows()

	require.NoError(t, p.Cycle(context.Background()))
	rows := store.Rows()
	require.Len(t, rows, len(before))
	assert.Equal(t, before[0].Task, rows[0].Task)
}

func TestStartPollsImmediatelyAndStopHalts(t *testing.T) {
	t.Parallel()
	p, srv, _, _ := setup(t, poller.Config{Interval: time.Second})

	h := p.Start(context.Background())
	require.Eventually(t, func() bool { return srv.Calls(statusRoute) >= 1 }, 2*time.Second, 10*time.Millisecond)

	h.Stop()
	h.Stop()
	<-h.Done()

	n := srv.Calls(statusRoute)
	time.Sleep(1500 * time.Millisecond)
	assert.Equal(t, n, srv.Calls(statusRoute))
}

func TestStopCancelsPendingRetry(t *testing.T) {
	t.Parallel()
	p, srv, _, _ := setup(t, poller.Config{Interval: time.Hour, RetryDelay: time.Hour, RetryMax: 3})
	srv.NotInitialized(100)

	h := p.Start(context.Background())
	require.Eventually(t, func() bool { return srv.Calls(statusRoute) >= 1 }, 2*time.Second, 10*time.Millisecond)

	stopped := make(chan struct{})
	go func() {
		h.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop blocked on a pending retry")
	}
	assert.Equal(t, 1, srv.Calls(statusRoute))
}

func TestParentContextStopsHandle(t *testing.T) {
	t.Parallel()
	p, _, _, _ := setup(t, poller.Config{Interval: time.Hour})
	ctx, cancel := context.WithCancel(context.Background())
	h := p.Start(ctx)
	cancel()
	select {
	case <-h.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("handle did not stop with its context")
	}
}
