package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "tagdesk/pkg/logx"
)

func TestOpenDisabled(t *testing.T) {
	t.Parallel()
	for _, driver := range []string{"", "none", " NONE "} {
		st, err := Open(Config{Driver: driver}, logx.Nop())
		require.NoError(t, err)
		assert.Nil(t, st)
	}
	_, err := Open(Config{Driver: "postgres"}, logx.Nop())
	assert.Error(t, err)
}

func TestFileStoreRecentAudit(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	st, err := Open(Config{Driver: "file", Path: filepath.Join(dir, "state", "tagdesk.db")}, logx.Nop())
	require.NoError(t, err)
	defer st.Close()

	ctx := context.Background()
	base := time.Date(2026, 10, 19, 8, 0, 0, 0, time.UTC)
	for i, action := range []string{"tasks.create", "tasks.save", "tasks.delete"} {
		require.NoError(t, st.AppendAudit(ctx, AuditEntry{At: base.Add(time.Duration(i) * time.Minute), Action: action, OK: i != 1, Target: "task_1"}))
	}

	got, err := st.RecentAudit(ctx, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "tasks.delete", got[0].Action)
	assert.Equal(t, "tasks.save", got[1].Action)
	assert.False(t, got[1].OK)
	assert.True(t, got[0].At.Equal(base.Add(2*time.Minute)))

	_, err = os.Stat(filepath.Join(dir, "state", "tagdesk.audit.jsonl"))
	require.NoError(t, err)
}

func TestFileStoreSkipsCorruptLines(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "a.db")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.audit.jsonl"), []byte("{not json\n"), 0o600))

	st, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	require.NoError(t, err)
	require.NoError(t, st.AppendAudit(context.Background(), AuditEntry{Action: "broadcast", OK: true}))

	got, err := st.RecentAudit(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.False(t, got[0].At.IsZero())

	require.NoError(t, st.Close())
	assert.Error(t, st.AppendAudit(context.Background(), AuditEntry{Action: "late"}))
}
