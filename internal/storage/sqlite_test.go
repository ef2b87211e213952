//go:build sqlite

package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "tagdesk/pkg/logx"
)

func TestSQLiteStoreRecentAudit(t *testing.T) {
	t.Parallel()
	st, err := Open(Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "audit.db"), BusyTimeout: time.Second}, logx.Nop())
	require.NoError(t, err)
	defer st.Close()

	ctx := context.Background()
	require.NoError(t, st.AppendAudit(ctx, AuditEntry{Action: "tags.add", Target: "vip", OK: true, Level: "success"}))
	require.NoError(t, st.AppendAudit(ctx, AuditEntry{Action: "broadcast", Target: "vip", Error: "timeout", Level: "danger"}))

	got, err := st.RecentAudit(ctx, 5)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "broadcast", got[0].Action)
	assert.Equal(t, "timeout", got[0].Error)
	assert.False(t, got[0].OK)
	assert.True(t, got[1].OK)
	assert.Equal(t, "vip", got[1].Target)
}
