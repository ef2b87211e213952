package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "tagdesk/pkg/logx"
)

type failingSink struct{}

func (failingSink) Notify(context.Context, Alert) error { return errors.New("offline") }

func TestParseLevel(t *testing.T) {
	t.Parallel()
	for _, l := range []Level{Info, Success, Warning, Danger} {
		got, err := ParseLevel(strings.ToUpper(l.String()))
		require.NoError(t, err)
		assert.Equal(t, l, got)
	}
	_, err := ParseLevel("loud")
	assert.Error(t, err)
}

func TestMultiAndMinLevel(t *testing.T) {
	t.Parallel()
	all := &Recorder{}
	important := &Recorder{}
	sink := Multi{all, MinLevel{Min: Warning, Next: important}, failingSink{}, nil}

	err := sink.Notify(context.Background(), Alert{Level: Success, Message: "saved"})
	require.Error(t, err)
	require.NoError(t, Multi{all, MinLevel{Min: Warning, Next: important}}.Notify(context.Background(), Alert{Level: Danger, Message: "failed"}))

	assert.Len(t, all.Alerts(), 2)
	got := important.Alerts()
	require.Len(t, got, 1)
	assert.Equal(t, "failed", got[0].Message)
}

func TestWriterAndLogSinks(t *testing.T) {
	t.Parallel()
	var out bytes.Buffer
	require.NoError(t, WriterSink{W: &out}.Notify(context.Background(), Alert{Level: Warning, Message: "1 of 2 failed"}))
	assert.Equal(t, "[WARNING] 1 of 2 failed\n", out.String())

	var logs bytes.Buffer
	require.NoError(t, LogSink{Log: logx.NewWriter(&logs, "info")}.Notify(context.Background(), Alert{Level: Danger, Op: "tasks.delete", Message: "boom"}))
	assert.Contains(t, logs.String(), `"level":"error"`)
	assert.Contains(t, logs.String(), `"op":"tasks.delete"`)
}

func TestTelegramSinkSends(t *testing.T) {
	t.Parallel()
	var (
		mu   sync.Mutex
		got  map[string]any
		path string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		path = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&got)
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true,"result":{"message_id":7,"date":0,"chat":{"id":42,"type":"group"},"text":"ok"}}`))
	}))
	t.Cleanup(srv.Close)

	sink, err := NewTelegram(TelegramConfig{Token: "123:abc", ChatID: 42, RatePerSec: 10, APIURL: srv.URL}, logx.Nop())
	require.NoError(t, err)
	require.NoError(t, sink.Notify(context.Background(), Alert{Level: Danger, Op: "broadcast", Message: "broadcast to vip failed"}))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "/bot123:abc/sendMessage", path)
	assert.Equal(t, "42", fmt.Sprint(got["chat_id"]))
	assert.Equal(t, "[DANGER] broadcast to vip failed", got["text"])
}

func TestNewTelegramRequiresTarget(t *testing.T) {
	t.Parallel()
	_, err := NewTelegram(TelegramConfig{Token: "x"}, logx.Nop())
	assert.Error(t, err)
	_, err = NewTelegram(TelegramConfig{ChatID: 1}, logx.Nop())
	assert.Error(t, err)
}

func TestTruncate(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "abc", truncate("abc", 5))
	assert.Equal(t, "ab…", truncate("abcdef", 3))
}
