package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalJSON = `{"remote":{"base_url":"http://127.0.0.1:8080"}}`

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func noEnv(string) (string, bool) { return "", false }

func TestDecodeStrict(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		file    string
		body    string
		wantErr string
	}{
		{"minimal", "c.json", minimalJSON, ""},
		{"unknown field", "c.json", `{"remote":{"base_url":"http://x","retries":2}}`, "unknown field"},
		{"unknown section", "c.json", `{"remote":{"base_url":"http://x"},"plugins":{}}`, "unknown field"},
		{"trailing data", "c.json", minimalJSON + `{}`, "trailing data"},
		{"yaml unknown field", "c.yaml", "remote:\n  base_url: http://x\n  bogus: 1\n", "unknown field"},
		{"bad yaml", "c.yml", "remote: [\n", "yaml unmarshal"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := Decode(tt.file, []byte(tt.body))
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestDecodeYAML(t *testing.T) {
	t.Parallel()
	body := `
remote:
  base_url: https://bot.example.com
  token: secret
  timeout: 3s
poller:
  interval: 45s
  retry_max: 0
alerts:
  min_level: warning
  telegram:
    enabled: true
    token: "123:abc"
    chat_id: -1001234
storage:
  driver: file
  path: ./data/tagdesk
`
	cfg, err := Decode("tagdesk.yaml", []byte(body))
	require.NoError(t, err)
	assert.Equal(t, "https://bot.example.com", cfg.Remote.BaseURL)
	assert.Equal(t, "3s", cfg.Remote.Timeout)
	assert.Equal(t, "45s", cfg.Poller.Interval)
	require.NotNil(t, cfg.Poller.RetryMax)
	assert.Equal(t, 0, *cfg.Poller.RetryMax)
	assert.Equal(t, int64(-1001234), cfg.Alerts.Telegram.ChatID)
	assert.Equal(t, "file", cfg.Storage.Driver)
	require.NoError(t, Validate(cfg))
}

func TestValidate(t *testing.T) {
	t.Parallel()
	neg := -1
	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{"ok", Config{Remote: RemoteConfig{BaseURL: "http://x"}}, ""},
		{"no base url", Config{}, "remote.base_url is required"},
		{"bad scheme", Config{Remote: RemoteConfig{BaseURL: "ftp://x"}}, "not an http(s) url"},
		{"bad interval", Config{Remote: RemoteConfig{BaseURL: "http://x"}, Poller: PollerConfig{Interval: "soon"}}, "poller.interval"},
		{"negative retry", Config{Remote: RemoteConfig{BaseURL: "http://x"}, Poller: PollerConfig{RetryMax: &neg}}, "poller.retry_max"},
		{"telegram without token", Config{
			Remote: RemoteConfig{BaseURL: "http://x"},
			Alerts: AlertsConfig{Telegram: TelegramConfig{Enabled: true, ChatID: 1}},
		}, "alerts.telegram.token"},
		{"sqlite without path", Config{Remote: RemoteConfig{BaseURL: "http://x"}, Storage: StorageConfig{Driver: "sqlite"}}, "storage.path"},
		{"unknown driver", Config{Remote: RemoteConfig{BaseURL: "http://x"}, Storage: StorageConfig{Driver: "redis"}}, "unknown storage.driver"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := Validate(&tt.cfg)
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestParseDurationOrDefault(t *testing.T) {
	t.Parallel()
	d, err := ParseDurationOrDefault("poller.interval", "", 30*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, d)

	d, err = ParseDurationOrDefault("poller.interval", "0s", 30*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, d)

	d, err = ParseDurationOrDefault("poller.interval", " 2m ", 30*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 2*time.Minute, d)

	_, err = ParseDurationOrDefault("poller.interval", "-1s", 30*time.Second)
	assert.ErrorContains(t, err, "must be >= 0")
}

func TestEnvOverrides(t *testing.T) {
	t.Parallel()
	env := map[string]string{
		"TAGDESK_REMOTE_BASE_URL":  "http://override:9000",
		"TAGDESK_REMOTE_TOKEN":     "t0k",
		"TAGDESK_POLLER_RETRY_MAX": "5",
		"TAGDESK_LOG_LEVEL":        "  ",
	}
	lookup := func(k string) (string, bool) { v, ok := env[k]; return v, ok }

	p := writeFile(t, t.TempDir(), "tagdesk.json", `{"remote":{"base_url":"http://file:8080"},"logging":{"level":"info"}}`)
	cfg, err := NewManager(p, WithEnv(lookup)).Load()
	require.NoError(t, err)
	assert.Equal(t, "http://override:9000", cfg.Remote.BaseURL)
	assert.Equal(t, "t0k", cfg.Remote.Token)
	require.NotNil(t, cfg.Poller.RetryMax)
	assert.Equal(t, 5, *cfg.Poller.RetryMax)
	assert.Equal(t, "info", cfg.Logging.Level)

	env["TAGDESK_TELEGRAM_CHAT_ID"] = "not-a-number"
	_, err = NewManager(p, WithEnv(lookup)).Load()
	assert.ErrorContains(t, err, "TAGDESK_TELEGRAM_CHAT_ID")
}

func TestDotenvLookup(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	envPath := writeFile(t, dir, ".env", "TAGDESK_REMOTE_TOKEN=from-dotenv\n# comment\nTAGDESK_STORAGE_DRIVER=file\n")

	lookup, err := DotenvLookup(envPath, func(k string) (string, bool) {
		if k == "TAGDESK_REMOTE_BASE_URL" {
			return "http://fallthrough", true
		}
		return "", false
	})
	require.NoError(t, err)

	cfg := &Config{}
	applied, err := ApplyEnv(cfg, lookup)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"TAGDESK_REMOTE_TOKEN", "TAGDESK_STORAGE_DRIVER", "TAGDESK_REMOTE_BASE_URL"}, applied)
	assert.Equal(t, "from-dotenv", cfg.Remote.Token)
	assert.Equal(t, "http://fallthrough", cfg.Remote.BaseURL)

	require.NoError(t, LoadDotenv(filepath.Join(dir, "missing.env"), ""))
}

func TestSummarizeChangeHidesSecrets(t *testing.T) {
	t.Parallel()
	a := &Config{Remote: RemoteConfig{BaseURL: "http://x", Token: "one"}}
	b := &Config{Remote: RemoteConfig{BaseURL: "http://x", Token: "two"}, Logging: LoggingConfig{Level: "debug"}}

	changed, attrs := SummarizeChange(a, b)
	assert.Equal(t, []string{"logging", "remote"}, changed)
	assert.NotEmpty(t, attrs)

	changed, _ = SummarizeChange(b, b)
	assert.Empty(t, changed)
}

func TestWatchPublishesChangedConfig(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	p := writeFile(t, dir, "tagdesk.json", minimalJSON)

	m := NewManager(p, WithEnv(noEnv), WithDebounce(20*time.Millisecond))
	_, err := m.Load()
	require.NoError(t, err)
	m.SetValidator(func(_ context.Context, cfg *Config) error {
		if cfg.Logging.Level == "reject" {
			return assert.AnError
		}
		return nil
	})

	sub := m.Subscribe(4)
	defer m.Unsubscribe(sub)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Watch(ctx) }()
	defer func() {
		cancel()
		require.NoError(t, <-done)
	}()

	// Give the watcher time to register the directory.
	time.Sleep(200 * time.Millisecond)

	writeFile(t, dir, "tagdesk.json", `{"remote":{"base_url":"http://127.0.0.1:8080"},"logging":{"level":"reject"}}`)
	time.Sleep(300 * time.Millisecond)
	writeFile(t, dir, "tagdesk.json", `{"remote":{"base_url":"http://127.0.0.1:9090"}}`)

	select {
	case cfg := <-sub:
		assert.Equal(t, "http://127.0.0.1:9090", cfg.Remote.BaseURL)
		assert.Equal(t, cfg, m.Get())
	case <-time.After(5 * time.Second):
		t.Fatal("no config published")
	}
}
