package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "TAGDESK_"

// LookupFunc reads one environment variable.
type LookupFunc func(key string) (string, bool)

// LoadDotenv loads KEY=VALUE files into the process environment. Missing
// files are skipped; variables already set are kept.
func LoadDotenv(paths ...string) error {
	for _, p := range paths {
		if strings.TrimSpace(p) == "" {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("dotenv %s: %w", p, err)
		}
	}
	return nil
}

// DotenvLookup reads a dotenv file without touching the process
// environment. Keys missing from the file fall through to next.
func DotenvLookup(path string, next LookupFunc) (LookupFunc, error) {
	vals, err := godotenv.Read(path)
	if err != nil {
		return nil, fmt.Errorf("dotenv %s: %w", path, err)
	}
	return func(key string) (string, bool) {
		if v, ok := vals[key]; ok {
			return v, true
		}
		if next != nil {
			return next(key)
		}
		return "", false
	}, nil
}

type envBinding struct {
	key   string
	apply func(cfg *Config, v string) error
}

var envBindings = []envBinding{
	{"REMOTE_BASE_URL", func(c *Config, v string) error { c.Remote.BaseURL = v; return nil }},
	{"REMOTE_TOKEN", func(c *Config, v string) error { c.Remote.Token = v; return nil }},
	{"REMOTE_TIMEOUT", func(c *Config, v string) error { c.Remote.Timeout = v; return nil }},
	{"POLLER_INTERVAL", func(c *Config, v string) error { c.Poller.Interval = v; return nil }},
	{"POLLER_RETRY_DELAY", func(c *Config, v string) error { c.Poller.RetryDelay = v; return nil }},
	{"POLLER_RETRY_MAX", func(c *Config, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		c.Poller.RetryMax = &n
		return nil
	}},
	{"LOG_LEVEL", func(c *Config, v string) error { c.Logging.Level = v; return nil }},
	{"TELEGRAM_TOKEN", func(c *Config, v string) error { c.Alerts.Telegram.Token = v; return nil }},
	{"TELEGRAM_CHAT_ID", func(c *Config, v string) error {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return err
		}
		c.Alerts.Telegram.ChatID = n
		return nil
	}},
	{"STORAGE_DRIVER", func(c *Config, v string) error { c.Storage.Driver = v; return nil }},
	{"STORAGE_PATH", func(c *Config, v string) error { c.Storage.Path = v; return nil }},
}

// ApplyEnv overlays TAGDESK_* variables onto cfg. Empty values are ignored.
// It returns the keys that were applied.
func ApplyEnv(cfg *Config, lookup LookupFunc) ([]string, error) {
	if cfg == nil || lookup == nil {
		return nil, nil
	}
	var applied []string
	for _, b := range envBindings {
		key := EnvPrefix + b.key
		v, ok := lookup(key)
		v = strings.TrimSpace(v)
		if !ok || v == "" {
			continue
		}
		if err := b.apply(cfg, v); err != nil {
			return applied, fmt.Errorf("%s: %w", key, err)
		}
		applied = append(applied, key)
	}
	return applied, nil
}

func osLookup(key string) (string, bool) { return os.LookupEnv(key) }
