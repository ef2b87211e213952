package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Validate checks what can be checked without building components:
// required fields, duration syntax and bounds.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error

	base := strings.TrimSpace(cfg.Remote.BaseURL)
	if base == "" {
		errs = append(errs, errors.New("remote.base_url is required"))
	} else if u, err := url.Parse(base); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, fmt.Errorf("remote.base_url: %q is not an http(s) url", base))
	}
	if cfg.Remote.RatePerSec < 0 {
		errs = append(errs, errors.New("remote.rate_per_sec must be >= 0"))
	}

	durations := []struct{ path, raw string }{
		{"remote.timeout", cfg.Remote.Timeout},
		{"poller.interval", cfg.Poller.Interval},
		{"poller.retry_delay", cfg.Poller.RetryDelay},
		{"storage.busy_timeout", cfg.Storage.BusyTimeout},
	}
	for _, d := range durations {
		if _, err := ParseDurationField(d.path, d.raw); err != nil {
			errs = append(errs, err)
		}
	}
	if cfg.Poller.RetryMax != nil && *cfg.Poller.RetryMax < 0 {
		errs = append(errs, errors.New("poller.retry_max must be >= 0"))
	}

	if tg := cfg.Alerts.Telegram; tg.Enabled {
		if strings.TrimSpace(tg.Token) == "" {
			errs = append(errs, errors.New("alerts.telegram.token is required when enabled"))
		}
		if tg.ChatID == 0 {
			errs = append(errs, errors.New("alerts.telegram.chat_id is required when enabled"))
		}
	}

	switch d := strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)); d {
	case "", "none", "file":
	case "sqlite", "sqlite3":
		if strings.TrimSpace(cfg.Storage.Path) == "" {
			errs = append(errs, errors.New("storage.path is required when storage.driver=sqlite"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage.driver: %s", cfg.Storage.Driver))
	}

	return errors.Join(errs...)
}
