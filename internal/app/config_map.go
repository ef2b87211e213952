package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"tagdesk/internal/alert"
	"tagdesk/internal/config"
	"tagdesk/internal/poller"
	"tagdesk/internal/remote"
	"tagdesk/internal/storage"
	logx "tagdesk/pkg/logx"
)

func mapRemoteConfig(cfg *config.Config) (remote.Config, error) {
	timeout, err := config.ParseDurationOrDefault("remote.timeout", cfg.Remote.Timeout, 10*time.Second)
	if err != nil {
		return remote.Config{}, err
	}
	return remote.Config{
		BaseURL:    strings.TrimSpace(cfg.Remote.BaseURL),
		Token:      strings.TrimSpace(cfg.Remote.Token),
		Timeout:    timeout,
		RatePerSec: cfg.Remote.RatePerSec,
	}, nil
}

func mapPollerConfig(cfg *config.Config) (poller.Config, error) {
	interval, err := config.ParseDurationOrDefault("poller.interval", cfg.Poller.Interval, poller.DefaultInterval)
	if err != nil {
		return poller.Config{}, err
	}
	if interval < time.Second {
		return poller.Config{}, fmt.Errorf("poller.interval must be at least 1s, got %s", interval)
	}
	delay, err := config.ParseDurationOrDefault("poller.retry_delay", cfg.Poller.RetryDelay, poller.DefaultRetryDelay)
	if err != nil {
		return poller.Config{}, err
	}
	retries := poller.DefaultRetryMax
	if cfg.Poller.RetryMax != nil {
		retries = *cfg.Poller.RetryMax
	}
	return poller.Config{Interval: interval, RetryDelay: delay, RetryMax: retries}, nil
}

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" || driver == "none" {
		return storage.Config{}, false, nil
	}
	path := strings.TrimSpace(sc.Path)

	switch driver {
	case "file":
		return storage.Config{Driver: "file", Path: path}, true, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, false, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, false, err
		}
		return storage.Config{Driver: driver, Path: path, BusyTimeout: busy}, true, nil
	default:
		return storage.Config{}, false, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

// buildAlertSinks returns the configured sinks: the log always, Telegram when
// enabled, each behind its level filter.
func buildAlertSinks(cfg *config.Config, log logx.Logger) (alert.Sink, error) {
	floor, err := alert.ParseLevel(cfg.Alerts.MinLevel)
	if err != nil {
		return nil, fmt.Errorf("alerts.min_level: %w", err)
	}
	sinks := alert.Multi{alert.LogSink{Log: log.With(logx.String("comp", "alert"))}}

	if tg := cfg.Alerts.Telegram; tg.Enabled {
		tgMin, err := alert.ParseLevel(tg.MinLevel)
		if err != nil {
			return nil, fmt.Errorf("alerts.telegram.min_level: %w", err)
		}
		sink, err := alert.NewTelegram(alert.TelegramConfig{
			Token:      tg.Token,
			ChatID:     tg.ChatID,
			ThreadID:   tg.ThreadID,
			RatePerSec: tg.RatePerSec,
			APIURL:     tg.APIURL,
		}, log)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, alert.MinLevel{Min: tgMin, Next: sink})
	}
	return alert.MinLevel{Min: floor, Next: sinks}, nil
}

// validateConfig rejects a reload that would fail when applied.
func validateConfig(_ context.Context, cfg *config.Config) error {
	if err := config.Validate(cfg); err != nil {
		return err
	}
	if _, err := mapRemoteConfig(cfg); err != nil {
		return err
	}
	if _, err := mapPollerConfig(cfg); err != nil {
		return err
	}
	if _, _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	if _, err := buildAlertSinks(cfg, logx.Nop()); err != nil {
		return err
	}
	return nil
}
