package config

import (
	"slices"
	"strings"

	logx "tagdesk/pkg/logx"
)

// SummarizeChange lists the sections that differ between two configs and
// returns log fields describing the new values. Secrets are reported only as
// set or unset.
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	var (
		changed []string
		attrs   []logx.Field
	)

	o, n := oldCfg.Remote, newCfg.Remote
	if strings.TrimSpace(o.BaseURL) != strings.TrimSpace(n.BaseURL) || o.Token != n.Token ||
		o.Timeout != n.Timeout || o.RatePerSec != n.RatePerSec {
		changed = append(changed, "remote")
		attrs = append(attrs,
			logx.String("remote.base_url", strings.TrimSpace(n.BaseURL)),
			logx.Bool("remote.token_set", n.Token != ""),
			logx.String("remote.timeout", n.Timeout),
		)
	}

	if oldCfg.Poller.Interval != newCfg.Poller.Interval || oldCfg.Poller.RetryDelay != newCfg.Poller.RetryDelay ||
		retryMax(oldCfg.Poller) != retryMax(newCfg.Poller) {
		changed = append(changed, "poller")
		attrs = append(attrs,
			logx.String("poller.interval", newCfg.Poller.Interval),
			logx.String("poller.retry_delay", newCfg.Poller.RetryDelay),
			logx.Int("poller.retry_max", retryMax(newCfg.Poller)),
		)
	}

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if oldCfg.Alerts != newCfg.Alerts {
		tg := newCfg.Alerts.Telegram
		changed = append(changed, "alerts")
		attrs = append(attrs,
			logx.String("alerts.min_level", newCfg.Alerts.MinLevel),
			logx.Bool("alerts.telegram_enabled", tg.Enabled),
			logx.Bool("alerts.telegram_token_set", tg.Token != ""),
			logx.Int64("alerts.telegram_chat_id", tg.ChatID),
		)
	}

	if oldCfg.Storage != newCfg.Storage {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", newCfg.Storage.Driver),
			logx.Bool("storage.path_set", strings.TrimSpace(newCfg.Storage.Path) != ""),
		)
	}

	slices.Sort(changed)
	return changed, attrs
}

// retryMax returns -1 for an omitted value.
func retryMax(p PollerConfig) int {
	if p.RetryMax == nil {
		return -1
	}
	return *p.RetryMax
}
