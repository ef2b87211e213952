package config

// Config is the tagdesk configuration file.
//
// Durations are Go duration strings ("500ms", "10s", "1m"). Empty or zero
// durations fall back to the component default.
type Config struct {
	Remote  RemoteConfig  `json:"remote"`
	Poller  PollerConfig  `json:"poller"`
	Logging LoggingConfig `json:"logging"`
	Alerts  AlertsConfig  `json:"alerts"`
	Storage StorageConfig `json:"storage"`
}

// RemoteConfig points at the bot's HTTP API.
type RemoteConfig struct {
	BaseURL    string `json:"base_url"`
	Token      string `json:"token,omitempty"`
	Timeout    string `json:"timeout,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
}

// PollerConfig controls the status poller.
//
// RetryMax is a pointer so an explicit 0 (no retries) differs from omitted
// (default 3).
type PollerConfig struct {
	Interval   string `json:"interval,omitempty"`
	RetryDelay string `json:"retry_delay,omitempty"`
	RetryMax   *int   `json:"retry_max,omitempty"`
}

type LoggingConfig struct {
	Level   string            `json:"level"`
	Console bool              `json:"console"`
	File    LoggingFileConfig `json:"file"`
}

type LoggingFileConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type AlertsConfig struct {
	// MinLevel filters every sink. Empty means info.
	MinLevel string         `json:"min_level,omitempty"`
	Telegram TelegramConfig `json:"telegram"`
}

// TelegramConfig forwards operator alerts to one chat.
type TelegramConfig struct {
	Enabled    bool   `json:"enabled"`
	Token      string `json:"token,omitempty"`
	ChatID     int64  `json:"chat_id,omitempty"`
	ThreadID   int    `json:"thread_id,omitempty"`
	MinLevel   string `json:"min_level,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
	APIURL     string `json:"api_url,omitempty"`
}

// StorageConfig selects the audit store. Driver is "", "none", "file" or
// "sqlite".
type StorageConfig struct {
	Driver      string `json:"driver,omitempty"`
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}
