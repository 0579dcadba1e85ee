// Package config implements TOML configuration loading, validation, and
// platform-specific path resolution for netanalyzer. It supports a four-layer
// override chain (defaults -> config file -> environment -> CLI flags).
package config

import "time"

// Config is the top-level configuration structure parsed from a TOML file.
// Durations are kept as strings so the file can say "5s" or "2m"; Resolve
// parses them once validation has passed.
type Config struct {
	API     APIConfig     `toml:"api"`
	Auth    AuthConfig    `toml:"auth"`
	Polling PollingConfig `toml:"polling"`
	Upload  UploadConfig  `toml:"upload"`
	Inbox   InboxConfig   `toml:"inbox"`
	State   StateConfig   `toml:"state"`
	Logging LoggingConfig `toml:"logging"`
}

// APIConfig points the client at the analysis service.
type APIConfig struct {
	BaseURL string `toml:"base_url"`
	Timeout string `toml:"timeout"` // "0" = transport default, no request timeout
}

// AuthConfig controls credential storage and the refresh trigger.
type AuthConfig struct {
	CredentialsFile string `toml:"credentials_file"`
	// RefreshStatuses narrows which response statuses trigger the
	// refresh-and-retry. Empty means every status >= 400.
	RefreshStatuses []int `toml:"refresh_statuses"`
}

// PollingConfig controls job status polling and optional push hints.
type PollingConfig struct {
	Interval  string `toml:"interval"`
	NotifyURL string `toml:"notify_url"`
}

// UploadConfig controls capture submission.
type UploadConfig struct {
	Parallel      int     `toml:"parallel"`
	RatePerSecond float64 `toml:"rate_per_second"` // 0 = unlimited
}

// InboxConfig controls the drop-directory watcher.
type InboxConfig struct {
	SettleDelay string `toml:"settle_delay"`
}

// StateConfig locates the tracked-job database.
type StateConfig struct {
	DBPath string `toml:"db_path"`
}

// LoggingConfig controls log output: level and format.
type LoggingConfig struct {
	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"`
}

// CLIOverrides holds values from CLI flags that override config file and
// environment settings. Empty strings mean "not specified".
type CLIOverrides struct {
	ConfigPath string // --config
	APIURL     string // --api-url
}

// Resolved is the effective configuration after all four layers have been
// applied, with durations parsed and paths expanded.
type Resolved struct {
	ConfigPath      string
	BaseURL         string
	Timeout         time.Duration
	CredentialsFile string
	RefreshStatuses []int
	PollInterval    time.Duration
	NotifyURL       string
	Parallel        int
	RatePerSecond   float64
	SettleDelay     time.Duration
	DBPath          string
	LogLevel        string
	LogFormat       string
}
