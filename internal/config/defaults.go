package config

// Default values for configuration options. These represent the "layer 0"
// of the four-layer override chain.
const (
	defaultBaseURL       = "http://localhost:8000/api/v1/"
	defaultTimeout       = "0"
	defaultPollInterval  = "5s"
	defaultParallel      = 4
	defaultRatePerSecond = 2.0
	defaultSettleDelay   = "2s"
	defaultLogLevel      = "warn"
	defaultLogFormat     = "auto"
	credentialsFileName  = "credentials.json"
	jobsDatabaseFileName = "jobs.db"
)

// DefaultConfig returns a Config populated with all default values.
// This is used both as the starting point for TOML decoding (so unset
// fields retain defaults) and as the fallback when no config file exists.
// Path defaults are left empty and filled in by Resolve from the data dir.
func DefaultConfig() *Config {
	return &Config{
		API: APIConfig{
			BaseURL: defaultBaseURL,
			Timeout: defaultTimeout,
		},
		Polling: PollingConfig{
			Interval: defaultPollInterval,
		},
		Upload: UploadConfig{
			Parallel:      defaultParallel,
			RatePerSecond: defaultRatePerSecond,
		},
		Inbox: InboxConfig{
			SettleDelay: defaultSettleDelay,
		},
		Logging: LoggingConfig{
			LogLevel:  defaultLogLevel,
			LogFormat: defaultLogFormat,
		},
	}
}
