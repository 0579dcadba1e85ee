package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"relative base url", func(c *Config) { c.API.BaseURL = "/api/v1/" }, "base_url"},
		{"ftp base url", func(c *Config) { c.API.BaseURL = "ftp://host/" }, "base_url"},
		{"negative timeout", func(c *Config) { c.API.Timeout = "-1s" }, "timeout: must be >= 0"},
		{"garbage timeout", func(c *Config) { c.API.Timeout = "soon" }, "timeout: invalid duration"},
		{"non-error refresh status", func(c *Config) { c.Auth.RefreshStatuses = []int{200} }, "not an error status"},
		{"duplicate refresh status", func(c *Config) { c.Auth.RefreshStatuses = []int{401, 401} }, "listed twice"},
		{"fast polling", func(c *Config) { c.Polling.Interval = "500ms" }, "interval: must be >= 1s"},
		{"notify url scheme", func(c *Config) { c.Polling.NotifyURL = "mailto:x@y" }, "notify_url"},
		{"zero parallel", func(c *Config) { c.Upload.Parallel = 0 }, "parallel"},
		{"too parallel", func(c *Config) { c.Upload.Parallel = 33 }, "parallel"},
		{"negative rate", func(c *Config) { c.Upload.RatePerSecond = -1 }, "rate_per_second"},
		{"tiny settle", func(c *Config) { c.Inbox.SettleDelay = "1ms" }, "settle_delay"},
		{"log level", func(c *Config) { c.Logging.LogLevel = "verbose" }, "log_level"},
		{"log format", func(c *Config) { c.Logging.LogFormat = "xml" }, "log_format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)

			err := Validate(cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestValidate_Accepts(t *testing.T) {
	cfg := DefaultConfig()
	cfg.API.Timeout = "45s"
	cfg.Auth.RefreshStatuses = []int{401, 403, 599}
	cfg.Polling.Interval = "1s"
	cfg.Polling.NotifyURL = "ws://localhost:8000/ws/jobs/"
	cfg.Upload.Parallel = 32
	cfg.Upload.RatePerSecond = 0

	assert.NoError(t, Validate(cfg))
}

func TestValidate_ReportsEveryError(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Upload.Parallel = 0
	cfg.Logging.LogLevel = "loud"
	cfg.Polling.Interval = "x"

	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parallel")
	assert.Contains(t, err.Error(), "log_level")
	assert.Contains(t, err.Error(), "interval")
}
