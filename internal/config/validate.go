package config

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// Validation range constants.
const (
	minParallel      = 1
	maxParallel      = 32
	minPollInterval  = time.Second
	minRefreshStatus = http.StatusBadRequest
	maxRefreshStatus = 599
	minSettleDelay   = 100 * time.Millisecond
	maxRatePerSecond = 100
)

// Validate checks all configuration values and returns all errors found.
// It accumulates every error rather than stopping at the first, so users
// see a complete report and can fix all issues in one pass.
func Validate(cfg *Config) error {
	var errs []error

	errs = append(errs, validateAPI(&cfg.API)...)
	errs = append(errs, validateAuth(&cfg.Auth)...)
	errs = append(errs, validatePolling(&cfg.Polling)...)
	errs = append(errs, validateUpload(&cfg.Upload)...)
	errs = append(errs, validateDurationMin("settle_delay", cfg.Inbox.SettleDelay, minSettleDelay)...)
	errs = append(errs, validateLogging(&cfg.Logging)...)

	return errors.Join(errs...)
}

func validateAPI(a *APIConfig) []error {
	var errs []error

	if err := validateURL("base_url", a.BaseURL, "http", "https"); err != nil {
		errs = append(errs, err)
	}

	errs = append(errs, validateDurationNonNeg("timeout", a.Timeout)...)

	return errs
}

func validateAuth(a *AuthConfig) []error {
	var errs []error

	seen := make(map[int]bool, len(a.RefreshStatuses))

	for _, code := range a.RefreshStatuses {
		if code < minRefreshStatus || code > maxRefreshStatus {
			errs = append(errs, fmt.Errorf("refresh_statuses: %d is not an error status (%d-%d)",
				code, minRefreshStatus, maxRefreshStatus))
		}

		if seen[code] {
			errs = append(errs, fmt.Errorf("refresh_statuses: %d listed twice", code))
		}

		seen[code] = true
	}

	return errs
}

func validatePolling(p *PollingConfig) []error {
	var errs []error

	errs = append(errs, validateDurationMin("interval", p.Interval, minPollInterval)...)

	if p.NotifyURL != "" {
		if err := validateURL("notify_url", p.NotifyURL, "ws", "wss", "http", "https"); err != nil {
			errs = append(errs, err)
		}
	}

	return errs
}

func validateUpload(u *UploadConfig) []error {
	var errs []error

	if u.Parallel < minParallel || u.Parallel > maxParallel {
		errs = append(errs, fmt.Errorf("parallel: must be between %d and %d, got %d",
			minParallel, maxParallel, u.Parallel))
	}

	if u.RatePerSecond < 0 || u.RatePerSecond > maxRatePerSecond {
		errs = append(errs, fmt.Errorf("rate_per_second: must be between 0 and %d, got %g",
			maxRatePerSecond, u.RatePerSecond))
	}

	return errs
}

// validateURL checks that value is an absolute URL with one of schemes.
func validateURL(field, value string, schemes ...string) error {
	u, err := url.Parse(value)
	if err != nil {
		return fmt.Errorf("%s: invalid URL %q: %w", field, value, err)
	}

	for _, s := range schemes {
		if u.Scheme == s && u.Host != "" {
			return nil
		}
	}

	return fmt.Errorf("%s: must be an absolute %v URL, got %q", field, schemes, value)
}

// validateDuration checks that a duration string is valid and meets a minimum.
func validateDuration(field, value string, minimum time.Duration) error {
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("%s: invalid duration %q: %w", field, value, err)
	}

	if d < minimum {
		return fmt.Errorf("%s: must be >= %s, got %s", field, minimum, d)
	}

	return nil
}

func validateDurationMin(field, value string, minimum time.Duration) []error {
	if err := validateDuration(field, value, minimum); err != nil {
		return []error{err}
	}

	return nil
}

func validateDurationNonNeg(field, value string) []error {
	d, err := time.ParseDuration(value)
	if err != nil {
		return []error{fmt.Errorf("%s: invalid duration %q: %w", field, value, err)}
	}

	if d < 0 {
		return []error{fmt.Errorf("%s: must be >= 0, got %s", field, d)}
	}

	return nil
}

func validateLogging(l *LoggingConfig) []error {
	var errs []error

	errs = append(errs, validateLogLevel(l.LogLevel)...)
	errs = append(errs, validateLogFormat(l.LogFormat)...)

	return errs
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

func validateLogLevel(level string) []error {
	if !validLogLevels[level] {
		return []error{fmt.Errorf("log_level: must be one of debug, info, warn, error; got %q", level)}
	}

	return nil
}

var validLogFormats = map[string]bool{
	"auto": true,
	"text": true,
	"json": true,
}

func validateLogFormat(format string) []error {
	if !validLogFormats[format] {
		return []error{fmt.Errorf("log_format: must be one of auto, text, json; got %q", format)}
	}

	return nil
}
