package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Load reads and parses a TOML config file, validates it, and returns the
// resulting Config. Unknown keys are treated as fatal errors with "did you
// mean?" suggestions.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	if err := checkUnknownKeys(&md); err != nil {
		return nil, err
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// LoadOrDefault reads a TOML config file if it exists, otherwise returns
// a Config populated with all default values.
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return DefaultConfig(), nil
	}

	return Load(path)
}

// Resolve loads configuration and applies the four-layer override chain:
// defaults -> config file -> environment variables -> CLI flags.
func Resolve(env EnvOverrides, cli CLIOverrides) (*Resolved, error) {
	// 1. Resolve config path: CLI > env > default
	cfgPath := DefaultConfigPath()
	if env.ConfigPath != "" {
		cfgPath = env.ConfigPath
	}

	if cli.ConfigPath != "" {
		cfgPath = cli.ConfigPath
	}

	// 2. Load config file (returns defaults if no file exists)
	cfg, err := LoadOrDefault(cfgPath)
	if err != nil {
		return nil, err
	}

	// 3. Apply env overrides
	if env.APIURL != "" {
		cfg.API.BaseURL = env.APIURL
	}

	if env.CredentialsFile != "" {
		cfg.Auth.CredentialsFile = env.CredentialsFile
	}

	// 4. Apply CLI overrides
	if cli.APIURL != "" {
		cfg.API.BaseURL = cli.APIURL
	}

	// 5. Validate the overridden values again; env and flags bypass Load.
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return resolve(cfg, cfgPath), nil
}

// resolve converts a validated Config. Parse errors cannot occur here.
func resolve(cfg *Config, path string) *Resolved {
	dataDir := DefaultDataDir()

	credentials := expandTilde(cfg.Auth.CredentialsFile)
	if credentials == "" {
		credentials = filepath.Join(dataDir, credentialsFileName)
	}

	dbPath := expandTilde(cfg.State.DBPath)
	if dbPath == "" {
		dbPath = filepath.Join(dataDir, jobsDatabaseFileName)
	}

	return &Resolved{
		ConfigPath:      path,
		BaseURL:         cfg.API.BaseURL,
		Timeout:         mustDuration(cfg.API.Timeout),
		CredentialsFile: credentials,
		RefreshStatuses: cfg.Auth.RefreshStatuses,
		PollInterval:    mustDuration(cfg.Polling.Interval),
		NotifyURL:       cfg.Polling.NotifyURL,
		Parallel:        cfg.Upload.Parallel,
		RatePerSecond:   cfg.Upload.RatePerSecond,
		SettleDelay:     mustDuration(cfg.Inbox.SettleDelay),
		DBPath:          dbPath,
		LogLevel:        cfg.Logging.LogLevel,
		LogFormat:       cfg.Logging.LogFormat,
	}
}

// mustDuration parses a duration that Validate already accepted.
func mustDuration(s string) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0
	}

	return d
}

// expandTilde replaces a leading "~/" with the user's home directory.
func expandTilde(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}

	return filepath.Join(home, path[2:])
}
