package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// configFilePermissions is the standard permission mode for config files.
// Owner read/write, group and others read-only.
const configFilePermissions = 0o644

// configDirPermissions is the standard permission mode for config directories.
const configDirPermissions = 0o755

// ErrConfigExists is returned by WriteTemplate when the file already exists.
var ErrConfigExists = errors.New("config file already exists")

// configTemplate is the config file written by "config init". Every setting
// is present as a commented-out default so users can discover each option
// without reading docs.
const configTemplate = `# netanalyzer configuration
# Uncomment and modify to override defaults.

[api]
# Root of the analysis service API.
# base_url = "http://localhost:8000/api/v1/"
# Request timeout; "0" keeps the transport default.
# timeout = "0"

[auth]
# Where the access and refresh credentials are stored.
# credentials_file = ""
# Statuses that trigger the refresh-and-retry. Empty means any status >= 400.
# refresh_statuses = [401]

[polling]
# Delay between job status polls while jobs are running.
# interval = "5s"
# Optional websocket endpoint for job event hints.
# notify_url = ""

[upload]
# Concurrent uploads for "submit".
# parallel = 4
# Upload starts per second; 0 is unlimited.
# rate_per_second = 2.0

[inbox]
# How long a dropped file must stay unchanged before it is submitted.
# settle_delay = "2s"

[state]
# Tracked-job database.
# db_path = ""

[logging]
# debug, info, warn, error
# log_level = "warn"
# auto, text, json
# log_format = "auto"
`

// WriteTemplate creates a commented default config file at path. It never
// overwrites an existing file.
func WriteTemplate(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%w: %s", ErrConfigExists, path)
	}

	return atomicWriteFile(path, []byte(configTemplate))
}

// atomicWriteFile writes data to path via a temp file and rename, creating
// parent directories as needed.
func atomicWriteFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, configDirPermissions); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	f, err := os.CreateTemp(dir, ".config-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}

	tempPath := f.Name()

	// Clean up the temp file on any error path.
	succeeded := false
	defer func() {
		if !succeeded {
			os.Remove(tempPath)
		}
	}()

	if _, err := f.Write(data); err != nil {
		f.Close()

		return fmt.Errorf("writing temp file: %w", err)
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}

	if err := os.Chmod(tempPath, configFilePermissions); err != nil {
		return fmt.Errorf("setting file permissions: %w", err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		return fmt.Errorf("renaming temp file: %w", err)
	}

	succeeded = true

	return nil
}
