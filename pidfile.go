package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// inboxLockName is the lock file placed in a watched inbox. The leading dot
// keeps the inbox watcher from treating it as a dropped capture.
const inboxLockName = ".netanalyzer-inbox.pid"

const pidFilePermissions = 0o644

// lockInbox writes the current process ID into dir's lock file and holds an
// exclusive flock on it. Returns a cleanup function that removes the file and
// releases the lock. Fails when another inbox process already watches dir.
func lockInbox(dir string) (cleanup func(), err error) {
	path := filepath.Join(dir, inboxLockName)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, pidFilePermissions)
	if err != nil {
		return nil, fmt.Errorf("opening inbox lock: %w", err)
	}

	// Non-blocking: fails immediately if another process holds it.
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		f.Close()

		if pid, readErr := readPIDFile(path); readErr == nil {
			return nil, fmt.Errorf("%s is already being watched by PID %d", dir, pid)
		}

		return nil, fmt.Errorf("%s is already being watched (could not lock %s)", dir, path)
	}

	if err := f.Truncate(0); err != nil {
		f.Close()

		return nil, fmt.Errorf("truncating inbox lock: %w", err)
	}

	if _, err := fmt.Fprintf(f, "%d\n", os.Getpid()); err != nil {
		f.Close()

		return nil, fmt.Errorf("writing inbox lock: %w", err)
	}

	if err := f.Sync(); err != nil {
		f.Close()

		return nil, fmt.Errorf("syncing inbox lock: %w", err)
	}

	return func() {
		os.Remove(path)
		f.Close()
	}, nil
}

// readPIDFile reads the PID from the given file path.
func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("reading PID file: %w", err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("invalid PID in %s: %w", path, err)
	}

	return pid, nil
}
