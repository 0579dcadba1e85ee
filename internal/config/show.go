package config

import (
	"fmt"
	"io"
	"strconv"
	"strings"
)

// RenderEffective writes the resolved configuration as a human-readable
// annotated summary to w. This powers the "config show" command.
func RenderEffective(r *Resolved, w io.Writer) error {
	ew := &errWriter{w: w}

	ew.printf("# Effective configuration (file: %s)\n\n", r.ConfigPath)

	ew.printf("[api]\n")
	ew.printf("  base_url         = %q\n", r.BaseURL)
	ew.printf("  timeout          = %q\n", r.Timeout.String())
	ew.printf("\n")

	ew.printf("[auth]\n")
	ew.printf("  credentials_file = %q\n", r.CredentialsFile)
	ew.printf("  refresh_statuses = [%s]\n", joinInts(r.RefreshStatuses))
	ew.printf("\n")

	ew.printf("[polling]\n")
	ew.printf("  interval         = %q\n", r.PollInterval.String())
	ew.printf("  notify_url       = %q\n", r.NotifyURL)
	ew.printf("\n")

	ew.printf("[upload]\n")
	ew.printf("  parallel         = %d\n", r.Parallel)
	ew.printf("  rate_per_second  = %s\n", formatFloat(r.RatePerSecond))
	ew.printf("\n")

	ew.printf("[inbox]\n")
	ew.printf("  settle_delay     = %q\n", r.SettleDelay.String())
	ew.printf("\n")

	ew.printf("[state]\n")
	ew.printf("  db_path          = %q\n", r.DBPath)
	ew.printf("\n")

	ew.printf("[logging]\n")
	ew.printf("  log_level        = %q\n", r.LogLevel)
	ew.printf("  log_format       = %q\n", r.LogFormat)

	return ew.err
}

// errWriter wraps an io.Writer and captures the first write error.
// Subsequent writes after an error are no-ops, so callers can chain
// printf calls without checking each one individually.
type errWriter struct {
	w   io.Writer
	err error
}

func (ew *errWriter) printf(format string, args ...any) {
	if ew.err != nil {
		return
	}

	_, ew.err = fmt.Fprintf(ew.w, format, args...)
}

func joinInts(items []int) string {
	parts := make([]string, len(items))
	for i, n := range items {
		parts[i] = strconv.Itoa(n)
	}

	return strings.Join(parts, ", ")
}

// formatFloat renders f as a TOML float, keeping a decimal point on whole
// numbers so the value decodes back into a float field.
func formatFloat(f float64) string {
	s := strconv.FormatFloat(f, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}

	return s
}
