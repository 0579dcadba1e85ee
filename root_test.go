package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/netanalyzer-go/internal/api"
	"github.com/tonimelisma/netanalyzer-go/internal/config"
)

// Global flag reset pattern: newRootCmd() binds flags via StringVar/BoolVar,
// which reset the global flag variables to their zero values. Tests either
// build CLIFlags directly or go through cmd.SetArgs() + cmd.Execute().

func TestBuildLogger_Levels(t *testing.T) {
	tests := []struct {
		name     string
		cfg      *config.Resolved
		flags    CLIFlags
		enabled  slog.Level
		disabled slog.Level
	}{
		{"no config defaults to warn", nil, CLIFlags{}, slog.LevelWarn, slog.LevelInfo},
		{"config info", &config.Resolved{LogLevel: "info"}, CLIFlags{}, slog.LevelInfo, slog.LevelDebug},
		{"config error", &config.Resolved{LogLevel: "error"}, CLIFlags{}, slog.LevelError, slog.LevelWarn},
		{"verbose beats config", &config.Resolved{LogLevel: "error"}, CLIFlags{Verbose: true}, slog.LevelDebug, slog.LevelDebug - 1},
		{"quiet beats verbose", nil, CLIFlags{Verbose: true, Quiet: true}, slog.LevelError, slog.LevelWarn},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := buildLogger(tt.cfg, tt.flags, &bytes.Buffer{})

			assert.True(t, logger.Handler().Enabled(context.Background(), tt.enabled))
			assert.False(t, logger.Handler().Enabled(context.Background(), tt.disabled))
		})
	}
}

func TestBuildLogger_Formats(t *testing.T) {
	tests := []struct {
		format   string
		wantJSON bool
	}{
		{"json", true},
		{"text", false},
		// A buffer is not a terminal, so auto picks JSON.
		{"auto", true},
	}

	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			var buf bytes.Buffer

			logger := buildLogger(&config.Resolved{LogLevel: "warn", LogFormat: tt.format}, CLIFlags{}, &buf)
			logger.Warn("hello", slog.String("k", "v"))

			assert.Equal(t, tt.wantJSON, json.Valid(bytes.TrimSpace(buf.Bytes())), buf.String())
			assert.Contains(t, buf.String(), "hello")
		})
	}
}

func TestNeedsLogin(t *testing.T) {
	assert.True(t, needsLogin(errNotLoggedIn))
	assert.True(t, needsLogin(fmt.Errorf("wrapped: %w", api.ErrSessionRevoked)))
	assert.True(t, needsLogin(api.ErrRefreshFailed))
	assert.True(t, needsLogin(api.ErrNotAuthenticated))
	assert.False(t, needsLogin(api.ErrServerError))
	assert.False(t, needsLogin(api.ErrUsage))
}

func TestNewRootCmd_Subcommands(t *testing.T) {
	cmd := newRootCmd()

	names := make(map[string]bool)
	for _, sub := range cmd.Commands() {
		names[sub.Name()] = true
	}

	for _, want := range []string{
		"login", "logout", "whoami", "submit", "watch", "jobs", "history", "untrack", "tokens", "inbox", "config",
	} {
		assert.True(t, names[want], "missing subcommand %q", want)
	}
}

func TestMustCLIContext_PanicsWithoutContext(t *testing.T) {
	assert.Panics(t, func() { mustCLIContext(context.Background()) })
}

func TestCurrentFlags(t *testing.T) {
	cmd := newRootCmd()
	require.NoError(t, cmd.ParseFlags([]string{"--json", "-v", "--api-url", "http://x/", "--ephemeral"}))

	assert.Equal(t, CLIFlags{APIURL: "http://x/", JSON: true, Verbose: true, Ephemeral: true}, currentFlags())
}
