package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/tonimelisma/netanalyzer-go/internal/api"
	"github.com/tonimelisma/netanalyzer-go/internal/config"
	"github.com/tonimelisma/netanalyzer-go/internal/credstore"
	"github.com/tonimelisma/netanalyzer-go/internal/jobstore"
	"github.com/tonimelisma/netanalyzer-go/internal/session"
)

// version is set at build time via ldflags.
var version = "dev"

// Global persistent flags, bound in newRootCmd().
var (
	flagConfigPath string
	flagAPIURL     string
	flagJSON       bool
	flagVerbose    bool
	flagQuiet      bool
	flagEphemeral  bool
)

// skipConfigAnnotation marks commands that must run without a valid config
// (config init creates the file the resolver would otherwise reject).
const skipConfigAnnotation = "skipConfig"

// errNotLoggedIn is returned when a command needs stored credentials and
// none exist.
var errNotLoggedIn = errors.New("not logged in")

// CLIFlags is a snapshot of the global flags for one command invocation.
type CLIFlags struct {
	ConfigPath string
	APIURL     string
	JSON       bool
	Verbose    bool
	Quiet      bool
	Ephemeral  bool
}

// CLIContext carries everything a command needs. It is built once in the
// root PersistentPreRunE and stored in the command's context.
type CLIContext struct {
	Flags  CLIFlags
	Cfg    *config.Resolved
	Logger *slog.Logger

	store credstore.Store
}

type cliContextKey struct{}

// mustCLIContext returns the CLIContext installed by the root command.
func mustCLIContext(ctx context.Context) *CLIContext {
	cc, ok := ctx.Value(cliContextKey{}).(*CLIContext)
	if !ok {
		panic("BUG: CLIContext missing from command context")
	}

	return cc
}

// newRootCmd builds and returns the fully-assembled root command with all
// subcommands registered. Called once from main().
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "netanalyzer",
		Short:   "Capture analysis client",
		Long:    "Upload network captures for analysis and track the analysis jobs.",
		Version: version,
		// Silence Cobra's default error/usage printing; main handles it.
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			flags := currentFlags()
			cc := &CLIContext{Flags: flags}

			if cmd.Annotations[skipConfigAnnotation] == "" {
				cfg, err := loadConfig(flags)
				if err != nil {
					return err
				}

				cc.Cfg = cfg
			}

			cc.Logger = buildLogger(cc.Cfg, flags, os.Stderr)
			cmd.SetContext(context.WithValue(cmd.Context(), cliContextKey{}, cc))

			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "config file path")
	cmd.PersistentFlags().StringVar(&flagAPIURL, "api-url", "", "analysis service API root")
	cmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "output in JSON format")
	cmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")
	cmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "suppress informational output")
	cmd.PersistentFlags().BoolVar(&flagEphemeral, "ephemeral", false,
		"keep credentials in memory only, logging in from "+config.EnvUsername+"/"+config.EnvPassword)

	cmd.AddCommand(newLoginCmd())
	cmd.AddCommand(newLogoutCmd())
	cmd.AddCommand(newWhoamiCmd())
	cmd.AddCommand(newSubmitCmd())
	cmd.AddCommand(newWatchCmd())
	cmd.AddCommand(newJobsCmd())
	cmd.AddCommand(newHistoryCmd())
	cmd.AddCommand(newUntrackCmd())
	cmd.AddCommand(newTokensCmd())
	cmd.AddCommand(newInboxCmd())
	cmd.AddCommand(newConfigCmd())

	return cmd
}

func currentFlags() CLIFlags {
	return CLIFlags{
		ConfigPath: flagConfigPath,
		APIURL:     flagAPIURL,
		JSON:       flagJSON,
		Verbose:    flagVerbose,
		Quiet:      flagQuiet,
		Ephemeral:  flagEphemeral,
	}
}

// loadConfig resolves the effective configuration from the four-layer
// override chain.
func loadConfig(flags CLIFlags) (*config.Resolved, error) {
	cli := config.CLIOverrides{
		ConfigPath: flags.ConfigPath,
		APIURL:     flags.APIURL,
	}

	resolved, err := config.Resolve(config.ReadEnvOverrides(), cli)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	return resolved, nil
}

// buildLogger creates an slog.Logger configured by the resolved config and
// CLI flags. Config-file log level provides the baseline; --verbose and
// --quiet override it because CLI flags always win.
func buildLogger(cfg *config.Resolved, flags CLIFlags, w io.Writer) *slog.Logger {
	level := slog.LevelWarn
	format := "auto"

	if cfg != nil {
		switch cfg.LogLevel {
		case "debug":
			level = slog.LevelDebug
		case "info":
			level = slog.LevelInfo
		case "error":
			level = slog.LevelError
		}

		format = cfg.LogFormat
	}

	if flags.Verbose {
		level = slog.LevelDebug
	}

	if flags.Quiet {
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}

	if format == "json" || (format == "auto" && !isTerminal(w)) {
		return slog.New(slog.NewJSONHandler(w, opts))
	}

	return slog.New(slog.NewTextHandler(w, opts))
}

// isTerminal reports whether w is an interactive terminal.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}

	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// credentialStore returns the store for this invocation: the credentials
// file, or a process-local store with --ephemeral.
func (cc *CLIContext) credentialStore() credstore.Store {
	if cc.store == nil {
		if cc.Flags.Ephemeral {
			cc.store = credstore.NewMemoryStore()
		} else {
			cc.store = credstore.NewFileStore(cc.Cfg.CredentialsFile)
		}
	}

	return cc.store
}

// newAPIClient builds the resilient client over the credential store.
func (cc *CLIContext) newAPIClient() (*api.Client, error) {
	var opts []api.Option
	if len(cc.Cfg.RefreshStatuses) > 0 {
		opts = append(opts, api.WithRefreshStatuses(cc.Cfg.RefreshStatuses...))
	}

	httpClient := &http.Client{Timeout: cc.Cfg.Timeout}

	return api.NewClient(cc.Cfg.BaseURL, httpClient, cc.credentialStore(), cc.Logger, opts...)
}

// apiClient returns a client ready for authenticated calls. With
// --ephemeral it logs in from the environment first.
func (cc *CLIContext) apiClient(ctx context.Context) (*api.Client, error) {
	client, err := cc.newAPIClient()
	if err != nil {
		return nil, err
	}

	if !cc.Flags.Ephemeral {
		return client, nil
	}

	username, password := os.Getenv(config.EnvUsername), os.Getenv(config.EnvPassword)
	if username == "" || password == "" {
		return nil, fmt.Errorf("--ephemeral needs %s and %s", config.EnvUsername, config.EnvPassword)
	}

	sess := session.New(client, cc.credentialStore(), cc.Logger)
	if err := sess.Login(ctx, username, password); err != nil {
		return nil, loginFailure(sess, err)
	}

	return client, nil
}

// openJobs opens the tracked-job database.
func (cc *CLIContext) openJobs(ctx context.Context) (*jobstore.Store, error) {
	return jobstore.Open(ctx, cc.Cfg.DBPath, cc.Logger)
}

// needsLogin reports whether err can only be fixed by logging in again.
func needsLogin(err error) bool {
	return errors.Is(err, errNotLoggedIn) || api.IsSessionFatal(err)
}

// exitOnError prints a user-friendly error message to stderr and exits.
func exitOnError(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)

	if needsLogin(err) {
		fmt.Fprintln(os.Stderr, "Run 'netanalyzer login' to sign in again.")
	}

	os.Exit(1)
}
