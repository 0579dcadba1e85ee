package main

import (
	"github.com/spf13/cobra"

	"github.com/tonimelisma/netanalyzer-go/internal/config"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
	}

	cmd.AddCommand(newConfigShowCmd())
	cmd.AddCommand(newConfigInitCmd())

	return cmd
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Display effective configuration after all overrides",
		RunE:  runConfigShow,
	}
}

func newConfigInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:         "init",
		Short:       "Write a commented default config file",
		Annotations: map[string]string{skipConfigAnnotation: "true"},
		RunE:        runConfigInit,
	}
}

// configShowOutput is the JSON schema for `config show --json`. Durations
// are rendered as strings, matching the config file.
type configShowOutput struct {
	ConfigPath      string  `json:"config_path"`
	BaseURL         string  `json:"base_url"`
	Timeout         string  `json:"timeout"`
	CredentialsFile string  `json:"credentials_file"`
	RefreshStatuses []int   `json:"refresh_statuses"`
	PollInterval    string  `json:"poll_interval"`
	NotifyURL       string  `json:"notify_url"`
	Parallel        int     `json:"parallel"`
	RatePerSecond   float64 `json:"rate_per_second"`
	SettleDelay     string  `json:"settle_delay"`
	DBPath          string  `json:"db_path"`
	LogLevel        string  `json:"log_level"`
	LogFormat       string  `json:"log_format"`
}

func runConfigShow(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())
	r := cc.Cfg

	if cc.Flags.JSON {
		return printJSON(cmd.OutOrStdout(), configShowOutput{
			ConfigPath:      r.ConfigPath,
			BaseURL:         r.BaseURL,
			Timeout:         r.Timeout.String(),
			CredentialsFile: r.CredentialsFile,
			RefreshStatuses: r.RefreshStatuses,
			PollInterval:    r.PollInterval.String(),
			NotifyURL:       r.NotifyURL,
			Parallel:        r.Parallel,
			RatePerSecond:   r.RatePerSecond,
			SettleDelay:     r.SettleDelay.String(),
			DBPath:          r.DBPath,
			LogLevel:        r.LogLevel,
			LogFormat:       r.LogFormat,
		})
	}

	return config.RenderEffective(r, cmd.OutOrStdout())
}

func runConfigInit(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	path := cc.Flags.ConfigPath
	if path == "" {
		path = config.ReadEnvOverrides().ConfigPath
	}

	if path == "" {
		path = config.DefaultConfigPath()
	}

	if err := config.WriteTemplate(path); err != nil {
		return err
	}

	cc.Statusf("Wrote %s\n", path)

	return nil
}
