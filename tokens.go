package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/netanalyzer-go/internal/api"
)

// defaultTokenLifetime is how long a created API token lives when neither
// --expires-in nor --expires-at is given.
const defaultTokenLifetime = 30 * 24 * time.Hour

func newTokensCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tokens",
		Short: "Manage long-lived API tokens",
	}

	cmd.AddCommand(newTokensListCmd())
	cmd.AddCommand(newTokensCreateCmd())

	return cmd
}

func newTokensListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List API tokens",
		Args:  cobra.NoArgs,
		RunE:  runTokensList,
	}
}

func newTokensCreateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API token",
		Args:  cobra.NoArgs,
		RunE:  runTokensCreate,
	}

	cmd.Flags().Duration("expires-in", defaultTokenLifetime, "token lifetime")
	cmd.Flags().String("expires-at", "", "expiry as an RFC 3339 timestamp (overrides --expires-in)")

	return cmd
}

// tokenOutput is the JSON schema for a token.
type tokenOutput struct {
	ID        string    `json:"id"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

func newTokenOutput(t api.APIToken) tokenOutput {
	return tokenOutput{ID: t.ID, Token: t.Token, ExpiresAt: t.ExpiresAt, CreatedAt: t.CreatedAt}
}

func runTokensList(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	client, err := cc.apiClient(cmd.Context())
	if err != nil {
		return err
	}

	tokens, err := client.Tokens(cmd.Context())
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()

	if cc.Flags.JSON {
		items := make([]tokenOutput, 0, len(tokens))
		for _, t := range tokens {
			items = append(items, newTokenOutput(t))
		}

		return printJSON(out, items)
	}

	if len(tokens) == 0 {
		fmt.Fprintln(out, "No tokens.")
		return nil
	}

	rows := make([][]string, 0, len(tokens))
	for _, t := range tokens {
		rows = append(rows, []string{t.ID, formatTime(t.CreatedAt), formatTime(t.ExpiresAt), tokenState(t, time.Now())})
	}

	printTable(out, []string{"ID", "CREATED", "EXPIRES", "STATE"}, rows)

	return nil
}

func tokenState(t api.APIToken, now time.Time) string {
	if !t.ExpiresAt.IsZero() && !t.ExpiresAt.After(now) {
		return "expired"
	}

	return "valid"
}

func runTokensCreate(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	expiresAt, err := tokenExpiry(cmd, time.Now())
	if err != nil {
		return err
	}

	client, err := cc.apiClient(cmd.Context())
	if err != nil {
		return err
	}

	token, err := client.CreateToken(cmd.Context(), expiresAt)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()

	if cc.Flags.JSON {
		return printJSON(out, newTokenOutput(*token))
	}

	// The token value goes to stdout alone so it can be captured by scripts.
	fmt.Fprintln(out, token.Token)
	cc.Statusf("Token %s expires %s.\n", token.ID, token.ExpiresAt.Local().Format(time.RFC1123))

	return nil
}

// tokenExpiry reads --expires-at or --expires-in and returns an expiry in
// the future.
func tokenExpiry(cmd *cobra.Command, now time.Time) (time.Time, error) {
	at, _ := cmd.Flags().GetString("expires-at")
	if at != "" {
		t, err := time.Parse(time.RFC3339, at)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid --expires-at %q: %w", at, err)
		}

		if !t.After(now) {
			return time.Time{}, fmt.Errorf("--expires-at %s is in the past", at)
		}

		return t, nil
	}

	in, _ := cmd.Flags().GetDuration("expires-in")
	if in <= 0 {
		return time.Time{}, fmt.Errorf("--expires-in must be positive, got %s", in)
	}

	return now.Add(in), nil
}
