package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/tonimelisma/netanalyzer-go/internal/config"
	"github.com/tonimelisma/netanalyzer-go/internal/session"
)

func newLoginCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "login [username]",
		Short: "Sign in and store the session credentials",
		Long: `Sign in with a username and password. The password is read from
` + config.EnvPassword + ` when set, otherwise it is prompted for.`,
		Args: cobra.MaximumNArgs(1),
		RunE: runLogin,
	}
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored session credentials",
		RunE:  runLogout,
	}
}

func newWhoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Confirm the stored session and show the signed-in user",
		RunE:  runWhoami,
	}
}

func runLogin(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())

	if cc.Flags.Ephemeral {
		return fmt.Errorf("login stores credentials; with --ephemeral set %s and %s instead",
			config.EnvUsername, config.EnvPassword)
	}

	username, password, err := readCredentials(cmd, args)
	if err != nil {
		return err
	}

	client, err := cc.newAPIClient()
	if err != nil {
		return err
	}

	sess := session.New(client, cc.credentialStore(), cc.Logger)
	if err := sess.Login(cmd.Context(), username, password); err != nil {
		return loginFailure(sess, err)
	}

	cc.Statusf("Logged in as %s.\n", username)

	return nil
}

// loginFailure turns a failed login into the message the server gave.
func loginFailure(sess *session.Client, err error) error {
	snap := sess.Snapshot()
	if snap.State == session.StateError {
		return fmt.Errorf("login failed: %s", snap.Message)
	}

	return err
}

// readCredentials takes the username from args or a prompt and the password
// from the environment or a prompt. Prompts go to stderr.
func readCredentials(cmd *cobra.Command, args []string) (string, string, error) {
	in := bufio.NewReader(cmd.InOrStdin())
	prompt := cmd.ErrOrStderr()

	var username string

	if len(args) > 0 {
		username = args[0]
	} else {
		line, err := promptLine(in, prompt, "Username: ")
		if err != nil {
			return "", "", err
		}

		username = line
	}

	if username == "" {
		return "", "", errors.New("username is required")
	}

	password := os.Getenv(config.EnvPassword)
	if password == "" {
		p, err := promptPassword(cmd.InOrStdin(), in, prompt)
		if err != nil {
			return "", "", err
		}

		password = p
	}

	if password == "" {
		return "", "", errors.New("password is required")
	}

	return username, password, nil
}

func promptLine(in *bufio.Reader, w io.Writer, label string) (string, error) {
	fmt.Fprint(w, label)

	line, err := in.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", fmt.Errorf("reading %s: %w", strings.TrimSuffix(strings.ToLower(label), ": "), err)
	}

	return strings.TrimRight(line, "\r\n"), nil
}

// promptPassword reads without echo from a terminal, or a plain line from
// anything else (so a password can be piped in).
func promptPassword(raw io.Reader, in *bufio.Reader, w io.Writer) (string, error) {
	if f, ok := raw.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprint(w, "Password: ")

		b, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(w)

		if err != nil {
			return "", fmt.Errorf("reading password: %w", err)
		}

		return string(b), nil
	}

	return promptLine(in, w, "Password: ")
}

func runLogout(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	client, err := cc.newAPIClient()
	if err != nil {
		return err
	}

	sess := session.New(client, cc.credentialStore(), cc.Logger)
	if err := sess.Forget(); err != nil {
		return err
	}

	cc.Logger.Info("logout successful")
	cc.Statusf("Logged out.\n")

	return nil
}

// whoamiOutput is the JSON schema for `whoami --json`.
type whoamiOutput struct {
	Username string `json:"username"`
	APIURL   string `json:"api_url"`
}

func runWhoami(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	client, err := cc.apiClient(cmd.Context())
	if err != nil {
		return err
	}

	sess := session.New(client, cc.credentialStore(), cc.Logger)
	if err := sess.Restore(cmd.Context()); err != nil {
		return err
	}

	snap := sess.Snapshot()
	if snap.State != session.StateAuthenticated {
		return errNotLoggedIn
	}

	out := cmd.OutOrStdout()

	if cc.Flags.JSON {
		return printJSON(out, whoamiOutput{Username: snap.Username, APIURL: client.BaseURL()})
	}

	fmt.Fprintf(out, "User:    %s\n", snap.Username)
	fmt.Fprintf(out, "Service: %s\n", client.BaseURL())

	return nil
}
