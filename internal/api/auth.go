package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/oauth2"

	"github.com/tonimelisma/netanalyzer-go/internal/credstore"
)

// pathLogin is the token-issuing endpoint, relative to the API root.
const pathLogin = "auth/token/"

// genericLoginFailure is reported when the token endpoint rejects a login
// without any detail text.
const genericLoginFailure = "Login failed"

// Login exchanges a username and password for a credential pair using the
// OAuth2 password grant: a form-encoded POST (Content-Type
// application/x-www-form-urlencoded) to the token endpoint. It never
// retries. Storing the pair is left to the caller.
func (c *Client) Login(ctx context.Context, username, password string) (credstore.Pair, error) {
	cfg := &oauth2.Config{
		Endpoint: oauth2.Endpoint{
			TokenURL: c.resolve(pathLogin),
			// No client credentials: keep them out of the Authorization
			// header so the form body carries only the user's credentials.
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}

	c.logger.Info("requesting credentials", slog.String("username", username))

	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)

	tok, err := cfg.PasswordCredentialsToken(ctx, username, password)
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) {
			loginErr := &LoginError{Detail: loginDetail(re.Body)}
			if re.Response != nil {
				loginErr.StatusCode = re.Response.StatusCode
			}

			c.logger.Warn("login rejected",
				slog.String("username", username),
				slog.Int("status", loginErr.StatusCode),
			)

			return credstore.Pair{}, loginErr
		}

		return credstore.Pair{}, fmt.Errorf("api: login request failed: %w", err)
	}

	pair := credstore.Pair{Access: tok.AccessToken, Refresh: tok.RefreshToken}
	if !pair.Complete() {
		return credstore.Pair{}, fmt.Errorf("%w: login response missing refresh_token", ErrDecode)
	}

	c.logger.Info("login accepted", slog.String("username", username))

	return pair, nil
}

// loginDetail extracts the human-readable rejection text. A JSON body of the
// form {"detail": "..."} yields the detail string; any other body is used
// verbatim; an empty body yields the generic message.
func loginDetail(body []byte) string {
	text := strings.TrimSpace(string(body))
	if text == "" {
		return genericLoginFailure
	}

	var parsed struct {
		Detail string `json:"detail"`
	}

	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Detail != "" {
		return parsed.Detail
	}

	return text
}
