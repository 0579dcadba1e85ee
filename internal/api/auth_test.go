package api

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/netanalyzer-go/internal/credstore"
)

func TestLogin_FormEncodedPasswordGrant(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v1/auth/token/", r.URL.Path)
		assert.Equal(t, "application/x-www-form-urlencoded", r.Header.Get("Content-Type"))
		assert.Empty(t, r.Header.Get("Authorization"))

		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "password", r.PostForm.Get("grant_type"))
		assert.Equal(t, "alice", r.PostForm.Get("username"))
		assert.Equal(t, "s3cret", r.PostForm.Get("password"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"A1","refresh_token":"R1","token_type":"bearer"}`))
	}))
	defer srv.Close()

	store := credstore.NewMemoryStore()

	client, err := NewClient(srv.URL+"/api/v1", srv.Client(), store, slog.Default())
	require.NoError(t, err)

	pair, err := client.Login(context.Background(), "alice", "s3cret")
	require.NoError(t, err)
	assert.Equal(t, credstore.Pair{Access: "A1", Refresh: "R1"}, pair)

	// Login never writes the store itself.
	_, ok, err := credstore.LoadPair(store)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLogin_Rejected(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		wantDetail string
	}{
		{"json detail", http.StatusUnauthorized, `{"detail":"Incorrect username or password"}`, "Incorrect username or password"},
		{"plain text", http.StatusBadRequest, "no such user", "no such user"},
		{"empty body", http.StatusUnauthorized, "", genericLoginFailure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			client, err := NewClient(srv.URL, srv.Client(), credstore.NewMemoryStore(), slog.Default())
			require.NoError(t, err)

			_, err = client.Login(context.Background(), "alice", "wrong")
			require.Error(t, err)

			var loginErr *LoginError
			require.ErrorAs(t, err, &loginErr)
			assert.Equal(t, tt.status, loginErr.StatusCode)
			assert.Equal(t, tt.wantDetail, loginErr.Detail)
		})
	}
}

func TestLogin_MissingRefreshToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"A1","token_type":"bearer"}`))
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL, srv.Client(), credstore.NewMemoryStore(), slog.Default())
	require.NoError(t, err)

	_, err = client.Login(context.Background(), "alice", "s3cret")
	require.ErrorIs(t, err, ErrDecode)
}

func TestLoginDetail(t *testing.T) {
	assert.Equal(t, genericLoginFailure, loginDetail(nil))
	assert.Equal(t, genericLoginFailure, loginDetail([]byte("  \n")))
	assert.Equal(t, "nope", loginDetail([]byte(`{"detail":"nope"}`)))
	assert.Equal(t, `{"error":"x"}`, loginDetail([]byte(`{"error":"x"}`)))
}
