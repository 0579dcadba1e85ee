package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/netanalyzer-go/internal/api"
	"github.com/tonimelisma/netanalyzer-go/internal/config"
	"github.com/tonimelisma/netanalyzer-go/internal/credstore"
)

const (
	testUserID = "9b2c1d7e-0a51-4f0e-8a4b-6f3b7d1e2c90"
	testToken  = "5d9a4c1e-7b2f-4e8a-9c3d-1f0e2b4a6c8d"
)

// fakeService is an in-memory analysis service. Jobs are created in the
// CREATED state and move to DONE on the second status poll.
type fakeService struct {
	mu       sync.Mutex
	access   string
	refresh  string
	seq      int
	jobs     map[string]*fakeJob
	order    []string
	uploads  []string
	password string
}

type fakeJob struct {
	id    string
	polls int
}

func newFakeService() *fakeService {
	return &fakeService{
		access:   "A1",
		refresh:  "R1",
		jobs:     make(map[string]*fakeJob),
		password: "s3cret",
	}
}

func (s *fakeService) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := strings.TrimPrefix(r.URL.Path, "/api/v1/")

	if path == "auth/token/" {
		s.login(w, r)
		return
	}

	if r.Header.Get("Authorization") != "Bearer "+s.access {
		if r.Header.Get("Refresh-Token") != "Bearer "+s.refresh {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		s.access += "+"
		s.refresh += "+"
		w.Header().Set("X-Access-Token", s.access)
		w.Header().Set("X-Refresh-Token", s.refresh)
	}

	w.Header().Set("Content-Type", "application/json")

	switch {
	case path == "users/me" && r.Method == http.MethodGet:
		fmt.Fprintf(w, `{"id":%q,"username":"alice"}`, testUserID)
	case path == "users/tokens" && r.Method == http.MethodGet:
		fmt.Fprintf(w, `[{"id":%q,"token":"tok-1","user_id":%q,"expires_at":"2099-01-01T00:00:00Z"}]`, testToken, testUserID)
	case path == "users/tokens" && r.Method == http.MethodPost:
		var req struct {
			ExpiresAt string `json:"expires_at"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		fmt.Fprintf(w, `{"id":%q,"token":"tok-new","user_id":%q,"expires_at":%q}`, testToken, testUserID, req.ExpiresAt)
	case path == "forward" && r.Method == http.MethodPost:
		s.submit(w, r)
	case path == "history" && r.Method == http.MethodPost:
		s.history(w, r)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (s *fakeService) login(w http.ResponseWriter, r *http.Request) {
	_ = r.ParseForm()

	w.Header().Set("Content-Type", "application/json")

	if r.PostForm.Get("username") != "alice" || r.PostForm.Get("password") != s.password {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"detail":"No active account found with the given credentials"}`))

		return
	}

	fmt.Fprintf(w, `{"access_token":%q,"refresh_token":%q,"token_type":"bearer"}`, s.access, s.refresh)
}

func (s *fakeService) submit(w http.ResponseWriter, r *http.Request) {
	f, header, err := r.FormFile("pcap")
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	defer f.Close()

	s.seq++
	id := fmt.Sprintf("00000000-0000-4000-8000-%012d", s.seq)
	s.jobs[id] = &fakeJob{id: id}
	s.order = append(s.order, id)
	s.uploads = append(s.uploads, header.Filename)

	fmt.Fprintf(w, `{"id":%q,"user_id":%q,"status":"CREATED"}`, id, testUserID)
}

func (s *fakeService) history(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IDs []string `json:"ids"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)

	ids := req.IDs
	if ids == nil {
		ids = s.order
	}

	records := make([]string, 0, len(ids))

	for _, id := range ids {
		j, ok := s.jobs[id]
		if !ok {
			continue
		}

		j.polls++
		if j.polls >= 2 {
			records = append(records, fmt.Sprintf(
				`{"id":%q,"status":"DONE","result":{"isolation_forest":{"anomaly_scores":[0.2,0.8],"anomalies":[false,true]}}}`, id))
		} else {
			records = append(records, fmt.Sprintf(`{"id":%q,"status":"PROCESSING"}`, id))
		}
	}

	fmt.Fprintf(w, "[%s]", strings.Join(records, ","))
}

// cliEnv is a config file, credentials file, and job database in a temp
// dir, pointed at a fake service.
type cliEnv struct {
	dir        string
	configPath string
	credPath   string
	service    *fakeService
	srv        *httptest.Server
}

func newCLIEnv(t *testing.T) *cliEnv {
	t.Helper()

	for _, key := range []string{config.EnvConfig, config.EnvAPIURL, config.EnvCredentials, config.EnvUsername, config.EnvPassword} {
		t.Setenv(key, "")
	}

	svc := newFakeService()
	srv := httptest.NewServer(svc)
	t.Cleanup(srv.Close)

	dir := t.TempDir()
	env := &cliEnv{
		dir:        dir,
		configPath: filepath.Join(dir, "config.toml"),
		credPath:   filepath.Join(dir, "credentials.json"),
		service:    svc,
		srv:        srv,
	}

	content := fmt.Sprintf(`
[api]
base_url = %q

[auth]
credentials_file = %q

[polling]
interval = "1s"

[upload]
rate_per_second = 0

[state]
db_path = %q

[logging]
log_level = "error"
log_format = "text"
`, srv.URL+"/api/v1/", env.credPath, filepath.Join(dir, "jobs.db"))

	require.NoError(t, os.WriteFile(env.configPath, []byte(content), 0o600))

	return env
}

// run executes the root command with args and returns what it wrote to
// stdout.
func (e *cliEnv) run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()

	cmd := newRootCmd()

	var out bytes.Buffer

	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(append([]string{"--config", e.configPath, "--quiet"}, args...))

	err := cmd.ExecuteContext(context.Background())

	return out.String(), err
}

func (e *cliEnv) login(t *testing.T) {
	t.Helper()

	_, err := e.run(t, "s3cret\n", "login", "alice")
	require.NoError(t, err)
}

func (e *cliEnv) writeCapture(t *testing.T, name string) string {
	t.Helper()

	path := filepath.Join(e.dir, name)
	require.NoError(t, os.WriteFile(path, []byte("pcap bytes"), 0o600))

	return path
}

func TestCLI_LoginStoresCredentials(t *testing.T) {
	env := newCLIEnv(t)
	env.login(t)

	pair, ok, err := credstore.LoadPair(credstore.NewFileStore(env.credPath))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, credstore.Pair{Access: "A1", Refresh: "R1"}, pair)
}

func TestCLI_LoginPromptsForUsername(t *testing.T) {
	env := newCLIEnv(t)

	_, err := env.run(t, "alice\ns3cret\n", "login")
	require.NoError(t, err)

	_, ok, err := credstore.LoadPair(credstore.NewFileStore(env.credPath))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCLI_LoginPasswordFromEnvironment(t *testing.T) {
	env := newCLIEnv(t)
	t.Setenv(config.EnvPassword, "s3cret")

	_, err := env.run(t, "", "login", "alice")
	require.NoError(t, err)
}

func TestCLI_LoginRejectedShowsServerDetail(t *testing.T) {
	env := newCLIEnv(t)

	_, err := env.run(t, "wrong\n", "login", "alice")
	require.Error(t, err)
	assert.Equal(t, "login failed: No active account found with the given credentials", err.Error())

	_, statErr := os.Stat(env.credPath)
	assert.ErrorIs(t, statErr, os.ErrNotExist)
}

func TestCLI_WhoamiBeforeLogin(t *testing.T) {
	env := newCLIEnv(t)

	_, err := env.run(t, "", "whoami")
	require.ErrorIs(t, err, errNotLoggedIn)
	assert.True(t, needsLogin(err))
}

func TestCLI_WhoamiAfterLogin(t *testing.T) {
	env := newCLIEnv(t)
	env.login(t)

	out, err := env.run(t, "", "--json", "whoami")
	require.NoError(t, err)

	var got whoamiOutput
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, "alice", got.Username)
	assert.Equal(t, env.srv.URL+"/api/v1/", got.APIURL)
}

func TestCLI_WhoamiRotatesExpiredAccess(t *testing.T) {
	env := newCLIEnv(t)
	env.login(t)

	// The server moves on to a new access credential; the stored one is
	// now stale but the refresh credential is still accepted.
	env.service.mu.Lock()
	env.service.access = "A-server-side"
	env.service.mu.Unlock()

	out, err := env.run(t, "", "whoami")
	require.NoError(t, err)
	assert.Contains(t, out, "alice")

	pair, _, err := credstore.LoadPair(credstore.NewFileStore(env.credPath))
	require.NoError(t, err)
	assert.Equal(t, credstore.Pair{Access: "A-server-side+", Refresh: "R1+"}, pair)
}

func TestCLI_RevokedSessionNeedsLogin(t *testing.T) {
	env := newCLIEnv(t)
	env.login(t)

	env.service.mu.Lock()
	env.service.access = "other"
	env.service.refresh = "other"
	env.service.mu.Unlock()

	_, err := env.run(t, "", "history")
	require.ErrorIs(t, err, api.ErrRefreshFailed)
	assert.True(t, needsLogin(err))
}

func TestCLI_Logout(t *testing.T) {
	env := newCLIEnv(t)
	env.login(t)

	_, err := env.run(t, "", "logout")
	require.NoError(t, err)

	_, ok, err := credstore.LoadPair(credstore.NewFileStore(env.credPath))
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = env.run(t, "", "history")
	require.ErrorIs(t, err, api.ErrNotAuthenticated)
}

func TestCLI_SubmitTracksJobs(t *testing.T) {
	env := newCLIEnv(t)
	env.login(t)

	a := env.writeCapture(t, "a.pcap")
	b := env.writeCapture(t, "b.pcap")

	out, err := env.run(t, "", "--json", "submit", a, b)
	require.NoError(t, err)

	var submitted []jobOutput
	require.NoError(t, json.Unmarshal([]byte(out), &submitted))
	require.Len(t, submitted, 2)
	assert.Equal(t, "created", submitted[0].Status)
	assert.ElementsMatch(t, []string{"a.pcap", "b.pcap"}, env.service.uploads)

	out, err = env.run(t, "", "--json", "jobs")
	require.NoError(t, err)

	var tracked []jobOutput
	require.NoError(t, json.Unmarshal([]byte(out), &tracked))
	require.Len(t, tracked, 2)
	assert.Equal(t, "a.pcap", tracked[0].Name)
	assert.Equal(t, "b.pcap", tracked[1].Name)
}

func TestCLI_SubmitReportsMissingFile(t *testing.T) {
	env := newCLIEnv(t)
	env.login(t)

	good := env.writeCapture(t, "good.pcap")

	out, err := env.run(t, "", "--json", "submit", good, filepath.Join(env.dir, "missing.pcap"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 2 files could not be submitted")

	var submitted []jobOutput
	require.NoError(t, json.Unmarshal([]byte(out), &submitted))
	assert.Len(t, submitted, 1)
}

func TestCLI_SubmitWaitUntilDone(t *testing.T) {
	if testing.Short() {
		t.Skip("polls on a one-second interval")
	}

	env := newCLIEnv(t)
	env.login(t)

	out, err := env.run(t, "", "--json", "submit", "--wait", env.writeCapture(t, "a.pcap"))
	require.NoError(t, err)

	var final []jobOutput
	require.NoError(t, json.Unmarshal([]byte(out), &final))
	require.Len(t, final, 1)
	assert.Equal(t, "done", final[0].Status)
	require.NotNil(t, final[0].Anomalies)
	assert.Equal(t, 1, *final[0].Anomalies)

	// The finished state was mirrored into the job database.
	out, err = env.run(t, "", "--json", "jobs")
	require.NoError(t, err)

	var tracked []jobOutput
	require.NoError(t, json.Unmarshal([]byte(out), &tracked))
	require.Len(t, tracked, 1)
	assert.Equal(t, "done", tracked[0].Status)
}

func TestCLI_WatchWithNothingTracked(t *testing.T) {
	env := newCLIEnv(t)

	out, err := env.run(t, "", "watch")
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestCLI_HistoryListsAllJobs(t *testing.T) {
	env := newCLIEnv(t)
	env.login(t)

	_, err := env.run(t, "", "submit", env.writeCapture(t, "a.pcap"))
	require.NoError(t, err)

	out, err := env.run(t, "", "history")
	require.NoError(t, err)
	assert.Contains(t, out, "processing")
	assert.Contains(t, out, "00000000-0000-4000-8000-000000000001")
}

func TestCLI_Untrack(t *testing.T) {
	env := newCLIEnv(t)
	env.login(t)

	_, err := env.run(t, "", "submit", env.writeCapture(t, "a.pcap"))
	require.NoError(t, err)

	_, err = env.run(t, "", "untrack")
	require.Error(t, err)

	_, err = env.run(t, "", "untrack", "00000000-0000-4000-8000-000000000001")
	require.NoError(t, err)

	out, err := env.run(t, "", "jobs")
	require.NoError(t, err)
	assert.Contains(t, out, "No jobs.")
}

func TestCLI_Tokens(t *testing.T) {
	env := newCLIEnv(t)
	env.login(t)

	out, err := env.run(t, "", "tokens", "list")
	require.NoError(t, err)
	assert.Contains(t, out, testToken)
	assert.Contains(t, out, "valid")

	out, err = env.run(t, "", "tokens", "create", "--expires-at", "2099-06-01T00:00:00Z")
	require.NoError(t, err)
	assert.Equal(t, "tok-new\n", out)

	_, err = env.run(t, "", "tokens", "create", "--expires-at", "2001-01-01T00:00:00Z")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "in the past")
}

func TestCLI_EphemeralLogsInFromEnvironment(t *testing.T) {
	env := newCLIEnv(t)

	_, err := env.run(t, "", "--ephemeral", "whoami")
	require.Error(t, err)
	assert.Contains(t, err.Error(), config.EnvUsername)

	t.Setenv(config.EnvUsername, "alice")
	t.Setenv(config.EnvPassword, "s3cret")

	out, err := env.run(t, "", "--ephemeral", "whoami")
	require.NoError(t, err)
	assert.Contains(t, out, "alice")

	// Nothing was written to disk.
	_, statErr := os.Stat(env.credPath)
	assert.ErrorIs(t, statErr, os.ErrNotExist)
}

func TestCLI_ConfigShow(t *testing.T) {
	env := newCLIEnv(t)

	out, err := env.run(t, "", "--json", "config", "show")
	require.NoError(t, err)

	var got configShowOutput
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, env.configPath, got.ConfigPath)
	assert.Equal(t, "1s", got.PollInterval)
	assert.Equal(t, env.credPath, got.CredentialsFile)

	out, err = env.run(t, "", "--api-url", "https://override.example.com/", "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, `"https://override.example.com/"`)
}

func TestCLI_ConfigInit(t *testing.T) {
	env := newCLIEnv(t)
	path := filepath.Join(env.dir, "fresh", "config.toml")

	cmd := newRootCmd()
	cmd.SetOut(io.Discard)
	cmd.SetArgs([]string{"--config", path, "--quiet", "config", "init"})
	require.NoError(t, cmd.Execute())

	_, err := config.Load(path)
	require.NoError(t, err)

	// A second init refuses to overwrite.
	cmd = newRootCmd()
	cmd.SetArgs([]string{"--config", path, "--quiet", "config", "init"})
	require.ErrorIs(t, cmd.Execute(), config.ErrConfigExists)
}

func TestCLI_InvalidConfigIsReported(t *testing.T) {
	env := newCLIEnv(t)
	require.NoError(t, os.WriteFile(env.configPath, []byte("[upload]\nparalel = 2\n"), 0o600))

	_, err := env.run(t, "", "jobs")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `did you mean "parallel"?`)
}
