package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"devauth/internal/cli"
	"devauth/internal/config"
	"devauth/internal/grant"
	"devauth/internal/server"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/require"
)

const (
	testClientID     = "devauth-cli"
	testAliceSession = "sess-alice"
)

// executeCommand runs the root command with args and returns everything it
// printed.
func executeCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	resetFlags(rootCmd)

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetIn(strings.NewReader(""))
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetIn(nil)
		rootCmd.SetArgs(nil)
	})

	err := rootCmd.Execute()
	return out.String(), err
}

// resetFlags restores every flag of c and its children to its default, since
// flag values live in package variables shared between tests.
func resetFlags(c *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	c.Flags().VisitAll(reset)
	c.PersistentFlags().VisitAll(reset)
	for _, sub := range c.Commands() {
		resetFlags(sub)
	}
}

// writeClientConfig writes a config.yaml pointing the client at serverURL and
// returns the config directory.
func writeClientConfig(t *testing.T, serverURL, sessionToken string) string {
	t.Helper()
	t.Setenv(config.EnvServerURL, "")
	t.Setenv(config.EnvClientID, "")

	dir := t.TempDir()
	content := "client:\n" +
		"  serverURL: " + serverURL + "\n" +
		"  clientID: " + testClientID + "\n" +
		"  openBrowser: false\n"
	if sessionToken != "" {
		content += "  sessionToken: " + sessionToken + "\n"
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(content), 0o600))
	return dir
}

func credentialsFile(configDir string) string {
	return filepath.Join(configDir, config.DefaultCredentialsFileName)
}

// instantClock never waits.
type instantClock struct{}

func (instantClock) Now() time.Time { return time.Now() }

func (instantClock) Sleep(ctx context.Context, d time.Duration) error {
	return ctx.Err()
}

func useInstantPolling(t *testing.T) {
	t.Helper()
	previous := pollerClock
	pollerClock = instantClock{}
	t.Cleanup(func() { pollerClock = previous })
}

// fakePrompter answers prompts from a script.
type fakePrompter struct {
	confirm bool
	lines   []string
	err     error
	asked   []string
}

func (p *fakePrompter) Confirm(question string) (bool, error) {
	p.asked = append(p.asked, question)
	return p.confirm, p.err
}

func (p *fakePrompter) ReadLine(prompt string) (string, error) {
	p.asked = append(p.asked, prompt)
	if p.err != nil {
		return "", p.err
	}
	if len(p.lines) == 0 {
		return "", cli.ErrPromptAborted
	}
	line := p.lines[0]
	p.lines = p.lines[1:]
	return line, nil
}

func usePrompter(t *testing.T, p cli.Prompter) {
	t.Helper()
	previous := newPrompter
	newPrompter = func(*cobra.Command) cli.Prompter { return p }
	t.Cleanup(func() { newPrompter = previous })
}

// scriptedAuthServer answers the device endpoints from a script: the first
// pendingPolls token requests get authorization_pending, then outcome is
// returned. An outcome of "" issues a token.
type scriptedAuthServer struct {
	mu           sync.Mutex
	pendingPolls int
	outcome      string
	polls        int
	scopes       []string
}

func newScriptedAuthServer(t *testing.T, pendingPolls int, outcome string) (*scriptedAuthServer, *httptest.Server) {
	t.Helper()
	s := &scriptedAuthServer{pendingPolls: pendingPolls, outcome: outcome}
	ts := httptest.NewServer(s)
	t.Cleanup(ts.Close)
	return s, ts
}

func (s *scriptedAuthServer) Polls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.polls
}

func (s *scriptedAuthServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", "application/json")

	s.mu.Lock()
	defer s.mu.Unlock()

	switch r.URL.Path {
	case "/device/code":
		s.scopes = append(s.scopes, r.PostForm.Get("scope"))
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"device_code":               "dc-123",
			"user_code":                 "WDJB-MJHT",
			"verification_uri":          "https://auth.example.com/device",
			"verification_uri_complete": "https://auth.example.com/device?user_code=WDJB-MJHT",
			"expires_in":                600,
			"interval":                  1,
		})
	case "/device/token":
		if r.PostForm.Get("device_code") != "dc-123" {
			w.WriteHeader(http.StatusBadRequest)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "invalid_grant"})
			return
		}
		s.polls++
		if s.polls <= s.pendingPolls {
			w.WriteHeader(http.StatusBadRequest)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "authorization_pending"})
			return
		}
		if s.outcome != "" {
			w.WriteHeader(http.StatusBadRequest)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": s.outcome})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token": "tok_abc",
			"token_type":   "Bearer",
			"scope":        "openid profile email",
			"expires_in":   3600,
		})
	default:
		http.NotFound(w, r)
	}
}

// authServerEnv is a real authorization server backed by a memory store.
type authServerEnv struct {
	server *server.Server
	http   *httptest.Server
	store  grant.Store
}

func newAuthServerEnv(t *testing.T) *authServerEnv {
	t.Helper()
	store := grant.NewMemoryStore(time.Hour)
	srv, err := server.New(config.ServerConfig{
		Listen:         "127.0.0.1:0",
		PublicURL:      "http://localhost:8080",
		DeviceCodeTTL:  30 * time.Minute,
		PollInterval:   5 * time.Second,
		AccessTokenTTL: time.Hour,
		SigningKey:     "0123456789abcdef0123456789abcdef",
		Clients:        []config.ClientRegistration{{ID: testClientID}},
		Users: []config.User{
			{ID: "alice", Name: "Alice", Email: "alice@example.com", SessionToken: testAliceSession},
		},
	}, store)
	require.NoError(t, err)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		_ = store.Close()
	})
	return &authServerEnv{server: srv, http: ts, store: store}
}

// startGrant requests a device code and returns the user code as displayed.
func (e *authServerEnv) startGrant(t *testing.T) string {
	t.Helper()
	resp, err := http.PostForm(e.http.URL+"/device/code", map[string][]string{
		"client_id": {testClientID},
		"scope":     {"openid"},
	})
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		UserCode string `json:"user_code"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body.UserCode
}
