package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"devauth/internal/config"
	"devauth/internal/grant"

	"github.com/stretchr/testify/require"
)

const (
	testClientID     = "devauth-cli"
	testAliceSession = "sess-alice"
	testBobSession   = "sess-bob"
)

// testClock is a settable clock shared by the server under test and, in the
// end-to-end tests, the polling client.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Now().UTC()}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// Sleep advances the clock instead of waiting.
func (c *testClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.Advance(d)
	return nil
}

func testServerConfig() config.ServerConfig {
	return config.ServerConfig{
		Listen:         "127.0.0.1:0",
		PublicURL:      "http://localhost:8080",
		DeviceCodeTTL:  30 * time.Minute,
		PollInterval:   5 * time.Second,
		AccessTokenTTL: time.Hour,
		SigningKey:     "0123456789abcdef0123456789abcdef",
		Clients: []config.ClientRegistration{
			{ID: testClientID, Scopes: []string{"openid", "profile", "email"}},
			{ID: "other-client"},
		},
		Users: []config.User{
			{ID: "alice", Name: "Alice", Email: "alice@example.com", SessionToken: testAliceSession},
			{ID: "bob", Name: "Bob", SessionToken: testBobSession},
		},
	}
}

type testEnv struct {
	server *Server
	http   *httptest.Server
	clock  *testClock
	store  grant.Store
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	clock := newTestClock()
	store := grant.NewMemoryStore(time.Hour)
	srv, err := New(testServerConfig(), store, WithClock(clock.Now))
	require.NoError(t, err)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		_ = store.Close()
	})
	return &testEnv{server: srv, http: ts, clock: clock, store: store}
}

func (e *testEnv) postForm(t *testing.T, path string, form url.Values) (int, map[string]interface{}) {
	t.Helper()
	resp, err := http.PostForm(e.http.URL+path, form)
	require.NoError(t, err)
	defer resp.Body.Close()
	return resp.StatusCode, decodeBody(t, resp.Body)
}

func (e *testEnv) requestCode(t *testing.T) (deviceCode, userCode string) {
	t.Helper()
	status, body := e.postForm(t, "/device/code", url.Values{
		"client_id": {testClientID},
		"scope":     {"openid profile"},
	})
	require.Equal(t, http.StatusOK, status, "body: %v", body)
	return body["device_code"].(string), body["user_code"].(string)
}

func (e *testEnv) poll(t *testing.T, deviceCode string) (int, map[string]interface{}) {
	t.Helper()
	return e.postForm(t, "/device/token", url.Values{
		"grant_type":  {GrantTypeDeviceCode},
		"device_code": {deviceCode},
		"client_id":   {testClientID},
	})
}

func (e *testEnv) decide(t *testing.T, action, session, userCode string) (int, map[string]interface{}) {
	t.Helper()
	payload, err := json.Marshal(map[string]string{"user_code": userCode})
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPost, e.http.URL+"/device/"+action, bytes.NewReader(payload))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if session != "" {
		req.Header.Set("Authorization", "Bearer "+session)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	return resp.StatusCode, decodeBody(t, resp.Body)
}

func decodeBody(t *testing.T, r io.Reader) map[string]interface{} {
	t.Helper()
	raw, err := io.ReadAll(r)
	require.NoError(t, err)
	body := map[string]interface{}{}
	if len(bytes.TrimSpace(raw)) > 0 && strings.HasPrefix(strings.TrimSpace(string(raw)), "{") {
		require.NoError(t, json.Unmarshal(raw, &body))
	}
	return body
}
