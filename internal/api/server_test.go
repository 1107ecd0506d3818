package api

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/havenworlds/haven-server/internal/config"
	"github.com/havenworlds/haven-server/internal/engine"
	"github.com/havenworlds/haven-server/internal/events"
	"github.com/havenworlds/haven-server/internal/persistence"
)

func testServerConfig() config.Config {
	return config.Config{
		SessionSecret:  "test-secret",
		TickHz:         1,
		DisasterTickHz: 6,
		BatchInterval:  time.Second,
		MetadataTTL:    5 * time.Minute,
		Env:            "test",
	}
}

// testAPI is a full server over an in-memory store behind httptest.
type testAPI struct {
	srv  *Server
	http *httptest.Server
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	return newTestAPIWithConfig(t, testServerConfig())
}

func newTestAPIWithConfig(t *testing.T, cfg config.Config) *testAPI {
	t.Helper()
	store, err := persistence.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	hub := events.NewHub()
	eng := engine.New(store, hub, cfg)
	srv := NewServer(eng, store, hub, cfg)

	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return &testAPI{srv: srv, http: ts}
}

// jsonBody marshals a value into a request body reader.
func jsonBody(t *testing.T, v any) io.Reader {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	return bytes.NewReader(raw)
}

// do issues a JSON request and decodes the JSON response body.
func (a *testAPI) do(t *testing.T, method, path, token string, body any) (int, map[string]any) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, a.http.URL+path, reader)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := a.http.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var decoded map[string]any
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) > 0 && raw[0] == '{' {
		require.NoError(t, json.Unmarshal(raw, &decoded))
	}
	return resp.StatusCode, decoded
}

// register creates an account and returns its session token.
func (a *testAPI) register(t *testing.T, email, username string) string {
	t.Helper()
	status, body := a.do(t, http.MethodPost, "/auth/register", "", map[string]any{
		"email":    email,
		"password": "hunter22",
		"username": username,
	})
	require.Equal(t, http.StatusOK, status)
	token, _ := body["token"].(string)
	require.NotEmpty(t, token)
	return token
}

// admin registers an account, elevates it through the test route, and logs in
// again so the fresh token carries the administrator role.
func (a *testAPI) admin(t *testing.T, email, username string) string {
	t.Helper()
	a.register(t, email, username)

	status, _ := a.do(t, http.MethodPut, "/test/elevate-admin/"+email, "", nil)
	require.Equal(t, http.StatusOK, status)

	status, body := a.do(t, http.MethodPost, "/auth/login", "", map[string]any{
		"email":    email,
		"password": "hunter22",
	})
	require.Equal(t, http.StatusOK, status)
	token, _ := body["token"].(string)
	require.NotEmpty(t, token)
	return token
}
