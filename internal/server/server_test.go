package server

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/smarthatch/authserver/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func memoryConfig() config.Config {
	return config.Config{
		StoreBackend: config.StoreBackendMemory,
		CORSOrigins:  []string{"http://localhost:5173"},
		Auth: config.AuthConfig{
			AccessTokenSecret:  "access-secret",
			RefreshTokenSecret: "refresh-secret",
			AccessTokenTTL:     time.Minute,
			RefreshTokenTTL:    time.Hour,
			BcryptCost:         4,
		},
		Log: config.LogConfig{Level: "error", Format: "json"},
		MQ:  config.MQConfig{Backend: config.MQBackendMemory},
	}
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv, err := New(context.Background(), memoryConfig())
	require.NoError(t, err)
	t.Cleanup(srv.close)

	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts
}

func post(t *testing.T, ts *httptest.Server, path, body string) *http.Response {
	t.Helper()
	resp, err := ts.Client().Post(ts.URL+path, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	cfg := memoryConfig()
	cfg.Auth.RefreshTokenSecret = ""
	_, err := New(context.Background(), cfg)
	assert.Error(t, err)
}

func TestServer_RoutesMountedTwice(t *testing.T) {
	ts := newTestServer(t)

	resp := post(t, ts, "/register", `{"email":"alice@example.com","password":"pw123"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = post(t, ts, "/api/auth/login", `{"email":"alice@example.com","password":"pw123"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = post(t, ts, "/login", `{"email":"alice@example.com","password":"pw123"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServer_Metrics(t *testing.T) {
	ts := newTestServer(t)

	post(t, ts, "/api/auth/register", `{"email":"alice@example.com","password":"pw123"}`)
	post(t, ts, "/api/auth/login", `{"email":"alice@example.com","password":"nope"}`)

	resp, err := ts.Client().Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	body := string(data)
	assert.Contains(t, body, `smarthatch_auth_registrations_total{result="success"} 1`)
	assert.Contains(t, body, `smarthatch_auth_logins_total{result="invalid_credentials"} 1`)
	assert.Contains(t, body, `route="/api/auth/register"`)
}

func TestServer_CORSPreflight(t *testing.T) {
	ts := newTestServer(t)

	req, err := http.NewRequest(http.MethodOptions, ts.URL+"/api/auth/login", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", "content-type")

	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "http://localhost:5173", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", resp.Header.Get("Access-Control-Allow-Credentials"))
}

func TestServer_AvatarRequiresAuth(t *testing.T) {
	ts := newTestServer(t)

	resp := post(t, ts, "/api/auth/register", `{"email":"alice@example.com","password":"pw123"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/api/auth/me/avatar", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer not-a-token")
	res, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer res.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
}
