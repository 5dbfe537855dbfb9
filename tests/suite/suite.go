package suite

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"devicegate/config"
	"devicegate/internal/app"
	"devicegate/internal/lib/jwt"

	"github.com/stretchr/testify/require"
)

const authSecret = "test-secret"

type Suite struct {
	T      *testing.T
	Cfg    *config.Config
	Server *httptest.Server
	Client *http.Client
}

// New boots the whole application against a fresh sqlite database and serves
// it from an in-process test server.
func New(t *testing.T) *Suite {
	t.Helper()

	storagePath := filepath.Join(t.TempDir(), "devicegate_test.db")

	storageApp, err := app.NewStorageApp(storagePath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = storageApp.Stop() })

	applyMigrations(t, storageApp)

	cfg := &config.Config{
		Env:               "local",
		StoragePath:       storagePath,
		MaxDevices:        3,
		HeartbeatInterval: 30 * time.Second,
		HTTP: config.HTTPConfig{
			Port:    0,
			Timeout: 5 * time.Second,
		},
		Auth: config.AuthConfig{Secret: authSecret},
	}

	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	application := app.New(log, cfg, storageApp)

	server := httptest.NewServer(application.HTTPServer.Handler())
	t.Cleanup(server.Close)

	return &Suite{
		T:      t,
		Cfg:    cfg,
		Server: server,
		Client: server.Client(),
	}
}

func applyMigrations(t *testing.T, storageApp *app.StorageApp) {
	t.Helper()

	up, err := os.ReadFile(filepath.Join("..", "migrations", "000001_init.up.sql"))
	require.NoError(t, err)

	_, err = storageApp.Storage().DB().Exec(string(up))
	require.NoError(t, err)
}

// Token mints an identity token the way the external identity provider would.
func (s *Suite) Token(accountID, email string) string {
	s.T.Helper()

	token, err := jwt.NewToken(accountID, email, authSecret, time.Hour)
	require.NoError(s.T, err)

	return token
}

// PostJSON sends an authenticated POST and decodes the JSON response body.
func (s *Suite) PostJSON(path, token string, body any) (int, map[string]any) {
	s.T.Helper()

	payload, err := json.Marshal(body)
	require.NoError(s.T, err)

	req, err := http.NewRequest(http.MethodPost, s.Server.URL+path, bytes.NewReader(payload))
	require.NoError(s.T, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	return s.do(req)
}

// GetJSON sends an authenticated GET and decodes the JSON response body.
func (s *Suite) GetJSON(path, token string) (int, map[string]any) {
	s.T.Helper()

	req, err := http.NewRequest(http.MethodGet, s.Server.URL+path, nil)
	require.NoError(s.T, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	return s.do(req)
}

func (s *Suite) do(req *http.Request) (int, map[string]any) {
	s.T.Helper()

	resp, err := s.Client.Do(req)
	require.NoError(s.T, err)
	defer resp.Body.Close()

	var decoded map[string]any
	require.NoError(s.T, json.NewDecoder(resp.Body).Decode(&decoded))

	return resp.StatusCode, decoded
}
