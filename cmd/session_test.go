package cmd

import (
	"bytes"
	"context"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/smarthatch/authserver/internal/client"
	"github.com/smarthatch/authserver/internal/handlers"
	"github.com/smarthatch/authserver/internal/password"
	"github.com/smarthatch/authserver/internal/services"
	"github.com/smarthatch/authserver/internal/store"
	"github.com/smarthatch/authserver/internal/token"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func runSession(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(append([]string{"session"}, args...))
	require.NoError(t, rootCmd.ExecuteContext(context.Background()), out.String())
	return out.String()
}

func TestSessionCommands(t *testing.T) {
	issuer, err := token.NewIssuer(token.Config{
		AccessSecret:  "access-secret",
		RefreshSecret: "refresh-secret",
		AccessTTL:     time.Minute,
		RefreshTTL:    time.Hour,
	})
	require.NoError(t, err)
	users := services.NewUserService(store.NewMemoryUserRepository(), password.New(bcrypt.MinCost), issuer)
	router := chi.NewRouter()
	handlers.AuthRouter(router, handlers.NewAuthHandler(users, issuer, nil))
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	prev := readPassword
	readPassword = func(int) ([]byte, error) { return []byte("pw123"), nil }
	t.Cleanup(func() { readPassword = prev })

	tokenFile := filepath.Join(t.TempDir(), "session.json")
	common := []string{"--server", srv.URL, "--token-file", tokenFile}

	out := runSession(t, append([]string{"register", "--email", "alice@example.com", "--name", "Alice"}, common...)...)
	assert.Contains(t, out, "Registered alice@example.com")

	out = runSession(t, append([]string{"login", "--email", "alice@example.com"}, common...)...)
	assert.Contains(t, out, "Logged in as alice@example.com")

	tokens, err := client.NewFileTokenStore(tokenFile).Load(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, tokens.RefreshToken)

	out = runSession(t, append([]string{"refresh"}, common...)...)
	assert.Contains(t, out, "Tokens refreshed")

	out = runSession(t, append([]string{"whoami"}, common...)...)
	assert.Contains(t, out, `"name": "Alice"`)

	out = runSession(t, append([]string{"logout"}, common...)...)
	assert.Contains(t, out, "Logged out")

	tokens, err = client.NewFileTokenStore(tokenFile).Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, client.Tokens{}, tokens)
}
