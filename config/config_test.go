package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "shared")

	cfg := LoadConfig()

	assert.Equal(t, 8080, cfg.ServerPort)
	assert.Equal(t, StoreBackendPostgres, cfg.StoreBackend)
	assert.Equal(t, "shared", cfg.Auth.AccessTokenSecret)
	assert.Equal(t, "shared", cfg.Auth.RefreshTokenSecret)
	assert.Equal(t, 15*time.Minute, cfg.Auth.AccessTokenTTL)
	assert.Equal(t, 7*24*time.Hour, cfg.Auth.RefreshTokenTTL)
	assert.Equal(t, "auth-events", cfg.MQ.EventsChannel)
	require.NoError(t, cfg.Validate())
}

func TestLoadConfig_Overrides(t *testing.T) {
	t.Setenv("ACCESS_TOKEN_SECRET", "access")
	t.Setenv("REFRESH_TOKEN_SECRET", "refresh")
	t.Setenv("ACCESS_TOKEN_TTL", "5m")
	t.Setenv("REFRESH_TOKEN_TTL", "72h")
	t.Setenv("STORE_BACKEND", "Memory")
	t.Setenv("DB_USE_SSL", "true")
	t.Setenv("CORS_ORIGINS", "http://a.example/, http://b.example ,")
	t.Setenv("SERVER_PORT", "9090")

	cfg := LoadConfig()

	assert.Equal(t, "access", cfg.Auth.AccessTokenSecret)
	assert.Equal(t, "refresh", cfg.Auth.RefreshTokenSecret)
	assert.Equal(t, 5*time.Minute, cfg.Auth.AccessTokenTTL)
	assert.Equal(t, 72*time.Hour, cfg.Auth.RefreshTokenTTL)
	assert.Equal(t, StoreBackendMemory, cfg.StoreBackend)
	assert.True(t, cfg.Database.UseSSL)
	assert.Equal(t, []string{"http://a.example", "http://b.example"}, cfg.CORSOrigins)
	assert.Equal(t, 9090, cfg.ServerPort)
	require.NoError(t, cfg.Validate())
}

func TestValidate_MissingSecrets(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	t.Setenv("ACCESS_TOKEN_SECRET", "")
	t.Setenv("REFRESH_TOKEN_SECRET", "")

	cfg := LoadConfig()
	require.Error(t, cfg.Validate())

	cfg.Auth.AccessTokenSecret = "a"
	require.Error(t, cfg.Validate())

	cfg.Auth.RefreshTokenSecret = "r"
	require.NoError(t, cfg.Validate())
}

func TestValidate_UnknownBackends(t *testing.T) {
	cfg := Config{
		StoreBackend: StoreBackendMemory,
		Auth: AuthConfig{
			AccessTokenSecret:  "a",
			RefreshTokenSecret: "r",
			AccessTokenTTL:     time.Minute,
			RefreshTokenTTL:    time.Hour,
		},
	}
	require.NoError(t, cfg.Validate())

	bad := cfg
	bad.StoreBackend = "redis"
	assert.Error(t, bad.Validate())

	bad = cfg
	bad.Storage.Backend = "s3"
	assert.Error(t, bad.Validate())

	bad = cfg
	bad.MQ.Backend = "kafka"
	assert.Error(t, bad.Validate())

	bad = cfg
	bad.Auth.AccessTokenTTL = 0
	assert.Error(t, bad.Validate())
}
