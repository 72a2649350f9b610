package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("STOREFRONT_DATABASE_URL", "postgres://localhost/storefront")

	cfg, err := loadConfig(true)
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:8080", cfg.Addr)
	assert.Equal(t, StoragePostgres, cfg.Storage)
	assert.Equal(t, "postgres://localhost/storefront", cfg.Database.URL)
	assert.Equal(t, 3, cfg.Database.TxRetries)
	assert.Equal(t, 100, cfg.RateLimit.Max)
	assert.Equal(t, time.Minute, cfg.RateLimit.Window)
	assert.Equal(t, []string{"*"}, cfg.CORS.Origins)
}

func TestLoadConfig_PlatformDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://platform/db")
	t.Setenv("PORT", "9000")

	cfg, err := loadConfig(true)
	require.NoError(t, err)
	assert.Equal(t, "postgres://platform/db", cfg.Database.URL)
	assert.Equal(t, "0.0.0.0:9000", cfg.Addr)
}

func TestConfig_FromPlatform(t *testing.T) {
	env := map[string]string{"DATABASE_URL": "postgres://platform/db", "PORT": "9000"}

	cfg := Config{Addr: "127.0.0.1:7000", Database: DatabaseConfig{URL: "postgres://explicit/db"}}
	cfg.fromPlatform(func(k string) string { return env[k] })
	assert.Equal(t, "postgres://explicit/db", cfg.Database.URL, "explicit url wins")
	assert.Equal(t, "127.0.0.1:7000", cfg.Addr, "explicit addr wins")
}

func TestConfigValidate(t *testing.T) {
	for _, tt := range []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{"postgres without url", Config{Storage: "postgres"}, "database URL is required"},
		{"postgres with url", Config{Storage: "Postgres", Database: DatabaseConfig{URL: "postgres://x"}}, ""},
		{"memory", Config{Storage: " memory "}, ""},
		{"unknown storage", Config{Storage: "sqlite"}, `unknown storage "sqlite"`},
		{"negative retries", Config{Storage: "memory", Database: DatabaseConfig{TxRetries: -1}}, "tx retries cannot be negative"},
		{"rate limit without window", Config{Storage: "memory", RateLimit: RateLimitConfig{Max: 10}}, "rate limit window must be positive"},
	} {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
