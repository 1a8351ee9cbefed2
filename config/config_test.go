package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "./bookstore.db", cfg.Database.Path)
	assert.Equal(t, 5*time.Second, cfg.Store.LockTimeout)
	assert.Equal(t, 24*time.Hour, cfg.Auth.TokenTTL)
	assert.Equal(t, 4, cfg.OTP.Length)
	assert.Equal(t, 5*time.Minute, cfg.OTP.TTL)
	assert.Equal(t, time.Minute, cfg.OTP.SweepInterval)
	assert.False(t, cfg.OTP.Expose)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoad_FileAndEnvironment(t *testing.T) {
	// GIVEN: A YAML file and an environment override
	path := filepath.Join(t.TempDir(), "bookstore.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 9000
database:
  driver: memory
otp:
  ttl: 2m
  expose: true
auth:
  secret: from-file
`), 0o600))
	t.Setenv("BOOKSTORE_SERVER_PORT", "9090")
	t.Setenv("BOOKSTORE_AUTH_SECRET", "from-env")

	// WHEN: Loading
	cfg, err := Load(path)

	// THEN: Environment wins over the file, the file wins over defaults
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "from-env", cfg.Auth.Secret)
	assert.Equal(t, "memory", cfg.Database.Driver)
	assert.Equal(t, 2*time.Minute, cfg.OTP.TTL)
	assert.True(t, cfg.OTP.Expose)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg, err := Load("")
		require.NoError(t, err)
		cfg.Auth.Secret = "s3cret"
		return cfg
	}
	require.NoError(t, valid().Validate())

	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"unknown driver", func(c *Config) { c.Database.Driver = "postgres" }},
		{"port out of range", func(c *Config) { c.Server.Port = 70000 }},
		{"otp too short", func(c *Config) { c.OTP.Length = 3 }},
		{"otp too long", func(c *Config) { c.OTP.Length = 11 }},
		{"no lock timeout", func(c *Config) { c.Store.LockTimeout = 0 }},
		{"no secret", func(c *Config) { c.Auth.Secret = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	// Dev mode may run without a secret.
	cfg := valid()
	cfg.Auth.Secret = ""
	cfg.Server.DevMode = true
	assert.NoError(t, cfg.Validate())
}
