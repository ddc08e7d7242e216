package core

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigValidate(t *testing.T) {
	mongo := func(mut func(*Config)) Config {
		c := DefaultConfig()
		c.Backend = BackendMongo
		c.Endpoint = "mongodb://localhost:27017"
		c.User = "root"
		c.Password = "secret"
		if mut != nil {
			mut(&c)
		}
		return c
	}
	sqlite := func(mut func(*Config)) Config {
		c := DefaultConfig()
		c.Endpoint = "fp.db"
		if mut != nil {
			mut(&c)
		}
		return c
	}

	tests := []struct {
		name    string
		config  Config
		wantKey string
	}{
		{"sqlite ok", sqlite(nil), ""},
		{"sqlite without credentials ok", sqlite(func(c *Config) { c.User, c.Password = "", "" }), ""},
		{"sqlite blank path", sqlite(func(c *Config) { c.Endpoint = "   " }), EnvEndpoint},
		{"mongo ok", mongo(nil), ""},
		{"mongo missing endpoint", mongo(func(c *Config) { c.Endpoint = "" }), EnvEndpoint},
		{"mongo blank user", mongo(func(c *Config) { c.User = " " }), EnvUser},
		{"mongo missing password", mongo(func(c *Config) { c.Password = "" }), EnvPassword},
		{"mongo missing database", mongo(func(c *Config) { c.Database = "" }), EnvDatabase},
		{"unknown backend", sqlite(func(c *Config) { c.Backend = "redis" }), EnvBackend},
		{"zero pool", sqlite(func(c *Config) { c.Pool.MaxOpen = 0 }), EnvPoolMax},
		{"min idle above max", sqlite(func(c *Config) { c.Pool.MinIdle = 11 }), EnvPoolMinIdle},
		{"zero timeout", sqlite(func(c *Config) { c.Pool.AcquireTimeout = 0 }), EnvPoolTimeout},
		{"negative flush rate", sqlite(func(c *Config) { c.FlushRateLimit = -1 }), EnvFlushRate},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantKey == "" {
				assert.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, ErrInvalidConfig)
			var ce *ConfigError
			require.ErrorAs(t, err, &ce)
			assert.Equal(t, tt.wantKey, ce.Key)
		})
	}
}

func TestConstructionFailsBeforeIO(t *testing.T) {
	cfg := DefaultConfig()
	_, err := OpenSQLite(context.Background(), cfg)
	require.ErrorIs(t, err, ErrInvalidConfig)
	assert.False(t, IsStorageFailure(err))
}

func TestLoadConfig(t *testing.T) {
	for _, k := range []string{EnvBackend, EnvEndpoint, EnvUser, EnvPassword, EnvDatabase, EnvPoolMax, EnvPoolMinIdle, EnvPoolTimeout, EnvFlushRate} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}

	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envFile, []byte(
		"SQPRINT_BACKEND=Mongo\n"+
			"SQPRINT_ENDPOINT=mongodb://db:27017\n"+
			"SQPRINT_USER=fromfile\n"+
			"SQPRINT_PASSWORD=pw\n"+
			"SQPRINT_POOL_MAX=4\n"+
			"SQPRINT_POOL_TIMEOUT=2s\n"+
			"SQPRINT_FLUSH_RATE=12.5\n"), 0o600))

	// process environment wins over the file
	t.Setenv(EnvUser, "fromenv")

	cfg, err := LoadConfig(filepath.Join(dir, "missing.env"), envFile)
	require.NoError(t, err)
	assert.Equal(t, BackendMongo, cfg.Backend)
	assert.Equal(t, "mongodb://db:27017", cfg.Endpoint)
	assert.Equal(t, "fromenv", cfg.User)
	assert.Equal(t, "pw", cfg.Password)
	assert.Equal(t, "sqprint", cfg.Database)
	assert.Equal(t, 4, cfg.Pool.MaxOpen)
	assert.Equal(t, 2, cfg.Pool.MinIdle)
	assert.Equal(t, 2*time.Second, cfg.Pool.AcquireTimeout)
	assert.InDelta(t, 12.5, cfg.FlushRateLimit, 1e-9)
	assert.NoError(t, cfg.Validate())
}

func TestLoadConfigMalformed(t *testing.T) {
	t.Setenv(EnvPoolMax, "ten")
	_, err := LoadConfig()
	var ce *ConfigError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, EnvPoolMax, ce.Key)

	t.Setenv(EnvPoolMax, "")
	t.Setenv(EnvPoolTimeout, "soon")
	_, err = LoadConfig()
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
