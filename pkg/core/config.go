package core

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// BackendKind selects the persistent store implementation
type BackendKind string

const (
	BackendSQLite BackendKind = "sqlite"
	BackendMongo  BackendKind = "mongo"
)

// Environment variables read by LoadConfig
const (
	EnvBackend     = "SQPRINT_BACKEND"
	EnvEndpoint    = "SQPRINT_ENDPOINT"
	EnvUser        = "SQPRINT_USER"
	EnvPassword    = "SQPRINT_PASSWORD"
	EnvDatabase    = "SQPRINT_DATABASE"
	EnvPoolMax     = "SQPRINT_POOL_MAX"
	EnvPoolMinIdle = "SQPRINT_POOL_MIN_IDLE"
	EnvPoolTimeout = "SQPRINT_POOL_TIMEOUT"
	EnvFlushRate   = "SQPRINT_FLUSH_RATE"
)

// PoolConfig bounds the backend connection pool
type PoolConfig struct {
	MaxOpen        int           `json:"maxOpen"`        // Maximum concurrent connections (default: 10)
	MinIdle        int           `json:"minIdle"`        // Idle connections kept warm (default: 2)
	AcquireTimeout time.Duration `json:"acquireTimeout"` // How long a checkout may block (default: 30s)
	IdleTimeout    time.Duration `json:"idleTimeout"`    // default: 10m
	MaxLifetime    time.Duration `json:"maxLifetime"`    // default: 30m
}

// DefaultPoolConfig returns default pool configuration
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxOpen:        10,
		MinIdle:        2,
		AcquireTimeout: 30 * time.Second,
		IdleTimeout:    10 * time.Minute,
		MaxLifetime:    30 * time.Minute,
	}
}

// Config represents configuration options for the engine and its backend
type Config struct {
	Backend        BackendKind `json:"backend"`
	Endpoint       string      `json:"endpoint"` // SQLite file path or MongoDB URI
	User           string      `json:"user,omitempty"`
	Password       string      `json:"-"`
	Database       string      `json:"database,omitempty"` // MongoDB database name
	Pool           PoolConfig  `json:"pool"`
	FlushRateLimit float64     `json:"flushRateLimit,omitempty"` // Flush transactions per second, 0 = unlimited
	Logger         Logger      `json:"-"`
}

// DefaultConfig returns a default configuration
func DefaultConfig() Config {
	return Config{
		Backend:  BackendSQLite,
		Database: "sqprint",
		Pool:     DefaultPoolConfig(),
	}
}

// Validate checks that the required connection parameters are present.
func (c Config) Validate() error {
	switch c.Backend {
	case BackendSQLite:
		if isBlank(c.Endpoint) {
			return &ConfigError{Key: EnvEndpoint, Reason: "missing or empty sqlite database path"}
		}
	case BackendMongo:
		if isBlank(c.Endpoint) {
			return &ConfigError{Key: EnvEndpoint, Reason: "missing or empty mongodb uri"}
		}
		if isBlank(c.User) {
			return &ConfigError{Key: EnvUser, Reason: "missing or empty user"}
		}
		if isBlank(c.Password) {
			return &ConfigError{Key: EnvPassword, Reason: "missing or empty password"}
		}
		if isBlank(c.Database) {
			return &ConfigError{Key: EnvDatabase, Reason: "missing or empty database name"}
		}
	default:
		return &ConfigError{Key: EnvBackend, Reason: fmt.Sprintf("unsupported backend %q", c.Backend)}
	}

	if c.Pool.MaxOpen <= 0 {
		return &ConfigError{Key: EnvPoolMax, Reason: "pool size must be positive"}
	}
	if c.Pool.MinIdle < 0 || c.Pool.MinIdle > c.Pool.MaxOpen {
		return &ConfigError{Key: EnvPoolMinIdle, Reason: "min idle must be between 0 and the pool size"}
	}
	if c.Pool.AcquireTimeout <= 0 {
		return &ConfigError{Key: EnvPoolTimeout, Reason: "acquire timeout must be positive"}
	}
	if c.FlushRateLimit < 0 {
		return &ConfigError{Key: EnvFlushRate, Reason: "flush rate must be non-negative"}
	}
	return nil
}

// LoadConfig builds a Config from the environment. Each env file is loaded
// with godotenv first; files that do not exist are skipped and variables
// already set in the process environment win.
func LoadConfig(envFiles ...string) (Config, error) {
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, &ConfigError{Key: f, Reason: err.Error()}
		}
	}

	cfg := DefaultConfig()
	if v := strings.TrimSpace(os.Getenv(EnvBackend)); v != "" {
		cfg.Backend = BackendKind(strings.ToLower(v))
	}
	cfg.Endpoint = os.Getenv(EnvEndpoint)
	cfg.User = os.Getenv(EnvUser)
	cfg.Password = os.Getenv(EnvPassword)
	if v := os.Getenv(EnvDatabase); v != "" {
		cfg.Database = v
	}

	var err error
	if cfg.Pool.MaxOpen, err = envInt(EnvPoolMax, cfg.Pool.MaxOpen); err != nil {
		return Config{}, err
	}
	if cfg.Pool.MinIdle, err = envInt(EnvPoolMinIdle, cfg.Pool.MinIdle); err != nil {
		return Config{}, err
	}
	if v := strings.TrimSpace(os.Getenv(EnvPoolTimeout)); v != "" {
		d, perr := time.ParseDuration(v)
		if perr != nil {
			return Config{}, &ConfigError{Key: EnvPoolTimeout, Reason: perr.Error()}
		}
		cfg.Pool.AcquireTimeout = d
	}
	if v := strings.TrimSpace(os.Getenv(EnvFlushRate)); v != "" {
		rate, perr := strconv.ParseFloat(v, 64)
		if perr != nil {
			return Config{}, &ConfigError{Key: EnvFlushRate, Reason: perr.Error()}
		}
		cfg.FlushRateLimit = rate
	}

	return cfg, nil
}

func envInt(key string, def int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, &ConfigError{Key: key, Reason: err.Error()}
	}
	return n, nil
}

func isBlank(s string) bool {
	return strings.TrimSpace(s) == ""
}
