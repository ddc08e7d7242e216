package sqprint

import (
	"context"
	"fmt"

	"github.com/liliang-cn/sqprint/pkg/core"
	"github.com/liliang-cn/sqprint/pkg/mongostore"
)

// DefaultConfig returns a SQLite configuration for the database at path
func DefaultConfig(path string) core.Config {
	cfg := core.DefaultConfig()
	cfg.Endpoint = path
	return cfg
}

// Open validates cfg, connects the backend it names and returns an engine.
// Missing connection parameters fail here, before any I/O.
func Open(ctx context.Context, cfg core.Config) (*core.Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var (
		backend core.Backend
		err     error
	)
	switch cfg.Backend {
	case core.BackendSQLite:
		backend, err = core.OpenSQLite(ctx, cfg)
	case core.BackendMongo:
		backend, err = mongostore.Open(ctx, cfg)
	default:
		return nil, &core.ConfigError{Key: core.EnvBackend, Reason: fmt.Sprintf("unsupported backend %q", cfg.Backend)}
	}
	if err != nil {
		return nil, err
	}

	engine, err := core.NewEngine(backend, cfg)
	if err != nil {
		_ = backend.Close()
		return nil, err
	}
	return engine, nil
}

// OpenFromEnv loads configuration from the environment (and the given .env
// files) and opens the engine.
func OpenFromEnv(ctx context.Context, envFiles ...string) (*core.Engine, error) {
	cfg, err := core.LoadConfig(envFiles...)
	if err != nil {
		return nil, err
	}
	return Open(ctx, cfg)
}
