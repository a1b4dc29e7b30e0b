package kinsumer

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/ghalamif/kinsumer/internal/adapters/checkpoint"
	"github.com/ghalamif/kinsumer/internal/app/config"
	"github.com/ghalamif/kinsumer/internal/ports"
)

// openCheckpointer builds the backend named in cfg. The returned closer is
// nil for backends holding no connections.
func openCheckpointer(ctx context.Context, cfg *Config, name string) (ports.Checkpointer, func() error, error) {
	switch cfg.Checkpoint.Backend {
	case config.BackendMemory, "":
		return checkpoint.NewMemoryCheckpointer(), nil, nil

	case config.BackendFile:
		cp, err := checkpoint.NewFileCheckpointer(cfg.Checkpoint.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("file checkpoint: %w", err)
		}
		return cp, nil, nil

	case config.BackendPostgres:
		db, err := sql.Open("postgres", cfg.Checkpoint.ConnString)
		if err != nil {
			return nil, nil, fmt.Errorf("postgres checkpoint: %w", err)
		}
		cp := checkpoint.NewPostgresCheckpointer(db, cfg.Checkpoint.Table, name)
		if err := cp.InitSchema(ctx); err != nil {
			_ = db.Close()
			return nil, nil, fmt.Errorf("postgres checkpoint schema: %w", err)
		}
		return cp, db.Close, nil

	case config.BackendRedis:
		pool := checkpoint.NewRedisPool(cfg.Checkpoint.RedisURL)
		return checkpoint.NewRedisCheckpointer(pool, cfg.Checkpoint.RedisPrefix+"."+name), pool.Close, nil

	default:
		return nil, nil, fmt.Errorf("unknown checkpoint backend %q", cfg.Checkpoint.Backend)
	}
}
