// Package storage opens the configured group store.
package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/bryanwahyu/grups/src/domain/group"
	"github.com/bryanwahyu/grups/src/infra/memory"
	"github.com/bryanwahyu/grups/src/infra/postgres"
	"github.com/bryanwahyu/grups/src/infra/sqlite"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMemory   = "memory"
)

type Config struct {
	Driver         string        `yaml:"driver" env:"DRIVER"`
	DSN            string        `yaml:"dsn" env:"DSN"`
	MaxConns       int32         `yaml:"max_conns" env:"MAX_CONNS"`
	ConnectTimeout time.Duration `yaml:"connect_timeout" env:"CONNECT_TIMEOUT"`
}

// Open connects to the store named by cfg.Driver. For sqlite the DSN is a file path.
func Open(ctx context.Context, cfg Config) (group.Store, error) {
	switch cfg.Driver {
	case DriverPostgres:
		return postgres.Open(ctx, postgres.Config{
			DSN:            cfg.DSN,
			MaxConns:       cfg.MaxConns,
			ConnectTimeout: cfg.ConnectTimeout,
		})
	case DriverSQLite:
		if cfg.ConnectTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, cfg.ConnectTimeout)
			defer cancel()
		}
		return sqlite.Open(ctx, cfg.DSN)
	case DriverMemory:
		return memory.NewStore(), nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}
