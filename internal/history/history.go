// Package history remembers the jobs a run applied to, so later runs skip them.
package history

import (
	"context"
	"fmt"
	"time"
)

const (
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

// Entry is one applied job.
type Entry struct {
	Board     string
	JobID     string
	Title     string
	Company   string
	URL       string
	Domain    string
	Status    string
	RunID     string
	AppliedAt time.Time
}

// Store persists applied jobs.
type Store interface {
	Applied(ctx context.Context, board, jobID string) (bool, error)
	Record(ctx context.Context, e Entry) error
	// List returns the entries of board, or of every board when board is
	// empty, newest first.
	List(ctx context.Context, board string) ([]Entry, error)
	Close() error
}

// Config selects and configures a backend.
type Config struct {
	Backend   string `mapstructure:"backend" validate:"omitempty,oneof=sqlite redis"`
	Path      string `mapstructure:"path"`
	RedisAddr string `mapstructure:"redis-addr"`
	RedisDB   int    `mapstructure:"redis-db"`
	Prefix    string `mapstructure:"prefix"`
}

// Open returns the configured store. SQLite is the default backend.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Backend {
	case "", BackendSQLite:
		return OpenSQLite(ctx, cfg.Path)
	case BackendRedis:
		return OpenRedis(ctx, cfg.RedisAddr, cfg.RedisDB, cfg.Prefix)
	default:
		return nil, fmt.Errorf("unknown history backend %q", cfg.Backend)
	}
}
