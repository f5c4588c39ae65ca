// Package store persists workspace configurations and snapshot metadata.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lzjever/mbos-wrt/internal/core"
)

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("already exists")
)

type Config struct {
	Driver     string `envconfig:"WRT_STORE_DRIVER" default:"badger"`
	BadgerPath string `envconfig:"WRT_BADGER_PATH" default:"/var/lib/wrt/badger"`
	DBDSN      string `envconfig:"WRT_DB_DSN"`

	DBMaxConns       int32         `envconfig:"WRT_DB_MAX_CONNS" default:"20"`
	DBMaxConnIdle    time.Duration `envconfig:"WRT_DB_MAX_CONN_IDLE" default:"5m"`
	DBConnectTimeout time.Duration `envconfig:"WRT_DB_CONNECT_TIMEOUT" default:"10s"`
}

// Store is implemented by every driver.
type Store interface {
	CreateWorkspace(ctx context.Context, ws *core.Workspace) error
	UpdateWorkspace(ctx context.Context, ws *core.Workspace) error
	GetWorkspace(ctx context.Context, id string) (*core.Workspace, error)
	GetWorkspaceByName(ctx context.Context, namespace, name string) (*core.Workspace, error)
	ListWorkspaces(ctx context.Context, namespace string) ([]*core.Workspace, error)
	RemoveWorkspace(ctx context.Context, id string) error

	FindSnapshots(ctx context.Context, wsid string) ([]*core.Snapshot, error)
	GetSnapshot(ctx context.Context, id string) (*core.Snapshot, error)
	// ReplaceSnapshots atomically swaps the snapshots of one environment and
	// returns the ones that were replaced.
	ReplaceSnapshots(ctx context.Context, wsid, envName string, snapshots []*core.Snapshot) ([]*core.Snapshot, error)
	RemoveSnapshot(ctx context.Context, id string) error

	Ping(ctx context.Context) error
	Close() error
}

// Open returns the driver selected by cfg.Driver.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Driver {
	case "", "badger":
		return NewBadgerStore(cfg.BadgerPath)
	case "postgres":
		if cfg.DBDSN == "" {
			return nil, fmt.Errorf("postgres driver requires WRT_DB_DSN")
		}
		pool, err := NewPool(ctx, cfg)
		if err != nil {
			return nil, err
		}
		s := NewPGStore(pool)
		if err := s.Migrate(ctx); err != nil {
			pool.Close()
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

// persisted strips the fields derived from the runtime registry.
func persisted(ws *core.Workspace) core.Workspace {
	cp := *ws
	cp.Status = ""
	cp.Runtime = nil
	return cp
}
