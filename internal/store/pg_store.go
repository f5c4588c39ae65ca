package store

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lzjever/mbos-wrt/internal/core"
)

//go:embed schema.sql
var schemaSQL string

const uniqueViolation = "23505"

// PGStore keeps workspaces and snapshots in Postgres.
type PGStore struct {
	pool *pgxpool.Pool
}

func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

// Migrate creates the schema when missing.
func (s *PGStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

func (s *PGStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PGStore) Close() error {
	s.pool.Close()
	return nil
}

const workspaceColumns = `id, namespace, config, attributes, temporary`

func (s *PGStore) CreateWorkspace(ctx context.Context, ws *core.Workspace) error {
	cfg, attrs, err := marshalWorkspace(ws)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO wrt.workspaces (id, namespace, name, config, attributes, temporary)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		ws.ID, ws.Namespace, ws.Config.Name, cfg, attrs, ws.Temporary)
	return mapPGErr(err)
}

func (s *PGStore) UpdateWorkspace(ctx context.Context, ws *core.Workspace) error {
	cfg, attrs, err := marshalWorkspace(ws)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE wrt.workspaces
		SET namespace = $2, name = $3, config = $4, attributes = $5, temporary = $6, updated_at = now()
		WHERE id = $1`,
		ws.ID, ws.Namespace, ws.Config.Name, cfg, attrs, ws.Temporary)
	if err != nil {
		return mapPGErr(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PGStore) GetWorkspace(ctx context.Context, id string) (*core.Workspace, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+workspaceColumns+` FROM wrt.workspaces WHERE id = $1`, id)
	return scanWorkspace(row)
}

func (s *PGStore) GetWorkspaceByName(ctx context.Context, namespace, name string) (*core.Workspace, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+workspaceColumns+` FROM wrt.workspaces WHERE namespace = $1 AND name = $2`, namespace, name)
	return scanWorkspace(row)
}

func (s *PGStore) ListWorkspaces(ctx context.Context, namespace string) ([]*core.Workspace, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+workspaceColumns+` FROM wrt.workspaces
		WHERE $1::text = '' OR namespace = $1
		ORDER BY created_at`, namespace)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*core.Workspace
	for rows.Next() {
		ws, err := scanWorkspace(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ws)
	}
	return out, rows.Err()
}

func (s *PGStore) RemoveWorkspace(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM wrt.workspaces WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

const snapshotColumns = `id, workspace_id, env_name, machine_name, dev, source, description, created_at`

func (s *PGStore) FindSnapshots(ctx context.Context, wsid string) ([]*core.Snapshot, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+snapshotColumns+` FROM wrt.snapshots
		WHERE workspace_id = $1 ORDER BY created_at, id`, wsid)
	if err != nil {
		return nil, err
	}
	return collectSnapshots(rows)
}

func (s *PGStore) GetSnapshot(ctx context.Context, id string) (*core.Snapshot, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+snapshotColumns+` FROM wrt.snapshots WHERE id = $1`, id)
	return scanSnapshot(row)
}

func (s *PGStore) ReplaceSnapshots(ctx context.Context, wsid, envName string, snapshots []*core.Snapshot) ([]*core.Snapshot, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `
		SELECT `+snapshotColumns+` FROM wrt.snapshots
		WHERE workspace_id = $1 AND env_name = $2
		FOR UPDATE`, wsid, envName)
	if err != nil {
		return nil, err
	}
	old, err := collectSnapshots(rows)
	if err != nil {
		return nil, err
	}

	if _, err := tx.Exec(ctx, `DELETE FROM wrt.snapshots WHERE workspace_id = $1 AND env_name = $2`, wsid, envName); err != nil {
		return nil, err
	}

	batch := &pgx.Batch{}
	for _, snap := range snapshots {
		source, err := json.Marshal(snap.Source)
		if err != nil {
			return nil, err
		}
		batch.Queue(`
			INSERT INTO wrt.snapshots (id, workspace_id, env_name, machine_name, dev, source, description, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			snap.ID, wsid, snap.EnvName, snap.MachineName, snap.Dev, source, snap.Description, snap.CreatedAt)
	}
	if batch.Len() > 0 {
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return nil, mapPGErr(err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return old, nil
}

func (s *PGStore) RemoveSnapshot(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM wrt.snapshots WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func marshalWorkspace(ws *core.Workspace) (cfg, attrs []byte, err error) {
	if cfg, err = json.Marshal(ws.Config); err != nil {
		return nil, nil, err
	}
	a := ws.Attrs
	if a == nil {
		a = map[string]string{}
	}
	if attrs, err = json.Marshal(a); err != nil {
		return nil, nil, err
	}
	return cfg, attrs, nil
}

func scanWorkspace(row pgx.Row) (*core.Workspace, error) {
	var (
		ws         core.Workspace
		cfg, attrs []byte
	)
	if err := row.Scan(&ws.ID, &ws.Namespace, &cfg, &attrs, &ws.Temporary); err != nil {
		return nil, mapPGErr(err)
	}
	if err := json.Unmarshal(cfg, &ws.Config); err != nil {
		return nil, fmt.Errorf("decode config of workspace %s: %w", ws.ID, err)
	}
	if err := json.Unmarshal(attrs, &ws.Attrs); err != nil {
		return nil, fmt.Errorf("decode attributes of workspace %s: %w", ws.ID, err)
	}
	return &ws, nil
}

func scanSnapshot(row pgx.Row) (*core.Snapshot, error) {
	var (
		snap   core.Snapshot
		source []byte
	)
	if err := row.Scan(&snap.ID, &snap.WorkspaceID, &snap.EnvName, &snap.MachineName,
		&snap.Dev, &source, &snap.Description, &snap.CreatedAt); err != nil {
		return nil, mapPGErr(err)
	}
	if err := json.Unmarshal(source, &snap.Source); err != nil {
		return nil, fmt.Errorf("decode source of snapshot %s: %w", snap.ID, err)
	}
	return &snap, nil
}

func collectSnapshots(rows pgx.Rows) ([]*core.Snapshot, error) {
	defer rows.Close()
	var out []*core.Snapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, snap)
	}
	return out, rows.Err()
}

func mapPGErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return ErrConflict
	}
	return err
}
