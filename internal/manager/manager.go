// Package manager is the public face of the workspace runtime: it keeps
// workspace configurations in the store and applies start, stop and
// snapshot policy on top of the runtime registry.
package manager

import (
	"context"
	"errors"
	"strconv"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/lzjever/mbos-wrt/internal/core"
	"github.com/lzjever/mbos-wrt/internal/eventbus"
	"github.com/lzjever/mbos-wrt/internal/runtime"
	"github.com/lzjever/mbos-wrt/internal/store"
	"github.com/lzjever/mbos-wrt/internal/workerpool"
)

type Manager struct {
	cfg      Config
	store    store.Store
	registry *runtime.Registry
	pool     *workerpool.Pool
	log      *zap.Logger
	sub      *eventbus.Subscription
	now      func() time.Time
}

// New wires the manager and subscribes it to the bus for temporary
// workspace cleanup. Close releases the subscription.
func New(cfg Config, st store.Store, registry *runtime.Registry, pool *workerpool.Pool, bus *eventbus.Bus, log *zap.Logger) *Manager {
	m := &Manager{
		cfg:      cfg,
		store:    st,
		registry: registry,
		pool:     pool,
		log:      log,
		now:      time.Now,
	}
	m.sub = bus.Subscribe(m.onRuntimeGone, runtimeGone)
	return m
}

func (m *Manager) Close() {
	m.sub.Unsubscribe()
}

// CreateWorkspace validates and stores a new workspace in namespace.
func (m *Manager) CreateWorkspace(ctx context.Context, cfg *core.WorkspaceConfig, namespace string, attrs map[string]string) (*core.Workspace, error) {
	return m.create(ctx, cfg, namespace, attrs, false)
}

func (m *Manager) create(ctx context.Context, cfg *core.WorkspaceConfig, namespace string, attrs map[string]string, temporary bool) (*core.Workspace, error) {
	if namespace == "" {
		return nil, core.Validationf("Namespace required")
	}
	if err := core.ValidateConfig(cfg); err != nil {
		return nil, err
	}
	ws := &core.Workspace{
		ID:        core.NewWorkspaceID(),
		Namespace: namespace,
		Config:    *cfg,
		Attrs:     make(map[string]string, len(attrs)+1),
		Temporary: temporary,
	}
	for k, v := range attrs {
		ws.Attrs[k] = v
	}
	ws.Attrs[core.AttrCreated] = strconv.FormatInt(m.now().UnixMilli(), 10)

	if err := m.store.CreateWorkspace(ctx, ws); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, core.Conflictf("Workspace '%s' already exists in namespace '%s'", cfg.Name, namespace)
		}
		return nil, core.ServerError(err, "Could not create workspace '%s'", cfg.Name)
	}
	m.log.Info("workspace created", zap.String("wsid", ws.ID), zap.String("namespace", namespace), zap.Bool("temporary", temporary))
	ws.Status = core.StatusStopped
	return ws, nil
}

// GetWorkspace returns the stored workspace with its derived status and,
// when it has one, its runtime. The machine list may be the cached one
// while another operation on the workspace is in flight.
func (m *Manager) GetWorkspace(ctx context.Context, id string) (*core.Workspace, error) {
	ws, err := m.load(ctx, id)
	if err != nil {
		return nil, err
	}
	return m.withRuntime(ctx, ws), nil
}

func (m *Manager) GetWorkspaceByName(ctx context.Context, namespace, name string) (*core.Workspace, error) {
	ws, err := m.store.GetWorkspaceByName(ctx, namespace, name)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, core.NotFoundf("Workspace with name '%s' in namespace '%s' doesn't exist", name, namespace)
		}
		return nil, core.ServerError(err, "Could not get workspace '%s:%s'", namespace, name)
	}
	return m.withRuntime(ctx, ws), nil
}

// GetWorkspaces lists the workspaces of namespace, or all of them when it
// is empty. Only the status is derived; runtimes are not fetched.
func (m *Manager) GetWorkspaces(ctx context.Context, namespace string) ([]*core.Workspace, error) {
	list, err := m.store.ListWorkspaces(ctx, namespace)
	if err != nil {
		return nil, core.ServerError(err, "Could not list workspaces")
	}
	for _, ws := range list {
		ws.Status = m.registry.Status(ws.ID)
	}
	return list, nil
}

// UpdateWorkspace replaces the configuration and, when attrs is non-nil,
// the attributes of a workspace. The creation time is kept.
func (m *Manager) UpdateWorkspace(ctx context.Context, id string, cfg *core.WorkspaceConfig, attrs map[string]string) (*core.Workspace, error) {
	if err := core.ValidateConfig(cfg); err != nil {
		return nil, err
	}
	ws, err := m.load(ctx, id)
	if err != nil {
		return nil, err
	}
	ws.Config = *cfg
	if attrs != nil {
		created := ws.Attr(core.AttrCreated)
		ws.Attrs = make(map[string]string, len(attrs)+2)
		for k, v := range attrs {
			ws.Attrs[k] = v
		}
		if created != "" {
			ws.Attrs[core.AttrCreated] = created
		}
	}
	ws.Touch(m.now())
	if err := m.save(ctx, ws); err != nil {
		return nil, err
	}
	return m.withRuntime(ctx, ws), nil
}

// RemoveWorkspace deletes a stopped workspace and schedules removal of its
// snapshots.
func (m *Manager) RemoveWorkspace(ctx context.Context, id string) error {
	if m.registry.HasRuntime(id) {
		return core.Conflictf("The workspace '%s' is currently running and cannot be removed", id)
	}
	if err := m.store.RemoveWorkspace(ctx, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return core.NotFoundf("Workspace with id '%s' doesn't exist", id)
		}
		return core.ServerError(err, "Could not remove workspace '%s'", id)
	}
	m.log.Info("workspace removed", zap.String("wsid", id))
	m.removeSnapshotsAsync(id)
	return nil
}

func (m *Manager) removeSnapshotsAsync(id string) {
	err := m.pool.RunAsync("remove_snapshots", func(ctx context.Context) error {
		return m.registry.RemoveSnapshots(ctx, id)
	})
	if err != nil {
		m.log.Warn("snapshot removal not scheduled", zap.String("wsid", id), zap.Error(err))
	}
}

// StartWorkspace starts environment envName of a stored workspace. restoreFlag
// nil defers to the workspace attribute and then to the configured
// default. The returned workspace is STARTING; the outcome is reported on
// the event bus.
func (m *Manager) StartWorkspace(ctx context.Context, id, envName string, restoreFlag *bool) (*core.Workspace, error) {
	ws, err := m.load(ctx, id)
	if err != nil {
		return nil, err
	}
	return m.start(ctx, ws, envName, restoreFlag)
}

func (m *Manager) start(ctx context.Context, ws *core.Workspace, envName string, restoreFlag *bool) (*core.Workspace, error) {
	restore := resolve(restoreFlag, ws, core.AttrAutoRestore, m.cfg.AutoRestoreDefault)
	ws.Touch(m.now())
	if err := m.save(ctx, ws); err != nil {
		return nil, err
	}
	if _, err := m.registry.StartAsync(ws, envName, restore); err != nil {
		return nil, err
	}
	return m.withRuntime(ctx, ws), nil
}

// StartTemporaryWorkspace creates a workspace that is removed as soon as
// its runtime stops, and starts its default environment.
func (m *Manager) StartTemporaryWorkspace(ctx context.Context, cfg *core.WorkspaceConfig, namespace string, restoreFlag *bool) (*core.Workspace, error) {
	ws, err := m.create(ctx, cfg, namespace, nil, true)
	if err != nil {
		return nil, err
	}
	started, err := m.start(ctx, ws, "", restoreFlag)
	if err != nil {
		if rmErr := m.store.RemoveWorkspace(ctx, ws.ID); rmErr != nil && !errors.Is(rmErr, store.ErrNotFound) {
			m.log.Warn("remove of unstarted temporary workspace failed", zap.String("wsid", ws.ID), zap.Error(rmErr))
		}
		return nil, err
	}
	return started, nil
}

// StopWorkspace stops a running workspace, snapshotting it first when
// createSnapshot resolves to true. The stop is claimed before returning, so
// a nil error means the runtime will reach STOPPED. A failed snapshot does
// not prevent the stop.
func (m *Manager) StopWorkspace(ctx context.Context, id string, createSnapshot *bool) error {
	ws, err := m.load(ctx, id)
	if err != nil {
		return err
	}
	if resolve(createSnapshot, ws, core.AttrAutoCreateSnapshot, m.cfg.AutoSnapshotDefault) {
		_, err = m.registry.SnapshotAndStopAsync(id)
	} else {
		_, err = m.registry.StopAsync(id)
	}
	return err
}

// CreateSnapshot starts a snapshot of a running workspace.
func (m *Manager) CreateSnapshot(ctx context.Context, id string) (*workerpool.Future, error) {
	if _, err := m.load(ctx, id); err != nil {
		return nil, err
	}
	return m.registry.SnapshotAsync(id)
}

func (m *Manager) GetSnapshots(ctx context.Context, wsid string) ([]*core.Snapshot, error) {
	if _, err := m.load(ctx, wsid); err != nil {
		return nil, err
	}
	snaps, err := m.store.FindSnapshots(ctx, wsid)
	if err != nil {
		return nil, core.ServerError(err, "Could not find snapshots of workspace '%s'", wsid)
	}
	return snaps, nil
}

func (m *Manager) GetSnapshot(ctx context.Context, id string) (*core.Snapshot, error) {
	snap, err := m.store.GetSnapshot(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, core.NotFoundf("Snapshot with id '%s' doesn't exist", id)
		}
		return nil, core.ServerError(err, "Could not get snapshot '%s'", id)
	}
	return snap, nil
}

func (m *Manager) RemoveSnapshots(ctx context.Context, wsid string) error {
	if _, err := m.load(ctx, wsid); err != nil {
		return err
	}
	return m.registry.RemoveSnapshots(ctx, wsid)
}

func (m *Manager) StartMachine(ctx context.Context, wsid, name string, cfg *core.MachineConfig) (*core.Machine, error) {
	return m.registry.StartMachine(ctx, wsid, name, cfg)
}

func (m *Manager) StopMachine(ctx context.Context, wsid, machineID string) error {
	return m.registry.StopMachine(ctx, wsid, machineID)
}

func (m *Manager) GetMachine(ctx context.Context, wsid, machineID string) (*core.Machine, error) {
	return m.registry.GetMachine(ctx, wsid, machineID)
}

func (m *Manager) GetRunningWorkspacesIDs() []string {
	return m.registry.RuntimeIDs()
}

// Shutdown refuses new starts, stops every runtime and then shuts the
// pool down. Stops run on their own goroutines rather than the pool so a
// full queue cannot leave machines behind. Runtimes busy with another
// operation are stopped once that operation settles.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.registry.RefuseStarts()
	ids := m.registry.RuntimeIDs()
	m.log.Info("stopping running workspaces", zap.Int("count", len(ids)))

	var g errgroup.Group
	for _, id := range ids {
		g.Go(func() error {
			err := m.stopForShutdown(ctx, id)
			if err != nil {
				m.log.Error("stop on shutdown failed", zap.String("wsid", id), zap.Error(err))
			}
			return err
		})
	}
	err := g.Wait()
	if perr := m.pool.Shutdown(ctx); perr != nil {
		err = multierr.Append(err, perr)
	}
	return err
}

func (m *Manager) stopForShutdown(ctx context.Context, id string) error {
	for {
		if err := m.registry.WaitIdle(ctx, id); err != nil {
			return err
		}
		err := m.registry.Stop(ctx, id)
		switch {
		case err == nil, core.IsNotFound(err):
			return nil
		case core.IsConflict(err):
			continue
		default:
			return err
		}
	}
}

func (m *Manager) load(ctx context.Context, id string) (*core.Workspace, error) {
	ws, err := m.store.GetWorkspace(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, core.NotFoundf("Workspace with id '%s' doesn't exist", id)
		}
		return nil, core.ServerError(err, "Could not get workspace '%s'", id)
	}
	return ws, nil
}

func (m *Manager) save(ctx context.Context, ws *core.Workspace) error {
	if err := m.store.UpdateWorkspace(ctx, ws); err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			return core.NotFoundf("Workspace with id '%s' doesn't exist", ws.ID)
		case errors.Is(err, store.ErrConflict):
			return core.Conflictf("Workspace '%s' already exists in namespace '%s'", ws.Config.Name, ws.Namespace)
		}
		return core.ServerError(err, "Could not update workspace '%s'", ws.ID)
	}
	return nil
}

func (m *Manager) withRuntime(ctx context.Context, ws *core.Workspace) *core.Workspace {
	ws.Status = core.StatusStopped
	ws.Runtime = nil
	if desc, err := m.registry.Get(ctx, ws.ID); err == nil {
		ws.Status = desc.Status
		ws.Runtime = desc
	}
	return ws
}

// resolve picks the explicit flag, then the workspace attribute, then def.
func resolve(flag *bool, ws *core.Workspace, attr string, def bool) bool {
	if flag != nil {
		return *flag
	}
	if v, ok := ws.BoolAttr(attr); ok {
		return v
	}
	return def
}
