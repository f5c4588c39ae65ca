package manager

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/lzjever/mbos-wrt/internal/core"
	"github.com/lzjever/mbos-wrt/internal/store"
)

// runtimeGone matches the events that end a runtime, whether it stopped
// normally or was cleaned up after an error.
func runtimeGone(ev core.LifecycleEvent) bool {
	return ev.Status == core.StatusStopped && (ev.Type == core.EventStopped || ev.Type == core.EventError)
}

func (m *Manager) onRuntimeGone(ev core.LifecycleEvent) {
	wsid := ev.WorkspaceID
	err := m.pool.RunAsync("remove_temporary", func(ctx context.Context) error {
		return m.removeTemporary(ctx, wsid)
	})
	if err != nil {
		// Pool closed during shutdown.
		_ = m.removeTemporary(context.Background(), wsid)
	}
}

func (m *Manager) removeTemporary(ctx context.Context, wsid string) error {
	ws, err := m.store.GetWorkspace(ctx, wsid)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		m.log.Warn("load of stopped workspace failed", zap.String("wsid", wsid), zap.Error(err))
		return err
	}
	if !ws.Temporary || m.registry.HasRuntime(wsid) {
		return nil
	}
	if err := m.store.RemoveWorkspace(ctx, wsid); err != nil && !errors.Is(err, store.ErrNotFound) {
		m.log.Warn("remove of temporary workspace failed", zap.String("wsid", wsid), zap.Error(err))
		return err
	}
	if err := m.registry.RemoveSnapshots(ctx, wsid); err != nil {
		m.log.Warn("remove of temporary workspace snapshots failed", zap.String("wsid", wsid), zap.Error(err))
	}
	m.log.Info("temporary workspace removed", zap.String("wsid", wsid))
	return nil
}
