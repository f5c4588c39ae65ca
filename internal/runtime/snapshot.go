package runtime

import (
	"context"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/lzjever/mbos-wrt/internal/core"
	"github.com/lzjever/mbos-wrt/internal/observability"
	"github.com/lzjever/mbos-wrt/internal/workerpool"
)

// Snapshot saves every machine of a RUNNING workspace and replaces the
// workspace's previous snapshots of the active environment. The workspace
// is RUNNING again afterwards whatever the outcome.
func (r *Registry) Snapshot(ctx context.Context, wsid string) error {
	job, err := r.beginSnapshot(wsid, false)
	if err != nil {
		return err
	}
	return r.doSnapshot(ctx, job)
}

// SnapshotAsync accepts the snapshot synchronously, recording
// SNAPSHOTTING, and saves the machines on the worker pool.
func (r *Registry) SnapshotAsync(wsid string) (*workerpool.Future, error) {
	job, err := r.beginSnapshot(wsid, false)
	if err != nil {
		return nil, err
	}
	fut, err := r.pool.Submit("snapshot", func(ctx context.Context) error {
		return r.doSnapshot(ctx, job)
	})
	if err != nil {
		appErr := core.ServerError(err, "Could not create a snapshot of workspace '%s'", wsid)
		r.finishSnapshot(job, core.EventSnapshotCreationError, appErr.Error())
		return nil, appErr
	}
	return fut, nil
}

// SnapshotAndStopAsync snapshots a RUNNING workspace and then stops it.
// Both steps run under one claim taken before returning, so no other
// operation can slip in between them. A failed snapshot does not prevent
// the stop.
func (r *Registry) SnapshotAndStopAsync(wsid string) (*workerpool.Future, error) {
	job, err := r.beginSnapshot(wsid, true)
	if err != nil {
		return nil, err
	}
	fut, err := r.pool.Submit("snapshot_and_stop", func(ctx context.Context) error {
		// Failures are logged and published by the snapshot itself.
		_ = r.doSnapshot(ctx, job)
		r.resumeStop(job.st)
		return r.doStop(ctx, job.st)
	})
	if err != nil {
		appErr := core.ServerError(err, "Could not stop workspace '%s'", wsid)
		r.release(job.st, core.StatusSnapshotting, appErr.Error())
		return nil, appErr
	}
	return fut, nil
}

type snapshotJob struct {
	st       *runtimeState
	envName  string
	machines []core.Machine
	// thenStop keeps the claim when the snapshot settles.
	thenStop bool
}

func (r *Registry) beginSnapshot(wsid string, thenStop bool) (*snapshotJob, error) {
	var job *snapshotJob
	err := r.transition(wsid, func(sh *shard) (*core.LifecycleEvent, error) {
		var (
			st  *runtimeState
			err error
		)
		if thenStop {
			st, err = claim(sh, wsid, "stop")
		} else {
			st, err = claimSnapshot(sh, wsid)
		}
		if err != nil {
			return nil, err
		}
		st.status = core.StatusSnapshotting
		job = &snapshotJob{st: st, envName: st.envName, thenStop: thenStop}
		for _, m := range st.machines {
			job.machines = append(job.machines, *m)
		}
		return event(wsid, core.EventSnapshotCreating, core.StatusRunning, core.StatusSnapshotting, ""), nil
	})
	return job, err
}

func claimSnapshot(sh *shard, wsid string) (*runtimeState, error) {
	st, ok := sh.runtimes[wsid]
	if !ok {
		return nil, core.NotFoundf("Workspace with id '%s' is not running", wsid)
	}
	if st.status != core.StatusRunning {
		return nil, core.Conflictf("Could not create a snapshot of workspace '%s' because it is not RUNNING, status is '%s'", wsid, st.status)
	}
	if st.busy != nil {
		return nil, core.Conflictf("Could not create a snapshot of workspace '%s' because another operation is in progress", wsid)
	}
	st.busy = make(chan struct{})
	return st, nil
}

// resumeStop moves a runtime that is still claimed after its snapshot on
// to STOPPING.
func (r *Registry) resumeStop(st *runtimeState) {
	_ = r.transition(st.wsid, func(*shard) (*core.LifecycleEvent, error) {
		st.status = core.StatusStopping
		return event(st.wsid, core.EventStopping, core.StatusRunning, core.StatusStopping, ""), nil
	})
}

func (r *Registry) doSnapshot(ctx context.Context, job *snapshotJob) error {
	wsid := job.st.wsid
	log := observability.WorkspaceLogger(r.log, wsid, "snapshot")

	job.st.engineMu.Lock()
	defer job.st.engineMu.Unlock()

	created := make([]*core.Snapshot, 0, len(job.machines))
	for _, m := range job.machines {
		start := time.Now()
		snap, err := r.engine.SaveSnapshot(ctx, wsid, m.ID)
		observability.EngineCallDuration.WithLabelValues("save_snapshot").Observe(time.Since(start).Seconds())
		if err != nil {
			r.discard(ctx, created, log)
			return r.snapshotFailed(job, core.ServerError(err, "Could not save snapshot of machine '%s' in workspace '%s'", m.Name, wsid), log)
		}
		snap.WorkspaceID = wsid
		snap.EnvName = job.envName
		snap.MachineName = m.Name
		snap.Dev = m.Config.Dev
		if snap.CreatedAt.IsZero() {
			snap.CreatedAt = time.Now().UTC()
		}
		created = append(created, snap)
	}

	old, err := r.snapshots.ReplaceSnapshots(ctx, wsid, job.envName, created)
	if err != nil {
		r.discard(ctx, created, log)
		return r.snapshotFailed(job, core.ServerError(err, "Could not save snapshots metadata of workspace '%s'", wsid), log)
	}
	for _, s := range old {
		if err := r.engine.RemoveSnapshot(ctx, s); err != nil {
			log.Warn("remove replaced snapshot failed", zap.String("snapshot_id", s.ID), zap.Error(err))
		}
	}

	observability.SnapshotTotal.WithLabelValues("ok").Inc()
	r.finishSnapshot(job, core.EventSnapshotCreated, "")
	log.Info("snapshot created", zap.Int("machines", len(created)), zap.Int("replaced", len(old)))
	return nil
}

func (r *Registry) discard(ctx context.Context, created []*core.Snapshot, log *zap.Logger) {
	if len(created) == 0 {
		return
	}
	if err := r.engine.RemoveSnapshotBinaries(ctx, created); err != nil {
		log.Warn("discard of unsaved snapshots failed", zap.Int("count", len(created)), zap.Error(err))
	}
}

func (r *Registry) snapshotFailed(job *snapshotJob, err *core.AppError, log *zap.Logger) error {
	log.Error("snapshot failed", zap.Error(err))
	observability.SnapshotTotal.WithLabelValues("error").Inc()
	r.finishSnapshot(job, core.EventSnapshotCreationError, err.Error())
	return err
}

func (r *Registry) finishSnapshot(job *snapshotJob, typ core.EventType, errMsg string) {
	st := job.st
	_ = r.transition(st.wsid, func(*shard) (*core.LifecycleEvent, error) {
		st.status = core.StatusRunning
		if !job.thenStop {
			st.settle()
		}
		return event(st.wsid, typ, core.StatusSnapshotting, core.StatusRunning, errMsg), nil
	})
}

// RemoveSnapshots deletes the binaries and metadata of every snapshot of
// the workspace. It continues past individual failures and reports them
// together.
func (r *Registry) RemoveSnapshots(ctx context.Context, wsid string) error {
	log := observability.WorkspaceLogger(r.log, wsid, "remove_snapshots")
	snapshots, err := r.snapshots.FindSnapshots(ctx, wsid)
	if err != nil {
		return core.ServerError(err, "Could not find snapshots of workspace '%s'", wsid)
	}
	if len(snapshots) == 0 {
		return nil
	}

	var errs error
	if err := r.engine.RemoveSnapshotBinaries(ctx, snapshots); err != nil {
		log.Warn("remove snapshot binaries failed", zap.Error(err))
		errs = multierr.Append(errs, err)
	}
	for _, s := range snapshots {
		if err := r.snapshots.RemoveSnapshot(ctx, s.ID); err != nil {
			log.Warn("remove snapshot metadata failed", zap.String("snapshot_id", s.ID), zap.Error(err))
			errs = multierr.Append(errs, err)
		}
	}
	if errs != nil {
		return core.ServerError(errs, "Could not remove all snapshots of workspace '%s'", wsid)
	}
	log.Info("snapshots removed", zap.Int("count", len(snapshots)))
	return nil
}
