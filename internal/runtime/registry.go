// Package runtime tracks the live state of started workspaces and drives
// the environment engine through start, stop and snapshot transitions.
//
// A workspace has a registry entry exactly while it is not STOPPED. Every
// operation first claims the entry (compare-and-swap on presence and
// status) and is rejected when another operation for the same workspace is
// in flight, so each workspace sees a linear sequence of operations.
package runtime

import (
	"context"
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/lzjever/mbos-wrt/internal/core"
	"github.com/lzjever/mbos-wrt/internal/envengine"
	"github.com/lzjever/mbos-wrt/internal/observability"
	"github.com/lzjever/mbos-wrt/internal/workerpool"
)

const shardCount = 32

// SnapshotStore is the snapshot metadata catalog.
type SnapshotStore interface {
	FindSnapshots(ctx context.Context, wsid string) ([]*core.Snapshot, error)
	ReplaceSnapshots(ctx context.Context, wsid, envName string, snapshots []*core.Snapshot) ([]*core.Snapshot, error)
	RemoveSnapshot(ctx context.Context, id string) error
}

// Publisher receives one event per status transition.
type Publisher interface {
	Publish(core.LifecycleEvent)
}

// Submitter runs asynchronous lifecycle work.
type Submitter interface {
	Submit(op string, fn workerpool.Task) (*workerpool.Future, error)
}

type Registry struct {
	engine    envengine.Engine
	snapshots SnapshotStore
	events    Publisher
	pool      Submitter
	log       *zap.Logger

	shards   [shardCount]shard
	refusing atomic.Bool
}

type shard struct {
	// pub is held from a state change until its event is delivered so that
	// observers receive the events of a workspace in transition order.
	pub sync.Mutex

	mu       sync.Mutex
	runtimes map[string]*runtimeState
}

// runtimeState fields are guarded by the shard mutex.
type runtimeState struct {
	wsid     string
	status   core.WorkspaceStatus
	envName  string
	machines []*core.Machine
	dev      *core.Machine

	// busy is non-nil while an operation is in flight and is closed when
	// the operation settles.
	busy chan struct{}

	// engineMu serializes engine calls for this workspace.
	engineMu sync.Mutex
}

func New(engine envengine.Engine, snapshots SnapshotStore, events Publisher, pool Submitter, log *zap.Logger) *Registry {
	r := &Registry{
		engine:    engine,
		snapshots: snapshots,
		events:    events,
		pool:      pool,
		log:       log,
	}
	for i := range r.shards {
		r.shards[i].runtimes = make(map[string]*runtimeState)
	}
	return r
}

func (r *Registry) shard(wsid string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(wsid))
	return &r.shards[h.Sum32()%shardCount]
}

// transition runs fn under the shard lock and publishes the event it
// returns before any other transition of the shard can be observed.
func (r *Registry) transition(wsid string, fn func(sh *shard) (*core.LifecycleEvent, error)) error {
	sh := r.shard(wsid)
	sh.pub.Lock()
	defer sh.pub.Unlock()

	sh.mu.Lock()
	ev, err := fn(sh)
	sh.mu.Unlock()
	if err != nil {
		return err
	}
	if ev != nil {
		observability.WorkspaceStateTransitions.WithLabelValues(string(ev.PrevStatus), string(ev.Status)).Inc()
		r.events.Publish(*ev)
	}
	return nil
}

func event(wsid string, typ core.EventType, prev, next core.WorkspaceStatus, errMsg string) *core.LifecycleEvent {
	ev := core.NewLifecycleEvent(wsid, typ, prev, next, errMsg)
	return &ev
}

func (st *runtimeState) settle() {
	if st.busy != nil {
		close(st.busy)
		st.busy = nil
	}
}

func (st *runtimeState) descriptor() *core.RuntimeDescriptor {
	d := &core.RuntimeDescriptor{
		WorkspaceID: st.wsid,
		Status:      st.status,
		ActiveEnv:   st.envName,
		Machines:    make([]*core.Machine, 0, len(st.machines)),
	}
	for _, m := range st.machines {
		cp := *m
		d.Machines = append(d.Machines, &cp)
		if st.dev != nil && m.ID == st.dev.ID {
			d.DevMachine = &cp
		}
	}
	return d
}

// claim marks an idle RUNNING runtime busy. action completes the sentence
// "Could not ... workspace '<id>'" in conflict messages.
func claim(sh *shard, wsid, action string) (*runtimeState, error) {
	st, ok := sh.runtimes[wsid]
	if !ok {
		return nil, core.NotFoundf("Workspace with id '%s' is not running", wsid)
	}
	if st.status != core.StatusRunning {
		return nil, core.Conflictf("Could not %s workspace '%s' because its status is '%s'", action, wsid, st.status)
	}
	if st.busy != nil {
		return nil, core.Conflictf("Could not %s workspace '%s' because another operation is in progress", action, wsid)
	}
	st.busy = make(chan struct{})
	return st, nil
}

// Start starts the environment envName (the default one when empty) and
// blocks until the workspace is RUNNING or the start has failed.
func (r *Registry) Start(ctx context.Context, ws *core.Workspace, envName string, restore bool) (*core.RuntimeDescriptor, error) {
	envName, env, err := prepareStart(ws, envName)
	if err != nil {
		return nil, err
	}
	st, err := r.beginStart(ws.ID, envName)
	if err != nil {
		return nil, err
	}
	return r.doStart(ctx, st, env, restore)
}

// StartAsync accepts the start synchronously, recording STARTING, and
// provisions the environment on the worker pool.
func (r *Registry) StartAsync(ws *core.Workspace, envName string, restore bool) (*workerpool.Future, error) {
	envName, env, err := prepareStart(ws, envName)
	if err != nil {
		return nil, err
	}
	st, err := r.beginStart(ws.ID, envName)
	if err != nil {
		return nil, err
	}
	fut, err := r.pool.Submit("start", func(ctx context.Context) error {
		_, err := r.doStart(ctx, st, env, restore)
		return err
	})
	if err != nil {
		appErr := core.ServerError(err, "Could not start workspace '%s'", ws.ID)
		r.remove(st, core.EventError, core.StatusStarting, appErr.Error())
		return nil, appErr
	}
	return fut, nil
}

func prepareStart(ws *core.Workspace, envName string) (string, *core.Environment, error) {
	name, env, ok := ws.Config.Environment(envName)
	if !ok {
		return "", nil, core.NotFoundf("Workspace '%s:%s' doesn't contain environment '%s'", ws.Namespace, ws.Config.Name, name)
	}
	if err := core.ValidateEnvironment(name, env); err != nil {
		return "", nil, err
	}
	return name, env, nil
}

func (r *Registry) beginStart(wsid, envName string) (*runtimeState, error) {
	var st *runtimeState
	err := r.transition(wsid, func(sh *shard) (*core.LifecycleEvent, error) {
		if r.refusing.Load() {
			return nil, core.Conflictf("Could not start workspace '%s' because workspace service is shutting down", wsid)
		}
		if cur, ok := sh.runtimes[wsid]; ok {
			return nil, core.Conflictf("Could not start workspace '%s' because its status is '%s'", wsid, cur.status)
		}
		st = &runtimeState{
			wsid:    wsid,
			status:  core.StatusStarting,
			envName: envName,
			busy:    make(chan struct{}),
		}
		sh.runtimes[wsid] = st
		observability.ActiveRuntimes.Inc()
		return event(wsid, core.EventStarting, core.StatusStopped, core.StatusStarting, ""), nil
	})
	return st, err
}

func (r *Registry) doStart(ctx context.Context, st *runtimeState, env *core.Environment, restore bool) (*core.RuntimeDescriptor, error) {
	log := observability.WorkspaceLogger(r.log, st.wsid, "start")

	var snapshots []*core.Snapshot
	if restore {
		found, err := r.snapshots.FindSnapshots(ctx, st.wsid)
		if err != nil {
			return nil, r.abortStart(st, core.ServerError(err, "Could not find snapshots of workspace '%s'", st.wsid), log)
		}
		for _, s := range found {
			if s.EnvName == st.envName {
				snapshots = append(snapshots, s)
			}
		}
		restore = len(snapshots) > 0
	}

	st.engineMu.Lock()
	start := time.Now()
	machines, err := r.engine.Start(ctx, envengine.StartRequest{
		WorkspaceID: st.wsid,
		EnvName:     st.envName,
		Env:         env,
		Recover:     restore,
		Snapshots:   snapshots,
	})
	observability.EngineCallDuration.WithLabelValues("start").Observe(time.Since(start).Seconds())
	if err != nil {
		st.engineMu.Unlock()
		return nil, r.abortStart(st, core.ServerError(err, "Could not start workspace '%s'", st.wsid), log)
	}
	devs := core.DevMachines(machines)
	if len(devs) != 1 {
		if stopErr := r.engine.Stop(ctx, st.wsid); stopErr != nil {
			log.Warn("cleanup of environment without dev machine failed", zap.Error(stopErr))
		}
		st.engineMu.Unlock()
		return nil, r.abortStart(st, core.ServerError(nil,
			"Dev machine is not found in active environment of workspace '%s', %d dev machines started", st.wsid, len(devs)), log)
	}
	st.engineMu.Unlock()

	var desc *core.RuntimeDescriptor
	_ = r.transition(st.wsid, func(*shard) (*core.LifecycleEvent, error) {
		st.status = core.StatusRunning
		st.machines = machines
		st.dev = devs[0]
		st.settle()
		desc = st.descriptor()
		return event(st.wsid, core.EventRunning, core.StatusStarting, core.StatusRunning, ""), nil
	})
	log.Info("workspace running", zap.String("env", st.envName), zap.Int("machines", len(machines)), zap.Bool("recovered", restore))
	return desc, nil
}

func (r *Registry) abortStart(st *runtimeState, err *core.AppError, log *zap.Logger) error {
	log.Error("workspace start failed", zap.Error(err))
	r.remove(st, core.EventError, core.StatusStarting, err.Error())
	return err
}

// remove discards the entry and publishes the terminal event.
func (r *Registry) remove(st *runtimeState, typ core.EventType, prev core.WorkspaceStatus, errMsg string) {
	_ = r.transition(st.wsid, func(sh *shard) (*core.LifecycleEvent, error) {
		if sh.runtimes[st.wsid] == st {
			delete(sh.runtimes, st.wsid)
			observability.ActiveRuntimes.Dec()
		}
		st.status = core.StatusStopped
		st.settle()
		return event(st.wsid, typ, prev, core.StatusStopped, errMsg), nil
	})
}

// Stop tears the environment down and removes the entry. The entry stays
// visible as STOPPING until the engine returns; it is removed even when
// the engine fails.
func (r *Registry) Stop(ctx context.Context, wsid string) error {
	st, err := r.beginStop(wsid)
	if err != nil {
		return err
	}
	return r.doStop(ctx, st)
}

// StopAsync accepts the stop synchronously, recording STOPPING, and runs
// the teardown on the worker pool. When the pool refuses the work the
// workspace goes back to RUNNING and a server error is returned.
func (r *Registry) StopAsync(wsid string) (*workerpool.Future, error) {
	st, err := r.beginStop(wsid)
	if err != nil {
		return nil, err
	}
	fut, err := r.pool.Submit("stop", func(ctx context.Context) error {
		return r.doStop(ctx, st)
	})
	if err != nil {
		appErr := core.ServerError(err, "Could not stop workspace '%s'", wsid)
		r.release(st, core.StatusStopping, appErr.Error())
		return nil, appErr
	}
	return fut, nil
}

// release returns a claimed runtime to RUNNING when the work it was
// claimed for never reached the engine. The machines are still up, so the
// entry stays.
func (r *Registry) release(st *runtimeState, prev core.WorkspaceStatus, errMsg string) {
	_ = r.transition(st.wsid, func(*shard) (*core.LifecycleEvent, error) {
		st.status = core.StatusRunning
		st.settle()
		return event(st.wsid, core.EventError, prev, core.StatusRunning, errMsg), nil
	})
}

func (r *Registry) beginStop(wsid string) (*runtimeState, error) {
	var st *runtimeState
	err := r.transition(wsid, func(sh *shard) (*core.LifecycleEvent, error) {
		var err error
		if st, err = claim(sh, wsid, "stop"); err != nil {
			return nil, err
		}
		st.status = core.StatusStopping
		return event(wsid, core.EventStopping, core.StatusRunning, core.StatusStopping, ""), nil
	})
	return st, err
}

func (r *Registry) doStop(ctx context.Context, st *runtimeState) error {
	log := observability.WorkspaceLogger(r.log, st.wsid, "stop")

	st.engineMu.Lock()
	start := time.Now()
	err := r.engine.Stop(ctx, st.wsid)
	observability.EngineCallDuration.WithLabelValues("stop").Observe(time.Since(start).Seconds())
	st.engineMu.Unlock()

	if err != nil {
		appErr := core.ServerError(err, "Could not stop workspace '%s'", st.wsid)
		log.Error("workspace stop failed", zap.Error(appErr))
		r.remove(st, core.EventError, core.StatusStopping, appErr.Error())
		return appErr
	}
	r.remove(st, core.EventStopped, core.StatusStopping, "")
	log.Info("workspace stopped")
	return nil
}

// Get returns a copy of the runtime. The machine list is refreshed from
// the engine when the workspace is RUNNING and no operation is in flight.
func (r *Registry) Get(ctx context.Context, wsid string) (*core.RuntimeDescriptor, error) {
	sh := r.shard(wsid)
	sh.mu.Lock()
	st, ok := sh.runtimes[wsid]
	if !ok {
		sh.mu.Unlock()
		return nil, core.NotFoundf("Workspace with id '%s' is not running", wsid)
	}
	idle := st.busy == nil && st.status == core.StatusRunning
	sh.mu.Unlock()

	if idle && st.engineMu.TryLock() {
		machines, err := r.engine.GetMachines(ctx, wsid)
		st.engineMu.Unlock()
		if err != nil {
			r.log.Warn("refresh machines failed", zap.String("wsid", wsid), zap.Error(err))
		} else {
			sh.mu.Lock()
			if sh.runtimes[wsid] == st && st.busy == nil {
				st.machines = machines
				if devs := core.DevMachines(machines); len(devs) == 1 {
					st.dev = devs[0]
				}
			}
			sh.mu.Unlock()
		}
	}

	sh.mu.Lock()
	defer sh.mu.Unlock()
	if sh.runtimes[wsid] != st {
		return nil, core.NotFoundf("Workspace with id '%s' is not running", wsid)
	}
	return st.descriptor(), nil
}

// Status returns the current status without contacting the engine.
func (r *Registry) Status(wsid string) core.WorkspaceStatus {
	sh := r.shard(wsid)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if st, ok := sh.runtimes[wsid]; ok {
		return st.status
	}
	return core.StatusStopped
}

func (r *Registry) HasRuntime(wsid string) bool {
	sh := r.shard(wsid)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	_, ok := sh.runtimes[wsid]
	return ok
}

// RuntimeIDs lists the workspaces that currently have a runtime.
func (r *Registry) RuntimeIDs() []string {
	var ids []string
	for i := range r.shards {
		sh := &r.shards[i]
		sh.mu.Lock()
		for id := range sh.runtimes {
			ids = append(ids, id)
		}
		sh.mu.Unlock()
	}
	return ids
}

// RefuseStarts makes every later start fail with a conflict.
func (r *Registry) RefuseStarts() {
	r.refusing.Store(true)
}

// WaitIdle blocks until no operation is in flight for wsid. It returns
// immediately when the workspace has no runtime.
func (r *Registry) WaitIdle(ctx context.Context, wsid string) error {
	sh := r.shard(wsid)
	for {
		sh.mu.Lock()
		st, ok := sh.runtimes[wsid]
		if !ok || st.busy == nil {
			sh.mu.Unlock()
			return nil
		}
		busy := st.busy
		sh.mu.Unlock()

		select {
		case <-busy:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
