package runtime

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/lzjever/mbos-wrt/internal/core"
	"github.com/lzjever/mbos-wrt/internal/envengine"
	"github.com/lzjever/mbos-wrt/internal/workerpool"
)

// fakeEngine records calls and flags overlapping calls for one workspace.
type fakeEngine struct {
	mu        sync.Mutex
	running   map[string][]*core.Machine
	inflight  map[string]int
	lastStart envengine.StartRequest
	removed   []string
	discarded []string

	overlap atomic.Bool
	starts  atomic.Int32
	stops   atomic.Int32

	startGate  chan struct{}
	saveGate   chan struct{}
	startErr   error
	stopErr    error
	noDev      bool
	multiDev   bool
	saveErrFor string
	discardErr error
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		running:  make(map[string][]*core.Machine),
		inflight: make(map[string]int),
	}
}

func (e *fakeEngine) enter(wsid string) func() {
	e.mu.Lock()
	e.inflight[wsid]++
	if e.inflight[wsid] > 1 {
		e.overlap.Store(true)
	}
	e.mu.Unlock()
	return func() {
		e.mu.Lock()
		e.inflight[wsid]--
		e.mu.Unlock()
	}
}

func (e *fakeEngine) Start(ctx context.Context, req envengine.StartRequest) ([]*core.Machine, error) {
	defer e.enter(req.WorkspaceID)()
	e.starts.Add(1)
	if e.startGate != nil {
		<-e.startGate
	}
	if e.startErr != nil {
		return nil, e.startErr
	}
	names := make([]string, 0, len(req.Env.Machines))
	for name := range req.Env.Machines {
		names = append(names, name)
	}
	sort.Strings(names)
	var machines []*core.Machine
	for _, name := range names {
		cfg := *req.Env.Machines[name]
		switch {
		case e.noDev:
			cfg.Dev = false
		case e.multiDev:
			cfg.Dev = true
		}
		machines = append(machines, &core.Machine{
			ID:          fmt.Sprintf("machine-%s-%s", req.WorkspaceID, name),
			Name:        name,
			WorkspaceID: req.WorkspaceID,
			EnvName:     req.EnvName,
			Config:      cfg,
			Status:      core.MachineRunning,
		})
	}
	e.mu.Lock()
	e.lastStart = req
	e.running[req.WorkspaceID] = machines
	e.mu.Unlock()
	return machines, nil
}

func (e *fakeEngine) Stop(ctx context.Context, wsid string) error {
	defer e.enter(wsid)()
	e.stops.Add(1)
	e.mu.Lock()
	delete(e.running, wsid)
	e.mu.Unlock()
	return e.stopErr
}

func (e *fakeEngine) GetMachines(ctx context.Context, wsid string) ([]*core.Machine, error) {
	defer e.enter(wsid)()
	e.mu.Lock()
	defer e.mu.Unlock()
	machines, ok := e.running[wsid]
	if !ok {
		return nil, errors.New("not running")
	}
	return append([]*core.Machine(nil), machines...), nil
}

func (e *fakeEngine) StartMachine(ctx context.Context, wsid, name string, cfg *core.MachineConfig, agents []string) (*core.Machine, error) {
	defer e.enter(wsid)()
	m := &core.Machine{ID: "machine-" + wsid + "-" + name, Name: name, WorkspaceID: wsid, Config: *cfg, Status: core.MachineRunning}
	e.mu.Lock()
	e.running[wsid] = append(e.running[wsid], m)
	e.mu.Unlock()
	return m, nil
}

func (e *fakeEngine) StopMachine(ctx context.Context, wsid, machineID string) error {
	defer e.enter(wsid)()
	e.mu.Lock()
	defer e.mu.Unlock()
	var kept []*core.Machine
	for _, m := range e.running[wsid] {
		if m.ID != machineID {
			kept = append(kept, m)
		}
	}
	e.running[wsid] = kept
	return nil
}

func (e *fakeEngine) SaveSnapshot(ctx context.Context, wsid, machineID string) (*core.Snapshot, error) {
	defer e.enter(wsid)()
	if e.saveGate != nil {
		<-e.saveGate
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, m := range e.running[wsid] {
		if m.ID != machineID {
			continue
		}
		if m.Name == e.saveErrFor {
			return nil, errors.New("disk full")
		}
		return &core.Snapshot{ID: core.NewID(), Source: core.MachineSource{Type: "image", Location: "reg/" + m.Name}}, nil
	}
	return nil, errors.New("no such machine")
}

func (e *fakeEngine) RemoveSnapshot(ctx context.Context, s *core.Snapshot) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.removed = append(e.removed, s.ID)
	return nil
}

func (e *fakeEngine) RemoveSnapshotBinaries(ctx context.Context, snapshots []*core.Snapshot) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, s := range snapshots {
		e.discarded = append(e.discarded, s.ID)
	}
	return e.discardErr
}

func (e *fakeEngine) hasEnvironment(wsid string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.running[wsid]
	return ok
}

func (e *fakeEngine) removedIDs() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.removed...)
}

func (e *fakeEngine) discardedIDs() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.discarded...)
}

type memSnapshots struct {
	mu         sync.Mutex
	byWS       map[string][]*core.Snapshot
	replaceErr error
	removeErr  error
}

func newMemSnapshots() *memSnapshots {
	return &memSnapshots{byWS: make(map[string][]*core.Snapshot)}
}

func (s *memSnapshots) FindSnapshots(ctx context.Context, wsid string) ([]*core.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*core.Snapshot(nil), s.byWS[wsid]...), nil
}

func (s *memSnapshots) ReplaceSnapshots(ctx context.Context, wsid, envName string, snapshots []*core.Snapshot) ([]*core.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.replaceErr != nil {
		return nil, s.replaceErr
	}
	var old, kept []*core.Snapshot
	for _, snap := range s.byWS[wsid] {
		if snap.EnvName == envName {
			old = append(old, snap)
		} else {
			kept = append(kept, snap)
		}
	}
	s.byWS[wsid] = append(kept, snapshots...)
	return old, nil
}

func (s *memSnapshots) RemoveSnapshot(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.removeErr != nil {
		return s.removeErr
	}
	for wsid, snaps := range s.byWS {
		for i, snap := range snaps {
			if snap.ID == id {
				s.byWS[wsid] = append(snaps[:i:i], snaps[i+1:]...)
				return nil
			}
		}
	}
	return nil
}

type recorder struct {
	mu     sync.Mutex
	events []core.LifecycleEvent
}

func (r *recorder) Publish(ev core.LifecycleEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) types(wsid string) []core.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []core.EventType
	for _, ev := range r.events {
		if ev.WorkspaceID == wsid {
			out = append(out, ev.Type)
		}
	}
	return out
}

func (r *recorder) last(wsid string) core.LifecycleEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.events) - 1; i >= 0; i-- {
		if r.events[i].WorkspaceID == wsid {
			return r.events[i]
		}
	}
	return core.LifecycleEvent{}
}

type rejectingPool struct{}

func (rejectingPool) Submit(string, workerpool.Task) (*workerpool.Future, error) {
	return nil, workerpool.ErrQueueFull
}

// switchPool forwards to a real pool until reject is set.
type switchPool struct {
	pool   *workerpool.Pool
	reject atomic.Bool
}

func (p *switchPool) Submit(op string, fn workerpool.Task) (*workerpool.Future, error) {
	if p.reject.Load() {
		return nil, workerpool.ErrQueueFull
	}
	return p.pool.Submit(op, fn)
}

func testWorkspace(id string) *core.Workspace {
	return &core.Workspace{
		ID:        id,
		Namespace: "alice",
		Config: core.WorkspaceConfig{
			Name:       "project-" + id,
			DefaultEnv: "default",
			Environments: map[string]*core.Environment{
				"default": {
					Recipe: core.Recipe{Type: "compose"},
					Machines: map[string]*core.MachineConfig{
						"dev-machine": {Dev: true, Servers: map[string]core.ServerConfig{"ide": {Port: "4401/tcp"}}},
						"db":          {},
					},
				},
				"other": {
					Recipe:   core.Recipe{Type: "compose"},
					Machines: map[string]*core.MachineConfig{"dev-machine": {Dev: true}},
				},
			},
		},
	}
}
