package envengine

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lzjever/mbos-wrt/internal/core"
)

// Local simulates machines in memory. Snapshot "images" are tracked by
// reference so that recovery and cleanup behave like a real registry.
type Local struct {
	cfg Config
	log *zap.Logger

	mu       sync.Mutex
	envs     map[string]*localEnv
	images   map[string]bool
	nextPort int
}

type localEnv struct {
	name     string
	machines []*core.Machine
}

func NewLocal(cfg Config, log *zap.Logger) *Local {
	if cfg.FirstHostPort <= 0 {
		cfg.FirstHostPort = 32768
	}
	if cfg.SnapshotRegistry == "" {
		cfg.SnapshotRegistry = "localhost:5000/wrt"
	}
	return &Local{
		cfg:      cfg,
		log:      log,
		envs:     make(map[string]*localEnv),
		images:   make(map[string]bool),
		nextPort: cfg.FirstHostPort,
	}
}

func (e *Local) Start(ctx context.Context, req StartRequest) ([]*core.Machine, error) {
	if req.Env == nil {
		return nil, fmt.Errorf("environment '%s' of workspace '%s' is empty", req.EnvName, req.WorkspaceID)
	}
	if e.cfg.StartDelay > 0 {
		select {
		case <-time.After(e.cfg.StartDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.envs[req.WorkspaceID]; ok {
		return nil, fmt.Errorf("environment of workspace '%s' is already running", req.WorkspaceID)
	}

	names := make([]string, 0, len(req.Env.Machines))
	for name := range req.Env.Machines {
		names = append(names, name)
	}
	sort.Strings(names)

	env := &localEnv{name: req.EnvName}
	for _, name := range names {
		cfg := *req.Env.Machines[name]
		if req.Recover {
			if snap := findSnapshot(req.Snapshots, req.EnvName, name); snap != nil {
				if !e.images[snap.Source.Location] {
					return nil, fmt.Errorf("snapshot image '%s' of machine '%s' is missing", snap.Source.Location, name)
				}
				cfg.Source = snap.Source
			}
		}
		env.machines = append(env.machines, e.newMachine(req.WorkspaceID, req.EnvName, name, cfg))
	}
	e.envs[req.WorkspaceID] = env
	e.log.Info("environment started",
		zap.String("wsid", req.WorkspaceID),
		zap.String("env", req.EnvName),
		zap.Int("machines", len(env.machines)),
		zap.Bool("recover", req.Recover),
	)
	return cloneMachines(env.machines), nil
}

func (e *Local) Stop(ctx context.Context, wsid string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.envs[wsid]; !ok {
		return fmt.Errorf("environment of workspace '%s' is not running", wsid)
	}
	delete(e.envs, wsid)
	e.log.Info("environment stopped", zap.String("wsid", wsid))
	return nil
}

func (e *Local) GetMachines(ctx context.Context, wsid string) ([]*core.Machine, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	env, ok := e.envs[wsid]
	if !ok {
		return nil, fmt.Errorf("environment of workspace '%s' is not running", wsid)
	}
	return cloneMachines(env.machines), nil
}

func (e *Local) StartMachine(ctx context.Context, wsid, name string, cfg *core.MachineConfig, agents []string) (*core.Machine, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	env, ok := e.envs[wsid]
	if !ok {
		return nil, fmt.Errorf("environment of workspace '%s' is not running", wsid)
	}
	for _, m := range env.machines {
		if m.Name == name {
			return nil, fmt.Errorf("machine '%s' already exists in workspace '%s'", name, wsid)
		}
	}
	c := *cfg
	c.Agents = append([]string(nil), agents...)
	m := e.newMachine(wsid, env.name, name, c)
	env.machines = append(env.machines, m)
	return cloneMachine(m), nil
}

func (e *Local) StopMachine(ctx context.Context, wsid, machineID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	env, ok := e.envs[wsid]
	if !ok {
		return fmt.Errorf("environment of workspace '%s' is not running", wsid)
	}
	for i, m := range env.machines {
		if m.ID == machineID {
			env.machines = append(env.machines[:i], env.machines[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("machine '%s' not found in workspace '%s'", machineID, wsid)
}

func (e *Local) SaveSnapshot(ctx context.Context, wsid, machineID string) (*core.Snapshot, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	env, ok := e.envs[wsid]
	if !ok {
		return nil, fmt.Errorf("environment of workspace '%s' is not running", wsid)
	}
	for _, m := range env.machines {
		if m.ID != machineID {
			continue
		}
		id := uuid.NewString()
		ref := fmt.Sprintf("%s/%s/%s:%s", e.cfg.SnapshotRegistry, wsid, m.Name, id[:8])
		e.images[ref] = true
		return &core.Snapshot{
			ID:          id,
			WorkspaceID: wsid,
			EnvName:     env.name,
			MachineName: m.Name,
			Dev:         m.Config.Dev,
			Source:      core.MachineSource{Type: "image", Location: ref},
			CreatedAt:   time.Now().UTC(),
		}, nil
	}
	return nil, fmt.Errorf("machine '%s' not found in workspace '%s'", machineID, wsid)
}

// RemoveSnapshot is idempotent: a missing image is not an error.
func (e *Local) RemoveSnapshot(ctx context.Context, snapshot *core.Snapshot) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.images, snapshot.Source.Location)
	return nil
}

func (e *Local) RemoveSnapshotBinaries(ctx context.Context, snapshots []*core.Snapshot) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, s := range snapshots {
		delete(e.images, s.Source.Location)
	}
	return nil
}

// HasImage reports whether a snapshot image is still present.
func (e *Local) HasImage(ref string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.images[ref]
}

func (e *Local) newMachine(wsid, envName, name string, cfg core.MachineConfig) *core.Machine {
	rt := &core.MachineRuntime{
		Ports:   map[string]string{},
		Servers: map[string]core.Server{},
		Env: map[string]string{
			"WRT_WORKSPACE_ID": wsid,
			"WRT_MACHINE_NAME": name,
		},
	}
	for k, v := range cfg.Env {
		rt.Env[k] = v
	}
	refs := make([]string, 0, len(cfg.Servers))
	for ref := range cfg.Servers {
		refs = append(refs, ref)
	}
	sort.Strings(refs)
	for _, ref := range refs {
		srv := cfg.Servers[ref]
		port := strings.SplitN(srv.Port, "/", 2)[0]
		host := strconv.Itoa(e.nextPort)
		e.nextPort++
		rt.Ports[srv.Port] = host
		server := core.Server{Ref: ref, Address: "localhost:" + host, Protocol: srv.Protocol}
		if srv.Protocol != "" {
			server.URL = srv.Protocol + "://localhost:" + host + srv.Path
		}
		rt.Servers[port] = server
	}
	return &core.Machine{
		ID:          "machine-" + uuid.NewString(),
		Name:        name,
		WorkspaceID: wsid,
		EnvName:     envName,
		Config:      cfg,
		Status:      core.MachineRunning,
		Runtime:     rt,
	}
}

func findSnapshot(snapshots []*core.Snapshot, envName, machine string) *core.Snapshot {
	for _, s := range snapshots {
		if s.EnvName == envName && s.MachineName == machine {
			return s
		}
	}
	return nil
}

func cloneMachine(m *core.Machine) *core.Machine {
	cp := *m
	return &cp
}

func cloneMachines(ms []*core.Machine) []*core.Machine {
	out := make([]*core.Machine, len(ms))
	for i, m := range ms {
		out[i] = cloneMachine(m)
	}
	return out
}
