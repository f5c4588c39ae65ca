package runtime

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/lzjever/mbos-wrt/internal/core"
	"github.com/lzjever/mbos-wrt/internal/observability"
)

// StartMachine adds a non-dev machine to a RUNNING workspace.
func (r *Registry) StartMachine(ctx context.Context, wsid, name string, cfg *core.MachineConfig) (*core.Machine, error) {
	if err := core.ValidateMachine(name, cfg); err != nil {
		return nil, err
	}
	if cfg.Dev {
		return nil, core.Validationf("Adding dev machine to running workspace '%s' is not allowed", wsid)
	}

	sh := r.shard(wsid)
	sh.mu.Lock()
	st, err := claim(sh, wsid, "start machine in")
	if err == nil {
		for _, m := range st.machines {
			if m.Name == name {
				st.settle()
				err = core.Conflictf("Machine '%s' already exists in workspace '%s'", name, wsid)
				break
			}
		}
	}
	sh.mu.Unlock()
	if err != nil {
		return nil, err
	}

	st.engineMu.Lock()
	start := time.Now()
	m, engErr := r.engine.StartMachine(ctx, wsid, name, cfg, cfg.Agents)
	observability.EngineCallDuration.WithLabelValues("start_machine").Observe(time.Since(start).Seconds())
	st.engineMu.Unlock()

	sh.mu.Lock()
	defer sh.mu.Unlock()
	st.settle()
	if engErr != nil {
		return nil, core.ServerError(engErr, "Could not start machine '%s' in workspace '%s'", name, wsid)
	}
	st.machines = append(st.machines, m)
	cp := *m
	r.log.Info("machine started", zap.String("wsid", wsid), zap.String("machine", name), zap.String("machine_id", m.ID))
	return &cp, nil
}

// StopMachine stops one non-dev machine of a RUNNING workspace.
func (r *Registry) StopMachine(ctx context.Context, wsid, machineID string) error {
	sh := r.shard(wsid)
	sh.mu.Lock()
	st, err := claim(sh, wsid, "stop machine in")
	if err == nil {
		err = stoppable(st, machineID)
		if err != nil {
			st.settle()
		}
	}
	sh.mu.Unlock()
	if err != nil {
		return err
	}

	st.engineMu.Lock()
	start := time.Now()
	engErr := r.engine.StopMachine(ctx, wsid, machineID)
	observability.EngineCallDuration.WithLabelValues("stop_machine").Observe(time.Since(start).Seconds())
	st.engineMu.Unlock()

	sh.mu.Lock()
	defer sh.mu.Unlock()
	st.settle()
	if engErr != nil {
		return core.ServerError(engErr, "Could not stop machine '%s' in workspace '%s'", machineID, wsid)
	}
	kept := st.machines[:0]
	for _, m := range st.machines {
		if m.ID != machineID {
			kept = append(kept, m)
		}
	}
	st.machines = kept
	r.log.Info("machine stopped", zap.String("wsid", wsid), zap.String("machine_id", machineID))
	return nil
}

func stoppable(st *runtimeState, machineID string) error {
	for _, m := range st.machines {
		if m.ID != machineID {
			continue
		}
		if m.Config.Dev {
			return core.Conflictf("Stop of dev machine is not allowed. Please, stop whole workspace")
		}
		return nil
	}
	return core.NotFoundf("Machine with id '%s' is not found in workspace '%s'", machineID, st.wsid)
}

// GetMachine returns one machine of a running workspace.
func (r *Registry) GetMachine(ctx context.Context, wsid, machineID string) (*core.Machine, error) {
	desc, err := r.Get(ctx, wsid)
	if err != nil {
		return nil, err
	}
	m, ok := desc.Machine(machineID)
	if !ok {
		return nil, core.NotFoundf("Machine with id '%s' is not found in workspace '%s'", machineID, wsid)
	}
	return m, nil
}
