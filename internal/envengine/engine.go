// Package envengine defines the contract of the environment engine that
// provisions workspace machines, and ships an in-process implementation.
package envengine

import (
	"context"

	"github.com/lzjever/mbos-wrt/internal/core"
)

// StartRequest describes one environment start.
type StartRequest struct {
	WorkspaceID string
	EnvName     string
	Env         *core.Environment
	// Recover asks the engine to boot machines from Snapshots instead of
	// their configured sources. Machines without a snapshot boot clean.
	Recover   bool
	Snapshots []*core.Snapshot
}

// Engine is the environment engine consumed by the runtime registry. The
// registry never issues two calls for the same workspace concurrently.
type Engine interface {
	Start(ctx context.Context, req StartRequest) ([]*core.Machine, error)
	Stop(ctx context.Context, wsid string) error
	GetMachines(ctx context.Context, wsid string) ([]*core.Machine, error)
	StartMachine(ctx context.Context, wsid, name string, cfg *core.MachineConfig, agents []string) (*core.Machine, error)
	StopMachine(ctx context.Context, wsid, machineID string) error
	SaveSnapshot(ctx context.Context, wsid, machineID string) (*core.Snapshot, error)
	RemoveSnapshot(ctx context.Context, snapshot *core.Snapshot) error
	RemoveSnapshotBinaries(ctx context.Context, snapshots []*core.Snapshot) error
}
