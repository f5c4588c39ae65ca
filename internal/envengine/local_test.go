package envengine

import (
	"context"
	"testing"

	"go.uber.org/zap"

	"github.com/lzjever/mbos-wrt/internal/core"
)

func testEnv() *core.Environment {
	return &core.Environment{
		Recipe: core.Recipe{Type: "compose"},
		Machines: map[string]*core.MachineConfig{
			"dev-machine": {
				Dev:     true,
				Source:  core.MachineSource{Type: "image", Location: "eclipse/ubuntu_jdk8"},
				Servers: map[string]core.ServerConfig{"ide": {Port: "4401/tcp", Protocol: "http", Path: "/ide"}},
			},
			"db": {Source: core.MachineSource{Type: "image", Location: "postgres:16"}},
		},
	}
}

func TestLocal_StartStop(t *testing.T) {
	ctx := context.Background()
	e := NewLocal(Config{}, zap.NewNop())

	machines, err := e.Start(ctx, StartRequest{WorkspaceID: "ws-1", EnvName: "default", Env: testEnv()})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if len(machines) != 2 {
		t.Fatalf("expected 2 machines, got %d", len(machines))
	}
	devs := core.DevMachines(machines)
	if len(devs) != 1 || devs[0].Name != "dev-machine" {
		t.Fatalf("expected dev-machine to be dev, got %v", devs)
	}
	srv, ok := devs[0].Runtime.Servers["4401"]
	if !ok || srv.URL != "http://localhost:32768/ide" {
		t.Errorf("unexpected server %+v", srv)
	}

	if _, err := e.Start(ctx, StartRequest{WorkspaceID: "ws-1", EnvName: "default", Env: testEnv()}); err == nil {
		t.Error("second start of the same workspace should fail")
	}
	if err := e.Stop(ctx, "ws-1"); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if _, err := e.GetMachines(ctx, "ws-1"); err == nil {
		t.Error("machines should be gone after stop")
	}
}

func TestLocal_SnapshotAndRecover(t *testing.T) {
	ctx := context.Background()
	e := NewLocal(Config{SnapshotRegistry: "reg"}, zap.NewNop())

	machines, _ := e.Start(ctx, StartRequest{WorkspaceID: "ws-1", EnvName: "default", Env: testEnv()})
	dev := core.DevMachines(machines)[0]
	snap, err := e.SaveSnapshot(ctx, "ws-1", dev.ID)
	if err != nil {
		t.Fatalf("save snapshot: %v", err)
	}
	if !snap.Dev || snap.MachineName != "dev-machine" || !e.HasImage(snap.Source.Location) {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	_ = e.Stop(ctx, "ws-1")

	machines, err = e.Start(ctx, StartRequest{
		WorkspaceID: "ws-1", EnvName: "default", Env: testEnv(),
		Recover: true, Snapshots: []*core.Snapshot{snap},
	})
	if err != nil {
		t.Fatalf("recover start: %v", err)
	}
	for _, m := range machines {
		if m.Name == "dev-machine" && m.Config.Source.Location != snap.Source.Location {
			t.Errorf("dev machine should boot from snapshot, got %s", m.Config.Source.Location)
		}
		if m.Name == "db" && m.Config.Source.Location != "postgres:16" {
			t.Errorf("db machine should boot clean, got %s", m.Config.Source.Location)
		}
	}
	_ = e.Stop(ctx, "ws-1")

	if err := e.RemoveSnapshotBinaries(ctx, []*core.Snapshot{snap}); err != nil {
		t.Fatalf("remove binaries: %v", err)
	}
	if _, err := e.Start(ctx, StartRequest{
		WorkspaceID: "ws-1", EnvName: "default", Env: testEnv(),
		Recover: true, Snapshots: []*core.Snapshot{snap},
	}); err == nil {
		t.Fatal("recovering from a removed image should fail")
	}
}

func TestLocal_MachineOperations(t *testing.T) {
	ctx := context.Background()
	e := NewLocal(Config{}, zap.NewNop())
	_, _ = e.Start(ctx, StartRequest{WorkspaceID: "ws-1", EnvName: "default", Env: testEnv()})

	m, err := e.StartMachine(ctx, "ws-1", "tools", &core.MachineConfig{}, []string{"exec-agent"})
	if err != nil {
		t.Fatalf("start machine: %v", err)
	}
	if len(m.Config.Agents) != 1 {
		t.Errorf("agents should be recorded, got %v", m.Config.Agents)
	}
	if _, err := e.StartMachine(ctx, "ws-1", "tools", &core.MachineConfig{}, nil); err == nil {
		t.Error("duplicate machine name should fail")
	}
	if err := e.StopMachine(ctx, "ws-1", m.ID); err != nil {
		t.Fatalf("stop machine: %v", err)
	}
	machines, _ := e.GetMachines(ctx, "ws-1")
	if len(machines) != 2 {
		t.Errorf("expected 2 machines after stopping the extra one, got %d", len(machines))
	}
}
