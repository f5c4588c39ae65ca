package runtime

import (
	"context"
	"errors"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/lzjever/mbos-wrt/internal/core"
)

func TestSnapshot_ReplacesPrevious(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.start(t, "ws-1")

	if err := f.reg.Snapshot(ctx, "ws-1"); err != nil {
		t.Fatalf("first snapshot: %v", err)
	}
	first, _ := f.snaps.FindSnapshots(ctx, "ws-1")
	if len(first) != 2 {
		t.Fatalf("expected one snapshot per machine, got %d", len(first))
	}
	for _, s := range first {
		if s.WorkspaceID != "ws-1" || s.EnvName != "default" || s.MachineName == "" {
			t.Errorf("snapshot metadata incomplete: %+v", s)
		}
		if s.Dev != (s.MachineName == "dev-machine") {
			t.Errorf("dev flag wrong for %s", s.MachineName)
		}
	}

	if err := f.reg.Snapshot(ctx, "ws-1"); err != nil {
		t.Fatalf("second snapshot: %v", err)
	}
	second, _ := f.snaps.FindSnapshots(ctx, "ws-1")
	if len(second) != 2 {
		t.Fatalf("expected previous snapshots to be replaced, got %d", len(second))
	}
	removed := f.engine.removedIDs()
	if len(removed) != 2 || (removed[0] != first[0].ID && removed[1] != first[0].ID) {
		t.Errorf("expected binaries of first snapshots removed, got %v", removed)
	}

	if f.reg.Status("ws-1") != core.StatusRunning {
		t.Fatalf("expected RUNNING after snapshot, got %s", f.reg.Status("ws-1"))
	}
	assertTypes(t, f.events.types("ws-1"),
		core.EventStarting, core.EventRunning,
		core.EventSnapshotCreating, core.EventSnapshotCreated,
		core.EventSnapshotCreating, core.EventSnapshotCreated)
}

func TestSnapshot_MachineFailureKeepsPrevious(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.start(t, "ws-1")
	if err := f.reg.Snapshot(ctx, "ws-1"); err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	before, _ := f.snaps.FindSnapshots(ctx, "ws-1")

	// Machines are saved in name order so db succeeds first.
	f.engine.saveErrFor = "dev-machine"
	err := f.reg.Snapshot(ctx, "ws-1")
	if core.CodeOf(err) != core.ErrServer {
		t.Fatalf("expected server error, got %v", err)
	}
	after, _ := f.snaps.FindSnapshots(ctx, "ws-1")
	if len(after) != len(before) || after[0].ID != before[0].ID {
		t.Fatal("failed snapshot must not touch stored snapshots")
	}
	if len(f.engine.discardedIDs()) != 1 {
		t.Errorf("expected the partial snapshot to be discarded, got %v", f.engine.discardedIDs())
	}
	if f.reg.Status("ws-1") != core.StatusRunning {
		t.Fatalf("expected RUNNING after failed snapshot, got %s", f.reg.Status("ws-1"))
	}
	ev := f.events.last("ws-1")
	if ev.Type != core.EventSnapshotCreationError || ev.Status != core.StatusRunning || ev.Error == "" {
		t.Errorf("unexpected final event %+v", ev)
	}
}

func TestSnapshot_StoreFailureDiscardsBinaries(t *testing.T) {
	f := newFixture(t)
	f.start(t, "ws-1")
	f.snaps.replaceErr = errors.New("db down")

	if err := f.reg.Snapshot(context.Background(), "ws-1"); core.CodeOf(err) != core.ErrServer {
		t.Fatalf("expected server error, got %v", err)
	}
	if got := len(f.engine.discardedIDs()); got != 2 {
		t.Fatalf("expected 2 discarded snapshots, got %d", got)
	}
	if f.reg.Status("ws-1") != core.StatusRunning {
		t.Fatalf("expected RUNNING, got %s", f.reg.Status("ws-1"))
	}
}

func TestSnapshot_Rejections(t *testing.T) {
	f := newFixture(t)
	if err := f.reg.Snapshot(context.Background(), "ws-1"); !core.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}

	f.start(t, "ws-1")
	f.engine.saveGate = make(chan struct{})
	fut, err := f.reg.SnapshotAsync("ws-1")
	if err != nil {
		t.Fatalf("snapshot async: %v", err)
	}
	err = f.reg.Snapshot(context.Background(), "ws-1")
	if !core.IsConflict(err) || !strings.Contains(err.Error(), "SNAPSHOTTING") {
		t.Fatalf("expected conflict mentioning SNAPSHOTTING, got %v", err)
	}
	if err := f.reg.Stop(context.Background(), "ws-1"); !core.IsConflict(err) {
		t.Fatalf("expected stop conflict while snapshotting, got %v", err)
	}
	close(f.engine.saveGate)
	if err := waitFuture(t, fut); err != nil {
		t.Fatalf("snapshot: %v", err)
	}

	again, err := f.reg.SnapshotAsync("ws-1")
	if err != nil {
		t.Fatalf("snapshot after completion: %v", err)
	}
	if err := waitFuture(t, again); err != nil {
		t.Fatalf("second snapshot: %v", err)
	}
}

func TestSnapshotAndStopAsync_HoldsClaim(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.start(t, "ws-1")
	f.engine.saveGate = make(chan struct{})

	fut, err := f.reg.SnapshotAndStopAsync("ws-1")
	if err != nil {
		t.Fatalf("snapshot and stop: %v", err)
	}
	if _, err := f.reg.SnapshotAsync("ws-1"); !core.IsConflict(err) {
		t.Errorf("snapshot: expected conflict, got %v", err)
	}
	if _, err := f.reg.StartMachine(ctx, "ws-1", "cache", &core.MachineConfig{}); !core.IsConflict(err) {
		t.Errorf("start machine: expected conflict, got %v", err)
	}
	if err := f.reg.Stop(ctx, "ws-1"); !core.IsConflict(err) {
		t.Errorf("stop: expected conflict, got %v", err)
	}

	close(f.engine.saveGate)
	if err := waitFuture(t, fut); err != nil {
		t.Fatalf("snapshot and stop: %v", err)
	}
	if f.reg.HasRuntime("ws-1") || f.engine.hasEnvironment("ws-1") {
		t.Fatal("workspace should be stopped")
	}
	if snaps, _ := f.snaps.FindSnapshots(ctx, "ws-1"); len(snaps) != 2 {
		t.Fatalf("expected 2 snapshots, got %d", len(snaps))
	}
	assertTypes(t, f.events.types("ws-1"),
		core.EventStarting, core.EventRunning,
		core.EventSnapshotCreating, core.EventSnapshotCreated,
		core.EventStopping, core.EventStopped)
}

func TestSnapshotAndStopAsync_SnapshotFailureStillStops(t *testing.T) {
	f := newFixture(t)
	f.start(t, "ws-1")
	f.engine.saveErrFor = "dev-machine"

	fut, err := f.reg.SnapshotAndStopAsync("ws-1")
	if err != nil {
		t.Fatalf("snapshot and stop: %v", err)
	}
	if err := waitFuture(t, fut); err != nil {
		t.Fatalf("stop should succeed after failed snapshot: %v", err)
	}
	if f.reg.HasRuntime("ws-1") {
		t.Fatal("runtime should be removed")
	}
	assertTypes(t, f.events.types("ws-1"),
		core.EventStarting, core.EventRunning,
		core.EventSnapshotCreating, core.EventSnapshotCreationError,
		core.EventStopping, core.EventStopped)
}

func TestSnapshotAndStopAsync_Rejections(t *testing.T) {
	f := newFixture(t)
	if _, err := f.reg.SnapshotAndStopAsync("ws-1"); !core.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}

	sp := &switchPool{pool: f.pool}
	f.reg = New(f.engine, f.snaps, f.events, sp, zap.NewNop())
	f.start(t, "ws-1")
	sp.reject.Store(true)

	_, err := f.reg.SnapshotAndStopAsync("ws-1")
	if core.CodeOf(err) != core.ErrServer || !strings.Contains(err.Error(), "Could not stop") {
		t.Fatalf("expected stop server error, got %v", err)
	}
	if f.reg.Status("ws-1") != core.StatusRunning || !f.engine.hasEnvironment("ws-1") {
		t.Fatalf("expected RUNNING with machines kept, got %s", f.reg.Status("ws-1"))
	}
	if err := f.reg.Stop(context.Background(), "ws-1"); err != nil {
		t.Fatalf("workspace should be stoppable again: %v", err)
	}
}

func TestRemoveSnapshots(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.start(t, "ws-1")
	if err := f.reg.Snapshot(ctx, "ws-1"); err != nil {
		t.Fatalf("snapshot: %v", err)
	}

	if err := f.reg.RemoveSnapshots(ctx, "ws-1"); err != nil {
		t.Fatalf("remove snapshots: %v", err)
	}
	if left, _ := f.snaps.FindSnapshots(ctx, "ws-1"); len(left) != 0 {
		t.Fatalf("expected no snapshots, got %d", len(left))
	}
	if got := len(f.engine.discardedIDs()); got != 2 {
		t.Errorf("expected 2 binaries removed, got %d", got)
	}
	if err := f.reg.RemoveSnapshots(ctx, "ws-1"); err != nil {
		t.Errorf("removing nothing should succeed: %v", err)
	}
}

func TestRemoveSnapshots_ContinuesPastFailures(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.start(t, "ws-1")
	if err := f.reg.Snapshot(ctx, "ws-1"); err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	f.engine.discardErr = errors.New("registry unreachable")
	f.snaps.removeErr = errors.New("db down")

	err := f.reg.RemoveSnapshots(ctx, "ws-1")
	if core.CodeOf(err) != core.ErrServer {
		t.Fatalf("expected server error, got %v", err)
	}
	if !errors.Is(err, f.engine.discardErr) || !errors.Is(err, f.snaps.removeErr) {
		t.Errorf("expected both failures in %v", err)
	}
}
