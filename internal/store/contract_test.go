package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/lzjever/mbos-wrt/internal/core"
)

func testWorkspace(id, namespace, name string) *core.Workspace {
	return &core.Workspace{
		ID:        id,
		Namespace: namespace,
		Config: core.WorkspaceConfig{
			Name:       name,
			DefaultEnv: "default",
			Environments: map[string]*core.Environment{
				"default": {
					Recipe:   core.Recipe{Type: "dockerimage", Location: "eclipse/ubuntu_jdk8"},
					Machines: map[string]*core.MachineConfig{"dev-machine": {Dev: true}},
				},
			},
		},
		Attrs:  map[string]string{core.AttrCreated: "1"},
		Status: core.StatusRunning,
	}
}

func testSnapshot(id, wsid, env, machine string, dev bool) *core.Snapshot {
	return &core.Snapshot{
		ID:          id,
		WorkspaceID: wsid,
		EnvName:     env,
		MachineName: machine,
		Dev:         dev,
		Source:      core.MachineSource{Type: "image", Location: "registry/" + id},
		CreatedAt:   time.Now().UTC().Truncate(time.Millisecond),
	}
}

func snapshotIDs(snaps []*core.Snapshot) map[string]bool {
	ids := map[string]bool{}
	for _, s := range snaps {
		ids[s.ID] = true
	}
	return ids
}

// runContract exercises the behavior every driver must share.
func runContract(t *testing.T, s Store) {
	ctx := context.Background()

	t.Run("CreateWorkspace", func(t *testing.T) {
		if err := s.CreateWorkspace(ctx, testWorkspace("ws-1", "alice", "java")); err != nil {
			t.Fatalf("create: %v", err)
		}
		err := s.CreateWorkspace(ctx, testWorkspace("ws-2", "alice", "java"))
		if !errors.Is(err, ErrConflict) {
			t.Fatalf("expected ErrConflict for duplicate name, got %v", err)
		}
		if err := s.CreateWorkspace(ctx, testWorkspace("ws-3", "bob", "java")); err != nil {
			t.Fatalf("same name in other namespace should be allowed: %v", err)
		}
	})

	t.Run("GetWorkspace", func(t *testing.T) {
		ws, err := s.GetWorkspace(ctx, "ws-1")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if ws.Namespace != "alice" || ws.Config.Name != "java" {
			t.Errorf("unexpected workspace %+v", ws)
		}
		if ws.Status != "" {
			t.Errorf("status must not be persisted, got %q", ws.Status)
		}
		if !ws.Config.Environments["default"].Machines["dev-machine"].Dev {
			t.Error("config did not round-trip")
		}
		if _, err := s.GetWorkspace(ctx, "missing"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("GetWorkspaceByName", func(t *testing.T) {
		ws, err := s.GetWorkspaceByName(ctx, "bob", "java")
		if err != nil {
			t.Fatalf("get by name: %v", err)
		}
		if ws.ID != "ws-3" {
			t.Errorf("expected ws-3, got %s", ws.ID)
		}
	})

	t.Run("UpdateWorkspace", func(t *testing.T) {
		ws, _ := s.GetWorkspace(ctx, "ws-1")
		ws.Config.Name = "java-renamed"
		if err := s.UpdateWorkspace(ctx, ws); err != nil {
			t.Fatalf("update: %v", err)
		}
		if _, err := s.GetWorkspaceByName(ctx, "alice", "java"); !errors.Is(err, ErrNotFound) {
			t.Errorf("old name should be released, got %v", err)
		}
		if _, err := s.GetWorkspaceByName(ctx, "alice", "java-renamed"); err != nil {
			t.Errorf("new name should resolve: %v", err)
		}
		missing := testWorkspace("nope", "alice", "x")
		if err := s.UpdateWorkspace(ctx, missing); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("ListWorkspaces", func(t *testing.T) {
		all, err := s.ListWorkspaces(ctx, "")
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if len(all) != 2 {
			t.Errorf("expected 2 workspaces, got %d", len(all))
		}
		alice, _ := s.ListWorkspaces(ctx, "alice")
		if len(alice) != 1 || alice[0].ID != "ws-1" {
			t.Errorf("unexpected namespace listing %v", alice)
		}
	})

	t.Run("ReplaceSnapshots", func(t *testing.T) {
		first := []*core.Snapshot{
			testSnapshot("snap-1", "ws-1", "default", "dev-machine", true),
			testSnapshot("snap-2", "ws-1", "default", "db", false),
		}
		old, err := s.ReplaceSnapshots(ctx, "ws-1", "default", first)
		if err != nil {
			t.Fatalf("replace: %v", err)
		}
		if len(old) != 0 {
			t.Errorf("expected no superseded snapshots, got %d", len(old))
		}
		other := []*core.Snapshot{testSnapshot("snap-9", "ws-1", "other", "dev-machine", true)}
		if _, err := s.ReplaceSnapshots(ctx, "ws-1", "other", other); err != nil {
			t.Fatalf("replace other env: %v", err)
		}

		second := []*core.Snapshot{testSnapshot("snap-3", "ws-1", "default", "dev-machine", true)}
		old, err = s.ReplaceSnapshots(ctx, "ws-1", "default", second)
		if err != nil {
			t.Fatalf("replace: %v", err)
		}
		if ids := snapshotIDs(old); len(ids) != 2 || !ids["snap-1"] || !ids["snap-2"] {
			t.Errorf("expected snap-1 and snap-2 to be superseded, got %v", ids)
		}

		found, err := s.FindSnapshots(ctx, "ws-1")
		if err != nil {
			t.Fatalf("find: %v", err)
		}
		if ids := snapshotIDs(found); len(ids) != 2 || !ids["snap-3"] || !ids["snap-9"] {
			t.Errorf("unexpected snapshots after replace: %v", ids)
		}
		snap, err := s.GetSnapshot(ctx, "snap-3")
		if err != nil {
			t.Fatalf("get snapshot: %v", err)
		}
		if !snap.Dev || snap.Source.Location != "registry/snap-3" {
			t.Errorf("snapshot did not round-trip: %+v", snap)
		}
	})

	t.Run("RemoveSnapshot", func(t *testing.T) {
		if err := s.RemoveSnapshot(ctx, "snap-9"); err != nil {
			t.Fatalf("remove: %v", err)
		}
		if err := s.RemoveSnapshot(ctx, "snap-9"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound on second remove, got %v", err)
		}
		if _, err := s.GetSnapshot(ctx, "snap-9"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("RemoveWorkspace", func(t *testing.T) {
		if err := s.RemoveWorkspace(ctx, "ws-3"); err != nil {
			t.Fatalf("remove: %v", err)
		}
		if err := s.RemoveWorkspace(ctx, "ws-3"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
		if err := s.CreateWorkspace(ctx, testWorkspace("ws-4", "bob", "java")); err != nil {
			t.Errorf("name should be free after removal: %v", err)
		}
	})
}
