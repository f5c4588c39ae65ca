package store

import "testing"

func TestBadgerStore(t *testing.T) {
	s, err := NewInMemoryBadgerStore()
	if err != nil {
		t.Fatalf("open badger: %v", err)
	}
	defer s.Close()

	runContract(t, s)
}

func TestBadgerStore_OnDisk(t *testing.T) {
	dir := t.TempDir()
	s, err := NewBadgerStore(dir)
	if err != nil {
		t.Fatalf("open badger: %v", err)
	}
	ws := testWorkspace("ws-disk", "alice", "persisted")
	if err := s.CreateWorkspace(t.Context(), ws); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	s, err = NewBadgerStore(dir)
	if err != nil {
		t.Fatalf("reopen badger: %v", err)
	}
	defer s.Close()
	if _, err := s.GetWorkspaceByName(t.Context(), "alice", "persisted"); err != nil {
		t.Fatalf("workspace should survive reopen: %v", err)
	}
}
