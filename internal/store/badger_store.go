package store

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/lzjever/mbos-wrt/internal/core"
)

// BadgerStore keeps JSON documents in an embedded Badger database:
//
//	workspace:<id>              workspace document
//	workspace-name:<ns>/<name>  workspace id
//	snapshot:<wsid>:<id>        snapshot document
//	snapshot-id:<id>            workspace id of the snapshot
type BadgerStore struct {
	db *badger.DB
}

func NewBadgerStore(path string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(filepath.Clean(path))
	opts.Logger = nil
	opts = opts.WithValueLogFileSize(1 << 24)
	return openBadger(opts)
}

// NewInMemoryBadgerStore is used by tests and by throwaway daemons.
func NewInMemoryBadgerStore() (*BadgerStore, error) {
	opts := badger.DefaultOptions("").WithInMemory(true)
	opts.Logger = nil
	return openBadger(opts)
}

func openBadger(opts badger.Options) (*BadgerStore, error) {
	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return &BadgerStore{db: db}, nil
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}

func (s *BadgerStore) Ping(ctx context.Context) error {
	if s.db.IsClosed() {
		return errors.New("badger is closed")
	}
	return nil
}

func workspaceKey(id string) []byte {
	return []byte("workspace:" + id)
}

func workspaceNameKey(namespace, name string) []byte {
	return []byte("workspace-name:" + namespace + "/" + name)
}

func snapshotPrefix(wsid string) []byte {
	return []byte("snapshot:" + wsid + ":")
}

func snapshotKey(wsid, id string) []byte {
	return append(snapshotPrefix(wsid), id...)
}

func snapshotIDKey(id string) []byte {
	return []byte("snapshot-id:" + id)
}

func (s *BadgerStore) CreateWorkspace(ctx context.Context, ws *core.Workspace) error {
	return s.db.Update(func(txn *badger.Txn) error {
		if exists(txn, workspaceKey(ws.ID)) || exists(txn, workspaceNameKey(ws.Namespace, ws.Config.Name)) {
			return ErrConflict
		}
		return putWorkspace(txn, ws)
	})
}

func (s *BadgerStore) UpdateWorkspace(ctx context.Context, ws *core.Workspace) error {
	return s.db.Update(func(txn *badger.Txn) error {
		var old core.Workspace
		if err := getJSON(txn, workspaceKey(ws.ID), &old); err != nil {
			return err
		}
		if old.Namespace != ws.Namespace || old.Config.Name != ws.Config.Name {
			if exists(txn, workspaceNameKey(ws.Namespace, ws.Config.Name)) {
				return ErrConflict
			}
			if err := txn.Delete(workspaceNameKey(old.Namespace, old.Config.Name)); err != nil {
				return err
			}
		}
		return putWorkspace(txn, ws)
	})
}

func (s *BadgerStore) GetWorkspace(ctx context.Context, id string) (*core.Workspace, error) {
	var out core.Workspace
	err := s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, workspaceKey(id), &out)
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *BadgerStore) GetWorkspaceByName(ctx context.Context, namespace, name string) (*core.Workspace, error) {
	var out core.Workspace
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(workspaceNameKey(namespace, name))
		if err != nil {
			return mapBadgerErr(err)
		}
		id, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		return getJSON(txn, workspaceKey(string(id)), &out)
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *BadgerStore) ListWorkspaces(ctx context.Context, namespace string) ([]*core.Workspace, error) {
	var out []*core.Workspace
	err := s.db.View(func(txn *badger.Txn) error {
		return scanPrefix(txn, []byte("workspace:"), func(v []byte) error {
			var ws core.Workspace
			if err := json.Unmarshal(v, &ws); err != nil {
				return err
			}
			if namespace == "" || ws.Namespace == namespace {
				out = append(out, &ws)
			}
			return nil
		})
	})
	return out, err
}

func (s *BadgerStore) RemoveWorkspace(ctx context.Context, id string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		var ws core.Workspace
		if err := getJSON(txn, workspaceKey(id), &ws); err != nil {
			return err
		}
		if err := txn.Delete(workspaceNameKey(ws.Namespace, ws.Config.Name)); err != nil {
			return err
		}
		return txn.Delete(workspaceKey(id))
	})
}

func (s *BadgerStore) FindSnapshots(ctx context.Context, wsid string) ([]*core.Snapshot, error) {
	var out []*core.Snapshot
	err := s.db.View(func(txn *badger.Txn) error {
		return scanPrefix(txn, snapshotPrefix(wsid), func(v []byte) error {
			var snap core.Snapshot
			if err := json.Unmarshal(v, &snap); err != nil {
				return err
			}
			out = append(out, &snap)
			return nil
		})
	})
	return out, err
}

func (s *BadgerStore) GetSnapshot(ctx context.Context, id string) (*core.Snapshot, error) {
	var out core.Snapshot
	err := s.db.View(func(txn *badger.Txn) error {
		wsid, err := snapshotOwner(txn, id)
		if err != nil {
			return err
		}
		return getJSON(txn, snapshotKey(wsid, id), &out)
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *BadgerStore) ReplaceSnapshots(ctx context.Context, wsid, envName string, snapshots []*core.Snapshot) ([]*core.Snapshot, error) {
	var old []*core.Snapshot
	err := s.db.Update(func(txn *badger.Txn) error {
		old = old[:0]
		err := scanPrefix(txn, snapshotPrefix(wsid), func(v []byte) error {
			var snap core.Snapshot
			if err := json.Unmarshal(v, &snap); err != nil {
				return err
			}
			if snap.EnvName == envName {
				old = append(old, &snap)
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, snap := range old {
			if err := txn.Delete(snapshotKey(wsid, snap.ID)); err != nil {
				return err
			}
			if err := txn.Delete(snapshotIDKey(snap.ID)); err != nil {
				return err
			}
		}
		for _, snap := range snapshots {
			if err := putJSON(txn, snapshotKey(wsid, snap.ID), snap); err != nil {
				return err
			}
			if err := txn.Set(snapshotIDKey(snap.ID), []byte(wsid)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return old, nil
}

func (s *BadgerStore) RemoveSnapshot(ctx context.Context, id string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		wsid, err := snapshotOwner(txn, id)
		if err != nil {
			return err
		}
		if err := txn.Delete(snapshotKey(wsid, id)); err != nil {
			return err
		}
		return txn.Delete(snapshotIDKey(id))
	})
}

func snapshotOwner(txn *badger.Txn, id string) (string, error) {
	item, err := txn.Get(snapshotIDKey(id))
	if err != nil {
		return "", mapBadgerErr(err)
	}
	wsid, err := item.ValueCopy(nil)
	if err != nil {
		return "", err
	}
	return string(wsid), nil
}

func putWorkspace(txn *badger.Txn, ws *core.Workspace) error {
	doc := persisted(ws)
	if err := putJSON(txn, workspaceKey(ws.ID), &doc); err != nil {
		return err
	}
	return txn.Set(workspaceNameKey(ws.Namespace, ws.Config.Name), []byte(ws.ID))
}

func putJSON(txn *badger.Txn, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return txn.Set(key, data)
}

func getJSON(txn *badger.Txn, key []byte, v any) error {
	item, err := txn.Get(key)
	if err != nil {
		return mapBadgerErr(err)
	}
	return item.Value(func(data []byte) error {
		return json.Unmarshal(data, v)
	})
}

func exists(txn *badger.Txn, key []byte) bool {
	_, err := txn.Get(key)
	return err == nil
}

func scanPrefix(txn *badger.Txn, prefix []byte, fn func(v []byte) error) error {
	it := txn.NewIterator(badger.DefaultIteratorOptions)
	defer it.Close()
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		if err := it.Item().Value(fn); err != nil {
			return err
		}
	}
	return nil
}

func mapBadgerErr(err error) error {
	if errors.Is(err, badger.ErrKeyNotFound) {
		return ErrNotFound
	}
	return err
}
