package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/lzjever/mbos-wrt/internal/core"
)

// ListSnapshots lists the stored snapshots of a workspace.
func (a *API) ListSnapshots(w http.ResponseWriter, r *http.Request) {
	snaps, err := a.svc.GetSnapshots(r.Context(), chi.URLParam(r, "wsid"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if snaps == nil {
		snaps = []*core.Snapshot{}
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{"snapshots": snaps})
}

// CreateSnapshot accepts a snapshot of a running workspace; completion is
// reported as SNAPSHOT_CREATED or SNAPSHOT_CREATION_ERROR.
func (a *API) CreateSnapshot(w http.ResponseWriter, r *http.Request) {
	wsid := chi.URLParam(r, "wsid")
	if _, err := a.svc.CreateSnapshot(r.Context(), wsid); err != nil {
		a.fail(w, r, err)
		return
	}
	WriteAccepted(w, map[string]string{"workspace_id": wsid, "status": string(core.StatusSnapshotting)})
}

func (a *API) RemoveSnapshots(w http.ResponseWriter, r *http.Request) {
	if err := a.svc.RemoveSnapshots(r.Context(), chi.URLParam(r, "wsid")); err != nil {
		a.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) GetSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := a.svc.GetSnapshot(r.Context(), chi.URLParam(r, "snapshot_id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, snap)
}
