package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/lzjever/mbos-wrt/internal/core"
)

type CreateWorkspaceRequest struct {
	Namespace  string                `json:"namespace"`
	Config     *core.WorkspaceConfig `json:"config"`
	Attributes map[string]string     `json:"attributes,omitempty"`
}

type UpdateWorkspaceRequest struct {
	Config     *core.WorkspaceConfig `json:"config"`
	Attributes map[string]string     `json:"attributes,omitempty"`
}

// ListWorkspaces lists the workspaces of ?namespace=, or all of them.
func (a *API) ListWorkspaces(w http.ResponseWriter, r *http.Request) {
	list, err := a.svc.GetWorkspaces(r.Context(), r.URL.Query().Get("namespace"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if list == nil {
		list = []*core.Workspace{}
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{"workspaces": list})
}

func (a *API) CreateWorkspace(w http.ResponseWriter, r *http.Request) {
	var req CreateWorkspaceRequest
	if err := decode(r, &req); err != nil {
		WriteError(w, err)
		return
	}
	ws, err := a.svc.CreateWorkspace(r.Context(), req.Config, req.Namespace, req.Attributes)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	WriteJSON(w, http.StatusCreated, ws)
}

func (a *API) GetWorkspace(w http.ResponseWriter, r *http.Request) {
	ws, err := a.svc.GetWorkspace(r.Context(), chi.URLParam(r, "wsid"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, ws)
}

func (a *API) GetWorkspaceByName(w http.ResponseWriter, r *http.Request) {
	ws, err := a.svc.GetWorkspaceByName(r.Context(), chi.URLParam(r, "namespace"), chi.URLParam(r, "name"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, ws)
}

func (a *API) UpdateWorkspace(w http.ResponseWriter, r *http.Request) {
	var req UpdateWorkspaceRequest
	if err := decode(r, &req); err != nil {
		WriteError(w, err)
		return
	}
	ws, err := a.svc.UpdateWorkspace(r.Context(), chi.URLParam(r, "wsid"), req.Config, req.Attributes)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, ws)
}

// RemoveWorkspace deletes a stopped workspace. Its snapshots are removed
// in the background.
func (a *API) RemoveWorkspace(w http.ResponseWriter, r *http.Request) {
	if err := a.svc.RemoveWorkspace(r.Context(), chi.URLParam(r, "wsid")); err != nil {
		a.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
