package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/lzjever/mbos-wrt/internal/core"
)

type StartWorkspaceRequest struct {
	Env     string `json:"env,omitempty"`
	Recover *bool  `json:"recover,omitempty"`
}

type StartTemporaryRequest struct {
	Namespace string                `json:"namespace"`
	Config    *core.WorkspaceConfig `json:"config"`
	Recover   *bool                 `json:"recover,omitempty"`
}

// StartWorkspace accepts a start and returns the STARTING workspace. The
// body is optional.
func (a *API) StartWorkspace(w http.ResponseWriter, r *http.Request) {
	var req StartWorkspaceRequest
	if r.ContentLength != 0 {
		if err := decode(r, &req); err != nil {
			WriteError(w, err)
			return
		}
	}
	ws, err := a.svc.StartWorkspace(r.Context(), chi.URLParam(r, "wsid"), req.Env, req.Recover)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	WriteAccepted(w, ws)
}

func (a *API) StartTemporaryWorkspace(w http.ResponseWriter, r *http.Request) {
	var req StartTemporaryRequest
	if err := decode(r, &req); err != nil {
		WriteError(w, err)
		return
	}
	ws, err := a.svc.StartTemporaryWorkspace(r.Context(), req.Config, req.Namespace, req.Recover)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	WriteAccepted(w, ws)
}

// StopWorkspace accepts a stop. ?create-snapshot= overrides the
// workspace's auto-snapshot setting.
func (a *API) StopWorkspace(w http.ResponseWriter, r *http.Request) {
	createSnapshot, perr := parseFlag(r, "create-snapshot")
	if perr != nil {
		WriteError(w, perr)
		return
	}
	wsid := chi.URLParam(r, "wsid")
	if err := a.svc.StopWorkspace(r.Context(), wsid, createSnapshot); err != nil {
		a.fail(w, r, err)
		return
	}
	WriteAccepted(w, map[string]string{"workspace_id": wsid, "status": string(core.StatusStopping)})
}

func (a *API) ListRuntimes(w http.ResponseWriter, r *http.Request) {
	ids := a.svc.GetRunningWorkspacesIDs()
	if ids == nil {
		ids = []string{}
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{"workspace_ids": ids})
}
