package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/lzjever/mbos-wrt/internal/core"
)

type StartMachineRequest struct {
	Name   string              `json:"name"`
	Config *core.MachineConfig `json:"config"`
}

func (a *API) StartMachine(w http.ResponseWriter, r *http.Request) {
	var req StartMachineRequest
	if err := decode(r, &req); err != nil {
		WriteError(w, err)
		return
	}
	m, err := a.svc.StartMachine(r.Context(), chi.URLParam(r, "wsid"), req.Name, req.Config)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	WriteJSON(w, http.StatusCreated, m)
}

func (a *API) GetMachine(w http.ResponseWriter, r *http.Request) {
	m, err := a.svc.GetMachine(r.Context(), chi.URLParam(r, "wsid"), chi.URLParam(r, "machine_id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, m)
}

func (a *API) StopMachine(w http.ResponseWriter, r *http.Request) {
	if err := a.svc.StopMachine(r.Context(), chi.URLParam(r, "wsid"), chi.URLParam(r, "machine_id")); err != nil {
		a.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
