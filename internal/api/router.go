package api

import (
	"context"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/lzjever/mbos-wrt/internal/api/middleware"
	"github.com/lzjever/mbos-wrt/internal/core"
	"github.com/lzjever/mbos-wrt/internal/workerpool"
)

// Service is the workspace manager as seen by the REST adapter.
type Service interface {
	CreateWorkspace(ctx context.Context, cfg *core.WorkspaceConfig, namespace string, attrs map[string]string) (*core.Workspace, error)
	GetWorkspace(ctx context.Context, id string) (*core.Workspace, error)
	GetWorkspaceByName(ctx context.Context, namespace, name string) (*core.Workspace, error)
	GetWorkspaces(ctx context.Context, namespace string) ([]*core.Workspace, error)
	UpdateWorkspace(ctx context.Context, id string, cfg *core.WorkspaceConfig, attrs map[string]string) (*core.Workspace, error)
	RemoveWorkspace(ctx context.Context, id string) error

	StartWorkspace(ctx context.Context, id, envName string, restore *bool) (*core.Workspace, error)
	StartTemporaryWorkspace(ctx context.Context, cfg *core.WorkspaceConfig, namespace string, restore *bool) (*core.Workspace, error)
	StopWorkspace(ctx context.Context, id string, createSnapshot *bool) error
	GetRunningWorkspacesIDs() []string

	CreateSnapshot(ctx context.Context, id string) (*workerpool.Future, error)
	GetSnapshots(ctx context.Context, wsid string) ([]*core.Snapshot, error)
	GetSnapshot(ctx context.Context, id string) (*core.Snapshot, error)
	RemoveSnapshots(ctx context.Context, wsid string) error

	StartMachine(ctx context.Context, wsid, name string, cfg *core.MachineConfig) (*core.Machine, error)
	StopMachine(ctx context.Context, wsid, machineID string) error
	GetMachine(ctx context.Context, wsid, machineID string) (*core.Machine, error)
}

// Pinger reports storage reachability for readiness.
type Pinger interface {
	Ping(ctx context.Context) error
}

type API struct {
	svc   Service
	store Pinger
	log   *zap.Logger
}

func NewAPI(svc Service, store Pinger, log *zap.Logger) *API {
	return &API{
		svc:   svc,
		store: store,
		log:   log,
	}
}

func (a *API) Router() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Metrics)
	r.Use(middleware.Recoverer(a.log))
	r.Use(middleware.Logger(a.log))
	r.Use(chiMiddleware.AllowContentType("application/json"))

	r.Get("/healthz", a.HealthHandler)
	r.Get("/readyz", a.ReadyHandler)

	r.Route("/v1", func(r chi.Router) {
		// Workspaces
		r.Get("/workspaces", a.ListWorkspaces)
		r.Post("/workspaces", a.CreateWorkspace)
		r.Post("/workspaces:temporary", a.StartTemporaryWorkspace)
		r.Get("/workspaces/{wsid}", a.GetWorkspace)
		r.Put("/workspaces/{wsid}", a.UpdateWorkspace)
		r.Delete("/workspaces/{wsid}", a.RemoveWorkspace)
		r.Get("/namespaces/{namespace}/workspaces/{name}", a.GetWorkspaceByName)

		// Runtime
		r.Post("/workspaces/{wsid}/runtime", a.StartWorkspace)
		r.Delete("/workspaces/{wsid}/runtime", a.StopWorkspace)
		r.Get("/runtimes", a.ListRuntimes)

		// Machines
		r.Post("/workspaces/{wsid}/machines", a.StartMachine)
		r.Get("/workspaces/{wsid}/machines/{machine_id}", a.GetMachine)
		r.Delete("/workspaces/{wsid}/machines/{machine_id}", a.StopMachine)

		// Snapshots
		r.Get("/workspaces/{wsid}/snapshots", a.ListSnapshots)
		r.Post("/workspaces/{wsid}/snapshots", a.CreateSnapshot)
		r.Delete("/workspaces/{wsid}/snapshots", a.RemoveSnapshots)
		r.Get("/snapshots/{snapshot_id}", a.GetSnapshot)
	})

	return r
}
