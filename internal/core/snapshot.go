package core

import "time"

type Snapshot struct {
	ID          string        `json:"id"`
	WorkspaceID string        `json:"workspace_id"`
	EnvName     string        `json:"env_name"`
	MachineName string        `json:"machine_name"`
	Dev         bool          `json:"dev"`
	Source      MachineSource `json:"source"`
	Description string        `json:"description,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
}
