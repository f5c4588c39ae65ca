package core

type WorkspaceStatus string

const (
	StatusStopped      WorkspaceStatus = "STOPPED"
	StatusStarting     WorkspaceStatus = "STARTING"
	StatusRunning      WorkspaceStatus = "RUNNING"
	StatusSnapshotting WorkspaceStatus = "SNAPSHOTTING"
	StatusStopping     WorkspaceStatus = "STOPPING"
)

// RuntimeDescriptor is a point-in-time copy of a workspace runtime.
type RuntimeDescriptor struct {
	WorkspaceID string          `json:"workspace_id"`
	Status      WorkspaceStatus `json:"status"`
	ActiveEnv   string          `json:"active_env"`
	Machines    []*Machine      `json:"machines"`
	DevMachine  *Machine        `json:"dev_machine,omitempty"`
}

// Machine returns the machine with the given id.
func (d *RuntimeDescriptor) Machine(id string) (*Machine, bool) {
	for _, m := range d.Machines {
		if m.ID == id {
			return m, true
		}
	}
	return nil, false
}
