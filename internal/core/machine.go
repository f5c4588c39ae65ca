package core

type MachineStatus string

const (
	MachineCreating   MachineStatus = "CREATING"
	MachineRunning    MachineStatus = "RUNNING"
	MachineDestroying MachineStatus = "DESTROYING"
)

type MachineConfig struct {
	Dev     bool                    `json:"dev"`
	Type    string                  `json:"type,omitempty"`
	Source  MachineSource           `json:"source"`
	Limits  MachineLimits           `json:"limits"`
	Servers map[string]ServerConfig `json:"servers,omitempty"`
	Env     map[string]string       `json:"env,omitempty"`
	Agents  []string                `json:"agents,omitempty"`
}

// MachineSource locates the image or snapshot a machine boots from.
type MachineSource struct {
	Type     string `json:"type"`
	Location string `json:"location,omitempty"`
	Content  string `json:"content,omitempty"`
}

type MachineLimits struct {
	MemoryMB int `json:"memory_mb"`
}

type ServerConfig struct {
	Port     string `json:"port"`
	Protocol string `json:"protocol,omitempty"`
	Path     string `json:"path,omitempty"`
}

type Machine struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	WorkspaceID string          `json:"workspace_id"`
	EnvName     string          `json:"env_name"`
	Config      MachineConfig   `json:"config"`
	Status      MachineStatus   `json:"status"`
	Runtime     *MachineRuntime `json:"runtime,omitempty"`
}

type MachineRuntime struct {
	Ports   map[string]string `json:"ports,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
	Servers map[string]Server `json:"servers,omitempty"`
}

type Server struct {
	Ref      string `json:"ref"`
	Address  string `json:"address"`
	Protocol string `json:"protocol,omitempty"`
	URL      string `json:"url,omitempty"`
}
