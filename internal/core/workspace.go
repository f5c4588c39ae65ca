package core

import (
	"strconv"
	"time"
)

// Workspace attribute keys maintained by the manager.
const (
	AttrCreated            = "created"
	AttrUpdated            = "updated"
	AttrAutoRestore        = "auto-restore-from-snapshot"
	AttrAutoCreateSnapshot = "auto-create-snapshot"
)

type Workspace struct {
	ID        string            `json:"id"`
	Namespace string            `json:"namespace"`
	Config    WorkspaceConfig   `json:"config"`
	Attrs     map[string]string `json:"attributes,omitempty"`
	Temporary bool              `json:"temporary"`

	// Status and Runtime are derived from the runtime registry and are
	// never persisted.
	Status  WorkspaceStatus    `json:"status"`
	Runtime *RuntimeDescriptor `json:"runtime,omitempty"`
}

type WorkspaceConfig struct {
	Name         string                  `json:"name"`
	Description  string                  `json:"description,omitempty"`
	DefaultEnv   string                  `json:"default_env"`
	Environments map[string]*Environment `json:"environments"`
	Commands     []Command               `json:"commands,omitempty"`
	Attributes   map[string]string       `json:"attributes,omitempty"`
}

type Environment struct {
	Recipe   Recipe                    `json:"recipe"`
	Machines map[string]*MachineConfig `json:"machines"`
}

// Recipe is opaque to the runtime; only the environment engine interprets it.
type Recipe struct {
	Type        string `json:"type"`
	ContentType string `json:"content_type,omitempty"`
	Content     string `json:"content,omitempty"`
	Location    string `json:"location,omitempty"`
}

type Command struct {
	Name        string            `json:"name"`
	CommandLine string            `json:"command_line"`
	Type        string            `json:"type,omitempty"`
	Attributes  map[string]string `json:"attributes,omitempty"`
}

// Environment returns the named environment or the default one when name
// is empty.
func (c *WorkspaceConfig) Environment(name string) (string, *Environment, bool) {
	if name == "" {
		name = c.DefaultEnv
	}
	env, ok := c.Environments[name]
	return name, env, ok
}

// Attr returns a workspace attribute, or "" when unset.
func (w *Workspace) Attr(key string) string {
	if w.Attrs == nil {
		return ""
	}
	return w.Attrs[key]
}

// BoolAttr parses a boolean attribute. ok is false when it is unset or
// malformed.
func (w *Workspace) BoolAttr(key string) (value bool, ok bool) {
	raw := w.Attr(key)
	if raw == "" {
		return false, false
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false
	}
	return v, true
}

// Touch records the time of the last modification.
func (w *Workspace) Touch(now time.Time) {
	if w.Attrs == nil {
		w.Attrs = map[string]string{}
	}
	w.Attrs[AttrUpdated] = strconv.FormatInt(now.UnixMilli(), 10)
}
