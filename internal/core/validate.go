package core

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	portRe = regexp.MustCompile(`^([0-9]{1,5})(/(tcp|udp))?$`)
	nameRe = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_.-]*$`)
)

// ValidateConfig checks a workspace configuration before it is stored or
// started. The first violation found is returned as a validation error.
func ValidateConfig(cfg *WorkspaceConfig) error {
	if cfg == nil {
		return Validationf("Workspace config required")
	}
	if !nameRe.MatchString(cfg.Name) {
		return Validationf("Workspace name '%s' is invalid, it must start with a letter or digit and contain only letters, digits, '_', '.' and '-'", cfg.Name)
	}
	if cfg.DefaultEnv == "" {
		return Validationf("Workspace '%s' must contain default environment", cfg.Name)
	}
	if _, ok := cfg.Environments[cfg.DefaultEnv]; !ok {
		return Validationf("Workspace '%s' doesn't contain default environment '%s'", cfg.Name, cfg.DefaultEnv)
	}
	for envName, env := range cfg.Environments {
		if err := ValidateEnvironment(envName, env); err != nil {
			return err
		}
	}
	for _, cmd := range cfg.Commands {
		if strings.TrimSpace(cmd.Name) == "" {
			return Validationf("Workspace '%s' contains command without name", cfg.Name)
		}
		if strings.TrimSpace(cmd.CommandLine) == "" {
			return Validationf("Command line required for command '%s' in workspace '%s'", cmd.Name, cfg.Name)
		}
	}
	return nil
}

// ValidateEnvironment enforces the exactly-one-dev-machine rule along with
// per machine checks.
func ValidateEnvironment(envName string, env *Environment) error {
	if env == nil {
		return Validationf("Environment '%s' is empty", envName)
	}
	if env.Recipe.Type == "" {
		return Validationf("Type of environment '%s' recipe required", envName)
	}
	if len(env.Machines) == 0 {
		return Validationf("Environment '%s' must contain at least one machine", envName)
	}
	var devs []string
	for name, m := range env.Machines {
		if err := ValidateMachine(name, m); err != nil {
			return err
		}
		if m.Dev {
			devs = append(devs, name)
		}
	}
	switch len(devs) {
	case 0:
		return Validationf("Environment '%s' should contain exactly 1 dev machine, but contains 0", envName)
	case 1:
		return nil
	default:
		return Validationf("Environment '%s' should contain exactly 1 dev machine, but contains %d", envName, len(devs))
	}
}

func ValidateMachine(name string, m *MachineConfig) error {
	if !nameRe.MatchString(name) {
		return Validationf("Machine name '%s' is invalid", name)
	}
	if m == nil {
		return Validationf("Machine '%s' config required", name)
	}
	if m.Limits.MemoryMB < 0 {
		return Validationf("Machine '%s' has negative memory limit %d", name, m.Limits.MemoryMB)
	}
	for ref, srv := range m.Servers {
		if !ValidPort(srv.Port) {
			return Validationf("Machine '%s' server '%s' has invalid port '%s'", name, ref, srv.Port)
		}
	}
	return nil
}

// ValidPort accepts "8080", "8080/tcp" and "53/udp".
func ValidPort(spec string) bool {
	m := portRe.FindStringSubmatch(spec)
	if m == nil {
		return false
	}
	n, err := strconv.Atoi(m[1])
	return err == nil && n >= 1 && n <= 65535
}

// DevMachines returns the machines flagged as dev.
func DevMachines(machines []*Machine) []*Machine {
	var devs []*Machine
	for _, m := range machines {
		if m.Config.Dev {
			devs = append(devs, m)
		}
	}
	return devs
}
