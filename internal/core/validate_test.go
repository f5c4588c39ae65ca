package core

import (
	"strings"
	"testing"
)

func validConfig() *WorkspaceConfig {
	return &WorkspaceConfig{
		Name:       "ws-1",
		DefaultEnv: "default",
		Environments: map[string]*Environment{
			"default": {
				Recipe: Recipe{Type: "compose"},
				Machines: map[string]*MachineConfig{
					"dev-machine": {Dev: true, Servers: map[string]ServerConfig{"ide": {Port: "4401/tcp"}}},
					"db":          {Limits: MachineLimits{MemoryMB: 512}},
				},
			},
		},
		Commands: []Command{{Name: "build", CommandLine: "make"}},
	}
}

func TestValidateConfig_Valid(t *testing.T) {
	if err := ValidateConfig(validConfig()); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}
}

func TestValidateConfig_NoDevMachine(t *testing.T) {
	cfg := validConfig()
	cfg.Environments["default"].Machines["dev-machine"].Dev = false
	err := ValidateConfig(cfg)
	if !IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if !strings.Contains(err.Error(), "exactly 1 dev machine") {
		t.Errorf("unexpected message: %s", err)
	}
}

func TestValidateConfig_TwoDevMachines(t *testing.T) {
	cfg := validConfig()
	cfg.Environments["default"].Machines["db"].Dev = true
	if err := ValidateConfig(cfg); !IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestValidateConfig_MissingDefaultEnv(t *testing.T) {
	cfg := validConfig()
	cfg.DefaultEnv = "other"
	if err := ValidateConfig(cfg); !IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestValidateConfig_EmptyCommandLine(t *testing.T) {
	cfg := validConfig()
	cfg.Commands = append(cfg.Commands, Command{Name: "run", CommandLine: "  "})
	err := ValidateConfig(cfg)
	if !IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if !strings.Contains(err.Error(), "'run'") {
		t.Errorf("message should name the command: %s", err)
	}
}

func TestValidateConfig_InvalidPort(t *testing.T) {
	cfg := validConfig()
	cfg.Environments["default"].Machines["db"].Servers = map[string]ServerConfig{"pg": {Port: "70000"}}
	if err := ValidateConfig(cfg); !IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestValidPort(t *testing.T) {
	for _, ok := range []string{"1", "8080", "8080/tcp", "53/udp", "65535"} {
		if !ValidPort(ok) {
			t.Errorf("expected %q to be valid", ok)
		}
	}
	for _, bad := range []string{"", "0", "65536", "80/sctp", "http", "-1"} {
		if ValidPort(bad) {
			t.Errorf("expected %q to be invalid", bad)
		}
	}
}

func TestErrorCodes(t *testing.T) {
	if ErrNotFound.HTTPStatus() != 404 || ErrConflict.HTTPStatus() != 409 ||
		ErrValidation.HTTPStatus() != 400 || ErrServer.HTTPStatus() != 500 {
		t.Fatal("unexpected HTTP status mapping")
	}
	wrapped := ServerError(NotFoundf("gone"), "engine failed for workspace '%s'", "ws")
	if CodeOf(wrapped) != ErrServer {
		t.Errorf("outermost code should win, got %s", CodeOf(wrapped))
	}
	if ErrServer.CallerFault() || !ErrConflict.CallerFault() {
		t.Error("unexpected caller fault classification")
	}
}
