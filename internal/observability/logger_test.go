package observability

import "testing"

func TestNewLogger_Level(t *testing.T) {
	log, err := NewLogger("debug")
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	if !log.Core().Enabled(-1) {
		t.Error("debug level should be enabled")
	}
	if _, err := NewLogger("chatty"); err == nil {
		t.Fatal("expected error for unknown level")
	}
}
