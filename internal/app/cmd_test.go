package app

import (
	"testing"
)

func TestParseCommand_DefaultsToGate(t *testing.T) {
	cmd := ParseCommand([]string{})
	if cmd != CommandGate {
		t.Errorf("ParseCommand([]) = %q, want %q", cmd, CommandGate)
	}
}

func TestParseCommand_KnownCommands(t *testing.T) {
	tests := []struct {
		arg  string
		want Command
	}{
		{"gate", CommandGate},
		{"status", CommandStatus},
		{"chat", CommandChat},
		{"migrate", CommandMigrate},
		{"healthcheck", CommandHealthcheck},
	}

	for _, tt := range tests {
		if got := ParseCommand([]string{tt.arg}); got != tt.want {
			t.Errorf("ParseCommand([%s]) = %q, want %q", tt.arg, got, tt.want)
		}
	}
}

func TestParseCommand_UnknownDefaultsToGate(t *testing.T) {
	cmd := ParseCommand([]string{"unknown"})
	if cmd != CommandGate {
		t.Errorf("ParseCommand([unknown]) = %q, want %q", cmd, CommandGate)
	}
}

func TestParseCommand_IgnoresExtraArgs(t *testing.T) {
	cmd := ParseCommand([]string{"chat", "ChatServer1"})
	if cmd != CommandChat {
		t.Errorf("ParseCommand([chat ChatServer1]) = %q, want %q", cmd, CommandChat)
	}
}
