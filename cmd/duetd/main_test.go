package main

import (
	"context"
	"log/slog"
	"testing"

	"github.com/flitsinc/go-duet/internal/agents"
)

func TestToolName(t *testing.T) {
	var taken []string
	cases := []struct {
		command string
		want    string
	}{
		{"tail -F /var/log/syslog", "tail"},
		{"/usr/bin/vmstat 1", "vmstat"},
		{"tail -F other.log", "tail-3"},
		{"   ", "tool4"},
	}
	for i, tc := range cases {
		got := toolName(i, tc.command, taken)
		if got != tc.want {
			t.Fatalf("toolName(%q) = %q, want %q", tc.command, got, tc.want)
		}
		taken = append(taken, got)
	}
}

func TestAgentFor(t *testing.T) {
	if _, ok := agentFor("").(*agents.Static); !ok {
		t.Fatalf("expected silent static agent for empty command")
	}
	if _, ok := agentFor("echo hi").(*agents.Command); !ok {
		t.Fatalf("expected command agent")
	}
}

func TestNewLoggerLevel(t *testing.T) {
	ctx := context.Background()
	if !newLogger("debug").Enabled(ctx, slog.LevelDebug) {
		t.Fatalf("debug logger should enable debug")
	}
	if newLogger("warn").Enabled(ctx, slog.LevelInfo) {
		t.Fatalf("warn logger should not enable info")
	}
	if !newLogger("bogus").Enabled(ctx, slog.LevelInfo) {
		t.Fatalf("unknown level should default to info")
	}
}
