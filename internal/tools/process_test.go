package tools

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"
)

func requireShell(t *testing.T) {
	t.Helper()
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("requires /bin/sh")
	}
}

func TestProcessStreamsStdoutAndStderr(t *testing.T) {
	requireShell(t)
	p := NewShellCommand("echoer", "echo hello; echo oops 1>&2")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := p.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer p.Stop(context.Background())

	fds := map[string]string{}
	exited := false
	for ev, err := range p.Output(ctx) {
		if err != nil {
			t.Fatalf("output: %v", err)
		}
		if ev.Meta["exit"] == true {
			exited = true
			continue
		}
		fds[ev.Meta["fd"].(string)] = ev.Text
		if ev.Meta["tool"] != "echoer" {
			t.Fatalf("unexpected tool meta: %v", ev.Meta)
		}
	}
	if fds["stdout"] != "hello" || fds["stderr"] != "oops" {
		t.Fatalf("unexpected lines: %v", fds)
	}
	if !exited {
		t.Fatalf("expected exit event")
	}
}

func TestProcessStopKillsLongRunningCommand(t *testing.T) {
	requireShell(t)
	p := NewShellCommand("sleeper", "echo ready; sleep 30")
	ctx := context.Background()
	if err := p.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	outCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	for ev, err := range p.Output(outCtx) {
		if err != nil {
			t.Fatalf("output: %v", err)
		}
		if ev.Text == "ready" {
			break
		}
	}
	start := time.Now()
	if err := p.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if time.Since(start) > 3*time.Second {
		t.Fatalf("stop took too long")
	}
}

func TestProcessOutputBeforeStart(t *testing.T) {
	p := NewProcess("", []string{"true"})
	if p.Name() != "true" {
		t.Fatalf("expected name from argv, got %q", p.Name())
	}
	for _, err := range p.Output(context.Background()) {
		if err == nil || !strings.Contains(err.Error(), "not started") {
			t.Fatalf("expected not started error, got %v", err)
		}
	}
	if err := p.Stop(context.Background()); err != nil {
		t.Fatalf("stop before start should be a no-op: %v", err)
	}
}

func TestShellRunsCommandsOnPTY(t *testing.T) {
	requireShell(t)
	sh := NewShell("pty", "", nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := sh.Start(ctx); err != nil {
		t.Skipf("pty unavailable: %v", err)
	}
	defer sh.Stop(context.Background())

	if err := sh.Send("echo pty-$((40+2))"); err != nil {
		t.Fatalf("send: %v", err)
	}
	for ev, err := range sh.Output(ctx) {
		if err != nil {
			t.Fatalf("output: %v", err)
		}
		if strings.TrimSpace(ev.Text) == "pty-42" {
			return
		}
	}
	t.Fatalf("did not see command output before timeout")
}
