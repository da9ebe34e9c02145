package tools

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/flitsinc/go-duet/internal/event"
)

func TestRouterStartIsIdempotent(t *testing.T) {
	a := &Static{ToolName: "a"}
	b := &Static{ToolName: "b"}
	r := NewRouter(nil, a, b)
	ctx := context.Background()

	if err := r.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := r.Start(ctx); err != nil {
		t.Fatalf("second start: %v", err)
	}
	if a.Starts() != 1 || b.Starts() != 1 {
		t.Fatalf("expected one start each, got %d/%d", a.Starts(), b.Starts())
	}
	if len(r.Tools()) != 2 {
		t.Fatalf("expected 2 tools")
	}
}

func TestRouterStartRollsBackOnFailure(t *testing.T) {
	a := &Static{ToolName: "a"}
	bad := &Static{ToolName: "bad", StartErr: errors.New("nope")}
	r := NewRouter(nil, a, bad)

	err := r.Start(context.Background())
	if err == nil || !strings.Contains(err.Error(), "start tool bad") {
		t.Fatalf("expected start failure, got %v", err)
	}
	if a.Stops() != 1 {
		t.Fatalf("expected started tool rolled back")
	}
}

func TestRouterStopIsBestEffort(t *testing.T) {
	failing := &Static{ToolName: "failing", StopErr: errors.New("stuck")}
	other := &Static{ToolName: "other"}
	r := NewRouter(nil, failing, other)
	_ = r.Start(context.Background())

	err := r.Stop(context.Background())
	if err == nil || !strings.Contains(err.Error(), "stop tool failing") {
		t.Fatalf("expected joined stop error, got %v", err)
	}
	if other.Stops() != 1 || failing.Stops() != 1 {
		t.Fatalf("expected every tool stopped")
	}
}

type panicTool struct{ Static }

func (p *panicTool) Stop(context.Context) error { panic("boom") }

func TestRouterStopSurvivesPanics(t *testing.T) {
	other := &Static{ToolName: "other"}
	r := NewRouter(nil, &panicTool{Static{ToolName: "panicky"}}, other)
	if err := r.Stop(context.Background()); err == nil {
		t.Fatalf("expected error from panicking tool")
	}
	if other.Stops() != 1 {
		t.Fatalf("expected other tool stopped")
	}
}

func TestStaticOutputThenIdle(t *testing.T) {
	tool := &Static{Events: []event.ToolEvent{{Text: "one"}, {Text: "two"}}}
	ctx, cancel := context.WithCancel(context.Background())
	var got []string
	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev, err := range tool.Output(ctx) {
			if err != nil {
				return
			}
			got = append(got, ev.Text)
		}
	}()

	deadline := time.After(2 * time.Second)
	for tool.Sent() < 2 {
		select {
		case <-deadline:
			t.Fatalf("timeout waiting for static output")
		default:
			time.Sleep(5 * time.Millisecond)
		}
	}
	cancel()
	<-done
	if len(got) != 2 {
		t.Fatalf("unexpected output: %v", got)
	}
}
