package orchestrator

import (
	"context"
	"iter"

	"github.com/flitsinc/go-duet/internal/event"
	"github.com/flitsinc/go-duet/internal/policy"
	"github.com/flitsinc/go-duet/internal/tools"
)

// StreamingAgent produces one turn as a finite sequence of chunks. Breaking
// out of the range loop stops the agent early; implementations must observe
// ctx. A non-nil error aborts the turn.
type StreamingAgent interface {
	Stream(ctx context.Context, prompt string, maxTokens, sliceMs int) iter.Seq2[event.Chunk, error]
}

type Tool = tools.Tool

// ToolRouter owns the managed tools. Start is idempotent; Stop stops every
// tool even if some fail.
type ToolRouter interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Tools() []Tool
}

// EventSink is the durability boundary. Append returns once the event is
// written. Tail yields externally submitted user input until ctx ends.
type EventSink interface {
	Append(ctx context.Context, ev event.Event) error
	Tail(ctx context.Context) iter.Seq2[event.Event, error]
}

type PolicyProvider interface {
	Floor() policy.FloorPolicy
	TriggerFor(role string) policy.TriggerPolicy
}

// Facts supplies shared facts rendered into every prompt.
type Facts interface {
	Snapshot(ctx context.Context) string
}

type FactsFunc func(ctx context.Context) string

func (f FactsFunc) Snapshot(ctx context.Context) string {
	return f(ctx)
}

type noFacts struct{}

func (noFacts) Snapshot(context.Context) string { return "" }
