// Package tools manages the long-lived tool processes whose output is
// multiplexed into the conversation log.
package tools

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"sync"

	"github.com/flitsinc/go-duet/internal/event"
)

// Tool is one managed tool. Output is an unbounded sequence that ends when
// ctx is cancelled (or the tool exits); it must tolerate cancellation at any
// point.
type Tool interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Output(ctx context.Context) iter.Seq2[event.ToolEvent, error]
}

type Router struct {
	logger *slog.Logger

	mu      sync.Mutex
	tools   []Tool
	started bool
}

func NewRouter(logger *slog.Logger, tools ...Tool) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Router{logger: logger.With("component", "tools")}
	for _, t := range tools {
		if t != nil {
			r.tools = append(r.tools, t)
		}
	}
	return r
}

// Add registers a tool. Tools added after Start are started on the next Start.
func (r *Router) Add(t Tool) {
	if t == nil {
		return
	}
	r.mu.Lock()
	r.tools = append(r.tools, t)
	r.started = false
	r.mu.Unlock()
}

// Start brings every tool up. It is idempotent; if one tool fails the tools
// already started are stopped again and the error is returned.
func (r *Router) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return nil
	}
	for i, t := range r.tools {
		if err := t.Start(ctx); err != nil {
			for _, prev := range r.tools[:i] {
				if stopErr := prev.Stop(ctx); stopErr != nil {
					r.logger.Warn("tool rollback stop failed", "tool", prev.Name(), "error", stopErr)
				}
			}
			return fmt.Errorf("start tool %s: %w", t.Name(), err)
		}
		r.logger.Debug("tool started", "tool", t.Name())
	}
	r.started = true
	return nil
}

// Stop stops every tool. A failing tool never prevents the others from being
// stopped; all failures are returned joined.
func (r *Router) Stop(ctx context.Context) error {
	r.mu.Lock()
	tools := append([]Tool(nil), r.tools...)
	r.started = false
	r.mu.Unlock()

	var errs []error
	for _, t := range tools {
		if err := stopOne(ctx, t); err != nil {
			r.logger.Warn("tool stop failed", "tool", t.Name(), "error", err)
			errs = append(errs, fmt.Errorf("stop tool %s: %w", t.Name(), err))
		}
	}
	return errors.Join(errs...)
}

func stopOne(ctx context.Context, t Tool) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	return t.Stop(ctx)
}

func (r *Router) Tools() []Tool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Tool(nil), r.tools...)
}
