package tools

import (
	"context"
	"iter"
	"sync"

	"github.com/flitsinc/go-duet/internal/event"
)

// Static emits a fixed list of events and then idles until cancelled. It is
// the no-op tool and a test double.
type Static struct {
	ToolName string
	Events   []event.ToolEvent
	StartErr error
	StopErr  error

	mu     sync.Mutex
	starts int
	stops  int
	sent   int
}

func (s *Static) Name() string {
	if s.ToolName == "" {
		return "static"
	}
	return s.ToolName
}

func (s *Static) Start(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.starts++
	return s.StartErr
}

func (s *Static) Stop(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stops++
	return s.StopErr
}

func (s *Static) Output(ctx context.Context) iter.Seq2[event.ToolEvent, error] {
	return func(yield func(event.ToolEvent, error) bool) {
		for _, ev := range s.Events {
			if ctx.Err() != nil {
				return
			}
			s.mu.Lock()
			s.sent++
			s.mu.Unlock()
			if !yield(ev, nil) {
				return
			}
		}
		<-ctx.Done()
	}
}

func (s *Static) Starts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.starts
}

func (s *Static) Stops() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stops
}

// Sent reports how many events were handed to the consumer.
func (s *Static) Sent() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sent
}
