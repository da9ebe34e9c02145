// Package sink holds EventSink backends: an in-memory sink and the JSONL
// durable log with a file-based inbox.
package sink

import (
	"context"
	"errors"
	"iter"
	"strings"
	"sync"

	"github.com/flitsinc/go-duet/internal/event"
)

var ErrClosed = errors.New("sink closed")

const inboxBuffer = 256

// Memory keeps committed events in a slice and serves its inbox from a
// channel fed by Submit.
type Memory struct {
	mu        sync.Mutex
	events    []event.Event
	appendErr error
	closed    bool

	inbox chan event.Event
	done  chan struct{}
	once  sync.Once
}

func NewMemory() *Memory {
	return &Memory{
		inbox: make(chan event.Event, inboxBuffer),
		done:  make(chan struct{}),
	}
}

func (m *Memory) Append(_ context.Context, ev event.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if m.appendErr != nil {
		return m.appendErr
	}
	m.events = append(m.events, ev)
	return nil
}

// FailAppends makes every later Append return err; nil restores normal
// operation.
func (m *Memory) FailAppends(err error) {
	m.mu.Lock()
	m.appendErr = err
	m.mu.Unlock()
}

// Events returns a copy of everything appended so far.
func (m *Memory) Events() []event.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]event.Event(nil), m.events...)
}

func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}

// Submit queues user text for the inbox.
func (m *Memory) Submit(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	ev := event.Event{Role: event.RoleUser, Stream: event.StreamUI, Act: event.ActInput, Text: text}
	select {
	case <-m.done:
		return ErrClosed
	default:
	}
	select {
	case m.inbox <- ev:
		return nil
	case <-m.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Tail yields submitted inbox events until ctx is cancelled or the sink is
// closed.
func (m *Memory) Tail(ctx context.Context) iter.Seq2[event.Event, error] {
	return func(yield func(event.Event, error) bool) {
		for {
			select {
			case <-ctx.Done():
				return
			case <-m.done:
				return
			case ev := <-m.inbox:
				if !yield(ev, nil) {
					return
				}
			}
		}
	}
}

func (m *Memory) Close() error {
	m.once.Do(func() {
		m.mu.Lock()
		m.closed = true
		m.mu.Unlock()
		close(m.done)
	})
	return nil
}
