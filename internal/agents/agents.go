// Package agents holds StreamingAgent implementations that need no model
// SDK: a static reply agent used by default, a func adapter, a scripted
// agent for demos and tests, and Command, which delegates each turn to an
// external program.
package agents

import (
	"context"
	"iter"
	"strings"
	"sync"
	"time"

	"github.com/flitsinc/go-duet/internal/event"
)

// Static answers every turn with the same single chunk.
type Static struct {
	Text string
	Act  string
}

func NewStatic(text, act string) *Static {
	if strings.TrimSpace(act) == "" {
		act = event.ActReport
	}
	return &Static{Text: text, Act: act}
}

func (s *Static) Stream(ctx context.Context, _ string, _ int, _ int) iter.Seq2[event.Chunk, error] {
	return func(yield func(event.Chunk, error) bool) {
		if s == nil || s.Text == "" {
			return
		}
		if err := ctx.Err(); err != nil {
			yield(event.Chunk{}, err)
			return
		}
		yield(event.Chunk{Text: s.Text, Act: s.Act}, nil)
	}
}

// Func adapts a plain function to the streaming agent contract.
type Func func(ctx context.Context, prompt string, maxTokens, sliceMs int) iter.Seq2[event.Chunk, error]

func (f Func) Stream(ctx context.Context, prompt string, maxTokens, sliceMs int) iter.Seq2[event.Chunk, error] {
	return f(ctx, prompt, maxTokens, sliceMs)
}

// Turn is one scripted reply: chunks yielded in order, then Err if set.
type Turn struct {
	Chunks []event.Chunk
	Err    error
}

// Scripted replays Turns in order, one per Stream call; once the script is
// exhausted it stays silent. Prompts are recorded for inspection.
type Scripted struct {
	Turns []Turn
	// Delay is waited before each chunk; cancellation of ctx ends the stream.
	Delay time.Duration

	mu      sync.Mutex
	next    int
	prompts []string
	yielded int
}

func (s *Scripted) Stream(ctx context.Context, prompt string, _ int, _ int) iter.Seq2[event.Chunk, error] {
	s.mu.Lock()
	s.prompts = append(s.prompts, prompt)
	var turn Turn
	ok := s.next < len(s.Turns)
	if ok {
		turn = s.Turns[s.next]
		s.next++
	}
	s.mu.Unlock()

	return func(yield func(event.Chunk, error) bool) {
		if !ok {
			return
		}
		for _, chunk := range turn.Chunks {
			if err := ctx.Err(); err != nil {
				yield(event.Chunk{}, err)
				return
			}
			if s.Delay > 0 {
				select {
				case <-ctx.Done():
					yield(event.Chunk{}, ctx.Err())
					return
				case <-time.After(s.Delay):
				}
			}
			s.mu.Lock()
			s.yielded++
			s.mu.Unlock()
			if !yield(chunk, nil) {
				return
			}
		}
		if turn.Err != nil {
			yield(event.Chunk{}, turn.Err)
		}
	}
}

// Calls returns how many times Stream was opened.
func (s *Scripted) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.prompts)
}

// Prompts returns the prompts received so far.
func (s *Scripted) Prompts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.prompts...)
}

// Yielded returns how many chunks were handed to consumers.
func (s *Scripted) Yielded() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.yielded
}

// Words splits text into one chunk per word, keeping the trailing space so
// the chunks concatenate back to the original spacing.
func Words(text, act string) []event.Chunk {
	fields := strings.Fields(text)
	out := make([]event.Chunk, 0, len(fields))
	for i, f := range fields {
		if i < len(fields)-1 {
			f += " "
		}
		out = append(out, event.Chunk{Text: f, Act: act})
	}
	return out
}
