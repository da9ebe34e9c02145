// Package buffer keeps the recent, in-memory window of the conversation log.
//
// A Buffer is owned by exactly one orchestrator and is not safe for
// concurrent use; the orchestrator serializes access behind its ingest lock.
package buffer

import (
	"fmt"
	"strings"

	"github.com/flitsinc/go-duet/internal/event"
)

const (
	DefaultMaxLen       = 2000
	DefaultSummaryChars = 2000

	summaryLineRunes = 120
)

type Buffer struct {
	ring         *Ring[event.Event]
	summaryChars int
	summary      []string
	summaryLen   int
}

func New(maxLen, summaryChars int) *Buffer {
	if maxLen <= 0 {
		maxLen = DefaultMaxLen
	}
	if summaryChars <= 0 {
		summaryChars = DefaultSummaryChars
	}
	return &Buffer{
		ring:         NewRing[event.Event](maxLen),
		summaryChars: summaryChars,
	}
}

// Append adds ev as the newest entry. When the buffer is full the oldest
// event is evicted and folded into the running summary.
func (b *Buffer) Append(ev event.Event) {
	if evicted, ok := b.ring.Add(ev); ok {
		b.fold(evicted)
	}
}

// WindowSince returns buffered events with Seq > minSeq in ascending order.
func (b *Buffer) WindowSince(minSeq int64) []event.Event {
	n := b.ring.Len()
	if n == 0 {
		return nil
	}
	// Seqs are contiguous and ascending, so the cut point can be found by
	// binary search over ring positions.
	lo, hi := 0, n
	for lo < hi {
		mid := (lo + hi) / 2
		if b.ring.At(mid).Seq > minSeq {
			hi = mid
		} else {
			lo = mid + 1
		}
	}
	if lo == n {
		return nil
	}
	out := make([]event.Event, 0, n-lo)
	for i := lo; i < n; i++ {
		out = append(out, b.ring.At(i))
	}
	return out
}

func (b *Buffer) Len() int {
	return b.ring.Len()
}

func (b *Buffer) Cap() int {
	return b.ring.Cap()
}

// Newest returns the most recently appended event.
func (b *Buffer) Newest() (event.Event, bool) {
	n := b.ring.Len()
	if n == 0 {
		return event.Event{}, false
	}
	return b.ring.At(n - 1), true
}

// Summary returns the compact running summary of evicted events.
func (b *Buffer) Summary() string {
	return strings.Join(b.summary, "\n")
}

// SetSummary replaces the running summary, e.g. with the output of an
// external compactor. Later evictions are appended after it.
func (b *Buffer) SetSummary(summary string) {
	b.summary = b.summary[:0]
	b.summaryLen = 0
	summary = strings.TrimSpace(summary)
	if summary == "" {
		return
	}
	for _, line := range strings.Split(summary, "\n") {
		b.pushSummary(line)
	}
}

func (b *Buffer) fold(ev event.Event) {
	b.pushSummary(SummaryLine(ev))
}

func (b *Buffer) pushSummary(line string) {
	b.summary = append(b.summary, line)
	b.summaryLen += len(line) + 1
	for b.summaryLen > b.summaryChars && len(b.summary) > 1 {
		b.summaryLen -= len(b.summary[0]) + 1
		b.summary = b.summary[1:]
	}
}

// SummaryLine renders ev as a single clipped "[role:act] text" line.
func SummaryLine(ev event.Event) string {
	text := strings.Join(strings.Fields(ev.Text), " ")
	runes := []rune(text)
	if len(runes) > summaryLineRunes {
		text = string(runes[:summaryLineRunes-1]) + "…"
	}
	return fmt.Sprintf("[%s:%s] %s", ev.Role, ev.Act, text)
}
