package buffer

import (
	"strings"
	"testing"

	"github.com/flitsinc/go-duet/internal/event"
)

func fill(b *Buffer, from, to int64) {
	for seq := from; seq <= to; seq++ {
		b.Append(event.Event{Seq: seq, Role: event.RoleUser, Act: event.ActInput, Text: "msg"})
	}
}

func seqs(events []event.Event) []int64 {
	out := make([]int64, 0, len(events))
	for _, ev := range events {
		out = append(out, ev.Seq)
	}
	return out
}

func TestWindowSince(t *testing.T) {
	b := New(10, 0)
	fill(b, 1, 5)

	got := seqs(b.WindowSince(2))
	if len(got) != 3 || got[0] != 3 || got[2] != 5 {
		t.Fatalf("unexpected window: %v", got)
	}
	if all := b.WindowSince(0); len(all) != 5 {
		t.Fatalf("expected whole buffer, got %d", len(all))
	}
	if empty := b.WindowSince(5); len(empty) != 0 {
		t.Fatalf("expected empty window at newest, got %v", seqs(empty))
	}
	if empty := b.WindowSince(99); len(empty) != 0 {
		t.Fatalf("expected empty window past newest")
	}
}

func TestWindowSinceAfterEviction(t *testing.T) {
	b := New(3, 0)
	fill(b, 1, 7)

	if b.Len() != 3 {
		t.Fatalf("expected len 3, got %d", b.Len())
	}
	got := seqs(b.WindowSince(0))
	if len(got) != 3 || got[0] != 5 || got[1] != 6 || got[2] != 7 {
		t.Fatalf("unexpected window after eviction: %v", got)
	}
	got = seqs(b.WindowSince(5))
	if len(got) != 2 || got[0] != 6 {
		t.Fatalf("unexpected partial window: %v", got)
	}
	newest, ok := b.Newest()
	if !ok || newest.Seq != 7 {
		t.Fatalf("unexpected newest: %+v", newest)
	}
}

func TestSummaryFoldsEvictedEvents(t *testing.T) {
	b := New(2, 0)
	b.Append(event.Event{Seq: 1, Role: "botA", Act: event.ActPropose, Text: "first idea"})
	b.Append(event.Event{Seq: 2, Role: "botB", Act: event.ActReport, Text: "second"})
	if b.Summary() != "" {
		t.Fatalf("expected empty summary before eviction")
	}
	b.Append(event.Event{Seq: 3, Role: event.RoleUser, Act: event.ActInput, Text: "third"})
	if b.Summary() != "[botA:PROPOSE] first idea" {
		t.Fatalf("unexpected summary: %q", b.Summary())
	}
}

func TestSummaryIsBounded(t *testing.T) {
	b := New(1, 100)
	for seq := int64(1); seq <= 50; seq++ {
		b.Append(event.Event{Seq: seq, Role: event.RoleTool, Act: event.ActToolOut, Text: strings.Repeat("x", 30)})
	}
	if len(b.Summary()) > 100 {
		t.Fatalf("summary exceeded bound: %d", len(b.Summary()))
	}
	if b.Summary() == "" {
		t.Fatalf("expected non-empty summary")
	}
}

func TestSummaryLineClips(t *testing.T) {
	line := SummaryLine(event.Event{Role: "botA", Act: event.ActThink, Text: strings.Repeat("word ", 100)})
	if len([]rune(line)) > summaryLineRunes+len("[botA:THINK] ") {
		t.Fatalf("line not clipped: %d runes", len([]rune(line)))
	}
}

func TestSetSummary(t *testing.T) {
	b := New(1, 0)
	b.SetSummary("compacted history")
	fill(b, 1, 2)
	if !strings.HasPrefix(b.Summary(), "compacted history\n") {
		t.Fatalf("unexpected summary: %q", b.Summary())
	}
}

func TestRingList(t *testing.T) {
	r := NewRing[int](3)
	for i := 1; i <= 4; i++ {
		r.Add(i)
	}
	got := r.List()
	if len(got) != 3 || got[0] != 2 || got[2] != 4 {
		t.Fatalf("unexpected ring list: %v", got)
	}
}
