package prompt

import (
	"strings"
	"testing"

	"github.com/flitsinc/go-duet/internal/event"
)

func TestBuilderOrdering(t *testing.T) {
	b := NewBuilder()
	b.Add(Block{ID: "low", Priority: 1, Content: "low"})
	b.Add(Block{ID: "high", Priority: 10, Content: "high"})
	b.Add(Block{ID: "mid", Priority: 5, Content: "mid"})
	b.Add(Block{ID: "blank", Priority: 7, Content: "  "})

	got := b.Build()
	expected := "high\n\nmid\n\nlow"
	if got != expected {
		t.Fatalf("unexpected build: %q", got)
	}
	if b.Len() != 3 {
		t.Fatalf("expected blank block dropped")
	}
}

func TestBuilderHeading(t *testing.T) {
	b := NewBuilder()
	b.Add(Block{ID: "summary", Priority: 1, Heading: "Summary", Content: "earlier talk\n"})
	if got := b.Build(); got != "Summary:\nearlier talk" {
		t.Fatalf("unexpected build: %q", got)
	}
}

func TestBuilderMaxCharsTrimsLowPriorityFirst(t *testing.T) {
	b := NewBuilder()
	b.MaxChars = 40
	b.Add(Block{ID: "preamble", Priority: 100, Content: "You are botA."})
	b.Add(Block{ID: "window", Priority: 10, Heading: "New", Content: "old line\nmiddle line\nnew line"})

	got := b.Build()
	if len(got) > 40 {
		t.Fatalf("expected at most 40 chars, got %d: %q", len(got), got)
	}
	if !strings.HasPrefix(got, "You are botA.") {
		t.Fatalf("expected preamble kept: %q", got)
	}
	if strings.Contains(got, "old line") || !strings.Contains(got, "new line") {
		t.Fatalf("expected oldest lines dropped first: %q", got)
	}
}

func TestBuilderMaxCharsDropsBlockThatCannotFit(t *testing.T) {
	b := NewBuilder()
	b.MaxChars = 15
	b.Add(Block{ID: "preamble", Priority: 100, Content: "You are botA."})
	b.Add(Block{ID: "facts", Priority: 50, Heading: "Shared facts", Content: "x"})

	if got := b.Build(); got != "You are botA." {
		t.Fatalf("unexpected build: %q", got)
	}
}

func TestRenderWindowTruncatesToNewest(t *testing.T) {
	var events []event.Event
	for i := 1; i <= 5; i++ {
		events = append(events, event.Event{Seq: int64(i), Role: "botA", Act: event.ActReport, Text: strings.Repeat("x", i)})
	}
	events = append(events, event.Event{Seq: 6, Role: event.RoleTool, Act: event.ActToolOut, Text: "   "})

	got := RenderWindow(events, 2)
	if got != "[botA:REPORT] xxxx\n[botA:REPORT] xxxxx" {
		t.Fatalf("unexpected window: %q", got)
	}
	if RenderWindow(nil, 2) != "" {
		t.Fatalf("expected empty window")
	}
}

func TestDefaultPreambleNamesBothAgents(t *testing.T) {
	text := DefaultPreamble("botA", "botB")
	if !strings.Contains(text, "You are botA") || !strings.Contains(text, "The other agent is botB") {
		t.Fatalf("unexpected preamble: %s", text)
	}
}
