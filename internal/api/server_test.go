package api

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"golang.org/x/time/rate"

	"github.com/flitsinc/go-duet/internal/event"
	"github.com/flitsinc/go-duet/internal/eventbus"
	"github.com/flitsinc/go-duet/internal/orchestrator"
	"github.com/flitsinc/go-duet/internal/sink"
	"github.com/flitsinc/go-duet/internal/state"
	"github.com/flitsinc/go-duet/internal/testutil"
)

func newTestOrchestrator(t *testing.T, mem *sink.Memory) *orchestrator.Orchestrator {
	t.Helper()
	orch := orchestrator.New(orchestrator.Config{Sink: mem, SessionID: "sess-api"})
	ctx := context.Background()
	if _, err := orch.Ingest(ctx, event.RoleUser, "hello there", event.ActInput, event.StreamUI, nil); err != nil {
		t.Fatalf("ingest user: %v", err)
	}
	if _, err := orch.Ingest(ctx, event.RoleTool, "build ok", event.ActToolOut, event.StreamTool, map[string]any{event.MetaTool: "make"}); err != nil {
		t.Fatalf("ingest tool: %v", err)
	}
	return orch
}

func TestServerStateAndEvents(t *testing.T) {
	mem := sink.NewMemory()
	orch := newTestOrchestrator(t, mem)
	server := &Server{Conversation: orch, Inbox: mem}
	client := testutil.NewInProcessClient(server.Handler())

	resp := testutil.DoJSON(t, client, "GET", "/api/health", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health status: %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = testutil.DoJSON(t, client, "GET", "/api/state", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("state status: %d body=%s", resp.StatusCode, readBody(t, resp))
	}
	var snap stateResponse
	testutil.DecodeJSON(t, resp, &snap)
	if snap.SessionID != "sess-api" || snap.LastSeq != 2 || snap.State != "idle" {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
	if !snap.UserActive {
		t.Fatalf("expected user to be active right after input")
	}
	if len(snap.Agents) != 2 || snap.Agents[0] != orchestrator.DefaultAgentA {
		t.Fatalf("unexpected agents: %v", snap.Agents)
	}

	resp = testutil.DoJSON(t, client, "GET", "/api/events", nil)
	var all []event.Event
	testutil.DecodeJSON(t, resp, &all)
	if len(all) != 2 || all[0].Seq != 1 || all[1].Seq != 2 {
		t.Fatalf("unexpected events: %+v", all)
	}

	resp = testutil.DoJSON(t, client, "GET", "/api/events?roles=tool", nil)
	var tools []event.Event
	testutil.DecodeJSON(t, resp, &tools)
	if len(tools) != 1 || tools[0].Text != "build ok" {
		t.Fatalf("unexpected tool events: %+v", tools)
	}

	resp = testutil.DoJSON(t, client, "GET", "/api/events?after=2", nil)
	var none []event.Event
	testutil.DecodeJSON(t, resp, &none)
	if none == nil || len(none) != 0 {
		t.Fatalf("expected empty list, got %v", none)
	}

	resp = testutil.DoJSON(t, client, "DELETE", "/api/state", nil)
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestServerEventsFromPersistedLog(t *testing.T) {
	db, closeFn := testutil.OpenTestDB(t)
	defer closeFn()

	bus := eventbus.NewBus(db, eventbus.WithSession("sess-log"))
	ctx := context.Background()
	for i, text := range []string{"one", "two", "three"} {
		ev := event.Event{Seq: int64(i + 1), WatermarkTimeMs: int64(i * 10), Role: event.RoleUser, Stream: event.StreamUI, Act: event.ActInput, Text: text}
		if err := bus.Append(ctx, ev); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	server := &Server{Bus: bus, Log: bus}
	client := testutil.NewInProcessClient(server.Handler())

	resp := testutil.DoJSON(t, client, "GET", "/api/events?after=1&limit=1", nil)
	var items []event.Event
	testutil.DecodeJSON(t, resp, &items)
	if len(items) != 1 || items[0].Text != "two" {
		t.Fatalf("unexpected page: %+v", items)
	}
}

func TestServerInboxSubmitAndRateLimit(t *testing.T) {
	mem := sink.NewMemory()
	server := &Server{
		Inbox:   mem,
		Limiter: rate.NewLimiter(rate.Limit(0.001), 1),
	}
	client := testutil.NewInProcessClient(server.Handler())

	resp := testutil.DoJSON(t, client, "POST", "/api/inbox", map[string]any{"text": "  status?  "})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("submit status: %d body=%s", resp.StatusCode, readBody(t, resp))
	}
	resp.Body.Close()

	resp = testutil.DoJSON(t, client, "POST", "/api/inbox", map[string]any{"text": "again"})
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", resp.StatusCode)
	}
	if resp.Header.Get("Retry-After") == "" {
		t.Fatalf("expected Retry-After header")
	}
	resp.Body.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	for ev, err := range mem.Tail(ctx) {
		if err != nil {
			t.Fatalf("tail: %v", err)
		}
		if ev.Text != "  status?  " || ev.Role != event.RoleUser {
			t.Fatalf("unexpected inbox event: %+v", ev)
		}
		break
	}
}

func TestServerInboxValidation(t *testing.T) {
	server := &Server{Inbox: sink.NewMemory()}
	client := testutil.NewInProcessClient(server.Handler())

	resp := testutil.DoJSON(t, client, "POST", "/api/inbox", map[string]any{"text": "   "})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for blank text, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = testutil.DoJSON(t, client, "POST", "/api/inbox", map[string]any{"text": "hi", "extra": 1})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown field, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = testutil.DoJSON(t, client, "GET", "/api/inbox", nil)
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	empty := &Server{}
	resp = testutil.DoJSON(t, testutil.NewInProcessClient(empty.Handler()), "POST", "/api/inbox", map[string]any{"text": "hi"})
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 without inbox, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestServerSessions(t *testing.T) {
	db, closeFn := testutil.OpenTestDB(t)
	defer closeFn()

	store := state.NewStore(db)
	ctx := context.Background()
	if _, err := store.CreateSession(ctx, "sess-1", "botA", "botB"); err != nil {
		t.Fatalf("create session: %v", err)
	}
	if err := store.FinishSession(ctx, "sess-1", 42, nil); err != nil {
		t.Fatalf("finish session: %v", err)
	}

	server := &Server{Store: store}
	client := testutil.NewInProcessClient(server.Handler())

	resp := testutil.DoJSON(t, client, "GET", "/api/sessions", nil)
	var list []state.Session
	testutil.DecodeJSON(t, resp, &list)
	if len(list) != 1 || list[0].ID != "sess-1" {
		t.Fatalf("unexpected sessions: %+v", list)
	}

	resp = testutil.DoJSON(t, client, "GET", "/api/sessions/sess-1", nil)
	var sess state.Session
	testutil.DecodeJSON(t, resp, &sess)
	if sess.Status != state.SessionFinished || sess.LastSeq != 42 {
		t.Fatalf("unexpected session: %+v", sess)
	}

	resp = testutil.DoJSON(t, client, "GET", "/api/sessions/missing", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestNewInboxLimiter(t *testing.T) {
	if NewInboxLimiter(0) != nil {
		t.Fatalf("expected nil limiter for zero rps")
	}
	lim := NewInboxLimiter(2.5)
	if lim == nil || lim.Burst() != 3 {
		t.Fatalf("unexpected limiter: %+v", lim)
	}
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	data, err := testutil.ReadAll(resp)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return string(data)
}

type fakeShell struct {
	lines []string
	err   error
}

func (f *fakeShell) Send(line string) error {
	if f.err != nil {
		return f.err
	}
	f.lines = append(f.lines, line)
	return nil
}

func TestServerToolSend(t *testing.T) {
	shell := &fakeShell{}
	server := &Server{Shells: map[string]LineSender{"shell": shell}}
	client := testutil.NewInProcessClient(server.Handler())

	resp := testutil.DoJSON(t, client, "POST", "/api/tools/shell/send", map[string]any{"line": "ls -la"})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("send status: %d body=%s", resp.StatusCode, readBody(t, resp))
	}
	resp.Body.Close()
	if len(shell.lines) != 1 || shell.lines[0] != "ls -la" {
		t.Fatalf("unexpected lines: %v", shell.lines)
	}

	resp = testutil.DoJSON(t, client, "POST", "/api/tools/other/send", map[string]any{"line": "x"})
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown tool, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	shell.err = errors.New("tool shell not started")
	resp = testutil.DoJSON(t, client, "POST", "/api/tools/shell/send", map[string]any{"line": "x"})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}
