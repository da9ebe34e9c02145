package api

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/flitsinc/go-duet/internal/event"
	"github.com/flitsinc/go-duet/internal/eventbus"
	"github.com/flitsinc/go-duet/internal/testutil"
)

type fakeWSWriter struct {
	mu       sync.Mutex
	messages [][]byte
}

func (f *fakeWSWriter) Write(_ context.Context, _ websocket.MessageType, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, data)
	return nil
}

func (f *fakeWSWriter) first() ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.messages) == 0 {
		return nil, false
	}
	return f.messages[0], true
}

func waitSubscribers(t *testing.T, bus *eventbus.Bus, n int) {
	t.Helper()
	testutil.WaitFor(t, "stream subscriber", func() bool { return bus.SubscriberCount() >= n })
}

func TestStreamEventsWriterFiltersRoles(t *testing.T) {
	db, closeFn := testutil.OpenTestDB(t)
	defer closeFn()

	bus := eventbus.NewBus(db)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	writer := &fakeWSWriter{}
	go func() {
		_ = streamEvents(ctx, bus, []string{event.RoleTool}, writer)
	}()
	waitSubscribers(t, bus, 1)

	bus.Publish(event.Event{Seq: 1, Role: event.RoleUser, Text: "ignored"})
	bus.Publish(event.Event{Seq: 2, Role: event.RoleTool, Text: "boom"})

	deadline := time.After(2 * time.Second)
	for {
		if data, ok := writer.first(); ok {
			var evt event.Event
			if err := json.Unmarshal(data, &evt); err != nil {
				t.Fatalf("decode ws payload: %v", err)
			}
			if evt.Text != "boom" || evt.Seq != 2 {
				t.Fatalf("unexpected event: %+v", evt)
			}
			return
		}
		select {
		case <-deadline:
			t.Fatalf("timeout waiting for ws message")
		default:
			time.Sleep(10 * time.Millisecond)
		}
	}
}

func TestStreamWSEndToEnd(t *testing.T) {
	db, closeFn := testutil.OpenTestDB(t)
	defer closeFn()

	bus := eventbus.NewBus(db)
	server := &Server{Bus: bus}
	srv := httptest.NewServer(server.Handler())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/streams/ws"
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	waitSubscribers(t, bus, 1)
	bus.Publish(event.Event{Seq: 7, Role: "botA", Stream: event.AgentStream("botA"), Act: event.ActReport, Text: "hi"})

	typ, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if typ != websocket.MessageText {
		t.Fatalf("unexpected message type %v", typ)
	}
	var evt event.Event
	if err := json.Unmarshal(data, &evt); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if evt.Seq != 7 || evt.Stream != "llm-botA" {
		t.Fatalf("unexpected event: %+v", evt)
	}
}
