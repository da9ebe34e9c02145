package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/coder/websocket"

	"github.com/flitsinc/go-duet/internal/event"
	"github.com/flitsinc/go-duet/internal/eventbus"
)

type wsWriter interface {
	Write(ctx context.Context, msgType websocket.MessageType, data []byte) error
}

// handleStreamWS pushes every published event to the client as one JSON text
// message. ?roles= restricts the roles forwarded.
func (s *Server) handleStreamWS(w http.ResponseWriter, r *http.Request) {
	if s.Bus == nil {
		writeError(w, http.StatusInternalServerError, errNotFound("stream bus"))
		return
	}
	roles := splitComma(r.URL.Query().Get("roles"))

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusInternalError, "closed")

	// The client never sends; CloseRead handles control frames and cancels
	// ctx once the peer goes away.
	ctx := conn.CloseRead(r.Context())
	if err := streamEvents(ctx, s.Bus, roles, conn); err != nil {
		_ = conn.Close(websocket.StatusInternalError, "stream error")
		return
	}
	_ = conn.Close(websocket.StatusNormalClosure, "done")
}

func streamEvents(ctx context.Context, bus *eventbus.Bus, roles []string, writer wsWriter) error {
	sub := bus.Subscribe(ctx, roles)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt, ok := <-sub:
			if !ok {
				return nil
			}
			if err := writeEvent(ctx, writer, evt); err != nil {
				return err
			}
		}
	}
}

func writeEvent(ctx context.Context, writer wsWriter, evt event.Event) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	return writer.Write(ctx, websocket.MessageText, payload)
}
