package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/flitsinc/go-duet/internal/event"
	"github.com/flitsinc/go-duet/internal/eventbus"
	"github.com/flitsinc/go-duet/internal/orchestrator"
	"github.com/flitsinc/go-duet/internal/state"
)

// Conversation is the part of the orchestrator the API reads from.
type Conversation interface {
	Snapshot() orchestrator.Snapshot
	Agents() []string
	Events(afterSeq int64) []event.Event
}

// Inbox accepts user input for the running session.
type Inbox interface {
	Submit(ctx context.Context, text string) error
}

// LineSender is an interactive tool that accepts input lines.
type LineSender interface {
	Send(line string) error
}

// EventLog is a persisted event history. When set it is preferred over the
// orchestrator's bounded buffer for /api/events.
type EventLog interface {
	List(ctx context.Context, opts eventbus.ListOptions) ([]event.Event, error)
}

type Server struct {
	Conversation Conversation
	Bus          *eventbus.Bus
	Log          EventLog
	Store        *state.Store
	Inbox        Inbox
	// Shells are interactive tools by name, fed through /api/tools/{name}/send.
	Shells map[string]LineSender
	// Limiter throttles inbox submissions. Nil means unlimited.
	Limiter   *rate.Limiter
	StartedAt time.Time
	Info      DiagnosticsInfo
}

// NewInboxLimiter returns a limiter allowing rps submissions per second, or
// nil when rps is not positive.
func NewInboxLimiter(rps float64) *rate.Limiter {
	if rps <= 0 {
		return nil
	}
	burst := int(math.Ceil(rps))
	return rate.NewLimiter(rate.Limit(rps), max(burst, 1))
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/health", s.handleHealth)
	mux.HandleFunc("/api/state", s.handleState)
	mux.HandleFunc("/api/events", s.handleEvents)
	mux.HandleFunc("/api/inbox", s.handleInbox)
	mux.HandleFunc("/api/sessions", s.handleSessions)
	mux.HandleFunc("/api/sessions/", s.handleSessionItem)
	mux.HandleFunc("/api/tools/", s.handleToolSend)
	mux.HandleFunc("/api/streams/ws", s.handleStreamWS)
	mux.HandleFunc("/api/diagnostics", s.handleDiagnostics)

	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "time": time.Now().UTC()})
}

type stateResponse struct {
	orchestrator.Snapshot
	Agents []string `json:"agents"`
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	if s.Conversation == nil {
		writeError(w, http.StatusServiceUnavailable, errNotFound("orchestrator"))
		return
	}
	writeJSON(w, http.StatusOK, stateResponse{
		Snapshot: s.Conversation.Snapshot(),
		Agents:   s.Conversation.Agents(),
	})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	q := r.URL.Query()
	after := parseInt64(q.Get("after"), 0)
	limit := parseInt(q.Get("limit"), 200)
	roles := splitComma(q.Get("roles"))

	if s.Log != nil {
		items, err := s.Log.List(r.Context(), eventbus.ListOptions{
			AfterSeq: after,
			Limit:    limit,
			Order:    q.Get("order"),
			Roles:    roles,
		})
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, nonNil(items))
		return
	}
	if s.Conversation == nil {
		writeError(w, http.StatusServiceUnavailable, errNotFound("event history"))
		return
	}
	items := filterRoles(s.Conversation.Events(after), roles)
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	writeJSON(w, http.StatusOK, nonNil(items))
}

func (s *Server) handleInbox(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	if s.Inbox == nil {
		writeError(w, http.StatusServiceUnavailable, errNotFound("inbox"))
		return
	}
	if s.Limiter != nil && !s.Limiter.Allow() {
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusTooManyRequests, errors.New("too many inbox submissions"))
		return
	}
	var payload struct {
		Text string `json:"text"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if strings.TrimSpace(payload.Text) == "" {
		writeError(w, http.StatusBadRequest, errors.New("text is required"))
		return
	}
	if err := s.Inbox.Submit(r.Context(), payload.Text); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"ok": true})
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	if s.Store == nil {
		writeError(w, http.StatusServiceUnavailable, errNotFound("session store"))
		return
	}
	items, err := s.Store.ListSessions(r.Context(), parseInt(r.URL.Query().Get("limit"), 50))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(items))
}

func (s *Server) handleSessionItem(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/sessions/"), "/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, http.StatusNotFound, errNotFound("session"))
		return
	}
	if s.Store == nil {
		writeError(w, http.StatusServiceUnavailable, errNotFound("session store"))
		return
	}
	sess, err := s.Store.GetSession(r.Context(), id)
	if errors.Is(err, state.ErrNotFound) {
		writeError(w, http.StatusNotFound, errNotFound("session"))
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleToolSend(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/tools/"), "/")
	name, action, ok := strings.Cut(path, "/")
	if !ok || action != "send" || name == "" {
		writeError(w, http.StatusNotFound, errNotFound("tool action"))
		return
	}
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	shell, ok := s.Shells[name]
	if !ok {
		writeError(w, http.StatusNotFound, errNotFound("tool "+name))
		return
	}
	var payload struct {
		Line string `json:"line"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := shell.Send(payload.Line); err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"ok": true})
}

func filterRoles(items []event.Event, roles []string) []event.Event {
	if len(roles) == 0 {
		return items
	}
	out := items[:0:0]
	for _, ev := range items {
		for _, role := range roles {
			if ev.Role == role {
				out = append(out, ev)
				break
			}
		}
	}
	return out
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}

func decodeJSON(body io.Reader, dest any) error {
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	return dec.Decode(dest)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]any{"error": err.Error()})
}

func writeMethodNotAllowed(w http.ResponseWriter) {
	writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"error": "method not allowed"})
}

func parseInt(value string, fallback int) int {
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func parseInt64(value string, fallback int64) int64 {
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func splitComma(value string) []string {
	parts := strings.Split(value, ",")
	var out []string
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}

type notFoundError struct {
	msg string
}

func (e notFoundError) Error() string { return e.msg }

func errNotFound(target string) error {
	return notFoundError{msg: target + " not found"}
}
