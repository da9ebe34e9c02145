package api

import (
	"net/http"
	"runtime"
	"time"
)

type DiagnosticsInfo struct {
	HTTPAddr string   `json:"http_addr"`
	DataDir  string   `json:"data_dir"`
	Sink     string   `json:"sink"`
	LogPath  string   `json:"log_path,omitempty"`
	DBPath   string   `json:"db_path,omitempty"`
	Tools    []string `json:"tools,omitempty"`
}

type DiagnosticsResponse struct {
	Time          time.Time       `json:"time"`
	StartedAt     time.Time       `json:"started_at"`
	UptimeSeconds int64           `json:"uptime_seconds"`
	GoVersion     string          `json:"go_version"`
	Info          DiagnosticsInfo `json:"info"`
	EventBus      map[string]any  `json:"eventbus"`
	Orchestrator  map[string]any  `json:"orchestrator"`
}

func (s *Server) handleDiagnostics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	now := time.Now().UTC()
	started := s.StartedAt
	if started.IsZero() {
		started = now
	}
	resp := DiagnosticsResponse{
		Time:          now,
		StartedAt:     started,
		UptimeSeconds: int64(now.Sub(started).Seconds()),
		GoVersion:     runtime.Version(),
		Info:          s.Info,
		EventBus:      map[string]any{},
		Orchestrator:  map[string]any{},
	}
	if s.Bus != nil {
		resp.EventBus["subscribers"] = s.Bus.SubscriberCount()
		resp.EventBus["session"] = s.Bus.SessionID()
	}
	if s.Conversation != nil {
		snap := s.Conversation.Snapshot()
		resp.Orchestrator["state"] = snap.State
		resp.Orchestrator["last_seq"] = snap.LastSeq
		resp.Orchestrator["buffered"] = snap.Buffered
	}
	if s.Limiter != nil {
		resp.Orchestrator["inbox_rps"] = float64(s.Limiter.Limit())
	}
	writeJSON(w, http.StatusOK, resp)
}
