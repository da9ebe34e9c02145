package event

import (
	"encoding/json"
	"strings"
)

// Event is one committed record of the conversation log. Once returned by the
// orchestrator it is never mutated.
type Event struct {
	Seq             int64          `json:"seq"`
	WatermarkTimeMs int64          `json:"watermarkTimeMs"`
	Role            string         `json:"role"`
	Stream          string         `json:"stream"`
	Act             string         `json:"act"`
	Text            string         `json:"text"`
	Meta            map[string]any `json:"meta"`
}

const (
	RoleUser = "user"
	RoleTool = "tool"
)

const (
	StreamSystem = "system"
	StreamUI     = "ui"
	StreamTool   = "tool"
)

const (
	ActThink   = "THINK"
	ActPropose = "PROPOSE"
	ActReport  = "REPORT"
	ActInput   = "INPUT"
	ActToolOut = "TOOL_OUT"
	ActStart   = "START"
	ActStop    = "STOP"
	ActSilent  = "SILENT"
)

const (
	MetaTool    = "tool"
	MetaSession = "session"
	MetaSource  = "source"
	MetaFD      = "fd"
)

// AgentStream returns the stream tag used for chunks produced by an agent.
func AgentStream(agentID string) string {
	return "llm-" + strings.TrimSpace(agentID)
}

// GetMetaString extracts a string from a metadata map. Returns "" if missing/not string.
func GetMetaString(meta map[string]any, key string) string {
	if meta == nil {
		return ""
	}
	val, ok := meta[key]
	if !ok {
		return ""
	}
	str, ok := val.(string)
	if !ok {
		return ""
	}
	return str
}

// MarshalJSON writes a missing meta as an empty object, never null.
func (e Event) MarshalJSON() ([]byte, error) {
	type record Event
	r := record(e)
	if r.Meta == nil {
		r.Meta = map[string]any{}
	}
	return json.Marshal(r)
}

// CloneMeta returns a shallow copy so callers cannot mutate a committed event.
// The copy is never nil.
func CloneMeta(meta map[string]any) map[string]any {
	out := make(map[string]any, len(meta))
	for k, v := range meta {
		out[k] = v
	}
	return out
}
