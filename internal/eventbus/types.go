package eventbus

import "time"

// InboxItem is one pending user input row.
type InboxItem struct {
	ID        string         `json:"id"`
	SessionID string         `json:"session_id,omitempty"`
	Text      string         `json:"text"`
	Meta      map[string]any `json:"meta,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

type ListOptions struct {
	AfterSeq int64
	Limit    int
	// Order is "fifo" (oldest first, the default) or "lifo".
	Order string
	// Roles restricts the result to these roles when non-empty.
	Roles []string
}
