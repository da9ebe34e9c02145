package event

// Chunk is one piece of an agent's streamed turn.
type Chunk struct {
	Text string
	Act  string
}

// ToolEvent is one item of a tool's output stream.
type ToolEvent struct {
	Text   string
	Act    string
	Stream string
	Meta   map[string]any
}
