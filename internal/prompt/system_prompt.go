package prompt

import (
	"fmt"
	"strings"
)

const preambleTemplate = `You are %s, one of two agents sharing a single conversation log with a human user and a set of tools.

Rules:
- The other agent is %s. Read its lines, build on them, do not repeat them.
- Lines are rendered as [role:act] text in the order they happened.
- Tool output arrives as [tool:TOOL_OUT] lines; treat it as ground truth.
- The user may interrupt at any time. When the user speaks, answer the user first.
- Keep each turn short: one idea, proposal or report per turn.`

// DefaultPreamble returns the fixed system preamble for speaker.
func DefaultPreamble(speaker, peer string) string {
	speaker = strings.TrimSpace(speaker)
	peer = strings.TrimSpace(peer)
	if peer == "" {
		peer = "absent"
	}
	return fmt.Sprintf(preambleTemplate, speaker, peer)
}
