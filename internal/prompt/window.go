package prompt

import (
	"fmt"
	"strings"

	"github.com/flitsinc/go-duet/internal/event"
)

const DefaultMaxLines = 200

// RenderLine renders one event as "[role:act] text".
func RenderLine(ev event.Event) string {
	return fmt.Sprintf("[%s:%s] %s", ev.Role, ev.Act, strings.TrimSpace(ev.Text))
}

// RenderWindow renders events one line each and keeps only the newest
// maxLines lines. Multi-line texts count one line per text line.
func RenderWindow(events []event.Event, maxLines int) string {
	if len(events) == 0 {
		return ""
	}
	if maxLines <= 0 {
		maxLines = DefaultMaxLines
	}
	var lines []string
	for _, ev := range events {
		if strings.TrimSpace(ev.Text) == "" {
			continue
		}
		lines = append(lines, strings.Split(RenderLine(ev), "\n")...)
	}
	if len(lines) > maxLines {
		lines = lines[len(lines)-maxLines:]
	}
	return strings.Join(lines, "\n")
}
