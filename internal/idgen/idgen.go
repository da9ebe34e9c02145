package idgen

import (
	"crypto/rand"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// New returns a UUIDv7 identifier string.
// If UUIDv7 generation fails, it falls back to a random UUIDv4.
func New() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// NewULID returns a lexically sortable id. Ids generated within the same
// millisecond are still strictly increasing.
func NewULID() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

var agentIDPattern = regexp.MustCompile(`^[A-Za-z]([A-Za-z0-9_-]*[A-Za-z0-9])?$`)

// ValidateAgentID checks that id can name an agent. Agent ids become event
// roles and stream tags, so they must not collide with the user or tool roles.
// Rules: letters, digits, dashes and underscores; must start with a letter and
// end with a letter or digit; max 64 characters.
func ValidateAgentID(id string) error {
	if len(id) > 64 {
		return fmt.Errorf("agent id too long (max 64 characters)")
	}
	if !agentIDPattern.MatchString(id) {
		return fmt.Errorf("agent id %q is invalid: must match %s", id, agentIDPattern.String())
	}
	switch id {
	case "user", "tool", "system":
		return fmt.Errorf("agent id %q is reserved", id)
	}
	return nil
}
