package testutil

import (
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/flitsinc/go-duet/internal/state"
)

// OpenTestDB opens a migrated database in a temp dir. The returned func
// closes it early; otherwise it is closed when the test ends.
func OpenTestDB(t *testing.T) (*sql.DB, func()) {
	t.Helper()
	db, err := state.Open(filepath.Join(t.TempDir(), "duet.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	closed := false
	closeFn := func() {
		if !closed {
			closed = true
			_ = db.Close()
		}
	}
	t.Cleanup(closeFn)
	return db, closeFn
}

// WaitFor polls cond until it holds or five seconds pass.
func WaitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timeout waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
