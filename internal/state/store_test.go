package state_test

import (
	"context"
	"errors"
	"testing"

	"github.com/flitsinc/go-duet/internal/state"
	"github.com/flitsinc/go-duet/internal/testutil"
)

func TestStoreSessionLifecycle(t *testing.T) {
	db, closeFn := testutil.OpenTestDB(t)
	defer closeFn()

	store := state.NewStore(db)
	ctx := context.Background()

	created, err := store.CreateSession(ctx, "s-1", "botA", "botB")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if created.Status != state.SessionRunning {
		t.Fatalf("expected running, got %s", created.Status)
	}
	if _, err := store.CreateSession(ctx, "s-2", "botA", "botB"); err != nil {
		t.Fatalf("create second session: %v", err)
	}

	if err := store.FinishSession(ctx, "s-1", 42, errors.New("disk full")); err != nil {
		t.Fatalf("finish session: %v", err)
	}
	got, err := store.GetSession(ctx, "s-1")
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if got.Status != state.SessionFailed || got.LastSeq != 42 || got.Error != "disk full" {
		t.Fatalf("unexpected session: %+v", got)
	}

	sessions, err := store.ListSessions(ctx, 10)
	if err != nil {
		t.Fatalf("list sessions: %v", err)
	}
	if len(sessions) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(sessions))
	}
}

func TestStoreMissingSession(t *testing.T) {
	db, closeFn := testutil.OpenTestDB(t)
	defer closeFn()

	store := state.NewStore(db)
	ctx := context.Background()
	if _, err := store.GetSession(ctx, "nope"); !errors.Is(err, state.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := store.FinishSession(ctx, "nope", 1, nil); !errors.Is(err, state.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMigrateIsIdempotent(t *testing.T) {
	db, closeFn := testutil.OpenTestDB(t)
	defer closeFn()
	if err := state.Migrate(db); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
}
