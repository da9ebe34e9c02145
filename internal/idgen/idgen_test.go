package idgen_test

import (
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/flitsinc/go-duet/internal/idgen"
)

func TestNewIsUUIDv7(t *testing.T) {
	id, err := uuid.Parse(idgen.New())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if id.Version() != 7 {
		t.Fatalf("expected version 7, got %d", id.Version())
	}
}

func TestNewULIDIsMonotonic(t *testing.T) {
	prev := idgen.NewULID()
	for i := 0; i < 100; i++ {
		next := idgen.NewULID()
		if next <= prev {
			t.Fatalf("expected %s > %s", next, prev)
		}
		prev = next
	}
}

func TestValidateAgentID(t *testing.T) {
	valid := []string{
		"a",
		"botA",
		"planner-2",
		"critic_b",
		"A1",
	}
	for _, id := range valid {
		if err := idgen.ValidateAgentID(id); err != nil {
			t.Errorf("expected %q to be valid, got error: %v", id, err)
		}
	}

	invalid := []string{
		"",
		"-start-dash",
		"end-dash-",
		"1starts-with-digit",
		"has spaces",
		"has.dot",
		"user",
		"tool",
		strings.Repeat("a", 65),
	}
	for _, id := range invalid {
		if err := idgen.ValidateAgentID(id); err == nil {
			t.Errorf("expected %q to be invalid, got nil error", id)
		}
	}
}
