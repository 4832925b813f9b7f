package ids

import (
	"testing"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

func TestSessionIDsAreSortableAndUnique(t *testing.T) {
	prev := ""
	seen := make(map[string]struct{})
	for i := 0; i < 1000; i++ {
		id := NewSessionID()
		if _, err := ulid.Parse(id); err != nil {
			t.Fatalf("invalid ulid %q: %v", id, err)
		}
		if id <= prev {
			t.Fatalf("session ids not monotonic: %q after %q", id, prev)
		}
		if _, dup := seen[id]; dup {
			t.Fatalf("duplicate session id %q", id)
		}
		seen[id] = struct{}{}
		prev = id
	}
}

func TestTokenIDIsUUIDv4(t *testing.T) {
	id, err := NewTokenID()
	if err != nil {
		t.Fatalf("new token id: %v", err)
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if parsed.Version() != 4 {
		t.Fatalf("expected v4, got %d", parsed.Version())
	}
}
