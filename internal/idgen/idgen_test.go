package idgen

import (
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestUUIDProviderIssuesVersion7(t *testing.T) {
	id, err := NewUUIDProvider().NewID()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		t.Fatalf("expected a parseable uuid, got %q: %v", id, err)
	}
	if parsed.Version() != 7 {
		t.Fatalf("expected uuid v7, got v%d", parsed.Version())
	}
}

func TestNanoProviderUsesPrefixAndAlphabet(t *testing.T) {
	provider := NewNanoProvider("conn-", 12)
	seen := make(map[string]struct{})
	for range 50 {
		id, err := provider.NewID()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !strings.HasPrefix(id, "conn-") {
			t.Fatalf("expected prefix, got %q", id)
		}
		body := strings.TrimPrefix(id, "conn-")
		if len(body) != 12 {
			t.Fatalf("expected 12 random characters, got %d in %q", len(body), id)
		}
		for _, char := range body {
			if !strings.ContainsRune(Alphabet, char) {
				t.Fatalf("unexpected character %q in %q", char, id)
			}
		}
		if _, dup := seen[id]; dup {
			t.Fatalf("duplicate id %q", id)
		}
		seen[id] = struct{}{}
	}
}
