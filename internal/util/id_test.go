package util

import (
	"strings"
	"testing"
)

func TestNewIDUniqueAndPrefixed(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 500; i++ {
		id := NewID("")
		if id == "" {
			t.Fatal("expected non-empty id")
		}
		if _, dup := seen[id]; dup {
			t.Fatalf("duplicate id %q", id)
		}
		seen[id] = struct{}{}
	}

	if got := NewID("card"); !strings.HasPrefix(got, "card_") {
		t.Fatalf("NewID(card) = %q, want card_ prefix", got)
	}
}
