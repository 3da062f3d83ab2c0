package id_test

import (
	"testing"

	"spine/id"
)

func TestNew_Format(t *testing.T) {
	got := id.New()
	if len(got) < 20 || len(got) > 24 {
		t.Fatalf("expected ~21-22 char id, got %d chars: %q", len(got), got)
	}
	for _, r := range got {
		isURLSafe := (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '-' || r == '_'
		if !isURLSafe {
			t.Fatalf("id contains non-URL-safe character %q: %q", r, got)
		}
	}
}

func TestNew_Unique(t *testing.T) {
	seen := make(map[string]bool)
	for range 1000 {
		got := id.New()
		if seen[got] {
			t.Fatalf("duplicate id generated: %q", got)
		}
		seen[got] = true
	}
}
