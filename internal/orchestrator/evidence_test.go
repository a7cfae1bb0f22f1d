package orchestrator

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestClipKeepsRuneBoundaries(t *testing.T) {
	if got := clip("short", 10); got != "short" {
		t.Errorf("clip below limit = %q", got)
	}
	if got := clip("abcdef", 3); got != "abc…" {
		t.Errorf("ascii clip = %q", got)
	}

	// A multi-byte rune straddling the cut must be dropped whole.
	s := "naïve" + strings.Repeat("é", 50)
	for n := 1; n < len(s); n++ {
		got := clip(s, n)
		if !utf8.ValidString(got) {
			t.Fatalf("clip(%q, %d) = %q is not valid UTF-8", s, n, got)
		}
	}
	if got := clip("aé", 2); got != "a…" {
		t.Errorf("boundary clip = %q", got)
	}
}
