package orchestrator

import "testing"

func TestDetectLoop(t *testing.T) {
	cases := []struct {
		name string
		sigs []string
		want string
	}{
		{"empty", nil, ""},
		{"short", []string{"a", "a"}, ""},
		{"aaa", []string{"x", "a", "a", "a"}, patternAAA},
		{"abab", []string{"a", "b", "a", "b"}, patternABAB},
		{"aaab breaks", []string{"a", "a", "a", "b"}, ""},
		{"aaaa is aaa not abab", []string{"a", "a", "a", "a"}, patternAAA},
		{"abab needs four", []string{"b", "a", "b"}, ""},
		{"tail only", []string{"a", "a", "a", "x", "y", "z"}, ""},
	}
	for _, c := range cases {
		if got := detectLoop(c.sigs); got != c.want {
			t.Errorf("%s: detectLoop(%v) = %q, want %q", c.name, c.sigs, got, c.want)
		}
	}
}

func TestLooksLikeQuestion(t *testing.T) {
	cases := []struct {
		msg  string
		want bool
	}{
		{"Should I delete the old migrations?", true},
		{"Do you want me to continue with the rename", true},
		{"Please confirm before I push", true},
		{"LET ME KNOW if the port is free", true},
		{"All tests pass. Moving on to the docs.", false},
		{"", false},
	}
	for _, c := range cases {
		if got := looksLikeQuestion(c.msg); got != c.want {
			t.Errorf("looksLikeQuestion(%q) = %t, want %t", c.msg, got, c.want)
		}
	}
}

func TestJoinInputs(t *testing.T) {
	if got := joinInputs("  a  ", "", "b"); got != "a\n\nb" {
		t.Errorf("joinInputs = %q", got)
	}
	if got := joinInputs("", "   "); got != "" {
		t.Errorf("all-blank join = %q", got)
	}
}
