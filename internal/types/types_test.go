package types

import (
	"strings"
	"testing"
)

func TestNormalizeText(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"  Hello   World ", "hello world"},
		{"a\tb\nc", "a b c"},
		{"ALREADY lower", "already lower"},
		{"", ""},
	}
	for _, c := range cases {
		if got := NormalizeText(c.in); got != c.want {
			t.Errorf("NormalizeText(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestClaimSignatureStability(t *testing.T) {
	a := ClaimSignature("fact", "project", "p_abc", "The  Build   passes")
	b := ClaimSignature("fact", "project", "p_abc", "the build passes")
	if a != b {
		t.Errorf("signatures differ across whitespace/case variants: %s vs %s", a, b)
	}
	c := ClaimSignature("preference", "project", "p_abc", "the build passes")
	if a == c {
		t.Error("claim_type must feed the signature")
	}
	d := ClaimSignature("fact", "project", "p_other", "the build passes")
	if a == d {
		t.Error("project_id must feed the signature")
	}
}

func TestLoopSignatureTruncation(t *testing.T) {
	long := strings.Repeat("x", 5000)
	a := LoopSignature(long, "next")
	b := LoopSignature(long+"tail beyond the truncation window", "next")
	if a != b {
		t.Error("inputs identical in the first 2000 normalized chars must collide")
	}
	if a == LoopSignature("different", "next") {
		t.Error("distinct messages must not collide")
	}
}

func TestMinVisibility(t *testing.T) {
	cases := []struct{ a, b, want string }{
		{VisibilityPrivate, VisibilityGlobal, VisibilityPrivate},
		{VisibilityGlobal, VisibilityProject, VisibilityProject},
		{VisibilityGlobal, VisibilityGlobal, VisibilityGlobal},
		{"bogus", VisibilityGlobal, VisibilityPrivate},
	}
	for _, c := range cases {
		if got := MinVisibility(c.a, c.b); got != c.want {
			t.Errorf("MinVisibility(%s, %s) = %s, want %s", c.a, c.b, got, c.want)
		}
	}
}

func TestBatchIDs(t *testing.T) {
	if got := BatchID(3); got != "b3" {
		t.Errorf("BatchID(3) = %q", got)
	}
	if got := SubBatchID("b3", "after_user"); got != "b3.after_user" {
		t.Errorf("SubBatchID = %q", got)
	}
}

func TestNewIDShape(t *testing.T) {
	id := NewID(PrefixClaim)
	if !strings.HasPrefix(id, "cl_") {
		t.Fatalf("unexpected prefix: %s", id)
	}
	parts := strings.Split(id, "_")
	if len(parts) != 3 {
		t.Fatalf("id shape wrong: %s", id)
	}
	if len(parts[2]) != 8 {
		t.Errorf("random suffix not 8 hex chars: %s", parts[2])
	}
}

func TestRecordStringList(t *testing.T) {
	r := Record{"facts": []any{"a", "b", 3}}
	got := r.StringList("facts")
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("StringList = %v", got)
	}
	if r.StringList("missing") != nil {
		t.Error("missing key should yield nil")
	}
}
