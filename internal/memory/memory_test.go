package memory

import (
	"path/filepath"
	"testing"
)

func TestInMemorySearchScoring(t *testing.T) {
	m := NewInMemory()
	items := []Item{
		{Ref: "nd_1", Kind: "snapshot", Text: "configured postgres connection pooling", TS: "2026-01-01T00:00:00Z"},
		{Ref: "nd_2", Kind: "snapshot", Text: "postgres migration failed on connection timeout", TS: "2026-01-02T00:00:00Z"},
		{Ref: "cl_1", Kind: "claim", Text: "prefer tabs over spaces", TS: "2026-01-03T00:00:00Z"},
	}
	for _, it := range items {
		if err := m.Index(it); err != nil {
			t.Fatal(err)
		}
	}

	got, err := m.Search("postgres connection timeout", 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("hits = %d, want 2 (claim about tabs must not match)", len(got))
	}
	if got[0].Ref != "nd_2" {
		t.Errorf("highest overlap first: got %s", got[0].Ref)
	}
}

func TestInMemorySearchTiesNewestFirst(t *testing.T) {
	m := NewInMemory()
	m.Index(Item{Ref: "old", Text: "deploy checklist", TS: "2026-01-01T00:00:00Z"})
	m.Index(Item{Ref: "new", Text: "deploy checklist", TS: "2026-02-01T00:00:00Z"})

	got, err := m.Search("deploy", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].Ref != "new" {
		t.Errorf("ties must prefer newest: %v", got)
	}
}

func TestInMemorySearchLimitAndTags(t *testing.T) {
	m := NewInMemory()
	for i := 0; i < 10; i++ {
		m.Index(Item{Ref: "nd", Text: "release notes", TS: "2026-01-01T00:00:00Z"})
	}
	got, _ := m.Search("release", 3)
	if len(got) != 3 {
		t.Errorf("limit ignored: %d", len(got))
	}

	m2 := NewInMemory()
	m2.Index(Item{Ref: "tagged", Text: "something else", Tags: "checkpoint progress"})
	got, _ = m2.Search("checkpoint", 5)
	if len(got) != 1 {
		t.Error("tags must be searchable")
	}
}

func TestFTSQueryQuoting(t *testing.T) {
	cases := []struct{ in, want string }{
		{"postgres timeout", `"postgres" OR "timeout"`},
		{`should I "force push"?`, `"should" OR "I" OR "force" OR "push?"`},
		{"", ""},
	}
	for _, c := range cases {
		if got := ftsQuery(c.in); got != c.want {
			t.Errorf("ftsQuery(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestNewFallsBackToInMemory(t *testing.T) {
	// An unwritable sqlite path must degrade, not fail.
	b := New(BackendSQLiteFTS, filepath.Join("/proc/definitely/not/writable", "mi.db"))
	if b == nil {
		t.Fatal("backend is nil")
	}
	defer b.Close()
	if err := b.Index(Item{Ref: "x", Text: "hello"}); err != nil {
		t.Errorf("degraded backend must still index: %v", err)
	}
}
