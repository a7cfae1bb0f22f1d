package store

import (
	"os"
	"path/filepath"
	"testing"
)

func TestOverlayLoadFirstRun(t *testing.T) {
	s := NewOverlayStore(filepath.Join(t.TempDir(), "overlay.json"))
	o := s.Load("p_abc", "/work/repo", "path:/work/repo")
	if o.ProjectID != "p_abc" || o.RootPath != "/work/repo" {
		t.Fatalf("unexpected defaults: %+v", o)
	}
	if len(s.Warnings()) != 0 {
		t.Error("first run must not produce warnings")
	}
}

func TestOverlayRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "overlay.json")
	s := NewOverlayStore(path)
	o := s.Load("p_abc", "/work/repo", "key")
	if err := s.SetHandsState(o, "codex", "t123"); err != nil {
		t.Fatal(err)
	}

	o2 := NewOverlayStore(path).Load("p_abc", "/work/repo", "key")
	if o2.HandsState.ThreadID != "t123" || o2.HandsState.Provider != "codex" {
		t.Errorf("hands state lost: %+v", o2.HandsState)
	}
}

func TestOverlayCorruptFallsBackWithWarning(t *testing.T) {
	path := filepath.Join(t.TempDir(), "overlay.json")
	if err := os.WriteFile(path, []byte("{broken"), 0644); err != nil {
		t.Fatal(err)
	}
	s := NewOverlayStore(path)
	o := s.Load("p_abc", "/work/repo", "key")
	if o.ProjectID != "p_abc" {
		t.Fatalf("expected default shape, got %+v", o)
	}
	w := s.Warnings()
	if len(w) != 1 {
		t.Fatalf("want one deferred warning, got %v", w)
	}
	if len(s.Warnings()) != 0 {
		t.Error("Warnings must drain")
	}
}

func TestSegmentCapAndReset(t *testing.T) {
	path := filepath.Join(t.TempDir(), "segment_state.json")
	s := NewSegmentStore(path, 3)
	st := s.Load("t1")

	for i := 0; i < 5; i++ {
		if err := s.Append(st, SegmentRecord{Kind: "evidence", EventID: evID(i)}); err != nil {
			t.Fatal(err)
		}
	}
	if len(st.Records) != 3 {
		t.Fatalf("buffer not capped: %d", len(st.Records))
	}
	if st.Records[0].EventID != evID(2) {
		t.Errorf("oldest records not evicted: %+v", st.Records[0])
	}

	if err := s.Reset(st, "b5|progress"); err != nil {
		t.Fatal(err)
	}
	if len(st.Records) != 0 || st.LastCheckpointKey != "b5|progress" {
		t.Errorf("reset incomplete: %+v", st)
	}

	// A different thread id starts fresh.
	st2 := NewSegmentStore(path, 3).Load("t2")
	if st2.ThreadID != "t2" || len(st2.Records) != 0 {
		t.Errorf("thread mismatch should start fresh: %+v", st2)
	}
}

func evID(i int) string {
	return "ev_1_0000000" + string(rune('0'+i))
}
