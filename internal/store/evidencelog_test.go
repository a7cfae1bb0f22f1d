package store

import (
	"os"
	"path/filepath"
	"testing"

	"mindincarnation/internal/types"
)

func TestAppendAssignsMonotoneIDs(t *testing.T) {
	log := NewEvidenceLog(filepath.Join(t.TempDir(), "evidence.jsonl"))

	var prevID, prevTS string
	for i := 0; i < 50; i++ {
		rec, err := log.MustAppend(types.KindEvidence, "b1", "t1", map[string]any{"facts": []string{"f"}})
		if err != nil {
			t.Fatalf("append %d failed: %v", i, err)
		}
		id := rec.EventID()
		ts, _ := rec[types.FieldTS].(string)
		if id == "" || ts == "" {
			t.Fatalf("append %d missing id or ts", i)
		}
		if prevTS != "" && ts < prevTS {
			t.Fatalf("ts regressed at %d: %s < %s", i, ts, prevTS)
		}
		if prevID != "" && id <= prevID {
			t.Fatalf("event_id not increasing at %d: %s <= %s", i, id, prevID)
		}
		prevID, prevTS = id, ts
	}

	recs, err := log.Read()
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 50 {
		t.Fatalf("read back %d records, want 50", len(recs))
	}
}

func TestReadSkipsMalformedLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "evidence.jsonl")
	log := NewEvidenceLog(path)
	if _, err := log.MustAppend(types.KindEvidence, "b1", "t1", nil); err != nil {
		t.Fatal(err)
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		t.Fatal(err)
	}
	f.WriteString("{not valid json\n")
	f.Close()

	if _, err := log.MustAppend(types.KindDecideNext, "b1", "t1", nil); err != nil {
		t.Fatal(err)
	}

	recs, err := log.Read()
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 2 {
		t.Fatalf("got %d records, want 2 (malformed line skipped)", len(recs))
	}
}

func TestLastOfKindsAndFindEvent(t *testing.T) {
	log := NewEvidenceLog(filepath.Join(t.TempDir(), "evidence.jsonl"))
	first, _ := log.MustAppend(types.KindEvidence, "b1", "t1", nil)
	second, _ := log.MustAppend(types.KindDecideNext, "b1", "t1", nil)

	last, err := log.LastOfKinds(types.KindDecideNext, types.KindEvidence)
	if err != nil {
		t.Fatal(err)
	}
	if last.EventID() != second.EventID() {
		t.Errorf("LastOfKinds = %s, want %s", last.EventID(), second.EventID())
	}

	found, err := log.FindEvent(first.EventID())
	if err != nil {
		t.Fatal(err)
	}
	if found == nil || found.Kind() != types.KindEvidence {
		t.Errorf("FindEvent returned %v", found)
	}

	missing, err := log.FindEvent("ev_0_deadbeef")
	if err != nil || missing != nil {
		t.Errorf("missing event should be (nil, nil), got (%v, %v)", missing, err)
	}
}
