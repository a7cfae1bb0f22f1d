package store

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"mindincarnation/internal/logging"
	"mindincarnation/internal/types"
)

// EvidenceLog is an append-only JSONL log, one file per scope. Appends assign
// event_id and ts under a critical section so event_id monotonicity matches
// append order.
type EvidenceLog struct {
	path string

	mu     sync.Mutex
	lastTS time.Time
}

// NewEvidenceLog opens (lazily) the log at path.
func NewEvidenceLog(path string) *EvidenceLog {
	return &EvidenceLog{path: path}
}

// Path returns the backing file path.
func (l *EvidenceLog) Path() string { return l.path }

// Append assigns event_id and ts if missing, writes the record as one JSONL
// line, and returns the updated record. The write is flushed before return.
func (l *EvidenceLog) Append(rec types.Record) (types.Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	if !now.After(l.lastTS) {
		// Keep event ids strictly monotone even when the clock stalls.
		now = l.lastTS.Add(time.Microsecond)
	}
	l.lastTS = now

	if rec[types.FieldTS] == nil || rec[types.FieldTS] == "" {
		rec[types.FieldTS] = types.FormatTS(now)
	}
	if rec.EventID() == "" {
		rec[types.FieldEventID] = types.NewIDAt(types.PrefixEvent, now)
	}

	if err := AppendJSONL(l.path, map[string]any(rec)); err != nil {
		return nil, fmt.Errorf("evidence append failed: %w", err)
	}
	logging.StoreDebug("appended %s %s", rec.Kind(), rec.EventID())
	return rec, nil
}

// MustAppend is Append for callers on the audit-critical path: a failed
// append aborts the run, so they propagate the error unchanged.
func (l *EvidenceLog) MustAppend(kind, batchID, threadID string, fields map[string]any) (types.Record, error) {
	rec := types.Record{
		types.FieldKind:    kind,
		types.FieldBatchID: batchID,
		types.FieldThread:  threadID,
	}
	for k, v := range fields {
		rec[k] = v
	}
	return l.Append(rec)
}

// Read returns every well-formed record in append order.
func (l *EvidenceLog) Read() ([]types.Record, error) {
	var out []types.Record
	err := ReadJSONL(l.path, func(raw []byte) error {
		var rec types.Record
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil // skip malformed
		}
		out = append(out, rec)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ReadKind returns records of one kind in append order.
func (l *EvidenceLog) ReadKind(kind string) ([]types.Record, error) {
	recs, err := l.Read()
	if err != nil {
		return nil, err
	}
	var out []types.Record
	for _, r := range recs {
		if r.Kind() == kind {
			out = append(out, r)
		}
	}
	return out, nil
}

// LastOfKinds returns the last record whose kind is in kinds, or nil.
func (l *EvidenceLog) LastOfKinds(kinds ...string) (types.Record, error) {
	recs, err := l.Read()
	if err != nil {
		return nil, err
	}
	want := make(map[string]bool, len(kinds))
	for _, k := range kinds {
		want[k] = true
	}
	for i := len(recs) - 1; i >= 0; i-- {
		if want[recs[i].Kind()] {
			return recs[i], nil
		}
	}
	return nil, nil
}

// FindEvent returns the record with the given event id, or nil.
func (l *EvidenceLog) FindEvent(eventID string) (types.Record, error) {
	recs, err := l.Read()
	if err != nil {
		return nil, err
	}
	for _, r := range recs {
		if r.EventID() == eventID {
			return r, nil
		}
	}
	return nil, nil
}
