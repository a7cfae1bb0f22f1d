package store

import (
	"fmt"
	"os"

	"mindincarnation/internal/logging"
	"mindincarnation/internal/types"
)

// SegmentRecord is one compact summary of a recent evidence record, the unit
// the checkpoint mining pipeline consumes.
type SegmentRecord struct {
	Kind        string   `json:"kind"`
	EventID     string   `json:"event_id,omitempty"`
	BatchID     string   `json:"batch_id,omitempty"`
	TS          string   `json:"ts,omitempty"`
	Facts       []string `json:"facts,omitempty"`
	Actions     []string `json:"actions,omitempty"`
	Results     []string `json:"results,omitempty"`
	Unknowns    []string `json:"unknowns,omitempty"`
	RiskSignals []string `json:"risk_signals,omitempty"`
	Text        string   `json:"text,omitempty"`

	// workflow trigger marker fields
	WorkflowID     string `json:"workflow_id,omitempty"`
	WorkflowName   string `json:"workflow_name,omitempty"`
	TriggerPattern string `json:"trigger_pattern,omitempty"`
}

// SegmentState is a sliding buffer of recent segment records bound to a
// thread id. It is cleared when the session resets and flushed on checkpoint.
type SegmentState struct {
	SegmentID         string          `json:"segment_id"`
	ThreadID          string          `json:"thread_id"`
	Records           []SegmentRecord `json:"records"`
	LastCheckpointKey string          `json:"last_checkpoint_key,omitempty"`
	UpdatedTS         string          `json:"updated_ts"`
}

// SegmentStore persists SegmentState with atomic writes.
type SegmentStore struct {
	path       string
	maxRecords int
	warnings   []string
}

// NewSegmentStore binds the store to path with the configured buffer cap
// (segment_max_records, default 40).
func NewSegmentStore(path string, maxRecords int) *SegmentStore {
	if maxRecords <= 0 {
		maxRecords = 40
	}
	return &SegmentStore{path: path, maxRecords: maxRecords}
}

// Load returns the buffer for threadID. A buffer bound to a different thread
// (session reset) or a corrupt file starts fresh.
func (s *SegmentStore) Load(threadID string) *SegmentState {
	var st SegmentState
	err := ReadJSON(s.path, &st)
	switch {
	case err == nil && st.ThreadID == threadID && st.SegmentID != "":
		return &st
	case err != nil && !os.IsNotExist(err):
		s.warnings = append(s.warnings,
			fmt.Sprintf("segment state unreadable, starting fresh: %v", err))
		logging.Store("segment state unreadable at %s: %v", s.path, err)
	}
	return &SegmentState{
		SegmentID: types.NewID(types.PrefixSegment),
		ThreadID:  threadID,
	}
}

// Append adds a record, evicting the oldest when the buffer is full, and
// persists the state.
func (s *SegmentStore) Append(st *SegmentState, rec SegmentRecord) error {
	if rec.TS == "" {
		rec.TS = types.NowTS()
	}
	st.Records = append(st.Records, rec)
	if len(st.Records) > s.maxRecords {
		st.Records = st.Records[len(st.Records)-s.maxRecords:]
	}
	return s.save(st)
}

// Reset clears the buffer after a checkpoint, recording the checkpoint key
// for at-most-once semantics per position.
func (s *SegmentStore) Reset(st *SegmentState, checkpointKey string) error {
	st.Records = nil
	st.LastCheckpointKey = checkpointKey
	st.SegmentID = types.NewID(types.PrefixSegment)
	return s.save(st)
}

func (s *SegmentStore) save(st *SegmentState) error {
	st.UpdatedTS = types.NowTS()
	if err := WriteJSONAtomic(s.path, st); err != nil {
		return fmt.Errorf("segment state save failed: %w", err)
	}
	return nil
}

// Warnings drains deferred warnings collected during Load.
func (s *SegmentStore) Warnings() []string {
	w := s.warnings
	s.warnings = nil
	return w
}

// EventIDs returns the ids of the evidence events summarized in the buffer.
// This is the allowed-citation set for claim mining at a checkpoint.
func (st *SegmentState) EventIDs() map[string]bool {
	out := make(map[string]bool)
	for _, r := range st.Records {
		if r.EventID != "" {
			out[r.EventID] = true
		}
	}
	return out
}
