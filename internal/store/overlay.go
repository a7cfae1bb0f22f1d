package store

import (
	"fmt"
	"os"

	"mindincarnation/internal/logging"
	"mindincarnation/internal/types"
)

// HandsState records the most recent Hands session; persisted immediately
// after a successful spawn so the next run can resume the thread.
type HandsState struct {
	Provider  string `json:"provider"`
	ThreadID  string `json:"thread_id"`
	UpdatedTS string `json:"updated_ts"`
}

// WorkflowRun is the active workflow cursor.
type WorkflowRun struct {
	Active           bool     `json:"active"`
	WorkflowID       string   `json:"workflow_id,omitempty"`
	WorkflowName     string   `json:"workflow_name,omitempty"`
	CompletedStepIDs []string `json:"completed_step_ids,omitempty"`
	NextStepID       string   `json:"next_step_id,omitempty"`
	CloseReason      string   `json:"close_reason,omitempty"`
}

// TestlessStrategy is the once-per-project verification strategy pointer.
// The canonical record is the tagged preference claim; this mirrors it.
type TestlessStrategy struct {
	ChosenOnce bool   `json:"chosen_once"`
	Strategy   string `json:"strategy,omitempty"`
	Rationale  string `json:"rationale,omitempty"`
	ClaimID    string `json:"claim_id,omitempty"`
}

// ProjectOverlay is the only mutable persistent state on the hot path.
// Writes are atomic (temp file + rename); MI guarantees a single writer by
// construction.
type ProjectOverlay struct {
	ProjectID   string         `json:"project_id"`
	RootPath    string         `json:"root_path"`
	IdentityKey string         `json:"identity_key"`
	Identity    map[string]any `json:"identity,omitempty"`

	HandsState       HandsState       `json:"hands_state"`
	WorkflowRun      WorkflowRun      `json:"workflow_run"`
	TestlessStrategy TestlessStrategy `json:"testless_verification_strategy"`

	GlobalWorkflowOverrides map[string]any `json:"global_workflow_overrides,omitempty"`
	HostBindings            []string       `json:"host_bindings,omitempty"`
	StackHints              []string       `json:"stack_hints,omitempty"`
}

// OverlayStore loads and persists the ProjectOverlay. A corrupt file falls
// back to the default shape and surfaces a deferred state warning.
type OverlayStore struct {
	path     string
	warnings []string
}

// NewOverlayStore binds the store to the overlay path.
func NewOverlayStore(path string) *OverlayStore {
	return &OverlayStore{path: path}
}

// Load reads the overlay, falling back to the provided default shape when
// the file is missing or corrupt. Corruption is recorded as a deferred
// warning retrievable via Warnings().
func (s *OverlayStore) Load(projectID, rootPath, identityKey string) *ProjectOverlay {
	var o ProjectOverlay
	err := ReadJSON(s.path, &o)
	switch {
	case err == nil && o.ProjectID != "":
		return &o
	case err != nil && os.IsNotExist(err):
		// first run
	case err != nil:
		s.warnings = append(s.warnings,
			fmt.Sprintf("overlay unreadable, using defaults: %v", err))
		logging.Store("overlay unreadable at %s: %v", s.path, err)
	default:
		s.warnings = append(s.warnings, "overlay missing project_id, using defaults")
	}
	return &ProjectOverlay{
		ProjectID:   projectID,
		RootPath:    rootPath,
		IdentityKey: identityKey,
	}
}

// Save atomically persists the overlay.
func (s *OverlayStore) Save(o *ProjectOverlay) error {
	if err := WriteJSONAtomic(s.path, o); err != nil {
		return fmt.Errorf("overlay save failed: %w", err)
	}
	return nil
}

// SetHandsState updates and persists the hands session pointer.
func (s *OverlayStore) SetHandsState(o *ProjectOverlay, provider, threadID string) error {
	o.HandsState = HandsState{
		Provider:  provider,
		ThreadID:  threadID,
		UpdatedTS: types.NowTS(),
	}
	return s.Save(o)
}

// Warnings drains the deferred warnings collected during Load.
func (s *OverlayStore) Warnings() []string {
	w := s.warnings
	s.warnings = nil
	return w
}
