package store

import (
	"fmt"
	"os"

	"mindincarnation/internal/types"
)

// Suggestion is a mined-but-not-applied preference, kept for manual apply
// via `mi learned apply-suggested <id>`.
type Suggestion struct {
	SuggestionID   string   `json:"learn_suggestion_id"`
	Source         string   `json:"source"`
	Scope          string   `json:"scope"`
	Text           string   `json:"text"`
	Tags           []string `json:"tags,omitempty"`
	Confidence     float64  `json:"confidence,omitempty"`
	CreatedTS      string   `json:"created_ts"`
	Applied        bool     `json:"applied"`
	AppliedClaimID string   `json:"applied_claim_id,omitempty"`
}

type suggestionFile struct {
	Suggestions []Suggestion `json:"suggestions"`
}

// SuggestionStore persists preference candidates at candidates/preferences.json.
type SuggestionStore struct {
	path string
}

// NewSuggestionStore binds the store to path.
func NewSuggestionStore(path string) *SuggestionStore {
	return &SuggestionStore{path: path}
}

// List returns all suggestions in insertion order.
func (s *SuggestionStore) List() ([]Suggestion, error) {
	var f suggestionFile
	if err := ReadJSON(s.path, &f); err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return f.Suggestions, nil
}

// Add records a new suggestion and returns its assigned id.
func (s *SuggestionStore) Add(sug Suggestion) (string, error) {
	list, err := s.List()
	if err != nil {
		return "", err
	}
	if sug.SuggestionID == "" {
		sug.SuggestionID = types.NewID(types.PrefixSuggestion)
	}
	if sug.CreatedTS == "" {
		sug.CreatedTS = types.NowTS()
	}
	list = append(list, sug)
	if err := WriteJSONAtomic(s.path, suggestionFile{Suggestions: list}); err != nil {
		return "", fmt.Errorf("suggestion save failed: %w", err)
	}
	return sug.SuggestionID, nil
}

// MarkApplied flags a suggestion as applied with the claim it produced.
func (s *SuggestionStore) MarkApplied(suggestionID, claimID string) error {
	list, err := s.List()
	if err != nil {
		return err
	}
	found := false
	for i := range list {
		if list[i].SuggestionID == suggestionID {
			list[i].Applied = true
			list[i].AppliedClaimID = claimID
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("suggestion not found: %s", suggestionID)
	}
	return WriteJSONAtomic(s.path, suggestionFile{Suggestions: list})
}

// Get returns one suggestion by id.
func (s *SuggestionStore) Get(suggestionID string) (*Suggestion, error) {
	list, err := s.List()
	if err != nil {
		return nil, err
	}
	for i := range list {
		if list[i].SuggestionID == suggestionID {
			return &list[i], nil
		}
	}
	return nil, fmt.Errorf("suggestion not found: %s", suggestionID)
}

// WorkflowCandidate accumulates occurrences of a suggested workflow keyed by
// its signature; the workflow is written once occurrences reach the mining
// threshold.
type WorkflowCandidate struct {
	Signature   string                   `json:"signature"`
	Occurrences int                      `json:"occurrences"`
	Suggestion  types.SuggestWorkflowOut `json:"suggestion"`
	UpdatedTS   string                   `json:"updated_ts"`
}

type workflowCandidateFile struct {
	Candidates map[string]WorkflowCandidate `json:"candidates"`
}

// WorkflowCandidateStore persists workflow candidates at candidates/workflows.json.
type WorkflowCandidateStore struct {
	path string
}

// NewWorkflowCandidateStore binds the store to path.
func NewWorkflowCandidateStore(path string) *WorkflowCandidateStore {
	return &WorkflowCandidateStore{path: path}
}

// Bump increments the occurrence count for signature and returns the updated
// candidate.
func (s *WorkflowCandidateStore) Bump(signature string, sug types.SuggestWorkflowOut) (WorkflowCandidate, error) {
	var f workflowCandidateFile
	if err := ReadJSON(s.path, &f); err != nil && !os.IsNotExist(err) {
		return WorkflowCandidate{}, err
	}
	if f.Candidates == nil {
		f.Candidates = make(map[string]WorkflowCandidate)
	}
	c := f.Candidates[signature]
	c.Signature = signature
	c.Occurrences++
	c.Suggestion = sug
	c.UpdatedTS = types.NowTS()
	f.Candidates[signature] = c
	if err := WriteJSONAtomic(s.path, f); err != nil {
		return WorkflowCandidate{}, fmt.Errorf("workflow candidate save failed: %w", err)
	}
	return c, nil
}
