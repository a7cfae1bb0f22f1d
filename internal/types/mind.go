package types

// Structured payloads returned by the Mind schemas. Field names mirror the
// schema property names exactly; every payload has a zero value that is a
// safe fallback when the Mind call errors or is skipped.

// EvidenceOut is the extract_evidence payload.
type EvidenceOut struct {
	Facts                 []string `json:"facts"`
	Actions               []string `json:"actions"`
	Results               []string `json:"results"`
	Unknowns              []string `json:"unknowns"`
	RiskSignals           []string `json:"risk_signals"`
	TranscriptObservation string   `json:"transcript_observation"`
	RepoObservation       string   `json:"repo_observation"`
}

// LearnSuggestedItem is one preference hint emitted by risk_judge,
// decide_next, or mine_preferences.
type LearnSuggestedItem struct {
	Scope      string  `json:"scope"`
	Text       string  `json:"text"`
	Tags       []string `json:"tags,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
}

// RiskJudgeOut is the risk_judge payload.
type RiskJudgeOut struct {
	Category       string               `json:"category"`
	Severity       string               `json:"severity"`
	ShouldAskUser  bool                 `json:"should_ask_user"`
	Mitigation     string               `json:"mitigation"`
	LearnSuggested []LearnSuggestedItem `json:"learn_suggested"`
}

// CheckPlanOut is the plan_min_checks payload.
type CheckPlanOut struct {
	ShouldRunChecks      bool   `json:"should_run_checks"`
	NeedsTestlessStrategy bool  `json:"needs_testless_strategy"`
	HandsCheckInput      string `json:"hands_check_input"`
	Notes                string `json:"notes"`
}

// AutoAnswerOut is the auto_answer_to_hands payload.
type AutoAnswerOut struct {
	ShouldAnswer        bool     `json:"should_answer"`
	HandsAnswerInput    string   `json:"hands_answer_input"`
	NeedsUserInput      bool     `json:"needs_user_input"`
	AskUserQuestion     string   `json:"ask_user_question"`
	UnansweredQuestions []string `json:"unanswered_questions"`
}

// Decide-next routing actions.
const (
	ActionStop        = "stop"
	ActionSendToHands = "send_to_hands"
	ActionAskUser     = "ask_user"
)

// Run statuses.
const (
	StatusDone    = "done"
	StatusNotDone = "not_done"
	StatusBlocked = "blocked"
)

// DecideNextOut is the decide_next payload.
type DecideNextOut struct {
	NextAction           string               `json:"next_action"`
	Status               string               `json:"status"`
	Confidence           float64              `json:"confidence"`
	Notes                string               `json:"notes"`
	NextHandsInput       string               `json:"next_hands_input"`
	AskUserQuestion      string               `json:"ask_user_question"`
	UpdateProjectOverlay map[string]any       `json:"update_project_overlay"`
	LearnSuggested       []LearnSuggestedItem `json:"learn_suggested"`
}

// Loop-break actions.
const (
	LoopBreakStop           = "stop"
	LoopBreakRunChecks      = "run_checks_then_continue"
	LoopBreakNewInstruction = "send_new_instruction"
	LoopBreakAskUser        = "ask_user"
)

// LoopBreakOut is the loop_break payload.
type LoopBreakOut struct {
	Action         string `json:"action"`
	NewInstruction string `json:"new_instruction"`
	Reason         string `json:"reason"`
}

// WorkflowProgressOut is the workflow_progress payload.
type WorkflowProgressOut struct {
	AdvanceCompletedStepIDs []string `json:"advance_completed_step_ids"`
	SetNextStepID           string   `json:"set_next_step_id"`
	CloseReason             string   `json:"close_reason"`
}

// CheckpointDecideOut is the checkpoint_decide payload.
type CheckpointDecideOut struct {
	ShouldCheckpoint     bool   `json:"should_checkpoint"`
	CheckpointKind       string `json:"checkpoint_kind"`
	StatusHint           string `json:"status_hint"`
	ShouldMineWorkflow   bool   `json:"should_mine_workflow"`
	ShouldMinePreferences bool  `json:"should_mine_preferences"`
	Notes                string `json:"notes"`
}

// MinedClaim is one claim proposed by mine_claims or learn_update. LocalID
// lets edges in the same batch reference claims minted in that batch.
type MinedClaim struct {
	LocalID        string   `json:"local_id"`
	ClaimType      string   `json:"claim_type"`
	Text           string   `json:"text"`
	Tags           []string `json:"tags,omitempty"`
	SourceEventIDs []string `json:"source_event_ids"`
	Confidence     float64  `json:"confidence"`
}

// MinedEdge is one edge proposed by mine_claims.
type MinedEdge struct {
	EdgeType       string   `json:"edge_type"`
	FromID         string   `json:"from_id"`
	ToID           string   `json:"to_id"`
	SourceEventIDs []string `json:"source_event_ids"`
}

// MineClaimsOut is the mine_claims payload.
type MineClaimsOut struct {
	Claims []MinedClaim `json:"claims"`
	Edges  []MinedEdge  `json:"edges"`
}

// WorkflowStep is one step of a mined or registered workflow.
type WorkflowStep struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Notes string `json:"notes,omitempty"`
}

// WorkflowTrigger controls when a workflow activates at run start.
type WorkflowTrigger struct {
	Mode    string `json:"mode"`
	Pattern string `json:"pattern"`
}

// Workflow is a reusable multi-step procedure.
type Workflow struct {
	WorkflowID string          `json:"workflow_id"`
	Name       string          `json:"name"`
	Scope      string          `json:"scope"`
	Enabled    bool            `json:"enabled"`
	Trigger    WorkflowTrigger `json:"trigger"`
	Steps      []WorkflowStep  `json:"steps"`
	MinedTS    string          `json:"mined_ts,omitempty"`
	Occurrences int            `json:"occurrences,omitempty"`
}

// SuggestWorkflowOut is the suggest_workflow payload.
type SuggestWorkflowOut struct {
	ShouldSuggest bool           `json:"should_suggest"`
	Name          string         `json:"name"`
	TriggerPattern string        `json:"trigger_pattern"`
	Steps         []WorkflowStep `json:"steps"`
	HighBenefit   bool           `json:"high_benefit"`
	Rationale     string         `json:"rationale"`
}

// MinePreferencesOut is the mine_preferences payload.
type MinePreferencesOut struct {
	Preferences []LearnSuggestedItem `json:"preferences"`
}

// LearnUpdateOut is the learn_update payload.
type LearnUpdateOut struct {
	Claims   []MinedClaim `json:"claims"`
	Retracts []struct {
		ClaimID string `json:"claim_id"`
		Reason  string `json:"reason"`
	} `json:"retracts"`
	Summary string `json:"summary"`
}

// WhyTraceOut is the why_trace payload.
type WhyTraceOut struct {
	ChosenClaimIDs []string `json:"chosen_claim_ids"`
	Confidence     float64  `json:"confidence"`
	Rationale      string   `json:"rationale"`
}
