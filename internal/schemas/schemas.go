// Package schemas embeds the Mind response schemas. Each schema is a file
// under mi/schemas/<name>.json; the runtime loads it verbatim and embeds the
// text in the Mind user prompt.
package schemas

import (
	"embed"
	"fmt"
	"strings"
)

//go:embed mi/schemas/*.json
var fs embed.FS

// Schema filenames referenced by the core.
const (
	ExtractEvidence   = "extract_evidence"
	RiskJudge         = "risk_judge"
	PlanMinChecks     = "plan_min_checks"
	AutoAnswerToHands = "auto_answer_to_hands"
	DecideNext        = "decide_next"
	LoopBreak         = "loop_break"
	WorkflowProgress  = "workflow_progress"
	SuggestWorkflow   = "suggest_workflow"
	MinePreferences   = "mine_preferences"
	MineClaims        = "mine_claims"
	CheckpointDecide  = "checkpoint_decide"
	LearnUpdate       = "learn_update"
	WhyTrace          = "why_trace"
)

// Load returns the schema text for name (with or without .json suffix).
func Load(name string) (string, error) {
	if !strings.HasSuffix(name, ".json") {
		name += ".json"
	}
	data, err := fs.ReadFile("mi/schemas/" + name)
	if err != nil {
		return "", fmt.Errorf("unknown schema %s: %w", name, err)
	}
	return string(data), nil
}
