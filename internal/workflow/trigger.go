package workflow

import (
	"strings"

	"mindincarnation/internal/logging"
	"mindincarnation/internal/types"
)

// Trigger modes.
const (
	TriggerTaskContains = "task_contains"
)

// TriggerMarker is the literal injected into the first Hands input when a
// workflow activates.
const TriggerMarker = "MI Workflow Triggered"

// MatchTrigger evaluates enabled effective workflows against the user's task
// at run start. Case-insensitive substring matching; first match wins.
func MatchTrigger(effective []types.Workflow, task string) *types.Workflow {
	lowered := strings.ToLower(task)
	for i := range effective {
		wf := &effective[i]
		if !wf.Enabled || wf.Trigger.Mode != TriggerTaskContains || wf.Trigger.Pattern == "" {
			continue
		}
		if strings.Contains(lowered, strings.ToLower(wf.Trigger.Pattern)) {
			logging.Workflow("trigger matched workflow %s (%s) on pattern %q",
				wf.WorkflowID, wf.Name, wf.Trigger.Pattern)
			return wf
		}
	}
	return nil
}

// FirstStepID returns the id of the first step, or "".
func FirstStepID(wf *types.Workflow) string {
	if len(wf.Steps) == 0 {
		return ""
	}
	return wf.Steps[0].ID
}

// MarkerText renders the injection block announcing an active workflow.
func MarkerText(wf *types.Workflow) string {
	var b strings.Builder
	b.WriteString(TriggerMarker)
	b.WriteString(": ")
	b.WriteString(wf.Name)
	b.WriteString(" (")
	b.WriteString(wf.WorkflowID)
	b.WriteString(")")
	for _, s := range wf.Steps {
		b.WriteString("\n- [")
		b.WriteString(s.ID)
		b.WriteString("] ")
		b.WriteString(s.Title)
	}
	return b.String()
}
