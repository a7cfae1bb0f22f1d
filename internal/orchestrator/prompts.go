package orchestrator

import (
	"fmt"
	"strings"

	"mindincarnation/internal/hands"
	"mindincarnation/internal/types"
)

// lightInjection is the block MI prepends to every Hands prompt: operational
// defaults plus pointers to active state the agent should respect.
func (o *Orchestrator) lightInjection() string {
	var lines []string
	lines = append(lines, fmt.Sprintf("Operational defaults: ask_when_uncertain=%t", o.defaults.AskWhenUncertain))
	if o.defaults.RefactorIntent != "" {
		lines = append(lines, "Refactor intent: "+o.defaults.RefactorIntent)
	}
	if o.defaults.TestlessStrategy != "" {
		lines = append(lines, "Verification strategy: "+o.defaults.TestlessStrategy)
	}
	if run := o.overlay.WorkflowRun; run.Active {
		line := "Active workflow: " + run.WorkflowName
		if run.NextStepID != "" {
			line += " (next step: " + run.NextStepID + ")"
		}
		lines = append(lines, line)
	}
	if len(o.overlay.StackHints) > 0 {
		lines = append(lines, "Stack hints: "+strings.Join(o.overlay.StackHints, ", "))
	}
	return strings.Join(lines, "\n")
}

// Prompt builders below keep each Mind call compact: bounded item counts,
// clipped strings, and only the state the schema needs.

func (o *Orchestrator) evidencePrompt(res *hands.RunResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Task: %s\nBatch: %s\nExit code: %d\n", o.task, o.batchID, res.ExitCode)
	b.WriteString("\nAgent message:\n")
	b.WriteString(clip(res.LastAgentMessage, 3000))

	count := 0
	for _, ev := range res.Events {
		if ev.Type != hands.EventItemCompleted || ev.Item == nil {
			continue
		}
		switch ev.Item.Type {
		case hands.ItemCommandExecution:
			fmt.Fprintf(&b, "\nCommand: %s (status=%s)", clip(ev.Item.Command, 300), ev.Item.Status)
		case hands.ItemFilePatch:
			fmt.Fprintf(&b, "\nFile patch: %s", ev.Item.Path)
		case hands.ItemToolCall:
			fmt.Fprintf(&b, "\nTool call: %s", ev.Item.ToolName)
		default:
			continue
		}
		count++
		if count >= 20 {
			break
		}
	}
	b.WriteString("\n\nExtract evidence from this batch: facts, actions, results, unknowns, and risk signals.")
	return b.String()
}

func (o *Orchestrator) riskPrompt(signals []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Task: %s\n\nObserved risk signals:\n", o.task)
	for _, s := range dedupStrings(signals) {
		b.WriteString("- ")
		b.WriteString(clip(s, 300))
		b.WriteString("\n")
	}
	b.WriteString("\nJudge the risk: category, severity, whether the user must confirm, and a mitigation.")
	return b.String()
}

func (o *Orchestrator) planChecksPrompt() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Task: %s\nExit code: %d\n", o.task, o.lastExitCode)
	writeList(&b, "Unknowns", o.lastEvidence.Unknowns)
	writeList(&b, "Risk signals", o.lastEvidence.RiskSignals)
	writeList(&b, "Recent results", o.lastEvidence.Results)
	if o.defaults.TestlessStrategy != "" {
		b.WriteString("Verification strategy already chosen: " + o.defaults.TestlessStrategy + "\n")
	}
	b.WriteString("\nAgent message:\n" + clip(o.lastHandsMessage, 1500))
	b.WriteString("\n\nPlan the minimal checks to verify this batch, or decide none are needed.")
	return b.String()
}

func (o *Orchestrator) autoAnswerPrompt(question, recall string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Task: %s\n\nThe agent asked:\n%s\n", o.task, clip(question, 1500))
	writeList(&b, "Known facts", o.lastEvidence.Facts)
	if recall != "" {
		b.WriteString("\n" + recall + "\n")
	}
	b.WriteString("\nAnswer on the user's behalf if the answer is determinable; otherwise say user input is needed.")
	return b.String()
}

func (o *Orchestrator) decidePrompt(userContext string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Task: %s\nBatch: %s of max %d\nExit code: %d\n",
		o.task, o.batchID, o.Config.Run.MaxBatches, o.lastExitCode)
	writeList(&b, "Facts", o.lastEvidence.Facts)
	writeList(&b, "Actions", o.lastEvidence.Actions)
	writeList(&b, "Results", o.lastEvidence.Results)
	writeList(&b, "Unknowns", o.lastEvidence.Unknowns)
	b.WriteString("\nAgent message:\n" + clip(o.lastHandsMessage, 2000))
	if userContext != "" {
		b.WriteString("\n\nUser input just collected:\n" + clip(userContext, 1000))
	}
	b.WriteString("\n\nDecide the next action: stop with a final status, send a new input to the agent, or ask the user.")
	return b.String()
}

func (o *Orchestrator) loopBreakPrompt(blockedInput string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Task: %s\n\nThe run is repeating itself. The blocked next input was:\n%s\n",
		o.task, clip(blockedInput, 1000))
	b.WriteString("\nLast agent message:\n" + clip(o.lastHandsMessage, 1500))
	writeList(&b, "Recent unknowns", o.lastEvidence.Unknowns)
	b.WriteString("\nChoose how to break the loop: stop, run checks then continue, send a new instruction, or ask the user.")
	return b.String()
}

func (o *Orchestrator) workflowProgressPrompt() string {
	run := o.overlay.WorkflowRun
	var b strings.Builder
	fmt.Fprintf(&b, "Workflow: %s (%s)\nCompleted steps: %s\nNext step: %s\n",
		run.WorkflowName, run.WorkflowID, strings.Join(run.CompletedStepIDs, ", "), run.NextStepID)
	writeList(&b, "Latest actions", o.lastEvidence.Actions)
	writeList(&b, "Latest results", o.lastEvidence.Results)
	b.WriteString("\nUpdate the step cursor: which steps completed, what is next, or why the workflow closed.")
	return b.String()
}

func (o *Orchestrator) checkpointPrompt() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Task: %s\nBatch: %s\nSegment records: %d\n\n", o.task, o.batchID, len(o.segment.Records))
	o.writeSegmentSummary(&b, 12)
	b.WriteString("\nDecide whether this is a checkpoint worth mining, and which mining passes apply.")
	return b.String()
}

func (o *Orchestrator) suggestWorkflowPrompt() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Task: %s\n\nRecent activity:\n", o.task)
	o.writeSegmentSummary(&b, 12)
	b.WriteString("\nIf this activity follows a reusable multi-step procedure, suggest it as a workflow with a trigger pattern.")
	return b.String()
}

func (o *Orchestrator) minePreferencesPrompt() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Task: %s\n\nRecent activity:\n", o.task)
	o.writeSegmentSummary(&b, 12)
	b.WriteString("\nExtract durable user or project preferences implied by this activity.")
	return b.String()
}

func (o *Orchestrator) mineClaimsPrompt() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Task: %s\n\nSegment records (cite event ids as source_event_ids):\n", o.task)
	for i, r := range o.segment.Records {
		if i >= 20 {
			break
		}
		fmt.Fprintf(&b, "[%s] kind=%s", r.EventID, r.Kind)
		if len(r.Facts) > 0 {
			fmt.Fprintf(&b, " facts=%s", clip(strings.Join(r.Facts, "; "), 300))
		}
		if len(r.Results) > 0 {
			fmt.Fprintf(&b, " results=%s", clip(strings.Join(r.Results, "; "), 300))
		}
		b.WriteString("\n")
	}
	b.WriteString("\nMine atomic claims (facts, assumptions, goals) and edges between them. Each claim needs a local_id and cited source_event_ids.")
	return b.String()
}

func (o *Orchestrator) learnUpdateSummary(learned []types.Claim) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Run for task %q produced %d new preference suggestions.\n\nActive learned claims:\n",
		o.task, o.suggestedThisRun)
	for i, c := range learned {
		if i >= 15 {
			break
		}
		fmt.Fprintf(&b, "[%s] %s (tags: %s)\n", c.ClaimID, clip(c.Text, 200), strings.Join(c.Tags, ", "))
	}
	b.WriteString("\nPropose a bounded consolidation patch: merged or corrected claims, and retractions of stale ones.")
	return b.String()
}

func (o *Orchestrator) whyTracePrompt(target types.Record, candidates []types.Claim) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Target event %s (kind=%s):\n%s\n\nCandidate claims:\n",
		target.EventID(), target.Kind(), clip(recStr(target, "notes"), 800))
	for _, c := range candidates {
		fmt.Fprintf(&b, "[%s] %s\n", c.ClaimID, clip(c.Text, 200))
	}
	b.WriteString("\nChoose the minimal subset of claims this event depended on.")
	return b.String()
}

// writeSegmentSummary renders a bounded view of the segment buffer.
func (o *Orchestrator) writeSegmentSummary(b *strings.Builder, maxRecords int) {
	records := o.segment.Records
	if len(records) > maxRecords {
		records = records[len(records)-maxRecords:]
	}
	for _, r := range records {
		switch r.Kind {
		case "workflow_trigger":
			fmt.Fprintf(b, "- workflow triggered: %s\n", r.WorkflowName)
		case "decide_next":
			fmt.Fprintf(b, "- decision: %s\n", clip(r.Text, 200))
		default:
			line := strings.Join(dedupStrings(append(append([]string{}, r.Facts...), r.Results...)), "; ")
			if line == "" {
				line = strings.Join(r.Actions, "; ")
			}
			if line != "" {
				fmt.Fprintf(b, "- %s\n", clip(line, 250))
			}
		}
	}
}

func writeList(b *strings.Builder, title string, items []string) {
	if len(items) == 0 {
		return
	}
	b.WriteString(title + ":\n")
	for i, it := range items {
		if i >= 8 {
			break
		}
		b.WriteString("- " + clip(it, 250) + "\n")
	}
}
