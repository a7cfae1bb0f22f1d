package orchestrator

import (
	"context"
	"fmt"

	"mindincarnation/internal/hands"
	"mindincarnation/internal/logging"
	"mindincarnation/internal/store"
	"mindincarnation/internal/thoughtdb"
	"mindincarnation/internal/types"
	"mindincarnation/internal/workflow"
)

// Run executes the batch loop for one task until a terminal state, then runs
// the end-of-run pipeline. Only storage errors that would break the audit
// trail return an error; everything else becomes a structured record.
func (o *Orchestrator) Run(ctx context.Context, task string) (*Result, error) {
	o.task = task
	logging.Orchestrator("run start project=%s task=%q", o.ProjectID, task)

	if err := o.setup(ctx); err != nil {
		return nil, err
	}

	o.nextInput = task
	batches := 0
	for o.batchIdx = 1; o.batchIdx <= o.Config.Run.MaxBatches; o.batchIdx++ {
		o.batchID = types.BatchID(o.batchIdx)
		batches++
		terminal, err := o.runBatch(ctx)
		if err != nil {
			return nil, err
		}
		if terminal {
			break
		}
	}
	if o.status == "" {
		o.status = types.StatusBlocked
		o.notes = "reached max_batches"
	}

	o.runEnd(ctx)
	logging.Orchestrator("run end status=%s batches=%d notes=%q", o.status, batches, o.notes)
	return &Result{Status: o.status, Notes: o.notes, Batches: batches}, nil
}

// setup loads mutable state, seeds operational defaults, and evaluates
// workflow triggers for the task.
func (o *Orchestrator) setup(ctx context.Context) error {
	o.overlay = o.Overlay.Load(o.ProjectID, o.RootPath, o.IdentityKey)

	if err := thoughtdb.EnsureDefaultsClaimsCurrent(o.GlobalTDB, o.GlobalLog, thoughtdb.Defaults{
		AskWhenUncertain: o.Config.Run.AskWhenUncertain,
		RefactorIntent:   o.Config.Run.RefactorIntent,
	}); err != nil {
		return fmt.Errorf("defaults seeding failed: %w", err)
	}
	pv, err := o.ProjectTDB.Materialize()
	if err != nil {
		return err
	}
	gv, err := o.GlobalTDB.Materialize()
	if err != nil {
		return err
	}
	o.defaults = thoughtdb.ResolveDefaults(pv, gv, thoughtdb.Defaults{
		AskWhenUncertain: o.Config.Run.AskWhenUncertain,
		RefactorIntent:   o.Config.Run.RefactorIntent,
	})

	// Session resumption: a persisted thread id is reused only when enabled
	// and not explicitly reset.
	if o.overlay.HandsState.ThreadID != "" && o.Config.Run.ContinueHands && !o.Config.Run.ResetHands {
		o.threadID = o.overlay.HandsState.ThreadID
	}
	o.segment = o.Segments.Load(o.threadID)

	o.projectReg = workflow.NewRegistry(o.ProjectWfDir, types.ScopeProject)
	o.globalReg = workflow.NewRegistry(o.GlobalWfDir, types.ScopeGlobal)
	o.matchWorkflowTrigger()
	return nil
}

// matchWorkflowTrigger evaluates effective workflow triggers against the task
// at run start. A match activates the cursor and arms the marker injected
// into the first Hands input.
func (o *Orchestrator) matchWorkflowTrigger() {
	project, err := o.projectReg.List()
	if err != nil {
		o.pendingWarnings = append(o.pendingWarnings, fmt.Sprintf("project workflows unreadable: %v", err))
	}
	global, err := o.globalReg.List()
	if err != nil {
		o.pendingWarnings = append(o.pendingWarnings, fmt.Sprintf("global workflows unreadable: %v", err))
	}
	effective := workflow.Effective(project, global, o.overlay.GlobalWorkflowOverrides)
	wf := workflow.MatchTrigger(effective, o.task)
	if wf == nil {
		return
	}

	o.overlay.WorkflowRun = store.WorkflowRun{
		Active:       true,
		WorkflowID:   wf.WorkflowID,
		WorkflowName: wf.Name,
		NextStepID:   workflow.FirstStepID(wf),
	}
	if err := o.Overlay.Save(o.overlay); err != nil {
		o.pendingWarnings = append(o.pendingWarnings, fmt.Sprintf("overlay save failed after trigger: %v", err))
	}
	if err := o.Segments.Append(o.segment, store.SegmentRecord{
		Kind:           "workflow_trigger",
		WorkflowID:     wf.WorkflowID,
		WorkflowName:   wf.Name,
		TriggerPattern: wf.Trigger.Pattern,
	}); err != nil {
		o.pendingWarnings = append(o.pendingWarnings, fmt.Sprintf("segment append failed: %v", err))
	}
	o.pendingMarker = workflow.MarkerText(wf)
}

// runBatch executes one batch. Returns terminal=true when the run reached a
// final status.
func (o *Orchestrator) runBatch(ctx context.Context) (bool, error) {
	injection := o.lightInjection()
	input := o.nextInput
	if o.pendingMarker != "" {
		input = o.pendingMarker + "\n\n" + input
		o.pendingMarker = ""
	}
	prompt := input
	if injection != "" {
		prompt = injection + "\n\n" + input
	}

	transcriptPath := o.Paths.HandsTranscript(o.batchID)
	req := hands.Request{
		Prompt:         prompt,
		ProjectRoot:    o.RootPath,
		TranscriptPath: transcriptPath,
		Interrupt:      o.Config.Hands.Interrupt,
	}

	res, err := o.invokeHands(ctx, req)
	if err != nil {
		// Nothing executed and nothing to extract; the failure still goes on
		// the record before the run blocks.
		if _, aerr := o.appendEvent(types.KindStateWarning, map[string]any{
			"warning": fmt.Sprintf("hands spawn failed: %v", err),
		}); aerr != nil {
			return false, aerr
		}
		o.status = types.StatusBlocked
		o.notes = fmt.Sprintf("hands spawn failed: %v", err)
		return true, nil
	}
	o.threadID = res.ThreadID
	o.lastExitCode = res.ExitCode
	o.lastHandsMessage = res.LastAgentMessage
	if o.segment.ThreadID != o.threadID {
		// Fresh session this run; rebind the buffer without dropping the
		// trigger marker appended during setup.
		o.segment.ThreadID = o.threadID
	}

	if _, err := o.appendEvent(types.KindHandsInput, map[string]any{
		"input":           input,
		"light_injection": injection,
		"prompt_sha256":   types.SHA256Hex(prompt),
		"transcript_path": transcriptPath,
	}); err != nil {
		return false, err
	}
	if err := o.Overlay.SetHandsState(o.overlay, o.Hands.Name(), o.threadID); err != nil {
		return false, err
	}

	if err := o.extractEvidence(ctx, res); err != nil {
		return false, err
	}
	if err := o.workflowProgress(ctx); err != nil {
		return false, err
	}
	terminal, err := o.judgeRisk(ctx, res, transcriptPath)
	if err != nil || terminal {
		return terminal, err
	}

	queued, terminal, err := o.preAction(ctx)
	if err != nil || terminal {
		return terminal, err
	}
	if !queued {
		terminal, err = o.decide(ctx)
		if err != nil || terminal {
			return terminal, err
		}
	}

	if err := o.checkpoint(ctx); err != nil {
		return false, err
	}
	return o.status != "", nil
}

// invokeHands resumes the persisted thread when one exists, falling back to a
// fresh exec after recording the resume failure.
func (o *Orchestrator) invokeHands(ctx context.Context, req hands.Request) (*hands.RunResult, error) {
	if o.threadID != "" && o.threadID != "unknown" {
		res, err := o.Hands.Resume(ctx, o.threadID, req)
		if err == nil {
			return res, nil
		}
		logging.HandsWarn("resume of %s failed, falling back to exec: %v", o.threadID, err)
		if _, aerr := o.appendEvent(types.KindHandsResumeFailed, map[string]any{
			"resume_thread_id": o.threadID,
			"error":            err.Error(),
		}); aerr != nil {
			return nil, aerr
		}
		o.threadID = ""
	}
	return o.Hands.Exec(ctx, req)
}

// askUser prompts through the configured Prompter and records the exchange.
func (o *Orchestrator) askUser(question, phase string) (string, error) {
	answer, err := o.Prompter.Ask(question)
	if err != nil {
		answer = ""
	}
	batchID := o.batchID
	if phase != "" {
		batchID = types.SubBatchID(o.batchID, phase)
	}
	if _, aerr := o.Evidence.MustAppend(types.KindUserInput, batchID, o.threadID, map[string]any{
		"question": question,
		"answer":   answer,
	}); aerr != nil {
		return answer, aerr
	}
	return answer, err
}

// recall runs a cross-project memory search seeded by query and records what
// was bundled. Returns a snippet block for prompt composition, or "".
func (o *Orchestrator) recall(query, reason string) string {
	items, err := o.Memory.Search(query, 5)
	if err != nil {
		logging.MemoryDebug("recall search failed: %v", err)
		return ""
	}
	if len(items) == 0 {
		return ""
	}
	recorded := make([]map[string]any, 0, len(items))
	snippet := "Relevant prior context:"
	for _, it := range items {
		recorded = append(recorded, map[string]any{
			"ref":        it.Ref,
			"project_id": it.ProjectID,
			"kind":       it.Kind,
			"text":       it.Text,
		})
		snippet += "\n- " + clip(it.Text, 300)
	}
	if _, err := o.appendEvent(types.KindCrossProjectRecall, map[string]any{
		"reason": reason,
		"query":  query,
		"items":  recorded,
	}); err != nil {
		logging.Orchestrator("recall record failed: %v", err)
	}
	return snippet
}
