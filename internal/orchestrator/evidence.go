package orchestrator

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"mindincarnation/internal/hands"
	"mindincarnation/internal/logging"
	"mindincarnation/internal/mind"
	"mindincarnation/internal/schemas"
	"mindincarnation/internal/store"
	"mindincarnation/internal/types"
)

// extractEvidence asks Mind to distill the batch transcript and records the
// result as an evidence event plus a segment record. Mind failure degrades to
// an empty payload; the batch proceeds.
func (o *Orchestrator) extractEvidence(ctx context.Context, res *hands.RunResult) error {
	var out types.EvidenceOut
	state := o.callMind(ctx, schemas.ExtractEvidence, o.evidencePrompt(res), "extract_evidence", &out)
	if state != mind.StateOK {
		logging.Orchestrator("extract_evidence degraded (%s), continuing with empty payload", state)
	}
	o.lastEvidence = out

	rec, err := o.appendEvent(types.KindEvidence, map[string]any{
		"facts":                  emptyIfNil(out.Facts),
		"actions":                emptyIfNil(out.Actions),
		"results":                emptyIfNil(out.Results),
		"unknowns":               emptyIfNil(out.Unknowns),
		"risk_signals":           emptyIfNil(out.RiskSignals),
		"transcript_observation": out.TranscriptObservation,
		"repo_observation":       out.RepoObservation,
		"mind_transcript_ref":    o.lastMindRef,
	})
	if err != nil {
		return err
	}
	o.lastEvidenceID = rec.EventID()

	if err := o.Segments.Append(o.segment, store.SegmentRecord{
		Kind:        "evidence",
		EventID:     o.lastEvidenceID,
		BatchID:     o.batchID,
		Facts:       out.Facts,
		Actions:     out.Actions,
		Results:     out.Results,
		Unknowns:    out.Unknowns,
		RiskSignals: out.RiskSignals,
	}); err != nil {
		o.pendingWarnings = append(o.pendingWarnings, fmt.Sprintf("segment append failed: %v", err))
	}
	return nil
}

// workflowProgress advances the active workflow cursor from the latest
// evidence.
func (o *Orchestrator) workflowProgress(ctx context.Context) error {
	if !o.overlay.WorkflowRun.Active {
		return nil
	}
	var out types.WorkflowProgressOut
	state := o.callMind(ctx, schemas.WorkflowProgress, o.workflowProgressPrompt(), "workflow_progress", &out)
	if state != mind.StateOK {
		return nil
	}

	run := &o.overlay.WorkflowRun
	for _, id := range out.AdvanceCompletedStepIDs {
		if id != "" && !containsStr(run.CompletedStepIDs, id) {
			run.CompletedStepIDs = append(run.CompletedStepIDs, id)
		}
	}
	if out.SetNextStepID != "" {
		run.NextStepID = out.SetNextStepID
	}
	if out.CloseReason != "" {
		run.Active = false
		run.CloseReason = out.CloseReason
	}

	if _, err := o.appendEvent(types.KindWorkflowProgress, map[string]any{
		"workflow_id":        run.WorkflowID,
		"completed_step_ids": emptyIfNil(run.CompletedStepIDs),
		"next_step_id":       run.NextStepID,
		"close_reason":       run.CloseReason,
	}); err != nil {
		return err
	}
	return o.Overlay.Save(o.overlay)
}

// riskCommandPattern is the transcript fallback when the provider emitted no
// structured command events.
var riskCommandPattern = regexp.MustCompile(
	`(?i)(rm -rf|git push|sudo |curl [^|\n]*\|\s*sh|wget [^|\n]*\|\s*sh|pip install|npm install|pnpm install|yarn add)`)

// judgeRisk collects risk signals (structured events first, transcript regex
// fallback, plus Mind-extracted signals), runs risk_judge when any exist, and
// enforces the violation-response policy. Returns terminal=true when the user
// declines to continue.
func (o *Orchestrator) judgeRisk(ctx context.Context, res *hands.RunResult, transcriptPath string) (bool, error) {
	signals := append([]string{}, o.lastEvidence.RiskSignals...)
	scanned := false
	for _, ev := range res.Events {
		if ev.Type != hands.EventItemCompleted || ev.Item == nil || ev.Item.Type != hands.ItemCommandExecution {
			continue
		}
		scanned = true
		if m := riskCommandPattern.FindString(ev.Item.Command); m != "" {
			signals = append(signals, strings.TrimSpace(m)+": "+clip(ev.Item.Command, 200))
		}
	}
	if !scanned {
		signals = append(signals, o.scanTranscript(transcriptPath)...)
	}
	if len(signals) == 0 {
		return false, nil
	}

	var out types.RiskJudgeOut
	state := o.callMind(ctx, schemas.RiskJudge, o.riskPrompt(signals), "risk_judge", &out)
	if state != mind.StateOK {
		// Unjudged risk is still on the record via the evidence event.
		return false, nil
	}

	rec, err := o.appendEvent(types.KindRiskEvent, map[string]any{
		"category":        out.Category,
		"severity":        out.Severity,
		"should_ask_user": out.ShouldAskUser,
		"mitigation":      out.Mitigation,
		"risk_signals":    signals,
		"learn_suggested": out.LearnSuggested,
	})
	if err != nil {
		return false, err
	}
	if err := o.applyLearnSuggested("risk_judge", out.LearnSuggested, rec.EventID()); err != nil {
		return false, err
	}

	if out.ShouldAskUser && o.Config.Violation.Mode != "continue" &&
		(out.Severity == "high" || out.Severity == "critical") {
		q := fmt.Sprintf("Risky activity detected (%s, severity %s): %s\nContinue? [y/N]",
			out.Category, out.Severity, clip(strings.Join(signals, "; "), 300))
		answer, err := o.askUser(q, "risk")
		if err != nil {
			return false, err
		}
		a := strings.ToLower(strings.TrimSpace(answer))
		if a != "y" && a != "yes" {
			o.status = types.StatusBlocked
			o.notes = "user declined to continue after risk event"
			return true, nil
		}
	}
	return false, nil
}

// scanTranscript applies the risk regex to the raw stdout/stderr lines.
func (o *Orchestrator) scanTranscript(path string) []string {
	var signals []string
	err := store.ReadJSONL(path, func(raw []byte) error {
		if len(signals) >= 5 {
			return nil
		}
		line := string(raw)
		if m := riskCommandPattern.FindString(line); m != "" {
			signals = append(signals, strings.TrimSpace(m))
		}
		return nil
	})
	if err != nil {
		logging.OrchestratorDebug("transcript risk scan failed: %v", err)
	}
	return dedupStrings(signals)
}

// applyLearnSuggested routes preference hints: auto_learn writes tagged
// preference claims citing the triggering event; otherwise the hints are
// parked as suggestions for manual apply. Either way a learn_suggested event
// records what happened.
func (o *Orchestrator) applyLearnSuggested(source string, items []types.LearnSuggestedItem, sourceEventID string) error {
	if len(items) == 0 {
		return nil
	}
	o.suggestedThisRun += len(items)

	appliedIDs := []string{}
	if o.Config.Violation.AutoLearn {
		for _, it := range items {
			db := o.ProjectTDB
			if it.Scope == types.ScopeGlobal {
				db = o.GlobalTDB
			}
			conf := it.Confidence
			if conf == 0 {
				conf = 0.7
			}
			c, err := db.AppendClaim(types.Claim{
				ClaimType:  types.ClaimPreference,
				Text:       it.Text,
				Scope:      db.Scope(),
				Visibility: db.Scope(),
				Tags:       it.Tags,
				SourceRefs: []types.SourceRef{{EventID: sourceEventID}},
				Confidence: conf,
			})
			if err != nil {
				return err
			}
			appliedIDs = append(appliedIDs, c.ClaimID)
		}
	} else {
		for _, it := range items {
			if _, err := o.Suggestions.Add(store.Suggestion{
				Source:     source,
				Scope:      it.Scope,
				Text:       it.Text,
				Tags:       it.Tags,
				Confidence: it.Confidence,
			}); err != nil {
				return err
			}
		}
	}

	_, err := o.appendEvent(types.KindLearnSuggested, map[string]any{
		"source":            source,
		"auto_learn":        o.Config.Violation.AutoLearn,
		"learn_suggested":   items,
		"applied_claim_ids": appliedIDs,
	})
	return err
}

// strategyValue reads the value side of a "<key>=<value>" preference text.
func strategyValue(text string) string {
	if i := strings.Index(text, "="); i >= 0 {
		return strings.TrimSpace(text[i+1:])
	}
	return strings.TrimSpace(text)
}

func containsStr(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func dedupStrings(in []string) []string {
	seen := make(map[string]bool, len(in))
	var out []string
	for _, s := range in {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

// emptyIfNil keeps list fields as [] rather than null on the wire.
func emptyIfNil(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	// Back off to a rune boundary so truncation never splits UTF-8.
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "…"
}
