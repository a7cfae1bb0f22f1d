package orchestrator

import (
	"context"
	"os/exec"
	"strings"

	"mindincarnation/internal/logging"
	"mindincarnation/internal/mind"
	"mindincarnation/internal/schemas"
	"mindincarnation/internal/store"
	"mindincarnation/internal/thoughtdb"
	"mindincarnation/internal/types"
)

// questionMarkers is the fixed phrase set of the question heuristic.
var questionMarkers = []string{
	"do you want",
	"please confirm",
	"should i",
	"would you like",
	"let me know",
}

// looksLikeQuestion reports whether a Hands message reads as a question aimed
// at the user.
func looksLikeQuestion(msg string) bool {
	if strings.Contains(msg, "?") {
		return true
	}
	lowered := strings.ToLower(msg)
	for _, m := range questionMarkers {
		if strings.Contains(lowered, m) {
			return true
		}
	}
	return false
}

// preAction runs the check-planning, testless-strategy, and auto-answer
// phases, then arbitrates deterministically. queued=true means the next input
// was set (or the run went terminal) and decide_next must not run this batch.
func (o *Orchestrator) preAction(ctx context.Context) (queued, terminal bool, err error) {
	plan, err := o.planChecks(ctx, "")
	if err != nil {
		return false, false, err
	}

	if plan.NeedsTestlessStrategy {
		if resolved, err := o.resolveTestlessStrategy(ctx); err != nil {
			return false, false, err
		} else if resolved {
			// One re-plan with the strategy in scope.
			plan, err = o.planChecks(ctx, "replan")
			if err != nil {
				return false, false, err
			}
		}
	}
	o.lastCheckPlan = plan

	var answer types.AutoAnswerOut
	answered := false
	if looksLikeQuestion(o.lastHandsMessage) {
		recall := o.recall(o.lastHandsMessage, "auto_answer")
		state := o.callMind(ctx, schemas.AutoAnswerToHands, o.autoAnswerPrompt(o.lastHandsMessage, recall), "auto_answer", &answer)
		answered = state == mind.StateOK
		if _, err := o.appendEvent(types.KindAutoAnswer, map[string]any{
			"should_answer":      answer.ShouldAnswer,
			"hands_answer_input": answer.HandsAnswerInput,
			"needs_user_input":   answer.NeedsUserInput,
			"ask_user_question":  answer.AskUserQuestion,
		}); err != nil {
			return false, false, err
		}
	}

	switch {
	case answered && answer.NeedsUserInput:
		question := answer.AskUserQuestion
		if question == "" {
			question = o.lastHandsMessage
		}
		o.recall(question, "user_question")
		reply, err := o.askUser(question, "")
		if err != nil {
			return false, false, err
		}
		next := joinInputs(reply, plan.HandsCheckInput)
		return true, !o.queueNext(ctx, next), nil

	case (answered && answer.ShouldAnswer) || plan.ShouldRunChecks:
		next := joinInputs(answer.HandsAnswerInput, plan.HandsCheckInput)
		if next == "" {
			logging.Preaction("arbitration fired with empty inputs, deferring to decide")
			return false, false, nil
		}
		return true, !o.queueNext(ctx, next), nil
	}
	return false, false, nil
}

// planChecks runs plan_min_checks, short-circuiting to a recorded skip when
// nothing suggests uncertainty.
func (o *Orchestrator) planChecks(ctx context.Context, phase string) (*types.CheckPlanOut, error) {
	needed := o.lastExitCode != 0 ||
		len(o.lastEvidence.Unknowns) > 0 ||
		len(o.lastEvidence.RiskSignals) > 0 ||
		looksLikeQuestion(o.lastHandsMessage) ||
		o.repoDirty()

	plan := &types.CheckPlanOut{}
	if !needed {
		plan.Notes = "skipped: no uncertainty/risk/question detected"
	} else {
		state := o.callMind(ctx, schemas.PlanMinChecks, o.planChecksPrompt(), "plan_min_checks", plan)
		if state != mind.StateOK {
			plan = &types.CheckPlanOut{Notes: "degraded: mind " + state}
		}
	}

	fields := map[string]any{
		"should_run_checks":       plan.ShouldRunChecks,
		"needs_testless_strategy": plan.NeedsTestlessStrategy,
		"hands_check_input":       plan.HandsCheckInput,
		"notes":                   plan.Notes,
	}
	var err error
	if phase == "" {
		_, err = o.appendEvent(types.KindCheckPlan, fields)
	} else {
		_, err = o.appendPhaseEvent(types.KindCheckPlan, phase, fields)
	}
	if err != nil {
		return nil, err
	}
	return plan, nil
}

// resolveTestlessStrategy settles the once-per-project verification strategy:
// an existing tagged claim syncs the overlay pointer; otherwise the user is
// asked exactly once and the answer is canonicalized as a project preference
// claim. Returns resolved=true when a strategy is now in place.
func (o *Orchestrator) resolveTestlessStrategy(ctx context.Context) (bool, error) {
	if o.overlay.TestlessStrategy.ChosenOnce && o.overlay.TestlessStrategy.Strategy != "" {
		return true, nil
	}

	view, err := o.ProjectTDB.Materialize()
	if err != nil {
		return false, err
	}
	if claims := view.ActiveClaimsWithTag(thoughtdb.TagTestlessStrategy); len(claims) > 0 {
		c := claims[0]
		o.overlay.TestlessStrategy = store.TestlessStrategy{
			ChosenOnce: true,
			Strategy:   strategyValue(c.Text),
			ClaimID:    c.ClaimID,
		}
		o.defaults.TestlessStrategy = o.overlay.TestlessStrategy.Strategy
		return true, o.Overlay.Save(o.overlay)
	}

	if o.testlessAsked {
		return false, nil
	}
	o.testlessAsked = true

	answer, err := o.askUser(
		"No test suite was detected. How should changes in this project be verified? "+
			"(e.g. a smoke script, manual check, or build-only)", "testless")
	if err != nil {
		return false, err
	}
	answer = strings.TrimSpace(answer)
	if answer == "" {
		return false, nil
	}

	last, lerr := o.Evidence.LastOfKinds(types.KindUserInput)
	var refs []types.SourceRef
	if lerr == nil && last != nil {
		refs = []types.SourceRef{{EventID: last.EventID()}}
	}
	claim, err := o.ProjectTDB.CanonicalizeTestlessStrategy(answer, "user-provided", refs)
	if err != nil {
		return false, err
	}

	o.overlay.TestlessStrategy = store.TestlessStrategy{
		ChosenOnce: true,
		Strategy:   answer,
		Rationale:  "user-provided",
		ClaimID:    claim.ClaimID,
	}
	o.defaults.TestlessStrategy = answer
	return true, o.Overlay.Save(o.overlay)
}

// repoDirty reports whether the project working tree has uncommitted changes.
// Non-git directories count as clean.
func (o *Orchestrator) repoDirty() bool {
	out, err := exec.Command("git", "-C", o.RootPath, "status", "--porcelain").Output()
	if err != nil {
		return false
	}
	return len(strings.TrimSpace(string(out))) > 0
}

// joinInputs joins non-empty prompt parts with a blank line.
func joinInputs(parts ...string) string {
	var kept []string
	for _, p := range parts {
		if strings.TrimSpace(p) != "" {
			kept = append(kept, strings.TrimSpace(p))
		}
	}
	return strings.Join(kept, "\n\n")
}
