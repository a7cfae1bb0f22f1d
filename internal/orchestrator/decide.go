package orchestrator

import (
	"context"
	"strings"

	"mindincarnation/internal/logging"
	"mindincarnation/internal/mind"
	"mindincarnation/internal/schemas"
	"mindincarnation/internal/store"
	"mindincarnation/internal/types"
)

// decide runs decide_next and applies its effects. Returns terminal=true when
// the run reached a final status.
func (o *Orchestrator) decide(ctx context.Context) (bool, error) {
	out, err := o.callDecide(ctx, "", "")
	if err != nil {
		return false, err
	}
	if out == nil {
		// Without a routing decision the loop cannot continue safely.
		o.status = types.StatusBlocked
		o.notes = "decide_next unavailable"
		return true, nil
	}
	return o.applyDecision(ctx, out, false)
}

// callDecide invokes decide_next, records the event and segment trace, and
// applies learn-suggested hints. userContext carries a just-collected user
// answer on the re-invoke path; phase suffixes the batch id.
func (o *Orchestrator) callDecide(ctx context.Context, userContext, phase string) (*types.DecideNextOut, error) {
	var out types.DecideNextOut
	state := o.callMind(ctx, schemas.DecideNext, o.decidePrompt(userContext), "decide_next", &out)

	fields := map[string]any{
		"next_action":       out.NextAction,
		"status":            out.Status,
		"confidence":        out.Confidence,
		"notes":             out.Notes,
		"next_hands_input":  out.NextHandsInput,
		"ask_user_question": out.AskUserQuestion,
	}
	var rec types.Record
	var err error
	if phase == "" {
		rec, err = o.appendEvent(types.KindDecideNext, fields)
	} else {
		rec, err = o.appendPhaseEvent(types.KindDecideNext, phase, fields)
	}
	if err != nil {
		return nil, err
	}
	if state != mind.StateOK {
		return nil, nil
	}

	if err := o.Segments.Append(o.segment, store.SegmentRecord{
		Kind:    "decide_next",
		EventID: rec.EventID(),
		BatchID: o.batchID,
		Text:    out.Notes,
	}); err != nil {
		logging.OrchestratorDebug("segment append failed: %v", err)
	}
	if err := o.applyLearnSuggested("decide_next", out.LearnSuggested, rec.EventID()); err != nil {
		return nil, err
	}
	if err := o.applyOverlayUpdate(out.UpdateProjectOverlay, rec.EventID()); err != nil {
		return nil, err
	}
	return &out, nil
}

// applyDecision routes on next_action. reinvoked guards the one-shot ask_user
// recursion.
func (o *Orchestrator) applyDecision(ctx context.Context, out *types.DecideNextOut, reinvoked bool) (bool, error) {
	switch out.NextAction {
	case types.ActionStop:
		o.status = out.Status
		if o.status == "" {
			o.status = types.StatusDone
		}
		o.notes = out.Notes
		return true, nil

	case types.ActionSendToHands:
		if strings.TrimSpace(out.NextHandsInput) == "" {
			o.status = types.StatusBlocked
			o.notes = "decide_next returned send_to_hands without input"
			return true, nil
		}
		return !o.queueNext(ctx, out.NextHandsInput), nil

	case types.ActionAskUser:
		return o.handleAskUser(ctx, out, reinvoked)

	default:
		o.status = types.StatusBlocked
		o.notes = "decide_next returned unknown action: " + out.NextAction
		return true, nil
	}
}

// handleAskUser tries one more auto-answer pass before prompting, then
// re-invokes decide_next once with the collected input. A second ask_user
// sends the user's answer straight to Hands rather than recursing.
func (o *Orchestrator) handleAskUser(ctx context.Context, out *types.DecideNextOut, reinvoked bool) (bool, error) {
	question := out.AskUserQuestion
	if question == "" {
		question = "The run needs direction. How should it proceed?"
	}

	recall := o.recall(question, "ask_user")
	collected := ""
	if !reinvoked {
		var aa types.AutoAnswerOut
		state := o.callMind(ctx, schemas.AutoAnswerToHands, o.autoAnswerPrompt(question, recall), "auto_answer", &aa)
		if state == mind.StateOK && aa.ShouldAnswer && !aa.NeedsUserInput && aa.HandsAnswerInput != "" {
			collected = aa.HandsAnswerInput
		}
	}
	if collected == "" {
		answer, err := o.askUser(question, "after_user")
		if err != nil {
			return false, err
		}
		collected = answer
	}

	if reinvoked {
		if strings.TrimSpace(collected) == "" {
			o.status = types.StatusBlocked
			o.notes = "no user input available to continue"
			return true, nil
		}
		return !o.queueNext(ctx, collected), nil
	}

	next, err := o.callDecide(ctx, collected, "after_user")
	if err != nil {
		return false, err
	}
	if next == nil {
		o.status = types.StatusBlocked
		o.notes = "decide_next unavailable after user input"
		return true, nil
	}
	return o.applyDecision(ctx, next, true)
}

// applyOverlayUpdate applies the recognized update_project_overlay keys.
// set_testless_strategy canonicalizes through the Thought DB so the claim
// stays the system of record.
func (o *Orchestrator) applyOverlayUpdate(update map[string]any, sourceEventID string) error {
	if len(update) == 0 {
		return nil
	}
	changed := false

	if hints := anyToStrings(update["stack_hints"]); len(hints) > 0 {
		for _, h := range hints {
			if !containsStr(o.overlay.StackHints, h) {
				o.overlay.StackHints = append(o.overlay.StackHints, h)
				changed = true
			}
		}
	}
	if bindings := anyToStrings(update["host_bindings"]); len(bindings) > 0 {
		for _, b := range bindings {
			if !containsStr(o.overlay.HostBindings, b) {
				o.overlay.HostBindings = append(o.overlay.HostBindings, b)
				changed = true
			}
		}
	}

	if raw, ok := update["set_testless_strategy"].(map[string]any); ok {
		strategy, _ := raw["strategy"].(string)
		rationale, _ := raw["rationale"].(string)
		if strings.TrimSpace(strategy) != "" {
			claim, err := o.ProjectTDB.CanonicalizeTestlessStrategy(strategy, rationale,
				[]types.SourceRef{{EventID: sourceEventID}})
			if err != nil {
				return err
			}
			o.overlay.TestlessStrategy = store.TestlessStrategy{
				ChosenOnce: true,
				Strategy:   strings.TrimSpace(strategy),
				Rationale:  rationale,
				ClaimID:    claim.ClaimID,
			}
			o.defaults.TestlessStrategy = o.overlay.TestlessStrategy.Strategy
			changed = true
		}
	}

	if !changed {
		return nil
	}
	return o.Overlay.Save(o.overlay)
}

func anyToStrings(v any) []string {
	switch t := v.(type) {
	case []string:
		return t
	case []any:
		var out []string
		for _, e := range t {
			if s, ok := e.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	case string:
		if t == "" {
			return nil
		}
		return []string{t}
	}
	return nil
}
