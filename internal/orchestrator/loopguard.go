package orchestrator

import (
	"context"
	"strings"

	"mindincarnation/internal/logging"
	"mindincarnation/internal/mind"
	"mindincarnation/internal/schemas"
	"mindincarnation/internal/types"
)

// loopWindow is how many (last_message, next_input) signatures are retained.
const loopWindow = 6

// Detected repetition patterns.
const (
	patternAAA  = "aaa"
	patternABAB = "abab"
)

// queueNext is the sole path for setting the next Hands input. It records the
// pair signature, detects repetition on the window tail, and either sets the
// input or runs the loop-break branch. Returns false when the run went
// terminal instead of queuing.
func (o *Orchestrator) queueNext(ctx context.Context, next string) bool {
	sig := types.LoopSignature(o.lastHandsMessage, next)
	o.loopSigs = append(o.loopSigs, sig)
	if len(o.loopSigs) > loopWindow {
		o.loopSigs = o.loopSigs[len(o.loopSigs)-loopWindow:]
	}

	pattern := detectLoop(o.loopSigs)
	if pattern == "" {
		o.nextInput = next
		return true
	}

	logging.Orchestrator("loop detected pattern=%s batch=%s", pattern, o.batchID)
	if _, err := o.appendEvent(types.KindLoopGuard, map[string]any{
		"pattern": pattern,
		"reason":  "repeated (last_message, next_input) signature",
	}); err != nil {
		o.status = types.StatusBlocked
		o.notes = "loop_guard triggered; audit append failed: " + err.Error()
		return false
	}

	if !o.defaults.AskWhenUncertain {
		o.status = types.StatusBlocked
		o.notes = "loop_guard triggered"
		return false
	}
	return o.breakLoop(ctx, next)
}

// detectLoop checks the window tail: aaa = last three equal, abab = last four
// alternating.
func detectLoop(sigs []string) string {
	n := len(sigs)
	if n >= 3 && sigs[n-1] == sigs[n-2] && sigs[n-2] == sigs[n-3] {
		return patternAAA
	}
	if n >= 4 && sigs[n-1] == sigs[n-3] && sigs[n-2] == sigs[n-4] && sigs[n-1] != sigs[n-2] {
		return patternABAB
	}
	return ""
}

// breakLoop asks Mind for a way out and applies it. The signature window is
// cleared on every outcome so one detection cannot re-fire immediately.
func (o *Orchestrator) breakLoop(ctx context.Context, blockedInput string) bool {
	defer func() { o.loopSigs = nil }()

	var out types.LoopBreakOut
	state := o.callMind(ctx, schemas.LoopBreak, o.loopBreakPrompt(blockedInput), "loop_break", &out)
	if state != mind.StateOK {
		o.status = types.StatusBlocked
		o.notes = "loop_guard triggered; loop_break unavailable"
		return false
	}

	if _, err := o.appendEvent(types.KindLoopBreak, map[string]any{
		"action": out.Action,
		"reason": out.Reason,
	}); err != nil {
		o.status = types.StatusBlocked
		o.notes = "loop_break append failed: " + err.Error()
		return false
	}

	switch out.Action {
	case types.LoopBreakStop:
		o.status = types.StatusBlocked
		o.notes = "loop_break: " + firstNonEmpty(out.Reason, "stop")
		return false

	case types.LoopBreakRunChecks:
		input := ""
		if o.lastCheckPlan != nil {
			input = o.lastCheckPlan.HandsCheckInput
		}
		if strings.TrimSpace(input) == "" {
			plan, err := o.planChecks(ctx, "loop_break")
			if err != nil || strings.TrimSpace(plan.HandsCheckInput) == "" {
				o.status = types.StatusBlocked
				o.notes = "loop_break: no checks available"
				return false
			}
			input = plan.HandsCheckInput
		}
		o.nextInput = input
		return true

	case types.LoopBreakNewInstruction:
		if strings.TrimSpace(out.NewInstruction) == "" {
			o.status = types.StatusBlocked
			o.notes = "loop_break: empty new instruction"
			return false
		}
		o.nextInput = out.NewInstruction
		return true

	case types.LoopBreakAskUser:
		question := firstNonEmpty(out.Reason, "The run appears stuck. What should happen next?")
		answer, err := o.askUser(question, "loop_break")
		if err != nil || strings.TrimSpace(answer) == "" {
			o.status = types.StatusBlocked
			o.notes = "loop_break: no user input"
			return false
		}
		o.nextInput = answer
		return true

	default:
		o.status = types.StatusBlocked
		o.notes = "loop_break: unknown action " + out.Action
		return false
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
