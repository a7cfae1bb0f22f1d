package orchestrator

import (
	"context"
	"strings"

	"mindincarnation/internal/logging"
	"mindincarnation/internal/mind"
	"mindincarnation/internal/schemas"
	"mindincarnation/internal/thoughtdb"
	"mindincarnation/internal/types"
)

// runEnd finalizes a run: consolidation patch, optional why-trace, memory
// flush, and deferred state warnings. All of it is best-effort; a failed
// finalizer must not mask the run result.
func (o *Orchestrator) runEnd(ctx context.Context) {
	if err := o.learnUpdate(ctx); err != nil {
		logging.Orchestrator("learn_update failed: %v", err)
	}
	if o.Config.WhyTrace.Enabled {
		if err := o.whyTrace(ctx); err != nil {
			logging.Orchestrator("why_trace failed: %v", err)
		}
	}

	for _, item := range o.bufferedSnapshots {
		if err := o.Memory.Index(item); err != nil {
			logging.MemoryDebug("snapshot index failed for %s: %v", item.Ref, err)
		}
	}
	o.bufferedSnapshots = nil

	o.flushWarnings()
}

// learnUpdate asks Mind for a bounded consolidation patch when enough new
// suggestions accumulated this run and enough learned claims exist to revise.
func (o *Orchestrator) learnUpdate(ctx context.Context) error {
	cfg := o.Config.LearnUpdate
	if o.suggestedThisRun < cfg.MinNewSuggestionsPerRun {
		return nil
	}

	view, err := o.ProjectTDB.Materialize()
	if err != nil {
		return err
	}
	gview, err := o.GlobalTDB.Materialize()
	if err != nil {
		return err
	}
	learned := learnedPreferenceClaims(view)
	learned = append(learned, learnedPreferenceClaims(gview)...)
	if len(learned) < cfg.MinActiveLearnedClaims {
		return nil
	}

	inputSummary := o.learnUpdateSummary(learned)
	var out types.LearnUpdateOut
	state := o.callMind(ctx, schemas.LearnUpdate, inputSummary, "learn_update", &out)
	if state != mind.StateOK {
		return nil
	}

	if len(out.Claims) > cfg.MaxClaims {
		out.Claims = out.Claims[:cfg.MaxClaims]
	}
	if len(out.Retracts) > cfg.MaxRetracts {
		out.Retracts = out.Retracts[:cfg.MaxRetracts]
	}

	allowed := make(map[string]bool)
	recs, err := o.Evidence.Read()
	if err != nil {
		return err
	}
	for _, r := range recs {
		if id := r.EventID(); id != "" {
			allowed[id] = true
		}
	}

	res, err := o.ProjectTDB.ApplyMinedOutput(types.MineClaimsOut{Claims: out.Claims}, thoughtdb.ApplyOptions{
		MinConfidence:   cfg.MinConfidence,
		MaxClaims:       cfg.MaxClaims,
		AllowedEventIDs: allowed,
	})
	if err != nil {
		return err
	}

	retracted := []string{}
	for _, r := range out.Retracts {
		if id := view.ResolveID(r.ClaimID); activeIn(view, id) {
			if err := o.ProjectTDB.AppendClaimRetract(id, r.Reason, nil); err != nil {
				return err
			}
			retracted = append(retracted, id)
			continue
		}
		// Global learned claims count toward the gate, so retractions may
		// target the global store as well.
		if id := gview.ResolveID(r.ClaimID); activeIn(gview, id) {
			if err := o.GlobalTDB.AppendClaimRetract(id, r.Reason, nil); err != nil {
				return err
			}
			retracted = append(retracted, id)
		}
	}

	_, err = o.appendEvent(types.KindLearnUpdate, map[string]any{
		"input_summary": clip(inputSummary, 2000),
		"output":        out.Summary,
		"applied": map[string]any{
			"written":         res.WrittenClaimIDs(),
			"linked_existing": len(res.LinkedExisting),
			"retracted":       retracted,
		},
	})
	return err
}

func activeIn(v *thoughtdb.View, id string) bool {
	_, ok := v.ClaimsByID[id]
	return ok && v.Status(id) == types.StatusActive
}

// learnedPreferenceClaims returns active preference claims carrying any
// mi-namespaced tag.
func learnedPreferenceClaims(v *thoughtdb.View) []types.Claim {
	var out []types.Claim
	for _, c := range v.ActiveClaims() {
		if c.ClaimType != types.ClaimPreference {
			continue
		}
		for _, t := range c.Tags {
			if strings.HasPrefix(t, "mi:") {
				out = append(out, c)
				break
			}
		}
	}
	return out
}

// whyTrace links the run's final decision (or evidence) event to the minimal
// set of claims that supported it.
func (o *Orchestrator) whyTrace(ctx context.Context) error {
	target, err := o.Evidence.LastOfKinds(types.KindDecideNext, types.KindEvidence)
	if err != nil || target == nil {
		return err
	}
	targetID := target.EventID()

	view, err := o.ProjectTDB.Materialize()
	if err != nil {
		return err
	}

	topK := o.Config.WhyTrace.TopK
	if topK <= 0 {
		topK = 8
	}
	candidates := make(map[string]types.Claim)

	// Direct citation first: claims that cite the target event.
	for _, c := range view.ActiveClaims() {
		for _, ref := range c.SourceRefs {
			if ref.EventID == targetID {
				candidates[c.ClaimID] = c
				break
			}
		}
	}
	// Then memory search seeded by the target's text fields.
	query := firstNonEmpty(recStr(target, "notes"), recStr(target, "transcript_observation"), o.task)
	if items, err := o.Memory.Search(query, topK); err == nil {
		for _, it := range items {
			if c, ok := view.ClaimsByID[view.ResolveID(it.Ref)]; ok {
				candidates[c.ClaimID] = c
			}
		}
	}
	if len(candidates) == 0 {
		return nil
	}
	var list []types.Claim
	for _, c := range candidates {
		list = append(list, c)
		if len(list) == topK {
			break
		}
	}

	var out types.WhyTraceOut
	state := o.callMind(ctx, schemas.WhyTrace, o.whyTracePrompt(target, list), "why_trace", &out)
	if state != mind.StateOK {
		return nil
	}
	if out.Confidence < o.Config.WhyTrace.MinConfidence || !o.Config.WhyTrace.WriteEdges {
		return nil
	}

	for _, id := range out.ChosenClaimIDs {
		resolved := view.ResolveID(id)
		if _, ok := view.ClaimsByID[resolved]; !ok {
			continue
		}
		if view.HasEdge(types.EdgeDependsOn, targetID, resolved) {
			continue
		}
		if _, err := o.ProjectTDB.AppendEdge(types.Edge{
			EdgeType:   types.EdgeDependsOn,
			FromID:     targetID,
			ToID:       resolved,
			SourceRefs: []types.SourceRef{{EventID: targetID}},
		}); err != nil {
			return err
		}
	}
	return nil
}

// flushWarnings drains every deferred warning source into state_warning
// events.
func (o *Orchestrator) flushWarnings() {
	warnings := append(o.Overlay.Warnings(), o.Segments.Warnings()...)
	warnings = append(warnings, o.pendingWarnings...)
	o.pendingWarnings = nil
	for _, w := range warnings {
		if _, err := o.appendEvent(types.KindStateWarning, map[string]any{"warning": w}); err != nil {
			logging.Orchestrator("state warning flush failed: %v", err)
			return
		}
	}
}

func recStr(r types.Record, key string) string {
	if v, ok := r[key].(string); ok {
		return v
	}
	return ""
}
