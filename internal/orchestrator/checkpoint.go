package orchestrator

import (
	"context"
	"strings"

	"mindincarnation/internal/logging"
	"mindincarnation/internal/memory"
	"mindincarnation/internal/mind"
	"mindincarnation/internal/schemas"
	"mindincarnation/internal/thoughtdb"
	"mindincarnation/internal/types"
	"mindincarnation/internal/workflow"
)

// checkpoint runs the checkpoint-decide gate and, when it fires, the mining
// pipeline: snapshot, workflow + preference + claim mining, node
// materialization, and a segment reset.
func (o *Orchestrator) checkpoint(ctx context.Context) error {
	if !o.Config.Checkpoint.MiningEnabled() || len(o.segment.Records) == 0 {
		return nil
	}

	var cd types.CheckpointDecideOut
	state := o.callMind(ctx, schemas.CheckpointDecide, o.checkpointPrompt(), "checkpoint_decide", &cd)
	if state != mind.StateOK || !cd.ShouldCheckpoint {
		return nil
	}

	// At-most-once per (batch, kind) position.
	key := o.batchID + "|" + cd.CheckpointKind
	if key == o.segment.LastCheckpointKey {
		logging.CheckpointDebug("checkpoint %s already taken, skipping", key)
		return nil
	}
	logging.Checkpoint("checkpoint firing key=%s status_hint=%s", key, cd.StatusHint)

	snapID, snapText, err := o.writeSnapshot(cd)
	if err != nil {
		return err
	}
	allowed := o.segment.EventIDs()
	allowed[snapID] = true

	if cd.ShouldMineWorkflow && o.Config.Checkpoint.WfAutoMine {
		if err := o.mineWorkflow(ctx); err != nil {
			return err
		}
	}
	if cd.ShouldMinePreferences && o.Config.Checkpoint.PrefAutoMine {
		if err := o.minePreferences(ctx, snapID); err != nil {
			return err
		}
	}
	if o.Config.Checkpoint.TdbAutoMine {
		if err := o.mineClaims(ctx, allowed); err != nil {
			return err
		}
	}
	if o.Config.Checkpoint.TdbAutoNodes {
		if err := o.materializeNodes(snapText); err != nil {
			return err
		}
	}

	return o.Segments.Reset(o.segment, key)
}

// writeSnapshot materializes the segment buffer into a snapshot event and
// buffers it for the memory index.
func (o *Orchestrator) writeSnapshot(cd types.CheckpointDecideOut) (string, string, error) {
	var facts, actions, results, unknowns, risks []string
	tags := []string{"checkpoint"}
	for _, r := range o.segment.Records {
		facts = append(facts, r.Facts...)
		actions = append(actions, r.Actions...)
		results = append(results, r.Results...)
		unknowns = append(unknowns, r.Unknowns...)
		risks = append(risks, r.RiskSignals...)
		if r.Kind == "workflow_trigger" && r.WorkflowName != "" {
			tags = append(tags, "workflow:"+r.WorkflowName)
		}
	}

	var b strings.Builder
	section := func(title string, items []string) {
		items = dedupStrings(items)
		if len(items) > 8 {
			items = items[:8]
		}
		if len(items) == 0 {
			return
		}
		b.WriteString(title)
		b.WriteString(":\n")
		for _, it := range items {
			b.WriteString("- ")
			b.WriteString(clip(it, 200))
			b.WriteString("\n")
		}
	}
	section("Facts", facts)
	section("Actions", actions)
	section("Results", results)
	section("Unknowns", unknowns)
	section("Risk signals", risks)
	text := strings.TrimSpace(b.String())

	var refs []string
	for id := range o.segment.EventIDs() {
		refs = append(refs, id)
	}

	rec, err := o.appendEvent(types.KindSnapshot, map[string]any{
		"checkpoint_kind": cd.CheckpointKind,
		"status_hint":     cd.StatusHint,
		"tags":            tags,
		"text":            text,
		"source_refs":     refs,
	})
	if err != nil {
		return "", "", err
	}

	o.bufferedSnapshots = append(o.bufferedSnapshots, memory.Item{
		Ref:       rec.EventID(),
		ProjectID: o.ProjectID,
		Kind:      "snapshot",
		Tags:      strings.Join(tags, " "),
		Text:      text,
		TS:        types.NowTS(),
	})
	return rec.EventID(), text, nil
}

// mineWorkflow asks suggest_workflow and promotes the candidate once its
// occurrence count clears the threshold (or immediately for a high-benefit
// single occurrence).
func (o *Orchestrator) mineWorkflow(ctx context.Context) error {
	var sug types.SuggestWorkflowOut
	state := o.callMind(ctx, schemas.SuggestWorkflow, o.suggestWorkflowPrompt(), "suggest_workflow", &sug)
	if state != mind.StateOK || !sug.ShouldSuggest || sug.Name == "" || len(sug.Steps) == 0 {
		return nil
	}

	sig := workflow.Signature(sug)
	cand, err := o.WfCandidates.Bump(sig, sug)
	if err != nil {
		return err
	}
	promote := cand.Occurrences >= o.Config.Checkpoint.MinOccurrences ||
		(o.Config.Checkpoint.AllowSingleIfHighBenefit && sug.HighBenefit)
	if !promote {
		logging.Checkpoint("workflow candidate %q at %d occurrences, below threshold", sug.Name, cand.Occurrences)
		return nil
	}

	wf := types.Workflow{
		Name:    sug.Name,
		Enabled: true,
		Trigger: types.WorkflowTrigger{
			Mode:    workflow.TriggerTaskContains,
			Pattern: sug.TriggerPattern,
		},
		Steps:       sug.Steps,
		MinedTS:     types.NowTS(),
		Occurrences: cand.Occurrences,
	}
	return o.projectReg.Save(wf)
}

// minePreferences routes mined preference hints through the learn-suggested
// path, deduplicating against suggestions already parked.
func (o *Orchestrator) minePreferences(ctx context.Context, snapshotEventID string) error {
	var out types.MinePreferencesOut
	state := o.callMind(ctx, schemas.MinePreferences, o.minePreferencesPrompt(), "mine_preferences", &out)
	if state != mind.StateOK || len(out.Preferences) == 0 {
		return nil
	}

	existing, err := o.Suggestions.List()
	if err != nil {
		return err
	}
	seen := make(map[string]bool, len(existing))
	for _, s := range existing {
		seen[types.NormalizeText(s.Text)] = true
	}

	var fresh []types.LearnSuggestedItem
	for _, p := range out.Preferences {
		key := types.NormalizeText(p.Text)
		if p.Text == "" || seen[key] {
			continue
		}
		seen[key] = true
		fresh = append(fresh, p)
	}
	if len(fresh) == 0 {
		return nil
	}
	return o.applyLearnSuggested("mine_preferences", fresh, snapshotEventID)
}

// mineClaims feeds mine_claims output through apply_mined_output with the
// segment's event ids as the citation whitelist.
func (o *Orchestrator) mineClaims(ctx context.Context, allowed map[string]bool) error {
	var out types.MineClaimsOut
	state := o.callMind(ctx, schemas.MineClaims, o.mineClaimsPrompt(), "mine_claims", &out)
	if state != mind.StateOK || (len(out.Claims) == 0 && len(out.Edges) == 0) {
		return nil
	}

	res, err := o.ProjectTDB.ApplyMinedOutput(out, thoughtdb.ApplyOptions{
		MinConfidence:   o.Config.Checkpoint.MinConfidence,
		MaxClaims:       o.Config.Checkpoint.MaxClaims,
		AllowedEventIDs: allowed,
	})
	if err != nil {
		return err
	}
	logging.Checkpoint("mined claims: written=%d linked=%d edges=%d skipped=%d",
		len(res.Written), len(res.LinkedExisting), len(res.WrittenEdges), len(res.Skipped))
	return nil
}

// materializeNodes derives decision/action/summary nodes from segment
// structure without a Mind call, each with derived_from edges to the events
// it cites.
func (o *Orchestrator) materializeNodes(snapshotText string) error {
	var actionTexts, decisionTexts []string
	var actionRefs, decisionRefs, allRefs []string
	for _, r := range o.segment.Records {
		if r.EventID != "" {
			allRefs = append(allRefs, r.EventID)
		}
		if len(r.Actions) > 0 && r.EventID != "" {
			actionTexts = append(actionTexts, r.Actions...)
			actionRefs = append(actionRefs, r.EventID)
		}
		if r.Kind == "decide_next" && r.EventID != "" {
			if r.Text != "" {
				decisionTexts = append(decisionTexts, r.Text)
			}
			decisionRefs = append(decisionRefs, r.EventID)
		}
	}

	write := func(nodeType, title, text string, refs []string) error {
		refs = dedupStrings(refs)
		if len(refs) > 5 {
			refs = refs[:5]
		}
		if text == "" || len(refs) == 0 {
			return nil
		}
		srefs := make([]types.SourceRef, 0, len(refs))
		for _, id := range refs {
			srefs = append(srefs, types.SourceRef{EventID: id})
		}
		node, err := o.ProjectTDB.AppendNode(types.Node{
			NodeType:   nodeType,
			Title:      title,
			Text:       clip(text, 2000),
			SourceRefs: srefs,
		})
		if err != nil {
			return err
		}
		for _, ref := range srefs {
			if _, err := o.ProjectTDB.AppendEdge(types.Edge{
				EdgeType:   types.EdgeDerivedFrom,
				FromID:     node.NodeID,
				ToID:       ref.EventID,
				SourceRefs: []types.SourceRef{ref},
			}); err != nil {
				return err
			}
		}
		return nil
	}

	if err := write(types.NodeSummary, "Checkpoint summary", snapshotText, allRefs); err != nil {
		return err
	}
	if err := write(types.NodeAction, "Actions taken",
		strings.Join(dedupStrings(actionTexts), "\n"), actionRefs); err != nil {
		return err
	}
	return write(types.NodeDecision, "Decisions",
		strings.Join(dedupStrings(decisionTexts), "\n"), decisionRefs)
}
