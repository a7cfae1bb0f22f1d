package orchestrator

import (
	"context"
	"errors"
	"strings"
	"testing"

	"mindincarnation/internal/hands"
	"mindincarnation/internal/store"
	"mindincarnation/internal/thoughtdb"
	"mindincarnation/internal/types"
	"mindincarnation/internal/workflow"

	"github.com/google/go-cmp/cmp"
)

func TestRunCleanSingleBatch(t *testing.T) {
	h := newHarness(t)
	h.hands.script = []handsTurn{handsOK("t_1", "Implemented the feature and the build passed.")}
	h.mind.respond("extract_evidence",
		`{"facts": ["feature implemented"], "results": ["build passed"]}`)
	h.mind.respond("decide_next",
		`{"next_action": "stop", "status": "done", "notes": "task complete"}`)

	res := h.run(t, "implement the feature")
	if res.Status != types.StatusDone || res.Batches != 1 {
		t.Fatalf("result = %+v", res)
	}

	recs := h.projectEvents(t)
	want := []string{
		types.KindHandsInput,
		types.KindEvidence,
		types.KindCheckPlan,
		types.KindDecideNext,
	}
	if diff := cmp.Diff(want, kindsOf(recs)); diff != "" {
		t.Errorf("event stream mismatch (-want +got):\n%s", diff)
	}

	// No uncertainty, risk, or question: the check plan is a recorded skip,
	// not a Mind call.
	plan := firstOfKind(recs, types.KindCheckPlan)
	if notes, _ := plan["notes"].(string); !strings.HasPrefix(notes, "skipped:") {
		t.Errorf("check_plan notes = %q", notes)
	}
	if h.mind.calls["plan_min_checks"] != 0 {
		t.Error("plan_min_checks must not run on a clean batch")
	}

	ev := firstOfKind(recs, types.KindEvidence)
	if ref, _ := ev["mind_transcript_ref"].(string); ref == "" {
		t.Error("evidence must reference its mind transcript")
	}
}

func TestRunHandsSpawnFailureBlocks(t *testing.T) {
	h := newHarness(t)
	h.hands.script = []handsTurn{{err: errors.New("binary not found")}}

	res := h.run(t, "do something")
	if res.Status != types.StatusBlocked || !strings.Contains(res.Notes, "hands spawn failed") {
		t.Fatalf("result = %+v", res)
	}

	// The failure is on the record even though the batch never ran.
	warn := firstOfKind(h.projectEvents(t), types.KindStateWarning)
	if warn == nil {
		t.Fatal("spawn failure must be recorded before blocking")
	}
	if w, _ := warn["warning"].(string); !strings.Contains(w, "binary not found") {
		t.Errorf("warning = %q", w)
	}
}

func TestRunLoopGuardBlocksWithoutAsk(t *testing.T) {
	h := newHarness(t)
	h.cfg.Run.AskWhenUncertain = false
	h.hands.script = []handsTurn{
		handsOK("t_1", "Still working on it."),
		handsOK("t_1", "Still working on it."),
		handsOK("t_1", "Still working on it."),
	}
	h.mind.respond("decide_next",
		`{"next_action": "send_to_hands", "next_hands_input": "keep going"}`)

	res := h.run(t, "loop forever")
	if res.Status != types.StatusBlocked || res.Notes != "loop_guard triggered" {
		t.Fatalf("result = %+v", res)
	}
	if res.Batches != 3 {
		t.Errorf("batches = %d, want 3 (aaa needs three identical pairs)", res.Batches)
	}

	recs := h.projectEvents(t)
	guard := firstOfKind(recs, types.KindLoopGuard)
	if guard == nil {
		t.Fatal("loop_guard event missing")
	}
	if p, _ := guard["pattern"].(string); p != "aaa" {
		t.Errorf("pattern = %q, want aaa", p)
	}
	if firstOfKind(recs, types.KindLoopBreak) != nil {
		t.Error("loop_break must not run when ask_when_uncertain=false")
	}
}

func TestRunLoopBreakNewInstruction(t *testing.T) {
	h := newHarness(t)
	h.hands.script = []handsTurn{
		handsOK("t_1", "Still working on it."),
		handsOK("t_1", "Still working on it."),
		handsOK("t_1", "Still working on it."),
		handsOK("t_1", "Took the other approach; finished."),
	}
	h.mind.sequence("decide_next",
		`{"next_action": "send_to_hands", "next_hands_input": "keep going"}`,
		`{"next_action": "send_to_hands", "next_hands_input": "keep going"}`,
		`{"next_action": "send_to_hands", "next_hands_input": "keep going"}`,
		`{"next_action": "stop", "status": "done"}`)
	h.mind.respond("loop_break",
		`{"action": "send_new_instruction", "new_instruction": "try a different approach", "reason": "repeating"}`)

	res := h.run(t, "loop then recover")
	if res.Status != types.StatusDone || res.Batches != 4 {
		t.Fatalf("result = %+v", res)
	}
	if firstOfKind(h.projectEvents(t), types.KindLoopBreak) == nil {
		t.Fatal("loop_break event missing")
	}
	if !strings.Contains(h.hands.prompts[3], "try a different approach") {
		t.Errorf("batch 4 prompt lost the replacement instruction:\n%s", h.hands.prompts[3])
	}
}

func TestRunRiskParksSuggestionWhenAutoLearnOff(t *testing.T) {
	h := newHarness(t)
	exitOK := 0
	h.hands.script = []handsTurn{{res: &hands.RunResult{
		ThreadID:         "t_1",
		LastAgentMessage: "Cleaned the cache directory.",
		Events: []hands.Event{{
			Type: hands.EventItemCompleted,
			Item: &hands.Item{Type: hands.ItemCommandExecution, Command: "sudo rm -rf /var/cache/app", ExitCode: &exitOK},
		}},
	}}}
	h.mind.respond("risk_judge", `{
		"category": "destructive_command", "severity": "high", "should_ask_user": true,
		"mitigation": "confirm the target path first",
		"learn_suggested": [{"scope": "project", "text": "avoid sudo rm in this repo"}]
	}`)
	h.mind.respond("decide_next", `{"next_action": "stop", "status": "done"}`)
	h.prompter.answers = []string{"y"}

	res := h.run(t, "clean the cache")
	if res.Status != types.StatusDone {
		t.Fatalf("result = %+v", res)
	}

	recs := h.projectEvents(t)
	risk := firstOfKind(recs, types.KindRiskEvent)
	if risk == nil {
		t.Fatal("risk_event missing")
	}
	if items, _ := risk["learn_suggested"].([]any); len(items) != 1 {
		t.Errorf("risk_event learn_suggested = %v", risk["learn_suggested"])
	}
	learn := firstOfKind(recs, types.KindLearnSuggested)
	if learn == nil {
		t.Fatal("learn_suggested missing")
	}
	if applied := learn.StringList("applied_claim_ids"); len(applied) != 0 {
		t.Errorf("auto_learn off must not write claims, got %v", applied)
	}

	sugs, err := h.o.Suggestions.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(sugs) != 1 || sugs[0].Applied || sugs[0].Text != "avoid sudo rm in this repo" {
		t.Errorf("parked suggestion wrong: %+v", sugs)
	}
	if len(h.prompter.asked) != 1 || !strings.Contains(h.prompter.asked[0], "Risky activity detected") {
		t.Errorf("risk confirmation not asked: %v", h.prompter.asked)
	}
}

func TestRunRiskDeclinedBlocks(t *testing.T) {
	h := newHarness(t)
	exitOK := 0
	h.hands.script = []handsTurn{{res: &hands.RunResult{
		ThreadID:         "t_1",
		LastAgentMessage: "About to push.",
		Events: []hands.Event{{
			Type: hands.EventItemCompleted,
			Item: &hands.Item{Type: hands.ItemCommandExecution, Command: "git push --force origin main", ExitCode: &exitOK},
		}},
	}}}
	h.mind.respond("risk_judge",
		`{"category": "vcs", "severity": "critical", "should_ask_user": true}`)
	h.prompter.answers = []string{"no"}

	res := h.run(t, "push the branch")
	if res.Status != types.StatusBlocked || res.Notes != "user declined to continue after risk event" {
		t.Fatalf("result = %+v", res)
	}
}

func TestRunRiskAutoLearnWritesClaim(t *testing.T) {
	h := newHarness(t)
	h.cfg.Violation.AutoLearn = true
	exitOK := 0
	h.hands.script = []handsTurn{{res: &hands.RunResult{
		ThreadID:         "t_1",
		LastAgentMessage: "Installed the dependency.",
		Events: []hands.Event{{
			Type: hands.EventItemCompleted,
			Item: &hands.Item{Type: hands.ItemCommandExecution, Command: "npm install leftpad", ExitCode: &exitOK},
		}},
	}}}
	h.mind.respond("risk_judge", `{
		"category": "supply_chain", "severity": "low", "should_ask_user": false,
		"learn_suggested": [{"scope": "project", "text": "pin new dependencies", "tags": ["mi:learned"]}]
	}`)
	h.mind.respond("decide_next", `{"next_action": "stop", "status": "done"}`)

	h.run(t, "add a dependency")

	view, err := h.o.ProjectTDB.Materialize()
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, c := range view.ActiveClaims() {
		if c.Text == "pin new dependencies" && c.ClaimType == types.ClaimPreference {
			found = true
			if len(c.SourceRefs) == 0 {
				t.Error("auto-learned claim must cite the risk event")
			}
		}
	}
	if !found {
		t.Error("auto_learn did not write the preference claim")
	}
}

func TestRunLearnUpdateRetractsGlobalClaim(t *testing.T) {
	h := newHarness(t)
	h.cfg.LearnUpdate.MinNewSuggestionsPerRun = 1

	stale, err := h.o.GlobalTDB.AppendClaim(types.Claim{
		ClaimType:  types.ClaimPreference,
		Text:       "always vendor dependencies",
		Tags:       []string{"mi:learned"},
		Confidence: 0.8,
		SourceRefs: []types.SourceRef{{EventID: "ev_0_aaaa0000"}},
	})
	if err != nil {
		t.Fatal(err)
	}

	exitOK := 0
	h.hands.script = []handsTurn{{res: &hands.RunResult{
		ThreadID:         "t_1",
		LastAgentMessage: "Added the dependency.",
		Events: []hands.Event{{
			Type: hands.EventItemCompleted,
			Item: &hands.Item{Type: hands.ItemCommandExecution, Command: "npm install leftpad", ExitCode: &exitOK},
		}},
	}}}
	h.mind.respond("risk_judge", `{
		"category": "supply_chain", "severity": "low", "should_ask_user": false,
		"learn_suggested": [{"scope": "project", "text": "prefer the stdlib over tiny deps"}]
	}`)
	h.mind.respond("decide_next", `{"next_action": "stop", "status": "done"}`)
	h.mind.respond("learn_update", `{
		"summary": "vendoring rule superseded by the lockfile workflow",
		"retracts": [{"claim_id": "`+stale.ClaimID+`", "reason": "superseded"}]
	}`)

	h.run(t, "add a dependency")

	// The stale rule lives in the global store, so the retraction must land
	// there rather than being dropped against the project store.
	gv, err := h.o.GlobalTDB.Materialize()
	if err != nil {
		t.Fatal(err)
	}
	if got := gv.Status(stale.ClaimID); got != types.StatusRetracted {
		t.Errorf("global claim status = %s, want retracted", got)
	}

	lu := firstOfKind(h.projectEvents(t), types.KindLearnUpdate)
	if lu == nil {
		t.Fatal("learn_update event missing")
	}
	applied, _ := lu["applied"].(map[string]any)
	retracted, _ := applied["retracted"].([]any)
	if len(retracted) != 1 || retracted[0] != stale.ClaimID {
		t.Errorf("retracted = %v, want [%s]", retracted, stale.ClaimID)
	}
}

func TestRunResumesPersistedThread(t *testing.T) {
	h := newHarness(t)
	h.cfg.Run.ContinueHands = true
	overlay := h.o.Overlay.Load("p_test", h.o.RootPath, h.o.IdentityKey)
	if err := h.o.Overlay.SetHandsState(overlay, "fake", "t_old"); err != nil {
		t.Fatal(err)
	}

	h.hands.script = []handsTurn{handsOK("t_old", "Continuing where we left off; done.")}
	h.mind.respond("decide_next", `{"next_action": "stop", "status": "done"}`)

	h.run(t, "continue the task")
	if len(h.hands.resumes) != 1 || h.hands.resumes[0] != "t_old" {
		t.Errorf("resumes = %v, want [t_old]", h.hands.resumes)
	}
}

func TestRunResetIgnoresPersistedThread(t *testing.T) {
	h := newHarness(t)
	h.cfg.Run.ContinueHands = true
	h.cfg.Run.ResetHands = true
	overlay := h.o.Overlay.Load("p_test", h.o.RootPath, h.o.IdentityKey)
	if err := h.o.Overlay.SetHandsState(overlay, "fake", "t_old"); err != nil {
		t.Fatal(err)
	}

	h.hands.script = []handsTurn{handsOK("t_new", "Fresh session; done.")}
	h.mind.respond("decide_next", `{"next_action": "stop", "status": "done"}`)

	h.run(t, "start over")
	if len(h.hands.resumes) != 0 {
		t.Errorf("reset run must exec fresh, resumed %v", h.hands.resumes)
	}
}

func TestRunResumeFailureFallsBackToExec(t *testing.T) {
	h := newHarness(t)
	h.cfg.Run.ContinueHands = true
	overlay := h.o.Overlay.Load("p_test", h.o.RootPath, h.o.IdentityKey)
	if err := h.o.Overlay.SetHandsState(overlay, "fake", "t_gone"); err != nil {
		t.Fatal(err)
	}

	h.hands.script = []handsTurn{
		{err: errors.New("thread not found")},
		handsOK("t_new", "Started fresh; done."),
	}
	h.mind.respond("decide_next", `{"next_action": "stop", "status": "done"}`)

	res := h.run(t, "continue the task")
	if res.Status != types.StatusDone {
		t.Fatalf("result = %+v", res)
	}

	recs := h.projectEvents(t)
	failed := firstOfKind(recs, types.KindHandsResumeFailed)
	if failed == nil {
		t.Fatal("hands_resume_failed event missing")
	}
	if id, _ := failed["resume_thread_id"].(string); id != "t_gone" {
		t.Errorf("resume_thread_id = %q", id)
	}
	if h.hands.calls != 2 {
		t.Errorf("hands calls = %d, want 2 (resume then exec)", h.hands.calls)
	}
}

func TestRunWorkflowTriggerInjectsMarkerOnce(t *testing.T) {
	h := newHarness(t)
	reg := workflow.NewRegistry(h.o.ProjectWfDir, types.ScopeProject)
	if err := reg.Save(types.Workflow{
		WorkflowID: "wf_deploy",
		Name:       "deploy flow",
		Enabled:    true,
		Trigger:    types.WorkflowTrigger{Mode: workflow.TriggerTaskContains, Pattern: "deploy"},
		Steps: []types.WorkflowStep{
			{ID: "s1", Title: "build the artifact"},
			{ID: "s2", Title: "roll it out"},
		},
	}); err != nil {
		t.Fatal(err)
	}

	h.hands.script = []handsTurn{
		handsOK("t_1", "Built the artifact."),
		handsOK("t_1", "Rolled out; all good."),
	}
	h.mind.respond("workflow_progress",
		`{"advance_completed_step_ids": ["s1"], "set_next_step_id": "s2"}`)
	h.mind.sequence("decide_next",
		`{"next_action": "send_to_hands", "next_hands_input": "continue the rollout"}`,
		`{"next_action": "stop", "status": "done"}`)

	res := h.run(t, "deploy the service")
	if res.Status != types.StatusDone || res.Batches != 2 {
		t.Fatalf("result = %+v", res)
	}

	if !strings.Contains(h.hands.prompts[0], workflow.TriggerMarker) {
		t.Error("first prompt missing the trigger marker")
	}
	if strings.Contains(h.hands.prompts[1], workflow.TriggerMarker) {
		t.Error("marker must be injected into the first input only")
	}

	recs := h.projectEvents(t)
	if n := countKind(recs, types.KindWorkflowProgress); n != 2 {
		t.Errorf("workflow_progress events = %d, want 2", n)
	}
	overlay := h.o.Overlay.Load("p_test", h.o.RootPath, h.o.IdentityKey)
	if !overlay.WorkflowRun.Active || overlay.WorkflowRun.NextStepID != "s2" {
		t.Errorf("workflow cursor wrong: %+v", overlay.WorkflowRun)
	}
	if !containsStr(overlay.WorkflowRun.CompletedStepIDs, "s1") {
		t.Errorf("s1 not recorded complete: %+v", overlay.WorkflowRun)
	}
}

func TestRunTestlessStrategyAskedOncePerProject(t *testing.T) {
	h := newHarness(t)
	h.hands.script = []handsTurn{
		{res: &hands.RunResult{ThreadID: "t_1", ExitCode: 1, LastAgentMessage: "Build failed, no tests found."}},
		handsOK("t_1", "Smoke script passed."),
	}
	h.mind.sequence("plan_min_checks",
		`{"should_run_checks": false, "needs_testless_strategy": true}`,
		`{"should_run_checks": true, "hands_check_input": "run the smoke script"}`)
	h.mind.respond("decide_next", `{"next_action": "stop", "status": "done"}`)
	h.prompter.answers = []string{"scripts/smoke.sh"}

	res := h.run(t, "fix the build")
	if res.Status != types.StatusDone || res.Batches != 2 {
		t.Fatalf("result = %+v", res)
	}

	if len(h.prompter.asked) != 1 || !strings.Contains(h.prompter.asked[0], "No test suite") {
		t.Fatalf("strategy question wrong: %v", h.prompter.asked)
	}
	if !strings.Contains(h.hands.prompts[1], "run the smoke script") {
		t.Errorf("replanned check input not queued:\n%s", h.hands.prompts[1])
	}

	overlay := h.o.Overlay.Load("p_test", h.o.RootPath, h.o.IdentityKey)
	if !overlay.TestlessStrategy.ChosenOnce || overlay.TestlessStrategy.Strategy != "scripts/smoke.sh" {
		t.Errorf("overlay pointer wrong: %+v", overlay.TestlessStrategy)
	}

	view, err := h.o.ProjectTDB.Materialize()
	if err != nil {
		t.Fatal(err)
	}
	claims := view.ActiveClaimsWithTag(thoughtdb.TagTestlessStrategy)
	if len(claims) != 1 {
		t.Fatalf("tagged strategy claims = %d, want 1", len(claims))
	}
	if overlay.TestlessStrategy.ClaimID != claims[0].ClaimID {
		t.Error("overlay must point at the canonical claim")
	}

	// Later resolutions short-circuit on the overlay pointer without asking.
	resolved, err := h.o.resolveTestlessStrategy(context.Background())
	if err != nil || !resolved {
		t.Fatalf("re-resolve = (%t, %v)", resolved, err)
	}
	if len(h.prompter.asked) != 1 {
		t.Error("strategy must be asked once per project")
	}
}

func TestRunCheckpointMinesAndResetsSegment(t *testing.T) {
	h := newHarness(t)
	h.cfg.Checkpoint.AllowSingleIfHighBenefit = true
	h.hands.script = []handsTurn{
		handsOK("t_1", "Implemented the migration runner."),
		handsOK("t_1", "Wrapped up."),
	}
	h.mind.respond("extract_evidence",
		`{"facts": ["project uses goose for migrations"], "actions": ["wrote migration runner"], "results": ["migrations apply cleanly"]}`)
	h.mind.sequence("decide_next",
		`{"next_action": "send_to_hands", "next_hands_input": "add a rollback test", "notes": "one more step"}`,
		`{"next_action": "stop", "status": "done"}`)
	h.mind.sequence("checkpoint_decide",
		`{"should_checkpoint": true, "checkpoint_kind": "progress", "should_mine_workflow": true, "should_mine_preferences": true}`)
	h.mind.respond("suggest_workflow", `{
		"should_suggest": true, "name": "migration change", "trigger_pattern": "migration",
		"high_benefit": true,
		"steps": [{"id": "s1", "title": "write the migration"}, {"id": "s2", "title": "run it against a scratch db"}]
	}`)
	h.mind.respond("mine_preferences",
		`{"preferences": [{"scope": "project", "text": "always add a rollback for each migration"}]}`)
	h.mind.handlers["mine_claims"] = func(prompt string) string {
		// Cite the first event id the mining prompt offered.
		id := ""
		for _, f := range strings.Fields(prompt) {
			if strings.HasPrefix(f, "[ev_") {
				id = strings.Trim(f, "[]")
				break
			}
		}
		return `{"claims": [{"local_id": "c1", "claim_type": "fact",
			"text": "migrations are managed with goose",
			"source_event_ids": ["` + id + `"], "confidence": 0.9}]}`
	}

	res := h.run(t, "add a database migration")
	if res.Status != types.StatusDone || res.Batches != 2 {
		t.Fatalf("result = %+v", res)
	}

	recs := h.projectEvents(t)
	if firstOfKind(recs, types.KindSnapshot) == nil {
		t.Fatal("snapshot event missing")
	}

	seg := store.NewSegmentStore(h.paths.SegmentState(), h.cfg.Checkpoint.SegmentMaxRecords).Load("t_1")
	if seg.LastCheckpointKey != "b1|progress" {
		t.Errorf("checkpoint key = %q, want b1|progress", seg.LastCheckpointKey)
	}

	// High-benefit single occurrence promotes the mined workflow.
	wfs, err := workflow.NewRegistry(h.o.ProjectWfDir, types.ScopeProject).List()
	if err != nil {
		t.Fatal(err)
	}
	if len(wfs) != 1 || wfs[0].Name != "migration change" {
		t.Fatalf("mined workflow not promoted: %+v", wfs)
	}

	sugs, err := h.o.Suggestions.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(sugs) != 1 || sugs[0].Source != "mine_preferences" {
		t.Errorf("mined preference not parked: %+v", sugs)
	}

	view, err := h.o.ProjectTDB.Materialize()
	if err != nil {
		t.Fatal(err)
	}
	foundClaim := false
	for _, c := range view.ActiveClaims() {
		if c.Text == "migrations are managed with goose" {
			foundClaim = true
		}
	}
	if !foundClaim {
		t.Error("mined claim not written")
	}
	foundSummary := false
	for _, n := range view.NodesByID {
		if n.NodeType == types.NodeSummary {
			foundSummary = true
		}
	}
	if !foundSummary {
		t.Error("summary node not materialized")
	}

	// Buffered snapshot flushed into the memory index at run end.
	hits, err := h.memory.Search("goose migrations", 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) == 0 {
		t.Error("snapshot not indexed into memory")
	}
}

func TestRunPreActionQuestionNeedsUser(t *testing.T) {
	h := newHarness(t)
	h.hands.script = []handsTurn{
		handsOK("t_1", "Should I delete the legacy module?"),
		handsOK("t_1", "Kept the legacy module; done."),
	}
	h.mind.respond("plan_min_checks", `{"should_run_checks": false}`)
	h.mind.respond("auto_answer_to_hands", `{
		"should_answer": false, "needs_user_input": true,
		"ask_user_question": "Hands wants to delete the legacy module. Allow it?"
	}`)
	h.mind.respond("decide_next", `{"next_action": "stop", "status": "done"}`)
	h.prompter.answers = []string{"no, keep it"}

	res := h.run(t, "refactor the module")
	if res.Status != types.StatusDone || res.Batches != 2 {
		t.Fatalf("result = %+v", res)
	}
	if len(h.prompter.asked) != 1 || !strings.Contains(h.prompter.asked[0], "legacy module") {
		t.Fatalf("asked = %v", h.prompter.asked)
	}
	if !strings.Contains(h.hands.prompts[1], "no, keep it") {
		t.Errorf("user answer not forwarded to hands:\n%s", h.hands.prompts[1])
	}
	// The queued answer replaces decide_next for that batch.
	if h.mind.calls["decide_next"] != 1 {
		t.Errorf("decide_next calls = %d, want 1 (batch 2 only)", h.mind.calls["decide_next"])
	}
}

func TestRunDecideUnavailableBlocks(t *testing.T) {
	h := newHarness(t)
	h.hands.script = []handsTurn{handsOK("t_1", "Finished the change.")}
	h.mind.handlers["decide_next"] = func(string) string { return "not json at all" }

	res := h.run(t, "small change")
	if res.Status != types.StatusBlocked || res.Notes != "decide_next unavailable" {
		t.Fatalf("result = %+v", res)
	}
}
