package workflow

import (
	"strings"
	"testing"

	"mindincarnation/internal/types"
)

func sampleWorkflow(id, name, pattern string) types.Workflow {
	return types.Workflow{
		WorkflowID: id,
		Name:       name,
		Enabled:    true,
		Trigger:    types.WorkflowTrigger{Mode: TriggerTaskContains, Pattern: pattern},
		Steps: []types.WorkflowStep{
			{ID: "s1", Title: "first step"},
			{ID: "s2", Title: "second step"},
		},
	}
}

func TestRegistryRoundTrip(t *testing.T) {
	r := NewRegistry(t.TempDir(), types.ScopeProject)
	wf := sampleWorkflow("", "release checklist", "release")
	if err := r.Save(wf); err != nil {
		t.Fatal(err)
	}

	list, err := r.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 {
		t.Fatalf("listed %d workflows, want 1", len(list))
	}
	got := list[0]
	if got.WorkflowID == "" || got.Name != "release checklist" || got.Scope != types.ScopeProject {
		t.Errorf("round trip lost fields: %+v", got)
	}
}

func TestRegistryListMissingDir(t *testing.T) {
	r := NewRegistry("/nonexistent/workflows", types.ScopeGlobal)
	list, err := r.List()
	if err != nil || list != nil {
		t.Errorf("missing dir should be empty: (%v, %v)", list, err)
	}
}

func TestEffectiveProjectWinsAndOverridesApply(t *testing.T) {
	shared := sampleWorkflow("wf_shared", "global flavor", "deploy")
	projectCopy := sampleWorkflow("wf_shared", "project flavor", "deploy")
	globalOnly := sampleWorkflow("wf_global", "docs sweep", "docs")

	overrides := map[string]any{
		"wf_global": map[string]any{"enabled": false, "trigger_pattern": "documentation"},
	}
	eff := Effective(
		[]types.Workflow{projectCopy},
		[]types.Workflow{shared, globalOnly},
		overrides,
	)
	if len(eff) != 2 {
		t.Fatalf("effective size = %d, want 2", len(eff))
	}
	byID := map[string]types.Workflow{}
	for _, wf := range eff {
		byID[wf.WorkflowID] = wf
	}
	if byID["wf_shared"].Name != "project flavor" {
		t.Error("project record must shadow the global one")
	}
	g := byID["wf_global"]
	if g.Enabled {
		t.Error("enabled override not applied")
	}
	if g.Trigger.Pattern != "documentation" {
		t.Errorf("trigger_pattern override not applied: %q", g.Trigger.Pattern)
	}
}

func TestMatchTrigger(t *testing.T) {
	wfs := []types.Workflow{
		sampleWorkflow("wf_a", "deploy flow", "deploy to staging"),
		sampleWorkflow("wf_b", "release flow", "release"),
	}
	wfs[0].Enabled = false

	got := MatchTrigger(wfs, "Please RELEASE version 2.0")
	if got == nil || got.WorkflowID != "wf_b" {
		t.Fatalf("match = %v, want wf_b (disabled entries skipped, case-insensitive)", got)
	}
	if MatchTrigger(wfs, "fix a typo") != nil {
		t.Error("unrelated task must not trigger")
	}
}

func TestMatchTriggerIgnoresEmptyPattern(t *testing.T) {
	wf := sampleWorkflow("wf_e", "broken", "")
	if MatchTrigger([]types.Workflow{wf}, "anything") != nil {
		t.Error("empty pattern must never match")
	}
}

func TestSignatureStability(t *testing.T) {
	a := types.SuggestWorkflowOut{Name: "Release  Checklist", Steps: []types.WorkflowStep{{Title: "Tag the build"}}}
	b := types.SuggestWorkflowOut{Name: "release checklist", Steps: []types.WorkflowStep{{Title: "tag   the build"}}}
	if Signature(a) != Signature(b) {
		t.Error("signature must survive whitespace/case variation")
	}
	c := types.SuggestWorkflowOut{Name: "release checklist", Steps: []types.WorkflowStep{{Title: "push the tag"}}}
	if Signature(a) == Signature(c) {
		t.Error("different step titles must change the signature")
	}
}

func TestMarkerText(t *testing.T) {
	wf := sampleWorkflow("wf_m", "deploy flow", "deploy")
	text := MarkerText(&wf)
	for _, want := range []string{TriggerMarker, "deploy flow", "wf_m", "[s1] first step"} {
		if !strings.Contains(text, want) {
			t.Errorf("marker missing %q:\n%s", want, text)
		}
	}
	if FirstStepID(&wf) != "s1" {
		t.Error("FirstStepID wrong")
	}
}
