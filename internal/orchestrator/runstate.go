// Package orchestrator runs the MI batch loop: Hands invocation, evidence
// extraction, risk judgement, pre-action arbitration, decide_next routing,
// loop-guard protection, and the checkpoint + mining pipeline, all recorded
// through the append-only EvidenceLog.
package orchestrator

import (
	"context"
	"fmt"

	"mindincarnation/internal/config"
	"mindincarnation/internal/hands"
	"mindincarnation/internal/memory"
	"mindincarnation/internal/mind"
	"mindincarnation/internal/store"
	"mindincarnation/internal/thoughtdb"
	"mindincarnation/internal/types"
	"mindincarnation/internal/workflow"
)

// Prompter asks the user a question and returns the answer. The CLI wires a
// stdin readline; tests wire a scripted fake.
type Prompter interface {
	Ask(question string) (string, error)
}

// Deps is the dependency bundle assembled by the CLI (or a test harness).
type Deps struct {
	Config      *config.Config
	Paths       store.Paths
	ProjectID   string
	RootPath    string
	IdentityKey string

	Overlay      *store.OverlayStore
	Segments     *store.SegmentStore
	Evidence     *store.EvidenceLog // project scope
	GlobalLog    *store.EvidenceLog // global scope
	ProjectTDB   *thoughtdb.DB
	GlobalTDB    *thoughtdb.DB
	Hands        hands.Provider
	Mind         *mind.Mediator
	Memory       memory.Backend
	Prompter     Prompter
	Suggestions  *store.SuggestionStore
	WfCandidates *store.WorkflowCandidateStore
	ProjectWfDir string
	GlobalWfDir  string
}

// Result is the terminal outcome of a run.
type Result struct {
	Status  string
	Notes   string
	Batches int
}

// Orchestrator holds all run-loop state explicitly; phase methods take and
// mutate this value instead of chaining closures over shared locals.
type Orchestrator struct {
	Deps

	overlay    *store.ProjectOverlay
	segment    *store.SegmentState
	defaults   thoughtdb.Defaults
	projectReg *workflow.Registry
	globalReg  *workflow.Registry

	task             string
	threadID         string
	batchIdx         int
	batchID          string
	nextInput        string
	lastHandsMessage string
	lastExitCode     int
	lastEvidence     types.EvidenceOut
	lastEvidenceID   string
	lastCheckPlan    *types.CheckPlanOut
	lastMindRef      string

	loopSigs          []string
	status            string
	notes             string
	suggestedThisRun  int
	testlessAsked     bool
	pendingMarker     string
	bufferedSnapshots []memory.Item
	pendingWarnings   []string
}

// New assembles an orchestrator over its dependencies.
func New(deps Deps) *Orchestrator {
	return &Orchestrator{Deps: deps}
}

// callMind invokes one Mind schema and decodes the payload into out.
// Returns the mediator state; on error or skip, out keeps its zero value so
// phases proceed with safe defaults. The call's transcript ref is kept in
// lastMindRef for events that cite it.
func (o *Orchestrator) callMind(ctx context.Context, schema, prompt, tag string, out any) string {
	obj, ref, state := o.Mind.Call(ctx, schema, prompt, tag, o.batchID, o.threadID)
	o.lastMindRef = ref
	if state != mind.StateOK {
		return state
	}
	if err := mind.Decode(obj, out); err != nil {
		// A validated object that fails to decode is a schema drift bug;
		// treat like a provider error for this phase.
		o.pendingWarnings = append(o.pendingWarnings, fmt.Sprintf("decode %s failed: %v", schema, err))
		return mind.StateError
	}
	return mind.StateOK
}

// appendEvent writes to the project EvidenceLog with the current batch and
// thread ids.
func (o *Orchestrator) appendEvent(kind string, fields map[string]any) (types.Record, error) {
	return o.Evidence.MustAppend(kind, o.batchID, o.threadID, fields)
}

// appendPhaseEvent writes with a dotted intra-batch phase suffix.
func (o *Orchestrator) appendPhaseEvent(kind, phase string, fields map[string]any) (types.Record, error) {
	return o.Evidence.MustAppend(kind, types.SubBatchID(types.BatchID(o.batchIdx), phase), o.threadID, fields)
}
