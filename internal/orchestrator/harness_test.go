package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"mindincarnation/internal/config"
	"mindincarnation/internal/hands"
	"mindincarnation/internal/memory"
	"mindincarnation/internal/mind"
	"mindincarnation/internal/store"
	"mindincarnation/internal/thoughtdb"
	"mindincarnation/internal/types"
)

// fakeHands replays scripted batch results and records every prompt.
type fakeHands struct {
	script  []handsTurn
	calls   int
	prompts []string
	resumes []string
}

type handsTurn struct {
	res *hands.RunResult
	err error
}

func handsOK(threadID, message string) handsTurn {
	return handsTurn{res: &hands.RunResult{ThreadID: threadID, LastAgentMessage: message}}
}

func (f *fakeHands) Name() string { return "fake" }

func (f *fakeHands) Exec(_ context.Context, req hands.Request) (*hands.RunResult, error) {
	return f.next(req)
}

func (f *fakeHands) Resume(_ context.Context, threadID string, req hands.Request) (*hands.RunResult, error) {
	f.resumes = append(f.resumes, threadID)
	return f.next(req)
}

func (f *fakeHands) next(req hands.Request) (*hands.RunResult, error) {
	i := f.calls
	f.calls++
	f.prompts = append(f.prompts, req.Prompt)
	if i >= len(f.script) {
		return nil, errors.New("hands script exhausted")
	}
	turn := f.script[i]
	if turn.err != nil {
		return nil, turn.err
	}
	res := *turn.res
	return &res, nil
}

// fakeMind dispatches by schema name via the loader-injected title. Schemas
// without a handler answer an empty object, which decodes to zero payloads.
type fakeMind struct {
	handlers map[string]func(prompt string) string
	calls    map[string]int
}

func newFakeMind() *fakeMind {
	return &fakeMind{
		handlers: make(map[string]func(string) string),
		calls:    make(map[string]int),
	}
}

func (m *fakeMind) Name() string { return "fake-mind" }

func (m *fakeMind) Complete(_ context.Context, _, userPrompt, schemaText string) (string, error) {
	var meta struct {
		Title string `json:"title"`
	}
	if err := json.Unmarshal([]byte(schemaText), &meta); err != nil {
		return "", err
	}
	m.calls[meta.Title]++
	if h, ok := m.handlers[meta.Title]; ok {
		return h(userPrompt), nil
	}
	return "{}", nil
}

func (m *fakeMind) respond(schema, response string) {
	m.handlers[schema] = func(string) string { return response }
}

// sequence answers each call with the next response, repeating the last.
func (m *fakeMind) sequence(schema string, responses ...string) {
	i := 0
	m.handlers[schema] = func(string) string {
		r := responses[i]
		if i < len(responses)-1 {
			i++
		}
		return r
	}
}

// fakePrompter pops scripted answers, returning "" when exhausted.
type fakePrompter struct {
	answers []string
	asked   []string
}

func (p *fakePrompter) Ask(question string) (string, error) {
	p.asked = append(p.asked, question)
	if len(p.answers) == 0 {
		return "", nil
	}
	a := p.answers[0]
	p.answers = p.answers[1:]
	return a, nil
}

// harness bundles an orchestrator over temp-dir stores and scripted fakes.
type harness struct {
	o        *Orchestrator
	cfg      *config.Config
	paths    store.Paths
	hands    *fakeHands
	mind     *fakeMind
	prompter *fakePrompter
	memory   *memory.InMemory
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	home := t.TempDir()
	root := t.TempDir()
	paths := store.NewPaths(home, "p_test")

	cfg := config.DefaultConfig()
	cfg.Memory.Backend = memory.BackendInMemory

	h := &harness{
		cfg:      cfg,
		paths:    paths,
		hands:    &fakeHands{},
		mind:     newFakeMind(),
		prompter: &fakePrompter{},
		memory:   memory.NewInMemory(),
	}

	evidence := store.NewEvidenceLog(paths.Evidence(types.ScopeProject))
	globalLog := store.NewEvidenceLog(paths.Evidence(types.ScopeGlobal))
	loader := func(name string) (string, error) {
		return fmt.Sprintf(`{"type": "object", "title": %q}`, name), nil
	}

	h.o = New(Deps{
		Config:       cfg,
		Paths:        paths,
		ProjectID:    "p_test",
		RootPath:     root,
		IdentityKey:  "path:" + root,
		Overlay:      store.NewOverlayStore(paths.Overlay()),
		Segments:     store.NewSegmentStore(paths.SegmentState(), cfg.Checkpoint.SegmentMaxRecords),
		Evidence:     evidence,
		GlobalLog:    globalLog,
		ProjectTDB:   thoughtdb.Open(paths.ThoughtDB(types.ScopeProject), types.ScopeProject, "p_test"),
		GlobalTDB:    thoughtdb.Open(paths.ThoughtDB(types.ScopeGlobal), types.ScopeGlobal, ""),
		Hands:        h.hands,
		Mind:         mind.NewMediator(h.mind, loader, paths.MindTranscript, evidence, 0),
		Memory:       h.memory,
		Prompter:     h.prompter,
		Suggestions:  store.NewSuggestionStore(paths.PreferenceCandidates()),
		WfCandidates: store.NewWorkflowCandidateStore(paths.WorkflowCandidates()),
		ProjectWfDir: paths.Workflows(types.ScopeProject),
		GlobalWfDir:  paths.Workflows(types.ScopeGlobal),
	})
	return h
}

func (h *harness) run(t *testing.T, task string) *Result {
	t.Helper()
	res, err := h.o.Run(context.Background(), task)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	return res
}

// projectEvents reads back the project EvidenceLog.
func (h *harness) projectEvents(t *testing.T) []types.Record {
	t.Helper()
	recs, err := h.o.Evidence.Read()
	if err != nil {
		t.Fatal(err)
	}
	return recs
}

func kindsOf(recs []types.Record) []string {
	out := make([]string, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.Kind())
	}
	return out
}

func firstOfKind(recs []types.Record, kind string) types.Record {
	for _, r := range recs {
		if r.Kind() == kind {
			return r
		}
	}
	return nil
}

func countKind(recs []types.Record, kind string) int {
	n := 0
	for _, r := range recs {
		if r.Kind() == kind {
			n++
		}
	}
	return n
}
