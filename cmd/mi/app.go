package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"mindincarnation/internal/config"
	"mindincarnation/internal/hands"
	"mindincarnation/internal/memory"
	"mindincarnation/internal/mind"
	"mindincarnation/internal/orchestrator"
	"mindincarnation/internal/project"
	"mindincarnation/internal/schemas"
	"mindincarnation/internal/store"
	"mindincarnation/internal/thoughtdb"
	"mindincarnation/internal/types"
)

// app bundles the wired stores and providers for one CLI invocation.
type app struct {
	cfg        *config.Config
	home       string
	rootPath   string
	projectID  string
	identity   project.Identity
	paths      store.Paths
	evidence   *store.EvidenceLog
	globalLog  *store.EvidenceLog
	projectTDB *thoughtdb.DB
	globalTDB  *thoughtdb.DB
	overlay    *store.OverlayStore
	memory     memory.Backend
}

// newApp resolves the project identity and opens the stores. Commands that
// need the full orchestrator call deps() on top of this.
func newApp() (*app, error) {
	home := config.MIHome()
	path := configPath
	if path == "" {
		path = config.DefaultConfigPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	root, err := config.ProjectRoot(projectFlag)
	if err != nil {
		return nil, err
	}
	identity := project.Resolve(root)

	indexPath := store.NewPaths(home, "").ProjectIndex()
	var projectID string
	if tok := strings.TrimPrefix(projectToken, "@"); tok != "" && tok != projectToken {
		// A pinned token names the project id directly.
		projectID = tok
	} else {
		projectID, err = project.ResolveID(indexPath, identity)
		if err != nil {
			return nil, err
		}
	}

	paths := store.NewPaths(home, projectID)
	a := &app{
		cfg:        cfg,
		home:       home,
		rootPath:   root,
		projectID:  projectID,
		identity:   identity,
		paths:      paths,
		evidence:   store.NewEvidenceLog(paths.Evidence(types.ScopeProject)),
		globalLog:  store.NewEvidenceLog(paths.Evidence(types.ScopeGlobal)),
		projectTDB: thoughtdb.Open(paths.ThoughtDB(types.ScopeProject), types.ScopeProject, projectID),
		globalTDB:  thoughtdb.Open(paths.ThoughtDB(types.ScopeGlobal), types.ScopeGlobal, ""),
		overlay:    store.NewOverlayStore(paths.Overlay()),
		memory:     memory.New(cfg.Memory.Backend, paths.MemoryIndex()),
	}
	return a, nil
}

func (a *app) close() {
	if a.memory != nil {
		_ = a.memory.Close()
	}
}

// deps assembles the orchestrator dependency bundle.
func (a *app) deps() orchestrator.Deps {
	provider, perr := mind.NewProvider(a.cfg.Mind)
	if perr != nil {
		// Surfaced per call as mind_error records rather than aborting here.
		provider = unavailableProvider{err: perr}
	}
	mediator := mind.NewMediator(provider, schemas.Load, a.paths.MindTranscript, a.evidence, a.cfg.Mind.MaxRetries)

	return orchestrator.Deps{
		Config:       a.cfg,
		Paths:        a.paths,
		ProjectID:    a.projectID,
		RootPath:     a.rootPath,
		IdentityKey:  a.identity.Key(),
		Overlay:      a.overlay,
		Segments:     store.NewSegmentStore(a.paths.SegmentState(), a.cfg.Checkpoint.SegmentMaxRecords),
		Evidence:     a.evidence,
		GlobalLog:    a.globalLog,
		ProjectTDB:   a.projectTDB,
		GlobalTDB:    a.globalTDB,
		Hands:        hands.New(a.cfg.Hands),
		Mind:         mediator,
		Memory:       a.memory,
		Prompter:     stdinPrompter{},
		Suggestions:  store.NewSuggestionStore(a.paths.PreferenceCandidates()),
		WfCandidates: store.NewWorkflowCandidateStore(a.paths.WorkflowCandidates()),
		ProjectWfDir: a.paths.Workflows(types.ScopeProject),
		GlobalWfDir:  a.paths.Workflows(types.ScopeGlobal),
	}
}

// stdinPrompter reads user answers from the terminal.
type stdinPrompter struct{}

func (stdinPrompter) Ask(question string) (string, error) {
	fmt.Fprintf(os.Stderr, "\n%s\n> ", question)
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return strings.TrimSpace(line), err
	}
	return strings.TrimSpace(line), nil
}

// unavailableProvider fails every call with the construction error.
type unavailableProvider struct{ err error }

func (p unavailableProvider) Name() string { return "unavailable" }

func (p unavailableProvider) Complete(_ context.Context, _, _, _ string) (string, error) {
	return "", p.err
}
