package store

import (
	"fmt"
	"path/filepath"
	"time"
)

// Paths resolves the on-disk layout under $MI_HOME:
//
//	config.json
//	mindspec/base.json
//	mindspec/learned.jsonl
//	mindspec/transcripts/mind/<ts>_<tag>.jsonl
//	projects/index.json
//	projects/<project_id>/{overlay.json, evidence.jsonl, learned.jsonl,
//	  segment_state.json, thoughtdb/, workflows/, candidates/, transcripts/}
//	thoughtdb/{claims,edges,nodes}.jsonl
//	indexes/memory.sqlite
type Paths struct {
	Home      string
	ProjectID string
}

// NewPaths builds the path resolver for one project under home.
func NewPaths(home, projectID string) Paths {
	return Paths{Home: home, ProjectID: projectID}
}

func (p Paths) ProjectDir() string {
	return filepath.Join(p.Home, "projects", p.ProjectID)
}

func (p Paths) ProjectIndex() string {
	return filepath.Join(p.Home, "projects", "index.json")
}

func (p Paths) Overlay() string {
	return filepath.Join(p.ProjectDir(), "overlay.json")
}

func (p Paths) SegmentState() string {
	return filepath.Join(p.ProjectDir(), "segment_state.json")
}

// Evidence returns the EvidenceLog path for a scope (project or global).
func (p Paths) Evidence(scope string) string {
	if scope == "global" {
		return filepath.Join(p.Home, "mindspec", "evidence.jsonl")
	}
	return filepath.Join(p.ProjectDir(), "evidence.jsonl")
}

// ThoughtDB returns the directory of claim/edge/node streams for a scope.
func (p Paths) ThoughtDB(scope string) string {
	if scope == "global" {
		return filepath.Join(p.Home, "thoughtdb")
	}
	return filepath.Join(p.ProjectDir(), "thoughtdb")
}

func (p Paths) Workflows(scope string) string {
	if scope == "global" {
		return filepath.Join(p.Home, "workflows")
	}
	return filepath.Join(p.ProjectDir(), "workflows")
}

func (p Paths) Candidates() string {
	return filepath.Join(p.ProjectDir(), "candidates")
}

func (p Paths) WorkflowCandidates() string {
	return filepath.Join(p.Candidates(), "workflows.json")
}

func (p Paths) PreferenceCandidates() string {
	return filepath.Join(p.Candidates(), "preferences.json")
}

func (p Paths) MemoryIndex() string {
	return filepath.Join(p.Home, "indexes", "memory.sqlite")
}

// HandsTranscript names a new Hands transcript for a batch.
func (p Paths) HandsTranscript(batchID string) string {
	ts := time.Now().UTC().Format("20060102T150405")
	return filepath.Join(p.ProjectDir(), "transcripts", "hands",
		fmt.Sprintf("%s_%s.jsonl", ts, batchID))
}

// MindTranscript names a new Mind transcript for a tagged call. Global-scope
// calls (no project yet) land under mindspec/transcripts.
func (p Paths) MindTranscript(tag string) string {
	ts := time.Now().UTC().Format("20060102T150405.000000")
	if p.ProjectID == "" {
		return filepath.Join(p.Home, "mindspec", "transcripts", "mind",
			fmt.Sprintf("%s_%s.jsonl", ts, tag))
	}
	return filepath.Join(p.ProjectDir(), "transcripts", "mind",
		fmt.Sprintf("%s_%s.jsonl", ts, tag))
}
