// Package hands supervises the external Hands CLI subprocess: it pipes the
// composed prompt to stdin, captures stdout/stderr line-by-line into a
// transcript JSONL, parses structured NDJSON events when the provider emits
// them, and enforces optional interrupt escalation.
package hands

import (
	"context"
	"fmt"

	"mindincarnation/internal/config"
)

// Request is one supervised Hands invocation.
type Request struct {
	Prompt         string
	ProjectRoot    string
	TranscriptPath string
	Interrupt      config.InterruptConfig
}

// RunResult is what the orchestrator gets back from a batch.
type RunResult struct {
	ThreadID          string
	ExitCode          int
	Events            []Event
	RawTranscriptPath string
	LastAgentMessage  string
}

// Provider spawns Hands. Resume is best-effort: providers that cannot resume
// return ErrResumeUnsupported and the caller falls back to Exec.
type Provider interface {
	Name() string
	Exec(ctx context.Context, req Request) (*RunResult, error)
	Resume(ctx context.Context, threadID string, req Request) (*RunResult, error)
}

// ErrResumeUnsupported is returned by providers without session resumption.
var ErrResumeUnsupported = fmt.Errorf("hands provider does not support resume")

// New constructs the configured provider. Unknown providers fall back to the
// generic CLI adapter so a misconfigured name still surfaces a useful error
// at spawn time rather than here.
func New(cfg config.HandsConfig) Provider {
	switch cfg.Provider {
	case "", "codex":
		return NewCodexProvider(cfg)
	default:
		return NewCLIProvider(cfg)
	}
}
