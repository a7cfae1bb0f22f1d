package hands

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"mindincarnation/internal/config"
	"mindincarnation/internal/logging"
)

// CLIProvider adapts an arbitrary Hands CLI. The argv template substitutes
// {project_root}, {thread_id} and optionally {prompt}; prompt_mode selects
// stdin piping or argv injection. Events are not parsed: last_agent_message
// is the last non-empty stdout line, and thread ids come from an optional
// regex over stdout.
type CLIProvider struct {
	name          string
	argv          []string
	resumeArgv    []string
	promptMode    string
	threadIDRegex *regexp.Regexp
}

// NewCLIProvider builds the generic adapter from config.
func NewCLIProvider(cfg config.HandsConfig) *CLIProvider {
	p := &CLIProvider{
		name:       cfg.Provider,
		argv:       cfg.Argv,
		resumeArgv: cfg.ResumeArgv,
		promptMode: cfg.PromptMode,
	}
	if p.promptMode == "" {
		p.promptMode = "stdin"
	}
	if cfg.ThreadIDRegex != "" {
		re, err := regexp.Compile(cfg.ThreadIDRegex)
		if err != nil {
			logging.HandsWarn("invalid thread_id_regex %q: %v", cfg.ThreadIDRegex, err)
		} else {
			p.threadIDRegex = re
		}
	}
	return p
}

// Name implements Provider.
func (p *CLIProvider) Name() string { return p.name }

// Exec implements Provider.
func (p *CLIProvider) Exec(ctx context.Context, req Request) (*RunResult, error) {
	if len(p.argv) == 0 {
		return nil, fmt.Errorf("hands provider %q has no argv configured", p.name)
	}
	return p.run(ctx, p.substitute(p.argv, "", req), req)
}

// Resume implements Provider when resume_argv is configured.
func (p *CLIProvider) Resume(ctx context.Context, threadID string, req Request) (*RunResult, error) {
	if len(p.resumeArgv) == 0 {
		return nil, ErrResumeUnsupported
	}
	return p.run(ctx, p.substitute(p.resumeArgv, threadID, req), req)
}

func (p *CLIProvider) substitute(template []string, threadID string, req Request) []string {
	out := make([]string, 0, len(template))
	for _, a := range template {
		a = strings.ReplaceAll(a, "{project_root}", req.ProjectRoot)
		a = strings.ReplaceAll(a, "{thread_id}", threadID)
		a = strings.ReplaceAll(a, "{prompt}", req.Prompt)
		out = append(out, a)
	}
	return out
}

func (p *CLIProvider) run(ctx context.Context, argv []string, req Request) (*RunResult, error) {
	transcript, err := NewTranscript(req.TranscriptPath, map[string]any{
		"provider": p.name,
		"argv":     argv,
	})
	if err != nil {
		return nil, err
	}

	start := time.Now()
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = req.ProjectRoot

	var stdin io.WriteCloser
	if p.promptMode == "stdin" {
		stdin, err = cmd.StdinPipe()
		if err != nil {
			transcript.Close(-1, time.Since(start))
			return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
		}
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		transcript.Close(-1, time.Since(start))
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		transcript.Close(-1, time.Since(start))
		return nil, fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		transcript.Close(-1, time.Since(start))
		return nil, fmt.Errorf("failed to start %s: %w", argv[0], err)
	}
	if stdin != nil {
		go func() {
			_, _ = io.WriteString(stdin, req.Prompt)
			_ = stdin.Close()
		}()
	}

	it := newInterrupter(req.Interrupt, transcript)
	res := &RunResult{ThreadID: "unknown", RawTranscriptPath: transcript.Path()}

	tickDone := make(chan struct{})
	go func() {
		ticker := time.NewTicker(200 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-tickDone:
				return
			case <-ticker.C:
				it.tick(cmd.Process)
			}
		}
	}()

	var g errgroup.Group
	g.Go(func() error {
		scanner := bufio.NewScanner(stdout)
		scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			transcript.Line(StreamStdout, line)
			if trimmed := strings.TrimSpace(line); trimmed != "" {
				res.LastAgentMessage = trimmed
			}
			if p.threadIDRegex != nil && res.ThreadID == "unknown" {
				if m := p.threadIDRegex.FindStringSubmatch(line); len(m) > 1 {
					res.ThreadID = m[1]
				}
			}
			// The generic adapter still watches for risky commands echoed
			// on stdout so interrupt escalation works without NDJSON events.
			it.observe(line)
		}
		return scanner.Err()
	})
	g.Go(func() error {
		scanner := bufio.NewScanner(stderr)
		scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
		for scanner.Scan() {
			transcript.Line(StreamStderr, scanner.Text())
		}
		return scanner.Err()
	})

	readErr := g.Wait()
	waitErr := cmd.Wait()
	close(tickDone)

	res.ExitCode = exitCode(waitErr)
	transcript.Close(res.ExitCode, time.Since(start))

	if readErr != nil {
		logging.HandsWarn("transcript read error: %v", readErr)
	}
	var exitErr *exec.ExitError
	if waitErr != nil && !errors.As(waitErr, &exitErr) {
		return res, fmt.Errorf("hands process failed: %w", waitErr)
	}
	return res, nil
}
