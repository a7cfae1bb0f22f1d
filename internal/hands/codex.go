package hands

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"mindincarnation/internal/config"
	"mindincarnation/internal/logging"
)

// CodexProvider runs Hands as `codex --cd <root> exec --json -`, reading the
// prompt from stdin and emitting NDJSON events on stdout.
type CodexProvider struct {
	binary string
}

// NewCodexProvider builds the codex provider.
func NewCodexProvider(cfg config.HandsConfig) *CodexProvider {
	binary := cfg.Binary
	if binary == "" {
		binary = "codex"
	}
	return &CodexProvider{binary: binary}
}

// Name implements Provider.
func (p *CodexProvider) Name() string { return "codex" }

// Exec implements Provider.
func (p *CodexProvider) Exec(ctx context.Context, req Request) (*RunResult, error) {
	args := []string{"--cd", req.ProjectRoot, "exec", "--json", "-"}
	return p.run(ctx, args, req)
}

// Resume implements Provider: identical to Exec except for the provider
// specific resume argv.
func (p *CodexProvider) Resume(ctx context.Context, threadID string, req Request) (*RunResult, error) {
	args := []string{"--cd", req.ProjectRoot, "exec", "resume", threadID, "--json", "-"}
	return p.run(ctx, args, req)
}

func (p *CodexProvider) run(ctx context.Context, args []string, req Request) (*RunResult, error) {
	transcript, err := NewTranscript(req.TranscriptPath, map[string]any{
		"provider": p.Name(),
		"argv":     append([]string{p.binary}, args...),
	})
	if err != nil {
		return nil, err
	}

	start := time.Now()
	logging.Hands("spawning %s %s", p.binary, strings.Join(args, " "))

	cmd := exec.CommandContext(ctx, p.binary, args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		transcript.Close(-1, time.Since(start))
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
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
		return nil, fmt.Errorf("failed to start %s: %w", p.binary, err)
	}

	// Write the prompt and close stdin; codex exits when stdin closes and
	// its work completes.
	go func() {
		_, _ = io.WriteString(stdin, req.Prompt)
		_ = stdin.Close()
	}()

	it := newInterrupter(req.Interrupt, transcript)
	res := &RunResult{ThreadID: "unknown", RawTranscriptPath: transcript.Path()}

	// Interrupt scheduler: a periodic tick multiplexed with the read loop
	// drives signal escalation until the process exits.
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
			ev := parseEvent(line)
			if ev == nil {
				continue
			}
			res.Events = append(res.Events, *ev)
			switch ev.Type {
			case EventThreadStarted:
				if ev.ThreadID != "" {
					res.ThreadID = ev.ThreadID
				}
			case EventItemStarted:
				if ev.Item != nil && ev.Item.Type == ItemCommandExecution {
					it.observe(ev.Item.Command)
				}
			case EventItemCompleted:
				if ev.Item != nil && ev.Item.Type == ItemAgentMessage && ev.Item.Text != "" {
					res.LastAgentMessage = ev.Item.Text
				}
			}
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
		// Not a process exit: wait-level failure, surface to the caller.
		return res, fmt.Errorf("hands process failed: %w", waitErr)
	}
	logging.Hands("hands exited code=%d thread=%s events=%d", res.ExitCode, res.ThreadID, len(res.Events))
	return res, nil
}

// exitCode maps cmd.Wait errors. Nonzero exits and signal deaths are recorded
// exits (128+sig, shell convention), so escalated interrupts and crashes keep
// their partial transcript; only non-exit failures return -1.
func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return -1
	}
	if code := exitErr.ExitCode(); code >= 0 {
		return code
	}
	if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return 128 + int(ws.Signal())
	}
	return -1
}
