package mind

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"mindincarnation/internal/config"
	"mindincarnation/internal/logging"
)

// CodexSchemaProvider implements Provider by wrapping a Hands-style codex
// invocation in structured-output mode:
//
//	codex exec - --output-schema <file> --json --color never
//
// The prompt is piped to stdin; the response is the last agent_message item
// in the NDJSON stream. This uses codex as a subprocess LLM API, not as an
// agent: the sandbox is read-only and there is a single completion per call.
type CodexSchemaProvider struct {
	binary  string
	model   string
	timeout time.Duration
}

// NewCodexSchemaProvider builds the provider from config.
func NewCodexSchemaProvider(cfg config.MindConfig) *CodexSchemaProvider {
	timeout := time.Duration(cfg.TimeoutS) * time.Second
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &CodexSchemaProvider{
		binary:  "codex",
		model:   cfg.Model,
		timeout: timeout,
	}
}

// Name implements Provider.
func (p *CodexSchemaProvider) Name() string { return "codex_schema" }

// codexMindEvent is the slice of the NDJSON stream the provider routes on.
type codexMindEvent struct {
	Type string `json:"type"`
	Item *struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"item,omitempty"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Complete implements Provider. The schema is written to a temp file and
// forwarded via the output-schema flag.
func (p *CodexSchemaProvider) Complete(ctx context.Context, systemPrompt, userPrompt, schemaText string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	schemaFile, err := os.CreateTemp("", "mi_schema_*.json")
	if err != nil {
		return "", fmt.Errorf("failed to create schema temp file: %w", err)
	}
	defer os.Remove(schemaFile.Name())
	if _, err := schemaFile.WriteString(schemaText); err != nil {
		schemaFile.Close()
		return "", fmt.Errorf("failed to write schema temp file: %w", err)
	}
	schemaFile.Close()

	args := []string{
		"exec", "-",
		"--output-schema", schemaFile.Name(),
		"--sandbox", "read-only",
		"--json",
		"--color", "never",
	}
	if p.model != "" {
		args = append(args, "--model", p.model)
	}

	prompt := userPrompt
	if strings.TrimSpace(systemPrompt) != "" {
		prompt = fmt.Sprintf("<system_instructions>\n%s\n</system_instructions>\n\n%s", systemPrompt, userPrompt)
	}

	cmd := exec.CommandContext(ctx, p.binary, args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return "", fmt.Errorf("failed to create stdin pipe: %w", err)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return "", fmt.Errorf("failed to start %s: %w", p.binary, err)
	}
	if _, err := io.WriteString(stdin, prompt); err != nil {
		return "", fmt.Errorf("failed to write prompt: %w", err)
	}
	if err := stdin.Close(); err != nil {
		return "", fmt.Errorf("failed to close stdin: %w", err)
	}

	if err := cmd.Wait(); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", fmt.Errorf("%s timed out after %v: %w", p.binary, p.timeout, ctx.Err())
		}
		return "", fmt.Errorf("%s failed: %w (stderr: %s)", p.binary, err, truncateBody(stderr.Bytes()))
	}

	return lastAgentMessage(stdout.Bytes())
}

// lastAgentMessage scans the NDJSON stream for the final agent_message text.
func lastAgentMessage(stream []byte) (string, error) {
	scanner := bufio.NewScanner(bytes.NewReader(stream))
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	var last string
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || line[0] != '{' {
			continue
		}
		var ev codexMindEvent
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			continue
		}
		if ev.Error != nil && ev.Error.Message != "" {
			return "", fmt.Errorf("codex stream error: %s", ev.Error.Message)
		}
		if ev.Type == "item.completed" && ev.Item != nil && ev.Item.Type == "agent_message" && ev.Item.Text != "" {
			last = ev.Item.Text
		}
	}
	if last == "" {
		logging.MindWarn("codex_schema stream had no agent_message")
		return "", fmt.Errorf("no agent_message in codex output")
	}
	return last, nil
}
