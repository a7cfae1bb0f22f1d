// Package mind mediates structured-output calls to the Mind provider: it
// embeds the JSON schema in the prompt, extracts and validates the returned
// object, issues repair turns on validation failure, records a JSONL
// transcript per call, and trips a consecutive-failure circuit breaker.
package mind

import (
	"context"
	"fmt"

	"mindincarnation/internal/config"
)

// Provider is one Mind backend: codex_schema, openai_compatible, anthropic.
type Provider interface {
	Name() string
	// Complete returns the raw response text for a system+user prompt pair.
	// SchemaText is passed so providers with native structured-output
	// support (codex_schema) can forward it; HTTP providers ignore it.
	Complete(ctx context.Context, systemPrompt, userPrompt, schemaText string) (string, error)
}

// NewProvider constructs the configured backend.
func NewProvider(cfg config.MindConfig) (Provider, error) {
	switch cfg.Provider {
	case "", "codex_schema":
		return NewCodexSchemaProvider(cfg), nil
	case "openai_compatible":
		return NewOpenAIProvider(cfg), nil
	case "anthropic":
		return NewAnthropicProvider(cfg), nil
	default:
		return nil, fmt.Errorf("unknown mind provider: %s", cfg.Provider)
	}
}

// systemPreamble is the fixed instruction prepended to every Mind call.
const systemPreamble = "You are MI's structured-output Mind. " +
	"Your output MUST be a single JSON object matching the provided JSON schema. " +
	"No markdown, no commentary, no code fences."
