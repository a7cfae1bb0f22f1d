package mind

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"mindincarnation/internal/logging"
	"mindincarnation/internal/store"
	"mindincarnation/internal/types"
)

// Call states returned by the mediator.
const (
	StateOK      = "ok"
	StateError   = "error"
	StateSkipped = "skipped"
)

// SchemaLoader resolves a schema filename to its JSON text.
type SchemaLoader func(name string) (string, error)

// TranscriptNamer names a new mind transcript for a tagged call.
type TranscriptNamer func(tag string) string

// Mediator normalizes Mind calls across providers: schema-in-prompt,
// extract + validate, repair turns, per-call JSONL transcripts, and a
// consecutive-failure circuit breaker shared across all schemas in a run.
type Mediator struct {
	provider   Provider
	loadSchema SchemaLoader
	namer      TranscriptNamer
	evidence   *store.EvidenceLog
	maxRetries int
	breaker    *gobreaker.CircuitBreaker
}

// NewMediator builds one mediator per logical Mind usage in a run. The
// breaker opens after 2 consecutive failures; subsequent calls return
// skipped without invoking the provider.
func NewMediator(provider Provider, loadSchema SchemaLoader, namer TranscriptNamer, evidence *store.EvidenceLog, maxRetries int) *Mediator {
	if maxRetries < 0 {
		maxRetries = 2
	}
	return &Mediator{
		provider:   provider,
		loadSchema: loadSchema,
		namer:      namer,
		evidence:   evidence,
		maxRetries: maxRetries,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "mind",
			MaxRequests: 1,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 2
			},
		}),
	}
}

// Call invokes the Mind provider for one schema and returns the validated
// object, the transcript reference, and the call state.
func (m *Mediator) Call(ctx context.Context, schemaFilename, prompt, tag, batchID, threadID string) (map[string]any, string, string) {
	schemaText, err := m.loadSchema(schemaFilename)
	if err != nil {
		m.recordError(schemaFilename, tag, batchID, threadID, "", err)
		return nil, "", StateError
	}

	transcriptRef := ""
	result, execErr := m.breaker.Execute(func() (any, error) {
		obj, ref, err := m.attempt(ctx, schemaFilename, schemaText, prompt, tag)
		transcriptRef = ref
		if err != nil {
			return nil, err
		}
		return obj, nil
	})

	switch {
	case execErr == nil:
		return result.(map[string]any), transcriptRef, StateOK
	case errors.Is(execErr, gobreaker.ErrOpenState), errors.Is(execErr, gobreaker.ErrTooManyRequests):
		m.recordSkipped(schemaFilename, tag, batchID, threadID)
		return nil, "", StateSkipped
	default:
		m.recordError(schemaFilename, tag, batchID, threadID, transcriptRef, execErr)
		return nil, transcriptRef, StateError
	}
}

// attempt runs the provider with repair turns up to maxRetries, recording a
// JSONL transcript: header plus one request/response pair per attempt.
func (m *Mediator) attempt(ctx context.Context, schemaFilename, schemaText, prompt, tag string) (map[string]any, string, error) {
	transcriptPath := m.namer(tag)
	_ = os.MkdirAll(filepath.Dir(transcriptPath), 0755)
	_ = store.AppendJSONL(transcriptPath, map[string]any{
		"ts":       types.NowTS(),
		"kind":     "header",
		"schema":   schemaFilename,
		"tag":      tag,
		"provider": m.provider.Name(),
	})

	userPrompt := fmt.Sprintf("%s\n\nRespond with a single JSON object matching this schema:\n%s", prompt, schemaText)
	var lastErr error
	for i := 0; i <= m.maxRetries; i++ {
		start := time.Now()
		text, err := m.provider.Complete(ctx, systemPreamble, userPrompt, schemaText)
		duration := time.Since(start)

		rec := map[string]any{
			"ts":          types.NowTS(),
			"kind":        "attempt",
			"attempt":     i,
			"duration_ms": duration.Milliseconds(),
			"request_len": len(userPrompt),
		}
		if err != nil {
			rec["error"] = err.Error()
			_ = store.AppendJSONL(transcriptPath, rec)
			lastErr = err
			logging.MindWarn("%s attempt %d failed: %v", schemaFilename, i, err)
			continue
		}
		rec["response"] = text

		obj, parseErr := ExtractJSONObject(text)
		if parseErr != nil {
			rec["error"] = parseErr.Error()
			_ = store.AppendJSONL(transcriptPath, rec)
			lastErr = parseErr
			userPrompt = repairPrompt(schemaText, text, []string{parseErr.Error()})
			continue
		}

		violations, schemaErr := ValidateSchema(schemaText, any(obj))
		if schemaErr != nil {
			_ = store.AppendJSONL(transcriptPath, rec)
			return nil, transcriptPath, schemaErr
		}
		if len(violations) > 0 {
			rec["validation_errors"] = violations
			_ = store.AppendJSONL(transcriptPath, rec)
			lastErr = fmt.Errorf("schema validation failed: %s", strings.Join(violations, "; "))
			userPrompt = repairPrompt(schemaText, text, violations)
			continue
		}

		_ = store.AppendJSONL(transcriptPath, rec)
		logging.MindDebug("%s ok on attempt %d (%dms)", schemaFilename, i, duration.Milliseconds())
		return obj, transcriptPath, nil
	}
	return nil, transcriptPath, lastErr
}

// repairPrompt builds the repair turn: previous output plus the validator's
// error list.
func repairPrompt(schemaText, previousOutput string, violations []string) string {
	return fmt.Sprintf(
		"Your previous output did not satisfy the schema.\n\nPrevious output:\n%s\n\nErrors:\n- %s\n\nRespond again with a single JSON object matching this schema:\n%s",
		previousOutput, strings.Join(violations, "\n- "), schemaText)
}

func (m *Mediator) recordError(schema, tag, batchID, threadID, transcriptRef string, err error) {
	cause := err.Error()
	if len(cause) > 500 {
		cause = cause[:500]
	}
	if m.evidence != nil {
		_, _ = m.evidence.MustAppend(types.KindMindError, batchID, threadID, map[string]any{
			"schema":          schema,
			"tag":             tag,
			"error":           cause,
			"transcript_path": transcriptRef,
		})
	}
	logging.Mind("mind_error schema=%s tag=%s: %s", schema, tag, cause)
}

func (m *Mediator) recordSkipped(schema, tag, batchID, threadID string) {
	if m.evidence != nil {
		_, _ = m.evidence.MustAppend(types.KindMindSkipped, batchID, threadID, map[string]any{
			"schema": schema,
			"tag":    tag,
		})
	}
	logging.Mind("mind_skipped schema=%s tag=%s (breaker open)", schema, tag)
}
