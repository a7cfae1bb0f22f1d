// Package workflow manages the reusable workflow registry (project + global
// stores), run-start trigger matching, and the per-run progress cursor.
package workflow

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"mindincarnation/internal/logging"
	"mindincarnation/internal/store"
	"mindincarnation/internal/types"
)

// Registry reads and writes one scope's workflow files (workflows/wf_*.json).
type Registry struct {
	dir   string
	scope string
}

// NewRegistry binds a registry to a scope directory.
func NewRegistry(dir, scope string) *Registry {
	return &Registry{dir: dir, scope: scope}
}

// List returns all workflows in the scope, sorted by id for determinism.
func (r *Registry) List() ([]types.Workflow, error) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("workflow dir unreadable: %w", err)
	}
	var out []types.Workflow
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, "wf_") || !strings.HasSuffix(name, ".json") {
			continue
		}
		var wf types.Workflow
		if err := store.ReadJSON(filepath.Join(r.dir, name), &wf); err != nil {
			logging.Workflow("skipping unreadable workflow %s: %v", name, err)
			continue
		}
		if wf.WorkflowID == "" {
			continue
		}
		wf.Scope = r.scope
		out = append(out, wf)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].WorkflowID < out[j].WorkflowID })
	return out, nil
}

// Save writes a workflow to its wf_<id>.json file.
func (r *Registry) Save(wf types.Workflow) error {
	if wf.WorkflowID == "" {
		wf.WorkflowID = types.NewID(types.PrefixWorkflow)
	}
	wf.Scope = r.scope
	path := filepath.Join(r.dir, wf.WorkflowID+".json")
	if err := store.WriteJSONAtomic(path, wf); err != nil {
		return fmt.Errorf("workflow save failed: %w", err)
	}
	logging.Workflow("saved workflow %s (%s) scope=%s", wf.WorkflowID, wf.Name, r.scope)
	return nil
}

// Effective merges project over global: when the same workflow id exists in
// both, the project record wins entirely. Per-field overrides from the
// overlay's global_workflow_overrides apply to surviving global records.
func Effective(project, global []types.Workflow, overrides map[string]any) []types.Workflow {
	byID := make(map[string]types.Workflow)
	var order []string
	for _, wf := range global {
		applyOverride(&wf, overrides)
		byID[wf.WorkflowID] = wf
		order = append(order, wf.WorkflowID)
	}
	for _, wf := range project {
		if _, exists := byID[wf.WorkflowID]; !exists {
			order = append(order, wf.WorkflowID)
		}
		byID[wf.WorkflowID] = wf
	}
	out := make([]types.Workflow, 0, len(order))
	for _, id := range order {
		out = append(out, byID[id])
	}
	return out
}

// applyOverride applies a per-workflow override map: currently "enabled"
// and "trigger_pattern" may be overridden per project.
func applyOverride(wf *types.Workflow, overrides map[string]any) {
	if overrides == nil {
		return
	}
	raw, ok := overrides[wf.WorkflowID].(map[string]any)
	if !ok {
		return
	}
	if enabled, ok := raw["enabled"].(bool); ok {
		wf.Enabled = enabled
	}
	if pattern, ok := raw["trigger_pattern"].(string); ok && pattern != "" {
		wf.Trigger.Pattern = pattern
	}
}

// Signature is the dedup key for mined workflow suggestions: a digest of the
// normalized name and step titles.
func Signature(sug types.SuggestWorkflowOut) string {
	parts := []string{types.NormalizeText(sug.Name)}
	for _, s := range sug.Steps {
		parts = append(parts, types.NormalizeText(s.Title))
	}
	h := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(h[:])
}
