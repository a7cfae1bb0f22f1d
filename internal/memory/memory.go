// Package memory implements the cross-project memory index used for recall:
// snapshots and claims are indexed as text items and searched when MI needs
// prior context for a question. Index updates are best-effort and must never
// block MI progress.
package memory

import (
	"strings"

	"mindincarnation/internal/types"
)

// Item is one indexed text unit.
type Item struct {
	Ref       string `json:"ref"` // event_id or claim_id
	ProjectID string `json:"project_id"`
	Kind      string `json:"kind"` // snapshot, claim
	Tags      string `json:"tags"`
	Text      string `json:"text"`
	TS        string `json:"ts"`
}

// Backend indexes and searches items. Implementations: sqlite_fts, in_memory.
type Backend interface {
	Index(item Item) error
	Search(query string, limit int) ([]Item, error)
	Close() error
}

// Backend names.
const (
	BackendSQLiteFTS = "sqlite_fts"
	BackendInMemory  = "in_memory"
)

// New constructs the configured backend, falling back to in_memory when the
// sqlite index cannot be opened (memory is never allowed to block a run).
func New(backend, sqlitePath string) Backend {
	switch backend {
	case BackendInMemory:
		return NewInMemory()
	default:
		if b, err := OpenSQLite(sqlitePath); err == nil {
			return b
		}
		return NewInMemory()
	}
}

// InMemory is a process-local backend for tests and degraded mode.
type InMemory struct {
	items []Item
}

// NewInMemory builds an empty in-memory backend.
func NewInMemory() *InMemory {
	return &InMemory{}
}

// Index implements Backend.
func (m *InMemory) Index(item Item) error {
	m.items = append(m.items, item)
	return nil
}

// Search implements Backend with normalized-token overlap scoring.
func (m *InMemory) Search(query string, limit int) ([]Item, error) {
	if limit <= 0 {
		limit = 5
	}
	terms := strings.Fields(types.NormalizeText(query))
	type scored struct {
		item  Item
		score int
	}
	var hits []scored
	for _, it := range m.items {
		text := types.NormalizeText(it.Text + " " + it.Tags)
		score := 0
		for _, t := range terms {
			if strings.Contains(text, t) {
				score++
			}
		}
		if score > 0 {
			hits = append(hits, scored{it, score})
		}
	}
	// Highest overlap first, newest winning ties.
	for i := 0; i < len(hits); i++ {
		for j := i + 1; j < len(hits); j++ {
			if hits[j].score > hits[i].score ||
				(hits[j].score == hits[i].score && hits[j].item.TS > hits[i].item.TS) {
				hits[i], hits[j] = hits[j], hits[i]
			}
		}
	}
	var out []Item
	for _, h := range hits {
		out = append(out, h.item)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

// Close implements Backend.
func (m *InMemory) Close() error { return nil }
