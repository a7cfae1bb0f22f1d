// Package types provides shared type definitions used across MI packages.
// This package exists to break import cycles between store, thoughtdb, and
// orchestrator. Types in this package should be foundational data structures
// with no complex dependencies.
package types

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

// ID prefixes for the persistent entities.
const (
	PrefixEvent      = "ev"
	PrefixClaim      = "cl"
	PrefixEdge       = "ed"
	PrefixNode       = "nd"
	PrefixWorkflow   = "wf"
	PrefixSuggestion = "ls"
	PrefixSegment    = "seg"
)

// NewID returns "<prefix>_<ns>_<rand8hex>". The nanosecond component keeps
// ids monotone under a normal clock; the random suffix disambiguates ids
// minted in the same nanosecond.
func NewID(prefix string) string {
	return NewIDAt(prefix, time.Now())
}

// NewIDAt mints an id for an explicit timestamp. Used by stores that assign
// the timestamp and the id under the same critical section.
func NewIDAt(prefix string, ts time.Time) string {
	u := uuid.New()
	return fmt.Sprintf("%s_%d_%s", prefix, ts.UnixNano(), hex.EncodeToString(u[:4]))
}

// BatchID formats the id for batch n. Intra-batch phases append dotted
// suffixes via SubBatchID.
func BatchID(n int) string {
	return fmt.Sprintf("b%d", n)
}

// SubBatchID appends a phase suffix to a batch id, e.g. "b3.from_decide".
func SubBatchID(batchID, phase string) string {
	return batchID + "." + phase
}

// =============================================================================
// EVIDENCE LOG
// =============================================================================

// Record is one EvidenceLog line. Records are dynamic JSON: every kind has a
// stable payload shape, but unknown fields from newer writers must survive a
// read/append cycle unmodified, so the representation stays a map.
type Record map[string]any

// Required fields on every EvidenceLog record.
const (
	FieldEventID = "event_id"
	FieldTS      = "ts"
	FieldKind    = "kind"
	FieldBatchID = "batch_id"
	FieldThread  = "thread_id"
)

// Recognized EvidenceLog kinds.
const (
	KindHandsInput         = "hands_input"
	KindEvidence           = "evidence"
	KindWorkflowProgress   = "workflow_progress"
	KindRiskEvent          = "risk_event"
	KindCheckPlan          = "check_plan"
	KindAutoAnswer         = "auto_answer"
	KindDecideNext         = "decide_next"
	KindUserInput          = "user_input"
	KindLoopGuard          = "loop_guard"
	KindLoopBreak          = "loop_break"
	KindCrossProjectRecall = "cross_project_recall"
	KindSnapshot           = "snapshot"
	KindLearnSuggested     = "learn_suggested"
	KindLearnApplied       = "learn_applied"
	KindLearnUpdate        = "learn_update"
	KindMindError          = "mind_error"
	KindMindSkipped        = "mind_skipped"
	KindStateWarning       = "state_warning"
	KindHandsResumeFailed  = "hands_resume_failed"
	KindDefaultsSet        = "mi_defaults_set"
)

// Kind returns the record's kind, or "" when absent.
func (r Record) Kind() string { return r.str(FieldKind) }

// EventID returns the record's event id, or "" when absent.
func (r Record) EventID() string { return r.str(FieldEventID) }

// BatchID returns the record's batch id, or "" when absent.
func (r Record) BatchID() string { return r.str(FieldBatchID) }

func (r Record) str(key string) string {
	if v, ok := r[key].(string); ok {
		return v
	}
	return ""
}

// StringList reads a []string field, tolerating the []any shape that
// encoding/json produces on round-trip.
func (r Record) StringList(key string) []string {
	switch v := r[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// =============================================================================
// THOUGHT DB
// =============================================================================

// Scope of a claim, edge, or node.
const (
	ScopeProject = "project"
	ScopeGlobal  = "global"
)

// Visibility levels, ordered private < project < global.
const (
	VisibilityPrivate = "private"
	VisibilityProject = "project"
	VisibilityGlobal  = "global"
)

var visibilityRank = map[string]int{
	VisibilityPrivate: 0,
	VisibilityProject: 1,
	VisibilityGlobal:  2,
}

// MinVisibility returns the more restrictive of two visibility levels.
// Unknown levels rank as private.
func MinVisibility(a, b string) string {
	if visibilityRank[a] <= visibilityRank[b] {
		if _, ok := visibilityRank[a]; ok {
			return a
		}
		return VisibilityPrivate
	}
	if _, ok := visibilityRank[b]; ok {
		return b
	}
	return VisibilityPrivate
}

// Claim types.
const (
	ClaimFact       = "fact"
	ClaimPreference = "preference"
	ClaimGoal       = "goal"
	ClaimAssumption = "assumption"
)

// Edge types.
const (
	EdgeDependsOn   = "depends_on"
	EdgeSupports    = "supports"
	EdgeContradicts = "contradicts"
	EdgeDerivedFrom = "derived_from"
	EdgeMentions    = "mentions"
	EdgeSupersedes  = "supersedes"
	EdgeSameAs      = "same_as"
)

// Node types.
const (
	NodeDecision = "decision"
	NodeAction   = "action"
	NodeSummary  = "summary"
)

// SourceRef cites an EvidenceLog event.
type SourceRef struct {
	EventID string `json:"event_id"`
}

// Claim is one atomic knowledge item in the Thought DB.
type Claim struct {
	ClaimID    string      `json:"claim_id"`
	ClaimType  string      `json:"claim_type"`
	Text       string      `json:"text"`
	Scope      string      `json:"scope"`
	Visibility string      `json:"visibility"`
	AssertedTS string      `json:"asserted_ts"`
	ValidFrom  string      `json:"valid_from,omitempty"`
	ValidTo    string      `json:"valid_to,omitempty"`
	Tags       []string    `json:"tags,omitempty"`
	SourceRefs []SourceRef `json:"source_refs"`
	Confidence float64     `json:"confidence"`
}

// HasTag reports whether the claim carries the given tag.
func (c *Claim) HasTag(tag string) bool {
	for _, t := range c.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// ClaimRetract is a companion record that retracts a claim by id.
type ClaimRetract struct {
	Retract    string      `json:"retract"`
	TS         string      `json:"ts"`
	Reason     string      `json:"reason,omitempty"`
	SourceRefs []SourceRef `json:"source_refs,omitempty"`
}

// Edge links two Thought DB vertices.
type Edge struct {
	EdgeID     string      `json:"edge_id"`
	EdgeType   string      `json:"edge_type"`
	FromID     string      `json:"from_id"`
	ToID       string      `json:"to_id"`
	Scope      string      `json:"scope"`
	Visibility string      `json:"visibility"`
	AssertedTS string      `json:"asserted_ts"`
	SourceRefs []SourceRef `json:"source_refs,omitempty"`
}

// Node is a materialized decision/action/summary vertex.
type Node struct {
	NodeID     string      `json:"node_id"`
	NodeType   string      `json:"node_type"`
	Title      string      `json:"title"`
	Text       string      `json:"text"`
	Scope      string      `json:"scope"`
	Visibility string      `json:"visibility"`
	AssertedTS string      `json:"asserted_ts"`
	Tags       []string    `json:"tags,omitempty"`
	SourceRefs []SourceRef `json:"source_refs,omitempty"`
}

// Claim status values derived by ThoughtDbView.
const (
	StatusActive     = "active"
	StatusSuperseded = "superseded"
	StatusRetracted  = "retracted"
)

// =============================================================================
// SIGNATURES
// =============================================================================

// NormalizeText collapses whitespace and lowercases. Claim signatures and
// loop signatures MUST normalize identically so property tests reproduce
// across implementations.
func NormalizeText(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// ClaimSignature is the dedup key for a claim:
// sha256(claim_type | scope | project_id | normalized_text).
func ClaimSignature(claimType, scope, projectID, text string) string {
	h := sha256.Sum256([]byte(claimType + "|" + scope + "|" + projectID + "|" + NormalizeText(text)))
	return hex.EncodeToString(h[:])
}

// LoopSignature hashes the normalized last Hands message and next input.
// Both sides are truncated to 2000 chars after normalization.
func LoopSignature(lastHandsMessage, nextInput string) string {
	a := truncate(NormalizeText(lastHandsMessage), 2000)
	b := truncate(NormalizeText(nextInput), 2000)
	h := sha256.Sum256([]byte(a + "---" + b))
	return hex.EncodeToString(h[:])
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// SHA256Hex returns the hex digest of s. Used for prompt_sha256 on
// hands_input records.
func SHA256Hex(s string) string {
	h := sha256.Sum256([]byte(s))
	return hex.EncodeToString(h[:])
}

// =============================================================================
// TIMESTAMPS
// =============================================================================

// TSFormat is the RFC3339 UTC format used on every persisted record.
const TSFormat = "2006-01-02T15:04:05.000000Z"

// FormatTS renders a timestamp in the persisted wire format.
func FormatTS(t time.Time) string {
	return t.UTC().Format(TSFormat)
}

// NowTS returns the current time in the persisted wire format.
func NowTS() string {
	return FormatTS(time.Now())
}
