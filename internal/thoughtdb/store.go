// Package thoughtdb implements the append-only Thought DB: Claims, Edges and
// Nodes persisted as one JSONL stream each per scope. Mutations are modeled
// as additional records (claim_retract lines, supersedes edges); readers
// compute views on demand.
package thoughtdb

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"

	"mindincarnation/internal/logging"
	"mindincarnation/internal/store"
	"mindincarnation/internal/types"
)

// DB is one scope's Thought DB (project or global).
type DB struct {
	dir       string
	scope     string
	projectID string

	mu sync.Mutex
}

// Open binds a DB to the stream directory for a scope. projectID feeds claim
// signatures; for the global scope it is empty.
func Open(dir, scope, projectID string) *DB {
	if scope == types.ScopeGlobal {
		projectID = ""
	}
	return &DB{dir: dir, scope: scope, projectID: projectID}
}

// Scope returns the DB scope.
func (db *DB) Scope() string { return db.scope }

// ProjectID returns the signature project id ("" for global).
func (db *DB) ProjectID() string { return db.projectID }

func (db *DB) claimsPath() string { return filepath.Join(db.dir, "claims.jsonl") }
func (db *DB) edgesPath() string  { return filepath.Join(db.dir, "edges.jsonl") }
func (db *DB) nodesPath() string  { return filepath.Join(db.dir, "nodes.jsonl") }

// AppendClaim assigns a claim id and timestamp and appends the claim.
func (db *DB) AppendClaim(c types.Claim) (types.Claim, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	if c.ClaimID == "" {
		c.ClaimID = types.NewID(types.PrefixClaim)
	}
	if c.AssertedTS == "" {
		c.AssertedTS = types.NowTS()
	}
	if c.Scope == "" {
		c.Scope = db.scope
	}
	if c.Visibility == "" {
		c.Visibility = db.scope
	}
	if len(c.SourceRefs) == 0 {
		return types.Claim{}, fmt.Errorf("claim requires at least one source ref")
	}
	if err := store.AppendJSONL(db.claimsPath(), c); err != nil {
		return types.Claim{}, fmt.Errorf("claim append failed: %w", err)
	}
	logging.ThoughtDBDebug("appended claim %s (%s, scope=%s)", c.ClaimID, c.ClaimType, c.Scope)
	return c, nil
}

// AppendClaimRetract appends a companion record retracting claimID.
func (db *DB) AppendClaimRetract(claimID, reason string, refs []types.SourceRef) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	r := types.ClaimRetract{
		Retract:    claimID,
		TS:         types.NowTS(),
		Reason:     reason,
		SourceRefs: refs,
	}
	if err := store.AppendJSONL(db.claimsPath(), r); err != nil {
		return fmt.Errorf("claim retract append failed: %w", err)
	}
	logging.ThoughtDB("retracted claim %s: %s", claimID, reason)
	return nil
}

// AppendEdge assigns an edge id and timestamp and appends the edge.
func (db *DB) AppendEdge(e types.Edge) (types.Edge, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	if e.EdgeID == "" {
		e.EdgeID = types.NewID(types.PrefixEdge)
	}
	if e.AssertedTS == "" {
		e.AssertedTS = types.NowTS()
	}
	if e.Scope == "" {
		e.Scope = db.scope
	}
	if err := store.AppendJSONL(db.edgesPath(), e); err != nil {
		return types.Edge{}, fmt.Errorf("edge append failed: %w", err)
	}
	logging.ThoughtDBDebug("appended edge %s %s %s->%s", e.EdgeID, e.EdgeType, e.FromID, e.ToID)
	return e, nil
}

// AppendNode assigns a node id and timestamp and appends the node.
func (db *DB) AppendNode(n types.Node) (types.Node, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	if n.NodeID == "" {
		n.NodeID = types.NewID(types.PrefixNode)
	}
	if n.AssertedTS == "" {
		n.AssertedTS = types.NowTS()
	}
	if n.Scope == "" {
		n.Scope = db.scope
	}
	if n.Visibility == "" {
		n.Visibility = db.scope
	}
	if err := store.AppendJSONL(db.nodesPath(), n); err != nil {
		return types.Node{}, fmt.Errorf("node append failed: %w", err)
	}
	logging.ThoughtDBDebug("appended node %s (%s)", n.NodeID, n.NodeType)
	return n, nil
}

// readClaims streams raw claim lines: either claims or retract records.
func (db *DB) readClaims(fn func(c *types.Claim, r *types.ClaimRetract)) error {
	return store.ReadJSONL(db.claimsPath(), func(raw []byte) error {
		var probe struct {
			ClaimID string `json:"claim_id"`
			Retract string `json:"retract"`
		}
		if err := json.Unmarshal(raw, &probe); err != nil {
			return nil
		}
		switch {
		case probe.Retract != "":
			var r types.ClaimRetract
			if json.Unmarshal(raw, &r) == nil {
				fn(nil, &r)
			}
		case probe.ClaimID != "":
			var c types.Claim
			if json.Unmarshal(raw, &c) == nil {
				fn(&c, nil)
			}
		}
		return nil
	})
}

func (db *DB) readEdges(fn func(e types.Edge)) error {
	return store.ReadJSONL(db.edgesPath(), func(raw []byte) error {
		var e types.Edge
		if json.Unmarshal(raw, &e) == nil && e.EdgeID != "" {
			fn(e)
		}
		return nil
	})
}

func (db *DB) readNodes(fn func(n types.Node)) error {
	return store.ReadJSONL(db.nodesPath(), func(raw []byte) error {
		var n types.Node
		if json.Unmarshal(raw, &n) == nil && n.NodeID != "" {
			fn(n)
		}
		return nil
	})
}
