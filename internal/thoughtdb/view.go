package thoughtdb

import (
	"fmt"
	"sort"

	"mindincarnation/internal/types"
)

// View is an as-of-now materialization of one scope's streams. Scans see all
// records written before the scan begins.
type View struct {
	ClaimsByID      map[string]types.Claim
	NodesByID       map[string]types.Node
	Edges           []types.Edge
	RedirectsSameAs map[string]string // alias -> canonical
	SupersededIDs   map[string]bool
	RetractedIDs    map[string]bool
}

// Materialize builds a View from the DB's JSONL streams.
func (db *DB) Materialize() (*View, error) {
	v := &View{
		ClaimsByID:      make(map[string]types.Claim),
		NodesByID:       make(map[string]types.Node),
		RedirectsSameAs: make(map[string]string),
		SupersededIDs:   make(map[string]bool),
		RetractedIDs:    make(map[string]bool),
	}

	err := db.readClaims(func(c *types.Claim, r *types.ClaimRetract) {
		if r != nil {
			v.RetractedIDs[r.Retract] = true
			return
		}
		v.ClaimsByID[c.ClaimID] = *c
	})
	if err != nil {
		return nil, fmt.Errorf("claims scan failed: %w", err)
	}

	if err := db.readNodes(func(n types.Node) {
		v.NodesByID[n.NodeID] = n
	}); err != nil {
		return nil, fmt.Errorf("nodes scan failed: %w", err)
	}

	if err := db.readEdges(func(e types.Edge) {
		v.Edges = append(v.Edges, e)
		switch e.EdgeType {
		case types.EdgeSameAs:
			v.RedirectsSameAs[e.FromID] = e.ToID
		case types.EdgeSupersedes:
			// A supersedes edge points FROM the superseded claim.
			v.SupersededIDs[e.FromID] = true
		}
	}); err != nil {
		return nil, fmt.Errorf("edges scan failed: %w", err)
	}

	return v, nil
}

// ResolveID follows same_as redirects to the canonical id, with cycle
// protection. Unknown ids resolve to themselves.
func (v *View) ResolveID(id string) string {
	seen := map[string]bool{id: true}
	cur := id
	for {
		next, ok := v.RedirectsSameAs[cur]
		if !ok {
			return cur
		}
		if seen[next] {
			return cur // cycle; stop where we are
		}
		seen[next] = true
		cur = next
	}
}

// Status returns the lifecycle status of a claim: retracted beats
// superseded beats active.
func (v *View) Status(claimID string) string {
	if v.RetractedIDs[claimID] {
		return types.StatusRetracted
	}
	if v.SupersededIDs[claimID] {
		return types.StatusSuperseded
	}
	return types.StatusActive
}

// ActiveClaims returns canonical active claims, newest first. Aliased ids
// (sources of same_as redirects) are hidden from iteration.
func (v *View) ActiveClaims() []types.Claim {
	var out []types.Claim
	for id, c := range v.ClaimsByID {
		if _, aliased := v.RedirectsSameAs[id]; aliased {
			continue
		}
		if v.Status(id) != types.StatusActive {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].AssertedTS != out[j].AssertedTS {
			return out[i].AssertedTS > out[j].AssertedTS
		}
		return out[i].ClaimID > out[j].ClaimID
	})
	return out
}

// ActiveClaimsWithTag filters ActiveClaims by tag.
func (v *View) ActiveClaimsWithTag(tag string) []types.Claim {
	var out []types.Claim
	for _, c := range v.ActiveClaims() {
		if c.HasTag(tag) {
			out = append(out, c)
		}
	}
	return out
}

// SignatureIndex maps claim signatures of canonical active claims to their
// ids. Used by apply_mined_output for dedup.
func (v *View) SignatureIndex(projectID string) map[string]string {
	idx := make(map[string]string)
	for _, c := range v.ActiveClaims() {
		sig := types.ClaimSignature(c.ClaimType, c.Scope, projectID, c.Text)
		if _, ok := idx[sig]; !ok {
			idx[sig] = c.ClaimID
		}
	}
	return idx
}

// HasEdge reports whether an identical (edge_type, from, to) edge exists.
func (v *View) HasEdge(edgeType, fromID, toID string) bool {
	for _, e := range v.Edges {
		if e.EdgeType == edgeType && e.FromID == fromID && e.ToID == toID {
			return true
		}
	}
	return false
}

// VertexVisibility returns the visibility of a claim or node vertex.
// Unknown vertices (event ids cited as edge endpoints) rank as project.
func (v *View) VertexVisibility(id string) string {
	if c, ok := v.ClaimsByID[id]; ok {
		return c.Visibility
	}
	if n, ok := v.NodesByID[id]; ok {
		return n.Visibility
	}
	return types.VisibilityProject
}
