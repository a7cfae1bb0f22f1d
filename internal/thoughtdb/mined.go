package thoughtdb

import (
	"fmt"
	"sort"

	"mindincarnation/internal/logging"
	"mindincarnation/internal/types"
)

// Stable skip reasons returned by ApplyMinedOutput.
const (
	SkipLowConfidence      = "low_confidence"
	SkipMissingLocalID     = "missing_local_id"
	SkipClaimCap           = "claim_cap"
	SkipNoAllowedSource    = "no_allowed_source"
	SkipUnresolvedEndpoint = "unresolved_endpoint"
	SkipScopeMismatch      = "scope_mismatch"
	SkipDuplicateEdge      = "duplicate_edge"
	SkipEdgeCap            = "edge_cap"
)

// Skipped records one rejected claim or edge with its reason.
type Skipped struct {
	LocalID string `json:"local_id,omitempty"`
	Kind    string `json:"kind"` // claim or edge
	Reason  string `json:"reason"`
}

// LinkedExisting maps a batch-local id to the canonical claim it deduped to.
type LinkedExisting struct {
	LocalID string `json:"local_id"`
	ClaimID string `json:"claim_id"`
}

// ApplyResult is the outcome of one ApplyMinedOutput call.
type ApplyResult struct {
	Written        []types.Claim    `json:"written"`
	LinkedExisting []LinkedExisting `json:"linked_existing"`
	WrittenEdges   []types.Edge     `json:"written_edges"`
	Skipped        []Skipped        `json:"skipped"`
}

// WrittenClaimIDs returns the ids of newly written claims.
func (r *ApplyResult) WrittenClaimIDs() []string {
	out := make([]string, 0, len(r.Written))
	for _, c := range r.Written {
		out = append(out, c.ClaimID)
	}
	return out
}

// ApplyOptions bound one mined batch.
type ApplyOptions struct {
	MinConfidence float64
	MaxClaims     int
	// AllowedEventIDs is the EvidenceLog citation whitelist at mining time.
	AllowedEventIDs map[string]bool
}

// ApplyMinedOutput is the sole entry point for Mind-produced batches of
// claims+edges. It is idempotent by signature: re-mining the same claim links
// to the existing canonical id via a same_as redirect in the result mapping,
// never duplicates.
func (db *DB) ApplyMinedOutput(out types.MineClaimsOut, opts ApplyOptions) (*ApplyResult, error) {
	res := &ApplyResult{}
	if opts.MaxClaims <= 0 {
		opts.MaxClaims = 8
	}

	view, err := db.Materialize()
	if err != nil {
		return nil, fmt.Errorf("view materialization failed: %w", err)
	}
	sigIndex := view.SignatureIndex(db.projectID)

	// 1. Filter, sort desc by confidence, cap.
	var claims []types.MinedClaim
	for _, mc := range out.Claims {
		if mc.LocalID == "" {
			res.Skipped = append(res.Skipped, Skipped{Kind: "claim", Reason: SkipMissingLocalID})
			continue
		}
		if mc.Confidence < opts.MinConfidence {
			res.Skipped = append(res.Skipped, Skipped{LocalID: mc.LocalID, Kind: "claim", Reason: SkipLowConfidence})
			continue
		}
		claims = append(claims, mc)
	}
	sort.SliceStable(claims, func(i, j int) bool {
		return claims[i].Confidence > claims[j].Confidence
	})
	if len(claims) > opts.MaxClaims {
		for _, mc := range claims[opts.MaxClaims:] {
			res.Skipped = append(res.Skipped, Skipped{LocalID: mc.LocalID, Kind: "claim", Reason: SkipClaimCap})
		}
		claims = claims[:opts.MaxClaims]
	}

	// 2. Dedup by signature or append.
	localToID := make(map[string]string)
	for _, mc := range claims {
		claimType := mc.ClaimType
		if claimType == "" {
			claimType = types.ClaimFact
		}
		sig := types.ClaimSignature(claimType, db.scope, db.projectID, mc.Text)
		if existing, ok := sigIndex[sig]; ok {
			localToID[mc.LocalID] = existing
			res.LinkedExisting = append(res.LinkedExisting, LinkedExisting{LocalID: mc.LocalID, ClaimID: existing})
			continue
		}

		refs := allowedRefs(mc.SourceEventIDs, opts.AllowedEventIDs)
		if len(refs) == 0 {
			res.Skipped = append(res.Skipped, Skipped{LocalID: mc.LocalID, Kind: "claim", Reason: SkipNoAllowedSource})
			continue
		}

		written, err := db.AppendClaim(types.Claim{
			ClaimType:  claimType,
			Text:       mc.Text,
			Scope:      db.scope,
			Visibility: db.scope,
			Tags:       mc.Tags,
			SourceRefs: refs,
			Confidence: mc.Confidence,
		})
		if err != nil {
			return nil, err
		}
		localToID[mc.LocalID] = written.ClaimID
		sigIndex[sig] = written.ClaimID
		res.Written = append(res.Written, written)
	}

	// 3. Edges.
	edgeCap := 6 * opts.MaxClaims
	for _, me := range out.Edges {
		if len(res.WrittenEdges) >= edgeCap {
			res.Skipped = append(res.Skipped, Skipped{Kind: "edge", Reason: SkipEdgeCap})
			continue
		}
		fromID, okFrom := resolveEndpoint(me.FromID, localToID, view)
		toID, okTo := resolveEndpoint(me.ToID, localToID, view)
		if !okFrom || !okTo {
			res.Skipped = append(res.Skipped, Skipped{Kind: "edge", Reason: SkipUnresolvedEndpoint})
			continue
		}
		fromClaim, fromKnown := view.ClaimsByID[fromID]
		toClaim, toKnown := view.ClaimsByID[toID]
		fromScope, toScope := db.scope, db.scope
		if fromKnown {
			fromScope = fromClaim.Scope
		}
		if toKnown {
			toScope = toClaim.Scope
		}
		if fromScope != toScope {
			res.Skipped = append(res.Skipped, Skipped{Kind: "edge", Reason: SkipScopeMismatch})
			continue
		}
		refs := allowedRefs(me.SourceEventIDs, opts.AllowedEventIDs)
		if len(refs) == 0 {
			res.Skipped = append(res.Skipped, Skipped{Kind: "edge", Reason: SkipNoAllowedSource})
			continue
		}
		if view.HasEdge(me.EdgeType, fromID, toID) || hasPendingEdge(res.WrittenEdges, me.EdgeType, fromID, toID) {
			res.Skipped = append(res.Skipped, Skipped{Kind: "edge", Reason: SkipDuplicateEdge})
			continue
		}

		// The edge takes the more restrictive visibility of its endpoints.
		vis := types.MinVisibility(endpointVisibility(fromID, localToID, view, db.scope),
			endpointVisibility(toID, localToID, view, db.scope))

		written, err := db.AppendEdge(types.Edge{
			EdgeType:   me.EdgeType,
			FromID:     fromID,
			ToID:       toID,
			Scope:      db.scope,
			Visibility: vis,
			SourceRefs: refs,
		})
		if err != nil {
			return nil, err
		}
		res.WrittenEdges = append(res.WrittenEdges, written)
	}

	logging.ThoughtDB("apply_mined_output: written=%d linked=%d edges=%d skipped=%d",
		len(res.Written), len(res.LinkedExisting), len(res.WrittenEdges), len(res.Skipped))
	return res, nil
}

func allowedRefs(eventIDs []string, allowed map[string]bool) []types.SourceRef {
	var refs []types.SourceRef
	for _, id := range eventIDs {
		if allowed[id] {
			refs = append(refs, types.SourceRef{EventID: id})
		}
		if len(refs) == 5 {
			break
		}
	}
	return refs
}

// resolveEndpoint maps a local_id or existing claim id to a canonical id.
func resolveEndpoint(id string, localToID map[string]string, view *View) (string, bool) {
	if mapped, ok := localToID[id]; ok {
		return mapped, true
	}
	resolved := view.ResolveID(id)
	if _, ok := view.ClaimsByID[resolved]; ok {
		return resolved, true
	}
	return "", false
}

func endpointVisibility(id string, localToID map[string]string, view *View, scope string) string {
	if c, ok := view.ClaimsByID[id]; ok {
		return c.Visibility
	}
	// Claims written this batch default to the DB scope's visibility.
	return scope
}

func hasPendingEdge(edges []types.Edge, edgeType, fromID, toID string) bool {
	for _, e := range edges {
		if e.EdgeType == edgeType && e.FromID == fromID && e.ToID == toID {
			return true
		}
	}
	return false
}
