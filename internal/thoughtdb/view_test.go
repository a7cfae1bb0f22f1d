package thoughtdb

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"mindincarnation/internal/types"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	return Open(t.TempDir(), types.ScopeProject, "p_test")
}

func mustClaim(t *testing.T, db *DB, text string) types.Claim {
	t.Helper()
	c, err := db.AppendClaim(types.Claim{
		ClaimType:  types.ClaimFact,
		Text:       text,
		SourceRefs: []types.SourceRef{{EventID: "ev_1_aaaaaaaa"}},
		Confidence: 0.9,
	})
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func TestSupersedesStatus(t *testing.T) {
	db := testDB(t)
	a := mustClaim(t, db, "old fact")
	b := mustClaim(t, db, "new fact")

	// A supersedes edge points FROM the superseded claim.
	if _, err := db.AppendEdge(types.Edge{
		EdgeType: types.EdgeSupersedes,
		FromID:   a.ClaimID,
		ToID:     b.ClaimID,
	}); err != nil {
		t.Fatal(err)
	}

	view, err := db.Materialize()
	if err != nil {
		t.Fatal(err)
	}
	if got := view.Status(a.ClaimID); got != types.StatusSuperseded {
		t.Errorf("status(a) = %s, want superseded", got)
	}
	if got := view.Status(b.ClaimID); got != types.StatusActive {
		t.Errorf("status(b) = %s, want active", got)
	}
}

func TestSameAsRedirectAndIteration(t *testing.T) {
	db := testDB(t)
	x := mustClaim(t, db, "alias text")
	y := mustClaim(t, db, "canonical text")

	if _, err := db.AppendEdge(types.Edge{
		EdgeType: types.EdgeSameAs,
		FromID:   x.ClaimID,
		ToID:     y.ClaimID,
	}); err != nil {
		t.Fatal(err)
	}

	view, err := db.Materialize()
	if err != nil {
		t.Fatal(err)
	}
	if got := view.ResolveID(x.ClaimID); got != y.ClaimID {
		t.Errorf("ResolveID(x) = %s, want %s", got, y.ClaimID)
	}

	var ids []string
	for _, c := range view.ActiveClaims() {
		ids = append(ids, c.ClaimID)
	}
	if diff := cmp.Diff([]string{y.ClaimID}, ids); diff != "" {
		t.Errorf("canonical iteration mismatch (-want +got):\n%s", diff)
	}
}

func TestResolveIDCycleProtection(t *testing.T) {
	db := testDB(t)
	a := mustClaim(t, db, "one")
	b := mustClaim(t, db, "two")
	db.AppendEdge(types.Edge{EdgeType: types.EdgeSameAs, FromID: a.ClaimID, ToID: b.ClaimID})
	db.AppendEdge(types.Edge{EdgeType: types.EdgeSameAs, FromID: b.ClaimID, ToID: a.ClaimID})

	view, err := db.Materialize()
	if err != nil {
		t.Fatal(err)
	}
	// Must terminate and land on a member of the cycle.
	got := view.ResolveID(a.ClaimID)
	if got != a.ClaimID && got != b.ClaimID {
		t.Errorf("cycle resolution escaped the cycle: %s", got)
	}
}

func TestRetractBeatsSupersede(t *testing.T) {
	db := testDB(t)
	a := mustClaim(t, db, "contested")
	b := mustClaim(t, db, "replacement")
	db.AppendEdge(types.Edge{EdgeType: types.EdgeSupersedes, FromID: a.ClaimID, ToID: b.ClaimID})
	if err := db.AppendClaimRetract(a.ClaimID, "wrong", nil); err != nil {
		t.Fatal(err)
	}

	view, err := db.Materialize()
	if err != nil {
		t.Fatal(err)
	}
	if got := view.Status(a.ClaimID); got != types.StatusRetracted {
		t.Errorf("status = %s, want retracted", got)
	}
}

func TestClaimRequiresSourceRef(t *testing.T) {
	db := testDB(t)
	_, err := db.AppendClaim(types.Claim{ClaimType: types.ClaimFact, Text: "unsupported"})
	if err == nil {
		t.Fatal("claim without source refs must be rejected")
	}
}
