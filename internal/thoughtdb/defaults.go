package thoughtdb

import (
	"fmt"
	"strings"

	"mindincarnation/internal/logging"
	"mindincarnation/internal/store"
	"mindincarnation/internal/types"
)

// Preference claim tags recognized by the operational-defaults resolver.
const (
	TagAskWhenUncertain = "mi:ask_when_uncertain"
	TagRefactorIntent   = "mi:refactor_intent"
	TagTestlessStrategy = "mi:testless_verification_strategy"
)

// Defaults are the resolved operational defaults injected into every Hands
// prompt and consulted by the loop guard.
type Defaults struct {
	AskWhenUncertain bool
	RefactorIntent   string
	TestlessStrategy string
}

// claimValue extracts the value from a "<key>=<value>" preference claim text.
// Free-form claim text (no '=') is returned whole.
func claimValue(text string) string {
	if i := strings.Index(text, "="); i >= 0 {
		return strings.TrimSpace(text[i+1:])
	}
	return strings.TrimSpace(text)
}

// ResolveDefaults resolves operational defaults from tagged preference
// claims, project claims overriding global ones, falling back to the runtime
// config values in fallback.
func ResolveDefaults(project, global *View, fallback Defaults) Defaults {
	out := fallback

	if v, ok := latestTagged(project, global, TagAskWhenUncertain); ok {
		out.AskWhenUncertain = claimValue(v) != "false"
	}
	if v, ok := latestTagged(project, global, TagRefactorIntent); ok {
		out.RefactorIntent = claimValue(v)
	}
	if v, ok := latestTagged(project, global, TagTestlessStrategy); ok {
		out.TestlessStrategy = claimValue(v)
	}
	return out
}

// latestTagged returns the newest active tagged preference text, project
// scope winning over global.
func latestTagged(project, global *View, tag string) (string, bool) {
	for _, v := range []*View{project, global} {
		if v == nil {
			continue
		}
		claims := v.ActiveClaimsWithTag(tag)
		for _, c := range claims {
			if c.ClaimType == types.ClaimPreference {
				return c.Text, true
			}
		}
	}
	return "", false
}

// EnsureDefaultsClaimsCurrent idempotently seeds the global preference
// claims from runtime config. The latest mi_defaults_set event is reused
// when the desired defaults are unchanged; otherwise a new event is appended
// and fresh claims cite it.
func EnsureDefaultsClaimsCurrent(global *DB, globalLog *store.EvidenceLog, desired Defaults) error {
	wantAsk := fmt.Sprintf("%s=%t", "ask_when_uncertain", desired.AskWhenUncertain)
	wantRefactor := fmt.Sprintf("%s=%s", "refactor_intent", desired.RefactorIntent)

	last, err := globalLog.LastOfKinds(types.KindDefaultsSet)
	if err != nil {
		return err
	}
	if last != nil {
		if prevAsk, _ := last["ask_when_uncertain"].(string); prevAsk == wantAsk {
			if prevRef, _ := last["refactor_intent"].(string); prevRef == wantRefactor {
				logging.ThoughtDBDebug("defaults unchanged, reusing %s", last.EventID())
				return nil
			}
		}
	}

	rec, err := globalLog.MustAppend(types.KindDefaultsSet, "b0", "defaults", map[string]any{
		"ask_when_uncertain": wantAsk,
		"refactor_intent":    wantRefactor,
	})
	if err != nil {
		return err
	}
	refs := []types.SourceRef{{EventID: rec.EventID()}}

	seed := []struct {
		tag  string
		text string
	}{
		{TagAskWhenUncertain, wantAsk},
		{TagRefactorIntent, wantRefactor},
	}
	for _, s := range seed {
		if s.tag == TagRefactorIntent && desired.RefactorIntent == "" {
			continue
		}
		if _, err := global.AppendClaim(types.Claim{
			ClaimType:  types.ClaimPreference,
			Text:       s.text,
			Scope:      types.ScopeGlobal,
			Visibility: types.VisibilityGlobal,
			Tags:       []string{s.tag},
			SourceRefs: refs,
			Confidence: 1.0,
		}); err != nil {
			return err
		}
	}
	logging.ThoughtDB("seeded operational default claims from config")
	return nil
}

// CanonicalizeTestlessStrategy appends the once-per-project testless
// verification strategy as a tagged preference claim and returns it.
func (db *DB) CanonicalizeTestlessStrategy(strategy, rationale string, refs []types.SourceRef) (types.Claim, error) {
	text := fmt.Sprintf("%s=%s", "testless_verification_strategy", strings.TrimSpace(strategy))
	c, err := db.AppendClaim(types.Claim{
		ClaimType:  types.ClaimPreference,
		Text:       text,
		Scope:      db.scope,
		Visibility: db.scope,
		Tags:       []string{TagTestlessStrategy},
		SourceRefs: refs,
		Confidence: 1.0,
	})
	if err != nil {
		return types.Claim{}, fmt.Errorf("testless strategy canonicalization failed: %w", err)
	}
	return c, nil
}
