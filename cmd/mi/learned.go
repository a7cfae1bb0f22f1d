package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"mindincarnation/internal/store"
	"mindincarnation/internal/types"
)

var learnedCmd = &cobra.Command{
	Use:   "learned",
	Short: "Manage mined preference suggestions",
}

var learnedListCmd = &cobra.Command{
	Use:   "list",
	Short: "List preference suggestions and their apply state",
	RunE:  listLearned,
}

var learnedApplyCmd = &cobra.Command{
	Use:   "apply-suggested <suggestion-id>",
	Short: "Apply a parked suggestion as a preference claim",
	Args:  cobra.ExactArgs(1),
	RunE:  applySuggested,
}

func init() {
	learnedCmd.AddCommand(learnedListCmd, learnedApplyCmd)
}

func listLearned(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	suggestions := store.NewSuggestionStore(a.paths.PreferenceCandidates())
	list, err := suggestions.List()
	if err != nil {
		return err
	}
	for _, s := range list {
		state := "pending"
		if s.Applied {
			state = "applied -> " + s.AppliedClaimID
		}
		fmt.Printf("%s  [%s/%s] %s (%s)\n", s.SuggestionID, s.Source, s.Scope, s.Text, state)
	}
	return nil
}

// applySuggested turns one parked suggestion into a tagged preference claim
// and records a learn_applied event citing the suggestion.
func applySuggested(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	suggestions := store.NewSuggestionStore(a.paths.PreferenceCandidates())
	sug, err := suggestions.Get(args[0])
	if err != nil {
		return err
	}
	if sug.Applied {
		return fmt.Errorf("suggestion already applied as %s", sug.AppliedClaimID)
	}

	db := a.projectTDB
	log := a.evidence
	if sug.Scope == types.ScopeGlobal {
		db = a.globalTDB
		log = a.globalLog
	}

	rec, err := log.MustAppend(types.KindLearnApplied, "b0", "manual", map[string]any{
		"learn_suggestion_id": sug.SuggestionID,
		"source":              sug.Source,
		"text":                sug.Text,
	})
	if err != nil {
		return err
	}

	conf := sug.Confidence
	if conf == 0 {
		conf = 0.8
	}
	tags := sug.Tags
	if !hasTag(tags, "mi:learned") {
		tags = append(tags, "mi:learned")
	}
	claim, err := db.AppendClaim(types.Claim{
		ClaimType:  types.ClaimPreference,
		Text:       sug.Text,
		Scope:      db.Scope(),
		Visibility: db.Scope(),
		Tags:       tags,
		SourceRefs: []types.SourceRef{{EventID: rec.EventID()}},
		Confidence: conf,
	})
	if err != nil {
		return err
	}
	if err := suggestions.MarkApplied(sug.SuggestionID, claim.ClaimID); err != nil {
		return err
	}
	fmt.Println(claim.ClaimID)
	return nil
}

func hasTag(tags []string, tag string) bool {
	for _, t := range tags {
		if strings.EqualFold(t, tag) {
			return true
		}
	}
	return false
}
