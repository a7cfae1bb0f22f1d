package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"mindincarnation/internal/thoughtdb"
	"mindincarnation/internal/types"
)

var (
	claimType  string
	claimScope string
	claimTags  []string
	retractWhy string
	listTag    string
)

var claimCmd = &cobra.Command{
	Use:   "claim",
	Short: "Inspect and mutate Thought DB claims",
}

var claimListCmd = &cobra.Command{
	Use:   "list",
	Short: "List active claims (project then global)",
	RunE:  listClaims,
}

var claimAddCmd = &cobra.Command{
	Use:   "add <text...>",
	Short: "Append a claim citing a manual evidence record",
	Args:  cobra.MinimumNArgs(1),
	RunE:  addClaim,
}

var claimRetractCmd = &cobra.Command{
	Use:   "retract <claim-id>",
	Short: "Retract a claim by id",
	Args:  cobra.ExactArgs(1),
	RunE:  retractClaim,
}

var edgeCmd = &cobra.Command{
	Use:   "edge",
	Short: "Inspect Thought DB edges",
}

var edgeListCmd = &cobra.Command{
	Use:   "list",
	Short: "List edges (project then global)",
	RunE:  listEdges,
}

var nodeCmd = &cobra.Command{
	Use:   "node",
	Short: "Inspect Thought DB nodes",
}

var nodeListCmd = &cobra.Command{
	Use:   "list",
	Short: "List nodes (project then global)",
	RunE:  listNodes,
}

func init() {
	claimListCmd.Flags().StringVar(&listTag, "tag", "", "filter by tag")
	claimAddCmd.Flags().StringVar(&claimType, "type", types.ClaimFact, "claim type (fact, preference, goal, assumption)")
	claimAddCmd.Flags().StringVar(&claimScope, "scope", types.ScopeProject, "scope (project or global)")
	claimAddCmd.Flags().StringSliceVar(&claimTags, "tag", nil, "tags to attach")
	claimRetractCmd.Flags().StringVar(&retractWhy, "reason", "manual retraction", "retraction reason")

	claimCmd.AddCommand(claimListCmd, claimAddCmd, claimRetractCmd)
	edgeCmd.AddCommand(edgeListCmd)
	nodeCmd.AddCommand(nodeListCmd)
}

func (a *app) eachScope(fn func(name string, db *thoughtdb.DB, view *thoughtdb.View) error) error {
	for _, s := range []struct {
		name string
		db   *thoughtdb.DB
	}{{"project", a.projectTDB}, {"global", a.globalTDB}} {
		view, err := s.db.Materialize()
		if err != nil {
			return err
		}
		if err := fn(s.name, s.db, view); err != nil {
			return err
		}
	}
	return nil
}

func listClaims(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	return a.eachScope(func(name string, _ *thoughtdb.DB, view *thoughtdb.View) error {
		claims := view.ActiveClaims()
		if listTag != "" {
			claims = view.ActiveClaimsWithTag(listTag)
		}
		for _, c := range claims {
			tags := ""
			if len(c.Tags) > 0 {
				tags = " [" + strings.Join(c.Tags, " ") + "]"
			}
			fmt.Printf("%s  %-10s %s%s (%.2f, %s)\n", c.ClaimID, c.ClaimType, c.Text, tags, c.Confidence, name)
		}
		return nil
	})
}

func addClaim(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	text := strings.Join(args, " ")
	db := a.projectTDB
	log := a.evidence
	if claimScope == types.ScopeGlobal {
		db = a.globalTDB
		log = a.globalLog
	}

	// Manual claims cite a user_input event so the citation invariant holds.
	rec, err := log.MustAppend(types.KindUserInput, "b0", "manual", map[string]any{
		"question": "manual claim entry",
		"answer":   text,
	})
	if err != nil {
		return err
	}
	c, err := db.AppendClaim(types.Claim{
		ClaimType:  claimType,
		Text:       text,
		Scope:      claimScope,
		Visibility: claimScope,
		Tags:       claimTags,
		SourceRefs: []types.SourceRef{{EventID: rec.EventID()}},
		Confidence: 1.0,
	})
	if err != nil {
		return err
	}
	fmt.Println(c.ClaimID)
	return nil
}

func retractClaim(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	id := args[0]
	found := false
	err = a.eachScope(func(_ string, db *thoughtdb.DB, view *thoughtdb.View) error {
		resolved := view.ResolveID(id)
		if _, ok := view.ClaimsByID[resolved]; !ok || found {
			return nil
		}
		found = true
		return db.AppendClaimRetract(resolved, retractWhy, nil)
	})
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("claim not found: %s", id)
	}
	fmt.Println("retracted", id)
	return nil
}

func listEdges(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	return a.eachScope(func(name string, _ *thoughtdb.DB, view *thoughtdb.View) error {
		for _, e := range view.Edges {
			fmt.Printf("%s  %-12s %s -> %s (%s)\n", e.EdgeID, e.EdgeType, e.FromID, e.ToID, name)
		}
		return nil
	})
}

func listNodes(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	return a.eachScope(func(name string, _ *thoughtdb.DB, view *thoughtdb.View) error {
		for _, n := range view.NodesByID {
			fmt.Printf("%s  %-8s %s (%s)\n", n.NodeID, n.NodeType, n.Title, name)
		}
		return nil
	})
}
