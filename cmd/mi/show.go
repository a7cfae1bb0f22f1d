package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"mindincarnation/internal/thoughtdb"
	"mindincarnation/internal/types"
)

var showCmd = &cobra.Command{
	Use:   "show <ref>",
	Short: "Show a record by id (event, claim, edge, or node)",
	Args:  cobra.ExactArgs(1),
	RunE:  showRef,
}

func showRef(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	ref := args[0]
	switch {
	case strings.HasPrefix(ref, types.PrefixEvent+"_"):
		for _, log := range []interface {
			FindEvent(string) (types.Record, error)
		}{a.evidence, a.globalLog} {
			rec, err := log.FindEvent(ref)
			if err != nil {
				return err
			}
			if rec != nil {
				return printJSON(rec)
			}
		}
		return fmt.Errorf("event not found: %s", ref)

	case strings.HasPrefix(ref, types.PrefixClaim+"_"),
		strings.HasPrefix(ref, types.PrefixEdge+"_"),
		strings.HasPrefix(ref, types.PrefixNode+"_"):
		for _, db := range []*thoughtdb.DB{a.projectTDB, a.globalTDB} {
			view, err := db.Materialize()
			if err != nil {
				return err
			}
			if v, ok := lookupVertex(view, ref); ok {
				return printJSON(v)
			}
		}
		return fmt.Errorf("vertex not found: %s", ref)

	default:
		return fmt.Errorf("unrecognized ref: %s", ref)
	}
}

func lookupVertex(view *thoughtdb.View, ref string) (any, bool) {
	id := view.ResolveID(ref)
	if c, ok := view.ClaimsByID[id]; ok {
		return map[string]any{"claim": c, "status": view.Status(id)}, true
	}
	if n, ok := view.NodesByID[id]; ok {
		return n, true
	}
	for _, e := range view.Edges {
		if e.EdgeID == ref {
			return e, true
		}
	}
	return nil, false
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
