package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"mindincarnation/internal/thoughtdb"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show project state: session, workflow, and knowledge counts",
	RunE:  showStatus,
}

func showStatus(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	overlay := a.overlay.Load(a.projectID, a.rootPath, a.identity.Key())

	fmt.Printf("project:      %s\n", a.projectID)
	fmt.Printf("root:         %s\n", a.rootPath)
	fmt.Printf("identity:     %s\n", a.identity.Key())

	if overlay.HandsState.ThreadID != "" {
		fmt.Printf("hands:        %s thread=%s (updated %s)\n",
			overlay.HandsState.Provider, overlay.HandsState.ThreadID, overlay.HandsState.UpdatedTS)
	} else {
		fmt.Println("hands:        no persisted session")
	}

	if run := overlay.WorkflowRun; run.Active {
		fmt.Printf("workflow:     %s next=%s completed=[%s]\n",
			run.WorkflowName, run.NextStepID, strings.Join(run.CompletedStepIDs, " "))
	}
	if tls := overlay.TestlessStrategy; tls.ChosenOnce {
		fmt.Printf("verification: %s\n", tls.Strategy)
	}

	recs, err := a.evidence.Read()
	if err != nil {
		return err
	}
	fmt.Printf("evidence:     %d records\n", len(recs))

	for _, scope := range []struct {
		name string
		db   *thoughtdb.DB
	}{{"project", a.projectTDB}, {"global", a.globalTDB}} {
		view, err := scope.db.Materialize()
		if err != nil {
			return err
		}
		fmt.Printf("claims (%s): %d active, %d edges, %d nodes\n",
			scope.name, len(view.ActiveClaims()), len(view.Edges), len(view.NodesByID))
	}
	return nil
}
