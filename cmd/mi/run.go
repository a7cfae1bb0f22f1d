package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"mindincarnation/internal/orchestrator"
)

var (
	continueHands bool
	resetHands    bool
	maxBatches    int
)

var runCmd = &cobra.Command{
	Use:   "run [task...]",
	Short: "Run the autopilot loop for a task",
	Long: `Spawns the Hands agent for the given task and supervises it batch by
batch until the Mind decides the task is done, blocked, or the batch
limit is reached.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runTask,
}

func init() {
	runCmd.Flags().BoolVar(&continueHands, "continue", false, "resume the persisted Hands thread")
	runCmd.Flags().BoolVar(&resetHands, "reset", false, "force a fresh Hands session")
	runCmd.Flags().IntVar(&maxBatches, "max-batches", 0, "override max batches for this run")
}

func runTask(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	if continueHands {
		a.cfg.Run.ContinueHands = true
	}
	if resetHands {
		a.cfg.Run.ResetHands = true
	}
	if maxBatches > 0 {
		a.cfg.Run.MaxBatches = maxBatches
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	task := strings.Join(args, " ")
	o := orchestrator.New(a.deps())
	res, err := o.Run(ctx, task)
	if err != nil {
		return err
	}

	fmt.Printf("status: %s\n", res.Status)
	if res.Notes != "" {
		fmt.Printf("notes: %s\n", res.Notes)
	}
	fmt.Printf("batches: %d\n", res.Batches)
	if res.Status != "done" {
		os.Exit(2)
	}
	return nil
}
