package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"mindincarnation/internal/config"
	"mindincarnation/internal/logging"
)

var (
	// Global flags
	verbose      bool
	projectFlag  string
	projectToken string
	configPath   string

	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "mi",
	Short: "Mind Incarnation - supervisory autopilot for an execution agent",
	Long: `Mind Incarnation (MI) wraps an execution agent ("Hands") as a subprocess
and calls a structured-output model ("Mind") between batches to extract
evidence, judge risk, plan checks, answer questions, and decide the next
action. Every step is recorded in an append-only EvidenceLog, and durable
knowledge accumulates in a Thought DB of claims, edges, and nodes.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zcfg := zap.NewProductionConfig()
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		logging.Initialize(config.MIHome())
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
		logging.CloseAll()
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&projectFlag, "project-root", "", "project root (default: MI_PROJECT_ROOT or cwd)")
	rootCmd.PersistentFlags().StringVarP(&projectToken, "project", "C", "", "pinned project token")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default: $MI_HOME/config.json)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(claimCmd)
	rootCmd.AddCommand(edgeCmd)
	rootCmd.AddCommand(nodeCmd)
	rootCmd.AddCommand(learnedCmd)
	rootCmd.AddCommand(configCmd)
}

// rewriteProjectToken expands the "@token" shorthand: a leading @-argument
// becomes the value of -C, so `mi @pinned status` equals `mi -C @pinned status`.
func rewriteProjectToken(args []string) []string {
	if len(args) > 0 && strings.HasPrefix(args[0], "@") {
		return append([]string{"-C", args[0]}, args[1:]...)
	}
	return args
}

func main() {
	rootCmd.SetArgs(rewriteProjectToken(os.Args[1:]))
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
