package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"bujji/internal/config"
	"bujji/internal/logging"
)

var (
	// Global flags
	verbose   bool
	workspace string
	timeout   time.Duration

	cfg *config.Config
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "bujji",
	Short: "bujji - context assembly and memory for coding assistants",
	Long: `bujji maintains the working memory of a coding assistant: it indexes
the workspace for semantic code retrieval, persists conversation turns,
extracted facts and progressive summaries in SQLite, and assembles a
bounded, ordered context for each model turn.

Run "bujji index" once per workspace, then "bujji ask" for assisted turns.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if workspace == "" {
			wd, err := os.Getwd()
			if err != nil {
				return fmt.Errorf("failed to resolve workspace: %w", err)
			}
			workspace = wd
		}

		var err error
		cfg, err = config.Load(workspace)
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		if verbose {
			cfg.Logging.DebugMode = true
			cfg.Logging.Level = "debug"
		}
		return logging.Initialize(logging.Options{
			Workspace:  cfg.Workspace,
			DebugMode:  cfg.Logging.DebugMode,
			Level:      cfg.Logging.Level,
			Categories: cfg.Logging.Categories,
		})
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&workspace, "workspace", "w", "", "Workspace directory (default: current)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 5*time.Minute, "Operation timeout")

	rootCmd.AddCommand(indexCmd)
	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(retrieveCmd)
	rootCmd.AddCommand(sessionCmd)
	rootCmd.AddCommand(statusCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
