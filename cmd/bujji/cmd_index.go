package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"bujji/internal/index"
)

var watchMode bool

// indexCmd builds or refreshes the workspace code index
var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Index the workspace for semantic code retrieval",
	Long: `Walks the workspace, parses source files into syntactic chunks,
embeds them and publishes a new index version. Re-running only rewrites
files whose chunks changed.

With --watch the process stays running and re-indexes changed files
after a short debounce.`,
	RunE: runIndex,
}

func init() {
	indexCmd.Flags().BoolVar(&watchMode, "watch", false, "Keep running and re-index on file changes")
}

func runIndex(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()
	if a.engine == nil {
		return fmt.Errorf("indexing requires an embedding backend; configure ollama or set GEMINI_API_KEY")
	}

	pipeline := index.NewPipeline(a.cfg.Index, a.est, a.engine, a.index)
	version, report, err := pipeline.Run(ctx, a.cfg.Workspace, nil)
	if err != nil {
		return fmt.Errorf("indexing failed: %w", err)
	}
	printReport(version, report)

	if !watchMode {
		return nil
	}

	watcher, err := index.NewWatcher(pipeline, a.cfg.Workspace, a.cfg.Index.Debounce)
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	// Watch mode outlives the per-command timeout.
	wctx, wcancel := context.WithCancel(cmd.Context())
	defer wcancel()
	if err := watcher.Start(wctx); err != nil {
		return fmt.Errorf("failed to start watcher: %w", err)
	}
	fmt.Println("Watching for changes. Press Ctrl+C to stop.")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	return watcher.Stop()
}

func printReport(version int64, report *index.Report) {
	fmt.Printf("Indexed %d files (%d chunks, %d deleted) at version %d\n",
		report.Files, report.Chunks, report.Deleted, version)
	for _, w := range report.Warnings {
		fmt.Printf("  warning: %s: %v\n", w.Path, w.Err)
	}
}
