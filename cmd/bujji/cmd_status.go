package main

import (
	"context"
	"fmt"
	"sort"

	"github.com/spf13/cobra"
)

// statusCmd shows subsystem status
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show workspace and subsystem status",
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	fmt.Printf("Workspace:    %s\n", a.cfg.Workspace)
	fmt.Printf("Memory DB:    %s\n", a.cfg.Memory.DatabasePath)
	fmt.Printf("Index DB:     %s (version %d)\n", a.cfg.Memory.IndexDatabasePath, a.index.Version())

	if a.engine != nil {
		fmt.Printf("Embedding:    %s (%d dims)\n", a.engine.Name(), a.engine.Dimensions())
	} else {
		fmt.Println("Embedding:    not configured (retrieval disabled)")
	}
	if a.client != nil {
		fmt.Printf("LLM:          %s\n", a.cfg.LLM.Model)
	} else {
		fmt.Println("LLM:          not configured (heuristic extraction, no summarization)")
	}

	sessions, err := a.store.ListSessions()
	if err != nil {
		return err
	}
	fmt.Printf("Sessions:     %d\n", len(sessions))

	families := make([]string, 0, len(a.cfg.Models.Families))
	for family := range a.cfg.Models.Families {
		families = append(families, family)
	}
	sort.Strings(families)

	fmt.Println("\nModel budgets:")
	for _, family := range families {
		b := a.cfg.Models.Families[family]
		marker := " "
		if family == a.cfg.Models.Default {
			marker = "*"
		}
		fmt.Printf("  %s %-10s %d tokens (%d reserved for output)\n",
			marker, family, b.MaxContextTokens, b.OutputReserve)
	}
	return nil
}
