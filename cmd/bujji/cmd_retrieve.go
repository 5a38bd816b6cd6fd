package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"bujji/internal/retrieval"
)

var (
	retrieveK    int
	retrievePath string
	retrieveLang string
)

// retrieveCmd queries the code index directly
var retrieveCmd = &cobra.Command{
	Use:   "retrieve [query]",
	Short: "Query the code index",
	Long: `Runs a hybrid semantic + keyword query against the code index and
prints the matching chunks with their scores. Useful for inspecting what
the assembler would pull in for a given request.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRetrieve,
}

func init() {
	retrieveCmd.Flags().IntVarP(&retrieveK, "top", "k", 10, "Number of results")
	retrieveCmd.Flags().StringVar(&retrievePath, "path", "", "Restrict to paths with this prefix")
	retrieveCmd.Flags().StringVar(&retrieveLang, "lang", "", "Restrict to one language")
}

func runRetrieve(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	result, err := a.index.Query(ctx, strings.Join(args, " "), retrieveK, retrieval.Filters{
		PathPrefix: retrievePath,
		Language:   retrieveLang,
	})
	if err != nil {
		return fmt.Errorf("query failed: %w", err)
	}

	fmt.Printf("Index version %d, %d results\n", result.IndexVersion, len(result.Chunks))
	for i, c := range result.Chunks {
		fmt.Printf("\n%2d. %s (score %.4f, chunk %s)\n", i+1, c.Path, c.Score, c.ChunkID)
		for _, line := range strings.SplitN(c.Content, "\n", 6) {
			fmt.Printf("    %s\n", line)
		}
	}
	return nil
}
