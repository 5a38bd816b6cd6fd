package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

// sessionCmd groups session inspection commands
var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Inspect persisted sessions",
}

var sessionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all sessions",
	RunE:  runSessionList,
}

var sessionShowCmd = &cobra.Command{
	Use:   "show [session-id]",
	Short: "Show a session's summaries and facts",
	Long: `Prints the durable memory of a session: its progressive summaries
and extracted facts. This is what a warm start in a new session would
load.`,
	Args: cobra.ExactArgs(1),
	RunE: runSessionShow,
}

func init() {
	sessionCmd.AddCommand(sessionListCmd)
	sessionCmd.AddCommand(sessionShowCmd)
}

func runSessionList(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	sessions, err := a.store.ListSessions()
	if err != nil {
		return err
	}
	if len(sessions) == 0 {
		fmt.Println("No sessions.")
		return nil
	}
	for _, s := range sessions {
		fmt.Printf("%s  turns=%d  last active %s\n", s.ID, s.NextSeq-1, s.UpdatedAt.Format("2006-01-02 15:04"))
	}
	return nil
}

func runSessionShow(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	sessionID := args[0]
	if _, err := a.store.GetSession(sessionID); err != nil {
		return err
	}

	summaries, facts, err := a.store.SessionMemory(sessionID)
	if err != nil {
		return err
	}

	fmt.Printf("Session %s\n", sessionID)
	if len(summaries) == 0 {
		fmt.Println("\nNo summaries.")
	}
	for _, s := range summaries {
		fmt.Printf("\nSummary of turns %d-%d:\n%s\n", s.Lo, s.Hi, s.Text)
	}

	if len(facts) == 0 {
		fmt.Println("\nNo facts.")
		return nil
	}
	fmt.Printf("\nFacts (%d):\n", len(facts))
	for _, f := range facts {
		line := fmt.Sprintf("  [%s] %s", f.Category, f.Subject)
		if f.Detail != "" {
			line += ": " + f.Detail
		}
		fmt.Printf("%s  (turn %d)\n", line, f.SourceSeq)
	}
	return nil
}
