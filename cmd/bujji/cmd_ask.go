package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"bujji/internal/assembler"
)

var (
	askSession    string
	askModel      string
	askEditTarget string
	askDryRun     bool
)

// askCmd assembles context for one turn and, when an LLM backend is
// configured, completes the turn through it.
var askCmd = &cobra.Command{
	Use:   "ask [text]",
	Short: "Assemble context for a turn and complete it",
	Long: `Assembles the bounded context bundle for the given input: system
instructions, retrieved code, session facts, summaries and recent turns.

Without --session a fresh session id is generated and printed, so the
conversation can be continued with later calls.

With --dry-run the assembled prompt is printed instead of being sent.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAsk,
}

func init() {
	askCmd.Flags().StringVarP(&askSession, "session", "s", "", "Session id (default: new session)")
	askCmd.Flags().StringVarP(&askModel, "model", "m", "", "Model family (deepseek, claude, gemini)")
	askCmd.Flags().StringVar(&askEditTarget, "edit-target", "", "File path the request is aimed at")
	askCmd.Flags().BoolVar(&askDryRun, "dry-run", false, "Print the assembled prompt without calling the model")
}

func runAsk(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	sessionID := askSession
	if sessionID == "" {
		sessionID = uuid.NewString()
		fmt.Printf("Session: %s\n", sessionID)
	}
	family := askModel
	if family == "" {
		family = a.cfg.Models.Default
	}
	text := strings.Join(args, " ")

	bundle, err := a.asm.Assemble(ctx, assembler.TurnRequest{
		SessionID:   sessionID,
		Text:        text,
		ModelFamily: family,
		EditTarget:  askEditTarget,
	})
	if err != nil {
		return err
	}

	if askDryRun || a.client == nil {
		if a.client == nil && !askDryRun {
			fmt.Println("No LLM backend configured; printing assembled prompt.")
		}
		fmt.Printf("-- %d segments, %d/%d tokens --\n", len(bundle.Segments), bundle.TotalTokens(), bundle.Budget)
		fmt.Println(bundle.Prompt())
		return nil
	}

	answer, err := a.client.Complete(ctx, bundle.Prompt())
	if err != nil {
		return fmt.Errorf("model call failed: %w", err)
	}
	fmt.Println(answer)

	if err := a.asm.CompleteTurn(ctx, sessionID, text, answer); err != nil {
		return fmt.Errorf("failed to persist turn: %w", err)
	}
	return nil
}
