package llm

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// GenAIClient implements Client against Google's Gemini API.
type GenAIClient struct {
	client *genai.Client
	model  string
}

var _ Client = (*GenAIClient)(nil)

// NewGenAIClient creates a Gemini-backed completion client.
func NewGenAIClient(ctx context.Context, apiKey, model string) (*GenAIClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("GenAI API key is required")
	}
	if model == "" {
		model = "gemini-2.0-flash"
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey: apiKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}

	return &GenAIClient{client: client, model: model}, nil
}

// Complete sends one prompt and returns the concatenated response text.
func (c *GenAIClient) Complete(ctx context.Context, prompt string) (string, error) {
	contents := []*genai.Content{
		genai.NewContentFromText(prompt, genai.RoleUser),
	}

	resp, err := c.client.Models.GenerateContent(ctx, c.model, contents, nil)
	if err != nil {
		return "", fmt.Errorf("GenAI completion failed: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", fmt.Errorf("GenAI returned no candidates")
	}

	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part.Text != "" {
			sb.WriteString(part.Text)
		}
	}
	return strings.TrimSpace(sb.String()), nil
}

// Name returns the backing model identifier.
func (c *GenAIClient) Name() string {
	return fmt.Sprintf("genai:%s", c.model)
}
