// Package embedding generates fixed-dimension vectors for code chunks and
// queries. Two backends are supported: a local Ollama server and Google's
// Gemini embedding API.
package embedding

import (
	"context"
	"fmt"
	"math"

	"bujji/internal/config"
	"bujji/internal/logging"
)

// Engine generates vector embeddings for text.
type Engine interface {
	// Embed generates the embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts in one call.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the embedding dimensionality.
	Dimensions() int

	// Name returns the engine identifier.
	Name() string
}

// New creates an embedding engine from configuration.
func New(cfg config.EmbeddingConfig) (Engine, error) {
	logging.Embedding("creating embedding engine: provider=%s", cfg.Provider)

	switch cfg.Provider {
	case "ollama":
		return NewOllamaEngine(cfg.OllamaEndpoint, cfg.OllamaModel)
	case "genai":
		return NewGenAIEngine(cfg.GenAIAPIKey, cfg.GenAIModel, cfg.TaskType)
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s (use 'ollama' or 'genai')", cfg.Provider)
	}
}

// CosineSimilarity computes cosine similarity between two vectors.
// Returns an error on dimension mismatch, 0 for zero-magnitude vectors.
func CosineSimilarity(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("vector dimension mismatch: %d != %d", len(a), len(b))
	}

	var dot, magA, magB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		magA += float64(a[i]) * float64(a[i])
		magB += float64(b[i]) * float64(b[i])
	}
	if magA == 0 || magB == 0 {
		return 0, nil
	}
	return dot / (math.Sqrt(magA) * math.Sqrt(magB)), nil
}
