package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"bujji/internal/assembler"
	"bujji/internal/config"
	"bujji/internal/embedding"
	"bujji/internal/extract"
	"bujji/internal/llm"
	"bujji/internal/logging"
	"bujji/internal/memory"
	"bujji/internal/retrieval"
	"bujji/internal/summarize"
	"bujji/internal/tokens"
)

// app holds the wired subsystem graph for one command invocation.
// Embedding and LLM backends are optional: without them retrieval,
// summarization and extraction degrade instead of failing.
type app struct {
	cfg    *config.Config
	est    *tokens.Estimator
	store  *memory.Store
	index  *retrieval.Index
	engine embedding.Engine
	client llm.Client
	asm    *assembler.Assembler
}

func openApp(ctx context.Context) (*app, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.Memory.DatabasePath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	store, err := memory.Open(cfg.Memory.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open memory store: %w", err)
	}

	engine, err := embedding.New(cfg.Embedding)
	if err != nil {
		logging.Boot("embedding backend unavailable, retrieval disabled: %v", err)
		engine = nil
	}

	idx, err := retrieval.Open(cfg.Memory.IndexDatabasePath, engine)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to open retrieval index: %w", err)
	}

	var client llm.Client
	if cfg.LLM.APIKey != "" {
		c, err := llm.NewGenAIClient(ctx, cfg.LLM.APIKey, cfg.LLM.Model)
		if err != nil {
			logging.Boot("llm backend unavailable, summarization and extraction degraded: %v", err)
		} else {
			client = c
		}
	}

	est := tokens.NewEstimator()
	asm := assembler.New(cfg, est, store, idx,
		summarize.New(client, cfg.LLM.SummarizeTimeout),
		extract.New(client, cfg.LLM.ExtractTimeout))

	return &app{
		cfg:    cfg,
		est:    est,
		store:  store,
		index:  idx,
		engine: engine,
		client: client,
		asm:    asm,
	}, nil
}

func (a *app) close() {
	if a.index != nil {
		a.index.Close()
	}
	if a.store != nil {
		a.store.Close()
	}
}
