// Package config loads and validates bujji configuration.
// Configuration lives at <workspace>/.bujji/config.yaml; every knob has a
// default so a missing file yields a working setup. Secrets come from the
// environment, never from the file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration object.
type Config struct {
	Workspace string          `yaml:"-"`
	Logging   LoggingConfig   `yaml:"logging"`
	Models    ModelsConfig    `yaml:"models"`
	Context   ContextConfig   `yaml:"context"`
	Index     IndexConfig     `yaml:"index"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	LLM       LLMConfig       `yaml:"llm"`
	Memory    MemoryConfig    `yaml:"memory"`
}

// LoggingConfig controls the categorized debug logs.
type LoggingConfig struct {
	DebugMode  bool            `yaml:"debug_mode"`
	Level      string          `yaml:"level"`
	Categories map[string]bool `yaml:"categories"`
}

// ModelBudget holds the per-family token ceiling and the reserved
// response allowance subtracted from it during budget resolution.
type ModelBudget struct {
	MaxContextTokens int `yaml:"max_context_tokens"`
	OutputReserve    int `yaml:"output_reserve"`
}

// ModelsConfig maps model family names to their budgets.
type ModelsConfig struct {
	Families map[string]ModelBudget `yaml:"families"`
	Default  string                 `yaml:"default"`
}

// Budget returns the budget for a family, falling back to the default.
func (m ModelsConfig) Budget(family string) (ModelBudget, error) {
	if b, ok := m.Families[family]; ok {
		return b, nil
	}
	if b, ok := m.Families[m.Default]; ok {
		return b, nil
	}
	return ModelBudget{}, fmt.Errorf("unknown model family %q and no default configured", family)
}

// ContextConfig tunes the context assembler. The retrieval and facts
// fractions apply to the budget remaining after fixed segments.
type ContextConfig struct {
	SystemPrompt      string  `yaml:"system_prompt"`
	RulesFile         string  `yaml:"rules_file"`
	RetrievalFraction float64 `yaml:"retrieval_fraction"`
	FactsFraction     float64 `yaml:"facts_fraction"`
	PreserveRecent    int     `yaml:"preserve_recent"`
	RetrievalTopK     int     `yaml:"retrieval_top_k"`
	TurnOverhead      int     `yaml:"turn_overhead"` // per-message token overhead
}

// IndexConfig tunes the code indexing pipeline.
type IndexConfig struct {
	MaxChunkTokens int           `yaml:"max_chunk_tokens"`
	HardSplitLines int           `yaml:"hard_split_lines"`
	Workers        int           `yaml:"workers"`
	Debounce       time.Duration `yaml:"debounce"`
	Exclude        []string      `yaml:"exclude"`
}

// EmbeddingConfig selects and configures the embedding backend.
type EmbeddingConfig struct {
	Provider       string `yaml:"provider"` // "ollama" or "genai"
	OllamaEndpoint string `yaml:"ollama_endpoint"`
	OllamaModel    string `yaml:"ollama_model"`
	GenAIAPIKey    string `yaml:"-"`
	GenAIModel     string `yaml:"genai_model"`
	TaskType       string `yaml:"task_type"`
}

// LLMConfig configures the model-backed summarization/extraction calls.
type LLMConfig struct {
	Provider         string        `yaml:"provider"` // "genai"
	Model            string        `yaml:"model"`
	APIKey           string        `yaml:"-"`
	SummarizeTimeout time.Duration `yaml:"summarize_timeout"`
	ExtractTimeout   time.Duration `yaml:"extract_timeout"`
}

// MemoryConfig locates the SQLite databases.
type MemoryConfig struct {
	DatabasePath      string `yaml:"database_path"`
	IndexDatabasePath string `yaml:"index_database_path"`
}

// Default returns the built-in configuration for a workspace.
func Default(workspace string) *Config {
	workers := runtime.NumCPU()
	if workers > 8 {
		workers = 8
	}
	return &Config{
		Workspace: workspace,
		Logging: LoggingConfig{
			DebugMode: false,
			Level:     "info",
		},
		Models: ModelsConfig{
			Default: "deepseek",
			Families: map[string]ModelBudget{
				"deepseek": {MaxContextTokens: 10000, OutputReserve: 2000},
				"claude":   {MaxContextTokens: 150000, OutputReserve: 8000},
				"gemini":   {MaxContextTokens: 200000, OutputReserve: 8000},
			},
		},
		Context: ContextConfig{
			SystemPrompt:      "You are a coding assistant working inside the user's workspace.",
			RetrievalFraction: 0.30,
			FactsFraction:     0.15,
			PreserveRecent:    8,
			RetrievalTopK:     10,
			TurnOverhead:      4,
		},
		Index: IndexConfig{
			MaxChunkTokens: 1024,
			HardSplitLines: 80,
			Workers:        workers,
			Debounce:       2 * time.Second,
			Exclude: []string{
				".git", "node_modules", "__pycache__", "vendor",
				"dist", "build", ".venv", "venv", ".bujji",
			},
		},
		Embedding: EmbeddingConfig{
			Provider:       "ollama",
			OllamaEndpoint: "http://localhost:11434",
			OllamaModel:    "embeddinggemma",
			GenAIModel:     "gemini-embedding-001",
			TaskType:       "CODE_RETRIEVAL_QUERY",
		},
		LLM: LLMConfig{
			Provider:         "genai",
			Model:            "gemini-2.0-flash",
			SummarizeTimeout: 30 * time.Second,
			ExtractTimeout:   15 * time.Second,
		},
		Memory: MemoryConfig{
			DatabasePath:      filepath.Join(workspace, ".bujji", "memory.db"),
			IndexDatabasePath: filepath.Join(workspace, ".bujji", "index.db"),
		},
	}
}

// Load reads <workspace>/.bujji/config.yaml over the defaults.
// A missing file is not an error.
func Load(workspace string) (*Config, error) {
	cfg := Default(workspace)

	path := filepath.Join(workspace, ".bujji", "config.yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	cfg.applyEnv()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv pulls secrets and debug toggles from the environment.
func (c *Config) applyEnv() {
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		c.LLM.APIKey = key
		c.Embedding.GenAIAPIKey = key
	}
	if key := os.Getenv("BUJJI_API_KEY"); key != "" {
		c.LLM.APIKey = key
	}
	if os.Getenv("BUJJI_DEBUG") == "1" {
		c.Logging.DebugMode = true
		c.Logging.Level = "debug"
	}
}

func (c *Config) validate() error {
	if c.Context.RetrievalFraction < 0 || c.Context.RetrievalFraction > 1 {
		return fmt.Errorf("retrieval_fraction must be in [0,1], got %v", c.Context.RetrievalFraction)
	}
	if c.Context.FactsFraction < 0 || c.Context.FactsFraction > 1 {
		return fmt.Errorf("facts_fraction must be in [0,1], got %v", c.Context.FactsFraction)
	}
	if c.Context.PreserveRecent < 1 {
		return fmt.Errorf("preserve_recent must be >= 1, got %d", c.Context.PreserveRecent)
	}
	if c.Index.MaxChunkTokens < 1 {
		return fmt.Errorf("max_chunk_tokens must be >= 1, got %d", c.Index.MaxChunkTokens)
	}
	for name, b := range c.Models.Families {
		if b.MaxContextTokens <= b.OutputReserve {
			return fmt.Errorf("model family %s: max_context_tokens (%d) must exceed output_reserve (%d)",
				name, b.MaxContextTokens, b.OutputReserve)
		}
	}
	return nil
}

// RulesText reads the configured rules file, if any.
func (c *Config) RulesText() (string, error) {
	if c.Context.RulesFile == "" {
		return "", nil
	}
	path := c.Context.RulesFile
	if !filepath.IsAbs(path) {
		path = filepath.Join(c.Workspace, path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("failed to read rules file: %w", err)
	}
	return string(data), nil
}
