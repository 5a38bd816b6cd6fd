package index

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"bujji/internal/config"
	"bujji/internal/embedding"
	"bujji/internal/logging"
	"bujji/internal/retrieval"
	"bujji/internal/tokens"
	"bujji/internal/types"
)

// Warning records one file the pipeline skipped.
type Warning struct {
	Path string
	Err  string
}

// Report summarizes one indexing pass.
type Report struct {
	Files    int
	Chunks   int
	Deleted  int
	Warnings []Warning
}

// Pipeline drives parse -> chunk -> embed -> upsert for a workspace.
// Concurrent across files, sequential within a file so a file's chunks stay
// orderable.
type Pipeline struct {
	cfg     config.IndexConfig
	parser  *Parser
	chunker *Chunker
	engine  embedding.Engine
	index   *retrieval.Index
}

// NewPipeline wires the indexing pipeline.
func NewPipeline(cfg config.IndexConfig, est *tokens.Estimator, engine embedding.Engine, idx *retrieval.Index) *Pipeline {
	return &Pipeline{
		cfg:     cfg,
		parser:  NewParser(),
		chunker: NewChunker(est, cfg.MaxChunkTokens, cfg.HardSplitLines),
		engine:  engine,
		index:   idx,
	}
}

// Close releases parser resources.
func (p *Pipeline) Close() {
	p.parser.Close()
}

// Version returns the current published index version.
func (p *Pipeline) Version() int64 {
	return p.index.Version()
}

// Run executes one indexing pass. With changed == nil every supported file
// under root is reindexed; otherwise only the changed files are processed
// (files that no longer exist on disk have their chunk sets removed).
// Returns the new index version and a report of skipped files.
func (p *Pipeline) Run(ctx context.Context, root string, changed []string) (int64, *Report, error) {
	timer := logging.StartTimer(logging.CategoryIndex, "Pipeline.Run")
	defer timer.Stop()

	files := changed
	if files == nil {
		var err error
		files, err = p.discover(root)
		if err != nil {
			return 0, nil, fmt.Errorf("workspace walk failed: %w", err)
		}
	}
	logging.Index("indexing pass starting: root=%s files=%d incremental=%v", root, len(files), changed != nil)

	type fileResult struct {
		path    string
		deleted bool
		chunks  []types.CodeChunk
		vecs    [][]float32
		edges   []types.SymbolEdge
	}

	var (
		mu       sync.Mutex
		results  []fileResult
		warnings []Warning
	)
	warn := func(path string, err error) {
		mu.Lock()
		warnings = append(warnings, Warning{Path: path, Err: err.Error()})
		mu.Unlock()
		logging.Index("skipping %s: %v", path, err)
	}

	workers := int64(p.cfg.Workers)
	if workers < 1 {
		workers = 1
	}
	sem := semaphore.NewWeighted(workers)
	g, gctx := errgroup.WithContext(ctx)

	for _, rel := range files {
		rel := rel
		if LanguageFor(rel) == "" {
			continue
		}
		g.Go(func() error {
			if err := sem.Acquire(gctx, 1); err != nil {
				return err
			}
			defer sem.Release(1)

			abs := filepath.Join(root, rel)
			content, err := os.ReadFile(abs)
			if err != nil {
				if os.IsNotExist(err) {
					mu.Lock()
					results = append(results, fileResult{path: rel, deleted: true})
					mu.Unlock()
					return nil
				}
				warn(rel, err)
				return nil
			}

			parsed, err := p.parser.Parse(gctx, rel, content)
			if err != nil {
				warn(rel, err)
				return nil
			}

			chunks := p.chunker.ChunkFile(rel, parsed.Language, content, parsed.Units)
			if len(chunks) == 0 {
				mu.Lock()
				results = append(results, fileResult{path: rel, deleted: true})
				mu.Unlock()
				return nil
			}

			texts := make([]string, len(chunks))
			for i, c := range chunks {
				texts[i] = c.Content
			}
			vecs, err := p.engine.EmbedBatch(gctx, texts)
			if err != nil {
				warn(rel, fmt.Errorf("embedding failed: %w", err))
				return nil
			}

			mu.Lock()
			results = append(results, fileResult{path: rel, chunks: chunks, vecs: vecs, edges: parsed.Edges})
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, nil, err
	}
	if err := ctx.Err(); err != nil {
		return 0, nil, err
	}

	// Deterministic apply order regardless of worker completion order.
	sort.Slice(results, func(i, j int) bool { return results[i].path < results[j].path })

	report := &Report{Warnings: warnings}
	for _, r := range results {
		if r.deleted {
			if err := p.index.DeleteFile(r.path); err != nil {
				return 0, nil, fmt.Errorf("failed to remove %s: %w", r.path, err)
			}
			report.Deleted++
			continue
		}
		if err := p.index.ReplaceFile(r.path, r.chunks, r.vecs, r.edges); err != nil {
			return 0, nil, fmt.Errorf("failed to index %s: %w", r.path, err)
		}
		report.Files++
		report.Chunks += len(r.chunks)
	}

	version, err := p.index.Publish()
	if err != nil {
		return 0, nil, err
	}

	logging.Index("indexing pass complete: version=%d files=%d chunks=%d deleted=%d warnings=%d",
		version, report.Files, report.Chunks, report.Deleted, len(warnings))
	return version, report, nil
}

// discover walks root collecting supported source files as root-relative
// paths, honoring the exclude list.
func (p *Pipeline) discover(root string) ([]string, error) {
	excluded := make(map[string]bool, len(p.cfg.Exclude))
	for _, e := range p.cfg.Exclude {
		excluded[e] = true
	}

	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if excluded[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if LanguageFor(path) == "" {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}
