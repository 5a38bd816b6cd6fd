package index

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"bujji/internal/logging"
)

// Watcher keeps the index fresh by batching filesystem events into
// incremental pipeline passes. Events are debounced so a burst of saves
// (editor autosave, branch switch) triggers one pass, not dozens.
type Watcher struct {
	pipeline *Pipeline
	root     string
	debounce time.Duration

	fsw     *fsnotify.Watcher
	cancel  context.CancelFunc
	done    chan struct{}
	started bool

	mu      sync.Mutex
	pending map[string]bool
}

// NewWatcher creates a watcher over the workspace root. Call Start to begin.
func NewWatcher(pipeline *Pipeline, root string, debounce time.Duration) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if debounce <= 0 {
		debounce = 2 * time.Second
	}
	return &Watcher{
		pipeline: pipeline,
		root:     root,
		debounce: debounce,
		fsw:      fsw,
		pending:  make(map[string]bool),
		done:     make(chan struct{}),
	}, nil
}

// Start watches the root and every non-excluded subdirectory.
func (w *Watcher) Start(ctx context.Context) error {
	excluded := make(map[string]bool, len(w.pipeline.cfg.Exclude))
	for _, e := range w.pipeline.cfg.Exclude {
		excluded[e] = true
	}

	dirs := []string{w.root}
	files, err := w.pipeline.discover(w.root)
	if err != nil {
		return err
	}
	seen := map[string]bool{w.root: true}
	for _, f := range files {
		dir := filepath.Join(w.root, filepath.Dir(f))
		if !seen[dir] {
			seen[dir] = true
			dirs = append(dirs, dir)
		}
	}
	for _, dir := range dirs {
		if excluded[filepath.Base(dir)] {
			continue
		}
		if err := w.fsw.Add(dir); err != nil {
			logging.IndexDebug("watch failed for %s: %v", dir, err)
		}
	}

	wctx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.started = true
	go w.loop(wctx)
	logging.Index("watcher started: root=%s dirs=%d debounce=%v", w.root, len(dirs), w.debounce)
	return nil
}

// Stop shuts the watcher down and waits for the loop to exit. Safe to call
// when Start was never called or returned an error.
func (w *Watcher) Stop() error {
	if w.cancel != nil {
		w.cancel()
	}
	err := w.fsw.Close()
	if w.started {
		<-w.done
	}
	return err
}

func (w *Watcher) loop(ctx context.Context) {
	defer close(w.done)

	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}

	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if !w.relevant(ev) {
				continue
			}
			rel, err := filepath.Rel(w.root, ev.Name)
			if err != nil {
				continue
			}
			w.mu.Lock()
			w.pending[filepath.ToSlash(rel)] = true
			w.mu.Unlock()
			timer.Reset(w.debounce)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			logging.IndexDebug("watcher error: %v", err)

		case <-timer.C:
			w.flush(ctx)
		}
	}
}

func (w *Watcher) relevant(ev fsnotify.Event) bool {
	if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
		return false
	}
	if LanguageFor(ev.Name) == "" {
		return false
	}
	return !strings.Contains(ev.Name, string(filepath.Separator)+".bujji"+string(filepath.Separator))
}

func (w *Watcher) flush(ctx context.Context) {
	w.mu.Lock()
	if len(w.pending) == 0 {
		w.mu.Unlock()
		return
	}
	changed := make([]string, 0, len(w.pending))
	for path := range w.pending {
		changed = append(changed, path)
	}
	w.pending = make(map[string]bool)
	w.mu.Unlock()

	if _, _, err := w.pipeline.Run(ctx, w.root, changed); err != nil {
		logging.Index("incremental pass failed: %v", err)
	}
}
