// Package logging provides categorized file-based logging for bujji.
// Each subsystem writes to its own file under <workspace>/.bujji/logs/.
// When debug mode is off the whole package is a silent no-op.
package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category identifies a logging subsystem.
type Category string

const (
	CategoryBoot      Category = "boot"      // Startup and wiring
	CategoryStore     Category = "store"     // Persistent memory store
	CategoryIndex     Category = "index"     // Code indexing pipeline
	CategoryRetrieval Category = "retrieval" // Semantic retrieval index
	CategoryContext   Category = "context"   // Context assembly
	CategoryEmbedding Category = "embedding" // Embedding engine
	CategoryLLM       Category = "llm"       // Model-backed calls
	CategorySession   Category = "session"   // Session lifecycle
)

// Options controls logger behaviour. The config package owns the values;
// they are passed in here to avoid an import cycle.
type Options struct {
	Workspace  string
	DebugMode  bool
	Level      string          // debug | info | warn | error
	Categories map[string]bool // nil means all enabled
}

var (
	mu      sync.RWMutex
	loggers = make(map[Category]*zap.SugaredLogger)
	opts    Options
	nop     = zap.NewNop().Sugar()
)

// Initialize sets up the logging directory. Call once at startup.
func Initialize(o Options) error {
	mu.Lock()
	defer mu.Unlock()

	opts = o
	loggers = make(map[Category]*zap.SugaredLogger)

	if !o.DebugMode {
		return nil
	}
	if o.Workspace == "" {
		return fmt.Errorf("workspace path required")
	}
	logsDir := filepath.Join(o.Workspace, ".bujji", "logs")
	if err := os.MkdirAll(logsDir, 0755); err != nil {
		return fmt.Errorf("failed to create logs directory: %w", err)
	}
	return nil
}

func level() zapcore.Level {
	switch opts.Level {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func enabled(cat Category) bool {
	if !opts.DebugMode {
		return false
	}
	if opts.Categories == nil {
		return true
	}
	on, found := opts.Categories[string(cat)]
	return !found || on
}

// Get returns the logger for a category, creating it on first use.
func Get(cat Category) *zap.SugaredLogger {
	mu.RLock()
	if lg, ok := loggers[cat]; ok {
		mu.RUnlock()
		return lg
	}
	mu.RUnlock()

	mu.Lock()
	defer mu.Unlock()
	if lg, ok := loggers[cat]; ok {
		return lg
	}
	if !enabled(cat) {
		loggers[cat] = nop
		return nop
	}

	path := filepath.Join(opts.Workspace, ".bujji", "logs", string(cat)+".log")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		loggers[cat] = nop
		return nop
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.AddSync(f), level())
	lg := zap.New(core).Named(string(cat)).Sugar()
	loggers[cat] = lg
	return lg
}

// Convenience helpers, one pair per high-traffic category.

func Boot(format string, args ...interface{})           { Get(CategoryBoot).Infof(format, args...) }
func Store(format string, args ...interface{})          { Get(CategoryStore).Infof(format, args...) }
func StoreDebug(format string, args ...interface{})     { Get(CategoryStore).Debugf(format, args...) }
func Index(format string, args ...interface{})          { Get(CategoryIndex).Infof(format, args...) }
func IndexDebug(format string, args ...interface{})     { Get(CategoryIndex).Debugf(format, args...) }
func Retrieval(format string, args ...interface{})      { Get(CategoryRetrieval).Infof(format, args...) }
func RetrievalDebug(format string, args ...interface{}) { Get(CategoryRetrieval).Debugf(format, args...) }
func Context(format string, args ...interface{})        { Get(CategoryContext).Infof(format, args...) }
func ContextDebug(format string, args ...interface{})   { Get(CategoryContext).Debugf(format, args...) }
func Embedding(format string, args ...interface{})      { Get(CategoryEmbedding).Infof(format, args...) }
func EmbeddingDebug(format string, args ...interface{}) { Get(CategoryEmbedding).Debugf(format, args...) }
func LLM(format string, args ...interface{})            { Get(CategoryLLM).Infof(format, args...) }

// Timer measures the duration of an operation and logs it on Stop.
type Timer struct {
	cat   Category
	op    string
	start time.Time
}

// StartTimer begins timing an operation.
func StartTimer(cat Category, op string) *Timer {
	return &Timer{cat: cat, op: op, start: time.Now()}
}

// Stop logs the elapsed duration.
func (t *Timer) Stop() {
	Get(t.cat).Debugf("%s completed in %v", t.op, time.Since(t.start))
}
