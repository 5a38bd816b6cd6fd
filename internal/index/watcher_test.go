package index

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatcherStartAndStop(t *testing.T) {
	root := writeWorkspace(t, map[string]string{
		"a.go": "package p\n\nfunc A() {}\n",
	})
	p, _ := newTestPipeline(t)

	w, err := NewWatcher(p, root, 50*time.Millisecond)
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))
	require.NoError(t, w.Stop())
}

func TestWatcherStopWithoutStart(t *testing.T) {
	p, _ := newTestPipeline(t)

	w, err := NewWatcher(p, t.TempDir(), time.Second)
	require.NoError(t, err)
	require.NoError(t, w.Stop(), "Stop must not block when the loop never ran")
}

func TestWatcherStopAfterFailedStart(t *testing.T) {
	p, _ := newTestPipeline(t)

	w, err := NewWatcher(p, filepath.Join(t.TempDir(), "missing"), time.Second)
	require.NoError(t, err)
	assert.Error(t, w.Start(context.Background()), "a nonexistent root cannot be watched")
	require.NoError(t, w.Stop())
}
