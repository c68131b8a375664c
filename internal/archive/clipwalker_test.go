package archive

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type memLedger struct {
	mu      sync.Mutex
	records map[string]struct {
		modTime time.Time
		size    int64
	}
}

func newMemLedger() *memLedger {
	return &memLedger{records: make(map[string]struct {
		modTime time.Time
		size    int64
	})}
}

func (l *memLedger) ShouldArchive(relPath string, modTime time.Time, size int64) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.records[relPath]
	if !ok {
		return true, nil
	}
	return !rec.modTime.Equal(modTime) || rec.size != size, nil
}

func (l *memLedger) RecordArchived(relPath string, modTime time.Time, size int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records[relPath] = struct {
		modTime time.Time
		size    int64
	}{modTime, size}
	return nil
}

func TestClipWalkerCopiesNewClipsAndSkipsOnReArchive(t *testing.T) {
	src := t.TempDir()
	dest := t.TempDir()

	savedDir := filepath.Join(src, "TeslaCam", "SavedClips")
	require.NoError(t, os.MkdirAll(savedDir, 0o750))
	clipPath := filepath.Join(savedDir, "2026-01-01_12-00-00-front.mp4")
	require.NoError(t, os.WriteFile(clipPath, []byte("clip bytes"), 0o640))

	ledger := newMemLedger()
	w := &ClipWalker{Ledger: ledger}

	err := w.Archive(context.Background(), Request{
		SourceRoot:  src,
		Destination: dest,
		Roots:       ClipRoots{SavedClips: true},
	})
	require.NoError(t, err)

	copied := filepath.Join(dest, "TeslaCam", "SavedClips", "2026-01-01_12-00-00-front.mp4")
	data, err := os.ReadFile(copied)
	require.NoError(t, err)
	require.Equal(t, "clip bytes", string(data))

	// Re-archiving without modification must not error and the ledger
	// should already report the clip as not needing archiving.
	info, err := os.Stat(clipPath)
	require.NoError(t, err)
	should, err := ledger.ShouldArchive("TeslaCam/SavedClips/2026-01-01_12-00-00-front.mp4", info.ModTime(), info.Size())
	require.NoError(t, err)
	require.False(t, should)
}

func TestClipWalkerSkipsUnselectedRoots(t *testing.T) {
	src := t.TempDir()
	dest := t.TempDir()

	sentryDir := filepath.Join(src, "TeslaCam", "SentryClips")
	require.NoError(t, os.MkdirAll(sentryDir, 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(sentryDir, "clip.mp4"), []byte("x"), 0o640))

	ledger := newMemLedger()
	w := &ClipWalker{Ledger: ledger}

	err := w.Archive(context.Background(), Request{
		SourceRoot:  src,
		Destination: dest,
		Roots:       ClipRoots{SavedClips: true}, // SentryClips not selected
	})
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(dest, "TeslaCam", "SentryClips", "clip.mp4"))
	require.True(t, os.IsNotExist(err))
}
