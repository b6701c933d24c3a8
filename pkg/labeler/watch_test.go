package labeler

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWatcher(t *testing.T) {
	s := newTestSession(t)
	dir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(dir, "flight2"), 0o755))

	w, err := NewWatcher(s, dir)
	require.NoError(t, err)
	added := make(chan string, 10)
	w.Added = func(path string) { added <- path }

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))
	path := writeMultispectral(t, filepath.Join(dir, "flight2"), "IMG_0007_1.tif", 8, 8)

	select {
	case got := <-added:
		require.Equal(t, path, got)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for the watcher")
	}

	require.Eventually(t, func() bool {
		n := 0
		_ = w.Do(func(s *Session) error {
			n = len(s.Project().Originals)
			return nil
		})
		return n == 1
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}
