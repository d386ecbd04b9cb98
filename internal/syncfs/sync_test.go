package syncfs_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deploycenter/deploy-center/internal/syncfs"
)

func writeFile(t *testing.T, path, contents string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
}

func TestSyncer_Publish_CopiesNewFilesAndPreservesProtected(t *testing.T) {
	src := t.TempDir()
	target := t.TempDir()

	writeFile(t, filepath.Join(src, "index.html"), "hello")
	writeFile(t, filepath.Join(src, "assets", "app.js"), "console.log(1)")
	writeFile(t, filepath.Join(target, ".env"), "SECRET=1")
	writeFile(t, filepath.Join(target, "uploads", "photo.png"), "binary")

	s := syncfs.New(nil)
	results, err := s.Publish(src, []string{target}, nil, "")
	require.NoError(t, err)
	require.Len(t, results, 1)

	assert.FileExists(t, filepath.Join(target, "index.html"))
	assert.FileExists(t, filepath.Join(target, "assets", "app.js"))
	assert.FileExists(t, filepath.Join(target, ".env"))
	assert.FileExists(t, filepath.Join(target, "uploads", "photo.png"))
}

func TestSyncer_Publish_RemovesStaleFilesNotInSrc(t *testing.T) {
	src := t.TempDir()
	target := t.TempDir()

	writeFile(t, filepath.Join(src, "keep.txt"), "v2")
	writeFile(t, filepath.Join(target, "keep.txt"), "v1")
	writeFile(t, filepath.Join(target, "stale.txt"), "old")

	s := syncfs.New(nil)
	_, err := s.Publish(src, []string{target}, nil, "")
	require.NoError(t, err)

	assert.FileExists(t, filepath.Join(target, "keep.txt"))
	assert.NoFileExists(t, filepath.Join(target, "stale.txt"))

	contents, err := os.ReadFile(filepath.Join(target, "keep.txt"))
	require.NoError(t, err)
	assert.Equal(t, "v2", string(contents))
}

func TestSyncer_Publish_ExtraIgnorePatternsAreUnioned(t *testing.T) {
	src := t.TempDir()
	target := t.TempDir()

	writeFile(t, filepath.Join(src, "vendor", "lib.php"), "new")
	writeFile(t, filepath.Join(target, "vendor", "lib.php"), "old")

	s := syncfs.New(nil)
	_, err := s.Publish(src, []string{target}, []string{"vendor/**"}, "")
	require.NoError(t, err)

	contents, err := os.ReadFile(filepath.Join(target, "vendor", "lib.php"))
	require.NoError(t, err)
	assert.Equal(t, "old", string(contents), "vendor/** should have been preserved, not overwritten")
}

func TestSyncer_Publish_MultipleTargetsAggregatesResults(t *testing.T) {
	src := t.TempDir()
	writeFile(t, filepath.Join(src, "a.txt"), "a")

	t1, t2 := t.TempDir(), t.TempDir()
	s := syncfs.New(nil)
	results, err := s.Publish(src, []string{t1, t2}, nil, "")
	require.NoError(t, err)
	assert.Len(t, results, 2)
	assert.FileExists(t, filepath.Join(t1, "a.txt"))
	assert.FileExists(t, filepath.Join(t2, "a.txt"))
}
