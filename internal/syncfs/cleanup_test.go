package syncfs_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deploycenter/deploy-center/internal/syncfs"
)

func TestCleaner_Remove_DeletesWorkspace(t *testing.T) {
	root := t.TempDir()
	ws := filepath.Join(root, "workspace")
	writeFile(t, filepath.Join(ws, "file.txt"), "data")

	c := syncfs.NewCleaner(nil)
	require.NoError(t, c.Remove(ws, nil, filepath.Join(root, "quarantine")))
	assert.NoDirExists(t, ws)
}

func TestCleaner_Remove_MissingWorkspaceIsNotAnError(t *testing.T) {
	c := syncfs.NewCleaner(nil)
	assert.NoError(t, c.Remove(filepath.Join(t.TempDir(), "missing"), nil, ""))
}

func TestCleaner_Remove_RefusesWhenWorkspaceEqualsTarget(t *testing.T) {
	root := t.TempDir()
	ws := filepath.Join(root, "workspace")
	require.NoError(t, os.MkdirAll(ws, 0o755))

	c := syncfs.NewCleaner(nil)
	err := c.Remove(ws, []string{ws}, "")
	assert.ErrorIs(t, err, syncfs.ErrRefusedTargetEquality)
	assert.DirExists(t, ws)
}

func TestCleaner_Remove_RefusesWhenWorkspaceContainsTarget(t *testing.T) {
	root := t.TempDir()
	ws := filepath.Join(root, "workspace")
	target := filepath.Join(ws, "public")
	require.NoError(t, os.MkdirAll(target, 0o755))

	c := syncfs.NewCleaner(nil)
	err := c.Remove(ws, []string{target}, "")
	assert.ErrorIs(t, err, syncfs.ErrRefusedTargetEquality)
}
