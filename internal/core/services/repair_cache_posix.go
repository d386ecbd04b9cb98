//go:build !windows

package services

import (
	"os"
	"path/filepath"
)

// repairCacheOwnership implements §4.2 step 5's "best-effort repair of the
// package-manager cache ownership": recursively chown each well-known
// package-manager cache directory that exists to the process's own
// uid/gid, so a deploy left running as a different owner doesn't repeatedly
// hit permission-denied on npm/yarn/pnpm/composer installs. Every failure is
// swallowed; this is a best-effort pass, never a fatal precondition.
func repairCacheOwnership() {
	uid, gid := os.Geteuid(), os.Getegid()
	if uid < 0 || gid < 0 {
		return
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return
	}

	for _, dir := range []string{
		filepath.Join(home, ".npm"),
		filepath.Join(home, ".cache", "yarn"),
		filepath.Join(home, ".cache", "pnpm"),
		filepath.Join(home, ".composer", "cache"),
		filepath.Join(home, ".cache", "composer"),
	} {
		chownTree(dir, uid, gid)
	}
}

func chownTree(root string, uid, gid int) {
	info, err := os.Lstat(root)
	if err != nil {
		return
	}
	if !info.IsDir() {
		_ = os.Chown(root, uid, gid)
		return
	}
	_ = filepath.Walk(root, func(path string, _ os.FileInfo, walkErr error) error {
		if walkErr != nil {
			return nil //nolint:nilerr // best-effort
		}
		_ = os.Chown(path, uid, gid)
		return nil
	})
}
