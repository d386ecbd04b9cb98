package syncfs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/deploycenter/deploy-center/internal/process"
)

// defaultRsyncOptions is used whenever a project leaves RsyncOptions empty
// (§4.5.1 "default 'archive + delete-extraneous'").
const defaultRsyncOptions = "-a --delete"

// rsyncTimeout bounds a single rsync invocation (§4.5.1, §5 suspension-point
// caps).
const rsyncTimeout = 5 * time.Minute

// PublishResult reports what one target path's sync did, for the step log
// and audit trail (§4.5.1).
type PublishResult struct {
	TargetPath string
	Copied     int
	Removed    int
	Preserved  int
	UsedRsync  bool
}

// Syncer publishes a build's output directory into one or more production
// target paths, preserving a fixed+per-project pattern set (§4.5.1).
type Syncer struct {
	logger *slog.Logger
}

// New builds a Syncer.
func New(logger *slog.Logger) *Syncer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Syncer{logger: logger}
}

// Publish syncs src into each of targets, unioning FixedPreservePatterns with
// extraIgnore for every target. Errors for independent targets are
// aggregated rather than aborting the whole publish (§4.5.1 "per target path
// error handling").
func (s *Syncer) Publish(src string, targets []string, extraIgnore []string, rsyncOptions string) ([]PublishResult, error) {
	matcher := NewMatcher(extraIgnore)

	var results []PublishResult
	var errs []error
	for _, target := range targets {
		res, err := s.publishOne(src, target, matcher, rsyncOptions)
		if err != nil {
			errs = append(errs, fmt.Errorf("publish %s: %w", target, err))
			continue
		}
		results = append(results, res)
	}
	if len(errs) > 0 {
		return results, errors.Join(errs...)
	}
	return results, nil
}

func (s *Syncer) publishOne(src, target string, matcher *Matcher, rsyncOptions string) (PublishResult, error) {
	res := PublishResult{TargetPath: target}

	if err := os.MkdirAll(target, 0o755); err != nil {
		return res, fmt.Errorf("create target: %w", err)
	}

	if rsyncPath, err := exec.LookPath("rsync"); err == nil {
		if err := s.rsyncPublish(rsyncPath, src, target, matcher, rsyncOptions); err == nil {
			res.UsedRsync = true
			return res, nil
		}
		s.logger.Warn("syncfs: rsync invocation failed, falling back to manual sync", "target", target)
	}

	copied, removed, preserved, err := manualSync(src, target, matcher)
	res.Copied, res.Removed, res.Preserved = copied, removed, preserved
	return res, err
}

// rsyncPublish shells out to rsync with the project's RsyncOptions (falling
// back to the archive+delete default when empty) plus one --exclude per
// preserve pattern, under a hard timeout that kills the whole process tree
// on expiry (§4.5.1, §5).
func (s *Syncer) rsyncPublish(rsyncBin, src, target string, matcher *Matcher, rsyncOptions string) error {
	if rsyncOptions == "" {
		rsyncOptions = defaultRsyncOptions
	}
	args := strings.Fields(rsyncOptions)
	for _, p := range matcher.patterns {
		pattern := p.raw
		if p.isTree {
			pattern = p.treeRoot + "/"
		}
		args = append(args, "--exclude="+pattern)
	}
	args = append(args, ensureTrailingSlash(src), target)

	ctx, cancel := context.WithTimeout(context.Background(), rsyncTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, rsyncBin, args...)
	grp := process.New()
	grp.Setup(cmd)
	cmd.Cancel = func() error { return grp.Kill(cmd) }

	out, err := cmd.CombinedOutput()
	if ctx.Err() == context.DeadlineExceeded {
		_ = grp.Kill(cmd)
		return fmt.Errorf("rsync: timed out after %s", rsyncTimeout)
	}
	if err != nil {
		return fmt.Errorf("rsync: %w: %s", err, string(out))
	}
	return nil
}

// manualSync implements the two-pass copy-then-delete fallback (§4.5.1):
// first copy every non-preserved file from src into target, then remove any
// file under target that no longer exists in src and is not preserved.
func manualSync(src, target string, matcher *Matcher) (copied, removed, preserved int, err error) {
	err = filepath.WalkDir(src, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		rel, relErr := filepath.Rel(src, path)
		if relErr != nil {
			return relErr
		}
		if rel == "." {
			return nil
		}
		if matcher.Match(rel) {
			preserved++
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		dstPath := filepath.Join(target, rel)
		if d.IsDir() {
			return os.MkdirAll(dstPath, 0o755)
		}
		if err := copyFile(path, dstPath); err != nil {
			return err
		}
		copied++
		return nil
	})
	if err != nil {
		return copied, removed, preserved, fmt.Errorf("copy pass: %w", err)
	}

	err = filepath.WalkDir(target, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return nil //nolint:nilerr // best-effort delete pass
		}
		rel, relErr := filepath.Rel(target, path)
		if relErr != nil || rel == "." {
			return nil
		}
		if matcher.Match(rel) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		srcPath := filepath.Join(src, rel)
		if _, statErr := os.Stat(srcPath); os.IsNotExist(statErr) {
			if d.IsDir() {
				_ = os.RemoveAll(path)
				removed++
				return filepath.SkipDir
			}
			if rmErr := os.Remove(path); rmErr == nil {
				removed++
			}
		}
		return nil
	})
	if err != nil {
		return copied, removed, preserved, fmt.Errorf("delete pass: %w", err)
	}

	return copied, removed, preserved, nil
}

func copyFile(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp := dst + fmt.Sprintf(".tmp-%d", time.Now().UnixNano())
	out, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(tmp)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, dst)
}

func ensureTrailingSlash(p string) string {
	if len(p) == 0 || p[len(p)-1] == '/' {
		return p
	}
	return p + "/"
}
