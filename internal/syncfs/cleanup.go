package syncfs

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"
)

// ErrRefusedTargetEquality is returned when the workspace to remove is, or
// contains, one of the project's live target paths (§4.5.2 "Safety checks").
var ErrRefusedTargetEquality = errors.New("syncfs: workspace path equals or contains a target path, refusing to remove")

const (
	// immediateAttempts is the removal retry ceiling before falling back to
	// content-only removal / quarantine (§4.5.2).
	immediateAttempts = 3
	// immediateBackoffUnit is the linear backoff unit: attempt N waits
	// N*immediateBackoffUnit before retrying (§4.5.2 "500 ms × attempt").
	immediateBackoffUnit = 500 * time.Millisecond
	// deferredRetries is how many further background attempts run after
	// the immediate ladder and quarantine fallback are exhausted (§4.5.2).
	deferredRetries = 3
	// deferredBackoffUnit is 4x the immediate unit, per §4.5.2.
	deferredBackoffUnit = 4 * immediateBackoffUnit
)

// busyErrorMarkers are substrings of os error text that indicate a
// transient "file busy" condition worth retrying, as opposed to a
// permanent failure (permission denied, no such file, etc.) that a retry
// loop can't fix (§4.5.2 "retrying only on a 'busy' error code").
var busyErrorMarkers = []string{
	"device or resource busy",
	"resource busy",
	"directory not empty",
	"being used by another process",
	"text file busy",
}

func isBusyError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range busyErrorMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// Cleaner removes a deployment's ephemeral workspace directory, retrying
// through transient "file busy" conditions before giving up to a quarantine
// directory (§4.5.2).
type Cleaner struct {
	logger *slog.Logger
}

// New builds a Cleaner.
func NewCleaner(logger *slog.Logger) *Cleaner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cleaner{logger: logger}
}

// Remove deletes workspace entirely, refusing if it equals or contains any
// of targetPaths. It first tries a direct RemoveAll with linear backoff,
// retrying only on a busy-looking error, then a content-only removal
// (leaving the empty directory behind), then moves the tree into a
// quarantine directory under quarantineRoot; nothing in this package
// removes quarantined trees afterwards. On Windows, if quarantine fails, it
// calls killLingeringProcesses (which kills nothing) and tries one more
// RemoveAll. As a last resort it schedules deferredRetries further
// background removal attempts and returns an error to the caller without
// blocking on them.
func (c *Cleaner) Remove(workspace string, targetPaths []string, quarantineRoot string) error {
	for _, t := range targetPaths {
		if pathsConflict(workspace, t) {
			return ErrRefusedTargetEquality
		}
	}

	if _, err := os.Stat(workspace); os.IsNotExist(err) {
		return nil
	}

	if err := c.removeWithLinearBackoff(workspace); err == nil {
		return nil
	}

	c.logger.Warn("syncfs: full removal failed after retries, trying content-only removal", "workspace", workspace)
	if err := c.removeContentsOnly(workspace); err == nil {
		return nil
	}

	if quarantineRoot != "" {
		if err := c.quarantine(workspace, quarantineRoot); err == nil {
			return nil
		}
	}

	if runtime.GOOS == "windows" {
		c.killLingeringProcesses(workspace)
		if err := os.RemoveAll(workspace); err == nil {
			return nil
		}
	}

	c.scheduleDeferredRetries(workspace)
	return fmt.Errorf("syncfs: workspace %s scheduled for deferred removal", workspace)
}

// removeWithLinearBackoff retries os.RemoveAll up to immediateAttempts
// times with linear backoff, but only when the failure looks like a
// transient busy condition — a permission or not-found error aborts
// immediately instead of wasting the retry budget (§4.5.2).
func (c *Cleaner) removeWithLinearBackoff(workspace string) error {
	var lastErr error
	for attempt := 1; attempt <= immediateAttempts; attempt++ {
		lastErr = os.RemoveAll(workspace)
		if lastErr == nil {
			return nil
		}
		if !isBusyError(lastErr) {
			return lastErr
		}
		time.Sleep(time.Duration(attempt) * immediateBackoffUnit)
	}
	return lastErr
}

// scheduleDeferredRetries runs up to deferredRetries further RemoveAll
// attempts in the background at a linearly growing 4x delay, for whichever
// path is left behind (the original workspace, or wherever it ended up)
// once the immediate ladder and quarantine fallback are exhausted
// (§4.5.2). Never blocks the caller.
func (c *Cleaner) scheduleDeferredRetries(path string) {
	go func() {
		for attempt := 1; attempt <= deferredRetries; attempt++ {
			time.Sleep(time.Duration(attempt) * deferredBackoffUnit)
			if err := os.RemoveAll(path); err == nil {
				c.logger.Info("syncfs: deferred removal succeeded", "path", path, "attempt", attempt)
				return
			}
		}
		c.logger.Error("syncfs: deferred removal exhausted all attempts", "path", path)
	}()
}

func (c *Cleaner) removeContentsOnly(workspace string) error {
	entries, err := os.ReadDir(workspace)
	if err != nil {
		return err
	}
	var lastErr error
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(workspace, e.Name())); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

func (c *Cleaner) quarantine(workspace, quarantineRoot string) error {
	if err := os.MkdirAll(quarantineRoot, 0o755); err != nil {
		return err
	}
	dest := filepath.Join(quarantineRoot, filepath.Base(workspace)+fmt.Sprintf("-%d", time.Now().UnixNano()))
	if err := os.Rename(workspace, dest); err != nil {
		return err
	}
	c.logger.Info("syncfs: workspace quarantined for later cleanup", "from", workspace, "to", dest)
	return nil
}

// killLingeringProcesses is the hook in the retry ladder described in
// §4.5.2 for Windows, where open handles from a still-running process block
// deletion. It is a no-op: it enumerates and kills no process. The only
// process teardown before Remove is the pipeline shell session's own
// (internal/process).
func (c *Cleaner) killLingeringProcesses(workspace string) {}

func pathsConflict(workspace, target string) bool {
	wsAbs, err1 := filepath.Abs(workspace)
	tAbs, err2 := filepath.Abs(target)
	if err1 != nil || err2 != nil {
		return workspace == target
	}
	if wsAbs == tAbs {
		return true
	}
	rel, err := filepath.Rel(wsAbs, tAbs)
	if err != nil {
		return false
	}
	return rel != ".." && !hasDotDotPrefix(rel)
}

func hasDotDotPrefix(rel string) bool {
	return len(rel) >= 2 && rel[0] == '.' && rel[1] == '.'
}
