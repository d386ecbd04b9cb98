// Package process abstracts platform-specific process-tree control behind
// a small interface so the orchestrator and pipeline runner depend only on
// TerminateGracefully/Kill, never on syscall-level group semantics directly
// (§9 design note).
package process

import (
	"os/exec"
	"time"
)

// Group controls the process tree rooted at a *exec.Cmd as a unit.
type Group interface {
	// Setup configures cmd (before Start) to run as an isolated process
	// group / job object so the whole tree can be signalled together.
	Setup(cmd *exec.Cmd)
	// TerminateGracefully sends the platform's graceful-stop signal and
	// waits up to timeout for the tree to exit.
	TerminateGracefully(cmd *exec.Cmd, timeout time.Duration) error
	// Kill force-kills the entire process tree.
	Kill(cmd *exec.Cmd) error
}

// GracefulStopGrace is the grace period between SIGTERM and SIGKILL on
// POSIX platforms (§5 "Cancellation").
const GracefulStopGrace = 1 * time.Second
