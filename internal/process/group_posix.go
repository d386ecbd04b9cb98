//go:build !windows

package process

import (
	"os/exec"
	"syscall"
	"time"
)

// posixGroup runs the child as a session leader so the entire process
// group can be signalled as a unit (§4.3, §9).
type posixGroup struct{}

// New returns the platform-appropriate Group implementation.
func New() Group { return posixGroup{} }

func (posixGroup) Setup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
}

func (posixGroup) TerminateGracefully(cmd *exec.Cmd, timeout time.Duration) error {
	if cmd.Process == nil {
		return nil
	}
	pgid := cmd.Process.Pid
	if err := syscall.Kill(-pgid, syscall.SIGTERM); err != nil {
		return err
	}

	done := make(chan struct{})
	go func() {
		_, _ = cmd.Process.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return posixGroup{}.Kill(cmd)
	}
}

func (posixGroup) Kill(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
}
