//go:build !windows

package process

import (
	stderrors "errors"
	"syscall"

	"github.com/core-tools/site-analyzer-coordinator/pkg/errors"
)

// SendTerminationSignal sends SIGTERM to the process group led by pid
func SendTerminationSignal(pid int) error {
	return signalGroup(pid, syscall.SIGTERM)
}

// KillProcessGroup sends SIGKILL to the process group led by pid
func KillProcessGroup(pid int) error {
	return signalGroup(pid, syscall.SIGKILL)
}

func signalGroup(pid int, signal syscall.Signal) error {
	if pid <= 0 {
		return errors.NewValidationError("invalid PID", nil).WithContext("pid", pid)
	}

	err := syscall.Kill(-pid, signal)
	if err == nil || stderrors.Is(err, syscall.ESRCH) {
		// ESRCH: the group is already gone
		return nil
	}
	return errors.NewProcessError("failed to signal process group", err).
		WithContext("pid", pid).
		WithContext("signal", signal.String())
}
