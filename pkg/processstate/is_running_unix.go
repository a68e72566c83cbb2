//go:build !windows

package processstate

import (
	stderrors "errors"
	"os"
	"syscall"

	"github.com/core-tools/site-analyzer-coordinator/pkg/errors"
)

// IsProcessRunning reports whether pid refers to a live process
func IsProcessRunning(pid int) (bool, error) {
	if pid <= 0 {
		return false, errors.NewValidationError("invalid PID", nil).WithContext("pid", pid)
	}

	// FindProcess always succeeds on unix; signal 0 tests existence
	process, err := os.FindProcess(pid)
	if err != nil {
		return false, errors.NewProcessError("failed to find process", err).WithContext("pid", pid)
	}

	err = process.Signal(syscall.Signal(0))
	if err == nil {
		return true, nil
	}
	if stderrors.Is(err, os.ErrProcessDone) {
		return false, nil
	}

	var errno syscall.Errno
	if !stderrors.As(err, &errno) {
		return false, errors.NewProcessError("failed to signal process", err).WithContext("pid", pid)
	}
	switch errno {
	case syscall.ESRCH:
		return false, nil
	case syscall.EPERM:
		// exists but owned by someone else
		return true, nil
	}
	return false, errors.NewProcessError("failed to signal process", err).WithContext("pid", pid)
}
