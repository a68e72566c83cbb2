//go:build windows

package process

import (
	"os"
	"syscall"

	"github.com/core-tools/site-analyzer-coordinator/pkg/errors"
	"github.com/core-tools/site-analyzer-coordinator/pkg/processstate"
)

// SendTerminationSignal sends Ctrl+Break to the child's process group, falling back to Kill
// when the console event cannot be delivered.
func SendTerminationSignal(pid int) error {
	if pid <= 0 {
		return errors.NewValidationError("invalid PID", nil).WithContext("pid", pid)
	}

	if running, _ := processstate.IsProcessRunning(pid); !running {
		return nil
	}

	if err := generateConsoleCtrlEvent(pid); err == nil {
		return nil
	}
	return KillProcessGroup(pid)
}

func KillProcessGroup(pid int) error {
	if pid <= 0 {
		return errors.NewValidationError("invalid PID", nil).WithContext("pid", pid)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return nil
	}
	if err := process.Kill(); err != nil {
		return errors.NewProcessError("failed to kill process", err).WithContext("pid", pid)
	}
	return nil
}

func generateConsoleCtrlEvent(pid int) error {
	dll, err := syscall.LoadDLL("kernel32.dll")
	if err != nil {
		return err
	}
	defer dll.Release()

	proc, err := dll.FindProc("GenerateConsoleCtrlEvent")
	if err != nil {
		return err
	}

	result, _, err := proc.Call(uintptr(syscall.CTRL_BREAK_EVENT), uintptr(pid))
	if result == 0 {
		return err
	}
	return nil
}
