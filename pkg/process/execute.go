package process

import (
	stderrors "errors"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/core-tools/site-analyzer-coordinator/pkg/errors"
	"github.com/core-tools/site-analyzer-coordinator/pkg/logging"
)

type ExecutionConfig struct {
	ExecutablePath   string        `yaml:"executable_path"`
	Args             []string      `yaml:"args,omitempty"`
	Environment      []string      `yaml:"environment,omitempty"`
	WorkingDirectory string        `yaml:"working_directory,omitempty"`
	WaitDelay        time.Duration `yaml:"wait_delay,omitempty"`
}

// Spawned is a started child with its two output streams.
// The streams are plain pipes owned by the caller; Wait does not close them.
type Spawned struct {
	Cmd    *exec.Cmd
	Stdout io.ReadCloser
	Stderr io.ReadCloser
}

func (s *Spawned) PID() int {
	return s.Cmd.Process.Pid
}

// Execute starts the configured command in its own process group.
// Every failure to get the child running is reported as a spawn failure.
func Execute(execution ExecutionConfig, id string, logger logging.Logger) (*Spawned, error) {
	if err := ValidateExecutionConfig(execution); err != nil {
		logger.Errorf("Execution configuration validation failed, id: %s, error: %v", id, err)
		return nil, errors.NewValidationError("invalid execution configuration", err).WithContext("id", id)
	}

	workDir := execution.WorkingDirectory
	if workDir != "" {
		absDir, err := filepath.Abs(workDir)
		if err != nil {
			return nil, errors.NewSpawnFailure("failed to resolve working directory "+workDir, err)
		}
		workDir = absDir
	}

	executable, err := resolveExecutable(execution.ExecutablePath, workDir)
	if err != nil {
		logger.Errorf("Cannot spawn process, id: %s, executable: %s, error: %v", id, execution.ExecutablePath, err)
		return nil, err
	}

	logger.Debugf("Executing process, id: %s, executable path: '%s', args: %v, working directory: '%s'",
		id, executable, execution.Args, workDir)

	cmd := exec.Command(executable, execution.Args...)
	cmd.Dir = workDir
	cmd.Env = append(os.Environ(), execution.Environment...)
	cmd.WaitDelay = execution.WaitDelay

	// Platform-specific setup is in execute_unix.go / execute_windows.go
	setupProcessAttributes(cmd)

	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		return nil, errors.NewSpawnFailure("failed to create stdout pipe", err)
	}
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		stdoutR.Close()
		stdoutW.Close()
		return nil, errors.NewSpawnFailure("failed to create stderr pipe", err)
	}
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW

	startErr := cmd.Start()

	// the child holds its own copies of the write ends
	stdoutW.Close()
	stderrW.Close()

	if startErr != nil {
		stdoutR.Close()
		stderrR.Close()
		logger.Errorf("Failed to start process, id: %s, executable: %s, error: %v", id, executable, startErr)
		return nil, errors.NewSpawnFailure("failed to start "+execution.ExecutablePath, startErr)
	}

	logger.Infof("Successfully executed process, id: %s, PID: %d", id, cmd.Process.Pid)

	return &Spawned{Cmd: cmd, Stdout: stdoutR, Stderr: stderrR}, nil
}

// resolveExecutable finds the binary the way a shell would and checks it can be run.
// Bare names go through PATH; paths with separators are taken relative to workDir.
func resolveExecutable(path string, workDir string) (string, error) {
	if !strings.ContainsRune(path, '/') && !strings.ContainsRune(path, filepath.Separator) {
		resolved, err := exec.LookPath(path)
		if err != nil && !stderrors.Is(err, exec.ErrDot) {
			return "", errors.NewSpawnFailure("executable not found: "+path, err)
		}
		return resolved, nil
	}

	if !filepath.IsAbs(path) && workDir != "" {
		path = filepath.Join(workDir, path)
	}

	info, err := os.Stat(path)
	if err != nil {
		if os.IsPermission(err) {
			return "", errors.NewSpawnFailure("permission denied: "+path, err)
		}
		return "", errors.NewSpawnFailure("executable not found: "+path, err)
	}
	if info.IsDir() {
		return "", errors.NewSpawnFailure("executable is a directory: "+path, nil)
	}

	// Windows decides executability by extension
	if runtime.GOOS != "windows" && info.Mode()&0111 == 0 {
		return "", errors.NewSpawnFailure("permission denied: "+path+" is not executable", os.ErrPermission)
	}

	return path, nil
}
