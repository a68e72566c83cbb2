package process

import (
	"strings"

	"github.com/core-tools/site-analyzer-coordinator/pkg/errors"
)

// ValidateExecutionConfig checks the shape of the configuration only.
// Whether the executable exists is decided at spawn time and reported as a spawn failure.
func ValidateExecutionConfig(config ExecutionConfig) error {
	if strings.TrimSpace(config.ExecutablePath) == "" {
		return errors.NewValidationError("executable path is required", nil)
	}

	for _, env := range config.Environment {
		if !strings.Contains(env, "=") || strings.HasPrefix(env, "=") {
			return errors.NewValidationError("invalid environment variable format: "+env, nil)
		}
	}

	if config.WaitDelay < 0 {
		return errors.NewValidationError("wait delay cannot be negative", nil)
	}

	return nil
}
