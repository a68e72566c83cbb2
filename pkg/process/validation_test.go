package process

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/core-tools/site-analyzer-coordinator/pkg/errors"
)

func TestValidateExecutionConfig(t *testing.T) {
	tests := []struct {
		name      string
		config    ExecutionConfig
		shouldErr bool
	}{
		{
			name: "valid_config",
			config: ExecutionConfig{
				ExecutablePath: "python",
				Args:           []string{"-m", "uvicorn", "main:app"},
				Environment:    []string{"PYTHONUNBUFFERED=1"},
				WaitDelay:      time.Second,
			},
		},
		{
			name:      "missing_executable_is_not_a_validation_error",
			config:    ExecutionConfig{ExecutablePath: "/definitely/not/here"},
			shouldErr: false,
		},
		{
			name:      "empty_executable",
			config:    ExecutionConfig{ExecutablePath: "  "},
			shouldErr: true,
		},
		{
			name:      "invalid_environment",
			config:    ExecutionConfig{ExecutablePath: "python", Environment: []string{"NOVALUE"}},
			shouldErr: true,
		},
		{
			name:      "empty_env_key",
			config:    ExecutionConfig{ExecutablePath: "python", Environment: []string{"=x"}},
			shouldErr: true,
		},
		{
			name:      "negative_wait_delay",
			config:    ExecutionConfig{ExecutablePath: "python", WaitDelay: -time.Second},
			shouldErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateExecutionConfig(tt.config)
			if tt.shouldErr {
				assert.Error(t, err)
				assert.True(t, errors.IsValidationError(err))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
