package coordinator

import (
	"fmt"

	"github.com/core-tools/site-analyzer-coordinator/pkg/bridge"
	"github.com/core-tools/site-analyzer-coordinator/pkg/errors"
	"github.com/core-tools/site-analyzer-coordinator/pkg/frontend"
	"github.com/core-tools/site-analyzer-coordinator/pkg/gateway"
	"github.com/core-tools/site-analyzer-coordinator/pkg/processfile"
	"github.com/core-tools/site-analyzer-coordinator/pkg/readiness"
	"github.com/core-tools/site-analyzer-coordinator/pkg/supervisor"
)

var validLogLevels = []string{"debug", "info", "warn", "error"}

// ValidateConfig validates the entire configuration structure
func ValidateConfig(config *Config) error {
	if config == nil {
		return errors.NewValidationError("configuration cannot be nil", nil)
	}

	if err := validateCoordinatorOptions(config.Coordinator); err != nil {
		return errors.NewValidationError("invalid coordinator configuration", err)
	}
	if err := config.Service.Validate(); err != nil {
		return errors.NewValidationError("invalid service configuration", err)
	}
	if err := supervisor.ValidateConfig(config.Backend); err != nil {
		return errors.NewValidationError("invalid backend configuration", err)
	}
	if err := gateway.ValidateOptions(config.Gateway); err != nil {
		return errors.NewValidationError("invalid gateway configuration", err)
	}
	if err := readiness.ValidateOptions(config.Readiness); err != nil {
		return errors.NewValidationError("invalid readiness configuration", err)
	}
	if err := bridge.ValidateOptions(config.Bridge); err != nil {
		return errors.NewValidationError("invalid bridge configuration", err)
	}
	if err := frontend.ValidateConfig(config.Frontend); err != nil {
		return errors.NewValidationError("invalid frontend configuration", err)
	}
	if err := validateLogLevel(config.Logging.Level); err != nil {
		return errors.NewValidationError("invalid logging configuration", err)
	}
	if err := processfile.ValidateConfig(config.ProcessFile); err != nil {
		return errors.NewValidationError("invalid process file configuration", err)
	}
	return nil
}

func validateCoordinatorOptions(options CoordinatorOptions) error {
	if options.ControlPort < 0 || options.ControlPort > 65535 {
		return errors.NewValidationError(
			fmt.Sprintf("invalid control port number: %d", options.ControlPort),
			nil,
		).WithContext("valid_range", "0-65535")
	}
	if options.ForceShutdownTimeout < 0 {
		return errors.NewValidationError("force shutdown timeout cannot be negative", nil)
	}
	return nil
}

func validateLogLevel(level string) error {
	if level == "" {
		return nil
	}
	for _, valid := range validLogLevels {
		if level == valid {
			return nil
		}
	}
	return errors.NewValidationError(
		fmt.Sprintf("invalid log level: %s", level),
		nil,
	).WithContext("valid_levels", "debug, info, warn, error")
}
