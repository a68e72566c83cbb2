package coordinator

import (
	"context"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/core-tools/site-analyzer-coordinator/pkg/errors"
	"github.com/core-tools/site-analyzer-coordinator/pkg/frontend"
	"github.com/core-tools/site-analyzer-coordinator/pkg/logging"
)

// Run starts a coordinator and blocks until an interrupt, SIGTERM or the
// optional run duration (in seconds) elapses, then shuts everything down.
// A backend that crashes does not end the run.
func Run(runDuration int, config *Config, surface frontend.Surface, logger logging.Logger, zapLogger *zap.Logger) error {
	logger.Infof("Coordinator runner starting...")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if runDuration > 0 {
		duration := time.Duration(runDuration) * time.Second
		logger.Infof("Using RUN DURATION of %v", duration)
		ctx, cancel = context.WithTimeout(ctx, duration)
		defer cancel()
	}

	if err := ValidateConfig(config); err != nil {
		return errors.NewValidationError("configuration validation failed", err)
	}

	coordinator, err := New(config, surface, logger, zapLogger)
	if err != nil {
		return errors.NewInternalError("failed to create coordinator", err)
	}

	sig := make(chan os.Signal, 1)
	if runtime.GOOS == "windows" {
		signal.Notify(sig) // Unix signals not implemented on Windows
	} else {
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	}
	defer signal.Stop(sig)

	if err := coordinator.Start(ctx); err != nil {
		coordinator.Stop(context.Background())
		return err
	}

	select {
	case receivedSignal := <-sig:
		logger.Infof("Coordinator runner received signal: %v", receivedSignal)
	case <-ctx.Done():
		logger.Infof("Coordinator runner timed out")
	}

	// Reset context to background so the backend gets its graceful window
	coordinator.Stop(context.Background())

	logger.Infof("Coordinator runner stopped")
	return nil
}

// ValidateConfigFile loads and validates a configuration file without running it
func ValidateConfigFile(configFile string) error {
	config, err := LoadConfigFromFile(configFile)
	if err != nil {
		return errors.NewIOError("failed to load configuration", err).WithContext("config_file", configFile)
	}
	if err := ValidateConfig(config); err != nil {
		return errors.NewValidationError("configuration validation failed", err).WithContext("config_file", configFile)
	}
	return nil
}
