package supervisor

import (
	"time"

	"github.com/core-tools/site-analyzer-coordinator/pkg/errors"
	"github.com/core-tools/site-analyzer-coordinator/pkg/logcollection"
	"github.com/core-tools/site-analyzer-coordinator/pkg/process"
)

const (
	DefaultProbeTimeout    = 2 * time.Second
	DefaultReprobeInterval = 500 * time.Millisecond
	DefaultGracefulTimeout = 5 * time.Second
	DefaultDrainTimeout    = time.Second
)

type Config struct {
	Execution process.ExecutionConfig `yaml:"execution"`

	// ProbeTimeout bounds the existence probe run before spawning
	ProbeTimeout time.Duration `yaml:"probe_timeout,omitempty"`

	// ReprobeInterval paces the probes run while the spawned backend is starting; zero disables them
	ReprobeInterval time.Duration `yaml:"reprobe_interval,omitempty"`

	// GracefulTimeout is how long Shutdown waits after SIGTERM before killing the group
	GracefulTimeout time.Duration `yaml:"graceful_timeout,omitempty"`

	// DrainTimeout is how long output readers may keep running after the backend exited
	DrainTimeout time.Duration `yaml:"drain_timeout,omitempty"`

	LogCollection logcollection.Config `yaml:"log_collection,omitempty"`
}

// DefaultExecution is the reference backend command: uvicorn serving main:app
func DefaultExecution() process.ExecutionConfig {
	return process.ExecutionConfig{
		ExecutablePath:   "python",
		Args:             []string{"-m", "uvicorn", "main:app", "--host", "127.0.0.1", "--port", "8000"},
		WorkingDirectory: "backend",
		Environment:      []string{"PYTHONUNBUFFERED=1"},
	}
}

func (c Config) withDefaults() Config {
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = DefaultProbeTimeout
	}
	if c.ReprobeInterval < 0 {
		c.ReprobeInterval = 0
	}
	if c.GracefulTimeout <= 0 {
		c.GracefulTimeout = DefaultGracefulTimeout
	}
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = DefaultDrainTimeout
	}
	c.LogCollection = c.LogCollection.WithDefaults()
	return c
}

func ValidateConfig(config Config) error {
	if err := process.ValidateExecutionConfig(config.Execution); err != nil {
		return errors.NewValidationError("invalid backend execution configuration", err)
	}
	if config.ProbeTimeout < 0 {
		return errors.NewValidationError("probe timeout cannot be negative", nil)
	}
	if config.GracefulTimeout < 0 {
		return errors.NewValidationError("graceful timeout cannot be negative", nil)
	}
	if config.DrainTimeout < 0 {
		return errors.NewValidationError("drain timeout cannot be negative", nil)
	}
	if err := config.LogCollection.WithDefaults().Validate(); err != nil {
		return errors.NewValidationError("invalid backend log collection configuration", err)
	}
	return nil
}
