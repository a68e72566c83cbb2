package coordinator

import (
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/core-tools/site-analyzer-coordinator/pkg/bridge"
	"github.com/core-tools/site-analyzer-coordinator/pkg/errors"
	"github.com/core-tools/site-analyzer-coordinator/pkg/frontend"
	"github.com/core-tools/site-analyzer-coordinator/pkg/gateway"
	"github.com/core-tools/site-analyzer-coordinator/pkg/logging"
	"github.com/core-tools/site-analyzer-coordinator/pkg/processfile"
	"github.com/core-tools/site-analyzer-coordinator/pkg/readiness"
	"github.com/core-tools/site-analyzer-coordinator/pkg/service"
	"github.com/core-tools/site-analyzer-coordinator/pkg/supervisor"
)

const DefaultForceShutdownTimeout = 10 * time.Second

// Config is the top-level configuration file structure
type Config struct {
	Coordinator CoordinatorOptions `yaml:"coordinator"`
	Service     service.Endpoint   `yaml:"service"`
	Backend     supervisor.Config  `yaml:"backend"`
	Gateway     gateway.Options    `yaml:"gateway"`
	Readiness   readiness.Options  `yaml:"readiness"`
	Bridge      bridge.Options     `yaml:"bridge"`
	Frontend    frontend.Config    `yaml:"frontend"`
	Logging     logging.ZapConfig  `yaml:"logging"`
	ProcessFile processfile.Config `yaml:"process_file"`
}

type CoordinatorOptions struct {
	// ControlPort is where the Bridge is served; 0 picks a free port, published in the port file
	ControlPort          int           `yaml:"control_port,omitempty"`
	ForceShutdownTimeout time.Duration `yaml:"force_shutdown_timeout,omitempty"`
}

// DefaultConfig is used when no configuration file is given
func DefaultConfig() *Config {
	config := &Config{}
	setConfigDefaults(config)
	return config
}

// LoadConfigFromFile loads coordinator configuration from a YAML file
func LoadConfigFromFile(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, errors.NewIOError("failed to read configuration file", err).WithContext("filename", filename)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, errors.NewValidationError("failed to parse YAML configuration", err).WithContext("filename", filename)
	}

	setConfigDefaults(&config)

	return &config, nil
}

// setConfigDefaults applies default values to configuration
func setConfigDefaults(config *Config) {
	if config.Coordinator.ForceShutdownTimeout == 0 {
		config.Coordinator.ForceShutdownTimeout = DefaultForceShutdownTimeout
	}

	config.Service = config.Service.WithDefaults()

	if config.Backend.Execution.ExecutablePath == "" {
		execution := supervisor.DefaultExecution()
		execution.Args = []string{"-m", "uvicorn", "main:app",
			"--host", config.Service.Host, "--port", strconv.Itoa(config.Service.Port)}
		config.Backend.Execution = execution
	}
	if config.Backend.Execution.WaitDelay == 0 {
		config.Backend.Execution.WaitDelay = time.Second
	}
	if config.Backend.ProbeTimeout == 0 {
		config.Backend.ProbeTimeout = supervisor.DefaultProbeTimeout
	}
	if config.Backend.ReprobeInterval == 0 {
		config.Backend.ReprobeInterval = supervisor.DefaultReprobeInterval
	}
	if config.Backend.GracefulTimeout == 0 {
		config.Backend.GracefulTimeout = supervisor.DefaultGracefulTimeout
	}
	config.Backend.LogCollection = config.Backend.LogCollection.WithDefaults()

	config.Gateway = config.Gateway.WithDefaults()

	if config.Readiness.FallbackTimeout == 0 {
		config.Readiness.FallbackTimeout = readiness.DefaultFallbackTimeout
	}

	config.Bridge = config.Bridge.WithDefaults()
	config.Frontend = config.Frontend.WithDefaults()

	defaults := logging.DefaultZapConfig()
	if config.Logging.Level == "" {
		config.Logging.Level = defaults.Level
	}
	if config.Logging.Format == "" {
		config.Logging.Format = defaults.Format
	}
	if config.Logging.Output == "" {
		config.Logging.Output = defaults.Output
	}

	if config.ProcessFile.AppName == "" {
		config.ProcessFile.AppName = processfile.DefaultAppName
	}
	if config.ProcessFile.ServiceContext == "" {
		config.ProcessFile.ServiceContext = processfile.UserService
	}
}
