package main

import (
	"fmt"
	"os"

	flags "github.com/jessevdk/go-flags"

	"github.com/core-tools/site-analyzer-coordinator/pkg/coordinator"
	"github.com/core-tools/site-analyzer-coordinator/pkg/frontend"
	"github.com/core-tools/site-analyzer-coordinator/pkg/logging"
)

type flagOptions struct {
	Config      string `long:"config" short:"c" description:"path to the YAML configuration file"`
	RunDuration int    `long:"run-duration" description:"stop after this many seconds (0 runs until interrupted)"`
	Mode        string `long:"mode" choice:"development" choice:"packaged" description:"frontend content mode"`
	Port        int    `long:"port" description:"control server port (0 picks a free port)"`
	LogLevel    string `long:"log-level" choice:"debug" choice:"info" choice:"warn" choice:"error" description:"log level"`
	Validate    bool   `long:"validate" description:"validate the configuration file and exit"`
}

func logPrefix(module string) string {
	return fmt.Sprintf("module: %s , ", module)
}

func main() {
	var opts flagOptions
	var argv []string = os.Args[1:]
	var parser = flags.NewParser(&opts, flags.HelpFlag)
	_, err := parser.ParseArgs(argv)
	if err != nil {
		fmt.Printf("Command line flags parsing failed: %v\n", err)
		os.Exit(1)
	}

	if opts.Validate {
		if opts.Config == "" {
			fmt.Println("Configuration file is required for validation")
			os.Exit(1)
		}
		if err := coordinator.ValidateConfigFile(opts.Config); err != nil {
			fmt.Printf("Configuration is invalid: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("Configuration is valid")
		return
	}

	config := coordinator.DefaultConfig()
	if opts.Config != "" {
		config, err = coordinator.LoadConfigFromFile(opts.Config)
		if err != nil {
			fmt.Printf("Failed to load configuration: %v\n", err)
			os.Exit(1)
		}
	}
	applyOverrides(config, opts)

	baseLogger, zapLogger, err := logging.NewZapLogger(config.Logging)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer zapLogger.Sync()

	logger := logging.WithPrefix(baseLogger, logPrefix("coordinator"))
	logger.Infof("opts: %+v", opts)

	surface := frontend.NewLoggingSurface(logging.WithPrefix(baseLogger, logPrefix("surface")))

	if err := coordinator.Run(opts.RunDuration, config, surface, logger, zapLogger); err != nil {
		logger.Errorf("Coordinator failed: %v", err)
		zapLogger.Sync()
		os.Exit(1)
	}
}

// applyOverrides lets flags win over the configuration file
func applyOverrides(config *coordinator.Config, opts flagOptions) {
	if opts.Mode != "" {
		config.Frontend.Mode = frontend.Mode(opts.Mode)
	}
	if opts.Port != 0 {
		config.Coordinator.ControlPort = opts.Port
	}
	if opts.LogLevel != "" {
		config.Logging.Level = opts.LogLevel
	}
}
