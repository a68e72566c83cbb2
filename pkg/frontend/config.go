package frontend

import (
	"net/url"
	"time"

	"github.com/core-tools/site-analyzer-coordinator/pkg/errors"
)

type Mode string

const (
	ModeDevelopment Mode = "development"
	ModePackaged    Mode = "packaged"
)

const (
	DefaultDevURL           = "http://localhost:5173"
	DefaultBundlePath       = "build/client/index.html"
	DefaultPlaceholderDelay = 5 * time.Second
	DefaultProbeTimeout     = 2 * time.Second
)

type Config struct {
	Mode             Mode          `yaml:"mode"`
	DevURL           string        `yaml:"dev_url,omitempty"`
	BundlePath       string        `yaml:"bundle_path,omitempty"`
	PlaceholderDelay time.Duration `yaml:"placeholder_delay,omitempty"`
	ProbeTimeout     time.Duration `yaml:"probe_timeout,omitempty"`
}

func (c Config) WithDefaults() Config {
	if c.Mode == "" {
		c.Mode = ModePackaged
	}
	if c.DevURL == "" {
		c.DevURL = DefaultDevURL
	}
	if c.BundlePath == "" {
		c.BundlePath = DefaultBundlePath
	}
	if c.PlaceholderDelay <= 0 {
		c.PlaceholderDelay = DefaultPlaceholderDelay
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = DefaultProbeTimeout
	}
	return c
}

func ValidateConfig(config Config) error {
	switch config.Mode {
	case "", ModeDevelopment, ModePackaged:
	default:
		return errors.NewValidationError("invalid frontend mode: "+string(config.Mode), nil)
	}
	if config.DevURL != "" {
		parsed, err := url.Parse(config.DevURL)
		if err != nil || parsed.Scheme == "" || parsed.Host == "" {
			return errors.NewValidationError("invalid frontend dev URL", err).WithContext("dev_url", config.DevURL)
		}
	}
	if config.PlaceholderDelay < 0 {
		return errors.NewValidationError("placeholder delay cannot be negative", nil)
	}
	return nil
}
