package logcollection

import (
	"strings"

	"github.com/core-tools/site-analyzer-coordinator/pkg/errors"
)

// DefaultMarkers are the lines uvicorn prints once the port is bound and startup has finished
var DefaultMarkers = []string{
	"Uvicorn running on",
	"Application startup complete",
}

type OutputType string

const (
	OutputNone OutputType = "none"
	OutputFile OutputType = "file"
)

// OutputConfig is an optional raw copy of the backend's output
type OutputConfig struct {
	Type   OutputType `yaml:"type"`
	Path   string     `yaml:"path,omitempty"`   // relative paths resolve in the log directory
	Format string     `yaml:"format,omitempty"` // "plain" or "json"
}

type Config struct {
	CaptureStdout bool         `yaml:"capture_stdout"`
	CaptureStderr bool         `yaml:"capture_stderr"`
	Markers       []string     `yaml:"markers,omitempty"`
	MaxLineLength int          `yaml:"max_line_length,omitempty"`
	Output        OutputConfig `yaml:"output,omitempty"`
}

func DefaultConfig() Config {
	return Config{
		CaptureStdout: true,
		CaptureStderr: true,
		Markers:       append([]string(nil), DefaultMarkers...),
		MaxLineLength: 64 * 1024,
		Output:        OutputConfig{Type: OutputNone},
	}
}

// WithDefaults fills zero values. With neither stream captured both are turned on.
func (c Config) WithDefaults() Config {
	defaults := DefaultConfig()
	if !c.CaptureStdout && !c.CaptureStderr {
		c.CaptureStdout, c.CaptureStderr = true, true
	}
	if len(c.Markers) == 0 {
		c.Markers = defaults.Markers
	}
	if c.MaxLineLength == 0 {
		c.MaxLineLength = defaults.MaxLineLength
	}
	if c.Output.Type == "" {
		c.Output.Type = OutputNone
	}
	if c.Output.Type == OutputFile && c.Output.Format == "" {
		c.Output.Format = "plain"
	}
	return c
}

func (c Config) Validate() error {
	if !c.CaptureStdout && !c.CaptureStderr {
		return errors.NewValidationError("at least one of stdout or stderr must be captured", nil)
	}
	for i, marker := range c.Markers {
		if strings.TrimSpace(marker) == "" {
			return errors.NewValidationError("readiness marker cannot be blank", nil).WithContext("index", i)
		}
	}
	if c.MaxLineLength < 0 {
		return errors.NewValidationError("max line length cannot be negative", nil)
	}

	switch c.Output.Type {
	case "", OutputNone:
	case OutputFile:
		if c.Output.Path == "" {
			return errors.NewValidationError("output path is required for file output", nil)
		}
		switch c.Output.Format {
		case "", "plain", "json":
		default:
			return errors.NewValidationError("unsupported output format: "+c.Output.Format, nil)
		}
	default:
		return errors.NewValidationError("unsupported output type: "+string(c.Output.Type), nil)
	}
	return nil
}
