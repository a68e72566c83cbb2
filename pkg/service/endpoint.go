package service

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/core-tools/site-analyzer-coordinator/pkg/errors"
)

const (
	DefaultHost     = "127.0.0.1"
	DefaultPort     = 8000
	DefaultBasePath = "/api/v1"
)

// Endpoint locates the backend analysis service. It is built once at startup and never mutated.
type Endpoint struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	BasePath string `yaml:"base_path"`
}

func DefaultEndpoint() Endpoint {
	return Endpoint{
		Host:     DefaultHost,
		Port:     DefaultPort,
		BasePath: DefaultBasePath,
	}
}

// WithDefaults fills in zero fields
func (e Endpoint) WithDefaults() Endpoint {
	if e.Host == "" {
		e.Host = DefaultHost
	}
	if e.Port == 0 {
		e.Port = DefaultPort
	}
	if e.BasePath == "" {
		e.BasePath = DefaultBasePath
	}
	return e
}

func (e Endpoint) Address() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

// BaseURL is the service root, used for existence probes
func (e Endpoint) BaseURL() string {
	return "http://" + e.Address()
}

// URL joins path onto the API base path
func (e Endpoint) URL(path string) string {
	base := "/" + strings.Trim(e.BasePath, "/")
	if base == "/" {
		base = ""
	}
	return e.BaseURL() + base + "/" + strings.TrimLeft(path, "/")
}

func (e Endpoint) String() string {
	return e.BaseURL() + e.BasePath
}

func (e Endpoint) Validate() error {
	if e.Host == "" {
		return errors.NewValidationError("service host is required", nil)
	}
	if strings.ContainsAny(e.Host, "/ ") {
		return errors.NewValidationError(fmt.Sprintf("invalid service host: %q", e.Host), nil)
	}
	if e.Port <= 0 || e.Port > 65535 {
		return errors.NewValidationError("service port must be between 1 and 65535", nil).
			WithContext("port", e.Port)
	}
	if e.BasePath != "" && !strings.HasPrefix(e.BasePath, "/") {
		return errors.NewValidationError("service base path must start with '/'", nil).
			WithContext("base_path", e.BasePath)
	}
	return nil
}
