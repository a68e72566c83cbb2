package monitoring

import (
	"net/url"

	"github.com/core-tools/site-analyzer-coordinator/pkg/errors"
)

// ValidateProbeConfig validates probe configuration
func ValidateProbeConfig(config ProbeConfig) error {
	if config.Timeout < 0 {
		return errors.NewValidationError("probe timeout cannot be negative", nil)
	}

	switch config.Type {
	case ProbeTypeHTTP:
		if config.HTTP.URL == "" {
			return errors.NewValidationError("HTTP URL is required for HTTP probe", nil)
		}
		parsed, err := url.Parse(config.HTTP.URL)
		if err != nil || parsed.Scheme == "" || parsed.Host == "" {
			return errors.NewValidationError("invalid HTTP probe URL: "+config.HTTP.URL, err)
		}

	case ProbeTypeTCP:
		if config.TCP.Address == "" {
			return errors.NewValidationError("address is required for TCP probe", nil)
		}

	case ProbeTypeGRPC:
		if config.GRPC.Address == "" {
			return errors.NewValidationError("address is required for gRPC probe", nil)
		}

	case ProbeTypeProcess:
		if config.PID <= 0 {
			return errors.NewValidationError("PID is required for process probe", nil)
		}

	default:
		return errors.NewValidationError("unsupported probe type: "+string(config.Type), nil)
	}

	return nil
}

// ValidateRunOptions validates periodic probe options
func ValidateRunOptions(options RunOptions) error {
	if options.Interval <= 0 {
		return errors.NewValidationError("probe interval must be positive", nil)
	}
	if options.InitialDelay < 0 {
		return errors.NewValidationError("probe initial delay cannot be negative", nil)
	}
	return nil
}
