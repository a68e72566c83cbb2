package bridge

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/core-tools/site-analyzer-coordinator/pkg/errors"
	"github.com/core-tools/site-analyzer-coordinator/pkg/gateway"
	"github.com/core-tools/site-analyzer-coordinator/pkg/logging"
	"github.com/core-tools/site-analyzer-coordinator/pkg/monitoring"
	"github.com/core-tools/site-analyzer-coordinator/pkg/readiness"
)

// Contract is everything the display surface may ask of the coordinator
type Contract interface {
	AnalyzeWebsite(ctx context.Context, domain string, maxPagesToCount, maxPagesToAnalyze *int) (json.RawMessage, error)
	AnalyzeSinglePage(ctx context.Context, url string) (json.RawMessage, error)
}

type ReadinessSource interface {
	Current() readiness.Status
	WaitFor(ctx context.Context, pred func(readiness.Status) bool) (readiness.Status, error)
}

type Caller interface {
	Call(ctx context.Context, operation gateway.Operation, payload json.RawMessage) (*gateway.Result, error)
}

const (
	DefaultReadyWait    = 10 * time.Second
	DefaultProbeTimeout = 2 * time.Second

	NotRunningMessage = "backend service is not running"
)

type Options struct {
	// ReadyWait bounds how long a call waits for a starting backend before trying anyway
	ReadyWait    time.Duration `yaml:"ready_wait,omitempty"`
	ProbeTimeout time.Duration `yaml:"probe_timeout,omitempty"`
}

func (o Options) WithDefaults() Options {
	if o.ReadyWait <= 0 {
		o.ReadyWait = DefaultReadyWait
	}
	if o.ProbeTimeout <= 0 {
		o.ProbeTimeout = DefaultProbeTimeout
	}
	return o
}

func ValidateOptions(options Options) error {
	if options.ReadyWait < 0 {
		return errors.NewValidationError("bridge ready wait cannot be negative", nil)
	}
	if options.ProbeTimeout < 0 {
		return errors.NewValidationError("bridge probe timeout cannot be negative", nil)
	}
	return nil
}

// Bridge forwards the two analysis operations to the backend. It holds no
// process handle and adds no logic beyond input checks and readiness gating.
type Bridge struct {
	options   Options
	readiness ReadinessSource
	caller    Caller
	prober    monitoring.Prober
	logger    logging.Logger
}

var _ Contract = (*Bridge)(nil)

func New(options Options, source ReadinessSource, caller Caller, prober monitoring.Prober, logger logging.Logger) *Bridge {
	return &Bridge{
		options:   options.WithDefaults(),
		readiness: source,
		caller:    caller,
		prober:    prober,
		logger:    logger,
	}
}

func (b *Bridge) AnalyzeWebsite(ctx context.Context, domain string, maxPagesToCount, maxPagesToAnalyze *int) (json.RawMessage, error) {
	if strings.TrimSpace(domain) == "" {
		return nil, validationError("domain is required")
	}
	if maxPagesToCount != nil && *maxPagesToCount < 0 {
		return nil, validationError("max_pages_to_count cannot be negative")
	}
	if maxPagesToAnalyze != nil && *maxPagesToAnalyze < 0 {
		return nil, validationError("max_pages_to_analyze cannot be negative")
	}

	return b.forward(ctx, gateway.OperationAnalyzeSite, gateway.WebsiteAnalyzeRequest{
		Domain:            domain,
		MaxPagesToCount:   maxPagesToCount,
		MaxPagesToAnalyze: maxPagesToAnalyze,
	})
}

func (b *Bridge) AnalyzeSinglePage(ctx context.Context, url string) (json.RawMessage, error) {
	if strings.TrimSpace(url) == "" {
		return nil, validationError("url is required")
	}
	return b.forward(ctx, gateway.OperationAnalyzePage, gateway.SinglePageAnalyzeRequest{URL: url})
}

func (b *Bridge) forward(ctx context.Context, operation gateway.Operation, request interface{}) (json.RawMessage, error) {
	if err := b.checkReady(ctx); err != nil {
		return nil, errors.Classify(err)
	}

	payload, err := json.Marshal(request)
	if err != nil {
		return nil, errors.NewTerminalError(errors.ErrorTypeInternal, 500, "failed to encode request", err)
	}

	result, err := b.caller.Call(ctx, operation, payload)
	if err != nil {
		return nil, errors.Classify(err)
	}
	return result.Body, nil
}

// checkReady lets a call through when the backend is ready, when it is still
// starting (after waiting up to ReadyWait), or when a terminated backend has
// been replaced by an instance that answers the probe
func (b *Bridge) checkReady(ctx context.Context) error {
	status := b.readiness.Current()

	switch {
	case status.State == readiness.StateReady:
		return nil

	case status.State.IsPending():
		b.logger.Infof("Backend not ready yet, waiting up to %v, state: %s", b.options.ReadyWait, status.State)
		waitCtx, cancel := context.WithTimeout(ctx, b.options.ReadyWait)
		defer cancel()
		status, _ = b.readiness.WaitFor(waitCtx, func(s readiness.Status) bool {
			return s.State == readiness.StateReady || s.State.IsTerminal()
		})
		if ctx.Err() != nil {
			return errors.NewTerminalError(errors.ErrorTypeCancelled, 499, "request was cancelled", ctx.Err())
		}
		if status.State.IsTerminal() {
			return b.probeReplacement(ctx, status)
		}
		if status.State != readiness.StateReady {
			b.logger.Warnf("Backend still not ready after %v, attempting anyway", b.options.ReadyWait)
		}
		return nil

	default:
		return b.probeReplacement(ctx, status)
	}
}

func (b *Bridge) probeReplacement(ctx context.Context, status readiness.Status) error {
	probeCtx, cancel := context.WithTimeout(ctx, b.options.ProbeTimeout)
	defer cancel()
	if err := b.prober.Probe(probeCtx); err != nil {
		b.logger.Warnf("Backend unavailable, state: %s, probe error: %v", status, err)
		return errors.NewProcessCrash(NotRunningMessage, err)
	}
	b.logger.Infof("Backend %s but an instance answers, forwarding", status.State)
	return nil
}

func validationError(message string) error {
	return errors.NewTerminalError(errors.ErrorTypeValidation, 400, message, nil)
}
