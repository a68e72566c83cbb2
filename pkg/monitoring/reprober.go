package monitoring

import (
	"context"
	"sync"
	"time"

	"github.com/sourcegraph/conc"

	"github.com/core-tools/site-analyzer-coordinator/pkg/errors"
	"github.com/core-tools/site-analyzer-coordinator/pkg/logging"
)

type RunOptions struct {
	Interval     time.Duration `yaml:"interval,omitempty"`
	InitialDelay time.Duration `yaml:"initial_delay,omitempty"`
	// StopOnSuccess ends the loop after the first successful probe
	StopOnSuccess bool `yaml:"stop_on_success,omitempty"`
}

type ProbeStatus string

const (
	ProbeStatusUnknown ProbeStatus = "unknown"
	ProbeStatusUp      ProbeStatus = "up"
	ProbeStatusDown    ProbeStatus = "down"
)

type ProbeState struct {
	Status               ProbeStatus
	LastCheck            time.Time
	Message              string
	Checks               int
	ConsecutiveFailures  int
	ConsecutiveSuccesses int
}

type SuccessCallback func()
type FailureCallback func(err error)

// ReProber runs a prober periodically until stopped.
// The supervisor uses it while the backend is starting so a bound port counts
// as readiness even when no marker line is printed.
type ReProber struct {
	id        string
	prober    Prober
	options   RunOptions
	logger    logging.Logger
	onSuccess SuccessCallback
	onFailure FailureCallback

	state    ProbeState
	mutex    sync.Mutex
	stopChan chan struct{}
	stopOnce sync.Once
	wg       conc.WaitGroup
	started  bool
}

func NewReProber(id string, prober Prober, options RunOptions, logger logging.Logger) *ReProber {
	return &ReProber{
		id:       id,
		prober:   prober,
		options:  options,
		logger:   logger,
		state:    ProbeState{Status: ProbeStatusUnknown},
		stopChan: make(chan struct{}),
	}
}

func (r *ReProber) SetSuccessCallback(callback SuccessCallback) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.onSuccess = callback
}

func (r *ReProber) SetFailureCallback(callback FailureCallback) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.onFailure = callback
}

func (r *ReProber) Start(ctx context.Context) error {
	r.logger.Infof("Starting re-prober, id: %s, target: %s, interval: %v", r.id, r.prober, r.options.Interval)

	if err := ValidateRunOptions(r.options); err != nil {
		r.logger.Errorf("Re-prober options validation failed, id: %s, error: %v", r.id, err)
		return errors.NewValidationError("invalid re-probe options", err).WithContext("id", r.id)
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()
	if r.started {
		return errors.NewInternalError("re-prober already started", nil).WithContext("id", r.id)
	}
	r.started = true

	r.wg.Go(func() {
		r.loop(ctx)
	})
	return nil
}

// Stop is idempotent and waits for the loop to exit
func (r *ReProber) Stop() {
	r.stopOnce.Do(func() {
		r.logger.Debugf("Stopping re-prober, id: %s", r.id)
		close(r.stopChan)
	})
	r.wg.Wait()
}

func (r *ReProber) State() ProbeState {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return r.state
}

func (r *ReProber) loop(ctx context.Context) {
	r.logger.Debugf("Re-prober loop started, id: %s", r.id)

	if r.options.InitialDelay > 0 {
		select {
		case <-time.After(r.options.InitialDelay):
		case <-r.stopChan:
			r.logger.Debugf("Re-prober stopped during initial delay, id: %s", r.id)
			return
		case <-ctx.Done():
			return
		}
	}

	ticker := time.NewTicker(r.options.Interval)
	defer ticker.Stop()

	if r.performCheck(ctx) && r.options.StopOnSuccess {
		return
	}

	for {
		select {
		case <-ticker.C:
			if r.performCheck(ctx) && r.options.StopOnSuccess {
				r.logger.Debugf("Re-prober done after success, id: %s", r.id)
				return
			}
		case <-r.stopChan:
			r.logger.Debugf("Re-prober loop stopping, id: %s", r.id)
			return
		case <-ctx.Done():
			r.logger.Debugf("Re-prober context done, id: %s", r.id)
			return
		}
	}
}

func (r *ReProber) performCheck(ctx context.Context) bool {
	err := r.prober.Probe(ctx)

	r.mutex.Lock()
	previous := r.state.Status
	r.state.LastCheck = time.Now()
	r.state.Checks++
	if err == nil {
		r.state.Status = ProbeStatusUp
		r.state.ConsecutiveSuccesses++
		r.state.ConsecutiveFailures = 0
		r.state.Message = "reachable"
	} else {
		r.state.Status = ProbeStatusDown
		r.state.ConsecutiveFailures++
		r.state.ConsecutiveSuccesses = 0
		r.state.Message = err.Error()
	}
	onSuccess, onFailure := r.onSuccess, r.onFailure
	r.mutex.Unlock()

	if err != nil {
		r.logger.Debugf("Re-probe failed, id: %s, target: %s, error: %v", r.id, r.prober, err)
		if onFailure != nil {
			onFailure(err)
		}
		return false
	}

	if previous != ProbeStatusUp {
		r.logger.Infof("Re-probe succeeded, id: %s, target: %s", r.id, r.prober)
	}
	if onSuccess != nil {
		onSuccess()
	}
	return true
}
