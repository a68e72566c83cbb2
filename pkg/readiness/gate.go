package readiness

import (
	"context"
	"sync"
	"time"

	"github.com/sourcegraph/conc"

	"github.com/core-tools/site-analyzer-coordinator/pkg/errors"
	"github.com/core-tools/site-analyzer-coordinator/pkg/logging"
)

const (
	DefaultFallbackTimeout = 5 * time.Second
	DefaultQueueSize       = 64
)

type Options struct {
	// FallbackTimeout bounds the time spent in starting before proceeding degraded
	FallbackTimeout time.Duration `yaml:"fallback_timeout"`
	QueueSize       int           `yaml:"queue_size,omitempty"`
}

func (o Options) withDefaults() Options {
	if o.FallbackTimeout <= 0 {
		o.FallbackTimeout = DefaultFallbackTimeout
	}
	if o.QueueSize <= 0 {
		o.QueueSize = DefaultQueueSize
	}
	return o
}

func ValidateOptions(options Options) error {
	if options.FallbackTimeout < 0 {
		return errors.NewValidationError("readiness fallback timeout cannot be negative", nil)
	}
	if options.QueueSize < 0 {
		return errors.NewValidationError("readiness queue size cannot be negative", nil)
	}
	return nil
}

// Gate is the only writer of the readiness state.
// All signals go through one queue consumed by a single goroutine, so transitions
// are applied in arrival order and racing signals resolve to the first one.
type Gate struct {
	options Options
	logger  logging.Logger

	signals  chan Signal
	stopChan chan struct{}
	loopDone chan struct{}
	stopOnce sync.Once
	wg       conc.WaitGroup

	mutex       sync.RWMutex
	status      Status
	started     bool
	stopped     bool
	subscribers map[int]*subscriber
	nextID      int

	// owned by the loop goroutine
	fallback *time.Timer
}

func NewGate(options Options, logger logging.Logger) *Gate {
	options = options.withDefaults()
	return &Gate{
		options:     options,
		logger:      logger,
		signals:     make(chan Signal, options.QueueSize),
		stopChan:    make(chan struct{}),
		loopDone:    make(chan struct{}),
		status:      Status{State: StateUnknown, Since: time.Now()},
		subscribers: make(map[int]*subscriber),
	}
}

// Start launches the signal loop. Signals sent before Start are queued.
func (g *Gate) Start(ctx context.Context) error {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	if g.stopped {
		return errors.NewInternalError("readiness gate already stopped", nil)
	}
	if g.started {
		return errors.NewInternalError("readiness gate already started", nil)
	}
	g.started = true

	g.logger.Infof("Starting readiness gate, fallback timeout: %v", g.options.FallbackTimeout)

	g.wg.Go(func() {
		g.loop(ctx)
	})
	return nil
}

// Stop ends the loop and closes all subscriptions. Safe to call more than once.
func (g *Gate) Stop() {
	g.stopOnce.Do(func() {
		g.mutex.Lock()
		g.stopped = true
		for id, sub := range g.subscribers {
			sub.close()
			delete(g.subscribers, id)
		}
		g.mutex.Unlock()

		close(g.stopChan)
		g.wg.Wait()

		g.logger.Infof("Readiness gate stopped, state: %s", g.Current())
	})
}

// Send enqueues a signal. It returns false once the gate is stopped.
func (g *Gate) Send(signal Signal) bool {
	select {
	case <-g.stopChan:
		return false
	case <-g.loopDone:
		return false
	default:
	}

	select {
	case g.signals <- signal:
		return true
	case <-g.stopChan:
		return false
	case <-g.loopDone:
		return false
	}
}

func (g *Gate) Current() Status {
	g.mutex.RLock()
	defer g.mutex.RUnlock()
	return g.status
}

// Subscribe returns a channel receiving every transition in order, starting with
// a synthetic transition for the current state. The cancel func releases it.
func (g *Gate) Subscribe() (<-chan Transition, func()) {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	if g.stopped {
		closed := make(chan Transition)
		close(closed)
		return closed, func() {}
	}

	sub := newSubscriber()
	id := g.nextID
	g.nextID++
	g.subscribers[id] = sub
	g.wg.Go(sub.run)

	sub.push(Transition{From: g.status, To: g.status, At: time.Now()})

	cancel := func() {
		g.mutex.Lock()
		defer g.mutex.Unlock()
		if s, ok := g.subscribers[id]; ok {
			s.close()
			delete(g.subscribers, id)
		}
	}
	return sub.out, cancel
}

// WaitFor blocks until the status satisfies pred, ctx is done or the gate stops.
// The last observed status is always returned.
func (g *Gate) WaitFor(ctx context.Context, pred func(Status) bool) (Status, error) {
	transitions, cancel := g.Subscribe()
	defer cancel()

	last := g.Current()
	for {
		select {
		case transition, ok := <-transitions:
			if !ok {
				return last, errors.NewCancelledError("readiness gate stopped", nil)
			}
			last = transition.To
			if pred(last) {
				return last, nil
			}
		case <-ctx.Done():
			return last, errors.NewCancelledError("wait for readiness interrupted", ctx.Err())
		}
	}
}

func (g *Gate) loop(ctx context.Context) {
	defer close(g.loopDone)
	defer g.stopFallback()

	for {
		select {
		case signal := <-g.signals:
			g.apply(signal)
		case <-g.stopChan:
			return
		case <-ctx.Done():
			g.logger.Infof("Readiness gate context done, state: %s", g.Current())
			return
		}
	}
}

func (g *Gate) apply(signal Signal) {
	g.mutex.Lock()
	from := g.status
	to, changed := next(from, signal)
	if !changed {
		g.mutex.Unlock()
		g.logger.Debugf("Readiness signal ignored, state: %s, signal: %s", from.State, signal)
		return
	}

	now := time.Now()
	to.Since = now
	g.status = to
	transition := Transition{From: from, To: to, Signal: signal, At: now}
	for _, sub := range g.subscribers {
		sub.push(transition)
	}
	g.mutex.Unlock()

	if to.State == StateTerminated || to.State == StateFailed {
		g.logger.Warnf("Readiness transition, from: %s, to: %s, signal: %s", from.State, to, signal)
	} else {
		g.logger.Infof("Readiness transition, from: %s, to: %s, signal: %s", from.State, to, signal)
	}

	switch {
	case to.State == StateStarting:
		g.armFallback()
	case from.State == StateStarting:
		g.stopFallback()
	}
}

func (g *Gate) armFallback() {
	g.stopFallback()
	g.fallback = time.AfterFunc(g.options.FallbackTimeout, func() {
		g.Send(TimeoutElapsed())
	})
}

func (g *Gate) stopFallback() {
	if g.fallback != nil {
		g.fallback.Stop()
		g.fallback = nil
	}
}

// subscriber queues transitions without bound so the gate loop never blocks on a slow reader
type subscriber struct {
	out       chan Transition
	mutex     sync.Mutex
	pending   []Transition
	wake      chan struct{}
	quit      chan struct{}
	closeOnce sync.Once
}

func newSubscriber() *subscriber {
	return &subscriber{
		out:  make(chan Transition),
		wake: make(chan struct{}, 1),
		quit: make(chan struct{}),
	}
}

func (s *subscriber) push(transition Transition) {
	s.mutex.Lock()
	s.pending = append(s.pending, transition)
	s.mutex.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *subscriber) run() {
	defer close(s.out)

	for {
		s.mutex.Lock()
		batch := s.pending
		s.pending = nil
		s.mutex.Unlock()

		for _, transition := range batch {
			select {
			case s.out <- transition:
			case <-s.quit:
				return
			}
		}

		select {
		case <-s.wake:
		case <-s.quit:
			return
		}
	}
}

func (s *subscriber) close() {
	s.closeOnce.Do(func() {
		close(s.quit)
	})
}
