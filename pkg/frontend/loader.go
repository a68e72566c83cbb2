package frontend

import (
	"context"
	"sync"
	"time"

	"github.com/sourcegraph/conc"

	"github.com/core-tools/site-analyzer-coordinator/pkg/errors"
	"github.com/core-tools/site-analyzer-coordinator/pkg/logging"
	"github.com/core-tools/site-analyzer-coordinator/pkg/monitoring"
	"github.com/core-tools/site-analyzer-coordinator/pkg/readiness"
)

// phase tracks the development-mode fallback chain
type phase int

const (
	phaseWaiting phase = iota
	phasePlaceholder
	phaseSettled
)

// Loader decides what the display surface shows. All decisions are made on a
// single goroutine fed by readiness transitions.
type Loader struct {
	config     Config
	backendURL string
	surface    Surface
	live       monitoring.Prober
	logger     logging.Logger

	mutex       sync.Mutex
	current     Content
	navigations int
	started     bool

	phase     phase
	readySeen bool
	available bool

	stopChan chan struct{}
	stopOnce sync.Once
	wg       conc.WaitGroup
}

type LoaderOption func(*Loader)

// WithLiveProber replaces the HTTP probe of the development content source
func WithLiveProber(prober monitoring.Prober) LoaderOption {
	return func(l *Loader) {
		l.live = prober
	}
}

func NewLoader(config Config, backendURL string, surface Surface, logger logging.Logger, options ...LoaderOption) *Loader {
	config = config.WithDefaults()
	l := &Loader{
		config:     config,
		backendURL: backendURL,
		surface:    surface,
		logger:     logger,
		stopChan:   make(chan struct{}),
	}
	for _, option := range options {
		option(l)
	}
	if l.live == nil {
		l.live = monitoring.NewHTTPProber(monitoring.HTTPProbeConfig{URL: config.DevURL}, config.ProbeTimeout)
	}
	return l
}

// Start presents the initial content and then follows transitions until ctx is
// done, Stop is called or the channel closes
func (l *Loader) Start(ctx context.Context, transitions <-chan readiness.Transition) error {
	l.mutex.Lock()
	if l.started {
		l.mutex.Unlock()
		return errors.NewInternalError("frontend loader already started", nil)
	}
	l.started = true
	l.mutex.Unlock()

	l.logger.Infof("Starting frontend loader, mode: %s", l.config.Mode)

	l.wg.Go(func() {
		l.run(ctx, transitions)
	})
	return nil
}

// Stop is idempotent and waits for the loop to exit
func (l *Loader) Stop() {
	l.stopOnce.Do(func() {
		close(l.stopChan)
	})
	l.wg.Wait()
}

func (l *Loader) Current() Content {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	return l.current
}

func (l *Loader) Navigations() int {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	return l.navigations
}

func (l *Loader) run(ctx context.Context, transitions <-chan readiness.Transition) {
	var placeholderTimer <-chan time.Time

	if l.config.Mode == ModePackaged {
		l.navigate(ctx, BundledContent(l.config.BundlePath))
		l.phase = phaseSettled
	} else if l.liveReachable(ctx) {
		l.navigate(ctx, LiveContent(l.config.DevURL))
		l.phase = phaseSettled
	} else {
		l.logger.Infof("Development content source not reachable yet, url: %s", l.config.DevURL)
		timer := time.NewTimer(l.config.PlaceholderDelay)
		defer timer.Stop()
		placeholderTimer = timer.C
	}

	for {
		select {
		case transition, ok := <-transitions:
			if !ok {
				l.logger.Debugf("Readiness feed closed, frontend loader stopping")
				return
			}
			if l.handleTransition(ctx, transition) {
				placeholderTimer = nil
			}
		case <-placeholderTimer:
			placeholderTimer = nil
			l.onPlaceholderDelay(ctx)
		case <-l.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (l *Loader) onPlaceholderDelay(ctx context.Context) {
	if l.phase != phaseWaiting {
		return
	}
	if l.liveReachable(ctx) {
		l.navigate(ctx, LiveContent(l.config.DevURL))
		l.phase = phaseSettled
		return
	}
	l.navigate(ctx, PlaceholderContent(l.config.DevURL, l.backendURL))
	l.phase = phasePlaceholder
}

// handleTransition reports whether the development fallback chain settled
func (l *Loader) handleTransition(ctx context.Context, transition readiness.Transition) bool {
	status := transition.To
	switch status.State {
	case readiness.StateReady:
		l.setBackendAvailable(true)
	case readiness.StateFailed, readiness.StateTerminated:
		l.setBackendAvailable(false)
	}

	// a spawn failure still gets a final content decision, so the surface is never stuck on the placeholder
	if status.State != readiness.StateReady && status.State != readiness.StateFailed {
		return false
	}
	if l.readySeen {
		l.logger.Debugf("Readiness already handled, ignoring %s", status)
		return false
	}
	l.readySeen = true

	if l.phase == phaseSettled {
		return false
	}

	if l.liveReachable(ctx) {
		l.navigate(ctx, LiveContent(l.config.DevURL))
	} else {
		l.logger.Warnf("Development content source still unreachable, using bundled build, url: %s", l.config.DevURL)
		l.navigate(ctx, BundledContent(l.config.BundlePath))
	}
	l.phase = phaseSettled
	return true
}

func (l *Loader) setBackendAvailable(available bool) {
	if l.available == available {
		return
	}
	l.available = available
	if gate, ok := l.surface.(FeatureGate); ok {
		gate.SetBackendAvailable(available)
	}
}

func (l *Loader) liveReachable(ctx context.Context) bool {
	probeCtx, cancel := context.WithTimeout(ctx, l.config.ProbeTimeout)
	defer cancel()
	err := l.live.Probe(probeCtx)
	if err != nil {
		l.logger.Debugf("Development content probe failed, url: %s, error: %v", l.config.DevURL, err)
	}
	return err == nil
}

// navigate never repeats the content already shown. A failed live navigation
// falls back to the bundled build.
func (l *Loader) navigate(ctx context.Context, content Content) {
	l.mutex.Lock()
	if l.current == content {
		l.mutex.Unlock()
		return
	}
	l.mutex.Unlock()

	l.logger.Infof("Loading frontend content: %s", content)
	if err := l.surface.Navigate(ctx, content); err != nil {
		l.logger.Errorf("Navigation failed, content: %s, error: %v", content, err)
		if content.Kind == ContentLive {
			l.navigate(ctx, BundledContent(l.config.BundlePath))
		}
		return
	}

	l.mutex.Lock()
	l.current = content
	l.navigations++
	l.mutex.Unlock()
}
