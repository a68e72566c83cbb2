package supervisor

import (
	"context"
	"sync"
	"time"

	"github.com/sourcegraph/conc"
	"go.uber.org/zap"

	"github.com/core-tools/site-analyzer-coordinator/pkg/errors"
	"github.com/core-tools/site-analyzer-coordinator/pkg/logcollection"
	"github.com/core-tools/site-analyzer-coordinator/pkg/logging"
	"github.com/core-tools/site-analyzer-coordinator/pkg/monitoring"
	"github.com/core-tools/site-analyzer-coordinator/pkg/process"
	"github.com/core-tools/site-analyzer-coordinator/pkg/readiness"
)

const backendID = "backend"

// SignalSink receives readiness evidence. *readiness.Gate satisfies it.
type SignalSink interface {
	Send(signal readiness.Signal) bool
}

// PIDFiles records the spawned backend PID. *processfile.Manager satisfies it.
type PIDFiles interface {
	WritePIDFile(name string, pid int) error
	RemoveFiles(name string) error
}

type State string

const (
	StateIdle     State = "idle"
	StateProbing  State = "probing"
	StateExternal State = "external"
	StateRunning  State = "running"
	StateExited   State = "exited"
	StateFailed   State = "failed"
	StateStopping State = "stopping"
	StateStopped  State = "stopped"
)

type Option func(*Supervisor)

// WithZapLogger routes backend output lines to the given logger instead of a no-op one
func WithZapLogger(zapLogger *zap.Logger) Option {
	return func(s *Supervisor) {
		s.zapLogger = zapLogger
	}
}

func WithPIDFiles(pidFiles PIDFiles) Option {
	return func(s *Supervisor) {
		s.pidFiles = pidFiles
	}
}

// Supervisor owns the backend process for the lifetime of one coordinator run.
// It is the only component allowed to signal that process.
type Supervisor struct {
	config    Config
	prober    monitoring.Prober
	sink      SignalSink
	logger    logging.Logger
	zapLogger *zap.Logger
	pidFiles  PIDFiles

	mutex     sync.Mutex
	state     State
	handle    *Handle
	spawnErr  error
	spawned   *process.Spawned
	collector *logcollection.Collector
	reprober  *monitoring.ReProber

	runCtx    context.Context
	runCancel context.CancelFunc
	wg        conc.WaitGroup
}

func New(config Config, prober monitoring.Prober, sink SignalSink, logger logging.Logger, options ...Option) *Supervisor {
	runCtx, runCancel := context.WithCancel(context.Background())
	s := &Supervisor{
		config:    config.withDefaults(),
		prober:    prober,
		sink:      sink,
		logger:    logger,
		zapLogger: zap.NewNop(),
		state:     StateIdle,
		runCtx:    runCtx,
		runCancel: runCancel,
	}
	for _, option := range options {
		option(s)
	}
	return s
}

func (s *Supervisor) State() State {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.state
}

// Handle returns the current handle, nil until EnsureRunning succeeded
func (s *Supervisor) Handle() *Handle {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.handle
}

// EnsureRunning makes sure a backend is reachable, adopting an existing instance
// when the probe answers and spawning one otherwise. Repeated calls return the
// same handle; a spawn failure is final for this run.
func (s *Supervisor) EnsureRunning(ctx context.Context) (*Handle, error) {
	s.mutex.Lock()
	switch {
	case s.handle != nil:
		handle := s.handle
		s.mutex.Unlock()
		return handle, nil
	case s.spawnErr != nil:
		err := s.spawnErr
		s.mutex.Unlock()
		return nil, err
	case s.state != StateIdle:
		state := s.state
		s.mutex.Unlock()
		return nil, errors.NewInternalError("backend supervisor is "+string(state), nil)
	}
	s.state = StateProbing
	s.mutex.Unlock()

	s.logger.Infof("Probing for existing backend, target: %s", s.prober)
	s.sink.Send(readiness.ProbeStarted())

	probeCtx, cancel := context.WithTimeout(ctx, s.config.ProbeTimeout)
	probeErr := s.prober.Probe(probeCtx)
	cancel()

	if probeErr == nil {
		handle, err := s.adopt()
		if err != nil {
			return nil, err
		}
		s.logger.Infof("Existing backend found, not spawning, target: %s", s.prober)
		s.sink.Send(readiness.ProbeSuccess())
		return handle, nil
	}

	if ctx.Err() != nil {
		s.transition(StateProbing, StateIdle)
		return nil, errors.NewCancelledError("backend probe cancelled", ctx.Err())
	}

	s.logger.Infof("No backend answered, spawning one, reason: %v", probeErr)
	s.sink.Send(readiness.ProbeFailure(probeErr.Error()))

	return s.spawn()
}

func (s *Supervisor) adopt() (*Handle, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.state != StateProbing {
		return nil, stoppedDuringProbe(s.state)
	}
	s.handle = newExternalHandle()
	s.state = StateExternal
	return s.handle, nil
}

func stoppedDuringProbe(state State) error {
	return errors.NewCancelledError("backend supervisor stopped during startup", nil).WithContext("state", string(state))
}

// spawn starts the backend. The state check, the exec and the handle registration
// happen under one lock so a concurrent Shutdown either prevents the spawn or
// sees the handle it has to terminate.
func (s *Supervisor) spawn() (*Handle, error) {
	collector, err := logcollection.NewCollector(s.config.LogCollection, s.zapLogger.Named(backendID),
		func(stream logcollection.StreamType, marker string, line string) {
			s.logger.Infof("Backend readiness marker seen, stream: %s, marker: %q", stream, marker)
			s.sink.Send(readiness.LogMatch(line))
		})
	if err != nil {
		return nil, s.failSpawn(errors.NewSpawnFailure("failed to set up backend output collection", err))
	}

	var reprober *monitoring.ReProber
	if s.config.ReprobeInterval > 0 {
		reprober = monitoring.NewReProber(backendID, s.prober, monitoring.RunOptions{
			Interval:      s.config.ReprobeInterval,
			InitialDelay:  s.config.ReprobeInterval,
			StopOnSuccess: true,
		}, s.logger)
		reprober.SetSuccessCallback(func() {
			s.sink.Send(readiness.ProbeSuccess())
		})
	}

	s.mutex.Lock()
	if s.state != StateProbing {
		state := s.state
		s.mutex.Unlock()
		collector.Close()
		s.logger.Infof("Backend spawn abandoned, supervisor is %s", state)
		return nil, stoppedDuringProbe(state)
	}

	spawned, err := process.Execute(s.config.Execution, backendID, s.logger)
	if err != nil {
		s.mutex.Unlock()
		collector.Close()
		if !errors.IsSpawnFailure(err) {
			err = errors.NewSpawnFailure("invalid backend command", err)
		}
		return nil, s.failSpawn(err)
	}

	pid := spawned.PID()
	handle := newOwnedHandle(pid)
	s.handle = handle
	s.spawned = spawned
	s.collector = collector
	s.reprober = reprober
	s.state = StateRunning
	s.mutex.Unlock()

	collector.CollectFromProcess(spawned.Stdout, spawned.Stderr)

	if reprober != nil {
		if err := reprober.Start(s.runCtx); err != nil {
			s.logger.Warnf("Backend re-probing disabled, error: %v", err)
		}
	}

	if s.pidFiles != nil {
		if err := s.pidFiles.WritePIDFile(backendID, pid); err != nil {
			s.logger.Warnf("Failed to write backend PID file, PID: %d, error: %v", pid, err)
		}
	}

	s.wg.Go(func() {
		s.watchExit(handle, spawned, collector, reprober)
	})

	s.logger.Infof("Backend spawned, PID: %d", pid)
	return handle, nil
}

func (s *Supervisor) failSpawn(err error) error {
	s.logger.Errorf("Backend spawn failed, error: %v", err)
	s.mutex.Lock()
	s.spawnErr = err
	if s.state == StateProbing {
		s.state = StateFailed
	}
	s.mutex.Unlock()

	reason := err.Error()
	if classified, ok := errors.AsClassified(err); ok {
		reason = classified.Message
	}
	s.sink.Send(readiness.SpawnFailed(reason))
	return err
}

// watchExit is the only place that reports process exit, so the signal is sent once
func (s *Supervisor) watchExit(handle *Handle, spawned *process.Spawned,
	collector *logcollection.Collector, reprober *monitoring.ReProber) {
	waitErr := spawned.Cmd.Wait()

	code := -1
	if spawned.Cmd.ProcessState != nil {
		code = spawned.Cmd.ProcessState.ExitCode()
	}

	if reprober != nil {
		reprober.Stop()
	}
	handle.markExited(code)

	s.mutex.Lock()
	if s.state == StateRunning {
		s.state = StateExited
	}
	stopping := s.state == StateStopping || s.state == StateStopped
	s.mutex.Unlock()

	if stopping {
		s.logger.Infof("Backend exited during shutdown, PID: %d, exit code: %d", handle.PID(), code)
	} else {
		s.logger.Warnf("Backend exited unexpectedly, PID: %d, exit code: %d, error: %v", handle.PID(), code, waitErr)
	}
	s.sink.Send(readiness.ProcessExited(code))

	s.drainOutput(spawned, collector)

	if s.pidFiles != nil {
		if err := s.pidFiles.RemoveFiles(backendID); err != nil {
			s.logger.Warnf("Failed to remove backend PID file, error: %v", err)
		}
	}
}

// drainOutput gives the readers a moment to flush trailing lines; a grandchild
// still holding the pipes must not keep them open forever
func (s *Supervisor) drainOutput(spawned *process.Spawned, collector *logcollection.Collector) {
	drained := make(chan struct{})
	go func() {
		collector.Wait()
		close(drained)
	}()

	select {
	case <-drained:
	case <-time.After(s.config.DrainTimeout):
		s.logger.Debugf("Backend output still open after exit, closing pipes")
	}

	spawned.Stdout.Close()
	spawned.Stderr.Close()
	<-drained

	if err := collector.Close(); err != nil {
		s.logger.Warnf("Failed to close backend output collection, error: %v", err)
	}
}

// Shutdown terminates a backend this coordinator spawned. It sends SIGTERM to the
// group and returns without waiting for the exit; a backend still alive after
// GracefulTimeout is killed in the background. A ctx that is already done skips
// the grace period. An adopted instance is left running. Safe to call more than once.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	handle, reprober, proceed := s.planShutdown()
	if !proceed {
		return nil
	}
	defer s.runCancel()

	if reprober != nil {
		reprober.Stop()
	}

	select {
	case <-handle.Done():
		s.logger.Infof("Backend already exited, PID: %d", handle.PID())
		s.setState(StateStopped)
		return nil
	default:
	}

	pid := handle.PID()
	defer s.setState(StateStopped)

	if ctx.Err() != nil {
		s.logger.Warnf("Shutdown deadline already reached, killing process group, PID: %d", pid)
		return s.kill(pid)
	}

	s.logger.Infof("Terminating backend, PID: %d, graceful timeout: %v", pid, s.config.GracefulTimeout)
	if err := process.SendTerminationSignal(pid); err != nil {
		s.logger.Warnf("Failed to send termination signal, killing process group, PID: %d, error: %v", pid, err)
		return s.kill(pid)
	}

	s.wg.Go(func() {
		s.killAfterGrace(handle)
	})
	return nil
}

// killAfterGrace escalates to SIGKILL when the backend ignores SIGTERM
func (s *Supervisor) killAfterGrace(handle *Handle) {
	timer := time.NewTimer(s.config.GracefulTimeout)
	defer timer.Stop()

	select {
	case <-handle.Done():
		code, _ := handle.ExitCode()
		s.logger.Infof("Backend terminated gracefully, PID: %d, exit code: %d", handle.PID(), code)
	case <-timer.C:
		s.logger.Warnf("Backend did not exit within %v, killing process group, PID: %d", s.config.GracefulTimeout, handle.PID())
		_ = s.kill(handle.PID())
	}
}

func (s *Supervisor) planShutdown() (*Handle, *monitoring.ReProber, bool) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	switch s.state {
	case StateStopping, StateStopped:
		return nil, nil, false
	}

	if s.handle == nil || !s.handle.Owned() {
		if s.handle != nil {
			s.logger.Infof("Backend was not spawned by this coordinator, leaving it running")
		}
		s.state = StateStopped
		s.runCancel()
		return nil, nil, false
	}

	s.state = StateStopping
	return s.handle, s.reprober, true
}

func (s *Supervisor) kill(pid int) error {
	if err := process.KillProcessGroup(pid); err != nil {
		s.logger.Errorf("Failed to kill backend, PID: %d, error: %v", pid, err)
		return errors.NewProcessError("failed to kill backend", err).WithContext("pid", pid)
	}
	return nil
}

// Wait blocks until the exit watcher and any pending kill finished; only meaningful
// after the process exited
func (s *Supervisor) Wait() {
	s.wg.Wait()
}

// transition moves from one state to another only if the supervisor is still in from
func (s *Supervisor) transition(from, to State) bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.state != from {
		return false
	}
	s.state = to
	return true
}

func (s *Supervisor) setState(state State) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.state = state
}
