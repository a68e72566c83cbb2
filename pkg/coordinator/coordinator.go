package coordinator

import (
	"context"
	"sync"

	"github.com/sourcegraph/conc"
	"go.uber.org/zap"

	"github.com/core-tools/site-analyzer-coordinator/pkg/bridge"
	"github.com/core-tools/site-analyzer-coordinator/pkg/control"
	"github.com/core-tools/site-analyzer-coordinator/pkg/errors"
	"github.com/core-tools/site-analyzer-coordinator/pkg/frontend"
	"github.com/core-tools/site-analyzer-coordinator/pkg/gateway"
	"github.com/core-tools/site-analyzer-coordinator/pkg/logging"
	"github.com/core-tools/site-analyzer-coordinator/pkg/monitoring"
	"github.com/core-tools/site-analyzer-coordinator/pkg/processfile"
	"github.com/core-tools/site-analyzer-coordinator/pkg/processstate"
	"github.com/core-tools/site-analyzer-coordinator/pkg/readiness"
	"github.com/core-tools/site-analyzer-coordinator/pkg/supervisor"
)

// PortFileName names the file where the control port is published for bridgecli
const PortFileName = "coordinator"

// State represents the current state of the coordinator
type State string

const (
	StateNotStarted State = "not_started"
	StateRunning    State = "running"
	StateStopping   State = "stopping"
	StateStopped    State = "stopped"
)

// Status is a point-in-time view of the whole coordinator
type Status struct {
	State        State
	Readiness    readiness.Status
	Backend      supervisor.State
	BackendPID   int
	BackendOwned bool
	BackendAlive bool
	ControlPort  int
	Content      frontend.Content
}

// Coordinator wires the backend supervisor, the readiness gate, the frontend
// loader and the Bridge together for one run
type Coordinator struct {
	config *Config
	logger logging.Logger

	gate       *readiness.Gate
	supervisor *supervisor.Supervisor
	client     *gateway.Client
	bridge     *bridge.Bridge
	loader     *frontend.Loader
	server     *control.Server
	files      *processfile.Manager

	mutex       sync.Mutex
	state       State
	unsubscribe []func()
	wg          conc.WaitGroup
}

// New builds every component from config. surface may be nil, in which case
// navigation decisions are only logged.
func New(config *Config, surface frontend.Surface, logger logging.Logger, zapLogger *zap.Logger) (*Coordinator, error) {
	if err := ValidateConfig(config); err != nil {
		return nil, err
	}
	if zapLogger == nil {
		zapLogger = zap.NewNop()
	}

	files := processfile.NewManager(config.ProcessFile, logging.WithPrefix(logger, "process files: "))

	gate := readiness.NewGate(config.Readiness, logging.WithPrefix(logger, "readiness: "))

	existence := monitoring.NewHTTPProber(monitoring.HTTPProbeConfig{URL: config.Service.BaseURL() + "/"},
		config.Backend.ProbeTimeout)

	backendConfig := config.Backend
	if backendConfig.LogCollection.Output.Path != "" {
		backendConfig.LogCollection.Output.Path = files.LogFilePath(backendConfig.LogCollection.Output.Path)
	}
	sup := supervisor.New(backendConfig, existence, gate, logging.WithPrefix(logger, "supervisor: "),
		supervisor.WithZapLogger(zapLogger),
		supervisor.WithPIDFiles(files))

	client := gateway.NewClient(config.Service, config.Gateway, logging.WithPrefix(logger, "gateway: "))
	b := bridge.New(config.Bridge, gate, client, existence, logging.WithPrefix(logger, "bridge: "))

	if surface == nil {
		surface = frontend.NewLoggingSurface(logging.WithPrefix(logger, "surface: "))
	}
	loader := frontend.NewLoader(config.Frontend, config.Service.BaseURL(), surface, logging.WithPrefix(logger, "frontend: "))

	server, err := control.NewServer(control.ServerOptions{Port: config.Coordinator.ControlPort},
		logging.WithPrefix(logger, "control: "))
	if err != nil {
		return nil, errors.NewInternalError("failed to create control server", err)
	}
	control.RegisterGRPCServerHandler(server.GRPC(), b, logging.WithPrefix(logger, "control: "))

	return &Coordinator{
		config:     config,
		logger:     logger,
		gate:       gate,
		supervisor: sup,
		client:     client,
		bridge:     b,
		loader:     loader,
		server:     server,
		files:      files,
		state:      StateNotStarted,
	}, nil
}

// Start brings up the gate, the loader and the control server, then makes sure
// a backend is running. A backend that cannot be spawned does not fail Start:
// the gate records it and the Bridge keeps answering.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mutex.Lock()
	if c.state != StateNotStarted {
		state := c.state
		c.mutex.Unlock()
		return errors.NewInternalError("coordinator cannot start from state "+string(state), nil)
	}
	c.state = StateRunning
	c.mutex.Unlock()

	c.logger.Infof("Starting coordinator, backend: %s, frontend mode: %s", c.config.Service, c.config.Frontend.Mode)

	if err := c.gate.Start(ctx); err != nil {
		return errors.NewInternalError("failed to start readiness gate", err)
	}

	transitions, unsubscribeLog := c.gate.Subscribe()
	loaderTransitions, unsubscribeLoader := c.gate.Subscribe()
	c.mutex.Lock()
	c.unsubscribe = append(c.unsubscribe, unsubscribeLog, unsubscribeLoader)
	c.mutex.Unlock()

	c.wg.Go(func() {
		c.logTransitions(transitions)
	})

	if err := c.loader.Start(ctx, loaderTransitions); err != nil {
		return errors.NewInternalError("failed to start frontend loader", err)
	}

	if err := c.server.Start(); err != nil {
		return errors.NewInternalError("failed to start control server", err)
	}
	if err := c.files.WritePortFile(PortFileName, c.server.Port()); err != nil {
		c.logger.Warnf("Failed to publish control port, port: %d, error: %v", c.server.Port(), err)
	}

	handle, err := c.supervisor.EnsureRunning(ctx)
	if err != nil {
		c.logger.Errorf("Backend is not available: %v", err)
	} else if handle.Owned() {
		c.logger.Infof("Coordinator started, backend spawned, PID: %d, control port: %d", handle.PID(), c.server.Port())
	} else {
		c.logger.Infof("Coordinator started, using existing backend, control port: %d", c.server.Port())
	}
	return nil
}

func (c *Coordinator) logTransitions(transitions <-chan readiness.Transition) {
	for transition := range transitions {
		if transition.From == transition.To {
			continue
		}
		if transition.To.Degraded {
			c.logger.Warnf("Readiness: %s -> %s (no positive confirmation)", transition.From.State, transition.To)
			continue
		}
		c.logger.Infof("Readiness: %s -> %s", transition.From.State, transition.To)
	}
}

// Stop shuts everything down in reverse order. The backend shutdown is bounded
// by ForceShutdownTimeout. Safe to call on every exit path and more than once.
func (c *Coordinator) Stop(ctx context.Context) {
	c.mutex.Lock()
	if c.state == StateStopping || c.state == StateStopped {
		c.mutex.Unlock()
		return
	}
	c.state = StateStopping
	unsubscribe := c.unsubscribe
	c.unsubscribe = nil
	c.mutex.Unlock()

	c.logger.Infof("Stopping coordinator...")

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, c.config.Coordinator.ForceShutdownTimeout)
	defer cancel()

	c.server.Shutdown(ctx)

	if err := c.supervisor.Shutdown(ctx); err != nil {
		c.logger.Errorf("Backend shutdown failed: %v", err)
	}
	if handle := c.supervisor.Handle(); handle != nil && handle.Owned() {
		select {
		case <-handle.Done():
			c.supervisor.Wait()
		default:
		}
	}

	c.loader.Stop()
	for _, fn := range unsubscribe {
		fn()
	}
	c.gate.Stop()
	c.wg.Wait()

	if err := c.files.RemoveFiles(PortFileName); err != nil {
		c.logger.Warnf("Failed to remove control port file: %v", err)
	}

	c.mutex.Lock()
	c.state = StateStopped
	c.mutex.Unlock()

	c.logger.Infof("Coordinator stopped")
}

func (c *Coordinator) State() State {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.state
}

// Bridge is the only surface handed to the display layer
func (c *Coordinator) Bridge() bridge.Contract {
	return c.bridge
}

func (c *Coordinator) Readiness() *readiness.Gate {
	return c.gate
}

func (c *Coordinator) ControlPort() int {
	return c.server.Port()
}

func (c *Coordinator) Status() Status {
	status := Status{
		State:       c.State(),
		Readiness:   c.gate.Current(),
		Backend:     c.supervisor.State(),
		ControlPort: c.server.Port(),
		Content:     c.loader.Current(),
	}
	if handle := c.supervisor.Handle(); handle != nil {
		status.BackendOwned = handle.Owned()
		status.BackendPID = handle.PID()
		if handle.Owned() {
			if _, exited := handle.ExitCode(); !exited {
				alive, err := processstate.IsProcessRunning(handle.PID())
				status.BackendAlive = err == nil && alive
			}
		} else {
			status.BackendAlive = status.Readiness.State == readiness.StateReady
		}
	}
	return status
}
