package control

import (
	"context"
	"net"
	"strconv"
	"sync"

	"github.com/sourcegraph/conc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/core-tools/site-analyzer-coordinator/pkg/errors"
	"github.com/core-tools/site-analyzer-coordinator/pkg/logging"
)

const DefaultHost = "127.0.0.1"

type ServerOptions struct {
	Host string `yaml:"host,omitempty"`
	// Port 0 picks a free port; Server.Port reports it after Start
	Port int `yaml:"port,omitempty"`
}

// Server hosts the Bridge service and a standard gRPC health service on a
// loopback listener
type Server struct {
	options ServerOptions
	grpc    *grpc.Server
	health  *health.Server
	logger  logging.Logger

	mutex    sync.Mutex
	listener net.Listener
	started  bool
	stopped  bool
	wg       conc.WaitGroup
}

func NewServer(options ServerOptions, logger logging.Logger) (*Server, error) {
	if options.Host == "" {
		options.Host = DefaultHost
	}
	if options.Port < 0 || options.Port > 65535 {
		return nil, errors.NewValidationError("control port must be between 0 and 65535", nil).WithContext("port", options.Port)
	}

	grpcServer := grpc.NewServer()
	healthServer := health.NewServer()
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	healthServer.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
	healthpb.RegisterHealthServer(grpcServer, healthServer)

	return &Server{
		options: options,
		grpc:    grpcServer,
		health:  healthServer,
		logger:  logger,
	}, nil
}

// GRPC is where services are registered, before Start
func (s *Server) GRPC() *grpc.Server {
	return s.grpc
}

func (s *Server) Start() error {
	address := net.JoinHostPort(s.options.Host, strconv.Itoa(s.options.Port))
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return errors.NewIOError("failed to listen", err).WithContext("address", address)
	}
	return s.Serve(listener)
}

// Serve starts serving on an existing listener and returns immediately
func (s *Server) Serve(listener net.Listener) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.started || s.stopped {
		listener.Close()
		return errors.NewInternalError("control server already started", nil)
	}
	s.started = true
	s.listener = listener

	s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	s.health.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)

	s.logger.Infof("Control server listening, address: %s", listener.Addr())
	s.wg.Go(func() {
		if err := s.grpc.Serve(listener); err != nil {
			s.logger.Errorf("Control server stopped serving: %v", err)
		}
	})
	return nil
}

// Port is the bound TCP port, or 0 when not listening on TCP
func (s *Server) Port() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.listener == nil {
		return 0
	}
	if addr, ok := s.listener.Addr().(*net.TCPAddr); ok {
		return addr.Port
	}
	return 0
}

// Shutdown drains in-flight calls until ctx is done, then stops hard
func (s *Server) Shutdown(ctx context.Context) {
	s.mutex.Lock()
	if s.stopped {
		s.mutex.Unlock()
		return
	}
	s.stopped = true
	started := s.started
	s.mutex.Unlock()

	s.logger.Infof("Stopping control server")
	s.health.Shutdown()

	if !started {
		s.grpc.Stop()
		return
	}

	drained := make(chan struct{})
	go func() {
		s.grpc.GracefulStop()
		close(drained)
	}()

	select {
	case <-drained:
	case <-ctx.Done():
		s.logger.Warnf("Control server drain interrupted, forcing stop")
		s.grpc.Stop()
		<-drained
	}
	s.wg.Wait()
	s.logger.Infof("Control server stopped")
}
