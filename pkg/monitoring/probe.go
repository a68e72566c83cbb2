package monitoring

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/core-tools/site-analyzer-coordinator/pkg/errors"
	"github.com/core-tools/site-analyzer-coordinator/pkg/processstate"
)

type ProbeType string

const (
	ProbeTypeHTTP    ProbeType = "http"
	ProbeTypeTCP     ProbeType = "tcp"
	ProbeTypeGRPC    ProbeType = "grpc"
	ProbeTypeProcess ProbeType = "process"
)

const DefaultProbeTimeout = 2 * time.Second

type HTTPProbeConfig struct {
	URL     string            `yaml:"url"`
	Method  string            `yaml:"method,omitempty"`
	Headers map[string]string `yaml:"headers,omitempty"`
}

type TCPProbeConfig struct {
	Address string `yaml:"address"`
}

type GRPCProbeConfig struct {
	Address string `yaml:"address"`
	Service string `yaml:"service,omitempty"`
}

type ProbeConfig struct {
	Type    ProbeType     `yaml:"type"`
	Timeout time.Duration `yaml:"timeout,omitempty"`

	HTTP HTTPProbeConfig `yaml:"http,omitempty"`
	TCP  TCPProbeConfig  `yaml:"tcp,omitempty"`
	GRPC GRPCProbeConfig `yaml:"grpc,omitempty"`
	PID  int             `yaml:"-"`
}

// Prober answers one question: does the target exist right now.
// A nil error means it does.
type Prober interface {
	Probe(ctx context.Context) error
	String() string
}

// NewProber builds the prober described by config
func NewProber(config ProbeConfig) (Prober, error) {
	if err := ValidateProbeConfig(config); err != nil {
		return nil, err
	}

	timeout := config.Timeout
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}

	switch config.Type {
	case ProbeTypeHTTP:
		return NewHTTPProber(config.HTTP, timeout), nil
	case ProbeTypeTCP:
		return NewTCPProber(config.TCP.Address, timeout), nil
	case ProbeTypeGRPC:
		return NewGRPCProber(config.GRPC, timeout), nil
	case ProbeTypeProcess:
		return NewProcessProber(config.PID), nil
	}
	return nil, errors.NewValidationError("unsupported probe type: "+string(config.Type), nil)
}

// HTTPProber treats any HTTP response, whatever its status, as proof of existence.
// Only a transport failure means the service is absent.
type HTTPProber struct {
	config HTTPProbeConfig
	client *http.Client
}

func NewHTTPProber(config HTTPProbeConfig, timeout time.Duration) *HTTPProber {
	return &HTTPProber{
		config: config,
		client: &http.Client{Timeout: timeout},
	}
}

func (p *HTTPProber) Probe(ctx context.Context) error {
	method := p.config.Method
	if method == "" {
		method = http.MethodGet
	}

	req, err := http.NewRequestWithContext(ctx, method, p.config.URL, nil)
	if err != nil {
		return errors.NewValidationError("failed to create probe request", err).WithContext("url", p.config.URL)
	}
	for key, value := range p.config.Headers {
		req.Header.Set(key, value)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return errors.NewDomainError(errors.ErrorTypeConnectivity, "HTTP probe failed", err).WithContext("url", p.config.URL)
	}
	resp.Body.Close()
	return nil
}

func (p *HTTPProber) String() string {
	return fmt.Sprintf("http probe %s", p.config.URL)
}

type TCPProber struct {
	address string
	timeout time.Duration
}

func NewTCPProber(address string, timeout time.Duration) *TCPProber {
	return &TCPProber{address: address, timeout: timeout}
}

func (p *TCPProber) Probe(ctx context.Context) error {
	dialer := net.Dialer{Timeout: p.timeout}
	conn, err := dialer.DialContext(ctx, "tcp", p.address)
	if err != nil {
		return errors.NewDomainError(errors.ErrorTypeConnectivity, "TCP probe failed", err).WithContext("address", p.address)
	}
	conn.Close()
	return nil
}

func (p *TCPProber) String() string {
	return fmt.Sprintf("tcp probe %s", p.address)
}

// GRPCProber uses the standard gRPC health protocol
type GRPCProber struct {
	config  GRPCProbeConfig
	timeout time.Duration
}

func NewGRPCProber(config GRPCProbeConfig, timeout time.Duration) *GRPCProber {
	return &GRPCProber{config: config, timeout: timeout}
}

func (p *GRPCProber) Probe(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	conn, err := grpc.DialContext(ctx, p.config.Address,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithBlock(),
	)
	if err != nil {
		return errors.NewDomainError(errors.ErrorTypeConnectivity, "gRPC probe failed to connect", err).WithContext("address", p.config.Address)
	}
	defer conn.Close()

	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: p.config.Service})
	if err != nil {
		return errors.NewDomainError(errors.ErrorTypeConnectivity, "gRPC health check failed", err).WithContext("address", p.config.Address)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return errors.NewDomainError(errors.ErrorTypeConnectivity, "gRPC service not serving", nil).
			WithContext("address", p.config.Address).
			WithContext("status", resp.GetStatus().String())
	}
	return nil
}

func (p *GRPCProber) String() string {
	return fmt.Sprintf("grpc probe %s", p.config.Address)
}

// ProcessProber checks that a PID is alive
type ProcessProber struct {
	pid int
}

func NewProcessProber(pid int) *ProcessProber {
	return &ProcessProber{pid: pid}
}

func (p *ProcessProber) Probe(ctx context.Context) error {
	running, err := processstate.IsProcessRunning(p.pid)
	if err != nil {
		return err
	}
	if !running {
		return errors.NewProcessError("process not running", nil).WithContext("pid", p.pid)
	}
	return nil
}

func (p *ProcessProber) String() string {
	return fmt.Sprintf("process probe pid %d", p.pid)
}
