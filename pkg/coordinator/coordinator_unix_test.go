//go:build !windows

package coordinator

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/core-tools/site-analyzer-coordinator/pkg/control"
	"github.com/core-tools/site-analyzer-coordinator/pkg/errors"
	"github.com/core-tools/site-analyzer-coordinator/pkg/frontend"
	"github.com/core-tools/site-analyzer-coordinator/pkg/logging"
	"github.com/core-tools/site-analyzer-coordinator/pkg/processfile"
	"github.com/core-tools/site-analyzer-coordinator/pkg/readiness"
	"github.com/core-tools/site-analyzer-coordinator/pkg/supervisor"
)

type recordingSurface struct {
	mutex     sync.Mutex
	contents  []frontend.Content
	available []bool
}

func (s *recordingSurface) Navigate(ctx context.Context, content frontend.Content) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.contents = append(s.contents, content)
	return nil
}

func (s *recordingSurface) SetBackendAvailable(available bool) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.available = append(s.available, available)
}

func (s *recordingSurface) navigations() []frontend.Content {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return append([]frontend.Content(nil), s.contents...)
}

func freePort(t *testing.T) int {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := listener.Addr().(*net.TCPAddr).Port
	require.NoError(t, listener.Close())
	return port
}

func testConfig(t *testing.T, servicePort int) *Config {
	t.Helper()
	config := DefaultConfig()
	config.Service.Port = servicePort
	config.Backend.Execution.WorkingDirectory = ""
	config.Backend.GracefulTimeout = 2 * time.Second
	config.Readiness.FallbackTimeout = 3 * time.Second
	config.Bridge.ReadyWait = 2 * time.Second
	config.Gateway.RetryBackoff = 50 * time.Millisecond
	config.ProcessFile = processfile.Config{BaseDirectory: t.TempDir(), AppName: "coordinator-test"}
	return config
}

func externalBackend(t *testing.T, hits *atomic.Int32) (*httptest.Server, int) {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/analyze":
			hits.Add(1)
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"domain":"example.com","total_pages":3}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(server.Close)

	return server, server.Listener.Addr().(*net.TCPAddr).Port
}

func TestCoordinator_AdoptsExistingBackend(t *testing.T) {
	var hits atomic.Int32
	server, port := externalBackend(t, &hits)

	surface := &recordingSurface{}
	coordinator, err := New(testConfig(t, port), surface, logging.Nop(), nil)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, coordinator.Start(ctx))

	require.Eventually(t, func() bool {
		return coordinator.Readiness().Current().State == readiness.StateReady
	}, 3*time.Second, 10*time.Millisecond)

	status := coordinator.Status()
	assert.Equal(t, StateRunning, status.State)
	assert.Equal(t, supervisor.StateExternal, status.Backend)
	assert.False(t, status.BackendOwned)
	assert.True(t, status.BackendAlive)
	assert.NotZero(t, status.ControlPort)

	body, err := coordinator.Bridge().AnalyzeWebsite(ctx, "example.com", nil, nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"domain":"example.com","total_pages":3}`, string(body))
	assert.Equal(t, int32(1), hits.Load())

	coordinator.Stop(ctx)
	assert.Equal(t, StateStopped, coordinator.State())

	// An adopted backend outlives the coordinator
	resp, err := http.Get(server.URL + "/api/v1/analyze")
	require.NoError(t, err)
	_ = resp.Body.Close()

	navigations := surface.navigations()
	require.NotEmpty(t, navigations)
	assert.Equal(t, frontend.ContentBundled, navigations[0].Kind)
}

func TestCoordinator_BridgeOverControlServer(t *testing.T) {
	var hits atomic.Int32
	_, port := externalBackend(t, &hits)

	config := testConfig(t, port)
	coordinator, err := New(config, nil, logging.Nop(), nil)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, coordinator.Start(ctx))
	defer coordinator.Stop(ctx)

	files := processfile.NewManager(config.ProcessFile, logging.Nop())
	published, err := files.ReadPortFile(PortFileName)
	require.NoError(t, err)
	assert.Equal(t, coordinator.ControlPort(), published)

	conn, err := control.Dial(ctx, published, 2*time.Second)
	require.NoError(t, err)
	defer conn.Close()

	contract := control.NewGRPCClientGateway(conn, logging.Nop())
	body, err := contract.AnalyzeWebsite(ctx, "example.com", nil, nil)
	require.NoError(t, err)
	assert.Contains(t, string(body), "example.com")

	_, err = contract.AnalyzeWebsite(ctx, "  ", nil, nil)
	classified, ok := errors.AsClassified(err)
	require.True(t, ok)
	assert.Equal(t, errors.ErrorTypeValidation, classified.Kind)

	coordinator.Stop(ctx)
	_, err = os.Stat(files.PortFilePath(PortFileName))
	assert.True(t, os.IsNotExist(err))
}

func TestCoordinator_SpawnsAndStopsBackend(t *testing.T) {
	script := filepath.Join(t.TempDir(), "backend.sh")
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\necho \"INFO:     Application startup complete.\"\nexec sleep 30\n"), 0755))

	config := testConfig(t, freePort(t))
	config.Backend.Execution.ExecutablePath = script
	config.Backend.Execution.Args = nil
	config.Backend.ReprobeInterval = 0

	coordinator, err := New(config, nil, logging.Nop(), nil)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, coordinator.Start(ctx))

	require.Eventually(t, func() bool {
		return coordinator.Readiness().Current().State == readiness.StateReady
	}, 3*time.Second, 10*time.Millisecond)

	status := coordinator.Status()
	assert.Equal(t, supervisor.StateRunning, status.Backend)
	assert.True(t, status.BackendOwned)
	assert.True(t, status.BackendAlive)
	require.Positive(t, status.BackendPID)

	coordinator.Stop(ctx)

	assert.Equal(t, supervisor.StateStopped, coordinator.Status().Backend)
	handle := coordinator.supervisor.Handle()
	require.Eventually(t, func() bool {
		_, exited := handle.ExitCode()
		return exited
	}, 5*time.Second, 20*time.Millisecond)

	files := processfile.NewManager(config.ProcessFile, logging.Nop())
	require.Eventually(t, func() bool {
		_, err := files.ReadPIDFile("backend")
		return err != nil
	}, 5*time.Second, 20*time.Millisecond)

	// Stop is safe to repeat
	coordinator.Stop(ctx)
	assert.Equal(t, StateStopped, coordinator.State())
}

func TestCoordinator_SpawnFailureKeepsBridgeAnswering(t *testing.T) {
	config := testConfig(t, freePort(t))
	config.Backend.Execution.ExecutablePath = filepath.Join(t.TempDir(), "missing-python")
	config.Backend.Execution.Args = nil

	coordinator, err := New(config, nil, logging.Nop(), nil)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, coordinator.Start(ctx))
	defer coordinator.Stop(ctx)

	require.Eventually(t, func() bool {
		return coordinator.Readiness().Current().State == readiness.StateFailed
	}, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, supervisor.StateFailed, coordinator.Status().Backend)

	_, err = coordinator.Bridge().AnalyzeSinglePage(ctx, "https://example.com/")
	classified, ok := errors.AsClassified(err)
	require.True(t, ok)
	assert.Equal(t, errors.ErrorTypeProcessCrash, classified.Kind)
}

func TestCoordinator_StartTwice(t *testing.T) {
	var hits atomic.Int32
	_, port := externalBackend(t, &hits)

	coordinator, err := New(testConfig(t, port), nil, logging.Nop(), nil)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, coordinator.Start(ctx))
	defer coordinator.Stop(ctx)

	assert.True(t, errors.IsInternalError(coordinator.Start(ctx)))
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	config := DefaultConfig()
	config.Coordinator.ControlPort = -5

	_, err := New(config, nil, logging.Nop(), nil)
	assert.True(t, errors.IsValidationError(err))
}
