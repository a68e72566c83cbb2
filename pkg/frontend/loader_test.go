package frontend

import (
	"context"
	stderrors "errors"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/core-tools/site-analyzer-coordinator/pkg/logging"
	"github.com/core-tools/site-analyzer-coordinator/pkg/readiness"
)

type recordingSurface struct {
	mutex        sync.Mutex
	contents     []Content
	availability []bool
	failLive     bool
}

func (s *recordingSurface) Navigate(ctx context.Context, content Content) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.failLive && content.Kind == ContentLive {
		return stderrors.New("ERR_CONNECTION_REFUSED")
	}
	s.contents = append(s.contents, content)
	return nil
}

func (s *recordingSurface) SetBackendAvailable(available bool) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.availability = append(s.availability, available)
}

func (s *recordingSurface) kinds() []ContentKind {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	kinds := make([]ContentKind, 0, len(s.contents))
	for _, content := range s.contents {
		kinds = append(kinds, content.Kind)
	}
	return kinds
}

func (s *recordingSurface) features() []bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return append([]bool(nil), s.availability...)
}

type switchProber struct {
	up atomic.Bool
}

func (p *switchProber) Probe(ctx context.Context) error {
	if p.up.Load() {
		return nil
	}
	return stderrors.New("connection refused")
}

func (p *switchProber) String() string {
	return "dev-server"
}

func transition(from, to readiness.State) readiness.Transition {
	return readiness.Transition{
		From: readiness.Status{State: from},
		To:   readiness.Status{State: to},
		At:   time.Now(),
	}
}

func startLoader(t *testing.T, config Config, surface *recordingSurface, live *switchProber) (*Loader, chan readiness.Transition) {
	t.Helper()
	transitions := make(chan readiness.Transition, 16)
	loader := NewLoader(config, "http://127.0.0.1:8000", surface, logging.Nop(), WithLiveProber(live))
	require.NoError(t, loader.Start(context.Background(), transitions))
	t.Cleanup(loader.Stop)
	return loader, transitions
}

func eventuallyKinds(t *testing.T, surface *recordingSurface, want ...ContentKind) {
	t.Helper()
	assert.Eventually(t, func() bool {
		got := surface.kinds()
		if len(got) != len(want) {
			return false
		}
		for i := range got {
			if got[i] != want[i] {
				return false
			}
		}
		return true
	}, 2*time.Second, 10*time.Millisecond, "navigations: %v", surface.kinds())
}

// settle lets the loop drain anything queued before asserting nothing else happened
func settle() {
	time.Sleep(100 * time.Millisecond)
}

func TestLoader_PackagedShowsBundledOnce(t *testing.T) {
	surface := &recordingSurface{}
	live := &switchProber{}
	live.up.Store(true)
	loader, transitions := startLoader(t, Config{Mode: ModePackaged}, surface, live)

	eventuallyKinds(t, surface, ContentBundled)
	assert.True(t, strings.HasPrefix(loader.Current().URL, "file://"))
	assert.True(t, strings.HasSuffix(loader.Current().URL, "build/client/index.html"))

	transitions <- transition(readiness.StateStarting, readiness.StateReady)
	transitions <- transition(readiness.StateReady, readiness.StateReady)
	settle()

	assert.Equal(t, []ContentKind{ContentBundled}, surface.kinds())
	assert.Equal(t, []bool{true}, surface.features())
	assert.Equal(t, 1, loader.Navigations())
}

func TestLoader_DevelopmentLiveReachable(t *testing.T) {
	surface := &recordingSurface{}
	live := &switchProber{}
	live.up.Store(true)
	_, transitions := startLoader(t, Config{Mode: ModeDevelopment, PlaceholderDelay: 50 * time.Millisecond}, surface, live)

	eventuallyKinds(t, surface, ContentLive)

	transitions <- transition(readiness.StateProbing, readiness.StateReady)
	settle()
	assert.Equal(t, []ContentKind{ContentLive}, surface.kinds())
}

func TestLoader_DevelopmentFallbackChain(t *testing.T) {
	tests := []struct {
		name        string
		liveOnRetry bool
		want        []ContentKind
	}{
		{name: "live_comes_up", liveOnRetry: true, want: []ContentKind{ContentPlaceholder, ContentLive}},
		{name: "live_never_comes_up", liveOnRetry: false, want: []ContentKind{ContentPlaceholder, ContentBundled}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			surface := &recordingSurface{}
			live := &switchProber{}
			_, transitions := startLoader(t, Config{Mode: ModeDevelopment, PlaceholderDelay: 50 * time.Millisecond}, surface, live)

			eventuallyKinds(t, surface, ContentPlaceholder)

			live.up.Store(tt.liveOnRetry)
			transitions <- transition(readiness.StateStarting, readiness.StateReady)
			eventuallyKinds(t, surface, tt.want...)

			// a second ready must not navigate again
			transitions <- transition(readiness.StateReady, readiness.StateReady)
			settle()
			assert.Equal(t, tt.want, surface.kinds())
		})
	}
}

func TestLoader_ReadyBeforePlaceholderDelay(t *testing.T) {
	surface := &recordingSurface{}
	live := &switchProber{}
	_, transitions := startLoader(t, Config{Mode: ModeDevelopment, PlaceholderDelay: time.Hour}, surface, live)

	settle()
	assert.Empty(t, surface.kinds())

	live.up.Store(true)
	transitions <- transition(readiness.StateStarting, readiness.StateReady)
	eventuallyKinds(t, surface, ContentLive)
}

func TestLoader_SpawnFailureStillSettles(t *testing.T) {
	surface := &recordingSurface{}
	live := &switchProber{}
	_, transitions := startLoader(t, Config{Mode: ModeDevelopment, PlaceholderDelay: time.Hour}, surface, live)

	transitions <- transition(readiness.StateStarting, readiness.StateFailed)
	eventuallyKinds(t, surface, ContentBundled)
	assert.Empty(t, surface.features(), "backend was never available, so nothing to revoke")
}

func TestLoader_CrashOnlyRevokesFeatures(t *testing.T) {
	surface := &recordingSurface{}
	live := &switchProber{}
	live.up.Store(true)
	_, transitions := startLoader(t, Config{Mode: ModeDevelopment}, surface, live)

	eventuallyKinds(t, surface, ContentLive)
	transitions <- transition(readiness.StateStarting, readiness.StateReady)
	transitions <- transition(readiness.StateReady, readiness.StateTerminated)

	assert.Eventually(t, func() bool { return len(surface.features()) == 2 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, []bool{true, false}, surface.features())
	assert.Equal(t, []ContentKind{ContentLive}, surface.kinds())
}

func TestLoader_LiveNavigationFailureFallsBack(t *testing.T) {
	surface := &recordingSurface{failLive: true}
	live := &switchProber{}
	live.up.Store(true)
	loader, _ := startLoader(t, Config{Mode: ModeDevelopment}, surface, live)

	eventuallyKinds(t, surface, ContentBundled)
	assert.Equal(t, ContentBundled, loader.Current().Kind)
}

func TestLoader_StartTwice(t *testing.T) {
	loader, _ := startLoader(t, Config{Mode: ModePackaged}, &recordingSurface{}, &switchProber{})
	assert.Error(t, loader.Start(context.Background(), nil))
}

func TestPlaceholderContent(t *testing.T) {
	content := PlaceholderContent("http://localhost:5173", "http://127.0.0.1:8000")
	require.True(t, strings.HasPrefix(content.URL, "data:text/html"))

	page, err := url.PathUnescape(content.URL[strings.Index(content.URL, ",")+1:])
	require.NoError(t, err)
	assert.Contains(t, page, "Starting Website Analyzer...")
	assert.Contains(t, page, "http://localhost:5173")
	assert.Contains(t, page, "http://127.0.0.1:8000")
	assert.Contains(t, page, "Please wait...")
}

func TestValidateConfig(t *testing.T) {
	assert.NoError(t, ValidateConfig(Config{}))
	assert.NoError(t, ValidateConfig(Config{Mode: ModeDevelopment, DevURL: "http://localhost:5173"}))
	assert.Error(t, ValidateConfig(Config{Mode: "kiosk"}))
	assert.Error(t, ValidateConfig(Config{DevURL: "localhost"}))
}
