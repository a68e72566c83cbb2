package gateway

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/core-tools/site-analyzer-coordinator/pkg/errors"
	"github.com/core-tools/site-analyzer-coordinator/pkg/logging"
	"github.com/core-tools/site-analyzer-coordinator/pkg/service"
)

func endpointFor(t *testing.T, rawURL string) service.Endpoint {
	t.Helper()
	parsed, err := url.Parse(rawURL)
	require.NoError(t, err)
	host, portText, err := net.SplitHostPort(parsed.Host)
	require.NoError(t, err)
	port, err := strconv.Atoi(portText)
	require.NoError(t, err)
	return service.Endpoint{Host: host, Port: port, BasePath: "/api/v1"}
}

func closedEndpoint(t *testing.T) service.Endpoint {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := listener.Addr().(*net.TCPAddr).Port
	require.NoError(t, listener.Close())
	return service.Endpoint{Host: "127.0.0.1", Port: port, BasePath: "/api/v1"}
}

func fastOptions() Options {
	return Options{Timeout: 2 * time.Second, MaxAttempts: 3, RetryBackoff: 10 * time.Millisecond}
}

func intPtr(v int) *int {
	return &v
}

func TestClient_AnalyzeWebsite(t *testing.T) {
	var gotQuery url.Values
	var gotBody WebsiteAnalyzeRequest
	var gotRequestID string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v1/analyze", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		gotQuery = r.URL.Query()
		gotRequestID = r.Header.Get(requestIDHeader)
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &gotBody)

		_, _ = io.WriteString(w, `{"domain":"example.com","total_pages":12,"analyzed_pages":2,"pages":[`+
			`{"url":"https://example.com/","meta_title":{"content":"Example","content_length":7},`+
			`"meta_description":{"content":"","content_length":0},"external_links":[],"external_domains":[],`+
			`"social_links":["https://twitter.com/example"],"headings":{"h1":[{"content":"Hello","count":1}]},`+
			`"heading_counts":{"h1":1}}]}`)
	}))
	defer server.Close()

	client := NewClient(endpointFor(t, server.URL), fastOptions(), logging.Nop())

	analysis, err := client.AnalyzeWebsite(context.Background(), WebsiteAnalyzeRequest{
		Domain:            "example.com",
		MaxPagesToCount:   intPtr(100),
		MaxPagesToAnalyze: intPtr(5),
	})
	require.NoError(t, err)

	assert.Equal(t, "example.com", analysis.Domain)
	assert.Equal(t, 12, analysis.TotalPages)
	require.Len(t, analysis.Pages, 1)
	assert.Equal(t, "Example", analysis.Pages[0].MetaTitle.Content)
	assert.Equal(t, 1, analysis.Pages[0].HeadingCounts["h1"])
	assert.Equal(t, "Hello", analysis.Pages[0].Headings["h1"][0].Content)

	assert.Equal(t, "example.com", gotBody.Domain)
	assert.Equal(t, "100", gotQuery.Get("max_pages_to_count"))
	assert.Equal(t, "5", gotQuery.Get("max_pages_to_analyze"))
	_, err = uuid.Parse(gotRequestID)
	assert.NoError(t, err)
}

func TestClient_AnalyzeWebsiteOmitsUnsetLimits(t *testing.T) {
	var rawQuery string
	var rawBody string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rawQuery = r.URL.RawQuery
		body, _ := io.ReadAll(r.Body)
		rawBody = string(body)
		_, _ = io.WriteString(w, `{"domain":"example.com","total_pages":0,"analyzed_pages":0,"pages":[]}`)
	}))
	defer server.Close()

	client := NewClient(endpointFor(t, server.URL), fastOptions(), logging.Nop())
	_, err := client.AnalyzeWebsite(context.Background(), WebsiteAnalyzeRequest{Domain: "example.com"})
	require.NoError(t, err)

	assert.Empty(t, rawQuery)
	assert.JSONEq(t, `{"domain":"example.com"}`, rawBody)
}

func TestClient_AnalyzePage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/analyze-page", r.URL.Path)
		assert.Empty(t, r.URL.RawQuery)
		var request SinglePageAnalyzeRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&request))
		_, _ = io.WriteString(w, `{"url":"`+request.URL+`","meta_title":{"content":"T","content_length":1}}`)
	}))
	defer server.Close()

	client := NewClient(endpointFor(t, server.URL), fastOptions(), logging.Nop())
	analysis, err := client.AnalyzePage(context.Background(), SinglePageAnalyzeRequest{URL: "https://example.com/about"})
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/about", analysis.URL)
	assert.Equal(t, 1, analysis.MetaTitle.ContentLength)
}

func TestClient_ServiceRejection(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		wantDetail string
	}{
		{name: "string_detail", status: 500, body: `{"detail":"Failed to fetch example.com"}`, wantDetail: "Failed to fetch example.com"},
		{name: "missing_detail", status: 400, body: `{}`, wantDetail: errors.DefaultRejectionMessage},
		{name: "validation_list", status: 422, body: `{"detail":[{"loc":["body","domain"],"msg":"field required"}]}`,
			wantDetail: `[{"loc":["body","domain"],"msg":"field required"}]`},
		{name: "plain_text", status: 502, body: "Bad Gateway", wantDetail: "Bad Gateway"},
		{name: "empty_body", status: 503, body: "", wantDetail: errors.DefaultRejectionMessage},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var hits atomic.Int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				hits.Add(1)
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			}))
			defer server.Close()

			client := NewClient(endpointFor(t, server.URL), fastOptions(), logging.Nop())
			result, err := client.Call(context.Background(), OperationAnalyzeSite, json.RawMessage(`{"domain":"example.com"}`))
			require.Error(t, err)
			assert.Nil(t, result)

			classified, ok := errors.AsClassified(err)
			require.True(t, ok)
			assert.Equal(t, errors.ErrorTypeServiceRejection, classified.Kind)
			assert.Equal(t, tt.status, classified.StatusCode)
			assert.Equal(t, tt.wantDetail, classified.Message)
			assert.False(t, classified.Retryable)
			assert.Equal(t, int32(1), hits.Load(), "rejections are never retried")
		})
	}
}

func TestClient_TimeoutIsTerminal(t *testing.T) {
	var hits atomic.Int32
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	options := fastOptions()
	options.Timeout = 150 * time.Millisecond
	client := NewClient(endpointFor(t, server.URL), options, logging.Nop())

	start := time.Now()
	_, err := client.Call(context.Background(), OperationAnalyzeSite, json.RawMessage(`{"domain":"slow.example"}`))
	require.Error(t, err)
	assert.Less(t, time.Since(start), time.Second)

	assert.True(t, errors.IsTimeoutError(err))
	classified, _ := errors.AsClassified(err)
	assert.Equal(t, errors.TimeoutStatusCode, classified.StatusCode)
	assert.Equal(t, errors.TimeoutMessage, classified.Message)
	assert.Equal(t, int32(1), hits.Load())
}

func TestClient_ConnectivityExhaustsRetries(t *testing.T) {
	client := NewClient(closedEndpoint(t), fastOptions(), logging.Nop())

	_, err := client.Call(context.Background(), OperationAnalyzePage, json.RawMessage(`{"url":"https://example.com"}`))
	require.Error(t, err)

	classified, ok := errors.AsClassified(err)
	require.True(t, ok)
	assert.Equal(t, errors.ErrorTypeConnectivity, classified.Kind)
	assert.Equal(t, errors.NetworkStatusCode, classified.StatusCode)
	assert.Equal(t, errors.NetworkErrorMessage, classified.UserMessage())
	assert.True(t, classified.IsTerminal())

	last, ok := classified.Cause.(*errors.ClassifiedError)
	require.True(t, ok)
	assert.True(t, last.Retryable)
	assert.Equal(t, 3, last.Attempt)
}

// flakyTransport refuses the first failures connections, then delegates
type flakyTransport struct {
	failures int32
	calls    atomic.Int32
	next     http.RoundTripper
}

func (f *flakyTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	if f.calls.Add(1) <= f.failures {
		return nil, &net.OpError{Op: "dial", Net: "tcp", Err: io.ErrUnexpectedEOF}
	}
	return f.next.RoundTrip(r)
}

func TestClient_RecoversAfterConnectionFailures(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"url":"https://example.com"}`)
	}))
	defer server.Close()

	transport := &flakyTransport{failures: 2, next: http.DefaultTransport}
	options := fastOptions()
	options.Transport = transport
	client := NewClient(endpointFor(t, server.URL), options, logging.Nop())

	result, err := client.Call(context.Background(), OperationAnalyzePage, json.RawMessage(`{"url":"https://example.com"}`))
	require.NoError(t, err)
	assert.Equal(t, 3, result.Attempts)
	assert.Equal(t, http.StatusOK, result.StatusCode)
	assert.JSONEq(t, `{"url":"https://example.com"}`, string(result.Body))
	assert.Equal(t, int32(3), transport.calls.Load())
}

func TestClient_CallerCancellationAbortsRetries(t *testing.T) {
	transport := &flakyTransport{failures: 100, next: http.DefaultTransport}
	options := fastOptions()
	options.RetryBackoff = time.Hour
	options.Transport = transport
	client := NewClient(closedEndpoint(t), options, logging.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(100*time.Millisecond, cancel)

	_, err := client.Call(ctx, OperationAnalyzeSite, json.RawMessage(`{"domain":"example.com"}`))
	require.Error(t, err)
	assert.True(t, errors.IsCancelledError(err))
	assert.Equal(t, int32(1), transport.calls.Load())
}

func TestClient_UnknownOperation(t *testing.T) {
	client := NewClient(closedEndpoint(t), fastOptions(), logging.Nop())
	_, err := client.Call(context.Background(), Operation("delete_everything"), nil)
	assert.True(t, errors.IsValidationError(err))
}

func TestOptions_WithDefaults(t *testing.T) {
	options := Options{}.WithDefaults()
	assert.Equal(t, DefaultTimeout, options.Timeout)
	assert.Equal(t, DefaultMaxAttempts, options.MaxAttempts)
	assert.Equal(t, DefaultRetryBackoff, options.RetryBackoff)

	assert.Error(t, ValidateOptions(Options{Timeout: -time.Second}))
	assert.NoError(t, ValidateOptions(Options{}))
}
