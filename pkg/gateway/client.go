package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/core-tools/site-analyzer-coordinator/pkg/errors"
	"github.com/core-tools/site-analyzer-coordinator/pkg/logging"
	"github.com/core-tools/site-analyzer-coordinator/pkg/service"
)

type Operation string

const (
	OperationAnalyzeSite Operation = "analyze_site"
	OperationAnalyzePage Operation = "analyze_page"
)

// Path is relative to the endpoint base path
func (o Operation) Path() string {
	switch o {
	case OperationAnalyzeSite:
		return "/analyze"
	case OperationAnalyzePage:
		return "/analyze-page"
	default:
		return ""
	}
}

const (
	DefaultTimeout      = 300 * time.Second
	DefaultMaxAttempts  = 3
	DefaultRetryBackoff = 2 * time.Second

	defaultUserAgent = "site-analyzer-coordinator/1.0"
	requestIDHeader  = "X-Request-ID"

	// rejection bodies longer than this are not echoed to the user
	maxDetailLength = 2048
)

type Options struct {
	Timeout      time.Duration `yaml:"timeout,omitempty"`
	MaxAttempts  int           `yaml:"max_attempts,omitempty"`
	RetryBackoff time.Duration `yaml:"retry_backoff,omitempty"`
	UserAgent    string        `yaml:"user_agent,omitempty"`

	// Transport overrides the HTTP transport, mainly for tests
	Transport http.RoundTripper `yaml:"-"`
}

func (o Options) WithDefaults() Options {
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = DefaultMaxAttempts
	}
	if o.RetryBackoff < 0 {
		o.RetryBackoff = 0
	}
	if o.UserAgent == "" {
		o.UserAgent = defaultUserAgent
	}
	return o
}

func ValidateOptions(options Options) error {
	if options.Timeout < 0 {
		return errors.NewValidationError("gateway timeout cannot be negative", nil)
	}
	if options.MaxAttempts < 0 {
		return errors.NewValidationError("gateway max attempts cannot be negative", nil)
	}
	if options.RetryBackoff < 0 {
		return errors.NewValidationError("gateway retry backoff cannot be negative", nil)
	}
	return nil
}

// PendingRequest is one logical call, shared by all of its attempts
type PendingRequest struct {
	ID        string
	Operation Operation
	Payload   json.RawMessage
	Query     url.Values
	Deadline  time.Time
}

type Result struct {
	RequestID  string
	Operation  Operation
	StatusCode int
	Body       json.RawMessage
	Attempts   int
}

// Client issues analysis requests to the backend. Every error it returns is a
// *errors.ClassifiedError.
type Client struct {
	endpoint service.Endpoint
	options  Options
	http     *http.Client
	logger   logging.Logger
}

func NewClient(endpoint service.Endpoint, options Options, logger logging.Logger) *Client {
	options = options.WithDefaults()
	httpClient := &http.Client{}
	if options.Transport != nil {
		httpClient.Transport = options.Transport
	}
	return &Client{
		endpoint: endpoint.WithDefaults(),
		options:  options,
		http:     httpClient,
		logger:   logger,
	}
}

func (c *Client) Options() Options {
	return c.options
}

// AnalyzeWebsite crawls a whole site
func (c *Client) AnalyzeWebsite(ctx context.Context, request WebsiteAnalyzeRequest) (*WebsiteAnalysis, error) {
	var analysis WebsiteAnalysis
	if err := c.callTyped(ctx, OperationAnalyzeSite, request, &analysis); err != nil {
		return nil, err
	}
	return &analysis, nil
}

// AnalyzePage analyzes one page
func (c *Client) AnalyzePage(ctx context.Context, request SinglePageAnalyzeRequest) (*PageAnalysis, error) {
	var analysis PageAnalysis
	if err := c.callTyped(ctx, OperationAnalyzePage, request, &analysis); err != nil {
		return nil, err
	}
	return &analysis, nil
}

func (c *Client) callTyped(ctx context.Context, operation Operation, request interface{}, dest interface{}) error {
	payload, err := json.Marshal(request)
	if err != nil {
		return errors.NewTerminalError(errors.ErrorTypeValidation, 400, "failed to encode request", err)
	}
	result, err := c.Call(ctx, operation, payload)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(result.Body, dest); err != nil {
		return errors.NewTerminalError(errors.ErrorTypeInternal, 500, "invalid response from analysis service", err)
	}
	return nil
}

// Call sends payload for operation, retrying connection-level failures only.
// The whole call, retries included, is bounded by Options.Timeout.
func (c *Client) Call(ctx context.Context, operation Operation, payload json.RawMessage) (*Result, error) {
	if operation.Path() == "" {
		return nil, errors.NewTerminalError(errors.ErrorTypeValidation, 400, "unknown operation: "+string(operation), nil)
	}

	request := PendingRequest{
		ID:        uuid.NewString(),
		Operation: operation,
		Payload:   payload,
		Query:     queryFor(operation, payload),
		Deadline:  time.Now().Add(c.options.Timeout),
	}

	requestCtx, cancel := context.WithDeadline(ctx, request.Deadline)
	defer cancel()

	var lastErr *errors.ClassifiedError
	for attempt := 1; attempt <= c.options.MaxAttempts; attempt++ {
		c.logger.Debugf("Calling analysis service, id: %s, operation: %s, attempt: %d/%d",
			request.ID, operation, attempt, c.options.MaxAttempts)

		statusCode, body, err := c.send(requestCtx, request)
		if err == nil {
			if statusCode < 200 || statusCode > 299 {
				rejection := errors.NewServiceRejection(statusCode, detailFrom(body))
				c.logger.Warnf("Analysis service rejected request, id: %s, operation: %s, status: %d, detail: %s",
					request.ID, operation, statusCode, rejection.Message)
				return nil, rejection
			}
			c.logger.Infof("Analysis request completed, id: %s, operation: %s, status: %d, attempts: %d",
				request.ID, operation, statusCode, attempt)
			return &Result{
				RequestID:  request.ID,
				Operation:  operation,
				StatusCode: statusCode,
				Body:       body,
				Attempts:   attempt,
			}, nil
		}

		if terminal := c.interrupted(ctx, requestCtx, request, err); terminal != nil {
			return nil, terminal
		}

		lastErr = errors.NewRetryableError(errors.ErrorTypeConnectivity, attempt, err.Error(), err)
		c.logger.Warnf("Analysis service unreachable, id: %s, attempt: %d/%d, error: %v",
			request.ID, attempt, c.options.MaxAttempts, err)

		if attempt == c.options.MaxAttempts {
			break
		}
		if err := sleep(requestCtx, c.options.RetryBackoff); err != nil {
			if terminal := c.interrupted(ctx, requestCtx, request, err); terminal != nil {
				return nil, terminal
			}
		}
	}

	c.logger.Errorf("Analysis service unreachable after %d attempts, id: %s", c.options.MaxAttempts, request.ID)
	return nil, errors.NewConnectivityError(lastErr)
}

// interrupted maps a failure caused by a context into its terminal error.
// The caller's context takes precedence over the request deadline.
func (c *Client) interrupted(callerCtx, requestCtx context.Context, request PendingRequest, err error) *errors.ClassifiedError {
	if callerCtx.Err() != nil {
		c.logger.Infof("Analysis request cancelled, id: %s, operation: %s", request.ID, request.Operation)
		return errors.NewTerminalError(errors.ErrorTypeCancelled, 499, "request was cancelled", err)
	}
	if requestCtx.Err() != nil {
		c.logger.Warnf("Analysis request timed out, id: %s, operation: %s, timeout: %v",
			request.ID, request.Operation, c.options.Timeout)
		return errors.NewTimeoutError(err)
	}
	return nil
}

// send performs one attempt. A non-nil error means no complete response was received.
func (c *Client) send(ctx context.Context, request PendingRequest) (int, []byte, error) {
	target := c.endpoint.URL(request.Operation.Path())
	if len(request.Query) > 0 {
		target += "?" + request.Query.Encode()
	}

	httpRequest, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(request.Payload))
	if err != nil {
		return 0, nil, fmt.Errorf("create request: %w", err)
	}
	httpRequest.Header.Set("Content-Type", "application/json")
	httpRequest.Header.Set("Accept", "application/json")
	httpRequest.Header.Set("User-Agent", c.options.UserAgent)
	httpRequest.Header.Set(requestIDHeader, request.ID)

	response, err := c.http.Do(httpRequest)
	if err != nil {
		return 0, nil, err
	}
	defer func() { _ = response.Body.Close() }()

	body, err := io.ReadAll(response.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("read response: %w", err)
	}
	return response.StatusCode, body, nil
}

// queryFor mirrors the site limits into the query string, where the backend reads them
func queryFor(operation Operation, payload json.RawMessage) url.Values {
	if operation != OperationAnalyzeSite {
		return nil
	}
	var request WebsiteAnalyzeRequest
	if err := json.Unmarshal(payload, &request); err != nil {
		return nil
	}
	values := url.Values{}
	if request.MaxPagesToCount != nil {
		values.Set("max_pages_to_count", strconv.Itoa(*request.MaxPagesToCount))
	}
	if request.MaxPagesToAnalyze != nil {
		values.Set("max_pages_to_analyze", strconv.Itoa(*request.MaxPagesToAnalyze))
	}
	return values
}

func detailFrom(body []byte) string {
	var response errorResponse
	if err := json.Unmarshal(body, &response); err == nil && len(response.Detail) > 0 {
		var detail string
		if err := json.Unmarshal(response.Detail, &detail); err == nil {
			return detail
		}
		if string(response.Detail) != "null" {
			return string(response.Detail)
		}
		return ""
	}

	text := strings.TrimSpace(string(body))
	if len(text) > maxDetailLength || strings.HasPrefix(text, "{") {
		return ""
	}
	return text
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
