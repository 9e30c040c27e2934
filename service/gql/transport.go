package gql

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"time"

	"github.com/mikeydub/go-collab/service/logger"
	"github.com/mikeydub/go-collab/service/tracing"
	"github.com/mikeydub/go-collab/util/retry"
	"github.com/segmentio/ksuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/publicsuffix"
)

const (
	RequestIDHeader = "X-Request-Id"
	maxResponseSize = 10 << 20
)

// Transport sends one Operation and parses the response. Implementations return an
// error only when no GraphQL response could be obtained.
type Transport interface {
	Do(ctx context.Context, op Operation) (*Result, error)
}

// TransportError is a failure to obtain a parseable GraphQL response: a network error,
// or a body that is not a GraphQL envelope.
type TransportError struct {
	Operation  string
	RequestID  string
	StatusCode int // 0 when no response was received
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("graphql transport failed for %s (status %d, request %s): %s", e.Operation, e.StatusCode, e.RequestID, e.Err)
	}
	return fmt.Sprintf("graphql transport failed for %s (request %s): %s", e.Operation, e.RequestID, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// NewHTTPClient returns a client with a cookie jar, so credentials set by the server are
// attached to later requests without ever appearing in an Operation, and Sentry tracing
// on every request.
func NewHTTPClient(timeout time.Duration) (*http.Client, error) {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, err
	}
	return &http.Client{
		Jar:       jar,
		Timeout:   timeout,
		Transport: tracing.NewTracingTransport(http.DefaultTransport, true),
	}, nil
}

// HTTPTransport posts operations to a single GraphQL-over-HTTP endpoint.
type HTTPTransport struct {
	endpoint  string
	client    *http.Client
	rateLimit retry.Retry
}

type TransportOption func(*HTTPTransport)

// WithRateLimitRetry sets how often a 429 response is retried before giving up.
func WithRateLimitRetry(r retry.Retry) TransportOption {
	return func(t *HTTPTransport) {
		if r.Tries < 1 {
			r.Tries = 1
		}
		t.rateLimit = r
	}
}

func NewHTTPTransport(endpoint string, client *http.Client, opts ...TransportOption) *HTTPTransport {
	if client == nil {
		client = http.DefaultClient
	}
	t := &HTTPTransport{endpoint: endpoint, client: client, rateLimit: retry.DefaultRetry}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Client exposes the underlying HTTP client, e.g. to inspect its cookie jar.
func (t *HTTPTransport) Client() *http.Client { return t.client }

type requestBody struct {
	Query         string         `json:"query"`
	Variables     map[string]any `json:"variables"`
	OperationName string         `json:"operationName,omitempty"`
}

func (t *HTTPTransport) Do(ctx context.Context, op Operation) (*Result, error) {
	requestID := ksuid.New().String()
	fail := func(status int, err error) (*Result, error) {
		return nil, &TransportError{Operation: op.displayName(), RequestID: requestID, StatusCode: status, Err: err}
	}

	body, err := json.Marshal(requestBody{
		Query:         op.query,
		Variables:     op.variables,
		OperationName: op.name,
	})
	if err != nil {
		return fail(0, fmt.Errorf("failed to encode request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(body))
	if err != nil {
		return fail(0, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set(RequestIDHeader, requestID)

	log := logger.For(ctx).WithFields(logrus.Fields{
		"operation": op.displayName(),
		"requestId": requestID,
	})
	start := time.Now()

	resp, err := retry.RetryRequestWithRetry(t.client, req, t.rateLimit)
	if err != nil {
		log.WithError(err).Debug("graphql request failed")
		return fail(0, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return fail(resp.StatusCode, fmt.Errorf("failed to read response: %w", err))
	}

	var result Result
	if err := json.Unmarshal(raw, &result); err != nil {
		return fail(resp.StatusCode, fmt.Errorf("unparseable response body: %w", err))
	}

	// A non-2xx status is only acceptable when it came with a GraphQL envelope.
	if resp.StatusCode/100 != 2 && len(result.Errors) == 0 && !result.HasData() {
		return fail(resp.StatusCode, fmt.Errorf("unexpected status %s", resp.Status))
	}

	log.WithFields(logrus.Fields{
		"status":   resp.StatusCode,
		"errors":   len(result.Errors),
		"duration": time.Since(start),
	}).Debug("graphql response received")

	return &result, nil
}
