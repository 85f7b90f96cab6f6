package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/transitboard/internal/common/logger"
)

const (
	UserAgent              = "transitboard/1.0"
	DefaultTimeout         = 10 * time.Second
	DefaultMinPayloadBytes = 100

	outcomeOK       = "ok"
	outcomeFailed   = "failed"
	outcomeRejected = "rejected"
)

// ErrAllEndpointsExhausted is matched by every *Error returned from a fetch
var ErrAllEndpointsExhausted = errors.New("all feed endpoints exhausted")

// ErrRejected marks a response that arrived but is not a usable feed
var ErrRejected = errors.New("response rejected")

// ErrShortPayload marks a body under the minimum size. A well-formed feed
// with no entities is only a few bytes, so the body is kept on the attempt
// for the caller to decode.
var ErrShortPayload = fmt.Errorf("%w: short payload", ErrRejected)

// Endpoint is one way of reaching the feed. An empty Prefix is the direct path.
type Endpoint struct {
	Name   string
	Prefix string
}

// URL returns the address to request for the given feed URL
func (e Endpoint) URL(target string) string {
	if e.Prefix == "" {
		return target
	}
	return e.Prefix + url.QueryEscape(target)
}

type Attempt struct {
	Endpoint string
	Err      error
	// Payload is set only when Err is ErrShortPayload
	Payload *Payload
}

// Error is returned when no endpoint produced a usable payload
type Error struct {
	Target   string
	Attempts []Attempt
}

func (e *Error) Error() string {
	parts := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		parts = append(parts, fmt.Sprintf("%s: %v", a.Endpoint, a.Err))
	}
	return fmt.Sprintf("%v for %s [%s]", ErrAllEndpointsExhausted, e.Target, strings.Join(parts, "; "))
}

func (e *Error) Is(target error) bool {
	return target == ErrAllEndpointsExhausted
}

// ShortPayload returns the first undersized body seen during the walk, or nil
func (e *Error) ShortPayload() *Payload {
	for _, a := range e.Attempts {
		if a.Payload != nil {
			return a.Payload
		}
	}
	return nil
}

// Payload is a validated feed body
type Payload struct {
	Body        []byte
	ContentType string
	Endpoint    string
}

// AttemptObserver receives one call per endpoint attempt
type AttemptObserver interface {
	ObserveAttempt(endpoint, outcome string)
}

type Config struct {
	DirectEnabled   bool
	RelayPrefixes   []string
	Timeout         time.Duration
	MinPayloadBytes int
	UserAgent       string
	APIKey          string
	APIKeyHeader    string
}

type Transport struct {
	endpoints       []Endpoint
	timeout         time.Duration
	minPayloadBytes int
	userAgent       string
	apiKey          string
	apiKeyHeader    string
	httpClient      *http.Client
	logger          logger.Logger
	observer        AttemptObserver
}

func New(cfg Config, log logger.Logger, observer AttemptObserver) (*Transport, error) {
	endpoints := BuildEndpoints(cfg.DirectEnabled, cfg.RelayPrefixes)
	if len(endpoints) == 0 {
		return nil, fmt.Errorf("at least one endpoint must be configured")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = UserAgent
	}

	return &Transport{
		endpoints:       endpoints,
		timeout:         timeout,
		minPayloadBytes: cfg.MinPayloadBytes,
		userAgent:       userAgent,
		apiKey:          cfg.APIKey,
		apiKeyHeader:    cfg.APIKeyHeader,
		httpClient: &http.Client{
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 5,
				IdleConnTimeout:     30 * time.Second,
			},
		},
		logger:   log,
		observer: observer,
	}, nil
}

// BuildEndpoints orders the direct path first followed by the relays. Relay
// names are their host so metrics stay readable.
func BuildEndpoints(direct bool, relayPrefixes []string) []Endpoint {
	var endpoints []Endpoint
	if direct {
		endpoints = append(endpoints, Endpoint{Name: "direct"})
	}
	for i, prefix := range relayPrefixes {
		name := fmt.Sprintf("relay-%d", i+1)
		if u, err := url.Parse(prefix); err == nil && u.Host != "" {
			name = u.Host
		}
		endpoints = append(endpoints, Endpoint{Name: name, Prefix: prefix})
	}
	return endpoints
}

// FetchFeedBytes returns the first valid payload body for target
func (t *Transport) FetchFeedBytes(ctx context.Context, target string) ([]byte, error) {
	payload, err := t.Fetch(ctx, target)
	if err != nil {
		return nil, err
	}
	return payload.Body, nil
}

// Fetch tries each endpoint once, in order, until one returns a payload that
// passes validation. A cancelled parent context stops the walk early.
func (t *Transport) Fetch(ctx context.Context, target string) (*Payload, error) {
	fetchErr := &Error{Target: target}

	for _, endpoint := range t.endpoints {
		if err := ctx.Err(); err != nil {
			fetchErr.Attempts = append(fetchErr.Attempts, Attempt{Endpoint: endpoint.Name, Err: err})
			break
		}

		payload, err := t.attempt(ctx, endpoint, target)
		if err == nil {
			t.observe(endpoint.Name, outcomeOK)
			t.logger.Debug("Fetched feed", "endpoint", endpoint.Name, "bytes", len(payload.Body))
			return payload, nil
		}

		outcome := outcomeFailed
		if errors.Is(err, ErrRejected) {
			outcome = outcomeRejected
		}
		t.observe(endpoint.Name, outcome)
		t.logger.Warn("Feed endpoint failed, trying next",
			"endpoint", endpoint.Name,
			"outcome", outcome,
			"error", err,
		)
		fetchErr.Attempts = append(fetchErr.Attempts, Attempt{Endpoint: endpoint.Name, Err: err, Payload: payload})
	}

	return nil, fetchErr
}

func (t *Transport) attempt(ctx context.Context, endpoint Endpoint, target string) (*Payload, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.URL(target), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("User-Agent", t.userAgent)
	req.Header.Set("Accept", "application/x-protobuf, application/octet-stream;q=0.9, application/json;q=0.5")
	// relays must not see the credential
	if t.apiKey != "" && endpoint.Prefix == "" {
		req.Header.Set(t.apiKeyHeader, t.apiKey)
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: HTTP status %d", ErrRejected, resp.StatusCode)
	}

	contentType := resp.Header.Get("Content-Type")
	if strings.Contains(strings.ToLower(contentType), "text/html") {
		return nil, fmt.Errorf("%w: html content type %q", ErrRejected, contentType)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	payload := &Payload{
		Body:        body,
		ContentType: contentType,
		Endpoint:    endpoint.Name,
	}
	if len(body) < t.minPayloadBytes {
		return payload, fmt.Errorf("%w: payload of %d bytes below minimum %d", ErrShortPayload, len(body), t.minPayloadBytes)
	}
	return payload, nil
}

func (t *Transport) observe(endpoint, outcome string) {
	if t.observer != nil {
		t.observer.ObserveAttempt(endpoint, outcome)
	}
}
