// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/jeranaias/agrochat/internal/logger"
)

// Configuration constants for the backend client.
const (
	// DefaultBaseURL is the backend's default listen address.
	DefaultBaseURL = "http://127.0.0.1:8000"

	// DefaultTimeout bounds non-streaming requests.
	DefaultTimeout = 30 * time.Second

	// DefaultMaxRetries applies to idempotent GET requests.
	DefaultMaxRetries = 2

	retryBaseDelay = 250 * time.Millisecond
	retryMaxDelay  = 4 * time.Second

	// MaxResponseSize caps non-streaming response bodies.
	MaxResponseSize = 4 * 1024 * 1024

	userAgent = "agrochat"
)

// =============================================================================
// CLIENT CONFIGURATION
// =============================================================================

// Config holds client options. Zero values take the defaults.
type Config struct {
	BaseURL string

	// Timeout bounds non-streaming requests.
	Timeout time.Duration

	// StreamIdleTimeout aborts a stream with no new line for this long.
	// Zero disables it.
	StreamIdleTimeout time.Duration

	// MaxRetries for GET requests failing with a network error or 5xx.
	MaxRetries int

	// RequestsPerSecond throttles all requests. Zero means unlimited.
	RequestsPerSecond float64

	// HTTPClient overrides the transport, mainly for tests.
	HTTPClient *http.Client
}

// DefaultConfig returns the default client configuration.
func DefaultConfig() Config {
	return Config{
		BaseURL:    DefaultBaseURL,
		Timeout:    DefaultTimeout,
		MaxRetries: DefaultMaxRetries,
	}
}

// Client talks to the backend. It is safe for concurrent use.
type Client struct {
	baseURL    string
	timeout    time.Duration
	idle       time.Duration
	maxRetries int
	http       *http.Client
	limiter    *rate.Limiter
}

// NewClient creates a client from cfg.
func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		// No client-level timeout: streams are bounded by context instead.
		httpClient = &http.Client{
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		}
	}

	c := &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		timeout:    cfg.Timeout,
		idle:       cfg.StreamIdleTimeout,
		maxRetries: cfg.MaxRetries,
		http:       httpClient,
	}
	if cfg.RequestsPerSecond > 0 {
		burst := int(cfg.RequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	return c
}

// BaseURL returns the backend base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// =============================================================================
// REQUEST PLUMBING
// =============================================================================

type request struct {
	op     string
	method string
	path   string
	token  string
	body   []byte
	ctype  string

	// authenticated marks calls whose 401 means an expired session.
	authenticated bool
}

func (c *Client) newHTTPRequest(ctx context.Context, r request) (*http.Request, error) {
	var body io.Reader
	if r.body != nil {
		body = bytes.NewReader(r.body)
	}
	req, err := http.NewRequestWithContext(ctx, r.method, c.baseURL+r.path, body)
	if err != nil {
		return nil, &Error{Kind: KindNetwork, Op: r.op, Cause: err}
	}
	if r.ctype != "" {
		req.Header.Set("Content-Type", r.ctype)
	}
	if r.token != "" {
		req.Header.Set("Authorization", "Bearer "+r.token)
	}
	req.Header.Set("User-Agent", userAgent)
	return req, nil
}

// send performs one request, waiting on the rate limiter first. Headers and
// bodies are never logged.
func (c *Client) send(req *http.Request, op string) (*http.Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(req.Context()); err != nil {
			return nil, &Error{Kind: KindNetwork, Op: op, Cause: err}
		}
	}
	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		logger.Debug("api request failed", "method", req.Method, "path", req.URL.Path, "err", err)
		return nil, &Error{Kind: KindNetwork, Op: op, Cause: err}
	}
	logger.Debug("api response", "method", req.Method, "path", req.URL.Path,
		"status", resp.StatusCode, "duration", time.Since(start).Round(time.Millisecond))
	return resp, nil
}

// do runs a buffered request and decodes a 2xx JSON body into out.
// GET requests are retried with exponential backoff on network errors and 5xx.
func (c *Client) do(ctx context.Context, r request, out interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	attempts := 1
	if r.method == http.MethodGet {
		attempts += c.maxRetries
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return &Error{Kind: KindNetwork, Op: r.op, Cause: ctx.Err()}
			case <-time.After(backoff(attempt)):
			}
		}

		req, err := c.newHTTPRequest(ctx, r)
		if err != nil {
			return err
		}
		resp, err := c.send(req, r.op)
		if err != nil {
			lastErr = err
			continue
		}

		body, readErr := readResponse(resp)
		resp.Body.Close()
		if readErr != nil {
			lastErr = &Error{Kind: KindNetwork, Op: r.op, Cause: readErr}
			continue
		}

		if resp.StatusCode >= 500 {
			lastErr = errorFromResponse(r.op, resp.StatusCode, body, r.authenticated)
			continue
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return errorFromResponse(r.op, resp.StatusCode, body, r.authenticated)
		}

		if out == nil || len(bytes.TrimSpace(body)) == 0 {
			return nil
		}
		if err := json.Unmarshal(body, out); err != nil {
			return &Error{Kind: KindServer, Op: r.op, Status: resp.StatusCode,
				Detail: "invalid response body", Cause: err}
		}
		return nil
	}
	return lastErr
}

// backoff returns 250ms, 500ms, 1s ... capped at retryMaxDelay.
func backoff(attempt int) time.Duration {
	d := retryBaseDelay << (attempt - 1)
	if d > retryMaxDelay || d <= 0 {
		return retryMaxDelay
	}
	return d
}

// readResponse reads a body up to MaxResponseSize.
func readResponse(resp *http.Response) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if len(body) > MaxResponseSize {
		return nil, fmt.Errorf("response exceeded maximum size of %d bytes", MaxResponseSize)
	}
	return body, nil
}

func jsonBody(v interface{}) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}
	return data, nil
}

func requireToken(op, token string) error {
	if strings.TrimSpace(token) == "" {
		return &Error{Kind: KindAuth, Op: op}
	}
	return nil
}

// =============================================================================
// STREAMING
// =============================================================================

// Interpret sends one user message and returns the reply stream. A missing
// token fails with KindAuth without touching the network.
func (c *Client) Interpret(ctx context.Context, token, text string) (*Stream, error) {
	const op = "interpret"
	if err := requireToken(op, token); err != nil {
		return nil, err
	}

	form := url.Values{"user_input": {text}}
	// The stream outlives this call; its context is released by Stream.Close.
	sctx, cancel := context.WithCancel(ctx)
	req, err := c.newHTTPRequest(sctx, request{
		op:     op,
		method: http.MethodPost,
		path:   "/interpret",
		token:  token,
		body:   []byte(form.Encode()),
		ctype:  "application/x-www-form-urlencoded",
	})
	if err != nil {
		cancel()
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.send(req, op)
	if err != nil {
		cancel()
		if ctx.Err() != nil {
			return nil, &Error{Kind: KindNetwork, Op: op, Cause: ctx.Err()}
		}
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := readResponse(resp)
		resp.Body.Close()
		cancel()
		return nil, errorFromResponse(op, resp.StatusCode, body, true)
	}

	return newStream(resp.Body, cancel, c.idle), nil
}

// =============================================================================
// HELPERS
// =============================================================================

// IsRetryable reports whether err is worth retrying by the caller.
func IsRetryable(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	switch kindOf(err) {
	case KindNetwork:
		return true
	case KindServer:
		s := StatusOf(err)
		return s >= 500 || s == http.StatusTooManyRequests
	}
	return false
}
