// Package client provides the core EasyEcom HTTP client with retry,
// error classification, and request metrics.
package client

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Prometheus metrics for API client operations.
var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "easyecom_requests_total",
		Help: "Total API requests by endpoint and status",
	}, []string{"endpoint", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "easyecom_request_duration_seconds",
		Help:    "API request duration in seconds by endpoint",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10},
	}, []string{"endpoint"})

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "easyecom_errors_total",
		Help: "Total API errors by class",
	}, []string{"class"})

	retriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "easyecom_retries_total",
		Help: "Total number of retry attempts by error class",
	}, []string{"error_class"})

	retryBackoffSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "easyecom_retry_backoff_seconds",
		Help:    "Backoff duration for retries by error class",
		Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"error_class"})

	retryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "easyecom_retry_exhausted_total",
		Help: "Total number of times retry attempts were exhausted by error class",
	}, []string{"error_class"})
)

// maxErrorBody bounds how much of a failed response body is kept for
// error context and logs.
const maxErrorBody = 4 << 10

// HeaderProvider produces a valid Authorization header value, refreshing
// the underlying credential as needed.
type HeaderProvider interface {
	Header(ctx context.Context) (string, error)
}

// Client is the EasyEcom API client. It authenticates, retries transient
// failures, and returns raw response bodies for the paginator to parse.
type Client struct {
	httpClient *http.Client
	config     Config
	retry      RetryPolicy
	logger     zerolog.Logger
}

// Config holds the client configuration.
type Config struct {
	// BaseURL is the API base, e.g. "https://api.easyecom.io".
	BaseURL string

	// Auth produces Authorization header values.
	Auth HeaderProvider

	// UserAgent is optional; sent when non-empty.
	UserAgent string

	// Timeout per HTTP request.
	Timeout time.Duration
}

// New creates a new API client.
func New(cfg Config, retry RetryPolicy) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	if cfg.Auth == nil {
		return nil, fmt.Errorf("auth header provider is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	logger := log.With().Str("component", "api-client").Logger()

	return &Client{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		config: cfg,
		retry:  retry,
		logger: logger,
	}, nil
}

// GetPage performs a GET against one resource endpoint and returns the raw
// response body. Transient failures are retried per the retry policy; auth
// refresh happens inside the retried function so a token expiring during a
// long backoff window is picked up on the next attempt.
func (c *Client) GetPage(ctx context.Context, stream, path string, params url.Values) ([]byte, error) {
	reqURL := c.config.BaseURL + path
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}

	startTime := time.Now()
	defer func() {
		requestDuration.WithLabelValues(path).Observe(time.Since(startTime).Seconds())
	}()

	var body []byte
	err := c.retry.Execute(ctx, func() error {
		authHeader, err := c.config.Auth.Header(ctx)
		if err != nil {
			// Auth failures are fatal for the run, never retried.
			return fmt.Errorf("stream %s: %w", stream, err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Authorization", authHeader)
		req.Header.Set("Accept", "application/json")
		if c.config.UserAgent != "" {
			req.Header.Set("User-Agent", c.config.UserAgent)
		}

		c.logger.Debug().
			Str("stream", stream).
			Str("endpoint", path).
			Msg("Executing API request")

		resp, reqErr := c.httpClient.Do(req)
		if reqErr != nil {
			c.logger.Warn().Err(reqErr).
				Str("stream", stream).
				Str("endpoint", path).
				Msg("HTTP request failed")
			errorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
			requestsTotal.WithLabelValues(path, "network_error").Inc()
			return reqErr
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 400 {
			class := classifyStatus(resp.StatusCode)
			errorsTotal.WithLabelValues(string(class)).Inc()
			requestsTotal.WithLabelValues(path, fmt.Sprintf("%d", resp.StatusCode)).Inc()

			snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
			c.logger.Warn().
				Str("stream", stream).
				Str("endpoint", path).
				Int("status", resp.StatusCode).
				Str("error_class", string(class)).
				Msg("API request error")

			return &APIError{
				StatusCode: resp.StatusCode,
				Class:      class,
				Stream:     stream,
				URL:        reqURL,
				Body:       string(snippet),
			}
		}

		data, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			errorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
			return fmt.Errorf("read response body: %w", readErr)
		}

		requestsTotal.WithLabelValues(path, fmt.Sprintf("%d", resp.StatusCode)).Inc()
		body = data
		return nil
	})
	if err != nil {
		return nil, err
	}

	return body, nil
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}
