// Package transport implements the HTTP client for the Apitally Hub
// ingestion API: URL construction, bounded retry and response
// classification.
package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/apitally/apitally-go/internal/config"
	"github.com/apitally/apitally-go/internal/observability"
)

// Status classifies the outcome of a Hub request.
type Status int

// Hub request outcomes.
const (
	StatusOK Status = iota
	StatusValidationError
	StatusInvalidClientID
	StatusPaymentRequired
	StatusRetryable
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusValidationError:
		return "validation_error"
	case StatusInvalidClientID:
		return "invalid_client_id"
	case StatusPaymentRequired:
		return "payment_required"
	default:
		return "retryable_error"
	}
}

// Result is the classified outcome of a Hub request. RetryAfter is only
// set for StatusPaymentRequired.
type Result struct {
	Status     Status
	RetryAfter time.Duration
}

// defaultSuspendDuration applies when a 402 carries no usable Retry-After.
const defaultSuspendDuration = time.Hour

// HubClient sends startup, sync and log payloads to the Hub. Transient
// failures (408, 429, 5xx, network errors) are retried in-transport with
// a fixed 1 s backoff before being reported as retryable.
type HubClient struct {
	httpClient *retryablehttp.Client
	baseURL    string
	clientID   string
	env        string
	logger     *slog.Logger
	metrics    *observability.Metrics
}

// NewHubClient creates a HubClient from the given config.
func NewHubClient(cfg *config.Config, metrics *observability.Metrics) *HubClient {
	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = cfg.MaxRetries
	retryClient.RetryWaitMin = time.Second
	retryClient.RetryWaitMax = time.Second
	retryClient.Logger = nil
	retryClient.HTTPClient.Timeout = cfg.RequestTimeout
	retryClient.CheckRetry = checkRetry

	return &HubClient{
		httpClient: retryClient,
		baseURL:    cfg.HubBaseURL,
		clientID:   cfg.ClientID,
		env:        cfg.Env,
		logger:     cfg.Logger,
		metrics:    metrics,
	}
}

// checkRetry retries only on 408, 429, 5xx or network errors, never on
// canceled contexts.
func checkRetry(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	if resp != nil {
		switch {
		case resp.StatusCode == http.StatusRequestTimeout,
			resp.StatusCode == http.StatusTooManyRequests,
			resp.StatusCode >= 500:
			return true, nil
		default:
			return false, nil
		}
	}
	return err != nil, nil
}

// URL builds the Hub endpoint URL: <base>/v2/<clientId>/<env>/<endpoint>.
func (h *HubClient) URL(endpoint, query string) string {
	url := fmt.Sprintf("%s/v2/%s/%s/%s", h.baseURL, h.clientID, h.env, endpoint)
	if query != "" {
		url += "?" + query
	}
	return url
}

// PostJSON marshals payload and POSTs it to the given endpoint.
func (h *HubClient) PostJSON(ctx context.Context, endpoint string, payload any) Result {
	body, err := json.Marshal(payload)
	if err != nil {
		if h.logger != nil {
			h.logger.Error("failed to marshal hub payload", "endpoint", endpoint, "error", err)
		}
		return Result{Status: StatusValidationError}
	}
	return h.post(ctx, endpoint, "", body, "application/json")
}

// PostRaw POSTs an opaque body, e.g. a compressed request log file.
func (h *HubClient) PostRaw(ctx context.Context, endpoint, query string, body []byte, contentType string) Result {
	return h.post(ctx, endpoint, query, body, contentType)
}

func (h *HubClient) post(ctx context.Context, endpoint, query string, body []byte, contentType string) Result {
	start := time.Now()

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, h.URL(endpoint, query), body)
	if err != nil {
		if h.logger != nil {
			h.logger.Error("failed to create hub request", "endpoint", endpoint, "error", err)
		}
		return Result{Status: StatusRetryable}
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := h.httpClient.Do(req)
	result := h.classify(resp, err, endpoint)

	if h.metrics != nil {
		h.metrics.HubRequestDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
		h.metrics.HubRequestsTotal.WithLabelValues(endpoint, result.Status.String()).Inc()
	}
	return result
}

func (h *HubClient) classify(resp *http.Response, err error, endpoint string) Result {
	if err != nil {
		if h.logger != nil {
			h.logger.Warn("error sending request to hub", "endpoint", endpoint, "error", err)
		}
		return Result{Status: StatusRetryable}
	}
	defer drainAndClose(resp.Body)

	switch {
	case resp.StatusCode < 300:
		return Result{Status: StatusOK}
	case resp.StatusCode == http.StatusNotFound:
		if h.logger != nil {
			h.logger.Error("invalid client ID", "client_id", h.clientID)
		}
		return Result{Status: StatusInvalidClientID}
	case resp.StatusCode == http.StatusUnprocessableEntity:
		if h.logger != nil {
			h.logger.Warn("hub rejected payload schema", "endpoint", endpoint)
		}
		return Result{Status: StatusValidationError}
	case resp.StatusCode == http.StatusPaymentRequired:
		return Result{Status: StatusPaymentRequired, RetryAfter: retryAfterDelay(resp)}
	default:
		if h.logger != nil {
			h.logger.Warn("unexpected status code from hub", "endpoint", endpoint, "status_code", resp.StatusCode)
		}
		return Result{Status: StatusRetryable}
	}
}

// CloseIdleConnections releases pooled connections, used at shutdown.
func (h *HubClient) CloseIdleConnections() {
	h.httpClient.HTTPClient.CloseIdleConnections()
}

// retryAfterDelay reads the Retry-After header as integer seconds.
// HTTP-date values are not accepted.
func retryAfterDelay(resp *http.Response) time.Duration {
	if ra := resp.Header.Get("Retry-After"); ra != "" {
		if secs, err := strconv.Atoi(ra); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return defaultSuspendDuration
}

// drainAndClose reads remaining body bytes and closes, preventing
// connection leaks.
func drainAndClose(body io.ReadCloser) {
	if body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, body)
	body.Close()
}
