// Package apitally is the framework-agnostic core of the Apitally agent.
// It observes completed HTTP exchanges fed in by a framework adapter,
// aggregates per-endpoint metrics and errors, captures bounded request
// detail logs, and synchronizes everything with the Apitally Hub.
package apitally

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/apitally/apitally-go/internal/client"
	"github.com/apitally/apitally-go/internal/config"
	"github.com/apitally/apitally-go/pkg/model"
)

// Version is the agent version reported to the Hub with startup data.
const Version = "1.0.0"

// Construction errors surfaced to the caller. Everything else the agent
// encounters at runtime is logged and swallowed.
var (
	ErrInvalidClientID    = config.ErrInvalidClientID
	ErrInvalidEnv         = config.ErrInvalidEnv
	ErrAlreadyInitialized = errors.New("apitally client is already initialized")
	ErrNotInitialized     = errors.New("apitally client is not initialized")
)

// Config is the public configuration surface of the agent.
type Config struct {
	// ClientID is the Apitally client id (UUIDv4). Required.
	ClientID string

	// Env names the application environment, e.g. "prod". Default "dev".
	Env string

	// AppVersion is reported with the startup metadata.
	AppVersion string

	// RequestLogging enables and configures per-request detail logging.
	RequestLogging *model.RequestLoggingConfig

	// Logger receives the agent's own diagnostics. A default slog text
	// logger is created when nil.
	Logger *slog.Logger

	// SentryEventIDProvider, when set, is consulted for the current
	// Sentry event id when a server error is recorded.
	SentryEventIDProvider func() string
}

// Client is the process-wide agent singleton.
type Client struct {
	inner *client.Client
}

var (
	instanceMu sync.Mutex
	instance   *Client
)

// New validates the config, creates the singleton Client and starts its
// sync scheduler. A second call before Shutdown fails with
// ErrAlreadyInitialized.
func New(cfg Config) (*Client, error) {
	instanceMu.Lock()
	defer instanceMu.Unlock()

	if instance != nil {
		return nil, ErrAlreadyInitialized
	}

	inner, err := client.New(&config.Config{
		ClientID:              cfg.ClientID,
		Env:                   cfg.Env,
		AppVersion:            cfg.AppVersion,
		RequestLogging:        cfg.RequestLogging,
		Logger:                cfg.Logger,
		SentryEventIDProvider: cfg.SentryEventIDProvider,
	})
	if err != nil {
		return nil, err
	}
	inner.StartSync()

	instance = &Client{inner: inner}
	return instance, nil
}

// GetInstance returns the singleton Client created by New.
func GetInstance() (*Client, error) {
	instanceMu.Lock()
	defer instanceMu.Unlock()

	if instance == nil {
		return nil, ErrNotInitialized
	}
	return instance, nil
}

// SetStartupData publishes the application's declared routes and runtime
// and framework versions. It is sent to the Hub once, eagerly.
func (c *Client) SetStartupData(paths []model.PathInfo, versions map[string]string, clientName string) {
	c.inner.SetStartupData(paths, versions, clientName)
}

// AddRequest records one completed request in the aggregated counters.
func (c *Client) AddRequest(info model.RequestInfo) {
	c.inner.RequestCounter.AddRequest(info)
}

// AddValidationError records one request validation failure.
func (c *Client) AddValidationError(e model.ValidationError) {
	c.inner.ValidationErrorCounter.AddValidationError(e)
}

// AddServerError records one unhandled server error.
func (c *Client) AddServerError(e model.ServerError) {
	c.inner.ServerErrorCounter.AddServerError(e)
}

// AddOrUpdateConsumer registers a consumer identity update.
func (c *Client) AddOrUpdateConsumer(consumer *model.Consumer) {
	c.inner.ConsumerRegistry.AddOrUpdateConsumer(consumer)
}

// LogRequest enqueues one request/response pair for detail logging. It is
// a no-op when request logging is disabled or suspended.
func (c *Client) LogRequest(request *model.Request, response *model.Response, exc *model.ExceptionInfo, logs []model.LogRecord, spans []model.SpanInfo) {
	c.inner.RequestLogger.LogRequest(request, response, exc, logs, spans)
}

// RequestLoggingEnabled reports whether detail logging is active.
func (c *Client) RequestLoggingEnabled() bool {
	return c.inner.RequestLogger.Enabled()
}

// Enabled reports whether the agent is still syncing with the Hub.
func (c *Client) Enabled() bool {
	return c.inner.Enabled()
}

// InstanceUUID returns the stable identity of this process instance.
func (c *Client) InstanceUUID() string {
	return c.inner.InstanceUUID()
}

// MetricsRegistry exposes the agent's self-monitoring Prometheus
// registry for hosts that want to mount it.
func (c *Client) MetricsRegistry() *prometheus.Registry {
	return c.inner.Metrics().Registry
}

// Shutdown stops the scheduler, performs one final sync and log upload,
// and releases the singleton slot.
func (c *Client) Shutdown(ctx context.Context) {
	instanceMu.Lock()
	if instance == c {
		instance = nil
	}
	instanceMu.Unlock()

	c.inner.Shutdown(ctx)
}
