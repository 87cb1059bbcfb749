// Package client implements the agent lifecycle: the periodic sync
// scheduler and the draining of counters, consumers and request logs to
// the Hub.
package client

import (
	"context"
	"log/slog"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/apitally/apitally-go/internal/config"
	"github.com/apitally/apitally-go/internal/counter"
	"github.com/apitally/apitally-go/internal/identity"
	"github.com/apitally/apitally-go/internal/observability"
	"github.com/apitally/apitally-go/internal/requestlog"
	"github.com/apitally/apitally-go/internal/transport"
	"github.com/apitally/apitally-go/pkg/model"
)

const (
	syncInterval        = 60 * time.Second
	initialSyncInterval = 10 * time.Second
	initialSyncPhase    = time.Hour

	// maxPayloadAge is the retry window for queued sync payloads.
	maxPayloadAge = time.Hour
	maxQueueSize  = 400

	// maxLogFilesPerTick bounds how many spool files one tick uploads.
	maxLogFilesPerTick = 10
)

// Client owns the agent lifecycle. It aggregates request data through its
// component fields and synchronizes them with the Hub on a schedule.
type Client struct {
	Config                 *config.Config
	RequestCounter         *counter.RequestCounter
	ValidationErrorCounter *counter.ValidationErrorCounter
	ServerErrorCounter     *counter.ServerErrorCounter
	ConsumerRegistry       *counter.ConsumerRegistry
	RequestLogger          *requestlog.RequestLogger

	hub          *transport.HubClient
	logger       *slog.Logger
	metrics      *observability.Metrics
	instanceUUID string

	enabled     atomic.Bool
	syncStopped atomic.Bool
	tickRunning atomic.Bool

	syncDataChan chan model.SyncPayload

	startupMu       sync.Mutex
	startupData     *model.StartupPayload
	startupDataSent bool

	stopOnce sync.Once
	done     chan struct{}
}

// New validates the config and creates a Client with all components
// wired. The sync scheduler is not started; call StartSync.
func New(cfg *config.Config) (*Client, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	metrics := observability.NewMetrics()
	c := &Client{
		Config:                 cfg,
		RequestCounter:         counter.NewRequestCounter(),
		ValidationErrorCounter: counter.NewValidationErrorCounter(),
		ServerErrorCounter:     counter.NewServerErrorCounter(cfg.SentryEventIDProvider),
		ConsumerRegistry:       counter.NewConsumerRegistry(),
		RequestLogger:          requestlog.NewRequestLogger(cfg.RequestLogging, cfg.Logger, metrics),
		hub:                    transport.NewHubClient(cfg, metrics),
		logger:                 cfg.Logger,
		metrics:                metrics,
		instanceUUID:           identity.InstanceUUID(cfg.ClientID, cfg.Env),
		syncDataChan:           make(chan model.SyncPayload, maxQueueSize),
		done:                   make(chan struct{}),
	}
	c.enabled.Store(true)
	return c, nil
}

// Enabled reports whether the client is still active. It turns false
// after Shutdown or after the Hub rejects the client id.
func (c *Client) Enabled() bool {
	return c.enabled.Load()
}

// SyncStopped reports whether the sync scheduler has been stopped.
func (c *Client) SyncStopped() bool {
	return c.syncStopped.Load()
}

// InstanceUUID returns the stable identity of this process instance.
func (c *Client) InstanceUUID() string {
	return c.instanceUUID
}

// Metrics exposes the agent's self-monitoring metrics.
func (c *Client) Metrics() *observability.Metrics {
	return c.metrics
}

// SetStartupData stores the application metadata published once to the
// Hub and eagerly triggers sending it outside the regular tick.
func (c *Client) SetStartupData(paths []model.PathInfo, versions map[string]string, clientName string) {
	c.startupMu.Lock()
	c.startupData = &model.StartupPayload{
		InstanceUUID: c.instanceUUID,
		MessageUUID:  uuid.NewString(),
		Paths:        paths,
		Versions:     versions,
		Client:       clientName,
	}
	c.startupDataSent = false
	c.startupMu.Unlock()

	go c.sendStartupData(context.Background())
}

// StartSync begins the request logger maintenance loop and the sync
// scheduler: every 10 s for the first hour, every 60 s afterwards.
// Overlapping ticks are skipped.
func (c *Client) StartSync() {
	c.RequestLogger.StartMaintenance()

	go func() {
		c.tick()

		ticker := time.NewTicker(initialSyncInterval)
		defer ticker.Stop()

		initialTimer := time.NewTimer(initialSyncPhase)
		defer initialTimer.Stop()

		for {
			select {
			case <-ticker.C:
				c.tick()
			case <-initialTimer.C:
				ticker.Stop()
				ticker = time.NewTicker(syncInterval)
			case <-c.done:
				return
			}
		}
	}()
}

// tick runs one sync round: startup, sync and log uploads in parallel.
// A tick is skipped while the previous one is still running.
func (c *Client) tick() {
	if !c.tickRunning.CompareAndSwap(false, true) {
		return
	}
	defer c.tickRunning.Store(false)

	ctx := context.Background()
	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		c.sendStartupData(ctx)
	}()
	go func() {
		defer wg.Done()
		c.sendSyncData(ctx)
	}()
	go func() {
		defer wg.Done()
		c.sendLogData(ctx)
	}()
	wg.Wait()
}

func (c *Client) stopSync() {
	c.stopOnce.Do(func() {
		c.syncStopped.Store(true)
		close(c.done)
	})
}

// Shutdown stops the scheduler, performs one final sync and log upload,
// and closes the request logger. Safe to call once.
func (c *Client) Shutdown(ctx context.Context) {
	c.enabled.Store(false)
	c.stopSync()

	c.sendSyncData(ctx)
	c.sendLogData(ctx)
	c.RequestLogger.Close()
	c.hub.CloseIdleConnections()
}

// sendStartupData POSTs the stored startup payload until the Hub has
// acknowledged it once.
func (c *Client) sendStartupData(ctx context.Context) {
	c.startupMu.Lock()
	defer c.startupMu.Unlock()

	if c.startupDataSent || c.startupData == nil || c.syncStopped.Load() {
		return
	}

	c.logger.Debug("sending startup data to hub")
	result := c.hub.PostJSON(ctx, "startup", c.startupData)
	switch result.Status {
	case transport.StatusOK:
		c.startupDataSent = true
		c.startupData = nil
	case transport.StatusInvalidClientID:
		c.handleInvalidClientID()
	}
}

// sendSyncData drains the counters into a new payload, queues it and
// processes the queue. Expired payloads are dropped; a transient failure
// requeues the payload and ends queue processing for this tick.
func (c *Client) sendSyncData(ctx context.Context) {
	payload := model.SyncPayload{
		Timestamp:        float64(time.Now().UnixMilli()) / 1000,
		InstanceUUID:     c.instanceUUID,
		MessageUUID:      uuid.NewString(),
		Requests:         c.RequestCounter.GetAndResetRequests(),
		ValidationErrors: c.ValidationErrorCounter.GetAndResetValidationErrors(),
		ServerErrors:     c.ServerErrorCounter.GetAndResetServerErrors(),
		Consumers:        c.ConsumerRegistry.GetAndResetUpdatedConsumers(),
	}

	select {
	case c.syncDataChan <- payload:
	default:
		c.logger.Warn("sync payload queue is full, dropping payload")
		if c.metrics != nil {
			c.metrics.SyncPayloadsDropped.Inc()
		}
	}

	for i := 0; ; i++ {
		var next model.SyncPayload
		select {
		case next = <-c.syncDataChan:
		default:
			c.updateQueueDepth()
			return
		}

		age := time.Since(time.Unix(int64(next.Timestamp), 0))
		if age > maxPayloadAge {
			if c.metrics != nil {
				c.metrics.SyncPayloadsDropped.Inc()
			}
			continue
		}

		if i > 0 {
			randomDelay()
		}

		c.logger.Debug("synchronizing data with hub")
		result := c.hub.PostJSON(ctx, "sync", next)
		switch result.Status {
		case transport.StatusOK:
		case transport.StatusValidationError:
			// Schema rejection; the payload is not retried.
		case transport.StatusInvalidClientID:
			c.handleInvalidClientID()
			c.updateQueueDepth()
			return
		default:
			select {
			case c.syncDataChan <- next:
			default:
				c.logger.Warn("failed to requeue sync payload, queue full")
				if c.metrics != nil {
					c.metrics.SyncPayloadsDropped.Inc()
				}
			}
			c.updateQueueDepth()
			return
		}
	}
}

// sendLogData rotates the spool and uploads up to maxLogFilesPerTick
// files. A 402 suspends request logging; a transient failure puts the
// file back for the next tick.
func (c *Client) sendLogData(ctx context.Context) {
	if !c.RequestLogger.Enabled() {
		return
	}

	c.RequestLogger.RotateFile()

	for i := 0; i < maxLogFilesPerTick; i++ {
		logFile := c.RequestLogger.GetFile()
		if logFile == nil {
			return
		}

		if i > 0 {
			randomDelay()
		}

		payload, err := logFile.Payload()
		if err != nil {
			c.logger.Warn("failed to read request log file", "error", err)
			logFile.Delete()
			continue
		}
		if len(payload) == 0 {
			logFile.Delete()
			continue
		}

		c.logger.Debug("sending request log data to hub", "uuid", logFile.UUID)
		if c.metrics != nil {
			c.metrics.LogUploadBytes.Observe(float64(len(payload)))
		}

		result := c.hub.PostRaw(ctx, "log", "uuid="+logFile.UUID, payload, "application/gzip")
		switch result.Status {
		case transport.StatusOK:
			logFile.Delete()
		case transport.StatusPaymentRequired:
			logFile.Delete()
			c.logger.Warn("request logging suspended by hub", "retry_after", result.RetryAfter)
			c.RequestLogger.SuspendFor(result.RetryAfter)
			return
		case transport.StatusInvalidClientID:
			logFile.Delete()
			c.handleInvalidClientID()
			return
		case transport.StatusValidationError:
			logFile.Delete()
		default:
			c.RequestLogger.RetryFileLater(logFile)
			return
		}
	}
}

// handleInvalidClientID reacts to a terminal 404 from the Hub: the client
// id is unknown, so the scheduler is stopped for good. The request logger
// maintenance keeps running so local retention stays bounded.
func (c *Client) handleInvalidClientID() {
	c.enabled.Store(false)
	c.stopSync()
}

func (c *Client) updateQueueDepth() {
	if c.metrics != nil {
		c.metrics.SyncPayloadQueueDepth.Set(float64(len(c.syncDataChan)))
	}
}

// randomDelay sleeps 100-500 ms between back-to-back POSTs.
func randomDelay() {
	time.Sleep(time.Duration(100+rand.Float64()*400) * time.Millisecond)
}
