// Package requestlog captures per-request detail records, masks sensitive
// content and spools them to rotating gzip files for upload to the Hub.
package requestlog

import (
	"encoding/json"
	"log/slog"
	"os"
	"regexp"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/apitally/apitally-go/internal/observability"
	"github.com/apitally/apitally-go/pkg/model"
)

// Resource bounds of the request logger.
const (
	MaxBodySize      = 50_000    // uncompressed bytes per body
	MaxFileSize      = 1_000_000 // compressed bytes before rotation
	MaxFiles         = 50        // closed spool files on disk
	MaxPendingWrites = 100       // in-memory records awaiting serialization

	maintenanceInterval = time.Second
)

// RequestLogger buffers detail log records in memory, masks and
// serializes them asynchronously, and maintains the on-disk gzip spool.
// LogRequest is safe for concurrent use and never blocks on I/O.
type RequestLogger struct {
	config  *model.RequestLoggingConfig
	logger  *slog.Logger
	metrics *observability.Metrics

	enabled      atomic.Bool
	suspendUntil atomic.Int64 // UnixMilli; 0 when not suspended
	dir          string

	maskQueryParams []*regexp.Regexp
	maskHeaders     []*regexp.Regexp
	maskBodyFields  []*regexp.Regexp
	excludePaths    []*regexp.Regexp

	mu            sync.Mutex
	pendingWrites []*model.RequestLogItem

	// fileMu serializes writeToFile, rotateFile and clear.
	fileMu      sync.Mutex
	currentFile *TempGzipFile
	files       []*TempGzipFile

	startOnce sync.Once
	closeOnce sync.Once
	done      chan struct{}
}

// NewRequestLogger creates a RequestLogger. Logging is enabled only when
// the config flag is set and a writable spool directory can be created.
func NewRequestLogger(cfg *model.RequestLoggingConfig, logger *slog.Logger, metrics *observability.Metrics) *RequestLogger {
	if cfg == nil {
		cfg = model.DefaultRequestLoggingConfig()
	}
	l := &RequestLogger{
		config:          cfg,
		logger:          logger,
		metrics:         metrics,
		maskQueryParams: compilePatterns(builtinMaskQueryParams, cfg.MaskQueryParams),
		maskHeaders:     compilePatterns(builtinMaskHeaders, cfg.MaskHeaders),
		maskBodyFields:  compilePatterns(builtinMaskBodyFields, cfg.MaskBodyFields),
		excludePaths:    compilePatterns(builtinExcludePaths, cfg.ExcludePaths),
		done:            make(chan struct{}),
	}

	if cfg.Enabled {
		dir, err := os.MkdirTemp("", "apitally-logs-")
		if err != nil {
			if logger != nil {
				logger.Warn("temp directory is not writable, request logging disabled", "error", err)
			}
			return l
		}
		l.dir = dir
		l.enabled.Store(true)
	}

	return l
}

// Enabled reports whether request logging is active for this process.
func (l *RequestLogger) Enabled() bool {
	return l.enabled.Load()
}

func (l *RequestLogger) suspended() bool {
	until := l.suspendUntil.Load()
	return until != 0 && time.Now().UnixMilli() < until
}

// LogRequest ingests one request/response pair. It applies the exclusion
// policy, drops unsupported bodies and enqueues the record for
// asynchronous masking and serialization. Never blocks on I/O.
func (l *RequestLogger) LogRequest(request *model.Request, response *model.Response, exc *model.ExceptionInfo, logs []model.LogRecord, spans []model.SpanInfo) {
	if !l.enabled.Load() || l.suspended() || request == nil || response == nil {
		return
	}

	path := request.Path
	if path == "" {
		path = stripQueryString(request.URL)
	}
	if matchesAny(l.excludePaths, path) {
		return
	}
	if ua := headerValue(request.Headers, "User-Agent"); ua != "" && excludeUserAgentPattern.MatchString(ua) {
		return
	}
	if l.config.ExcludeCallback != nil && safeExcludeCallback(l.config.ExcludeCallback, request, response) {
		return
	}

	req := *request
	resp := *response
	if !l.config.LogRequestBody || !hasSupportedContentType(req.Headers) {
		req.Body = nil
	}
	if !l.config.LogResponseBody || !hasSupportedContentType(resp.Headers) {
		resp.Body = nil
	}
	if req.Size != nil && *req.Size < 0 {
		req.Size = nil
	}
	if resp.Size != nil && *resp.Size < 0 {
		resp.Size = nil
	}

	item := &model.RequestLogItem{
		UUID:     uuid.NewString(),
		Request:  req,
		Response: resp,
	}
	if exc != nil && l.config.LogException {
		item.Exception = &model.ExceptionInfo{
			Type:          exc.Type,
			Message:       model.TruncateMessage(exc.Message),
			StackTrace:    model.TruncateStackTrace(exc.StackTrace),
			SentryEventID: exc.SentryEventID,
		}
	}
	if l.config.CaptureLogs && len(logs) > 0 {
		item.Logs = make([]model.LogRecord, len(logs))
		for i, rec := range logs {
			rec.Message = model.Truncate(rec.Message, model.MaxLogMessageLength)
			item.Logs[i] = rec
		}
	}
	item.Spans = spans

	l.mu.Lock()
	l.pendingWrites = append(l.pendingWrites, item)
	dropped := 0
	if len(l.pendingWrites) > MaxPendingWrites {
		dropped = len(l.pendingWrites) - MaxPendingWrites
		l.pendingWrites = l.pendingWrites[dropped:]
	}
	depth := len(l.pendingWrites)
	l.mu.Unlock()

	if l.metrics != nil {
		l.metrics.PendingWrites.Set(float64(depth))
		if dropped > 0 {
			l.metrics.LogRecordsDropped.Add(float64(dropped))
		}
	}
}

// StartMaintenance starts the 1 s maintenance loop: flush pending writes,
// rotate oversized files, enforce retention, expire suspension.
func (l *RequestLogger) StartMaintenance() {
	l.startOnce.Do(func() {
		go func() {
			ticker := time.NewTicker(maintenanceInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					l.maintain()
				case <-l.done:
					return
				}
			}
		}()
	})
}

func (l *RequestLogger) maintain() {
	l.writeToFile()

	l.fileMu.Lock()
	if l.currentFile != nil && l.currentFile.Size() > MaxFileSize {
		l.rotateFileLocked()
	}
	l.enforceRetentionLocked()
	l.fileMu.Unlock()

	if until := l.suspendUntil.Load(); until != 0 && time.Now().UnixMilli() >= until {
		l.suspendUntil.Store(0)
	}
}

// writeToFile drains pending records, applies masking and appends each as
// one JSON line to the current spool file.
func (l *RequestLogger) writeToFile() {
	l.mu.Lock()
	pending := l.pendingWrites
	l.pendingWrites = nil
	l.mu.Unlock()

	if l.metrics != nil {
		l.metrics.PendingWrites.Set(0)
	}
	if len(pending) == 0 || !l.enabled.Load() {
		return
	}

	l.fileMu.Lock()
	defer l.fileMu.Unlock()

	for _, item := range pending {
		l.applyMasking(item)
		line, err := json.Marshal(item)
		if err != nil {
			continue
		}
		if l.currentFile == nil {
			f, err := newTempGzipFile(l.dir)
			if err != nil {
				l.enabled.Store(false)
				if l.logger != nil {
					l.logger.Warn("spool unwritable, request logging disabled", "error", err)
				}
				return
			}
			l.currentFile = f
		}
		if err := l.currentFile.WriteLine(line); err != nil {
			if l.logger != nil {
				l.logger.Warn("failed to write request log record", "error", err)
			}
			if l.metrics != nil {
				l.metrics.LogRecordsDropped.Inc()
			}
		}
	}
}

// applyMasking runs the user callbacks and the pattern-based masking over
// one record. Callback panics drop the affected body only.
func (l *RequestLogger) applyMasking(item *model.RequestLogItem) {
	if item.Request.Body != nil && l.config.MaskRequestBodyCallback != nil {
		item.Request.Body = safeMaskCallback(func() []byte {
			return l.config.MaskRequestBodyCallback(&item.Request)
		})
	}
	if item.Response.Body != nil && l.config.MaskResponseBodyCallback != nil {
		item.Response.Body = safeMaskCallback(func() []byte {
			return l.config.MaskResponseBodyCallback(&item.Request, &item.Response)
		})
	}

	if len(item.Request.Body) > MaxBodySize {
		item.Request.Body = BodyTooLarge
	}
	if len(item.Response.Body) > MaxBodySize {
		item.Response.Body = BodyTooLarge
	}

	if len(item.Request.Body) > 0 {
		item.Request.Body = maskBodyFields(item.Request.Body, l.maskBodyFields)
	}
	if len(item.Response.Body) > 0 {
		item.Response.Body = maskBodyFields(item.Response.Body, l.maskBodyFields)
	}

	// Headers always serialize as an array, never null.
	if !l.config.LogRequestHeaders {
		item.Request.Headers = []model.Header{}
	} else {
		item.Request.Headers = maskHeaders(item.Request.Headers, l.maskHeaders)
	}
	if !l.config.LogResponseHeaders {
		item.Response.Headers = []model.Header{}
	} else {
		item.Response.Headers = maskHeaders(item.Response.Headers, l.maskHeaders)
	}

	if !l.config.LogQueryParams {
		item.Request.URL = stripQueryString(item.Request.URL)
	} else {
		item.Request.URL = maskQueryString(item.Request.URL, l.maskQueryParams)
	}
}

// RotateFile flushes pending records, closes the current spool file,
// making it available for upload, and enforces the retention bound.
func (l *RequestLogger) RotateFile() {
	l.writeToFile()

	l.fileMu.Lock()
	defer l.fileMu.Unlock()
	l.rotateFileLocked()
	l.enforceRetentionLocked()
}

func (l *RequestLogger) rotateFileLocked() {
	if l.currentFile == nil {
		return
	}
	if err := l.currentFile.Close(); err != nil && l.logger != nil {
		l.logger.Warn("failed to close spool file", "error", err)
	}
	l.files = append(l.files, l.currentFile)
	l.currentFile = nil
}

func (l *RequestLogger) enforceRetentionLocked() {
	for len(l.files) > MaxFiles {
		l.files[0].Delete()
		l.files = l.files[1:]
		if l.metrics != nil {
			l.metrics.LogRecordsDropped.Inc()
		}
	}
	if l.metrics != nil {
		l.metrics.SpoolFiles.Set(float64(len(l.files)))
	}
}

// GetFile pops the oldest closed spool file, or nil if none is ready.
func (l *RequestLogger) GetFile() *TempGzipFile {
	l.fileMu.Lock()
	defer l.fileMu.Unlock()
	if len(l.files) == 0 {
		return nil
	}
	f := l.files[0]
	l.files = l.files[1:]
	if l.metrics != nil {
		l.metrics.SpoolFiles.Set(float64(len(l.files)))
	}
	return f
}

// RetryFileLater puts a file back at the front of the spool so it is
// retried before newer files.
func (l *RequestLogger) RetryFileLater(f *TempGzipFile) {
	l.fileMu.Lock()
	defer l.fileMu.Unlock()
	l.files = append([]*TempGzipFile{f}, l.files...)
	if l.metrics != nil {
		l.metrics.SpoolFiles.Set(float64(len(l.files)))
	}
}

// SuspendFor suppresses new log ingest for the given duration and clears
// everything already pending. In-flight uploads are not aborted.
func (l *RequestLogger) SuspendFor(d time.Duration) {
	l.suspendUntil.Store(time.Now().Add(d).UnixMilli())
	l.Clear()
}

// Clear drops all pending writes and deletes all spool files.
func (l *RequestLogger) Clear() {
	l.mu.Lock()
	l.pendingWrites = nil
	l.mu.Unlock()

	l.fileMu.Lock()
	defer l.fileMu.Unlock()
	if l.currentFile != nil {
		l.currentFile.Delete()
		l.currentFile = nil
	}
	for _, f := range l.files {
		f.Delete()
	}
	l.files = nil

	if l.metrics != nil {
		l.metrics.PendingWrites.Set(0)
		l.metrics.SpoolFiles.Set(0)
	}
}

// Close disables the logger, clears all state and stops the maintenance
// loop.
func (l *RequestLogger) Close() {
	l.enabled.Store(false)
	l.Clear()
	l.closeOnce.Do(func() {
		close(l.done)
	})
	if l.dir != "" {
		_ = os.Remove(l.dir)
	}
}

// safeMaskCallback runs a user masking callback, treating a panic or a
// nil return as "mask this body".
func safeMaskCallback(fn func() []byte) (body []byte) {
	defer func() {
		if recover() != nil {
			body = nil
		}
	}()
	body = fn()
	if body == nil {
		return BodyMasked
	}
	return body
}

// safeExcludeCallback runs a user exclude callback; a panic keeps the
// record.
func safeExcludeCallback(fn func(*model.Request, *model.Response) bool, req *model.Request, resp *model.Response) (exclude bool) {
	defer func() {
		if recover() != nil {
			exclude = false
		}
	}()
	return fn(req, resp)
}
