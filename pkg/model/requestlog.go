package model

// MaxLogMessageLength caps the text of a captured application log line.
const MaxLogMessageLength = 2048

// Header is a single header as it appears in a detail log line: a
// two-element JSON array of name and value.
type Header [2]string

// Request is the request half of a detail log record. Timestamp is Unix
// seconds. Body is emitted base64-encoded.
type Request struct {
	Timestamp float64  `json:"timestamp"`
	Consumer  string   `json:"consumer,omitempty"`
	Method    string   `json:"method"`
	Path      string   `json:"path,omitempty"`
	URL       string   `json:"url"`
	Headers   []Header `json:"headers"`
	Size      *int64   `json:"size,omitempty"`
	Body      []byte   `json:"body,omitempty"`
}

// Response is the response half of a detail log record. ResponseTime is
// in seconds.
type Response struct {
	StatusCode   int      `json:"statusCode"`
	ResponseTime float64  `json:"responseTime"`
	Headers      []Header `json:"headers"`
	Size         *int64   `json:"size,omitempty"`
	Body         []byte   `json:"body,omitempty"`
}

// ExceptionInfo describes an error attached to a detail log record.
type ExceptionInfo struct {
	Type          string `json:"type"`
	Message       string `json:"message"`
	StackTrace    string `json:"stacktrace"`
	SentryEventID string `json:"sentry_event_id,omitempty"`
}

// LogRecord is one captured application log line correlated with a
// request. Timestamp is Unix seconds.
type LogRecord struct {
	Timestamp float64 `json:"timestamp"`
	Logger    string  `json:"logger,omitempty"`
	Level     string  `json:"level"`
	Message   string  `json:"message"`
}

// SpanInfo is one already-collected trace span attached to a detail log
// record. Start and end times are Unix seconds.
type SpanInfo struct {
	ID        string  `json:"id"`
	ParentID  string  `json:"parent_id,omitempty"`
	Name      string  `json:"name"`
	StartTime float64 `json:"start_time"`
	EndTime   float64 `json:"end_time"`
}

// RequestLogItem is one detail log record, serialized as a single NDJSON
// line inside a gzip spool file.
type RequestLogItem struct {
	UUID      string         `json:"uuid"`
	Request   Request        `json:"request"`
	Response  Response       `json:"response"`
	Exception *ExceptionInfo `json:"exception,omitempty"`
	Logs      []LogRecord    `json:"logs,omitempty"`
	Spans     []SpanInfo     `json:"spans,omitempty"`
}

// RequestLoggingConfig controls what the request logger captures and how
// it masks sensitive content. Pattern lists are case-insensitive regular
// expressions matched against names; they extend the built-in lists.
type RequestLoggingConfig struct {
	Enabled            bool
	LogQueryParams     bool
	LogRequestHeaders  bool
	LogRequestBody     bool
	LogResponseHeaders bool
	LogResponseBody    bool
	LogException       bool
	CaptureLogs        bool

	MaskQueryParams []string
	MaskHeaders     []string
	MaskBodyFields  []string
	ExcludePaths    []string

	// MaskRequestBodyCallback and MaskResponseBodyCallback may rewrite a
	// body before it is logged. Returning nil masks the body entirely.
	MaskRequestBodyCallback  func(request *Request) []byte
	MaskResponseBodyCallback func(request *Request, response *Response) []byte

	// ExcludeCallback excludes a request from detail logging entirely.
	ExcludeCallback func(request *Request, response *Response) bool
}

// DefaultRequestLoggingConfig returns the documented defaults: logging
// disabled, query params and headers on, bodies off, exceptions on.
func DefaultRequestLoggingConfig() *RequestLoggingConfig {
	return &RequestLoggingConfig{
		Enabled:            false,
		LogQueryParams:     true,
		LogRequestHeaders:  false,
		LogRequestBody:     false,
		LogResponseHeaders: true,
		LogResponseBody:    false,
		LogException:       true,
		CaptureLogs:        false,
	}
}
