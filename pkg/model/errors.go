package model

import "strings"

// Truncation limits applied to error details before they go on the wire.
const (
	MaxErrorMessageLength = 2048
	MaxStackTraceLength   = 65536
)

// ValidationError describes one request validation failure as reported by
// a framework adapter. Loc is a dot-separated field location, e.g.
// "body.address.city".
type ValidationError struct {
	Consumer string
	Method   string
	Path     string
	Loc      string
	Msg      string
	Type     string
}

// ValidationErrorsItem is one aggregated validation error row of the sync
// payload. Loc holds the location split into its dot components.
type ValidationErrorsItem struct {
	Consumer   string   `json:"consumer,omitempty"`
	Method     string   `json:"method"`
	Path       string   `json:"path"`
	Loc        []string `json:"loc"`
	Msg        string   `json:"msg"`
	Type       string   `json:"type"`
	ErrorCount int64    `json:"error_count"`
}

// ServerError describes one unhandled server error as reported by a
// framework adapter.
type ServerError struct {
	Consumer  string
	Method    string
	Path      string
	Type      string
	Msg       string
	Traceback string
}

// ServerErrorsItem is one aggregated server error row of the sync payload.
// Msg and Traceback are truncated per the wire limits.
type ServerErrorsItem struct {
	Consumer      string `json:"consumer,omitempty"`
	Method        string `json:"method"`
	Path          string `json:"path"`
	Type          string `json:"type"`
	Msg           string `json:"msg"`
	Traceback     string `json:"traceback"`
	SentryEventID string `json:"sentry_event_id,omitempty"`
	ErrorCount    int64  `json:"error_count"`
}

// TruncateMessage caps an error message at MaxErrorMessageLength
// characters, appending a truncation marker when it was cut.
func TruncateMessage(msg string) string {
	msg = strings.TrimSpace(msg)
	if len(msg) <= MaxErrorMessageLength {
		return msg
	}
	const suffix = "... (truncated)"
	return Truncate(msg, MaxErrorMessageLength-len(suffix)) + suffix
}

// TruncateStackTrace caps a stack trace at MaxStackTraceLength characters,
// cutting at line boundaries only and appending a truncation marker.
func TruncateStackTrace(trace string) string {
	trace = strings.TrimSpace(trace)
	if len(trace) <= MaxStackTraceLength {
		return trace
	}
	const suffix = "... (truncated) ..."
	budget := MaxStackTraceLength - len(suffix) - 1
	lines := strings.Split(trace, "\n")
	kept := make([]string, 0, len(lines))
	used := 0
	for _, line := range lines {
		if used+len(line)+1 > budget {
			break
		}
		kept = append(kept, line)
		used += len(line) + 1
	}
	kept = append(kept, suffix)
	return strings.Join(kept, "\n")
}
