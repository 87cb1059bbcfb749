package model

import "strconv"

// RequestInfo describes one completed HTTP exchange as observed by a
// framework adapter. Path is the route template (e.g. /hello/:id), never
// the concrete URL. ResponseTime is in milliseconds.
type RequestInfo struct {
	Consumer     string
	Method       string
	Path         string
	StatusCode   int
	ResponseTime float64
	RequestSize  *int64
	ResponseSize *int64
}

// RequestsItem is one aggregated row of the sync payload, keyed by
// (consumer, method, path, status_code). Histogram keys are bucket values
// rendered as strings: response times in 10 ms buckets, sizes in KB.
type RequestsItem struct {
	Consumer        string           `json:"consumer,omitempty"`
	Method          string           `json:"method"`
	Path            string           `json:"path"`
	StatusCode      int              `json:"status_code"`
	RequestCount    int64            `json:"request_count"`
	RequestSizeSum  int64            `json:"request_size_sum"`
	ResponseSizeSum int64            `json:"response_size_sum"`
	ResponseTimes   map[string]int64 `json:"response_times"`
	RequestSizes    map[string]int64 `json:"request_sizes"`
	ResponseSizes   map[string]int64 `json:"response_sizes"`
}

// ParseSize coerces a size value as it may arrive from headers or
// framework internals: a number, a numeric string, or a list of either
// (first element wins). Returns nil for anything unparseable or negative.
func ParseSize(v any) *int64 {
	switch s := v.(type) {
	case nil:
		return nil
	case int:
		return nonNegative(int64(s))
	case int64:
		return nonNegative(s)
	case float64:
		return nonNegative(int64(s))
	case string:
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil
		}
		return nonNegative(n)
	case []string:
		if len(s) == 0 {
			return nil
		}
		return ParseSize(s[0])
	case []any:
		if len(s) == 0 {
			return nil
		}
		return ParseSize(s[0])
	default:
		return nil
	}
}

func nonNegative(n int64) *int64 {
	if n < 0 {
		return nil
	}
	return &n
}
