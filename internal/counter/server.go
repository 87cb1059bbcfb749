package counter

import (
	"strings"
	"sync"

	"github.com/apitally/apitally-go/pkg/model"
)

// serverErrorSample is the retained first occurrence of a fingerprint,
// including the Sentry event id captured at insertion time.
type serverErrorSample struct {
	err           model.ServerError
	sentryEventID string
}

// ServerErrorCounter aggregates unhandled server errors by fingerprint,
// retaining exactly one sample per fingerprint.
type ServerErrorCounter struct {
	mu      sync.Mutex
	counts  map[string]int64
	details map[string]serverErrorSample

	// sentryEventID, when set, is consulted at insertion time.
	sentryEventID func() string
}

// NewServerErrorCounter creates an empty ServerErrorCounter. The optional
// provider supplies the current Sentry event id at insertion time.
func NewServerErrorCounter(sentryEventID func() string) *ServerErrorCounter {
	return &ServerErrorCounter{
		counts:        make(map[string]int64),
		details:       make(map[string]serverErrorSample),
		sentryEventID: sentryEventID,
	}
}

// AddServerError records one server error occurrence.
func (c *ServerErrorCounter) AddServerError(e model.ServerError) {
	e.Method = strings.ToUpper(e.Method)
	e.Msg = strings.TrimSpace(e.Msg)
	e.Traceback = strings.TrimSpace(e.Traceback)
	key := fingerprint(e.Consumer, e.Method, e.Path, e.Type, e.Msg, e.Traceback)

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.details[key]; !ok {
		sample := serverErrorSample{err: e}
		if c.sentryEventID != nil {
			sample.sentryEventID = c.sentryEventID()
		}
		c.details[key] = sample
	}
	c.counts[key]++
}

// GetAndResetServerErrors emits one aggregated item per fingerprint and
// clears both maps. Messages and tracebacks are truncated on emission.
func (c *ServerErrorCounter) GetAndResetServerErrors() []model.ServerErrorsItem {
	c.mu.Lock()
	counts := c.counts
	details := c.details
	c.counts = make(map[string]int64)
	c.details = make(map[string]serverErrorSample)
	c.mu.Unlock()

	items := make([]model.ServerErrorsItem, 0, len(counts))
	for key, count := range counts {
		d := details[key]
		items = append(items, model.ServerErrorsItem{
			Consumer:      d.err.Consumer,
			Method:        d.err.Method,
			Path:          d.err.Path,
			Type:          d.err.Type,
			Msg:           model.TruncateMessage(d.err.Msg),
			Traceback:     model.TruncateStackTrace(d.err.Traceback),
			SentryEventID: d.sentryEventID,
			ErrorCount:    count,
		})
	}
	return items
}
