package counter

import (
	"crypto/md5"
	"encoding/hex"
	"strings"
	"sync"

	"github.com/apitally/apitally-go/pkg/model"
)

// fingerprint returns the stable MD5 hex digest of the given key parts.
func fingerprint(parts ...string) string {
	sum := md5.Sum([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}

// ValidationErrorCounter aggregates request validation errors by
// fingerprint, retaining exactly one sample per fingerprint.
type ValidationErrorCounter struct {
	mu      sync.Mutex
	counts  map[string]int64
	details map[string]model.ValidationError
}

// NewValidationErrorCounter creates an empty ValidationErrorCounter.
func NewValidationErrorCounter() *ValidationErrorCounter {
	return &ValidationErrorCounter{
		counts:  make(map[string]int64),
		details: make(map[string]model.ValidationError),
	}
}

// AddValidationError records one validation error occurrence.
func (c *ValidationErrorCounter) AddValidationError(e model.ValidationError) {
	e.Method = strings.ToUpper(e.Method)
	e.Msg = strings.TrimSpace(e.Msg)
	key := fingerprint(e.Consumer, e.Method, e.Path, e.Loc, e.Msg, e.Type)

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.details[key]; !ok {
		c.details[key] = e
	}
	c.counts[key]++
}

// GetAndResetValidationErrors emits one aggregated item per fingerprint
// and clears both maps. The dot-separated loc is split into components.
func (c *ValidationErrorCounter) GetAndResetValidationErrors() []model.ValidationErrorsItem {
	c.mu.Lock()
	counts := c.counts
	details := c.details
	c.counts = make(map[string]int64)
	c.details = make(map[string]model.ValidationError)
	c.mu.Unlock()

	items := make([]model.ValidationErrorsItem, 0, len(counts))
	for key, count := range counts {
		d := details[key]
		items = append(items, model.ValidationErrorsItem{
			Consumer:   d.Consumer,
			Method:     d.Method,
			Path:       d.Path,
			Loc:        strings.Split(d.Loc, "."),
			Msg:        d.Msg,
			Type:       d.Type,
			ErrorCount: count,
		})
	}
	return items
}
