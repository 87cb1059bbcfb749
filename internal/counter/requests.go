package counter

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"

	"github.com/apitally/apitally-go/pkg/model"
)

// requestKey holds the attributes a counter row is keyed by.
type requestKey struct {
	consumer   string
	method     string
	path       string
	statusCode int
}

func (k requestKey) String() string {
	return fmt.Sprintf("%s|%s|%s|%d", k.consumer, k.method, k.path, k.statusCode)
}

// RequestCounter aggregates per-endpoint request counts, size sums and
// histograms between sync drains. Safe for concurrent use.
type RequestCounter struct {
	mu               sync.Mutex
	keys             map[string]requestKey
	counts           map[string]int64
	requestSizeSums  map[string]int64
	responseSizeSums map[string]int64
	responseTimes    map[string]map[int]int64
	requestSizes     map[string]map[int]int64
	responseSizes    map[string]map[int]int64
}

// NewRequestCounter creates an empty RequestCounter.
func NewRequestCounter() *RequestCounter {
	c := &RequestCounter{}
	c.reset()
	return c
}

func (c *RequestCounter) reset() {
	c.keys = make(map[string]requestKey)
	c.counts = make(map[string]int64)
	c.requestSizeSums = make(map[string]int64)
	c.responseSizeSums = make(map[string]int64)
	c.responseTimes = make(map[string]map[int]int64)
	c.requestSizes = make(map[string]map[int]int64)
	c.responseSizes = make(map[string]map[int]int64)
}

// AddRequest records one completed request. Response times are bucketed
// into 10 ms buckets, sizes into KB buckets.
func (c *RequestCounter) AddRequest(info model.RequestInfo) {
	k := requestKey{
		consumer:   info.Consumer,
		method:     strings.ToUpper(info.Method),
		path:       info.Path,
		statusCode: info.StatusCode,
	}
	key := k.String()

	c.mu.Lock()
	defer c.mu.Unlock()

	c.keys[key] = k
	c.counts[key]++

	rtBucket := int(math.Floor(info.ResponseTime/10) * 10)
	if c.responseTimes[key] == nil {
		c.responseTimes[key] = make(map[int]int64)
	}
	c.responseTimes[key][rtBucket]++

	if info.RequestSize != nil {
		c.requestSizeSums[key] += *info.RequestSize
		if c.requestSizes[key] == nil {
			c.requestSizes[key] = make(map[int]int64)
		}
		c.requestSizes[key][int(*info.RequestSize/1000)]++
	}
	if info.ResponseSize != nil {
		c.responseSizeSums[key] += *info.ResponseSize
		if c.responseSizes[key] == nil {
			c.responseSizes[key] = make(map[int]int64)
		}
		c.responseSizes[key][int(*info.ResponseSize/1000)]++
	}
}

// GetAndResetRequests returns one RequestsItem per key observed since the
// last drain and clears all internal state in the same step.
func (c *RequestCounter) GetAndResetRequests() []model.RequestsItem {
	c.mu.Lock()
	keys := c.keys
	counts := c.counts
	requestSizeSums := c.requestSizeSums
	responseSizeSums := c.responseSizeSums
	responseTimes := c.responseTimes
	requestSizes := c.requestSizes
	responseSizes := c.responseSizes
	c.reset()
	c.mu.Unlock()

	items := make([]model.RequestsItem, 0, len(counts))
	for key, count := range counts {
		k := keys[key]
		items = append(items, model.RequestsItem{
			Consumer:        k.consumer,
			Method:          k.method,
			Path:            k.path,
			StatusCode:      k.statusCode,
			RequestCount:    count,
			RequestSizeSum:  requestSizeSums[key],
			ResponseSizeSum: responseSizeSums[key],
			ResponseTimes:   stringKeyed(responseTimes[key]),
			RequestSizes:    stringKeyed(requestSizes[key]),
			ResponseSizes:   stringKeyed(responseSizes[key]),
		})
	}
	return items
}

// stringKeyed converts a bucket histogram to the wire format with string
// keys. A nil histogram becomes an empty map, never null.
func stringKeyed(h map[int]int64) map[string]int64 {
	out := make(map[string]int64, len(h))
	for bucket, count := range h {
		out[strconv.Itoa(bucket)] = count
	}
	return out
}
