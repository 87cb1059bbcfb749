// Package nethttp adapts the standard library HTTP server to the
// Apitally agent core: it feeds every completed exchange into the
// client's counters and, when enabled, the request logger.
package nethttp

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"runtime"
	"runtime/debug"
	"sort"
	"strings"
	"time"

	apitally "github.com/apitally/apitally-go"
	"github.com/apitally/apitally-go/pkg/model"
)

// maxCapturedBody bounds how many body bytes the adapter buffers per
// side. One byte above the logger's cap so oversize bodies are still
// detected as oversize.
const maxCapturedBody = 50_001

type contextKey int

const consumerKey contextKey = iota

// consumerHolder is placed into the request context by the middleware so
// handlers further down the chain can attach a consumer that the
// middleware sees when the request completes.
type consumerHolder struct {
	consumer *model.Consumer
}

// SetConsumer attaches a consumer identity to the current request.
// Accepts a bare identifier string or a model.Consumer (value or
// pointer). A no-op when the middleware is not installed.
func SetConsumer(r *http.Request, consumer any) {
	if h, ok := r.Context().Value(consumerKey).(*consumerHolder); ok {
		h.consumer = model.ConsumerFromStringOrObject(consumer)
	}
}

// ConsumerFromContext returns the consumer attached via SetConsumer.
func ConsumerFromContext(ctx context.Context) *model.Consumer {
	if h, ok := ctx.Value(consumerKey).(*consumerHolder); ok {
		return h.consumer
	}
	return nil
}

// Versions returns the runtime/framework versions reported with startup
// data. An empty appVersion is omitted.
func Versions(appVersion string) map[string]string {
	versions := map[string]string{
		"go":          runtime.Version(),
		"apitally-go": apitally.Version,
	}
	if appVersion != "" {
		versions["app"] = appVersion
	}
	return versions
}

// Middleware wraps an http.Handler so every served request is observed
// by the agent. Panics are recorded as server errors and re-raised.
func Middleware(client *apitally.Client) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			r = r.WithContext(context.WithValue(r.Context(), consumerKey, &consumerHolder{}))

			var reqBody *bytes.Buffer
			if client.RequestLoggingEnabled() && r.Body != nil {
				reqBody = &bytes.Buffer{}
				r.Body = teeBody(r.Body, reqBody)
			}

			rec := &responseRecorder{
				ResponseWriter: w,
				status:         http.StatusOK,
				capture:        client.RequestLoggingEnabled(),
			}

			defer func() {
				elapsed := time.Since(start)
				consumer := ConsumerFromContext(r.Context())
				consumerID := ""
				if c := model.ConsumerFromStringOrObject(consumer); c != nil {
					consumerID = c.Identifier
					client.AddOrUpdateConsumer(c)
				}

				path := routeTemplate(r.Pattern)
				var exc *model.ExceptionInfo

				if rv := recover(); rv != nil {
					rec.status = http.StatusInternalServerError
					exc = &model.ExceptionInfo{
						Type:       fmt.Sprintf("%T", rv),
						Message:    fmt.Sprint(rv),
						StackTrace: string(debug.Stack()),
					}
					client.AddServerError(model.ServerError{
						Consumer:  consumerID,
						Method:    r.Method,
						Path:      path,
						Type:      exc.Type,
						Msg:       exc.Message,
						Traceback: exc.StackTrace,
					})
					defer panic(rv)
				}

				client.AddRequest(model.RequestInfo{
					Consumer:     consumerID,
					Method:       r.Method,
					Path:         path,
					StatusCode:   rec.status,
					ResponseTime: float64(elapsed) / float64(time.Millisecond),
					RequestSize:  model.ParseSize(r.Header.Get("Content-Length")),
					ResponseSize: model.ParseSize(rec.bytesWritten),
				})

				if client.RequestLoggingEnabled() {
					respSize := rec.bytesWritten
					request := &model.Request{
						Timestamp: float64(start.UnixMilli()) / 1000,
						Consumer:  consumerID,
						Method:    r.Method,
						Path:      path,
						URL:       requestURL(r),
						Headers:   flattenHeaders(r.Header),
						Size:      model.ParseSize(r.Header.Get("Content-Length")),
					}
					if reqBody != nil {
						request.Body = reqBody.Bytes()
					}
					response := &model.Response{
						StatusCode:   rec.status,
						ResponseTime: elapsed.Seconds(),
						Headers:      flattenHeaders(w.Header()),
						Size:         &respSize,
						Body:         rec.body.Bytes(),
					}
					client.LogRequest(request, response, exc, nil, nil)
				}
			}()

			next.ServeHTTP(rec, r)
		})
	}
}

// routeTemplate strips the optional method and host prefix from a
// ServeMux pattern like "GET example.com/hello/{id}".
func routeTemplate(pattern string) string {
	if i := strings.IndexByte(pattern, ' '); i >= 0 {
		pattern = pattern[i+1:]
	}
	if i := strings.IndexByte(pattern, '/'); i > 0 {
		pattern = pattern[i:]
	}
	return pattern
}

func requestURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + r.Host + r.RequestURI
}

func flattenHeaders(h http.Header) []model.Header {
	names := make([]string, 0, len(h))
	for name := range h {
		names = append(names, name)
	}
	sort.Strings(names)

	headers := make([]model.Header, 0, len(h))
	for _, name := range names {
		for _, value := range h[name] {
			headers = append(headers, model.Header{name, value})
		}
	}
	return headers
}

// responseRecorder captures status, size and optionally a bounded copy
// of the response body.
type responseRecorder struct {
	http.ResponseWriter
	status       int
	bytesWritten int64
	capture      bool
	body         bytes.Buffer
	wroteHeader  bool
}

func (r *responseRecorder) WriteHeader(status int) {
	if !r.wroteHeader {
		r.status = status
		r.wroteHeader = true
	}
	r.ResponseWriter.WriteHeader(status)
}

func (r *responseRecorder) Write(p []byte) (int, error) {
	n, err := r.ResponseWriter.Write(p)
	r.bytesWritten += int64(n)
	if r.capture && r.body.Len() < maxCapturedBody {
		remaining := maxCapturedBody - r.body.Len()
		if len(p) < remaining {
			remaining = len(p)
		}
		r.body.Write(p[:remaining])
	}
	return n, err
}

// teeBody copies up to maxCapturedBody bytes of a request body into buf
// while the handler reads it. The handler's view of the body is not
// limited; only the captured copy is.
func teeBody(body io.ReadCloser, buf *bytes.Buffer) io.ReadCloser {
	return &teeReadCloser{
		reader: io.TeeReader(body, &boundedWriter{buf: buf, limit: maxCapturedBody}),
		closer: body,
	}
}

// boundedWriter discards bytes beyond its limit without erroring, so the
// tee never disturbs the handler's read.
type boundedWriter struct {
	buf   *bytes.Buffer
	limit int
}

func (b *boundedWriter) Write(p []byte) (int, error) {
	if remaining := b.limit - b.buf.Len(); remaining > 0 {
		if len(p) > remaining {
			b.buf.Write(p[:remaining])
		} else {
			b.buf.Write(p)
		}
	}
	return len(p), nil
}

type teeReadCloser struct {
	reader io.Reader
	closer io.Closer
}

func (t *teeReadCloser) Read(p []byte) (int, error) { return t.reader.Read(p) }
func (t *teeReadCloser) Close() error               { return t.closer.Close() }
