package client

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apitally/apitally-go/internal/config"
	"github.com/apitally/apitally-go/pkg/model"
)

const testClientID = "8a9d1f3a-2e4b-4f6c-9b1d-0c2e4a6b8d0f"

func newTestClient(t *testing.T, baseURL string, requestLogging *model.RequestLoggingConfig) *Client {
	t.Helper()
	t.Setenv("TMPDIR", t.TempDir())

	cfg := &config.Config{
		ClientID:       testClientID,
		Env:            "dev",
		HubBaseURL:     baseURL,
		MaxRetries:     1,
		RequestLogging: requestLogging,
		Logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	c, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() {
		c.stopSync()
		c.RequestLogger.Close()
	})
	return c
}

func TestClient_SyncPayloadShape(t *testing.T) {
	payloads := make(chan map[string]any, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var p map[string]any
		_ = json.NewDecoder(r.Body).Decode(&p)
		payloads <- p
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, nil)
	c.RequestCounter.AddRequest(model.RequestInfo{
		Consumer: "alice", Method: "GET", Path: "/hello", StatusCode: 200, ResponseTime: 23.4,
	})

	c.sendSyncData(context.Background())

	p := <-payloads
	assert.Equal(t, c.InstanceUUID(), p["instance_uuid"])
	assert.NotEmpty(t, p["message_uuid"])
	assert.InDelta(t, float64(time.Now().Unix()), p["timestamp"].(float64), 5)

	requests, ok := p["requests"].([]any)
	require.True(t, ok)
	require.Len(t, requests, 1)
	item := requests[0].(map[string]any)
	assert.Equal(t, "alice", item["consumer"])
	assert.Equal(t, float64(1), item["request_count"])

	assert.Contains(t, p, "validation_errors")
	assert.Contains(t, p, "server_errors")
	assert.Contains(t, p, "consumers")
}

func TestClient_InvalidClientIDStopsScheduler(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, nil)
	c.StartSync()

	require.Eventually(t, func() bool {
		return !c.Enabled() && c.SyncStopped()
	}, 2*time.Second, 20*time.Millisecond)
}

func TestClient_ValidationErrorPayloadNotRetried(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, nil)
	c.sendSyncData(context.Background())

	assert.Empty(t, c.syncDataChan)
	assert.True(t, c.Enabled())
}

func TestClient_TransientFailureRequeuesPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, nil)
	c.sendSyncData(context.Background())

	assert.Len(t, c.syncDataChan, 1)
}

func TestClient_ExpiredPayloadsDropped(t *testing.T) {
	var received atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received.Add(1)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, nil)
	c.syncDataChan <- model.SyncPayload{
		Timestamp:    float64(time.Now().Add(-2 * time.Hour).Unix()),
		InstanceUUID: c.InstanceUUID(),
	}

	c.sendSyncData(context.Background())

	// Only the fresh payload reaches the hub.
	assert.Equal(t, int32(1), received.Load())
	assert.Empty(t, c.syncDataChan)
}

func TestClient_StartupDataSentOnce(t *testing.T) {
	var received atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path[len(r.URL.Path)-8:] == "/startup" {
			received.Add(1)
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, nil)
	c.SetStartupData(
		[]model.PathInfo{{Method: "GET", Path: "/hello"}},
		map[string]string{"go": "1.26"},
		"go:nethttp",
	)

	require.Eventually(t, func() bool {
		return received.Load() == 1
	}, 2*time.Second, 20*time.Millisecond)

	c.sendStartupData(context.Background())
	assert.Equal(t, int32(1), received.Load())
}

func TestClient_PaymentRequiredSuspendsRequestLogging(t *testing.T) {
	var logUploads atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logUploads.Add(1)
		w.Header().Set("Retry-After", "120")
		w.WriteHeader(http.StatusPaymentRequired)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, &model.RequestLoggingConfig{Enabled: true})
	require.True(t, c.RequestLogger.Enabled())
	c.RequestLogger.StartMaintenance()

	logSample := func() {
		c.RequestLogger.LogRequest(
			&model.Request{Method: "GET", Path: "/items", URL: "http://test/items"},
			&model.Response{StatusCode: 200, ResponseTime: 0.01},
			nil, nil, nil)
	}

	logSample()
	ctx := context.Background()
	require.Eventually(t, func() bool {
		c.sendLogData(ctx)
		return logUploads.Load() > 0
	}, 3*time.Second, 100*time.Millisecond)

	// Logging is suspended: new records are dropped and nothing more is
	// uploaded.
	logSample()
	time.Sleep(1200 * time.Millisecond)
	c.sendLogData(ctx)
	assert.Equal(t, int32(1), logUploads.Load())
}

func TestClient_ShutdownFlushesAndDisables(t *testing.T) {
	var syncs atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path[len(r.URL.Path)-5:] == "/sync" {
			syncs.Add(1)
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, nil)
	c.RequestCounter.AddRequest(model.RequestInfo{Method: "GET", Path: "/a", StatusCode: 200, ResponseTime: 5})

	c.Shutdown(context.Background())

	assert.False(t, c.Enabled())
	assert.True(t, c.SyncStopped())
	assert.Equal(t, int32(1), syncs.Load())
}

func TestClient_ShutdownUploadsPendingLogRecords(t *testing.T) {
	var logUploads atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/log") {
			logUploads.Add(1)
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, &model.RequestLoggingConfig{Enabled: true})
	require.True(t, c.RequestLogger.Enabled())

	c.RequestLogger.LogRequest(
		&model.Request{Method: "GET", Path: "/items", URL: "http://test/items"},
		&model.Response{StatusCode: 200, ResponseTime: 0.01},
		nil, nil, nil)

	// A record ingested right before shutdown still reaches the hub.
	c.Shutdown(context.Background())
	assert.Equal(t, int32(1), logUploads.Load())
}

func TestClient_QueueFullDropsPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, nil)
	for i := 0; i < maxQueueSize; i++ {
		c.syncDataChan <- model.SyncPayload{Timestamp: float64(time.Now().Add(-2 * time.Hour).Unix())}
	}

	// Does not block even though the queue is full.
	done := make(chan struct{})
	go func() {
		c.sendSyncData(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("sendSyncData blocked on a full queue")
	}
	assert.Empty(t, c.syncDataChan)
}
