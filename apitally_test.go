package apitally

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testClientID = "8a9d1f3a-2e4b-4f6c-9b1d-0c2e4a6b8d0f"

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSingletonLifecycle(t *testing.T) {
	t.Setenv("TMPDIR", t.TempDir())
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()
	t.Setenv("APITALLY_HUB_BASE_URL", srv.URL)

	_, err := GetInstance()
	assert.ErrorIs(t, err, ErrNotInitialized)

	c, err := New(Config{ClientID: testClientID, Logger: discardLogger()})
	require.NoError(t, err)
	assert.True(t, c.Enabled())
	assert.NotEmpty(t, c.InstanceUUID())
	assert.NotNil(t, c.MetricsRegistry())

	got, err := GetInstance()
	require.NoError(t, err)
	assert.Same(t, c, got)

	_, err = New(Config{ClientID: testClientID, Logger: discardLogger()})
	assert.ErrorIs(t, err, ErrAlreadyInitialized)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c.Shutdown(ctx)
	assert.False(t, c.Enabled())

	_, err = GetInstance()
	assert.ErrorIs(t, err, ErrNotInitialized)

	// The singleton slot is free again after Shutdown.
	c2, err := New(Config{ClientID: testClientID, Logger: discardLogger()})
	require.NoError(t, err)
	c2.Shutdown(ctx)
}

func TestNew_InvalidConfig(t *testing.T) {
	t.Setenv("TMPDIR", t.TempDir())

	_, err := New(Config{ClientID: "not-a-uuid", Logger: discardLogger()})
	assert.ErrorIs(t, err, ErrInvalidClientID)

	_, err = New(Config{ClientID: testClientID, Env: "invalid env!", Logger: discardLogger()})
	assert.ErrorIs(t, err, ErrInvalidEnv)

	// Failed construction does not occupy the singleton slot.
	_, err = GetInstance()
	assert.ErrorIs(t, err, ErrNotInitialized)
}
