package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager() *ShutdownManager {
	return NewShutdownManager(ShutdownConfig{
		ShutdownTimeout: time.Second,
		DrainTimeout:    200 * time.Millisecond,
		Logger:          slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
}

func TestShutdown_ClosersRunInReverseOrder(t *testing.T) {
	sm := newTestManager()

	var order []string
	for _, name := range []string{"store", "storage", "http"} {
		name := name
		sm.RegisterCloser(name, CloserFunc(func() error {
			order = append(order, name)
			return nil
		}))
	}

	started := false
	sm.OnShutdownStart(func() { started = true })

	require.NoError(t, sm.Shutdown(context.Background(), "test"))
	assert.True(t, started)
	assert.Equal(t, []string{"http", "storage", "store"}, order)
	assert.True(t, sm.IsShuttingDown())

	select {
	case <-sm.ShutdownCh():
	default:
		t.Fatal("shutdown channel not closed")
	}
}

func TestShutdown_OnlyOnce(t *testing.T) {
	sm := newTestManager()
	calls := 0
	sm.RegisterCloser("x", CloserFunc(func() error { calls++; return nil }))

	require.NoError(t, sm.Shutdown(context.Background(), "first"))
	require.NoError(t, sm.Shutdown(context.Background(), "second"))
	assert.Equal(t, 1, calls)
}

func TestShutdown_ReportsCloseError(t *testing.T) {
	sm := newTestManager()
	boom := errors.New("boom")
	sm.RegisterCloser("store", CloserFunc(func() error { return boom }))

	err := sm.Shutdown(context.Background(), "test")
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
}

func TestShutdown_DrainTimeout(t *testing.T) {
	sm := newTestManager()
	require.True(t, sm.TrackRequest())

	err := sm.Shutdown(context.Background(), "test")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "in-flight")
	assert.False(t, sm.TrackRequest())
}

func TestShutdownMiddleware(t *testing.T) {
	sm := newTestManager()

	var seen int64
	handler := ShutdownMiddleware(sm)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = sm.InFlightCount()
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(1), seen)
	assert.Equal(t, int64(0), sm.InFlightCount())

	require.NoError(t, sm.Shutdown(context.Background(), "test"))

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestServeHTTP_StopsOnShutdown(t *testing.T) {
	sm := newTestManager()
	srv := &http.Server{Addr: "127.0.0.1:0", Handler: http.NotFoundHandler()}

	errCh := sm.ServeHTTP("test", srv)
	time.Sleep(50 * time.Millisecond)

	require.NoError(t, sm.Shutdown(context.Background(), "test"))

	select {
	case err, ok := <-errCh:
		if ok {
			assert.NoError(t, err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop")
	}
}
