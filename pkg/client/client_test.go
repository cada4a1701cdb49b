package client

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	apihttp "github.com/epimonitor/manager/internal/api/http"
	"github.com/epimonitor/manager/internal/storage"
	"github.com/epimonitor/manager/internal/tracking"
	"github.com/epimonitor/manager/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type managerFixture struct {
	server  *httptest.Server
	service *tracking.Service
	data    *storage.LocalStorage
}

func newManager(t *testing.T, apiKey string) *managerFixture {
	t.Helper()

	store, err := tracking.NewSQLiteStore(filepath.Join(t.TempDir(), "manager.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	data, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := tracking.NewService(store, data, nil, tracking.DefaultServiceConfig(), tracking.WithLogger(logger))
	srv := httptest.NewServer(apihttp.NewRouter(svc, apihttp.RouterConfig{Logger: logger, APIKey: apiKey}))
	t.Cleanup(srv.Close)

	return &managerFixture{server: srv, service: svc, data: data}
}

// syncBuffer is a goroutine-safe bytes.Buffer.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func quietLocal() Option {
	return WithLocalHandler(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func TestNew_OpensSession(t *testing.T) {
	m := newManager(t, "")
	ctx := context.Background()

	iface, err := New(ctx, "sivep-extractor", m.server.URL+"/", quietLocal())
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(iface.SessionID(), "sivep-extractor-"))
	assert.False(t, iface.Closed())

	session, err := m.service.GetSession(ctx, iface.SessionID())
	require.NoError(t, err)
	assert.Equal(t, types.StatusStarted, session.Status)
}

func TestNew_FailureReturned(t *testing.T) {
	m := newManager(t, "key")

	_, err := New(context.Background(), "x", m.server.URL, quietLocal())
	require.Error(t, err)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
}

func TestLogger_MirrorsRecords(t *testing.T) {
	m := newManager(t, "")
	ctx := context.Background()
	var local bytes.Buffer

	iface, err := New(ctx, "extractorA", m.server.URL,
		WithLocalHandler(slog.NewTextHandler(&local, &slog.HandlerOptions{Level: slog.LevelDebug, ReplaceAttr: ReplaceLevel})))
	require.NoError(t, err)

	log := iface.Logger()
	log.Debug("debug stays local")
	log.Info("begin", "rows", 10)
	log.With("lab", "sabin").Warn("slow source")
	log.WithGroup("req").Error("failed", "status", 503)

	logs, err := m.service.ListLogs(ctx, iface.SessionID())
	require.NoError(t, err)
	require.Len(t, logs, 3)

	assert.Equal(t, types.LevelInfo, logs[0].Level)
	assert.Equal(t, "begin rows=10", logs[0].Message)
	assert.Equal(t, types.LevelWarning, logs[1].Level)
	assert.Equal(t, "slow source lab=sabin", logs[1].Message)
	assert.Equal(t, types.LevelError, logs[2].Level)
	assert.Equal(t, "failed req.status=503", logs[2].Message)

	assert.Contains(t, local.String(), "debug stays local")
	assert.Contains(t, local.String(), "begin")
}

func TestLogger_CriticalFinishesSession(t *testing.T) {
	m := newManager(t, "")
	ctx := context.Background()
	var local bytes.Buffer

	iface, err := New(ctx, "extractorA", m.server.URL,
		WithLocalHandler(slog.NewTextHandler(&local, &slog.HandlerOptions{ReplaceAttr: ReplaceLevel})))
	require.NoError(t, err)

	iface.Critical("credentials expired")

	session, err := m.service.GetSession(ctx, iface.SessionID())
	require.NoError(t, err)
	assert.Equal(t, types.StatusFinishedWithErrors, session.Status)
	assert.NotNil(t, session.End)
	assert.Contains(t, local.String(), "level=CRITICAL")
}

func TestLogger_MirrorFailureDoesNotPropagate(t *testing.T) {
	m := newManager(t, "")
	var fallback syncBuffer

	iface, err := New(context.Background(), "extractorA", m.server.URL, quietLocal(), WithFallback(&fallback))
	require.NoError(t, err)

	m.server.Close()

	assert.NotPanics(t, func() {
		iface.Logger().Info("manager is gone")
		iface.Logger().Error("still going")
	})
	assert.Contains(t, fallback.String(), "Failed to send log to API")
}

func TestUploadFile(t *testing.T) {
	m := newManager(t, "")
	ctx := context.Background()

	iface, err := New(ctx, "extractorA", m.server.URL, quietLocal())
	require.NoError(t, err)

	content := []byte("a,b\n1,2\n")
	record, err := iface.UploadFile(ctx, "labY", "arbo", bytes.NewReader(content), "r.csv")
	require.NoError(t, err)
	assert.Equal(t, iface.SessionID(), record.SessionID)
	assert.Equal(t, "r.csv", record.Filename)

	rc, err := m.data.Get(ctx, "arbo/data/labY/r.csv")
	require.NoError(t, err)
	got, _ := io.ReadAll(rc)
	rc.Close()
	assert.Equal(t, content, got)
}

func TestUploadFile_TypedFailure(t *testing.T) {
	m := newManager(t, "")
	ctx := context.Background()

	iface, err := New(ctx, "extractorA", m.server.URL, quietLocal())
	require.NoError(t, err)

	_, err = iface.UploadFile(ctx, "acme", "p1", strings.NewReader("MZ"), "malware.exe")
	require.Error(t, err)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Equal(t, "FORBIDDEN_EXTENSION", apiErr.Code)
	assert.Equal(t, "Invalid file format", apiErr.Message)
}

func TestCloseSession(t *testing.T) {
	m := newManager(t, "s3cret")
	ctx := context.Background()

	iface, err := New(ctx, "extractorA", m.server.URL, quietLocal(), WithAPIKey("s3cret"))
	require.NoError(t, err)

	session, err := iface.CloseSession(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, types.StatusCompleted, session.Status)
	require.NotNil(t, session.End)
	assert.True(t, iface.Closed())

	session, err = iface.CloseSession(ctx, "FINISHED_WITH_ERRORS")
	require.NoError(t, err)
	assert.Equal(t, types.StatusFinishedWithErrors, session.Status)
}

func TestNewFromEnv(t *testing.T) {
	m := newManager(t, "envkey")
	t.Setenv(EnvEndpoint, m.server.URL)
	t.Setenv(EnvAPIKey, "envkey")

	iface, err := NewFromEnv(context.Background(), "extractorA", quietLocal())
	require.NoError(t, err)
	assert.NotEmpty(t, iface.SessionID())

	t.Setenv(EnvEndpoint, "")
	_, err = NewFromEnv(context.Background(), "extractorA")
	assert.Error(t, err)
}

func TestManagerLevel(t *testing.T) {
	cases := map[slog.Level]types.Level{
		slog.LevelInfo:     types.LevelInfo,
		slog.LevelInfo + 1: types.LevelInfo,
		slog.LevelWarn:     types.LevelWarning,
		slog.LevelError:    types.LevelError,
		LevelCritical:      types.LevelCritical,
		LevelCritical + 4:  types.LevelCritical,
	}
	for in, want := range cases {
		got, ok := managerLevel(in)
		assert.True(t, ok)
		assert.Equal(t, want, got, in.String())
	}

	_, ok := managerLevel(slog.LevelDebug)
	assert.False(t, ok)
}
