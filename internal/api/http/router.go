package http

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/epimonitor/manager/internal/events"
	"github.com/epimonitor/manager/internal/tracking"
	"github.com/epimonitor/manager/pkg/types"
	"github.com/go-chi/chi/v5"
)

// TrackingService is the set of operations the HTTP API exposes.
type TrackingService interface {
	OpenSession(ctx context.Context, appName string) (*types.Session, error)
	AppendLog(ctx context.Context, req *types.LogRequest) (*types.LogEntry, error)
	UpdateStatus(ctx context.Context, update *types.StatusUpdate) (*types.Session, error)
	UploadFile(ctx context.Context, upload *tracking.FileUpload) (*types.FileRecord, error)
	ListRecentUploads(ctx context.Context) (*types.UploadReport, error)
	GetSession(ctx context.Context, sessionID string) (*types.Session, error)
	ListSessions(ctx context.Context, appName string, limit int) ([]*types.Session, error)
	ListLogs(ctx context.Context, sessionID string) ([]*types.LogEntry, error)
	ListFiles(ctx context.Context, sessionID string) ([]*types.FileRecord, error)
	ListMatrices(ctx context.Context) ([]types.Matrix, error)
}

var _ TrackingService = (*tracking.Service)(nil)

// RouterConfig configures NewRouter.
type RouterConfig struct {
	Logger         *slog.Logger
	APIKey         string
	MaxUploadBytes int64
	HealthChecks   map[string]HealthCheck

	// Events, when set, enables GET /events. Streams end when Done closes.
	Events *events.Notifier
	Done   <-chan struct{}
}

// NewRouter builds the manager's route table.
func NewRouter(service TrackingService, cfg RouterConfig) chi.Router {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(DefaultMiddleware(logger, cfg.APIKey))
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, ErrorResponse{Error: "route not found", Code: "ROUTE_NOT_FOUND"}, GetRequestID(r.Context()))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, ErrorResponse{Error: "method not allowed", Code: "METHOD_NOT_ALLOWED"}, GetRequestID(r.Context()))
	})

	query := NewQueryHandler(service)

	r.Method(http.MethodGet, "/health", NewHealthHandler(cfg.HealthChecks))

	r.Method(http.MethodGet, "/log", NewOpenSessionHandler(service))
	r.Method(http.MethodPost, "/log", NewAppendLogHandler(service))
	r.Method(http.MethodPut, "/status", NewUpdateStatusHandler(service))

	r.Method(http.MethodPost, "/file", NewUploadFileHandler(service, cfg.MaxUploadBytes))
	r.Get("/file/recent", query.RecentUploads)

	r.Get("/session", query.ListSessions)
	r.Get("/session/{id}", query.GetSession)
	r.Get("/session/{id}/logs", query.ListLogs)
	r.Get("/session/{id}/files", query.ListFiles)

	r.Get("/matrices", query.Matrices)

	if cfg.Events != nil {
		r.Method(http.MethodGet, "/events", NewEventsHandler(cfg.Events, cfg.Done))
	}

	return r
}
