package http

import (
	"context"
	"net/http"
	"strconv"

	apperrors "github.com/epimonitor/manager/internal/errors"
	"github.com/go-chi/chi/v5"
)

// defaultSessionLimit caps GET /session when no limit is given.
const defaultSessionLimit = 50

// maxSessionLimit is the largest accepted limit.
const maxSessionLimit = 1000

// QueryHandler serves the read-only endpoints: sessions, their logs and
// files, the recent uploads report and published matrices.
type QueryHandler struct {
	service TrackingService
}

// NewQueryHandler creates a new query handler.
func NewQueryHandler(service TrackingService) *QueryHandler {
	return &QueryHandler{service: service}
}

// GetSession handles GET /session/{id}.
func (h *QueryHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	session, err := h.service.GetSession(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		WriteManagerError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, session)
}

// ListSessions handles GET /session?app_name=&limit=.
func (h *QueryHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	limit := defaultSessionLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxSessionLimit {
			WriteManagerError(w, r, apperrors.NewValidationError(apperrors.CodeInvalidBody,
				"limit must be an integer between 1 and "+strconv.Itoa(maxSessionLimit)))
			return
		}
		limit = n
	}

	sessions, err := h.service.ListSessions(r.Context(), r.URL.Query().Get("app_name"), limit)
	if err != nil {
		WriteManagerError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, nonNil(sessions))
}

// ListLogs handles GET /session/{id}/logs.
func (h *QueryHandler) ListLogs(w http.ResponseWriter, r *http.Request) {
	logs, err := h.service.ListLogs(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		WriteManagerError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, nonNil(logs))
}

// ListFiles handles GET /session/{id}/files.
func (h *QueryHandler) ListFiles(w http.ResponseWriter, r *http.Request) {
	files, err := h.service.ListFiles(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		WriteManagerError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, nonNil(files))
}

// RecentUploads handles GET /file/recent.
func (h *QueryHandler) RecentUploads(w http.ResponseWriter, r *http.Request) {
	report, err := h.service.ListRecentUploads(r.Context())
	if err != nil {
		WriteManagerError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, report)
}

// Matrices handles GET /matrices.
func (h *QueryHandler) Matrices(w http.ResponseWriter, r *http.Request) {
	matrices, err := h.service.ListMatrices(r.Context())
	if err != nil {
		WriteManagerError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, matrices)
}

// HealthCheck reports whether a dependency is reachable.
type HealthCheck func(ctx context.Context) error

// HealthHandler handles GET /health.
type HealthHandler struct {
	checks map[string]HealthCheck
}

// NewHealthHandler creates a health handler running the given named checks.
func NewHealthHandler(checks map[string]HealthCheck) *HealthHandler {
	return &HealthHandler{checks: checks}
}

// ServeHTTP runs all checks and reports 200 when every one passes.
func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	resp := map[string]interface{}{"status": "ok"}

	results := make(map[string]string, len(h.checks))
	for name, check := range h.checks {
		if err := check(r.Context()); err != nil {
			results[name] = err.Error()
			status = http.StatusServiceUnavailable
			resp["status"] = "degraded"
			continue
		}
		results[name] = "ok"
	}
	if len(results) > 0 {
		resp["checks"] = results
	}
	WriteJSON(w, status, resp)
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
