// Package http provides the HTTP API of the manager service.
package http

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	apperrors "github.com/epimonitor/manager/internal/errors"
	"github.com/google/uuid"
)

// Context keys for request metadata.
type contextKey string

const (
	// requestIDKey is the context key for the request ID.
	requestIDKey contextKey = "request_id"
	// correlationIDKey is the context key for the correlation ID.
	correlationIDKey contextKey = "correlation_id"
)

// APIKeyHeader carries the shared API key.
const APIKeyHeader = "X-API-Key"

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code,omitempty"`
	Category  string `json:"category,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// RequestIDMiddleware adds a unique request_id to each request.
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Check if request_id is provided in header, otherwise generate one
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}

		w.Header().Set("X-Request-ID", requestID)

		ctx := context.WithValue(r.Context(), requestIDKey, requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// CorrelationIDMiddleware propagates a correlation ID, falling back to the
// request ID.
func CorrelationIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		correlationID := r.Header.Get("X-Correlation-ID")
		if correlationID == "" {
			if reqID, ok := r.Context().Value(requestIDKey).(string); ok {
				correlationID = reqID
			} else {
				correlationID = uuid.New().String()
			}
		}

		w.Header().Set("X-Correlation-ID", correlationID)

		ctx := context.WithValue(r.Context(), correlationIDKey, correlationID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RecoveryMiddleware recovers from panics and returns a 500 error.
func RecoveryMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					requestID := GetRequestID(r.Context())
					logger.Error("panic in handler", "panic", rec, "path", r.URL.Path, "request_id", requestID)
					writeError(w, http.StatusInternalServerError, ErrorResponse{
						Error:    "internal server error",
						Code:     apperrors.CodeUnexpected,
						Category: string(apperrors.ErrCategoryInternal),
					}, requestID)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// ContentTypeMiddleware ensures JSON content type for API responses.
func ContentTypeMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

// APIKeyMiddleware rejects requests whose X-API-Key header does not match
// key. An empty key disables the check. Exempt paths are always allowed.
func APIKeyMiddleware(key string, exempt ...string) func(http.Handler) http.Handler {
	skip := make(map[string]bool, len(exempt))
	for _, p := range exempt {
		skip[p] = true
	}
	return func(next http.Handler) http.Handler {
		if key == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !skip[r.URL.Path] {
				got := r.Header.Get(APIKeyHeader)
				if subtle.ConstantTimeCompare([]byte(got), []byte(key)) != 1 {
					writeError(w, http.StatusUnauthorized, ErrorResponse{
						Error: "invalid or missing API key",
						Code:  "UNAUTHORIZED",
					}, GetRequestID(r.Context()))
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// statusRecorder captures the response status for access logging.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// Unwrap exposes the underlying writer to http.ResponseController.
func (s *statusRecorder) Unwrap() http.ResponseWriter {
	return s.ResponseWriter
}

// AccessLogMiddleware logs one line per request.
func AccessLogMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			level := slog.LevelInfo
			if rec.status >= 500 {
				level = slog.LevelError
			}
			logger.Log(r.Context(), level, "request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", rec.status,
				"duration", time.Since(start),
				"request_id", GetRequestID(r.Context()),
			)
		})
	}
}

// ChainMiddleware chains multiple middleware functions together.
func ChainMiddleware(middlewares ...func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	return func(final http.Handler) http.Handler {
		for i := len(middlewares) - 1; i >= 0; i-- {
			final = middlewares[i](final)
		}
		return final
	}
}

// DefaultMiddleware returns the default middleware chain for API handlers.
func DefaultMiddleware(logger *slog.Logger, apiKey string) func(http.Handler) http.Handler {
	return ChainMiddleware(
		RequestIDMiddleware,
		RecoveryMiddleware(logger),
		CorrelationIDMiddleware,
		AccessLogMiddleware(logger),
		ContentTypeMiddleware,
		APIKeyMiddleware(apiKey, "/health"),
	)
}

// StatusForError maps a structured error to an HTTP status code.
func StatusForError(err error) int {
	switch apperrors.GetCategory(err) {
	case apperrors.ErrCategoryValidation:
		if apperrors.GetCode(err) == apperrors.CodeForbiddenExtension {
			return http.StatusBadRequest
		}
		return http.StatusUnprocessableEntity
	case apperrors.ErrCategoryNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// WriteManagerError writes err as an ErrorResponse using its category and
// code. Errors that are not ManagerErrors are reported as UNEXPECTED.
func WriteManagerError(w http.ResponseWriter, r *http.Request, err error) {
	resp := ErrorResponse{
		Error:    err.Error(),
		Code:     apperrors.GetCode(err),
		Category: string(apperrors.GetCategory(err)),
	}

	var me *apperrors.ManagerError
	if errors.As(err, &me) {
		resp.Error = me.Message
	} else {
		resp.Code = apperrors.CodeUnexpected
		resp.Category = string(apperrors.ErrCategoryInternal)
	}
	writeError(w, StatusForError(err), resp, GetRequestID(r.Context()))
}

// writeError writes an error response with the given status code.
func writeError(w http.ResponseWriter, statusCode int, resp ErrorResponse, requestID string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	resp.RequestID = requestID
	json.NewEncoder(w).Encode(resp)
}

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// GetRequestID retrieves the request ID from the context.
func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}

// GetCorrelationID retrieves the correlation ID from the context.
func GetCorrelationID(ctx context.Context) string {
	if id, ok := ctx.Value(correlationIDKey).(string); ok {
		return id
	}
	return ""
}
