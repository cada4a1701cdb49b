package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	apperrors "github.com/epimonitor/manager/internal/errors"
	"github.com/epimonitor/manager/internal/tracking"
	"github.com/epimonitor/manager/pkg/types"
)

// multipartMemory is how much of an upload is buffered in memory before
// spilling to a temporary file.
const multipartMemory = 32 << 20

// OpenSessionHandler handles GET /log?app_name=.
type OpenSessionHandler struct {
	service TrackingService
}

// NewOpenSessionHandler creates a new open session handler.
func NewOpenSessionHandler(service TrackingService) *OpenSessionHandler {
	return &OpenSessionHandler{service: service}
}

// ServeHTTP opens a session and returns its id with 201.
func (h *OpenSessionHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	session, err := h.service.OpenSession(r.Context(), r.URL.Query().Get("app_name"))
	if err != nil {
		WriteManagerError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusCreated, types.OpenSessionResponse{SessionID: session.SessionID})
}

// AppendLogHandler handles POST /log.
type AppendLogHandler struct {
	service TrackingService
}

// NewAppendLogHandler creates a new append log handler.
func NewAppendLogHandler(service TrackingService) *AppendLogHandler {
	return &AppendLogHandler{service: service}
}

// ServeHTTP decodes a log event and stores it.
func (h *AppendLogHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req types.LogRequest
	if err := DecodeBody(r, &req); err != nil {
		WriteManagerError(w, r, err)
		return
	}

	entry, err := h.service.AppendLog(r.Context(), &req)
	if err != nil {
		WriteManagerError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, entry)
}

// UpdateStatusHandler handles PUT /status.
type UpdateStatusHandler struct {
	service TrackingService
}

// NewUpdateStatusHandler creates a new status update handler.
func NewUpdateStatusHandler(service TrackingService) *UpdateStatusHandler {
	return &UpdateStatusHandler{service: service}
}

// ServeHTTP applies a partial status update.
func (h *UpdateStatusHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var update types.StatusUpdate
	if err := DecodeBody(r, &update); err != nil {
		WriteManagerError(w, r, err)
		return
	}

	session, err := h.service.UpdateStatus(r.Context(), &update)
	if err != nil {
		WriteManagerError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, session)
}

// UploadFileHandler handles POST /file?session_id&organization&project
// with a multipart "file" field.
type UploadFileHandler struct {
	service  TrackingService
	maxBytes int64
}

// NewUploadFileHandler creates a new upload handler. maxBytes <= 0 disables
// the request size limit.
func NewUploadFileHandler(service TrackingService, maxBytes int64) *UploadFileHandler {
	return &UploadFileHandler{service: service, maxBytes: maxBytes}
}

// ServeHTTP stores the uploaded artifact and its metadata.
func (h *UploadFileHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.maxBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes)
	}

	query := r.URL.Query()
	upload := &tracking.FileUpload{
		SessionID:    query.Get("session_id"),
		Organization: query.Get("organization"),
		Project:      query.Get("project"),
		Size:         -1,
	}

	file, header, err := formFile(r)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, ErrorResponse{
				Error:    fmt.Sprintf("upload exceeds %d bytes", tooLarge.Limit),
				Code:     apperrors.CodeInvalidBody,
				Category: string(apperrors.ErrCategoryValidation),
			}, GetRequestID(r.Context()))
			return
		}
		WriteManagerError(w, r, err)
		return
	}
	if file != nil {
		defer file.Close()
		upload.Filename = header.Filename
		upload.Body = file
		upload.Size = header.Size
	}

	record, err := h.service.UploadFile(r.Context(), upload)
	if err != nil {
		WriteManagerError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, record)
}

// formFile returns the "file" part, or nil when the request carries none.
func formFile(r *http.Request) (multipart.File, *multipart.FileHeader, error) {
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		if errors.Is(err, http.ErrNotMultipart) {
			return nil, nil, nil
		}
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, nil, err
		}
		return nil, nil, apperrors.NewValidationError(apperrors.CodeInvalidBody,
			fmt.Sprintf("invalid multipart body: %v", err))
	}

	file, header, err := r.FormFile("file")
	if errors.Is(err, http.ErrMissingFile) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, apperrors.NewValidationError(apperrors.CodeInvalidBody,
			fmt.Sprintf("invalid file part: %v", err))
	}
	return file, header, nil
}

// DecodeBody decodes a JSON request body into v. Failures are
// VALIDATION/INVALID_BODY errors.
func DecodeBody(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return apperrors.NewValidationError(apperrors.CodeInvalidBody, "request body is required")
		}
		return apperrors.NewValidationError(apperrors.CodeInvalidBody,
			fmt.Sprintf("invalid request body: %v", err))
	}
	return nil
}
