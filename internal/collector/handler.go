package collector

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	apihttp "github.com/epimonitor/manager/internal/api/http"
	apperrors "github.com/epimonitor/manager/internal/errors"
	"github.com/go-chi/chi/v5"
)

// IngestRequest is the body of POST /data/{lab}/.
type IngestRequest struct {
	Data []json.RawMessage `json:"data"`
}

// IngestResponse reports what was spooled.
type IngestResponse struct {
	Lab     string   `json:"lab"`
	Files   []string `json:"files"`
	Records int      `json:"records"`
}

// DataHandler spools the records posted for a lab.
type DataHandler struct {
	spool  *Spool
	labs   map[string]string
	logger *slog.Logger
}

// NewDataHandler creates a handler accepting the labs in labs (lab → project).
func NewDataHandler(spool *Spool, labs map[string]string, logger *slog.Logger) *DataHandler {
	return &DataHandler{spool: spool, labs: labs, logger: logger}
}

func (h *DataHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	lab := strings.ToLower(chi.URLParam(r, "lab"))
	if _, ok := h.labs[lab]; !ok {
		apihttp.WriteManagerError(w, r, apperrors.New(apperrors.ErrCategoryNotFound,
			apperrors.CodeLabNotFound, "lab not found: "+lab))
		return
	}

	var req IngestRequest
	if err := apihttp.DecodeBody(r, &req); err != nil {
		apihttp.WriteManagerError(w, r, err)
		return
	}
	if req.Data == nil {
		apihttp.WriteManagerError(w, r, apperrors.NewValidationError(apperrors.CodeMissingField, "data is required"))
		return
	}

	paths, err := h.spool.Write(lab, req.Data)
	if err != nil {
		if apperrors.GetCategory(err) == "" {
			err = apperrors.NewInternalError("failed to spool records", err)
		}
		apihttp.WriteManagerError(w, r, err)
		return
	}

	files := make([]string, len(paths))
	for i, p := range paths {
		files[i] = filepath.Base(p)
	}
	h.logger.Info("records spooled", "lab", lab, "records", len(req.Data), "files", len(files))

	apihttp.WriteJSON(w, http.StatusOK, IngestResponse{Lab: lab, Files: files, Records: len(req.Data)})
}

// RouterConfig configures NewRouter.
type RouterConfig struct {
	Logger *slog.Logger
	APIKey string
}

// NewRouter builds the collector's route table.
func NewRouter(spool *Spool, labs map[string]string, cfg RouterConfig) chi.Router {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(apihttp.DefaultMiddleware(logger, cfg.APIKey))

	data := NewDataHandler(spool, labs, logger)
	r.Method(http.MethodGet, "/health", apihttp.NewHealthHandler(map[string]apihttp.HealthCheck{
		"spool": func(context.Context) error {
			_, err := os.Stat(spool.Dir())
			return err
		},
	}))
	r.Method(http.MethodPost, "/data/{lab}", data)
	r.Method(http.MethodPost, "/data/{lab}/", data)

	return r
}
