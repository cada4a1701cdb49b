package tracking

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	apperrors "github.com/epimonitor/manager/internal/errors"
	"github.com/epimonitor/manager/internal/events"
	"github.com/epimonitor/manager/internal/storage"
	"github.com/epimonitor/manager/pkg/types"
)

// maxIDAttempts bounds session id regeneration on primary-key collision.
const maxIDAttempts = 5

// IDGenerator produces candidate session ids.
type IDGenerator interface {
	Generate(appName string, t time.Time) string
}

// ServiceConfig holds the policy knobs of the tracking service.
type ServiceConfig struct {
	// ForbiddenExtensions are rejected on upload, compared case-insensitively.
	ForbiddenExtensions []string

	// Report describes the upload roster for ListRecentUploads.
	Report ReportPolicy

	// PublicBucket and PublicBaseURL build matrix URLs as
	// {PublicBaseURL}/{PublicBucket}/{key}.
	PublicBucket  string
	PublicBaseURL string
}

// DefaultServiceConfig returns the policy used by the production deployment.
func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		ForbiddenExtensions: []string{".exe"},
		Report:              DefaultReportPolicy(),
		PublicBucket:        "public",
	}
}

// Service implements the session, log and file operations. It is the sole
// writer to the Store and is safe for concurrent use.
type Service struct {
	store  Store
	data   storage.ObjectStorage
	public storage.ObjectStorage
	config ServiceConfig
	ids    IDGenerator
	now    func() time.Time
	logger *slog.Logger
	events *events.Notifier
}

// ServiceOption customizes a Service.
type ServiceOption func(*Service)

// WithClock overrides the wall clock.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) { s.now = now }
}

// WithIDGenerator overrides session id generation.
func WithIDGenerator(ids IDGenerator) ServiceOption {
	return func(s *Service) { s.ids = ids }
}

// WithLogger sets the service logger.
func WithLogger(logger *slog.Logger) ServiceOption {
	return func(s *Service) { s.logger = logger }
}

// WithNotifier publishes committed changes to n.
func WithNotifier(n *events.Notifier) ServiceOption {
	return func(s *Service) { s.events = n }
}

// NewService creates a tracking service. public may be nil, in which case
// ListMatrices returns an empty list.
func NewService(store Store, data, public storage.ObjectStorage, config ServiceConfig, opts ...ServiceOption) *Service {
	s := &Service{
		store:  store,
		data:   data,
		public: public,
		config: config,
		ids:    types.NewSessionIDGenerator(),
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// OpenSession creates a STARTED session for appName.
func (s *Service) OpenSession(ctx context.Context, appName string) (*types.Session, error) {
	if appName == "" {
		return nil, apperrors.NewValidationError(apperrors.CodeMissingField, "app_name is required").
			WithDetails(map[string]interface{}{"field": "app_name"})
	}

	for attempt := 1; attempt <= maxIDAttempts; attempt++ {
		now := s.now()
		session := &types.Session{
			SessionID: s.ids.Generate(appName, now),
			AppName:   appName,
			Status:    types.StatusStarted,
			Start:     now,
		}

		err := s.store.CreateSession(ctx, session)
		if err == nil {
			s.logger.Debug("session opened", "session_id", session.SessionID, "app_name", appName)
			s.publish(events.Event{
				Type:      events.SessionOpened,
				SessionID: session.SessionID,
				AppName:   appName,
				Status:    session.Status,
				Timestamp: now,
			})
			return session, nil
		}
		if !errors.Is(err, ErrDuplicateSession) {
			return nil, apperrors.NewStoreError("failed to create session", err)
		}
		s.logger.Warn("session id collision", "session_id", session.SessionID, "attempt", attempt)
	}

	return nil, apperrors.New(apperrors.ErrCategoryInternal, apperrors.CodeIDCollision,
		"could not generate a unique session id")
}

// AppendLog validates and stores a log event. A CRITICAL event also
// finishes the session with errors.
func (s *Service) AppendLog(ctx context.Context, req *types.LogRequest) (*types.LogEntry, error) {
	if err := req.Validate(); err != nil {
		return nil, validationError(err)
	}

	entry, err := s.store.AppendLog(ctx, &types.LogEntry{
		SessionID: req.SessionID,
		AppName:   req.AppName,
		Level:     req.Level,
		Message:   req.Message,
		Timestamp: s.now(),
	})
	if err != nil {
		return nil, storeError(err, req.SessionID, "failed to append log")
	}

	if entry.Level == types.LevelCritical {
		s.logger.Info("session finished by critical log", "session_id", entry.SessionID)
	}
	s.publish(events.Event{
		Type:      events.LogAppended,
		SessionID: entry.SessionID,
		AppName:   entry.AppName,
		Level:     string(entry.Level),
		Message:   entry.Message,
		Timestamp: entry.Timestamp,
	})
	return entry, nil
}

// UpdateStatus overwrites a session's status and, when supplied, its start
// and end times.
func (s *Service) UpdateStatus(ctx context.Context, update *types.StatusUpdate) (*types.Session, error) {
	if err := update.Validate(); err != nil {
		return nil, validationError(err)
	}

	session, err := s.store.UpdateSession(ctx, update)
	if err != nil {
		return nil, storeError(err, update.SessionID, "failed to update session")
	}
	s.publish(events.Event{
		Type:      events.StatusUpdated,
		SessionID: session.SessionID,
		AppName:   session.AppName,
		Status:    session.Status,
		Timestamp: s.now(),
	})
	return session, nil
}

// FileUpload is the input of UploadFile.
type FileUpload struct {
	SessionID    string
	Organization string
	Project      string
	Filename     string
	Body         io.Reader
	// Size is the body length in bytes, or -1 when unknown.
	Size int64
}

// UploadFile writes the artifact to the data bucket and then records it.
// If the record insert fails after the blob was written, the blob is left
// in place and logged as an orphan.
func (s *Service) UploadFile(ctx context.Context, upload *FileUpload) (*types.FileRecord, error) {
	for _, f := range []struct{ name, value string }{
		{"session_id", upload.SessionID},
		{"organization", upload.Organization},
		{"project", upload.Project},
		{"filename", upload.Filename},
	} {
		if f.value == "" {
			return nil, apperrors.NewValidationError(apperrors.CodeMissingField, f.name+" is required").
				WithDetails(map[string]interface{}{"field": f.name})
		}
	}
	if upload.Body == nil {
		return nil, apperrors.NewValidationError(apperrors.CodeMissingFile, "file is required")
	}

	for _, f := range []struct{ name, value string }{
		{"organization", upload.Organization},
		{"project", upload.Project},
		{"filename", upload.Filename},
	} {
		if !types.ValidKeySegment(f.value) {
			return nil, apperrors.NewValidationError(apperrors.CodeInvalidPathSegment,
				fmt.Sprintf("%s must be a single path segment", f.name)).
				WithDetails(map[string]interface{}{"field": f.name, "value": f.value})
		}
	}

	if types.HasForbiddenExtension(upload.Filename, s.config.ForbiddenExtensions) {
		return nil, apperrors.NewValidationError(apperrors.CodeForbiddenExtension, "Invalid file format").
			WithDetails(map[string]interface{}{"filename": upload.Filename})
	}

	session, err := s.store.GetSession(ctx, upload.SessionID)
	if err != nil {
		return nil, storeError(err, upload.SessionID, "failed to look up session")
	}

	key := types.BlobKey(upload.Project, upload.Organization, upload.Filename)
	if err := s.data.Put(ctx, key, upload.Body, upload.Size); err != nil {
		return nil, apperrors.NewStorageError(apperrors.CodeUploadFailed, "failed to store file", err).
			WithDetails(map[string]interface{}{"key": key})
	}

	record, err := s.store.InsertFile(ctx, &types.FileRecord{
		SessionID:    upload.SessionID,
		Organization: upload.Organization,
		Project:      upload.Project,
		Filename:     upload.Filename,
		UploadTS:     s.now(),
	})
	if err != nil {
		s.logger.Warn("orphan blob: file record insert failed",
			"key", key,
			"session_id", upload.SessionID,
			"error", err,
		)
		return nil, apperrors.NewInternalError("file stored but record insert failed", err).
			WithDetails(map[string]interface{}{"key": key})
	}
	s.publish(events.Event{
		Type:      events.FileUploaded,
		SessionID: record.SessionID,
		AppName:   session.AppName,
		Filename:  record.Filename,
		Timestamp: record.UploadTS,
	})
	return record, nil
}

// GetSession returns a single session.
func (s *Service) GetSession(ctx context.Context, sessionID string) (*types.Session, error) {
	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, storeError(err, sessionID, "failed to get session")
	}
	return session, nil
}

// ListSessions returns recent sessions, optionally for one app.
func (s *Service) ListSessions(ctx context.Context, appName string, limit int) ([]*types.Session, error) {
	sessions, err := s.store.ListSessions(ctx, appName, limit)
	if err != nil {
		return nil, apperrors.NewStoreError("failed to list sessions", err)
	}
	return sessions, nil
}

// ListLogs returns a session's log events in insertion order.
func (s *Service) ListLogs(ctx context.Context, sessionID string) ([]*types.LogEntry, error) {
	if _, err := s.store.GetSession(ctx, sessionID); err != nil {
		return nil, storeError(err, sessionID, "failed to look up session")
	}
	logs, err := s.store.ListLogs(ctx, sessionID)
	if err != nil {
		return nil, apperrors.NewStoreError("failed to list logs", err)
	}
	return logs, nil
}

// ListFiles returns a session's file records in insertion order.
func (s *Service) ListFiles(ctx context.Context, sessionID string) ([]*types.FileRecord, error) {
	if _, err := s.store.GetSession(ctx, sessionID); err != nil {
		return nil, storeError(err, sessionID, "failed to look up session")
	}
	files, err := s.store.ListFiles(ctx, sessionID)
	if err != nil {
		return nil, apperrors.NewStoreError("failed to list files", err)
	}
	return files, nil
}

func (s *Service) publish(ev events.Event) {
	if s.events != nil {
		s.events.Publish(ev)
	}
}

func validationError(err error) error {
	var ve *types.ValidationError
	if errors.As(err, &ve) {
		return apperrors.NewValidationError(ve.Code, ve.Error()).
			WithDetails(map[string]interface{}{"field": ve.Field})
	}
	return apperrors.NewValidationError(apperrors.CodeInvalidBody, err.Error())
}

func storeError(err error, sessionID, msg string) error {
	if errors.Is(err, ErrSessionNotFound) {
		return apperrors.NewSessionNotFound(sessionID)
	}
	return apperrors.NewStoreError(msg, err)
}
