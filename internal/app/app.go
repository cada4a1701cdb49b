// Package app provides the application lifecycle for the manager and
// collector services.
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"sync"

	apihttp "github.com/epimonitor/manager/internal/api/http"
	"github.com/epimonitor/manager/internal/config"
	"github.com/epimonitor/manager/internal/events"
	"github.com/epimonitor/manager/internal/server"
	"github.com/epimonitor/manager/internal/storage"
	"github.com/epimonitor/manager/internal/tracking"
)

// NewLogger builds the process logger from the log section.
func NewLogger(cfg config.LogConfig, w io.Writer) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// App manages the manager service lifecycle.
type App struct {
	cfg    *config.Config
	logger *slog.Logger

	// Shared resources
	store    *tracking.SQLiteStore
	data     storage.ObjectStorage
	public   storage.ObjectStorage
	service  *tracking.Service
	events   *events.Notifier
	shutdown *server.ShutdownManager

	httpServer *http.Server
	serveErr   <-chan error

	// Lifecycle
	mu      sync.Mutex
	opened  bool
	running bool
}

// New validates cfg and creates the directories it names. Resources are
// acquired by Open or Start.
func New(cfg *config.Config, logger *slog.Logger) (*App, error) {
	cfg.Resolve()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("failed to create directories: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &App{
		cfg:    cfg,
		logger: logger,
		events: events.NewNotifier(64),
		shutdown: server.NewShutdownManager(server.ShutdownConfig{
			ShutdownTimeout: cfg.HTTP.ShutdownTimeout,
			Logger:          logger,
		}),
	}, nil
}

// Open initializes storage, the tracking store and the service. It is
// called by Start; commands that only query use it directly.
func (a *App) Open(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.opened {
		return nil
	}

	if err := a.initStorage(ctx); err != nil {
		return err
	}

	store, err := tracking.NewSQLiteStore(a.cfg.DatabasePath())
	if err != nil {
		return fmt.Errorf("failed to open tracking store: %w", err)
	}
	a.store = store
	a.shutdown.RegisterCloser("tracking-store", store)
	a.logger.Info("tracking store opened", "path", store.Path())

	policy, err := reportPolicy(a.cfg.Report)
	if err != nil {
		return err
	}
	a.service = tracking.NewService(a.store, a.data, a.public, tracking.ServiceConfig{
		ForbiddenExtensions: a.cfg.Uploads.ForbiddenExtensions,
		Report:              policy,
		PublicBucket:        a.cfg.Storage.Buckets.Public,
		PublicBaseURL:       a.cfg.Storage.PublicBaseURL,
	}, tracking.WithLogger(a.logger), tracking.WithNotifier(a.events))

	a.opened = true
	return nil
}

// initStorage opens the data bucket and, when configured, the public bucket.
func (a *App) initStorage(ctx context.Context) error {
	buckets := a.cfg.Storage.Buckets

	switch a.cfg.Storage.Type {
	case "local":
		data, err := storage.NewLocalStorage(filepath.Join(a.cfg.Storage.Path, buckets.Data))
		if err != nil {
			return fmt.Errorf("failed to initialize storage: %w", err)
		}
		a.data = data
		if buckets.Public != "" {
			public, err := storage.NewLocalStorage(filepath.Join(a.cfg.Storage.Path, buckets.Public))
			if err != nil {
				return fmt.Errorf("failed to initialize public storage: %w", err)
			}
			a.public = public
		}
	case "s3":
		s3cfg := a.cfg.Storage.S3
		client, err := storage.NewS3Client(ctx, storage.S3Config{
			Region:       s3cfg.Region,
			Endpoint:     s3cfg.Endpoint,
			UsePathStyle: s3cfg.PathStyle,
			AccessKey:    s3cfg.AccessKey,
			SecretKey:    s3cfg.SecretKey,
		})
		if err != nil {
			return fmt.Errorf("failed to initialize storage: %w", err)
		}
		a.data = storage.NewS3StorageWithClient(client, buckets.Data)
		if buckets.Public != "" {
			a.public = storage.NewS3StorageWithClient(client, buckets.Public)
		}
		a.logger.Info("s3 storage configured",
			"endpoint", s3cfg.Endpoint,
			"region", s3cfg.Region,
			"data_bucket", buckets.Data,
			"public_bucket", buckets.Public,
		)
	default:
		return fmt.Errorf("unsupported storage type: %s", a.cfg.Storage.Type)
	}

	a.logger.Info("storage initialized", "type", a.cfg.Storage.Type)
	return nil
}

func reportPolicy(cfg config.ReportConfig) (tracking.ReportPolicy, error) {
	weekday, err := config.ParseWeekday(cfg.Weekday)
	if err != nil {
		return tracking.ReportPolicy{}, err
	}
	return tracking.ReportPolicy{
		Projects:      cfg.Projects,
		Organizations: cfg.Organizations,
		Excluded:      cfg.Excluded,
		Weekday:       weekday,
		Location:      tracking.LoadLocation(cfg.Timezone),
	}, nil
}

// Service returns the tracking service. Open must have succeeded.
func (a *App) Service() *tracking.Service {
	return a.service
}

// Handler returns the manager's HTTP handler.
func (a *App) Handler() http.Handler {
	checks := map[string]apihttp.HealthCheck{
		"store": func(ctx context.Context) error {
			_, err := a.store.ListSessions(ctx, "", 1)
			return err
		},
	}
	if pinger, ok := a.data.(interface{ Ping(context.Context) error }); ok {
		checks["storage"] = pinger.Ping
	}

	router := apihttp.NewRouter(a.service, apihttp.RouterConfig{
		Logger:         a.logger,
		APIKey:         a.cfg.Auth.APIKey,
		MaxUploadBytes: a.cfg.MaxUploadBytes(),
		HealthChecks:   checks,
		Events:         a.events,
		Done:           a.shutdown.ShutdownCh(),
	})
	return server.ShutdownMiddleware(a.shutdown)(router)
}

// Start opens resources and starts the HTTP server.
func (a *App) Start(ctx context.Context) error {
	if err := a.Open(ctx); err != nil {
		a.Stop(context.Background())
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.running {
		return fmt.Errorf("app is already running")
	}
	a.running = true

	a.httpServer = &http.Server{
		Addr:         a.cfg.HTTP.Addr,
		Handler:      a.Handler(),
		ReadTimeout:  a.cfg.HTTP.ReadTimeout,
		WriteTimeout: a.cfg.HTTP.WriteTimeout,
		IdleTimeout:  a.cfg.HTTP.IdleTimeout,
	}
	a.serveErr = a.shutdown.ServeHTTP("manager", a.httpServer)
	return nil
}

// Wait blocks until a signal, ctx cancellation or a server failure, then
// shuts down.
func (a *App) Wait(ctx context.Context) error {
	return waitAndShutdown(ctx, a.shutdown, a.serveErr)
}

// Stop shuts the app down and releases its resources.
func (a *App) Stop(ctx context.Context) error {
	return a.shutdown.Shutdown(ctx, "stop requested")
}

func waitAndShutdown(ctx context.Context, sm *server.ShutdownManager, serveErr <-chan error) error {
	done := make(chan error, 1)
	go func() { done <- sm.ListenForSignals(ctx) }()

	select {
	case err := <-done:
		return err
	case err, ok := <-serveErr:
		if ok && err != nil {
			sm.Shutdown(context.Background(), err.Error())
			<-done
			return err
		}
		return <-done
	}
}
