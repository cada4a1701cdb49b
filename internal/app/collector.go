package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/epimonitor/manager/internal/collector"
	"github.com/epimonitor/manager/internal/config"
	"github.com/epimonitor/manager/internal/server"
	"github.com/epimonitor/manager/pkg/client"
)

// Collector manages the collector service lifecycle.
type Collector struct {
	cfg      *config.Config
	logger   *slog.Logger
	spool    *collector.Spool
	shutdown *server.ShutdownManager
	serveErr <-chan error
}

// NewCollector validates cfg and opens the spool.
func NewCollector(cfg *config.Config, logger *slog.Logger) (*Collector, error) {
	cfg.Resolve()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	spool, err := collector.NewSpool(cfg.Collector.SpoolDir, cfg.Collector.DateField)
	if err != nil {
		return nil, err
	}

	return &Collector{
		cfg:    cfg,
		logger: logger,
		spool:  spool,
		shutdown: server.NewShutdownManager(server.ShutdownConfig{
			ShutdownTimeout: cfg.HTTP.ShutdownTimeout,
			Logger:          logger,
		}),
	}, nil
}

// Handler returns the collector's HTTP handler.
func (c *Collector) Handler() http.Handler {
	router := collector.NewRouter(c.spool, c.cfg.Collector.Labs, collector.RouterConfig{
		Logger: c.logger,
		APIKey: c.cfg.Auth.APIKey,
	})
	return server.ShutdownMiddleware(c.shutdown)(router)
}

// Start starts the intake HTTP server.
func (c *Collector) Start(ctx context.Context) error {
	if c.serveErr != nil {
		return fmt.Errorf("collector is already running")
	}
	c.serveErr = c.shutdown.ServeHTTP("collector", &http.Server{
		Addr:         c.cfg.Collector.Addr,
		Handler:      c.Handler(),
		ReadTimeout:  c.cfg.HTTP.ReadTimeout,
		WriteTimeout: c.cfg.HTTP.WriteTimeout,
		IdleTimeout:  c.cfg.HTTP.IdleTimeout,
	})
	return nil
}

// Wait blocks until a signal, ctx cancellation or a server failure, then
// shuts down.
func (c *Collector) Wait(ctx context.Context) error {
	return waitAndShutdown(ctx, c.shutdown, c.serveErr)
}

// Relay uploads every pending spool file to the manager.
func (c *Collector) Relay(ctx context.Context) ([]collector.RelayResult, error) {
	opts := []client.Option{
		client.WithLocalHandler(c.logger.Handler()),
		client.WithFallback(os.Stderr),
	}
	if c.cfg.Auth.APIKey != "" {
		opts = append(opts, client.WithAPIKey(c.cfg.Auth.APIKey))
	}

	relay := collector.NewRelay(c.spool, c.cfg.Collector.Labs, c.cfg.Collector.ManagerURL, c.logger, opts...)
	return relay.Run(ctx)
}
