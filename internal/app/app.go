// Package app wires configuration, storage, the dataset cache and the HTTP
// API into the long-running dashboard data server.
package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"sync"

	"github.com/rs/zerolog"

	httpapi "github.com/crimestats/crimestats/internal/api/http"
	"github.com/crimestats/crimestats/internal/cache"
	"github.com/crimestats/crimestats/internal/config"
	"github.com/crimestats/crimestats/internal/merge"
	"github.com/crimestats/crimestats/internal/server"
	"github.com/crimestats/crimestats/internal/source"
	"github.com/crimestats/crimestats/internal/storage"
	"github.com/crimestats/crimestats/pkg/types"
)

// App manages the server lifecycle.
type App struct {
	cfg    *config.Config
	logger zerolog.Logger

	resolver *storage.Resolver
	cache    *cache.DatasetCache
	shutdown *server.ShutdownManager

	httpServer *server.GracefulHTTPServer
	handler    http.Handler

	mu      sync.Mutex
	running bool
	wg      sync.WaitGroup
	serveErr error
}

// New validates cfg and creates an App.
func New(cfg *config.Config, logger zerolog.Logger) (*App, error) {
	cfg.Resolve()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := os.MkdirAll(cfg.WorkDir(), 0755); err != nil {
		return nil, fmt.Errorf("failed to create work directory: %w", err)
	}

	return &App{
		cfg:    cfg,
		logger: logger,
	}, nil
}

// Handler returns the HTTP handler once Start has run.
func (a *App) Handler() http.Handler {
	return a.handler
}

// Cache returns the dataset cache once Start has run.
func (a *App) Cache() *cache.DatasetCache {
	return a.cache
}

// Start builds shared resources and starts the HTTP server in the background.
func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return fmt.Errorf("app is already running")
	}
	a.running = true
	a.mu.Unlock()

	if err := a.initSharedResources(ctx); err != nil {
		return fmt.Errorf("failed to initialize shared resources: %w", err)
	}

	a.httpServer = server.NewGracefulHTTPServer(&http.Server{
		Addr:         a.cfg.HTTP.Addr,
		Handler:      a.handler,
		ReadTimeout:  a.cfg.HTTP.ReadTimeout,
		WriteTimeout: a.cfg.HTTP.WriteTimeout,
		IdleTimeout:  a.cfg.HTTP.IdleTimeout,
	}, a.shutdown)

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.logger.Info().Str("addr", a.cfg.HTTP.Addr).Str("data", a.cfg.HTTP.DataPath).Msg("HTTP server listening")
		if err := a.httpServer.ListenAndServe(); err != nil {
			a.logger.Error().Err(err).Msg("HTTP server error")
			a.mu.Lock()
			a.serveErr = err
			a.mu.Unlock()
			a.shutdown.Shutdown(context.Background(), "server error")
		}
	}()

	return nil
}

// initSharedResources creates the storage resolver, cache, shutdown manager
// and HTTP handler.
func (a *App) initSharedResources(ctx context.Context) error {
	a.resolver = storage.NewResolver(a.cfg.Storage.Type, a.cfg.Storage.Path, storage.S3Config{
		Region:       a.cfg.Storage.S3.Region,
		Endpoint:     a.cfg.Storage.S3.Endpoint,
		UsePathStyle: a.cfg.Storage.S3.UsePathStyle,
	})

	src, err := a.dataSource(ctx)
	if err != nil {
		return err
	}

	a.cache, err = cache.New(a.cfg.Cache.MaxEntries)
	if err != nil {
		return err
	}
	a.logger.Info().Int("max_entries", a.cfg.Cache.MaxEntries).Msg("dataset cache initialized")

	a.shutdown = server.NewShutdownManager(server.ShutdownConfig{
		ShutdownTimeout: server.DefaultShutdownConfig().ShutdownTimeout,
		DrainTimeout:    server.DefaultShutdownConfig().DrainTimeout,
		Logger:          a.logger,
	})
	a.shutdown.RegisterCloser(server.CloserFunc(func() error {
		m := a.cache.Metrics()
		a.logger.Info().
			Int64("hits", m.Hits).
			Int64("misses", m.Misses).
			Int64("evictions", m.Evictions).
			Msg("releasing dataset cache")
		a.cache.Purge()
		return nil
	}))

	df := types.NewDateFormat(a.cfg.DateLayout)
	mergeOpts := merge.DefaultOptions()
	mergeOpts.Policy = a.cfg.Merge.SourcePolicy
	mergeOpts.DateFormat = df
	mergeOpts.Verify = a.cfg.Merge.Verify
	mergeOpts.Logger = a.logger

	a.handler = httpapi.NewRouter(httpapi.RouterConfig{
		Dashboard: httpapi.NewDashboardHandler(a.cache, src, df, a.logger),
		Merge:     httpapi.NewMergeHandler(mergeOpts, httpapi.DefaultMaxUploadBytes),
		Logger:    a.logger,
		Outer:     []func(http.Handler) http.Handler{server.ShutdownMiddleware(a.shutdown)},
	})
	return nil
}

// dataSource resolves the served dataset path. Remote datasets are
// downloaded into the work directory on each reload.
func (a *App) dataSource(ctx context.Context) (source.Source, error) {
	path := a.cfg.HTTP.DataPath
	if !storage.IsRemote(path) {
		return source.NewFileSource(path), nil
	}
	store, key, err := a.resolver.Resolve(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", path, err)
	}
	return source.NewObjectSource(path, store, key, a.cfg.WorkDir()), nil
}

// Stop gracefully stops the server and releases resources.
func (a *App) Stop(ctx context.Context) error {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return nil
	}
	a.running = false
	a.mu.Unlock()

	err := a.shutdown.Shutdown(ctx, "stop requested")
	a.wg.Wait()
	return err
}

// WaitForShutdown blocks until a shutdown signal is received or the server
// fails, then waits for the server goroutine to exit.
func (a *App) WaitForShutdown(ctx context.Context) error {
	err := a.shutdown.ListenForSignals(ctx)
	a.wg.Wait()

	a.mu.Lock()
	defer a.mu.Unlock()
	a.running = false
	if a.serveErr != nil {
		return a.serveErr
	}
	return err
}
