// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/starford/hibi/internal/api"
	"github.com/starford/hibi/internal/diaryservice"
	"github.com/starford/hibi/internal/git"
	"github.com/starford/hibi/internal/guard"
	"github.com/starford/hibi/internal/index"
	"github.com/starford/hibi/internal/mcpserver"
	"github.com/starford/hibi/internal/sse"
	"github.com/starford/hibi/internal/storage"
	"github.com/starford/hibi/internal/syncer"
)

func newApplication(opts []Option) (*application, error) {
	app := &application{logOutput: os.Stdout}
	for _, opt := range opts {
		opt(app)
	}
	if app.config == nil {
		return nil, fmt.Errorf("config is required")
	}
	return app, nil
}

// newLogger builds the structured JSON logger. With app.log_file.path set,
// records also go to a rotating file.
func newLogger(cfg *Config, console io.Writer) (*slog.Logger, func()) {
	out := console
	closer := func() {}
	if lf := cfg.App.LogFile; lf.Path != "" {
		rotator := &lumberjack.Logger{
			Filename:   lf.Path,
			MaxSize:    lf.MaxSizeMB,
			MaxBackups: lf.MaxBackups,
			MaxAge:     lf.MaxAgeDays,
			Compress:   lf.Compress,
		}
		out = io.MultiWriter(console, rotator)
		closer = func() { _ = rotator.Close() }
	}
	return slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	})), closer
}

// components are the pieces shared by the HTTP and MCP entry points.
type components struct {
	db      *index.DB
	locator syncer.Locator
	seq     *syncer.Sequencer
	guard   *guard.Guard
	entries *storage.FS // nil when the working copy is not resolvable at startup
}

func wire(cfg *Config, logger *slog.Logger) (*components, error) {
	db, err := index.Open(cfg.SQLite.Path)
	if err != nil {
		return nil, fmt.Errorf("init index: %w", err)
	}

	locator := syncer.EnvLocator{Env: cfg.Repository.Env, Default: cfg.Repository.Path}
	runner := git.NewExec(
		git.WithBinary(cfg.Git.Binary),
		git.WithTimeout(cfg.Git.Timeout),
		git.WithLogger(logger),
	)
	seq := syncer.New(locator, runner, syncer.Options{
		Remote:  cfg.Git.Remote,
		PullRef: cfg.Git.PullRef,
		PushRef: cfg.Git.PushRef,
		Subdir:  cfg.Repository.Subdir,
		Ext:     cfg.Repository.Extension,
	}, logger)

	c := &components{db: db, locator: locator, seq: seq, guard: guard.New()}

	// The index follows the entry directory as resolved now; posts resolve
	// the location again each time.
	if root, err := locator.Locate(); err != nil {
		logger.Warn("repository not configured, entry index disabled", slog.String("error", err.Error()))
	} else if store, err := storage.NewFS(filepath.Join(root, filepath.FromSlash(cfg.Repository.Subdir)), cfg.Repository.Extension); err != nil {
		logger.Warn("entry directory unavailable, entry index disabled", slog.String("error", err.Error()))
	} else {
		c.entries = store
		if err := index.Sync(db, store, logger); err != nil {
			logger.Warn("initial sync failed", slog.String("error", err.Error()))
		}
	}
	return c, nil
}

// Run starts the HTTP server with the given options.
func Run(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	cfg := app.config

	logger, closeLog := newLogger(cfg, app.logOutput)
	defer closeLog()
	slog.SetDefault(logger)

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("repository_path", cfg.Repository.Path),
		slog.String("repository_env", cfg.Repository.Env),
		slog.String("site_root", cfg.Site.Root),
		slog.String("sqlite_path", cfg.SQLite.Path),
		slog.String("log_level", cfg.App.LogLevel.String()))

	c, err := wire(cfg, logger)
	if err != nil {
		return err
	}
	defer c.db.Close()

	broker := sse.NewBroker(2 * time.Second)
	defer broker.Close()

	svc := diaryservice.New(c.guard, c.seq, c.db,
		diaryservice.WithPublisher(broker),
		diaryservice.WithLogger(logger))

	site := api.NewSite(svc, api.SiteOptions{
		StaticRoot:  cfg.Site.Root,
		StaticIndex: cfg.Site.Index,
		AuthEnabled: cfg.Auth.AuthEnabled(),
		AuthToken:   cfg.Auth.Token,
		Events:      broker,
	})

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Health check endpoints (unauthenticated).
	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/health/ready", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if _, err := c.locator.Locate(); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"repository not configured"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Mount("/", site)

	httpServer := &http.Server{
		Addr:              cfg.App.HTTP.Address(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("Server starting...", slog.String("http_address", cfg.App.HTTP.Address()))

	g, gCtx := errgroup.WithContext(ctx)

	// Keep the index current when a pull or an editor changes entries.
	if c.entries != nil {
		g.Go(func() error {
			err := index.Watch(gCtx, c.db, c.entries, cfg.Repository.Extension, logger, broker.PublishEntryEvent)
			if err != nil {
				logger.Warn("watcher stopped", slog.String("error", err.Error()))
			}
			return nil
		})
	}

	// Start HTTP server.
	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	// Handle shutdown signals.
	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}

		logger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}

		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

// RunMCP serves the diary tools over MCP on stdin/stdout. Logs go to stderr
// since stdout carries the protocol.
func RunMCP(ctx context.Context, opts ...Option) error {
	app, err := newApplication(append([]Option{WithLogOutput(os.Stderr)}, opts...))
	if err != nil {
		return err
	}
	cfg := app.config

	logger, closeLog := newLogger(cfg, app.logOutput)
	defer closeLog()
	slog.SetDefault(logger)

	c, err := wire(cfg, logger)
	if err != nil {
		return err
	}
	defer c.db.Close()

	svc := diaryservice.New(c.guard, c.seq, c.db, diaryservice.WithLogger(logger))
	srv := mcpserver.New(svc)

	g, gCtx := errgroup.WithContext(ctx)
	watchCtx, stopWatch := context.WithCancel(gCtx)
	defer stopWatch()

	if c.entries != nil {
		g.Go(func() error {
			if err := index.Watch(watchCtx, c.db, c.entries, cfg.Repository.Extension, logger, nil); err != nil {
				logger.Warn("watcher stopped", slog.String("error", err.Error()))
			}
			return nil
		})
	}

	g.Go(func() error {
		defer stopWatch()
		logger.Info("MCP server starting on stdio")
		return srv.ServeStdio()
	})

	return g.Wait()
}
