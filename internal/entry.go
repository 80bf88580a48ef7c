// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/starford/tether/internal/api"
	"github.com/starford/tether/internal/apperr"
	"github.com/starford/tether/internal/canvas"
	"github.com/starford/tether/internal/canvassync"
	"github.com/starford/tether/internal/frontmatter"
	"github.com/starford/tether/internal/index"
	"github.com/starford/tether/internal/linker"
	"github.com/starford/tether/internal/mcpserver"
	"github.com/starford/tether/internal/sse"
	"github.com/starford/tether/internal/storage"
	"github.com/starford/tether/internal/vault"
	"github.com/starford/tether/internal/workspace"
)

// services is the wired object graph shared by every command.
type services struct {
	logger    *slog.Logger
	store     storage.Provider
	db        *index.DB
	vault     *vault.Vault
	engine    *canvassync.Engine
	workspace *workspace.Workspace
	linker    *linker.Linker
}

// close releases the engine, the open canvases and the index.
func (s *services) close() {
	s.workspace.CloseAll()
	s.engine.Close()
	if err := s.db.Close(); err != nil {
		s.logger.Warn("index close failed", slog.String("error", err.Error()))
	}
}

func newApplication(opts []Option) (*application, error) {
	app := &application{version: "dev", logOut: os.Stdout}
	for _, opt := range opts {
		opt(app)
	}
	if app.config == nil {
		return nil, fmt.Errorf("config is required")
	}
	return app, nil
}

// start opens the vault and the index, runs the initial sync and wires the
// sync engine. broker may be nil; when set it receives change events.
func (a *application) start(broker *sse.Broker) (*services, error) {
	cfg := a.config

	// Initialize structured JSON logger.
	logger := slog.New(slog.NewJSONHandler(a.logOut, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
	slog.SetDefault(logger)

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("vault_path", cfg.Vault.Path),
		slog.String("sqlite_path", cfg.SQLite.Path),
		slog.String("log_level", cfg.App.LogLevel.String()),
		slog.Duration("debounce", cfg.Sync.Debounce))

	if err := os.MkdirAll(cfg.Vault.Path, 0o755); err != nil {
		return nil, fmt.Errorf("create vault dir: %w", err)
	}
	store, err := storage.NewFS(cfg.Vault.Path)
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}
	db, err := index.Open(cfg.SQLite.Path)
	if err != nil {
		return nil, fmt.Errorf("init index: %w", err)
	}
	if err := index.Sync(db, store, logger); err != nil {
		logger.Warn("initial sync failed", slog.String("error", err.Error()))
	}

	var vaultOpts []vault.Option
	var propOpts []frontmatter.Option
	var wsOpts []workspace.Option
	if broker != nil {
		vaultOpts = append(vaultOpts, vault.WithChangeHook(broker.PublishNoteEvent))
		propOpts = append(propOpts, frontmatter.WithChangeHook(broker.PublishPropertiesEvent))
		wsOpts = append(wsOpts, workspace.WithSaveHook(broker.PublishCanvasEvent))
	}

	s := &services{logger: logger, store: store, db: db}
	s.vault = vault.New(store, db, vaultOpts...)
	props := frontmatter.New(s.vault, logger, propOpts...)
	persist := func(c *canvas.Canvas) error { return s.workspace.Save(c) }
	s.engine = canvassync.New(s.vault, props, logger,
		canvassync.WithDebounce(cfg.Sync.Debounce),
		canvassync.WithPersist(persist))
	s.workspace = workspace.New(s.vault, s.engine, logger, wsOpts...)
	s.linker = linker.New(s.vault, persist, logger)
	return s, nil
}

// watchHandlers routes watcher events to the workspace and the broker.
func (s *services) watchHandlers(broker *sse.Broker) index.Handlers {
	return index.Handlers{
		OnChange: func(kind, path string) {
			broker.PublishNoteEvent(kind, path)
			if kind != vault.Deleted && canvas.IsCanvasPath(path) {
				s.workspace.HandleChanged(path)
			}
		},
		OnCanvasRenamed: s.workspace.HandleRenamed,
		OnCanvasDeleted: s.workspace.HandleDeleted,
	}
}

// sweep strips every canvas property from the vault within timeout.
func (s *services) sweep(timeout time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	n, err := s.engine.Sweep(ctx)
	if err != nil {
		s.logger.Warn("shutdown sweep incomplete", slog.Int("documents", n), slog.String("error", err.Error()))
		return
	}
	s.logger.Info("shutdown sweep done", slog.Int("documents", n))
}

// Run starts the HTTP service with the given options.
func Run(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	cfg := app.config

	// SSE broker.
	broker := sse.NewBroker(2 * time.Second)
	defer broker.Close()

	s, err := app.start(broker)
	if err != nil {
		return err
	}
	defer s.close()
	logger := s.logger

	apiRouter := api.NewRouter(api.Deps{
		Vault:     s.vault,
		Workspace: s.workspace,
		Linker:    s.linker,
		Engine:    s.engine,
	}, cfg.Auth.AuthEnabled(), cfg.Auth.Token, broker)

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
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Handle("/metrics", promhttp.Handler())

	// Mount API routes under /api; SSE is served at /api/events.
	r.Mount("/api", apiRouter)

	httpServer := &http.Server{
		Addr:              cfg.App.HTTP.Address(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gCtx := errgroup.WithContext(ctx)

	if cfg.Sync.Watch {
		g.Go(func() error {
			if err := index.Watch(gCtx, s.db, s.store, cfg.Vault.Path, logger, s.watchHandlers(broker)); err != nil {
				return fmt.Errorf("watcher: %w", err)
			}
			return nil
		})
	}

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
		return context.Canceled
	})

	err = g.Wait()
	if cfg.Sync.SweepOnShutdown {
		s.sweep(cfg.Sync.SweepTimeout)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

// RunMCP serves the MCP tools on stdin/stdout until the client disconnects.
func RunMCP(_ context.Context, opts ...Option) error {
	app, err := newApplication(append([]Option{WithLogOutput(os.Stderr)}, opts...))
	if err != nil {
		return err
	}
	s, err := app.start(nil)
	if err != nil {
		return err
	}
	defer s.close()

	srv := mcpserver.New(mcpserver.Deps{
		Vault:     s.vault,
		Workspace: s.workspace,
		Linker:    s.linker,
		Engine:    s.engine,
	}, app.version)
	s.logger.Info("MCP server starting on stdio")
	return srv.ServeStdio()
}

// Link connects the given nodes of a canvas (every node when ids is empty)
// wherever their documents link to each other, and saves the canvas.
func Link(ctx context.Context, canvasPath string, ids []string, opts ...Option) (linker.Result, error) {
	app, err := newApplication(append([]Option{WithLogOutput(os.Stderr)}, opts...))
	if err != nil {
		return linker.Result{}, err
	}
	s, err := app.start(nil)
	if err != nil {
		return linker.Result{}, err
	}
	defer s.close()

	c, err := s.workspace.Open(canvasPath)
	if err != nil {
		return linker.Result{}, err
	}
	if len(ids) == 0 {
		for _, n := range c.Snapshot().Nodes {
			ids = append(ids, n.ID)
		}
	}
	c.Select(ids...)
	return s.linker.LinkSelection(ctx, c)
}

// Strip removes the property of one canvas from its documents and returns
// the number of documents changed.
func Strip(ctx context.Context, canvasPath string, opts ...Option) (int, error) {
	app, err := newApplication(append([]Option{WithLogOutput(os.Stderr)}, opts...))
	if err != nil {
		return 0, err
	}
	s, err := app.start(nil)
	if err != nil {
		return 0, err
	}
	defer s.close()

	var members []string
	if d, err := s.vault.ReadCanvas(canvasPath); err == nil {
		members = d.Documents()
	} else if !errors.Is(err, apperr.ErrNotFound) {
		return 0, err
	}
	return s.engine.Strip(ctx, canvasPath, members)
}

// Sweep strips the properties of every canvas in the vault.
func Sweep(ctx context.Context, opts ...Option) (int, error) {
	app, err := newApplication(append([]Option{WithLogOutput(os.Stderr)}, opts...))
	if err != nil {
		return 0, err
	}
	s, err := app.start(nil)
	if err != nil {
		return 0, err
	}
	defer s.close()
	return s.engine.Sweep(ctx)
}
