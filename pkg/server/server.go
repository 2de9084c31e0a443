// Package server exposes a workflow over a small JSON HTTP API so an
// external canvas UI can drive it.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/ravi-parthasarathy/mosaik/pkg/engine"
	"github.com/ravi-parthasarathy/mosaik/pkg/store"
	"github.com/ravi-parthasarathy/mosaik/pkg/workflow"
)

// Service serves one workflow held in a workflow.Store.
type Service struct {
	wf      *workflow.Store
	engine  *engine.Engine
	clients engine.Resolver
	repo    store.Repository
	name    string
}

// Options configures a Service. Repo may be nil, in which case /save
// answers 501.
type Options struct {
	Store   *workflow.Store
	Engine  *engine.Engine
	Clients engine.Resolver
	Repo    store.Repository
	// Name is the workflow name used by /save when none is given.
	Name string
}

// New creates a Service.
func New(opts Options) (*Service, error) {
	if opts.Store == nil || opts.Engine == nil {
		return nil, fmt.Errorf("server needs a workflow store and an engine")
	}
	if opts.Name == "" {
		opts.Name = "default"
	}
	return &Service{
		wf:      opts.Store,
		engine:  opts.Engine,
		clients: opts.Clients,
		repo:    opts.Repo,
		name:    opts.Name,
	}, nil
}

// LoadRoutes registers the API on r.
func (s *Service) LoadRoutes(r *mux.Router) {
	r.HandleFunc("/workflow", s.HandleGetWorkflow).Methods(http.MethodGet)
	r.HandleFunc("/order", s.HandleGetOrder).Methods(http.MethodGet)
	r.HandleFunc("/lint", s.HandleLint).Methods(http.MethodGet)
	r.HandleFunc("/nodes", s.HandleAddNode).Methods(http.MethodPost)
	r.HandleFunc("/nodes/{id:[0-9]+}", s.HandleDeleteNode).Methods(http.MethodDelete)
	r.HandleFunc("/nodes/{id:[0-9]+}/position", s.HandleMoveNode).Methods(http.MethodPut)
	r.HandleFunc("/nodes/{id:[0-9]+}/output", s.HandleSetOutput).Methods(http.MethodPut)
	r.HandleFunc("/nodes/{id:[0-9]+}/model", s.HandleSetModel).Methods(http.MethodPut)
	r.HandleFunc("/nodes/{id:[0-9]+}/reset", s.HandleResetNode).Methods(http.MethodPost)
	r.HandleFunc("/nodes/{id:[0-9]+}/input", s.HandleDetachInput).Methods(http.MethodDelete)
	r.HandleFunc("/nodes/{id:[0-9]+}/messages", s.HandleSendMessage).Methods(http.MethodPost)
	r.HandleFunc("/nodes/{id:[0-9]+}/import", s.HandleImport).Methods(http.MethodPost)
	r.HandleFunc("/nodes/{id:[0-9]+}/export", s.HandleExport).Methods(http.MethodPost)
	r.HandleFunc("/nodes/{id:[0-9]+}/target", s.HandleSetExportTarget).Methods(http.MethodPut)
	r.HandleFunc("/connections", s.HandleAddConnection).Methods(http.MethodPost)
	r.HandleFunc("/run", s.HandleRun).Methods(http.MethodPost)
	r.HandleFunc("/save", s.HandleSave).Methods(http.MethodPost)
	r.HandleFunc("/load", s.HandleLoad).Methods(http.MethodPost)
	r.HandleFunc("/models/{provider}", s.HandleListModels).Methods(http.MethodGet)
}

// Handler returns the routed API wrapped in request logging and panic
// recovery.
func (s *Service) Handler() http.Handler {
	r := mux.NewRouter()
	s.LoadRoutes(r)
	recovery := handlers.RecoveryHandler(
		handlers.RecoveryLogger(slog.NewLogLogger(slog.Default().Handler(), slog.LevelError)),
	)
	return handlers.CustomLoggingHandler(io.Discard, recovery(r), logRequest)
}

func logRequest(_ io.Writer, p handlers.LogFormatterParams) {
	slog.Debug("http request",
		"method", p.Request.Method,
		"path", p.URL.Path,
		"status", p.StatusCode,
		"size", p.Size,
		"duration", time.Since(p.TimeStamp),
	)
}

// ListenAndServe serves the API on addr until ctx is cancelled.
func (s *Service) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		slog.Info("listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
