// Package server wires the repository, the WFS responder and the ingest
// pipeline into one HTTP surface: the /wfs endpoint, the admin API and the
// operational endpoints.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mvonw/WFSFeatureServer/internal/config"
	"github.com/mvonw/WFSFeatureServer/internal/health"
	"github.com/mvonw/WFSFeatureServer/internal/ingest"
	imw "github.com/mvonw/WFSFeatureServer/internal/middleware"
	"github.com/mvonw/WFSFeatureServer/internal/store"
	"github.com/mvonw/WFSFeatureServer/internal/wfs"
)

type Server struct {
	cfg  config.Config
	log  *slog.Logger
	repo *store.Repo
	wfs  *wfs.Service
	imp  *ingest.Importer
}

func New(cfg config.Config, log *slog.Logger, repo *store.Repo) *Server {
	info := wfs.ServiceInfo{
		Title:    cfg.ServiceTitle,
		Abstract: cfg.ServiceAbstract,
		URL:      cfg.ServiceURL,
	}
	return &Server{
		cfg:  cfg,
		log:  log,
		repo: repo,
		wfs:  wfs.NewService(repo, info, cfg.MaxFeaturesPerRequest),
		imp:  ingest.New(repo, log),
	}
}

// Routes builds the chi router with the middleware chain.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(imw.Recover(s.log))
	r.Use(imw.Logging(s.log))
	r.Use(imw.CORS())
	r.Use(imw.BasicAuth("/api/admin", s.cfg.AdminUser, s.cfg.AdminPass))

	r.Get("/healthz", health.Liveness())
	if s.cfg.MetricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	r.Get("/wfs", s.handleWFS)
	r.Post("/wfs", s.handleWFS)

	r.Route("/api/admin", func(r chi.Router) {
		r.Get("/layers", s.handleListLayers)
		r.Post("/layers", s.handleCreateLayer)
		r.Get("/layers/{layerID}", s.handleGetLayer)
		r.Patch("/layers/{layerID}", s.handlePatchLayer)
		r.Delete("/layers/{layerID}", s.handleDeleteLayer)
		r.Get("/layers/{layerID}/features/preview", s.handleFeaturePreview)
		r.Post("/layers/{layerID}/import", s.handleImport)

		r.Get("/layers/{layerID}/symbology", s.handleListRules)
		r.Post("/layers/{layerID}/symbology", s.handleCreateRule)
		r.Put("/layers/{layerID}/symbology", s.handleReplaceRules)
		r.Put("/layers/{layerID}/symbology/{ruleID}", s.handleUpdateRule)
		r.Delete("/layers/{layerID}/symbology/{ruleID}", s.handleDeleteRule)
		r.Post("/layers/{layerID}/symbology/reorder", s.handleReorderRules)
	})

	return r
}

// Run opens the store, migrates it and serves until ctx is cancelled.
func Run(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	db, err := store.Open(cfg.DBPath)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := db.Migrate(ctx); err != nil {
		return err
	}
	if err := os.MkdirAll(cfg.UploadsDir, 0o755); err != nil {
		return err
	}

	s := New(cfg, log, store.New(db))

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      120 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("http listen", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		return err
	}
}

// ── Response helpers ──

func respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// errorJSON mirrors the {"detail": ...} error body of the admin API.
func errorJSON(w http.ResponseWriter, status int, detail string) {
	respondJSON(w, status, map[string]string{"detail": detail})
}
