// Package server wires the sequencing engine behind an HTTP API: catalog
// snapshot, profile store, session controller, handlers and middleware.
package server

import (
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/neurotunes/sequencer/catalog"
	"github.com/neurotunes/sequencer/config"
	"github.com/neurotunes/sequencer/errors"
	"github.com/neurotunes/sequencer/handlers"
	"github.com/neurotunes/sequencer/middleware"
	"github.com/neurotunes/sequencer/profile"
	"github.com/neurotunes/sequencer/session"
	"github.com/neurotunes/sequencer/storage"
	"github.com/neurotunes/sequencer/transition"
)

type Server struct {
	config     *config.Config
	logger     *logrus.Logger
	catalog    *catalog.Catalog
	store      *storage.Store
	profile    *profile.Profile
	controller *session.Controller
	handlers   *handlers.Handler
	server     *http.Server
}

func New(cfg *config.Config) (*Server, error) {
	logger := logrus.New()
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
		logger.WithError(err).Warn("Invalid log level, defaulting to info")
	}
	logger.SetLevel(level)

	cat, err := catalog.Load(cfg.CatalogPath, logger)
	if err != nil {
		return nil, errors.Wrap(err, errors.CategoryServer, "INITIALIZATION_FAILED", "failed to load catalog").
			WithContext("catalog_path", cfg.CatalogPath)
	}

	store, err := storage.New(cfg.DatabasePath, logger)
	if err != nil {
		return nil, errors.Wrap(err, errors.CategoryServer, "INITIALIZATION_FAILED", "failed to initialize profile store").
			WithContext("database_path", cfg.DatabasePath)
	}

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	prof := profile.New(store, rng, logger)

	calc := transition.New(cfg.CrossfadeMs, cfg.PreloadLeadMs)
	controller := session.New(cat, calc, logger)

	s := &Server{
		config:     cfg,
		logger:     logger,
		catalog:    cat,
		store:      store,
		profile:    prof,
		controller: controller,
		handlers:   handlers.New(logger, controller, cat, prof),
	}

	return s, nil
}

// Router builds the API router with middleware applied.
func (s *Server) Router() *mux.Router {
	router := mux.NewRouter()

	router.Use(middleware.NewSecurityHeaders(s.config, s.logger).Handler)
	router.Use(middleware.NewRateLimit(s.config, s.logger).Handler)

	api := router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/health", s.handlers.HandleHealth).Methods(http.MethodGet)
	api.HandleFunc("/sessions", s.handlers.HandleCreateSession).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{id}", s.handlers.HandleGetSession).Methods(http.MethodGet)
	api.HandleFunc("/sessions/{id}", s.handlers.HandleEndSession).Methods(http.MethodDelete)
	api.HandleFunc("/sessions/{id}/advance", s.handlers.HandleAdvance).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{id}/block", s.handlers.HandleBlock).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{id}/favorite", s.handlers.HandleFavorite).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{id}/queue", s.handlers.HandleQueue).Methods(http.MethodPost)
	api.HandleFunc("/events", s.handlers.HandleEvent).Methods(http.MethodPost)
	api.HandleFunc("/feedback/genre-mismatch", s.handlers.HandleGenreMismatch).Methods(http.MethodPost)
	api.HandleFunc("/recommendations", s.handlers.HandleRecommendations).Methods(http.MethodGet)

	return router
}

func (s *Server) Start() error {
	if s.server != nil {
		return errors.ErrServerStart.WithContext("reason", "server already started")
	}

	s.server = &http.Server{
		Addr:    ":" + s.config.Port,
		Handler: s.Router(),
	}

	s.logger.WithFields(logrus.Fields{
		"port":   s.config.Port,
		"tracks": s.catalog.Size(),
		"url":    fmt.Sprintf("http://localhost:%s", s.config.Port),
	}).Info("Starting sequencer server")

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.WithError(err).Fatal("Server failed to start")
		}
	}()

	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down sequencer server...")

	if s.server != nil {
		if err := s.server.Shutdown(ctx); err != nil {
			s.logger.WithError(err).Error("Failed to shutdown HTTP server")
			return errors.Wrap(err, errors.CategoryServer, "SHUTDOWN_FAILED", "failed to shutdown HTTP server")
		}
	}

	// Close last so pending profile flushes drain.
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			s.logger.WithError(err).Error("Failed to close profile store")
		}
	}

	s.logger.Info("Sequencer server shut down successfully")
	return nil
}

// GetHandlers exposes the handler set, mainly for tests.
func (s *Server) GetHandlers() *handlers.Handler {
	return s.handlers
}
