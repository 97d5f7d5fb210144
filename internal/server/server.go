// Package server wires the engine together: store, services, handlers,
// routes, the sweeper schedule, and graceful shutdown.
//
// All dependency injection happens here (the composition root). Each
// layer receives only what it needs: services get the repository
// interface, handlers get service interfaces, and nothing below the
// handler layer knows about HTTP.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/robfig/cron/v3"

	"github.com/stela-network/stela-backend/internal/auth"
	"github.com/stela-network/stela-backend/internal/handler"
	"github.com/stela-network/stela-backend/internal/middleware"
	"github.com/stela-network/stela-backend/internal/notifier"
	sqliteRepo "github.com/stela-network/stela-backend/internal/repository/sqlite"
	"github.com/stela-network/stela-backend/internal/service"
	"github.com/stela-network/stela-backend/internal/sweeper"
)

// Config holds server configuration, loaded from the environment in
// cmd/server.
type Config struct {
	Port          int
	DBPath        string
	JWTSecret     string
	SweepInterval time.Duration
}

// Server owns the HTTP router, the database, and the sweeper schedule.
// All three are released on shutdown.
type Server struct {
	router    *chi.Mux
	config    Config
	logger    *slog.Logger
	db        *sqliteRepo.DB
	notifier  notifier.Notifier
	referrals *service.ReferralService
	cron      *cron.Cron
}

// New creates a Server and assembles the full dependency chain.
// The notifier is injected — cmd/server passes the FCM client, or
// notifier.Discard when push credentials aren't configured.
func New(cfg Config, logger *slog.Logger, n notifier.Notifier) (*Server, error) {
	db, err := sqliteRepo.New(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &Server{
		router:   chi.NewRouter(),
		config:   cfg,
		logger:   logger,
		db:       db,
		notifier: n,
	}

	if err := s.setupRoutes(); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting up routes: %w", err)
	}

	return s, nil
}

// setupRoutes configures middleware, services, and route handlers.
//
// ROUTES:
//
//	POST /api/referral/validate → validate a referral code (optional auth)
//	POST /api/referral/attach   → one-shot attach-and-bonus
//	POST /api/referral/rate     → referrer active-referral adjustment
//	POST /api/session/start     → begin a mining session
//	POST /api/session/stop      → end a mining session
//	POST /api/activity/ping     → record client app activity
//	POST /api/team/ping         → nudge inactive team members
//	POST /api/users             → register the caller's record
//	GET  /api/me                → the caller's record
func (s *Server) setupRoutes() error {
	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(chimiddleware.Recoverer)
	s.router.Use(middleware.Logger(s.logger))

	tokens, err := auth.NewTokenService(s.config.JWTSecret)
	if err != nil {
		return fmt.Errorf("creating token service: %w", err)
	}

	referralSvc := service.NewReferralService(s.db, s.logger)
	s.referrals = referralSvc
	sessionSvc := service.NewSessionService(s.db, referralSvc, s.notifier, s.logger)
	teamSvc := service.NewTeamService(s.db, s.notifier, s.logger)
	userSvc := service.NewUserService(s.db, s.logger)

	referralHandler := handler.NewReferralHandler(referralSvc, s.logger)
	sessionHandler := handler.NewSessionHandler(sessionSvc, s.logger)
	teamHandler := handler.NewTeamHandler(teamSvc, s.logger)
	userHandler := handler.NewUserHandler(userSvc, s.logger)

	s.router.Route("/api", func(r chi.Router) {
		// Code validation is reachable before sign-in completes; the
		// self-referral check simply doesn't run without an identity.
		r.With(auth.OptionalAuth(tokens)).
			Post("/referral/validate", referralHandler.HandleValidate)

		r.Group(func(r chi.Router) {
			r.Use(auth.RequireAuth(tokens))
			r.Post("/referral/attach", referralHandler.HandleAttach)
			r.Post("/referral/rate", referralHandler.HandleRate)
			r.Post("/session/start", sessionHandler.HandleStart)
			r.Post("/session/stop", sessionHandler.HandleStop)
			r.Post("/activity/ping", sessionHandler.HandleActivity)
			r.Post("/team/ping", teamHandler.HandlePing)
			r.Post("/users", userHandler.HandleRegister)
			r.Get("/me", userHandler.HandleMe)
		})
	})

	return nil
}

// Start runs the HTTP server and the sweeper schedule until SIGINT or
// SIGTERM, then shuts down in order: stop accepting connections, drain
// in-flight requests (30s), stop the cron, close the database.
func (s *Server) Start() error {
	defer s.db.Close()

	sw := sweeper.New(s.db, s.referrals, s.notifier, s.logger)
	c, err := sw.Schedule(s.config.SweepInterval)
	if err != nil {
		return fmt.Errorf("scheduling sweeper: %w", err)
	}
	s.cron = c

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	serverErrors := make(chan error, 1)

	go func() {
		s.logger.Info("server starting",
			slog.Int("port", s.config.Port),
			slog.String("database", s.config.DBPath),
			slog.Duration("sweepInterval", s.config.SweepInterval),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if err != http.ErrServerClosed {
			s.cron.Stop()
			return fmt.Errorf("server error: %w", err)
		}

	case sig := <-quit:
		s.logger.Info("shutdown signal received", slog.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			s.cron.Stop()
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}

		// Wait for a sweep already in flight to finish.
		<-s.cron.Stop().Done()
		s.logger.Info("server stopped gracefully")
	}

	return nil
}
