// Package main is the entry point for the stela backend.
//
// Its job is configuration and composition only: read env vars, build
// the logger and the notifier, hand everything to internal/server.
package main

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/stela-network/stela-backend/internal/notifier"
	"github.com/stela-network/stela-backend/internal/notifier/fcm"
	"github.com/stela-network/stela-backend/internal/server"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	// .env is a development convenience; in deployment the variables come
	// from the environment directly.
	if err := godotenv.Load(); err != nil {
		logger.Info("no .env file found, using environment variables")
	}

	port := 8080
	if portStr := os.Getenv("PORT"); portStr != "" {
		p, err := strconv.Atoi(portStr)
		if err != nil {
			logger.Error("invalid PORT value", slog.String("value", portStr))
			os.Exit(1)
		}
		port = p
	}

	dbPath := getEnv("DB_PATH", "data/stela.db")
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		logger.Error("failed to create database directory",
			slog.String("dir", filepath.Dir(dbPath)),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}

	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		logger.Error("JWT_SECRET not set — refusing to start without authentication")
		os.Exit(1)
	}

	sweepInterval := 15 * time.Minute
	if intervalStr := os.Getenv("SWEEP_INTERVAL"); intervalStr != "" {
		d, err := time.ParseDuration(intervalStr)
		if err != nil || d <= 0 {
			logger.Error("invalid SWEEP_INTERVAL value", slog.String("value", intervalStr))
			os.Exit(1)
		}
		sweepInterval = d
	}

	// Push delivery needs a Firebase project and service-account key.
	// Without them the engine still runs; notifications go nowhere.
	var n notifier.Notifier = notifier.Discard{}
	fcmProject := os.Getenv("FCM_PROJECT_ID")
	fcmCredentials := os.Getenv("FCM_CREDENTIALS_FILE")
	if fcmProject != "" && fcmCredentials != "" {
		client, err := fcm.New(context.Background(), fcmProject, fcmCredentials)
		if err != nil {
			logger.Error("failed to create FCM client", slog.String("error", err.Error()))
			os.Exit(1)
		}
		n = client
	} else {
		logger.Warn("FCM not configured — notifications will be discarded")
	}

	cfg := server.Config{
		Port:          port,
		DBPath:        dbPath,
		JWTSecret:     jwtSecret,
		SweepInterval: sweepInterval,
	}

	srv, err := server.New(cfg, logger, n)
	if err != nil {
		logger.Error("failed to create server", slog.String("error", err.Error()))
		os.Exit(1)
	}

	if err := srv.Start(); err != nil {
		logger.Error("server error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}
