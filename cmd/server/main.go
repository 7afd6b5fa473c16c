package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pscheid92/voicebridge/internal/auth"
	"github.com/pscheid92/voicebridge/internal/config"
	"github.com/pscheid92/voicebridge/internal/database"
	"github.com/pscheid92/voicebridge/internal/gateway"
	"github.com/pscheid92/voicebridge/internal/logging"
	"github.com/pscheid92/voicebridge/internal/remoteauth"
	"github.com/pscheid92/voicebridge/internal/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	logging.InitLogger(cfg.LogLevel, cfg.LogFormat)

	db, err := database.Connect(cfg.DatabaseURL, cfg.TokenEncryptionKey)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := db.RunMigrations(); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		os.Exit(1)
	}

	credentials := database.NewCredentialRepo(db)
	tokens := auth.NewTokenService(cfg.AuthSecret)
	login := auth.NewDiscordLoginService(credentials, tokens, cfg.ClientUserAgent)

	gateways := gateway.NewRegistry(gateway.Options{
		URL:         cfg.GatewayURL,
		Origin:      cfg.ClientOrigin,
		UserAgent:   cfg.ClientUserAgent,
		RejoinDelay: cfg.RejoinDelay,
	})

	qrSessions := remoteauth.NewRegistry(remoteauth.Options{
		URL:       cfg.RemoteAuthURL,
		LoginURL:  cfg.RemoteAuthLoginURL,
		Origin:    cfg.ClientOrigin,
		UserAgent: cfg.ClientUserAgent,
		Login:     login,
	})

	srv := server.NewServer(cfg, credentials, gateways, qrSessions, tokens, db)

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("Shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("Server shutdown failed", "error", err)
	}
}
