package server

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pscheid92/voicebridge/internal/config"
	"github.com/pscheid92/voicebridge/internal/domain"
	apperrors "github.com/pscheid92/voicebridge/internal/errors"
	"github.com/pscheid92/voicebridge/internal/gateway"
	"github.com/pscheid92/voicebridge/internal/remoteauth"
)

// healthChecker is the subset of the database used by the readiness probe.
type healthChecker interface {
	HealthCheck(ctx context.Context) error
}

type Server struct {
	echo        *echo.Echo
	config      *config.Config
	credentials domain.CredentialStore
	gateways    *gateway.Registry
	qrSessions  *remoteauth.Registry
	verifier    domain.TokenVerifier
	db          healthChecker
}

func NewServer(cfg *config.Config, credentials domain.CredentialStore, gateways *gateway.Registry, qrSessions *remoteauth.Registry, verifier domain.TokenVerifier, db healthChecker) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Middleware
	e.Use(middleware.Recover())
	e.Use(apperrors.Middleware())

	srv := &Server{
		echo:        e,
		config:      cfg,
		credentials: credentials,
		gateways:    gateways,
		qrSessions:  qrSessions,
		verifier:    verifier,
		db:          db,
	}

	srv.registerRoutes()

	return srv
}

func (s *Server) Start() error {
	slog.Info("Starting server", "port", s.config.Port)
	return s.echo.Start(fmt.Sprintf(":%s", s.config.Port))
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}
