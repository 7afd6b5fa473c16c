package server

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func (s *Server) registerRoutes() {
	// Observability endpoints (no auth required)
	s.echo.GET("/health/live", s.handleLiveness)
	s.echo.GET("/health/ready", s.handleReadiness)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	// QR login flow (unauthenticated: this is how users obtain tokens)
	s.echo.POST("/api/auth/qr/start", s.handleQrStart)
	s.echo.GET("/api/auth/qr/status", s.handleQrStatus)
	s.echo.POST("/api/auth/qr/cancel", s.handleQrCancel)

	// Voice endpoints (authenticated)
	s.echo.GET("/api/voice/participants", s.handleVoiceParticipants, s.requireAuth)
	s.echo.POST("/api/voice/join", s.handleVoiceJoin, s.requireAuth)
	s.echo.POST("/api/voice/leave", s.handleVoiceLeave, s.requireAuth)
}
