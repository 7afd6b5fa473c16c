package server

import (
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	apperrors "github.com/pscheid92/voicebridge/internal/errors"
)

type qrCancelRequest struct {
	SessionID string `json:"session_id"`
}

func (s *Server) handleQrStart(c echo.Context) error {
	id := s.qrSessions.Start()
	if err := c.JSON(http.StatusOK, map[string]string{"session_id": id.String()}); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

func (s *Server) handleQrStatus(c echo.Context) error {
	// A malformed id cannot name a session, so it is indistinguishable
	// from an unknown one.
	id, err := uuid.Parse(c.QueryParam("session_id"))
	if err != nil {
		return apperrors.NotFoundError("session not found")
	}

	status, ok := s.qrSessions.Status(id)
	if !ok {
		return apperrors.NotFoundError("session not found").WithField("session_id", id.String())
	}

	if err := c.JSON(http.StatusOK, status); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

func (s *Server) handleQrCancel(c echo.Context) error {
	var req qrCancelRequest
	if err := c.Bind(&req); err != nil {
		return apperrors.ValidationError("invalid request body")
	}

	id, err := uuid.Parse(req.SessionID)
	if err != nil {
		return apperrors.NotFoundError("session not found")
	}

	if !s.qrSessions.Cancel(id) {
		return apperrors.NotFoundError("session not found").WithField("session_id", id.String())
	}

	if err := c.JSON(http.StatusOK, map[string]bool{"ok": true}); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}
