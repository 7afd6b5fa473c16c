package server

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/pscheid92/voicebridge/internal/domain"
	apperrors "github.com/pscheid92/voicebridge/internal/errors"
	"github.com/pscheid92/voicebridge/internal/gateway"
	"github.com/pscheid92/voicebridge/internal/metrics"
)

const (
	// joinWait covers connect + identify + the voice event exchange.
	joinWait  = 20 * time.Second
	leaveWait = 5 * time.Second
)

type voiceJoinRequest struct {
	GuildID   string `json:"guild_id"`
	ChannelID string `json:"channel_id"`
}

type voiceLeaveRequest struct {
	GuildID string `json:"guild_id"`
}

// joinFailureOutcome picks the metric label for a failed join: supersession
// is counted apart from protocol failures.
func joinFailureOutcome(err error) string {
	if errors.Is(err, domain.ErrSuperseded) {
		return "superseded"
	}
	return "failed"
}

// ensureSession resolves the caller's credential and returns their live
// gateway session, creating one if needed.
func (s *Server) ensureSession(c echo.Context) (*gateway.Session, string, error) {
	userID, ok := c.Get("userID").(string)
	if !ok || userID == "" {
		return nil, "", apperrors.InternalError("invalid user ID in context", nil)
	}

	discordToken, err := s.credentials.LookupCredential(c.Request().Context(), userID)
	if err != nil {
		if errors.Is(err, domain.ErrNoCredential) {
			return nil, "", apperrors.ValidationError("no discord credential linked").WithField("user_id", userID)
		}
		return nil, "", apperrors.InternalError("failed to load credential", err).WithField("user_id", userID)
	}

	return s.gateways.Ensure(userID, discordToken), userID, nil
}

func (s *Server) handleVoiceParticipants(c echo.Context) error {
	guildID := c.QueryParam("guild_id")
	if guildID == "" {
		return apperrors.ValidationError("guild_id is required")
	}
	var channelID *string
	if ch := c.QueryParam("channel_id"); ch != "" {
		channelID = &ch
	}

	session, _, err := s.ensureSession(c)
	if err != nil {
		return err
	}

	participants := session.Participants(guildID, channelID)
	if err := c.JSON(http.StatusOK, participants); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

func (s *Server) handleVoiceJoin(c echo.Context) error {
	var req voiceJoinRequest
	if err := c.Bind(&req); err != nil {
		return apperrors.ValidationError("invalid request body")
	}
	if req.GuildID == "" || req.ChannelID == "" {
		return apperrors.ValidationError("guild_id and channel_id are required")
	}

	session, userID, err := s.ensureSession(c)
	if err != nil {
		return err
	}

	reply, err := session.Join(req.GuildID, req.ChannelID)
	if err != nil {
		// The actor died between Ensure and Join: evict so the next call
		// rebuilds a fresh session.
		s.gateways.Evict(userID, session)
		metrics.VoiceJoinsTotal.WithLabelValues("lost").Inc()
		return apperrors.InternalError("gateway session lost", err).WithField("user_id", userID)
	}

	// The timeout is the handler's own; it does not cancel the in-flight
	// exchange, which may still complete platform-side.
	select {
	case result := <-reply:
		if result.Err != nil {
			metrics.VoiceJoinsTotal.WithLabelValues(joinFailureOutcome(result.Err)).Inc()
			return apperrors.ExternalError(result.Err.Error(), result.Err).
				WithField("guild_id", req.GuildID).
				WithField("channel_id", req.ChannelID)
		}
		metrics.VoiceJoinsTotal.WithLabelValues("ok").Inc()
		if err := c.JSON(http.StatusOK, result.Info); err != nil {
			return fmt.Errorf("failed to send JSON response: %w", err)
		}
		return nil

	case <-time.After(joinWait):
		metrics.VoiceJoinsTotal.WithLabelValues("timeout").Inc()
		return apperrors.TimeoutError("timeout waiting for voice server info").
			WithField("guild_id", req.GuildID).
			WithField("channel_id", req.ChannelID)
	}
}

func (s *Server) handleVoiceLeave(c echo.Context) error {
	var req voiceLeaveRequest
	if err := c.Bind(&req); err != nil {
		return apperrors.ValidationError("invalid request body")
	}
	if req.GuildID == "" {
		return apperrors.ValidationError("guild_id is required")
	}

	session, userID, err := s.ensureSession(c)
	if err != nil {
		return err
	}

	reply, err := session.Leave(req.GuildID)
	if err != nil {
		s.gateways.Evict(userID, session)
		return apperrors.InternalError("gateway session lost", err).WithField("user_id", userID)
	}

	select {
	case err := <-reply:
		if err != nil {
			return apperrors.ExternalError(err.Error(), err).WithField("guild_id", req.GuildID)
		}
		if err := c.JSON(http.StatusOK, map[string]bool{"ok": true}); err != nil {
			return fmt.Errorf("failed to send JSON response: %w", err)
		}
		return nil

	case <-time.After(leaveWait):
		return apperrors.InternalError("failed to leave voice", nil).WithField("guild_id", req.GuildID)
	}
}
