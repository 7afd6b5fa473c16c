package server

import (
	"strings"

	"github.com/labstack/echo/v4"
	apperrors "github.com/pscheid92/voicebridge/internal/errors"
)

// requireAuth resolves the bearer token into an application user id and
// stores it in the request context as "userID".
func (s *Server) requireAuth(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		header := c.Request().Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			return apperrors.UnauthorizedError("missing bearer token")
		}

		userID, err := s.verifier.VerifyToken(c.Request().Context(), token)
		if err != nil {
			return apperrors.UnauthorizedError("invalid bearer token")
		}

		c.Set("userID", userID)
		return next(c)
	}
}
