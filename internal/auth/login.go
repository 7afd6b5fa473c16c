// Package auth implements application logins from Discord tokens and the
// bearer tokens handed out afterwards.
package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/pscheid92/voicebridge/internal/domain"
)

const (
	discordUsersMeURL = "https://discord.com/api/v9/users/@me"
	httpCallTimeout   = 10 * time.Second
)

// DiscordLoginService implements domain.LoginService. It validates a Discord
// token by fetching the account behind it, links the credential to the
// application user and issues a bearer token.
type DiscordLoginService struct {
	store     domain.CredentialStore
	tokens    *TokenService
	userAgent string
	usersURL  string
	client    *http.Client
}

func NewDiscordLoginService(store domain.CredentialStore, tokens *TokenService, userAgent string) *DiscordLoginService {
	return &DiscordLoginService{
		store:     store,
		tokens:    tokens,
		userAgent: userAgent,
		usersURL:  discordUsersMeURL,
		client:    &http.Client{Timeout: httpCallTimeout},
	}
}

type discordUser struct {
	ID         string  `json:"id"`
	Username   string  `json:"username"`
	GlobalName *string `json:"global_name"`
}

func (s *DiscordLoginService) Login(ctx context.Context, discordToken string) (*domain.LoginResult, error) {
	user, err := s.fetchDiscordUser(ctx, discordToken)
	if err != nil {
		return nil, fmt.Errorf("discord token validation failed: %w", err)
	}

	if err := s.store.UpsertCredential(ctx, user.ID, discordToken); err != nil {
		if recErr := s.store.RecordLoginEvent(ctx, user.ID, false); recErr != nil {
			slog.Warn("Failed to record login event", "user_id", user.ID, "error", recErr)
		}
		return nil, fmt.Errorf("failed to store credential: %w", err)
	}

	if err := s.store.RecordLoginEvent(ctx, user.ID, true); err != nil {
		slog.Warn("Failed to record login event", "user_id", user.ID, "error", err)
	}

	authToken, err := s.tokens.IssueToken(user.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to issue auth token: %w", err)
	}

	username := user.Username
	if user.GlobalName != nil && *user.GlobalName != "" {
		username = *user.GlobalName
	}

	return &domain.LoginResult{
		UserID:    user.ID,
		Username:  username,
		AuthToken: authToken,
	}, nil
}

func (s *DiscordLoginService) fetchDiscordUser(ctx context.Context, discordToken string) (*discordUser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.usersURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", discordToken)
	req.Header.Set("User-Agent", s.userAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("discord rejected token with status %d", resp.StatusCode)
	}

	var user discordUser
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		return nil, fmt.Errorf("failed to decode user response: %w", err)
	}
	if user.ID == "" {
		return nil, fmt.Errorf("user response has no id")
	}
	return &user, nil
}
