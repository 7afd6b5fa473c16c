package domain

import "context"

// --- Model types ---

// VoiceServerInfo is the result of a completed voice join. It combines the
// media token/endpoint from VOICE_SERVER_UPDATE with the gateway session id
// from READY; together they are everything a client needs to reach the
// Discord voice gateway.
type VoiceServerInfo struct {
	Token     string  `json:"token"`
	Endpoint  *string `json:"endpoint"`
	GuildID   *string `json:"guild_id"`
	SessionID string  `json:"session_id"`
	UserID    string  `json:"user_id"`
}

// VoiceParticipant is one user's cached voice presence within a guild.
// A nil ChannelID means the user has left voice.
type VoiceParticipant struct {
	UserID      string  `json:"user_id"`
	ChannelID   *string `json:"channel_id"`
	DisplayName *string `json:"display_name"`
	AvatarURL   *string `json:"avatar_url"`
}

// LoginResult is what a completed remote-auth login hands back to the
// client: the application user plus a fresh bearer token.
type LoginResult struct {
	UserID    string `json:"user_id"`
	Username  string `json:"username"`
	AuthToken string `json:"auth_token"`
}

// --- Service interfaces ---

// CredentialStore is the persistence boundary for Discord credentials.
type CredentialStore interface {
	// LookupCredential returns the Discord token linked to an application
	// user, or ErrNoCredential if none is linked.
	LookupCredential(ctx context.Context, userID string) (string, error)
	// UpsertCredential links a Discord token to an application user.
	UpsertCredential(ctx context.Context, userID, discordToken string) error
	// RecordLoginEvent appends a login outcome to the audit trail.
	RecordLoginEvent(ctx context.Context, userID string, succeeded bool) error
}

// LoginService turns a decrypted Discord token into an application login.
type LoginService interface {
	Login(ctx context.Context, discordToken string) (*LoginResult, error)
}

// TokenVerifier resolves a bearer token presented on the HTTP boundary into
// an application user id.
type TokenVerifier interface {
	VerifyToken(ctx context.Context, token string) (string, error)
}
