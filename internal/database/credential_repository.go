package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/pscheid92/voicebridge/internal/domain"
)

// CredentialRepo implements domain.CredentialStore backed by PostgreSQL.
// Discord tokens are encrypted at rest when the DB was opened with a key.
type CredentialRepo struct {
	db *DB
}

// NewCredentialRepo creates a CredentialRepo from the shared DB connection.
func NewCredentialRepo(db *DB) *CredentialRepo {
	return &CredentialRepo{db: db}
}

func (r *CredentialRepo) LookupCredential(ctx context.Context, userID string) (string, error) {
	var encoded string
	err := r.db.QueryRowContext(ctx, `
		SELECT discord_token FROM credentials WHERE user_id = $1
	`, userID).Scan(&encoded)

	if errors.Is(err, sql.ErrNoRows) {
		return "", domain.ErrNoCredential
	}
	if err != nil {
		return "", fmt.Errorf("failed to load credential: %w", err)
	}

	token, err := r.db.decryptToken(encoded)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt credential: %w", err)
	}
	return token, nil
}

func (r *CredentialRepo) UpsertCredential(ctx context.Context, userID, discordToken string) error {
	encoded, err := r.db.encryptToken(discordToken)
	if err != nil {
		return fmt.Errorf("failed to encrypt credential: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO credentials (user_id, discord_token, created_at, updated_at)
		VALUES ($1, $2, NOW(), NOW())
		ON CONFLICT (user_id) DO UPDATE SET
			discord_token = EXCLUDED.discord_token,
			updated_at = NOW()
	`, userID, encoded)

	if err != nil {
		return fmt.Errorf("failed to upsert credential: %w", err)
	}
	return nil
}

func (r *CredentialRepo) RecordLoginEvent(ctx context.Context, userID string, succeeded bool) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO login_events (user_id, succeeded, created_at)
		VALUES ($1, $2, NOW())
	`, userID, succeeded)

	if err != nil {
		return fmt.Errorf("failed to record login event: %w", err)
	}
	return nil
}
