package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequiredEnv(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/test")
	t.Setenv("AUTH_SECRET", "test-secret")
}

func TestLoad_Defaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "development", cfg.AppEnv)
	assert.Equal(t, defaultGatewayURL, cfg.GatewayURL)
	assert.Equal(t, defaultRemoteAuthURL, cfg.RemoteAuthURL)
	assert.Equal(t, defaultClientOrigin, cfg.ClientOrigin)
	assert.Equal(t, 200*time.Millisecond, cfg.RejoinDelay)
}

func TestLoad_RequiresDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("AUTH_SECRET", "test-secret")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_URL")
}

func TestLoad_RequiresAuthSecret(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/test")
	t.Setenv("AUTH_SECRET", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "AUTH_SECRET")
}

func TestLoad_RejoinDelayOverride(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("GATEWAY_REJOIN_DELAY_MS", "50")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 50*time.Millisecond, cfg.RejoinDelay)
}

func TestLoad_RejoinDelayMustBeInteger(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("GATEWAY_REJOIN_DELAY_MS", "soon")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "GATEWAY_REJOIN_DELAY_MS")
}

func TestLoad_EncryptionKeyValidation(t *testing.T) {
	setRequiredEnv(t)

	t.Setenv("TOKEN_ENCRYPTION_KEY", "not-hex")
	_, err := Load()
	assert.Error(t, err)

	t.Setenv("TOKEN_ENCRYPTION_KEY", "deadbeef")
	_, err = Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "32 bytes")

	// 64 hex chars = 32 bytes
	t.Setenv("TOKEN_ENCRYPTION_KEY", "00112233445566778899aabbccddeeff00112233445566778899aabbccddeeff")
	cfg, err := Load()
	require.NoError(t, err)
	assert.NotEmpty(t, cfg.TokenEncryptionKey)
}
