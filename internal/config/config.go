package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

const (
	defaultGatewayURL        = "wss://gateway.discord.gg/?v=9&encoding=json"
	defaultRemoteAuthURL     = "wss://remote-auth-gateway.discord.gg/?v=2"
	defaultRemoteAuthLogin   = "https://discord.com/api/v9/users/@me/remote-auth/login"
	defaultClientOrigin      = "https://discord.com"
	defaultClientUserAgent   = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"
	defaultRejoinDelayMillis = 200
)

type Config struct {
	AppEnv      string
	Port        string
	DatabaseURL string
	LogLevel    string
	LogFormat   string

	// Discord endpoints (overridable for tests / API version bumps)
	GatewayURL         string
	RemoteAuthURL      string
	RemoteAuthLoginURL string
	ClientOrigin       string
	ClientUserAgent    string

	// Delay between the leave sent before a join and the join itself.
	// Forces Discord to emit a fresh VOICE_SERVER_UPDATE instead of a
	// cached one. Heuristic, tunable.
	RejoinDelay time.Duration

	// AES-256 key (hex) for credential encryption at rest; empty disables it.
	TokenEncryptionKey string

	// Secret used to verify application bearer tokens.
	AuthSecret string
}

func Load() (*Config, error) {
	// Best effort: a missing .env file is fine in production.
	_ = godotenv.Load()

	cfg := &Config{
		AppEnv:             getEnv("APP_ENV", "development"),
		Port:               getEnv("PORT", "8080"),
		DatabaseURL:        getEnv("DATABASE_URL", ""),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		LogFormat:          getEnv("LOG_FORMAT", "text"),
		GatewayURL:         getEnv("DISCORD_GATEWAY_URL", defaultGatewayURL),
		RemoteAuthURL:      getEnv("DISCORD_REMOTE_AUTH_URL", defaultRemoteAuthURL),
		RemoteAuthLoginURL: getEnv("DISCORD_REMOTE_AUTH_LOGIN_URL", defaultRemoteAuthLogin),
		ClientOrigin:       getEnv("DISCORD_CLIENT_ORIGIN", defaultClientOrigin),
		ClientUserAgent:    getEnv("DISCORD_CLIENT_USER_AGENT", defaultClientUserAgent),
		TokenEncryptionKey: getEnv("TOKEN_ENCRYPTION_KEY", ""),
		AuthSecret:         getEnv("AUTH_SECRET", ""),
	}

	rejoinMillis, err := getEnvInt("GATEWAY_REJOIN_DELAY_MS", defaultRejoinDelayMillis)
	if err != nil {
		return nil, fmt.Errorf("GATEWAY_REJOIN_DELAY_MS must be an integer: %w", err)
	}
	cfg.RejoinDelay = time.Duration(rejoinMillis) * time.Millisecond

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.AuthSecret == "" {
		return nil, fmt.Errorf("AUTH_SECRET is required")
	}

	if cfg.TokenEncryptionKey != "" {
		keyBytes, err := hex.DecodeString(cfg.TokenEncryptionKey)
		if err != nil {
			return nil, fmt.Errorf("TOKEN_ENCRYPTION_KEY must be valid hex: %w", err)
		}
		if len(keyBytes) != 32 {
			return nil, fmt.Errorf("TOKEN_ENCRYPTION_KEY must be exactly 64 hex characters (32 bytes), got %d bytes", len(keyBytes))
		}
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	return strconv.Atoi(value)
}
