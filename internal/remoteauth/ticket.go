package remoteauth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const ticketCallTimeout = 10 * time.Second

// ticketClient exchanges a remote-auth ticket for a token via the login
// REST endpoint. The response carries either an encrypted_token (decrypted
// with the flow's key) or a plaintext token.
type ticketClient struct {
	loginURL  string
	origin    string
	userAgent string
	client    *http.Client
}

func newTicketClient(loginURL, origin, userAgent string) *ticketClient {
	return &ticketClient{
		loginURL:  loginURL,
		origin:    origin,
		userAgent: userAgent,
		client:    &http.Client{Timeout: ticketCallTimeout},
	}
}

type ticketResponse struct {
	EncryptedToken string `json:"encrypted_token"`
	Token          string `json:"token"`
}

func (t *ticketClient) exchange(ctx context.Context, ticket string) (*ticketResponse, error) {
	body, err := json.Marshal(map[string]string{"ticket": ticket})
	if err != nil {
		return nil, fmt.Errorf("failed to encode ticket: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.loginURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Origin", t.origin)
	req.Header.Set("User-Agent", t.userAgent)

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ticket exchange failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		text, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("ticket rejected with status %d: %s", resp.StatusCode, text)
	}

	var result ticketResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode ticket response: %w", err)
	}
	return &result, nil
}
