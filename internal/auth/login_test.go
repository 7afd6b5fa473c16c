package auth

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pscheid92/voicebridge/internal/domain"
)

type memoryStore struct {
	credentials map[string]string
	logins      []bool
	upsertErr   error
	recordErr   error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{credentials: make(map[string]string)}
}

func (m *memoryStore) LookupCredential(_ context.Context, userID string) (string, error) {
	token, ok := m.credentials[userID]
	if !ok {
		return "", domain.ErrNoCredential
	}
	return token, nil
}

func (m *memoryStore) UpsertCredential(_ context.Context, userID, discordToken string) error {
	if m.upsertErr != nil {
		return m.upsertErr
	}
	m.credentials[userID] = discordToken
	return nil
}

func (m *memoryStore) RecordLoginEvent(_ context.Context, _ string, succeeded bool) error {
	if m.recordErr != nil {
		return m.recordErr
	}
	m.logins = append(m.logins, succeeded)
	return nil
}

func fakeDiscordAPI(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "the-discord-token", r.Header.Get("Authorization"))
		w.WriteHeader(status)
		fmt.Fprint(w, body)
	}))
	t.Cleanup(server.Close)
	return server
}

func newTestLoginService(store *memoryStore, usersURL string) *DiscordLoginService {
	service := NewDiscordLoginService(store, NewTokenService("test-secret"), "test-agent")
	service.usersURL = usersURL
	return service
}

func TestLogin_Succeeds(t *testing.T) {
	api := fakeDiscordAPI(t, http.StatusOK, `{"id":"u1","username":"raw","global_name":"Display"}`)
	store := newMemoryStore()
	service := newTestLoginService(store, api.URL)

	result, err := service.Login(context.Background(), "the-discord-token")
	require.NoError(t, err)

	assert.Equal(t, "u1", result.UserID)
	assert.Equal(t, "Display", result.Username)
	assert.NotEmpty(t, result.AuthToken)

	// Credential linked and the login audited.
	assert.Equal(t, "the-discord-token", store.credentials["u1"])
	assert.Equal(t, []bool{true}, store.logins)

	// The issued token verifies back to the same user.
	userID, err := service.tokens.VerifyToken(context.Background(), result.AuthToken)
	require.NoError(t, err)
	assert.Equal(t, "u1", userID)
}

func TestLogin_FallsBackToUsername(t *testing.T) {
	api := fakeDiscordAPI(t, http.StatusOK, `{"id":"u1","username":"raw","global_name":null}`)
	service := newTestLoginService(newMemoryStore(), api.URL)

	result, err := service.Login(context.Background(), "the-discord-token")
	require.NoError(t, err)
	assert.Equal(t, "raw", result.Username)
}

func TestLogin_RejectedToken(t *testing.T) {
	api := fakeDiscordAPI(t, http.StatusUnauthorized, `{"message":"401: Unauthorized"}`)
	store := newMemoryStore()
	service := newTestLoginService(store, api.URL)

	_, err := service.Login(context.Background(), "the-discord-token")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 401")
	assert.Empty(t, store.credentials)
}

func TestLogin_UserWithoutID(t *testing.T) {
	api := fakeDiscordAPI(t, http.StatusOK, `{"username":"raw"}`)
	service := newTestLoginService(newMemoryStore(), api.URL)

	_, err := service.Login(context.Background(), "the-discord-token")
	assert.Error(t, err)
}

func TestLogin_StoreFailureRecordsFailedLogin(t *testing.T) {
	api := fakeDiscordAPI(t, http.StatusOK, `{"id":"u1","username":"raw"}`)
	store := newMemoryStore()
	store.upsertErr = fmt.Errorf("database down")
	service := newTestLoginService(store, api.URL)

	_, err := service.Login(context.Background(), "the-discord-token")
	require.Error(t, err)
	assert.Equal(t, []bool{false}, store.logins)
}

func TestLogin_AuditFailureIsNotFatal(t *testing.T) {
	api := fakeDiscordAPI(t, http.StatusOK, `{"id":"u1","username":"raw"}`)
	store := newMemoryStore()
	store.recordErr = fmt.Errorf("audit table missing")
	service := newTestLoginService(store, api.URL)

	result, err := service.Login(context.Background(), "the-discord-token")
	require.NoError(t, err)
	assert.Equal(t, "u1", result.UserID)
}
