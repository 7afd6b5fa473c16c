package remoteauth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pscheid92/voicebridge/internal/crypto"
	"github.com/pscheid92/voicebridge/internal/domain"
)

// fakeAuthGateway plays the Discord remote-auth gateway: it hands out
// accepted connections so tests can script the challenge-response.
type fakeAuthGateway struct {
	t      *testing.T
	server *httptest.Server
	conns  chan *authConn
}

type authConn struct {
	t    *testing.T
	conn *websocket.Conn
}

func newFakeAuthGateway(t *testing.T) *fakeAuthGateway {
	t.Helper()
	g := &fakeAuthGateway{t: t, conns: make(chan *authConn, 4)}
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	g.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		g.conns <- &authConn{t: t, conn: conn}
	}))
	t.Cleanup(g.server.Close)
	return g
}

func (g *fakeAuthGateway) url() string {
	return "ws" + strings.TrimPrefix(g.server.URL, "http")
}

func (g *fakeAuthGateway) accept() *authConn {
	g.t.Helper()
	select {
	case conn := <-g.conns:
		return conn
	case <-time.After(2 * time.Second):
		g.t.Fatal("no remote-auth connection within 2s")
		return nil
	}
}

func (ac *authConn) send(v any) {
	ac.t.Helper()
	require.NoError(ac.t, ac.conn.WriteJSON(v))
}

type clientAuthFrame struct {
	Op               string `json:"op"`
	EncodedPublicKey string `json:"encoded_public_key"`
	Proof            string `json:"proof"`
}

func (ac *authConn) expect(op string) clientAuthFrame {
	ac.t.Helper()
	ac.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var frame clientAuthFrame
	require.NoError(ac.t, ac.conn.ReadJSON(&frame))
	require.Equal(ac.t, op, frame.Op)
	return frame
}

// handshake runs hello/init/nonce_proof and returns the flow's public key.
func (ac *authConn) handshake() *rsa.PublicKey {
	ac.t.Helper()
	ac.send(map[string]any{"op": "hello", "heartbeat_interval": 41250})

	init := ac.expect("init")
	publicKey := parsePublicKey(ac.t, init.EncodedPublicKey)

	nonce := []byte("challenge-nonce")
	ac.send(map[string]any{"op": "nonce_proof", "encrypted_nonce": encryptFor(ac.t, publicKey, nonce)})

	proof := ac.expect("nonce_proof")
	require.Equal(ac.t, crypto.NonceProof(nonce), proof.Proof)
	return publicKey
}

func parsePublicKey(t *testing.T, encoded string) *rsa.PublicKey {
	t.Helper()
	der, err := base64.StdEncoding.DecodeString(encoded)
	require.NoError(t, err)
	parsed, err := x509.ParsePKIXPublicKey(der)
	require.NoError(t, err)
	publicKey, ok := parsed.(*rsa.PublicKey)
	require.True(t, ok, "expected an RSA public key")
	return publicKey
}

func encryptFor(t *testing.T, publicKey *rsa.PublicKey, plaintext []byte) string {
	t.Helper()
	ciphertext, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, publicKey, plaintext, nil)
	require.NoError(t, err)
	return base64.StdEncoding.EncodeToString(ciphertext)
}

type stubLogin struct {
	gotToken chan string
	result   *domain.LoginResult
	err      error
}

func newStubLogin() *stubLogin {
	return &stubLogin{
		gotToken: make(chan string, 1),
		result:   &domain.LoginResult{UserID: "u1", Username: "tester", AuthToken: "app-jwt"},
	}
}

func (s *stubLogin) Login(_ context.Context, discordToken string) (*domain.LoginResult, error) {
	s.gotToken <- discordToken
	return s.result, s.err
}

func awaitState(t *testing.T, flow *Flow, state State) Status {
	t.Helper()
	var status Status
	require.Eventually(t, func() bool {
		status = flow.Status()
		return status.State == state
	}, 2*time.Second, 10*time.Millisecond, "last state: %s", flow.Status().State)
	return status
}

func awaitFlowDone(t *testing.T, flow *Flow) {
	t.Helper()
	select {
	case <-flow.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("flow did not terminate within 2s")
	}
}

func TestFlow_CompletesViaFinish(t *testing.T) {
	g := newFakeAuthGateway(t)
	login := newStubLogin()
	flow := StartFlow(Options{
		URL:    g.url(),
		Origin: "https://example.test",
		Login:  login,
	})

	ac := g.accept()
	publicKey := ac.handshake()

	ac.send(map[string]any{"op": "pending_remote_init", "fingerprint": "fp123"})
	status := awaitState(t, flow, StateQrReady)
	assert.Equal(t, "https://example.test/ra/fp123", status.RaURL)
	assert.True(t, strings.HasPrefix(status.QrURL, "data:image/png;base64,"))

	ac.send(map[string]any{"op": "pending_ticket"})
	awaitState(t, flow, StateScanned)

	ac.send(map[string]any{"op": "finish", "encrypted_token": encryptFor(t, publicKey, []byte("discord-user-token\x00"))})
	awaitFlowDone(t, flow)

	status = flow.Status()
	require.Equal(t, StateCompleted, status.State)
	require.NotNil(t, status.Auth)
	assert.Equal(t, "u1", status.Auth.UserID)
	assert.Equal(t, "app-jwt", status.Auth.AuthToken)
	// Token arrives stripped of padding.
	assert.Equal(t, "discord-user-token", <-login.gotToken)
}

func TestFlow_CompletesViaTicketExchange(t *testing.T) {
	g := newFakeAuthGateway(t)
	login := newStubLogin()

	encryptedToken := make(chan string, 1)
	loginServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "tkt1", body["ticket"])
		json.NewEncoder(w).Encode(map[string]string{"encrypted_token": <-encryptedToken})
	}))
	defer loginServer.Close()

	flow := StartFlow(Options{
		URL:      g.url(),
		LoginURL: loginServer.URL,
		Origin:   "https://example.test",
		Login:    login,
	})

	ac := g.accept()
	publicKey := ac.handshake()
	encryptedToken <- encryptFor(t, publicKey, []byte("ticket-token"))

	ac.send(map[string]any{"op": "pending_login", "ticket": "tkt1"})
	awaitFlowDone(t, flow)

	require.Equal(t, StateCompleted, flow.Status().State)
	assert.Equal(t, "ticket-token", <-login.gotToken)
}

func TestFlow_TicketExchangePlaintextToken(t *testing.T) {
	g := newFakeAuthGateway(t)
	login := newStubLogin()

	loginServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"token": "  plain-token\n"})
	}))
	defer loginServer.Close()

	flow := StartFlow(Options{URL: g.url(), LoginURL: loginServer.URL, Login: login})

	ac := g.accept()
	ac.handshake()
	ac.send(map[string]any{"op": "pending_login", "ticket": "tkt1"})
	awaitFlowDone(t, flow)

	require.Equal(t, StateCompleted, flow.Status().State)
	assert.Equal(t, "plain-token", <-login.gotToken)
}

func TestFlow_TicketExchangeRejectedEndsInError(t *testing.T) {
	g := newFakeAuthGateway(t)
	loginServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer loginServer.Close()

	flow := StartFlow(Options{URL: g.url(), LoginURL: loginServer.URL, Login: newStubLogin()})

	ac := g.accept()
	ac.handshake()
	ac.send(map[string]any{"op": "pending_login", "ticket": "tkt1"})
	awaitFlowDone(t, flow)

	status := flow.Status()
	assert.Equal(t, StateError, status.State)
	assert.Equal(t, "ticket finalization failed", status.Message)
}

func TestFlow_TamperedNonceEndsInError(t *testing.T) {
	g := newFakeAuthGateway(t)
	flow := StartFlow(Options{URL: g.url(), Login: newStubLogin()})

	ac := g.accept()
	ac.send(map[string]any{"op": "hello", "heartbeat_interval": 41250})
	ac.expect("init")

	ac.send(map[string]any{"op": "nonce_proof", "encrypted_nonce": base64.StdEncoding.EncodeToString([]byte("garbage"))})
	awaitFlowDone(t, flow)

	status := flow.Status()
	assert.Equal(t, StateError, status.State)
	assert.Equal(t, "nonce decryption failed", status.Message)
}

func TestFlow_TamperedTokenEndsInError(t *testing.T) {
	g := newFakeAuthGateway(t)
	flow := StartFlow(Options{URL: g.url(), Login: newStubLogin()})

	ac := g.accept()
	ac.handshake()

	ac.send(map[string]any{"op": "finish", "encrypted_token": base64.StdEncoding.EncodeToString([]byte("garbage"))})
	awaitFlowDone(t, flow)

	assert.Equal(t, StateError, flow.Status().State)
}

func TestFlow_CancelStopsTheFlow(t *testing.T) {
	g := newFakeAuthGateway(t)
	flow := StartFlow(Options{URL: g.url(), Login: newStubLogin()})

	g.accept()
	awaitState(t, flow, StateWaitingForQr)

	flow.Cancel()
	awaitFlowDone(t, flow)
	assert.Equal(t, StateCancelled, flow.Status().State)

	// Idempotent after termination.
	flow.Cancel()
}

func TestFlow_GatewayCancelFrame(t *testing.T) {
	g := newFakeAuthGateway(t)
	flow := StartFlow(Options{URL: g.url(), Login: newStubLogin()})

	ac := g.accept()
	ac.handshake()
	ac.send(map[string]any{"op": "cancel"})

	awaitFlowDone(t, flow)
	assert.Equal(t, StateCancelled, flow.Status().State)
}

func TestFlow_SocketCloseBeforeCompletionIsError(t *testing.T) {
	g := newFakeAuthGateway(t)
	flow := StartFlow(Options{URL: g.url(), Login: newStubLogin()})

	ac := g.accept()
	awaitState(t, flow, StateWaitingForQr)
	ac.conn.Close()

	awaitFlowDone(t, flow)
	assert.Equal(t, StateError, flow.Status().State)
}

func TestFlow_ReaderExitsAfterCancel(t *testing.T) {
	g := newFakeAuthGateway(t)
	flow := StartFlow(Options{URL: g.url(), Login: newStubLogin()})

	ac := g.accept()
	awaitState(t, flow, StateWaitingForQr)

	// Cancel with frames trailing on the wire, so the reader is parked on
	// a frame send when the actor exits. Writes may race the close, so
	// errors are fine.
	flow.Cancel()
	for i := 0; i < 5; i++ {
		ac.conn.WriteJSON(map[string]any{"op": "pending_ticket"})
	}
	awaitFlowDone(t, flow)

	require.Eventually(t, func() bool {
		buf := make([]byte, 1<<20)
		stack := string(buf[:runtime.Stack(buf, true)])
		return !strings.Contains(stack, "remoteauth.readLoop")
	}, 2*time.Second, 10*time.Millisecond, "reader goroutine still running after flow terminated")
}

func TestFlow_ConnectFailureIsError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	flow := StartFlow(Options{URL: "ws" + strings.TrimPrefix(server.URL, "http"), Login: newStubLogin()})
	awaitFlowDone(t, flow)
	assert.Equal(t, StateError, flow.Status().State)
}
