// Package remoteauth implements the QR-code login handshake against the
// Discord remote-auth gateway: one single-use actor per login attempt
// driving an RSA challenge-response over a dedicated WebSocket.
package remoteauth

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/voicebridge/internal/crypto"
	"github.com/pscheid92/voicebridge/internal/domain"
	"github.com/pscheid92/voicebridge/internal/metrics"
	"github.com/pscheid92/voicebridge/internal/qr"
)

const defaultHeartbeatInterval = 41250 * time.Millisecond

// Options configure a remote-auth flow. URL, LoginURL and Login are
// required.
type Options struct {
	URL       string
	LoginURL  string
	Origin    string
	UserAgent string
	Clock     clockwork.Clock
	Login     domain.LoginService
}

func (o Options) withDefaults() Options {
	if o.Clock == nil {
		o.Clock = clockwork.NewRealClock()
	}
	return o
}

// Flow is one login attempt. The actor goroutine owns the socket and the
// ephemeral key pair; clients poll Status and may Cancel at any time.
type Flow struct {
	mu     sync.Mutex
	status Status

	cancel     chan struct{}
	cancelOnce sync.Once
	done       chan struct{}
}

// StartFlow spawns a flow actor.
func StartFlow(opts Options) *Flow {
	f := &Flow{
		status: statusOf(StateConnecting),
		cancel: make(chan struct{}),
		done:   make(chan struct{}),
	}
	go f.run(opts.withDefaults())
	return f
}

// Status returns the current polled view of the flow.
func (f *Flow) Status() Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

// Cancel signals the actor to stop. Safe to call more than once and after
// the flow terminated.
func (f *Flow) Cancel() {
	f.cancelOnce.Do(func() { close(f.cancel) })
}

// Done is closed when the actor terminates.
func (f *Flow) Done() <-chan struct{} {
	return f.done
}

func (f *Flow) setStatus(status Status) {
	f.mu.Lock()
	f.status = status
	f.mu.Unlock()
}

// --- Wire frames ---

// authFrame is the union of all remote-auth gateway payloads; Op selects
// which fields are meaningful.
type authFrame struct {
	Op                string `json:"op"`
	HeartbeatInterval int64  `json:"heartbeat_interval,omitempty"`
	EncryptedNonce    string `json:"encrypted_nonce,omitempty"`
	Fingerprint       string `json:"fingerprint,omitempty"`
	Ticket            string `json:"ticket,omitempty"`
	EncryptedToken    string `json:"encrypted_token,omitempty"`
}

type initFrame struct {
	Op               string `json:"op"`
	EncodedPublicKey string `json:"encoded_public_key"`
}

type proofFrame struct {
	Op    string `json:"op"`
	Proof string `json:"proof"`
}

type heartbeatFrame struct {
	Op string `json:"op"`
}

// --- Actor ---

func (f *Flow) run(opts Options) {
	defer close(f.done)
	defer func() {
		metrics.QrFlowsTotal.WithLabelValues(string(f.Status().State)).Inc()
	}()

	// Fresh 2048-bit key pair, used for this attempt only.
	keys, err := crypto.GenerateKeyPair()
	if err != nil {
		f.setStatus(errorStatus("key generation failed"))
		slog.Error("Remote-auth key generation failed", "error", err)
		return
	}
	encodedPublicKey, err := keys.EncodedPublicKey()
	if err != nil {
		f.setStatus(errorStatus("public key export failed"))
		slog.Error("Remote-auth public key export failed", "error", err)
		return
	}

	header := http.Header{}
	if opts.Origin != "" {
		header.Set("Origin", opts.Origin)
	}
	if opts.UserAgent != "" {
		header.Set("User-Agent", opts.UserAgent)
	}

	conn, _, err := websocket.DefaultDialer.Dial(opts.URL, header)
	if err != nil {
		f.setStatus(errorStatus("connection to remote-auth gateway failed"))
		slog.Error("Remote-auth connection failed", "error", err)
		return
	}
	defer conn.Close()

	f.setStatus(statusOf(StateWaitingForQr))

	frames := make(chan authFrame)
	readErr := make(chan error, 1)
	go readLoop(conn, frames, readErr, f.done)

	hbTicks := make(chan struct{})
	hbStop := make(chan struct{})
	hbStarted := false
	defer func() {
		if hbStarted {
			close(hbStop)
		}
	}()

	tickets := newTicketClient(opts.LoginURL, opts.Origin, opts.UserAgent)

	for {
		select {
		case <-f.cancel:
			f.setStatus(statusOf(StateCancelled))
			return

		case err := <-readErr:
			// Socket loss after a terminal status is a normal goodbye.
			if !f.Status().State.Terminal() {
				f.setStatus(errorStatus("remote-auth gateway closed the connection"))
				slog.Debug("Remote-auth socket closed before completion", "error", err)
			}
			return

		case <-hbTicks:
			if err := writeFrame(conn, heartbeatFrame{Op: "heartbeat"}); err != nil {
				f.setStatus(errorStatus("heartbeat send failed"))
				return
			}

		case frame := <-frames:
			done := f.handleFrame(conn, frame, keys, encodedPublicKey, tickets, opts, hbTicks, hbStop, &hbStarted)
			if done {
				return
			}
		}
	}
}

// handleFrame processes one gateway frame; true means the flow terminated.
func (f *Flow) handleFrame(conn *websocket.Conn, frame authFrame, keys *crypto.KeyPair, encodedPublicKey string, tickets *ticketClient, opts Options, hbTicks chan struct{}, hbStop chan struct{}, hbStarted *bool) bool {
	switch frame.Op {
	case "hello":
		interval := defaultHeartbeatInterval
		if frame.HeartbeatInterval > 0 {
			interval = time.Duration(frame.HeartbeatInterval) * time.Millisecond
		}
		if !*hbStarted {
			go heartbeatLoop(opts.Clock, interval, hbTicks, hbStop)
			*hbStarted = true
		}
		if err := writeFrame(conn, initFrame{Op: "init", EncodedPublicKey: encodedPublicKey}); err != nil {
			f.setStatus(errorStatus("failed to send init"))
			return true
		}

	case "nonce_proof":
		nonce, err := keys.Decrypt(frame.EncryptedNonce)
		if err != nil {
			f.setStatus(errorStatus("nonce decryption failed"))
			slog.Debug("Remote-auth nonce decryption failed", "error", err)
			return true
		}
		proof := crypto.NonceProof(nonce)
		if err := writeFrame(conn, proofFrame{Op: "nonce_proof", Proof: proof}); err != nil {
			f.setStatus(errorStatus("failed to send nonce proof"))
			return true
		}

	case "pending_remote_init":
		if frame.Fingerprint == "" {
			f.setStatus(errorStatus("empty fingerprint"))
			return true
		}
		raURL := fmt.Sprintf("%s/ra/%s", strings.TrimSuffix(opts.Origin, "/"), frame.Fingerprint)
		qrURL, err := qr.DataURI(raURL)
		if err != nil {
			f.setStatus(errorStatus("QR rendering failed"))
			slog.Error("Remote-auth QR rendering failed", "error", err)
			return true
		}
		f.setStatus(Status{State: StateQrReady, QrURL: qrURL, RaURL: raURL})

	case "pending_ticket":
		f.setStatus(statusOf(StateScanned))

	case "pending_login":
		if frame.Ticket == "" {
			f.setStatus(errorStatus("empty ticket"))
			return true
		}
		f.setStatus(statusOf(StateCompleting))
		f.finalizeWithTicket(frame.Ticket, keys, tickets, opts.Login)
		return true

	case "finish":
		if frame.EncryptedToken == "" {
			return false
		}
		f.setStatus(statusOf(StateCompleting))
		f.decryptAndLogin(frame.EncryptedToken, keys, opts.Login)
		return true

	case "cancel":
		f.setStatus(statusOf(StateCancelled))
		return true
	}

	return false
}

// finalizeWithTicket trades the ticket for a token over REST and completes
// the login with it.
func (f *Flow) finalizeWithTicket(ticket string, keys *crypto.KeyPair, tickets *ticketClient, login domain.LoginService) {
	ctx, cancel := context.WithTimeout(context.Background(), ticketCallTimeout)
	defer cancel()

	resp, err := tickets.exchange(ctx, ticket)
	if err != nil {
		f.setStatus(errorStatus("ticket finalization failed"))
		slog.Warn("Remote-auth ticket exchange failed", "error", err)
		return
	}

	if resp.EncryptedToken != "" {
		f.decryptAndLogin(resp.EncryptedToken, keys, login)
		return
	}
	if token := strings.TrimSpace(resp.Token); token != "" {
		f.completeLogin(token, login)
		return
	}

	f.setStatus(errorStatus("no token in finalization response"))
}

// decryptAndLogin turns an encrypted token into a completed application
// login. Decryption failures end the flow with an error status, never a
// crash.
func (f *Flow) decryptAndLogin(encryptedToken string, keys *crypto.KeyPair, login domain.LoginService) {
	decrypted, err := keys.Decrypt(encryptedToken)
	if err != nil {
		f.setStatus(errorStatus("token decryption failed"))
		slog.Debug("Remote-auth token decryption failed", "error", err)
		return
	}
	if !utf8.Valid(decrypted) {
		f.setStatus(errorStatus("decrypted token is not text"))
		return
	}

	token := strings.TrimSpace(strings.Trim(string(decrypted), "\x00"))
	if token == "" {
		f.setStatus(errorStatus("empty token after decryption"))
		return
	}

	f.completeLogin(token, login)
}

func (f *Flow) completeLogin(discordToken string, login domain.LoginService) {
	ctx, cancel := context.WithTimeout(context.Background(), ticketCallTimeout)
	defer cancel()

	result, err := login.Login(ctx, discordToken)
	if err != nil {
		f.setStatus(errorStatus("login failed"))
		slog.Warn("Remote-auth login failed", "error", err)
		return
	}
	f.setStatus(Status{State: StateCompleted, Auth: result})
}

// readLoop feeds parsed frames to the actor. Non-text messages and
// malformed JSON are dropped silently. The send races the done channel so
// a flow that terminated on cancel or a write failure cannot strand the
// reader on a parked send.
func readLoop(conn *websocket.Conn, frames chan<- authFrame, readErr chan<- error, done <-chan struct{}) {
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			readErr <- err
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		var frame authFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			continue
		}
		select {
		case frames <- frame:
		case <-done:
			return
		}
	}
}

func heartbeatLoop(clock clockwork.Clock, interval time.Duration, ticks chan<- struct{}, stop <-chan struct{}) {
	ticker := clock.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.Chan():
			select {
			case ticks <- struct{}{}:
			case <-stop:
				return
			}
		case <-stop:
			return
		}
	}
}

func writeFrame(conn *websocket.Conn, frame any) error {
	conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return conn.WriteJSON(frame)
}
