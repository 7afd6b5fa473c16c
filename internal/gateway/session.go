package gateway

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/voicebridge/internal/domain"
	"github.com/pscheid92/voicebridge/internal/metrics"
)

const defaultHeartbeatInterval = 41250 * time.Millisecond

// Options configure a gateway session. URL is required; the rest default
// to production values.
type Options struct {
	URL         string
	Origin      string
	UserAgent   string
	RejoinDelay time.Duration
	Clock       clockwork.Clock
}

func (o Options) withDefaults() Options {
	if o.RejoinDelay == 0 {
		o.RejoinDelay = 200 * time.Millisecond
	}
	if o.Clock == nil {
		o.Clock = clockwork.NewRealClock()
	}
	return o
}

// JoinResult answers a Join call: either the assembled voice server info or
// the failure that ended the exchange.
type JoinResult struct {
	Info *domain.VoiceServerInfo
	Err  error
}

// --- Command types ---

type command interface{ sessionCmd() }

type joinCmd struct {
	guildID   string
	channelID string
	reply     chan JoinResult
}

func (joinCmd) sessionCmd() {}

type leaveCmd struct {
	guildID string
	reply   chan error
}

func (leaveCmd) sessionCmd() {}

// --- Session ---

// Session is the per-user handle onto a gateway actor. The actor goroutine
// owns the socket and all protocol state; callers talk to it through the
// command channel and read presence through the shared cache.
type Session struct {
	cmds     chan command
	done     chan struct{}
	presence *Presence
}

// Dial spawns a session actor for the given Discord token. It returns
// immediately; connecting, the Hello/Identify handshake and everything
// after happen inside the actor. A failed connect terminates the actor and
// fails any commands sent in the meantime.
func Dial(discordToken string, opts Options) *Session {
	s := &Session{
		cmds:     make(chan command, 16),
		done:     make(chan struct{}),
		presence: newPresence(),
	}
	go s.run(discordToken, opts.withDefaults())
	return s
}

// Join asks the actor to move the user into a voice channel. The returned
// channel resolves exactly once. Callers apply their own timeout; timing
// out does not cancel the in-flight exchange.
func (s *Session) Join(guildID, channelID string) (<-chan JoinResult, error) {
	reply := make(chan JoinResult, 1)
	if err := s.send(joinCmd{guildID: guildID, channelID: channelID, reply: reply}); err != nil {
		return nil, err
	}
	return reply, nil
}

// Leave asks the actor to clear the user's voice state in a guild. The
// reply resolves as soon as the frame is written, without waiting for
// gateway confirmation.
func (s *Session) Leave(guildID string) (<-chan error, error) {
	reply := make(chan error, 1)
	if err := s.send(leaveCmd{guildID: guildID, reply: reply}); err != nil {
		return nil, err
	}
	return reply, nil
}

// Participants reads the presence cache directly, bypassing the command
// channel.
func (s *Session) Participants(guildID string, channelID *string) []domain.VoiceParticipant {
	return s.presence.Participants(guildID, channelID)
}

// Alive reports whether the actor is still running.
func (s *Session) Alive() bool {
	select {
	case <-s.done:
		return false
	default:
		return true
	}
}

// Done is closed when the actor terminates.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

func (s *Session) send(cmd command) error {
	select {
	case <-s.done:
		return domain.ErrSessionLost
	default:
	}
	select {
	case s.cmds <- cmd:
		return nil
	case <-s.done:
		return domain.ErrSessionLost
	}
}

// --- Actor ---

// sessionState is the actor-private protocol state. Only the run goroutine
// touches it.
type sessionState struct {
	conn       *websocket.Conn
	opts       Options
	token      string
	sequence   *int64
	sessionID  string
	userID     string
	identified bool

	// At most one of each: a join queued until READY, and a join awaiting
	// its two correlated voice events.
	queued  *joinCmd
	pending *pendingJoin

	// Pieces of the eventual VoiceServerInfo as they arrive.
	voiceToken    string
	voiceEndpoint *string
	voiceGuildID  *string
	serverSeen    bool
}

type pendingJoin struct {
	guildID   string
	channelID string
	reply     chan JoinResult
	stateSeen bool
}

func (s *Session) run(discordToken string, opts Options) {
	metrics.ActiveGatewaySessions.Inc()
	defer metrics.ActiveGatewaySessions.Dec()

	st := &sessionState{opts: opts, token: discordToken}
	terminalErr := fmt.Errorf("gateway connection closed")

	defer func() {
		if st.conn != nil {
			st.conn.Close()
		}
		// Every outstanding reply resolves exactly once.
		if st.pending != nil {
			st.pending.reply <- JoinResult{Err: terminalErr}
			st.pending = nil
		}
		if st.queued != nil {
			st.queued.reply <- JoinResult{Err: terminalErr}
			st.queued = nil
		}
		close(s.done)
		s.drainCommands()
	}()

	header := http.Header{}
	if opts.Origin != "" {
		header.Set("Origin", opts.Origin)
	}
	if opts.UserAgent != "" {
		header.Set("User-Agent", opts.UserAgent)
	}

	slog.Debug("Connecting to Discord gateway", "url", opts.URL)
	conn, _, err := websocket.DefaultDialer.Dial(opts.URL, header)
	if err != nil {
		slog.Error("Gateway connection failed", "error", err)
		terminalErr = fmt.Errorf("gateway connection failed: %w", err)
		return
	}
	st.conn = conn
	slog.Debug("Connected to Discord gateway")

	frames := make(chan inboundFrame)
	readErr := make(chan error, 1)
	go readLoop(conn, frames, readErr, s.done)

	hbTicks := make(chan struct{})
	hbStop := make(chan struct{})
	hbStarted := false
	defer func() {
		if hbStarted {
			close(hbStop)
		}
	}()

	for {
		select {
		case frame := <-frames:
			ok, err := s.handleFrame(st, frame, hbTicks, hbStop, &hbStarted)
			if err != nil {
				terminalErr = err
			}
			if !ok {
				return
			}

		case err := <-readErr:
			slog.Debug("Gateway socket closed", "error", err)
			terminalErr = fmt.Errorf("gateway socket closed: %w", err)
			return

		case <-hbTicks:
			if err := writeFrame(st.conn, newHeartbeat(st.sequence)); err != nil {
				terminalErr = fmt.Errorf("heartbeat send failed: %w", err)
				return
			}

		case cmd := <-s.cmds:
			if !s.handleCommand(st, cmd, &terminalErr) {
				return
			}
		}
	}
}

// drainCommands fails commands that raced into the buffer while the actor
// was shutting down.
func (s *Session) drainCommands() {
	for {
		select {
		case cmd := <-s.cmds:
			switch c := cmd.(type) {
			case joinCmd:
				c.reply <- JoinResult{Err: domain.ErrSessionLost}
			case leaveCmd:
				c.reply <- domain.ErrSessionLost
			}
		default:
			return
		}
	}
}

// readLoop feeds parsed frames to the actor. Non-text messages and
// malformed JSON are dropped silently; the protocol is forward-compatible.
// The send races the done channel: closing the connection does not unblock
// a parked channel send, so an actor that terminated for a non-read reason
// (Reconnect, write failure) would otherwise strand the reader forever.
func readLoop(conn *websocket.Conn, frames chan<- inboundFrame, readErr chan<- error, done <-chan struct{}) {
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			readErr <- err
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		var frame inboundFrame
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

func writeFrame(conn *websocket.Conn, frame outboundFrame) error {
	conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return conn.WriteJSON(frame)
}

// handleFrame processes one inbound frame. It returns false when the actor
// must terminate.
func (s *Session) handleFrame(st *sessionState, frame inboundFrame, hbTicks chan struct{}, hbStop chan struct{}, hbStarted *bool) (bool, error) {
	if frame.S != nil {
		st.sequence = frame.S
	}

	switch frame.Op {
	case opHello:
		interval := defaultHeartbeatInterval
		var hello helloData
		if err := json.Unmarshal(frame.D, &hello); err == nil && hello.HeartbeatInterval > 0 {
			interval = time.Duration(hello.HeartbeatInterval) * time.Millisecond
		}
		if !*hbStarted {
			go heartbeatLoop(st.opts.Clock, interval, hbTicks, hbStop)
			*hbStarted = true
		}
		if !st.identified {
			slog.Debug("Sending identify")
			if err := writeFrame(st.conn, newIdentify(st.token, st.opts.UserAgent)); err != nil {
				return false, fmt.Errorf("identify send failed: %w", err)
			}
			st.identified = true
		}

	case opHeartbeatAck:
		// liveness only

	case opDispatch:
		return s.handleDispatch(st, frame)

	case opReconnect:
		slog.Info("Gateway requested reconnect, terminating session")
		return false, fmt.Errorf("gateway requested reconnect")

	case opInvalidSession:
		slog.Info("Gateway declared session invalid, terminating session")
		if st.pending != nil {
			st.pending.reply <- JoinResult{Err: fmt.Errorf("discord session invalid")}
			st.pending = nil
		}
		return false, fmt.Errorf("discord session invalid")
	}

	return true, nil
}

func (s *Session) handleDispatch(st *sessionState, frame inboundFrame) (bool, error) {
	switch frame.T {
	case eventReady, eventReadySupplemental:
		if frame.T == eventReady {
			var ready readyData
			if err := json.Unmarshal(frame.D, &ready); err == nil {
				st.sessionID = ready.SessionID
				st.userID = ready.User.ID
				slog.Debug("Gateway ready", "session_id", st.sessionID, "user_id", st.userID)
			}
		}
		// Replay the queued join now that the session is usable. A fresh
		// session cannot be in a voice channel, so no leave-before-join.
		if st.queued != nil && st.sessionID != "" {
			cmd := *st.queued
			st.queued = nil
			st.clearVoiceCapture()
			st.pending = &pendingJoin{guildID: cmd.guildID, channelID: cmd.channelID, reply: cmd.reply}
			slog.Debug("Replaying queued join", "guild_id", cmd.guildID, "channel_id", cmd.channelID)
			if err := writeFrame(st.conn, newVoiceStateUpdate(cmd.guildID, &cmd.channelID)); err != nil {
				return false, fmt.Errorf("voice state send failed: %w", err)
			}
		}

	case eventVoiceStateUpdate:
		var ev voiceStateData
		if err := json.Unmarshal(frame.D, &ev); err != nil {
			return true, nil
		}
		s.presence.apply(&ev)

		if st.pending != nil && ev.userID() == st.userID && st.userID != "" &&
			ev.GuildID == st.pending.guildID &&
			ev.ChannelID != nil && *ev.ChannelID == st.pending.channelID {
			st.pending.stateSeen = true
			st.tryResolveJoin()
		}

	case eventVoiceServerUpdate:
		var ev voiceServerData
		if err := json.Unmarshal(frame.D, &ev); err != nil {
			return true, nil
		}
		slog.Debug("Voice server update", "endpoint", ev.Endpoint, "guild_id", ev.GuildID)
		st.voiceToken = ev.Token
		st.voiceEndpoint = ev.Endpoint
		if ev.GuildID != "" {
			guildID := ev.GuildID
			st.voiceGuildID = &guildID
		}
		st.serverSeen = true
		st.tryResolveJoin()
	}

	return true, nil
}

// tryResolveJoin resolves the pending join once both correlated events have
// arrived, regardless of their order.
func (st *sessionState) tryResolveJoin() {
	if st.pending == nil || !st.pending.stateSeen || !st.serverSeen {
		return
	}

	info := &domain.VoiceServerInfo{
		Token:     st.voiceToken,
		Endpoint:  st.voiceEndpoint,
		GuildID:   st.voiceGuildID,
		SessionID: st.sessionID,
		UserID:    st.userID,
	}
	slog.Debug("Voice join resolved", "guild_id", st.pending.guildID, "endpoint", info.Endpoint)
	st.pending.reply <- JoinResult{Info: info}
	st.pending = nil
	st.clearVoiceCapture()
}

func (st *sessionState) clearVoiceCapture() {
	st.voiceToken = ""
	st.voiceEndpoint = nil
	st.voiceGuildID = nil
	st.serverSeen = false
}

// handleCommand processes one join/leave command. It returns false when the
// actor must terminate.
func (s *Session) handleCommand(st *sessionState, cmd command, terminalErr *error) bool {
	switch c := cmd.(type) {
	case joinCmd:
		if st.sessionID == "" {
			// Not ready yet: queue, keeping only the newest request.
			if st.queued != nil {
				st.queued.reply <- JoinResult{Err: domain.ErrSuperseded}
			}
			st.queued = &c
			slog.Debug("Gateway not ready, queueing join", "guild_id", c.guildID, "channel_id", c.channelID)
			return true
		}

		if st.pending != nil {
			st.pending.reply <- JoinResult{Err: domain.ErrSuperseded}
			st.pending = nil
		}

		// Leave first so Discord emits a fresh VOICE_SERVER_UPDATE instead
		// of replaying a cached one, then give it a moment to process.
		if err := writeFrame(st.conn, newVoiceStateUpdate(c.guildID, nil)); err != nil {
			c.reply <- JoinResult{Err: fmt.Errorf("voice state send failed: %w", err)}
			*terminalErr = fmt.Errorf("voice state send failed: %w", err)
			return false
		}
		st.opts.Clock.Sleep(st.opts.RejoinDelay)

		st.clearVoiceCapture()
		st.pending = &pendingJoin{guildID: c.guildID, channelID: c.channelID, reply: c.reply}
		slog.Debug("Sending voice join", "guild_id", c.guildID, "channel_id", c.channelID)
		if err := writeFrame(st.conn, newVoiceStateUpdate(c.guildID, &c.channelID)); err != nil {
			st.pending.reply <- JoinResult{Err: fmt.Errorf("voice state send failed: %w", err)}
			st.pending = nil
			*terminalErr = fmt.Errorf("voice state send failed: %w", err)
			return false
		}
		return true

	case leaveCmd:
		if err := writeFrame(st.conn, newVoiceStateUpdate(c.guildID, nil)); err != nil {
			c.reply <- fmt.Errorf("voice leave send failed: %w", err)
			*terminalErr = fmt.Errorf("voice leave send failed: %w", err)
			return false
		}
		c.reply <- nil
		return true
	}

	return true
}
