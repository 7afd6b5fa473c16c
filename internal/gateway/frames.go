package gateway

import "encoding/json"

// Gateway opcodes (v9). Only the subset the session interprets.
const (
	opDispatch         = 0
	opHeartbeat        = 1
	opIdentify         = 2
	opVoiceStateUpdate = 4
	opReconnect        = 7
	opInvalidSession   = 9
	opHello            = 10
	opHeartbeatAck     = 11
)

// Dispatch event names the session interprets. Everything else is ignored.
const (
	eventReady             = "READY"
	eventReadySupplemental = "READY_SUPPLEMENTAL"
	eventVoiceStateUpdate  = "VOICE_STATE_UPDATE"
	eventVoiceServerUpdate = "VOICE_SERVER_UPDATE"
)

// inboundFrame is the gateway's envelope: opcode, optional dispatch name,
// optional sequence number, opaque payload.
type inboundFrame struct {
	Op int             `json:"op"`
	T  string          `json:"t,omitempty"`
	S  *int64          `json:"s,omitempty"`
	D  json.RawMessage `json:"d,omitempty"`
}

type helloData struct {
	HeartbeatInterval int64 `json:"heartbeat_interval"`
}

type readyData struct {
	SessionID string `json:"session_id"`
	User      struct {
		ID string `json:"id"`
	} `json:"user"`
}

type memberUser struct {
	ID         string  `json:"id"`
	Username   string  `json:"username"`
	GlobalName *string `json:"global_name"`
	Avatar     *string `json:"avatar"`
}

type memberData struct {
	Nick *string    `json:"nick"`
	User memberUser `json:"user"`
}

type voiceStateData struct {
	GuildID   string      `json:"guild_id"`
	ChannelID *string     `json:"channel_id"`
	UserID    string      `json:"user_id"`
	Member    *memberData `json:"member"`
}

// userID returns the event's user, which arrives either top-level or nested
// in the member object depending on the gateway's mood.
func (v *voiceStateData) userID() string {
	if v.UserID != "" {
		return v.UserID
	}
	if v.Member != nil {
		return v.Member.User.ID
	}
	return ""
}

type voiceServerData struct {
	Token    string  `json:"token"`
	Endpoint *string `json:"endpoint"`
	GuildID  string  `json:"guild_id"`
}

// --- Outbound payloads ---

type outboundFrame struct {
	Op int `json:"op"`
	D  any `json:"d"`
}

// identifyData mirrors what the official web client sends with op 2. The
// gateway refuses bare-bones identifies from user tokens, so the client
// metadata matters.
type identifyData struct {
	Token        string             `json:"token"`
	Capabilities int                `json:"capabilities"`
	Properties   identifyProperties `json:"properties"`
	Presence     identifyPresence   `json:"presence"`
	Compress     bool               `json:"compress"`
	ClientState  identifyState      `json:"client_state"`
}

type identifyProperties struct {
	OS                string `json:"os"`
	Browser           string `json:"browser"`
	Device            string `json:"device"`
	SystemLocale      string `json:"system_locale"`
	BrowserUserAgent  string `json:"browser_user_agent"`
	BrowserVersion    string `json:"browser_version"`
	OSVersion         string `json:"os_version"`
	Referrer          string `json:"referrer"`
	ReferringDomain   string `json:"referring_domain"`
	ReleaseChannel    string `json:"release_channel"`
	ClientBuildNumber int    `json:"client_build_number"`
}

type identifyPresence struct {
	Activities []any  `json:"activities"`
	Status     string `json:"status"`
	Since      int    `json:"since"`
	AFK        bool   `json:"afk"`
}

type identifyState struct {
	GuildVersions        map[string]any `json:"guild_versions"`
	HighestLastMessageID string         `json:"highest_last_message_id"`
	ReadStateVersion     int            `json:"read_state_version"`
	APICodeVersion       int            `json:"api_code_version"`
}

func newIdentify(token, userAgent string) outboundFrame {
	return outboundFrame{
		Op: opIdentify,
		D: identifyData{
			Token:        token,
			Capabilities: 30717,
			Properties: identifyProperties{
				OS:                "Windows",
				Browser:           "Chrome",
				SystemLocale:      "en-US",
				BrowserUserAgent:  userAgent,
				BrowserVersion:    "131.0.0.0",
				OSVersion:         "10",
				ReleaseChannel:    "stable",
				ClientBuildNumber: 366068,
			},
			Presence: identifyPresence{
				Activities: []any{},
				Status:     "online",
			},
			ClientState: identifyState{
				GuildVersions:        map[string]any{},
				HighestLastMessageID: "0",
			},
		},
	}
}

func newHeartbeat(sequence *int64) outboundFrame {
	return outboundFrame{Op: opHeartbeat, D: sequence}
}

type voiceStateUpdateData struct {
	GuildID   string  `json:"guild_id"`
	ChannelID *string `json:"channel_id"`
	SelfMute  bool    `json:"self_mute"`
	SelfDeaf  bool    `json:"self_deaf"`
	SelfVideo bool    `json:"self_video"`
}

// newVoiceStateUpdate builds op 4. A nil channelID means "leave voice in
// this guild".
func newVoiceStateUpdate(guildID string, channelID *string) outboundFrame {
	return outboundFrame{
		Op: opVoiceStateUpdate,
		D: voiceStateUpdateData{
			GuildID:   guildID,
			ChannelID: channelID,
		},
	}
}
