package gateway

import (
	"fmt"
	"sync"

	"github.com/pscheid92/voicebridge/internal/domain"
)

const avatarURLFormat = "https://cdn.discordapp.com/avatars/%s/%s.png?size=64"

// Presence caches live voice membership per guild, fed by every
// VOICE_STATE_UPDATE the session observes, not just the owner's. It is
// written only by the owning session actor and read by HTTP handlers, so
// the lock is held for snapshot duration only.
//
// The cache has no TTL: it lives exactly as long as its session, and a
// rebuilt session starts from an empty cache.
type Presence struct {
	mu      sync.Mutex
	byGuild map[string]map[string]domain.VoiceParticipant
}

func newPresence() *Presence {
	return &Presence{byGuild: make(map[string]map[string]domain.VoiceParticipant)}
}

// apply folds one voice state event into the cache. A nil channel removes
// the user from the guild; anything else inserts or overwrites.
func (p *Presence) apply(ev *voiceStateData) {
	userID := ev.userID()
	if ev.GuildID == "" || userID == "" {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	guild, ok := p.byGuild[ev.GuildID]
	if !ok {
		guild = make(map[string]domain.VoiceParticipant)
		p.byGuild[ev.GuildID] = guild
	}

	if ev.ChannelID == nil {
		delete(guild, userID)
		return
	}

	guild[userID] = domain.VoiceParticipant{
		UserID:      userID,
		ChannelID:   ev.ChannelID,
		DisplayName: displayName(ev.Member),
		AvatarURL:   avatarURL(userID, ev.Member),
	}
}

// Participants returns a snapshot of the guild's voice members, optionally
// filtered to one channel. An unknown guild yields an empty slice.
func (p *Presence) Participants(guildID string, channelID *string) []domain.VoiceParticipant {
	p.mu.Lock()
	defer p.mu.Unlock()

	guild := p.byGuild[guildID]
	participants := make([]domain.VoiceParticipant, 0, len(guild))
	for _, participant := range guild {
		if channelID != nil && (participant.ChannelID == nil || *participant.ChannelID != *channelID) {
			continue
		}
		participants = append(participants, participant)
	}
	return participants
}

// displayName prefers the guild nick, then the global name, then the
// account username.
func displayName(member *memberData) *string {
	if member == nil {
		return nil
	}
	if member.Nick != nil && *member.Nick != "" {
		return member.Nick
	}
	if member.User.GlobalName != nil && *member.User.GlobalName != "" {
		return member.User.GlobalName
	}
	if member.User.Username != "" {
		name := member.User.Username
		return &name
	}
	return nil
}

func avatarURL(userID string, member *memberData) *string {
	if member == nil || member.User.Avatar == nil {
		return nil
	}
	url := fmt.Sprintf(avatarURLFormat, userID, *member.User.Avatar)
	return &url
}
