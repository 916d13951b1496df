package orchestrator

import (
	"sync"

	mapset "github.com/deckarep/golang-set"

	"github.com/voxroom-project/backend/internal/discord"
)

type channelState struct {
	guildID string
	members mapset.Set
	// order preserves observed join order, oldest first. Used to pick
	// the longest-present occupant for owner auto-promotion.
	order []string
}

// Presence is the in-memory view of who is in which voice channel,
// fed by every gateway event and rebuilt from remote listings on
// reconcile. Reads may run concurrently with everything.
type Presence struct {
	mu       sync.RWMutex
	channels map[string]*channelState
}

func NewPresence() *Presence {
	return &Presence{channels: make(map[string]*channelState)}
}

// Apply records one transition. It must run before the event is
// classified so classification sees the after-state.
func (p *Presence) Apply(ev VoiceEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if ev.BeforeChannelID != "" && ev.BeforeChannelID != ev.AfterChannelID {
		p.remove(ev.BeforeChannelID, ev.UserID)
	}
	if ev.AfterChannelID != "" {
		p.add(ev.GuildID, ev.AfterChannelID, ev.UserID)
	}
}

func (p *Presence) add(guildID, channelID, userID string) {
	st, ok := p.channels[channelID]
	if !ok {
		st = &channelState{guildID: guildID, members: mapset.NewThreadUnsafeSet()}
		p.channels[channelID] = st
	}
	if st.members.Add(userID) {
		st.order = append(st.order, userID)
	}
}

func (p *Presence) remove(channelID, userID string) {
	st, ok := p.channels[channelID]
	if !ok {
		return
	}
	st.members.Remove(userID)
	for i, id := range st.order {
		if id == userID {
			st.order = append(st.order[:i], st.order[i+1:]...)
			break
		}
	}
	if st.members.Cardinality() == 0 {
		delete(p.channels, channelID)
	}
}

func (p *Presence) Contains(channelID, userID string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	st, ok := p.channels[channelID]
	return ok && st.members.Contains(userID)
}

func (p *Presence) Count(channelID string) int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if st, ok := p.channels[channelID]; ok {
		return st.members.Cardinality()
	}
	return 0
}

// Occupants returns the channel's members in observed join order.
func (p *Presence) Occupants(channelID string) []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	st, ok := p.channels[channelID]
	if !ok {
		return nil
	}
	out := make([]string, len(st.order))
	copy(out, st.order)
	return out
}

// LongestPresent returns the occupant that has been in the channel the
// longest, if any.
func (p *Presence) LongestPresent(channelID string) (string, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	st, ok := p.channels[channelID]
	if !ok || len(st.order) == 0 {
		return "", false
	}
	return st.order[0], true
}

// Rebuild replaces the guild's view with an authoritative remote
// listing. Join order within a channel is lost for existing occupants;
// the listing order stands in for it.
func (p *Presence) Rebuild(guildID string, channels []discord.ChannelInfo) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for id, st := range p.channels {
		if st.guildID == guildID {
			delete(p.channels, id)
		}
	}

	for _, ch := range channels {
		for _, userID := range ch.OccupantIDs {
			p.add(guildID, ch.ChannelID, userID)
		}
	}
}
