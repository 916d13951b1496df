// Package gateway consumes the voice-state-transition stream from the
// transport collaborator. Delivery is at-least-once and may be out of
// order across users; ordering per user is all downstream needs.
package gateway

import "context"

// VoiceState is one user's voice transition. Empty channel ids stand
// in for "not in voice".
type VoiceState struct {
	UserID          string `json:"userId"`
	GuildID         string `json:"guildId"`
	BeforeChannelID string `json:"beforeChannelId"`
	AfterChannelID  string `json:"afterChannelId"`
	DisplayName     string `json:"displayName"`
}

// Handler receives every decoded event. It must not block for long;
// anything expensive belongs behind the guild serializer.
type Handler func(ctx context.Context, ev VoiceState)
