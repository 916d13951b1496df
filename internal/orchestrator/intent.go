// Package orchestrator turns a guild's creator channel into a fleet of
// ephemeral, per-user-owned voice rooms and keeps that fleet consistent
// under concurrent joins and leaves, ownership transfer, claiming of
// orphaned rooms, and restart recovery. Events are classified into
// intents, serialized per guild, and executed by the lifecycle engine
// against the durable registry; a reconciler heals drift between the
// registry and observed remote state.
package orchestrator

// VoiceEvent is one user's voice-state transition as delivered by the
// gateway collaborator. Empty channel ids mean "not in voice".
type VoiceEvent struct {
	UserID          string
	GuildID         string
	BeforeChannelID string
	AfterChannelID  string
	DisplayName     string
}

type Intent int

const (
	// IntentCreate provisions a room for the user who entered the
	// creator channel.
	IntentCreate Intent = iota + 1
	// IntentReap debounces destruction of a room whose membership
	// reached zero.
	IntentReap
	// IntentAbandon orphans a room whose owner left while others
	// remain.
	IntentAbandon
	// IntentEnforceReject force-disconnects a rejected user who made
	// it into a room despite the standing permission denial.
	IntentEnforceReject
)

func (i Intent) String() string {
	switch i {
	case IntentCreate:
		return "create"
	case IntentReap:
		return "reap"
	case IntentAbandon:
		return "abandon"
	case IntentEnforceReject:
		return "enforce-reject"
	default:
		return "unknown"
	}
}

// RoomCommand is the transient unit of work queued on the guild
// serializer. It is never persisted.
type RoomCommand struct {
	GuildID         string
	Intent          Intent
	SubjectUserID   string
	SubjectName     string
	SourceChannelID string
	TargetChannelID string
}
