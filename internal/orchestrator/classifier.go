package orchestrator

import (
	"context"
	"errors"
)

// Classifier maps one voice transition to at most one RoomCommand. It
// is pure with respect to the registry: reads only, never writes, and
// never calls the remote API.
type Classifier struct {
	registry Registry
	presence *Presence
}

func NewClassifier(registry Registry, presence *Presence) *Classifier {
	return &Classifier{registry: registry, presence: presence}
}

// Classify evaluates the transition rules in order and returns the
// first match, or nil when the transition concerns no managed channel.
// The presence view must already reflect the event.
func (c *Classifier) Classify(ctx context.Context, ev VoiceEvent) (cmd *RoomCommand, err error) {
	if ev.BeforeChannelID == ev.AfterChannelID {
		return
	}

	// Rule 1: entering the creator channel provisions a room.
	if ev.AfterChannelID != "" {
		cfg, cfgErr := c.registry.GetConfig(ctx, ev.GuildID)
		switch {
		case cfgErr == nil && cfg.CreatorChannelID == ev.AfterChannelID:
			cmd = &RoomCommand{
				GuildID:         ev.GuildID,
				Intent:          IntentCreate,
				SubjectUserID:   ev.UserID,
				SubjectName:     ev.DisplayName,
				SourceChannelID: ev.AfterChannelID,
			}
			return
		case cfgErr != nil && !errors.Is(cfgErr, ErrConfigMissing):
			err = cfgErr
			return
		}
	}

	// Rules 2 and 3: leaving a managed room.
	if ev.BeforeChannelID != "" {
		room, roomErr := c.registry.Room(ctx, ev.BeforeChannelID)
		switch {
		case roomErr == nil && c.presence.Count(room.RoomID) == 0:
			cmd = &RoomCommand{
				GuildID:         ev.GuildID,
				Intent:          IntentReap,
				SubjectUserID:   ev.UserID,
				SourceChannelID: room.RoomID,
				TargetChannelID: room.RoomID,
			}
			return
		case roomErr == nil && room.OwnerID != nil && *room.OwnerID == ev.UserID:
			cmd = &RoomCommand{
				GuildID:         ev.GuildID,
				Intent:          IntentAbandon,
				SubjectUserID:   ev.UserID,
				SourceChannelID: room.RoomID,
				TargetChannelID: room.RoomID,
			}
			return
		case roomErr != nil && !errors.Is(roomErr, ErrRoomNotFound):
			err = roomErr
			return
		}
	}

	// Backstop: the standing permission denial keeps rejected users
	// out, but a join that slipped through still gets disconnected.
	if ev.AfterChannelID != "" {
		room, roomErr := c.registry.Room(ctx, ev.AfterChannelID)
		if roomErr != nil {
			if !errors.Is(roomErr, ErrRoomNotFound) {
				err = roomErr
			}
			return
		}

		var rejects []string
		if rejects, err = c.registry.RejectList(ctx, room.RoomID); err != nil {
			return
		}
		for _, id := range rejects {
			if id == ev.UserID {
				cmd = &RoomCommand{
					GuildID:         ev.GuildID,
					Intent:          IntentEnforceReject,
					SubjectUserID:   ev.UserID,
					TargetChannelID: room.RoomID,
				}
				return
			}
		}
	}

	return
}
