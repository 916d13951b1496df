package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/voxroom-project/backend/internal/database/models"
	"github.com/voxroom-project/backend/internal/discord"
)

const defaultNameTemplate = "{user}'s room"

// Engine executes lifecycle operations against the registry and the
// remote API. Every method that mutates state expects to run while
// holding the owning guild's serializer slot; all ownership and state
// preconditions live here, nowhere else.
type Engine struct {
	registry Registry
	api      discord.API
	presence *Presence
	reaper   *Reaper

	autoClaim bool
	now       func() time.Time
}

func NewEngine(registry Registry, api discord.API, presence *Presence, reaper *Reaper, autoClaim bool) *Engine {
	return &Engine{
		registry:  registry,
		api:       api,
		presence:  presence,
		reaper:    reaper,
		autoClaim: autoClaim,
		now:       time.Now,
	}
}

// HandleCommand dispatches one classified event command.
func (e *Engine) HandleCommand(ctx context.Context, cmd RoomCommand) error {
	switch cmd.Intent {
	case IntentCreate:
		return e.create(ctx, cmd)
	case IntentReap:
		return e.markEmpty(ctx, cmd.GuildID, cmd.TargetChannelID)
	case IntentAbandon:
		return e.abandon(ctx, cmd.TargetChannelID)
	case IntentEnforceReject:
		return e.enforceReject(ctx, cmd.GuildID, cmd.SubjectUserID)
	default:
		return fmt.Errorf("unhandled intent %v", cmd.Intent)
	}
}

// create provisions a room for the user who entered the creator
// channel. A user who already owns a live room is moved back into it
// instead of getting a second one.
func (e *Engine) create(ctx context.Context, cmd RoomCommand) (err error) {
	var cfg models.GuildVoiceConfig
	if cfg, err = e.registry.GetConfig(ctx, cmd.GuildID); err != nil {
		return
	}

	var existing models.TempRoom
	var found bool
	if existing, found, err = e.registry.RoomByOwner(ctx, cmd.GuildID, cmd.SubjectUserID); err != nil {
		return
	} else if found {
		if err = e.api.MoveMember(ctx, cmd.GuildID, cmd.SubjectUserID, existing.RoomID); err != nil {
			err = remoteErr(err)
		}
		return
	}

	name := renderTemplate(cfg.NameTemplate, cmd.SubjectUserID, cmd.SubjectName)

	req := discord.ChannelCreate{
		Name:      name,
		UserLimit: cfg.DefaultLimit,
		Overwrites: []discord.Overwrite{
			everyoneOverwrite(cmd.GuildID, false),
			ownerOverwrite(cmd.SubjectUserID),
		},
	}
	if cfg.CategoryID != nil {
		req.CategoryID = *cfg.CategoryID
	}

	var channelID string
	if channelID, err = e.api.CreateChannel(ctx, cmd.GuildID, req); err != nil {
		// Dropped, not retried: the user's next join of the creator
		// channel issues a fresh Create.
		err = remoteErr(err)
		return
	}

	// The room outlives a failed move. If nobody ever arrives the
	// empty-room timer reaps it like any other empty room.
	if moveErr := e.api.MoveMember(ctx, cmd.GuildID, cmd.SubjectUserID, channelID); moveErr != nil {
		zap.L().Warn("room created but owner could not be moved",
			zap.String("guild_id", cmd.GuildID),
			zap.String("room_id", channelID),
			zap.String("owner_id", cmd.SubjectUserID),
			zap.Error(moveErr))
	}

	ownerID := cmd.SubjectUserID
	room := models.TempRoom{
		RoomID:    channelID,
		GuildID:   cmd.GuildID,
		OwnerID:   &ownerID,
		CreatedAt: e.now(),
	}
	if err = e.registry.InsertRoom(ctx, &room); err != nil {
		// The reconciler will adopt the channel on its next pass.
		zap.L().Error("created channel could not be registered",
			zap.String("room_id", channelID),
			zap.Error(err))
		return
	}

	// The gateway echo of the owner's move has not arrived yet, so the
	// room starts out empty. Arm the grace timer now; the echo revives
	// the room, and if nobody ever arrives it is reaped like any other
	// empty room.
	if e.presence.Count(channelID) == 0 {
		if err = e.registry.MarkEmpty(ctx, channelID, e.now()); err != nil {
			return
		}
		e.reaper.Schedule(cmd.GuildID, channelID)
	}

	zap.L().Info("room created",
		zap.String("guild_id", cmd.GuildID),
		zap.String("room_id", channelID),
		zap.String("owner_id", cmd.SubjectUserID),
		zap.String("name", name))
	return
}

// abandon handles the owner leaving a still-occupied room: the room is
// orphaned, or ownership passes to the longest-present occupant when
// auto-claim is on.
func (e *Engine) abandon(ctx context.Context, roomID string) (err error) {
	var room models.TempRoom
	if room, err = e.registry.Room(ctx, roomID); err != nil {
		if errors.Is(err, ErrRoomNotFound) {
			err = nil
		}
		return
	}

	if e.autoClaim {
		if heir, ok := e.presence.LongestPresent(roomID); ok {
			if err = e.registry.TransferRoom(ctx, roomID, heir); err != nil {
				return
			}
			zap.L().Info("abandoned room auto-promoted",
				zap.String("room_id", roomID),
				zap.String("owner_id", heir))
			return
		}
	}

	if err = e.registry.Orphan(ctx, roomID); err != nil {
		return
	}
	zap.L().Info("room orphaned", zap.String("room_id", roomID), zap.String("guild_id", room.GuildID))
	return
}

// markEmpty stamps last_empty_at and arms the grace timer.
func (e *Engine) markEmpty(ctx context.Context, guildID, roomID string) (err error) {
	if _, err = e.registry.Room(ctx, roomID); err != nil {
		if errors.Is(err, ErrRoomNotFound) {
			err = nil
		}
		return
	}

	if err = e.registry.MarkEmpty(ctx, roomID, e.now()); err != nil {
		return
	}
	e.reaper.Schedule(guildID, roomID)
	return
}

// ReapCheck runs when the grace period elapses. A room that became
// non-empty in the meantime survives; a still-empty room is destroyed
// exactly once. A failed remote delete leaves the row for the
// reconciler rather than blocking the guild's worker on retries.
func (e *Engine) ReapCheck(ctx context.Context, guildID, roomID string) (err error) {
	if _, err = e.registry.Room(ctx, roomID); err != nil {
		if errors.Is(err, ErrRoomNotFound) {
			err = nil
		}
		return
	}

	if e.presence.Count(roomID) > 0 {
		return e.registry.ClearEmpty(ctx, roomID)
	}

	if err = e.api.DeleteChannel(ctx, roomID); err != nil {
		err = remoteErr(err)
		return
	}
	if err = e.registry.DeleteRoom(ctx, roomID); err != nil {
		return
	}

	zap.L().Info("room reaped", zap.String("guild_id", guildID), zap.String("room_id", roomID))
	return
}

// Revive clears a pending empty-state once the room is occupied again.
func (e *Engine) Revive(ctx context.Context, roomID string) (err error) {
	e.reaper.Cancel(roomID)
	err = e.registry.ClearEmpty(ctx, roomID)
	return
}

func (e *Engine) enforceReject(ctx context.Context, guildID, userID string) (err error) {
	if err = e.api.MoveMember(ctx, guildID, userID, ""); err != nil {
		err = remoteErr(err)
	}
	return
}

// Setup creates or replaces the guild's voice configuration.
func (e *Engine) Setup(ctx context.Context, guildID, creatorChannelID, categoryID, nameTemplate string, defaultLimit int) (err error) {
	if creatorChannelID == "" {
		err = fmt.Errorf("creator channel id must not be empty")
		return
	}
	if nameTemplate == "" {
		nameTemplate = defaultNameTemplate
	}
	if defaultLimit < 0 {
		defaultLimit = 0
	}

	cfg := models.GuildVoiceConfig{
		GuildID:          guildID,
		CreatorChannelID: creatorChannelID,
		NameTemplate:     nameTemplate,
		DefaultLimit:     defaultLimit,
	}
	if categoryID != "" {
		cfg.CategoryID = &categoryID
	}

	if err = e.registry.UpsertConfig(ctx, &cfg); err != nil {
		return
	}

	zap.L().Info("guild voice config updated",
		zap.String("guild_id", guildID),
		zap.String("creator_channel_id", creatorChannelID))
	return
}

// SetLock locks or unlocks the room. Locking denies connect for
// everyone except the owner and the allow set; the standing reject
// denials are preserved either way.
func (e *Engine) SetLock(ctx context.Context, roomID, requesterID string, locked bool) (err error) {
	var room models.TempRoom
	if room, err = e.mustOwn(ctx, roomID, requesterID); err != nil {
		return
	}

	if err = e.pushOverwrites(ctx, room, room.OwnerID, locked); err != nil {
		return
	}
	err = e.registry.SetLocked(ctx, roomID, locked)
	return
}

// Rename changes the remote channel name. The name is not persisted;
// the registry tracks identity, not presentation.
func (e *Engine) Rename(ctx context.Context, roomID, requesterID, newName string) (err error) {
	if _, err = e.mustOwn(ctx, roomID, requesterID); err != nil {
		return
	}
	if strings.TrimSpace(newName) == "" {
		err = fmt.Errorf("room name must not be empty")
		return
	}

	if err = e.api.UpdateChannel(ctx, roomID, discord.ChannelPatch{Name: &newName}); err != nil {
		err = remoteErr(err)
	}
	return
}

func (e *Engine) SetLimit(ctx context.Context, roomID, requesterID string, limit int) (err error) {
	if _, err = e.mustOwn(ctx, roomID, requesterID); err != nil {
		return
	}
	if limit < 0 {
		err = fmt.Errorf("user limit must not be negative")
		return
	}

	if err = e.api.UpdateChannel(ctx, roomID, discord.ChannelPatch{UserLimit: &limit}); err != nil {
		err = remoteErr(err)
	}
	return
}

// Allow grants a user entry while the room is locked. An allowed user
// is also removed from the reject set.
func (e *Engine) Allow(ctx context.Context, roomID, requesterID, targetID string) (err error) {
	var room models.TempRoom
	if room, err = e.mustOwn(ctx, roomID, requesterID); err != nil {
		return
	}

	if err = e.pushOverwritesWith(ctx, room, room.OwnerID, room.Locked, targetID, ""); err != nil {
		return
	}

	if err = e.registry.RemoveReject(ctx, roomID, targetID); err != nil {
		return
	}
	err = e.registry.AddAllow(ctx, roomID, targetID)
	return
}

// Reject adds the user to the reject set, installs the standing
// connect denial, and disconnects them if currently present. The
// denial holds independent of lock state.
func (e *Engine) Reject(ctx context.Context, roomID, requesterID, targetID string) (err error) {
	var room models.TempRoom
	if room, err = e.mustOwn(ctx, roomID, requesterID); err != nil {
		return
	}
	if targetID == requesterID {
		err = fmt.Errorf("cannot reject the room owner")
		return
	}

	if err = e.pushOverwritesWith(ctx, room, room.OwnerID, room.Locked, "", targetID); err != nil {
		return
	}

	if e.presence.Contains(roomID, targetID) {
		if moveErr := e.api.MoveMember(ctx, room.GuildID, targetID, ""); moveErr != nil {
			err = remoteErr(moveErr)
			return
		}
	}

	if err = e.registry.RemoveAllow(ctx, roomID, targetID); err != nil {
		return
	}
	err = e.registry.AddReject(ctx, roomID, targetID)
	return
}

// Claim takes ownership of an orphaned room. Legal only when the room
// has no owner and the claimant is present in it.
func (e *Engine) Claim(ctx context.Context, roomID, claimantID string) (err error) {
	var room models.TempRoom
	if room, err = e.registry.Room(ctx, roomID); err != nil {
		return
	}
	if room.OwnerID != nil {
		err = ErrNotOrphaned
		return
	}
	if !e.presence.Contains(roomID, claimantID) {
		err = ErrNotPresent
		return
	}

	if err = e.pushOverwrites(ctx, room, &claimantID, room.Locked); err != nil {
		return
	}

	if err = e.registry.ClaimRoom(ctx, roomID, claimantID); err != nil {
		return
	}
	zap.L().Info("room claimed",
		zap.String("room_id", roomID),
		zap.String("owner_id", claimantID))
	return
}

// Transfer hands the room to another present occupant.
func (e *Engine) Transfer(ctx context.Context, roomID, requesterID, targetID string) (err error) {
	var room models.TempRoom
	if room, err = e.mustOwn(ctx, roomID, requesterID); err != nil {
		return
	}
	if !e.presence.Contains(roomID, targetID) {
		err = ErrNotPresent
		return
	}

	if err = e.pushOverwrites(ctx, room, &targetID, room.Locked); err != nil {
		return
	}

	if err = e.registry.TransferRoom(ctx, roomID, targetID); err != nil {
		return
	}
	zap.L().Info("room transferred",
		zap.String("room_id", roomID),
		zap.String("owner_id", targetID))
	return
}

func (e *Engine) mustOwn(ctx context.Context, roomID, requesterID string) (room models.TempRoom, err error) {
	if room, err = e.registry.Room(ctx, roomID); err != nil {
		return
	}
	if room.OwnerID == nil || *room.OwnerID != requesterID {
		err = ErrNotOwner
	}
	return
}

// pushOverwrites rebuilds and applies the room's full overwrite set
// for the given owner and lock state. Remote failure leaves the
// registry untouched: the caller returns before writing.
func (e *Engine) pushOverwrites(ctx context.Context, room models.TempRoom, ownerID *string, locked bool) error {
	return e.pushOverwritesWith(ctx, room, ownerID, locked, "", "")
}

// pushOverwritesWith additionally treats extraAllow/extraReject as
// already part of their sets, so the remote edit can precede the
// registry write.
func (e *Engine) pushOverwritesWith(ctx context.Context, room models.TempRoom, ownerID *string, locked bool, extraAllow, extraReject string) (err error) {
	var allows, rejects []string
	if allows, err = e.registry.AllowList(ctx, room.RoomID); err != nil {
		return
	}
	if rejects, err = e.registry.RejectList(ctx, room.RoomID); err != nil {
		return
	}

	if extraAllow != "" {
		allows = appendUnique(allows, extraAllow)
		rejects = removeID(rejects, extraAllow)
	}
	if extraReject != "" {
		rejects = appendUnique(rejects, extraReject)
		allows = removeID(allows, extraReject)
	}

	overwrites := buildOverwrites(room.GuildID, ownerID, allows, rejects, locked)
	if err = e.api.EditOverwrites(ctx, room.RoomID, overwrites); err != nil {
		err = remoteErr(err)
	}
	return
}

func buildOverwrites(guildID string, ownerID *string, allows, rejects []string, locked bool) []discord.Overwrite {
	out := []discord.Overwrite{everyoneOverwrite(guildID, locked)}
	if ownerID != nil {
		out = append(out, ownerOverwrite(*ownerID))
	}
	for _, id := range allows {
		if ownerID != nil && id == *ownerID {
			continue
		}
		out = append(out, discord.Overwrite{
			TargetID: id,
			Type:     discord.OverwriteMember,
			Allow:    discord.PermViewChannel | discord.PermConnect,
		})
	}
	for _, id := range rejects {
		out = append(out, discord.Overwrite{
			TargetID: id,
			Type:     discord.OverwriteMember,
			Deny:     discord.PermConnect,
		})
	}
	return out
}

func everyoneOverwrite(guildID string, locked bool) discord.Overwrite {
	ow := discord.Overwrite{
		TargetID: guildID,
		Type:     discord.OverwriteRole,
		Allow:    discord.PermViewChannel,
	}
	if locked {
		ow.Deny = discord.PermConnect
	} else {
		ow.Allow |= discord.PermConnect
	}
	return ow
}

func ownerOverwrite(userID string) discord.Overwrite {
	return discord.Overwrite{
		TargetID: userID,
		Type:     discord.OverwriteMember,
		Allow: discord.PermViewChannel | discord.PermConnect |
			discord.PermManageChannels | discord.PermManageRoles | discord.PermMoveMembers,
	}
}

func renderTemplate(template, userID, displayName string) string {
	if template == "" {
		template = defaultNameTemplate
	}
	name := displayName
	if name == "" {
		name = userID
	}
	return strings.ReplaceAll(template, "{user}", name)
}

func appendUnique(ids []string, id string) []string {
	for _, existing := range ids {
		if existing == id {
			return ids
		}
	}
	return append(ids, id)
}

func removeID(ids []string, id string) []string {
	out := ids[:0]
	for _, existing := range ids {
		if existing != id {
			out = append(out, existing)
		}
	}
	return out
}
