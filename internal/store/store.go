// Package store is the access layer for the durable room registry and
// the per-guild voice configuration. The registry is only ever written
// while holding the owning guild's serializer slot; the store itself
// keeps each mutation atomic but enforces no cross-call ordering.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"github.com/voxroom-project/backend/internal/database/models"
	"github.com/voxroom-project/backend/internal/orchestrator"
)

type Store struct {
	db *bun.DB
}

func New(db *bun.DB) *Store {
	return &Store{db: db}
}

func (s *Store) GetConfig(ctx context.Context, guildID string) (cfg models.GuildVoiceConfig, err error) {
	err = s.db.NewSelect().
		Model(&cfg).
		Where("guild_id = ?", guildID).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		err = orchestrator.ErrConfigMissing
	}
	return
}

func (s *Store) UpsertConfig(ctx context.Context, cfg *models.GuildVoiceConfig) (err error) {
	_, err = s.db.NewInsert().
		Model(cfg).
		On("CONFLICT (guild_id) DO UPDATE").
		Set("creator_channel_id = EXCLUDED.creator_channel_id").
		Set("category_id = EXCLUDED.category_id").
		Set("name_template = EXCLUDED.name_template").
		Set("default_limit = EXCLUDED.default_limit").
		Exec(ctx)
	return
}

func (s *Store) AllConfigs(ctx context.Context) (cfgs []models.GuildVoiceConfig, err error) {
	err = s.db.NewSelect().
		Model(&cfgs).
		Order("guild_id ASC").
		Scan(ctx)
	return
}

func (s *Store) InsertRoom(ctx context.Context, room *models.TempRoom) (err error) {
	_, err = s.db.NewInsert().
		Model(room).
		Exec(ctx)
	return
}

func (s *Store) Room(ctx context.Context, roomID string) (room models.TempRoom, err error) {
	err = s.db.NewSelect().
		Model(&room).
		Where("room_id = ?", roomID).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		err = orchestrator.ErrRoomNotFound
	}
	return
}

// RoomByOwner returns the live room owned by the given user in the
// given guild, if any. Owners hold at most one room per guild.
func (s *Store) RoomByOwner(ctx context.Context, guildID, ownerID string) (room models.TempRoom, found bool, err error) {
	err = s.db.NewSelect().
		Model(&room).
		Where("guild_id = ?", guildID).
		Where("owner_id = ?", ownerID).
		Order("created_at ASC").
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		err = nil
		return
	}
	found = err == nil
	return
}

func (s *Store) GuildRooms(ctx context.Context, guildID string) (rooms []models.TempRoom, err error) {
	err = s.db.NewSelect().
		Model(&rooms).
		Where("guild_id = ?", guildID).
		Order("created_at ASC").
		Scan(ctx)
	return
}

// Orphan clears the room's owner, making it a claim target.
func (s *Store) Orphan(ctx context.Context, roomID string) (err error) {
	_, err = s.db.NewUpdate().
		Model((*models.TempRoom)(nil)).
		Where("room_id = ?", roomID).
		Set("owner_id = NULL").
		Exec(ctx)
	return
}

// ClaimRoom assigns the claimant as owner. The orphan precondition is
// re-checked inside the transaction so a claim can never overwrite a
// live owner, whatever the caller observed beforehand.
func (s *Store) ClaimRoom(ctx context.Context, roomID, claimantID string) (err error) {
	err = s.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) (err error) {
		var room models.TempRoom
		err = tx.NewSelect().
			Model(&room).
			Where("room_id = ?", roomID).
			Scan(ctx)
		if errors.Is(err, sql.ErrNoRows) {
			err = orchestrator.ErrRoomNotFound
			return
		} else if err != nil {
			return
		}

		if room.OwnerID != nil {
			err = orchestrator.ErrNotOrphaned
			return
		}

		_, err = tx.NewUpdate().
			Model((*models.TempRoom)(nil)).
			Where("room_id = ?", roomID).
			Set("owner_id = ?", claimantID).
			Exec(ctx)
		return
	})
	return
}

// TransferRoom hands ownership to another user. Unlike ClaimRoom the
// room is expected to have an owner already; the engine has verified
// the requester before calling.
func (s *Store) TransferRoom(ctx context.Context, roomID, newOwnerID string) (err error) {
	_, err = s.db.NewUpdate().
		Model((*models.TempRoom)(nil)).
		Where("room_id = ?", roomID).
		Set("owner_id = ?", newOwnerID).
		Exec(ctx)
	return
}

func (s *Store) SetLocked(ctx context.Context, roomID string, locked bool) (err error) {
	_, err = s.db.NewUpdate().
		Model((*models.TempRoom)(nil)).
		Where("room_id = ?", roomID).
		Set("locked = ?", locked).
		Exec(ctx)
	return
}

func (s *Store) MarkEmpty(ctx context.Context, roomID string, at time.Time) (err error) {
	_, err = s.db.NewUpdate().
		Model((*models.TempRoom)(nil)).
		Where("room_id = ?", roomID).
		Set("last_empty_at = ?", at).
		Exec(ctx)
	return
}

func (s *Store) ClearEmpty(ctx context.Context, roomID string) (err error) {
	_, err = s.db.NewUpdate().
		Model((*models.TempRoom)(nil)).
		Where("room_id = ?", roomID).
		Set("last_empty_at = NULL").
		Exec(ctx)
	return
}

// DeleteRoom removes the room row and its allow/reject entries. The
// explicit deletes keep the behavior identical on databases where the
// cascade is not in force (the in-memory test database).
func (s *Store) DeleteRoom(ctx context.Context, roomID string) (err error) {
	err = s.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) (err error) {
		if _, err = tx.NewDelete().
			Model((*models.TempRoomAllow)(nil)).
			Where("room_id = ?", roomID).
			Exec(ctx); err != nil {
			return
		}

		if _, err = tx.NewDelete().
			Model((*models.TempRoomReject)(nil)).
			Where("room_id = ?", roomID).
			Exec(ctx); err != nil {
			return
		}

		_, err = tx.NewDelete().
			Model((*models.TempRoom)(nil)).
			Where("room_id = ?", roomID).
			Exec(ctx)
		return
	})
	if err != nil {
		err = fmt.Errorf("delete room %s: %w", roomID, err)
	}
	return
}

func (s *Store) AddAllow(ctx context.Context, roomID, userID string) (err error) {
	_, err = s.db.NewInsert().
		Model(&models.TempRoomAllow{RoomID: roomID, UserID: userID}).
		On("CONFLICT (room_id, user_id) DO NOTHING").
		Exec(ctx)
	return
}

func (s *Store) RemoveAllow(ctx context.Context, roomID, userID string) (err error) {
	_, err = s.db.NewDelete().
		Model((*models.TempRoomAllow)(nil)).
		Where("room_id = ?", roomID).
		Where("user_id = ?", userID).
		Exec(ctx)
	return
}

func (s *Store) AddReject(ctx context.Context, roomID, userID string) (err error) {
	_, err = s.db.NewInsert().
		Model(&models.TempRoomReject{RoomID: roomID, UserID: userID}).
		On("CONFLICT (room_id, user_id) DO NOTHING").
		Exec(ctx)
	return
}

func (s *Store) RemoveReject(ctx context.Context, roomID, userID string) (err error) {
	_, err = s.db.NewDelete().
		Model((*models.TempRoomReject)(nil)).
		Where("room_id = ?", roomID).
		Where("user_id = ?", userID).
		Exec(ctx)
	return
}

func (s *Store) AllowList(ctx context.Context, roomID string) (userIDs []string, err error) {
	userIDs = make([]string, 0)
	err = s.db.NewSelect().
		Model((*models.TempRoomAllow)(nil)).
		Column("user_id").
		Where("room_id = ?", roomID).
		Order("id ASC").
		Scan(ctx, &userIDs)
	return
}

func (s *Store) RejectList(ctx context.Context, roomID string) (userIDs []string, err error) {
	userIDs = make([]string, 0)
	err = s.db.NewSelect().
		Model((*models.TempRoomReject)(nil)).
		Column("user_id").
		Where("room_id = ?", roomID).
		Order("id ASC").
		Scan(ctx, &userIDs)
	return
}
