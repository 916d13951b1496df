package orchestrator

import (
	"context"
	"time"

	"github.com/voxroom-project/backend/internal/database/models"
)

// Registry is the durable room table plus the per-guild configuration.
// The lifecycle engine and the reconciler are its only writers, and
// both hold the guild's serializer slot while writing.
type Registry interface {
	GetConfig(ctx context.Context, guildID string) (models.GuildVoiceConfig, error)
	UpsertConfig(ctx context.Context, cfg *models.GuildVoiceConfig) error
	AllConfigs(ctx context.Context) ([]models.GuildVoiceConfig, error)

	InsertRoom(ctx context.Context, room *models.TempRoom) error
	Room(ctx context.Context, roomID string) (models.TempRoom, error)
	RoomByOwner(ctx context.Context, guildID, ownerID string) (models.TempRoom, bool, error)
	GuildRooms(ctx context.Context, guildID string) ([]models.TempRoom, error)
	Orphan(ctx context.Context, roomID string) error
	ClaimRoom(ctx context.Context, roomID, claimantID string) error
	TransferRoom(ctx context.Context, roomID, newOwnerID string) error
	SetLocked(ctx context.Context, roomID string, locked bool) error
	MarkEmpty(ctx context.Context, roomID string, at time.Time) error
	ClearEmpty(ctx context.Context, roomID string) error
	DeleteRoom(ctx context.Context, roomID string) error

	AddAllow(ctx context.Context, roomID, userID string) error
	RemoveAllow(ctx context.Context, roomID, userID string) error
	AddReject(ctx context.Context, roomID, userID string) error
	RemoveReject(ctx context.Context, roomID, userID string) error
	AllowList(ctx context.Context, roomID string) ([]string, error)
	RejectList(ctx context.Context, roomID string) ([]string, error)
}
