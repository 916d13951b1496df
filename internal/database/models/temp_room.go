package models

import (
	"time"

	"github.com/uptrace/bun"
)

// TempRoom is one live ephemeral voice room. RoomID is the remote
// channel id. OwnerID is nil while the room is orphaned and claimable.
// LastEmptyAt is set the moment membership reaches zero and cleared
// the moment it becomes non-zero again.
type TempRoom struct {
	bun.BaseModel

	RoomID      string `bun:",pk"`
	GuildID     string
	OwnerID     *string
	CreatedAt   time.Time
	Locked      bool
	LastEmptyAt *time.Time
}

type TempRoomAllow struct {
	bun.BaseModel

	ID     uint `bun:",pk,autoincrement"`
	RoomID string
	UserID string
}

type TempRoomReject struct {
	bun.BaseModel

	ID     uint `bun:",pk,autoincrement"`
	RoomID string
	UserID string
}
