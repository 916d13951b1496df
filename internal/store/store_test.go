package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	_ "modernc.org/sqlite"

	"github.com/voxroom-project/backend/internal/database/models"
	"github.com/voxroom-project/backend/internal/orchestrator"
)

func testStore(t *testing.T) *Store {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	sqldb, err := sql.Open("sqlite", dsn)
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	sqldb.SetMaxOpenConns(1)

	db := bun.NewDB(sqldb, sqlitedialect.New())
	t.Cleanup(func() { _ = db.Close() })

	ctx := context.Background()
	for _, model := range []interface{}{
		(*models.GuildVoiceConfig)(nil),
		(*models.TempRoom)(nil),
		(*models.TempRoomAllow)(nil),
		(*models.TempRoomReject)(nil),
	} {
		if _, err := db.NewCreateTable().Model(model).Exec(ctx); err != nil {
			t.Fatalf("create table: %v", err)
		}
	}
	for model, name := range map[interface{}]string{
		(*models.TempRoomAllow)(nil):  "temp_room_allows_room_user_idx",
		(*models.TempRoomReject)(nil): "temp_room_rejects_room_user_idx",
	} {
		if _, err := db.NewCreateIndex().Model(model).Index(name).Unique().Column("room_id", "user_id").Exec(ctx); err != nil {
			t.Fatalf("create index: %v", err)
		}
	}

	return New(db)
}

func insertTestRoom(t *testing.T, s *Store, roomID, guildID string, ownerID *string) models.TempRoom {
	t.Helper()
	room := models.TempRoom{
		RoomID:    roomID,
		GuildID:   guildID,
		OwnerID:   ownerID,
		CreatedAt: time.Now(),
	}
	if err := s.InsertRoom(context.Background(), &room); err != nil {
		t.Fatalf("insert room: %v", err)
	}
	return room
}

func TestConfigUpsert(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if _, err := s.GetConfig(ctx, "g1"); !errors.Is(err, orchestrator.ErrConfigMissing) {
		t.Fatalf("expected ErrConfigMissing, got %v", err)
	}

	cfg := models.GuildVoiceConfig{
		GuildID:          "g1",
		CreatorChannelID: "creator",
		NameTemplate:     "{user}'s room",
	}
	if err := s.UpsertConfig(ctx, &cfg); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	// A second setup replaces the existing row.
	cfg.CreatorChannelID = "creator-2"
	cfg.DefaultLimit = 5
	if err := s.UpsertConfig(ctx, &cfg); err != nil {
		t.Fatalf("upsert again: %v", err)
	}

	got, err := s.GetConfig(ctx, "g1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.CreatorChannelID != "creator-2" || got.DefaultLimit != 5 {
		t.Errorf("config was not replaced: %+v", got)
	}

	all, err := s.AllConfigs(ctx)
	if err != nil {
		t.Fatalf("all configs: %v", err)
	}
	if len(all) != 1 {
		t.Errorf("expected a single config row, got %d", len(all))
	}
}

func TestRoomLookup(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if _, err := s.Room(ctx, "missing"); !errors.Is(err, orchestrator.ErrRoomNotFound) {
		t.Fatalf("expected ErrRoomNotFound, got %v", err)
	}

	owner := "alice"
	insertTestRoom(t, s, "room1", "g1", &owner)

	room, err := s.Room(ctx, "room1")
	if err != nil {
		t.Fatalf("room: %v", err)
	}
	if room.OwnerID == nil || *room.OwnerID != "alice" {
		t.Errorf("unexpected owner %v", room.OwnerID)
	}

	_, found, err := s.RoomByOwner(ctx, "g1", "bob")
	if err != nil || found {
		t.Errorf("expected no room for bob (found=%v err=%v)", found, err)
	}

	byOwner, found, err := s.RoomByOwner(ctx, "g1", "alice")
	if err != nil || !found {
		t.Fatalf("expected alice's room (found=%v err=%v)", found, err)
	}
	if byOwner.RoomID != "room1" {
		t.Errorf("unexpected room %s", byOwner.RoomID)
	}
}

func TestClaimRequiresOrphanedRoom(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	owner := "alice"
	insertTestRoom(t, s, "owned", "g1", &owner)
	insertTestRoom(t, s, "orphan", "g1", nil)

	if err := s.ClaimRoom(ctx, "owned", "bob"); !errors.Is(err, orchestrator.ErrNotOrphaned) {
		t.Errorf("claim on owned room: expected ErrNotOrphaned, got %v", err)
	}
	if err := s.ClaimRoom(ctx, "missing", "bob"); !errors.Is(err, orchestrator.ErrRoomNotFound) {
		t.Errorf("claim on missing room: expected ErrRoomNotFound, got %v", err)
	}

	if err := s.ClaimRoom(ctx, "orphan", "bob"); err != nil {
		t.Fatalf("claim: %v", err)
	}
	room, _ := s.Room(ctx, "orphan")
	if room.OwnerID == nil || *room.OwnerID != "bob" {
		t.Errorf("expected bob as owner, got %v", room.OwnerID)
	}
}

func TestOrphanAndTransfer(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	owner := "alice"
	insertTestRoom(t, s, "room1", "g1", &owner)

	if err := s.Orphan(ctx, "room1"); err != nil {
		t.Fatalf("orphan: %v", err)
	}
	room, _ := s.Room(ctx, "room1")
	if room.OwnerID != nil {
		t.Fatalf("expected orphaned room, owner %v", room.OwnerID)
	}

	if err := s.TransferRoom(ctx, "room1", "carol"); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	room, _ = s.Room(ctx, "room1")
	if room.OwnerID == nil || *room.OwnerID != "carol" {
		t.Errorf("expected carol as owner, got %v", room.OwnerID)
	}
}

func TestEmptyMarkRoundTrip(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	owner := "alice"
	insertTestRoom(t, s, "room1", "g1", &owner)

	at := time.Now().Truncate(time.Second)
	if err := s.MarkEmpty(ctx, "room1", at); err != nil {
		t.Fatalf("mark empty: %v", err)
	}
	room, _ := s.Room(ctx, "room1")
	if room.LastEmptyAt == nil {
		t.Fatal("expected last_empty_at to be set")
	}

	if err := s.ClearEmpty(ctx, "room1"); err != nil {
		t.Fatalf("clear empty: %v", err)
	}
	room, _ = s.Room(ctx, "room1")
	if room.LastEmptyAt != nil {
		t.Errorf("expected last_empty_at cleared, got %v", room.LastEmptyAt)
	}
}

func TestDeleteRoomRemovesAccessLists(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	owner := "alice"
	insertTestRoom(t, s, "room1", "g1", &owner)

	if err := s.AddAllow(ctx, "room1", "bob"); err != nil {
		t.Fatalf("add allow: %v", err)
	}
	if err := s.AddReject(ctx, "room1", "mallory"); err != nil {
		t.Fatalf("add reject: %v", err)
	}

	if err := s.DeleteRoom(ctx, "room1"); err != nil {
		t.Fatalf("delete room: %v", err)
	}

	if _, err := s.Room(ctx, "room1"); !errors.Is(err, orchestrator.ErrRoomNotFound) {
		t.Errorf("expected room gone, got %v", err)
	}
	allows, err := s.AllowList(ctx, "room1")
	if err != nil || len(allows) != 0 {
		t.Errorf("expected empty allow list, got %v (err=%v)", allows, err)
	}
	rejects, err := s.RejectList(ctx, "room1")
	if err != nil || len(rejects) != 0 {
		t.Errorf("expected empty reject list, got %v (err=%v)", rejects, err)
	}
}

func TestAccessListIdempotence(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	owner := "alice"
	insertTestRoom(t, s, "room1", "g1", &owner)

	for i := 0; i < 3; i++ {
		if err := s.AddAllow(ctx, "room1", "bob"); err != nil {
			t.Fatalf("add allow #%d: %v", i, err)
		}
	}
	allows, err := s.AllowList(ctx, "room1")
	if err != nil {
		t.Fatalf("allow list: %v", err)
	}
	if len(allows) != 1 || allows[0] != "bob" {
		t.Errorf("expected [bob], got %v", allows)
	}

	if err := s.RemoveAllow(ctx, "room1", "bob"); err != nil {
		t.Fatalf("remove allow: %v", err)
	}
	allows, _ = s.AllowList(ctx, "room1")
	if len(allows) != 0 {
		t.Errorf("expected empty allow list, got %v", allows)
	}
}

func TestGuildRoomsOrderedByAge(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	old := models.TempRoom{RoomID: "old", GuildID: "g1", CreatedAt: time.Now().Add(-time.Hour)}
	young := models.TempRoom{RoomID: "young", GuildID: "g1", CreatedAt: time.Now()}
	other := models.TempRoom{RoomID: "other", GuildID: "g2", CreatedAt: time.Now()}
	for _, room := range []*models.TempRoom{&young, &old, &other} {
		if err := s.InsertRoom(ctx, room); err != nil {
			t.Fatalf("insert %s: %v", room.RoomID, err)
		}
	}

	rooms, err := s.GuildRooms(ctx, "g1")
	if err != nil {
		t.Fatalf("guild rooms: %v", err)
	}
	if len(rooms) != 2 || rooms[0].RoomID != "old" || rooms[1].RoomID != "young" {
		t.Errorf("unexpected rooms %v", rooms)
	}
}
