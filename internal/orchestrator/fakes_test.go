package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/voxroom-project/backend/internal/database/models"
	"github.com/voxroom-project/backend/internal/discord"
)

// fakeRegistry is an in-memory Registry for tests.
type fakeRegistry struct {
	mu      sync.Mutex
	configs map[string]models.GuildVoiceConfig
	rooms   map[string]models.TempRoom
	allows  map[string][]string
	rejects map[string][]string
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{
		configs: make(map[string]models.GuildVoiceConfig),
		rooms:   make(map[string]models.TempRoom),
		allows:  make(map[string][]string),
		rejects: make(map[string][]string),
	}
}

func (f *fakeRegistry) GetConfig(_ context.Context, guildID string) (models.GuildVoiceConfig, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cfg, ok := f.configs[guildID]
	if !ok {
		return models.GuildVoiceConfig{}, ErrConfigMissing
	}
	return cfg, nil
}

func (f *fakeRegistry) UpsertConfig(_ context.Context, cfg *models.GuildVoiceConfig) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.configs[cfg.GuildID] = *cfg
	return nil
}

func (f *fakeRegistry) AllConfigs(_ context.Context) ([]models.GuildVoiceConfig, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.GuildVoiceConfig, 0, len(f.configs))
	for _, cfg := range f.configs {
		out = append(out, cfg)
	}
	return out, nil
}

func (f *fakeRegistry) InsertRoom(_ context.Context, room *models.TempRoom) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.rooms[room.RoomID]; ok {
		return fmt.Errorf("room %s already exists", room.RoomID)
	}
	f.rooms[room.RoomID] = *room
	return nil
}

func (f *fakeRegistry) Room(_ context.Context, roomID string) (models.TempRoom, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	room, ok := f.rooms[roomID]
	if !ok {
		return models.TempRoom{}, ErrRoomNotFound
	}
	return room, nil
}

func (f *fakeRegistry) RoomByOwner(_ context.Context, guildID, ownerID string) (models.TempRoom, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var best models.TempRoom
	found := false
	for _, room := range f.rooms {
		if room.GuildID != guildID || room.OwnerID == nil || *room.OwnerID != ownerID {
			continue
		}
		if !found || room.CreatedAt.Before(best.CreatedAt) {
			best = room
			found = true
		}
	}
	return best, found, nil
}

func (f *fakeRegistry) GuildRooms(_ context.Context, guildID string) ([]models.TempRoom, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.TempRoom, 0)
	for _, room := range f.rooms {
		if room.GuildID == guildID {
			out = append(out, room)
		}
	}
	return out, nil
}

func (f *fakeRegistry) Orphan(_ context.Context, roomID string) error {
	return f.update(roomID, func(r *models.TempRoom) { r.OwnerID = nil })
}

func (f *fakeRegistry) ClaimRoom(_ context.Context, roomID, claimantID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	room, ok := f.rooms[roomID]
	if !ok {
		return ErrRoomNotFound
	}
	if room.OwnerID != nil {
		return ErrNotOrphaned
	}
	room.OwnerID = &claimantID
	f.rooms[roomID] = room
	return nil
}

func (f *fakeRegistry) TransferRoom(_ context.Context, roomID, newOwnerID string) error {
	return f.update(roomID, func(r *models.TempRoom) { r.OwnerID = &newOwnerID })
}

func (f *fakeRegistry) SetLocked(_ context.Context, roomID string, locked bool) error {
	return f.update(roomID, func(r *models.TempRoom) { r.Locked = locked })
}

func (f *fakeRegistry) MarkEmpty(_ context.Context, roomID string, at time.Time) error {
	return f.update(roomID, func(r *models.TempRoom) { r.LastEmptyAt = &at })
}

func (f *fakeRegistry) ClearEmpty(_ context.Context, roomID string) error {
	return f.update(roomID, func(r *models.TempRoom) { r.LastEmptyAt = nil })
}

func (f *fakeRegistry) DeleteRoom(_ context.Context, roomID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.rooms, roomID)
	delete(f.allows, roomID)
	delete(f.rejects, roomID)
	return nil
}

func (f *fakeRegistry) AddAllow(_ context.Context, roomID, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.allows[roomID] = appendUnique(f.allows[roomID], userID)
	return nil
}

func (f *fakeRegistry) RemoveAllow(_ context.Context, roomID, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.allows[roomID] = removeID(f.allows[roomID], userID)
	return nil
}

func (f *fakeRegistry) AddReject(_ context.Context, roomID, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rejects[roomID] = appendUnique(f.rejects[roomID], userID)
	return nil
}

func (f *fakeRegistry) RemoveReject(_ context.Context, roomID, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rejects[roomID] = removeID(f.rejects[roomID], userID)
	return nil
}

func (f *fakeRegistry) AllowList(_ context.Context, roomID string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.allows[roomID]...), nil
}

func (f *fakeRegistry) RejectList(_ context.Context, roomID string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.rejects[roomID]...), nil
}

func (f *fakeRegistry) update(roomID string, fn func(*models.TempRoom)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	room, ok := f.rooms[roomID]
	if !ok {
		return ErrRoomNotFound
	}
	fn(&room)
	f.rooms[roomID] = room
	return nil
}

func (f *fakeRegistry) roomCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.rooms)
}

type moveCall struct {
	guildID   string
	userID    string
	channelID string
}

// fakeAPI is an in-memory remote API with injectable failures.
type fakeAPI struct {
	mu     sync.Mutex
	nextID int

	channels   map[string]discord.ChannelInfo
	overwrites map[string][]discord.Overwrite
	moves      []moveCall
	deleted    []string

	failCreate error
	failMove   error
	failDelete error
	failList   error
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		channels:   make(map[string]discord.ChannelInfo),
		overwrites: make(map[string][]discord.Overwrite),
	}
}

func (f *fakeAPI) CreateChannel(_ context.Context, guildID string, req discord.ChannelCreate) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failCreate != nil {
		return "", f.failCreate
	}
	f.nextID++
	id := fmt.Sprintf("chan-%d", f.nextID)
	f.channels[id] = discord.ChannelInfo{ChannelID: id, Name: req.Name}
	f.overwrites[id] = req.Overwrites
	return id, nil
}

func (f *fakeAPI) DeleteChannel(_ context.Context, channelID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failDelete != nil {
		return f.failDelete
	}
	delete(f.channels, channelID)
	f.deleted = append(f.deleted, channelID)
	return nil
}

func (f *fakeAPI) UpdateChannel(_ context.Context, channelID string, patch discord.ChannelPatch) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch, ok := f.channels[channelID]
	if ok && patch.Name != nil {
		ch.Name = *patch.Name
		f.channels[channelID] = ch
	}
	return nil
}

func (f *fakeAPI) MoveMember(_ context.Context, guildID, userID, channelID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failMove != nil {
		return f.failMove
	}
	f.moves = append(f.moves, moveCall{guildID: guildID, userID: userID, channelID: channelID})
	return nil
}

func (f *fakeAPI) EditOverwrites(_ context.Context, channelID string, overwrites []discord.Overwrite) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.overwrites[channelID] = overwrites
	return nil
}

func (f *fakeAPI) ListChannels(_ context.Context, guildID, categoryID string) ([]discord.ChannelInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failList != nil {
		return nil, f.failList
	}
	out := make([]discord.ChannelInfo, 0, len(f.channels))
	for _, ch := range f.channels {
		out = append(out, ch)
	}
	return out, nil
}

func (f *fakeAPI) setChannel(ch discord.ChannelInfo) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.channels[ch.ChannelID] = ch
}

func (f *fakeAPI) channelCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.channels)
}

func (f *fakeAPI) lastMove() (moveCall, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.moves) == 0 {
		return moveCall{}, false
	}
	return f.moves[len(f.moves)-1], true
}

func (f *fakeAPI) deletedChannels() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.deleted...)
}

func (f *fakeAPI) overwritesFor(channelID string) []discord.Overwrite {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]discord.Overwrite(nil), f.overwrites[channelID]...)
}
