package orchestrator

import (
	"context"
	"math/rand"
	"sort"
	"strings"
	"time"

	"github.com/davecgh/go-spew/spew"
	"go.uber.org/zap"

	"github.com/voxroom-project/backend/internal/database/models"
	"github.com/voxroom-project/backend/internal/discord"
)

// Reconciler periodically audits each guild's registry against the
// observed remote state and heals divergence: rows whose channel was
// removed out-of-band, channels left behind by a crash mid-creation,
// stuck reaps, and duplicate-owner corruption. It is the only writer
// besides the lifecycle engine, and it takes the same per-guild
// serializer slot before mutating, so it never races a live command.
type Reconciler struct {
	registry Registry
	api      discord.API
	presence *Presence
	ser      *Serializer

	interval time.Duration
	grace    time.Duration
	debug    bool

	rng *rand.Rand
	now func() time.Time
}

func NewReconciler(registry Registry, api discord.API, presence *Presence, ser *Serializer, interval, grace time.Duration, debug bool) *Reconciler {
	return &Reconciler{
		registry: registry,
		api:      api,
		presence: presence,
		ser:      ser,
		interval: interval,
		grace:    grace,
		debug:    debug,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
		now:      time.Now,
	}
}

// Run blocks until the context is canceled. Each tick schedules one
// sweep per configured guild at a random offset inside the interval,
// so guilds never hit the remote API in a thundering herd.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.scheduleSweeps(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.scheduleSweeps(ctx)
		}
	}
}

func (r *Reconciler) scheduleSweeps(ctx context.Context) {
	cfgs, err := r.registry.AllConfigs(ctx)
	if err != nil {
		zap.L().Warn("reconciler could not list guild configs", zap.Error(err))
		return
	}

	for _, cfg := range cfgs {
		cfg := cfg
		jitter := time.Duration(r.rng.Int63n(int64(r.interval / 2)))
		time.AfterFunc(jitter, func() {
			if ctx.Err() != nil {
				return
			}
			r.ser.Enqueue(cfg.GuildID, "reconcile", func(ctx context.Context) error {
				return r.Sweep(ctx, cfg)
			})
		})
	}
}

// Sweep reconciles one guild. It expects to run while holding the
// guild's serializer slot.
func (r *Reconciler) Sweep(ctx context.Context, cfg models.GuildVoiceConfig) (err error) {
	var rooms []models.TempRoom
	if rooms, err = r.registry.GuildRooms(ctx, cfg.GuildID); err != nil {
		return
	}

	categoryID := ""
	if cfg.CategoryID != nil {
		categoryID = *cfg.CategoryID
	}

	var remote []discord.ChannelInfo
	if remote, err = r.api.ListChannels(ctx, cfg.GuildID, categoryID); err != nil {
		// Leave everything alone: next pass retries.
		zap.L().Warn("reconciler could not list remote channels",
			zap.String("guild_id", cfg.GuildID),
			zap.Error(err))
		err = nil
		return
	}

	r.presence.Rebuild(cfg.GuildID, remote)

	remoteByID := make(map[string]discord.ChannelInfo, len(remote))
	for _, ch := range remote {
		remoteByID[ch.ChannelID] = ch
	}

	if r.debug {
		zap.L().Debug("reconciler state",
			zap.String("guild_id", cfg.GuildID),
			zap.String("registry", spew.Sdump(rooms)),
			zap.String("remote", spew.Sdump(remote)))
	}

	live := rooms[:0]
	for _, room := range rooms {
		ch, exists := remoteByID[room.RoomID]

		// Channel removed out-of-band: drop the row.
		if !exists {
			if err = r.registry.DeleteRoom(ctx, room.RoomID); err != nil {
				return
			}
			zap.L().Info("registry row removed for vanished channel",
				zap.String("guild_id", cfg.GuildID),
				zap.String("room_id", room.RoomID))
			continue
		}

		// A room observed empty with no pending mark never produced a
		// Reap event (the last occupant left it straight into the
		// creator channel). Stamp it so a later sweep destroys it.
		if room.LastEmptyAt == nil && len(ch.OccupantIDs) == 0 {
			if err = r.registry.MarkEmpty(ctx, room.RoomID, r.now()); err != nil {
				return
			}
		}

		// Stuck reap: the delete never landed. Retry it here instead
		// of inside the lifecycle engine.
		if room.LastEmptyAt != nil && r.now().Sub(*room.LastEmptyAt) > r.grace+r.interval {
			if len(ch.OccupantIDs) > 0 {
				if err = r.registry.ClearEmpty(ctx, room.RoomID); err != nil {
					return
				}
			} else {
				if delErr := r.api.DeleteChannel(ctx, room.RoomID); delErr != nil {
					zap.L().Warn("reap retry failed",
						zap.String("room_id", room.RoomID),
						zap.Error(delErr))
					live = append(live, room)
					continue
				}
				if err = r.registry.DeleteRoom(ctx, room.RoomID); err != nil {
					return
				}
				// The channel is gone; keep adoptUnknown from deleting
				// it a second time.
				delete(remoteByID, room.RoomID)
				zap.L().Info("stuck reap completed", zap.String("room_id", room.RoomID))
				continue
			}
		}

		live = append(live, room)
	}

	if err = r.adoptUnknown(ctx, cfg, live, remoteByID); err != nil {
		return
	}

	err = r.healDuplicateOwners(ctx, cfg.GuildID, live, remoteByID)
	return
}

// adoptUnknown handles remote channels matching the guild's naming
// pattern that the registry does not know: occupied ones are adopted
// as orphaned (crash between create and insert), empty ones deleted.
func (r *Reconciler) adoptUnknown(ctx context.Context, cfg models.GuildVoiceConfig, rooms []models.TempRoom, remoteByID map[string]discord.ChannelInfo) (err error) {
	known := make(map[string]bool, len(rooms))
	for _, room := range rooms {
		known[room.RoomID] = true
	}

	match := templateMatcher(cfg.NameTemplate)
	for id, ch := range remoteByID {
		if id == cfg.CreatorChannelID || known[id] || !match(ch.Name) {
			continue
		}

		if len(ch.OccupantIDs) == 0 {
			if delErr := r.api.DeleteChannel(ctx, id); delErr != nil {
				zap.L().Warn("could not delete stale channel",
					zap.String("channel_id", id),
					zap.Error(delErr))
			}
			continue
		}

		room := models.TempRoom{
			RoomID:    id,
			GuildID:   cfg.GuildID,
			CreatedAt: r.now(),
		}
		if err = r.registry.InsertRoom(ctx, &room); err != nil {
			return
		}
		zap.L().Info("adopted unknown occupied channel as orphaned room",
			zap.String("guild_id", cfg.GuildID),
			zap.String("room_id", id))
	}
	return
}

// healDuplicateOwners enforces the one-room-per-owner invariant. A
// crash between channel creation and registration followed by a fresh
// Create can leave one owner on two rows; the oldest row wins.
func (r *Reconciler) healDuplicateOwners(ctx context.Context, guildID string, rooms []models.TempRoom, remoteByID map[string]discord.ChannelInfo) (err error) {
	byOwner := make(map[string][]models.TempRoom)
	for _, room := range rooms {
		if room.OwnerID == nil {
			continue
		}
		byOwner[*room.OwnerID] = append(byOwner[*room.OwnerID], room)
	}

	for ownerID, owned := range byOwner {
		if len(owned) < 2 {
			continue
		}

		sort.Slice(owned, func(i, j int) bool {
			return owned[i].CreatedAt.Before(owned[j].CreatedAt)
		})

		for _, younger := range owned[1:] {
			zap.L().Error("duplicate owner rooms",
				zap.String("guild_id", guildID),
				zap.String("owner_id", ownerID),
				zap.String("kept_room_id", owned[0].RoomID),
				zap.String("dropped_room_id", younger.RoomID),
				zap.Error(ErrRegistryCorruption))

			if ch, ok := remoteByID[younger.RoomID]; ok && len(ch.OccupantIDs) == 0 {
				if delErr := r.api.DeleteChannel(ctx, younger.RoomID); delErr != nil {
					zap.L().Warn("could not delete duplicate room channel",
						zap.String("room_id", younger.RoomID),
						zap.Error(delErr))
				}
			}
			if err = r.registry.DeleteRoom(ctx, younger.RoomID); err != nil {
				return
			}
		}
	}
	return
}

// templateMatcher builds a loose matcher from the name template: the
// literal text around the {user} placeholder must surround the name.
func templateMatcher(template string) func(string) bool {
	if template == "" {
		template = defaultNameTemplate
	}

	idx := strings.Index(template, "{user}")
	if idx < 0 {
		return func(name string) bool { return name == template }
	}

	prefix := template[:idx]
	suffix := template[idx+len("{user}"):]
	return func(name string) bool {
		return len(name) >= len(prefix)+len(suffix) &&
			strings.HasPrefix(name, prefix) &&
			strings.HasSuffix(name, suffix)
	}
}
