package orchestrator

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/voxroom-project/backend/internal/discord"
)

type Options struct {
	Registry Registry
	API      discord.API

	// QueueSize bounds each guild's command queue.
	QueueSize int
	// IdleAfter is how long an idle guild worker lingers before
	// teardown.
	IdleAfter time.Duration
	// ReapGrace is the empty-room grace period before destruction.
	ReapGrace time.Duration
	// ReconcileInterval is the per-guild drift sweep period.
	ReconcileInterval time.Duration
	// AutoClaim promotes the longest-present occupant when an owner
	// abandons a non-empty room, instead of orphaning it.
	AutoClaim bool
	Debug     bool
}

// Orchestrator wires the classify-then-enqueue pipeline together and
// exposes the owner command surface to the dispatch collaborator.
type Orchestrator struct {
	registry   Registry
	presence   *Presence
	classifier *Classifier
	engine     *Engine
	ser        *Serializer
	reaper     *Reaper
	reconciler *Reconciler
}

func New(ctx context.Context, opts Options) *Orchestrator {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 64
	}
	if opts.IdleAfter <= 0 {
		opts.IdleAfter = 5 * time.Minute
	}
	if opts.ReapGrace <= 0 {
		opts.ReapGrace = 30 * time.Second
	}
	if opts.ReconcileInterval <= 0 {
		opts.ReconcileInterval = 3 * time.Minute
	}

	presence := NewPresence()
	ser := NewSerializer(ctx, opts.QueueSize, opts.IdleAfter)

	var engine *Engine
	reaper := NewReaper(opts.ReapGrace, func(guildID, roomID string) {
		ok := ser.Enqueue(guildID, "reap-check", func(ctx context.Context) error {
			return engine.ReapCheck(ctx, guildID, roomID)
		})
		if !ok {
			// The reconciler picks the room up as a stuck reap.
			zap.L().Warn("reap check dropped, queue full",
				zap.String("guild_id", guildID),
				zap.String("room_id", roomID))
		}
	})
	engine = NewEngine(opts.Registry, opts.API, presence, reaper, opts.AutoClaim)

	return &Orchestrator{
		registry:   opts.Registry,
		presence:   presence,
		classifier: NewClassifier(opts.Registry, presence),
		engine:     engine,
		ser:        ser,
		reaper:     reaper,
		reconciler: NewReconciler(opts.Registry, opts.API, presence, ser,
			opts.ReconcileInterval, opts.ReapGrace, opts.Debug),
	}
}

// Run drives the reconciler until the context is canceled.
func (o *Orchestrator) Run(ctx context.Context) {
	o.reconciler.Run(ctx)
}

// Close stops timers and waits for in-flight guild commands.
func (o *Orchestrator) Close() {
	o.reaper.Stop()
	o.ser.Close()
}

// HandleVoiceState is the gateway entry point: update presence,
// classify, enqueue. It never blocks on remote calls.
func (o *Orchestrator) HandleVoiceState(ctx context.Context, ev VoiceEvent) {
	o.presence.Apply(ev)

	// A join into a room with a pending empty-state cancels the reap.
	if ev.AfterChannelID != "" {
		if room, err := o.registry.Room(ctx, ev.AfterChannelID); err == nil && room.LastEmptyAt != nil {
			roomID := room.RoomID
			o.ser.Enqueue(ev.GuildID, "revive", func(ctx context.Context) error {
				return o.engine.Revive(ctx, roomID)
			})
		}
	}

	cmd, err := o.classifier.Classify(ctx, ev)
	if err != nil {
		zap.L().Warn("event classification failed",
			zap.String("guild_id", ev.GuildID),
			zap.String("user_id", ev.UserID),
			zap.Error(err))
		return
	}
	if cmd == nil {
		return
	}

	command := *cmd
	ok := o.ser.Enqueue(command.GuildID, command.Intent.String(), func(ctx context.Context) error {
		return o.engine.HandleCommand(ctx, command)
	})
	if !ok {
		zap.L().Warn("command dropped, guild queue full",
			zap.String("guild_id", command.GuildID),
			zap.String("intent", command.Intent.String()))
	}
}

// Setup creates or replaces a guild's voice configuration.
func (o *Orchestrator) Setup(ctx context.Context, guildID, creatorChannelID, categoryID, nameTemplate string, defaultLimit int) error {
	return o.ser.Do(ctx, guildID, "setup", func(ctx context.Context) error {
		return o.engine.Setup(ctx, guildID, creatorChannelID, categoryID, nameTemplate, defaultLimit)
	})
}

func (o *Orchestrator) Lock(ctx context.Context, roomID, requesterID string) error {
	return o.roomCommand(ctx, roomID, "lock", func(ctx context.Context) error {
		return o.engine.SetLock(ctx, roomID, requesterID, true)
	})
}

func (o *Orchestrator) Unlock(ctx context.Context, roomID, requesterID string) error {
	return o.roomCommand(ctx, roomID, "unlock", func(ctx context.Context) error {
		return o.engine.SetLock(ctx, roomID, requesterID, false)
	})
}

func (o *Orchestrator) Rename(ctx context.Context, roomID, requesterID, newName string) error {
	return o.roomCommand(ctx, roomID, "rename", func(ctx context.Context) error {
		return o.engine.Rename(ctx, roomID, requesterID, newName)
	})
}

func (o *Orchestrator) SetLimit(ctx context.Context, roomID, requesterID string, limit int) error {
	return o.roomCommand(ctx, roomID, "set-limit", func(ctx context.Context) error {
		return o.engine.SetLimit(ctx, roomID, requesterID, limit)
	})
}

func (o *Orchestrator) Allow(ctx context.Context, roomID, requesterID, targetID string) error {
	return o.roomCommand(ctx, roomID, "allow", func(ctx context.Context) error {
		return o.engine.Allow(ctx, roomID, requesterID, targetID)
	})
}

func (o *Orchestrator) Reject(ctx context.Context, roomID, requesterID, targetID string) error {
	return o.roomCommand(ctx, roomID, "reject", func(ctx context.Context) error {
		return o.engine.Reject(ctx, roomID, requesterID, targetID)
	})
}

func (o *Orchestrator) Claim(ctx context.Context, roomID, claimantID string) error {
	return o.roomCommand(ctx, roomID, "claim", func(ctx context.Context) error {
		return o.engine.Claim(ctx, roomID, claimantID)
	})
}

func (o *Orchestrator) Transfer(ctx context.Context, roomID, requesterID, targetID string) error {
	return o.roomCommand(ctx, roomID, "transfer", func(ctx context.Context) error {
		return o.engine.Transfer(ctx, roomID, requesterID, targetID)
	})
}

// RoomInfo is the read-only room state handed to the embed-formatting
// collaborator.
type RoomInfo struct {
	RoomID     string
	GuildID    string
	OwnerID    *string
	CreatedAt  time.Time
	Locked     bool
	Occupants  []string
	AllowList  []string
	RejectList []string
}

// Info reads room state without taking the guild's serializer slot.
func (o *Orchestrator) Info(ctx context.Context, roomID string) (info RoomInfo, err error) {
	room, err := o.registry.Room(ctx, roomID)
	if err != nil {
		return
	}

	info = RoomInfo{
		RoomID:    room.RoomID,
		GuildID:   room.GuildID,
		OwnerID:   room.OwnerID,
		CreatedAt: room.CreatedAt,
		Locked:    room.Locked,
		Occupants: o.presence.Occupants(roomID),
	}
	if info.AllowList, err = o.registry.AllowList(ctx, roomID); err != nil {
		return
	}
	info.RejectList, err = o.registry.RejectList(ctx, roomID)
	return
}

// roomCommand resolves the room's guild and runs the mutation under
// that guild's serializer slot.
func (o *Orchestrator) roomCommand(ctx context.Context, roomID, name string, fn func(ctx context.Context) error) error {
	room, err := o.registry.Room(ctx, roomID)
	if err != nil {
		return err
	}
	return o.ser.Do(ctx, room.GuildID, name, fn)
}
