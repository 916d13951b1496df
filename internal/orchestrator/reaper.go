package orchestrator

import (
	"sync"
	"time"
)

// Reaper tracks one deferred destruction check per empty room. The
// check fires after the grace period and re-enters the guild
// serializer; a rejoin before the deadline cancels it, so deletion
// only ever happens at the end of a full quiet grace period.
type Reaper struct {
	grace time.Duration
	fire  func(guildID, roomID string)

	mu     sync.Mutex
	timers map[string]*time.Timer
}

func NewReaper(grace time.Duration, fire func(guildID, roomID string)) *Reaper {
	return &Reaper{
		grace:  grace,
		fire:   fire,
		timers: make(map[string]*time.Timer),
	}
}

func (r *Reaper) Grace() time.Duration {
	return r.grace
}

// Schedule arms (or re-arms) the room's grace timer.
func (r *Reaper) Schedule(guildID, roomID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if t, ok := r.timers[roomID]; ok {
		t.Stop()
	}
	r.timers[roomID] = time.AfterFunc(r.grace, func() {
		r.mu.Lock()
		delete(r.timers, roomID)
		r.mu.Unlock()
		r.fire(guildID, roomID)
	})
}

// Cancel disarms a pending check. Returns whether one was pending.
func (r *Reaper) Cancel(roomID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.timers[roomID]
	if !ok {
		return false
	}
	t.Stop()
	delete(r.timers, roomID)
	return true
}

func (r *Reaper) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, t := range r.timers {
		t.Stop()
		delete(r.timers, id)
	}
}
