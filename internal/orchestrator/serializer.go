package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrQueueFull is returned when a guild's command queue cannot accept
// another job. Event-driven callers drop and log; the next event for
// the same situation re-derives the work.
var ErrQueueFull = errors.New("guild command queue is full")

type job struct {
	name   string
	run    func(ctx context.Context) error
	result chan error
}

type guildWorker struct {
	jobs   chan job
	closed bool
}

// Serializer admits one in-flight mutation per guild. Workers are
// created lazily on the first command for a guild and retired once
// idle; different guilds execute fully in parallel.
type Serializer struct {
	queueSize int
	idleAfter time.Duration

	mu     sync.Mutex
	guilds map[string]*guildWorker

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewSerializer(ctx context.Context, queueSize int, idleAfter time.Duration) *Serializer {
	ctx, cancel := context.WithCancel(ctx)
	return &Serializer{
		queueSize: queueSize,
		idleAfter: idleAfter,
		guilds:    make(map[string]*guildWorker),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Enqueue submits a job without waiting for it. A false return means
// the guild's queue was full and the job was dropped.
func (s *Serializer) Enqueue(guildID, name string, fn func(ctx context.Context) error) bool {
	return s.submit(guildID, job{name: name, run: fn})
}

// Do submits a job and waits for its result. The context bounds only
// the wait: once started, the job runs to completion on the worker so
// a canceled caller cannot leave a half-applied mutation behind.
func (s *Serializer) Do(ctx context.Context, guildID, name string, fn func(ctx context.Context) error) error {
	j := job{name: name, run: fn, result: make(chan error, 1)}
	if !s.submit(guildID, j) {
		return ErrQueueFull
	}

	select {
	case err := <-j.result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Serializer) submit(guildID string, j job) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ctx.Err() != nil {
		return false
	}

	w, ok := s.guilds[guildID]
	if !ok || w.closed {
		w = &guildWorker{jobs: make(chan job, s.queueSize)}
		s.guilds[guildID] = w
		s.wg.Add(1)
		go s.runWorker(guildID, w)
	}

	select {
	case w.jobs <- j:
		return true
	default:
		return false
	}
}

func (s *Serializer) runWorker(guildID string, w *guildWorker) {
	defer s.wg.Done()

	idle := time.NewTimer(s.idleAfter)
	defer idle.Stop()

	for {
		select {
		case <-s.ctx.Done():
			s.retire(guildID, w)
			s.drain(w)
			return
		case j := <-w.jobs:
			s.execute(guildID, j)
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(s.idleAfter)
		case <-idle.C:
			if s.tryRetire(guildID, w) {
				return
			}
			idle.Reset(s.idleAfter)
		}
	}
}

func (s *Serializer) execute(guildID string, j job) {
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("command panicked: %v", r)
			zap.L().Error("guild command panicked",
				zap.String("guild_id", guildID),
				zap.String("command", j.name),
				zap.Any("panic", r))
			if j.result != nil {
				j.result <- err
			}
		}
	}()

	err := j.run(s.ctx)
	if j.result != nil {
		j.result <- err
	} else if err != nil {
		zap.L().Warn("guild command failed",
			zap.String("guild_id", guildID),
			zap.String("command", j.name),
			zap.Error(err))
	}
}

// tryRetire tears the worker down if nothing raced a new job into the
// queue. Submission and retirement both hold the map lock, so no job
// can land on a retired worker.
func (s *Serializer) tryRetire(guildID string, w *guildWorker) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(w.jobs) > 0 {
		return false
	}
	w.closed = true
	delete(s.guilds, guildID)
	return true
}

func (s *Serializer) retire(guildID string, w *guildWorker) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w.closed = true
	delete(s.guilds, guildID)
}

func (s *Serializer) drain(w *guildWorker) {
	for {
		select {
		case j := <-w.jobs:
			if j.result != nil {
				j.result <- s.ctx.Err()
			}
		default:
			return
		}
	}
}

// Close stops accepting jobs and waits for in-flight commands.
func (s *Serializer) Close() {
	s.cancel()
	s.wg.Wait()
}
