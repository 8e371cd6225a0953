package sync

import (
	"context"
	gosync "sync"
	"time"

	"github.com/tapin/tapin-go/internal/bus"
	"github.com/tapin/tapin-go/internal/netstatus"
	"go.uber.org/zap"
)

const defaultSyncInterval = 30 * time.Second

// Scheduler turns the trigger set (periodic tick, app focus, reconnect) into
// engine sync calls. Triggers may race; the epoch guard inside the engine is
// what makes that safe, so the scheduler does no deduplication beyond
// collapsing bursts into its trigger queue.
type Scheduler struct {
	engine   *Engine
	bus      *bus.Bus
	logger   *zap.Logger
	interval time.Duration

	mu      gosync.Mutex
	watched map[string]struct{}

	trigger chan string
	cancel  context.CancelFunc
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithSyncInterval overrides the periodic tick interval.
func WithSyncInterval(d time.Duration) SchedulerOption {
	return func(s *Scheduler) { s.interval = d }
}

// NewScheduler creates a scheduler driving the given engine.
func NewScheduler(engine *Engine, b *bus.Bus, logger *zap.Logger, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		engine:   engine,
		bus:      b,
		logger:   logger,
		interval: defaultSyncInterval,
		watched:  make(map[string]struct{}),
		trigger:  make(chan string, 4),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Watch adds a thread to the set synced on every trigger (the open chat
// screens) and requests an immediate sync for it.
func (s *Scheduler) Watch(threadID string) {
	s.mu.Lock()
	s.watched[threadID] = struct{}{}
	s.mu.Unlock()
	s.fire("watch")
}

// Unwatch removes a thread from the watched set.
func (s *Scheduler) Unwatch(threadID string) {
	s.mu.Lock()
	delete(s.watched, threadID)
	s.mu.Unlock()
}

// Focus is called by the host app when the window or app regains focus.
func (s *Scheduler) Focus() {
	s.fire("focus")
}

// Start runs the trigger loop: an immediate initial sync, the periodic tick,
// and reconnect events from the network monitor.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)

	events, unsub := s.bus.Subscribe("net.status_changed", 16)
	go func() {
		defer unsub()
		for {
			select {
			case evt := <-events:
				if change, ok := evt.Payload.(netstatus.StatusChange); ok && change.To == netstatus.Online {
					s.fire("reconnect")
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	go s.loop(ctx)
}

// Stop stops the trigger loop.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
}

func (s *Scheduler) fire(reason string) {
	select {
	case s.trigger <- reason:
	default:
	}
}

func (s *Scheduler) loop(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.runAll(ctx, "initial")
	for {
		select {
		case <-ticker.C:
			s.runAll(ctx, "tick")
		case reason := <-s.trigger:
			s.runAll(ctx, reason)
		case <-ctx.Done():
			return
		}
	}
}

func (s *Scheduler) runAll(ctx context.Context, reason string) {
	s.logger.Debug("sync trigger", zap.String("reason", reason))

	if err := s.engine.SyncThreads(ctx); err != nil {
		s.logger.Warn("thread sync error", zap.String("reason", reason), zap.Error(err))
	}
	if err := s.engine.SyncFriends(ctx); err != nil {
		s.logger.Warn("friend sync error", zap.String("reason", reason), zap.Error(err))
	}

	s.mu.Lock()
	threads := make([]string, 0, len(s.watched))
	for id := range s.watched {
		threads = append(threads, id)
	}
	s.mu.Unlock()

	for _, id := range threads {
		if err := s.engine.SyncMessages(ctx, id); err != nil {
			s.logger.Warn("message sync error", zap.String("thread_id", id), zap.Error(err))
		}
		if ctx.Err() != nil {
			return
		}
	}
}
