// Package outbox drains locally-queued outgoing messages to the server with
// exponential backoff and bounded retries. The queue is the persisted outbox
// table; entries survive restarts and are deleted only on a terminal outcome.
package outbox

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/tapin/tapin-go/internal/api"
	"github.com/tapin/tapin-go/internal/bus"
	"github.com/tapin/tapin-go/internal/netstatus"
	"github.com/tapin/tapin-go/internal/store"
	"go.uber.org/zap"
)

// Deliverer is the slice of the API client the processor needs.
type Deliverer interface {
	CreateMessage(ctx context.Context, req api.CreateMessageRequest) (*api.Message, error)
}

// StatusSource gates delivery passes on the current network quality.
type StatusSource interface {
	Status() netstatus.Status
}

const defaultInterval = 3 * time.Second

// Processor owns the outbox drain loop.
type Processor struct {
	db       *store.DB
	deliver  Deliverer
	net      StatusSource
	bus      *bus.Bus
	logger   *zap.Logger
	interval time.Duration

	// Reentrancy guard: at most one full pass runs at a time. Overlapping
	// ticks skip entirely instead of queueing behind each other.
	busy   atomic.Bool
	kick   chan struct{}
	cancel context.CancelFunc
}

// ProcessorOption configures a Processor.
type ProcessorOption func(*Processor)

// WithInterval overrides the tick interval.
func WithInterval(d time.Duration) ProcessorOption {
	return func(p *Processor) { p.interval = d }
}

// NewProcessor creates an outbox processor.
func NewProcessor(db *store.DB, deliver Deliverer, net StatusSource, b *bus.Bus, logger *zap.Logger, opts ...ProcessorOption) *Processor {
	p := &Processor{
		db:       db,
		deliver:  deliver,
		net:      net,
		bus:      b,
		logger:   logger,
		interval: defaultInterval,
		kick:     make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Enqueue durably queues an outgoing message and inserts the optimistic
// pending cache row. Returns the client-generated id that identifies the
// message until the server assigns one.
func (p *Processor) Enqueue(threadID, userID, content, messageType string) (string, error) {
	if messageType == "" {
		messageType = "text"
	}
	clientID := uuid.NewString()
	now := time.Now().UTC().Format(time.RFC3339Nano)

	if err := p.db.EnqueueOutbox(&store.OutboxEntry{
		ID:          clientID,
		ClientID:    clientID,
		ThreadID:    threadID,
		UserID:      userID,
		Content:     content,
		MessageType: messageType,
		CreatedAt:   now,
	}); err != nil {
		return "", err
	}
	if err := p.db.InsertMessage(&store.CachedMessage{
		ID:          clientID,
		ThreadID:    threadID,
		UserID:      userID,
		Content:     content,
		MessageType: messageType,
		CreatedAt:   now,
		Status:      store.StatusPending,
		ClientID:    clientID,
	}); err != nil {
		return "", err
	}

	p.publish("message.queued", map[string]string{"client_id": clientID, "thread_id": threadID})
	p.Kick()
	return clientID, nil
}

// RetryFailed re-queues a message previously marked failed. The cache row
// flips back to pending under the same client id and delivery is attempted
// on the next pass.
func (p *Processor) RetryFailed(clientID string) error {
	msg, err := p.db.GetMessageByClientID(clientID)
	if err != nil {
		return err
	}
	if msg == nil || msg.Status != store.StatusFailed {
		return nil
	}

	if err := p.db.EnqueueOutbox(&store.OutboxEntry{
		ID:          uuid.NewString(),
		ClientID:    clientID,
		ThreadID:    msg.ThreadID,
		UserID:      msg.UserID,
		Content:     msg.Content,
		MessageType: msg.MessageType,
		CreatedAt:   msg.CreatedAt,
	}); err != nil {
		return err
	}
	if err := p.db.SetMessageStatusByClientID(clientID, store.StatusPending); err != nil {
		return err
	}
	p.Kick()
	return nil
}

// Kick requests an immediate pass (reconnect, app foreground, fresh enqueue).
func (p *Processor) Kick() {
	select {
	case p.kick <- struct{}{}:
	default:
	}
}

// Start begins the drain loop and wires the reconnect trigger.
func (p *Processor) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)

	events, unsub := p.bus.Subscribe("net.status_changed", 16)
	go func() {
		defer unsub()
		for {
			select {
			case evt := <-events:
				if change, ok := evt.Payload.(netstatus.StatusChange); ok && change.To == netstatus.Online {
					p.Kick()
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	go p.loop(ctx)
}

// Stop stops the drain loop.
func (p *Processor) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
}

func (p *Processor) loop(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.ProcessPending(ctx)
	for {
		select {
		case <-ticker.C:
			p.ProcessPending(ctx)
		case <-p.kick:
			p.ProcessPending(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// ProcessPending runs one full pass over the queue. Returns immediately if a
// previous pass is still executing or the network is offline.
func (p *Processor) ProcessPending(ctx context.Context) {
	if !p.busy.CompareAndSwap(false, true) {
		return
	}
	defer p.busy.Store(false)

	if p.net != nil && p.net.Status() == netstatus.Offline {
		return
	}

	pending, err := p.db.PendingOutbox()
	if err != nil {
		p.logger.Error("failed to read outbox", zap.Error(err))
		return
	}

	now := time.Now()
	for i := range pending {
		entry := &pending[i]
		switch decide(entry, now, func(n int) time.Duration { return withJitter(Backoff(n)) }) {
		case actionWait:
			continue
		case actionExhaust:
			p.finishTerminal(entry, "retry_exhausted")
			p.logger.Error("message exceeded max retries", zap.String("client_id", entry.ClientID))
		case actionSend:
			p.attempt(ctx, entry)
		}
		if ctx.Err() != nil {
			return
		}
	}
}

func (p *Processor) attempt(ctx context.Context, entry *store.OutboxEntry) {
	msg, err := p.deliver.CreateMessage(ctx, api.CreateMessageRequest{
		ChatID:      entry.ThreadID,
		UserID:      entry.UserID,
		Content:     entry.Content,
		MessageType: entry.MessageType,
		ClientID:    entry.ClientID,
	})

	switch {
	case err == nil:
		serverID := ""
		if msg != nil {
			serverID = msg.ID
		}
		if serverID != "" {
			if err := p.db.AdoptServerID(entry.ClientID, serverID); err != nil {
				p.logger.Error("failed to adopt server id", zap.Error(err), zap.String("client_id", entry.ClientID))
				return
			}
		} else {
			if err := p.db.SetMessageStatusByClientID(entry.ClientID, store.StatusSent); err != nil {
				p.logger.Error("failed to mark sent", zap.Error(err), zap.String("client_id", entry.ClientID))
				return
			}
		}
		if err := p.db.DeleteOutbox(entry.ID); err != nil {
			p.logger.Error("failed to delete outbox entry", zap.Error(err), zap.String("client_id", entry.ClientID))
			return
		}
		p.logger.Info("message sent",
			zap.String("client_id", entry.ClientID),
			zap.String("server_id", serverID))
		p.publish("message.sent", map[string]string{"client_id": entry.ClientID, "server_id": serverID})

	case errors.Is(err, api.ErrOutsideRadius), errors.Is(err, api.ErrLocationUnavailable):
		// Non-retryable rejection. The user gets a manual retry affordance.
		p.finishTerminal(entry, err.Error())
		p.logger.Warn("message rejected",
			zap.String("client_id", entry.ClientID),
			zap.Error(err))

	default:
		if err := p.db.BumpOutboxRetry(entry.ID, time.Now().UnixMilli()); err != nil {
			p.logger.Error("failed to bump retry", zap.Error(err), zap.String("client_id", entry.ClientID))
			return
		}
		p.logger.Warn("message delivery failed, will retry",
			zap.String("client_id", entry.ClientID),
			zap.Int("retry", entry.RetryCount+1),
			zap.Error(err))
	}
}

func (p *Processor) finishTerminal(entry *store.OutboxEntry, reason string) {
	if err := p.db.SetMessageStatusByClientID(entry.ClientID, store.StatusFailed); err != nil {
		p.logger.Error("failed to mark message failed", zap.Error(err), zap.String("client_id", entry.ClientID))
	}
	if err := p.db.DeleteOutbox(entry.ID); err != nil {
		p.logger.Error("failed to delete outbox entry", zap.Error(err), zap.String("client_id", entry.ClientID))
	}
	p.publish("message.send_failed", map[string]string{"client_id": entry.ClientID, "reason": reason})
}

func (p *Processor) publish(kind string, payload any) {
	if p.bus == nil {
		return
	}
	p.bus.Publish(bus.Event{Kind: kind, Timestamp: time.Now(), Payload: payload})
}
