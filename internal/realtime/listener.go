// Package realtime keeps the cache live between full syncs by applying
// server-pushed row-level change events. It only ever adds rows, so it is
// safe to interleave with full syncs and needs no epoch interaction.
package realtime

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
	"github.com/tapin/tapin-go/internal/api"
	"github.com/tapin/tapin-go/internal/bus"
	"github.com/tapin/tapin-go/internal/store"
	"go.uber.org/zap"
)

// ProfileSource resolves sender profiles that are not cached yet.
type ProfileSource interface {
	GetProfile(ctx context.Context, userID string) (*api.Profile, error)
}

// ChangeEvent is a row-level change notification from the push channel.
type ChangeEvent struct {
	Type   string        `json:"type"`
	Table  string        `json:"table"`
	Record MessageRecord `json:"record"`
}

// MessageRecord is the inserted message row carried by a change event.
type MessageRecord struct {
	ID          string `json:"id"`
	ChatID      string `json:"chat_id"`
	UserID      string `json:"user_id"`
	Content     string `json:"content"`
	MessageType string `json:"message_type"`
	CreatedAt   string `json:"created_at"`
	ClientID    string `json:"client_id"`
}

const (
	dialBackoffBase = time.Second
	dialBackoffMax  = 30 * time.Second
)

// Listener subscribes to the realtime channel and merges message inserts
// into the local cache incrementally.
type Listener struct {
	url      string
	db       *store.DB
	profiles ProfileSource
	bus      *bus.Bus
	logger   *zap.Logger
	dialer   *websocket.Dialer
	cancel   context.CancelFunc
}

// NewListener creates a listener for the given websocket URL.
func NewListener(url string, db *store.DB, profiles ProfileSource, b *bus.Bus, logger *zap.Logger) *Listener {
	return &Listener{
		url:      url,
		db:       db,
		profiles: profiles,
		bus:      b,
		logger:   logger,
		dialer:   websocket.DefaultDialer,
	}
}

// Start begins the subscribe/read loop with reconnection.
func (l *Listener) Start(ctx context.Context) {
	ctx, l.cancel = context.WithCancel(ctx)
	go l.run(ctx)
}

// Stop stops the listener.
func (l *Listener) Stop() {
	if l.cancel != nil {
		l.cancel()
	}
}

func (l *Listener) run(ctx context.Context) {
	attempt := 0
	for ctx.Err() == nil {
		conn, _, err := l.dialer.DialContext(ctx, l.url, nil)
		if err != nil {
			delay := dialBackoff(attempt)
			attempt++
			l.logger.Warn("realtime dial failed",
				zap.Error(err),
				zap.Duration("retry_in", delay))
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return
			}
			continue
		}
		attempt = 0
		l.logger.Info("realtime channel connected")

		l.readLoop(ctx, conn)
		_ = conn.Close()
	}
}

func (l *Listener) readLoop(ctx context.Context, conn *websocket.Conn) {
	// Unblock ReadJSON when the listener stops.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	for {
		var evt ChangeEvent
		if err := conn.ReadJSON(&evt); err != nil {
			if ctx.Err() == nil {
				l.logger.Warn("realtime read failed, reconnecting", zap.Error(err))
			}
			return
		}
		if err := l.Apply(ctx, evt); err != nil {
			l.logger.Error("failed to apply realtime event",
				zap.String("msg_id", evt.Record.ID),
				zap.Error(err))
		}
	}
}

// Apply merges one change event into the cache. Idempotent: replaying the
// same insert leaves exactly one row.
func (l *Listener) Apply(ctx context.Context, evt ChangeEvent) error {
	if evt.Type != "INSERT" || evt.Record.ID == "" {
		return nil
	}

	exists, err := l.db.MessageExists(evt.Record.ID)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	// Our own message echoed back before the outbox confirmation landed:
	// leave the pending row alone, AdoptServerID will collapse it.
	if evt.Record.ClientID != "" {
		own, err := l.db.GetMessageByClientID(evt.Record.ClientID)
		if err != nil {
			return err
		}
		if own != nil {
			return nil
		}
	}

	user := l.resolveSender(ctx, evt.Record.UserID)

	msgType := evt.Record.MessageType
	if msgType == "" {
		msgType = "text"
	}
	if err := l.db.InsertMessage(&store.CachedMessage{
		ID:          evt.Record.ID,
		ThreadID:    evt.Record.ChatID,
		UserID:      evt.Record.UserID,
		Content:     evt.Record.Content,
		MessageType: msgType,
		CreatedAt:   evt.Record.CreatedAt,
		Status:      store.StatusSent,
		ClientID:    evt.Record.ClientID,
		User:        user,
	}); err != nil {
		return err
	}

	if l.bus != nil {
		l.bus.Publish(bus.Event{
			Kind:      "realtime.message_inserted",
			Timestamp: time.Now(),
			Payload:   map[string]string{"thread_id": evt.Record.ChatID, "msg_id": evt.Record.ID},
		})
	}
	return nil
}

// resolveSender denormalizes the sender profile onto the message, consulting
// the local profile cache before the network. A miss is non-fatal; the row
// is cached without a snapshot.
func (l *Listener) resolveSender(ctx context.Context, userID string) *store.UserSnapshot {
	if userID == "" {
		return nil
	}
	cached, err := l.db.GetProfile(userID)
	if err == nil && cached != nil {
		return &store.UserSnapshot{ID: cached.ID, Username: cached.Username, DisplayName: cached.DisplayName, AvatarURL: cached.AvatarURL}
	}

	if l.profiles == nil {
		return nil
	}
	profile, err := l.profiles.GetProfile(ctx, userID)
	if err != nil || profile == nil {
		l.logger.Warn("sender profile fetch failed", zap.String("user_id", userID), zap.Error(err))
		return nil
	}
	_ = l.db.UpsertProfile(&store.CachedProfile{
		ID:          profile.ID,
		Username:    profile.Username,
		DisplayName: profile.DisplayName,
		AvatarURL:   profile.AvatarURL,
		LastSeenAt:  profile.LastSeenAt,
	})
	return &store.UserSnapshot{ID: profile.ID, Username: profile.Username, DisplayName: profile.DisplayName, AvatarURL: profile.AvatarURL}
}

func dialBackoff(attempt int) time.Duration {
	if attempt > 5 {
		return dialBackoffMax
	}
	d := dialBackoffBase << uint(attempt)
	if d > dialBackoffMax {
		return dialBackoffMax
	}
	return d
}
