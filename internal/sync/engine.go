// Package sync pulls authoritative server state into the local cache without
// clobbering in-flight local writes. Each resource (threads, friends,
// messages per thread) is an independent namespace guarded by its own epoch
// counter; results of overlapping syncs apply in epoch order or not at all.
package sync

import (
	"context"
	"errors"
	"fmt"
	gosync "sync"
	"time"

	"github.com/tapin/tapin-go/internal/api"
	"github.com/tapin/tapin-go/internal/bus"
	"github.com/tapin/tapin-go/internal/netstatus"
	"github.com/tapin/tapin-go/internal/store"
	"go.uber.org/zap"
)

// Fetcher is the slice of the API client the engine needs.
type Fetcher interface {
	ListPrivateChats(ctx context.Context, userID string) ([]api.PrivateChat, error)
	ListChatHistory(ctx context.Context, userID string) ([]api.ChatVisit, error)
	ListThreadMessages(ctx context.Context, threadID, userID string) ([]api.Message, error)
	PeopleNearby(ctx context.Context, userID, scope string) ([]api.Profile, error)
}

// StatusSource gates sync attempts on the current network quality.
type StatusSource interface {
	Status() netstatus.Status
}

// Resource names for checkpoints and soft-error lookups.
const (
	ResourceThreads = "threads"
	ResourceFriends = "friends"
)

// MessagesResource returns the checkpoint name for one thread's messages.
func MessagesResource(threadID string) string {
	return "messages:" + threadID
}

// Engine owns the three resource sync flows.
type Engine struct {
	db     *store.DB
	fetch  Fetcher
	net    StatusSource
	bus    *bus.Bus
	logger *zap.Logger
	userID string
	guard  *epochGuard

	errMu   gosync.RWMutex
	lastErr map[string]string
}

// NewEngine creates a sync engine for the signed-in user.
func NewEngine(db *store.DB, fetch Fetcher, net StatusSource, b *bus.Bus, logger *zap.Logger, userID string) *Engine {
	return &Engine{
		db:      db,
		fetch:   fetch,
		net:     net,
		bus:     b,
		logger:  logger,
		userID:  userID,
		guard:   newEpochGuard(),
		lastErr: make(map[string]string),
	}
}

// LoadThreads reads the cached thread list; never touches the network.
func (e *Engine) LoadThreads() ([]store.CachedThread, error) { return e.db.ListThreads() }

// LoadFriends reads the cached friend list; never touches the network.
func (e *Engine) LoadFriends() ([]store.CachedFriend, error) { return e.db.ListFriends() }

// LoadMessages reads the cached messages for one thread; never touches the
// network.
func (e *Engine) LoadMessages(threadID string) ([]store.CachedMessage, error) {
	return e.db.ListThreadMessages(threadID)
}

// LastSyncedAt returns the wall-clock time of the last applied sync for a
// resource, if any.
func (e *Engine) LastSyncedAt(resource string) (time.Time, bool) {
	state, err := e.db.GetSyncState(resource)
	if err != nil || state == nil || state.LastSyncAt == 0 {
		return time.Time{}, false
	}
	return time.UnixMilli(state.LastSyncAt), true
}

// LastError returns the soft error recorded by the most recent sync of a
// resource, or "" after a success. Sync failures never clear the cache; this
// string is the degraded-data indicator for the UI.
func (e *Engine) LastError(resource string) string {
	e.errMu.RLock()
	defer e.errMu.RUnlock()
	return e.lastErr[resource]
}

// SyncThreads pulls private chats and visited location chats and rebuilds
// the thread cache wholesale. Either fetch may fail independently; a partial
// result still applies, mirroring the resilience of the two-request fan-out.
func (e *Engine) SyncThreads(ctx context.Context) error {
	if e.offline() {
		return nil
	}
	epoch, err := e.guard.begin(e.db, ResourceThreads)
	if err != nil {
		return err
	}

	var (
		wg      gosync.WaitGroup
		private []api.PrivateChat
		history []api.ChatVisit
		privErr, histErr error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		private, privErr = e.fetch.ListPrivateChats(ctx, e.userID)
	}()
	go func() {
		defer wg.Done()
		history, histErr = e.fetch.ListChatHistory(ctx, e.userID)
	}()
	wg.Wait()

	if privErr != nil && histErr != nil {
		err := fmt.Errorf("thread sync: %w", privErr)
		e.recordError(ResourceThreads, "unable to fetch latest chats")
		e.logger.Warn("thread sync failed", zap.Error(privErr), zap.NamedError("history_error", histErr))
		return err
	}
	if privErr != nil {
		e.logger.Warn("private chat fetch failed, applying history only", zap.Error(privErr))
	}
	if histErr != nil {
		e.logger.Warn("chat history fetch failed, applying private chats only", zap.Error(histErr))
	}

	threads := buildThreads(private, history)
	applied, err := e.applyCheckpointed(ResourceThreads, epoch, func() error {
		return e.db.ReplaceThreads(threads)
	})
	if err != nil {
		e.recordError(ResourceThreads, "unable to update cached chats")
		return err
	}
	if !applied {
		return nil
	}

	e.recordError(ResourceThreads, "")
	e.publish("sync.threads_applied", map[string]int64{"epoch": epoch, "count": int64(len(threads))})
	return nil
}

// SyncFriends pulls the friend list and rebuilds the friend cache wholesale.
func (e *Engine) SyncFriends(ctx context.Context) error {
	if e.offline() {
		return nil
	}
	epoch, err := e.guard.begin(e.db, ResourceFriends)
	if err != nil {
		return err
	}

	people, err := e.fetch.PeopleNearby(ctx, e.userID, "friends")
	if err != nil {
		e.recordError(ResourceFriends, "unable to fetch friends")
		e.logger.Warn("friend sync failed", zap.Error(err))
		return fmt.Errorf("friend sync: %w", err)
	}

	friends := make([]store.CachedFriend, 0, len(people))
	for _, p := range people {
		friends = append(friends, store.CachedFriend{
			ID:          p.ID,
			Username:    p.Username,
			DisplayName: p.DisplayName,
			AvatarURL:   p.AvatarURL,
			IsOnline:    p.IsOnline,
		})
	}

	applied, err := e.applyCheckpointed(ResourceFriends, epoch, func() error {
		return e.db.ReplaceFriends(friends)
	})
	if err != nil {
		e.recordError(ResourceFriends, "unable to update cached friends")
		return err
	}
	if !applied {
		return nil
	}

	e.recordError(ResourceFriends, "")
	e.publish("sync.friends_applied", map[string]int64{"epoch": epoch, "count": int64(len(friends))})
	return nil
}

// SyncMessages pulls one thread's messages and reconciles them against the
// cache: previously-confirmed rows are replaced by server truth, rows still
// pending or failed locally are preserved for the outbox.
func (e *Engine) SyncMessages(ctx context.Context, threadID string) error {
	if e.offline() {
		return nil
	}
	resource := MessagesResource(threadID)
	epoch, err := e.guard.begin(e.db, resource)
	if err != nil {
		return err
	}

	serverMsgs, err := e.fetch.ListThreadMessages(ctx, threadID, e.userID)
	if err != nil {
		if errors.Is(err, api.ErrOutsideRadius) || errors.Is(err, api.ErrLocationUnavailable) {
			e.recordError(resource, "outside chat area, showing cached data")
		} else {
			e.recordError(resource, "unable to fetch latest messages")
		}
		e.logger.Warn("message sync failed", zap.String("thread_id", threadID), zap.Error(err))
		return fmt.Errorf("message sync %s: %w", threadID, err)
	}

	msgs := make([]store.CachedMessage, 0, len(serverMsgs))
	for _, m := range serverMsgs {
		msgs = append(msgs, messageFromAPI(threadID, m))
	}

	applied, err := e.applyCheckpointed(resource, epoch, func() error {
		return e.db.ReplaceSentMessages(threadID, msgs)
	})
	if err != nil {
		e.recordError(resource, "unable to update cached messages")
		return err
	}
	if !applied {
		return nil
	}

	e.recordError(resource, "")
	e.publish("sync.messages_applied", map[string]any{"thread_id": threadID, "epoch": epoch, "count": len(msgs)})
	return nil
}

// applyCheckpointed applies a sync result and persists the checkpoint under
// the epoch guard; stale results are discarded and reported.
func (e *Engine) applyCheckpointed(resource string, epoch int64, replace func() error) (bool, error) {
	applied, err := e.guard.apply(resource, epoch, func() error {
		if err := replace(); err != nil {
			return err
		}
		return e.db.PutSyncState(resource, epoch, time.Now())
	})
	if err != nil {
		return false, err
	}
	if !applied {
		e.logger.Warn("stale sync response discarded",
			zap.String("resource", resource),
			zap.Int64("epoch", epoch))
		e.publish("sync.stale_discarded", map[string]any{"resource": resource, "epoch": epoch})
	}
	return applied, nil
}

func (e *Engine) offline() bool {
	return e.net != nil && e.net.Status() == netstatus.Offline
}

func (e *Engine) recordError(resource, msg string) {
	e.errMu.Lock()
	if msg == "" {
		delete(e.lastErr, resource)
	} else {
		e.lastErr[resource] = msg
	}
	e.errMu.Unlock()
}

func (e *Engine) publish(kind string, payload any) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(bus.Event{Kind: kind, Timestamp: time.Now(), Payload: payload})
}

func buildThreads(private []api.PrivateChat, history []api.ChatVisit) []store.CachedThread {
	threads := make([]store.CachedThread, 0, len(private)+len(history))
	for _, chat := range private {
		t := store.CachedThread{
			ID:             chat.ID,
			Type:           store.ThreadPrivate,
			ParticipantIDs: []string{chat.User1ID, chat.User2ID},
			LastMessageAt:  chat.LastMessageAt,
		}
		if t.LastMessageAt == "" {
			t.LastMessageAt = chat.CreatedAt
		}
		if chat.LastMessage != nil {
			t.LastMessagePreview = chat.LastMessage.Content
			t.LastMessageSenderID = chat.LastMessage.SenderID
			t.LastMessageImageURL = chat.LastMessage.ImageURL
		}
		threads = append(threads, t)
	}
	for _, visit := range history {
		if visit.Chat == nil {
			continue
		}
		threads = append(threads, store.CachedThread{
			ID:            visit.Chat.ID,
			Type:          store.ThreadLocation,
			LocationName:  visit.Chat.LocationName,
			Latitude:      visit.Chat.Latitude.String(),
			Longitude:     visit.Chat.Longitude.String(),
			LastMessageAt: visit.VisitedAt,
		})
	}
	return threads
}

func messageFromAPI(threadID string, m api.Message) store.CachedMessage {
	msgType := m.MessageType
	if msgType == "" {
		msgType = "text"
	}
	cached := store.CachedMessage{
		ID:          m.ID,
		ThreadID:    threadID,
		UserID:      m.UserID,
		Content:     m.Content,
		MessageType: msgType,
		CreatedAt:   m.CreatedAt,
		Status:      store.StatusSent,
		ClientID:    m.ClientID,
	}
	if m.User != nil {
		cached.User = &store.UserSnapshot{
			ID:          m.User.ID,
			Username:    m.User.Username,
			DisplayName: m.User.DisplayName,
			AvatarURL:   m.User.AvatarURL,
		}
	}
	return cached
}
