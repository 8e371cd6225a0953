package realtime

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/tapin/tapin-go/internal/api"
	"github.com/tapin/tapin-go/internal/bus"
	"github.com/tapin/tapin-go/internal/store"
	"go.uber.org/zap"
)

func testDB(t *testing.T) *store.DB {
	t.Helper()

	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if _, err := db.Migrate(); err != nil {
		t.Fatalf("failed to migrate database: %v", err)
	}
	return db
}

type stubProfiles struct {
	calls    int
	profiles map[string]*api.Profile
}

func (s *stubProfiles) GetProfile(_ context.Context, userID string) (*api.Profile, error) {
	s.calls++
	return s.profiles[userID], nil
}

func insertEvent(id, threadID, clientID string) ChangeEvent {
	return ChangeEvent{
		Type:  "INSERT",
		Table: "location_messages",
		Record: MessageRecord{
			ID:        id,
			ChatID:    threadID,
			UserID:    "user-2",
			Content:   "hey",
			CreatedAt: "2025-01-01T10:00:00Z",
			ClientID:  clientID,
		},
	}
}

func TestApplyInsertsMessage(t *testing.T) {
	db := testDB(t)
	profiles := &stubProfiles{profiles: map[string]*api.Profile{
		"user-2": {ID: "user-2", Username: "ana", DisplayName: "Ana"},
	}}
	b := bus.New()
	events, unsub := b.Subscribe("realtime.", 4)
	defer unsub()
	l := NewListener("", db, profiles, b, zap.NewNop())

	if err := l.Apply(context.Background(), insertEvent("m1", "location_sp", "")); err != nil {
		t.Fatalf("failed to apply event: %v", err)
	}

	msgs, err := db.ListThreadMessages("location_sp")
	if err != nil {
		t.Fatalf("failed to list messages: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(msgs))
	}
	if msgs[0].Status != store.StatusSent {
		t.Errorf("expected status sent, got %q", msgs[0].Status)
	}
	if msgs[0].User == nil || msgs[0].User.Username != "ana" {
		t.Errorf("expected denormalized sender, got %+v", msgs[0].User)
	}
	if msgs[0].MessageType != "text" {
		t.Errorf("expected default message type text, got %q", msgs[0].MessageType)
	}

	select {
	case evt := <-events:
		if evt.Kind != "realtime.message_inserted" {
			t.Errorf("unexpected event kind %q", evt.Kind)
		}
	case <-time.After(time.Second):
		t.Fatal("expected a realtime.message_inserted event")
	}
}

func TestApplyIsIdempotent(t *testing.T) {
	db := testDB(t)
	l := NewListener("", db, &stubProfiles{}, nil, zap.NewNop())

	for i := 0; i < 3; i++ {
		if err := l.Apply(context.Background(), insertEvent("m1", "location_sp", "")); err != nil {
			t.Fatalf("failed to apply event: %v", err)
		}
	}

	msgs, err := db.ListThreadMessages("location_sp")
	if err != nil {
		t.Fatalf("failed to list messages: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected exactly 1 message after replay, got %d", len(msgs))
	}
}

func TestApplySkipsOwnPendingEcho(t *testing.T) {
	db := testDB(t)
	l := NewListener("", db, &stubProfiles{}, nil, zap.NewNop())

	pending := &store.CachedMessage{
		ID:          "local-1",
		ThreadID:    "location_sp",
		UserID:      "user-1",
		Content:     "mine",
		MessageType: "text",
		CreatedAt:   "2025-01-01T09:59:00Z",
		Status:      store.StatusPending,
		ClientID:    "client-1",
	}
	if err := db.InsertMessage(pending); err != nil {
		t.Fatalf("failed to insert pending message: %v", err)
	}

	if err := l.Apply(context.Background(), insertEvent("server-1", "location_sp", "client-1")); err != nil {
		t.Fatalf("failed to apply event: %v", err)
	}

	msgs, err := db.ListThreadMessages("location_sp")
	if err != nil {
		t.Fatalf("failed to list messages: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected echo to be skipped, got %d rows", len(msgs))
	}
	if msgs[0].ID != "local-1" || msgs[0].Status != store.StatusPending {
		t.Errorf("expected pending local row to survive, got %+v", msgs[0])
	}
}

func TestApplyIgnoresNonInsert(t *testing.T) {
	db := testDB(t)
	l := NewListener("", db, &stubProfiles{}, nil, zap.NewNop())

	evt := insertEvent("m1", "location_sp", "")
	evt.Type = "UPDATE"
	if err := l.Apply(context.Background(), evt); err != nil {
		t.Fatalf("failed to apply event: %v", err)
	}

	msgs, err := db.ListThreadMessages("location_sp")
	if err != nil {
		t.Fatalf("failed to list messages: %v", err)
	}
	if len(msgs) != 0 {
		t.Fatalf("expected no rows for UPDATE event, got %d", len(msgs))
	}
}

func TestApplyCachesResolvedProfile(t *testing.T) {
	db := testDB(t)
	profiles := &stubProfiles{profiles: map[string]*api.Profile{
		"user-2": {ID: "user-2", Username: "ana", DisplayName: "Ana"},
	}}
	l := NewListener("", db, profiles, nil, zap.NewNop())

	if err := l.Apply(context.Background(), insertEvent("m1", "location_sp", "")); err != nil {
		t.Fatalf("failed to apply event: %v", err)
	}
	if err := l.Apply(context.Background(), insertEvent("m2", "location_sp", "")); err != nil {
		t.Fatalf("failed to apply event: %v", err)
	}

	if profiles.calls != 1 {
		t.Errorf("expected 1 profile fetch, got %d", profiles.calls)
	}
	p, err := db.GetProfile("user-2")
	if err != nil {
		t.Fatalf("failed to get profile: %v", err)
	}
	if p == nil || p.Username != "ana" {
		t.Errorf("expected resolved profile to be cached, got %+v", p)
	}
}

func TestListenerReceivesOverWebsocket(t *testing.T) {
	db := testDB(t)
	upgrader := websocket.Upgrader{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_ = conn.WriteJSON(insertEvent("m1", "location_sp", ""))
		// Keep the connection open so the listener does not reconnect.
		time.Sleep(2 * time.Second)
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	l := NewListener(url, db, &stubProfiles{}, bus.New(), zap.NewNop())
	l.Start(context.Background())
	defer l.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		msgs, err := db.ListThreadMessages("location_sp")
		if err != nil {
			t.Fatalf("failed to list messages: %v", err)
		}
		if len(msgs) == 1 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("message never arrived over the websocket")
}

func TestDialBackoffCaps(t *testing.T) {
	if got := dialBackoff(0); got != time.Second {
		t.Errorf("expected 1s for first attempt, got %v", got)
	}
	if got := dialBackoff(3); got != 8*time.Second {
		t.Errorf("expected 8s for attempt 3, got %v", got)
	}
	for attempt := 5; attempt < 20; attempt++ {
		if got := dialBackoff(attempt); got != dialBackoffMax {
			t.Errorf("expected cap %v at attempt %d, got %v", dialBackoffMax, attempt, got)
		}
	}
}
