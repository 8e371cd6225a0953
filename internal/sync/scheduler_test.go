package sync

import (
	"context"
	"testing"
	"time"

	"github.com/tapin/tapin-go/internal/api"
	"github.com/tapin/tapin-go/internal/bus"
	"github.com/tapin/tapin-go/internal/netstatus"
	"go.uber.org/zap"
)

func waitFor(t *testing.T, desc string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %s", desc)
}

func TestSchedulerInitialSyncAndWatch(t *testing.T) {
	db := testDB(t)
	fetcher := &mockFetcher{messages: []api.Message{{ID: "m1", Content: "hi", CreatedAt: "2026-01-01T00:00:00Z"}}}
	b := bus.New()
	e := newEngine(t, db, fetcher, &stubNet{s: netstatus.Online}, b)
	logger, _ := zap.NewDevelopment()
	s := NewScheduler(e, b, logger, WithSyncInterval(time.Hour))

	s.Start(context.Background())
	defer s.Stop()

	// Initial trigger covers threads and friends.
	waitFor(t, "initial sync", func() bool { return fetcher.callCount() >= 3 })

	// Watching a thread pulls its messages.
	s.Watch("t1")
	waitFor(t, "watched thread sync", func() bool {
		msgs, err := db.ListThreadMessages("t1")
		return err == nil && len(msgs) == 1
	})

	s.Unwatch("t1")
}

func TestSchedulerReconnectTrigger(t *testing.T) {
	db := testDB(t)
	fetcher := &mockFetcher{}
	b := bus.New()
	e := newEngine(t, db, fetcher, &stubNet{s: netstatus.Online}, b)
	logger, _ := zap.NewDevelopment()
	s := NewScheduler(e, b, logger, WithSyncInterval(time.Hour))

	s.Start(context.Background())
	defer s.Stop()

	waitFor(t, "initial sync", func() bool { return fetcher.callCount() >= 3 })
	before := fetcher.callCount()

	b.Publish(bus.Event{
		Kind:      "net.status_changed",
		Timestamp: time.Now(),
		Payload:   netstatus.StatusChange{From: netstatus.Offline, To: netstatus.Online},
	})

	waitFor(t, "reconnect sync", func() bool { return fetcher.callCount() > before })
}

func TestSchedulerPeriodicTick(t *testing.T) {
	db := testDB(t)
	fetcher := &mockFetcher{}
	b := bus.New()
	e := newEngine(t, db, fetcher, &stubNet{s: netstatus.Online}, b)
	logger, _ := zap.NewDevelopment()
	s := NewScheduler(e, b, logger, WithSyncInterval(50*time.Millisecond))

	s.Start(context.Background())
	defer s.Stop()

	// Initial pass plus at least one tick.
	waitFor(t, "periodic resync", func() bool { return fetcher.callCount() >= 6 })
}
