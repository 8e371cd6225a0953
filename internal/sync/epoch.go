package sync

import (
	"sync"

	"github.com/tapin/tapin-go/internal/store"
)

// epochGuard hands out a monotonically increasing epoch per resource at sync
// start and rejects result application out of epoch order. The counter lives
// in process, seeded once from the persisted checkpoint, so rapid concurrent
// syncs cannot under-count by re-reading storage mid-race.
type epochGuard struct {
	mu      sync.Mutex
	next    map[string]int64
	applied map[string]int64
	seeded  map[string]bool
}

func newEpochGuard() *epochGuard {
	return &epochGuard{
		next:    make(map[string]int64),
		applied: make(map[string]int64),
		seeded:  make(map[string]bool),
	}
}

// begin reserves the epoch for a sync attempt that is starting now.
func (g *epochGuard) begin(db *store.DB, resource string) (int64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.seedLocked(db, resource); err != nil {
		return 0, err
	}
	g.next[resource]++
	return g.next[resource], nil
}

// apply runs fn if and only if epoch is newer than the last applied epoch
// for the resource. The store write happens under the guard lock so a
// logically-older result can never land after a newer one. Returns false
// when the result is stale and was discarded.
func (g *epochGuard) apply(resource string, epoch int64, fn func() error) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if epoch <= g.applied[resource] {
		return false, nil
	}
	if err := fn(); err != nil {
		return false, err
	}
	g.applied[resource] = epoch
	return true, nil
}

func (g *epochGuard) seedLocked(db *store.DB, resource string) error {
	if g.seeded[resource] {
		return nil
	}
	state, err := db.GetSyncState(resource)
	if err != nil {
		return err
	}
	var epoch int64
	if state != nil {
		epoch = state.Epoch
	}
	g.next[resource] = epoch
	g.applied[resource] = epoch
	g.seeded[resource] = true
	return nil
}
