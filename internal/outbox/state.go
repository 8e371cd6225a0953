package outbox

import (
	"time"

	"github.com/tapin/tapin-go/internal/store"
)

// action is the transition chosen for one queued entry on one tick.
type action int

const (
	// actionSend attempts delivery now.
	actionSend action = iota
	// actionWait skips this entry this tick; its backoff has not elapsed.
	// Other entries are still processed.
	actionWait
	// actionExhaust marks the message permanently failed; retries are used up.
	actionExhaust
)

const maxRetries = 5

// decide is the pure per-entry transition function: given the persisted
// retry state and the current instant, pick what this tick does with the
// entry. The backoff for the comparison includes the jitter drawn for this
// tick, matching the delay the entry was told to wait.
func decide(e *store.OutboxEntry, now time.Time, backoff func(int) time.Duration) action {
	if e.RetryCount >= maxRetries {
		return actionExhaust
	}
	if e.LastRetryAt > 0 {
		elapsed := now.Sub(time.UnixMilli(e.LastRetryAt))
		if elapsed < backoff(e.RetryCount) {
			return actionWait
		}
	}
	return actionSend
}
