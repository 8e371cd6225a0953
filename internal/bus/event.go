package bus

import "time"

// Event represents a domain event published on the bus.
//
// Kinds used by the sync engine:
//
//	net.status_changed        network quality transition (netstatus.StatusChange)
//	message.queued            a message entered the outbox
//	message.sent              outbox delivery confirmed by the server
//	message.send_failed       terminal delivery failure (rejection or retry exhaustion)
//	sync.threads_applied      thread sync result applied to the cache
//	sync.friends_applied      friend sync result applied to the cache
//	sync.messages_applied     message sync result applied for one thread
//	sync.stale_discarded      out-of-order sync response dropped by the epoch guard
//	realtime.message_inserted live insert merged into the cache
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}
