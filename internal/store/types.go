package store

// Message status values. Pending and failed rows are local-only until the
// outbox confirms delivery; sent rows mirror server truth.
const (
	StatusPending = "pending"
	StatusSent    = "sent"
	StatusFailed  = "failed"
)

// Thread types.
const (
	ThreadPrivate  = "private"
	ThreadLocation = "location"
)

// CachedThread is a conversation context, either a private two-party chat
// or a location-scoped group chat. Rebuilt wholesale on each thread sync.
type CachedThread struct {
	ID                  string
	Type                string // private, location
	ParticipantIDs      []string
	LocationName        string
	Latitude            string
	Longitude           string
	LastMessageAt       string
	LastMessagePreview  string
	LastMessageSenderID string
	LastMessageImageURL string
	UpdatedAt           int64
}

// CachedFriend is a denormalized snapshot of a friend's profile row.
type CachedFriend struct {
	ID          string
	Username    string
	DisplayName string
	AvatarURL   string
	IsOnline    bool
	UpdatedAt   int64
}

// CachedProfile is a denormalized remote profile, kept for sender resolution.
type CachedProfile struct {
	ID          string
	Username    string
	DisplayName string
	AvatarURL   string
	LastSeenAt  string
	UpdatedAt   int64
}

// UserSnapshot is the sender profile denormalized onto a cached message.
type UserSnapshot struct {
	ID          string
	Username    string
	DisplayName string
	AvatarURL   string
}

// CachedMessage is one message row. The id is client-generated until the
// server confirms delivery, after which it is replaced by the server id;
// ClientID survives the swap as a stable secondary key.
type CachedMessage struct {
	ID          string
	ThreadID    string
	UserID      string
	Content     string
	MessageType string // text, image, gif
	CreatedAt   string
	Status      string // pending, sent, failed
	ClientID    string
	User        *UserSnapshot
}

// OutboxEntry is a durable queue row for one unconfirmed outgoing message.
// Deleted on terminal outcome only (delivered or permanently failed).
type OutboxEntry struct {
	ID          string
	ClientID    string
	ThreadID    string
	UserID      string
	Content     string
	MessageType string
	CreatedAt   string
	RetryCount  int
	LastRetryAt int64 // unix millis, 0 = never attempted
}

// SyncState is the per-resource checkpoint. Epoch is the correctness-critical
// field: a monotonically increasing counter used to reject stale responses.
type SyncState struct {
	Resource   string
	LastSyncAt int64
	Epoch      int64
}
