package api

import "encoding/json"

// Profile is a remote user profile as returned by the backend.
type Profile struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url"`
	LastSeenAt  string `json:"last_seen"`
	IsOnline    bool   `json:"is_online"`
}

// LastMessage is the denormalized preview on a private chat.
type LastMessage struct {
	Content  string `json:"content"`
	SenderID string `json:"sender_id"`
	ImageURL string `json:"image_url"`
}

// PrivateChat is one element of GET /api/chat.
type PrivateChat struct {
	ID            string       `json:"id"`
	User1ID       string       `json:"user1_id"`
	User2ID       string       `json:"user2_id"`
	CreatedAt     string       `json:"created_at"`
	LastMessageAt string       `json:"last_message_at"`
	LastMessage   *LastMessage `json:"last_message"`
}

// LocationChat is an auto-created chat room scoped to a physical radius.
type LocationChat struct {
	ID           string      `json:"id"`
	LocationName string      `json:"location_name"`
	Latitude     json.Number `json:"latitude"`
	Longitude    json.Number `json:"longitude"`
}

// ChatVisit is one element of GET /api/chat-history.
type ChatVisit struct {
	VisitedAt string        `json:"visited_at"`
	Chat      *LocationChat `json:"chat"`
}

// Message is a chat message as returned by the messages endpoints.
type Message struct {
	ID          string   `json:"id"`
	ChatID      string   `json:"chat_id"`
	UserID      string   `json:"user_id"`
	Content     string   `json:"content"`
	MessageType string   `json:"message_type"`
	CreatedAt   string   `json:"created_at"`
	ClientID    string   `json:"client_id"`
	User        *Profile `json:"user"`
}

// CreateMessageRequest is the body for the create-message endpoints.
type CreateMessageRequest struct {
	ChatID      string `json:"chat_id"`
	UserID      string `json:"user_id"`
	Content     string `json:"content"`
	MessageType string `json:"message_type,omitempty"`
	ClientID    string `json:"client_id,omitempty"`
}
