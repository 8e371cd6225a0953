// Package api is the typed HTTP client for the backend endpoints the sync
// engine consumes. Every call is bounded by a per-request timeout; callers
// treat a timeout as a plain failure for retry purposes.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Sentinel errors for the terminal 403 rejections of the location-chat
// endpoints.
var (
	ErrOutsideRadius       = errors.New("outside permitted chat radius")
	ErrLocationUnavailable = errors.New("location unavailable")
)

// StatusError is any other non-2xx response.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.Code, e.Body)
}

const defaultTimeout = 8 * time.Second

// Client calls the backend REST API.
type Client struct {
	baseURL string
	http    *http.Client
	timeout time.Duration
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithTimeout overrides the per-request timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.timeout = d }
}

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(h *http.Client) ClientOption {
	return func(c *Client) { c.http = h }
}

// NewClient creates a client for the given base URL.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{},
		timeout: defaultTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// IsLocationThread reports whether a thread id names a location-scoped chat
// room. Private chat ids contain an underscore joining the two participant
// ids; location chat ids do not, or carry the explicit location_ prefix.
func IsLocationThread(threadID string) bool {
	return strings.HasPrefix(threadID, "location_") || !strings.Contains(threadID, "_")
}

// Health probes GET /api/health.
func (c *Client) Health(ctx context.Context) error {
	return c.get(ctx, "/api/health", nil, nil)
}

// ListPrivateChats returns the caller's private chats.
func (c *Client) ListPrivateChats(ctx context.Context, userID string) ([]PrivateChat, error) {
	var out struct {
		Chats []PrivateChat `json:"chats"`
	}
	q := url.Values{"userId": {userID}}
	if err := c.get(ctx, "/api/chat", q, &out); err != nil {
		return nil, err
	}
	return out.Chats, nil
}

// ListChatHistory returns the caller's visited location chats.
func (c *Client) ListChatHistory(ctx context.Context, userID string) ([]ChatVisit, error) {
	var out struct {
		History []ChatVisit `json:"history"`
	}
	q := url.Values{"userId": {userID}}
	if err := c.get(ctx, "/api/chat-history", q, &out); err != nil {
		return nil, err
	}
	return out.History, nil
}

// ListThreadMessages fetches the full message list for a thread, using the
// location variant (which may reject with ErrOutsideRadius) when the thread
// id names a location chat.
func (c *Client) ListThreadMessages(ctx context.Context, threadID, userID string) ([]Message, error) {
	var out struct {
		Messages []Message `json:"messages"`
	}
	path := "/api/chat/messages"
	q := url.Values{"chatId": {threadID}}
	if IsLocationThread(threadID) {
		path = "/api/location-chat/messages"
		q.Set("userId", userID)
	}
	if err := c.get(ctx, path, q, &out); err != nil {
		return nil, err
	}
	return out.Messages, nil
}

// CreateMessage delivers one outgoing message to the thread-type-appropriate
// endpoint and returns the server-confirmed message.
func (c *Client) CreateMessage(ctx context.Context, req CreateMessageRequest) (*Message, error) {
	path := "/api/chat/messages"
	if IsLocationThread(req.ChatID) {
		path = "/api/location-chat/messages"
	}

	// Some handlers wrap the created message, some return it bare.
	var out struct {
		Message *Message `json:"message"`
		ID      string   `json:"id"`
	}
	if err := c.post(ctx, path, req, &out); err != nil {
		return nil, err
	}
	if out.Message != nil {
		return out.Message, nil
	}
	return &Message{ID: out.ID, ChatID: req.ChatID, UserID: req.UserID, Content: req.Content}, nil
}

// PeopleNearby returns nearby people, optionally scoped (e.g. "friends").
func (c *Client) PeopleNearby(ctx context.Context, userID, scope string) ([]Profile, error) {
	var out struct {
		People []Profile `json:"people"`
	}
	q := url.Values{"userId": {userID}}
	if scope != "" {
		q.Set("scope", scope)
	}
	if err := c.get(ctx, "/api/people-nearby", q, &out); err != nil {
		return nil, err
	}
	return out.People, nil
}

// GetProfile fetches a single profile, used to denormalize message senders.
func (c *Client) GetProfile(ctx context.Context, userID string) (*Profile, error) {
	var out struct {
		Profile *Profile `json:"profile"`
	}
	q := url.Values{"userId": {userID}}
	if err := c.get(ctx, "/api/profile", q, &out); err != nil {
		return nil, err
	}
	if out.Profile == nil {
		return nil, &StatusError{Code: http.StatusNotFound, Body: "profile missing from response"}
	}
	return out.Profile, nil
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return c.do(ctx, http.MethodGet, u, nil, out)
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	return c.do(ctx, http.MethodPost, c.baseURL+path, payload, out)
}

func (c *Client) do(ctx context.Context, method, url string, body []byte, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusForbidden {
		var rejection struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&rejection)
		switch rejection.Error {
		case "location_unavailable":
			return ErrLocationUnavailable
		default:
			return ErrOutsideRadius
		}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
