package chatsync

import (
	"encoding/json"
	"errors"
	"sort"
	"time"
)

// ============================================================================
// Shared Types
// ============================================================================

// APIError represents an API error.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return e.Code + ": " + e.Message
}

var (
	// ErrNotConnected is returned by operations that need a live connection.
	ErrNotConnected = errors.New("chatsync: not connected")

	// ErrUnknownIdentity is returned when the current user id cannot be
	// derived from the credential.
	ErrUnknownIdentity = errors.New("chatsync: current user unknown")

	ErrConversationNotFound = errors.New("chatsync: conversation not found")
	ErrMessageNotFound      = errors.New("chatsync: message not found")
)

// Result is the generic REST response envelope.
type Result struct {
	OK    bool            `json:"ok"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error *APIError       `json:"error,omitempty"`
}

// Decode unmarshals the Data field into the provided type.
func (r *Result) Decode(v interface{}) error {
	if r.Data == nil {
		return nil
	}
	return json.Unmarshal(r.Data, v)
}

// ============================================================================
// Conversations & Messages
// ============================================================================

// Conversation is the locally cached view of one conversation.
type Conversation struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Avatar       string    `json:"avatar,omitempty"`
	LastMessage  *Message  `json:"lastMessage,omitempty"`
	UnreadCount  int       `json:"unreadCount"`
	IsTyping     bool      `json:"isTyping"`
	LastActiveAt time.Time `json:"lastActiveAt"`
	PeerID       string    `json:"peerId,omitempty"`
}

// Message is a single chat message.
//
// IsMine is never transmitted; it is recomputed locally from SenderID.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversationId"`
	Content        string    `json:"content"`
	SenderID       string    `json:"senderId"`
	CreatedAt      time.Time `json:"createdAt"`
	IsMine         bool      `json:"-"`
	Read           bool      `json:"read"`
	ReplyTo        *ReplyRef `json:"replyTo,omitempty"`
	Reactions      Reactions `json:"reactions,omitempty"`
}

// ReplyRef is the partial snapshot of a message being replied to.
type ReplyRef struct {
	ID       string `json:"id"`
	Content  string `json:"content,omitempty"`
	SenderID string `json:"senderId,omitempty"`
}

// Reactions maps an emoji to the sorted set of user ids that reacted with it.
type Reactions map[string][]string

// Toggle adds userID to the emoji's reactor set, or removes it when already
// present. Empty sets are deleted. Reports whether the user was added.
func (r Reactions) Toggle(emoji, userID string) bool {
	users := r[emoji]
	i := sort.SearchStrings(users, userID)
	if i < len(users) && users[i] == userID {
		users = append(users[:i:i], users[i+1:]...)
		if len(users) == 0 {
			delete(r, emoji)
		} else {
			r[emoji] = users
		}
		return false
	}
	next := make([]string, 0, len(users)+1)
	next = append(next, users[:i]...)
	next = append(next, userID)
	next = append(next, users[i:]...)
	r[emoji] = next
	return true
}

// Has reports whether userID reacted with emoji.
func (r Reactions) Has(emoji, userID string) bool {
	users := r[emoji]
	i := sort.SearchStrings(users, userID)
	return i < len(users) && users[i] == userID
}

func (r Reactions) clone() Reactions {
	if r == nil {
		return nil
	}
	out := make(Reactions, len(r))
	for emoji, users := range r {
		out[emoji] = append([]string(nil), users...)
	}
	return out
}

// normalize sorts and dedups every reactor set and drops empty ones.
func (r Reactions) normalize() Reactions {
	if len(r) == 0 {
		return nil
	}
	out := make(Reactions, len(r))
	for emoji, users := range r {
		set := make(map[string]struct{}, len(users))
		list := make([]string, 0, len(users))
		for _, u := range users {
			if _, dup := set[u]; dup || u == "" {
				continue
			}
			set[u] = struct{}{}
			list = append(list, u)
		}
		if len(list) == 0 {
			continue
		}
		sort.Strings(list)
		out[emoji] = list
	}
	return out
}

func (m Message) clone() Message {
	out := m
	if m.ReplyTo != nil {
		ref := *m.ReplyTo
		out.ReplyTo = &ref
	}
	out.Reactions = m.Reactions.clone()
	return out
}

func (c Conversation) clone() Conversation {
	out := c
	if c.LastMessage != nil {
		last := c.LastMessage.clone()
		out.LastMessage = &last
	}
	return out
}
