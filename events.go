package chatsync

import (
	"encoding/json"
	"time"
)

// Inbound push events.
const (
	EventMessageCreated      = "message.created"
	EventConversationCreated = "conversation.created"
	EventMessagesRead        = "messages.read"
	EventTyping              = "typing"
	EventPeerOnline          = "user.online"
	EventPeerOffline         = "user.offline"
	EventOnlineRoster        = "online.users"
	EventUnreadCount         = "unread.count"
	EventConversationDeleted = "conversation.deleted"
	EventReactionUpdated     = "reaction.updated"
	EventError               = "error"
)

// Outbound commands.
const (
	CmdSendMessage        = "message.send"
	CmdJoinConversation   = "conversation.join"
	CmdLeaveConversation  = "conversation.leave"
	CmdTyping             = "typing"
	CmdMarkRead           = "conversation.read"
	CmdCreateConversation = "conversation.create"
	CmdDeleteConversation = "conversation.delete"
	CmdRequestRoster      = "presence.roster"
	CmdAddReaction        = "reaction.add"
	CmdRemoveReaction     = "reaction.remove"
)

// ============================================================================
// Wire format
// ============================================================================

// Envelope is the wire format for all push events.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Command is a client-to-server command.
type Command struct {
	Type      string      `json:"type"`
	Payload   interface{} `json:"payload"`
	RequestID string      `json:"requestId,omitempty"`
}

// ============================================================================
// Event Payload Types
// ============================================================================

// MessagesReadPayload is sent when a participant reads a conversation.
type MessagesReadPayload struct {
	ConversationID string    `json:"conversationId"`
	ReaderID       string    `json:"readerId"`
	Timestamp      time.Time `json:"timestamp"`
}

// TypingPayload is sent when a peer starts or stops typing.
type TypingPayload struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
	IsTyping       bool   `json:"isTyping"`
}

// PresencePayload is sent when a single peer goes online or offline.
type PresencePayload struct {
	UserID string `json:"userId"`
}

// OnlineRosterPayload carries the full set of online peers.
type OnlineRosterPayload struct {
	UserIDs []string `json:"userIds"`
}

// UnreadCountPayload adjusts a conversation's unread counter.
type UnreadCountPayload struct {
	ConversationID string    `json:"conversationId"`
	Delta          int       `json:"delta"`
	Timestamp      time.Time `json:"timestamp"`
}

// ConversationDeletedPayload is sent when a conversation is deleted.
type ConversationDeletedPayload struct {
	ConversationID string    `json:"conversationId"`
	DeletedBy      string    `json:"deletedBy"`
	Timestamp      time.Time `json:"timestamp"`
}

// ReactionUpdatedPayload carries the server's reaction map for one message.
type ReactionUpdatedPayload struct {
	MessageID      string    `json:"messageId"`
	ConversationID string    `json:"conversationId"`
	Reactions      Reactions `json:"reactions"`
}

// ErrorPayload is sent when a server-side error occurs.
type ErrorPayload struct {
	Message string `json:"message"`
}

// ============================================================================
// Command Payload Types
// ============================================================================

type sendMessagePayload struct {
	ConversationID string    `json:"conversationId"`
	Content        string    `json:"content"`
	ReplyTo        *ReplyRef `json:"replyTo,omitempty"`
}

type conversationPayload struct {
	ConversationID string `json:"conversationId"`
}

type typingCommandPayload struct {
	ConversationID string `json:"conversationId"`
	IsTyping       bool   `json:"isTyping"`
}

type createConversationPayload struct {
	PeerID         string `json:"peerId"`
	ConversationID string `json:"conversationId,omitempty"`
}

type reactionPayload struct {
	MessageID      string `json:"messageId"`
	ConversationID string `json:"conversationId,omitempty"`
	Emoji          string `json:"emoji"`
}
