package chatsync

import (
	"sort"
	"sync"
	"time"
)

// Query keys tracked for staleness.
const ConversationsKey = "conversations"

// MessagesKey returns the staleness key of a conversation's message query.
func MessagesKey(conversationID string) string {
	return "messages:" + conversationID
}

// CacheEventKind classifies a cache change notification.
type CacheEventKind string

const (
	CacheConversationsChanged CacheEventKind = "conversations"
	CacheMessagesChanged      CacheEventKind = "messages"
	CacheInvalidated          CacheEventKind = "invalidated"
)

// CacheEvent is delivered to subscribers after a mutation.
type CacheEvent struct {
	Kind           CacheEventKind
	ConversationID string
	Key            string
}

// ============================================================================
// Cache
// ============================================================================

// Cache is the goroutine-safe materialized view of conversations and
// messages. Readers always receive copies.
type Cache struct {
	mu            sync.RWMutex
	conversations map[string]*Conversation
	messages      map[string][]*Message
	byID          map[string]*Message
	fresh         map[string]bool

	subMu   sync.RWMutex
	subs    map[uint64]func(CacheEvent)
	nextSub uint64
	notify  callbackQueue
}

// NewCache creates an empty cache. Every query starts stale.
func NewCache() *Cache {
	return &Cache{
		conversations: make(map[string]*Conversation),
		messages:      make(map[string][]*Message),
		byID:          make(map[string]*Message),
		fresh:         make(map[string]bool),
		subs:          make(map[uint64]func(CacheEvent)),
	}
}

// ── Reads ────────────────────────────────────────────────

// Conversations returns all conversations, most recently active first.
func (c *Cache) Conversations() []Conversation {
	c.mu.RLock()
	out := make([]Conversation, 0, len(c.conversations))
	for _, conv := range c.conversations {
		out = append(out, conv.clone())
	}
	c.mu.RUnlock()
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].LastActiveAt.Equal(out[j].LastActiveAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].LastActiveAt.After(out[j].LastActiveAt)
	})
	return out
}

// Conversation returns one conversation.
func (c *Cache) Conversation(id string) (Conversation, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	conv, ok := c.conversations[id]
	if !ok {
		return Conversation{}, false
	}
	return conv.clone(), true
}

// HasConversation reports whether the conversation is cached.
func (c *Cache) HasConversation(id string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.conversations[id]
	return ok
}

// Messages returns a conversation's messages, oldest first.
func (c *Cache) Messages(conversationID string) []Message {
	c.mu.RLock()
	defer c.mu.RUnlock()
	list := c.messages[conversationID]
	out := make([]Message, len(list))
	for i, m := range list {
		out[i] = m.clone()
	}
	return out
}

// Message returns one message by id.
func (c *Cache) Message(id string) (Message, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.byID[id]
	if !ok {
		return Message{}, false
	}
	return m.clone(), true
}

// ── Conversations ────────────────────────────────────────

// ReplaceConversations installs the authoritative conversation list.
// Local typing flags survive; conversations absent from the list are dropped
// together with their messages.
func (c *Cache) ReplaceConversations(convs []Conversation) {
	c.mu.Lock()
	next := make(map[string]*Conversation, len(convs))
	for _, conv := range convs {
		if conv.ID == "" {
			continue
		}
		cp := conv.clone()
		if cp.UnreadCount < 0 {
			cp.UnreadCount = 0
		}
		if old, ok := c.conversations[cp.ID]; ok {
			cp.IsTyping = old.IsTyping
		} else {
			cp.IsTyping = false
		}
		next[cp.ID] = &cp
	}
	for id := range c.conversations {
		if _, keep := next[id]; !keep {
			c.dropMessagesLocked(id)
		}
	}
	c.conversations = next
	c.mu.Unlock()

	c.publish(CacheEvent{Kind: CacheConversationsChanged})
}

// InsertConversation adds conv unless a conversation with the same id is
// already cached. Reports whether it was inserted.
func (c *Cache) InsertConversation(conv Conversation) bool {
	if conv.ID == "" {
		return false
	}
	c.mu.Lock()
	if _, ok := c.conversations[conv.ID]; ok {
		c.mu.Unlock()
		return false
	}
	cp := conv.clone()
	if cp.UnreadCount < 0 {
		cp.UnreadCount = 0
	}
	if cp.LastActiveAt.IsZero() {
		cp.LastActiveAt = time.Now()
	}
	c.conversations[cp.ID] = &cp
	c.mu.Unlock()

	c.publish(CacheEvent{Kind: CacheConversationsChanged, ConversationID: conv.ID})
	return true
}

// DeleteConversation removes a conversation and its messages. Reports
// whether it was cached.
func (c *Cache) DeleteConversation(id string) bool {
	c.mu.Lock()
	_, ok := c.conversations[id]
	delete(c.conversations, id)
	c.dropMessagesLocked(id)
	delete(c.fresh, MessagesKey(id))
	c.mu.Unlock()

	if ok {
		c.publish(CacheEvent{Kind: CacheConversationsChanged, ConversationID: id})
	}
	return ok
}

// AddUnread adjusts a conversation's unread counter by delta, never going
// below zero. An unknown conversation is created.
func (c *Cache) AddUnread(conversationID string, delta int, at time.Time) int {
	c.mu.Lock()
	conv := c.ensureConversationLocked(conversationID, at)
	conv.UnreadCount += delta
	if conv.UnreadCount < 0 {
		conv.UnreadCount = 0
	}
	n := conv.UnreadCount
	c.mu.Unlock()

	c.publish(CacheEvent{Kind: CacheConversationsChanged, ConversationID: conversationID})
	return n
}

// SetTyping sets the conversation's typing flag if it is cached.
func (c *Cache) SetTyping(conversationID string, typing bool) {
	c.mu.Lock()
	conv, ok := c.conversations[conversationID]
	changed := ok && conv.IsTyping != typing
	if changed {
		conv.IsTyping = typing
	}
	c.mu.Unlock()

	if changed {
		c.publish(CacheEvent{Kind: CacheConversationsChanged, ConversationID: conversationID})
	}
}

// Reset drops everything, including staleness marks.
func (c *Cache) Reset() {
	c.mu.Lock()
	c.conversations = make(map[string]*Conversation)
	c.messages = make(map[string][]*Message)
	c.byID = make(map[string]*Message)
	c.fresh = make(map[string]bool)
	c.mu.Unlock()

	c.publish(CacheEvent{Kind: CacheConversationsChanged})
}

// ── Messages ─────────────────────────────────────────────

// ApplyMessage merges a pushed message into its conversation and updates the
// conversation's last message, activity time and unread counter. A message
// whose id is already listed is left alone and false is returned.
func (c *Cache) ApplyMessage(msg Message) bool {
	c.mu.Lock()
	if _, dup := c.byID[msg.ID]; dup {
		c.mu.Unlock()
		return false
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	m := msg.clone()
	m.Reactions = m.Reactions.normalize()
	c.insertMessageLocked(&m)

	conv := c.ensureConversationLocked(m.ConversationID, m.CreatedAt)
	if conv.LastMessage == nil || !m.CreatedAt.Before(conv.LastMessage.CreatedAt) {
		last := m.clone()
		conv.LastMessage = &last
	}
	if m.CreatedAt.After(conv.LastActiveAt) {
		conv.LastActiveAt = m.CreatedAt
	}
	if !m.IsMine {
		conv.UnreadCount++
	}
	c.mu.Unlock()

	c.publish(
		CacheEvent{Kind: CacheMessagesChanged, ConversationID: msg.ConversationID},
		CacheEvent{Kind: CacheConversationsChanged, ConversationID: msg.ConversationID},
	)
	return true
}

// PutMessages merges fetched history into a conversation. Existing entries
// are replaced by id.
func (c *Cache) PutMessages(conversationID string, msgs []Message) {
	c.mu.Lock()
	for _, msg := range msgs {
		if msg.ID == "" {
			continue
		}
		m := msg.clone()
		m.ConversationID = conversationID
		m.Reactions = m.Reactions.normalize()
		if old, ok := c.byID[m.ID]; ok {
			*old = m
			continue
		}
		c.insertMessageLocked(&m)
	}
	list := c.messages[conversationID]
	sort.SliceStable(list, func(i, j int) bool { return list[i].CreatedAt.Before(list[j].CreatedAt) })
	if conv, ok := c.conversations[conversationID]; ok && len(list) > 0 {
		newest := list[len(list)-1]
		if conv.LastMessage == nil || !newest.CreatedAt.Before(conv.LastMessage.CreatedAt) {
			last := newest.clone()
			conv.LastMessage = &last
		}
	}
	c.mu.Unlock()

	c.publish(CacheEvent{Kind: CacheMessagesChanged, ConversationID: conversationID})
}

// MarkRead marks every message not sent by readerID as read and zeroes the
// conversation's unread counter.
func (c *Cache) MarkRead(conversationID, readerID string) {
	c.mu.Lock()
	for _, m := range c.messages[conversationID] {
		if m.SenderID != readerID {
			m.Read = true
		}
	}
	if conv, ok := c.conversations[conversationID]; ok {
		conv.UnreadCount = 0
		if conv.LastMessage != nil && conv.LastMessage.SenderID != readerID {
			conv.LastMessage.Read = true
		}
	}
	c.mu.Unlock()

	c.publish(
		CacheEvent{Kind: CacheMessagesChanged, ConversationID: conversationID},
		CacheEvent{Kind: CacheConversationsChanged, ConversationID: conversationID},
	)
}

// ToggleReaction adds or removes userID from a message's emoji reactors.
// Reports whether the user was added.
func (c *Cache) ToggleReaction(messageID, emoji, userID string) (bool, error) {
	c.mu.Lock()
	m, ok := c.byID[messageID]
	if !ok {
		c.mu.Unlock()
		return false, ErrMessageNotFound
	}
	if m.Reactions == nil {
		m.Reactions = make(Reactions)
	}
	added := m.Reactions.Toggle(emoji, userID)
	if len(m.Reactions) == 0 {
		m.Reactions = nil
	}
	conversationID := m.ConversationID
	if conv, ok := c.conversations[conversationID]; ok {
		c.syncLastMessageLocked(conv, m)
	}
	c.mu.Unlock()

	c.publish(CacheEvent{Kind: CacheMessagesChanged, ConversationID: conversationID})
	return added, nil
}

// SetReactions replaces a message's reaction map with the server's.
// Reports whether the message was cached.
func (c *Cache) SetReactions(messageID string, reactions Reactions) bool {
	c.mu.Lock()
	m, ok := c.byID[messageID]
	if !ok {
		c.mu.Unlock()
		return false
	}
	m.Reactions = reactions.normalize()
	conversationID := m.ConversationID
	if conv, ok := c.conversations[conversationID]; ok {
		c.syncLastMessageLocked(conv, m)
	}
	c.mu.Unlock()

	c.publish(CacheEvent{Kind: CacheMessagesChanged, ConversationID: conversationID})
	return true
}

// ── Staleness ────────────────────────────────────────────

// Invalidate marks a query stale so its next read refetches.
func (c *Cache) Invalidate(key string) {
	c.mu.Lock()
	delete(c.fresh, key)
	c.mu.Unlock()

	c.publish(CacheEvent{Kind: CacheInvalidated, Key: key})
}

// IsStale reports whether a query needs refetching.
func (c *Cache) IsStale(key string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return !c.fresh[key]
}

// MarkFresh records that a query was just fetched.
func (c *Cache) MarkFresh(key string) {
	c.mu.Lock()
	c.fresh[key] = true
	c.mu.Unlock()
}

// ── Subscriptions ────────────────────────────────────────

// Subscribe registers fn for change notifications and returns a function
// that removes it. Events are delivered in order on a notification
// goroutine, so fn may read the cache or call back into the Engine; panics
// are recovered.
func (c *Cache) Subscribe(fn func(CacheEvent)) (unsubscribe func()) {
	c.subMu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = fn
	c.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.subMu.Lock()
			delete(c.subs, id)
			c.subMu.Unlock()
		})
	}
}

func (c *Cache) publish(events ...CacheEvent) {
	c.subMu.RLock()
	subs := make([]func(CacheEvent), 0, len(c.subs))
	for _, fn := range c.subs {
		subs = append(subs, fn)
	}
	if len(subs) > 0 {
		c.notify.enqueue(func() {
			for _, ev := range events {
				for _, fn := range subs {
					func() {
						defer func() { recover() }()
						fn(ev)
					}()
				}
			}
		})
	}
	c.subMu.RUnlock()
}

// ── helpers (caller holds c.mu) ──────────────────────────

func (c *Cache) ensureConversationLocked(id string, at time.Time) *Conversation {
	conv, ok := c.conversations[id]
	if !ok {
		if at.IsZero() {
			at = time.Now()
		}
		conv = &Conversation{ID: id, LastActiveAt: at}
		c.conversations[id] = conv
	}
	return conv
}

func (c *Cache) insertMessageLocked(m *Message) {
	list := c.messages[m.ConversationID]
	i := sort.Search(len(list), func(i int) bool { return list[i].CreatedAt.After(m.CreatedAt) })
	list = append(list, nil)
	copy(list[i+1:], list[i:])
	list[i] = m
	c.messages[m.ConversationID] = list
	c.byID[m.ID] = m
}

func (c *Cache) dropMessagesLocked(conversationID string) {
	for _, m := range c.messages[conversationID] {
		delete(c.byID, m.ID)
	}
	delete(c.messages, conversationID)
}

func (c *Cache) syncLastMessageLocked(conv *Conversation, m *Message) {
	if conv.LastMessage == nil || conv.LastMessage.ID == m.ID {
		last := m.clone()
		conv.LastMessage = &last
	}
}
