package chatsync

import "context"

func (s *Session) handlers() map[string]eventHandler {
	return map[string]eventHandler{
		EventMessageCreated:      handle(s.onMessageCreated),
		EventConversationCreated: handle(s.onConversationCreated),
		EventMessagesRead:        handle(s.onMessagesRead),
		EventTyping:              handle(s.onTyping),
		EventPeerOnline:          handle(s.onPeerOnline),
		EventPeerOffline:         handle(s.onPeerOffline),
		EventOnlineRoster:        handle(s.onOnlineRoster),
		EventUnreadCount:         handle(s.onUnreadCount),
		EventConversationDeleted: handle(s.onConversationDeleted),
		EventReactionUpdated:     handle(s.onReactionUpdated),
		EventError:               handle(s.onError),
	}
}

func (s *Session) onMessageCreated(_ context.Context, m Message) error {
	if m.ID == "" {
		return errMissingField(EventMessageCreated, "id")
	}
	if m.ConversationID == "" {
		return errMissingField(EventMessageCreated, "conversationId")
	}
	if !s.dedup.Add(m.ID) {
		s.env.metrics.DuplicatesDropped.Inc()
		s.logger.Debug("duplicate message ignored", "message", m.ID)
		return nil
	}
	m.IsMine = s.userID != "" && m.SenderID == s.userID
	s.env.cache.ApplyMessage(m)
	return nil
}

func (s *Session) onConversationCreated(_ context.Context, c Conversation) error {
	if c.ID == "" {
		return errMissingField(EventConversationCreated, "id")
	}
	c.IsTyping = false
	s.env.cache.InsertConversation(c)
	return nil
}

func (s *Session) onMessagesRead(_ context.Context, p MessagesReadPayload) error {
	if p.ConversationID == "" {
		return errMissingField(EventMessagesRead, "conversationId")
	}
	s.env.cache.MarkRead(p.ConversationID, p.ReaderID)
	return nil
}

func (s *Session) onTyping(_ context.Context, p TypingPayload) error {
	if p.ConversationID == "" || p.UserID == "" {
		return errMissingField(EventTyping, "conversationId or userId")
	}
	if p.UserID == s.userID {
		return nil
	}
	s.typing.SetRemote(p.ConversationID, p.UserID, p.IsTyping)
	return nil
}

func (s *Session) onPeerOnline(_ context.Context, p PresencePayload) error {
	if p.UserID == "" {
		return errMissingField(EventPeerOnline, "userId")
	}
	s.presence.SetOnline(p.UserID)
	return nil
}

func (s *Session) onPeerOffline(_ context.Context, p PresencePayload) error {
	if p.UserID == "" {
		return errMissingField(EventPeerOffline, "userId")
	}
	s.presence.SetOffline(p.UserID)
	s.typing.ClearPeer(p.UserID)
	return nil
}

func (s *Session) onOnlineRoster(_ context.Context, p OnlineRosterPayload) error {
	s.presence.Replace(p.UserIDs)
	return nil
}

func (s *Session) onUnreadCount(_ context.Context, p UnreadCountPayload) error {
	if p.ConversationID == "" {
		return errMissingField(EventUnreadCount, "conversationId")
	}
	s.env.cache.AddUnread(p.ConversationID, p.Delta, p.Timestamp)
	return nil
}

func (s *Session) onConversationDeleted(_ context.Context, p ConversationDeletedPayload) error {
	if p.ConversationID == "" {
		return errMissingField(EventConversationDeleted, "conversationId")
	}
	s.typing.ForgetConversation(p.ConversationID)
	s.env.cache.DeleteConversation(p.ConversationID)
	s.env.cache.Invalidate(ConversationsKey)

	local := (s.userID != "" && p.DeletedBy == s.userID) ||
		(s.env.pendingDelete != nil && s.env.pendingDelete(p.ConversationID))
	if s.env.conversationDeleted != nil {
		s.env.conversationDeleted(p, local)
	}
	return nil
}

func (s *Session) onReactionUpdated(_ context.Context, p ReactionUpdatedPayload) error {
	if p.MessageID == "" {
		return errMissingField(EventReactionUpdated, "messageId")
	}
	if !s.env.cache.SetReactions(p.MessageID, p.Reactions) && p.ConversationID != "" {
		s.env.cache.Invalidate(MessagesKey(p.ConversationID))
	}
	return nil
}

func (s *Session) onError(_ context.Context, p ErrorPayload) error {
	s.logger.Warn("server error event", "message", p.Message)
	return nil
}
