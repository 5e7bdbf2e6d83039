package events

// Event type constants follow the format: domain.action

// Inbox events
const (
	EventTypeInboxLoaded = "inbox.loaded"
)

// Conversation events
const (
	EventTypeConversationSelected = "conversation.selected"
	EventTypeConversationUpdated  = "conversation.updated"
	EventTypeConversationPromoted = "conversation.promoted"
	EventTypeDraftReplaced        = "conversation.draft_replaced"
)

// Message events
const (
	EventTypeMessageAppended      = "message.appended"
	EventTypeMessageHistoryLoaded = "message.history_loaded"
)

// Badge, presence and connection events
const (
	EventTypeUnreadChanged     = "unread.changed"
	EventTypePresenceChanged   = "presence.changed"
	EventTypeConnectionChanged = "connection.changed"
)

// Aggregate type constants
const (
	AggregateTypeInbox        = "inbox"
	AggregateTypeConversation = "conversation"
	AggregateTypeMessage      = "message"
	AggregateTypeUnread       = "unread"
	AggregateTypePresence     = "presence"
	AggregateTypeConnection   = "connection"
)

// Redis channel prefixes
const (
	ChannelPrefixUser  = "channel:user:"
	ChannelPatternUser = ChannelPrefixUser + "*"
)
