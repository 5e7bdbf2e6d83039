package message

import (
	"strings"
	"time"
)

// Message types accepted by the marketplace.
const (
	TypeText         = "text"
	TypePropertyCard = "property_card"
)

// Message is a persisted chat message. ID is assigned by the marketplace and
// grows monotonically within a conversation.
type Message struct {
	ID             int64
	ConversationID int64
	SenderID       int64
	ReceiverID     int64
	Content        string
	Type           string
	SentAt         time.Time
	IsRead         bool
	ReadAt         *time.Time
}

// IsBlank reports whether text has no visible content.
func IsBlank(text string) bool {
	return strings.TrimSpace(text) == ""
}
