package marketplace

import (
	"fmt"
	"time"

	"marketplace-inbox/internal/domain/conversation"
	"marketplace-inbox/internal/domain/message"
)

// Wire shapes of the marketplace API. Everything crossing the boundary is
// converted to domain types and rejected if malformed.

type ContextWire struct {
	Type string `json:"type"`
	ID   int64  `json:"id"`
}

type ParticipantWire struct {
	UserID      int64  `json:"user_id"`
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url,omitempty"`
	IsOnline    bool   `json:"is_online"`
}

type MessageWire struct {
	ID             int64      `json:"id"`
	ConversationID int64      `json:"conversation_id"`
	SenderID       int64      `json:"sender_id"`
	ReceiverID     int64      `json:"receiver_id"`
	Content        string     `json:"content"`
	Type           string     `json:"type"`
	SentAt         time.Time  `json:"sent_at"`
	IsRead         bool       `json:"is_read"`
	ReadAt         *time.Time `json:"read_at,omitempty"`
}

type ConversationWire struct {
	ID          int64           `json:"id"`
	Context     ContextWire     `json:"context"`
	Host        ParticipantWire `json:"host"`
	Guest       ParticipantWire `json:"guest"`
	LastMessage *MessageWire    `json:"last_message,omitempty"`
	UnreadCount int             `json:"unread_count"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

type CreateConversationWire struct {
	CounterpartID      int64       `json:"counterpart_id"`
	Context            ContextWire `json:"context"`
	InitialMessageText string      `json:"initial_message_text"`
}

type CreatedConversationWire struct {
	Conversation ConversationWire `json:"conversation"`
	Messages     []MessageWire    `json:"messages"`
}

type PostMessageWire struct {
	ConversationID int64  `json:"conversation_id"`
	Content        string `json:"content"`
	Type           string `json:"type"`
}

type UnreadTotalWire struct {
	Total int `json:"total"`
}

func (w MessageWire) ToDomain() (message.Message, error) {
	if w.ID <= 0 {
		return message.Message{}, fmt.Errorf("message id %d is not positive", w.ID)
	}
	if w.ConversationID <= 0 {
		return message.Message{}, fmt.Errorf("message %d: conversation id %d is not positive", w.ID, w.ConversationID)
	}
	if w.SenderID <= 0 {
		return message.Message{}, fmt.Errorf("message %d: missing sender", w.ID)
	}
	msgType := w.Type
	if msgType == "" {
		msgType = message.TypeText
	}
	return message.Message{
		ID:             w.ID,
		ConversationID: w.ConversationID,
		SenderID:       w.SenderID,
		ReceiverID:     w.ReceiverID,
		Content:        w.Content,
		Type:           msgType,
		SentAt:         w.SentAt,
		IsRead:         w.IsRead,
		ReadAt:         w.ReadAt,
	}, nil
}

func (w ConversationWire) ToDomain() (*conversation.Persisted, error) {
	if w.ID <= 0 {
		return nil, fmt.Errorf("conversation id %d is not positive", w.ID)
	}
	ct, err := conversation.ParseContextType(w.Context.Type)
	if err != nil {
		return nil, fmt.Errorf("conversation %d: %w", w.ID, err)
	}
	if w.Host.UserID <= 0 || w.Guest.UserID <= 0 {
		return nil, fmt.Errorf("conversation %d: missing participant", w.ID)
	}
	conv := &conversation.Persisted{
		ID:          w.ID,
		Host:        w.Host.toDomain(conversation.RoleHost),
		Guest:       w.Guest.toDomain(conversation.RoleGuest),
		Context:     conversation.Context{Type: ct, ID: w.Context.ID},
		UnreadCount: max(w.UnreadCount, 0),
		CreatedAt:   w.CreatedAt,
		UpdatedAt:   w.UpdatedAt,
	}
	if w.LastMessage != nil {
		last, err := w.LastMessage.ToDomain()
		if err != nil {
			return nil, fmt.Errorf("conversation %d: %w", w.ID, err)
		}
		conv.LastMessage = &last
	}
	return conv, nil
}

func (w ParticipantWire) toDomain(role conversation.Role) conversation.Participant {
	return conversation.Participant{
		UserID:      w.UserID,
		Role:        role,
		DisplayName: w.DisplayName,
		AvatarURL:   w.AvatarURL,
		IsOnline:    w.IsOnline,
	}
}

func contextToWire(c conversation.Context) ContextWire {
	return ContextWire{Type: string(c.Type), ID: c.ID}
}
