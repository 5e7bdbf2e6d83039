package inbox

import (
	"time"

	"marketplace-inbox/internal/domain/conversation"
	"marketplace-inbox/internal/domain/message"
)

// Views are detached copies of session state, safe to hand to other
// goroutines and to encode as JSON.

type ParticipantView struct {
	UserID      int64  `json:"user_id"`
	Role        string `json:"role"`
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url"`
	IsOnline    bool   `json:"is_online"`
}

type MessageView struct {
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

type EntryView struct {
	Key            string          `json:"key"`
	Draft          bool            `json:"draft"`
	ConversationID int64           `json:"conversation_id,omitempty"`
	ContextType    string          `json:"context_type"`
	ContextID      int64           `json:"context_id"`
	Host           ParticipantView `json:"host"`
	Guest          ParticipantView `json:"guest"`
	Counterpart    ParticipantView `json:"counterpart"`
	LastMessage    *MessageView    `json:"last_message,omitempty"`
	UnreadCount    int             `json:"unread_count"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

type View struct {
	UserID      int64       `json:"user_id"`
	Role        string      `json:"role"`
	Loaded      bool        `json:"loaded"`
	Entries     []EntryView `json:"entries"`
	SelectedKey string      `json:"selected_key,omitempty"`
	Compose     string      `json:"compose,omitempty"`
	UnreadTotal int         `json:"unread_total"`
	Connected   bool        `json:"connected"`
}

// Selected returns the view of the selected entry, if any.
func (v View) Selected() (EntryView, bool) {
	for _, e := range v.Entries {
		if e.Key == v.SelectedKey {
			return e, true
		}
	}
	return EntryView{}, false
}

type SendResult struct {
	Conversation EntryView   `json:"conversation"`
	Message      MessageView `json:"message"`
	Promoted     bool        `json:"promoted"`
}

func participantView(p conversation.Participant) ParticipantView {
	return ParticipantView{
		UserID:      p.UserID,
		Role:        string(p.Role),
		DisplayName: p.DisplayName,
		AvatarURL:   p.AvatarURL,
		IsOnline:    p.IsOnline,
	}
}

func messageView(m message.Message) MessageView {
	return MessageView{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		ReceiverID:     m.ReceiverID,
		Content:        m.Content,
		Type:           m.Type,
		SentAt:         m.SentAt,
		IsRead:         m.IsRead,
		ReadAt:         m.ReadAt,
	}
}

func messageViews(msgs []message.Message) []MessageView {
	out := make([]MessageView, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, messageView(m))
	}
	return out
}

func entryView(e conversation.Entry, self conversation.Role) EntryView {
	host, guest := e.Parties()
	listing := e.Listing()
	v := EntryView{
		Key:         KeyOf(e),
		ContextType: string(listing.Type),
		ContextID:   listing.ID,
		Host:        participantView(host),
		Guest:       participantView(guest),
		Counterpart: participantView(conversation.Counterpart(e, self)),
	}
	switch c := e.(type) {
	case *conversation.Draft:
		v.Draft = true
		v.CreatedAt = c.CreatedAt
		v.UpdatedAt = c.CreatedAt
	case *conversation.Persisted:
		v.ConversationID = c.ID
		v.UnreadCount = c.UnreadCount
		v.CreatedAt = c.CreatedAt
		v.UpdatedAt = c.UpdatedAt
		if c.LastMessage != nil {
			lm := messageView(*c.LastMessage)
			v.LastMessage = &lm
		}
	}
	return v
}
