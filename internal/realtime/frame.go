package realtime

import (
	"encoding/json"
	"errors"
	"fmt"

	"marketplace-inbox/internal/domain/message"
	"marketplace-inbox/internal/marketplace"
)

// Frame types on the push connection.
const (
	FrameJoin       = "join"
	FrameLeave      = "leave"
	FrameMessageNew = "message.new"
	FramePresence   = "presence"
)

var ErrUnknownFrame = errors.New("unknown frame type")

// Event is one validated item of the inbound stream.
type Event interface {
	isEvent()
}

// MessageEvent carries a message pushed for a conversation room.
type MessageEvent struct {
	ConversationID int64
	Message        message.Message
}

type PresenceEvent struct {
	UserID int64
	Online bool
}

type ConnState string

const (
	StateConnected    ConnState = "connected"
	StateReconnected  ConnState = "reconnected"
	StateDisconnected ConnState = "disconnected"
)

// ConnectionEvent reports a change of the underlying connection. Epoch grows
// by one with every established connection; delivery is at most once within
// an epoch.
type ConnectionEvent struct {
	State ConnState
	Epoch uint64
}

func (MessageEvent) isEvent()    {}
func (PresenceEvent) isEvent()   {}
func (ConnectionEvent) isEvent() {}

type outboundFrame struct {
	Type           string `json:"type"`
	ConversationID int64  `json:"conversation_id"`
}

type inboundFrame struct {
	Type           string                   `json:"type"`
	ConversationID int64                    `json:"conversation_id"`
	Message        *marketplace.MessageWire `json:"message,omitempty"`
	UserID         int64                    `json:"user_id,omitempty"`
	Online         bool                     `json:"online,omitempty"`
}

// ParseFrame decodes and validates one inbound frame.
func ParseFrame(data []byte) (Event, error) {
	var f inboundFrame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}

	switch f.Type {
	case FrameMessageNew:
		if f.ConversationID <= 0 {
			return nil, fmt.Errorf("message frame: conversation id %d is not positive", f.ConversationID)
		}
		if f.Message == nil {
			return nil, errors.New("message frame: missing message")
		}
		wire := *f.Message
		if wire.ConversationID == 0 {
			wire.ConversationID = f.ConversationID
		}
		if wire.ConversationID != f.ConversationID {
			return nil, fmt.Errorf("message frame: room %d carries message of conversation %d", f.ConversationID, wire.ConversationID)
		}
		msg, err := wire.ToDomain()
		if err != nil {
			return nil, fmt.Errorf("message frame: %w", err)
		}
		return MessageEvent{ConversationID: f.ConversationID, Message: msg}, nil

	case FramePresence:
		if f.UserID <= 0 {
			return nil, fmt.Errorf("presence frame: user id %d is not positive", f.UserID)
		}
		return PresenceEvent{UserID: f.UserID, Online: f.Online}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownFrame, f.Type)
}
