package inbox

import (
	"marketplace-inbox/internal/domain/message"
)

// MessageStore holds the messages of the active conversation in the order
// they were appended. It never re-sorts.
type MessageStore struct {
	key  string
	msgs []message.Message
	ids  map[int64]struct{}
}

func NewMessageStore() *MessageStore {
	return &MessageStore{ids: make(map[int64]struct{})}
}

// Key is the directory slot the store currently belongs to.
func (s *MessageStore) Key() string {
	return s.key
}

// Reset points the store at another slot and seeds it with history.
func (s *MessageStore) Reset(key string, history []message.Message) {
	s.key = key
	s.msgs = nil
	clear(s.ids)
	for _, m := range history {
		s.Append(m)
	}
}

// Merge installs fetched history while keeping messages appended since the
// fetch started. History goes first; later arrivals keep their order.
func (s *MessageStore) Merge(history []message.Message) {
	appended := s.msgs
	s.Reset(s.key, history)
	for _, m := range appended {
		s.Append(m)
	}
}

// Append adds m unless a message with the same id is already present.
func (s *MessageStore) Append(m message.Message) bool {
	if m.ID > 0 {
		if _, dup := s.ids[m.ID]; dup {
			return false
		}
		s.ids[m.ID] = struct{}{}
	}
	s.msgs = append(s.msgs, m)
	return true
}

func (s *MessageStore) Has(id int64) bool {
	_, ok := s.ids[id]
	return ok
}

func (s *MessageStore) Messages() []message.Message {
	out := make([]message.Message, len(s.msgs))
	copy(out, s.msgs)
	return out
}

func (s *MessageStore) Len() int {
	return len(s.msgs)
}
