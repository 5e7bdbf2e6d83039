package inbox

import (
	"testing"

	"marketplace-inbox/internal/domain/message"

	"github.com/stretchr/testify/assert"
)

func ids(msgs []message.Message) []int64 {
	out := make([]int64, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.ID)
	}
	return out
}

func TestMessageStore_AppendOrderIsRenderOrder(t *testing.T) {
	s := NewMessageStore()
	s.Reset("conversation:9", nil)

	for _, id := range []int64{30, 20, 25} {
		assert.True(t, s.Append(message.Message{ID: id, ConversationID: 9}))
	}
	assert.Equal(t, []int64{30, 20, 25}, ids(s.Messages()))
}

func TestMessageStore_DropsDuplicateIDs(t *testing.T) {
	s := NewMessageStore()
	s.Reset("conversation:9", []message.Message{{ID: 1}, {ID: 2}})

	assert.False(t, s.Append(message.Message{ID: 2, Content: "echo"}))
	assert.True(t, s.Append(message.Message{ID: 3}))
	assert.Equal(t, 3, s.Len())
}

func TestMessageStore_MergeKeepsLateArrivals(t *testing.T) {
	s := NewMessageStore()
	s.Reset("conversation:9", nil)
	s.Append(message.Message{ID: 5})
	s.Append(message.Message{ID: 7})

	s.Merge([]message.Message{{ID: 3}, {ID: 4}, {ID: 5}})

	assert.Equal(t, "conversation:9", s.Key())
	assert.Equal(t, []int64{3, 4, 5, 7}, ids(s.Messages()))
}

func TestMessageStore_ResetSwitchesSlot(t *testing.T) {
	s := NewMessageStore()
	s.Reset("conversation:1", []message.Message{{ID: 1}})
	s.Reset("draft:abc", nil)

	assert.Equal(t, "draft:abc", s.Key())
	assert.Zero(t, s.Len())
	assert.True(t, s.Append(message.Message{ID: 1}), "ids from the previous slot are forgotten")
}
