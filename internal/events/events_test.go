package events

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUserChannel(t *testing.T) {
	ch := UserChannel(42)
	assert.Equal(t, "channel:user:42", ch)

	id, ok := UserFromChannel(ch)
	require.True(t, ok)
	assert.Equal(t, int64(42), id)

	_, ok = UserFromChannel("channel:conversation:42")
	assert.False(t, ok)
	_, ok = UserFromChannel("channel:user:abc")
	assert.False(t, ok)
}

func TestNewEnvelope(t *testing.T) {
	env, err := NewEnvelope(EventTypeUnreadChanged, AggregateTypeUnread, "42", map[string]int{"total": 3})
	require.NoError(t, err)

	assert.Equal(t, "unread.changed", env.EventType)
	assert.False(t, env.OccurredAt.IsZero())
	assert.JSONEq(t, `{"total":3}`, string(env.Payload))

	_, err = NewEnvelope(EventTypeUnreadChanged, AggregateTypeUnread, "42", func() {})
	assert.Error(t, err)

	raw, err := json.Marshal(env)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"event_type":"unread.changed"`)
}
