package conversation

import (
	"testing"

	"marketplace-inbox/internal/domain/message"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseContextType(t *testing.T) {
	ct, err := ParseContextType("")
	require.NoError(t, err)
	assert.Equal(t, ContextProperty, ct)

	ct, err = ParseContextType(" Service ")
	require.NoError(t, err)
	assert.Equal(t, ContextService, ct)

	_, err = ParseContextType("boat")
	assert.Error(t, err)
}

func TestMatches_RequiresContextType(t *testing.T) {
	conv := &Persisted{
		ID:      9,
		Host:    Participant{UserID: 42, Role: RoleHost},
		Guest:   Participant{UserID: 7, Role: RoleGuest},
		Context: Context{Type: ContextProperty, ID: 5},
	}

	assert.True(t, Matches(conv, RoleGuest, 42, Context{Type: ContextProperty, ID: 5}))
	assert.False(t, Matches(conv, RoleGuest, 42, Context{Type: ContextService, ID: 5}))
	assert.False(t, Matches(conv, RoleGuest, 42, Context{Type: ContextProperty, ID: 6}))
	assert.False(t, Matches(conv, RoleHost, 42, Context{Type: ContextProperty, ID: 5}), "host looks at the guest side")
	assert.True(t, Matches(conv, RoleHost, 7, Context{Type: ContextProperty, ID: 5}))
}

func TestPersisted_CloneDoesNotAlias(t *testing.T) {
	p := &Persisted{ID: 1, LastMessage: &message.Message{ID: 3, Content: "hi"}}
	cp := p.Clone()
	cp.UnreadCount = 4
	cp.LastMessage.Content = "changed"

	assert.Equal(t, 0, p.UnreadCount)
	assert.Equal(t, "hi", p.LastMessage.Content)
}

func TestRole_Opposite(t *testing.T) {
	assert.Equal(t, RoleGuest, RoleHost.Opposite())
	assert.Equal(t, RoleHost, RoleGuest.Opposite())

	r, err := ParseRole("HOST")
	require.NoError(t, err)
	assert.Equal(t, RoleHost, r)
}
