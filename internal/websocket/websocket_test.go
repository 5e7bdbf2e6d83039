package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"marketplace-inbox/internal/domain/conversation"
	"marketplace-inbox/internal/domain/message"
	"marketplace-inbox/internal/events"
	"marketplace-inbox/internal/inbox"
	"marketplace-inbox/internal/marketplace"
	"marketplace-inbox/internal/realtime"
	"marketplace-inbox/internal/services"
	inbox_errors "marketplace-inbox/pkg/errors"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newClient(userID int64) *Client {
	return NewClient(nil, userID)
}

func runHub(t *testing.T) *Hub {
	t.Helper()
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)
	return hub
}

func TestHub_RegisterSubscribesUserChannel(t *testing.T) {
	hub := runHub(t)
	a := newClient(7)
	b := newClient(8)
	hub.Register(a)
	hub.Register(b)

	require.Eventually(t, func() bool { return hub.GetClientCount() == 2 }, time.Second, 5*time.Millisecond)
	assert.True(t, a.IsSubscribed("channel:user:7"))

	hub.BroadcastToUser(7, []byte("hello"))
	select {
	case msg := <-a.Send:
		assert.Equal(t, "hello", string(msg))
	case <-time.After(time.Second):
		t.Fatal("no message for user 7")
	}
	assert.Empty(t, b.Send)
}

func TestHub_UnregisterClosesSend(t *testing.T) {
	hub := runHub(t)
	a := newClient(7)
	hub.Register(a)
	hub.Unregister(a)
	hub.Unregister(a)

	select {
	case _, ok := <-a.Send:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("send channel not closed")
	}
	assert.Zero(t, hub.GetClientCount())
	assert.Zero(t, hub.GetChannelSubscriberCount("channel:user:7"))

	hub.BroadcastToUser(7, []byte("late"))
}

func TestHub_ExtraChannels(t *testing.T) {
	hub := runHub(t)
	a := newClient(7)
	hub.Register(a)
	hub.Subscribe(a, "channel:ops")
	require.Eventually(t, func() bool { return hub.GetChannelSubscriberCount("channel:ops") == 1 }, time.Second, 5*time.Millisecond)

	hub.Unsubscribe(a, "channel:ops")
	require.Eventually(t, func() bool { return hub.GetChannelSubscriberCount("channel:ops") == 0 }, time.Second, 5*time.Millisecond)
	assert.ElementsMatch(t, []string{"channel:user:7"}, a.GetChannels())
}

type fakeSubscriber struct {
	deliveries []struct {
		channel string
		payload string
	}
	patterns []string
}

func (f *fakeSubscriber) Subscribe(ctx context.Context, channels []string, handler func(channel string, payload []byte)) error {
	f.patterns = channels
	for _, d := range f.deliveries {
		handler(d.channel, []byte(d.payload))
	}
	return nil
}

func TestRedisBridge_RelaysUserChannels(t *testing.T) {
	hub := runHub(t)
	a := newClient(7)
	hub.Register(a)
	require.Eventually(t, func() bool { return hub.GetClientCount() == 1 }, time.Second, 5*time.Millisecond)

	sub := &fakeSubscriber{}
	sub.deliveries = append(sub.deliveries,
		struct{ channel, payload string }{"channel:user:abc", "bad"},
		struct{ channel, payload string }{"channel:user:7", "update"},
	)
	require.NoError(t, NewRedisBridge(sub, hub).Run(context.Background()))

	assert.Equal(t, []string{events.ChannelPatternUser}, sub.patterns)
	require.Len(t, a.Send, 1)
	assert.Equal(t, "update", string(<-a.Send))
}

type noSessions struct{}

func (noSessions) Get(int64) (*inbox.Session, error) { return nil, inbox_errors.ErrNoSession }

type singleSession struct{ sess *inbox.Session }

func (s singleSession) Get(int64) (*inbox.Session, error) { return s.sess, nil }

type quietBackend struct{}

func (quietBackend) ListConversations(context.Context, conversation.Role) ([]*conversation.Persisted, error) {
	return nil, nil
}
func (quietBackend) ListMessages(context.Context, int64) ([]message.Message, error) { return nil, nil }
func (quietBackend) CreateConversation(context.Context, marketplace.CreateConversationInput) (*conversation.Persisted, []message.Message, error) {
	return nil, nil, errors.New("unused")
}
func (quietBackend) PostMessage(context.Context, marketplace.PostMessageInput) (message.Message, error) {
	return message.Message{}, errors.New("unused")
}
func (quietBackend) MarkRead(context.Context, int64) error { return nil }

type quietTransport struct{}

func (quietTransport) Connect()          {}
func (quietTransport) Join(int64) error  { return nil }
func (quietTransport) Leave(int64) error { return nil }
func (quietTransport) Subscribe(context.Context) <-chan realtime.Event {
	return make(chan realtime.Event)
}

func newStreamServer(t *testing.T, hub *Hub, sessions SessionSource) string {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/v1/ws", func(c *gin.Context) {
		c.Request = c.Request.WithContext(services.WithUserContext(c.Request.Context(), 7, "tok"))
		c.Next()
	}, NewHandler(hub, sessions, nil).Connect)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/ws"
}

func readEnvelope(t *testing.T, conn *websocket.Conn) events.Envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var env events.Envelope
	require.NoError(t, json.Unmarshal(data, &env))
	return env
}

func TestHandler_SendsSnapshotThenUpdates(t *testing.T) {
	hub := runHub(t)
	sess := inbox.NewSession(inbox.Options{UserID: 7, Backend: quietBackend{}, Transport: quietTransport{}})
	go sess.Run(context.Background())
	t.Cleanup(sess.Close)

	url := newStreamServer(t, hub, singleSession{sess})
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	first := readEnvelope(t, conn)
	assert.Equal(t, events.EventTypeInboxLoaded, first.EventType)
	var view inbox.View
	require.NoError(t, json.Unmarshal(first.Payload, &view))
	assert.Equal(t, int64(7), view.UserID)

	require.Eventually(t, func() bool { return hub.GetClientCount() == 1 }, time.Second, 5*time.Millisecond)
	env, err := events.NewEnvelope(events.EventTypeUnreadChanged, events.AggregateTypeUnread, "7", map[string]int{"total": 1})
	require.NoError(t, err)
	data, err := json.Marshal(env)
	require.NoError(t, err)
	hub.BroadcastToUser(7, data)

	assert.Equal(t, events.EventTypeUnreadChanged, readEnvelope(t, conn).EventType)
}

func TestHandler_DisconnectUnregisters(t *testing.T) {
	hub := runHub(t)
	url := newStreamServer(t, hub, noSessions{})

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return hub.GetClientCount() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool { return hub.GetClientCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestHandler_RequiresUser(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/v1/ws", NewHandler(runHub(t), noSessions{}, nil).Connect)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/ws", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
