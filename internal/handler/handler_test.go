package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"marketplace-inbox/config"
	"marketplace-inbox/internal/domain/conversation"
	"marketplace-inbox/internal/domain/message"
	"marketplace-inbox/internal/inbox"
	"marketplace-inbox/internal/marketplace"
	"marketplace-inbox/internal/middleware"
	"marketplace-inbox/internal/realtime"
	"marketplace-inbox/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const guestID int64 = 7

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeBackend struct {
	mu      sync.Mutex
	convs   []*conversation.Persisted
	history map[int64][]message.Message
	nextID  int64
}

func newFakeBackend() *fakeBackend {
	host := func(id int64) conversation.Participant {
		return conversation.Participant{UserID: id, Role: conversation.RoleHost, DisplayName: "host"}
	}
	guest := conversation.Participant{UserID: guestID, Role: conversation.RoleGuest, DisplayName: "me"}
	return &fakeBackend{
		convs: []*conversation.Persisted{
			{ID: 1, Host: host(42), Guest: guest, Context: conversation.Context{Type: conversation.ContextProperty, ID: 5}, UnreadCount: 2, CreatedAt: now, UpdatedAt: now},
			{ID: 2, Host: host(43), Guest: guest, Context: conversation.Context{Type: conversation.ContextService, ID: 5}, UnreadCount: 1, CreatedAt: now, UpdatedAt: now.Add(-time.Hour)},
		},
		history: map[int64][]message.Message{
			1: {{ID: 10, ConversationID: 1, SenderID: 42, ReceiverID: guestID, Content: "hi", Type: message.TypeText, SentAt: now}},
		},
		nextID: 100,
	}
}

func (b *fakeBackend) ListConversations(ctx context.Context, role conversation.Role) ([]*conversation.Persisted, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*conversation.Persisted, 0, len(b.convs))
	for _, c := range b.convs {
		out = append(out, c.Clone())
	}
	return out, nil
}

func (b *fakeBackend) ListMessages(ctx context.Context, conversationID int64) ([]message.Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]message.Message(nil), b.history[conversationID]...), nil
}

func (b *fakeBackend) CreateConversation(ctx context.Context, in marketplace.CreateConversationInput) (*conversation.Persisted, []message.Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	conv := &conversation.Persisted{
		ID:        b.nextID,
		Host:      conversation.Participant{UserID: in.CounterpartID, Role: conversation.RoleHost, DisplayName: "new host"},
		Guest:     conversation.Participant{UserID: guestID, Role: conversation.RoleGuest},
		Context:   in.Context,
		CreatedAt: now,
		UpdatedAt: now,
	}
	first := message.Message{ID: b.nextID * 10, ConversationID: conv.ID, SenderID: guestID, ReceiverID: in.CounterpartID, Content: in.Text, Type: message.TypeText, SentAt: now}
	b.convs = append(b.convs, conv.Clone())
	return conv, []message.Message{first}, nil
}

func (b *fakeBackend) PostMessage(ctx context.Context, in marketplace.PostMessageInput) (message.Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	return message.Message{ID: b.nextID, ConversationID: in.ConversationID, SenderID: guestID, Content: in.Content, Type: in.Type, SentAt: now}, nil
}

func (b *fakeBackend) MarkRead(ctx context.Context, conversationID int64) error { return nil }

func (b *fakeBackend) UnreadTotal(ctx context.Context) (int, error) { return 3, nil }

type fakeTransport struct{}

func (fakeTransport) Connect()          {}
func (fakeTransport) Join(int64) error  { return nil }
func (fakeTransport) Leave(int64) error { return nil }
func (fakeTransport) Close()            {}
func (fakeTransport) Subscribe(context.Context) <-chan realtime.Event {
	return make(chan realtime.Event)
}

type fakeUpstream struct{ backend *fakeBackend }

func (u fakeUpstream) Backend(string) services.Backend         { return u.backend }
func (u fakeUpstream) Transport(string) services.PushTransport { return fakeTransport{} }

type harness struct {
	router *gin.Engine
	token  string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	gin.SetMode(gin.TestMode)

	auth := services.NewAuthService(&config.Config{JWTSecret: "secret"})
	token, err := auth.SignAccessToken(guestID, time.Hour)
	require.NoError(t, err)

	sessions := services.NewInboxService(services.InboxServiceOptions{Upstream: fakeUpstream{newFakeBackend()}})
	t.Cleanup(sessions.Shutdown)

	sh := NewSessionHandler(sessions)
	ih := NewInboxHandler(sessions)

	r := gin.New()
	v1 := r.Group("/v1", middleware.AuthMiddleware(auth))
	v1.POST("/session", sh.Create)
	v1.DELETE("/session", sh.Delete)
	v1.GET("/inbox", ih.Load)
	v1.GET("/inbox/snapshot", ih.Snapshot)
	v1.POST("/inbox/select", ih.Select)
	v1.POST("/inbox/deeplinks", ih.OpenDeepLink)
	v1.GET("/inbox/messages", ih.Messages)
	v1.POST("/inbox/messages", ih.Send)
	v1.GET("/inbox/unread", ih.Unread)

	return &harness{router: r, token: token}
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
	Code    string          `json:"code"`
}

func (h *harness) do(t *testing.T, method, path string, body any) (int, envelope) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Authorization", "Bearer "+h.token)
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)

	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return rec.Code, env
}

func decodeView(t *testing.T, env envelope) inbox.View {
	t.Helper()
	var v inbox.View
	require.NoError(t, json.Unmarshal(env.Data, &v))
	return v
}

func TestSession_SignInLoadsDirectory(t *testing.T) {
	h := newHarness(t)

	code, env := h.do(t, http.MethodPost, "/v1/session", map[string]string{"role": "guest"})
	require.Equal(t, http.StatusCreated, code, env.Error)
	v := decodeView(t, env)
	assert.True(t, v.Loaded)
	assert.Equal(t, "guest", v.Role)
	assert.Len(t, v.Entries, 2)
	assert.Equal(t, 3, v.UnreadTotal)

	code, env = h.do(t, http.MethodGet, "/v1/inbox/unread", nil)
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"total":3}`, string(env.Data))
}

func TestSession_SignInWithoutBody(t *testing.T) {
	h := newHarness(t)
	code, env := h.do(t, http.MethodPost, "/v1/session", nil)
	require.Equal(t, http.StatusCreated, code, env.Error)
	assert.Equal(t, "guest", decodeView(t, env).Role)

	code, env = h.do(t, http.MethodPost, "/v1/session", map[string]string{"role": "admin"})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "INVALID_REQUEST", env.Code)
}

func TestInbox_RequiresSession(t *testing.T) {
	h := newHarness(t)
	code, env := h.do(t, http.MethodGet, "/v1/inbox/snapshot", nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "NO_SESSION", env.Code)
}

func TestInbox_RequiresToken(t *testing.T) {
	h := newHarness(t)
	h.token = "garbage"
	code, env := h.do(t, http.MethodGet, "/v1/inbox/snapshot", nil)
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, "UNAUTHORIZED", env.Code)
}

func TestInbox_SelectAndReadHistory(t *testing.T) {
	h := newHarness(t)
	code, _ := h.do(t, http.MethodPost, "/v1/session", nil)
	require.Equal(t, http.StatusCreated, code)

	code, env := h.do(t, http.MethodPost, "/v1/inbox/select", map[string]any{"conversation_id": 1, "draft_key": "x"})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "INVALID_REQUEST", env.Code)

	code, env = h.do(t, http.MethodPost, "/v1/inbox/select", map[string]any{"conversation_id": 1})
	require.Equal(t, http.StatusOK, code, env.Error)
	v := decodeView(t, env)
	assert.Equal(t, "conversation:1", v.SelectedKey)
	assert.Equal(t, 1, v.UnreadTotal)

	code, env = h.do(t, http.MethodGet, "/v1/inbox/messages", nil)
	require.Equal(t, http.StatusOK, code)
	var body struct {
		Messages []inbox.MessageView `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &body))
	require.Len(t, body.Messages, 1)
	assert.Equal(t, "hi", body.Messages[0].Content)

	code, env = h.do(t, http.MethodPost, "/v1/inbox/select", map[string]any{"conversation_id": 99})
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "NOT_FOUND", env.Code)
}

func TestInbox_DeepLinkThenSendPromotesDraft(t *testing.T) {
	h := newHarness(t)
	code, _ := h.do(t, http.MethodPost, "/v1/session", nil)
	require.Equal(t, http.StatusCreated, code)

	code, env := h.do(t, http.MethodPost, "/v1/inbox/deeplinks", map[string]any{
		"counterpart_id": 42,
		"context_id":     5,
		"context_type":   "experience",
		"display_name":   "Hana",
	})
	require.Equal(t, http.StatusOK, code, env.Error)
	v := decodeView(t, env)
	sel, ok := v.Selected()
	require.True(t, ok)
	assert.True(t, sel.Draft)
	assert.Equal(t, "Hana", sel.Counterpart.DisplayName)
	assert.Len(t, v.Entries, 3)

	code, env = h.do(t, http.MethodPost, "/v1/inbox/messages", map[string]string{"text": "   "})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "INVALID_REQUEST", env.Code)

	code, env = h.do(t, http.MethodPost, "/v1/inbox/messages", map[string]string{"text": "Is it free?"})
	require.Equal(t, http.StatusOK, code, env.Error)
	var res inbox.SendResult
	require.NoError(t, json.Unmarshal(env.Data, &res))
	assert.True(t, res.Promoted)
	assert.Equal(t, "Is it free?", res.Message.Content)
	assert.Equal(t, "experience", res.Conversation.ContextType)

	code, env = h.do(t, http.MethodGet, "/v1/inbox/snapshot", nil)
	require.Equal(t, http.StatusOK, code)
	v = decodeView(t, env)
	assert.Len(t, v.Entries, 3)
	sel, ok = v.Selected()
	require.True(t, ok)
	assert.False(t, sel.Draft)
	assert.Equal(t, res.Conversation.ConversationID, sel.ConversationID)
}

func TestInbox_DeepLinkValidation(t *testing.T) {
	h := newHarness(t)
	code, _ := h.do(t, http.MethodPost, "/v1/session", nil)
	require.Equal(t, http.StatusCreated, code)

	code, env := h.do(t, http.MethodPost, "/v1/inbox/deeplinks", map[string]any{"counterpart_id": 42, "context_id": 5, "context_type": "boat"})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "INVALID_REQUEST", env.Code)

	code, env = h.do(t, http.MethodPost, "/v1/inbox/deeplinks", map[string]any{"counterpart_id": guestID, "context_id": 5})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "INVALID_REQUEST", env.Code)
}

func TestInbox_LoadSwitchesRole(t *testing.T) {
	h := newHarness(t)
	code, _ := h.do(t, http.MethodPost, "/v1/session", nil)
	require.Equal(t, http.StatusCreated, code)

	code, env := h.do(t, http.MethodGet, "/v1/inbox?role=host", nil)
	require.Equal(t, http.StatusOK, code, env.Error)
	assert.Equal(t, "host", decodeView(t, env).Role)

	code, env = h.do(t, http.MethodGet, "/v1/inbox", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "host", decodeView(t, env).Role, "role is kept without a query")

	code, _ = h.do(t, http.MethodGet, "/v1/inbox?role=owner", nil)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestSession_SignOut(t *testing.T) {
	h := newHarness(t)
	code, _ := h.do(t, http.MethodPost, "/v1/session", nil)
	require.Equal(t, http.StatusCreated, code)

	code, _ = h.do(t, http.MethodDelete, "/v1/session", nil)
	assert.Equal(t, http.StatusOK, code)

	code, env := h.do(t, http.MethodGet, "/v1/inbox/snapshot", nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "NO_SESSION", env.Code)

	code, _ = h.do(t, http.MethodDelete, "/v1/session", nil)
	assert.Equal(t, http.StatusNotFound, code)
}
