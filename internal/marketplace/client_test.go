package marketplace

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"marketplace-inbox/internal/domain/conversation"
	"marketplace-inbox/internal/transport/httpdto"
	inbox_errors "marketplace-inbox/pkg/errors"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, register func(r *gin.Engine)) *Client {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	register(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	c := NewClient(srv.URL, 2*time.Second, nil)
	c.SetToken("tok-1")
	return c
}

func sampleConversation(id int64, ctxType string) ConversationWire {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	return ConversationWire{
		ID:          id,
		Context:     ContextWire{Type: ctxType, ID: 5},
		Host:        ParticipantWire{UserID: 42, DisplayName: "Hana"},
		Guest:       ParticipantWire{UserID: 7, DisplayName: "Gus"},
		UnreadCount: 2,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func TestClient_ListConversations(t *testing.T) {
	var gotAuth, gotRole string
	c := newTestServer(t, func(r *gin.Engine) {
		r.GET("/api/conversations", func(ctx *gin.Context) {
			gotAuth = ctx.GetHeader("Authorization")
			gotRole = ctx.Query("role")
			bad := sampleConversation(0, "property")
			ctx.JSON(http.StatusOK, httpdto.NewSuccessResponse([]ConversationWire{
				sampleConversation(9, "service"),
				bad,
			}))
		})
	})

	convs, err := c.ListConversations(t.Context(), conversation.RoleGuest)
	require.NoError(t, err)

	assert.Equal(t, "Bearer tok-1", gotAuth)
	assert.Equal(t, "guest", gotRole)
	require.Len(t, convs, 1, "malformed rows are dropped")
	assert.Equal(t, int64(9), convs[0].ID)
	assert.Equal(t, conversation.Context{Type: conversation.ContextService, ID: 5}, convs[0].Context)
	assert.Equal(t, conversation.RoleHost, convs[0].Host.Role)
	assert.Equal(t, 2, convs[0].UnreadCount)
}

func TestClient_CreateConversation(t *testing.T) {
	var got CreateConversationWire
	c := newTestServer(t, func(r *gin.Engine) {
		r.POST("/api/conversations", func(ctx *gin.Context) {
			assert.NoError(t, ctx.ShouldBindJSON(&got))
			conv := sampleConversation(11, "experience")
			ctx.JSON(http.StatusCreated, httpdto.NewSuccessResponse(CreatedConversationWire{
				Conversation: conv,
				Messages: []MessageWire{{
					ID: 100, ConversationID: 11, SenderID: 7, ReceiverID: 42, Content: got.InitialMessageText,
				}},
			}))
		})
	})

	conv, msgs, err := c.CreateConversation(t.Context(), CreateConversationInput{
		CounterpartID: 42,
		Context:       conversation.Context{Type: conversation.ContextExperience, ID: 5},
		Text:          "Hello",
	})
	require.NoError(t, err)

	assert.Equal(t, int64(42), got.CounterpartID)
	assert.Equal(t, ContextWire{Type: "experience", ID: 5}, got.Context)
	assert.Equal(t, "Hello", got.InitialMessageText)
	assert.Equal(t, int64(11), conv.ID)
	require.Len(t, msgs, 1)
	assert.Equal(t, "Hello", msgs[0].Content)
	assert.Equal(t, "text", msgs[0].Type)
}

func TestClient_PostMessageAndMarkRead(t *testing.T) {
	var posted PostMessageWire
	var markedPath string
	c := newTestServer(t, func(r *gin.Engine) {
		r.POST("/api/messages", func(ctx *gin.Context) {
			assert.NoError(t, ctx.ShouldBindJSON(&posted))
			ctx.JSON(http.StatusOK, httpdto.NewSuccessResponse(MessageWire{
				ID: 5, ConversationID: posted.ConversationID, SenderID: 7, Content: posted.Content, Type: posted.Type,
			}))
		})
		r.POST("/api/conversations/:id/read", func(ctx *gin.Context) {
			markedPath = ctx.Request.URL.Path
			ctx.Status(http.StatusNoContent)
		})
		r.GET("/api/conversations/unread-total", func(ctx *gin.Context) {
			ctx.JSON(http.StatusOK, httpdto.NewSuccessResponse(UnreadTotalWire{Total: 4}))
		})
	})

	msg, err := c.PostMessage(t.Context(), PostMessageInput{ConversationID: 9, Content: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "text", posted.Type)
	assert.Equal(t, int64(5), msg.ID)

	require.NoError(t, c.MarkRead(t.Context(), 9))
	assert.Equal(t, "/api/conversations/9/read", markedPath)

	total, err := c.UnreadTotal(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 4, total)
}

func TestClient_StatusMapping(t *testing.T) {
	c := newTestServer(t, func(r *gin.Engine) {
		r.POST("/api/conversations/:id/read", func(ctx *gin.Context) {
			ctx.JSON(http.StatusNotFound, httpdto.NewErrorResponse("conversation gone", "NOT_FOUND"))
		})
		r.POST("/api/conversations", func(ctx *gin.Context) {
			ctx.JSON(http.StatusConflict, httpdto.NewErrorResponse("already exists", "CONFLICT"))
		})
		r.GET("/api/conversations/unread-total", func(ctx *gin.Context) {
			ctx.Status(http.StatusBadGateway)
		})
		r.GET("/api/conversations", func(ctx *gin.Context) {
			ctx.JSON(http.StatusUnauthorized, httpdto.NewErrorResponse("unauthorized", "UNAUTHORIZED"))
		})
	})

	err := c.MarkRead(t.Context(), 3)
	assert.True(t, inbox_errors.IsNotFound(err))
	assert.Contains(t, err.Error(), "conversation gone")

	_, _, err = c.CreateConversation(t.Context(), CreateConversationInput{CounterpartID: 1, Text: "x"})
	assert.True(t, inbox_errors.IsConflict(err))

	_, err = c.UnreadTotal(t.Context())
	assert.True(t, inbox_errors.IsTransport(err))

	_, err = c.ListConversations(t.Context(), conversation.RoleHost)
	assert.ErrorIs(t, err, inbox_errors.ErrUnauthorized)
}

func TestClient_UnreachableIsTransport(t *testing.T) {
	c := NewClient("http://127.0.0.1:1", 200*time.Millisecond, nil)

	_, err := c.ListMessages(t.Context(), 1)
	assert.True(t, inbox_errors.IsTransport(err))
}
