package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"marketplace-inbox/internal/events"
	"marketplace-inbox/internal/inbox"
	"marketplace-inbox/internal/services"
	"marketplace-inbox/internal/transport/httpdto"
	"marketplace-inbox/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// SessionSource finds the inbox session of a connected user.
type SessionSource interface {
	Get(userID int64) (*inbox.Session, error)
}

const snapshotTimeout = 5 * time.Second

type Handler struct {
	hub      *Hub
	sessions SessionSource
	upgrader websocket.Upgrader
	logger   *logger.Logger
}

func NewHandler(hub *Hub, sessions SessionSource, l *logger.Logger) *Handler {
	if l == nil {
		l = logger.Nop()
	}
	return &Handler{
		hub:      hub,
		sessions: sessions,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: l.Named("ui-stream"),
	}
}

// Connect upgrades an authenticated request into an update stream. The
// first frame is the current inbox when the user has a session.
func (h *Handler) Connect(c *gin.Context) {
	userID, ok := services.UserIDFromContext(c.Request.Context())
	if !ok {
		c.JSON(http.StatusUnauthorized, httpdto.NewErrorResponse("unauthorized", "UNAUTHORIZED"))
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Logger.Debug("upgrade failed", zap.Error(err))
		return
	}

	client := NewClient(conn, userID)
	if snapshot, ok := h.snapshot(c.Request.Context(), userID); ok {
		client.SendMessage(snapshot)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h.hub.Register(client)
	go client.WriteLoop(ctx)

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	}

	h.hub.Unregister(client)
}

func (h *Handler) snapshot(ctx context.Context, userID int64) ([]byte, bool) {
	sess, err := h.sessions.Get(userID)
	if err != nil {
		return nil, false
	}
	ctx, cancel := context.WithTimeout(ctx, snapshotTimeout)
	defer cancel()
	view, err := sess.Snapshot(ctx)
	if err != nil {
		return nil, false
	}
	env, err := events.NewEnvelope(events.EventTypeInboxLoaded, events.AggregateTypeInbox, strconv.FormatInt(userID, 10), view)
	if err != nil {
		return nil, false
	}
	data, err := json.Marshal(env)
	if err != nil {
		return nil, false
	}
	return data, true
}
