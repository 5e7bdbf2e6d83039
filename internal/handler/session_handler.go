package handler

import (
	"errors"
	"io"
	"net/http"

	"marketplace-inbox/internal/domain/conversation"
	"marketplace-inbox/internal/services"
	"marketplace-inbox/internal/transport/httpdto"

	"github.com/gin-gonic/gin"
)

type SessionHandler struct {
	sessions *services.InboxService
}

func NewSessionHandler(sessions *services.InboxService) *SessionHandler {
	return &SessionHandler{sessions: sessions}
}

// Create signs the user in: it starts the inbox session and loads the
// directory for the requested role (guest by default).
func (h *SessionHandler) Create(c *gin.Context) {
	var req httpdto.SessionRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, httpdto.NewErrorResponse("invalid request", "INVALID_REQUEST"))
		return
	}
	role := conversation.RoleGuest
	if req.Role != "" {
		parsed, err := conversation.ParseRole(req.Role)
		if err != nil {
			c.JSON(http.StatusBadRequest, httpdto.NewErrorResponse(err.Error(), "INVALID_REQUEST"))
			return
		}
		role = parsed
	}

	ctx := c.Request.Context()
	userID, ok := services.UserIDFromContext(ctx)
	token, hasToken := services.TokenFromContext(ctx)
	if !ok || !hasToken {
		c.JSON(http.StatusUnauthorized, httpdto.NewErrorResponse("unauthorized", "UNAUTHORIZED"))
		return
	}

	sess, err := h.sessions.Acquire(ctx, userID, token, role)
	if err != nil {
		respondError(c, err)
		return
	}
	view, err := sess.Load(ctx, role)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, httpdto.NewSuccessResponse(view))
}

// Delete signs the user out and tears the session down.
func (h *SessionHandler) Delete(c *gin.Context) {
	userID, ok := services.UserIDFromContext(c.Request.Context())
	if !ok {
		c.JSON(http.StatusUnauthorized, httpdto.NewErrorResponse("unauthorized", "UNAUTHORIZED"))
		return
	}
	if err := h.sessions.SignOut(c.Request.Context(), userID); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse[any](nil))
}
