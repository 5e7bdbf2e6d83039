package handler

import (
	"net/http"

	"marketplace-inbox/internal/domain/conversation"
	"marketplace-inbox/internal/inbox"
	"marketplace-inbox/internal/services"
	"marketplace-inbox/internal/transport/httpdto"

	"github.com/gin-gonic/gin"
)

type InboxHandler struct {
	sessions *services.InboxService
}

func NewInboxHandler(sessions *services.InboxService) *InboxHandler {
	return &InboxHandler{sessions: sessions}
}

func (h *InboxHandler) session(c *gin.Context) (*inbox.Session, bool) {
	userID, ok := services.UserIDFromContext(c.Request.Context())
	if !ok {
		c.JSON(http.StatusUnauthorized, httpdto.NewErrorResponse("unauthorized", "UNAUTHORIZED"))
		return nil, false
	}
	sess, err := h.sessions.Get(userID)
	if err != nil {
		respondError(c, err)
		return nil, false
	}
	return sess, true
}

// Load reloads the directory. Without a role query the current role is kept.
func (h *InboxHandler) Load(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	var role conversation.Role
	if raw := c.Query("role"); raw != "" {
		parsed, err := conversation.ParseRole(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, httpdto.NewErrorResponse(err.Error(), "INVALID_REQUEST"))
			return
		}
		role = parsed
	} else {
		current, err := sess.Snapshot(ctx)
		if err != nil {
			respondError(c, err)
			return
		}
		role = conversation.Role(current.Role)
	}

	view, err := sess.Load(ctx, role)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(view))
}

func (h *InboxHandler) Snapshot(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}
	view, err := sess.Snapshot(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(view))
}

func (h *InboxHandler) Select(c *gin.Context) {
	var req httpdto.SelectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, httpdto.NewErrorResponse("invalid request", "INVALID_REQUEST"))
		return
	}
	var key string
	switch {
	case req.ConversationID > 0 && req.DraftKey == "":
		key = inbox.ConversationKey(req.ConversationID)
	case req.DraftKey != "" && req.ConversationID == 0:
		key = inbox.DraftKey(req.DraftKey)
	default:
		c.JSON(http.StatusBadRequest, httpdto.NewErrorResponse("exactly one of conversation_id or draft_key is required", "INVALID_REQUEST"))
		return
	}

	sess, ok := h.session(c)
	if !ok {
		return
	}
	view, err := sess.Select(c.Request.Context(), key)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(view))
}

func (h *InboxHandler) OpenDeepLink(c *gin.Context) {
	var req httpdto.DeepLinkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, httpdto.NewErrorResponse("invalid request", "INVALID_REQUEST"))
		return
	}
	contextType, err := conversation.ParseContextType(req.ContextType)
	if err != nil {
		c.JSON(http.StatusBadRequest, httpdto.NewErrorResponse(err.Error(), "INVALID_REQUEST"))
		return
	}
	link := inbox.DeepLink{
		CounterpartID: req.CounterpartID,
		ContextID:     req.ContextID,
		ContextType:   contextType,
	}
	if req.DisplayName != "" || req.AvatarURL != "" {
		link.Display = &inbox.DisplayMetadata{Name: req.DisplayName, AvatarURL: req.AvatarURL}
	}

	sess, ok := h.session(c)
	if !ok {
		return
	}
	view, err := sess.OpenDeepLink(c.Request.Context(), link)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(view))
}

func (h *InboxHandler) Messages(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}
	msgs, err := sess.Messages(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(gin.H{"messages": msgs}))
}

func (h *InboxHandler) Send(c *gin.Context) {
	var req httpdto.SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, httpdto.NewErrorResponse("invalid request", "INVALID_REQUEST"))
		return
	}
	sess, ok := h.session(c)
	if !ok {
		return
	}
	res, err := sess.Send(c.Request.Context(), req.Text)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(res))
}

func (h *InboxHandler) Unread(c *gin.Context) {
	userID, ok := services.UserIDFromContext(c.Request.Context())
	if !ok {
		c.JSON(http.StatusUnauthorized, httpdto.NewErrorResponse("unauthorized", "UNAUTHORIZED"))
		return
	}
	total, err := h.sessions.UnreadTotal(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(httpdto.UnreadResponse{Total: total}))
}
