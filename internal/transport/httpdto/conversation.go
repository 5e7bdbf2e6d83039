package httpdto

type SessionRequest struct {
	Role string `json:"role"`
}

// SelectRequest names exactly one slot: a persisted conversation or a draft.
type SelectRequest struct {
	ConversationID int64  `json:"conversation_id"`
	DraftKey       string `json:"draft_key"`
}

type DeepLinkRequest struct {
	CounterpartID int64  `json:"counterpart_id" binding:"required"`
	ContextID     int64  `json:"context_id" binding:"required"`
	ContextType   string `json:"context_type"`
	DisplayName   string `json:"display_name"`
	AvatarURL     string `json:"avatar_url"`
}

type UnreadResponse struct {
	Total int `json:"total"`
}
