// Package marketplace is the request/response client for the marketplace
// conversation API. Every write goes through here; the push channel is
// read-only.
package marketplace

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"marketplace-inbox/internal/domain/conversation"
	"marketplace-inbox/internal/domain/message"
	"marketplace-inbox/internal/transport/httpdto"
	inbox_errors "marketplace-inbox/pkg/errors"
	"marketplace-inbox/pkg/logger"

	"go.uber.org/zap"
)

type CreateConversationInput struct {
	CounterpartID int64
	Context       conversation.Context
	Text          string
}

type PostMessageInput struct {
	ConversationID int64
	Content        string
	Type           string
}

// Client calls the marketplace API on behalf of one user.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *logger.Logger

	mu    sync.RWMutex
	token string
}

func NewClient(baseURL string, timeout time.Duration, l *logger.Logger) *Client {
	if l == nil {
		l = logger.Nop()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		logger:  l.Named("marketplace"),
	}
}

// SetToken replaces the bearer token used for subsequent calls.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

func (c *Client) ListConversations(ctx context.Context, role conversation.Role) ([]*conversation.Persisted, error) {
	const op = "list conversations"
	path := "/api/conversations?role=" + url.QueryEscape(string(role))
	wires, err := doJSON[[]ConversationWire](ctx, c, op, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	out := make([]*conversation.Persisted, 0, len(wires))
	for _, w := range wires {
		conv, err := w.ToDomain()
		if err != nil {
			// skip malformed rows, keep the rest of the inbox
			c.logger.Logger.Warn("dropping malformed conversation", zap.Error(err))
			continue
		}
		out = append(out, conv)
	}
	return out, nil
}

func (c *Client) ListMessages(ctx context.Context, conversationID int64) ([]message.Message, error) {
	const op = "list messages"
	path := fmt.Sprintf("/api/conversations/%d/messages", conversationID)
	wires, err := doJSON[[]MessageWire](ctx, c, op, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	out := make([]message.Message, 0, len(wires))
	for _, w := range wires {
		msg, err := w.ToDomain()
		if err != nil {
			c.logger.Logger.Warn("dropping malformed message", zap.Int64("conversation_id", conversationID), zap.Error(err))
			continue
		}
		out = append(out, msg)
	}
	return out, nil
}

// CreateConversation persists a conversation together with its first
// message and returns both.
func (c *Client) CreateConversation(ctx context.Context, in CreateConversationInput) (*conversation.Persisted, []message.Message, error) {
	const op = "create conversation"
	body := CreateConversationWire{
		CounterpartID:      in.CounterpartID,
		Context:            contextToWire(in.Context),
		InitialMessageText: in.Text,
	}
	created, err := doJSON[CreatedConversationWire](ctx, c, op, http.MethodPost, "/api/conversations", body)
	if err != nil {
		return nil, nil, err
	}
	conv, err := created.Conversation.ToDomain()
	if err != nil {
		return nil, nil, inbox_errors.Transport(op, err)
	}
	msgs := make([]message.Message, 0, len(created.Messages))
	for _, w := range created.Messages {
		msg, err := w.ToDomain()
		if err != nil {
			return nil, nil, inbox_errors.Transport(op, err)
		}
		msgs = append(msgs, msg)
	}
	return conv, msgs, nil
}

func (c *Client) PostMessage(ctx context.Context, in PostMessageInput) (message.Message, error) {
	const op = "post message"
	msgType := in.Type
	if msgType == "" {
		msgType = message.TypeText
	}
	body := PostMessageWire{ConversationID: in.ConversationID, Content: in.Content, Type: msgType}
	w, err := doJSON[MessageWire](ctx, c, op, http.MethodPost, "/api/messages", body)
	if err != nil {
		return message.Message{}, err
	}
	msg, err := w.ToDomain()
	if err != nil {
		return message.Message{}, inbox_errors.Transport(op, err)
	}
	return msg, nil
}

// MarkRead is idempotent upstream.
func (c *Client) MarkRead(ctx context.Context, conversationID int64) error {
	const op = "mark read"
	path := fmt.Sprintf("/api/conversations/%d/read", conversationID)
	_, err := doJSON[json.RawMessage](ctx, c, op, http.MethodPost, path, nil)
	return err
}

func (c *Client) UnreadTotal(ctx context.Context) (int, error) {
	w, err := doJSON[UnreadTotalWire](ctx, c, "unread total", http.MethodGet, "/api/conversations/unread-total", nil)
	if err != nil {
		return 0, err
	}
	return max(w.Total, 0), nil
}

func doJSON[T any](ctx context.Context, c *Client, op, method, path string, body any) (T, error) {
	var zero T

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return zero, fmt.Errorf("%s: encode request: %w", op, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return zero, fmt.Errorf("%s: build request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.mu.RLock()
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	c.mu.RUnlock()

	resp, err := c.http.Do(req)
	if err != nil {
		return zero, inbox_errors.Transport(op, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return zero, inbox_errors.Transport(op, err)
	}

	var env httpdto.Response[T]
	if len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, &env); err != nil && resp.StatusCode < 300 {
			return zero, inbox_errors.Transport(op, fmt.Errorf("decode response: %w", err))
		}
	}

	if err := statusError(op, resp.StatusCode, env.Error); err != nil {
		c.logger.Logger.Debug("upstream call failed",
			zap.String("op", op),
			zap.Int("status", resp.StatusCode),
			zap.Error(err))
		return zero, err
	}
	return env.Data, nil
}

func statusError(op string, status int, message string) error {
	if status >= 200 && status < 300 {
		return nil
	}
	if message == "" {
		message = http.StatusText(status)
	}
	switch {
	case status == http.StatusNotFound:
		return inbox_errors.NotFound(op, message)
	case status == http.StatusConflict:
		return inbox_errors.Conflict(op, message)
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		return inbox_errors.Validation(op, message)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return fmt.Errorf("%s: %w", op, inbox_errors.ErrUnauthorized)
	case status == http.StatusTooManyRequests:
		return fmt.Errorf("%s: %w", op, inbox_errors.ErrRateLimited)
	}
	return inbox_errors.Transport(op, fmt.Errorf("status %d: %s", status, message))
}
