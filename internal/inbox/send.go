package inbox

import (
	"context"
	"fmt"

	"marketplace-inbox/internal/domain/conversation"
	"marketplace-inbox/internal/domain/message"
	"marketplace-inbox/internal/events"
	"marketplace-inbox/internal/marketplace"
	inbox_errors "marketplace-inbox/pkg/errors"

	"go.uber.org/zap"
)

// sendJob captures the selected slot at the moment a send starts.
type sendJob struct {
	key    string
	role   conversation.Role
	draft  *conversation.Draft
	convID int64
}

// Send posts text to the selected conversation. A draft is created upstream
// together with its first message and promoted in place; a persisted
// conversation gets the server echo appended. Only one send per
// conversation may be in flight.
func (s *Session) Send(ctx context.Context, text string) (SendResult, error) {
	if message.IsBlank(text) {
		return SendResult{}, inbox_errors.Validation("send", "message is empty")
	}

	var (
		job      sendJob
		beginErr error
	)
	if err := s.do(ctx, func() { job, beginErr = s.beginSend(text) }); err != nil {
		return SendResult{}, err
	}
	if beginErr != nil {
		return SendResult{}, beginErr
	}

	if job.draft != nil {
		return s.sendDraft(ctx, job, text)
	}
	return s.sendPersisted(ctx, job, text)
}

func (s *Session) beginSend(text string) (sendJob, error) {
	sel := s.dir.Selected()
	if sel == nil {
		return sendJob{}, inbox_errors.Validation("send", "no conversation selected")
	}
	key := KeyOf(sel)
	if _, busy := s.inflight[key]; busy {
		return sendJob{}, fmt.Errorf("send: %w", inbox_errors.ErrSendInFlight)
	}
	s.inflight[key] = struct{}{}
	s.compose[key] = text

	job := sendJob{key: key, role: s.dir.Role()}
	switch c := sel.(type) {
	case *conversation.Draft:
		cp := *c
		job.draft = &cp
	case *conversation.Persisted:
		job.convID = c.ID
	}
	return job, nil
}

func (s *Session) sendDraft(ctx context.Context, job sendJob, text string) (SendResult, error) {
	counterpart := conversation.Counterpart(job.draft, job.role)
	conv, msgs, err := s.backend.CreateConversation(ctx, marketplace.CreateConversationInput{
		CounterpartID: counterpart.UserID,
		Context:       job.draft.Context,
		Text:          text,
	})

	var res SendResult
	// completion must run even if the caller gave up, or the slot stays busy
	if derr := s.do(context.WithoutCancel(ctx), func() { res = s.finishCreate(job, conv, msgs, err) }); derr != nil {
		return SendResult{}, derr
	}
	if err == nil {
		return res, nil
	}

	if inbox_errors.IsConflict(err) {
		s.reResolve(ctx, job, counterpart, text)
	}
	return SendResult{}, err
}

func (s *Session) finishCreate(job sendJob, conv *conversation.Persisted, msgs []message.Message, err error) SendResult {
	delete(s.inflight, job.key)
	if err != nil {
		s.logger.Logger.Info("create conversation failed",
			zap.String("draft_key", job.draft.Key),
			zap.Stringer("context", job.draft.Context),
			zap.Error(err))
		return SendResult{}
	}

	conv.UnreadCount = 0
	res := SendResult{Promoted: true}
	if n := len(msgs); n > 0 {
		res.Message = messageView(msgs[n-1])
		if conv.LastMessage == nil {
			last := msgs[n-1]
			conv.LastMessage = &last
		}
	}

	if s.dir.Role() != job.role {
		res.Conversation = entryView(conv, job.role)
		return res
	}

	wasSelected := s.dir.SelectedKey() == job.key
	stale, promoted := s.dir.Promote(job.draft.Key, conv)
	for _, st := range stale {
		s.counter.Sub(st.UnreadCount)
	}
	if !promoted {
		// the draft was replaced while the request was in flight
		if prev := s.dir.Upsert(conv); prev != nil {
			s.counter.Sub(prev.UnreadCount)
		}
		s.dir.MoveToTop(conv.ID)
	}
	delete(s.compose, job.key)

	if promoted && wasSelected {
		s.store.Reset(ConversationKey(conv.ID), msgs)
		s.join(conv.ID)
	}

	res.Conversation = entryView(conv, job.role)
	s.emit(events.EventTypeConversationPromoted, events.AggregateTypeConversation, ConversationKey(conv.ID), promotedPayload{
		DraftKey:     job.key,
		Conversation: res.Conversation,
	})
	if len(stale) > 0 {
		s.emitUnread()
	}
	return res
}

// reResolve handles a conflicting create: another session already persisted
// the conversation. The directory is reloaded and the original target
// resolved again so the existing conversation gets selected, carrying the
// unsent text over.
func (s *Session) reResolve(ctx context.Context, job sendJob, counterpart conversation.Participant, text string) {
	if _, err := s.Load(ctx, job.role); err != nil {
		s.logger.Logger.Warn("reload after conflict failed", zap.Error(err))
		return
	}
	link := DeepLink{
		CounterpartID: counterpart.UserID,
		ContextID:     job.draft.Context.ID,
		ContextType:   job.draft.Context.Type,
		Display:       &DisplayMetadata{Name: counterpart.DisplayName, AvatarURL: counterpart.AvatarURL},
	}
	if _, err := s.OpenDeepLink(ctx, link); err != nil {
		s.logger.Logger.Warn("re-resolve after conflict failed", zap.Error(err))
		return
	}
	_ = s.do(ctx, func() {
		if key := s.dir.SelectedKey(); key != "" {
			s.compose[key] = text
		}
	})
}

func (s *Session) sendPersisted(ctx context.Context, job sendJob, text string) (SendResult, error) {
	msg, err := s.backend.PostMessage(ctx, marketplace.PostMessageInput{
		ConversationID: job.convID,
		Content:        text,
		Type:           message.TypeText,
	})

	var res SendResult
	if derr := s.do(context.WithoutCancel(ctx), func() { res = s.finishPost(job, msg, err) }); derr != nil {
		return SendResult{}, derr
	}
	if err != nil {
		return SendResult{}, err
	}
	return res, nil
}

func (s *Session) finishPost(job sendJob, msg message.Message, err error) SendResult {
	delete(s.inflight, job.key)
	if err != nil {
		s.logger.Logger.Info("post message failed", zap.Int64("conversation_id", job.convID), zap.Error(err))
		return SendResult{}
	}
	delete(s.compose, job.key)

	res := SendResult{Message: messageView(msg)}
	if s.store.Key() == job.key && s.store.Append(msg) {
		s.emit(events.EventTypeMessageAppended, events.AggregateTypeMessage, job.key, res.Message)
	}
	if p := s.dir.Touch(job.convID, msg); p != nil {
		res.Conversation = entryView(p, s.dir.Role())
		s.emitEntry(events.EventTypeConversationUpdated, p)
	}
	return res
}
