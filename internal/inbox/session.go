// Package inbox holds the conversation core of one signed-in user: the
// directory, the message store of the active conversation, deep-link
// resolution and the send pipeline. All state is owned by a single goroutine;
// public methods post work into its mailbox.
package inbox

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"marketplace-inbox/internal/domain/conversation"
	"marketplace-inbox/internal/domain/message"
	"marketplace-inbox/internal/events"
	"marketplace-inbox/internal/marketplace"
	"marketplace-inbox/internal/realtime"
	"marketplace-inbox/internal/unread"
	inbox_errors "marketplace-inbox/pkg/errors"
	"marketplace-inbox/pkg/logger"

	"go.uber.org/zap"
)

// Backend is the request/response side of the marketplace.
type Backend interface {
	ListConversations(ctx context.Context, role conversation.Role) ([]*conversation.Persisted, error)
	ListMessages(ctx context.Context, conversationID int64) ([]message.Message, error)
	CreateConversation(ctx context.Context, in marketplace.CreateConversationInput) (*conversation.Persisted, []message.Message, error)
	PostMessage(ctx context.Context, in marketplace.PostMessageInput) (message.Message, error)
	MarkRead(ctx context.Context, conversationID int64) error
}

// Transport is the push side of the marketplace.
type Transport interface {
	Connect()
	Join(conversationID int64) error
	Leave(conversationID int64) error
	Subscribe(ctx context.Context) <-chan realtime.Event
}

// Notifier forwards state changes to the user's UI connections.
type Notifier interface {
	Notify(ctx context.Context, userID int64, env events.Envelope) error
}

const (
	defaultCallTimeout = 10 * time.Second
	mailboxSize        = 64
	updatesSize        = 256
)

type Options struct {
	UserID            int64
	Role              conversation.Role
	PlaceholderAvatar string
	CallTimeout       time.Duration

	Backend   Backend
	Transport Transport
	Counter   *unread.Counter
	Notifier  Notifier
	Logger    *logger.Logger
}

type Session struct {
	userID      int64
	backend     Backend
	transport   Transport
	counter     *unread.Counter
	notifier    Notifier
	resolver    *Resolver
	callTimeout time.Duration
	logger      *logger.Logger

	mailbox chan func()
	updates chan events.Envelope
	ctx     context.Context
	cancel  context.CancelFunc
	started atomic.Bool
	done    chan struct{}
	bg      sync.WaitGroup

	// owned by the Run goroutine
	dir        *Directory
	store      *MessageStore
	loaded     bool
	connected  bool
	refreshing bool
	inflight   map[string]struct{}
	compose    map[string]string
}

func NewSession(opts Options) *Session {
	l := opts.Logger
	if l == nil {
		l = logger.Nop()
	}
	role := opts.Role
	if role == "" {
		role = conversation.RoleGuest
	}
	timeout := opts.CallTimeout
	if timeout <= 0 {
		timeout = defaultCallTimeout
	}
	counter := opts.Counter
	if counter == nil {
		counter = unread.New(opts.UserID, nil, l)
		counter.Init(0)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		userID:      opts.UserID,
		backend:     opts.Backend,
		transport:   opts.Transport,
		counter:     counter,
		notifier:    opts.Notifier,
		resolver:    NewResolver(opts.UserID, opts.PlaceholderAvatar),
		callTimeout: timeout,
		logger:      l.Named("inbox").With(zap.Int64("user_id", opts.UserID)),
		mailbox:     make(chan func(), mailboxSize),
		updates:     make(chan events.Envelope, updatesSize),
		ctx:         ctx,
		cancel:      cancel,
		done:        make(chan struct{}),
		dir:         NewDirectory(role),
		store:       NewMessageStore(),
		inflight:    make(map[string]struct{}),
		compose:     make(map[string]string),
	}
}

func (s *Session) UserID() int64 {
	return s.userID
}

// Run processes mailbox work and push events until ctx is cancelled or
// Close is called. It connects the transport on start.
func (s *Session) Run(ctx context.Context) {
	if !s.started.CompareAndSwap(false, true) {
		return
	}
	defer close(s.done)
	stop := context.AfterFunc(ctx, s.cancel)
	defer stop()

	pushes := s.transport.Subscribe(s.ctx)
	s.transport.Connect()

	published := make(chan struct{})
	go func() {
		defer close(published)
		s.publishLoop()
	}()

	for {
		select {
		case <-s.ctx.Done():
			s.bg.Wait()
			<-published
			return
		case fn := <-s.mailbox:
			fn()
		case ev, ok := <-pushes:
			if !ok {
				pushes = nil
				continue
			}
			s.handlePush(ev)
		}
	}
}

// Close stops the session and waits for Run to return.
func (s *Session) Close() {
	s.cancel()
	if s.started.Load() {
		<-s.done
	}
}

func (s *Session) Done() <-chan struct{} {
	return s.ctx.Done()
}

// Load fetches the conversations of role and replaces the directory.
func (s *Session) Load(ctx context.Context, role conversation.Role) (View, error) {
	if role != conversation.RoleHost && role != conversation.RoleGuest {
		return View{}, inbox_errors.Validation("load", "role must be host or guest")
	}
	convs, err := s.backend.ListConversations(ctx, role)
	if err != nil {
		return View{}, err
	}
	var v View
	err = s.do(ctx, func() {
		s.applyLoad(role, convs)
		v = s.view()
	})
	return v, err
}

// Select activates the slot with the given key and loads its history.
func (s *Session) Select(ctx context.Context, key string) (View, error) {
	var (
		fetchID int64
		selErr  error
	)
	if err := s.do(ctx, func() { fetchID, selErr = s.selectKey(key) }); err != nil {
		return View{}, err
	}
	if selErr != nil {
		return View{}, selErr
	}
	return s.afterSelect(ctx, key, fetchID)
}

// OpenDeepLink selects the conversation a deep link points at, creating a
// draft when none exists yet.
func (s *Session) OpenDeepLink(ctx context.Context, link DeepLink) (View, error) {
	if err := link.Validate(s.userID); err != nil {
		return View{}, err
	}

	var (
		loaded bool
		role   conversation.Role
	)
	if err := s.do(ctx, func() { loaded, role = s.loaded, s.dir.Role() }); err != nil {
		return View{}, err
	}
	if !loaded {
		if _, err := s.Load(ctx, role); err != nil {
			return View{}, err
		}
	}

	var (
		key     string
		fetchID int64
		resErr  error
	)
	if err := s.do(ctx, func() { key, fetchID, resErr = s.resolve(link) }); err != nil {
		return View{}, err
	}
	if resErr != nil {
		return View{}, resErr
	}
	return s.afterSelect(ctx, key, fetchID)
}

func (s *Session) Snapshot(ctx context.Context) (View, error) {
	var v View
	err := s.do(ctx, func() { v = s.view() })
	return v, err
}

// Messages returns the message store contents in append order.
func (s *Session) Messages(ctx context.Context) ([]MessageView, error) {
	var out []MessageView
	err := s.do(ctx, func() { out = messageViews(s.store.Messages()) })
	return out, err
}

func (s *Session) UnreadTotal() int {
	return s.counter.Total()
}

func (s *Session) afterSelect(ctx context.Context, key string, fetchID int64) (View, error) {
	var fetchErr error
	if fetchID > 0 {
		msgs, err := s.backend.ListMessages(ctx, fetchID)
		if err != nil {
			fetchErr = err
		} else if err := s.do(ctx, func() { s.applyHistory(key, msgs) }); err != nil {
			return View{}, err
		}
	}
	v, err := s.Snapshot(ctx)
	if err != nil {
		return View{}, err
	}
	return v, fetchErr
}

// do runs fn on the session goroutine and waits for it.
func (s *Session) do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	job := func() {
		defer close(finished)
		fn()
	}
	select {
	case s.mailbox <- job:
	case <-ctx.Done():
		return ctx.Err()
	case <-s.ctx.Done():
		return inbox_errors.ErrClosed
	}
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.ctx.Done():
		return inbox_errors.ErrClosed
	}
}

// post queues fn without waiting. Used by background calls to report back.
func (s *Session) post(fn func()) {
	select {
	case s.mailbox <- fn:
	case <-s.ctx.Done():
	}
}

// background runs fn outside the session goroutine. Must be called from it.
func (s *Session) background(fn func(ctx context.Context)) {
	s.bg.Add(1)
	go func() {
		defer s.bg.Done()
		ctx, cancel := context.WithTimeout(s.ctx, s.callTimeout)
		defer cancel()
		fn(ctx)
	}()
}

func (s *Session) applyLoad(role conversation.Role, convs []*conversation.Persisted) {
	prev, _ := s.dir.Selected().(*conversation.Persisted)
	s.dir.Replace(role, convs)
	s.loaded = true

	if cur, ok := s.dir.Selected().(*conversation.Persisted); ok {
		missed := cur.UnreadCount > 0 || (cur.LastMessage != nil && !s.store.Has(cur.LastMessage.ID))
		if cur.UnreadCount > 0 {
			cur.UnreadCount = 0
			s.markReadAsync(cur.ID)
		}
		if missed && s.store.Key() == ConversationKey(cur.ID) {
			s.syncHistory(cur.ID)
		}
	} else if prev != nil {
		s.leave(prev.ID)
	}
	if s.dir.Selected() == nil && s.store.Key() != "" {
		s.store.Reset("", nil)
	}

	s.counter.Set(s.dir.UnreadSum())
	s.emit(events.EventTypeInboxLoaded, events.AggregateTypeInbox, s.aggregateID(), s.view())
	s.emitUnread()
}

func (s *Session) applyHistory(key string, msgs []message.Message) {
	if s.dir.SelectedKey() != key || s.store.Key() != key {
		return
	}
	s.store.Merge(msgs)
	s.emit(events.EventTypeMessageHistoryLoaded, events.AggregateTypeConversation, key, messageViews(s.store.Messages()))
}

// selectKey activates a slot. For persisted conversations it joins the
// room, zeroes the unread count and marks the conversation read upstream;
// it returns the id whose history should be fetched.
func (s *Session) selectKey(key string) (int64, error) {
	e, _ := s.dir.Find(key)
	if e == nil {
		return 0, inbox_errors.NotFound("select", "no conversation "+key)
	}
	if prev, ok := s.dir.Selected().(*conversation.Persisted); ok && ConversationKey(prev.ID) != key {
		s.leave(prev.ID)
	}
	s.dir.Select(key)

	switch c := e.(type) {
	case *conversation.Draft:
		s.store.Reset(key, nil)
		s.emitEntry(events.EventTypeConversationSelected, c)
		return 0, nil

	case *conversation.Persisted:
		s.join(c.ID)
		if n := c.UnreadCount; n > 0 {
			c.UnreadCount = 0
			s.counter.Sub(n)
			s.emitUnread()
			s.markReadAsync(c.ID)
		}
		if s.store.Key() != key {
			s.store.Reset(key, nil)
		}
		s.emitEntry(events.EventTypeConversationSelected, c)
		return c.ID, nil
	}
	return 0, nil
}

func (s *Session) resolve(link DeepLink) (string, int64, error) {
	role := s.dir.Role()
	ctx := link.Context()

	p, dr, err := s.resolver.Resolve(s.dir, link)
	if err != nil {
		return "", 0, err
	}
	if p != nil {
		if cur := s.dir.Draft(); cur != nil && sameTarget(cur, role, link.CounterpartID, ctx) {
			s.dir.DropDraft()
			delete(s.compose, DraftKey(cur.Key))
		}
		key := KeyOf(p)
		id, err := s.selectKey(key)
		return key, id, err
	}

	if cur := s.dir.Draft(); cur != nil && sameTarget(cur, role, link.CounterpartID, ctx) {
		key := KeyOf(cur)
		_, err := s.selectKey(key)
		return key, 0, err
	}
	if prev := s.dir.PutDraft(dr); prev != nil {
		delete(s.compose, DraftKey(prev.Key))
		s.emitEntry(events.EventTypeDraftReplaced, prev)
	}
	key := KeyOf(dr)
	_, err = s.selectKey(key)
	return key, 0, err
}

func (s *Session) handlePush(ev realtime.Event) {
	switch e := ev.(type) {
	case realtime.MessageEvent:
		s.applyIncoming(e.Message)

	case realtime.PresenceEvent:
		for _, entry := range s.dir.SetPresence(e.UserID, e.Online) {
			s.emitEntry(events.EventTypePresenceChanged, entry)
		}

	case realtime.ConnectionEvent:
		s.connected = e.State != realtime.StateDisconnected
		s.emit(events.EventTypeConnectionChanged, events.AggregateTypeConnection, s.aggregateID(), connectionPayload{
			State: string(e.State),
			Epoch: e.Epoch,
		})
		if e.State == realtime.StateReconnected && s.loaded {
			s.refresh()
		}
	}
}

// applyIncoming routes a pushed message. The active conversation gets the
// message appended and stays read; any other conversation gains one unread
// and moves to the top.
func (s *Session) applyIncoming(msg message.Message) {
	id := msg.ConversationID
	p := s.dir.Persisted(id)
	if p == nil {
		s.logger.Logger.Debug("push for unknown conversation", zap.Int64("conversation_id", id))
		if s.loaded {
			s.refresh()
		}
		return
	}

	key := ConversationKey(id)
	if s.dir.SelectedKey() == key {
		if s.store.Key() != key || !s.store.Append(msg) {
			return
		}
		s.dir.Touch(id, msg)
		s.emit(events.EventTypeMessageAppended, events.AggregateTypeMessage, key, messageView(msg))
		s.emitEntry(events.EventTypeConversationUpdated, p)
		if msg.SenderID != s.userID {
			s.markReadAsync(id)
		}
		return
	}

	// ids grow within a conversation, so anything at or below the last
	// known id has already been counted
	if p.LastMessage != nil && msg.ID <= p.LastMessage.ID {
		return
	}
	s.dir.Touch(id, msg)
	if msg.SenderID != s.userID {
		p.UnreadCount++
		s.counter.Add(1)
		s.emitUnread()
	}
	s.dir.MoveToTop(id)
	s.emitEntry(events.EventTypeConversationUpdated, p)
}

// refresh reloads the directory in the background. At most one refresh
// runs at a time.
func (s *Session) refresh() {
	if s.refreshing {
		return
	}
	s.refreshing = true
	role := s.dir.Role()
	s.background(func(ctx context.Context) {
		convs, err := s.backend.ListConversations(ctx, role)
		s.post(func() {
			s.refreshing = false
			if err != nil {
				s.logger.Logger.Warn("directory refresh failed", zap.Error(err))
				return
			}
			if s.dir.Role() != role {
				return
			}
			s.applyLoad(role, convs)
		})
	})
}

// syncHistory refetches the active conversation's history and merges it
// into the store, picking up messages missed while the push side was down.
func (s *Session) syncHistory(id int64) {
	key := ConversationKey(id)
	s.background(func(ctx context.Context) {
		msgs, err := s.backend.ListMessages(ctx, id)
		if err != nil {
			s.logger.Logger.Warn("history sync failed", zap.Int64("conversation_id", id), zap.Error(err))
			return
		}
		s.post(func() { s.applyHistory(key, msgs) })
	})
}

// markReadAsync fires the mark-read call. Failures are logged and not
// retried; local state already shows the conversation as read.
func (s *Session) markReadAsync(id int64) {
	s.background(func(ctx context.Context) {
		err := s.backend.MarkRead(ctx, id)
		switch {
		case err == nil:
		case inbox_errors.IsNotFound(err):
			s.logger.Logger.Debug("mark read on removed conversation", zap.Int64("conversation_id", id))
		default:
			s.logger.Logger.Warn("mark read failed", zap.Int64("conversation_id", id), zap.Error(err))
		}
	})
}

func (s *Session) join(id int64) {
	if err := s.transport.Join(id); err != nil {
		s.logger.Logger.Warn("join room failed", zap.Int64("conversation_id", id), zap.Error(err))
	}
}

func (s *Session) leave(id int64) {
	if err := s.transport.Leave(id); err != nil {
		s.logger.Logger.Warn("leave room failed", zap.Int64("conversation_id", id), zap.Error(err))
	}
}

func (s *Session) view() View {
	role := s.dir.Role()
	entries := s.dir.Entries()
	v := View{
		UserID:      s.userID,
		Role:        string(role),
		Loaded:      s.loaded,
		Entries:     make([]EntryView, 0, len(entries)),
		SelectedKey: s.dir.SelectedKey(),
		UnreadTotal: s.counter.Total(),
		Connected:   s.connected,
	}
	for _, e := range entries {
		v.Entries = append(v.Entries, entryView(e, role))
	}
	v.Compose = s.compose[v.SelectedKey]
	return v
}

type unreadPayload struct {
	Total int `json:"total"`
}

type connectionPayload struct {
	State string `json:"state"`
	Epoch uint64 `json:"epoch"`
}

type promotedPayload struct {
	DraftKey     string    `json:"draft_key"`
	Conversation EntryView `json:"conversation"`
}

func (s *Session) aggregateID() string {
	return strconv.FormatInt(s.userID, 10)
}

func (s *Session) emitUnread() {
	s.emit(events.EventTypeUnreadChanged, events.AggregateTypeUnread, s.aggregateID(), unreadPayload{Total: s.counter.Total()})
}

func (s *Session) emitEntry(eventType string, e conversation.Entry) {
	s.emit(eventType, events.AggregateTypeConversation, KeyOf(e), entryView(e, s.dir.Role()))
}

// emit queues an update for the notifier. Updates are dropped when the
// queue is full.
func (s *Session) emit(eventType, aggregateType, aggregateID string, payload any) {
	if s.notifier == nil {
		return
	}
	env, err := events.NewEnvelope(eventType, aggregateType, aggregateID, payload)
	if err != nil {
		s.logger.Logger.Warn("build update failed", zap.String("event_type", eventType), zap.Error(err))
		return
	}
	select {
	case s.updates <- env:
	default:
		s.logger.Logger.Warn("update queue full, dropping", zap.String("event_type", eventType))
	}
}

func (s *Session) publishLoop() {
	if s.notifier == nil {
		return
	}
	for {
		select {
		case <-s.ctx.Done():
			return
		case env := <-s.updates:
			ctx, cancel := context.WithTimeout(s.ctx, s.callTimeout)
			if err := s.notifier.Notify(ctx, s.userID, env); err != nil {
				s.logger.Logger.Warn("notify failed", zap.String("event_type", env.EventType), zap.Error(err))
			}
			cancel()
		}
	}
}
