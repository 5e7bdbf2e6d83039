package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"marketplace-inbox/config"
	"marketplace-inbox/internal/domain/conversation"
	"marketplace-inbox/internal/inbox"
	"marketplace-inbox/internal/marketplace"
	"marketplace-inbox/internal/realtime"
	"marketplace-inbox/internal/unread"
	inbox_errors "marketplace-inbox/pkg/errors"
	"marketplace-inbox/pkg/logger"

	"go.uber.org/zap"
)

// Backend is the marketplace REST surface a session needs, plus the badge
// seed read on sign-in.
type Backend interface {
	inbox.Backend
	UnreadTotal(ctx context.Context) (int, error)
}

// PushTransport is the push connection of one session.
type PushTransport interface {
	inbox.Transport
	Close()
}

// Upstream builds per-user marketplace clients authenticated with the
// user's own access token.
type Upstream interface {
	Backend(token string) Backend
	Transport(token string) PushTransport
}

// BadgeReader serves the mirrored badge of users without a local session.
type BadgeReader interface {
	Get(ctx context.Context, userID int64) (int, bool, error)
}

// QuotaResetter clears a user's send quota on sign-out.
type QuotaResetter interface {
	ResetUser(ctx context.Context, userID int64) error
}

type MarketplaceUpstream struct {
	apiURL       string
	pushURL      string
	timeout      time.Duration
	reconnectMin time.Duration
	reconnectMax time.Duration
	logger       *logger.Logger
}

func NewMarketplaceUpstream(cfg *config.Config, l *logger.Logger) *MarketplaceUpstream {
	return &MarketplaceUpstream{
		apiURL:       cfg.MarketplaceAPIURL,
		pushURL:      cfg.MarketplacePushURL,
		timeout:      cfg.UpstreamTimeout,
		reconnectMin: cfg.ReconnectMin,
		reconnectMax: cfg.ReconnectMax,
		logger:       l,
	}
}

func (u *MarketplaceUpstream) Backend(token string) Backend {
	client := marketplace.NewClient(u.apiURL, u.timeout, u.logger)
	client.SetToken(token)
	return client
}

func (u *MarketplaceUpstream) Transport(token string) PushTransport {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	return realtime.NewClient(realtime.Options{
		URL:          u.pushURL,
		Header:       header,
		ReconnectMin: u.reconnectMin,
		ReconnectMax: u.reconnectMax,
		Logger:       u.logger,
	})
}

type InboxServiceOptions struct {
	Upstream          Upstream
	Mirror            unread.Mirror
	Badges            BadgeReader
	Quota             QuotaResetter
	Notifier          inbox.Notifier
	PlaceholderAvatar string
	CallTimeout       time.Duration
	Logger            *logger.Logger
}

type userSession struct {
	token     string
	session   *inbox.Session
	transport PushTransport
	counter   *unread.Counter
}

// InboxService owns one inbox session per signed-in user.
type InboxService struct {
	opts   InboxServiceOptions
	logger *logger.Logger

	mu       sync.Mutex
	sessions map[int64]*userSession
	closed   bool
}

func NewInboxService(opts InboxServiceOptions) *InboxService {
	l := opts.Logger
	if l == nil {
		l = logger.Nop()
	}
	return &InboxService{
		opts:     opts,
		logger:   l.Named("sessions"),
		sessions: make(map[int64]*userSession),
	}
}

// Acquire returns the user's session, starting one on first sign-in. The
// badge is seeded from the marketplace unread total; a failed seed starts at
// zero unless the token was rejected. A new token replaces the old session.
func (s *InboxService) Acquire(ctx context.Context, userID int64, token string, role conversation.Role) (*inbox.Session, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, fmt.Errorf("acquire session: %w", inbox_errors.ErrClosed)
	}
	if us, ok := s.sessions[userID]; ok && us.token == token {
		s.mu.Unlock()
		return us.session, nil
	}
	s.mu.Unlock()

	backend := s.opts.Upstream.Backend(token)
	seed, err := backend.UnreadTotal(ctx)
	if err != nil {
		if errors.Is(err, inbox_errors.ErrUnauthorized) {
			return nil, err
		}
		s.logger.Logger.Warn("unread seed failed, starting at zero", zap.Int64("user_id", userID), zap.Error(err))
		seed = 0
	}

	counter := unread.New(userID, s.opts.Mirror, s.logger)
	counter.Init(seed)
	transport := s.opts.Upstream.Transport(token)
	us := &userSession{
		token:     token,
		transport: transport,
		counter:   counter,
		session: inbox.NewSession(inbox.Options{
			UserID:            userID,
			Role:              role,
			PlaceholderAvatar: s.opts.PlaceholderAvatar,
			CallTimeout:       s.opts.CallTimeout,
			Backend:           backend,
			Transport:         transport,
			Counter:           counter,
			Notifier:          s.opts.Notifier,
			Logger:            s.logger,
		}),
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		us.teardown()
		return nil, fmt.Errorf("acquire session: %w", inbox_errors.ErrClosed)
	}
	if cur, ok := s.sessions[userID]; ok && cur.token == token {
		// a concurrent sign-in with the same token won
		s.mu.Unlock()
		us.teardown()
		return cur.session, nil
	}
	prev := s.sessions[userID]
	s.sessions[userID] = us
	s.mu.Unlock()

	if prev != nil {
		prev.teardown()
	}
	go us.session.Run(context.Background())
	s.logger.Logger.Info("session started", zap.Int64("user_id", userID), zap.Int("unread_seed", seed))
	return us.session, nil
}

func (s *InboxService) Get(userID int64) (*inbox.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	us, ok := s.sessions[userID]
	if !ok {
		return nil, inbox_errors.ErrNoSession
	}
	return us.session, nil
}

// SignOut stops the user's session and its push connection, then clears the
// mirrored badge and the send quota.
func (s *InboxService) SignOut(ctx context.Context, userID int64) error {
	s.mu.Lock()
	us, ok := s.sessions[userID]
	delete(s.sessions, userID)
	s.mu.Unlock()
	if !ok {
		return inbox_errors.ErrNoSession
	}
	us.teardown()
	if s.opts.Quota != nil {
		if err := s.opts.Quota.ResetUser(ctx, userID); err != nil {
			s.logger.Logger.Warn("reset send quota failed", zap.Int64("user_id", userID), zap.Error(err))
		}
	}
	s.logger.Logger.Info("session stopped", zap.Int64("user_id", userID))
	return nil
}

// UnreadTotal reads the live badge, falling back to the mirrored one when
// the user has no session on this replica.
func (s *InboxService) UnreadTotal(ctx context.Context, userID int64) (int, error) {
	if sess, err := s.Get(userID); err == nil {
		return sess.UnreadTotal(), nil
	}
	if s.opts.Badges == nil {
		return 0, inbox_errors.ErrNoSession
	}
	total, ok, err := s.opts.Badges.Get(ctx, userID)
	if err != nil {
		return 0, inbox_errors.Transport("unread total", err)
	}
	if !ok {
		return 0, inbox_errors.ErrNoSession
	}
	return total, nil
}

func (s *InboxService) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Shutdown stops every session. Acquire fails afterwards.
func (s *InboxService) Shutdown() {
	s.mu.Lock()
	s.closed = true
	sessions := s.sessions
	s.sessions = make(map[int64]*userSession)
	s.mu.Unlock()

	var wg sync.WaitGroup
	for _, us := range sessions {
		wg.Add(1)
		go func() {
			defer wg.Done()
			us.teardown()
		}()
	}
	wg.Wait()
}

func (us *userSession) teardown() {
	us.session.Close()
	us.transport.Close()
	us.counter.Teardown()
}
