package unread

import (
	"context"
	"sync"
	"time"

	"marketplace-inbox/pkg/logger"

	"go.uber.org/zap"
)

// Mirror receives the latest global total for a user, for example to share
// the badge with other devices.
type Mirror interface {
	SetTotal(ctx context.Context, userID int64, total int) error
	Clear(ctx context.Context, userID int64) error
}

const mirrorTimeout = 3 * time.Second

// Counter owns the global unread badge of one signed-in user. It is
// initialised on sign-in and torn down on sign-out; every change goes through
// Set, Add or Sub. The total never drops below zero.
type Counter struct {
	mu     sync.Mutex
	userID int64
	total  int
	active bool

	mirror  Mirror
	pending chan int
	done    chan struct{}
	wg      sync.WaitGroup
	logger  *logger.Logger
}

func New(userID int64, mirror Mirror, l *logger.Logger) *Counter {
	if l == nil {
		l = logger.Nop()
	}
	return &Counter{
		userID: userID,
		mirror: mirror,
		logger: l.Named("unread"),
	}
}

// Init activates the counter with a seed total. Calling Init on an active
// counter only resets the total.
func (c *Counter) Init(total int) {
	c.mu.Lock()
	if !c.active {
		c.active = true
		if c.mirror != nil {
			c.pending = make(chan int, 1)
			c.done = make(chan struct{})
			c.wg.Add(1)
			go c.mirrorLoop(c.pending, c.done)
		}
	}
	c.setLocked(total)
	c.mu.Unlock()
}

func (c *Counter) Set(total int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.active {
		return
	}
	c.setLocked(total)
}

func (c *Counter) Add(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.active {
		return
	}
	c.setLocked(c.total + n)
}

func (c *Counter) Sub(n int) {
	c.Add(-n)
}

func (c *Counter) Total() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.total
}

func (c *Counter) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// Teardown zeroes the badge, stops mirroring and clears the mirrored value.
// Later updates are ignored until the next Init.
func (c *Counter) Teardown() {
	c.mu.Lock()
	if !c.active {
		c.mu.Unlock()
		return
	}
	c.active = false
	c.total = 0
	done := c.done
	c.done = nil
	c.pending = nil
	c.mu.Unlock()

	if done == nil {
		return
	}
	close(done)
	c.wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), mirrorTimeout)
	defer cancel()
	if err := c.mirror.Clear(ctx, c.userID); err != nil {
		c.logger.Logger.Warn("clear mirrored badge failed", zap.Int64("user_id", c.userID), zap.Error(err))
	}
}

func (c *Counter) setLocked(total int) {
	if total < 0 {
		total = 0
	}
	c.total = total
	if c.pending == nil {
		return
	}
	// keep only the newest value
	select {
	case <-c.pending:
	default:
	}
	c.pending <- total
}

func (c *Counter) mirrorLoop(pending <-chan int, done <-chan struct{}) {
	defer c.wg.Done()
	for {
		select {
		case <-done:
			return
		case total := <-pending:
			ctx, cancel := context.WithTimeout(context.Background(), mirrorTimeout)
			if err := c.mirror.SetTotal(ctx, c.userID, total); err != nil {
				c.logger.Logger.Warn("mirror badge failed", zap.Int64("user_id", c.userID), zap.Int("total", total), zap.Error(err))
			}
			cancel()
		}
	}
}
