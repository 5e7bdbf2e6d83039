// Package realtime keeps the push connection to the marketplace open, tracks
// the conversation rooms the user joined and fans inbound events out to any
// number of subscribers.
package realtime

import (
	"context"
	"net/http"
	"sync"
	"time"

	inbox_errors "marketplace-inbox/pkg/errors"
	"marketplace-inbox/pkg/logger"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait        = 10 * time.Second
	pongWait         = 60 * time.Second
	pingPeriod       = (pongWait * 9) / 10
	maxMessageSize   = 512 * 1024
	subscriberBuffer = 256
)

type Options struct {
	URL          string
	Header       http.Header
	ReconnectMin time.Duration
	ReconnectMax time.Duration
	Dialer       *websocket.Dialer
	Logger       *logger.Logger
}

// Client is the push transport. Rooms are identified by persisted
// conversation ids; the set of joined rooms survives reconnects.
type Client struct {
	opts   Options
	dialer *websocket.Dialer
	logger *logger.Logger

	startOnce sync.Once
	closeOnce sync.Once
	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}

	mu     sync.Mutex
	joined map[int64]struct{}
	conn   *websocket.Conn
	epoch  uint64

	writeMu sync.Mutex

	subMu  sync.RWMutex
	subs   map[string]chan Event
	closed bool
}

func NewClient(opts Options) *Client {
	if opts.ReconnectMin <= 0 {
		opts.ReconnectMin = 500 * time.Millisecond
	}
	if opts.ReconnectMax < opts.ReconnectMin {
		opts.ReconnectMax = 30 * time.Second
	}
	dialer := opts.Dialer
	if dialer == nil {
		dialer = &websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	}
	l := opts.Logger
	if l == nil {
		l = logger.Nop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		opts:   opts,
		dialer: dialer,
		logger: l.Named("realtime"),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
		joined: make(map[int64]struct{}),
		subs:   make(map[string]chan Event),
	}
}

// Connect starts the connection loop. It returns immediately; dial failures
// and drops are retried in the background until Close.
func (c *Client) Connect() {
	c.startOnce.Do(func() {
		go c.run()
	})
}

// Join subscribes to a conversation room. Joining a room twice has no
// further effect.
func (c *Client) Join(conversationID int64) error {
	if conversationID <= 0 {
		return inbox_errors.Validation("join", "room requires a persisted conversation id")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.joined[conversationID]; ok {
		return nil
	}
	c.joined[conversationID] = struct{}{}
	if c.conn != nil {
		c.writeFrame(c.conn, outboundFrame{Type: FrameJoin, ConversationID: conversationID})
	}
	return nil
}

// Leave unsubscribes from a room and stops replaying it on reconnect.
func (c *Client) Leave(conversationID int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.joined[conversationID]; !ok {
		return nil
	}
	delete(c.joined, conversationID)
	if c.conn != nil {
		c.writeFrame(c.conn, outboundFrame{Type: FrameLeave, ConversationID: conversationID})
	}
	return nil
}

// Joined returns the rooms that will be replayed on the next reconnect.
func (c *Client) Joined() []int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]int64, 0, len(c.joined))
	for id := range c.joined {
		ids = append(ids, id)
	}
	return ids
}

// Subscribe returns a stream of inbound events. The channel is closed when
// ctx is cancelled or the client is closed. Events are dropped for a
// subscriber whose buffer is full.
func (c *Client) Subscribe(ctx context.Context) <-chan Event {
	id := uuid.NewString()
	ch := make(chan Event, subscriberBuffer)

	c.subMu.Lock()
	if c.closed {
		c.subMu.Unlock()
		close(ch)
		return ch
	}
	c.subs[id] = ch
	c.subMu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
		case <-c.ctx.Done():
		}
		c.unsubscribe(id)
	}()
	return ch
}

// Close stops the connection loop and ends every subscription.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.cancel()
		c.mu.Lock()
		if c.conn != nil {
			_ = c.conn.Close()
		}
		c.mu.Unlock()

		started := true
		c.startOnce.Do(func() { started = false })
		if started {
			<-c.done
		}

		c.subMu.Lock()
		c.closed = true
		for id, ch := range c.subs {
			close(ch)
			delete(c.subs, id)
		}
		c.subMu.Unlock()
	})
}

func (c *Client) unsubscribe(id string) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	if ch, ok := c.subs[id]; ok {
		close(ch)
		delete(c.subs, id)
	}
}

func (c *Client) publish(ev Event) {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	for _, ch := range c.subs {
		select {
		case ch <- ev:
		default:
			c.logger.Logger.Warn("dropped event for slow subscriber")
		}
	}
}

func (c *Client) run() {
	defer close(c.done)

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.opts.ReconnectMin
	bo.MaxInterval = c.opts.ReconnectMax
	bo.Reset()

	for {
		if c.ctx.Err() != nil {
			return
		}

		conn, _, err := c.dialer.DialContext(c.ctx, c.opts.URL, c.opts.Header)
		if err != nil {
			wait := bo.NextBackOff()
			c.logger.Logger.Debug("push dial failed", zap.Error(err), zap.Duration("retry_in", wait))
			select {
			case <-c.ctx.Done():
				return
			case <-time.After(wait):
			}
			continue
		}
		bo.Reset()

		epoch := c.attach(conn)
		state := StateConnected
		if epoch > 1 {
			state = StateReconnected
		}
		c.logger.Logger.Info("push connected", zap.Uint64("epoch", epoch))
		c.publish(ConnectionEvent{State: state, Epoch: epoch})

		stop := make(chan struct{})
		go c.pingLoop(conn, stop)
		err = c.readLoop(conn)
		close(stop)

		c.detach(conn)
		if c.ctx.Err() != nil {
			return
		}
		c.logger.Logger.Warn("push connection lost", zap.Uint64("epoch", epoch), zap.Error(err))
		c.publish(ConnectionEvent{State: StateDisconnected, Epoch: epoch})
	}
}

// attach installs conn and replays every joined room on it.
func (c *Client) attach(conn *websocket.Conn) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn = conn
	c.epoch++
	for id := range c.joined {
		c.writeFrame(conn, outboundFrame{Type: FrameJoin, ConversationID: id})
	}
	return c.epoch
}

func (c *Client) detach(conn *websocket.Conn) {
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	c.mu.Unlock()
	_ = conn.Close()
}

func (c *Client) readLoop(conn *websocket.Conn) error {
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))

		ev, err := ParseFrame(data)
		if err != nil {
			c.logger.Logger.Warn("rejected push frame", zap.Error(err))
			continue
		}
		c.publish(ev)
	}
}

func (c *Client) pingLoop(conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

// writeFrame sends a control frame. A failed write is left to the read loop,
// which notices the broken connection and reconnects.
func (c *Client) writeFrame(conn *websocket.Conn, frame outboundFrame) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(frame); err != nil {
		c.logger.Logger.Debug("push write failed",
			zap.String("type", frame.Type),
			zap.Int64("conversation_id", frame.ConversationID),
			zap.Error(err))
	}
}
