package websocket

import (
	"context"
	"sync"

	"marketplace-inbox/internal/events"
)

type hubOp int

const (
	opRegister hubOp = iota
	opUnregister
	opSubscribe
	opUnsubscribe
)

// hubRequest is one ordered change to the hub's membership.
type hubRequest struct {
	op      hubOp
	client  *Client
	channel string
}

// Hub manages UI connections and their channel subscriptions. Every client
// is subscribed to its user's channel on register.
type Hub struct {
	mu sync.RWMutex

	// clients maps client ID to client
	clients map[string]*Client

	// channels maps channel name to the clients subscribed to it
	channels map[string]map[*Client]struct{}

	// requests are applied in arrival order, so an unregister can never
	// overtake the register of the same client
	requests chan hubRequest
	done     chan struct{}
	stopOnce sync.Once
}

func NewHub() *Hub {
	return &Hub{
		clients:  make(map[string]*Client),
		channels: make(map[string]map[*Client]struct{}),
		requests: make(chan hubRequest, 512),
		done:     make(chan struct{}),
	}
}

// Run applies membership changes until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	defer h.stopOnce.Do(func() { close(h.done) })
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-h.requests:
			switch req.op {
			case opRegister:
				h.addClient(req.client)
			case opUnregister:
				h.removeClient(req.client)
			case opSubscribe:
				h.subscribeToChannel(req.client, req.channel)
			case opUnsubscribe:
				h.unsubscribeFromChannel(req.client, req.channel)
			}
		}
	}
}

func (h *Hub) enqueue(req hubRequest) {
	select {
	case h.requests <- req:
	case <-h.done:
	}
}

func (h *Hub) Register(client *Client) {
	h.enqueue(hubRequest{op: opRegister, client: client})
}

func (h *Hub) Unregister(client *Client) {
	h.enqueue(hubRequest{op: opUnregister, client: client})
}

func (h *Hub) Subscribe(client *Client, channel string) {
	h.enqueue(hubRequest{op: opSubscribe, client: client, channel: channel})
}

func (h *Hub) Unsubscribe(client *Client, channel string) {
	h.enqueue(hubRequest{op: opUnsubscribe, client: client, channel: channel})
}

// Broadcast sends a message to all clients subscribed to a channel
func (h *Hub) Broadcast(channel string, payload []byte) {
	h.mu.RLock()
	for c := range h.channels[channel] {
		c.SendMessage(payload)
	}
	h.mu.RUnlock()
}

// BroadcastToUser sends a message to all connections of a user
func (h *Hub) BroadcastToUser(userID int64, payload []byte) {
	h.Broadcast(events.UserChannel(userID), payload)
}

func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) GetChannelSubscriberCount(channel string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.channels[channel])
}

func (h *Hub) addClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[client.ID] = client
	h.subscribeLocked(client, events.UserChannel(client.UserID))
}

// removeClient drops a client and all its subscriptions, then closes its
// send channel. Unknown clients are ignored.
func (h *Hub) removeClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[client.ID]; !ok {
		return
	}
	for _, channel := range client.GetChannels() {
		h.unsubscribeLocked(client, channel)
	}
	delete(h.clients, client.ID)
	close(client.Send)
}

func (h *Hub) subscribeToChannel(client *Client, channel string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client.ID]; !ok {
		return
	}
	h.subscribeLocked(client, channel)
}

func (h *Hub) unsubscribeFromChannel(client *Client, channel string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.unsubscribeLocked(client, channel)
}

func (h *Hub) subscribeLocked(client *Client, channel string) {
	if _, ok := h.channels[channel]; !ok {
		h.channels[channel] = make(map[*Client]struct{})
	}
	h.channels[channel][client] = struct{}{}
	client.Subscribe(channel)
}

func (h *Hub) unsubscribeLocked(client *Client, channel string) {
	if subscribers, ok := h.channels[channel]; ok {
		delete(subscribers, client)
		if len(subscribers) == 0 {
			delete(h.channels, channel)
		}
	}
	client.Unsubscribe(channel)
}
