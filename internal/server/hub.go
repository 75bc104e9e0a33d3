package server

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Tyrowin/nexus-social/internal/metrics"
)

// Hub is the connection registry. It owns every live channel and the room
// subscriptions keyed by user id, group id or call-room id, which all share
// one namespace.
type Hub struct {
	clients    map[string]*Client
	rooms      map[string]map[*Client]struct{}
	register   chan *Client
	unregister chan *Client
	mutex      sync.RWMutex
	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
	done       chan struct{}

	onDisconnect func(channelID string)
	logger       *zap.Logger
	metrics      *metrics.Metrics
}

// NewHub creates a hub. Call Run in its own goroutine before registering clients.
func NewHub(logger *zap.Logger, m *metrics.Metrics) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		clients:    make(map[string]*Client),
		rooms:      make(map[string]map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
		logger:     logger.Named("hub"),
		metrics:    m,
	}
}

// OnDisconnect sets the hook invoked once for every channel that goes away.
// It must be set before Run.
func (h *Hub) OnDisconnect(fn func(channelID string)) {
	h.onDisconnect = fn
}

// Register hands a client to the hub, which starts its pumps. It reports
// false when the hub is shutting down.
func (h *Hub) Register(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.ctx.Done():
		return false
	}
}

// Unregister removes a client. After shutdown has begun the client is
// detached directly since Run no longer listens.
func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.ctx.Done():
		h.detach([]*Client{c}, "shutdown")
	}
}

func (h *Hub) safeSend(client *Client, message []byte) bool {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("safe_send_panic", zap.Any("panic", r))
		}
	}()

	h.mutex.RLock()
	defer h.mutex.RUnlock()

	if _, exists := h.clients[client.id]; !exists || client.closed {
		return false
	}
	select {
	case client.send <- message:
		return true
	default:
		return false
	}
}

// Run is the hub's event loop for registration and unregistration.
func (h *Hub) Run() {
	defer close(h.done)

	for {
		select {
		case <-h.ctx.Done():
			h.shutdownClients()
			return

		case client := <-h.register:
			if client == nil {
				h.logger.Warn("nil_client_registration")
				continue
			}
			h.add(client)

			h.wg.Add(2)
			go func() {
				defer h.wg.Done()
				client.writePump()
			}()
			go func() {
				defer h.wg.Done()
				client.readPump()
			}()

		case client := <-h.unregister:
			h.detach([]*Client{client}, "unregistered")
		}
	}
}

func (h *Hub) add(client *Client) {
	h.mutex.Lock()
	client.closed = false
	h.clients[client.id] = client
	// every channel listens on its own user's room
	h.joinLocked(client.userID, client)
	count := len(h.clients)
	h.mutex.Unlock()

	h.metrics.ClientConnected()
	h.logger.Info("client_registered",
		zap.String("channel", client.id),
		zap.String("user", client.userID),
		zap.String("addr", client.addr),
		zap.Int("clients", count))
}

// detach removes clients from the registry and every room, closes their send
// channels and runs the disconnect hook. Unknown clients are skipped.
func (h *Hub) detach(clients []*Client, reason string) {
	h.mutex.Lock()
	var gone []*Client
	for _, client := range clients {
		if _, exists := h.clients[client.id]; !exists {
			continue
		}
		delete(h.clients, client.id)
		for room := range client.rooms {
			h.leaveLocked(room, client)
		}
		client.closed = true
		gone = append(gone, client)
	}
	count := len(h.clients)
	h.mutex.Unlock()

	for _, client := range gone {
		close(client.send)
		h.metrics.ClientDisconnected()
		h.logger.Info("client_unregistered",
			zap.String("channel", client.id),
			zap.String("user", client.userID),
			zap.String("reason", reason),
			zap.Int("clients", count))

		if h.onDisconnect != nil {
			go h.onDisconnect(client.id)
		}
	}
}

func (h *Hub) joinLocked(room string, client *Client) bool {
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[*Client]struct{})
		h.rooms[room] = members
	}
	if _, ok := members[client]; ok {
		return false
	}
	members[client] = struct{}{}
	client.rooms[room] = struct{}{}
	return true
}

func (h *Hub) leaveLocked(room string, client *Client) {
	if members, ok := h.rooms[room]; ok {
		delete(members, client)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
	delete(client.rooms, room)
}

// Join subscribes a channel to room. It reports whether the subscription is
// new; unknown channels are ignored.
func (h *Hub) Join(room, channelID string) bool {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	client, ok := h.clients[channelID]
	if !ok {
		return false
	}
	return h.joinLocked(room, client)
}

// Has reports whether the channel is registered.
func (h *Hub) Has(channelID string) bool {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	_, ok := h.clients[channelID]
	return ok
}

// Leave unsubscribes a channel from room.
func (h *Hub) Leave(room, channelID string) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if client, ok := h.clients[channelID]; ok {
		h.leaveLocked(room, client)
	}
}

// LeaveUser unsubscribes every channel of userID from room.
func (h *Hub) LeaveUser(room, userID string) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	for client := range h.rooms[userID] {
		if client.userID == userID {
			h.leaveLocked(room, client)
		}
	}
}

// InRoom reports whether the channel is subscribed to room.
func (h *Hub) InRoom(room, channelID string) bool {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	client, ok := h.clients[channelID]
	if !ok {
		return false
	}
	_, ok = client.rooms[room]
	return ok
}

// RoomSize returns the number of channels subscribed to room.
func (h *Hub) RoomSize(room string) int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.rooms[room])
}

// ClientCount returns the number of live channels.
func (h *Hub) ClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

// Emit delivers an event to every channel subscribed to any of rooms, once
// per channel. It never blocks and returns the number of channels reached.
func (h *Hub) Emit(rooms []string, event string, payload any) int {
	return h.EmitExcept(rooms, "", event, payload)
}

// EmitExcept is Emit without the channel exceptChannelID.
func (h *Hub) EmitExcept(rooms []string, exceptChannelID, event string, payload any) int {
	message, err := encodeEvent(event, payload)
	if err != nil {
		h.logger.Error("encode_event_failed", zap.String("event", event), zap.Error(err))
		return 0
	}

	targets := h.targets(rooms, exceptChannelID)
	if len(targets) == 0 {
		return 0
	}

	delivered := 0
	var failed []*Client
	for _, client := range targets {
		if h.safeSend(client, message) {
			delivered++
		} else {
			failed = append(failed, client)
		}
	}
	if len(failed) > 0 {
		h.logger.Warn("send_buffer_full", zap.String("event", event), zap.Int("clients", len(failed)))
		h.detach(failed, "send buffer full")
	}
	return delivered
}

func (h *Hub) targets(rooms []string, exceptChannelID string) []*Client {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	seen := make(map[*Client]struct{})
	var out []*Client
	for _, room := range rooms {
		for client := range h.rooms[room] {
			if client.id == exceptChannelID {
				continue
			}
			if _, dup := seen[client]; dup {
				continue
			}
			seen[client] = struct{}{}
			out = append(out, client)
		}
	}
	return out
}

// shutdownClients closes every live connection; the read pumps then unwind.
func (h *Hub) shutdownClients() {
	h.mutex.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for _, client := range h.clients {
		clients = append(clients, client)
	}
	h.mutex.Unlock()

	for _, client := range clients {
		if client.conn == nil {
			continue
		}
		if err := client.conn.Close(); err != nil && !isExpectedCloseError(err) {
			h.logger.Warn("close_connection_failed", zap.String("channel", client.id), zap.Error(err))
		}
	}
	h.logger.Info("connections_closed", zap.Int("clients", len(clients)))
}

// Shutdown stops the hub and waits for client goroutines, up to timeout.
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.logger.Info("hub_shutdown_started")
	h.cancel()
	<-h.done

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.logger.Info("hub_shutdown_completed")
		return nil
	case <-time.After(timeout):
		h.logger.Warn("hub_shutdown_timeout")
		return context.DeadlineExceeded
	}
}
