package chat

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/samber/lo"

	"github.com/Mahmoud-Mh/IRC/internal/config"
)

// Hub owns the connection lifecycle: it registers and unregisters clients,
// coordinates the registry and room indexes, and fans events out to the
// affected connections. All per-connection state is cleaned up here on
// disconnect, in room-leave then identity-release order.
type Hub struct {
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client

	registry *Registry
	rooms    *Rooms
	store    Store
	cfg      *config.Config

	mutex  sync.RWMutex
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	logger *slog.Logger
}

// NewHub creates a Hub wired to the given store and configuration. Call Run
// in its own goroutine before accepting connections.
func NewHub(st Store, cfg *config.Config, logger *slog.Logger) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	hubLogger := logger.With(slog.String("component", "hub"))
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		registry:   NewRegistry(logger),
		rooms:      NewRooms(logger),
		store:      st,
		cfg:        cfg,
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
		logger:     hubLogger,
	}
}

// Register hands a new client to the hub, which launches its pumps. A client
// arriving during shutdown is closed instead.
func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.ctx.Done():
		if client != nil && client.conn != nil {
			_ = client.conn.Close()
		}
	}
}

// Run is the hub's main event loop, handling client registration and
// disconnect cleanup. It runs until Shutdown is called.
func (h *Hub) Run() {
	defer close(h.done)

	for {
		select {
		case <-h.ctx.Done():
			h.shutdownClients()
			return

		case client := <-h.register:
			if client == nil {
				h.logger.Warn("received nil client registration; skipping")
				continue
			}
			h.mutex.Lock()
			client.closed = false
			h.clients[client] = true
			total := len(h.clients)
			h.mutex.Unlock()
			h.logger.Info("client connected",
				slog.String("connID", client.id.String()),
				slog.String("addr", client.addr),
				slog.Int("total", total))

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
			h.mutex.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.closed = true
				total := len(h.clients)
				h.mutex.Unlock()
				close(client.send)
				h.logger.Info("client disconnected",
					slog.String("connID", client.id.String()),
					slog.Int("total", total))
				h.cleanupClient(client)
			} else {
				h.mutex.Unlock()
			}
		}
	}
}

// cleanupClient tears down all state for a disconnecting client: room
// membership first, identity last. Errors here are logged and swallowed;
// disconnect always completes.
func (h *Hub) cleanupClient(client *Client) {
	nickname := client.Nickname()

	channels := h.rooms.LeaveAll(client)
	for _, channel := range channels {
		if nickname == "" {
			continue
		}
		if err := h.store.RemoveUserFromChannel(h.ctx, nickname, channel); err != nil {
			h.logger.Warn("failed to remove durable membership on disconnect",
				slog.String("nickname", nickname),
				slog.String("channel", channel),
				slog.Any("error", err))
		}
		h.notifyRoom(channel, KindUserLeft, nickname+" has left the channel.")
	}

	if released, ok := h.registry.Release(client); ok {
		h.logger.Debug("released nickname on disconnect", slog.String("nickname", released))
		h.broadcastRoster()
	}
}

// safeSend enqueues a payload on the client's send channel without blocking.
// It returns false when the client is gone or its queue is full.
func (h *Hub) safeSend(client *Client, payload []byte) bool {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Warn("recovered from panic in safeSend", slog.Any("panic", r))
		}
	}()

	h.mutex.RLock()
	defer h.mutex.RUnlock()

	if _, exists := h.clients[client]; !exists || client.closed {
		return false
	}
	select {
	case client.send <- payload:
		return true
	default:
		return false
	}
}

// sendFrame delivers one event to one client, dropping the client if its
// queue has filled up.
func (h *Hub) sendFrame(client *Client, event string, payload any) {
	if !h.safeSend(client, encodeFrame(event, payload)) {
		h.dropClient(client)
	}
}

func (h *Hub) sendError(client *Client, message string) {
	h.sendFrame(client, EventError, ErrorPayload{Message: message})
}

func (h *Hub) sendAck(client *Client, event, message string) {
	h.sendFrame(client, event, AckPayload{Success: true, Message: message})
}

// broadcastRoom fans a payload out to every live member of the channel. A
// slow client never stalls the others; clients with full queues are dropped.
func (h *Hub) broadcastRoom(channel string, payload []byte) {
	var toDrop []*Client
	for _, member := range h.rooms.Members(channel) {
		if !h.safeSend(member, payload) {
			toDrop = append(toDrop, member)
		}
	}
	h.dropClients(toDrop)
}

// broadcastAll fans a payload out to every connected client.
func (h *Hub) broadcastAll(payload []byte) {
	h.mutex.RLock()
	targets := lo.Keys(h.clients)
	h.mutex.RUnlock()

	var toDrop []*Client
	for _, client := range targets {
		if !h.safeSend(client, payload) {
			toDrop = append(toDrop, client)
		}
	}
	h.dropClients(toDrop)
}

// notifyRoom emits a transient notification to the members of a channel.
func (h *Hub) notifyRoom(channel, kind, message string) {
	h.broadcastRoom(channel, encodeFrame(EventNotification, NotificationPayload{
		Kind:      kind,
		Message:   message,
		Timestamp: time.Now().UTC(),
	}))
}

// Notify emits a transient notification to every connected client. The HTTP
// surface uses this for channel create/delete announcements.
func (h *Hub) Notify(kind, message string) {
	h.broadcastAll(encodeFrame(EventNotification, NotificationPayload{
		Kind:      kind,
		Message:   message,
		Timestamp: time.Now().UTC(),
	}))
}

// broadcastRoster pushes the connected-nickname set to all clients.
func (h *Hub) broadcastRoster() {
	h.broadcastAll(encodeFrame(EventUsersUpdated, UsersUpdatedPayload{
		Nicknames: h.registry.Roster(),
	}))
}

// MembersOf returns the nicknames currently joined to the channel in this
// process.
func (h *Hub) MembersOf(channel string) []string {
	return h.rooms.MemberNames(channel)
}

// Roster returns the nicknames of all connected, identified clients.
func (h *Hub) Roster() []string {
	return h.registry.Roster()
}

func (h *Hub) dropClient(client *Client) {
	h.dropClients([]*Client{client})
}

// dropClients removes clients whose send queues are full, mirroring the
// unregister path so their channels are closed exactly once. Cleanup of
// registry and room state still happens via cleanupClient.
func (h *Hub) dropClients(clients []*Client) {
	if len(clients) == 0 {
		return
	}

	var dropped []*Client
	h.mutex.Lock()
	for _, client := range clients {
		if _, exists := h.clients[client]; exists {
			delete(h.clients, client)
			client.closed = true
			dropped = append(dropped, client)
		}
	}
	h.mutex.Unlock()

	for _, client := range dropped {
		close(client.send)
		h.logger.Warn("client dropped due to full send queue",
			slog.String("connID", client.id.String()))
		h.cleanupClient(client)
	}
}

// shutdownClients closes all live connections during hub shutdown.
func (h *Hub) shutdownClients() {
	h.mutex.Lock()
	clients := lo.Keys(h.clients)
	h.mutex.Unlock()

	for _, client := range clients {
		if client.conn != nil {
			if err := client.conn.Close(); err != nil && !isExpectedCloseError(err) {
				h.logger.Warn("error closing client connection",
					slog.String("addr", client.addr),
					slog.Any("error", err))
			}
		}
	}
	h.logger.Info("closed client connections", slog.Int("count", len(clients)))
}

// Shutdown stops the hub and waits for client goroutines to finish, up to
// the timeout.
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.logger.Info("initiating hub shutdown")

	h.cancel()
	<-h.done

	finished := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		h.logger.Info("hub shutdown completed")
		return nil
	case <-time.After(timeout):
		h.logger.Warn("hub shutdown timeout reached")
		return context.DeadlineExceeded
	}
}
