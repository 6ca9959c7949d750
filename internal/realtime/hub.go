package realtime

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// MessageRecord describes a chat message that was durably persisted by an
// external collaborator before being handed to the core for fan-out.
type MessageRecord struct {
	ID         int64  `json:"id"`
	SenderName string `json:"senderName"`
	Text       string `json:"text"`
}

// Hub owns the connection registry and the membership index and routes
// real-time signals between connections. A single connection's failure never
// affects the state of any other connection.
//
// Presence events are broadcast to all currently connected users rather than
// to a contact list. That is deliberate fidelity to the reference behavior
// and a known scaling limitation, not an oversight.
type Hub struct {
	registry   *Registry
	membership *Membership

	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client

	mutex  sync.RWMutex
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	opts   Options
	logger *zap.Logger
}

// NewHub creates a Hub ready to manage connections. Call Run in a separate
// goroutine to start it.
func NewHub(opts Options, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		registry:   NewRegistry(),
		membership: NewMembership(),
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
		opts:       opts.withDefaults(),
		logger:     logger,
	}
}

// Run starts the hub's main event loop, handling client registration and
// teardown. It runs until Shutdown is called.
func (h *Hub) Run() {
	defer close(h.done)

	for {
		select {
		case <-h.ctx.Done():
			h.shutdownClients()
			return

		case client := <-h.register:
			if client == nil {
				h.logger.Warn("received nil client registration, skipping")
				continue
			}
			h.addClient(client)

		case client := <-h.unregister:
			h.removeClient(client)
		}
	}
}

func (h *Hub) addClient(client *Client) {
	h.mutex.Lock()
	client.closed = false
	h.clients[client] = true
	total := len(h.clients)
	h.mutex.Unlock()

	h.logger.Info("connection accepted",
		zap.String("conn", shortID(client.id)),
		zap.String("addr", client.addr),
		zap.Int("total", total))

	if client.conn == nil {
		return
	}
	h.wg.Add(2)
	go func() {
		defer h.wg.Done()
		client.writePump()
	}()
	go func() {
		defer h.wg.Done()
		client.readPump()
	}()
}

// removeClient tears a connection down: drop it from the client set, purge
// registry and membership entries, and publish offline exactly once. Every
// close cause funnels through here, so cleanup cannot run twice.
func (h *Hub) removeClient(client *Client) {
	h.mutex.Lock()
	if _, ok := h.clients[client]; !ok {
		h.mutex.Unlock()
		return
	}
	delete(h.clients, client)
	client.closed = true
	total := len(h.clients)
	h.mutex.Unlock()

	close(client.send)

	h.logger.Info("connection closed",
		zap.String("conn", shortID(client.id)),
		zap.Int("total", total))

	if !client.Authenticated() {
		return
	}

	userID := client.UserID()
	// A replaced connection must not evict its successor: only the current
	// holder of the registry slot cleans up and announces offline.
	if !h.registry.Unregister(userID, client) {
		return
	}
	h.membership.Remove(userID)

	h.publishPresence(TypeOffline, PresencePayload{
		UserID:     userID,
		LastSeenAt: time.Now().UnixMilli(),
	}, userID)
}

// authenticate binds a connection to its user identity, replacing any prior
// connection for that user (last writer wins), seeds the membership index,
// and announces the user online.
func (h *Hub) authenticate(client *Client, userID int64, chatIDs []string) {
	prior := h.registry.Register(userID, client)
	client.bindUser(userID)
	h.membership.SetMemberships(userID, chatIDs)

	if prior != nil {
		h.logger.Info("duplicate login, closing previous connection",
			zap.Int64("user", userID),
			zap.String("conn", shortID(prior.id)))
		closeQuiet(prior)
	}

	h.logger.Info("user authenticated",
		zap.Int64("user", userID),
		zap.Int("chats", len(chatIDs)),
		zap.String("conn", shortID(client.id)))
}

// announceOnline publishes the online event for a freshly authenticated user,
// after the auth reply has gone out on their own connection.
func (h *Hub) announceOnline(userID int64) {
	h.publishPresence(TypeOnline, PresencePayload{
		UserID:    userID,
		Timestamp: time.Now().UnixMilli(),
	}, userID)
}

// publishPresence broadcasts an online/offline event to every currently
// connected user except the subject.
func (h *Hub) publishPresence(t EnvelopeType, payload PresencePayload, excludeUserID int64) {
	raw := mustEncode(t, payload)
	for _, userID := range h.registry.ListOnline() {
		if userID == excludeUserID {
			continue
		}
		if target, ok := h.registry.Lookup(userID); ok {
			h.deliverRaw(target, raw)
		}
	}
}

// DeliverToUser delivers an envelope to a single user. It reports false when
// the user has no live connection; the caller decides whether that matters.
func (h *Hub) DeliverToUser(userID int64, env *Envelope) bool {
	target, ok := h.registry.Lookup(userID)
	if !ok {
		return false
	}
	raw, err := env.Encode()
	if err != nil {
		h.logger.Error("encode envelope", zap.String("type", string(env.Type)), zap.Error(err))
		return false
	}
	return h.deliverRaw(target, raw)
}

// DeliverToChat delivers an envelope to every connected member of a chat,
// excluding excludeUserID (pass a negative value to exclude nobody). Members
// without a live connection are silently skipped; reaching them is the push
// notification collaborator's job. It returns the number of connections the
// envelope was written to.
func (h *Hub) DeliverToChat(chatID string, env *Envelope, excludeUserID int64) int {
	raw, err := env.Encode()
	if err != nil {
		h.logger.Error("encode envelope", zap.String("type", string(env.Type)), zap.Error(err))
		return 0
	}

	delivered := 0
	for _, userID := range h.membership.MembersOf(chatID) {
		if userID == excludeUserID {
			continue
		}
		target, ok := h.registry.Lookup(userID)
		if !ok {
			continue
		}
		if h.deliverRaw(target, raw) {
			delivered++
		}
	}
	return delivered
}

// deliverRaw queues raw bytes for one client. A client that cannot accept the
// write is closed; its teardown then flows through the normal unregister path.
func (h *Hub) deliverRaw(client *Client, raw []byte) bool {
	if h.safeSend(client, raw) {
		return true
	}
	h.logger.Warn("dropping unresponsive client",
		zap.String("conn", shortID(client.id)),
		zap.Int64("user", client.UserID()))
	closeQuiet(client)
	return false
}

func (h *Hub) safeSend(client *Client, raw []byte) (sent bool) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Warn("recovered from send on closed channel", zap.Any("panic", r))
			sent = false
		}
	}()

	h.mutex.RLock()
	defer h.mutex.RUnlock()

	if _, ok := h.clients[client]; !ok || client.closed {
		return false
	}

	select {
	case client.send <- raw:
		return true
	default:
		return false
	}
}

// NotifyNewMessage is called by the persistence collaborator after a message
// has been durably stored. It fans the message out to the chat's connected
// members (excluding the sender) and acknowledges delivery to the sender
// alone. Offline members are not an error.
func (h *Hub) NotifyNewMessage(chatID string, senderID int64, record MessageRecord) int {
	msg, err := NewEnvelope(TypeMessage, MessagePayload{
		ChatID:     chatID,
		ID:         record.ID,
		SenderID:   senderID,
		SenderName: record.SenderName,
		Text:       record.Text,
	})
	if err != nil {
		h.logger.Error("build message envelope", zap.Error(err))
		return 0
	}
	delivered := h.DeliverToChat(chatID, msg, senderID)

	ack, err := NewEnvelope(TypeMessageDelivered, MessageDeliveredPayload{
		ChatID: chatID,
		ID:     record.ID,
	})
	if err != nil {
		h.logger.Error("build delivery ack envelope", zap.Error(err))
		return delivered
	}
	h.DeliverToUser(senderID, ack)

	return delivered
}

// NotifyMessageDeleted fans a deletion event out to the chat, excluding the
// user who deleted the message.
func (h *Hub) NotifyMessageDeleted(chatID string, senderID, messageID int64) int {
	env, err := NewEnvelope(TypeMessageDeleted, MessageDeletedPayload{
		ChatID: chatID,
		ID:     messageID,
	})
	if err != nil {
		h.logger.Error("build deletion envelope", zap.Error(err))
		return 0
	}
	return h.DeliverToChat(chatID, env, senderID)
}

// AddUserToChat records a new membership so a freshly created room receives
// fan-out for its members without a reconnect. Idempotent.
func (h *Hub) AddUserToChat(userID int64, chatID string) {
	h.membership.AddMembership(userID, chatID)
}

// IsOnline reports whether the user has a live, responsive connection.
func (h *Hub) IsOnline(userID int64) bool {
	return h.registry.IsOnline(userID)
}

// ListOnline returns the ids of all currently connected users.
func (h *Hub) ListOnline() []int64 {
	return h.registry.ListOnline()
}

// shutdownClients runs after the event loop has exited, so no removeClient
// can race it. Closing each send channel unblocks the write pumps without
// waiting for a heartbeat tick.
func (h *Hub) shutdownClients() {
	h.mutex.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		client.closed = true
		clients = append(clients, client)
	}
	h.clients = make(map[*Client]bool)
	h.mutex.Unlock()

	for _, client := range clients {
		close(client.send)
		closeQuiet(client)
	}
	h.logger.Info("closed client connections", zap.Int("count", len(clients)))
}

// Shutdown stops the hub and waits for all connection goroutines to finish,
// or until the timeout elapses.
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.logger.Info("hub shutting down")
	h.cancel()
	<-h.done

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.logger.Info("hub shutdown complete")
		return nil
	case <-time.After(timeout):
		h.logger.Warn("hub shutdown timed out")
		return context.DeadlineExceeded
	}
}

func closeQuiet(client *Client) {
	if client != nil && client.conn != nil {
		_ = client.conn.Close()
	}
}
