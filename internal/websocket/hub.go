// internal/websocket/hub.go
package websocket

import (
	"context"
	"sync"

	wstypes "audiotricks-service/internal/domain/websocket"
	"audiotricks-service/internal/pkg/jwt"
	"audiotricks-service/internal/pkg/session"

	"go.uber.org/zap"
)

type TokenVerifier interface {
	VerifyAccessToken(token string) (*jwt.Claims, error)
}

type SessionChecker interface {
	IsTokenBlacklisted(ctx context.Context, jti string) (bool, error)
	GetSession(ctx context.Context, userID int64, jti string) (*session.SessionData, error)
}

type Hub struct {
	// Registered clients by user ID
	clients map[int64]map[*Client]bool
	mu      sync.RWMutex

	Register   chan *Client
	unregister chan *Client

	broadcast chan *BroadcastMessage

	handlerRegistry *HandlerRegistry

	verifier TokenVerifier
	sessions SessionChecker
	logger   *zap.Logger
}

// BroadcastMessage targets UserIDs, or everyone when nil. An empty Channel
// reaches clients regardless of their subscriptions.
type BroadcastMessage struct {
	UserIDs []int64
	Channel wstypes.ChannelType
	Message *wstypes.WSMessage
}

func NewHub(verifier TokenVerifier, sessions SessionChecker, logger *zap.Logger) *Hub {
	return &Hub{
		clients:         make(map[int64]map[*Client]bool),
		Register:        make(chan *Client),
		unregister:      make(chan *Client, 16),
		broadcast:       make(chan *BroadcastMessage, 256),
		handlerRegistry: NewHandlerRegistry(),
		verifier:        verifier,
		sessions:        sessions,
		logger:          logger,
	}
}

// AuthenticateClient validates the access token and its session.
func (h *Hub) AuthenticateClient(ctx context.Context, token string) (*ClientAuth, error) {
	claims, err := h.verifier.VerifyAccessToken(token)
	if err != nil {
		return nil, ErrInvalidToken
	}

	blacklisted, err := h.sessions.IsTokenBlacklisted(ctx, claims.ID)
	if err != nil {
		return nil, err
	}
	if blacklisted {
		return nil, ErrTokenBlacklisted
	}

	sessionData, err := h.sessions.GetSession(ctx, claims.UserID, claims.ID)
	if err != nil {
		return nil, ErrSessionExpired
	}

	return &ClientAuth{
		UserID:    claims.UserID,
		SessionID: claims.ID,
		Roles:     claims.Roles,
		Email:     sessionData.Email,
		Device:    claims.Device,
	}, nil
}

func (h *Hub) RegisterHandler(handler MessageHandler) error {
	return h.handlerRegistry.Register(handler)
}

// HandleClientMessage delegates to a registered handler, if any. The bool
// reports whether one took the message.
func (h *Hub) HandleClientMessage(ctx context.Context, client *Client, msg *wstypes.WSMessage) (bool, error) {
	handler, exists := h.handlerRegistry.Lookup(msg.Type)
	if !exists {
		return false, nil
	}
	return true, handler.HandleMessage(ctx, client, msg)
}

func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return

		case client := <-h.Register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.unregisterClient(client)

		case msg := <-h.broadcast:
			h.dispatch(msg)
		}
	}
}

func (h *Hub) registerClient(client *Client) {
	h.mu.Lock()
	if h.clients[client.userID] == nil {
		h.clients[client.userID] = make(map[*Client]bool)
	}
	h.clients[client.userID][client] = true
	total := h.totalClients()
	h.mu.Unlock()

	h.logger.Info("websocket client connected",
		zap.Int64("user_id", client.userID),
		zap.String("session_id", client.sessionID),
		zap.Int("total", total),
	)

	client.SendMessage(wstypes.NewMessage(wstypes.EventTypeConnected, map[string]interface{}{
		"user_id":    client.userID,
		"session_id": client.sessionID,
		"roles":      client.roles,
		"channels":   client.Channels(),
	}))
}

func (h *Hub) unregisterClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	clients, ok := h.clients[client.userID]
	if !ok {
		return
	}
	if _, exists := clients[client]; !exists {
		return
	}

	delete(clients, client)
	client.Close()
	if len(clients) == 0 {
		delete(h.clients, client.userID)
	}

	h.logger.Info("websocket client disconnected",
		zap.Int64("user_id", client.userID),
		zap.String("session_id", client.sessionID),
		zap.Int("total", h.totalClients()),
	)
}

func (h *Hub) dispatch(msg *BroadcastMessage) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	deliver := func(client *Client) {
		if msg.Channel == "" || client.IsSubscribed(msg.Channel) {
			client.SendMessage(msg.Message)
		}
	}

	if msg.UserIDs == nil {
		for _, clients := range h.clients {
			for client := range clients {
				deliver(client)
			}
		}
		return
	}

	for _, userID := range msg.UserIDs {
		for client := range h.clients[userID] {
			deliver(client)
		}
	}
}

// enqueue never blocks callers on the processing path; a full queue drops the event.
func (h *Hub) enqueue(msg *BroadcastMessage) {
	select {
	case h.broadcast <- msg:
	default:
		h.logger.Warn("websocket broadcast queue full, dropping event",
			zap.String("type", string(msg.Message.Type)),
		)
	}
}

// ========== Publishing ==========

// channelFor maps server events onto the channel clients subscribe to.
func channelFor(event wstypes.EventType) wstypes.ChannelType {
	switch event {
	case wstypes.EventTypeJobProgress, wstypes.EventTypeJobCompleted,
		wstypes.EventTypeJobFailed, wstypes.EventTypeJobCancelled, wstypes.EventTypeJobStatus:
		return wstypes.ChannelJobs
	case wstypes.EventTypeUploadCompleted:
		return wstypes.ChannelUploads
	case wstypes.EventTypePlanChanged:
		return wstypes.ChannelPlans
	case wstypes.EventTypeForceLogout:
		return ""
	default:
		return wstypes.ChannelSystem
	}
}

// PublishToUser pushes an event to every connection of a user.
func (h *Hub) PublishToUser(userID int64, event wstypes.EventType, data interface{}) {
	h.enqueue(&BroadcastMessage{
		UserIDs: []int64{userID},
		Channel: channelFor(event),
		Message: wstypes.NewMessage(event, data),
	})
}

// ForceLogout tells the clients of one session that it has ended.
func (h *Hub) ForceLogout(userID int64, sessionID, reason string) {
	h.PublishToUser(userID, wstypes.EventTypeForceLogout, wstypes.SessionEventData{
		SessionID: sessionID,
		Reason:    reason,
	})
}

func (h *Hub) GetConnectedClients(userID int64) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID])
}

func (h *Hub) TotalClients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.totalClients()
}

func (h *Hub) IsUserConnected(userID int64) bool {
	return h.GetConnectedClients(userID) > 0
}

// DisconnectUser closes every connection a user holds.
func (h *Hub) DisconnectUser(userID int64, reason string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	clients, ok := h.clients[userID]
	if !ok {
		return
	}

	msg := wstypes.NewMessage(wstypes.EventTypeDisconnected, map[string]interface{}{
		"reason": reason,
	})
	for client := range clients {
		client.SendMessage(msg)
		client.Close()
	}
	delete(h.clients, userID)

	h.logger.Info("disconnected all clients", zap.Int64("user_id", userID), zap.String("reason", reason))
}

func (h *Hub) totalClients() int {
	total := 0
	for _, clients := range h.clients {
		total += len(clients)
	}
	return total
}

func (h *Hub) shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, clients := range h.clients {
		for client := range clients {
			client.Close()
		}
	}
	h.clients = make(map[int64]map[*Client]bool)
}
