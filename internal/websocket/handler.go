// internal/websocket/handler.go
package websocket

import (
	"context"
	"fmt"
	"sync"

	wstypes "audiotricks-service/internal/domain/websocket"
)

// MessageHandler answers client requests for a set of event types.
type MessageHandler interface {
	HandleMessage(ctx context.Context, client *Client, msg *wstypes.WSMessage) error
	SupportedEvents() []wstypes.EventType
}

// Events the client loop answers itself.
var reservedEvents = map[wstypes.EventType]bool{
	wstypes.EventTypePing:        true,
	wstypes.EventTypeSubscribe:   true,
	wstypes.EventTypeUnsubscribe: true,
}

// HandlerRegistry routes an event type to exactly one handler.
type HandlerRegistry struct {
	mu       sync.RWMutex
	handlers map[wstypes.EventType]MessageHandler
}

func NewHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{
		handlers: make(map[wstypes.EventType]MessageHandler),
	}
}

// Register claims every event the handler supports. Nothing is registered
// if any of them is reserved or already taken.
func (r *HandlerRegistry) Register(handler MessageHandler) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	events := handler.SupportedEvents()
	for _, ev := range events {
		if reservedEvents[ev] {
			return fmt.Errorf("websocket event %q is reserved", ev)
		}
		if _, taken := r.handlers[ev]; taken {
			return fmt.Errorf("websocket event %q already has a handler", ev)
		}
	}
	for _, ev := range events {
		r.handlers[ev] = handler
	}
	return nil
}

func (r *HandlerRegistry) Lookup(eventType wstypes.EventType) (MessageHandler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	handler, ok := r.handlers[eventType]
	return handler, ok
}
