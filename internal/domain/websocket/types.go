// internal/domain/websocket/types.go
package websocket

import (
	"encoding/json"
	"time"

	"github.com/oklog/ulid/v2"
)

// EventType represents different real-time event types
type EventType string

const (
	// Connection events
	EventTypePing         EventType = "ping"
	EventTypePong         EventType = "pong"
	EventTypeConnected    EventType = "connected"
	EventTypeDisconnected EventType = "disconnected"
	EventTypeError        EventType = "error"

	// Job events (server -> client)
	EventTypeJobProgress  EventType = "job:progress"
	EventTypeJobCompleted EventType = "job:completed"
	EventTypeJobFailed    EventType = "job:failed"
	EventTypeJobCancelled EventType = "job:cancelled"

	// Job requests (client -> server)
	EventTypeJobStatus EventType = "job:status"

	// Upload events
	EventTypeUploadCompleted EventType = "upload:completed"

	// Plan events
	EventTypePlanChanged EventType = "plan:changed"

	// Session events
	EventTypeForceLogout EventType = "session:force_logout"

	// Subscription events
	EventTypeSubscribe   EventType = "subscribe"
	EventTypeUnsubscribe EventType = "unsubscribe"
)

// WSMessage is the universal message format
type WSMessage struct {
	Type      EventType              `json:"type"`
	Data      interface{}            `json:"data,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	ID        string                 `json:"id,omitempty"`
}

// ChannelType is a topic a client can subscribe to
type ChannelType string

const (
	ChannelJobs    ChannelType = "jobs"
	ChannelUploads ChannelType = "uploads"
	ChannelPlans   ChannelType = "plans"
	ChannelSystem  ChannelType = "system"
)

// DefaultChannels are subscribed on connect.
var DefaultChannels = []ChannelType{ChannelJobs, ChannelSystem}

type SubscribeRequest struct {
	Channels []ChannelType `json:"channels"`
}

type UnsubscribeRequest struct {
	Channels []ChannelType `json:"channels"`
}

type ErrorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

type SessionEventData struct {
	SessionID string `json:"session_id"`
	Reason    string `json:"reason"`
}

func NewMessage(eventType EventType, data interface{}) *WSMessage {
	return &WSMessage{
		Type:      eventType,
		Data:      data,
		Timestamp: time.Now(),
		ID:        ulid.Make().String(),
	}
}

func (m *WSMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

func ParseMessage(data []byte) (*WSMessage, error) {
	var msg WSMessage
	err := json.Unmarshal(data, &msg)
	return &msg, err
}
