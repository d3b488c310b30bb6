package domain

import "encoding/json"

// Event types from client.
const (
	EventJoinRoom          = "join-room"
	EventLeaveRoom         = "leave-room"
	EventUserTyping        = "user-typing"
	EventUserStoppedTyping = "user-stopped-typing"
	EventCommentAdded      = "comment-added"
	EventCommentUpdated    = "comment-updated"
	EventCommentRemoved    = "comment-removed"
	EventSetUserIdentity   = "set-user-identity"
	EventUnsetUserIdentity = "unset-user-identity"
)

// Event types to client. The typing and comment events are echoed back out
// under the same names; "error" is the only server-originated type.
const (
	EventError = "error"
)

// Error codes
const (
	ErrCodeBadRequest = "BAD_REQUEST"
)

// Envelope is the wire format in both directions.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// NewEnvelope wraps a payload in an Envelope under the given event type.
func NewEnvelope(eventType string, payload interface{}) (*Envelope, error) {
	if payload == nil {
		return &Envelope{Type: eventType}, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Envelope{Type: eventType, Data: data}, nil
}

// Client -> Server payloads

type JoinRoomPayload struct {
	RoomID string `json:"roomId"`
}

type LeaveRoomPayload struct {
	RoomID string `json:"roomId"`
}

type TypingPayload struct {
	RoomID   string `json:"roomId"`
	Username string `json:"username"`
}

type StoppedTypingPayload struct {
	RoomID string `json:"roomId"`
}

type IdentityPayload struct {
	UserID string `json:"userId"`
}

// Comment lifecycle events carry the updated task verbatim; the relay never
// inspects it.

// Server -> Client payloads

type TypingEvent struct {
	Username string `json:"username"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewErrorEnvelope builds an error envelope for a malformed inbound message.
func NewErrorEnvelope(code, message string) *Envelope {
	data, _ := json.Marshal(ErrorPayload{Code: code, Message: message})
	return &Envelope{Type: EventError, Data: data}
}
