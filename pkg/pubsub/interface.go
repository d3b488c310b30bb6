package pubsub

import (
	"context"
	"encoding/json"
	"time"
)

// Kind selects the destination set of a relayed delivery.
type Kind string

const (
	KindRoom   Kind = "room"
	KindUser   Kind = "user"
	KindGlobal Kind = "global"
)

// Event is a delivery request relayed between service instances. Each
// instance publishes the deliveries it performs locally; peers re-apply
// them to their own connection sets.
type Event struct {
	Kind          Kind            `json:"kind"`
	Type          string          `json:"type"`
	RoomID        string          `json:"room_id,omitempty"`
	UserID        string          `json:"user_id,omitempty"`
	ExcludeUserID string          `json:"exclude_user_id,omitempty"`
	Origin        string          `json:"origin"`
	Payload       json.RawMessage `json:"payload"`
	Timestamp     time.Time       `json:"timestamp"`
}

// NewEvent creates a new event with the current timestamp.
func NewEvent(kind Kind, eventType, origin string, payload interface{}) (*Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Event{
		Kind:      kind,
		Type:      eventType,
		Origin:    origin,
		Payload:   data,
		Timestamp: time.Now(),
	}, nil
}

// UnmarshalPayload unmarshals the event payload into the given struct.
func (e *Event) UnmarshalPayload(v interface{}) error {
	return json.Unmarshal(e.Payload, v)
}

// Key returns the partition key for brokers that shard by key.
func (e *Event) Key() string {
	switch {
	case e.RoomID != "":
		return e.RoomID
	case e.UserID != "":
		return e.UserID
	default:
		return "global"
	}
}

// Publisher publishes events to the event bus.
type Publisher interface {
	Publish(ctx context.Context, channel string, event *Event) error
}

// Subscriber subscribes to events from the event bus.
type Subscriber interface {
	Subscribe(ctx context.Context, channel string) (<-chan *Event, error)
	Unsubscribe(ctx context.Context, channel string) error
}

// PubSub combines Publisher and Subscriber interfaces.
type PubSub interface {
	Publisher
	Subscriber
	Close() error
}
