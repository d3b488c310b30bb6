package service

import (
	"context"
	"encoding/json"

	"github.com/taskhive/realtime-service/internal/hub"
)

// RealtimeService maps inbound connection events and collaborator calls to
// hub operations. The Notify* methods are the API the CRUD layer invokes
// after persistence operations.
type RealtimeService interface {
	HandleJoinRoom(ctx context.Context, client *hub.Client, roomID string) error
	HandleLeaveRoom(ctx context.Context, client *hub.Client, roomID string) error
	HandleTyping(ctx context.Context, client *hub.Client, roomID, username string) error
	HandleStoppedTyping(ctx context.Context, client *hub.Client, roomID string) error
	HandleCommentEvent(ctx context.Context, client *hub.Client, eventType string, task json.RawMessage) error
	HandleSetIdentity(ctx context.Context, client *hub.Client, userID string) error
	HandleUnsetIdentity(ctx context.Context, client *hub.Client) error
	HandleDisconnect(ctx context.Context, client *hub.Client) error

	NotifyRoom(ctx context.Context, label, eventType string, payload json.RawMessage) error
	NotifyUser(ctx context.Context, userID, eventType string, payload json.RawMessage) error
	BroadcastExcludingUser(ctx context.Context, userID, eventType string, payload json.RawMessage, room string) error
	LocateRoom(ctx context.Context, roomID string) (string, error)

	Start(ctx context.Context) error
	Stop() error
}
