package registry

import "context"

// RoomRegistry tracks which rooms this instance is currently serving, so
// operators and the CRUD layer can see where a room is live. Entries are
// TTL-guarded; a crashed instance's rooms age out on their own.
type RoomRegistry interface {
	Register(ctx context.Context, roomID string) error
	Deregister(ctx context.Context, roomID string) error
	Lookup(ctx context.Context, roomID string) (string, error)
	StartHeartbeat(ctx context.Context) error
	StopHeartbeat()
	Close() error
}
