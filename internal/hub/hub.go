package hub

import (
	"encoding/json"
	"sync"

	"github.com/taskhive/realtime-service/internal/domain"
	"github.com/taskhive/realtime-service/pkg/log"
)

// Target selects the destination set of a delivery: one room or every live
// connection. An explicit variant instead of empty-string sniffing, so an
// accidentally empty room id addresses nobody rather than everybody.
type Target struct {
	roomID string
	global bool
}

// RoomTarget addresses the members of one room. An empty room id addresses
// no connections at all.
func RoomTarget(roomID string) Target {
	return Target{roomID: roomID}
}

// GlobalTarget addresses every live connection.
func GlobalTarget() Target {
	return Target{global: true}
}

func (t Target) IsGlobal() bool { return t.global }
func (t Target) RoomID() string { return t.roomID }

// Hub owns the set of live connections and their room membership. It is an
// injectable object, not a process-wide singleton; tests run isolated hubs.
//
// All delivery is fire-and-forget: "delivered" means handed to the client's
// send buffer, nothing more. Snapshots taken by concurrent joins/leaves may
// be slightly stale, which is fine for advisory events.
type Hub struct {
	clients map[string]*Client            // connection id -> client
	rooms   map[string]map[string]*Client // room id -> connection id -> client
	mu      sync.RWMutex
}

func New() *Hub {
	return &Hub{
		clients: make(map[string]*Client),
		rooms:   make(map[string]map[string]*Client),
	}
}

// Register makes the connection visible to all queries and deliveries.
func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	h.clients[client.ID] = client
	h.mu.Unlock()

	l := log.L()
	l.Debug().Str(log.FieldConnID, client.ID).Msg("client registered")
}

// Unregister drops all state for the connection: room membership, identity
// binding, and the connection record itself. Unregistering an unknown
// client is a no-op.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	if _, ok := h.clients[client.ID]; !ok {
		h.mu.Unlock()
		return
	}
	h.removeFromRoomLocked(client)
	delete(h.clients, client.ID)
	h.mu.Unlock()

	client.closeSend()

	l := log.L()
	l.Debug().Str(log.FieldConnID, client.ID).Msg("client unregistered")
}

// Join places the connection in roomID. Joining the current room is a
// no-op; joining while in another room leaves that room first.
func (h *Hub) Join(client *Client, roomID string) {
	if roomID == "" {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if client.Session.GetRoomID() == roomID {
		return
	}

	h.removeFromRoomLocked(client)

	room, ok := h.rooms[roomID]
	if !ok {
		room = make(map[string]*Client)
		h.rooms[roomID] = room
	}
	room[client.ID] = client
	client.Session.JoinRoom(roomID)

	l := log.L()
	l.Info().Str(log.FieldConnID, client.ID).Str(log.FieldRoomID, roomID).Msg("client joined room")
}

// Leave clears the connection's room only if it currently equals roomID.
// A stale leave racing a newer join is therefore harmless.
func (h *Hub) Leave(client *Client, roomID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if roomID == "" || client.Session.GetRoomID() != roomID {
		return
	}

	h.removeFromRoomLocked(client)

	l := log.L()
	l.Info().Str(log.FieldConnID, client.ID).Str(log.FieldRoomID, roomID).Msg("client left room")
}

// removeFromRoomLocked detaches the client from its current room, if any,
// and deletes the room once empty. Caller holds h.mu.
func (h *Hub) removeFromRoomLocked(client *Client) {
	roomID := client.Session.GetRoomID()
	if roomID == "" {
		return
	}
	if room, ok := h.rooms[roomID]; ok {
		delete(room, client.ID)
		if len(room) == 0 {
			delete(h.rooms, roomID)
		}
	}
	client.Session.LeaveRoom()
}

// MembersOf returns the connection ids currently in the room.
func (h *Hub) MembersOf(roomID string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	room := h.rooms[roomID]
	ids := make([]string, 0, len(room))
	for id := range room {
		ids = append(ids, id)
	}
	return ids
}

// RoomCount returns the number of connections currently in the room.
func (h *Hub) RoomCount(roomID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[roomID])
}

// All returns a point-in-time snapshot of live connections.
func (h *Hub) All() []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()

	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	return clients
}

// FindByUser returns the first live connection bound to userID, or nil.
// When a user has several connections (two browser tabs), exactly one is
// returned; which one is unspecified.
func (h *Hub) FindByUser(userID string) *Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.findByUserLocked(userID)
}

func (h *Hub) findByUserLocked(userID string) *Client {
	if userID == "" {
		return nil
	}
	for _, c := range h.clients {
		if c.Session.GetUserID() == userID {
			return c
		}
	}
	return nil
}

// Broadcast delivers an event to the target set, minus the connection with
// id excludeConnID (empty string excludes nobody).
func (h *Hub) Broadcast(target Target, excludeConnID, eventType string, payload interface{}) error {
	data, err := marshalEnvelope(eventType, payload)
	if err != nil {
		return err
	}
	h.deliver(target, excludeConnID, eventType, data)
	return nil
}

// SendToUser delivers an event to the single connection bound to userID.
// When no connection is bound the event is silently dropped; ephemeral
// at-most-once delivery has no queue and no retry.
func (h *Hub) SendToUser(userID, eventType string, payload interface{}) error {
	data, err := marshalEnvelope(eventType, payload)
	if err != nil {
		return err
	}

	h.mu.RLock()
	client := h.findByUserLocked(userID)
	h.mu.RUnlock()

	l := log.L()
	if client == nil {
		l.Debug().Str(log.FieldUserID, userID).Str(log.FieldEventType, eventType).Msg("no live connection for user, event dropped")
		return nil
	}

	if !client.enqueue(data) {
		l.Warn().Str(log.FieldConnID, client.ID).Msg("send buffer full, dropping client")
		go h.Unregister(client)
	}
	return nil
}

// BroadcastExcludingUser delivers to the target set except the one
// connection bound to userID. When the user resolves to no connection the
// event goes to the full target set instead — the actor is untracked, so
// nobody needs excluding.
func (h *Hub) BroadcastExcludingUser(userID string, target Target, eventType string, payload interface{}) error {
	excludeConnID := ""
	if c := h.FindByUser(userID); c != nil {
		excludeConnID = c.ID
	}
	return h.Broadcast(target, excludeConnID, eventType, payload)
}

func (h *Hub) deliver(target Target, excludeConnID, eventType string, data []byte) {
	h.mu.RLock()
	var set map[string]*Client
	if target.IsGlobal() {
		set = h.clients
	} else {
		set = h.rooms[target.RoomID()]
	}

	var slow []*Client
	for id, c := range set {
		if id == excludeConnID {
			continue
		}
		if !c.enqueue(data) {
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		l := log.L()
		l.Warn().Str(log.FieldConnID, c.ID).Str(log.FieldEventType, eventType).Msg("send buffer full, dropping client")
		go h.Unregister(c)
	}
}

func marshalEnvelope(eventType string, payload interface{}) ([]byte, error) {
	env, err := domain.NewEnvelope(eventType, payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(env)
}
