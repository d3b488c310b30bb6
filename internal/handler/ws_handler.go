package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/taskhive/realtime-service/internal/config"
	"github.com/taskhive/realtime-service/internal/domain"
	"github.com/taskhive/realtime-service/internal/hub"
	"github.com/taskhive/realtime-service/internal/service"
	"github.com/taskhive/realtime-service/pkg/log"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// eventHandler consumes the data portion of one inbound envelope.
type eventHandler func(ctx context.Context, client *hub.Client, data json.RawMessage) error

// WSHandler accepts connections and relays their events into the service.
// Dispatch runs off a typed handler table built once at construction, one
// entry per inbound event name.
type WSHandler struct {
	hub     *hub.Hub
	service service.RealtimeService
	wsCfg   config.WebSocketConfig
	routes  map[string]eventHandler
}

func NewWSHandler(h *hub.Hub, svc service.RealtimeService, wsCfg config.WebSocketConfig) *WSHandler {
	ws := &WSHandler{
		hub:     h,
		service: svc,
		wsCfg:   wsCfg,
	}
	ws.routes = map[string]eventHandler{
		domain.EventJoinRoom:          ws.onJoinRoom,
		domain.EventLeaveRoom:         ws.onLeaveRoom,
		domain.EventUserTyping:        ws.onTyping,
		domain.EventUserStoppedTyping: ws.onStoppedTyping,
		domain.EventCommentAdded:      ws.onComment(domain.EventCommentAdded),
		domain.EventCommentUpdated:    ws.onComment(domain.EventCommentUpdated),
		domain.EventCommentRemoved:    ws.onComment(domain.EventCommentRemoved),
		domain.EventSetUserIdentity:   ws.onSetIdentity,
		domain.EventUnsetUserIdentity: ws.onUnsetIdentity,
	}
	return ws
}

func (h *WSHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		l := log.Ctx(r.Context())
		l.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := hub.NewClient(uuid.New().String(), h.hub, conn, h.wsCfg)

	h.hub.Register(client)

	go client.WritePump()
	go func() {
		client.ReadPump(h.handleMessage)
		h.service.HandleDisconnect(context.Background(), client)
	}()
}

func (h *WSHandler) handleMessage(client *hub.Client, message []byte) {
	var env domain.Envelope
	if err := json.Unmarshal(message, &env); err != nil {
		sendError(client, "Invalid message format")
		return
	}

	route, ok := h.routes[env.Type]
	if !ok {
		sendError(client, "Unknown event type")
		return
	}

	ctx := context.Background()

	if err := route(ctx, client, env.Data); err != nil {
		l := log.L()
		l.Warn().Str(log.FieldConnID, client.ID).Str(log.FieldEventType, env.Type).Err(err).Msg("event handling failed")
	}
}

func (h *WSHandler) onJoinRoom(ctx context.Context, client *hub.Client, data json.RawMessage) error {
	var p domain.JoinRoomPayload
	if err := json.Unmarshal(data, &p); err != nil {
		sendError(client, "Invalid join-room payload")
		return nil
	}
	return h.service.HandleJoinRoom(ctx, client, p.RoomID)
}

func (h *WSHandler) onLeaveRoom(ctx context.Context, client *hub.Client, data json.RawMessage) error {
	var p domain.LeaveRoomPayload
	if err := json.Unmarshal(data, &p); err != nil {
		sendError(client, "Invalid leave-room payload")
		return nil
	}
	return h.service.HandleLeaveRoom(ctx, client, p.RoomID)
}

func (h *WSHandler) onTyping(ctx context.Context, client *hub.Client, data json.RawMessage) error {
	var p domain.TypingPayload
	if err := json.Unmarshal(data, &p); err != nil {
		sendError(client, "Invalid user-typing payload")
		return nil
	}
	return h.service.HandleTyping(ctx, client, p.RoomID, p.Username)
}

func (h *WSHandler) onStoppedTyping(ctx context.Context, client *hub.Client, data json.RawMessage) error {
	var p domain.StoppedTypingPayload
	if err := json.Unmarshal(data, &p); err != nil {
		sendError(client, "Invalid user-stopped-typing payload")
		return nil
	}
	return h.service.HandleStoppedTyping(ctx, client, p.RoomID)
}

// onComment builds the handler for one comment lifecycle event; the task
// payload passes through opaque.
func (h *WSHandler) onComment(eventType string) eventHandler {
	return func(ctx context.Context, client *hub.Client, data json.RawMessage) error {
		return h.service.HandleCommentEvent(ctx, client, eventType, data)
	}
}

func (h *WSHandler) onSetIdentity(ctx context.Context, client *hub.Client, data json.RawMessage) error {
	var p domain.IdentityPayload
	if err := json.Unmarshal(data, &p); err != nil {
		sendError(client, "Invalid set-user-identity payload")
		return nil
	}
	return h.service.HandleSetIdentity(ctx, client, p.UserID)
}

func (h *WSHandler) onUnsetIdentity(ctx context.Context, client *hub.Client, data json.RawMessage) error {
	return h.service.HandleUnsetIdentity(ctx, client)
}

// sendError answers a malformed inbound message on the offending
// connection only.
func sendError(client *hub.Client, message string) {
	client.SendEnvelope(domain.NewErrorEnvelope(domain.ErrCodeBadRequest, message))
}

func (h *WSHandler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/ws", h.HandleWebSocket)
}
