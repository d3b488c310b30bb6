package handler

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/taskhive/realtime-service/internal/hub"
	"github.com/taskhive/realtime-service/internal/service"
)

// HTTPHandler exposes the collaborator-invoked API: the CRUD layer calls
// these endpoints after persistence operations to push events to
// connected clients. Delivery is fire-and-forget, so every event endpoint
// answers 202 once the event is handed to the engine.
type HTTPHandler struct {
	hub     *hub.Hub
	service service.RealtimeService
	token   string
}

func NewHTTPHandler(h *hub.Hub, svc service.RealtimeService, token string) *HTTPHandler {
	return &HTTPHandler{
		hub:     h,
		service: svc,
		token:   token,
	}
}

// RoomEventRequest targets the members of one room. An empty label means
// every live connection.
type RoomEventRequest struct {
	Label string          `json:"label"`
	Type  string          `json:"type"`
	Data  json.RawMessage `json:"data"`
}

// UserEventRequest targets the single connection bound to a user id.
type UserEventRequest struct {
	UserID string          `json:"userId"`
	Type   string          `json:"type"`
	Data   json.RawMessage `json:"data"`
}

// BroadcastRequest targets a room (or everyone, when room is empty) minus
// the acting user's connection.
type BroadcastRequest struct {
	UserID string          `json:"userId"`
	Type   string          `json:"type"`
	Data   json.RawMessage `json:"data"`
	Room   string          `json:"room,omitempty"`
}

// PresenceResponse reports the local member count of a room.
type PresenceResponse struct {
	RoomID  string `json:"roomId"`
	Members int    `json:"members"`
}

// RoomLocationResponse reports which instance currently serves a room.
type RoomLocationResponse struct {
	RoomID  string `json:"roomId"`
	Address string `json:"address"`
}

// NotifyRoom handles POST /api/internal/events/room
func (h *HTTPHandler) NotifyRoom(w http.ResponseWriter, r *http.Request) {
	var req RoomEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Type == "" {
		http.Error(w, "type is required", http.StatusBadRequest)
		return
	}

	h.service.NotifyRoom(r.Context(), req.Label, req.Type, req.Data)
	w.WriteHeader(http.StatusAccepted)
}

// NotifyUser handles POST /api/internal/events/user
func (h *HTTPHandler) NotifyUser(w http.ResponseWriter, r *http.Request) {
	var req UserEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Type == "" || req.UserID == "" {
		http.Error(w, "type and userId are required", http.StatusBadRequest)
		return
	}

	h.service.NotifyUser(r.Context(), req.UserID, req.Type, req.Data)
	w.WriteHeader(http.StatusAccepted)
}

// Broadcast handles POST /api/internal/events/broadcast
func (h *HTTPHandler) Broadcast(w http.ResponseWriter, r *http.Request) {
	var req BroadcastRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Type == "" {
		http.Error(w, "type is required", http.StatusBadRequest)
		return
	}

	h.service.BroadcastExcludingUser(r.Context(), req.UserID, req.Type, req.Data, req.Room)
	w.WriteHeader(http.StatusAccepted)
}

// GetPresence handles GET /api/v1/rooms/{room_id}/presence
func (h *HTTPHandler) GetPresence(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	roomID := vars["room_id"]

	if roomID == "" {
		http.Error(w, "room_id is required", http.StatusBadRequest)
		return
	}

	response := PresenceResponse{
		RoomID:  roomID,
		Members: h.hub.RoomCount(roomID),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// GetRoomLocation handles GET /api/internal/rooms/{room_id}/location. It
// answers 404 when no instance advertises the room as live.
func (h *HTTPHandler) GetRoomLocation(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	roomID := vars["room_id"]

	addr, err := h.service.LocateRoom(r.Context(), roomID)
	if err != nil {
		http.Error(w, "room not live", http.StatusNotFound)
		return
	}

	response := RoomLocationResponse{
		RoomID:  roomID,
		Address: addr,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// HealthCheck handles GET /health
func (h *HTTPHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// requireToken guards the internal endpoints with a shared bearer token.
// No token configured means the deployment trusts its network boundary.
func (h *HTTPHandler) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.token == "" {
			next.ServeHTTP(w, r)
			return
		}

		auth := r.Header.Get("Authorization")
		got, ok := strings.CutPrefix(auth, "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(got), []byte(h.token)) != 1 {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (h *HTTPHandler) RegisterRoutes(r *mux.Router) {
	internal := r.PathPrefix("/api/internal").Subrouter()
	internal.Use(h.requireToken)
	internal.HandleFunc("/events/room", h.NotifyRoom).Methods(http.MethodPost)
	internal.HandleFunc("/events/user", h.NotifyUser).Methods(http.MethodPost)
	internal.HandleFunc("/events/broadcast", h.Broadcast).Methods(http.MethodPost)
	internal.HandleFunc("/rooms/{room_id}/location", h.GetRoomLocation).Methods(http.MethodGet)

	r.HandleFunc("/api/v1/rooms/{room_id}/presence", h.GetPresence).Methods(http.MethodGet)
	r.HandleFunc("/health", h.HealthCheck).Methods(http.MethodGet)
}
