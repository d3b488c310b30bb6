package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/taskhive/realtime-service/internal/audit"
	"github.com/taskhive/realtime-service/internal/bridge"
	"github.com/taskhive/realtime-service/internal/domain"
	"github.com/taskhive/realtime-service/internal/hub"
	"github.com/taskhive/realtime-service/internal/registry"
	"github.com/taskhive/realtime-service/pkg/log"
	"github.com/taskhive/realtime-service/pkg/pubsub"
)

type realtimeService struct {
	hub       *hub.Hub
	registry  registry.RoomRegistry
	publisher bridge.Publisher
}

func NewRealtimeService(h *hub.Hub, reg registry.RoomRegistry, pub bridge.Publisher) RealtimeService {
	return &realtimeService{
		hub:       h,
		registry:  reg,
		publisher: pub,
	}
}

func (s *realtimeService) HandleJoinRoom(ctx context.Context, c *hub.Client, roomID string) error {
	if roomID == "" {
		return nil
	}

	prev := c.Session.GetRoomID()
	if prev == roomID {
		return nil
	}

	s.hub.Join(c, roomID)

	if err := s.registry.Register(ctx, roomID); err != nil {
		l := log.Ctx(ctx)
		l.Warn().Err(err).Str(log.FieldRoomID, roomID).Msg("failed to register live room")
	}
	s.deregisterIfEmpty(ctx, prev)

	audit.LogWithDetail(ctx, audit.ActionJoinRoom, c.ID, roomID, "client joined room")
	return nil
}

func (s *realtimeService) HandleLeaveRoom(ctx context.Context, c *hub.Client, roomID string) error {
	if c.Session.GetRoomID() != roomID {
		return nil
	}

	s.hub.Leave(c, roomID)
	s.deregisterIfEmpty(ctx, roomID)

	audit.LogWithDetail(ctx, audit.ActionLeaveRoom, c.ID, roomID, "client left room")
	return nil
}

// HandleTyping relays a typing indicator to the named room, minus the
// sender. An empty room id addresses nobody; the event is dropped before
// it reaches the bus, so peer instances never see it either.
func (s *realtimeService) HandleTyping(ctx context.Context, c *hub.Client, roomID, username string) error {
	if roomID == "" {
		return nil
	}

	payload := domain.TypingEvent{Username: username}
	if err := s.hub.Broadcast(hub.RoomTarget(roomID), c.ID, domain.EventUserTyping, payload); err != nil {
		return err
	}
	s.publishRoom(ctx, roomID, "", domain.EventUserTyping, payload)
	return nil
}

func (s *realtimeService) HandleStoppedTyping(ctx context.Context, c *hub.Client, roomID string) error {
	if roomID == "" {
		return nil
	}

	if err := s.hub.Broadcast(hub.RoomTarget(roomID), c.ID, domain.EventUserStoppedTyping, struct{}{}); err != nil {
		return err
	}
	s.publishRoom(ctx, roomID, "", domain.EventUserStoppedTyping, struct{}{})
	return nil
}

// HandleCommentEvent relays a comment lifecycle event to the sender's
// current room, minus the sender. A sender outside any room falls through
// to a global broadcast, matching the delivery engine's target fallback.
func (s *realtimeService) HandleCommentEvent(ctx context.Context, c *hub.Client, eventType string, task json.RawMessage) error {
	roomID := c.Session.GetRoomID()
	target := hub.RoomTarget(roomID)
	if roomID == "" {
		target = hub.GlobalTarget()
	}

	if err := s.hub.Broadcast(target, c.ID, eventType, task); err != nil {
		return err
	}
	s.publishRoom(ctx, roomID, "", eventType, task)
	return nil
}

func (s *realtimeService) HandleSetIdentity(ctx context.Context, c *hub.Client, userID string) error {
	c.Session.BindUser(userID)
	audit.LogWithDetail(ctx, audit.ActionBindIdentity, c.ID, userID, "identity bound to connection")
	return nil
}

func (s *realtimeService) HandleUnsetIdentity(ctx context.Context, c *hub.Client) error {
	c.Session.UnbindUser()
	audit.Log(ctx, audit.ActionUnbindIdentity, c.ID, "identity unbound from connection")
	return nil
}

func (s *realtimeService) HandleDisconnect(ctx context.Context, c *hub.Client) error {
	roomID := c.Session.GetRoomID()
	s.hub.Unregister(c)
	s.deregisterIfEmpty(ctx, roomID)

	audit.Log(ctx, audit.ActionDisconnect, c.ID, "client disconnected")
	return nil
}

// NotifyRoom delivers an event to every connection in the labelled room.
// An empty label means every live connection; callers must pass an
// explicit label to avoid the global fan-out.
func (s *realtimeService) NotifyRoom(ctx context.Context, label, eventType string, payload json.RawMessage) error {
	if err := s.hub.Broadcast(s.targetFor(label), "", eventType, payload); err != nil {
		return fmt.Errorf("failed to deliver room event: %w", err)
	}
	s.publishRoom(ctx, label, "", eventType, payload)
	return nil
}

// NotifyUser delivers an event to the single connection bound to userID.
// A user with no live connection loses the event silently.
func (s *realtimeService) NotifyUser(ctx context.Context, userID, eventType string, payload json.RawMessage) error {
	if err := s.hub.SendToUser(userID, eventType, payload); err != nil {
		return fmt.Errorf("failed to deliver user event: %w", err)
	}
	s.publishUser(ctx, userID, eventType, payload)
	return nil
}

// BroadcastExcludingUser delivers to the room (or everyone, when room is
// empty) except the acting user's connection. An untracked actor excludes
// nobody.
func (s *realtimeService) BroadcastExcludingUser(ctx context.Context, userID, eventType string, payload json.RawMessage, room string) error {
	if err := s.hub.BroadcastExcludingUser(userID, s.targetFor(room), eventType, payload); err != nil {
		return fmt.Errorf("failed to deliver broadcast: %w", err)
	}
	s.publishRoom(ctx, room, userID, eventType, payload)
	return nil
}

// LocateRoom reports the advertise address of the instance currently
// serving the room, from the shared live-room registry.
func (s *realtimeService) LocateRoom(ctx context.Context, roomID string) (string, error) {
	return s.registry.Lookup(ctx, roomID)
}

func (s *realtimeService) Start(ctx context.Context) error {
	if err := s.registry.StartHeartbeat(ctx); err != nil {
		return fmt.Errorf("failed to start registry heartbeat: %w", err)
	}
	l := log.L()
	l.Info().Msg("realtime service started")
	return nil
}

func (s *realtimeService) Stop() error {
	s.registry.StopHeartbeat()
	return nil
}

// targetFor maps a collaborator-supplied label to a delivery target. This
// is the only place empty-label-means-global is interpreted.
func (s *realtimeService) targetFor(label string) hub.Target {
	if label == "" {
		return hub.GlobalTarget()
	}
	return hub.RoomTarget(label)
}

func (s *realtimeService) deregisterIfEmpty(ctx context.Context, roomID string) {
	if roomID == "" || s.hub.RoomCount(roomID) > 0 {
		return
	}
	if err := s.registry.Deregister(ctx, roomID); err != nil {
		l := log.Ctx(ctx)
		l.Warn().Err(err).Str(log.FieldRoomID, roomID).Msg("failed to deregister live room")
	}
}

func (s *realtimeService) publishRoom(ctx context.Context, roomID, excludeUserID, eventType string, payload interface{}) {
	kind := pubsub.KindRoom
	if roomID == "" {
		kind = pubsub.KindGlobal
	}
	event, err := pubsub.NewEvent(kind, eventType, "", payload)
	if err != nil {
		return
	}
	event.RoomID = roomID
	event.ExcludeUserID = excludeUserID
	s.publisher.Publish(ctx, event)
}

func (s *realtimeService) publishUser(ctx context.Context, userID, eventType string, payload interface{}) {
	event, err := pubsub.NewEvent(pubsub.KindUser, eventType, "", payload)
	if err != nil {
		return
	}
	event.UserID = userID
	s.publisher.Publish(ctx, event)
}
