package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/taskhive/realtime-service/internal/config"
	"github.com/taskhive/realtime-service/internal/domain"
	"github.com/taskhive/realtime-service/internal/hub"
	"github.com/taskhive/realtime-service/pkg/pubsub"
)

type fakeRegistry struct {
	mu         sync.Mutex
	registered map[string]int
	live       map[string]bool
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{
		registered: make(map[string]int),
		live:       make(map[string]bool),
	}
}

func (f *fakeRegistry) Register(_ context.Context, roomID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.registered[roomID]++
	f.live[roomID] = true
	return nil
}

func (f *fakeRegistry) Deregister(_ context.Context, roomID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.live, roomID)
	return nil
}

func (f *fakeRegistry) Lookup(_ context.Context, roomID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.live[roomID] {
		return "10.0.0.1:8090", nil
	}
	return "", fmt.Errorf("room %s not live", roomID)
}

func (f *fakeRegistry) StartHeartbeat(context.Context) error { return nil }
func (f *fakeRegistry) StopHeartbeat()                       {}
func (f *fakeRegistry) Close() error                         { return nil }

func (f *fakeRegistry) isLive(roomID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.live[roomID]
}

type fakePublisher struct {
	mu     sync.Mutex
	events []*pubsub.Event
}

func (f *fakePublisher) Publish(_ context.Context, event *pubsub.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return nil
}

func (f *fakePublisher) published() []*pubsub.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.events
}

func newTestService(t *testing.T) (RealtimeService, *hub.Hub, *fakeRegistry, *fakePublisher) {
	t.Helper()
	h := hub.New()
	reg := newFakeRegistry()
	pub := &fakePublisher{}
	return NewRealtimeService(h, reg, pub), h, reg, pub
}

func connect(h *hub.Hub, id string) *hub.Client {
	c := hub.NewClient(id, h, nil, config.WebSocketConfig{})
	h.Register(c)
	return c
}

func received(t *testing.T, c *hub.Client) []domain.Envelope {
	t.Helper()
	var out []domain.Envelope
	for {
		select {
		case data, ok := <-c.Send:
			if !ok {
				return out
			}
			var env domain.Envelope
			require.NoError(t, json.Unmarshal(data, &env))
			out = append(out, env)
		default:
			return out
		}
	}
}

func TestJoinRoomRegistersLiveRoom(t *testing.T) {
	svc, h, reg, _ := newTestService(t)
	ctx := context.Background()
	c := connect(h, "c1")

	require.NoError(t, svc.HandleJoinRoom(ctx, c, "T1"))

	assert.True(t, reg.isLive("T1"))
	assert.Equal(t, 1, h.RoomCount("T1"))
}

func TestJoinRoomSwitchDeregistersEmptyRoom(t *testing.T) {
	svc, h, reg, _ := newTestService(t)
	ctx := context.Background()
	c := connect(h, "c1")

	require.NoError(t, svc.HandleJoinRoom(ctx, c, "T1"))
	require.NoError(t, svc.HandleJoinRoom(ctx, c, "T2"))

	assert.False(t, reg.isLive("T1"))
	assert.True(t, reg.isLive("T2"))
	assert.Equal(t, 0, h.RoomCount("T1"))
	assert.Equal(t, 1, h.RoomCount("T2"))
}

func TestJoinRoomIdempotentSkipsRegistry(t *testing.T) {
	svc, h, reg, _ := newTestService(t)
	ctx := context.Background()
	c := connect(h, "c1")

	require.NoError(t, svc.HandleJoinRoom(ctx, c, "T1"))
	require.NoError(t, svc.HandleJoinRoom(ctx, c, "T1"))

	reg.mu.Lock()
	count := reg.registered["T1"]
	reg.mu.Unlock()
	assert.Equal(t, 1, count)
	assert.Equal(t, 1, h.RoomCount("T1"))
}

func TestLeaveRoomKeepsRegistryWhileOccupied(t *testing.T) {
	svc, h, reg, _ := newTestService(t)
	ctx := context.Background()
	a := connect(h, "a")
	b := connect(h, "b")

	require.NoError(t, svc.HandleJoinRoom(ctx, a, "T1"))
	require.NoError(t, svc.HandleJoinRoom(ctx, b, "T1"))

	require.NoError(t, svc.HandleLeaveRoom(ctx, a, "T1"))
	assert.True(t, reg.isLive("T1"))

	require.NoError(t, svc.HandleLeaveRoom(ctx, b, "T1"))
	assert.False(t, reg.isLive("T1"))
}

func TestTypingRelayExcludesSender(t *testing.T) {
	svc, h, _, pub := newTestService(t)
	ctx := context.Background()
	x := connect(h, "x")
	y := connect(h, "y")
	z := connect(h, "z")
	for _, c := range []*hub.Client{x, y, z} {
		require.NoError(t, svc.HandleJoinRoom(ctx, c, "T1"))
	}

	require.NoError(t, svc.HandleTyping(ctx, x, "T1", "ana"))

	assert.Empty(t, received(t, x))
	for _, c := range []*hub.Client{y, z} {
		envs := received(t, c)
		require.Len(t, envs, 1)
		assert.Equal(t, domain.EventUserTyping, envs[0].Type)

		var payload domain.TypingEvent
		require.NoError(t, json.Unmarshal(envs[0].Data, &payload))
		assert.Equal(t, "ana", payload.Username)
	}

	events := pub.published()
	require.Len(t, events, 1)
	assert.Equal(t, pubsub.KindRoom, events[0].Kind)
	assert.Equal(t, "T1", events[0].RoomID)
}

func TestTypingWithoutRoomIsDropped(t *testing.T) {
	svc, h, _, pub := newTestService(t)
	ctx := context.Background()
	x := connect(h, "x")
	y := connect(h, "y")
	require.NoError(t, svc.HandleJoinRoom(ctx, y, "T1"))

	require.NoError(t, svc.HandleTyping(ctx, x, "", "ana"))
	require.NoError(t, svc.HandleStoppedTyping(ctx, x, ""))

	// Nobody receives it locally, and nothing goes to the bus either:
	// a peer instance must not turn the empty room id into a global
	// broadcast.
	assert.Empty(t, received(t, x))
	assert.Empty(t, received(t, y))
	assert.Empty(t, pub.published())
}

func TestCommentEventStaysInRoom(t *testing.T) {
	svc, h, _, _ := newTestService(t)
	ctx := context.Background()
	x := connect(h, "x")
	y := connect(h, "y")
	require.NoError(t, svc.HandleJoinRoom(ctx, x, "T1"))
	require.NoError(t, svc.HandleJoinRoom(ctx, y, "T2"))

	task := json.RawMessage(`{"id":"t1","comments":[{"txt":"hi"}]}`)
	require.NoError(t, svc.HandleCommentEvent(ctx, x, domain.EventCommentAdded, task))

	assert.Empty(t, received(t, x))
	assert.Empty(t, received(t, y))
}

func TestCommentEventWithoutRoomGoesGlobal(t *testing.T) {
	svc, h, _, pub := newTestService(t)
	ctx := context.Background()
	x := connect(h, "x")
	y := connect(h, "y")

	task := json.RawMessage(`{"id":"t1"}`)
	require.NoError(t, svc.HandleCommentEvent(ctx, x, domain.EventCommentUpdated, task))

	assert.Empty(t, received(t, x))
	envs := received(t, y)
	require.Len(t, envs, 1)
	assert.Equal(t, domain.EventCommentUpdated, envs[0].Type)

	events := pub.published()
	require.Len(t, events, 1)
	assert.Equal(t, pubsub.KindGlobal, events[0].Kind)
}

func TestIdentityBindUnbind(t *testing.T) {
	svc, h, _, _ := newTestService(t)
	ctx := context.Background()
	c := connect(h, "c1")

	require.NoError(t, svc.HandleSetIdentity(ctx, c, "u1"))
	require.NotNil(t, h.FindByUser("u1"))

	// Last write wins.
	require.NoError(t, svc.HandleSetIdentity(ctx, c, "u2"))
	assert.Nil(t, h.FindByUser("u1"))
	require.NotNil(t, h.FindByUser("u2"))

	require.NoError(t, svc.HandleUnsetIdentity(ctx, c))
	assert.Nil(t, h.FindByUser("u2"))
}

func TestDisconnectCleansUp(t *testing.T) {
	svc, h, reg, _ := newTestService(t)
	ctx := context.Background()
	c := connect(h, "c1")
	require.NoError(t, svc.HandleJoinRoom(ctx, c, "T1"))
	require.NoError(t, svc.HandleSetIdentity(ctx, c, "u1"))

	require.NoError(t, svc.HandleDisconnect(ctx, c))

	assert.False(t, reg.isLive("T1"))
	assert.Equal(t, 0, h.RoomCount("T1"))
	assert.Nil(t, h.FindByUser("u1"))
}

func TestNotifyRoom(t *testing.T) {
	svc, h, _, _ := newTestService(t)
	ctx := context.Background()
	x := connect(h, "x")
	y := connect(h, "y")
	require.NoError(t, svc.HandleJoinRoom(ctx, x, "T1"))
	require.NoError(t, svc.HandleJoinRoom(ctx, y, "T2"))

	require.NoError(t, svc.NotifyRoom(ctx, "T1", domain.EventCommentAdded, json.RawMessage(`{"id":"t1"}`)))

	require.Len(t, received(t, x), 1)
	assert.Empty(t, received(t, y))
}

func TestNotifyRoomEmptyLabelReachesEveryone(t *testing.T) {
	svc, h, _, _ := newTestService(t)
	ctx := context.Background()
	x := connect(h, "x")
	y := connect(h, "y")
	require.NoError(t, svc.HandleJoinRoom(ctx, x, "T1"))

	require.NoError(t, svc.NotifyRoom(ctx, "", "board-updated", nil))

	require.Len(t, received(t, x), 1)
	require.Len(t, received(t, y), 1)
}

func TestNotifyUser(t *testing.T) {
	svc, h, _, _ := newTestService(t)
	ctx := context.Background()
	x := connect(h, "x")
	y := connect(h, "y")
	require.NoError(t, svc.HandleSetIdentity(ctx, x, "u1"))

	require.NoError(t, svc.NotifyUser(ctx, "u1", "review-requested", json.RawMessage(`{}`)))

	require.Len(t, received(t, x), 1)
	assert.Empty(t, received(t, y))

	// No live connection for the user: silently dropped.
	require.NoError(t, svc.NotifyUser(ctx, "ghost", "review-requested", json.RawMessage(`{}`)))
	assert.Empty(t, received(t, y))
}

func TestLocateRoom(t *testing.T) {
	svc, h, _, _ := newTestService(t)
	ctx := context.Background()
	c := connect(h, "c1")
	require.NoError(t, svc.HandleJoinRoom(ctx, c, "T1"))

	addr, err := svc.LocateRoom(ctx, "T1")
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.1:8090", addr)

	_, err = svc.LocateRoom(ctx, "T2")
	assert.Error(t, err)
}

func TestBroadcastExcludingUser(t *testing.T) {
	svc, h, _, pub := newTestService(t)
	ctx := context.Background()
	x := connect(h, "x")
	y := connect(h, "y")
	require.NoError(t, svc.HandleJoinRoom(ctx, x, "T1"))
	require.NoError(t, svc.HandleJoinRoom(ctx, y, "T1"))
	require.NoError(t, svc.HandleSetIdentity(ctx, x, "u1"))

	require.NoError(t, svc.BroadcastExcludingUser(ctx, "u1", "task-saved", json.RawMessage(`{}`), "T1"))

	assert.Empty(t, received(t, x))
	require.Len(t, received(t, y), 1)

	events := pub.published()
	require.Len(t, events, 1)
	assert.Equal(t, "u1", events[0].ExcludeUserID)
}
