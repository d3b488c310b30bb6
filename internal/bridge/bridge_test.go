package bridge

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/taskhive/realtime-service/internal/config"
	"github.com/taskhive/realtime-service/internal/domain"
	"github.com/taskhive/realtime-service/internal/hub"
	"github.com/taskhive/realtime-service/pkg/pubsub"
)

// memoryBus is an in-process PubSub for tests.
type memoryBus struct {
	ch chan *pubsub.Event
}

func newMemoryBus() *memoryBus {
	return &memoryBus{ch: make(chan *pubsub.Event, 16)}
}

func (m *memoryBus) Publish(_ context.Context, _ string, event *pubsub.Event) error {
	m.ch <- event
	return nil
}

func (m *memoryBus) Subscribe(context.Context, string) (<-chan *pubsub.Event, error) {
	return m.ch, nil
}

func (m *memoryBus) Unsubscribe(context.Context, string) error { return nil }
func (m *memoryBus) Close() error                              { return nil }

func connect(h *hub.Hub, id string) *hub.Client {
	c := hub.NewClient(id, h, nil, config.WebSocketConfig{})
	h.Register(c)
	return c
}

func awaitEnvelope(t *testing.T, c *hub.Client) domain.Envelope {
	t.Helper()
	select {
	case data := <-c.Send:
		var env domain.Envelope
		require.NoError(t, json.Unmarshal(data, &env))
		return env
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for delivery")
		return domain.Envelope{}
	}
}

func assertNoDelivery(t *testing.T, c *hub.Client) {
	t.Helper()
	select {
	case data := <-c.Send:
		t.Fatalf("unexpected delivery: %s", data)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBridgeAppliesPeerRoomEvent(t *testing.T) {
	h := hub.New()
	bus := newMemoryBus()
	b := New(h, bus, "instance-a")
	require.NoError(t, b.Start(context.Background()))
	defer b.Stop()

	x := connect(h, "x")
	y := connect(h, "y")
	h.Join(x, "T1")
	h.Join(y, "T2")

	event, err := pubsub.NewEvent(pubsub.KindRoom, "comment-added", "instance-b", json.RawMessage(`{"id":"t1"}`))
	require.NoError(t, err)
	event.RoomID = "T1"
	bus.ch <- event

	env := awaitEnvelope(t, x)
	assert.Equal(t, "comment-added", env.Type)
	assertNoDelivery(t, y)
}

func TestBridgeIgnoresOwnEvents(t *testing.T) {
	h := hub.New()
	bus := newMemoryBus()
	b := New(h, bus, "instance-a")
	require.NoError(t, b.Start(context.Background()))
	defer b.Stop()

	x := connect(h, "x")
	h.Join(x, "T1")

	event, err := pubsub.NewEvent(pubsub.KindRoom, "comment-added", "", nil)
	require.NoError(t, err)
	event.RoomID = "T1"
	event.Origin = "instance-a"
	bus.ch <- event

	assertNoDelivery(t, x)
}

func TestBridgeAppliesUserAndGlobalEvents(t *testing.T) {
	h := hub.New()
	bus := newMemoryBus()
	b := New(h, bus, "instance-a")
	require.NoError(t, b.Start(context.Background()))
	defer b.Stop()

	x := connect(h, "x")
	y := connect(h, "y")
	x.Session.BindUser("u1")

	userEvent, err := pubsub.NewEvent(pubsub.KindUser, "review-requested", "instance-b", json.RawMessage(`{}`))
	require.NoError(t, err)
	userEvent.UserID = "u1"
	bus.ch <- userEvent

	env := awaitEnvelope(t, x)
	assert.Equal(t, "review-requested", env.Type)
	assertNoDelivery(t, y)

	globalEvent, err := pubsub.NewEvent(pubsub.KindGlobal, "board-updated", "instance-b", nil)
	require.NoError(t, err)
	globalEvent.ExcludeUserID = "u1"
	bus.ch <- globalEvent

	env = awaitEnvelope(t, y)
	assert.Equal(t, "board-updated", env.Type)
	assertNoDelivery(t, x)
}

func TestBridgeStampsOriginOnPublish(t *testing.T) {
	h := hub.New()
	bus := newMemoryBus()
	b := New(h, bus, "instance-a")

	event, err := pubsub.NewEvent(pubsub.KindGlobal, "board-updated", "", nil)
	require.NoError(t, err)
	require.NoError(t, b.Publish(context.Background(), event))

	published := <-bus.ch
	assert.Equal(t, "instance-a", published.Origin)
}
