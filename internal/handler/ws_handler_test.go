package handler

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/taskhive/realtime-service/internal/bridge"
	"github.com/taskhive/realtime-service/internal/config"
	"github.com/taskhive/realtime-service/internal/domain"
	"github.com/taskhive/realtime-service/internal/hub"
	"github.com/taskhive/realtime-service/internal/service"
)

type noopRegistry struct{}

func (noopRegistry) Register(context.Context, string) error         { return nil }
func (noopRegistry) Deregister(context.Context, string) error       { return nil }
func (noopRegistry) Lookup(context.Context, string) (string, error) { return "", nil }
func (noopRegistry) StartHeartbeat(context.Context) error           { return nil }
func (noopRegistry) StopHeartbeat()                                 {}
func (noopRegistry) Close() error                                   { return nil }

func newTestStack(t *testing.T) (*WSHandler, *hub.Hub) {
	t.Helper()
	h := hub.New()
	svc := service.NewRealtimeService(h, noopRegistry{}, bridge.Noop{})
	return NewWSHandler(h, svc, config.WebSocketConfig{}), h
}

func connect(h *hub.Hub, id string) *hub.Client {
	c := hub.NewClient(id, h, nil, config.WebSocketConfig{})
	h.Register(c)
	return c
}

func inbound(t *testing.T, eventType string, payload interface{}) []byte {
	t.Helper()
	env, err := domain.NewEnvelope(eventType, payload)
	require.NoError(t, err)
	data, err := json.Marshal(env)
	require.NoError(t, err)
	return data
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

func TestHandleMessage_JoinAndLeave(t *testing.T) {
	ws, h := newTestStack(t)
	c := connect(h, "c1")

	ws.handleMessage(c, inbound(t, domain.EventJoinRoom, domain.JoinRoomPayload{RoomID: "T1"}))
	assert.Equal(t, 1, h.RoomCount("T1"))

	ws.handleMessage(c, inbound(t, domain.EventLeaveRoom, domain.LeaveRoomPayload{RoomID: "T1"}))
	assert.Equal(t, 0, h.RoomCount("T1"))
}

func TestHandleMessage_TypingRelay(t *testing.T) {
	ws, h := newTestStack(t)
	x := connect(h, "x")
	y := connect(h, "y")
	ws.handleMessage(x, inbound(t, domain.EventJoinRoom, domain.JoinRoomPayload{RoomID: "T1"}))
	ws.handleMessage(y, inbound(t, domain.EventJoinRoom, domain.JoinRoomPayload{RoomID: "T1"}))

	ws.handleMessage(x, inbound(t, domain.EventUserTyping, domain.TypingPayload{RoomID: "T1", Username: "ana"}))

	assert.Empty(t, received(t, x))
	envs := received(t, y)
	require.Len(t, envs, 1)
	assert.Equal(t, domain.EventUserTyping, envs[0].Type)
}

func TestHandleMessage_CommentUsesCurrentRoom(t *testing.T) {
	ws, h := newTestStack(t)
	x := connect(h, "x")
	y := connect(h, "y")
	z := connect(h, "z")
	ws.handleMessage(x, inbound(t, domain.EventJoinRoom, domain.JoinRoomPayload{RoomID: "T1"}))
	ws.handleMessage(y, inbound(t, domain.EventJoinRoom, domain.JoinRoomPayload{RoomID: "T1"}))
	ws.handleMessage(z, inbound(t, domain.EventJoinRoom, domain.JoinRoomPayload{RoomID: "T2"}))

	ws.handleMessage(x, inbound(t, domain.EventCommentAdded, json.RawMessage(`{"id":"t1"}`)))

	assert.Empty(t, received(t, x))
	require.Len(t, received(t, y), 1)
	assert.Empty(t, received(t, z))
}

func TestHandleMessage_Identity(t *testing.T) {
	ws, h := newTestStack(t)
	c := connect(h, "c1")

	ws.handleMessage(c, inbound(t, domain.EventSetUserIdentity, domain.IdentityPayload{UserID: "u1"}))
	require.NotNil(t, h.FindByUser("u1"))

	ws.handleMessage(c, inbound(t, domain.EventUnsetUserIdentity, nil))
	assert.Nil(t, h.FindByUser("u1"))
}

func TestHandleMessage_MalformedInput(t *testing.T) {
	tests := []struct {
		name    string
		message []byte
	}{
		{
			name:    "invalid json",
			message: []byte(`{not json`),
		},
		{
			name:    "unknown event type",
			message: []byte(`{"type":"no-such-event"}`),
		},
		{
			name:    "bad payload shape",
			message: []byte(`{"type":"join-room","data":"not-an-object"}`),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ws, h := newTestStack(t)
			c := connect(h, "c1")

			ws.handleMessage(c, tt.message)

			envs := received(t, c)
			require.Len(t, envs, 1)
			assert.Equal(t, domain.EventError, envs[0].Type)
		})
	}
}
