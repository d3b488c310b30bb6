package bridge

import (
	"context"

	"github.com/taskhive/realtime-service/internal/hub"
	"github.com/taskhive/realtime-service/pkg/log"
	"github.com/taskhive/realtime-service/pkg/pubsub"
)

// Publisher relays local deliveries to peer instances.
type Publisher interface {
	Publish(ctx context.Context, event *pubsub.Event) error
}

// Noop is used in single-instance deployments and in tests.
type Noop struct{}

func (Noop) Publish(context.Context, *pubsub.Event) error { return nil }

// Bridge fans deliveries out across service instances. Every delivery an
// instance performs locally is also published on the event bus; the bridge
// applies events from other origins to the local hub. Origin filtering
// keeps an instance from re-delivering its own events.
type Bridge struct {
	hub    *hub.Hub
	bus    pubsub.PubSub
	origin string
	cancel context.CancelFunc
	doneCh chan struct{}
}

func New(h *hub.Hub, bus pubsub.PubSub, origin string) *Bridge {
	return &Bridge{
		hub:    h,
		bus:    bus,
		origin: origin,
		doneCh: make(chan struct{}),
	}
}

// Publish sends the event to peer instances, stamped with this instance's
// origin id. Best effort: a bus failure is logged, never surfaced.
func (b *Bridge) Publish(ctx context.Context, event *pubsub.Event) error {
	event.Origin = b.origin
	if err := b.bus.Publish(ctx, pubsub.ChannelBoardEvents, event); err != nil {
		l := log.L()
		l.Warn().Err(err).Str(log.FieldEventType, event.Type).Msg("failed to publish event to bus")
	}
	return nil
}

// Start subscribes to the event bus and applies peer events until ctx is
// cancelled.
func (b *Bridge) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	b.cancel = cancel

	events, err := b.bus.Subscribe(ctx, pubsub.ChannelBoardEvents)
	if err != nil {
		cancel()
		return err
	}

	go b.run(ctx, events)

	l := log.L()
	l.Info().Str("origin", b.origin).Msg("event bridge started")
	return nil
}

func (b *Bridge) run(ctx context.Context, events <-chan *pubsub.Event) {
	defer close(b.doneCh)

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			if event.Origin == b.origin {
				continue
			}
			b.apply(event)
		}
	}
}

// apply re-performs a peer's delivery against the local connection set.
func (b *Bridge) apply(event *pubsub.Event) {
	var err error
	switch event.Kind {
	case pubsub.KindRoom:
		err = b.hub.BroadcastExcludingUser(event.ExcludeUserID, hub.RoomTarget(event.RoomID), event.Type, event.Payload)
	case pubsub.KindUser:
		err = b.hub.SendToUser(event.UserID, event.Type, event.Payload)
	case pubsub.KindGlobal:
		err = b.hub.BroadcastExcludingUser(event.ExcludeUserID, hub.GlobalTarget(), event.Type, event.Payload)
	default:
		l := log.L()
		l.Warn().Str("kind", string(event.Kind)).Msg("unknown event kind from bus")
		return
	}
	if err != nil {
		l := log.L()
		l.Warn().Err(err).Str(log.FieldEventType, event.Type).Msg("failed to apply peer event")
	}
}

// Stop cancels the subscription and waits for the apply loop to exit.
func (b *Bridge) Stop() {
	if b.cancel != nil {
		b.cancel()
		<-b.doneCh
	}
}
