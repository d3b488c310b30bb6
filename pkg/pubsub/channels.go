package pubsub

// Channel naming conventions for the task-board realtime system.
//
// All instance-to-instance delivery traffic flows over a single channel;
// the Event.Kind field selects the destination set on the receiving side.
// Kafka deployments map the channel name to the topic "board-events" and
// shard by Event.Key().
const (
	// ChannelBoardEvents carries relayed deliveries between instances.
	ChannelBoardEvents = "board:events"
)
