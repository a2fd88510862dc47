package proto

import "context"

// A Session is a realtime connection between a client and the relay.
type Session interface {
	// ID returns the identifier of the connection, unique across nodes.
	ID() string

	// Send queues a packet for the client. It never blocks on a slow
	// client; packets that cannot be queued are dropped.
	Send(ctx context.Context, packetType PacketType, payload interface{}) error

	// Close terminates the Session and disconnects the client.
	Close()
}
