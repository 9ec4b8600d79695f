// Package bus is the publish/subscribe layer between the chat sessions and
// room delivery. Sessions publish an encoded event for a room; every
// subscribed hub delivers it to its local connections. Swapping the in-memory
// implementation for the Redis one spreads a deployment over several processes
// without touching session logic.
package bus

import "context"

// Handler receives every event published for a room.
type Handler func(roomID string, payload []byte)

type Bus interface {
	// Publish delivers payload to all subscribers of roomID. Implementations
	// preserve the order of publishes made from a single goroutine.
	Publish(ctx context.Context, roomID string, payload []byte) error
	// Subscribe registers h for all rooms. Must be called before Publish.
	Subscribe(h Handler)
	Close() error
}
