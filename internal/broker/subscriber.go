package broker

import "github.com/quizarena/roomsync/internal/proto"

// Subscriber is one WebSocket connection as seen by the hub. Outbound
// envelopes are queued on Events; slow consumers have envelopes dropped
// rather than blocking the hub.
type Subscriber struct {
	ID     string
	Events chan proto.Outbound
}

// NewSubscriber constructs a subscriber with an initialized event queue.
func NewSubscriber(id string) *Subscriber {
	return &Subscriber{
		ID:     id,
		Events: make(chan proto.Outbound, 16),
	}
}
