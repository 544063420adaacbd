package roomsync

import (
	"context"
	"encoding/json"
)

// Broadcast event names on the wire.
const (
	BroadcastScoreUpdate    = "score_update"
	BroadcastRoomUpdate     = "room_update"
	BroadcastQuestionChange = "question_change"
)

// ChannelEventKind discriminates transport-level events.
type ChannelEventKind int

const (
	// ChannelSubscribed is emitted once the transport acknowledges the
	// channel subscription.
	ChannelSubscribed ChannelEventKind = iota
	// ChannelPresenceSync carries the transport's full presence state.
	ChannelPresenceSync
	// ChannelPresenceJoin reports a single participant joining.
	ChannelPresenceJoin
	// ChannelPresenceLeave reports a participant leaving, keyed by its
	// presence key.
	ChannelPresenceLeave
	// ChannelBroadcast carries an application broadcast payload.
	ChannelBroadcast
)

// ChannelEvent is a tagged union of the events a Channel delivers. Only
// the fields matching Kind are populated.
type ChannelEvent struct {
	Kind      ChannelEventKind
	Presences []Participant   // ChannelPresenceSync
	Presence  Participant     // ChannelPresenceJoin
	Key       string          // ChannelPresenceLeave
	Event     string          // ChannelBroadcast: event name
	Payload   json.RawMessage // ChannelBroadcast: raw payload
}

// Channel is the transport primitive the realtime session builds on: a
// named room channel with presence tracking and fire-and-forget
// broadcast. Implementations are injected so tests can substitute a
// fake transport.
//
// All sends are best-effort. Join and Track publish the caller's
// presence record; Broadcast relays an event payload to all current
// subscribers with no delivery guarantee.
type Channel interface {
	// Join subscribes to the channel and tracks the given presence
	// record. A returned error means the transport could not be
	// reached; the caller stays unconnected rather than failing.
	Join(ctx context.Context, self Participant) error

	// Track re-publishes the caller's presence record.
	Track(ctx context.Context, self Participant) error

	// Broadcast publishes an event payload to all subscribers.
	Broadcast(ctx context.Context, event string, payload any) error

	// Events returns the inbound event stream. The channel is closed
	// after Close.
	Events() <-chan ChannelEvent

	// Close tears the subscription down. It must be idempotent.
	Close() error
}
