package proto

import (
	"encoding/json"

	"github.com/quizarena/roomsync/internal/roomsync"
)

const (
	ProtocolVersion = 1

	InboundTypeJoin      = "join"
	InboundTypeTrack     = "track"
	InboundTypeBroadcast = "broadcast"
	InboundTypeLeave     = "leave"

	OutboundTypeJoined        = "joined"
	OutboundTypePresenceState = "presence_state"
	OutboundTypePresenceJoin  = "presence_join"
	OutboundTypePresenceLeave = "presence_leave"
	OutboundTypeBroadcast     = "broadcast"
	OutboundTypeError         = "error"
)

// Inbound is the envelope for messages from a subscriber to the broker.
type Inbound struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// JoinData subscribes to a room channel and tracks the initial presence
// record. Token is a room access token issued by the broker's API.
type JoinData struct {
	Channel  string               `json:"channel"`
	Token    string               `json:"token,omitempty"`
	Protocol int                  `json:"protocol,omitempty"`
	Presence roomsync.Participant `json:"presence"`
}

// TrackData re-publishes a presence record on a channel.
type TrackData struct {
	Channel  string               `json:"channel"`
	Presence roomsync.Participant `json:"presence"`
}

// BroadcastData relays an event payload to all channel subscribers.
type BroadcastData struct {
	Channel string          `json:"channel"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// LeaveData unsubscribes from a channel.
type LeaveData struct {
	Channel string `json:"channel"`
}

// Outbound is the envelope for messages from the broker to a subscriber.
type Outbound struct {
	Type    string `json:"type"`
	Channel string `json:"channel,omitempty"`
	Event   string `json:"event,omitempty"`
	Data    any    `json:"data,omitempty"`
	Error   *Error `json:"error,omitempty"`
}

// PresenceState is the full presence snapshot of a channel.
type PresenceState struct {
	Participants []roomsync.Participant `json:"participants"`
}

// PresenceJoin notifies that a presence record appeared on a channel.
type PresenceJoin struct {
	Presence roomsync.Participant `json:"presence"`
}

// PresenceLeave notifies that a presence key left a channel.
type PresenceLeave struct {
	Key string `json:"key"`
}

// Error describes a protocol-level error response.
type Error struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
}
