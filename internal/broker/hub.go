package broker

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/quizarena/roomsync/internal/proto"
	"github.com/quizarena/roomsync/internal/roomsync"
)

// CommandKind describes what a subscriber wants to do.
type CommandKind int

const (
	// CommandJoin subscribes to a channel and tracks a presence record.
	CommandJoin CommandKind = iota
	// CommandTrack re-publishes a presence record on a channel.
	CommandTrack
	// CommandBroadcast relays an event payload to channel subscribers.
	CommandBroadcast
	// CommandLeave unsubscribes from a channel.
	CommandLeave
	// CommandDisconnect removes the subscriber from every channel.
	CommandDisconnect
)

// Command is an action submitted to the hub on behalf of a subscriber.
type Command struct {
	Sub      *Subscriber
	Kind     CommandKind
	Channel  string
	Presence roomsync.Participant
	Event    string
	Payload  json.RawMessage
}

// channel is the broker-side state of one room channel: who is
// subscribed and the presence record tracked under each key.
type channel struct {
	name      string
	subs      map[*Subscriber]string // subscriber -> presence key
	presences map[string]roomsync.Participant
}

func newChannel(name string) *channel {
	return &channel{
		name:      name,
		subs:      make(map[*Subscriber]string),
		presences: make(map[string]roomsync.Participant),
	}
}

// state returns the presence snapshot ordered by key for determinism.
func (c *channel) state() proto.PresenceState {
	keys := make([]string, 0, len(c.presences))
	for k := range c.presences {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := proto.PresenceState{Participants: make([]roomsync.Participant, 0, len(keys))}
	for _, k := range keys {
		out.Participants = append(out.Participants, c.presences[k])
	}
	return out
}

// RoomInfo is a registered room as known by the broker.
type RoomInfo struct {
	ID           string
	Kind         roomsync.RoomKind
	JoinCodeHash string
	CreatedAt    time.Time
}

// Hub routes presence and broadcast traffic between the subscribers of
// each room channel. All channel state is owned by the Run goroutine;
// the room registry has its own lock because the HTTP API reads it
// concurrently.
type Hub struct {
	log      zerolog.Logger
	commands chan Command
	channels map[string]*channel

	mu    sync.RWMutex
	rooms map[string]RoomInfo
}

// NewHub creates a hub. Call Run to start processing commands.
func NewHub(logger *zerolog.Logger) *Hub {
	lg := zerolog.Nop()
	if logger != nil {
		lg = *logger
	}
	return &Hub{
		log:      lg,
		commands: make(chan Command, 64),
		channels: make(map[string]*channel),
		rooms:    make(map[string]RoomInfo),
	}
}

// RegisterRoom records a room so the token API can enforce its join
// code. Registering an existing id fails.
func (h *Hub) RegisterRoom(info RoomInfo) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.rooms[info.ID]; exists {
		return ErrRoomExists
	}
	if info.CreatedAt.IsZero() {
		info.CreatedAt = time.Now()
	}
	h.rooms[info.ID] = info
	return nil
}

// Room returns a registered room by id.
func (h *Hub) Room(id string) (RoomInfo, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	info, ok := h.rooms[id]
	return info, ok
}

// Submit queues a command for processing. It blocks while the command
// buffer is full, so Run must be kept draining it.
func (h *Hub) Submit(cmd Command) {
	h.commands <- cmd
}

// Run processes commands until the context is canceled.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-h.commands:
			h.handle(cmd)
		}
	}
}

func (h *Hub) handle(cmd Command) {
	switch cmd.Kind {
	case CommandJoin:
		h.handleJoin(cmd)
	case CommandTrack:
		h.handleTrack(cmd)
	case CommandBroadcast:
		h.handleBroadcast(cmd)
	case CommandLeave:
		h.handleLeave(cmd)
	case CommandDisconnect:
		h.handleDisconnect(cmd.Sub)
	}
}

func (h *Hub) handleJoin(cmd Command) {
	ch, ok := h.channels[cmd.Channel]
	if !ok {
		ch = newChannel(cmd.Channel)
		h.channels[cmd.Channel] = ch
	}

	// Last connect wins: a rejoin under the same presence key replaces
	// the previous record.
	ch.subs[cmd.Sub] = cmd.Presence.ID
	ch.presences[cmd.Presence.ID] = cmd.Presence

	send(cmd.Sub, proto.Outbound{Type: proto.OutboundTypeJoined, Channel: ch.name})

	join := proto.PresenceJoin{Presence: cmd.Presence}
	for sub := range ch.subs {
		if sub != cmd.Sub {
			send(sub, proto.Outbound{Type: proto.OutboundTypePresenceJoin, Channel: ch.name, Data: join})
		}
	}
	h.syncPresence(ch)

	h.log.Debug().Str("channel", ch.name).Str("participant", cmd.Presence.ID).Msg("joined")
}

func (h *Hub) handleTrack(cmd Command) {
	ch, ok := h.channels[cmd.Channel]
	if !ok || !h.requireMember(ch, cmd.Sub) {
		sendError(cmd.Sub, ErrCodeNotInChannel, "track on a channel not joined")
		return
	}
	// A subscriber can only re-track the key it joined under.
	key := ch.subs[cmd.Sub]
	if cmd.Presence.ID != key {
		sendError(cmd.Sub, ErrCodeBadRequest, "presence key mismatch")
		return
	}
	ch.presences[key] = cmd.Presence
	h.syncPresence(ch)
}

func (h *Hub) handleBroadcast(cmd Command) {
	ch, ok := h.channels[cmd.Channel]
	if !ok || !h.requireMember(ch, cmd.Sub) {
		sendError(cmd.Sub, ErrCodeNotInChannel, "broadcast on a channel not joined")
		return
	}
	out := proto.Outbound{
		Type:    proto.OutboundTypeBroadcast,
		Channel: ch.name,
		Event:   cmd.Event,
		Data:    cmd.Payload,
	}
	for sub := range ch.subs {
		send(sub, out)
	}
}

func (h *Hub) handleLeave(cmd Command) {
	ch, ok := h.channels[cmd.Channel]
	if !ok || !h.requireMember(ch, cmd.Sub) {
		sendError(cmd.Sub, ErrCodeNotInChannel, "leave on a channel not joined")
		return
	}
	h.removeFromChannel(ch, cmd.Sub)
}

func (h *Hub) handleDisconnect(sub *Subscriber) {
	for _, ch := range h.channels {
		if _, ok := ch.subs[sub]; ok {
			h.removeFromChannel(ch, sub)
		}
	}
}

func (h *Hub) removeFromChannel(ch *channel, sub *Subscriber) {
	key := ch.subs[sub]
	delete(ch.subs, sub)

	// Only drop the presence record if no other connection tracks the
	// same key (last connect wins on rejoin).
	keyStillTracked := false
	for _, k := range ch.subs {
		if k == key {
			keyStillTracked = true
			break
		}
	}
	if !keyStillTracked {
		delete(ch.presences, key)
	}

	if len(ch.subs) == 0 {
		delete(h.channels, ch.name)
		return
	}

	leave := proto.PresenceLeave{Key: key}
	for s := range ch.subs {
		send(s, proto.Outbound{Type: proto.OutboundTypePresenceLeave, Channel: ch.name, Data: leave})
	}
	h.syncPresence(ch)
}

// syncPresence pushes the full presence snapshot to every subscriber.
// This is the correction clients rely on for eventual convergence.
func (h *Hub) syncPresence(ch *channel) {
	state := ch.state()
	for sub := range ch.subs {
		send(sub, proto.Outbound{Type: proto.OutboundTypePresenceState, Channel: ch.name, Data: state})
	}
}

func (h *Hub) requireMember(ch *channel, sub *Subscriber) bool {
	_, ok := ch.subs[sub]
	return ok
}

func send(sub *Subscriber, out proto.Outbound) {
	select {
	case sub.Events <- out:
	default:
		// Drop if slow consumer.
	}
}

func sendError(sub *Subscriber, code, msg string) {
	send(sub, proto.Outbound{Type: proto.OutboundTypeError, Error: &proto.Error{Code: code, Msg: msg}})
}
