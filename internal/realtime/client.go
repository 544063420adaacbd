package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/url"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/rs/zerolog"

	"github.com/quizarena/roomsync/internal/proto"
	"github.com/quizarena/roomsync/internal/roomsync"
)

// Config controls how the client reaches the messaging service.
type Config struct {
	URL              string
	Token            string
	HandshakeTimeout time.Duration
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration
}

// DefaultConfig returns sensible defaults. Set a timeout to 0 to
// disable it.
func DefaultConfig() Config {
	return Config{
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     10 * time.Second,
	}
}

// outbound mirrors proto.Outbound with the data kept raw so each event
// type can be decoded lazily.
type outbound struct {
	Type    string          `json:"type"`
	Channel string          `json:"channel,omitempty"`
	Event   string          `json:"event,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   *proto.Error    `json:"error,omitempty"`
}

// Client implements roomsync.Channel over a WebSocket connection to the
// messaging service. One client serves one room channel.
type Client struct {
	cfg     Config
	log     zerolog.Logger
	channel string

	conn    *conn
	writeCh chan proto.Inbound
	events  chan roomsync.ChannelEvent

	mu        sync.Mutex
	joined    bool
	closed    bool
	closeOnce sync.Once
	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewClient builds a channel client for the given room. Nothing is
// dialed until Join.
func NewClient(cfg Config, roomID string, logger *zerolog.Logger) *Client {
	lg := zerolog.Nop()
	if logger != nil {
		lg = *logger
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		cfg:     cfg,
		log:     lg.With().Str("channel", roomsync.ChannelName(roomID)).Logger(),
		channel: roomsync.ChannelName(roomID),
		writeCh: make(chan proto.Inbound, 16),
		events:  make(chan roomsync.ChannelEvent, 32),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
}

// Join dials the service, subscribes to the room channel with the given
// presence record, and starts the internal loops.
func (c *Client) Join(ctx context.Context, self roomsync.Participant) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return errors.New("client closed")
	}
	if c.joined {
		c.mu.Unlock()
		return errors.New("already joined")
	}
	c.mu.Unlock()

	if c.cfg.URL == "" {
		return errors.New("empty URL")
	}
	u, err := url.Parse(c.cfg.URL)
	if err != nil {
		return err
	}

	dialCtx := ctx
	if c.cfg.HandshakeTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, c.cfg.HandshakeTimeout)
		defer cancel()
	}

	ws, _, err := websocket.Dial(dialCtx, u.String(), nil)
	if err != nil {
		return err
	}

	// Close may have run while the dial was in flight; it already
	// closed the event stream, so only the fresh socket needs cleanup.
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = ws.Close(websocket.StatusNormalClosure, "client closed")
		return errors.New("client closed")
	}
	c.conn = newConn(ws, c.cfg.ReadTimeout, c.cfg.WriteTimeout)
	c.mu.Unlock()

	join := proto.Inbound{
		Type: proto.InboundTypeJoin,
		Data: mustMarshal(proto.JoinData{
			Channel:  c.channel,
			Token:    c.cfg.Token,
			Protocol: proto.ProtocolVersion,
			Presence: self,
		}),
	}
	if err := c.conn.Write(ctx, join); err != nil {
		c.mu.Lock()
		_ = c.conn.Close(websocket.StatusInternalError, "join error")
		c.conn = nil
		c.mu.Unlock()
		return err
	}

	c.mu.Lock()
	if c.closed {
		_ = c.conn.Close(websocket.StatusNormalClosure, "client closed")
		c.conn = nil
		c.mu.Unlock()
		return errors.New("client closed")
	}
	c.joined = true
	c.mu.Unlock()

	go c.readLoop()
	go c.writeLoop()
	return nil
}

// Track re-publishes the presence record on the channel.
func (c *Client) Track(ctx context.Context, self roomsync.Participant) error {
	return c.send(ctx, proto.Inbound{
		Type: proto.InboundTypeTrack,
		Data: mustMarshal(proto.TrackData{Channel: c.channel, Presence: self}),
	})
}

// Broadcast publishes an event payload to all channel subscribers.
func (c *Client) Broadcast(ctx context.Context, event string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return c.send(ctx, proto.Inbound{
		Type: proto.InboundTypeBroadcast,
		Data: mustMarshal(proto.BroadcastData{Channel: c.channel, Event: event, Payload: raw}),
	})
}

// Events returns the inbound channel event stream.
func (c *Client) Events() <-chan roomsync.ChannelEvent {
	return c.events
}

// Close shuts the client down and closes the WebSocket. Idempotent.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	joined := c.joined
	cn := c.conn
	c.mu.Unlock()

	c.cancel()
	var err error
	if cn != nil {
		err = cn.Close(websocket.StatusNormalClosure, "client close")
	}
	if joined {
		<-c.done
	} else {
		c.closeEvents()
	}
	return err
}

// closeEvents closes the event stream exactly once, whether teardown
// comes from Close or from the read loop winding down.
func (c *Client) closeEvents() {
	c.closeOnce.Do(func() { close(c.events) })
}

func (c *Client) send(ctx context.Context, in proto.Inbound) error {
	c.mu.Lock()
	joined := c.joined && !c.closed
	c.mu.Unlock()
	if !joined {
		return errors.New("not joined")
	}

	select {
	case c.writeCh <- in:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) readLoop() {
	defer close(c.done)
	defer c.closeEvents()
	for {
		var out outbound
		if err := c.conn.Read(c.ctx, &out); err != nil {
			if !isExpectedDisconnect(c.ctx, err) {
				c.log.Warn().Err(err).Msg("read loop exit")
			}
			return
		}
		ev, ok := c.mapOutbound(out)
		if !ok {
			continue
		}
		select {
		case c.events <- ev:
		case <-c.ctx.Done():
			return
		}
	}
}

func (c *Client) writeLoop() {
	for {
		select {
		case in := <-c.writeCh:
			if err := c.conn.Write(c.ctx, in); err != nil {
				c.log.Warn().Err(err).Msg("write loop exit")
				return
			}
		case <-c.ctx.Done():
			return
		}
	}
}

// mapOutbound translates a wire envelope into a channel event. The
// second return is false for envelopes the caller should skip.
func (c *Client) mapOutbound(out outbound) (roomsync.ChannelEvent, bool) {
	switch out.Type {
	case proto.OutboundTypeJoined:
		return roomsync.ChannelEvent{Kind: roomsync.ChannelSubscribed}, true

	case proto.OutboundTypePresenceState:
		var state proto.PresenceState
		if err := json.Unmarshal(out.Data, &state); err != nil {
			c.log.Debug().Err(err).Msg("malformed presence_state")
			return roomsync.ChannelEvent{}, false
		}
		return roomsync.ChannelEvent{Kind: roomsync.ChannelPresenceSync, Presences: state.Participants}, true

	case proto.OutboundTypePresenceJoin:
		var join proto.PresenceJoin
		if err := json.Unmarshal(out.Data, &join); err != nil {
			c.log.Debug().Err(err).Msg("malformed presence_join")
			return roomsync.ChannelEvent{}, false
		}
		return roomsync.ChannelEvent{Kind: roomsync.ChannelPresenceJoin, Presence: join.Presence}, true

	case proto.OutboundTypePresenceLeave:
		var leave proto.PresenceLeave
		if err := json.Unmarshal(out.Data, &leave); err != nil {
			c.log.Debug().Err(err).Msg("malformed presence_leave")
			return roomsync.ChannelEvent{}, false
		}
		return roomsync.ChannelEvent{Kind: roomsync.ChannelPresenceLeave, Key: leave.Key}, true

	case proto.OutboundTypeBroadcast:
		return roomsync.ChannelEvent{Kind: roomsync.ChannelBroadcast, Event: out.Event, Payload: out.Data}, true

	case proto.OutboundTypeError:
		if out.Error != nil {
			c.log.Warn().Str("code", out.Error.Code).Str("msg", out.Error.Msg).Msg("broker error")
		}
		return roomsync.ChannelEvent{}, false

	default:
		return roomsync.ChannelEvent{}, false
	}
}

func mustMarshal(v any) json.RawMessage {
	raw, err := json.Marshal(v)
	if err != nil {
		// Only reachable with unmarshalable types, which would be a
		// programming error in this package.
		panic(err)
	}
	return raw
}

func isExpectedDisconnect(ctx context.Context, err error) bool {
	if err == nil {
		return false
	}
	if ctx != nil && ctx.Err() != nil {
		return true
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, io.EOF) {
		return true
	}
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		return true
	default:
		return false
	}
}
