package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/quizarena/roomsync/internal/broker"
	"github.com/quizarena/roomsync/internal/proto"
	"github.com/quizarena/roomsync/internal/roomsync"
)

// WSHandler upgrades HTTP connections and bridges them to hub
// subscribers.
type WSHandler struct {
	hub    *broker.Hub
	tokens *broker.TokenConfig
	log    *zerolog.Logger
}

// NewWSHandler builds a new WebSocket handler.
func NewWSHandler(hub *broker.Hub, tokens *broker.TokenConfig, logger *zerolog.Logger) *WSHandler {
	return &WSHandler{hub: hub, tokens: tokens, log: logger}
}

func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.log.Error().Err(err).Msg("ws accept error")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "internal error")

	sub := broker.NewSubscriber(uuid.NewString())
	defer h.hub.Submit(broker.Command{Sub: sub, Kind: broker.CommandDisconnect})

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 2)
	go func() {
		errCh <- h.readLoop(ctx, conn, sub)
	}()
	go func() {
		errCh <- h.writeLoop(ctx, conn, sub)
	}()

	err = <-errCh
	cancel() // stop the other goroutine
	<-errCh

	status := websocket.StatusNormalClosure
	reason := "closing"
	if err != nil && !errors.Is(err, context.Canceled) {
		if errors.Is(err, io.EOF) {
			err = nil
		}
		if s := websocket.CloseStatus(err); s != 0 {
			status = s
		}
		if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
			err = nil
		}
		if err != nil {
			if status == websocket.StatusNormalClosure {
				status = websocket.StatusInternalError
			}
			reason = err.Error()
			h.log.Warn().Err(err).Str("subscriber", sub.ID).Msg("ws connection closed with error")
		}
	}

	conn.Close(status, reason)
}

func (h *WSHandler) readLoop(ctx context.Context, conn *websocket.Conn, sub *broker.Subscriber) error {
	for {
		var inbound proto.Inbound
		if err := wsjson.Read(ctx, conn, &inbound); err != nil {
			return err
		}

		cmd, protoErr := h.inboundToCommand(sub, inbound)
		if protoErr != nil {
			if writeErr := wsjson.Write(ctx, conn, proto.Outbound{
				Type:  proto.OutboundTypeError,
				Error: protoErr,
			}); writeErr != nil {
				return writeErr
			}
			continue
		}
		if cmd != nil {
			h.hub.Submit(*cmd)
		}
	}
}

func (h *WSHandler) writeLoop(ctx context.Context, conn *websocket.Conn, sub *broker.Subscriber) error {
	for {
		select {
		case out, ok := <-sub.Events:
			if !ok {
				return nil
			}
			if err := wsjson.Write(ctx, conn, out); err != nil {
				h.log.Error().Err(err).Str("subscriber", sub.ID).Msg("write ws event")
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// inboundToCommand maps a wire envelope to a hub command, enforcing the
// room access token on join.
func (h *WSHandler) inboundToCommand(sub *broker.Subscriber, in proto.Inbound) (*broker.Command, *proto.Error) {
	switch in.Type {
	case proto.InboundTypeJoin:
		var data proto.JoinData
		if err := json.Unmarshal(in.Data, &data); err != nil || data.Channel == "" {
			return nil, &proto.Error{Code: broker.ErrCodeBadRequest, Msg: "malformed join"}
		}
		claims, err := broker.ValidateToken(h.tokens, data.Token)
		if err != nil {
			h.log.Debug().Err(err).Str("subscriber", sub.ID).Msg("join with invalid token")
			return nil, &proto.Error{Code: broker.ErrCodeUnauthorized, Msg: "invalid token"}
		}
		if roomsync.ChannelName(claims.RoomID) != data.Channel {
			return nil, &proto.Error{Code: broker.ErrCodeUnauthorized, Msg: "token not valid for channel"}
		}
		// The token decides identity; the presence record cannot claim
		// someone else's key.
		data.Presence.ID = claims.ParticipantID
		if data.Presence.Name == "" {
			data.Presence.Name = claims.Name
		}
		return &broker.Command{Sub: sub, Kind: broker.CommandJoin, Channel: data.Channel, Presence: data.Presence}, nil

	case proto.InboundTypeTrack:
		var data proto.TrackData
		if err := json.Unmarshal(in.Data, &data); err != nil || data.Channel == "" || data.Presence.ID == "" {
			return nil, &proto.Error{Code: broker.ErrCodeBadRequest, Msg: "malformed track"}
		}
		return &broker.Command{Sub: sub, Kind: broker.CommandTrack, Channel: data.Channel, Presence: data.Presence}, nil

	case proto.InboundTypeBroadcast:
		var data proto.BroadcastData
		if err := json.Unmarshal(in.Data, &data); err != nil || data.Channel == "" || data.Event == "" {
			return nil, &proto.Error{Code: broker.ErrCodeBadRequest, Msg: "malformed broadcast"}
		}
		return &broker.Command{Sub: sub, Kind: broker.CommandBroadcast, Channel: data.Channel, Event: data.Event, Payload: data.Payload}, nil

	case proto.InboundTypeLeave:
		var data proto.LeaveData
		if err := json.Unmarshal(in.Data, &data); err != nil || data.Channel == "" {
			return nil, &proto.Error{Code: broker.ErrCodeBadRequest, Msg: "malformed leave"}
		}
		return &broker.Command{Sub: sub, Kind: broker.CommandLeave, Channel: data.Channel}, nil

	default:
		return nil, &proto.Error{Code: broker.ErrCodeBadRequest, Msg: "unknown message type"}
	}
}
