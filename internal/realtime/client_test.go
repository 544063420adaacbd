package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/quizarena/roomsync/internal/proto"
	"github.com/quizarena/roomsync/internal/roomsync"
)

func rawJSON(t *testing.T, v any) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return raw
}

func TestMapOutbound(t *testing.T) {
	c := NewClient(DefaultConfig(), "room42", nil)
	defer c.Close()

	tests := []struct {
		name     string
		in       outbound
		wantKind roomsync.ChannelEventKind
		wantOK   bool
	}{
		{
			name:     "joined ack",
			in:       outbound{Type: proto.OutboundTypeJoined, Channel: "battle:room42"},
			wantKind: roomsync.ChannelSubscribed,
			wantOK:   true,
		},
		{
			name: "presence state",
			in: outbound{
				Type: proto.OutboundTypePresenceState,
				Data: rawJSON(t, proto.PresenceState{Participants: []roomsync.Participant{{ID: "u1"}, {ID: "u2"}}}),
			},
			wantKind: roomsync.ChannelPresenceSync,
			wantOK:   true,
		},
		{
			name: "presence join",
			in: outbound{
				Type: proto.OutboundTypePresenceJoin,
				Data: rawJSON(t, proto.PresenceJoin{Presence: roomsync.Participant{ID: "u1"}}),
			},
			wantKind: roomsync.ChannelPresenceJoin,
			wantOK:   true,
		},
		{
			name: "presence leave",
			in: outbound{
				Type: proto.OutboundTypePresenceLeave,
				Data: rawJSON(t, proto.PresenceLeave{Key: "u1"}),
			},
			wantKind: roomsync.ChannelPresenceLeave,
			wantOK:   true,
		},
		{
			name: "broadcast",
			in: outbound{
				Type:  proto.OutboundTypeBroadcast,
				Event: roomsync.BroadcastScoreUpdate,
				Data:  rawJSON(t, roomsync.ScoreUpdate{ParticipantID: "u1", Score: 10}),
			},
			wantKind: roomsync.ChannelBroadcast,
			wantOK:   true,
		},
		{
			name:   "error envelope skipped",
			in:     outbound{Type: proto.OutboundTypeError, Error: &proto.Error{Code: "bad_request", Msg: "nope"}},
			wantOK: false,
		},
		{
			name:   "malformed presence state skipped",
			in:     outbound{Type: proto.OutboundTypePresenceState, Data: []byte("{broken")},
			wantOK: false,
		},
		{
			name:   "unknown type skipped",
			in:     outbound{Type: "mystery"},
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, ok := c.mapOutbound(tt.in)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if !ok {
				return
			}
			if ev.Kind != tt.wantKind {
				t.Fatalf("kind = %d, want %d", ev.Kind, tt.wantKind)
			}
		})
	}
}

func TestMapOutboundPresencePayloads(t *testing.T) {
	c := NewClient(DefaultConfig(), "room42", nil)
	defer c.Close()

	ev, ok := c.mapOutbound(outbound{
		Type: proto.OutboundTypePresenceState,
		Data: rawJSON(t, proto.PresenceState{Participants: []roomsync.Participant{
			{ID: "u1", Score: 150, CorrectAnswers: 3},
		}}),
	})
	if !ok {
		t.Fatal("presence state not mapped")
	}
	if len(ev.Presences) != 1 || ev.Presences[0].Score != 150 {
		t.Fatalf("unexpected presences: %+v", ev.Presences)
	}

	ev, ok = c.mapOutbound(outbound{
		Type: proto.OutboundTypePresenceLeave,
		Data: rawJSON(t, proto.PresenceLeave{Key: "u9"}),
	})
	if !ok || ev.Key != "u9" {
		t.Fatalf("unexpected leave mapping: %+v", ev)
	}
}

func TestJoinRequiresURL(t *testing.T) {
	c := NewClient(Config{}, "room42", nil)
	defer c.Close()

	err := c.Join(context.Background(), roomsync.Participant{ID: "u1"})
	if err == nil {
		t.Fatal("join with empty URL should fail")
	}
}

func TestCloseDuringJoin(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Stall the handshake so Close lands while Join is dialing.
		time.Sleep(200 * time.Millisecond)
		ws, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close(websocket.StatusNormalClosure, "")
		for {
			if _, _, err := ws.Read(r.Context()); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	cfg := DefaultConfig()
	cfg.URL = "ws" + strings.TrimPrefix(srv.URL, "http")
	c := NewClient(cfg, "room42", nil)

	joinErr := make(chan error, 1)
	go func() {
		joinErr <- c.Join(context.Background(), roomsync.Participant{ID: "u1"})
	}()

	time.Sleep(50 * time.Millisecond)
	if err := c.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	select {
	case err := <-joinErr:
		if err == nil {
			t.Fatal("join racing a close should fail")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("join did not return")
	}

	if _, ok := <-c.Events(); ok {
		t.Fatal("event stream should be closed")
	}
	if err := c.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}
