package roomsync

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// RealtimeSession is the primary backend: presence tracking and
// broadcast relay over an injected transport Channel. The local state
// is a projection of presence overlaid with the most recent broadcast
// per participant id; a periodic presence sync fully replaces the list,
// so the view converges even when a best-effort broadcast is lost.
type RealtimeSession struct {
	log zerolog.Logger
	ch  Channel

	mu           sync.Mutex
	self         Participant
	room         Room
	participants []Participant
	connected    bool
	started      bool
	closed       bool

	events chan Event
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewRealtimeSession builds a realtime session for the given room and
// identity over the provided transport channel.
func NewRealtimeSession(room Room, self Participant, ch Channel, opts Options) (*RealtimeSession, error) {
	if err := validateIdentity(room, self); err != nil {
		return nil, err
	}
	if room.Status == "" {
		room.Status = StatusWaiting
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &RealtimeSession{
		log:    opts.logger().With().Str("room", room.ID).Str("backend", "realtime").Logger(),
		ch:     ch,
		self:   self,
		room:   room,
		events: make(chan Event, opts.eventBuffer()),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}, nil
}

// Connect subscribes to the room channel and tracks this participant's
// presence. A transport that cannot be reached is not an error; the
// session stays unconnected until an acknowledgment arrives.
func (s *RealtimeSession) Connect() error {
	s.mu.Lock()
	if s.closed || s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	s.self.LastUpdate = time.Now()
	self := s.self
	s.mu.Unlock()

	if err := s.ch.Join(s.ctx, self); err != nil {
		// Stay unconnected; the consumer observes IsConnected false.
		s.log.Warn().Err(err).Msg("channel join failed")
	}
	go s.run()
	return nil
}

func (s *RealtimeSession) run() {
	defer close(s.done)
	defer close(s.events)
	for {
		select {
		case <-s.ctx.Done():
			return
		case ev, ok := <-s.ch.Events():
			if !ok {
				return
			}
			s.handle(ev)
		}
	}
}

func (s *RealtimeSession) handle(ev ChannelEvent) {
	if s.ctx.Err() != nil {
		return
	}
	switch ev.Kind {
	case ChannelSubscribed:
		s.mu.Lock()
		s.connected = true
		s.mu.Unlock()
		s.emit(Event{Kind: EventConnected})

	case ChannelPresenceSync:
		// Full replace, never a merge: guards against drift from
		// missed incremental events.
		s.mu.Lock()
		s.participants = copyParticipants(ev.Presences)
		snapshot := copyParticipants(s.participants)
		s.mu.Unlock()
		s.emit(Event{Kind: EventPresenceSynced, Participants: snapshot})

	case ChannelPresenceJoin:
		joined := Participant{
			ID:         ev.Presence.ID,
			Name:       ev.Presence.Name,
			Avatar:     ev.Presence.Avatar,
			LastUpdate: time.Now(),
		}
		s.mu.Lock()
		if s.indexOf(joined.ID) < 0 {
			s.participants = append(s.participants, joined)
		}
		s.mu.Unlock()
		// Best-effort UI feedback with zeroed progress; the next
		// presence sync carries the participant's real state.
		s.emit(Event{Kind: EventParticipantJoined, Participant: joined})

	case ChannelPresenceLeave:
		s.mu.Lock()
		if i := s.indexOf(ev.Key); i >= 0 {
			s.participants = append(s.participants[:i], s.participants[i+1:]...)
		}
		s.mu.Unlock()
		s.emit(Event{Kind: EventParticipantLeft, ParticipantID: ev.Key})

	case ChannelBroadcast:
		s.handleBroadcast(ev.Event, ev.Payload)
	}
}

func (s *RealtimeSession) handleBroadcast(event string, payload json.RawMessage) {
	switch event {
	case BroadcastScoreUpdate:
		var upd ScoreUpdate
		if err := json.Unmarshal(payload, &upd); err != nil {
			s.log.Debug().Err(err).Msg("malformed score_update payload")
			return
		}
		s.mu.Lock()
		i := s.indexOf(upd.ParticipantID)
		if i >= 0 {
			s.participants[i].Score = upd.Score
			s.participants[i].CorrectAnswers = upd.CorrectAnswers
			s.participants[i].CurrentQuestion = upd.CurrentQuestion
			s.participants[i].LastUpdate = time.Now()
		}
		s.mu.Unlock()
		if i < 0 {
			// A broadcast can outrun the presence sync that would have
			// introduced the id. Dropped; the sync corrects the view.
			s.log.Debug().Str("participant", upd.ParticipantID).Msg("score update for unknown participant dropped")
			return
		}
		s.emit(Event{Kind: EventScoreUpdated, Score: upd})

	case BroadcastRoomUpdate:
		var patch RoomPatch
		if err := json.Unmarshal(payload, &patch); err != nil {
			s.log.Debug().Err(err).Msg("malformed room_update payload")
			return
		}
		s.mu.Lock()
		s.applyPatch(patch)
		s.mu.Unlock()
		s.emit(Event{Kind: EventRoomUpdated, Patch: patch})

	case BroadcastQuestionChange:
		var qc QuestionChange
		if err := json.Unmarshal(payload, &qc); err != nil {
			s.log.Debug().Err(err).Msg("malformed question_change payload")
			return
		}
		s.mu.Lock()
		s.room.QuestionIndex = qc.QuestionIndex
		s.mu.Unlock()
		s.emit(Event{Kind: EventQuestionChanged, QuestionIndex: qc.QuestionIndex})

	default:
		s.log.Debug().Str("event", event).Msg("unknown broadcast event ignored")
	}
}

// applyPatch merges non-nil patch fields into the room. Caller holds mu.
func (s *RealtimeSession) applyPatch(patch RoomPatch) {
	if patch.Status != nil {
		s.room.Status = *patch.Status
	}
	if patch.Kind != nil {
		s.room.Kind = *patch.Kind
	}
	if patch.QuestionIndex != nil {
		s.room.QuestionIndex = *patch.QuestionIndex
	}
	if patch.TotalQuestions != nil {
		s.room.TotalQuestions = *patch.TotalQuestions
	}
}

// indexOf returns the position of the participant id, or -1. Caller
// holds mu.
func (s *RealtimeSession) indexOf(id string) int {
	for i := range s.participants {
		if s.participants[i].ID == id {
			return i
		}
	}
	return -1
}

func (s *RealtimeSession) emit(ev Event) {
	select {
	case s.events <- ev:
	default:
		// Drop if slow consumer.
		s.log.Debug().Int("kind", int(ev.Kind)).Msg("event buffer full, dropping")
	}
}

// IsConnected reports whether the transport acknowledged the
// subscription.
func (s *RealtimeSession) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected && !s.closed
}

// Participants returns a copy of the local participant projection.
func (s *RealtimeSession) Participants() []Participant {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyParticipants(s.participants)
}

// Room returns a copy of the local room projection.
func (s *RealtimeSession) Room() Room {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.room
}

// UpdateScore re-publishes this participant's presence with the new
// values and ready=true, then broadcasts a score_update. Both sends are
// best-effort; the presence re-publish doubles as a retry on reconnect.
func (s *RealtimeSession) UpdateScore(score, correctAnswers, currentQuestion int) {
	s.mu.Lock()
	s.self.Score = score
	s.self.CorrectAnswers = correctAnswers
	s.self.CurrentQuestion = currentQuestion
	s.self.IsReady = true
	s.self.LastUpdate = time.Now()
	self := s.self
	s.mu.Unlock()

	if err := s.ch.Track(s.ctx, self); err != nil {
		s.log.Debug().Err(err).Msg("presence track failed")
	}
	upd := ScoreUpdate{
		ParticipantID:   self.ID,
		Score:           score,
		CorrectAnswers:  correctAnswers,
		CurrentQuestion: currentQuestion,
	}
	if err := s.ch.Broadcast(s.ctx, BroadcastScoreUpdate, upd); err != nil {
		s.log.Debug().Err(err).Msg("score broadcast failed")
	}
}

// UpdateRoom broadcasts partial room fields. The local projection is
// updated when the broadcast is received back, same as on every other
// client.
func (s *RealtimeSession) UpdateRoom(patch RoomPatch) {
	if err := s.ch.Broadcast(s.ctx, BroadcastRoomUpdate, patch); err != nil {
		s.log.Debug().Err(err).Msg("room broadcast failed")
	}
}

// ChangeQuestion broadcasts a new shared question index.
func (s *RealtimeSession) ChangeQuestion(index int) {
	if err := s.ch.Broadcast(s.ctx, BroadcastQuestionChange, QuestionChange{QuestionIndex: index}); err != nil {
		s.log.Debug().Err(err).Msg("question broadcast failed")
	}
}

// SetReady re-publishes presence with the ready flag only; the numeric
// progress fields keep their last known values.
func (s *RealtimeSession) SetReady(ready bool) {
	s.mu.Lock()
	s.self.IsReady = ready
	s.self.LastUpdate = time.Now()
	self := s.self
	s.mu.Unlock()

	if err := s.ch.Track(s.ctx, self); err != nil {
		s.log.Debug().Err(err).Msg("presence track failed")
	}
}

// Events returns the session's event stream.
func (s *RealtimeSession) Events() <-chan Event {
	return s.events
}

// Close unsubscribes from the channel and stops inbound processing.
// Idempotent.
func (s *RealtimeSession) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.connected = false
	started := s.started
	s.mu.Unlock()

	s.cancel()
	err := s.ch.Close()
	if started {
		<-s.done
	} else {
		close(s.events)
	}
	return err
}
