package roomsync

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/quizarena/roomsync/internal/store"
)

// roomRecord is the per-room record in the shared fallback store: the
// participant list plus the shared room fields the broadcast backend
// would carry in events. Persisted as one serialized blob under the
// room id.
type roomRecord struct {
	Participants   []Participant `json:"participants"`
	Status         RoomStatus    `json:"status,omitempty"`
	QuestionIndex  int           `json:"questionIndex,omitempty"`
	TotalQuestions int           `json:"totalQuestions,omitempty"`
}

// PollingSession is the fallback backend for environments without the
// hosted messaging service. It polls a shared store on a fixed interval
// and replaces its participant view with whatever it reads. There is no
// presence: a participant that stops writing just goes stale, and the
// consumer infers absence from lastUpdate if it cares.
type PollingSession struct {
	log      zerolog.Logger
	st       store.Store
	interval time.Duration

	mu           sync.Mutex
	self         Participant
	room         Room
	participants []Participant
	started      bool
	closed       bool
	lastBlob     []byte

	events chan Event
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewPollingSession builds a fallback session over the shared store.
func NewPollingSession(room Room, self Participant, st store.Store, opts Options) (*PollingSession, error) {
	if err := validateIdentity(room, self); err != nil {
		return nil, err
	}
	if room.Status == "" {
		room.Status = StatusWaiting
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &PollingSession{
		log:      opts.logger().With().Str("room", room.ID).Str("backend", "polling").Logger(),
		st:       st,
		interval: opts.pollInterval(),
		self:     self,
		room:     room,
		events:   make(chan Event, opts.eventBuffer()),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}, nil
}

// Connect starts the poll loop. The fallback has no connection concept,
// so the session reports connected for as long as the loop is running.
func (s *PollingSession) Connect() error {
	s.mu.Lock()
	if s.closed || s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	s.mu.Unlock()

	go s.run()
	return nil
}

func (s *PollingSession) run() {
	defer close(s.done)
	defer close(s.events)

	s.emit(Event{Kind: EventConnected})

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.poll()
		}
	}
}

func (s *PollingSession) poll() {
	blob, err := s.st.GetRoomState(s.ctx, s.room.ID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			s.log.Debug().Err(err).Msg("read shared store")
		}
		return
	}
	if bytes.Equal(blob, s.lastBlob) {
		return
	}

	var rec roomRecord
	if err := json.Unmarshal(blob, &rec); err != nil {
		// Treated as "no data yet" for this cycle.
		s.log.Debug().Err(err).Msg("unparseable store record skipped")
		return
	}
	s.lastBlob = blob

	s.mu.Lock()
	s.participants = copyParticipants(rec.Participants)
	snapshot := copyParticipants(s.participants)

	var patch RoomPatch
	if rec.Status != "" && rec.Status != s.room.Status {
		s.room.Status = rec.Status
		status := rec.Status
		patch.Status = &status
	}
	questionChanged := rec.QuestionIndex != s.room.QuestionIndex
	s.room.QuestionIndex = rec.QuestionIndex
	if rec.TotalQuestions != 0 {
		s.room.TotalQuestions = rec.TotalQuestions
	}
	s.mu.Unlock()

	if patch.Status != nil {
		s.emit(Event{Kind: EventRoomUpdated, Patch: patch})
	}
	if questionChanged {
		s.emit(Event{Kind: EventQuestionChanged, QuestionIndex: rec.QuestionIndex})
	}
	s.emit(Event{Kind: EventPresenceSynced, Participants: snapshot})
}

// modify applies fn to the stored room record via read-modify-write of
// the whole blob. The read-modify-write is not atomic across writers;
// last write wins at the record granularity.
func (s *PollingSession) modify(fn func(*roomRecord)) {
	var rec roomRecord
	blob, err := s.st.GetRoomState(s.ctx, s.room.ID)
	if err == nil {
		if err := json.Unmarshal(blob, &rec); err != nil {
			s.log.Debug().Err(err).Msg("replacing unparseable store record")
			rec = roomRecord{}
		}
	} else if !errors.Is(err, store.ErrNotFound) {
		s.log.Debug().Err(err).Msg("read shared store")
		return
	}
	if rec.Participants == nil {
		rec.Participants = []Participant{}
	}

	fn(&rec)

	out, err := json.Marshal(rec)
	if err != nil {
		s.log.Warn().Err(err).Msg("marshal store record")
		return
	}
	if err := s.st.PutRoomState(s.ctx, s.room.ID, out); err != nil {
		s.log.Warn().Err(err).Msg("write shared store")
	}
}

// upsertSelf replaces this participant's entry in the record, appending
// it if absent. Caller must have updated s.self first.
func (s *PollingSession) upsertSelf(rec *roomRecord, self Participant) {
	for i := range rec.Participants {
		if rec.Participants[i].ID == self.ID {
			rec.Participants[i] = self
			return
		}
	}
	rec.Participants = append(rec.Participants, self)
}

func (s *PollingSession) emit(ev Event) {
	select {
	case s.events <- ev:
	default:
		// Drop if slow consumer.
		s.log.Debug().Int("kind", int(ev.Kind)).Msg("event buffer full, dropping")
	}
}

// IsConnected reports true while the poll loop is running.
func (s *PollingSession) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started && !s.closed
}

// Participants returns a copy of the local participant projection.
func (s *PollingSession) Participants() []Participant {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyParticipants(s.participants)
}

// Room returns a copy of the local room projection.
func (s *PollingSession) Room() Room {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.room
}

// UpdateScore writes this participant's new progress into the shared
// record. The next poll cycle of every participant, this one included,
// surfaces it.
func (s *PollingSession) UpdateScore(score, correctAnswers, currentQuestion int) {
	s.mu.Lock()
	s.self.Score = score
	s.self.CorrectAnswers = correctAnswers
	s.self.CurrentQuestion = currentQuestion
	s.self.IsReady = true
	s.self.LastUpdate = time.Now()
	self := s.self
	s.mu.Unlock()

	s.modify(func(rec *roomRecord) {
		s.upsertSelf(rec, self)
	})
}

// UpdateRoom writes partial room fields into the shared record.
func (s *PollingSession) UpdateRoom(patch RoomPatch) {
	s.modify(func(rec *roomRecord) {
		if patch.Status != nil {
			rec.Status = *patch.Status
		}
		if patch.QuestionIndex != nil {
			rec.QuestionIndex = *patch.QuestionIndex
		}
		if patch.TotalQuestions != nil {
			rec.TotalQuestions = *patch.TotalQuestions
		}
	})
}

// ChangeQuestion writes a new shared question index.
func (s *PollingSession) ChangeQuestion(index int) {
	s.modify(func(rec *roomRecord) {
		rec.QuestionIndex = index
	})
}

// SetReady updates only the ready flag on this participant's entry; the
// numeric progress fields keep their last known values.
func (s *PollingSession) SetReady(ready bool) {
	s.mu.Lock()
	s.self.IsReady = ready
	s.self.LastUpdate = time.Now()
	self := s.self
	s.mu.Unlock()

	s.modify(func(rec *roomRecord) {
		s.upsertSelf(rec, self)
	})
}

// Events returns the session's event stream.
func (s *PollingSession) Events() <-chan Event {
	return s.events
}

// Close stops the poll loop. Idempotent; no events are delivered after
// it returns.
func (s *PollingSession) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	started := s.started
	s.mu.Unlock()

	s.cancel()
	if started {
		<-s.done
	} else {
		close(s.events)
	}
	return nil
}
