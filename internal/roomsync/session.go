package roomsync

import (
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/quizarena/roomsync/internal/store"
)

var (
	ErrEmptyRoomID        = errors.New("empty room id")
	ErrEmptyParticipantID = errors.New("empty participant id")
	ErrNoBackend          = errors.New("no transport channel and no fallback store")
)

const (
	defaultPollInterval = 500 * time.Millisecond
	defaultEventBuffer  = 64
)

// Session is the Room View shared by both backends: the current
// participant list, the room status, and the four mutators. Mutators
// are fire-and-forget; they return immediately and never report errors.
// Anomalies degrade to a stale local view instead of failing, so the
// consuming UI stays responsive mid-battle.
type Session interface {
	// Connect starts the backend. Transport unreachability is not an
	// error: IsConnected simply stays false until the subscription is
	// acknowledged.
	Connect() error

	// IsConnected reports whether the backend is live. The realtime
	// backend turns true on subscription acknowledgment; the polling
	// backend turns true once the poll loop is running.
	IsConnected() bool

	// Participants returns a copy of the local participant projection.
	Participants() []Participant

	// Room returns a copy of the local room projection.
	Room() Room

	// UpdateScore publishes this participant's new progress and marks
	// it ready.
	UpdateScore(score, correctAnswers, currentQuestion int)

	// UpdateRoom publishes partial room fields. Any participant may
	// call it; host-only writes are a UI convention, not a protocol
	// rule.
	UpdateRoom(patch RoomPatch)

	// ChangeQuestion publishes a new shared question index.
	ChangeQuestion(index int)

	// SetReady publishes the ready flag, leaving the numeric progress
	// fields at their last known values.
	SetReady(ready bool)

	// Events returns the session's event stream. It is closed after
	// Close; no events are delivered past that point.
	Events() <-chan Event

	// Close tears the session down. Safe to call more than once.
	Close() error
}

// Options tunes a Session. The zero value is usable.
type Options struct {
	Logger       *zerolog.Logger
	PollInterval time.Duration // fallback backend only
	EventBuffer  int
}

func (o Options) logger() zerolog.Logger {
	if o.Logger != nil {
		return *o.Logger
	}
	return zerolog.Nop()
}

func (o Options) pollInterval() time.Duration {
	if o.PollInterval > 0 {
		return o.PollInterval
	}
	return defaultPollInterval
}

func (o Options) eventBuffer() int {
	if o.EventBuffer > 0 {
		return o.EventBuffer
	}
	return defaultEventBuffer
}

// New selects a backend by capability: a realtime session when a
// transport channel is supplied, otherwise the polling fallback over
// the shared store.
func New(room Room, self Participant, ch Channel, st store.Store, opts Options) (Session, error) {
	if ch != nil {
		s, err := NewRealtimeSession(room, self, ch, opts)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	if st != nil {
		s, err := NewPollingSession(room, self, st, opts)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	return nil, ErrNoBackend
}

func validateIdentity(room Room, self Participant) error {
	if room.ID == "" {
		return ErrEmptyRoomID
	}
	if self.ID == "" {
		return ErrEmptyParticipantID
	}
	return nil
}

func copyParticipants(list []Participant) []Participant {
	out := make([]Participant, len(list))
	copy(out, list)
	return out
}
