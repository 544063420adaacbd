package roomsync

// EventKind discriminates the events a Session delivers to its consumer.
type EventKind int

const (
	// EventConnected fires once the transport acknowledges the
	// subscription. The polling backend emits it when the poll loop
	// starts.
	EventConnected EventKind = iota
	// EventParticipantJoined is a best-effort notification with zeroed
	// progress fields; the next presence sync carries the real state.
	EventParticipantJoined
	// EventParticipantLeft reports a departed participant by id.
	EventParticipantLeft
	// EventPresenceSynced reports that the local participant list was
	// fully replaced. Participants holds the new snapshot.
	EventPresenceSynced
	// EventScoreUpdated reports a received score_update broadcast.
	EventScoreUpdated
	// EventRoomUpdated reports a received room_update broadcast.
	EventRoomUpdated
	// EventQuestionChanged reports a received question_change broadcast.
	EventQuestionChanged
)

// Event is the tagged union drained from Session.Events. Only the
// fields matching Kind are populated. Delivery order is preserved per
// channel; no ordering holds across different participants' sends.
type Event struct {
	Kind          EventKind
	Participant   Participant   // EventParticipantJoined
	ParticipantID string        // EventParticipantLeft
	Participants  []Participant // EventPresenceSynced
	Score         ScoreUpdate   // EventScoreUpdated
	Patch         RoomPatch     // EventRoomUpdated
	QuestionIndex int           // EventQuestionChanged
}
