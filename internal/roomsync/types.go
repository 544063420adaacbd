package roomsync

import "time"

// RoomKind tells the consuming UI how to interpret scores. The
// synchronization protocol is identical for all kinds.
type RoomKind string

const (
	KindClassBattle RoomKind = "class_battle"
	KindCoopRaid    RoomKind = "coop_raid"
	KindTournament  RoomKind = "tournament"
)

// RoomStatus is the room lifecycle: waiting -> starting -> active -> finished.
// Transitions are driven only by explicit room-update events.
type RoomStatus string

const (
	StatusWaiting  RoomStatus = "waiting"
	StatusStarting RoomStatus = "starting"
	StatusActive   RoomStatus = "active"
	StatusFinished RoomStatus = "finished"
)

// Participant is a student or teacher currently connected to a room.
// The JSON shape doubles as the wire-level presence record; absent
// numeric fields decode to 0 and absent flags to false.
type Participant struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	Avatar          string    `json:"avatar"`
	Score           int       `json:"score"`
	CorrectAnswers  int       `json:"correctAnswers"`
	CurrentQuestion int       `json:"currentQuestion"`
	IsReady         bool      `json:"isReady"`
	LastUpdate      time.Time `json:"lastUpdate"`
}

// Room is each client's local projection of the shared session. It is
// reconstructed independently by every client from the event stream; no
// participant owns it.
type Room struct {
	ID             string     `json:"id"`
	Kind           RoomKind   `json:"kind"`
	Status         RoomStatus `json:"status"`
	QuestionIndex  int        `json:"questionIndex"`
	TotalQuestions int        `json:"totalQuestions"`
}

// RoomPatch carries partial room fields for a room-update event. Nil
// fields leave the local value unchanged.
type RoomPatch struct {
	Status         *RoomStatus `json:"status,omitempty"`
	Kind           *RoomKind   `json:"kind,omitempty"`
	QuestionIndex  *int        `json:"questionIndex,omitempty"`
	TotalQuestions *int        `json:"totalQuestions,omitempty"`
}

// ScoreUpdate is the wire payload of a score_update broadcast.
type ScoreUpdate struct {
	ParticipantID   string `json:"participantId"`
	Score           int    `json:"score"`
	CorrectAnswers  int    `json:"correctAnswers"`
	CurrentQuestion int    `json:"currentQuestion"`
}

// QuestionChange is the wire payload of a question_change broadcast.
type QuestionChange struct {
	QuestionIndex int `json:"questionIndex"`
}

// ChannelName returns the transport channel identifier for a room.
// Rooms never share a channel, so independent rooms coexist on one
// transport without cross-talk.
func ChannelName(roomID string) string {
	return "battle:" + roomID
}
