package roomsync

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"
)

type fakeBroadcast struct {
	event   string
	payload any
}

// fakeChannel scriptable transport standing in for the messaging
// service.
type fakeChannel struct {
	mu         sync.Mutex
	events     chan ChannelEvent
	joins      []Participant
	tracks     []Participant
	broadcasts []fakeBroadcast
	joinErr    error
	closeOnce  sync.Once
	closeCount int
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{events: make(chan ChannelEvent, 32)}
}

func (f *fakeChannel) Join(_ context.Context, self Participant) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.joins = append(f.joins, self)
	return f.joinErr
}

func (f *fakeChannel) Track(_ context.Context, self Participant) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tracks = append(f.tracks, self)
	return nil
}

func (f *fakeChannel) Broadcast(_ context.Context, event string, payload any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.broadcasts = append(f.broadcasts, fakeBroadcast{event: event, payload: payload})
	return nil
}

func (f *fakeChannel) Events() <-chan ChannelEvent {
	return f.events
}

func (f *fakeChannel) Close() error {
	f.mu.Lock()
	f.closeCount++
	f.mu.Unlock()
	f.closeOnce.Do(func() { close(f.events) })
	return nil
}

func (f *fakeChannel) lastTrack(t *testing.T) Participant {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.tracks) == 0 {
		t.Fatal("no presence tracks recorded")
	}
	return f.tracks[len(f.tracks)-1]
}

func (f *fakeChannel) push(ev ChannelEvent) {
	f.events <- ev
}

func (f *fakeChannel) pushBroadcast(t *testing.T, event string, payload any) {
	t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	f.push(ChannelEvent{Kind: ChannelBroadcast, Event: event, Payload: raw})
}

// mustEvent drains the session stream until an event of the wanted kind
// arrives.
func mustEvent(t *testing.T, events <-chan Event, kind EventKind) Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				t.Fatalf("event stream closed while waiting for kind %d", kind)
			}
			if ev.Kind == kind {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for event kind %d", kind)
		}
	}
}

func newTestRealtime(t *testing.T, ch Channel) *RealtimeSession {
	t.Helper()
	s, err := NewRealtimeSession(
		Room{ID: "room42", Kind: KindClassBattle},
		Participant{ID: "me", Name: "Me"},
		ch,
		Options{},
	)
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	return s
}

func TestRealtimeValidation(t *testing.T) {
	ch := newFakeChannel()
	if _, err := NewRealtimeSession(Room{}, Participant{ID: "p"}, ch, Options{}); err != ErrEmptyRoomID {
		t.Fatalf("expected ErrEmptyRoomID, got %v", err)
	}
	if _, err := NewRealtimeSession(Room{ID: "r"}, Participant{}, ch, Options{}); err != ErrEmptyParticipantID {
		t.Fatalf("expected ErrEmptyParticipantID, got %v", err)
	}
}

func TestRealtimeConnectedOnAck(t *testing.T) {
	ch := newFakeChannel()
	s := newTestRealtime(t, ch)
	defer s.Close()

	if err := s.Connect(); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if s.IsConnected() {
		t.Fatal("connected before transport acknowledgment")
	}

	ch.push(ChannelEvent{Kind: ChannelSubscribed})
	mustEvent(t, s.Events(), EventConnected)
	if !s.IsConnected() {
		t.Fatal("not connected after acknowledgment")
	}
}

func TestRealtimePresenceSyncFullReplace(t *testing.T) {
	ch := newFakeChannel()
	s := newTestRealtime(t, ch)
	defer s.Close()
	if err := s.Connect(); err != nil {
		t.Fatalf("connect: %v", err)
	}

	ch.push(ChannelEvent{Kind: ChannelPresenceSync, Presences: []Participant{
		{ID: "u1", Name: "Ada"},
		{ID: "u2", Name: "Lin"},
		{ID: "stale", Name: "Gone"},
	}})
	mustEvent(t, s.Events(), EventPresenceSynced)

	// A second sync without "stale" must leave no leftover entry.
	ch.push(ChannelEvent{Kind: ChannelPresenceSync, Presences: []Participant{
		{ID: "u1", Name: "Ada"},
		{ID: "u2", Name: "Lin"},
	}})
	ev := mustEvent(t, s.Events(), EventPresenceSynced)
	if len(ev.Participants) != 2 {
		t.Fatalf("expected 2 participants in sync event, got %d", len(ev.Participants))
	}

	got := s.Participants()
	if len(got) != 2 {
		t.Fatalf("expected 2 participants, got %d", len(got))
	}
	for _, p := range got {
		if p.ID == "stale" {
			t.Fatal("stale participant survived full replace")
		}
		if p.Score != 0 || p.CorrectAnswers != 0 {
			t.Fatalf("expected zeroed progress, got %+v", p)
		}
	}
}

func TestRealtimeScoreUpdateAppliesByID(t *testing.T) {
	ch := newFakeChannel()
	s := newTestRealtime(t, ch)
	defer s.Close()
	if err := s.Connect(); err != nil {
		t.Fatalf("connect: %v", err)
	}

	ch.push(ChannelEvent{Kind: ChannelPresenceSync, Presences: []Participant{
		{ID: "u1"}, {ID: "u2"},
	}})
	mustEvent(t, s.Events(), EventPresenceSynced)

	before := time.Now()
	ch.pushBroadcast(t, BroadcastScoreUpdate, ScoreUpdate{
		ParticipantID: "u1", Score: 150, CorrectAnswers: 3, CurrentQuestion: 2,
	})
	ev := mustEvent(t, s.Events(), EventScoreUpdated)
	if ev.Score.Score != 150 {
		t.Fatalf("unexpected score event: %+v", ev.Score)
	}

	for _, p := range s.Participants() {
		switch p.ID {
		case "u1":
			if p.Score != 150 || p.CorrectAnswers != 3 || p.CurrentQuestion != 2 {
				t.Fatalf("u1 not updated: %+v", p)
			}
			if p.LastUpdate.Before(before) {
				t.Fatal("u1 lastUpdate did not advance")
			}
		case "u2":
			if p.Score != 0 || p.CorrectAnswers != 0 || p.CurrentQuestion != 0 {
				t.Fatalf("u2 should be unchanged: %+v", p)
			}
		}
	}
}

func TestRealtimeScoreUpdateForUnknownIDDropped(t *testing.T) {
	ch := newFakeChannel()
	s := newTestRealtime(t, ch)
	defer s.Close()
	if err := s.Connect(); err != nil {
		t.Fatalf("connect: %v", err)
	}

	ch.push(ChannelEvent{Kind: ChannelPresenceSync, Presences: []Participant{{ID: "u1"}}})
	mustEvent(t, s.Events(), EventPresenceSynced)

	ch.pushBroadcast(t, BroadcastScoreUpdate, ScoreUpdate{ParticipantID: "ghost", Score: 99})
	// The next event delivered must be the question change, proving the
	// ghost update produced neither an event nor an upsert.
	ch.pushBroadcast(t, BroadcastQuestionChange, QuestionChange{QuestionIndex: 5})

	ev := <-s.Events()
	if ev.Kind != EventQuestionChanged || ev.QuestionIndex != 5 {
		t.Fatalf("expected question change, got %+v", ev)
	}
	if len(s.Participants()) != 1 {
		t.Fatal("ghost participant was upserted")
	}
}

func TestRealtimeRoomUpdateStatus(t *testing.T) {
	ch := newFakeChannel()
	s := newTestRealtime(t, ch)
	defer s.Close()
	if err := s.Connect(); err != nil {
		t.Fatalf("connect: %v", err)
	}

	if s.Room().Status != StatusWaiting {
		t.Fatalf("expected initial status waiting, got %s", s.Room().Status)
	}

	active := StatusActive
	ch.pushBroadcast(t, BroadcastRoomUpdate, RoomPatch{Status: &active})
	mustEvent(t, s.Events(), EventRoomUpdated)
	if s.Room().Status != StatusActive {
		t.Fatalf("expected status active, got %s", s.Room().Status)
	}

	// A patch without status must leave it unchanged.
	total := 10
	ch.pushBroadcast(t, BroadcastRoomUpdate, RoomPatch{TotalQuestions: &total})
	mustEvent(t, s.Events(), EventRoomUpdated)
	room := s.Room()
	if room.Status != StatusActive {
		t.Fatalf("status changed by status-less patch: %s", room.Status)
	}
	if room.TotalQuestions != 10 {
		t.Fatalf("total questions not applied: %d", room.TotalQuestions)
	}
}

func TestRealtimeJoinAndLeave(t *testing.T) {
	ch := newFakeChannel()
	s := newTestRealtime(t, ch)
	defer s.Close()
	if err := s.Connect(); err != nil {
		t.Fatalf("connect: %v", err)
	}

	ch.push(ChannelEvent{Kind: ChannelPresenceJoin, Presence: Participant{
		ID: "u9", Name: "Zoe", Avatar: "🦊", Score: 777,
	}})
	ev := mustEvent(t, s.Events(), EventParticipantJoined)
	if ev.Participant.ID != "u9" || ev.Participant.Name != "Zoe" {
		t.Fatalf("unexpected join event: %+v", ev.Participant)
	}
	if ev.Participant.Score != 0 {
		t.Fatal("join notification must carry zeroed progress")
	}
	if len(s.Participants()) != 1 {
		t.Fatal("joined participant not added")
	}

	ch.push(ChannelEvent{Kind: ChannelPresenceLeave, Key: "u9"})
	ev = mustEvent(t, s.Events(), EventParticipantLeft)
	if ev.ParticipantID != "u9" {
		t.Fatalf("unexpected leave event: %+v", ev)
	}
	if len(s.Participants()) != 0 {
		t.Fatal("left participant not removed")
	}
}

func TestRealtimeUpdateScoreTracksAndBroadcasts(t *testing.T) {
	ch := newFakeChannel()
	s := newTestRealtime(t, ch)
	defer s.Close()
	if err := s.Connect(); err != nil {
		t.Fatalf("connect: %v", err)
	}

	s.UpdateScore(200, 4, 3)

	tracked := ch.lastTrack(t)
	if tracked.Score != 200 || tracked.CorrectAnswers != 4 || tracked.CurrentQuestion != 3 {
		t.Fatalf("presence not re-published with new values: %+v", tracked)
	}
	if !tracked.IsReady {
		t.Fatal("updateScore must mark presence ready")
	}

	ch.mu.Lock()
	defer ch.mu.Unlock()
	if len(ch.broadcasts) != 1 || ch.broadcasts[0].event != BroadcastScoreUpdate {
		t.Fatalf("expected one score_update broadcast, got %+v", ch.broadcasts)
	}
}

func TestRealtimeSetReadyPreservesProgress(t *testing.T) {
	ch := newFakeChannel()
	s := newTestRealtime(t, ch)
	defer s.Close()
	if err := s.Connect(); err != nil {
		t.Fatalf("connect: %v", err)
	}

	s.UpdateScore(100, 2, 1)
	s.SetReady(false)

	tracked := ch.lastTrack(t)
	if tracked.IsReady {
		t.Fatal("ready flag not cleared")
	}
	if tracked.Score != 100 || tracked.CorrectAnswers != 2 || tracked.CurrentQuestion != 1 {
		t.Fatalf("setReady zeroed the numeric fields: %+v", tracked)
	}

	ch.mu.Lock()
	defer ch.mu.Unlock()
	if len(ch.broadcasts) != 1 {
		t.Fatalf("setReady must not broadcast, got %d broadcasts", len(ch.broadcasts))
	}
}

func TestRealtimeCloseIdempotentAndSilent(t *testing.T) {
	ch := newFakeChannel()
	s := newTestRealtime(t, ch)
	if err := s.Connect(); err != nil {
		t.Fatalf("connect: %v", err)
	}
	ch.push(ChannelEvent{Kind: ChannelSubscribed})
	mustEvent(t, s.Events(), EventConnected)

	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if s.IsConnected() {
		t.Fatal("still connected after close")
	}

	// The event stream must terminate with no further events.
	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-s.Events():
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("event stream not closed after teardown")
		}
	}
}
