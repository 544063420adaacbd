package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/quizarena/roomsync/internal/store"
)

func TestRoomStateRoundtrip(t *testing.T) {
	s, err := New(":memory:")
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	defer s.Close()

	ctx := context.Background()

	if _, err := s.GetRoomState(ctx, "room42"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for missing room, got %v", err)
	}

	first := []byte(`{"participants":[{"id":"s1","score":10}]}`)
	if err := s.PutRoomState(ctx, "room42", first); err != nil {
		t.Fatalf("put: %v", err)
	}

	got, err := s.GetRoomState(ctx, "room42")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(got) != string(first) {
		t.Fatalf("unexpected state: %s", got)
	}

	// Last write wins at the record granularity.
	second := []byte(`{"participants":[{"id":"s1","score":10},{"id":"s2","score":20}]}`)
	if err := s.PutRoomState(ctx, "room42", second); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	got, err = s.GetRoomState(ctx, "room42")
	if err != nil {
		t.Fatalf("get after overwrite: %v", err)
	}
	if string(got) != string(second) {
		t.Fatalf("unexpected state after overwrite: %s", got)
	}
}

func TestRoomsAreIsolated(t *testing.T) {
	s, err := New(filepath.Join(t.TempDir(), "rooms.db"))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	defer s.Close()

	ctx := context.Background()
	if err := s.PutRoomState(ctx, "a", []byte(`{"participants":[]}`)); err != nil {
		t.Fatalf("put a: %v", err)
	}
	if _, err := s.GetRoomState(ctx, "b"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("room b should be empty, got %v", err)
	}
}
