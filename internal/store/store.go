package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned when no state has been written for a room yet.
var ErrNotFound = errors.New("room state not found")

// Store is the shared rendezvous the polling fallback uses in place of
// a real-time transport: one serialized blob per room id, last write
// wins. Concurrent writers are expected to read-modify-write the whole
// blob; the store itself does no conflict detection.
type Store interface {
	// GetRoomState returns the serialized state blob for a room, or
	// ErrNotFound if nothing has been written yet.
	GetRoomState(ctx context.Context, roomID string) ([]byte, error)

	// PutRoomState replaces the serialized state blob for a room.
	PutRoomState(ctx context.Context, roomID string, state []byte) error

	// Close releases the underlying resources.
	Close() error
}
