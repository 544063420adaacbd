package broker

import "errors"

// Error codes sent to subscribers.
const (
	ErrCodeNotInChannel = "not_in_channel"
	ErrCodeBadRequest   = "bad_request"
	ErrCodeUnauthorized = "unauthorized"
)

var (
	ErrRoomExists      = errors.New("room already registered")
	ErrRoomNotFound    = errors.New("room not found")
	ErrInvalidJoinCode = errors.New("invalid join code")
)
