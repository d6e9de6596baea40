package domain

import "errors"

var (
	ErrInvalidJob    = errors.New("invalid job")
	ErrDuplicateJob  = errors.New("duplicate job")
	ErrQueueFull     = errors.New("queue full")
	ErrQueueClosed   = errors.New("queue closed")
	ErrNotConnected  = errors.New("not connected")
	ErrEngineFailure = errors.New("engine failure")
)
