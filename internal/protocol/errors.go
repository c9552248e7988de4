package protocol

import "errors"

var (
	ErrDecode          = errors.New("protocol: decode error")
	ErrInvalidLayout   = errors.New("protocol: invalid layer layout")
	ErrLengthMismatch  = errors.New("protocol: weight count mismatch")
	ErrInvalidChunkMax = errors.New("protocol: chunk limit must be positive")
	ErrUnknownOrder    = errors.New("protocol: unknown byte order")
)
