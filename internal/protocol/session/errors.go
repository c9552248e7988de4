package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/danmuck/fedlink/internal/observability"
	"github.com/danmuck/fedlink/internal/protocol"
	"github.com/rs/zerolog"
)

var (
	ErrTransportUnavailable = errors.New("session: transport unavailable")
	ErrTimeout              = errors.New("session: timeout")
	ErrInvalidLabel         = errors.New("session: invalid label")
	ErrChunkWriteFailed     = errors.New("session: chunk write failed")
	ErrSessionBusy          = errors.New("session: operation already in flight")
	ErrSessionClosed        = errors.New("session: closed")
	ErrNotOpen              = errors.New("session: not open")

	// ErrLengthMismatch and ErrDecode share identity with the codec errors so
	// one errors.Is check covers both layers.
	ErrLengthMismatch = protocol.ErrLengthMismatch
	ErrDecode         = protocol.ErrDecode
)

// ChunkWriteError reports the chunk whose write aborted a weight upload.
type ChunkWriteError struct {
	Index int
	Total int
	Err   error
}

func (e *ChunkWriteError) Error() string {
	return fmt.Sprintf("session: chunk %d/%d write failed: %v", e.Index+1, e.Total, e.Err)
}

func (e *ChunkWriteError) Unwrap() []error {
	return []error{ErrChunkWriteFailed, e.Err}
}

// Kind is the caller-facing failure class of an operation error.
type Kind int

const (
	KindNone Kind = iota
	KindTransportUnavailable
	KindTimeout
	KindLengthMismatch
	KindInvalidLabel
	KindChunkWriteFailed
	KindDecode
	KindBusy
	KindClosed
	KindCanceled
	KindUnknown
)

var kindNames = map[Kind]string{
	KindNone:                 "ok",
	KindTransportUnavailable: "transport_unavailable",
	KindTimeout:              "timeout",
	KindLengthMismatch:       "length_mismatch",
	KindInvalidLabel:         "invalid_label",
	KindChunkWriteFailed:     "chunk_write_failed",
	KindDecode:               "decode_error",
	KindBusy:                 "busy",
	KindClosed:               "closed",
	KindCanceled:             "canceled",
	KindUnknown:              "unknown",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// Level is the log level for an operation ending in k. Failures the caller
// can retry or correct log at warn; link and data faults log at error.
func (k Kind) Level() zerolog.Level {
	switch k {
	case KindNone:
		return zerolog.InfoLevel
	case KindTimeout, KindInvalidLabel, KindLengthMismatch, KindBusy, KindCanceled:
		return zerolog.WarnLevel
	default:
		return zerolog.ErrorLevel
	}
}

// KindOf classifies err. Chunk failures are checked before transport
// failures since a ChunkWriteError usually wraps a transport cause.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrChunkWriteFailed):
		return KindChunkWriteFailed
	case errors.Is(err, ErrInvalidLabel):
		return KindInvalidLabel
	case errors.Is(err, ErrLengthMismatch):
		return KindLengthMismatch
	case errors.Is(err, ErrDecode):
		return KindDecode
	case errors.Is(err, ErrTimeout):
		return KindTimeout
	case errors.Is(err, ErrSessionBusy):
		return KindBusy
	case errors.Is(err, ErrSessionClosed), errors.Is(err, ErrNotOpen):
		return KindClosed
	case errors.Is(err, ErrTransportUnavailable):
		return KindTransportUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindCanceled
	default:
		return KindUnknown
	}
}

func classify(err error) observability.Outcome {
	k := KindOf(err)
	return observability.Outcome{Kind: k.String(), Level: k.Level()}
}

func transportError(action string, endpoint protocol.Endpoint, err error) error {
	return fmt.Errorf("%w: %s %s: %w", ErrTransportUnavailable, action, endpoint, err)
}
