package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/danmuck/fedlink/internal/observability"
	"github.com/danmuck/fedlink/internal/protocol"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/trace"
)

// ReceiveWeights requests the peer's weight vector and waits until exactly N
// floats have arrived on the weights-read endpoint. Chunks are appended in
// arrival order. On timeout the partial data is discarded.
func (s *Session) ReceiveWeights(ctx context.Context) (weights []float32, err error) {
	release, err := s.begin()
	if err != nil {
		return nil, err
	}
	defer release()

	start := time.Now()
	ctx, span := observability.StartSpan(ctx, "session.receive_weights",
		trace.WithAttributes(observability.StringAttr("session", s.id), observability.IntAttr("floats", s.total)))
	defer func() {
		observability.EndSpan(span, err)
		observability.LogOperation(log.Logger, s.id, "receive_weights", start, err, classify)
	}()
	ctx, cancel := s.bind(ctx)
	defer cancel()

	s.weights.arm(s.total)
	defer s.weights.disarm()

	if err := s.writeCommand(ctx, protocol.CommandGetWeights); err != nil {
		return nil, err
	}
	s.state.Store(int32(StateAwaitingReply))

	deadline := start.Add(s.cfg.ReceiveTimeout)
	err = s.poll(ctx, deadline, func() (bool, error) {
		got, err := s.weights.progress()
		if err != nil {
			return false, err
		}
		return got == s.total, nil
	})
	if err != nil {
		if errors.Is(err, ErrTimeout) {
			got, _ := s.weights.progress()
			return nil, fmt.Errorf("%w: received %d/%d weights after %v", ErrTimeout, got, s.total, s.cfg.ReceiveTimeout)
		}
		return nil, err
	}

	weights = s.weights.take()
	observability.RecordTransfer("get", len(weights))
	return weights, nil
}

// SendWeights uploads weights, which must hold exactly N floats. Chunks are
// encoded up front and written in index order; each acknowledged write gates
// the next. It returns the wall-clock duration of the whole operation.
func (s *Session) SendWeights(ctx context.Context, weights []float32) (elapsed time.Duration, err error) {
	if len(weights) != s.total {
		return 0, fmt.Errorf("%w: expected %d weights, got %d", ErrLengthMismatch, s.total, len(weights))
	}
	release, err := s.begin()
	if err != nil {
		return 0, err
	}
	defer release()

	start := time.Now()
	ctx, span := observability.StartSpan(ctx, "session.send_weights",
		trace.WithAttributes(observability.StringAttr("session", s.id), observability.IntAttr("floats", s.total)))
	defer func() {
		observability.EndSpan(span, err)
		observability.LogOperation(log.Logger, s.id, "send_weights", start, err, classify)
	}()
	ctx, cancel := s.bind(ctx)
	defer cancel()

	if err := s.writeCommand(ctx, protocol.CommandSetWeights); err != nil {
		return 0, err
	}
	if err := sleep(ctx, s.cfg.SendSettleDelay); err != nil {
		return 0, err
	}

	chunks, err := s.codec.EncodeChunks(weights, s.cfg.SendChunkFloats)
	if err != nil {
		return 0, err
	}
	sent := 0
	for i, chunk := range chunks {
		if err := s.transport.Write(ctx, protocol.EndpointWeightsWrite, chunk, true); err != nil {
			if cause := context.Cause(ctx); cause != nil {
				err = cause
			}
			return 0, &ChunkWriteError{Index: i, Total: len(chunks), Err: err}
		}
		sent += len(chunk) / protocol.FloatSize
		log.Debug().Str("session", s.id).Msgf("session.SendWeights chunk=%d/%d sent=%d/%d", i+1, len(chunks), sent, s.total)
	}

	elapsed = time.Since(start)
	observability.RecordTransfer("set", sent)
	return elapsed, nil
}
