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

// Classify triggers one on-device classification and waits for the
// prediction notification.
func (s *Session) Classify(ctx context.Context) (pred Prediction, err error) {
	release, err := s.begin()
	if err != nil {
		return Prediction{}, err
	}
	defer release()

	start := time.Now()
	ctx, span := observability.StartSpan(ctx, "session.classify",
		trace.WithAttributes(observability.StringAttr("session", s.id)))
	defer func() {
		observability.EndSpan(span, err)
		observability.LogOperation(log.Logger, s.id, "classify", start, err, classify)
	}()
	ctx, cancel := s.bind(ctx)
	defer cancel()

	s.prediction.arm()
	defer s.prediction.disarm()

	if err := s.writeCommand(ctx, protocol.CommandStartClassification); err != nil {
		return Prediction{}, err
	}
	s.state.Store(int32(StateAwaitingReply))

	err = s.poll(ctx, start.Add(s.cfg.ClassifyTimeout), func() (bool, error) {
		p, ok, err := s.prediction.get()
		if ok {
			pred = p
		}
		return ok, err
	})
	if err != nil {
		if errors.Is(err, ErrTimeout) {
			return Prediction{}, fmt.Errorf("%w: no prediction after %v", ErrTimeout, s.cfg.ClassifyTimeout)
		}
		return Prediction{}, err
	}
	log.Info().Str("session", s.id).Msgf("session.Classify result class=%q %s", pred.Class(), pred)
	return pred, nil
}

// Train writes label to the label endpoint, starts one on-device training
// step and waits for the configured Completion.
func (s *Session) Train(ctx context.Context, label Label) error {
	return s.labelledCommand(ctx, "train", protocol.CommandStartTraining, label)
}

// TrainingBenchmark runs the peer's training timing loop for label. Timing
// results are reported by the peer on its own channel.
func (s *Session) TrainingBenchmark(ctx context.Context, label Label) error {
	return s.labelledCommand(ctx, "training_benchmark", protocol.CommandStartTrainingBenchmark, label)
}

// InferenceBenchmark runs the peer's inference timing loop.
func (s *Session) InferenceBenchmark(ctx context.Context) (err error) {
	release, err := s.begin()
	if err != nil {
		return err
	}
	defer release()

	start := time.Now()
	ctx, span := observability.StartSpan(ctx, "session.inference_benchmark",
		trace.WithAttributes(observability.StringAttr("session", s.id)))
	defer func() {
		observability.EndSpan(span, err)
		observability.LogOperation(log.Logger, s.id, "inference_benchmark", start, err, classify)
	}()
	ctx, cancel := s.bind(ctx)
	defer cancel()

	if err := s.writeCommand(ctx, protocol.CommandStartInferenceBenchmark); err != nil {
		return err
	}
	return s.await(ctx, protocol.CommandStartInferenceBenchmark)
}

// labelledCommand validates label before any transport I/O, then writes the
// label followed by cmd.
func (s *Session) labelledCommand(ctx context.Context, op string, cmd protocol.Command, label Label) (err error) {
	if err := label.Validate(); err != nil {
		return err
	}
	release, err := s.begin()
	if err != nil {
		return err
	}
	defer release()

	start := time.Now()
	ctx, span := observability.StartSpan(ctx, "session."+op,
		trace.WithAttributes(observability.StringAttr("session", s.id), observability.IntAttr("label", int(label))))
	defer func() {
		observability.EndSpan(span, err)
		observability.LogOperation(log.Logger, s.id, op, start, err, classify)
	}()
	ctx, cancel := s.bind(ctx)
	defer cancel()

	if err := s.transport.Write(ctx, protocol.EndpointLabel, protocol.EncodeLabel(uint8(label)), true); err != nil {
		if cause := context.Cause(ctx); cause != nil {
			return cause
		}
		return transportError("write label to", protocol.EndpointLabel, err)
	}
	if err := s.writeCommand(ctx, cmd); err != nil {
		return err
	}
	return s.await(ctx, cmd)
}

func (s *Session) await(ctx context.Context, cmd protocol.Command) error {
	s.state.Store(int32(StateAwaitingReply))
	if err := s.completion.Await(ctx, cmd); err != nil {
		return err
	}
	log.Debug().Str("session", s.id).Msgf("session.await complete cmd=%s", cmd)
	return nil
}
