package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/fedlink/internal/protocol"
	"github.com/rs/xid"
	"github.com/rs/zerolog/log"
)

// State is the session's position in the command state machine.
type State int32

const (
	StateIdle State = iota
	StateCommandInFlight
	StateAwaitingReply
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateCommandInFlight:
		return "command_in_flight"
	case StateAwaitingReply:
		return "awaiting_reply"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Option customises a Session at construction.
type Option func(*Session)

// WithCompletion replaces the grace-period completion used for training and
// benchmark commands.
func WithCompletion(c Completion) Option {
	return func(s *Session) {
		if c != nil {
			s.completion = c
		}
	}
}

// Session binds the transfer engine and dispatcher to one connected peer. All
// accumulation state lives here and is discarded with the session.
type Session struct {
	id         string
	cfg        Config
	layout     protocol.Layout
	total      int
	codec      protocol.Codec
	transport  Transport
	completion Completion

	// op admits a single outstanding operation.
	op    sync.Mutex
	state atomic.Int32

	weights    *weightBuffer
	prediction *predictionSlot

	lifeMu sync.Mutex
	opened bool
	life   context.Context
	stop   context.CancelCauseFunc
}

// New validates cfg and binds it to transport. The session is not usable until
// Open succeeds.
func New(transport Transport, cfg Config, opts ...Option) (*Session, error) {
	if transport == nil {
		return nil, fmt.Errorf("%w: nil transport", ErrTransportUnavailable)
	}
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	layout, err := protocol.NewLayout(cfg.Layers)
	if err != nil {
		return nil, err
	}
	life, stop := context.WithCancelCause(context.Background())
	s := &Session{
		id:         xid.New().String(),
		cfg:        cfg,
		layout:     layout,
		total:      layout.TotalWeights(),
		codec:      protocol.NewCodec(cfg.ByteOrder),
		transport:  transport,
		completion: GracePeriod{Training: cfg.TrainingGrace, Benchmark: cfg.BenchmarkGrace},
		weights:    newWeightBuffer(),
		prediction: newPredictionSlot(),
		life:       life,
		stop:       stop,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Session) ID() string { return s.id }

// Config returns a copy of the session configuration.
func (s *Session) Config() Config {
	cfg := s.cfg
	cfg.Layers = append([]int(nil), s.cfg.Layers...)
	return cfg
}

func (s *Session) Layout() protocol.Layout { return s.layout }

// TotalWeights is N, the exact number of floats every transfer moves.
func (s *Session) TotalWeights() int { return s.total }

func (s *Session) State() State { return State(s.state.Load()) }

// Open connects the transport and subscribes the weights-read and prediction
// endpoints.
func (s *Session) Open(ctx context.Context) error {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()
	if s.life.Err() != nil {
		return ErrSessionClosed
	}
	if s.opened {
		return nil
	}
	if err := s.transport.Connect(ctx); err != nil {
		return fmt.Errorf("%w: connect: %w", ErrTransportUnavailable, err)
	}
	if err := s.subscribe(ctx); err != nil {
		// Tear down the half-open link.
		if derr := s.transport.Disconnect(ctx); derr != nil {
			err = errors.Join(err, fmt.Errorf("disconnect after failed open: %w", derr))
		}
		return err
	}
	s.opened = true
	log.Info().
		Str("session", s.id).
		Ints("layers", s.cfg.Layers).
		Int("total_weights", s.total).
		Msg("session.Open ready")
	return nil
}

func (s *Session) subscribe(ctx context.Context) error {
	if err := s.transport.Subscribe(ctx, protocol.EndpointWeightsRead, s.onWeights); err != nil {
		return transportError("subscribe", protocol.EndpointWeightsRead, err)
	}
	if err := s.transport.Subscribe(ctx, protocol.EndpointPrediction, s.onPrediction); err != nil {
		return transportError("subscribe", protocol.EndpointPrediction, err)
	}
	return nil
}

// Close disconnects the transport. Any operation in flight returns
// ErrSessionClosed. Close is idempotent.
func (s *Session) Close(ctx context.Context) error {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()
	if s.life.Err() != nil {
		return nil
	}
	s.stop(ErrSessionClosed)
	if !s.opened {
		return nil
	}
	s.opened = false
	if err := s.transport.Disconnect(ctx); err != nil {
		return fmt.Errorf("%w: disconnect: %w", ErrTransportUnavailable, err)
	}
	log.Info().Str("session", s.id).Msg("session.Close disconnected")
	return nil
}

// onWeights is the weights-read notification producer.
func (s *Session) onWeights(payload []byte) {
	var (
		chunk []float32
		err   error
	)
	if n := len(payload) / protocol.FloatSize; n > s.cfg.ReceiveChunkFloats {
		err = fmt.Errorf("%w: notification carries %d floats, limit %d", protocol.ErrDecode, n, s.cfg.ReceiveChunkFloats)
	} else {
		chunk, err = s.codec.DecodeChunk(payload)
	}
	if !s.weights.push(chunk, err) {
		log.Debug().
			Str("session", s.id).
			Int("bytes", len(payload)).
			AnErr("err", err).
			Msg("session.onWeights notification not accepted")
		return
	}
	got, _ := s.weights.progress()
	log.Trace().Str("session", s.id).Msgf("session.onWeights chunk=%d total=%d/%d", len(chunk), got, s.total)
}

// onPrediction is the prediction notification producer.
func (s *Session) onPrediction(payload []byte) {
	values, err := s.codec.DecodePrediction(payload)
	if !s.prediction.put(Prediction(values), err) {
		log.Debug().
			Str("session", s.id).
			Int("bytes", len(payload)).
			AnErr("err", err).
			Msg("session.onPrediction notification not accepted")
	}
}

// begin claims the single operation slot. The returned release must be called
// exactly once.
func (s *Session) begin() (func(), error) {
	s.lifeMu.Lock()
	opened, closed := s.opened, s.life.Err() != nil
	s.lifeMu.Unlock()
	if closed {
		return nil, ErrSessionClosed
	}
	if !opened {
		return nil, ErrNotOpen
	}
	if !s.op.TryLock() {
		return nil, ErrSessionBusy
	}
	s.state.Store(int32(StateCommandInFlight))
	return func() {
		s.state.Store(int32(StateIdle))
		s.op.Unlock()
	}, nil
}

// bind derives an operation context that is cancelled with ErrSessionClosed
// when the session closes.
func (s *Session) bind(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancelCause(ctx)
	stop := context.AfterFunc(s.life, func() { cancel(ErrSessionClosed) })
	return ctx, func() {
		stop()
		cancel(nil)
	}
}

func (s *Session) writeCommand(ctx context.Context, cmd protocol.Command) error {
	if err := s.transport.Write(ctx, protocol.EndpointControl, cmd.Payload(), true); err != nil {
		if cause := context.Cause(ctx); cause != nil {
			return cause
		}
		return transportError("write "+cmd.String()+" to", protocol.EndpointControl, err)
	}
	return nil
}

// poll checks done every PollInterval until it reports completion, fails, or
// deadline passes. Waits are clamped to the deadline so the loop never
// sleeps past it.
func (s *Session) poll(ctx context.Context, deadline time.Time, done func() (bool, error)) error {
	for {
		ok, err := done()
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		now := time.Now()
		if !now.Before(deadline) {
			return ErrTimeout
		}
		timer := time.NewTimer(min(s.cfg.PollInterval, deadline.Sub(now)))
		select {
		case <-ctx.Done():
			timer.Stop()
			return context.Cause(ctx)
		case <-timer.C:
		}
	}
}

// sleep waits d or until ctx ends.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return context.Cause(ctx)
	case <-timer.C:
		return nil
	}
}
