package benchmark

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/danmuck/fedlink/internal/observability"
	"github.com/danmuck/fedlink/internal/protocol/session"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/trace"
)

const (
	OpGet = "get_weights"
	OpSet = "set_weights"
)

var (
	ErrNoSamples     = errors.New("benchmark: no successful trials")
	ErrInvalidConfig = errors.New("benchmark: invalid config")
)

// Transferer is the slice of a session the timer drives.
type Transferer interface {
	ReceiveWeights(ctx context.Context) ([]float32, error)
	SendWeights(ctx context.Context, weights []float32) (time.Duration, error)
	TotalWeights() int
}

type Config struct {
	Trials int
	// Cooldown is the idle time between the end of one trial and the start
	// of the next.
	Cooldown time.Duration
	// WeightStdDev shapes the normal(0, σ) vector uploaded by MeasureSet.
	WeightStdDev float64
	// Seed fixes the upload vector; zero draws a random seed.
	Seed uint64
}

func DefaultConfig() Config {
	return Config{
		Trials:       5,
		Cooldown:     time.Second,
		WeightStdDev: 0.5,
	}
}

func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	if c.Trials == 0 {
		c.Trials = def.Trials
	}
	if c.Cooldown == 0 {
		c.Cooldown = def.Cooldown
	}
	if c.WeightStdDev == 0 {
		c.WeightStdDev = def.WeightStdDev
	}
	return c
}

func (c Config) Validate() error {
	if c.Trials <= 0 {
		return fmt.Errorf("%w: trials=%d", ErrInvalidConfig, c.Trials)
	}
	if c.Cooldown < 0 {
		return fmt.Errorf("%w: cooldown=%v", ErrInvalidConfig, c.Cooldown)
	}
	if c.WeightStdDev < 0 {
		return fmt.Errorf("%w: weight stddev=%v", ErrInvalidConfig, c.WeightStdDev)
	}
	return nil
}

// Timer repeats weight transfers and keeps the per-operation duration history
// of the latest run.
type Timer struct {
	op   Transferer
	cfg  Config
	rest *cooldown
	rng  *rand.Rand

	mu      sync.Mutex
	history map[string][]time.Duration
}

func New(op Transferer, cfg Config) (*Timer, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = rand.Uint64()
	}
	return &Timer{
		op:      op,
		cfg:     cfg,
		rest:    newCooldown(cfg.Cooldown),
		rng:     rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		history: make(map[string][]time.Duration),
	}, nil
}

// MeasureGet times Trials weight downloads.
func (t *Timer) MeasureGet(ctx context.Context) (*Stats, error) {
	return t.measure(ctx, OpGet, func(ctx context.Context) error {
		_, err := t.op.ReceiveWeights(ctx)
		return err
	})
}

// MeasureSet times Trials uploads of one random normal(0, σ) vector.
func (t *Timer) MeasureSet(ctx context.Context) (*Stats, error) {
	weights := t.randomWeights()
	return t.measure(ctx, OpSet, func(ctx context.Context) error {
		_, err := t.op.SendWeights(ctx, weights)
		return err
	})
}

// MeasureBoth runs MeasureGet then MeasureSet. A run with no successful
// trials yields nil stats without stopping the other.
func (t *Timer) MeasureBoth(ctx context.Context) (get, set *Stats, err error) {
	get, err = t.MeasureGet(ctx)
	if err != nil && !errors.Is(err, ErrNoSamples) {
		return get, nil, err
	}
	set, err2 := t.MeasureSet(ctx)
	return get, set, errors.Join(err, err2)
}

// Summary reports count and timing per operation over the latest runs.
// Operations without successful trials are omitted.
func (t *Timer) Summary() map[string]Summary {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]Summary, len(t.history))
	for op, times := range t.history {
		if s, ok := summarize(times); ok {
			out[op] = s
		}
	}
	return out
}

func (t *Timer) measure(ctx context.Context, op string, run func(context.Context) error) (*Stats, error) {
	bits := t.op.TotalWeights() * BitsPerFloat
	t.reset(op)
	log.Info().Msgf("benchmark.Timer.measure op=%s trials=%d", op, t.cfg.Trials)

	failures := 0
	for i := range t.cfg.Trials {
		if err := t.rest.wait(ctx); err != nil {
			return nil, err
		}
		d, err := t.trial(ctx, op, i, run)
		t.rest.start(time.Now())
		if err != nil {
			if fatal(ctx, err) {
				return nil, err
			}
			failures++
			log.Warn().Err(err).Msgf("benchmark.Timer trial=%d/%d op=%s failed kind=%s", i+1, t.cfg.Trials, op, session.KindOf(err))
			continue
		}
		kbps := Rate(bits, d)
		t.record(op, d)
		observability.RecordTrialRate(op, kbps)
		log.Info().Msgf("benchmark.Timer trial=%d/%d op=%s duration=%.3fs rate=%.2fkbit/s", i+1, t.cfg.Trials, op, d.Seconds(), kbps)
	}

	stats := Compute(op, t.times(op), bits)
	if stats == nil {
		log.Warn().Msgf("benchmark.Timer op=%s no successful trials of %d", op, t.cfg.Trials)
		return nil, fmt.Errorf("%w: %s failed %d/%d", ErrNoSamples, op, failures, t.cfg.Trials)
	}
	stats.Failures = failures
	log.Info().Msgf("benchmark.Timer result %s", stats)
	return stats, nil
}

func (t *Timer) trial(ctx context.Context, op string, i int, run func(context.Context) error) (d time.Duration, err error) {
	ctx, span := observability.StartSpan(ctx, "benchmark.trial",
		trace.WithAttributes(observability.StringAttr("op", op), observability.IntAttr("trial", i+1)))
	defer func() { observability.EndSpan(span, err) }()

	start := time.Now()
	if err := run(ctx); err != nil {
		return 0, err
	}
	return time.Since(start), nil
}

// fatal reports errors that will fail every remaining trial.
func fatal(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return true
	}
	switch session.KindOf(err) {
	case session.KindClosed, session.KindCanceled:
		return true
	}
	return false
}

func (t *Timer) randomWeights() []float32 {
	return NormalWeights(t.rng, t.op.TotalWeights(), t.cfg.WeightStdDev)
}

// NormalWeights draws n values from normal(0, stddev).
func NormalWeights(rng *rand.Rand, n int, stddev float64) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(rng.NormFloat64() * stddev)
	}
	return out
}

func (t *Timer) reset(op string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.history[op] = nil
}

func (t *Timer) record(op string, d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.history[op] = append(t.history[op], d)
}

func (t *Timer) times(op string) []time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]time.Duration(nil), t.history[op]...)
}
