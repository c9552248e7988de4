package benchmark

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/fedlink/internal/peer"
	"github.com/danmuck/fedlink/internal/protocol/session"
	"github.com/danmuck/fedlink/internal/testutil/testlog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scripted struct {
	mu      sync.Mutex
	total   int
	delay   time.Duration
	fail    map[int]error
	calls   int
	started []time.Time
	ended   []time.Time
	sent    [][]float32
}

func (s *scripted) next() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.started = append(s.started, time.Now())
	return s.fail[s.calls]
}

func (s *scripted) finish() {
	d := s.delay
	if d == 0 {
		d = time.Millisecond
	}
	time.Sleep(d)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ended = append(s.ended, time.Now())
}

func (s *scripted) ReceiveWeights(ctx context.Context) ([]float32, error) {
	if err := s.next(); err != nil {
		return nil, err
	}
	s.finish()
	return make([]float32, s.total), nil
}

func (s *scripted) SendWeights(ctx context.Context, weights []float32) (time.Duration, error) {
	s.mu.Lock()
	s.sent = append(s.sent, weights)
	s.mu.Unlock()
	if err := s.next(); err != nil {
		return 0, err
	}
	s.finish()
	return time.Millisecond, nil
}

func (s *scripted) TotalWeights() int { return s.total }

func fastConfig(trials int) Config {
	return Config{Trials: trials, Cooldown: 5 * time.Millisecond, Seed: 7}
}

func TestComputeStatistics(t *testing.T) {
	testlog.Start(t)
	st := Compute(OpGet, []time.Duration{time.Second, 2 * time.Second, 3 * time.Second}, 840*BitsPerFloat)
	require.NotNil(t, st)
	assert.Equal(t, 3, st.Trials)
	assert.Equal(t, 2*time.Second, st.AvgTime)
	assert.Equal(t, time.Second, st.MinTime)
	assert.Equal(t, 3*time.Second, st.MaxTime)
	require.NotNil(t, st.StdDev)
	assert.Equal(t, time.Second, *st.StdDev)
	assert.InDelta(t, 13.44, st.AvgRateKbps, 1e-9)

	single := Compute(OpSet, []time.Duration{1500 * time.Millisecond}, 100)
	require.NotNil(t, single)
	assert.Nil(t, single.StdDev)
	assert.Equal(t, 1500*time.Millisecond, single.AvgTime)

	assert.Nil(t, Compute(OpGet, nil, 100))
	assert.Equal(t, "no successful trials", (*Stats)(nil).String())
}

func TestRate(t *testing.T) {
	testlog.Start(t)
	assert.InDelta(t, 26.88, Rate(26880, time.Second), 1e-9)
	assert.Equal(t, 0.0, Rate(100, 0))
}

func TestMeasureExcludesFailedTrials(t *testing.T) {
	testlog.Start(t)
	op := &scripted{total: 840, fail: map[int]error{2: session.ErrTimeout, 4: session.ErrTimeout}}
	timer, err := New(op, fastConfig(5))
	require.NoError(t, err)

	st, err := timer.MeasureGet(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, st.Trials)
	assert.Equal(t, 2, st.Failures)
	assert.Equal(t, 5, op.calls)
	assert.Equal(t, 3, timer.Summary()[OpGet].Count)
}

func TestMeasureRestsAfterEachTrial(t *testing.T) {
	testlog.Start(t)
	// Trials outlast the cooldown, so spacing by start time alone would leave
	// no idle gap at all.
	op := &scripted{total: 10, delay: 60 * time.Millisecond}
	cfg := fastConfig(3)
	cfg.Cooldown = 50 * time.Millisecond
	timer, err := New(op, cfg)
	require.NoError(t, err)

	_, err = timer.MeasureGet(context.Background())
	require.NoError(t, err)
	require.Len(t, op.started, 3)
	require.Len(t, op.ended, 3)
	for i := 1; i < len(op.started); i++ {
		idle := op.started[i].Sub(op.ended[i-1])
		assert.GreaterOrEqual(t, idle, 45*time.Millisecond, "idle before trial %d", i+1)
		assert.Less(t, idle, 150*time.Millisecond, "idle before trial %d", i+1)
	}
}

func TestMeasureRestsAfterFailedTrial(t *testing.T) {
	testlog.Start(t)
	op := &scripted{total: 10, fail: map[int]error{1: session.ErrTimeout}}
	cfg := fastConfig(2)
	cfg.Cooldown = 40 * time.Millisecond
	timer, err := New(op, cfg)
	require.NoError(t, err)

	_, err = timer.MeasureGet(context.Background())
	require.NoError(t, err)
	require.Len(t, op.started, 2)
	assert.GreaterOrEqual(t, op.started[1].Sub(op.started[0]), 35*time.Millisecond)
}

func TestCooldownWaitsFullPeriodFromStart(t *testing.T) {
	testlog.Start(t)
	c := newCooldown(30 * time.Millisecond)
	begin := time.Now()
	require.NoError(t, c.wait(context.Background()))
	assert.Less(t, time.Since(begin), 10*time.Millisecond, "first wait must not block")

	c.start(time.Now())
	begin = time.Now()
	require.NoError(t, c.wait(context.Background()))
	assert.GreaterOrEqual(t, time.Since(begin), 25*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c.start(time.Now())
	assert.Error(t, c.wait(ctx))

	none := newCooldown(0)
	none.start(time.Now())
	require.NoError(t, none.wait(context.Background()))
}

func TestMeasureAllFailedReportsNoSamples(t *testing.T) {
	testlog.Start(t)
	op := &scripted{total: 10, fail: map[int]error{1: session.ErrTimeout, 2: session.ErrTimeout}}
	timer, err := New(op, fastConfig(2))
	require.NoError(t, err)

	st, err := timer.MeasureGet(context.Background())
	assert.Nil(t, st)
	assert.ErrorIs(t, err, ErrNoSamples)
	_, ok := timer.Summary()[OpGet]
	assert.False(t, ok)
}

func TestMeasureStopsWhenSessionClosed(t *testing.T) {
	testlog.Start(t)
	op := &scripted{total: 10, fail: map[int]error{1: session.ErrSessionClosed}}
	timer, err := New(op, fastConfig(4))
	require.NoError(t, err)

	_, err = timer.MeasureGet(context.Background())
	assert.ErrorIs(t, err, session.ErrSessionClosed)
	assert.Equal(t, 1, op.calls)
}

func TestMeasureSetUploadsOneNormalVector(t *testing.T) {
	testlog.Start(t)
	op := &scripted{total: 2000}
	timer, err := New(op, fastConfig(3))
	require.NoError(t, err)

	_, err = timer.MeasureSet(context.Background())
	require.NoError(t, err)
	require.Len(t, op.sent, 3)
	assert.Equal(t, op.sent[0], op.sent[2])

	var sum, sq float64
	for _, w := range op.sent[0] {
		sum += float64(w)
		sq += float64(w) * float64(w)
	}
	n := float64(len(op.sent[0]))
	mean := sum / n
	assert.InDelta(t, 0, mean, 0.05)
	assert.InDelta(t, 0.25, sq/n-mean*mean, 0.05)
}

func TestHistoryResetsPerRun(t *testing.T) {
	testlog.Start(t)
	op := &scripted{total: 10}
	timer, err := New(op, fastConfig(3))
	require.NoError(t, err)

	_, err = timer.MeasureGet(context.Background())
	require.NoError(t, err)
	op.fail = map[int]error{4: errors.New("drop")}
	_, err = timer.MeasureGet(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, timer.Summary()[OpGet].Count)
}

func TestMeasureBothAgainstSimulatedPeer(t *testing.T) {
	testlog.Start(t)
	dev, err := peer.New(peer.DefaultConfig())
	require.NoError(t, err)
	cfg := session.DefaultConfig()
	cfg.PollInterval = 2 * time.Millisecond
	cfg.SendSettleDelay = 0
	s, err := session.New(dev, cfg)
	require.NoError(t, err)
	require.NoError(t, s.Open(context.Background()))
	t.Cleanup(func() { _ = s.Close(context.Background()) })

	timer, err := New(s, fastConfig(2))
	require.NoError(t, err)
	get, set, err := timer.MeasureBoth(context.Background())
	require.NoError(t, err)
	require.NotNil(t, get)
	require.NotNil(t, set)
	assert.Equal(t, 2, get.Trials)
	assert.Equal(t, 2, set.Trials)
	assert.Greater(t, get.AvgRateKbps, 0.0)

	summary := timer.Summary()
	assert.Len(t, summary, 2)
	assert.Equal(t, 2, summary[OpSet].Count)
}

func TestConfigValidation(t *testing.T) {
	testlog.Start(t)
	_, err := New(&scripted{}, Config{Trials: -1})
	assert.ErrorIs(t, err, ErrInvalidConfig)
	_, err = New(&scripted{}, Config{Cooldown: -time.Second})
	assert.ErrorIs(t, err, ErrInvalidConfig)

	cfg := Config{}.WithDefaults()
	assert.Equal(t, 5, cfg.Trials)
	assert.Equal(t, time.Second, cfg.Cooldown)
	assert.Equal(t, 0.5, cfg.WeightStdDev)
}
