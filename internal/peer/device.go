// Package peer provides an in-process stand-in for the embedded device. It
// satisfies the session transport contract and mirrors the firmware's
// command handling, which makes it the reference counterpart for tests and
// the simulated CLI target.
package peer

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/danmuck/fedlink/internal/protocol"
	"github.com/rs/zerolog/log"
)

var (
	ErrNotConnected    = errors.New("peer: not connected")
	ErrNotNotifiable   = errors.New("peer: endpoint does not notify")
	ErrNotWritable     = errors.New("peer: endpoint is not writable")
	ErrUnexpectedWrite = errors.New("peer: weights written without SET_WEIGHTS")
	ErrOverflow        = errors.New("peer: weight buffer overflow")
	ErrChunkTooLarge   = errors.New("peer: chunk exceeds receive limit")
	ErrMalformed       = errors.New("peer: malformed payload")
	ErrInjected        = errors.New("peer: injected fault")
)

// Config shapes the simulated firmware.
type Config struct {
	Layers []int
	// SendChunkFloats is the notification size the peer streams weights in.
	SendChunkFloats int
	// ReceiveChunkFloats is the largest weights write the peer accepts.
	ReceiveChunkFloats int
	ByteOrder          protocol.ByteOrder
	// NotifyInterval spaces weight notifications, like the firmware's
	// post-notify delay.
	NotifyInterval time.Duration
	// AckDelay is added to every acknowledged write.
	AckDelay time.Duration
	// Weights seeds the on-device model; nil uses a deterministic pattern.
	Weights []float32
}

func DefaultConfig() Config {
	return Config{
		Layers:             append([]int(nil), protocol.DefaultLayers...),
		SendChunkFloats:    protocol.DefaultSendChunkFloats,
		ReceiveChunkFloats: protocol.DefaultReceiveChunkFloats,
		ByteOrder:          protocol.LittleEndian,
		NotifyInterval:     time.Millisecond,
	}
}

// Faults injects failures into the simulated link. Zero values disable each
// fault; chunk positions are 1-based.
type Faults struct {
	// TruncateGetAfter stops a weight stream after this many floats.
	TruncateGetAfter int
	// ExtraGetFloats appends surplus floats to a weight stream.
	ExtraGetFloats int
	// OddGetPayload makes the first weight notification 1 byte long.
	OddGetPayload bool
	// FailChunkWrite rejects the n-th weights write after SET_WEIGHTS.
	FailChunkWrite      int
	FailControl         bool
	FailLabel           bool
	FailSubscribe       bool
	FailConnect         bool
	SuppressPrediction  bool
	MalformedPrediction bool
}

// Write is one host write as observed by the peer.
type Write struct {
	Endpoint protocol.Endpoint
	Payload  []byte
	Ack      bool
}

// Device is the simulated peer. It is safe for concurrent use.
type Device struct {
	cfg    Config
	codec  protocol.Codec
	layout protocol.Layout
	total  int

	mu        sync.Mutex
	connected bool
	done      chan struct{}
	handlers  map[protocol.Endpoint]func([]byte)
	faults    Faults
	weights   []float32
	staged    []float32
	receiving bool
	chunkSeq  int
	label     uint8
	commands  map[protocol.Command]int
	labels    []uint8
	writes    []Write

	streams sync.WaitGroup
	// notify serialises handler calls so every endpoint sees ordered delivery.
	notify sync.Mutex
}

func New(cfg Config) (*Device, error) {
	def := DefaultConfig()
	if len(cfg.Layers) == 0 {
		cfg.Layers = def.Layers
	}
	if cfg.SendChunkFloats <= 0 {
		cfg.SendChunkFloats = def.SendChunkFloats
	}
	if cfg.ReceiveChunkFloats <= 0 {
		cfg.ReceiveChunkFloats = def.ReceiveChunkFloats
	}
	if cfg.ByteOrder == "" {
		cfg.ByteOrder = def.ByteOrder
	}
	layout, err := protocol.NewLayout(cfg.Layers)
	if err != nil {
		return nil, err
	}
	total := layout.TotalWeights()
	weights := make([]float32, total)
	if cfg.Weights != nil {
		if len(cfg.Weights) != total {
			return nil, fmt.Errorf("%w: seed has %d weights, layout needs %d", protocol.ErrLengthMismatch, len(cfg.Weights), total)
		}
		copy(weights, cfg.Weights)
	} else {
		for i := range weights {
			weights[i] = float32(math.Sin(float64(i)*0.37)) * 0.5
		}
	}
	return &Device{
		cfg:      cfg,
		codec:    protocol.NewCodec(cfg.ByteOrder),
		layout:   layout,
		total:    total,
		handlers: make(map[protocol.Endpoint]func([]byte)),
		weights:  weights,
		commands: make(map[protocol.Command]int),
	}, nil
}

// SetFaults replaces the active fault set.
func (d *Device) SetFaults(f Faults) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.faults = f
}

func (d *Device) Connect(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.faults.FailConnect {
		return fmt.Errorf("%w: connect", ErrInjected)
	}
	if d.connected {
		return nil
	}
	d.connected = true
	d.done = make(chan struct{})
	log.Debug().Msg("peer.Device.Connect connected")
	return nil
}

// Disconnect drops subscriptions and waits for in-progress notification
// streams to stop.
func (d *Device) Disconnect(ctx context.Context) error {
	d.mu.Lock()
	if !d.connected {
		d.mu.Unlock()
		return nil
	}
	d.connected = false
	close(d.done)
	d.handlers = make(map[protocol.Endpoint]func([]byte))
	d.receiving = false
	d.staged = nil
	d.mu.Unlock()

	d.streams.Wait()
	log.Debug().Msg("peer.Device.Disconnect disconnected")
	return nil
}

func (d *Device) Subscribe(ctx context.Context, endpoint protocol.Endpoint, handler func([]byte)) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.connected {
		return ErrNotConnected
	}
	if d.faults.FailSubscribe {
		return fmt.Errorf("%w: subscribe %s", ErrInjected, endpoint)
	}
	switch endpoint {
	case protocol.EndpointWeightsRead, protocol.EndpointPrediction:
	default:
		return fmt.Errorf("%w: %s", ErrNotNotifiable, endpoint)
	}
	d.handlers[endpoint] = handler
	return nil
}

func (d *Device) Write(ctx context.Context, endpoint protocol.Endpoint, payload []byte, requireAck bool) error {
	if requireAck && d.cfg.AckDelay > 0 {
		timer := time.NewTimer(d.cfg.AckDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.connected {
		return ErrNotConnected
	}
	d.writes = append(d.writes, Write{
		Endpoint: endpoint,
		Payload:  append([]byte(nil), payload...),
		Ack:      requireAck,
	})

	switch endpoint {
	case protocol.EndpointControl:
		return d.handleControlLocked(payload)
	case protocol.EndpointWeightsWrite:
		return d.handleWeightsLocked(payload)
	case protocol.EndpointLabel:
		if d.faults.FailLabel {
			return fmt.Errorf("%w: label write", ErrInjected)
		}
		if len(payload) != 1 {
			return fmt.Errorf("%w: label needs 1 byte, got %d", ErrMalformed, len(payload))
		}
		d.label = payload[0]
		return nil
	default:
		return fmt.Errorf("%w: %s", ErrNotWritable, endpoint)
	}
}

func (d *Device) handleControlLocked(payload []byte) error {
	if d.faults.FailControl {
		return fmt.Errorf("%w: control write", ErrInjected)
	}
	if len(payload) != 1 {
		return fmt.Errorf("%w: command needs 1 byte, got %d", ErrMalformed, len(payload))
	}
	cmd := protocol.Command(payload[0])
	d.commands[cmd]++
	log.Debug().Msgf("peer.Device received command=%s", cmd)

	switch cmd {
	case protocol.CommandGetWeights:
		d.startWeightStreamLocked()
	case protocol.CommandSetWeights:
		d.receiving = true
		d.chunkSeq = 0
		d.staged = make([]float32, 0, d.total)
	case protocol.CommandStartClassification:
		d.startPredictionLocked()
	case protocol.CommandStartTraining, protocol.CommandStartTrainingBenchmark:
		d.labels = append(d.labels, d.label)
	case protocol.CommandStartInferenceBenchmark, protocol.CommandNone:
	default:
		log.Warn().Msgf("peer.Device unknown command=%d", uint8(cmd))
	}
	return nil
}

func (d *Device) handleWeightsLocked(payload []byte) error {
	if !d.receiving {
		return ErrUnexpectedWrite
	}
	d.chunkSeq++
	if d.faults.FailChunkWrite > 0 && d.chunkSeq == d.faults.FailChunkWrite {
		return fmt.Errorf("%w: chunk %d", ErrInjected, d.chunkSeq)
	}
	if len(payload)/protocol.FloatSize > d.cfg.ReceiveChunkFloats {
		return fmt.Errorf("%w: %d floats", ErrChunkTooLarge, len(payload)/protocol.FloatSize)
	}
	values, err := d.codec.DecodeChunk(payload)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	if len(d.staged)+len(values) > d.total {
		d.staged = d.staged[:0]
		d.receiving = false
		return ErrOverflow
	}
	d.staged = append(d.staged, values...)
	if len(d.staged) == d.total {
		copy(d.weights, d.staged)
		d.receiving = false
		d.staged = nil
		log.Debug().Msgf("peer.Device weight transfer complete total=%d", d.total)
	}
	return nil
}

func (d *Device) startWeightStreamLocked() {
	handler := d.handlers[protocol.EndpointWeightsRead]
	if handler == nil {
		return
	}
	values := append([]float32(nil), d.weights...)
	if n := d.faults.TruncateGetAfter; n > 0 && n < len(values) {
		values = values[:n]
	}
	for i := 0; i < d.faults.ExtraGetFloats; i++ {
		values = append(values, 0)
	}
	payloads, err := d.codec.EncodeChunks(values, d.cfg.SendChunkFloats)
	if err != nil {
		log.Error().Err(err).Msg("peer.Device weight stream encode failed")
		return
	}
	if d.faults.OddGetPayload && len(payloads) > 0 {
		payloads[0] = payloads[0][:1]
	}
	d.emitLocked(handler, payloads, d.cfg.NotifyInterval)
}

func (d *Device) startPredictionLocked() {
	handler := d.handlers[protocol.EndpointPrediction]
	if handler == nil || d.faults.SuppressPrediction {
		return
	}
	payload := d.codec.EncodeChunk(d.predictLocked())
	if d.faults.MalformedPrediction {
		payload = payload[:len(payload)-protocol.FloatSize]
	}
	d.emitLocked(handler, [][]byte{payload}, 0)
}

// emitLocked delivers payloads to handler in order from a separate goroutine,
// stopping early if the link drops.
func (d *Device) emitLocked(handler func([]byte), payloads [][]byte, interval time.Duration) {
	done := d.done
	d.streams.Add(1)
	go func() {
		defer d.streams.Done()
		d.notify.Lock()
		defer d.notify.Unlock()
		for _, payload := range payloads {
			if interval > 0 {
				timer := time.NewTimer(interval)
				select {
				case <-done:
					timer.Stop()
					return
				case <-timer.C:
				}
			}
			select {
			case <-done:
				return
			default:
			}
			handler(payload)
		}
	}()
}

// predictLocked derives class probabilities from the output layer: a softmax
// over the row sums of the last weight matrix.
func (d *Device) predictLocked() []float32 {
	matrices, err := d.layout.Split(d.weights)
	if err != nil || len(matrices) == 0 {
		return []float32{1, 0, 0}
	}
	last := matrices[len(matrices)-1]
	scores := make([]float64, protocol.PredictionFloats)
	for i := range scores {
		if i < len(last) {
			for _, w := range last[i] {
				scores[i] += float64(w)
			}
		}
	}
	maxScore := scores[0]
	for _, s := range scores[1:] {
		maxScore = math.Max(maxScore, s)
	}
	var sum float64
	for i := range scores {
		scores[i] = math.Exp(scores[i] - maxScore)
		sum += scores[i]
	}
	out := make([]float32, len(scores))
	for i := range scores {
		out[i] = float32(scores[i] / sum)
	}
	return out
}

// Weights returns a copy of the on-device model.
func (d *Device) Weights() []float32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]float32(nil), d.weights...)
}

// CommandCount reports how many times cmd was received.
func (d *Device) CommandCount(cmd protocol.Command) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.commands[cmd]
}

// TrainedLabels lists the labels latched by each training or training
// benchmark command, in order.
func (d *Device) TrainedLabels() []uint8 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]uint8(nil), d.labels...)
}

// Writes returns every host write observed so far.
func (d *Device) Writes() []Write {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Write, len(d.writes))
	copy(out, d.writes)
	return out
}

// WritesTo filters Writes by endpoint.
func (d *Device) WritesTo(endpoint protocol.Endpoint) []Write {
	var out []Write
	for _, w := range d.Writes() {
		if w.Endpoint == endpoint {
			out = append(out, w)
		}
	}
	return out
}

func (d *Device) TotalWeights() int { return d.total }
