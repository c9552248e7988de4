package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/danmuck/fedlink/internal/protocol"
)

var ErrInvalidConfig = errors.New("session: invalid config")

// Config is the peer compatibility contract plus host-side wait bounds. It is
// built once at startup and copied into each Session.
type Config struct {
	Layers []int
	// ReceiveChunkFloats caps one inbound weights notification.
	ReceiveChunkFloats int
	// SendChunkFloats caps one outbound weights write. The default of 32
	// takes 27 writes for the 840-weight model. The peer's write
	// characteristic accepts up to ReceiveChunkFloats (52) per write, so 52
	// is also safe and takes 17.
	SendChunkFloats int
	ByteOrder       protocol.ByteOrder

	PollInterval    time.Duration
	ReceiveTimeout  time.Duration
	ClassifyTimeout time.Duration
	// SendSettleDelay is the pause between SET_WEIGHTS and the first chunk,
	// giving the peer time to reset its receive cursor.
	SendSettleDelay time.Duration
	TrainingGrace   time.Duration
	BenchmarkGrace  time.Duration
}

// DefaultConfig returns the values the reference firmware expects.
func DefaultConfig() Config {
	return Config{
		Layers:             append([]int(nil), protocol.DefaultLayers...),
		ReceiveChunkFloats: protocol.DefaultReceiveChunkFloats,
		SendChunkFloats:    protocol.DefaultSendChunkFloats,
		ByteOrder:          protocol.LittleEndian,
		PollInterval:       100 * time.Millisecond,
		ReceiveTimeout:     240 * time.Second,
		ClassifyTimeout:    10 * time.Second,
		SendSettleDelay:    50 * time.Millisecond,
		TrainingGrace:      2 * time.Second,
		BenchmarkGrace:     15 * time.Second,
	}
}

// WithDefaults fills zero-valued fields from DefaultConfig. A zero
// SendSettleDelay is kept as-is.
func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	if len(c.Layers) == 0 {
		c.Layers = def.Layers
	} else {
		c.Layers = append([]int(nil), c.Layers...)
	}
	if c.ReceiveChunkFloats == 0 {
		c.ReceiveChunkFloats = def.ReceiveChunkFloats
	}
	if c.SendChunkFloats == 0 {
		c.SendChunkFloats = def.SendChunkFloats
	}
	if c.ByteOrder == "" {
		c.ByteOrder = def.ByteOrder
	}
	if c.PollInterval == 0 {
		c.PollInterval = def.PollInterval
	}
	if c.ReceiveTimeout == 0 {
		c.ReceiveTimeout = def.ReceiveTimeout
	}
	if c.ClassifyTimeout == 0 {
		c.ClassifyTimeout = def.ClassifyTimeout
	}
	if c.TrainingGrace == 0 {
		c.TrainingGrace = def.TrainingGrace
	}
	if c.BenchmarkGrace == 0 {
		c.BenchmarkGrace = def.BenchmarkGrace
	}
	return c
}

func (c Config) Validate() error {
	if _, err := protocol.NewLayout(c.Layers); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if c.ReceiveChunkFloats <= 0 {
		return fmt.Errorf("%w: receive chunk limit %d", ErrInvalidConfig, c.ReceiveChunkFloats)
	}
	if c.SendChunkFloats <= 0 {
		return fmt.Errorf("%w: send chunk limit %d", ErrInvalidConfig, c.SendChunkFloats)
	}
	if _, err := protocol.ParseByteOrder(string(c.ByteOrder)); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("%w: poll interval %v", ErrInvalidConfig, c.PollInterval)
	}
	if c.ReceiveTimeout <= 0 || c.ClassifyTimeout <= 0 {
		return fmt.Errorf("%w: timeouts must be positive", ErrInvalidConfig)
	}
	if c.SendSettleDelay < 0 || c.TrainingGrace < 0 || c.BenchmarkGrace < 0 {
		return fmt.Errorf("%w: delays must not be negative", ErrInvalidConfig)
	}
	return nil
}
