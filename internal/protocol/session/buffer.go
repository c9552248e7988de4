package session

import (
	"fmt"
	"sync"

	"github.com/danmuck/fedlink/internal/protocol"
)

// weightBuffer accumulates inbound weight chunks for one pending receive.
// Notifications outside an armed receive are dropped.
type weightBuffer struct {
	mu     sync.Mutex
	armed  bool
	want   int
	values []float32
	err    error
}

func newWeightBuffer() *weightBuffer {
	return &weightBuffer{}
}

// arm clears the buffer and starts accepting chunks for a receive of want floats.
func (b *weightBuffer) arm(want int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.armed = true
	b.want = want
	b.values = make([]float32, 0, want)
	b.err = nil
}

// disarm stops accepting chunks and discards any partial data.
func (b *weightBuffer) disarm() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.armed = false
	b.values = nil
	b.err = nil
}

// push appends one decoded chunk. It reports whether the chunk was accepted.
// The first failure sticks until the next arm.
func (b *weightBuffer) push(chunk []float32, decodeErr error) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.armed {
		return false
	}
	if b.err != nil {
		return false
	}
	if decodeErr != nil {
		b.err = decodeErr
		return false
	}
	if len(b.values)+len(chunk) > b.want {
		b.err = fmt.Errorf("%w: peer sent %d floats, expected %d", protocol.ErrLengthMismatch, len(b.values)+len(chunk), b.want)
		return false
	}
	b.values = append(b.values, chunk...)
	return true
}

// progress returns the received count and any sticky failure.
func (b *weightBuffer) progress() (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.values), b.err
}

// take copies the accumulated values out so callers never share the buffer.
func (b *weightBuffer) take() []float32 {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]float32, len(b.values))
	copy(out, b.values)
	return out
}

// predictionSlot holds the single most recent prediction for a pending classify.
type predictionSlot struct {
	mu    sync.Mutex
	armed bool
	value *Prediction
	err   error
}

func newPredictionSlot() *predictionSlot {
	return &predictionSlot{}
}

func (s *predictionSlot) arm() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.armed = true
	s.value = nil
	s.err = nil
}

func (s *predictionSlot) disarm() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.armed = false
	s.value = nil
	s.err = nil
}

// put overwrites the held prediction; a decode failure is kept until a valid
// prediction replaces it or the slot is re-armed.
func (s *predictionSlot) put(p Prediction, decodeErr error) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.armed {
		return false
	}
	if decodeErr != nil {
		if s.value == nil {
			s.err = decodeErr
		}
		return false
	}
	s.value = &p
	s.err = nil
	return true
}

func (s *predictionSlot) get() (Prediction, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.value == nil {
		return Prediction{}, false, s.err
	}
	return *s.value, true, nil
}
