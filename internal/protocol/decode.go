package protocol

import (
	"fmt"
	"math"
)

// DecodeFloat reads one value from exactly 4 bytes.
func (c Codec) DecodeFloat(b []byte) (float32, error) {
	if len(b) != FloatSize {
		return 0, fmt.Errorf("%w: float needs %d bytes, got %d", ErrDecode, FloatSize, len(b))
	}
	return math.Float32frombits(c.order.Uint32(b)), nil
}

// DecodeChunk reads len(b)/4 values. Any length that is not a multiple of 4
// is treated as corruption.
func (c Codec) DecodeChunk(b []byte) ([]float32, error) {
	if len(b)%FloatSize != 0 {
		return nil, fmt.Errorf("%w: chunk length %d is not a multiple of %d", ErrDecode, len(b), FloatSize)
	}
	out := make([]float32, len(b)/FloatSize)
	for i := range out {
		off := i * FloatSize
		out[i] = math.Float32frombits(c.order.Uint32(b[off : off+FloatSize]))
	}
	return out, nil
}

// DecodePrediction reads a class-probability payload of exactly
// PredictionFloats values.
func (c Codec) DecodePrediction(b []byte) ([PredictionFloats]float32, error) {
	var out [PredictionFloats]float32
	if len(b) != PredictionFloats*FloatSize {
		return out, fmt.Errorf("%w: prediction needs %d bytes, got %d", ErrDecode, PredictionFloats*FloatSize, len(b))
	}
	values, err := c.DecodeChunk(b)
	if err != nil {
		return out, err
	}
	copy(out[:], values)
	return out, nil
}
