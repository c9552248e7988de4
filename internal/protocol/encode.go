package protocol

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"
)

// ByteOrder selects the float encoding shared with the peer. It is fixed per
// deployment and never negotiated.
type ByteOrder string

const (
	LittleEndian ByteOrder = "little"
	BigEndian    ByteOrder = "big"
)

// ParseByteOrder accepts "little"/"le" and "big"/"be".
func ParseByteOrder(raw string) (ByteOrder, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "little", "le", "little-endian":
		return LittleEndian, nil
	case "big", "be", "big-endian":
		return BigEndian, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownOrder, raw)
	}
}

func (o ByteOrder) binary() binary.ByteOrder {
	if o == BigEndian {
		return binary.BigEndian
	}
	return binary.LittleEndian
}

// Codec translates float32 values to and from peer payloads.
type Codec struct {
	order binary.ByteOrder
}

// NewCodec builds a codec for order. Unknown orders fall back to little-endian,
// which is the native order of the reference peer.
func NewCodec(order ByteOrder) Codec {
	return Codec{order: order.binary()}
}

// DefaultCodec matches the reference peer.
var DefaultCodec = NewCodec(LittleEndian)

// EncodeFloat returns the 4-byte encoding of v.
func (c Codec) EncodeFloat(v float32) []byte {
	buf := make([]byte, FloatSize)
	c.putFloat(buf, v)
	return buf
}

// EncodeChunk concatenates EncodeFloat over values; len(result) == 4*len(values).
func (c Codec) EncodeChunk(values []float32) []byte {
	buf := make([]byte, len(values)*FloatSize)
	for i, v := range values {
		c.putFloat(buf[i*FloatSize:], v)
	}
	return buf
}

// EncodeChunks partitions values by limit and encodes every chunk up front.
func (c Codec) EncodeChunks(values []float32, limit int) ([][]byte, error) {
	parts, err := SplitChunks(values, limit)
	if err != nil {
		return nil, err
	}
	out := make([][]byte, len(parts))
	for i, part := range parts {
		out[i] = c.EncodeChunk(part)
	}
	return out, nil
}

func (c Codec) putFloat(buf []byte, v float32) {
	c.order.PutUint32(buf[:FloatSize], math.Float32bits(v))
}

// SplitChunks returns ordered sub-slices of values holding at most limit
// floats each. The final chunk carries the remainder.
func SplitChunks(values []float32, limit int) ([][]float32, error) {
	if limit <= 0 {
		return nil, ErrInvalidChunkMax
	}
	if len(values) == 0 {
		return nil, nil
	}
	count := (len(values) + limit - 1) / limit
	out := make([][]float32, 0, count)
	for start := 0; start < len(values); start += limit {
		end := min(start+limit, len(values))
		out = append(out, values[start:end])
	}
	return out, nil
}

// EncodeLabel is the label-endpoint encoding of a class index.
func EncodeLabel(label uint8) []byte {
	return []byte{label}
}
