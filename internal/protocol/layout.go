package protocol

import "fmt"

// DefaultLayers is the network shape flashed on the reference peer.
var DefaultLayers = []int{11, 60, 3}

// Layout describes a fully-connected network by its layer sizes.
type Layout struct {
	layers []int
}

// LayerShape is the (inputs, outputs) pair of one weight matrix.
type LayerShape struct {
	Inputs  int
	Outputs int
}

// NewLayout validates layers and copies them.
func NewLayout(layers []int) (Layout, error) {
	if len(layers) < 2 {
		return Layout{}, fmt.Errorf("%w: need at least 2 layers, got %d", ErrInvalidLayout, len(layers))
	}
	for i, n := range layers {
		if n <= 0 {
			return Layout{}, fmt.Errorf("%w: layer[%d]=%d", ErrInvalidLayout, i, n)
		}
	}
	cp := make([]int, len(layers))
	copy(cp, layers)
	return Layout{layers: cp}, nil
}

func (l Layout) Layers() []int {
	cp := make([]int, len(l.layers))
	copy(cp, l.layers)
	return cp
}

// TotalWeights is N = sum(layer[i] * layer[i+1]).
func (l Layout) TotalWeights() int {
	total := 0
	for i := 0; i+1 < len(l.layers); i++ {
		total += l.layers[i] * l.layers[i+1]
	}
	return total
}

func (l Layout) Shapes() []LayerShape {
	if len(l.layers) < 2 {
		return nil
	}
	out := make([]LayerShape, 0, len(l.layers)-1)
	for i := 0; i+1 < len(l.layers); i++ {
		out = append(out, LayerShape{Inputs: l.layers[i], Outputs: l.layers[i+1]})
	}
	return out
}

// Split reshapes a flat weight vector into one outputs x inputs matrix per
// layer, row-major, matching the order the peer serialises them in.
func (l Layout) Split(weights []float32) ([][][]float32, error) {
	if len(weights) != l.TotalWeights() {
		return nil, fmt.Errorf("%w: expected %d, got %d", ErrLengthMismatch, l.TotalWeights(), len(weights))
	}
	shapes := l.Shapes()
	out := make([][][]float32, 0, len(shapes))
	idx := 0
	for _, shape := range shapes {
		matrix := make([][]float32, shape.Outputs)
		for row := range matrix {
			matrix[row] = append([]float32(nil), weights[idx:idx+shape.Inputs]...)
			idx += shape.Inputs
		}
		out = append(out, matrix)
	}
	return out, nil
}
