package session

import (
	"fmt"

	"github.com/danmuck/fedlink/internal/protocol"
)

// Label is a training class index understood by the peer.
type Label uint8

const (
	LabelNoTheft Label = iota
	LabelCarryingAway
	LabelLockBreach
)

// Labels is the closed set of accepted class indices.
var Labels = []Label{LabelNoTheft, LabelCarryingAway, LabelLockBreach}

var labelNames = [...]string{"no theft", "carrying away", "lock breach"}

// ParseLabel converts an untrusted integer into a Label.
func ParseLabel(v int) (Label, error) {
	if v < 0 || v >= len(labelNames) {
		return 0, fmt.Errorf("%w: %d (want 0..%d)", ErrInvalidLabel, v, len(labelNames)-1)
	}
	return Label(v), nil
}

func (l Label) Validate() error {
	if int(l) >= len(labelNames) {
		return fmt.Errorf("%w: %d (want 0..%d)", ErrInvalidLabel, uint8(l), len(labelNames)-1)
	}
	return nil
}

func (l Label) String() string {
	if int(l) < len(labelNames) {
		return labelNames[l]
	}
	return fmt.Sprintf("label(%d)", uint8(l))
}

// Prediction holds per-class probabilities indexed by Label.
type Prediction [protocol.PredictionFloats]float32

// Class returns the most probable label. Ties resolve to the lower index.
func (p Prediction) Class() Label {
	best := 0
	for i := 1; i < len(p); i++ {
		if p[i] > p[best] {
			best = i
		}
	}
	return Label(best)
}

func (p Prediction) String() string {
	return fmt.Sprintf("%s=%.1f%% %s=%.1f%% %s=%.1f%%",
		LabelNoTheft, p[0]*100,
		LabelCarryingAway, p[1]*100,
		LabelLockBreach, p[2]*100,
	)
}
