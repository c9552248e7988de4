package session

import (
	"context"
	"time"

	"github.com/danmuck/fedlink/internal/protocol"
)

// Completion decides when a fire-and-forget peer operation has finished. The
// peer does not signal completion for training or benchmarks today, so the
// default waits a fixed grace period. An acknowledging peer can plug in a
// Completion that waits for its signal instead.
type Completion interface {
	Await(ctx context.Context, cmd protocol.Command) error
}

// GracePeriod assumes completion after a fixed wait per command class.
type GracePeriod struct {
	Training  time.Duration
	Benchmark time.Duration
}

func (g GracePeriod) Await(ctx context.Context, cmd protocol.Command) error {
	switch cmd {
	case protocol.CommandStartTraining:
		return sleep(ctx, g.Training)
	case protocol.CommandStartInferenceBenchmark, protocol.CommandStartTrainingBenchmark:
		return sleep(ctx, g.Benchmark)
	default:
		return nil
	}
}
