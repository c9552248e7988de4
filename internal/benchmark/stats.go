package benchmark

import (
	"fmt"
	"math"
	"time"
)

// BitsPerFloat is the on-wire width of one weight.
const BitsPerFloat = 32

// Stats aggregates the successful trials of one measurement run.
type Stats struct {
	Operation string
	// Trials counts successful trials only.
	Trials   int
	Failures int

	AvgTime     time.Duration
	AvgRateKbps float64
	MinTime     time.Duration
	MaxTime     time.Duration
	// StdDev is the sample standard deviation, nil with fewer than two trials.
	StdDev *time.Duration
}

// Rate converts a transfer of bits over d into kbit/s.
func Rate(bits int, d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(bits) / (d.Seconds() * 1000)
}

// Compute aggregates times. It returns nil when times is empty.
func Compute(operation string, times []time.Duration, bits int) *Stats {
	if len(times) == 0 {
		return nil
	}
	var sum float64
	minT, maxT := times[0], times[0]
	for _, d := range times {
		sum += d.Seconds()
		minT = min(minT, d)
		maxT = max(maxT, d)
	}
	mean := sum / float64(len(times))
	avg := seconds(mean)

	st := &Stats{
		Operation:   operation,
		Trials:      len(times),
		AvgTime:     avg,
		AvgRateKbps: Rate(bits, avg),
		MinTime:     minT,
		MaxTime:     maxT,
	}
	if len(times) > 1 {
		var sq float64
		for _, d := range times {
			diff := d.Seconds() - mean
			sq += diff * diff
		}
		sd := seconds(math.Sqrt(sq / float64(len(times)-1)))
		st.StdDev = &sd
	}
	return st
}

func (s *Stats) String() string {
	if s == nil {
		return "no successful trials"
	}
	out := fmt.Sprintf("%s trials=%d failures=%d avg=%.3fs rate=%.2fkbit/s min=%.3fs max=%.3fs",
		s.Operation, s.Trials, s.Failures, s.AvgTime.Seconds(), s.AvgRateKbps, s.MinTime.Seconds(), s.MaxTime.Seconds())
	if s.StdDev != nil {
		out += fmt.Sprintf(" stddev=%.3fs", s.StdDev.Seconds())
	}
	return out
}

// Summary is the short per-operation view over the current history.
type Summary struct {
	Count   int
	AvgTime time.Duration
	MinTime time.Duration
	MaxTime time.Duration
}

func summarize(times []time.Duration) (Summary, bool) {
	st := Compute("", times, 0)
	if st == nil {
		return Summary{}, false
	}
	return Summary{Count: st.Trials, AvgTime: st.AvgTime, MinTime: st.MinTime, MaxTime: st.MaxTime}, true
}

func seconds(s float64) time.Duration {
	return time.Duration(math.Round(s * float64(time.Second)))
}
