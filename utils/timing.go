package utils

import (
	"sync"
	"time"

	"github.com/montanaflynn/stats"
)

// TimingSummary describes a window of recorded durations.
type TimingSummary struct {
	Count int           `json:"count"`
	Mean  time.Duration `json:"mean"`
	Max   time.Duration `json:"max"`
	P99   time.Duration `json:"p99"`
}

// TimingRing keeps the last N durations pushed to it.
type TimingRing struct {
	mu     sync.Mutex
	values []float64
	pos    int
	filled bool
}

// NewTimingRing returns a ring holding up to size durations.
func NewTimingRing(size int) *TimingRing {
	if size < 1 {
		size = 1
	}
	return &TimingRing{values: make([]float64, size)}
}

// Add records one duration, overwriting the oldest once the ring is full.
func (r *TimingRing) Add(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.values[r.pos] = float64(d)
	r.pos++
	if r.pos == len(r.values) {
		r.pos = 0
		r.filled = true
	}
}

// Summary computes statistics over the recorded window. An empty ring yields a zero summary.
func (r *TimingRing) Summary() TimingSummary {
	r.mu.Lock()
	data := r.values[:r.pos]
	if r.filled {
		data = r.values
	}
	window := stats.LoadRawData(append([]float64(nil), data...))
	r.mu.Unlock()

	if len(window) == 0 {
		return TimingSummary{}
	}
	// The only possible error from these is an empty input, excluded above.
	mean, _ := window.Mean()
	maximum, _ := window.Max()
	p99, _ := window.Percentile(99)
	return TimingSummary{
		Count: len(window),
		Mean:  time.Duration(mean),
		Max:   time.Duration(maximum),
		P99:   time.Duration(p99),
	}
}
