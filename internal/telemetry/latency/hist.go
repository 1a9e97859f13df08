package latency

import (
	"math"
	"sort"
)

// Histogram keeps a rolling window of successful stage durations (ms)
// in a circular buffer and computes interpolated percentiles over it.
// Not safe for concurrent use on its own; the Tracker serializes
// access.
type Histogram struct {
	buckets []float64
	maxSize int
	current int
	full    bool
}

// windowSize is the rolling sample window used for percentiles.
const windowSize = 100

// NewHistogram creates a histogram with the given rolling window.
func NewHistogram(maxSize int) *Histogram {
	if maxSize <= 0 {
		maxSize = windowSize
	}
	return &Histogram{
		buckets: make([]float64, maxSize),
		maxSize: maxSize,
	}
}

// Record adds a duration sample in milliseconds.
func (h *Histogram) Record(ms float64) {
	h.buckets[h.current] = ms
	h.current = (h.current + 1) % h.maxSize
	if !h.full && h.current == 0 {
		h.full = true
	}
}

// Percentile computes the p-th percentile (0.0-1.0) with linear
// interpolation between neighboring samples.
func (h *Histogram) Percentile(p float64) float64 {
	size := h.size()
	if size == 0 {
		return 0
	}

	values := make([]float64, size)
	if h.full {
		copy(values, h.buckets)
	} else {
		copy(values, h.buckets[:h.current])
	}
	sort.Float64s(values)

	index := p * float64(size-1)
	lower := int(math.Floor(index))
	upper := int(math.Ceil(index))
	if lower == upper {
		return values[lower]
	}
	weight := index - float64(lower)
	return values[lower]*(1-weight) + values[upper]*weight
}

// P50 returns the median sample.
func (h *Histogram) P50() float64 { return h.Percentile(0.5) }

// P95 returns the 95th percentile.
func (h *Histogram) P95() float64 { return h.Percentile(0.95) }

// P99 returns the 99th percentile.
func (h *Histogram) P99() float64 { return h.Percentile(0.99) }

// Count returns the number of samples currently in the window.
func (h *Histogram) Count() int { return h.size() }

func (h *Histogram) size() int {
	if h.full {
		return h.maxSize
	}
	return h.current
}
