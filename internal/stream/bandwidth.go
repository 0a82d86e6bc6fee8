package stream

import (
	"sync"
	"sync/atomic"
	"time"
)

// DefaultBandwidthWindowSize is the number of segment samples kept for the
// rolling average.
const DefaultBandwidthWindowSize = 30

// BandwidthSample is the transfer of one completed segment.
type BandwidthSample struct {
	Bytes   uint64
	Elapsed time.Duration
}

// BitsPerSecond returns the sample throughput. A sample without elapsed time
// has no meaningful rate and reports zero.
func (s BandwidthSample) BitsPerSecond() float64 {
	if s.Elapsed <= 0 {
		return 0
	}
	return float64(s.Bytes) * 8 / s.Elapsed.Seconds()
}

// BandwidthTracker keeps a sliding window of per-segment samples.
type BandwidthTracker struct {
	totalBytes atomic.Uint64

	mu         sync.RWMutex
	samples    []BandwidthSample
	windowSize int
}

// NewBandwidthTracker creates a tracker keeping windowSize samples. A
// non-positive size selects DefaultBandwidthWindowSize.
func NewBandwidthTracker(windowSize int) *BandwidthTracker {
	if windowSize <= 0 {
		windowSize = DefaultBandwidthWindowSize
	}
	return &BandwidthTracker{
		samples:    make([]BandwidthSample, 0, windowSize),
		windowSize: windowSize,
	}
}

// Record adds a completed segment sample.
func (t *BandwidthTracker) Record(s BandwidthSample) {
	t.totalBytes.Add(s.Bytes)

	t.mu.Lock()
	defer t.mu.Unlock()

	t.samples = append(t.samples, s)
	if len(t.samples) > t.windowSize {
		t.samples = t.samples[len(t.samples)-t.windowSize:]
	}
}

// TotalBytes returns the cumulative bytes recorded.
func (t *BandwidthTracker) TotalBytes() uint64 {
	return t.totalBytes.Load()
}

// Last returns the most recent sample.
func (t *BandwidthTracker) Last() (BandwidthSample, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if len(t.samples) == 0 {
		return BandwidthSample{}, false
	}
	return t.samples[len(t.samples)-1], true
}

// AverageBps returns the throughput over the whole window in bits/second.
func (t *BandwidthTracker) AverageBps() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var bytes uint64
	var elapsed time.Duration
	for _, s := range t.samples {
		bytes += s.Bytes
		elapsed += s.Elapsed
	}
	return BandwidthSample{Bytes: bytes, Elapsed: elapsed}.BitsPerSecond()
}

// History returns the per-sample rates in bits/second, oldest first.
func (t *BandwidthTracker) History() []float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if len(t.samples) == 0 {
		return nil
	}
	history := make([]float64, len(t.samples))
	for i, s := range t.samples {
		history[i] = s.BitsPerSecond()
	}
	return history
}

// Reset clears all samples.
func (t *BandwidthTracker) Reset() {
	t.totalBytes.Store(0)

	t.mu.Lock()
	defer t.mu.Unlock()
	t.samples = t.samples[:0]
}
