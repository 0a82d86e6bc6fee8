package stream

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBandwidthSample_BitsPerSecond(t *testing.T) {
	assert.InDelta(t, 8000.0, BandwidthSample{Bytes: 1000, Elapsed: time.Second}.BitsPerSecond(), 0.001)
	assert.InDelta(t, 16000.0, BandwidthSample{Bytes: 1000, Elapsed: 500 * time.Millisecond}.BitsPerSecond(), 0.001)
	assert.Zero(t, BandwidthSample{Bytes: 1000}.BitsPerSecond())
}

func TestBandwidthTracker_Record(t *testing.T) {
	tracker := NewBandwidthTracker(DefaultBandwidthWindowSize)

	_, ok := tracker.Last()
	assert.False(t, ok)
	assert.Zero(t, tracker.AverageBps())
	assert.Nil(t, tracker.History())

	tracker.Record(BandwidthSample{Bytes: 1000, Elapsed: time.Second})
	tracker.Record(BandwidthSample{Bytes: 3000, Elapsed: time.Second})

	last, ok := tracker.Last()
	require.True(t, ok)
	assert.Equal(t, uint64(3000), last.Bytes)
	assert.Equal(t, uint64(4000), tracker.TotalBytes())
	assert.InDelta(t, 16000.0, tracker.AverageBps(), 0.001)
	assert.Equal(t, []float64{8000, 24000}, tracker.History())
}

func TestBandwidthTracker_Window(t *testing.T) {
	tracker := NewBandwidthTracker(3)

	for i := 1; i <= 5; i++ {
		tracker.Record(BandwidthSample{Bytes: uint64(i * 100), Elapsed: time.Second})
	}

	assert.Equal(t, uint64(1500), tracker.TotalBytes())
	assert.Equal(t, []float64{2400, 3200, 4000}, tracker.History())

	tracker.Reset()
	assert.Nil(t, tracker.History())
	assert.Zero(t, tracker.TotalBytes())
}

func TestBandwidthTracker_InvalidWindow(t *testing.T) {
	tracker := NewBandwidthTracker(0)
	assert.Equal(t, DefaultBandwidthWindowSize, tracker.windowSize)

	for i := 0; i < DefaultBandwidthWindowSize+5; i++ {
		tracker.Record(BandwidthSample{Bytes: 1, Elapsed: time.Second})
	}
	assert.Len(t, tracker.History(), DefaultBandwidthWindowSize)
}

func TestBandwidthTracker_Concurrent(t *testing.T) {
	tracker := NewBandwidthTracker(DefaultBandwidthWindowSize)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				tracker.Record(BandwidthSample{Bytes: 10, Elapsed: time.Millisecond})
				_ = tracker.AverageBps()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, uint64(10000), tracker.TotalBytes())
	assert.Len(t, tracker.History(), DefaultBandwidthWindowSize)
}
