package stream

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLadder_Evaluate(t *testing.T) {
	rungs := []int64{1000, 500, 250}
	l := NewLadder(DefaultLadderConfig())

	tests := []struct {
		name     string
		active   int
		bps      float64
		want     int
		switched bool
	}{
		{name: "step up past threshold", active: 1, bps: 1500, want: 0, switched: true},
		{name: "hold below up threshold", active: 1, bps: 1400, want: 1, switched: false},
		{name: "hold inside band", active: 1, bps: 600, want: 1, switched: false},
		{name: "step down to first fitting rung", active: 1, bps: 300, want: 2, switched: true},
		{name: "step down stops at lowest", active: 1, bps: 100, want: 2, switched: true},
		{name: "step down one rung from top", active: 0, bps: 700, want: 1, switched: true},
		{name: "step down two rungs from top", active: 0, bps: 300, want: 2, switched: true},
		{name: "step up two rungs", active: 2, bps: 1500, want: 0, switched: true},
		{name: "step up one rung", active: 2, bps: 800, want: 1, switched: true},
		{name: "top rung holds", active: 0, bps: 5000, want: 0, switched: false},
		{name: "bottom rung holds", active: 2, bps: 10, want: 2, switched: false},
		{name: "out of range", active: 5, bps: 10, want: 5, switched: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, switched := l.Evaluate(rungs, tt.active, tt.bps)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.switched, switched)
		})
	}
}

func TestLadder_ObserveWarmup(t *testing.T) {
	rungs := []int64{1000, 500, 250}
	l := NewLadder(DefaultLadderConfig())

	for i := 0; i < DefaultWarmupSegments; i++ {
		idx, switched := l.Observe(rungs, 1, 5000)
		assert.False(t, switched)
		assert.Equal(t, 1, idx)
	}

	idx, switched := l.Observe(rungs, 1, 5000)
	assert.True(t, switched)
	assert.Equal(t, 0, idx)
	assert.Equal(t, 3, l.completed)
}

func TestLadder_InitialRung(t *testing.T) {
	rungs := []int64{1000, 500, 250}

	idx, err := NewLadder(LadderConfig{}).InitialRung(rungs)
	require.NoError(t, err)
	assert.Equal(t, 0, idx)

	idx, err = NewLadder(LadderConfig{InitialRung: RungLowest}).InitialRung(rungs)
	require.NoError(t, err)
	assert.Equal(t, 2, idx)

	_, err = NewLadder(LadderConfig{InitialRung: "middle"}).InitialRung(rungs)
	assert.Error(t, err)

	_, err = NewLadder(LadderConfig{}).InitialRung(nil)
	assert.ErrorIs(t, err, ErrEmptyMasterLadder)
}

func TestLadder_Defaults(t *testing.T) {
	l := NewLadder(LadderConfig{WarmupSegments: -1})
	assert.Equal(t, DefaultUpFactor, l.cfg.UpFactor)
	assert.Equal(t, DefaultDownFactor, l.cfg.DownFactor)
	assert.Equal(t, DefaultWarmupSegments, l.cfg.WarmupSegments)
	assert.Equal(t, RungHighest, l.cfg.InitialRung)
}

func TestLadder_Properties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	rungs := []int64{4000, 2000, 1000, 500, 250}
	l := NewLadder(DefaultLadderConfig())

	properties.Property("result stays on the ladder", prop.ForAll(
		func(active int, bps float64) bool {
			idx, _ := l.Evaluate(rungs, active, bps)
			return idx >= 0 && idx < len(rungs)
		},
		gen.IntRange(0, len(rungs)-1),
		gen.Float64Range(0, 20000),
	))

	properties.Property("step up only when throughput beats the next rung", prop.ForAll(
		func(active int, bps float64) bool {
			idx, _ := l.Evaluate(rungs, active, bps)
			if idx >= active {
				return true
			}
			return bps > float64(rungs[idx])*DefaultUpFactor
		},
		gen.IntRange(0, len(rungs)-1),
		gen.Float64Range(0, 20000),
	))

	properties.Property("step down lands on a fitting rung or the bottom", prop.ForAll(
		func(active int, bps float64) bool {
			idx, _ := l.Evaluate(rungs, active, bps)
			if idx <= active {
				return true
			}
			return idx == len(rungs)-1 || bps >= float64(rungs[idx])*DefaultDownFactor
		},
		gen.IntRange(0, len(rungs)-1),
		gen.Float64Range(0, 20000),
	))

	properties.TestingRun(t)
}
