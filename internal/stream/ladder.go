package stream

import "fmt"

// Ladder defaults.
const (
	DefaultUpFactor       = 1.4
	DefaultDownFactor     = 1.1
	DefaultWarmupSegments = 2
)

// InitialRung policies.
const (
	RungHighest = "highest"
	RungLowest  = "lowest"
)

// LadderConfig configures bitrate switching.
type LadderConfig struct {
	// UpFactor is the headroom required over the next higher rung's
	// bandwidth before stepping up to it.
	UpFactor float64

	// DownFactor is the headroom the active rung needs; below it the
	// ladder steps down.
	DownFactor float64

	// WarmupSegments is the number of completed segments that are never
	// evaluated.
	WarmupSegments int

	// InitialRung selects the first variant: RungHighest or RungLowest.
	InitialRung string
}

// DefaultLadderConfig returns the standard ladder thresholds.
func DefaultLadderConfig() LadderConfig {
	return LadderConfig{
		UpFactor:       DefaultUpFactor,
		DownFactor:     DefaultDownFactor,
		WarmupSegments: DefaultWarmupSegments,
		InitialRung:    RungHighest,
	}
}

// Ladder decides when to move between variants. Rungs are bandwidths sorted
// highest first, so a lower index is a higher bitrate.
type Ladder struct {
	cfg       LadderConfig
	completed int
}

// NewLadder creates a ladder. Zero fields fall back to defaults.
func NewLadder(cfg LadderConfig) *Ladder {
	def := DefaultLadderConfig()
	if cfg.UpFactor <= 0 {
		cfg.UpFactor = def.UpFactor
	}
	if cfg.DownFactor <= 0 {
		cfg.DownFactor = def.DownFactor
	}
	if cfg.WarmupSegments < 0 {
		cfg.WarmupSegments = def.WarmupSegments
	}
	if cfg.InitialRung == "" {
		cfg.InitialRung = def.InitialRung
	}
	return &Ladder{cfg: cfg}
}

// InitialRung returns the index of the first variant to play.
func (l *Ladder) InitialRung(rungs []int64) (int, error) {
	if len(rungs) == 0 {
		return 0, ErrEmptyMasterLadder
	}
	switch l.cfg.InitialRung {
	case RungHighest:
		return 0, nil
	case RungLowest:
		return len(rungs) - 1, nil
	default:
		return 0, fmt.Errorf("unknown initial rung policy %q", l.cfg.InitialRung)
	}
}

// Observe records a completed segment and evaluates the ladder once the
// warm-up is over.
func (l *Ladder) Observe(rungs []int64, active int, measuredBps float64) (int, bool) {
	l.completed++
	if l.completed <= l.cfg.WarmupSegments {
		return active, false
	}
	return l.Evaluate(rungs, active, measuredBps)
}

// Evaluate returns the rung to switch to for the measured throughput, and
// whether it differs from active. Only one direction is tried per call.
func (l *Ladder) Evaluate(rungs []int64, active int, measuredBps float64) (int, bool) {
	if active < 0 || active >= len(rungs) {
		return active, false
	}

	idx := active
	switch {
	case idx > 0 && measuredBps > float64(rungs[idx-1])*l.cfg.UpFactor:
		for idx > 0 && measuredBps > float64(rungs[idx-1])*l.cfg.UpFactor {
			idx--
		}
	case measuredBps < float64(rungs[idx])*l.cfg.DownFactor:
		for idx < len(rungs)-1 {
			idx++
			if measuredBps >= float64(rungs[idx])*l.cfg.DownFactor {
				break
			}
		}
	}
	return idx, idx != active
}
