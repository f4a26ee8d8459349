package engine

import (
	"sync"
	"time"

	"hls-player/internal/stream"
)

const (
	// DefaultEstimate is the bandwidth assumed before any download finished.
	DefaultEstimate = 500_000
	// DefaultSafetyFactor is the share of the estimate a level may use.
	DefaultSafetyFactor = 0.8

	ewmaAlpha = 0.3
)

// Estimator tracks available bandwidth in bits per second.
type Estimator interface {
	Sample(bytes int64, elapsed time.Duration)
	Estimate() float64
}

// EWMAEstimator is an exponentially weighted moving average of download
// throughput.
type EWMAEstimator struct {
	mu       sync.Mutex
	estimate float64
	sampled  bool
}

// NewEWMAEstimator returns an estimator starting at initial bits per second.
func NewEWMAEstimator(initial float64) *EWMAEstimator {
	if initial <= 0 {
		initial = DefaultEstimate
	}
	return &EWMAEstimator{estimate: initial}
}

// Sample folds one download into the estimate. Zero-length or zero-duration
// samples carry no information and are skipped.
func (e *EWMAEstimator) Sample(bytes int64, elapsed time.Duration) {
	if bytes <= 0 || elapsed <= 0 {
		return
	}
	bps := float64(bytes*8) / elapsed.Seconds()
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.sampled {
		e.estimate = bps
		e.sampled = true
		return
	}
	e.estimate = ewmaAlpha*bps + (1-ewmaAlpha)*e.estimate
}

func (e *EWMAEstimator) Estimate() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.estimate
}

// FixedEstimator always reports the same bandwidth.
type FixedEstimator float64

func (FixedEstimator) Sample(int64, time.Duration) {}
func (f FixedEstimator) Estimate() float64         { return float64(f) }

// chooseLevel returns the highest level whose bitrate fits within
// safety*estimate. levels must be sorted by bitrate ascending. Levels without
// a declared bitrate always fit.
func chooseLevel(levels []stream.Level, estimate, safety float64) int {
	if len(levels) == 0 {
		return stream.AutoLevel
	}
	budget := estimate * safety
	best := 0
	for i, l := range levels {
		if float64(l.Bitrate) <= budget {
			best = i
		}
	}
	return best
}
