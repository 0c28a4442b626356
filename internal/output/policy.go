package output

import (
	"time"

	"gonum.org/v1/gonum/stat"
)

// SlowQueuePolicy decides when a consumer group's queue is draining too slowly.
// Observe is called with the queue depth whenever it changes and returns true
// when an alert should be raised. One policy instance serves one group.
type SlowQueuePolicy interface {
	Observe(t time.Time, depth int) bool
}

// PolicyFactory builds a fresh policy for each group.
type PolicyFactory func() SlowQueuePolicy

// GrowthConfig tunes GrowthPolicy.
type GrowthConfig struct {
	// MinDepth is the depth below which a queue is never slow.
	MinDepth int
	// ResetDepth re-arms the alert once the queue has drained to it.
	ResetDepth int
	// Samples is the regression window.
	Samples int
	// MinGrowth is the slope, in packets per second, that must be exceeded.
	MinGrowth float64
}

// DefaultGrowthConfig returns the standard thresholds.
func DefaultGrowthConfig() GrowthConfig {
	return GrowthConfig{
		MinDepth:   50,
		ResetDepth: 10,
		Samples:    10,
		MinGrowth:  0,
	}
}

// GrowthPolicy fits a least squares line through the last Samples
// (time, depth) observations. A queue is slow when it is at least MinDepth
// deep and still growing faster than MinGrowth. It fires once per slow
// episode; the episode ends when the depth falls to ResetDepth.
type GrowthPolicy struct {
	cfg GrowthConfig

	origin  time.Time
	times   []float64
	depths  []float64
	alerted bool
}

// NewGrowthPolicy creates a policy. Samples below 2 are raised to 2.
func NewGrowthPolicy(cfg GrowthConfig) *GrowthPolicy {
	if cfg.Samples < 2 {
		cfg.Samples = 2
	}
	return &GrowthPolicy{cfg: cfg}
}

// GrowthPolicyFactory returns a PolicyFactory for cfg.
func GrowthPolicyFactory(cfg GrowthConfig) PolicyFactory {
	return func() SlowQueuePolicy { return NewGrowthPolicy(cfg) }
}

func (p *GrowthPolicy) Observe(t time.Time, depth int) bool {
	if p.alerted {
		if depth <= p.cfg.ResetDepth {
			p.alerted = false
			p.reset()
		}
		return false
	}

	if p.origin.IsZero() {
		p.origin = t
	}
	p.times = append(p.times, t.Sub(p.origin).Seconds())
	p.depths = append(p.depths, float64(depth))
	if n := len(p.times); n > p.cfg.Samples {
		p.times = append(p.times[:0], p.times[n-p.cfg.Samples:]...)
		p.depths = append(p.depths[:0], p.depths[n-p.cfg.Samples:]...)
	}

	if depth < p.cfg.MinDepth || len(p.times) < p.cfg.Samples {
		return false
	}

	// NaN when all samples share a timestamp; the comparison is then false.
	_, slope := stat.LinearRegression(p.times, p.depths, nil, false)
	if slope > p.cfg.MinGrowth {
		p.alerted = true
		return true
	}
	return false
}

// Slope reports the current growth estimate in packets per second.
func (p *GrowthPolicy) Slope() float64 {
	if len(p.times) < 2 {
		return 0
	}
	_, slope := stat.LinearRegression(p.times, p.depths, nil, false)
	return slope
}

func (p *GrowthPolicy) reset() {
	p.origin = time.Time{}
	p.times = p.times[:0]
	p.depths = p.depths[:0]
}
