package orchestrator

import (
	"sync"
	"time"
)

// Quality is a coarse rating of the backend round-trip.
type Quality string

const (
	QualityUnknown Quality = "unknown"
	QualityGood    Quality = "good"
	QualityFair    Quality = "fair"
	QualityPoor    Quality = "poor"
)

// Round-trip bounds for [NetworkQuality.Quality].
const (
	GoodRTT = 1500 * time.Millisecond
	FairRTT = 4 * time.Second
)

// ewmaAlpha weights the newest sample.
const ewmaAlpha = 0.3

// NetworkQuality tracks an exponentially weighted moving average of measured
// request-to-analysis round-trips. The zero value is ready to use.
type NetworkQuality struct {
	mu      sync.Mutex
	avg     time.Duration
	samples int
}

// Observe folds one round-trip into the average. Non-positive values are
// ignored.
func (n *NetworkQuality) Observe(rtt time.Duration) {
	if rtt <= 0 {
		return
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.samples == 0 {
		n.avg = rtt
	} else {
		n.avg = time.Duration(ewmaAlpha*float64(rtt) + (1-ewmaAlpha)*float64(n.avg))
	}
	n.samples++
}

// RTT returns the current average, zero before the first sample.
func (n *NetworkQuality) RTT() time.Duration {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.avg
}

// Quality rates the current average.
func (n *NetworkQuality) Quality() Quality {
	n.mu.Lock()
	defer n.mu.Unlock()
	switch {
	case n.samples == 0:
		return QualityUnknown
	case n.avg < GoodRTT:
		return QualityGood
	case n.avg < FairRTT:
		return QualityFair
	default:
		return QualityPoor
	}
}
