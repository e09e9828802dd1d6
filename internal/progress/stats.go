package progress

import "math"

// runningStats holds Welford running mean and variance of per-tick deltas.
type runningStats struct {
	count int
	mean  float64
	m2    float64
}

func (w *runningStats) add(v float64) {
	w.count++
	d := v - w.mean
	w.mean += d / float64(w.count)
	w.m2 += d * (v - w.mean)
}

// variance is the population variance, 0 with fewer than 2 samples.
func (w *runningStats) variance() float64 {
	if w.count < 2 {
		return 0
	}
	return w.m2 / float64(w.count)
}

// DeltaFunc turns planned and actual elapsed seconds into a schedule delta.
type DeltaFunc func(plannedElapsed, actualElapsed float64) float64

// UncertaintyFunc combines the variance of observed deltas with the latest
// GPS horizontal accuracy in meters.
type UncertaintyFunc func(deltaVariance, accuracy float64) float64

// assumedWalkSpeed converts GPS accuracy into seconds of walking.
const assumedWalkSpeed = 1.4

// DefaultDelta is positive when the traveler is ahead of plan.
func DefaultDelta(plannedElapsed, actualElapsed float64) float64 {
	return plannedElapsed - actualElapsed
}

// DefaultUncertainty is sqrt(Var(delta) + (accuracy/1.4)^2), in seconds.
func DefaultUncertainty(deltaVariance, accuracy float64) float64 {
	a := accuracy / assumedWalkSpeed
	return math.Sqrt(deltaVariance + a*a)
}
