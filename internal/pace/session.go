package pace

import (
	"math"
	"time"
)

// WalkingStats summarizes one tracked walk.
type WalkingStats struct {
	Avg      float64       `json:"avg"`
	Max      float64       `json:"max"`
	Min      float64       `json:"min"`
	Distance float64       `json:"distance"` // meters
	Duration time.Duration `json:"duration"`
}

type walkSession struct {
	start    time.Time
	sum      float64
	n        int
	max      float64
	min      float64
	distance float64
}

func newWalkSession(start time.Time) *walkSession {
	return &walkSession{start: start, min: math.Inf(1)}
}

func (w *walkSession) addSpeed(speed float64) {
	w.sum += speed
	w.n++
	if speed > w.max {
		w.max = speed
	}
	if speed < w.min {
		w.min = speed
	}
}

func (w *walkSession) stats(end time.Time) WalkingStats {
	s := WalkingStats{Max: w.max, Distance: w.distance, Duration: end.Sub(w.start)}
	if w.n > 0 {
		s.Avg = w.sum / float64(w.n)
		s.Min = w.min
	}
	return s
}
