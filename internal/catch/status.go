// Package catch classifies how comfortably a rider can reach a platform before
// a train arrives, and keeps the bounded window of candidate trains per leg.
package catch

import (
	"time"

	"catchtrain/internal/transit"
)

// Status is ordered: Easy < Hurry < Tough < Missed.
type Status int

const (
	Easy Status = iota
	Hurry
	Tough
	Missed
)

// Buffer thresholds in seconds. Every band is open below and closed above.
const (
	EasyAbove  = 90.0
	HurryAbove = 20.0
	ToughAbove = -30.0
)

func (s Status) String() string {
	switch s {
	case Easy:
		return "easy"
	case Hurry:
		return "hurry"
	case Tough:
		return "tough"
	case Missed:
		return "missed"
	default:
		return "unknown"
	}
}

// Classify maps a time buffer to a status: >90 easy, (20,90] hurry,
// (-30,20] tough, <=-30 missed.
func Classify(bufferSeconds float64) Status {
	switch {
	case bufferSeconds > EasyAbove:
		return Easy
	case bufferSeconds > HurryAbove:
		return Hurry
	case bufferSeconds > ToughAbove:
		return Tough
	default:
		return Missed
	}
}

// Catchable reports whether a buffer is worth tracking at all.
func Catchable(bufferSeconds float64) bool {
	return bufferSeconds >= ToughAbove
}

// Info is the derived per-prediction record. It is a value; updates produce a new Info.
type Info struct {
	Prediction      transit.ArrivalPrediction `json:"prediction"`
	TimeToPlatform  time.Duration             `json:"timeToPlatform"`
	ExpectedArrival time.Time                 `json:"expectedArrival"`
	DisplayArrival  string                    `json:"displayArrival"`
	TimeLeftToCatch float64                   `json:"timeLeftToCatch"` // seconds
	Status          Status                    `json:"status"`
}

// NewInfo derives the catch record for a prediction. travelToStation is the
// rider's remaining time to the station entrance; timeToPlatform is the fixed
// station-to-platform walk.
func NewInfo(p transit.ArrivalPrediction, now time.Time, travelToStation, timeToPlatform time.Duration) Info {
	arrival := p.ExpectedArrival
	if arrival.IsZero() {
		arrival = now.Add(time.Duration(p.TimeToStation) * time.Second)
	}
	info := Info{
		Prediction:      p,
		TimeToPlatform:  timeToPlatform,
		ExpectedArrival: arrival,
		DisplayArrival:  arrival.Format("15:04"),
	}
	return info.At(now, travelToStation)
}

// At returns a copy reclassified for the given instant and travel time.
func (i Info) At(now time.Time, travelToStation time.Duration) Info {
	secondsUntil := i.ExpectedArrival.Sub(now).Seconds()
	dynamic := (travelToStation + i.TimeToPlatform).Seconds()
	i.TimeLeftToCatch = secondsUntil - dynamic
	i.Status = Classify(i.TimeLeftToCatch)
	return i
}
