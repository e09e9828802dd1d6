// Package progress drives a journey through its phases on a fixed tick,
// recomputing progress, delta, uncertainty and the catch status of the
// targeted train, and notifying a listener.
package progress

import (
	"fmt"
	"math"
)

type Kind int

const (
	WalkToStation Kind = iota
	StationToPlatform
	OnTrain
	TransferWalk
	WalkToDestination
	Finished
)

var kindNames = [...]string{"walkToStation", "stationToPlatform", "onTrain", "transferWalk", "walkToDestination", "finished"}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return "unknown"
	}
	return kindNames[k]
}

// Phase is a stage of the journey. Leg is the leg index for OnTrain and the
// index of the leg just left for TransferWalk; it is zero otherwise.
type Phase struct {
	Kind Kind `json:"kind"`
	Leg  int  `json:"leg"`
}

func (p Phase) String() string {
	switch p.Kind {
	case OnTrain, TransferWalk:
		return fmt.Sprintf("%s(%d)", p.Kind, p.Leg)
	default:
		return p.Kind.String()
	}
}

// MarshalText renders the phase as its String form.
func (p Phase) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

// rank places phases on the total order
// walkToStation < stationToPlatform < onTrain(0) < transferWalk(0) < onTrain(1) < ... < walkToDestination < finished.
func (p Phase) rank() int {
	switch p.Kind {
	case WalkToStation:
		return 0
	case StationToPlatform:
		return 1
	case OnTrain:
		return 2 + 2*p.Leg
	case TransferWalk:
		return 3 + 2*p.Leg
	case WalkToDestination:
		return math.MaxInt32 - 1
	default:
		return math.MaxInt32
	}
}

// Before reports whether p comes strictly before q.
func (p Phase) Before(q Phase) bool { return p.rank() < q.rank() }

// Walking reports whether the phase is an outdoor walk with a GPS target.
func (p Phase) Walking() bool {
	return p.Kind == WalkToStation || p.Kind == TransferWalk || p.Kind == WalkToDestination
}
