package progress

import (
	"time"

	"catchtrain/internal/transit"
)

const (
	DefaultStationToPlatform = 120 * time.Second
	DefaultTransferWalk      = 180 * time.Second
)

// Step is one planned phase. From and Target bound walking phases and are
// zero when unresolved.
type Step struct {
	Phase    Phase
	Duration time.Duration
	From     transit.Coordinate
	Target   transit.Coordinate
}

// gpsTracked reports whether GPS can drive this step.
func (s Step) gpsTracked() bool {
	return s.Phase.Walking() && !s.Target.IsZero() && !s.From.IsZero()
}

type Plan struct {
	Steps []Step
	Total time.Duration
}

type PlanConfig struct {
	StationToPlatform time.Duration
	DefaultTransfer   time.Duration
}

// NewPlan lays out the phases of a route. A route without legs is a single
// walk to the destination.
func NewPlan(r *transit.Route, cfg PlanConfig) Plan {
	if cfg.StationToPlatform <= 0 {
		cfg.StationToPlatform = DefaultStationToPlatform
	}
	if cfg.DefaultTransfer <= 0 {
		cfg.DefaultTransfer = DefaultTransferWalk
	}

	var steps []Step
	if len(r.Legs) == 0 {
		steps = append(steps, Step{
			Phase:    Phase{Kind: WalkToDestination},
			Duration: r.EntryWalk + r.ExitWalk,
			From:     r.Origin,
			Target:   r.Destination,
		})
	} else {
		first := r.Legs[0]
		steps = append(steps,
			Step{Phase: Phase{Kind: WalkToStation}, Duration: r.EntryWalk, From: r.Origin, Target: first.DepartureCoord},
			Step{Phase: Phase{Kind: StationToPlatform}, Duration: cfg.StationToPlatform},
		)
		for i, leg := range r.Legs {
			steps = append(steps, Step{Phase: Phase{Kind: OnTrain, Leg: i}, Duration: leg.Duration})
			if i+1 == len(r.Legs) {
				break
			}
			transfer := cfg.DefaultTransfer
			if leg.TransferToNext != nil {
				transfer = *leg.TransferToNext
			}
			steps = append(steps, Step{
				Phase:    Phase{Kind: TransferWalk, Leg: i},
				Duration: transfer,
				From:     leg.ArrivalCoord,
				Target:   r.Legs[i+1].DepartureCoord,
			})
		}
		last := r.Legs[len(r.Legs)-1]
		steps = append(steps, Step{
			Phase:    Phase{Kind: WalkToDestination},
			Duration: r.ExitWalk,
			From:     last.ArrivalCoord,
			Target:   r.Destination,
		})
	}
	steps = append(steps, Step{Phase: Phase{Kind: Finished}})

	var total time.Duration
	for _, s := range steps {
		total += s.Duration
	}
	return Plan{Steps: steps, Total: total}
}

// TimeOnly reports whether any walking phase lacks coordinates, so GPS
// cannot drive it.
func (p Plan) TimeOnly() bool {
	for _, s := range p.Steps {
		if s.Phase.Walking() && !s.gpsTracked() {
			return true
		}
	}
	return false
}
