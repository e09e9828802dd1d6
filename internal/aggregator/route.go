package aggregator

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"catchtrain/internal/transit"
)

// FetchRoute assembles a route from directions, planner stop sequences,
// walking times and transfer times. All sub-fetches complete before it
// returns. Only a directions failure or missing endpoints are errors;
// everything else degrades.
func (a *Aggregator) FetchRoute(ctx context.Context, origin, destination transit.Coordinate) (*transit.Route, error) {
	if origin.IsZero() || destination.IsZero() {
		return nil, transit.ErrMissingRouteData
	}
	if a.directions == nil {
		return nil, fmt.Errorf("%w: no directions service", transit.ErrNetworkFailure)
	}

	route := &transit.Route{Origin: origin, Destination: destination}
	if s, ok := a.NearestStation(origin); ok {
		route.OriginStation = s
	}

	start := time.Now()
	steps, err := a.directions.Route(ctx, origin, destination)
	a.metrics.ObserveFetch("directions", start, err)
	if err != nil {
		log.Printf("directions %v -> %v: %v", origin, destination, err)
		return nil, fmt.Errorf("directions: %w: %w", transit.ErrNetworkFailure, err)
	}

	for _, st := range steps {
		switch st.Mode {
		case Walking:
			route.WalkingMinutes += st.Duration.Minutes()
		case Transit:
			route.TransitMinutes += st.Duration.Minutes()
			if st.Transit == nil {
				continue
			}
			td := st.Transit
			depCoord, arrCoord := td.DepartureCoord, td.ArrivalCoord
			if depCoord.IsZero() {
				depCoord = st.Start
			}
			if arrCoord.IsZero() {
				arrCoord = st.End
			}
			dep, arr := DisplayName(td.DepartureStop), DisplayName(td.ArrivalStop)
			route.Legs = append(route.Legs, transit.RouteLeg{
				LineID:           td.LineID,
				LineName:         td.LineName,
				DepartureStation: dep,
				ArrivalStation:   arr,
				DepartureCoord:   depCoord,
				ArrivalCoord:     arrCoord,
				StopNames:        []string{dep, arr},
				Duration:         st.Duration,
			})
		}
	}

	var (
		wg        sync.WaitGroup
		entry     time.Duration
		exit      time.Duration
		sequences = make([][]string, len(route.Legs))
		transfers = make([]*time.Duration, len(route.Legs))
	)

	entryTo, exitFrom := destination, destination
	if n := len(route.Legs); n > 0 {
		entryTo = route.Legs[0].DepartureCoord
		exitFrom = route.Legs[n-1].ArrivalCoord
	}

	wg.Add(2)
	go func() {
		defer wg.Done()
		entry = a.walkTime(ctx, origin, entryTo)
	}()
	go func() {
		defer wg.Done()
		if len(route.Legs) > 0 {
			exit = a.walkTime(ctx, exitFrom, destination)
		}
	}()

	for i, leg := range route.Legs {
		wg.Add(1)
		go func(i int, leg transit.RouteLeg) {
			defer wg.Done()
			sequences[i] = a.stopSequence(ctx, leg)
		}(i, leg)

		if i+1 < len(route.Legs) {
			next := route.Legs[i+1]
			wg.Add(1)
			go func(i int, from, to transit.Station) {
				defer wg.Done()
				if d, ok := a.FetchTransferTime(ctx, from, to); ok {
					transfers[i] = &d
				}
			}(i,
				transit.Station{Name: leg.ArrivalStation, Coordinate: leg.ArrivalCoord},
				transit.Station{Name: next.DepartureStation, Coordinate: next.DepartureCoord})
		}
	}
	wg.Wait()

	for i := range route.Legs {
		leg := &route.Legs[i]
		// At an interchange the boarding stop is the previous leg's arrival
		// whenever the planner's list does not name the directions departure.
		if i > 0 && len(sequences[i]) > 0 {
			prev := route.Legs[i-1].ArrivalStation
			if prev != "" && exactIndex(sequences[i], leg.DepartureStation) < 0 {
				leg.DepartureStation = prev
			}
		}
		leg.StopNames = a.spliceStops(sequences[i], leg.DepartureStation, leg.ArrivalStation)
		leg.TransferToNext = transfers[i]
	}

	route.EntryWalk = entry
	route.ExitWalk = exit
	total := entry + exit
	for _, leg := range route.Legs {
		total += leg.Duration
	}
	route.TotalAdjusted = total
	return route, nil
}

// stopSequence asks the planner for the stops of a leg. It returns nil when
// the planner fails or has no matching transit leg.
func (a *Aggregator) stopSequence(ctx context.Context, leg transit.RouteLeg) []string {
	if a.transit == nil || leg.DepartureCoord.IsZero() || leg.ArrivalCoord.IsZero() {
		return nil
	}
	start := time.Now()
	planned, err := a.transit.Journey(ctx, leg.DepartureCoord, leg.ArrivalCoord)
	a.metrics.ObserveFetch("journey", start, err)
	if err != nil {
		log.Printf("stop sequence %s %s -> %s: %v", leg.LineID, leg.DepartureStation, leg.ArrivalStation, err)
		return nil
	}
	var fallback []string
	for _, p := range planned {
		if len(p.StopNames) == 0 || strings.EqualFold(p.Mode, "walking") {
			continue
		}
		if leg.LineID != "" && strings.EqualFold(p.LineID, leg.LineID) {
			return p.StopNames
		}
		if fallback == nil {
			fallback = p.StopNames
		}
	}
	return fallback
}

// spliceStops cleans a planner stop list so that it starts at boarding and
// ends at arrival.
func (a *Aggregator) spliceStops(stops []string, boarding, arrival string) []string {
	out := make([]string, 0, len(stops)+2)
	for _, s := range stops {
		if d := DisplayName(s); d != "" {
			out = append(out, d)
		}
	}

	if i := exactIndex(out, boarding); i >= 0 {
		out = out[i:]
	} else {
		out = append([]string{boarding}, out...)
	}
	out[0] = boarding

	if len(out) > 1 {
		if j := exactIndex(out[1:], arrival); j >= 0 {
			out = out[:j+2]
			out[len(out)-1] = arrival
			return out
		}
		if j := stopIndex(out[1:], arrival, a.aliases); j >= 0 {
			out = out[:j+2]
			out[len(out)-1] = arrival
			return out
		}
	}
	return append(out, arrival)
}

func exactIndex(stops []string, name string) int {
	key := Normalize(name)
	for i, s := range stops {
		if Normalize(s) == key {
			return i
		}
	}
	return -1
}
