package aggregator

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"catchtrain/internal/transit"
)

// FetchAllArrivals returns live predictions for a station, merged across
// lines and sorted by expected arrival. With no line ids the serving lines
// are discovered first. A failing line only drops its own predictions.
func (a *Aggregator) FetchAllArrivals(ctx context.Context, stationID string, lineIDs ...string) []transit.ArrivalPrediction {
	preds, _ := a.fetchArrivals(ctx, stationID, lineIDs...)
	return preds
}

// fetchArrivals is FetchAllArrivals that also tells an outage apart from an
// empty answer: it fails with transit.ErrNetworkFailure when line discovery
// fails or when every per-line request does.
func (a *Aggregator) fetchArrivals(ctx context.Context, stationID string, lineIDs ...string) ([]transit.ArrivalPrediction, error) {
	if a.transit == nil || stationID == "" {
		return nil, nil
	}
	if len(lineIDs) == 0 {
		start := time.Now()
		lines, err := a.transit.StationLines(ctx, stationID)
		a.metrics.ObserveFetch("lines", start, err)
		if err != nil {
			log.Printf("lines for %s: %v", stationID, err)
			return nil, fmt.Errorf("lines for %s: %w: %w", stationID, transit.ErrNetworkFailure, err)
		}
		lineIDs = lines
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		all     []transit.ArrivalPrediction
		failed  int
		lastErr error
	)
	for _, line := range lineIDs {
		wg.Add(1)
		go func(line string) {
			defer wg.Done()
			start := time.Now()
			preds, err := a.transit.Arrivals(ctx, stationID, line)
			a.metrics.ObserveFetch("arrivals", start, err)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				log.Printf("arrivals %s/%s: %v", stationID, line, err)
				failed++
				lastErr = err
				return
			}
			all = append(all, preds...)
		}(line)
	}
	wg.Wait()

	if len(lineIDs) > 0 && failed == len(lineIDs) {
		return nil, fmt.Errorf("arrivals for %s: %w: %w", stationID, transit.ErrNetworkFailure, lastErr)
	}
	now := time.Now()
	sort.SliceStable(all, func(i, j int) bool {
		return arrivalTime(all[i], now).Before(arrivalTime(all[j], now))
	})
	return all, nil
}

func arrivalTime(p transit.ArrivalPrediction, now time.Time) time.Time {
	if !p.ExpectedArrival.IsZero() {
		return p.ExpectedArrival
	}
	return now.Add(time.Duration(p.TimeToStation) * time.Second)
}

// FetchTransferTime returns the walking time between two stations of a
// journey: zero for the same station, otherwise the planner's first leg.
// ok is false when the planner cannot answer.
func (a *Aggregator) FetchTransferTime(ctx context.Context, from, to transit.Station) (time.Duration, bool) {
	if sameStation(from, to) {
		return 0, true
	}
	if a.transit == nil || from.Coordinate.IsZero() || to.Coordinate.IsZero() {
		return 0, false
	}
	start := time.Now()
	legs, err := a.transit.Journey(ctx, from.Coordinate, to.Coordinate)
	a.metrics.ObserveFetch("transfer", start, err)
	if err != nil {
		log.Printf("transfer %s -> %s: %v", from.Name, to.Name, err)
		return 0, false
	}
	if len(legs) == 0 {
		return 0, false
	}
	return legs[0].Duration, true
}

func sameStation(a, b transit.Station) bool {
	if a.ID != "" && a.ID == b.ID {
		return true
	}
	na, nb := Normalize(a.Name), Normalize(b.Name)
	return na != "" && na == nb
}

// FetchLineStatus returns the current status of the given lines, or nil
// when the service cannot answer.
func (a *Aggregator) FetchLineStatus(ctx context.Context, lineIDs ...string) []transit.LineStatus {
	if a.transit == nil || len(lineIDs) == 0 {
		return nil
	}
	start := time.Now()
	st, err := a.transit.LineStatus(ctx, lineIDs...)
	a.metrics.ObserveFetch("status", start, err)
	if err != nil {
		log.Printf("line status %v: %v", lineIDs, err)
		return nil
	}
	return st
}
