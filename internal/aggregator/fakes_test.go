package aggregator

import (
	"context"
	"errors"
	"sync"
	"time"

	"catchtrain/internal/transit"
)

var errBoom = errors.New("boom")

type fakeTransit struct {
	mu sync.Mutex

	search      map[string][]transit.Station
	searchErr   error
	searchCalls int

	lines    map[string][]string
	linesErr error

	arrivals     map[string][]transit.ArrivalPrediction // by line id
	arrivalErr   map[string]error
	arrivalCalls int

	journeys     map[string][]PlannedLeg // by coordParam(from)+">"+coordParam(to)
	journeyErr   error
	journeyCalls int

	status []transit.LineStatus
}

func (f *fakeTransit) SearchStations(_ context.Context, query string) ([]transit.Station, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.searchCalls++
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	return f.search[query], nil
}

func (f *fakeTransit) StationLines(_ context.Context, stationID string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.linesErr != nil {
		return nil, f.linesErr
	}
	return f.lines[stationID], nil
}

func (f *fakeTransit) Arrivals(_ context.Context, _ string, lineID string) ([]transit.ArrivalPrediction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.arrivalCalls++
	if err := f.arrivalErr[lineID]; err != nil {
		return nil, err
	}
	return append([]transit.ArrivalPrediction(nil), f.arrivals[lineID]...), nil
}

func journeyKey(from, to transit.Coordinate) string {
	return coordParam(from) + ">" + coordParam(to)
}

func (f *fakeTransit) Journey(_ context.Context, from, to transit.Coordinate) ([]PlannedLeg, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.journeyCalls++
	if f.journeyErr != nil {
		return nil, f.journeyErr
	}
	return f.journeys[journeyKey(from, to)], nil
}

func (f *fakeTransit) LineStatus(_ context.Context, lineIDs ...string) ([]transit.LineStatus, error) {
	return f.status, nil
}

func (f *fakeTransit) calls() (search, arrivals, journeys int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.searchCalls, f.arrivalCalls, f.journeyCalls
}

type fakeDirections struct {
	steps []Step
	err   error
}

func (f *fakeDirections) Route(context.Context, transit.Coordinate, transit.Coordinate) ([]Step, error) {
	return f.steps, f.err
}

type fakeWalker struct {
	times map[transit.Coordinate]time.Duration // by destination
}

func (f *fakeWalker) WalkTime(_ context.Context, _, to transit.Coordinate) (time.Duration, error) {
	if d, ok := f.times[to]; ok {
		return d, nil
	}
	return 0, errBoom
}

type fakeRegistry struct {
	stations []transit.Station
	err      error
}

func (f *fakeRegistry) Stations(context.Context) ([]transit.Station, error) {
	return f.stations, f.err
}
