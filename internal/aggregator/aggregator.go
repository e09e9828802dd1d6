// Package aggregator resolves stations and assembles routes, stop sequences,
// transfer times and live arrivals from external transit services. Network
// failures never cross this package as panics; they are logged, counted and
// surface as absent data or wrapped sentinel errors.
package aggregator

import (
	"context"
	"fmt"
	"log"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/bluele/gcache"

	"catchtrain/internal/metrics"
	"catchtrain/internal/transit"
)

type StepMode int

const (
	Walking StepMode = iota
	Transit
)

// TransitDetails describes the ride part of a directions step.
type TransitDetails struct {
	LineID         string
	LineName       string
	DepartureStop  string
	ArrivalStop    string
	DepartureCoord transit.Coordinate
	ArrivalCoord   transit.Coordinate
	NumStops       int
}

// Step is one directions step, walking or transit.
type Step struct {
	Mode     StepMode
	Duration time.Duration
	Distance float64 // meters
	Start    transit.Coordinate
	End      transit.Coordinate
	Transit  *TransitDetails // nil for walking steps
}

// Directions is the opaque route-finding service.
type Directions interface {
	Route(ctx context.Context, origin, destination transit.Coordinate) ([]Step, error)
}

// PlannedLeg is one leg of a journey-planner answer.
type PlannedLeg struct {
	Mode      string
	LineID    string
	Duration  time.Duration
	StopNames []string
}

// TransitService is the transit data service: station search, line
// discovery, arrivals, journey planning and line status.
type TransitService interface {
	SearchStations(ctx context.Context, query string) ([]transit.Station, error)
	StationLines(ctx context.Context, stationID string) ([]string, error)
	Arrivals(ctx context.Context, stationID, lineID string) ([]transit.ArrivalPrediction, error)
	Journey(ctx context.Context, from, to transit.Coordinate) ([]PlannedLeg, error)
	LineStatus(ctx context.Context, lineIDs ...string) ([]transit.LineStatus, error)
}

// WalkTimer returns the walking duration between two points.
type WalkTimer interface {
	WalkTime(ctx context.Context, from, to transit.Coordinate) (time.Duration, error)
}

// StationRegistry lists the known stations.
type StationRegistry interface {
	Stations(ctx context.Context) ([]transit.Station, error)
}

const (
	defaultCacheSize = 4096
	// fallbackWalkSpeed is used when no walking router answers.
	fallbackWalkSpeed = 1.4
)

type Options struct {
	Directions Directions
	Transit    TransitService
	Walker     WalkTimer // optional
	Registry   StationRegistry
	Metrics    *metrics.Collector
	Aliases    map[string]string
	CacheSize  int
}

type Aggregator struct {
	directions Directions
	transit    TransitService
	walker     WalkTimer
	registry   StationRegistry
	metrics    *metrics.Collector
	aliases    Aliases

	ids gcache.Cache // normalized name -> station id

	mu       sync.RWMutex
	stations []transit.Station
	keys     []string // normalized station names, parallel to stations
}

func New(opts Options) *Aggregator {
	size := opts.CacheSize
	if size <= 0 {
		size = defaultCacheSize
	}
	return &Aggregator{
		directions: opts.Directions,
		transit:    opts.Transit,
		walker:     opts.Walker,
		registry:   opts.Registry,
		metrics:    opts.Metrics,
		aliases:    NewAliases(opts.Aliases),
		ids:        gcache.New(size).LRU().Build(),
	}
}

// WarmStations loads the registry and seeds the station-id cache. It
// returns the number of stations loaded.
func (a *Aggregator) WarmStations(ctx context.Context) (int, error) {
	if a.registry == nil {
		return 0, nil
	}
	start := time.Now()
	stations, err := a.registry.Stations(ctx)
	a.metrics.ObserveFetch("registry", start, err)
	if err != nil {
		return 0, fmt.Errorf("load stations: %w: %w", transit.ErrNetworkFailure, err)
	}
	a.SetStations(stations)
	return len(stations), nil
}

// SetStations replaces the in-memory registry and seeds the id cache.
func (a *Aggregator) SetStations(stations []transit.Station) {
	keys := make([]string, len(stations))
	for i, s := range stations {
		keys[i] = Normalize(s.Name)
		if keys[i] != "" && s.ID != "" {
			_ = a.ids.Set(keys[i], s.ID)
		}
	}
	a.mu.Lock()
	a.stations = append([]transit.Station(nil), stations...)
	a.keys = keys
	a.mu.Unlock()
}

// Stations returns a copy of the loaded registry.
func (a *Aggregator) Stations() []transit.Station {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return append([]transit.Station(nil), a.stations...)
}

// NearestStation is a linear nearest-neighbor scan over the registry.
func (a *Aggregator) NearestStation(c transit.Coordinate) (transit.Station, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	best := transit.Station{}
	bestD := math.MaxFloat64
	for _, s := range a.stations {
		if s.Coordinate.IsZero() {
			continue
		}
		if d := transit.Distance(c, s.Coordinate); d < bestD {
			bestD = d
			best = s
		}
	}
	return best, bestD < math.MaxFloat64
}

// ResolveStationID maps a station name to an id: exact normalized cache hit,
// then substring match over registry names, then live search. Successful
// lookups are cached; failures are not.
func (a *Aggregator) ResolveStationID(ctx context.Context, name string) (string, error) {
	key := a.aliases.Canonical(Normalize(name))
	if key == "" {
		return "", fmt.Errorf("%w: empty name %q", transit.ErrUnresolvableStation, name)
	}
	if v, err := a.ids.Get(key); err == nil {
		if id, ok := v.(string); ok {
			return id, nil
		}
	}

	if id, ok := a.fuzzyStation(key); ok {
		_ = a.ids.Set(key, id)
		return id, nil
	}

	if a.transit == nil {
		return "", fmt.Errorf("%w: %q", transit.ErrUnresolvableStation, name)
	}
	start := time.Now()
	found, err := a.transit.SearchStations(ctx, name)
	a.metrics.ObserveFetch("search", start, err)
	if err != nil {
		log.Printf("station search %q: %v", name, err)
		return "", fmt.Errorf("resolve %q: %w: %w", name, transit.ErrNetworkFailure, err)
	}
	for _, s := range found {
		if s.ID != "" {
			_ = a.ids.Set(key, s.ID)
			return s.ID, nil
		}
	}
	return "", fmt.Errorf("%w: %q", transit.ErrUnresolvableStation, name)
}

// fuzzyStation finds a registry station whose normalized name contains key
// or is contained in it, preferring the closest length.
func (a *Aggregator) fuzzyStation(key string) (string, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	bestID := ""
	bestDiff := math.MaxInt
	for i, k := range a.keys {
		if k == "" || a.stations[i].ID == "" {
			continue
		}
		if k == key {
			return a.stations[i].ID, true
		}
		if !strings.Contains(k, key) && !strings.Contains(key, k) {
			continue
		}
		diff := len(k) - len(key)
		if diff < 0 {
			diff = -diff
		}
		if diff < bestDiff {
			bestDiff = diff
			bestID = a.stations[i].ID
		}
	}
	return bestID, bestID != ""
}

// walkTime asks the walking router and falls back to straight-line distance
// at walking pace.
func (a *Aggregator) walkTime(ctx context.Context, from, to transit.Coordinate) time.Duration {
	if from.IsZero() || to.IsZero() {
		return 0
	}
	if a.walker != nil {
		start := time.Now()
		d, err := a.walker.WalkTime(ctx, from, to)
		a.metrics.ObserveFetch("walk", start, err)
		if err == nil {
			return d
		}
		log.Printf("walk time %v -> %v: %v", from, to, err)
	}
	meters := transit.Distance(from, to)
	return time.Duration(meters / fallbackWalkSpeed * float64(time.Second))
}
