package aggregator

import (
	"context"
	"math"
	"strings"
	"sync"
	"time"

	"catchtrain/internal/catch"
	"catchtrain/internal/transit"
)

// TransitInfo is the read-only snapshot of one leg's boarding situation.
type TransitInfo struct {
	Leg        transit.RouteLeg `json:"leg"`
	StationID  string           `json:"stationId"`
	LineStatus string           `json:"lineStatus,omitempty"`
	Trains     []catch.Info     `json:"trains"`
}

type BoardConfig struct {
	WindowSize     int
	TimeToPlatform time.Duration
	// StatusEvery bounds how often line status is re-fetched by Refresh.
	StatusEvery time.Duration
}

// CatchBoard tracks the catchable trains for boarding one leg.
type CatchBoard struct {
	agg *Aggregator
	leg transit.RouteLeg
	cfg BoardConfig
	now func() time.Time

	mu        sync.Mutex
	stationID string
	window    *catch.Window
	travel    time.Duration
	status    string
	statusAt  time.Time
}

func (a *Aggregator) NewCatchBoard(leg transit.RouteLeg, cfg BoardConfig) *CatchBoard {
	if cfg.StatusEvery <= 0 {
		cfg.StatusEvery = time.Minute
	}
	return &CatchBoard{
		agg:    a,
		leg:    leg,
		cfg:    cfg,
		now:    time.Now,
		window: catch.NewWindow(cfg.WindowSize),
	}
}

func (b *CatchBoard) Leg() transit.RouteLeg { return b.leg }

// SetTravelTime sets the rider's remaining time to the station entrance. It
// is negative once the rider is inside the station, down to minus the
// platform time.
func (b *CatchBoard) SetTravelTime(d time.Duration) {
	if d < -b.cfg.TimeToPlatform {
		d = -b.cfg.TimeToPlatform
	}
	b.mu.Lock()
	b.travel = d
	b.mu.Unlock()
}

// Refresh fetches live arrivals for the boarding station and merges them into
// the window. It fails when the boarding station cannot be resolved or no
// arrivals request succeeds; the window is then left as it was.
func (b *CatchBoard) Refresh(ctx context.Context) error {
	id, err := b.resolve(ctx)
	if err != nil {
		return err
	}
	preds, err := b.agg.fetchArrivals(ctx, id, b.lineIDs()...)
	if err != nil {
		return err
	}
	b.refreshStatus(ctx)

	b.mu.Lock()
	defer b.mu.Unlock()
	now := b.now()
	b.window.Reclassify(now, b.travel)
	b.window.Merge(b.candidatesLocked(preds, now))
	return nil
}

// Advance reclassifies the window and drops missed trains from its head. If
// any were dropped it performs one supplemental fetch and appends at most as
// many new trains as were dropped. It returns the number dropped.
func (b *CatchBoard) Advance(ctx context.Context) int {
	b.mu.Lock()
	b.window.Reclassify(b.now(), b.travel)
	pruned := b.window.PruneMissed()
	id := b.stationID
	b.mu.Unlock()
	if pruned == 0 || id == "" {
		return pruned
	}

	preds, err := b.agg.fetchArrivals(ctx, id, b.lineIDs()...)
	if err != nil {
		return pruned
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.window.Supplement(b.candidatesLocked(preds, b.now()), pruned)
	return pruned
}

// Head returns the targeted train: the earliest one still in the window.
func (b *CatchBoard) Head() (catch.Info, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.window.Head()
}

func (b *CatchBoard) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.window.Len()
}

func (b *CatchBoard) Info() TransitInfo {
	b.mu.Lock()
	defer b.mu.Unlock()
	return TransitInfo{
		Leg:        b.leg,
		StationID:  b.stationID,
		LineStatus: b.status,
		Trains:     b.window.Entries(),
	}
}

func (b *CatchBoard) resolve(ctx context.Context) (string, error) {
	b.mu.Lock()
	id := b.stationID
	b.mu.Unlock()
	if id != "" {
		return id, nil
	}
	id, err := b.agg.ResolveStationID(ctx, b.leg.DepartureStation)
	if err != nil {
		return "", err
	}
	b.mu.Lock()
	b.stationID = id
	b.mu.Unlock()
	return id, nil
}

func (b *CatchBoard) lineIDs() []string {
	if b.leg.LineID == "" {
		return nil
	}
	return []string{b.leg.LineID}
}

func (b *CatchBoard) refreshStatus(ctx context.Context) {
	if b.leg.LineID == "" {
		return
	}
	b.mu.Lock()
	due := b.statusAt.IsZero() || b.now().Sub(b.statusAt) >= b.cfg.StatusEvery
	b.mu.Unlock()
	if !due {
		return
	}
	st := b.agg.FetchLineStatus(ctx, b.leg.LineID)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.statusAt = b.now()
	for _, s := range st {
		if strings.EqualFold(s.LineID, b.leg.LineID) {
			b.status = s.Description
		}
	}
}

// candidatesLocked turns predictions into catchable records for this leg.
func (b *CatchBoard) candidatesLocked(preds []transit.ArrivalPrediction, now time.Time) []catch.Info {
	out := make([]catch.Info, 0, len(preds))
	for _, p := range preds {
		if b.leg.LineID != "" && !strings.EqualFold(p.LineID, b.leg.LineID) {
			continue
		}
		if !b.servesLeg(p) {
			continue
		}
		info := catch.NewInfo(p, now, b.travel, b.cfg.TimeToPlatform)
		if catch.Catchable(info.TimeLeftToCatch) {
			out = append(out, info)
		}
	}
	return out
}

// servesLeg keeps trains consistent with the rider's stop order: the
// platform must face the leg's direction, and the train must not terminate
// before the alighting stop. Unknown directions and destinations are
// accepted.
func (b *CatchBoard) servesLeg(p transit.ArrivalPrediction) bool {
	if !b.headsAlongLeg(p.PlatformName) {
		return false
	}
	stops := b.leg.StopNames
	if len(stops) < 2 || p.DestinationName == "" {
		return true
	}
	i := stopIndex(stops, p.DestinationName, b.agg.aliases)
	return i < 0 || i == len(stops)-1
}

var platformBearings = []struct {
	word    string
	bearing float64
}{
	{"northbound", 0},
	{"eastbound", 90},
	{"southbound", 180},
	{"westbound", 270},
}

// headsAlongLeg compares a platform's compass direction ("Westbound -
// Platform 1") with the bearing from the boarding to the alighting station.
// Trains more than 90 degrees off are heading the other way.
func (b *CatchBoard) headsAlongLeg(platform string) bool {
	from, to := b.leg.DepartureCoord, b.leg.ArrivalCoord
	if platform == "" || from.IsZero() || to.IsZero() {
		return true
	}
	name := strings.ToLower(platform)
	for _, pb := range platformBearings {
		if !strings.Contains(name, pb.word) {
			continue
		}
		diff := math.Abs(transit.Bearing(from, to) - pb.bearing)
		if diff > 180 {
			diff = 360 - diff
		}
		return diff <= 90
	}
	return true
}
