package progress

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"catchtrain/internal/transit"
)

var (
	origin      = transit.Coordinate{Lat: 51.5000, Lon: -0.1400}
	stationA    = transit.Coordinate{Lat: 51.5018, Lon: -0.1400}
	stationB    = transit.Coordinate{Lat: 51.5100, Lon: -0.1000}
	stationC    = transit.Coordinate{Lat: 51.5150, Lon: -0.0900}
	destination = transit.Coordinate{Lat: 51.5110, Lon: -0.1000}
)

func oneLegRoute() *transit.Route {
	return &transit.Route{
		Origin:      origin,
		Destination: destination,
		Legs: []transit.RouteLeg{{
			LineID:           "central",
			DepartureStation: "A",
			ArrivalStation:   "B",
			DepartureCoord:   stationA,
			ArrivalCoord:     stationB,
			Duration:         300 * time.Second,
		}},
		EntryWalk: 100 * time.Second,
		ExitWalk:  100 * time.Second,
	}
}

func TestPhaseOrder(t *testing.T) {
	ordered := []Phase{
		{Kind: WalkToStation},
		{Kind: StationToPlatform},
		{Kind: OnTrain, Leg: 0},
		{Kind: TransferWalk, Leg: 0},
		{Kind: OnTrain, Leg: 1},
		{Kind: TransferWalk, Leg: 1},
		{Kind: OnTrain, Leg: 2},
		{Kind: WalkToDestination},
		{Kind: Finished},
	}
	for i := 1; i < len(ordered); i++ {
		if !ordered[i-1].Before(ordered[i]) {
			t.Errorf("%s should come before %s", ordered[i-1], ordered[i])
		}
		if ordered[i].Before(ordered[i-1]) {
			t.Errorf("%s should not come before %s", ordered[i], ordered[i-1])
		}
	}
}

func TestPhaseText(t *testing.T) {
	b, err := json.Marshal(struct {
		P Phase `json:"p"`
	}{Phase{Kind: TransferWalk, Leg: 1}})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(b) != `{"p":"transferWalk(1)"}` {
		t.Errorf("json = %s", b)
	}
}

func TestNewPlan(t *testing.T) {
	r := oneLegRoute()
	transfer := 4 * time.Minute
	r.Legs[0].TransferToNext = nil
	r.Legs = append(r.Legs, transit.RouteLeg{
		LineID: "northern", DepartureCoord: stationB, ArrivalCoord: stationC, Duration: 200 * time.Second,
	})

	tests := []struct {
		name      string
		transfer  *time.Duration
		wantTotal time.Duration
	}{
		{"default transfer", nil, (100 + 120 + 300 + 180 + 200 + 100) * time.Second},
		{"fetched transfer", &transfer, (100+120+300+200+100)*time.Second + transfer},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r.Legs[0].TransferToNext = tt.transfer
			p := NewPlan(r, PlanConfig{})
			want := []Phase{
				{Kind: WalkToStation},
				{Kind: StationToPlatform},
				{Kind: OnTrain, Leg: 0},
				{Kind: TransferWalk, Leg: 0},
				{Kind: OnTrain, Leg: 1},
				{Kind: WalkToDestination},
				{Kind: Finished},
			}
			if len(p.Steps) != len(want) {
				t.Fatalf("got %d steps", len(p.Steps))
			}
			for i, s := range p.Steps {
				if s.Phase != want[i] {
					t.Errorf("step %d = %s, expected %s", i, s.Phase, want[i])
				}
			}
			if p.Total != tt.wantTotal {
				t.Errorf("Total = %v, expected %v", p.Total, tt.wantTotal)
			}
			tw := p.Steps[3]
			if tw.From != stationB || tw.Target != stationB {
				t.Errorf("transfer walk bounds = %v -> %v", tw.From, tw.Target)
			}
			if p.TimeOnly() {
				t.Errorf("fully resolved plan reported time-only")
			}
		})
	}
}

func TestNewPlanWalkOnlyAndUnresolved(t *testing.T) {
	walk := NewPlan(&transit.Route{Origin: origin, Destination: destination, EntryWalk: 5 * time.Minute}, PlanConfig{})
	if len(walk.Steps) != 2 || walk.Steps[0].Phase.Kind != WalkToDestination || walk.Total != 5*time.Minute {
		t.Errorf("walk-only plan = %+v", walk)
	}

	r := oneLegRoute()
	r.Legs[0].DepartureCoord = transit.Coordinate{}
	if !NewPlan(r, PlanConfig{}).TimeOnly() {
		t.Errorf("plan with unresolved boarding coordinate should be time-only")
	}
}

func TestDefaultDeltaAndUncertainty(t *testing.T) {
	if d := DefaultDelta(120, 100); d != 20 {
		t.Errorf("ahead of plan: delta = %v", d)
	}
	if d := DefaultDelta(100, 130); d != -30 {
		t.Errorf("behind plan: delta = %v", d)
	}
	if u := DefaultUncertainty(0, 14); u < 9.999 || u > 10.001 {
		t.Errorf("accuracy-only uncertainty = %v, expected 10", u)
	}
	if u := DefaultUncertainty(36, 0); u != 6 {
		t.Errorf("variance-only uncertainty = %v, expected 6", u)
	}

	var w runningStats
	for _, v := range []float64{2, 4, 4, 4, 5, 5, 7, 9} {
		w.add(v)
	}
	if math.Abs(w.mean-5) > 1e-9 || math.Abs(w.variance()-4) > 1e-9 {
		t.Errorf("mean %v variance %v, expected 5 and 4", w.mean, w.variance())
	}
}
