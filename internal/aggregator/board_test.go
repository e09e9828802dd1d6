package aggregator

import (
	"context"
	"errors"
	"testing"
	"time"

	"catchtrain/internal/catch"
	"catchtrain/internal/transit"
)

var marbleArch = transit.Coordinate{Lat: 51.513424, Lon: -0.158953}

func newTestBoard(t *testing.T, preds []transit.ArrivalPrediction) (*CatchBoard, *fakeTransit, *time.Time) {
	t.Helper()
	ft := &fakeTransit{
		arrivals: map[string][]transit.ArrivalPrediction{"central": preds},
		status:   []transit.LineStatus{{LineID: "central", Description: "Minor Delays"}},
	}
	a := New(Options{Transit: ft})
	a.SetStations([]transit.Station{oxfordCircus, bondStreet})

	leg := transit.RouteLeg{
		LineID:           "central",
		DepartureStation: "Oxford Circus",
		ArrivalStation:   "Marble Arch",
		DepartureCoord:   oxfordCircus.Coordinate,
		ArrivalCoord:     marbleArch,
		StopNames:        []string{"Oxford Circus", "Bond Street", "Marble Arch"},
	}
	b := a.NewCatchBoard(leg, BoardConfig{WindowSize: 3, TimeToPlatform: 120 * time.Second})
	clock := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	b.now = func() time.Time { return clock }
	b.SetTravelTime(10 * time.Second)
	return b, ft, &clock
}

func westbound(t0 time.Time, vehicle string, in time.Duration) transit.ArrivalPrediction {
	return transit.ArrivalPrediction{
		LineID:          "central",
		VehicleID:       vehicle,
		DestinationName: "Ealing Broadway",
		ExpectedArrival: t0.Add(in),
	}
}

func TestBoardRefreshFillsOrderedWindow(t *testing.T) {
	t0 := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	preds := []transit.ArrivalPrediction{
		westbound(t0, "5", 600*time.Second),
		westbound(t0, "2", 300*time.Second),
		westbound(t0, "1", 200*time.Second),
		westbound(t0, "4", 500*time.Second),
		westbound(t0, "3", 400*time.Second),
		westbound(t0, "0", 100*time.Second), // buffer -30: catchable
		westbound(t0, "x", 90*time.Second),  // buffer -40: dropped
	}
	b, _, _ := newTestBoard(t, preds)
	if err := b.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	info := b.Info()
	if info.StationID != oxfordCircus.ID {
		t.Errorf("StationID = %q", info.StationID)
	}
	if info.LineStatus != "Minor Delays" {
		t.Errorf("LineStatus = %q", info.LineStatus)
	}
	var got []string
	for _, tr := range info.Trains {
		got = append(got, tr.Prediction.VehicleID)
	}
	if !equalStrings(got, []string{"0", "1", "2"}) {
		t.Errorf("window = %v, expected [0 1 2]", got)
	}
	if info.Trains[0].Status != catch.Tough || info.Trains[1].Status != catch.Hurry {
		t.Errorf("statuses = %v, %v", info.Trains[0].Status, info.Trains[1].Status)
	}

	// a second refresh must not grow the window
	if err := b.Refresh(context.Background()); err != nil {
		t.Fatal(err)
	}
	if b.Len() != 3 {
		t.Errorf("Len = %d after second refresh, expected 3", b.Len())
	}
}

func TestBoardRejectsTrainsNotServingLeg(t *testing.T) {
	t0 := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	preds := []transit.ArrivalPrediction{
		{LineID: "central", VehicleID: "e", DestinationName: "Oxford Circus", ExpectedArrival: t0.Add(200 * time.Second)},
		{LineID: "central", VehicleID: "s", DestinationName: "Bond Street", ExpectedArrival: t0.Add(210 * time.Second)},
		{LineID: "central", VehicleID: "m", DestinationName: "Marble Arch", ExpectedArrival: t0.Add(220 * time.Second)},
		{LineID: "victoria", VehicleID: "v", DestinationName: "Brixton", ExpectedArrival: t0.Add(230 * time.Second)},
		westbound(t0, "w", 240*time.Second),
	}
	b, _, _ := newTestBoard(t, preds)
	if err := b.Refresh(context.Background()); err != nil {
		t.Fatal(err)
	}
	var got []string
	for _, tr := range b.Info().Trains {
		got = append(got, tr.Prediction.VehicleID)
	}
	if !equalStrings(got, []string{"m", "w"}) {
		t.Errorf("window = %v, expected [m w]", got)
	}
}

func TestBoardRejectsOppositeDirection(t *testing.T) {
	t0 := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	preds := []transit.ArrivalPrediction{
		{LineID: "central", VehicleID: "east", DestinationName: "Epping", PlatformName: "Eastbound - Platform 2", ExpectedArrival: t0.Add(150 * time.Second)},
		{LineID: "central", VehicleID: "west", DestinationName: "West Ruislip", PlatformName: "Westbound - Platform 1", ExpectedArrival: t0.Add(200 * time.Second)},
		{LineID: "central", VehicleID: "plain", DestinationName: "Ealing Broadway", PlatformName: "Platform 1", ExpectedArrival: t0.Add(250 * time.Second)},
	}
	b, _, _ := newTestBoard(t, preds)
	if err := b.Refresh(context.Background()); err != nil {
		t.Fatal(err)
	}
	head, ok := b.Head()
	if !ok || head.Prediction.VehicleID != "west" {
		t.Errorf("target train = %q/%v, expected the westbound one", head.Prediction.VehicleID, ok)
	}
	var got []string
	for _, tr := range b.Info().Trains {
		got = append(got, tr.Prediction.VehicleID)
	}
	if !equalStrings(got, []string{"west", "plain"}) {
		t.Errorf("window = %v, expected [west plain]", got)
	}
}

func TestBoardAdvancePrunesMissedHeadAndSupplementsOnce(t *testing.T) {
	t0 := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	preds := []transit.ArrivalPrediction{
		westbound(t0, "1", 200*time.Second),
		westbound(t0, "2", 300*time.Second),
		westbound(t0, "3", 400*time.Second),
		westbound(t0, "4", 500*time.Second),
		westbound(t0, "5", 600*time.Second),
	}
	b, ft, clock := newTestBoard(t, preds)
	ctx := context.Background()
	if err := b.Refresh(ctx); err != nil {
		t.Fatal(err)
	}

	if pruned := b.Advance(ctx); pruned != 0 {
		t.Fatalf("nothing missed yet, pruned %d", pruned)
	}
	_, before, _ := ft.calls()

	// train 1 now 80s away against 130s needed: -50, missed
	*clock = clock.Add(120 * time.Second)
	if pruned := b.Advance(ctx); pruned != 1 {
		t.Fatalf("pruned = %d, expected 1", pruned)
	}
	_, after, _ := ft.calls()
	if after-before != 1 {
		t.Errorf("supplemental fetches = %d, expected exactly 1", after-before)
	}

	var got []string
	for _, tr := range b.Info().Trains {
		got = append(got, tr.Prediction.VehicleID)
	}
	if !equalStrings(got, []string{"2", "3", "4"}) {
		t.Errorf("window = %v, expected [2 3 4]", got)
	}
	head, ok := b.Head()
	if !ok || head.Prediction.VehicleID != "2" {
		t.Errorf("target train = %v/%v, expected 2", head.Prediction.VehicleID, ok)
	}
}

func TestBoardUnresolvableStation(t *testing.T) {
	a := New(Options{Transit: &fakeTransit{}})
	b := a.NewCatchBoard(transit.RouteLeg{LineID: "central", DepartureStation: "Atlantis"}, BoardConfig{})
	if err := b.Refresh(context.Background()); !errors.Is(err, transit.ErrUnresolvableStation) {
		t.Errorf("Refresh = %v, expected unresolvable station", err)
	}
	if b.Len() != 0 {
		t.Errorf("window should stay empty")
	}
}

func TestBoardRefreshOutageKeepsWindow(t *testing.T) {
	t0 := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	b, ft, _ := newTestBoard(t, []transit.ArrivalPrediction{
		westbound(t0, "1", 200*time.Second),
		westbound(t0, "2", 300*time.Second),
	})
	ctx := context.Background()
	if err := b.Refresh(ctx); err != nil {
		t.Fatal(err)
	}

	ft.mu.Lock()
	ft.arrivalErr = map[string]error{"central": errors.New("HTTP 502 from /Line/central/Arrivals: bad gateway")}
	ft.mu.Unlock()
	if err := b.Refresh(ctx); !errors.Is(err, transit.ErrNetworkFailure) {
		t.Fatalf("Refresh = %v, expected network failure", err)
	}
	if head, ok := b.Head(); !ok || head.Prediction.VehicleID != "1" || b.Len() != 2 {
		t.Errorf("window changed by a failed refresh: head %v/%v len %d", head.Prediction.VehicleID, ok, b.Len())
	}

	empty, ft2, _ := newTestBoard(t, nil)
	ft2.arrivalErr = map[string]error{"central": errBoom}
	if err := empty.Refresh(ctx); !errors.Is(err, transit.ErrNetworkFailure) {
		t.Errorf("first Refresh during an outage = %v, expected network failure", err)
	}
	ft2.arrivalErr = nil
	if err := empty.Refresh(ctx); err != nil {
		t.Errorf("an empty answer is not an outage: %v", err)
	}
}
