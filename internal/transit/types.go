package transit

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
)

type Coordinate struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Point returns the coordinate as an orb point (lon, lat order).
func (c Coordinate) Point() orb.Point { return orb.Point{c.Lon, c.Lat} }

// IsZero reports whether the coordinate was never resolved.
func (c Coordinate) IsZero() bool { return c.Lat == 0 && c.Lon == 0 }

// Distance returns the great-circle distance in meters.
func Distance(a, b Coordinate) float64 {
	return geo.Distance(a.Point(), b.Point())
}

// Bearing returns the initial compass bearing from a to b in degrees, [0, 360).
func Bearing(a, b Coordinate) float64 {
	d := geo.Bearing(a.Point(), b.Point())
	if d < 0 {
		d += 360
	}
	return d
}

type Location struct {
	Coordinate
	Accuracy  float64   `json:"accuracy"` // meters, 0 if unknown
	Speed     float64   `json:"speed"`    // m/s, negative if unknown
	Timestamp time.Time `json:"timestamp"`
}

type Station struct {
	ID    string   `json:"id"`
	Name  string   `json:"name"`
	Lines []string `json:"lines,omitempty"`
	Coordinate
}

type RouteLeg struct {
	LineID           string
	LineName         string
	DepartureStation string
	ArrivalStation   string
	DepartureCoord   Coordinate
	ArrivalCoord     Coordinate
	StopNames        []string // ordered, first = departure, last = arrival
	Duration         time.Duration
	TransferToNext   *time.Duration // nil when unknown or last leg
}

type Route struct {
	Origin         Coordinate
	Destination    Coordinate
	OriginStation  Station // nearest registry station, zero if registry empty
	Legs           []RouteLeg
	EntryWalk      time.Duration
	ExitWalk       time.Duration
	WalkingMinutes float64 // as reported by directions
	TransitMinutes float64
	TotalAdjusted  time.Duration // entry + exit + transit
}

type ArrivalPrediction struct {
	StationID       string    `json:"stationId"`
	LineID          string    `json:"lineId"`
	VehicleID       string    `json:"vehicleId"`
	PlatformName    string    `json:"platformName"`
	DestinationName string    `json:"destinationName"`
	ExpectedArrival time.Time `json:"expectedArrival"`
	TimeToStation   int       `json:"timeToStation"` // seconds, as reported live
}

type LineStatus struct {
	LineID      string
	Severity    int
	Description string
	Reason      string
}

// ParseCoordinate parses "lat,lon".
func ParseCoordinate(s string) (Coordinate, error) {
	parts := strings.Split(strings.TrimSpace(s), ",")
	if len(parts) != 2 {
		return Coordinate{}, fmt.Errorf("coordinate %q: want lat,lon", s)
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return Coordinate{}, fmt.Errorf("coordinate %q: %w", s, err)
	}
	lon, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return Coordinate{}, fmt.Errorf("coordinate %q: %w", s, err)
	}
	if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return Coordinate{}, fmt.Errorf("coordinate %q out of range", s)
	}
	return Coordinate{Lat: lat, Lon: lon}, nil
}
