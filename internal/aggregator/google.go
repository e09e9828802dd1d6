package aggregator

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"catchtrain/internal/transit"
)

const DefaultDirectionsAPIURL = "https://maps.googleapis.com"

// GoogleDirections requests transit directions from a Google Directions API
// compatible endpoint.
type GoogleDirections struct {
	base   string
	key    string
	client *http.Client
}

func NewGoogleDirections(baseURL, apiKey string, timeout time.Duration) *GoogleDirections {
	if baseURL == "" {
		baseURL = DefaultDirectionsAPIURL
	}
	return &GoogleDirections{
		base:   strings.TrimRight(baseURL, "/"),
		key:    apiKey,
		client: newHTTPClient(timeout),
	}
}

type gLatLng struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

func (l gLatLng) coord() transit.Coordinate { return transit.Coordinate{Lat: l.Lat, Lon: l.Lng} }

type gValue struct {
	Value float64 `json:"value"`
}

type gStop struct {
	Name     string  `json:"name"`
	Location gLatLng `json:"location"`
}

type gStep struct {
	TravelMode     string  `json:"travel_mode"`
	Duration       gValue  `json:"duration"`
	Distance       gValue  `json:"distance"`
	StartLocation  gLatLng `json:"start_location"`
	EndLocation    gLatLng `json:"end_location"`
	TransitDetails *struct {
		DepartureStop gStop `json:"departure_stop"`
		ArrivalStop   gStop `json:"arrival_stop"`
		NumStops      int   `json:"num_stops"`
		Line          struct {
			Name      string `json:"name"`
			ShortName string `json:"short_name"`
		} `json:"line"`
	} `json:"transit_details"`
}

type gDirectionsResponse struct {
	Status       string `json:"status"`
	ErrorMessage string `json:"error_message"`
	Routes       []struct {
		Legs []struct {
			Steps []gStep `json:"steps"`
		} `json:"legs"`
	} `json:"routes"`
}

// Route returns the steps of the first route found.
func (g *GoogleDirections) Route(ctx context.Context, origin, destination transit.Coordinate) ([]Step, error) {
	q := url.Values{
		"origin":      {coordParam(origin)},
		"destination": {coordParam(destination)},
		"mode":        {"transit"},
	}
	if g.key != "" {
		q.Set("key", g.key)
	}
	var resp gDirectionsResponse
	if err := getJSON(ctx, g.client, g.base+"/maps/api/directions/json?"+q.Encode(), &resp); err != nil {
		return nil, err
	}
	if resp.Status != "OK" {
		return nil, fmt.Errorf("directions status %s: %s", resp.Status, resp.ErrorMessage)
	}
	if len(resp.Routes) == 0 {
		return nil, fmt.Errorf("directions returned no routes")
	}

	var steps []Step
	for _, leg := range resp.Routes[0].Legs {
		for _, s := range leg.Steps {
			st := Step{
				Mode:     Walking,
				Duration: time.Duration(s.Duration.Value * float64(time.Second)),
				Distance: s.Distance.Value,
				Start:    s.StartLocation.coord(),
				End:      s.EndLocation.coord(),
			}
			if s.TravelMode == "TRANSIT" {
				st.Mode = Transit
				if td := s.TransitDetails; td != nil {
					name := td.Line.ShortName
					if name == "" {
						name = td.Line.Name
					}
					st.Transit = &TransitDetails{
						LineID:         LineID(name),
						LineName:       name,
						DepartureStop:  td.DepartureStop.Name,
						ArrivalStop:    td.ArrivalStop.Name,
						DepartureCoord: td.DepartureStop.Location.coord(),
						ArrivalCoord:   td.ArrivalStop.Location.coord(),
						NumStops:       td.NumStops,
					}
				}
			}
			steps = append(steps, st)
		}
	}
	return steps, nil
}

// LineID converts a display line name into a transit-service line id:
// "Hammersmith & City" -> "hammersmith-city".
func LineID(name string) string {
	s := strings.ToLower(strings.TrimSpace(name))
	s = strings.TrimSuffix(s, " line")
	s = strings.ReplaceAll(s, "&", " ")
	return strings.Join(strings.Fields(s), "-")
}
