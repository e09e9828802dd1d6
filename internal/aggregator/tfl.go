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

const DefaultTransitAPIURL = "https://api.tfl.gov.uk"

// TflClient talks to a TfL Unified API style transit service. It implements
// TransitService and StationRegistry.
type TflClient struct {
	base   string
	key    string
	mode   string
	client *http.Client
}

func NewTflClient(baseURL, apiKey string, timeout time.Duration) *TflClient {
	if baseURL == "" {
		baseURL = DefaultTransitAPIURL
	}
	return &TflClient{
		base:   strings.TrimRight(baseURL, "/"),
		key:    apiKey,
		mode:   "tube",
		client: newHTTPClient(timeout),
	}
}

func (c *TflClient) url(path string, q url.Values) string {
	if q == nil {
		q = url.Values{}
	}
	if c.key != "" {
		q.Set("app_key", c.key)
	}
	u := c.base + path
	if enc := q.Encode(); enc != "" {
		u += "?" + enc
	}
	return u
}

func coordParam(c transit.Coordinate) string {
	return fmt.Sprintf("%.6f,%.6f", c.Lat, c.Lon)
}

type tflSearchResponse struct {
	Matches []struct {
		ID   string  `json:"id"`
		Name string  `json:"name"`
		Lat  float64 `json:"lat"`
		Lon  float64 `json:"lon"`
	} `json:"matches"`
}

func (c *TflClient) SearchStations(ctx context.Context, query string) ([]transit.Station, error) {
	var resp tflSearchResponse
	q := url.Values{"query": {query}, "modes": {c.mode}}
	if err := getJSON(ctx, c.client, c.url("/StopPoint/Search", q), &resp); err != nil {
		return nil, err
	}
	out := make([]transit.Station, 0, len(resp.Matches))
	for _, m := range resp.Matches {
		out = append(out, transit.Station{
			ID:         m.ID,
			Name:       DisplayName(m.Name),
			Coordinate: transit.Coordinate{Lat: m.Lat, Lon: m.Lon},
		})
	}
	return out, nil
}

type tflRouteSection struct {
	LineID string `json:"lineId"`
}

// StationLines lists the lines serving a stop point, deduplicated.
func (c *TflClient) StationLines(ctx context.Context, stationID string) ([]string, error) {
	var sections []tflRouteSection
	if err := getJSON(ctx, c.client, c.url("/StopPoint/"+url.PathEscape(stationID)+"/Route", nil), &sections); err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(sections))
	var lines []string
	for _, s := range sections {
		if s.LineID == "" || seen[s.LineID] {
			continue
		}
		seen[s.LineID] = true
		lines = append(lines, s.LineID)
	}
	return lines, nil
}

type tflPrediction struct {
	NaptanID        string `json:"naptanId"`
	LineID          string `json:"lineId"`
	VehicleID       string `json:"vehicleId"`
	PlatformName    string `json:"platformName"`
	DestinationName string `json:"destinationName"`
	TimeToStation   int    `json:"timeToStation"`
	ExpectedArrival string `json:"expectedArrival"`
}

func (c *TflClient) Arrivals(ctx context.Context, stationID, lineID string) ([]transit.ArrivalPrediction, error) {
	var preds []tflPrediction
	path := "/Line/" + url.PathEscape(lineID) + "/Arrivals/" + url.PathEscape(stationID)
	if err := getJSON(ctx, c.client, c.url(path, nil), &preds); err != nil {
		return nil, err
	}
	out := make([]transit.ArrivalPrediction, 0, len(preds))
	for _, p := range preds {
		ap := transit.ArrivalPrediction{
			StationID:       p.NaptanID,
			LineID:          p.LineID,
			VehicleID:       p.VehicleID,
			PlatformName:    p.PlatformName,
			DestinationName: DisplayName(p.DestinationName),
			TimeToStation:   p.TimeToStation,
		}
		if t, err := time.Parse(time.RFC3339, p.ExpectedArrival); err == nil {
			ap.ExpectedArrival = t
		}
		if ap.StationID == "" {
			ap.StationID = stationID
		}
		out = append(out, ap)
	}
	return out, nil
}

type tflJourneyResponse struct {
	Journeys []struct {
		Duration int `json:"duration"` // minutes
		Legs     []struct {
			Duration int `json:"duration"` // minutes
			Mode     struct {
				ID string `json:"id"`
			} `json:"mode"`
			RouteOptions []struct {
				LineIdentifier struct {
					ID string `json:"id"`
				} `json:"lineIdentifier"`
			} `json:"routeOptions"`
			Path struct {
				StopPoints []struct {
					Name string `json:"name"`
				} `json:"stopPoints"`
			} `json:"path"`
		} `json:"legs"`
	} `json:"journeys"`
}

// Journey returns the legs of the planner's first journey. Stop lists are
// taken from the leg path, which omits the boarding stop.
func (c *TflClient) Journey(ctx context.Context, from, to transit.Coordinate) ([]PlannedLeg, error) {
	var resp tflJourneyResponse
	path := "/Journey/JourneyResults/" + coordParam(from) + "/to/" + coordParam(to)
	if err := getJSON(ctx, c.client, c.url(path, nil), &resp); err != nil {
		return nil, err
	}
	if len(resp.Journeys) == 0 {
		return nil, nil
	}
	j := resp.Journeys[0]
	out := make([]PlannedLeg, 0, len(j.Legs))
	for _, l := range j.Legs {
		pl := PlannedLeg{Mode: l.Mode.ID, Duration: time.Duration(l.Duration) * time.Minute}
		if len(l.RouteOptions) > 0 {
			pl.LineID = l.RouteOptions[0].LineIdentifier.ID
		}
		for _, sp := range l.Path.StopPoints {
			pl.StopNames = append(pl.StopNames, sp.Name)
		}
		out = append(out, pl)
	}
	return out, nil
}

type tflLine struct {
	ID           string `json:"id"`
	LineStatuses []struct {
		StatusSeverity            int    `json:"statusSeverity"`
		StatusSeverityDescription string `json:"statusSeverityDescription"`
		Reason                    string `json:"reason"`
	} `json:"lineStatuses"`
}

func (c *TflClient) LineStatus(ctx context.Context, lineIDs ...string) ([]transit.LineStatus, error) {
	var lines []tflLine
	escaped := make([]string, len(lineIDs))
	for i, id := range lineIDs {
		escaped[i] = url.PathEscape(id)
	}
	path := "/Line/" + strings.Join(escaped, ",") + "/Status"
	if err := getJSON(ctx, c.client, c.url(path, nil), &lines); err != nil {
		return nil, err
	}
	out := make([]transit.LineStatus, 0, len(lines))
	for _, l := range lines {
		st := transit.LineStatus{LineID: l.ID}
		if len(l.LineStatuses) > 0 {
			s := l.LineStatuses[0]
			st.Severity = s.StatusSeverity
			st.Description = s.StatusSeverityDescription
			st.Reason = s.Reason
		}
		out = append(out, st)
	}
	return out, nil
}

type tflStopPointsResponse struct {
	StopPoints []struct {
		NaptanID   string  `json:"naptanId"`
		CommonName string  `json:"commonName"`
		StopType   string  `json:"stopType"`
		Lat        float64 `json:"lat"`
		Lon        float64 `json:"lon"`
		Lines      []struct {
			ID string `json:"id"`
		} `json:"lines"`
	} `json:"stopPoints"`
}

// Stations lists the station-level stop points of the client's mode.
func (c *TflClient) Stations(ctx context.Context) ([]transit.Station, error) {
	var resp tflStopPointsResponse
	if err := getJSON(ctx, c.client, c.url("/StopPoint/Mode/"+c.mode, nil), &resp); err != nil {
		return nil, err
	}
	out := make([]transit.Station, 0, len(resp.StopPoints))
	for _, sp := range resp.StopPoints {
		if sp.StopType != "" && sp.StopType != "NaptanMetroStation" {
			continue
		}
		s := transit.Station{
			ID:         sp.NaptanID,
			Name:       DisplayName(sp.CommonName),
			Coordinate: transit.Coordinate{Lat: sp.Lat, Lon: sp.Lon},
		}
		for _, l := range sp.Lines {
			s.Lines = append(s.Lines, l.ID)
		}
		out = append(out, s)
	}
	return out, nil
}
