package aggregator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/bluele/gcache"

	"catchtrain/internal/transit"
)

const DefaultWalkRouterURL = "https://router.project-osrm.org"

// OSRMWalker asks an OSRM foot profile for walking durations and caches them.
type OSRMWalker struct {
	base   string
	client *http.Client
	cache  gcache.Cache
}

func NewOSRMWalker(baseURL string, timeout time.Duration, cacheSize int, ttl time.Duration) *OSRMWalker {
	if baseURL == "" {
		baseURL = DefaultWalkRouterURL
	}
	if cacheSize <= 0 {
		cacheSize = 10000
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &OSRMWalker{
		base:   strings.TrimRight(baseURL, "/"),
		client: newHTTPClient(timeout),
		cache:  gcache.New(cacheSize).LRU().Expiration(ttl).Build(),
	}
}

// quantize rounds to 4 decimals (~11 m) so nearby fixes share cache entries.
func quantize(v float64) float64 {
	return math.Round(v*10000) / 10000
}

func walkKey(from, to transit.Coordinate) string {
	return fmt.Sprintf("%.4f,%.4f,%.6f,%.6f", quantize(from.Lat), quantize(from.Lon), to.Lat, to.Lon)
}

type osrmResponse struct {
	Code   string `json:"code"`
	Routes []struct {
		Duration float64 `json:"duration"`
		Distance float64 `json:"distance"`
	} `json:"routes"`
}

func (w *OSRMWalker) WalkTime(ctx context.Context, from, to transit.Coordinate) (time.Duration, error) {
	key := walkKey(from, to)
	if v, err := w.cache.Get(key); err == nil {
		if d, ok := v.(time.Duration); ok {
			return d, nil
		}
	}

	u := fmt.Sprintf("%s/route/v1/foot/%f,%f;%f,%f?overview=false", w.base, from.Lon, from.Lat, to.Lon, to.Lat)
	var resp osrmResponse
	if err := getJSON(ctx, w.client, u, &resp); err != nil {
		return 0, err
	}
	if len(resp.Routes) == 0 {
		return 0, errors.New("osrm: no route")
	}
	d := time.Duration(resp.Routes[0].Duration * float64(time.Second))
	if err := w.cache.Set(key, d); err != nil {
		log.Printf("walk cache set %s: %v", key, err)
	}
	return d, nil
}
