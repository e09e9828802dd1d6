// Package db reads the station registry from a GTFS feed imported into
// Postgres, as an alternative to the live transit API's station list.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"catchtrain/internal/transit"

	_ "github.com/jackc/pgx/v5/stdlib"
)

func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)
	return db, nil
}

func Ping(ctx context.Context, db *sql.DB) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return db.PingContext(ctx)
}

// Registry lists stations from the GTFS stops table.
type Registry struct {
	db *sql.DB
}

func NewRegistry(db *sql.DB) *Registry { return &Registry{db: db} }

// Stations returns every station with its coordinate and, when the feed has
// stop_times, the routes calling there. Route lookup is best effort.
func (r *Registry) Stations(ctx context.Context) ([]transit.Station, error) {
	cols, err := hasColumns(ctx, r.db, "public", "stops",
		"stop_lat", "stop_lon", "stop_loc", "location_type", "parent_station")
	if err != nil {
		return nil, fmt.Errorf("introspect stops columns: %w", err)
	}
	q, err := stationQuery(cols)
	if err != nil {
		return nil, err
	}
	rows, err := r.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("query stations: %w", err)
	}
	defer rows.Close()

	var out []transit.Station
	index := make(map[string]int)
	for rows.Next() {
		var s transit.Station
		if err := rows.Scan(&s.ID, &s.Name, &s.Coordinate.Lat, &s.Coordinate.Lon); err != nil {
			return nil, err
		}
		index[s.ID] = len(out)
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	lines, err := r.stationRoutes(ctx, cols["parent_station"])
	if err != nil {
		log.Printf("station routes unavailable: %v", err)
		return out, nil
	}
	for id, routes := range lines {
		if i, ok := index[id]; ok {
			out[i].Lines = routes
		}
	}
	return out, nil
}

// stationQuery picks the coordinate source: stop_lat/stop_lon, or the PostGIS
// stop_loc geography written by some importers. Only parent stations are
// listed when the feed carries location_type.
func stationQuery(cols map[string]bool) (string, error) {
	var coords string
	switch {
	case cols["stop_lat"] && cols["stop_lon"]:
		coords = `COALESCE(s.stop_lat, 0), COALESCE(s.stop_lon, 0)`
	case cols["stop_loc"]:
		coords = `COALESCE(ST_Y(s.stop_loc::geometry), 0), COALESCE(ST_X(s.stop_loc::geometry), 0)`
	default:
		return "", fmt.Errorf("stops table missing expected columns (stop_lat/lon or stop_loc)")
	}
	where := ""
	if cols["location_type"] {
		where = `
WHERE COALESCE(s.location_type::text, '0') IN ('1', 'station')`
	}
	return `SELECT s.stop_id, COALESCE(s.stop_name, ''), ` + coords + `
FROM stops s` + where + `
ORDER BY s.stop_id`, nil
}

func (r *Registry) stationRoutes(ctx context.Context, hasParent bool) (map[string][]string, error) {
	station := `s.stop_id`
	if hasParent {
		station = `COALESCE(NULLIF(s.parent_station, ''), s.stop_id)`
	}
	q := `
SELECT DISTINCT ` + station + ` AS station_id, t.route_id
FROM stop_times st
JOIN trips t ON t.trip_id = st.trip_id
JOIN stops s ON s.stop_id = st.stop_id
ORDER BY 1, 2`
	rows, err := r.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("query station routes: %w", err)
	}
	defer rows.Close()
	out := make(map[string][]string)
	for rows.Next() {
		var id, route string
		if err := rows.Scan(&id, &route); err != nil {
			return nil, err
		}
		out[id] = append(out[id], route)
	}
	return out, rows.Err()
}

// hasColumns returns a map of requested column names to existence for the given table.
func hasColumns(ctx context.Context, db *sql.DB, schema, table string, cols ...string) (map[string]bool, error) {
	res := make(map[string]bool, len(cols))
	if len(cols) == 0 {
		return res, nil
	}
	for _, c := range cols {
		res[c] = false
	}
	q := `SELECT column_name FROM information_schema.columns
          WHERE table_schema = $1 AND table_name = $2 AND column_name = ANY($3)`
	rows, err := db.QueryContext(ctx, q, schema, table, cols)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		res[name] = true
	}
	return res, rows.Err()
}
