package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// WithDBName returns the DSN with its database path replaced. A DSN without
// a scheme is read as postgres://.
func WithDBName(dsn, database string) (string, error) {
	if dsn == "" {
		return "", fmt.Errorf("empty DSN")
	}
	if !strings.Contains(dsn, "://") {
		dsn = "postgres://" + dsn
	}
	u, err := url.Parse(dsn)
	if err != nil {
		return "", err
	}
	if u.Scheme != "postgres" && u.Scheme != "postgresql" {
		return "", fmt.Errorf("unsupported DSN scheme %q", u.Scheme)
	}
	u.Path = "/" + strings.TrimPrefix(database, "/")
	return u.String(), nil
}

// ResolveCityDSN looks up the newest successful GTFS import for city in the
// importer's bookkeeping table and returns dsn pointed at that database.
func ResolveCityDSN(ctx context.Context, dsn, city string) (string, error) {
	city = strings.TrimSpace(city)
	if city == "" {
		return "", fmt.Errorf("city is required")
	}
	meta, err := Open(dsn)
	if err != nil {
		return "", err
	}
	defer meta.Close()

	name, err := latestImport(ctx, meta, city)
	if err != nil {
		return "", err
	}
	return WithDBName(dsn, name)
}

func latestImport(ctx context.Context, meta *sql.DB, city string) (string, error) {
	q := `
SELECT db_name
FROM public.latest_successful_imports
WHERE db_name ILIKE '%' || $1 || '%'
ORDER BY imported_at DESC
LIMIT 1`
	var name sql.NullString
	if err := meta.QueryRowContext(ctx, q, city).Scan(&name); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", fmt.Errorf("no GTFS import found for city like %q", city)
		}
		return "", fmt.Errorf("query latest import: %w", err)
	}
	if !name.Valid || name.String == "" {
		return "", fmt.Errorf("empty db_name for city like %q", city)
	}
	return name.String, nil
}
