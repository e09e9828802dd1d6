package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"catchtrain/internal/aggregator"
	"catchtrain/internal/transit"
)

type Config struct {
	DatabaseURL string // empty: station registry comes from the transit API
	City        string

	NATSURL           string `validate:"required,url"`
	NATSSubjectPrefix string `validate:"required,excludesall=*>"`
	SessionID         string `validate:"required,excludesall=.*>"`
	LogNATSSubjects   bool

	TickInterval      time.Duration `validate:"min=100ms,max=1m"`
	RefreshInterval   time.Duration `validate:"min=1s,max=10m"`
	StationToPlatform time.Duration `validate:"gte=0s,max=30m"`
	CatchWindowSize   int           `validate:"min=1,max=20"`
	StrideLength      float64       `validate:"gt=0,lte=2"`

	TransitAPIURL    string `validate:"required,url"`
	TransitAPIKey    string
	DirectionsAPIURL string `validate:"required,url"`
	DirectionsAPIKey string
	WalkRouterURL    string        `validate:"omitempty,url"`
	HTTPTimeout      time.Duration `validate:"min=1s,max=2m"`

	Origin      transit.Coordinate
	Destination transit.Coordinate

	MetricsAddr string
	Location    *time.Location
	Aliases     map[string]string
}

func Load() (*Config, error) {
	// Load .env into environment (ignore if missing)
	_ = godotenv.Load()

	cfg := &Config{}

	// Cluster DSN: DATABASE_URL / PG_DSN, else built from PG* vars when a
	// database or a city is named. Without either the DB registry is off.
	cfg.City = firstNonEmpty(os.Getenv("CITY"), os.Getenv("CITY_NAME"))
	cfg.DatabaseURL = firstNonEmpty(os.Getenv("DATABASE_URL"), os.Getenv("PG_DSN"))
	if cfg.DatabaseURL == "" {
		db := os.Getenv("PGDATABASE")
		if db == "" && cfg.City != "" {
			db = "postgres"
		}
		if db != "" {
			host := getenvDefault("PGHOST", "127.0.0.1")
			port := getenvDefault("PGPORT", "5432")
			user := getenvDefault("PGUSER", "postgres")
			pass := os.Getenv("PGPASSWORD")
			sslmode := getenvDefault("PGSSLMODE", "disable")
			if pass != "" {
				cfg.DatabaseURL = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", urlEscape(user), urlEscape(pass), host, port, db, sslmode)
			} else {
				cfg.DatabaseURL = fmt.Sprintf("postgres://%s@%s:%s/%s?sslmode=%s", urlEscape(user), host, port, db, sslmode)
			}
		}
	}

	cfg.NATSURL = getenvDefault("NATS_URL", "nats://127.0.0.1:4222")
	cfg.NATSSubjectPrefix = getenvDefault("NATS_SUBJECT_PREFIX", "catchtrain")
	cfg.SessionID = getenvDefault("SESSION_ID", uuid.NewString())
	cfg.LogNATSSubjects = parseBool(os.Getenv("LOG_NATS_SUBJECTS"))

	var err error
	if cfg.TickInterval, err = durationEnv("TICK_INTERVAL_MS", time.Millisecond, time.Second); err != nil {
		return nil, err
	}
	if cfg.RefreshInterval, err = durationEnv("ARRIVALS_REFRESH_SEC", time.Second, 4*time.Second); err != nil {
		return nil, err
	}
	if cfg.StationToPlatform, err = durationEnv("STATION_TO_PLATFORM_SEC", time.Second, 120*time.Second); err != nil {
		return nil, err
	}
	if cfg.HTTPTimeout, err = durationEnv("HTTP_TIMEOUT_SEC", time.Second, aggregator.DefaultHTTPTimeout); err != nil {
		return nil, err
	}

	cfg.CatchWindowSize = 5
	if v := os.Getenv("CATCH_WINDOW_SIZE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid CATCH_WINDOW_SIZE: %q", v)
		}
		cfg.CatchWindowSize = n
	}

	cfg.StrideLength = 0.75
	if v := os.Getenv("STRIDE_LENGTH_M"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid STRIDE_LENGTH_M: %q", v)
		}
		cfg.StrideLength = f
	}

	cfg.TransitAPIURL = getenvDefault("TRANSIT_API_URL", aggregator.DefaultTransitAPIURL)
	cfg.TransitAPIKey = os.Getenv("TRANSIT_API_KEY")
	cfg.DirectionsAPIURL = getenvDefault("DIRECTIONS_API_URL", aggregator.DefaultDirectionsAPIURL)
	cfg.DirectionsAPIKey = os.Getenv("DIRECTIONS_API_KEY")
	cfg.WalkRouterURL = os.Getenv("WALK_ROUTER_URL")

	if cfg.Origin, err = coordinateEnv("ORIGIN"); err != nil {
		return nil, err
	}
	if cfg.Destination, err = coordinateEnv("DESTINATION"); err != nil {
		return nil, err
	}

	// Metrics listen address (e.g., ":9102"). Empty disables the metrics server.
	cfg.MetricsAddr = os.Getenv("METRICS_ADDR")

	tzName := getenvDefault("TZ", "")
	if tzName == "" {
		cfg.Location = time.Local
	} else {
		loc, err := time.LoadLocation(tzName)
		if err != nil {
			return nil, fmt.Errorf("invalid TZ: %v", err)
		}
		cfg.Location = loc
	}

	if path := os.Getenv("STATION_ALIASES_FILE"); path != "" {
		if cfg.Aliases, err = LoadAliases(path); err != nil {
			return nil, err
		}
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

type aliasFile struct {
	Aliases map[string]string `yaml:"aliases" validate:"dive,keys,required,endkeys,required"`
}

// LoadAliases reads a YAML station alias table:
//
//	aliases:
//	  kings cross: kings cross st pancras
func LoadAliases(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read aliases: %w", err)
	}
	var f aliasFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse aliases %s: %w", path, err)
	}
	if err := validator.New().Struct(f); err != nil {
		return nil, fmt.Errorf("invalid aliases %s: %w", path, err)
	}
	return f.Aliases, nil
}

// durationEnv reads an integer count of unit, or def when unset.
func durationEnv(key string, unit, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid %s: %q", key, v)
	}
	return time.Duration(n) * unit, nil
}

func coordinateEnv(key string) (transit.Coordinate, error) {
	v := os.Getenv(key)
	if v == "" {
		return transit.Coordinate{}, errors.New(key + " must be set as lat,lon")
	}
	c, err := transit.ParseCoordinate(v)
	if err != nil {
		return transit.Coordinate{}, fmt.Errorf("invalid %s: %q", key, v)
	}
	return c, nil
}

func parseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "t", "yes", "y", "on":
		return true
	default:
		return false
	}
}

func getenvDefault(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func urlEscape(s string) string {
	// Minimal escape for DSN user/pass with special chars
	r := strings.NewReplacer("@", "%40", ":", "%3A", "/", "%2F", "?", "%3F", "#", "%23")
	return r.Replace(s)
}
