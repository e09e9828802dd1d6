package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"catchtrain/internal/aggregator"
	"catchtrain/internal/config"
	"catchtrain/internal/db"
	"catchtrain/internal/metrics"
	"catchtrain/internal/motion"
	"catchtrain/internal/pace"
	"catchtrain/internal/progress"
	"catchtrain/internal/publisher"
)

const (
	walkCacheSize = 1024
	walkCacheTTL  = 10 * time.Minute
)

func main() {
	// Load configuration from .env and environment
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	// Root context with cancellation on SIGINT/SIGTERM
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var mcol *metrics.Collector
	var metricsSrv *http.Server
	if cfg.MetricsAddr != "" {
		mcol = metrics.NewCollector(cfg.TickInterval, cfg.RefreshInterval)
		metricsSrv = mcol.Serve(cfg.MetricsAddr)
	}

	nc, err := publisher.Connect(cfg.NATSURL, "catchtrain", mcol)
	if err != nil {
		log.Fatalf("nats error: %v", err)
	}
	defer func() {
		_ = nc.Drain()
		nc.Close()
	}()
	pub := publisher.New(nc, cfg.NATSSubjectPrefix, cfg.SessionID, cfg.LogNATSSubjects, mcol)
	log.Printf("session %s under subject prefix %q", cfg.SessionID, cfg.NATSSubjectPrefix)

	tfl := aggregator.NewTflClient(cfg.TransitAPIURL, cfg.TransitAPIKey, cfg.HTTPTimeout)
	opts := aggregator.Options{
		Directions: aggregator.NewGoogleDirections(cfg.DirectionsAPIURL, cfg.DirectionsAPIKey, cfg.HTTPTimeout),
		Transit:    tfl,
		Registry:   tfl,
		Metrics:    mcol,
		Aliases:    cfg.Aliases,
	}
	if cfg.WalkRouterURL != "" {
		opts.Walker = aggregator.NewOSRMWalker(cfg.WalkRouterURL, cfg.HTTPTimeout, walkCacheSize, walkCacheTTL)
	}
	if cfg.DatabaseURL != "" {
		sqlDB := openRegistryDB(ctx, cfg)
		defer sqlDB.Close()
		opts.Registry = db.NewRegistry(sqlDB)
	}
	agg := aggregator.New(opts)

	if n, err := agg.WarmStations(ctx); err != nil {
		log.Printf("station registry unavailable, resolving names live: %v", err)
	} else {
		log.Printf("loaded %d stations", n)
	}

	route, err := agg.FetchRoute(ctx, cfg.Origin, cfg.Destination)
	if err != nil {
		log.Fatalf("fetch route: %v", err)
	}
	for i, leg := range route.Legs {
		log.Printf("leg %d: %s %s -> %s (%d stops, %s)", i, leg.LineName, leg.DepartureStation, leg.ArrivalStation, len(leg.StopNames), leg.Duration)
	}
	log.Printf("route: walk %s + %s, planned %s", route.EntryWalk, route.ExitWalk, route.TotalAdjusted)

	boards := make([]progress.Board, len(route.Legs))
	for i, leg := range route.Legs {
		boards[i] = agg.NewCatchBoard(leg, aggregator.BoardConfig{
			WindowSize:     cfg.CatchWindowSize,
			TimeToPlatform: cfg.StationToPlatform,
		})
	}

	est := pace.NewEstimator(pace.DefaultConfig(), pub, pub, mcol)
	sampler := motion.NewSampler(publisher.NewCadenceFeed(nc, cfg.NATSSubjectPrefix, cfg.SessionID), est,
		motion.Config{StrideLength: cfg.StrideLength})

	listener := newJourneyListener(pub)
	plan := progress.NewPlan(route, progress.PlanConfig{StationToPlatform: cfg.StationToPlatform})
	machine := progress.NewMachine(plan, boards, est, listener, progress.Config{
		TickInterval:    cfg.TickInterval,
		RefreshInterval: cfg.RefreshInterval,
	}, mcol)

	sub, err := publisher.SubscribeLocations(nc, cfg.NATSSubjectPrefix, cfg.SessionID, machine.UpdateProgressWithLocation)
	if err != nil {
		log.Fatalf("nats error: %v", err)
	}

	est.StartWalkingTracking()
	sampler.Start(ctx)
	if err := machine.Start(ctx); err != nil {
		log.Fatalf("start journey: %v", err)
	}

	select {
	case <-ctx.Done():
		log.Printf("interrupted")
	case <-listener.finished:
		log.Printf("journey finished")
	}

	// Allow graceful shutdown
	if err := sub.Unsubscribe(); err != nil {
		log.Printf("nats unsubscribe: %v", err)
	}
	machine.Stop()
	sampler.Stop()
	stats := est.StopWalkingTracking()
	est.Stop()
	log.Printf("walking: avg %.2f m/s, max %.2f m/s, %.0f m in %s", stats.Avg, stats.Max, stats.Distance, stats.Duration.Round(time.Second))

	if metricsSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = metricsSrv.Shutdown(shutdownCtx)
	}
	log.Println("shutdown complete")
}

// openRegistryDB connects to the GTFS database, resolving the newest import
// for the configured city through the cluster's postgres database.
func openRegistryDB(ctx context.Context, cfg *config.Config) *sql.DB {
	dsn := cfg.DatabaseURL
	if cfg.City != "" {
		rootDSN, err := db.WithDBName(cfg.DatabaseURL, "postgres")
		if err != nil {
			log.Fatalf("invalid base DSN: %v", err)
		}
		dsn, err = db.ResolveCityDSN(ctx, rootDSN, cfg.City)
		if err != nil {
			log.Fatalf("resolve latest import for city %q: %v", cfg.City, err)
		}
		log.Printf("Using GTFS import for city %q", cfg.City)
	}
	sqlDB, err := db.Open(dsn)
	if err != nil {
		log.Fatalf("db open error: %v", err)
	}
	if err := db.Ping(ctx, sqlDB); err != nil {
		log.Fatalf("db ping error: %v", err)
	}
	return sqlDB
}

// journeyListener forwards to the publisher and signals when the journey
// reaches its final phase.
type journeyListener struct {
	*publisher.Publisher
	finished chan struct{}
	once     sync.Once
}

func newJourneyListener(p *publisher.Publisher) *journeyListener {
	return &journeyListener{Publisher: p, finished: make(chan struct{})}
}

func (l *journeyListener) OnPhaseChange(s progress.State) {
	l.Publisher.OnPhaseChange(s)
	if s.Phase.Kind == progress.Finished {
		l.once.Do(func() { close(l.finished) })
	}
}
