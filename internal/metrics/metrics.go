package metrics

import (
	"log"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Collector struct {
	reg *prometheus.Registry

	ActiveJourneys prometheus.Gauge

	Ticks            prometheus.Counter
	RefreshesSkipped prometheus.Counter
	PhaseChanges     *prometheus.CounterVec // phase label: walkToStation|onTrain|...
	JourneyFailures  prometheus.Counter

	Fetches       *prometheus.CounterVec // kind, outcome (ok|error)
	FetchDuration *prometheus.HistogramVec

	CatchWindowSize prometheus.Gauge
	CatchStatus     prometheus.Gauge // head train status ordinal, -1 when none
	PacingCues      *prometheus.CounterVec

	NATSPublished   prometheus.Counter
	NATSPublishErrs prometheus.Counter
	NATSConnected   prometheus.Gauge

	TickDuration prometheus.Histogram

	TickInterval    prometheus.Gauge // seconds
	RefreshInterval prometheus.Gauge // seconds
}

func NewCollector(tickInterval, refreshInterval time.Duration) *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		reg: reg,
		ActiveJourneys: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "catchtrain_active_journeys",
			Help: "Number of journeys currently being tracked.",
		}),
		Ticks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "catchtrain_progress_ticks_total",
			Help: "Total progress ticks computed.",
		}),
		RefreshesSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "catchtrain_arrival_refreshes_skipped_total",
			Help: "Arrival refreshes coalesced because one was already in flight.",
		}),
		PhaseChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "catchtrain_phase_changes_total",
			Help: "Journey phase transitions by entered phase.",
		}, []string{"phase"}),
		JourneyFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "catchtrain_journey_failures_total",
			Help: "User-visible journey failures reported.",
		}),
		Fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "catchtrain_fetches_total",
			Help: "External fetches by kind and outcome.",
		}, []string{"kind", "outcome"}),
		FetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "catchtrain_fetch_duration_seconds",
			Help:    "Duration of external fetches.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}, []string{"kind"}),
		CatchWindowSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "catchtrain_catch_window_size",
			Help: "Trains currently tracked for the next boarding.",
		}),
		CatchStatus: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "catchtrain_catch_status",
			Help: "Status of the targeted train: 0 easy, 1 hurry, 2 tough, 3 missed, -1 none.",
		}),
		PacingCues: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "catchtrain_pacing_cues_total",
			Help: "Pacing cues played by kind.",
		}, []string{"kind"}),
		NATSPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "catchtrain_nats_published_total",
			Help: "Total NATS messages published.",
		}),
		NATSPublishErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "catchtrain_nats_publish_errors_total",
			Help: "Total NATS publish errors.",
		}),
		NATSConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "catchtrain_nats_connected",
			Help: "1 if NATS connection is established, 0 otherwise.",
		}),
		TickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "catchtrain_tick_duration_seconds",
			Help:    "Duration of progress tick computations.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 15),
		}),
		TickInterval: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "catchtrain_tick_interval_seconds",
			Help: "Progress tick interval in seconds.",
		}),
		RefreshInterval: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "catchtrain_refresh_interval_seconds",
			Help: "Arrivals refresh interval in seconds.",
		}),
	}

	reg.MustRegister(
		c.ActiveJourneys,
		c.Ticks, c.RefreshesSkipped, c.PhaseChanges, c.JourneyFailures,
		c.Fetches, c.FetchDuration,
		c.CatchWindowSize, c.CatchStatus, c.PacingCues,
		c.NATSPublished, c.NATSPublishErrs, c.NATSConnected,
		c.TickDuration, c.TickInterval, c.RefreshInterval,
	)

	c.TickInterval.Set(tickInterval.Seconds())
	c.RefreshInterval.Set(refreshInterval.Seconds())
	c.CatchStatus.Set(-1)

	return c
}

// ObserveFetch records one external call. Safe on a nil collector.
func (c *Collector) ObserveFetch(kind string, start time.Time, err error) {
	if c == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	c.Fetches.WithLabelValues(kind, outcome).Inc()
	c.FetchDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
}

func (c *Collector) Handler() http.Handler { return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{}) }

// Serve starts an HTTP server exposing /metrics on the given address.
func (c *Collector) Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("metrics server error: %v", err)
		}
	}()
	log.Printf("metrics listening on %s", addr)
	return srv
}
