// Package pace estimates how fast the traveler is really walking and whether
// that pace gets them to the platform in time.
package pace

import (
	"context"
	"math"
	"sync"
	"time"

	"catchtrain/internal/metrics"
	"catchtrain/internal/transit"
)

type Listener interface {
	OnSpeedUpdate(current, target float64)
	OnArrivalTimeUpdate(seconds float64)
}

// baselineWeight is the share of the directions ETA in the adaptive blend.
const baselineWeight = 0.3

type CueKind int

const (
	CueTooFast CueKind = iota
	CueTooSlow
)

func (k CueKind) String() string {
	if k == CueTooFast {
		return "too_fast"
	}
	return "too_slow"
}

// Cue plays a pacing signal (sound, haptic). Playback is not our concern.
type Cue interface {
	Play(kind CueKind)
}

type Config struct {
	MinDisplacement    float64 // meters between accepted fixes
	MinSpeed           float64 // m/s floor for GPS speed
	DeviationThreshold float64
	FastCueInterval    time.Duration
	SlowCueInterval    time.Duration
	ProfileSize        int
	MotionFreshness    time.Duration
}

func DefaultConfig() Config {
	return Config{
		MinDisplacement:    10,
		MinSpeed:           0.5,
		DeviationThreshold: 0.10,
		FastCueInterval:    time.Second,
		SlowCueInterval:    500 * time.Millisecond,
		ProfileSize:        DefaultProfileSize,
		MotionFreshness:    5 * time.Second,
	}
}

// Target is the walk currently being paced.
type Target struct {
	Coord            transit.Coordinate
	BaselineETA      time.Duration // directions ETA for the whole walk
	BaselineDistance float64       // meters covered by BaselineETA, 0 if unknown
	Departure        time.Time     // when the walker must arrive
}

type Estimator struct {
	cfg      Config
	listener Listener
	cue      Cue
	metrics  *metrics.Collector
	now      func() time.Time

	mu          sync.Mutex
	profile     *Profile
	last        *transit.Location
	motionSpeed float64
	motionAt    time.Time
	stationary  bool
	target      Target
	hasTarget   bool
	current     float64
	eta         float64
	hasETA      bool
	session     *walkSession
	stopped     bool

	cueActive bool
	cueKind   CueKind
	cueCancel context.CancelFunc
	cueWG     sync.WaitGroup
}

func NewEstimator(cfg Config, listener Listener, cue Cue, m *metrics.Collector) *Estimator {
	def := DefaultConfig()
	if cfg.MinDisplacement <= 0 {
		cfg.MinDisplacement = def.MinDisplacement
	}
	if cfg.MinSpeed <= 0 {
		cfg.MinSpeed = def.MinSpeed
	}
	if cfg.DeviationThreshold <= 0 {
		cfg.DeviationThreshold = def.DeviationThreshold
	}
	if cfg.FastCueInterval <= 0 {
		cfg.FastCueInterval = def.FastCueInterval
	}
	if cfg.SlowCueInterval <= 0 {
		cfg.SlowCueInterval = def.SlowCueInterval
	}
	if cfg.MotionFreshness <= 0 {
		cfg.MotionFreshness = def.MotionFreshness
	}
	return &Estimator{
		cfg:      cfg,
		listener: listener,
		cue:      cue,
		metrics:  m,
		now:      time.Now,
		profile:  NewProfile(cfg.ProfileSize),
	}
}

// AdaptiveETA blends the directions ETA with the walker's own pace and
// clamps the result to [0.8·min, 1.2·max] of the two estimates. Seconds.
func AdaptiveETA(distance, googleETA, userSpeed float64) float64 {
	if distance <= 0 {
		return 0
	}
	if userSpeed <= 0 {
		return googleETA
	}
	userETA := distance / userSpeed
	if googleETA <= 0 {
		return userETA
	}
	blended := baselineWeight*googleETA + (1-baselineWeight)*userETA
	lo := 0.8 * math.Min(googleETA, userETA)
	hi := 1.2 * math.Max(googleETA, userETA)
	return math.Min(math.Max(blended, lo), hi)
}

// SetTarget switches pacing to a new walk. The profile is kept.
func (e *Estimator) SetTarget(t Target) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.target = t
	e.hasTarget = !t.Coord.IsZero()
	e.hasETA = false
	if !e.hasTarget {
		e.setCueLocked(0, false)
	}
}

// ClearTarget stops pacing, e.g. while riding a train.
func (e *Estimator) ClearTarget() {
	e.SetTarget(Target{})
}

// OnSpeedSample receives smoothed samples from the motion sampler.
func (e *Estimator) OnSpeedSample(speed float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.motionSpeed = speed
	e.motionAt = e.now()
}

func (e *Estimator) OnStationaryChange(stationary bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stationary = stationary
}

// UpdateWithNewLocation accepts a GPS fix once the walker has moved at least
// MinDisplacement since the last accepted one, then refreshes the ETA and
// pacing cue.
func (e *Estimator) UpdateWithNewLocation(loc transit.Location) {
	e.mu.Lock()
	if e.last != nil {
		moved := transit.Distance(e.last.Coordinate, loc.Coordinate)
		if moved < e.cfg.MinDisplacement {
			e.mu.Unlock()
			return
		}
		if e.session != nil {
			e.session.distance += moved
		}
	}
	accepted := loc
	e.last = &accepted

	now := e.now()
	speed := math.Max(loc.Speed, e.cfg.MinSpeed)
	if !e.stationary && !e.motionAt.IsZero() && now.Sub(e.motionAt) <= e.cfg.MotionFreshness {
		speed = e.motionSpeed
	}
	e.current = speed
	e.profile.Add(speed)
	if e.session != nil {
		e.session.addSpeed(speed)
	}

	if !e.hasTarget {
		e.mu.Unlock()
		return
	}
	timeToDeparture := e.target.Departure.Sub(now).Seconds()
	if timeToDeparture <= 0 {
		e.mu.Unlock()
		return
	}

	distance := transit.Distance(loc.Coordinate, e.target.Coord)
	googleETA := e.target.BaselineETA.Seconds()
	if e.target.BaselineDistance > 0 && googleETA > 0 {
		googleETA *= distance / e.target.BaselineDistance
	}
	userSpeed := e.profile.EffectiveSpeed()
	if userSpeed <= 0 {
		userSpeed = speed * e.profile.WeatherFactor()
	}
	e.eta = AdaptiveETA(distance, googleETA, userSpeed)
	e.hasETA = true

	targetSpeed := distance / timeToDeparture
	if targetSpeed > 0 {
		ratio := speed / targetSpeed
		if math.Abs(1-ratio) >= e.cfg.DeviationThreshold {
			kind := CueTooSlow
			if ratio > 1 {
				kind = CueTooFast
			}
			e.setCueLocked(kind, true)
		} else {
			e.setCueLocked(0, false)
		}
	}
	eta := e.eta
	listener := e.listener
	e.mu.Unlock()

	if listener != nil {
		listener.OnSpeedUpdate(speed, targetSpeed)
		listener.OnArrivalTimeUpdate(eta)
	}
}

// setCueLocked starts, switches or stops the periodic cue. Caller holds e.mu.
// No cue starts once the estimator is stopped.
func (e *Estimator) setCueLocked(kind CueKind, active bool) {
	if active && e.stopped {
		return
	}
	if active == e.cueActive && (!active || kind == e.cueKind) {
		return
	}
	if e.cueCancel != nil {
		e.cueCancel()
		e.cueCancel = nil
	}
	e.cueActive = active
	e.cueKind = kind
	if !active || e.cue == nil {
		return
	}
	interval := e.cfg.SlowCueInterval
	if kind == CueTooFast {
		interval = e.cfg.FastCueInterval
	}
	ctx, cancel := context.WithCancel(context.Background())
	e.cueCancel = cancel
	cue, m := e.cue, e.metrics
	e.cueWG.Add(1)
	go func() {
		defer e.cueWG.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			cue.Play(kind)
			if m != nil {
				m.PacingCues.WithLabelValues(kind.String()).Inc()
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
}

// CueActive reports the running cue, if any.
func (e *Estimator) CueActive() (CueKind, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cueKind, e.cueActive
}

// ETA returns the last adaptive ETA for the current target.
func (e *Estimator) ETA() (time.Duration, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.hasETA {
		return 0, false
	}
	return time.Duration(e.eta * float64(time.Second)), true
}

func (e *Estimator) CurrentSpeed() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.current
}

// UserSpeed is the profile's weather-adjusted rolling average.
func (e *Estimator) UserSpeed() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.profile.EffectiveSpeed()
}

func (e *Estimator) UpdateWeatherFactor(f float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.profile.SetWeatherFactor(f)
}

func (e *Estimator) StartWalkingTracking() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.session = newWalkSession(e.now())
}

// StopWalkingTracking ends the session and returns its statistics.
func (e *Estimator) StopWalkingTracking() WalkingStats {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil {
		return WalkingStats{}
	}
	stats := e.session.stats(e.now())
	e.session = nil
	return stats
}

// Stop silences any running cue and keeps new ones from starting. Safe to
// call more than once.
func (e *Estimator) Stop() {
	e.mu.Lock()
	e.stopped = true
	e.setCueLocked(0, false)
	e.mu.Unlock()
	e.cueWG.Wait()
}
