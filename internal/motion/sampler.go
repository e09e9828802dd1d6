// Package motion turns step-cadence readings into smoothed walking-speed samples.
package motion

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"catchtrain/internal/transit"
)

// Reading is one step-cadence observation.
type Reading struct {
	Time    time.Time `json:"time"`
	Cadence float64   `json:"cadence"` // steps per second
}

// Pedometer is the step-cadence sensor. Readings returns
// transit.ErrSensorUnavailable when there is no hardware.
type Pedometer interface {
	Readings(ctx context.Context) (<-chan Reading, error)
}

type Listener interface {
	OnSpeedSample(speed float64)
	OnStationaryChange(stationary bool)
}

type Config struct {
	StrideLength float64 // meters per step
	Alpha        float64 // weight of the previous smoothed value
	MinSpeed     float64 // m/s; below this the walker is stationary
	HistorySize  int
}

func DefaultConfig() Config {
	return Config{StrideLength: 0.75, Alpha: 0.3, MinSpeed: 0.5, HistorySize: 600}
}

type sample struct {
	at    time.Time
	speed float64
}

type Sampler struct {
	cfg      Config
	ped      Pedometer
	listener Listener

	mu         sync.Mutex
	running    bool
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	smoothed   float64
	primed     bool
	stationary bool
	history    []sample
}

func NewSampler(ped Pedometer, listener Listener, cfg Config) *Sampler {
	def := DefaultConfig()
	if cfg.StrideLength <= 0 {
		cfg.StrideLength = def.StrideLength
	}
	if cfg.Alpha < 0 || cfg.Alpha >= 1 {
		cfg.Alpha = def.Alpha
	}
	if cfg.MinSpeed <= 0 {
		cfg.MinSpeed = def.MinSpeed
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = def.HistorySize
	}
	return &Sampler{cfg: cfg, ped: ped, listener: listener}
}

// Start begins consuming readings. Calling it while running is a no-op.
// A missing sensor is logged and leaves the sampler silent.
func (s *Sampler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	if s.ped == nil {
		log.Printf("motion: no pedometer configured, speed from GPS only")
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	ch, err := s.ped.Readings(ctx)
	if err != nil {
		cancel()
		if errors.Is(err, transit.ErrSensorUnavailable) {
			log.Printf("motion: %v, speed from GPS only", err)
		} else {
			log.Printf("motion: pedometer error: %v", err)
		}
		return
	}
	s.cancel = cancel
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case r, ok := <-ch:
				if !ok {
					return
				}
				s.Observe(r)
			}
		}
	}()
}

// Stop ends consumption. Safe to call more than once.
func (s *Sampler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.running = false
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
}

// Observe feeds one reading through the smoother and emits at most one
// speed sample and one stationary transition.
func (s *Sampler) Observe(r Reading) {
	raw := r.Cadence * s.cfg.StrideLength
	if raw < 0 {
		raw = 0
	}
	if r.Time.IsZero() {
		r.Time = time.Now()
	}

	s.mu.Lock()
	if !s.primed {
		s.smoothed = raw
		s.primed = true
	} else {
		s.smoothed = s.cfg.Alpha*s.smoothed + (1-s.cfg.Alpha)*raw
	}
	speed := s.smoothed
	moving := speed >= s.cfg.MinSpeed
	changed := moving == s.stationary
	s.stationary = !moving
	if moving {
		s.history = append(s.history, sample{at: r.Time, speed: speed})
		if over := len(s.history) - s.cfg.HistorySize; over > 0 {
			s.history = append([]sample(nil), s.history[over:]...)
		}
	}
	listener := s.listener
	s.mu.Unlock()

	if listener == nil {
		return
	}
	if changed {
		listener.OnStationaryChange(!moving)
	}
	if moving {
		listener.OnSpeedSample(speed)
	}
}

// Stationary reports the current state.
func (s *Sampler) Stationary() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stationary
}

// AverageSpeed averages the emitted samples with timestamps in [from, to].
func (s *Sampler) AverageSpeed(from, to time.Time) (float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var sum float64
	var n int
	for _, smp := range s.history {
		if smp.at.Before(from) || smp.at.After(to) {
			continue
		}
		sum += smp.speed
		n++
	}
	if n == 0 {
		return 0, false
	}
	return sum / float64(n), true
}
