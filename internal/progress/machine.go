package progress

import (
	"context"
	"errors"
	"log"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"catchtrain/internal/catch"
	"catchtrain/internal/metrics"
	"catchtrain/internal/pace"
	"catchtrain/internal/transit"
)

// ErrNoCatchableTrain is reported when the first leg has no train left to
// catch before boarding.
var ErrNoCatchableTrain = errors.New("no catchable train for the first leg")

// State is the journey progress snapshot. PreviousPhase is set only on the
// snapshot delivered with a phase change.
type State struct {
	Phase           Phase   `json:"phase"`
	OverallProgress float64 `json:"overallProgress"`
	PhaseProgress   float64 `json:"phaseProgress"`
	Delta           float64 `json:"delta"`       // seconds, positive = ahead of plan
	Uncertainty     float64 `json:"uncertainty"` // seconds
	PreviousPhase   *Phase  `json:"previousPhase,omitempty"`
}

// Update is delivered on every tick.
type Update struct {
	State
	HasTarget   bool         `json:"hasTarget"`
	CatchStatus catch.Status `json:"catchStatus"`
	Target      catch.Info   `json:"target"`
	At          time.Time    `json:"at"`
}

type Listener interface {
	OnProgress(u Update)
	OnPhaseChange(s State)
}

// FailureListener is optionally implemented by a Listener to receive the
// single journey-fatal failure.
type FailureListener interface {
	OnFailure(err error)
}

// Board is the per-leg catch board, see aggregator.CatchBoard.
type Board interface {
	Refresh(ctx context.Context) error
	Advance(ctx context.Context) int
	Head() (catch.Info, bool)
	Len() int
	SetTravelTime(d time.Duration)
}

// Pacer is the pace estimator, see pace.Estimator.
type Pacer interface {
	UpdateWithNewLocation(loc transit.Location)
	SetTarget(t pace.Target)
	ClearTarget()
	ETA() (time.Duration, bool)
}

type Config struct {
	TickInterval    time.Duration
	RefreshInterval time.Duration
	ProximityRadius float64 // meters
	Delta           DeltaFunc
	Uncertainty     UncertaintyFunc
}

func DefaultConfig() Config {
	return Config{
		TickInterval:    time.Second,
		RefreshInterval: 4 * time.Second,
		ProximityRadius: 25,
		Delta:           DefaultDelta,
		Uncertainty:     DefaultUncertainty,
	}
}

type Machine struct {
	cfg     Config
	plan    Plan
	metrics *metrics.Collector
	now     func() time.Time

	mu         sync.Mutex
	listener   Listener
	boards     []Board // by leg index, entries may be nil
	pacer      Pacer
	started    bool
	stopped    bool
	done       bool
	failed     bool
	epoch      uint64
	t0         time.Time
	idx        int
	phaseStart time.Time
	completed  time.Duration
	gpsFrac    float64
	hasGPS     bool
	accuracy   float64
	deltas     runningStats

	// notifyMu is held from computing a transition until its callbacks are
	// delivered, so listeners see phase changes in order. Taken before mu.
	notifyMu   sync.Mutex
	refreshing atomic.Bool
	cancel     context.CancelFunc
	wg         sync.WaitGroup
}

func NewMachine(plan Plan, boards []Board, pacer Pacer, listener Listener, cfg Config, m *metrics.Collector) *Machine {
	def := DefaultConfig()
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = def.TickInterval
	}
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = def.RefreshInterval
	}
	if cfg.ProximityRadius <= 0 {
		cfg.ProximityRadius = def.ProximityRadius
	}
	if cfg.Delta == nil {
		cfg.Delta = def.Delta
	}
	if cfg.Uncertainty == nil {
		cfg.Uncertainty = def.Uncertainty
	}
	return &Machine{
		cfg:      cfg,
		plan:     plan,
		metrics:  m,
		now:      time.Now,
		listener: listener,
		boards:   boards,
		pacer:    pacer,
	}
}

// Start records t0 and launches the progress tick and the arrivals refresh
// loops. It returns transit.ErrMissingRouteData for an empty plan. Calling
// it again, or after Stop, does nothing.
func (m *Machine) Start(ctx context.Context) error {
	ok, err := m.begin()
	if err != nil || !ok {
		return err
	}
	ctx, cancel := context.WithCancel(ctx)
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		cancel()
		return nil
	}
	m.cancel = cancel
	m.wg.Add(2)
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.ActiveJourneys.Inc()
	}
	go m.tickLoop(ctx)
	go m.refreshLoop(ctx)
	return nil
}

// begin initializes the journey clock without starting any loop.
func (m *Machine) begin() (bool, error) {
	m.notifyMu.Lock()
	defer m.notifyMu.Unlock()
	m.mu.Lock()
	if len(m.plan.Steps) == 0 {
		m.mu.Unlock()
		return false, transit.ErrMissingRouteData
	}
	if m.started || m.stopped {
		m.mu.Unlock()
		return false, nil
	}
	m.started = true
	now := m.now()
	m.t0, m.phaseStart = now, now
	step := m.plan.Steps[0]
	board := m.boardLocked(step.Phase)
	pacer := m.pacer
	m.mu.Unlock()

	if m.plan.TimeOnly() {
		log.Printf("journey: walking target unresolved, progress is time-only for that phase")
	}
	log.Printf("journey started: %d phases, planned %s", len(m.plan.Steps), m.plan.Total)
	m.retarget(pacer, step, board, now)
	return true, nil
}

func (m *Machine) tickLoop(ctx context.Context) {
	defer m.wg.Done()
	m.tick()
	ticker := time.NewTicker(m.cfg.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.tick()
		}
	}
}

// refreshLoop runs each refresh on its own goroutine so a stalled fetch
// never holds up the loop; the refreshing flag coalesces overlaps.
func (m *Machine) refreshLoop(ctx context.Context) {
	defer m.wg.Done()
	launch := func() {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			m.refresh(ctx)
		}()
	}
	launch()
	ticker := time.NewTicker(m.cfg.RefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			launch()
		}
	}
}

// tick recomputes progress, applies time-based transitions and notifies.
func (m *Machine) tick() {
	tickStart := time.Now()

	m.notifyMu.Lock()
	defer m.notifyMu.Unlock()
	m.mu.Lock()
	if !m.started || m.stopped || m.done {
		m.mu.Unlock()
		return
	}
	now := m.now()
	changes := m.advanceByTimeLocked(now)
	st := m.stateLocked(now)
	m.deltas.add(st.Delta)
	st.Uncertainty = m.cfg.Uncertainty(m.deltas.variance(), m.accuracy)
	if st.Phase.Kind == Finished {
		m.done = true
	}
	step := m.plan.Steps[m.idx]
	elapsed := now.Sub(m.phaseStart)
	phaseStart := m.phaseStart
	board := m.boardLocked(step.Phase)
	pacer := m.pacer
	m.mu.Unlock()

	if len(changes) > 0 {
		m.retarget(pacer, step, board, phaseStart)
	}
	upd := Update{State: st, At: now}
	if board != nil {
		travel := travelTime(step, elapsed, pacer)
		board.SetTravelTime(travel)
		if head, ok := board.Head(); ok {
			head = head.At(now, travel)
			upd.HasTarget, upd.Target, upd.CatchStatus = true, head, head.Status
		}
	}
	m.deliverLocked(changes, &upd)

	if m.metrics != nil {
		m.metrics.Ticks.Inc()
		m.metrics.TickDuration.Observe(time.Since(tickStart).Seconds())
		if board != nil {
			m.metrics.CatchWindowSize.Set(float64(board.Len()))
		}
		if upd.HasTarget {
			m.metrics.CatchStatus.Set(float64(upd.CatchStatus))
		} else {
			m.metrics.CatchStatus.Set(-1)
		}
	}
}

// travelTime is the rider's remaining time to the boarding station. Inside
// the station it goes negative so that, added to the fixed platform time,
// it leaves the platform time still to walk.
func travelTime(step Step, elapsed time.Duration, pacer Pacer) time.Duration {
	switch step.Phase.Kind {
	case StationToPlatform:
		return -elapsed
	case WalkToStation, TransferWalk:
		if pacer != nil {
			if eta, ok := pacer.ETA(); ok {
				return eta
			}
		}
		if r := step.Duration - elapsed; r > 0 {
			return r
		}
	}
	return 0
}

// advanceByTimeLocked moves past every phase whose planned duration has
// elapsed. Each new phase starts where the previous one was planned to end.
func (m *Machine) advanceByTimeLocked(now time.Time) []State {
	var changes []State
	for m.idx < len(m.plan.Steps)-1 {
		end := m.phaseStart.Add(m.plan.Steps[m.idx].Duration)
		if now.Before(end) {
			break
		}
		changes = append(changes, m.enterNextLocked(end))
	}
	return changes
}

// enterNextLocked transitions to the next planned phase, starting at at.
func (m *Machine) enterNextLocked(at time.Time) State {
	prev := m.plan.Steps[m.idx]
	m.completed += prev.Duration
	m.idx++
	m.phaseStart = at
	m.gpsFrac, m.hasGPS = 0, false
	next := m.plan.Steps[m.idx]

	if m.metrics != nil {
		m.metrics.PhaseChanges.WithLabelValues(next.Phase.Kind.String()).Inc()
	}
	log.Printf("journey phase %s -> %s", prev.Phase, next.Phase)

	st := m.stateLocked(at)
	p := prev.Phase
	st.PreviousPhase = &p
	return st
}

func (m *Machine) stateLocked(now time.Time) State {
	step := m.plan.Steps[m.idx]
	var frac float64
	switch {
	case step.Phase.Kind == Finished:
		frac = 1
	case m.hasGPS && step.gpsTracked():
		frac = m.gpsFrac
	case step.Duration > 0:
		frac = clamp01(float64(now.Sub(m.phaseStart)) / float64(step.Duration))
	}

	planned := m.completed.Seconds() + frac*step.Duration.Seconds()
	overall := 0.0
	switch {
	case step.Phase.Kind == Finished:
		overall = 1
	case m.plan.Total > 0:
		overall = clamp01(planned / m.plan.Total.Seconds())
	}
	return State{
		Phase:           step.Phase,
		OverallProgress: overall,
		PhaseProgress:   frac,
		Delta:           m.cfg.Delta(planned, now.Sub(m.t0).Seconds()),
		Uncertainty:     m.cfg.Uncertainty(m.deltas.variance(), m.accuracy),
	}
}

func clamp01(v float64) float64 {
	return math.Min(math.Max(v, 0), 1)
}

// boardIndex maps a phase to the leg whose boarding it is heading for, or -1.
func boardIndex(p Phase) int {
	switch p.Kind {
	case WalkToStation, StationToPlatform:
		return 0
	case TransferWalk:
		return p.Leg + 1
	default:
		return -1
	}
}

func (m *Machine) boardLocked(p Phase) Board {
	i := boardIndex(p)
	if i < 0 || i >= len(m.boards) {
		return nil
	}
	return m.boards[i]
}

// retarget points the pace estimator at the current walking phase. The
// walker must reach the target before the targeted train minus its platform
// time, or by the planned phase end when no train is known.
func (m *Machine) retarget(pacer Pacer, step Step, board Board, phaseStart time.Time) {
	if pacer == nil {
		return
	}
	if !step.gpsTracked() {
		pacer.ClearTarget()
		return
	}
	departure := phaseStart.Add(step.Duration)
	if board != nil {
		if head, ok := board.Head(); ok {
			departure = head.ExpectedArrival.Add(-head.TimeToPlatform)
		}
	}
	pacer.SetTarget(pace.Target{
		Coord:            step.Target,
		BaselineETA:      step.Duration,
		BaselineDistance: transit.Distance(step.From, step.Target),
		Departure:        departure,
	})
}

// UpdateProgressWithLocation feeds a GPS fix. In a walking phase it
// overrides time-based progress with distance covered toward the target
// and transitions once within the proximity radius.
func (m *Machine) UpdateProgressWithLocation(loc transit.Location) {
	m.notifyMu.Lock()
	defer m.notifyMu.Unlock()
	m.mu.Lock()
	if !m.started || m.stopped || m.done {
		m.mu.Unlock()
		return
	}
	m.accuracy = loc.Accuracy
	step := m.plan.Steps[m.idx]
	var changes []State
	if step.gpsTracked() {
		remaining := transit.Distance(loc.Coordinate, step.Target)
		if remaining <= m.cfg.ProximityRadius {
			changes = append(changes, m.enterNextLocked(m.now()))
		} else if total := transit.Distance(step.From, step.Target); total > 0 {
			m.gpsFrac = clamp01((total - remaining) / total)
			m.hasGPS = true
		}
	}
	next := m.plan.Steps[m.idx]
	board := m.boardLocked(next.Phase)
	phaseStart := m.phaseStart
	pacer := m.pacer
	m.mu.Unlock()

	if pacer != nil && step.Phase.Walking() {
		pacer.UpdateWithNewLocation(loc)
	}
	if len(changes) > 0 {
		m.retarget(pacer, next, board, phaseStart)
		m.deliverLocked(changes, nil)
	}
}

// refresh updates the board the rider is heading for. A pruned head moves
// the target to the next train without changing phase.
func (m *Machine) refresh(ctx context.Context) {
	if !m.refreshing.CompareAndSwap(false, true) {
		if m.metrics != nil {
			m.metrics.RefreshesSkipped.Inc()
		}
		return
	}
	defer m.refreshing.Store(false)

	m.mu.Lock()
	if !m.started || m.stopped || m.done {
		m.mu.Unlock()
		return
	}
	epoch := m.epoch
	step := m.plan.Steps[m.idx]
	leg := boardIndex(step.Phase)
	board := m.boardLocked(step.Phase)
	m.mu.Unlock()
	if board == nil {
		return
	}

	before, hadBefore := board.Head()
	if err := board.Refresh(ctx); err != nil {
		log.Printf("arrivals refresh leg %d: %v", leg, err)
		return
	}
	if pruned := board.Advance(ctx); pruned > 0 {
		log.Printf("arrivals leg %d: %d train(s) missed, target advanced", leg, pruned)
	}
	head, ok := board.Head()

	m.notifyMu.Lock()
	defer m.notifyMu.Unlock()
	m.mu.Lock()
	if m.epoch != epoch || m.stopped {
		m.mu.Unlock()
		return
	}
	current := m.plan.Steps[m.idx]
	fatal := !ok && leg == 0 && current.Phase.Before(Phase{Kind: OnTrain}) && !m.failed
	if fatal {
		m.failed = true
	}
	phaseStart := m.phaseStart
	pacer := m.pacer
	m.mu.Unlock()

	if ok && current == step && (!hadBefore || !sameTrain(before, head)) {
		m.retarget(pacer, current, board, phaseStart)
	}
	if fatal {
		m.failLocked(ErrNoCatchableTrain)
	}
}

func sameTrain(a, b catch.Info) bool {
	return a.Prediction.LineID == b.Prediction.LineID &&
		a.Prediction.VehicleID == b.Prediction.VehicleID &&
		a.ExpectedArrival.Equal(b.ExpectedArrival)
}

// deliverLocked hands phase changes then the progress update to the
// listener, dropped once the machine has stopped. Caller holds notifyMu.
func (m *Machine) deliverLocked(changes []State, upd *Update) {
	m.mu.Lock()
	live := !m.stopped
	l := m.listener
	m.mu.Unlock()
	if !live || l == nil {
		return
	}
	for _, c := range changes {
		l.OnPhaseChange(c)
	}
	if upd != nil {
		l.OnProgress(*upd)
	}
}

// failLocked reports the journey-fatal failure. Caller holds notifyMu.
func (m *Machine) failLocked(err error) {
	m.mu.Lock()
	live := !m.stopped
	l := m.listener
	m.mu.Unlock()
	if !live {
		return
	}
	log.Printf("journey failure: %v", err)
	if m.metrics != nil {
		m.metrics.JourneyFailures.Inc()
	}
	if fl, ok := l.(FailureListener); ok {
		fl.OnFailure(err)
	}
}

// State returns the current snapshot without notifying.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.plan.Steps) == 0 {
		return State{}
	}
	if !m.started {
		return State{Phase: m.plan.Steps[0].Phase}
	}
	return m.stateLocked(m.now())
}

// Stop cancels both loops, waits for them and releases collaborators.
// Late async completions become no-ops. It must not be called from a
// listener callback. Safe to call more than once.
func (m *Machine) Stop() {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.stopped = true
	m.epoch++
	cancel := m.cancel
	wasRunning := cancel != nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	m.wg.Wait()

	m.notifyMu.Lock()
	m.mu.Lock()
	m.listener = nil
	m.boards = nil
	m.pacer = nil
	m.mu.Unlock()
	m.notifyMu.Unlock()

	if wasRunning && m.metrics != nil {
		m.metrics.ActiveJourneys.Dec()
	}
	log.Printf("journey stopped")
}
