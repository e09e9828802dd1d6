// Package publisher carries journey events to NATS and feeds location and
// cadence readings from NATS into the engine.
package publisher

import (
	"encoding/json"
	"log"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"catchtrain/internal/catch"
	"catchtrain/internal/metrics"
	"catchtrain/internal/pace"
	"catchtrain/internal/progress"
)

// Outbound and inbound subject kinds under <prefix>.<session>.
const (
	KindProgress = "progress"
	KindPhase    = "phase"
	KindPace     = "pace"
	KindAlert    = "alert"
	KindLocation = "location"
	KindCadence  = "cadence"
)

// Connect dials NATS and keeps the connected gauge current.
func Connect(url, name string, m *metrics.Collector) (*nats.Conn, error) {
	setConnected := func(v bool) {
		if m == nil {
			return
		}
		if v {
			m.NATSConnected.Set(1)
		} else {
			m.NATSConnected.Set(0)
		}
	}
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			setConnected(false)
			log.Printf("nats disconnected: %v", err)
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			setConnected(true)
			log.Printf("nats reconnected")
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			setConnected(false)
			log.Printf("nats closed")
		}),
	)
	if err != nil {
		return nil, err
	}
	setConnected(true)
	return nc, nil
}

type conn interface {
	Publish(subject string, data []byte) error
}

// Publisher implements progress.Listener, progress.FailureListener,
// pace.Listener and pace.Cue by publishing each callback as a JSON event.
type Publisher struct {
	pub         conn
	prefix      string
	session     string
	logSubjects bool
	metrics     *metrics.Collector
	now         func() time.Time
}

func New(nc *nats.Conn, prefix, session string, logSubjects bool, m *metrics.Collector) *Publisher {
	return newPublisher(nc, prefix, session, logSubjects, m)
}

func newPublisher(c conn, prefix, session string, logSubjects bool, m *metrics.Collector) *Publisher {
	return &Publisher{
		pub:         c,
		prefix:      prefix,
		session:     session,
		logSubjects: logSubjects,
		metrics:     m,
		now:         time.Now,
	}
}

// Subject returns <prefix>.<session>.<kind>, with each token sanitized.
func Subject(prefix, session, kind string) string {
	parts := make([]string, 0, 3)
	for _, p := range strings.Split(prefix, ".") {
		if strings.TrimSpace(p) != "" {
			parts = append(parts, subjectToken(p))
		}
	}
	return strings.Join(append(parts, subjectToken(session), subjectToken(kind)), ".")
}

type TargetEvent struct {
	LineID          string    `json:"lineId"`
	VehicleID       string    `json:"vehicleId,omitempty"`
	Platform        string    `json:"platform,omitempty"`
	Destination     string    `json:"destination,omitempty"`
	ExpectedArrival time.Time `json:"expectedArrival"`
	DisplayArrival  string    `json:"displayArrival"`
	TimeLeftToCatch float64   `json:"timeLeftToCatch"`
	Status          string    `json:"status"`
}

type ProgressEvent struct {
	Session         string       `json:"session"`
	Phase           string       `json:"phase"`
	OverallProgress float64      `json:"overallProgress"`
	PhaseProgress   float64      `json:"phaseProgress"`
	Delta           float64      `json:"delta"`
	Uncertainty     float64      `json:"uncertainty"`
	CatchStatus     string       `json:"catchStatus,omitempty"`
	Target          *TargetEvent `json:"target,omitempty"`
	At              time.Time    `json:"at"`
}

type PhaseEvent struct {
	Session         string    `json:"session"`
	Phase           string    `json:"phase"`
	PreviousPhase   string    `json:"previousPhase,omitempty"`
	OverallProgress float64   `json:"overallProgress"`
	At              time.Time `json:"at"`
}

type PaceEvent struct {
	Session        string    `json:"session"`
	CurrentSpeed   *float64  `json:"currentSpeed,omitempty"`
	TargetSpeed    *float64  `json:"targetSpeed,omitempty"`
	ArrivalSeconds *float64  `json:"arrivalSeconds,omitempty"`
	Cue            string    `json:"cue,omitempty"`
	At             time.Time `json:"at"`
}

type AlertEvent struct {
	Session string    `json:"session"`
	Kind    string    `json:"kind"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

func progressEvent(session string, u progress.Update) ProgressEvent {
	ev := ProgressEvent{
		Session:         session,
		Phase:           u.Phase.String(),
		OverallProgress: u.OverallProgress,
		PhaseProgress:   u.PhaseProgress,
		Delta:           u.Delta,
		Uncertainty:     u.Uncertainty,
		At:              u.At,
	}
	if u.HasTarget {
		ev.CatchStatus = u.CatchStatus.String()
		ev.Target = targetEvent(u.Target)
	}
	return ev
}

func targetEvent(i catch.Info) *TargetEvent {
	return &TargetEvent{
		LineID:          i.Prediction.LineID,
		VehicleID:       i.Prediction.VehicleID,
		Platform:        i.Prediction.PlatformName,
		Destination:     i.Prediction.DestinationName,
		ExpectedArrival: i.ExpectedArrival,
		DisplayArrival:  i.DisplayArrival,
		TimeLeftToCatch: i.TimeLeftToCatch,
		Status:          i.Status.String(),
	}
}

func (p *Publisher) OnProgress(u progress.Update) {
	p.publish(KindProgress, progressEvent(p.session, u))
}

func (p *Publisher) OnPhaseChange(s progress.State) {
	ev := PhaseEvent{
		Session:         p.session,
		Phase:           s.Phase.String(),
		OverallProgress: s.OverallProgress,
		At:              p.now(),
	}
	if s.PreviousPhase != nil {
		ev.PreviousPhase = s.PreviousPhase.String()
	}
	p.publish(KindPhase, ev)
}

func (p *Publisher) OnFailure(err error) {
	p.publish(KindAlert, AlertEvent{Session: p.session, Kind: "journey_failure", Message: err.Error(), At: p.now()})
}

func (p *Publisher) OnSpeedUpdate(current, target float64) {
	p.publish(KindPace, PaceEvent{Session: p.session, CurrentSpeed: &current, TargetSpeed: &target, At: p.now()})
}

func (p *Publisher) OnArrivalTimeUpdate(seconds float64) {
	p.publish(KindPace, PaceEvent{Session: p.session, ArrivalSeconds: &seconds, At: p.now()})
}

// Play forwards a pacing cue trigger; playback belongs to the presentation side.
func (p *Publisher) Play(kind pace.CueKind) {
	p.publish(KindPace, PaceEvent{Session: p.session, Cue: kind.String(), At: p.now()})
}

func (p *Publisher) publish(kind string, v any) {
	subject := Subject(p.prefix, p.session, kind)
	b, err := json.Marshal(v)
	if err != nil {
		log.Printf("nats encode %s: %v", kind, err)
		return
	}
	if p.logSubjects {
		log.Printf("nats publish subject=%s", subject)
	}
	err = p.pub.Publish(subject, b)
	if err != nil {
		log.Printf("nats publish %s: %v", subject, err)
	}
	if p.metrics != nil {
		if err != nil {
			p.metrics.NATSPublishErrs.Inc()
		} else {
			p.metrics.NATSPublished.Inc()
		}
	}
}

func subjectToken(s string) string {
	s = strings.TrimSpace(s)
	// NATS token cannot contain spaces, '>', '*', or trailing '.'
	repl := strings.NewReplacer(" ", "_", ".", "_", ">", "_", "*", "_", "/", "_", "\t", "_")
	s = repl.Replace(s)
	if s == "" {
		s = "_"
	}
	return s
}
