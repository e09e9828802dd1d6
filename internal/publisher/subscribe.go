package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats.go"

	"catchtrain/internal/motion"
	"catchtrain/internal/transit"
)

type locationMessage struct {
	Lat       float64   `json:"lat"`
	Lon       float64   `json:"lon"`
	Accuracy  float64   `json:"accuracy"`
	Speed     *float64  `json:"speed"`
	Timestamp time.Time `json:"timestamp"`
}

// decodeLocation parses a location fix. A missing speed is unknown (-1) and
// a missing timestamp is the receive time.
func decodeLocation(data []byte, received time.Time) (transit.Location, error) {
	var m locationMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return transit.Location{}, fmt.Errorf("decode location: %w", err)
	}
	if m.Lat < -90 || m.Lat > 90 || m.Lon < -180 || m.Lon > 180 || (m.Lat == 0 && m.Lon == 0) {
		return transit.Location{}, fmt.Errorf("location out of range: %v,%v", m.Lat, m.Lon)
	}
	loc := transit.Location{
		Coordinate: transit.Coordinate{Lat: m.Lat, Lon: m.Lon},
		Accuracy:   m.Accuracy,
		Speed:      -1,
		Timestamp:  m.Timestamp,
	}
	if m.Speed != nil {
		loc.Speed = *m.Speed
	}
	if loc.Accuracy < 0 {
		loc.Accuracy = 0
	}
	if loc.Timestamp.IsZero() {
		loc.Timestamp = received
	}
	return loc, nil
}

func decodeCadence(data []byte, received time.Time) (motion.Reading, error) {
	var r motion.Reading
	if err := json.Unmarshal(data, &r); err != nil {
		return motion.Reading{}, fmt.Errorf("decode cadence: %w", err)
	}
	if r.Cadence < 0 {
		return motion.Reading{}, fmt.Errorf("negative cadence %v", r.Cadence)
	}
	if r.Time.IsZero() {
		r.Time = received
	}
	return r, nil
}

// SubscribeLocations delivers every valid fix on <prefix>.<session>.location
// to fn. Malformed messages are logged and dropped.
func SubscribeLocations(nc *nats.Conn, prefix, session string, fn func(transit.Location)) (*nats.Subscription, error) {
	subject := Subject(prefix, session, KindLocation)
	sub, err := nc.Subscribe(subject, func(msg *nats.Msg) {
		loc, err := decodeLocation(msg.Data, time.Now())
		if err != nil {
			log.Printf("nats %s: %v", subject, err)
			return
		}
		fn(loc)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", subject, err)
	}
	return sub, nil
}

// CadenceFeed is a motion.Pedometer fed by <prefix>.<session>.cadence.
type CadenceFeed struct {
	nc      *nats.Conn
	subject string
	buffer  int
}

func NewCadenceFeed(nc *nats.Conn, prefix, session string) *CadenceFeed {
	return &CadenceFeed{nc: nc, subject: Subject(prefix, session, KindCadence), buffer: 32}
}

// Readings subscribes until ctx ends. Readings are dropped rather than
// blocking the NATS dispatcher when the consumer falls behind.
func (f *CadenceFeed) Readings(ctx context.Context) (<-chan motion.Reading, error) {
	if f == nil || f.nc == nil {
		return nil, transit.ErrSensorUnavailable
	}
	ch := make(chan motion.Reading, f.buffer)
	done := make(chan struct{})
	sub, err := f.nc.Subscribe(f.subject, func(msg *nats.Msg) {
		r, err := decodeCadence(msg.Data, time.Now())
		if err != nil {
			log.Printf("nats %s: %v", f.subject, err)
			return
		}
		select {
		case <-done:
		case ch <- r:
		default:
		}
	})
	if err != nil {
		return nil, fmt.Errorf("%w: subscribe %s: %w", transit.ErrSensorUnavailable, f.subject, err)
	}
	go func() {
		<-ctx.Done()
		if err := sub.Unsubscribe(); err != nil {
			log.Printf("nats unsubscribe %s: %v", f.subject, err)
		}
		close(done)
	}()
	return ch, nil
}
