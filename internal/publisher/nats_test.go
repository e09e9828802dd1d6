package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"catchtrain/internal/catch"
	"catchtrain/internal/pace"
	"catchtrain/internal/progress"
	"catchtrain/internal/transit"
)

type sent struct {
	subject string
	data    []byte
}

type fakeConn struct {
	msgs []sent
	err  error
}

func (c *fakeConn) Publish(subject string, data []byte) error {
	if c.err != nil {
		return c.err
	}
	c.msgs = append(c.msgs, sent{subject, data})
	return nil
}

func TestSubjectToken(t *testing.T) {
	tests := map[string]string{
		"central":      "central",
		" a b ":        "a_b",
		"x.y":          "x_y",
		"wild*card>":   "wild_card_",
		"":             "_",
		"path/segment": "path_segment",
	}
	for in, want := range tests {
		if got := subjectToken(in); got != want {
			t.Errorf("subjectToken(%q) = %q, expected %q", in, got, want)
		}
	}
}

func TestSubject(t *testing.T) {
	tests := []struct {
		prefix, session, kind, want string
	}{
		{"catchtrain", "abc", KindProgress, "catchtrain.abc.progress"},
		{"city.london", "s 1", KindLocation, "city.london.s_1.location"},
		{"", "abc", KindAlert, "abc.alert"},
		{"a..b.", "x.y", KindPace, "a.b.x_y.pace"},
	}
	for _, tt := range tests {
		if got := Subject(tt.prefix, tt.session, tt.kind); got != tt.want {
			t.Errorf("Subject(%q, %q, %q) = %q, expected %q", tt.prefix, tt.session, tt.kind, got, tt.want)
		}
	}
}

func TestPublisherEvents(t *testing.T) {
	c := &fakeConn{}
	p := newPublisher(c, "catchtrain", "s1", false, nil)
	at := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return at }

	prev := progress.Phase{Kind: progress.WalkToStation}
	p.OnPhaseChange(progress.State{Phase: progress.Phase{Kind: progress.StationToPlatform}, PreviousPhase: &prev})
	p.OnProgress(progress.Update{
		State:       progress.State{Phase: progress.Phase{Kind: progress.OnTrain, Leg: 1}, OverallProgress: 0.5},
		HasTarget:   true,
		CatchStatus: catch.Hurry,
		Target: catch.Info{
			Prediction:      transit.ArrivalPrediction{LineID: "central", VehicleID: "231"},
			TimeLeftToCatch: 45,
			Status:          catch.Hurry,
		},
		At: at,
	})
	p.OnSpeedUpdate(1.2, 1.5)
	p.OnFailure(progress.ErrNoCatchableTrain)
	p.Play(pace.CueTooSlow)

	wantSubjects := []string{"catchtrain.s1.phase", "catchtrain.s1.progress", "catchtrain.s1.pace", "catchtrain.s1.alert", "catchtrain.s1.pace"}
	if len(c.msgs) != len(wantSubjects) {
		t.Fatalf("published %d messages", len(c.msgs))
	}
	for i, want := range wantSubjects {
		if c.msgs[i].subject != want {
			t.Errorf("message %d subject = %s, expected %s", i, c.msgs[i].subject, want)
		}
	}

	var phase PhaseEvent
	if err := json.Unmarshal(c.msgs[0].data, &phase); err != nil {
		t.Fatalf("phase event: %v", err)
	}
	if phase.Phase != "stationToPlatform" || phase.PreviousPhase != "walkToStation" || phase.Session != "s1" {
		t.Errorf("phase event = %+v", phase)
	}

	var prog ProgressEvent
	if err := json.Unmarshal(c.msgs[1].data, &prog); err != nil {
		t.Fatalf("progress event: %v", err)
	}
	if prog.Phase != "onTrain(1)" || prog.CatchStatus != "hurry" || prog.Target == nil || prog.Target.VehicleID != "231" {
		t.Errorf("progress event = %+v", prog)
	}

	var speed PaceEvent
	if err := json.Unmarshal(c.msgs[2].data, &speed); err != nil {
		t.Fatalf("pace event: %v", err)
	}
	if speed.CurrentSpeed == nil || *speed.CurrentSpeed != 1.2 || speed.ArrivalSeconds != nil {
		t.Errorf("pace event = %+v", speed)
	}

	var alert AlertEvent
	if err := json.Unmarshal(c.msgs[3].data, &alert); err != nil {
		t.Fatalf("alert event: %v", err)
	}
	if alert.Kind != "journey_failure" || alert.Message != progress.ErrNoCatchableTrain.Error() {
		t.Errorf("alert event = %+v", alert)
	}

	var cue PaceEvent
	if err := json.Unmarshal(c.msgs[4].data, &cue); err != nil {
		t.Fatalf("cue event: %v", err)
	}
	if cue.Cue != "too_slow" || cue.CurrentSpeed != nil {
		t.Errorf("cue event = %+v", cue)
	}
}

func TestProgressEventWithoutTarget(t *testing.T) {
	ev := progressEvent("s", progress.Update{State: progress.State{Phase: progress.Phase{Kind: progress.Finished}}})
	if ev.Target != nil || ev.CatchStatus != "" {
		t.Errorf("event without target = %+v", ev)
	}
}

func TestPublishErrorIsSwallowed(t *testing.T) {
	c := &fakeConn{err: errors.New("nats: connection closed")}
	p := newPublisher(c, "catchtrain", "s1", true, nil)
	p.OnArrivalTimeUpdate(42)
	if len(c.msgs) != 0 {
		t.Errorf("unexpected messages")
	}
}

func TestDecodeLocation(t *testing.T) {
	received := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	tests := []struct {
		name      string
		payload   string
		wantErr   bool
		wantSpeed float64
		wantTime  time.Time
	}{
		{"full", `{"lat":51.5,"lon":-0.14,"accuracy":8,"speed":1.3,"timestamp":"2026-03-02T07:59:58Z"}`, false, 1.3, received.Add(-2 * time.Second)},
		{"no speed no time", `{"lat":51.5,"lon":-0.14}`, false, -1, received},
		{"out of range", `{"lat":151.5,"lon":-0.14}`, true, 0, time.Time{}},
		{"null island", `{"lat":0,"lon":0}`, true, 0, time.Time{}},
		{"garbage", `{"lat":`, true, 0, time.Time{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			loc, err := decodeLocation([]byte(tt.payload), received)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if loc.Speed != tt.wantSpeed || !loc.Timestamp.Equal(tt.wantTime) {
				t.Errorf("location = %+v", loc)
			}
		})
	}
}

func TestDecodeCadence(t *testing.T) {
	received := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	r, err := decodeCadence([]byte(`{"cadence":1.8}`), received)
	if err != nil || r.Cadence != 1.8 || !r.Time.Equal(received) {
		t.Errorf("reading = %+v, %v", r, err)
	}
	if _, err := decodeCadence([]byte(`{"cadence":-1}`), received); err == nil {
		t.Errorf("negative cadence accepted")
	}
}

func TestCadenceFeedWithoutConnection(t *testing.T) {
	var f *CadenceFeed
	if _, err := f.Readings(context.Background()); !errors.Is(err, transit.ErrSensorUnavailable) {
		t.Errorf("nil feed err = %v", err)
	}
}
