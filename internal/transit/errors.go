package transit

import "errors"

var (
	// ErrSensorUnavailable means the motion hardware is absent; callers fall back to GPS.
	ErrSensorUnavailable = errors.New("motion sensor unavailable")
	// ErrNetworkFailure wraps any failed external fetch.
	ErrNetworkFailure = errors.New("network failure")
	// ErrUnresolvableStation means a station name could not be matched to an id.
	ErrUnresolvableStation = errors.New("unresolvable station")
	// ErrMissingRouteData means origin or destination were never set.
	ErrMissingRouteData = errors.New("missing route data")
)
