package influxdb

import "errors"

// ErrDisabled is returned by Connect when influxdb.enabled is false.
// Callers treat it as "run without telemetry".
var ErrDisabled = errors.New("influxdb: telemetry disabled")

var (
	ErrConnectionFailed = errors.New("influxdb: cannot reach server")
	ErrNotConnected     = errors.New("influxdb: client closed")

	// ErrWriteFailed wraps every error passed to the SetOnError callback.
	ErrWriteFailed = errors.New("influxdb: point write rejected")
)

var errServerUnhealthy = errors.New("server reports unhealthy")
