// Package command publishes command messages to a light's command channel.
//
// Every command shares one JSON envelope:
//
//	{"action": "control", "on": true, "brightness": 75, "timestamp": "2026-03-01T12:00:00Z"}
//
// Dispatch is fire-and-forget: a nil error means the broker accepted the
// message, not that the device received or applied it. There is no
// acknowledgement channel; a later state report is the only confirmation.
//
// Each dispatch is bounded by the MQTT client's per-attempt publish timeout,
// retried with exponential backoff up to a fixed budget, and guarded by a
// circuit breaker that fails fast while the broker is unreachable.
package command
