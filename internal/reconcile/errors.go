package reconcile

import "errors"

var (
	// ErrUnknownDevice is returned for events from a device with no twin.
	// Events never create twins.
	ErrUnknownDevice = errors.New("reconcile: unknown device")

	// ErrStaleEvent is returned for an event older than the twin's watermark.
	ErrStaleEvent = errors.New("reconcile: stale event")

	// ErrInvalidReport is returned for a report that cannot be applied.
	ErrInvalidReport = errors.New("reconcile: invalid report")
)
