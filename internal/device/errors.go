package device

import "errors"

// Domain errors for the device package.
//
//	if errors.Is(err, device.ErrOutOfRange) {
//	    // reject the request
//	}
var (
	// ErrTwinNotFound is returned when no twin exists for a device id.
	ErrTwinNotFound = errors.New("device: twin not found")

	// ErrTwinExists is returned when saving a twin whose device id is taken.
	ErrTwinExists = errors.New("device: twin already exists")

	// ErrOutOfRange is returned for brightness, RGB or kelvin values outside
	// their limits. Values are rejected, never clamped.
	ErrOutOfRange = errors.New("device: value out of range")

	// ErrConflict is returned by Update when the stored version no longer
	// matches the version the caller read.
	ErrConflict = errors.New("device: version conflict")

	// ErrInvalidDescriptor is returned for empty ids or an invalid name.
	ErrInvalidDescriptor = errors.New("device: invalid descriptor")

	// ErrInvalidDelta is returned for a control delta that is empty or names
	// a colour mode without its value.
	ErrInvalidDelta = errors.New("device: invalid control delta")
)
