package command

import "errors"

var (
	// ErrDispatchFailed is returned when a command could not be published
	// within the retry budget, or the circuit breaker is open.
	ErrDispatchFailed = errors.New("command: dispatch failed")

	// ErrUnknownAction is returned for an action outside the protocol.
	ErrUnknownAction = errors.New("command: unknown action")

	// ErrInvalidDevice is returned for an empty device id.
	ErrInvalidDevice = errors.New("command: device id is required")
)
