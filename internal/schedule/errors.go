package schedule

import "errors"

var (
	// ErrScheduleNotFound is returned when no schedule has the given id.
	ErrScheduleNotFound = errors.New("schedule: not found")

	// ErrScheduleExists is returned when an owner already has a schedule
	// with the same name.
	ErrScheduleExists = errors.New("schedule: name already in use")

	// ErrInvalidSchedule wraps every validation failure.
	ErrInvalidSchedule = errors.New("schedule: invalid schedule")
)
