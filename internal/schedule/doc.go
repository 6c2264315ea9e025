// Package schedule implements light schedules and the recurrence engine
// that decides when they fire.
//
// A schedule applies an on/off action to one device at a wall-clock time
// (HH:mm) in an IANA time zone, once or on a recurrence:
//
//	once    fires at the next occurrence of the time, then deactivates
//	daily   fires every day
//	weekly  fires on the selected days
//	custom  like weekly, but at least one day must be selected
//
// An optional end date stops the recurrence after that calendar day.
//
// The recurrence engine (ShouldExecuteOn, NextOccurrence, MarkAsExecuted)
// is pure. The Executor drives it from a ticker and applies due actions
// through the device control service, so scheduled and user commands go
// through the same checks and the same twin compare-and-swap.
package schedule
