package schedule

import (
	"fmt"
	"time"
)

// searchHorizon bounds NextOccurrence. Any eligible weekday recurs within
// a week; the extra day covers the slot on the starting day.
const searchHorizon = 8

// ShouldExecuteOn reports whether the calendar date of date qualifies.
// date should already be in the schedule's zone; only its year, month and
// day are read.
//
//	once, daily      always (until the end date)
//	weekly, custom   iff the weekday is selected
//
// Any date after EndDate returns false.
func (s Schedule) ShouldExecuteOn(date time.Time) bool {
	if s.Recurrence.HasEndDate() && civilAfter(date, *s.Recurrence.EndDate) {
		return false
	}

	switch s.Recurrence.Type {
	case RecurrenceOnce, RecurrenceDaily:
		return true
	case RecurrenceWeekly, RecurrenceCustom:
		return s.Recurrence.DaysOfWeek != nil && s.Recurrence.DaysOfWeek.Has(date.Weekday())
	default:
		return false
	}
}

// MarkAsExecuted returns a copy recording an execution at executedAt,
// with the given next execution time (nil when there is none).
func (s Schedule) MarkAsExecuted(executedAt time.Time, next *time.Time) Schedule {
	executedAt = executedAt.UTC()
	s.LastExecutedAt = &executedAt
	if next != nil {
		n := next.UTC()
		next = &n
	}
	s.NextExecutionAt = next
	s.ExecutionCount++
	if executedAt.After(s.UpdatedAt) {
		s.UpdatedAt = executedAt
	}
	return s
}

// Location loads the schedule's time zone.
func (s Schedule) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return nil, fmt.Errorf("%w: timezone %q: %w", ErrInvalidSchedule, s.Timezone, err)
	}
	return loc, nil
}

// clock parses ScheduledTime into hour and minute.
func (s Schedule) clock() (hour, minute int, err error) {
	if len(s.ScheduledTime) != len(TimeLayout) {
		return 0, 0, fmt.Errorf("%w: scheduledTime %q is not HH:mm", ErrInvalidSchedule, s.ScheduledTime)
	}
	t, err := time.Parse(TimeLayout, s.ScheduledTime)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: scheduledTime %q is not HH:mm", ErrInvalidSchedule, s.ScheduledTime)
	}
	return t.Hour(), t.Minute(), nil
}

// slotOn returns the scheduled instant on the calendar day of day in loc.
func (s Schedule) slotOn(day time.Time, loc *time.Location, hour, minute int) time.Time {
	y, m, d := day.In(loc).Date()
	return time.Date(y, m, d, hour, minute, 0, 0, loc)
}

// NextOccurrence returns the first slot strictly after after on an
// eligible day, in UTC. It reports false when the recurrence has lapsed,
// a once schedule has already run, or the schedule is malformed.
func NextOccurrence(s Schedule, after time.Time) (time.Time, bool) {
	if s.Recurrence.Type == RecurrenceOnce && s.ExecutionCount > 0 {
		return time.Time{}, false
	}
	loc, err := s.Location()
	if err != nil {
		return time.Time{}, false
	}
	hour, minute, err := s.clock()
	if err != nil {
		return time.Time{}, false
	}

	local := after.In(loc)
	for i := 0; i < searchHorizon; i++ {
		slot := s.slotOn(local.AddDate(0, 0, i), loc, hour, minute)
		if !slot.After(after) {
			continue
		}
		if s.ShouldExecuteOn(slot) {
			return slot.UTC(), true
		}
		if s.Recurrence.HasEndDate() && civilAfter(slot, *s.Recurrence.EndDate) {
			break
		}
	}
	return time.Time{}, false
}

// DueSlot returns the slot that should fire at now, if any: the latest
// slot at or before now, no more than grace old, on an eligible day, not
// before the schedule was created and not already executed.
func DueSlot(s Schedule, now time.Time, grace time.Duration) (time.Time, bool) {
	if !s.IsActive() {
		return time.Time{}, false
	}
	if s.Recurrence.Type == RecurrenceOnce && s.ExecutionCount > 0 {
		return time.Time{}, false
	}
	loc, err := s.Location()
	if err != nil {
		return time.Time{}, false
	}
	hour, minute, err := s.clock()
	if err != nil {
		return time.Time{}, false
	}

	created := s.CreatedAt.Truncate(time.Minute)
	local := now.In(loc)
	// Today's slot first, then yesterday's for windows spanning midnight.
	for _, offset := range []int{0, -1} {
		slot := s.slotOn(local.AddDate(0, 0, offset), loc, hour, minute)
		if slot.After(now) || now.Sub(slot) > grace {
			continue
		}
		if slot.Before(created) || !s.ShouldExecuteOn(slot) {
			continue
		}
		if s.LastExecutedAt != nil && !s.LastExecutedAt.Before(slot) {
			continue
		}
		return slot, true
	}
	return time.Time{}, false
}

// civilAfter reports whether the calendar date of a is after that of b,
// each read in its own location.
func civilAfter(a, b time.Time) bool {
	return civilDays(a) > civilDays(b)
}

func civilDays(t time.Time) int {
	y, m, d := t.Date()
	return y*10000 + int(m)*100 + d
}
