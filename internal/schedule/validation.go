package schedule

import (
	"fmt"
	"strings"
	"time"

	"github.com/MarcoCaamal/SIAMP-G-Server-sub000/internal/device"
)

// maxNameLength bounds a schedule name.
const maxNameLength = 100

// Validate checks a schedule definition at now. It returns every problem
// at once, wrapped in ErrInvalidSchedule.
//
// The end date may be today but not earlier, judged in the schedule's zone.
func (s Schedule) Validate(now time.Time) error {
	var errs []string

	if strings.TrimSpace(s.OwnerID) == "" {
		errs = append(errs, "ownerId is required")
	}
	if strings.TrimSpace(s.DeviceID) == "" {
		errs = append(errs, "deviceId is required")
	}
	name := strings.TrimSpace(s.Name)
	if name == "" {
		errs = append(errs, "name is required")
	} else if len(name) > maxNameLength {
		errs = append(errs, fmt.Sprintf("name exceeds %d characters", maxNameLength))
	}

	if _, _, err := s.clock(); err != nil {
		errs = append(errs, fmt.Sprintf("scheduledTime %q must be HH:mm", s.ScheduledTime))
	}

	var loc *time.Location
	if s.Timezone == "" {
		errs = append(errs, "timezone is required")
	} else if l, err := time.LoadLocation(s.Timezone); err != nil {
		errs = append(errs, fmt.Sprintf("timezone %q is not a known IANA zone", s.Timezone))
	} else {
		loc = l
	}

	if s.Status != StatusActive && s.Status != StatusInactive {
		errs = append(errs, fmt.Sprintf("status %q must be active or inactive", s.Status))
	}

	if s.Action.State != device.PowerOn && s.Action.State != device.PowerOff {
		errs = append(errs, fmt.Sprintf("scheduledAction.state %q must be on or off", s.Action.State))
	}
	if s.Action.Brightness < device.MinBrightness || s.Action.Brightness > device.MaxBrightness {
		errs = append(errs, fmt.Sprintf("scheduledAction.brightness %d not in [%d,%d]",
			s.Action.Brightness, device.MinBrightness, device.MaxBrightness))
	}

	errs = append(errs, s.Recurrence.problems()...)

	if s.Recurrence.HasEndDate() && loc != nil {
		y, m, d := s.Recurrence.EndDate.Date()
		end := time.Date(y, m, d, 0, 0, 0, 0, loc)
		if civilAfter(now.In(loc), end) {
			errs = append(errs, "recurrence.endDate must not be in the past")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidSchedule, strings.Join(errs, "; "))
	}
	return nil
}

func (r Recurrence) problems() []string {
	switch r.Type {
	case RecurrenceOnce, RecurrenceDaily:
		if r.DaysOfWeek != nil {
			return []string{fmt.Sprintf("recurrence type %s takes no daysOfWeek", r.Type)}
		}
	case RecurrenceWeekly:
		if r.DaysOfWeek == nil {
			return []string{"weekly recurrence requires daysOfWeek"}
		}
	case RecurrenceCustom:
		if r.DaysOfWeek == nil || !r.DaysOfWeek.HasAnyDay() {
			return []string{"custom recurrence requires at least one day"}
		}
	default:
		return []string{fmt.Sprintf("recurrence type %q must be once, daily, weekly or custom", r.Type)}
	}
	return nil
}
