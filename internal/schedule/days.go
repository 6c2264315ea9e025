package schedule

import (
	"encoding/json"
	"time"
)

// DaysOfWeek is a set of weekdays, one bit per time.Weekday.
type DaysOfWeek uint8

// allDays has the seven weekday bits set.
const allDays DaysOfWeek = 1<<7 - 1

// Days builds a set from weekdays.
func Days(days ...time.Weekday) DaysOfWeek {
	var d DaysOfWeek
	for _, day := range days {
		d = d.With(day)
	}
	return d
}

// Has reports whether day is in the set.
func (d DaysOfWeek) Has(day time.Weekday) bool {
	return d&(1<<uint(day)) != 0
}

// With returns the set plus day.
func (d DaysOfWeek) With(day time.Weekday) DaysOfWeek {
	return d | 1<<uint(day)
}

// HasAnyDay reports whether at least one day is set.
func (d DaysOfWeek) HasAnyDay() bool {
	return d&allDays != 0
}

// Ptr returns a pointer to a copy of d.
func (d DaysOfWeek) Ptr() *DaysOfWeek {
	return &d
}

type daysJSON struct {
	Monday    bool `json:"monday"`
	Tuesday   bool `json:"tuesday"`
	Wednesday bool `json:"wednesday"`
	Thursday  bool `json:"thursday"`
	Friday    bool `json:"friday"`
	Saturday  bool `json:"saturday"`
	Sunday    bool `json:"sunday"`
}

// MarshalJSON renders the set as seven named booleans.
func (d DaysOfWeek) MarshalJSON() ([]byte, error) {
	return json.Marshal(daysJSON{
		Monday:    d.Has(time.Monday),
		Tuesday:   d.Has(time.Tuesday),
		Wednesday: d.Has(time.Wednesday),
		Thursday:  d.Has(time.Thursday),
		Friday:    d.Has(time.Friday),
		Saturday:  d.Has(time.Saturday),
		Sunday:    d.Has(time.Sunday),
	})
}

// UnmarshalJSON parses seven named booleans; missing days are false.
func (d *DaysOfWeek) UnmarshalJSON(data []byte) error {
	var in daysJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	var out DaysOfWeek
	for day, set := range map[time.Weekday]bool{
		time.Monday:    in.Monday,
		time.Tuesday:   in.Tuesday,
		time.Wednesday: in.Wednesday,
		time.Thursday:  in.Thursday,
		time.Friday:    in.Friday,
		time.Saturday:  in.Saturday,
		time.Sunday:    in.Sunday,
	} {
		if set {
			out = out.With(day)
		}
	}
	*d = out
	return nil
}
