package schedule

import (
	"encoding/json"
	"time"

	"github.com/MarcoCaamal/SIAMP-G-Server-sub000/internal/device"
)

// Status is whether the executor considers a schedule.
type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
)

// RecurrenceType selects on which days a schedule is eligible.
type RecurrenceType string

const (
	RecurrenceOnce   RecurrenceType = "once"
	RecurrenceDaily  RecurrenceType = "daily"
	RecurrenceWeekly RecurrenceType = "weekly"
	RecurrenceCustom RecurrenceType = "custom"
)

// TimeLayout is the layout of ScheduledTime.
const TimeLayout = "15:04"

// DateLayout is the layout of an end date.
const DateLayout = "2006-01-02"

// Action is what a schedule does to its device.
type Action struct {
	State      device.Power `json:"state"`
	Brightness int          `json:"brightness"`

	// LightingModeID references a lighting preset. It is stored and
	// returned but lighting modes are managed outside this server.
	LightingModeID *string `json:"lightingModeId,omitempty"`
}

// Recurrence is the rule for which calendar days qualify.
type Recurrence struct {
	Type       RecurrenceType `json:"type"`
	DaysOfWeek *DaysOfWeek    `json:"daysOfWeek,omitempty"`

	// EndDate is a calendar date; the time of day and zone are ignored.
	EndDate *time.Time `json:"-"`
}

// HasEndDate reports whether the recurrence lapses.
func (r Recurrence) HasEndDate() bool {
	return r.EndDate != nil
}

type recurrenceJSON struct {
	Type       RecurrenceType `json:"type"`
	DaysOfWeek *DaysOfWeek    `json:"daysOfWeek,omitempty"`
	EndDate    *string        `json:"endDate,omitempty"`
}

// MarshalJSON renders EndDate as YYYY-MM-DD.
func (r Recurrence) MarshalJSON() ([]byte, error) {
	out := recurrenceJSON{Type: r.Type, DaysOfWeek: r.DaysOfWeek}
	if r.EndDate != nil {
		s := r.EndDate.Format(DateLayout)
		out.EndDate = &s
	}
	return json.Marshal(out)
}

// UnmarshalJSON parses EndDate as YYYY-MM-DD.
func (r *Recurrence) UnmarshalJSON(data []byte) error {
	var in recurrenceJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	r.Type = in.Type
	r.DaysOfWeek = in.DaysOfWeek
	r.EndDate = nil
	if in.EndDate != nil && *in.EndDate != "" {
		d, err := time.Parse(DateLayout, *in.EndDate)
		if err != nil {
			return err
		}
		r.EndDate = &d
	}
	return nil
}

// Schedule is a recurring or one-shot instruction for one device.
type Schedule struct {
	ID       string `json:"id"`
	OwnerID  string `json:"ownerId"`
	DeviceID string `json:"deviceId"`
	Name     string `json:"name"`

	// ScheduledTime is HH:mm, interpreted in Timezone.
	ScheduledTime string `json:"scheduledTime"`
	Timezone      string `json:"timezone"`

	Status     Status     `json:"status"`
	Action     Action     `json:"scheduledAction"`
	Recurrence Recurrence `json:"recurrence"`

	// Execution bookkeeping, written only by the executor.
	LastExecutedAt  *time.Time `json:"lastExecutedAt,omitempty"`
	NextExecutionAt *time.Time `json:"nextExecutionAt,omitempty"`
	ExecutionCount  int        `json:"executionCount"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// IsActive reports whether the schedule is active.
func (s Schedule) IsActive() bool {
	return s.Status == StatusActive
}

// Delta converts the action to a device control delta. Brightness is only
// sent when switching on.
func (a Action) Delta() device.Delta {
	on := a.State == device.PowerOn
	d := device.Delta{On: &on}
	if on {
		b := a.Brightness
		d.Brightness = &b
	}
	return d
}
