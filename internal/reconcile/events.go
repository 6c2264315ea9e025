package reconcile

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/MarcoCaamal/SIAMP-G-Server-sub000/internal/device"
)

// StateReport is a full or partial state report published on
// {prefix}/{deviceId}/state. Absent fields are left as they are.
//
// Seq and Timestamp are optional ordering hints; when present they are
// checked against the twin's watermark.
type StateReport struct {
	IsConnected  *bool          `json:"isConnected,omitempty"`
	CurrentState *device.Power  `json:"currentState,omitempty"`
	Brightness   *int           `json:"brightness,omitempty"`
	Color        *ReportedColor `json:"color,omitempty"`
	Seq          *uint64        `json:"seq,omitempty"`
	Timestamp    *time.Time     `json:"timestamp,omitempty"`
}

// ReportedColor is the colour a device reports.
type ReportedColor struct {
	Mode        device.ColorMode `json:"mode"`
	RGB         *device.RGB      `json:"rgb,omitempty"`
	Temperature *int             `json:"temperature,omitempty"`
}

// Heartbeat is published on {prefix}/{deviceId}/heartbeat. Fields other
// than the ones below are free-form and ignored.
type Heartbeat struct {
	FirmwareVersion *string    `json:"firmwareVersion,omitempty"`
	Seq             *uint64    `json:"seq,omitempty"`
	Timestamp       *time.Time `json:"timestamp,omitempty"`
}

// DecodeStateReport parses a state report payload.
func DecodeStateReport(payload []byte) (StateReport, error) {
	var r StateReport
	if err := json.Unmarshal(payload, &r); err != nil {
		return StateReport{}, fmt.Errorf("%w: %w", ErrInvalidReport, err)
	}
	return r, nil
}

// DecodeHeartbeat parses a heartbeat payload. An empty payload is a valid
// heartbeat with no fields.
func DecodeHeartbeat(payload []byte) (Heartbeat, error) {
	var hb Heartbeat
	if len(payload) == 0 {
		return hb, nil
	}
	if err := json.Unmarshal(payload, &hb); err != nil {
		return Heartbeat{}, fmt.Errorf("%w: %w", ErrInvalidReport, err)
	}
	return hb, nil
}

// ApplyStateReport applies the fields present in r to t. The report is
// applied as a whole: if any field is rejected, t is returned unchanged.
//
// The result is connected, carries r as confirmed state with no pending
// overlay, and has its watermark advanced. Applying the same report at
// the same instant twice yields the same twin as applying it once.
func ApplyStateReport(t device.Twin, r StateReport, now time.Time) (device.Twin, error) {
	out := t
	if r.CurrentState != nil {
		switch *r.CurrentState {
		case device.PowerOn:
			out = out.TurnOn(now)
		case device.PowerOff:
			out = out.TurnOff(now)
		default:
			return t, fmt.Errorf("%w: currentState %q", ErrInvalidReport, *r.CurrentState)
		}
	}

	var err error
	if r.Brightness != nil {
		if out, err = out.SetBrightness(*r.Brightness, now); err != nil {
			return t, err
		}
	}

	if c := r.Color; c != nil {
		switch {
		case c.Mode == device.ColorModeRGB && c.RGB != nil:
			out, err = out.SetRGBColor(c.RGB.R, c.RGB.G, c.RGB.B, now)
		case c.Mode == device.ColorModeTemperature && c.Temperature != nil:
			out, err = out.SetTemperature(*c.Temperature, now)
		default:
			err = fmt.Errorf("%w: colour mode %q without its value", ErrInvalidReport, c.Mode)
		}
		if err != nil {
			return t, err
		}
	}

	// A report is itself evidence of liveness.
	out = out.SetConnectionStatus(true, now).Confirm(now)
	out.Watermark = out.Watermark.Advance(r.Seq, r.Timestamp)
	return out, nil
}

// ApplyHeartbeat records liveness. A fresh heartbeat also records the
// firmware version, if present, and advances the watermark; a stale one
// is liveness only.
func ApplyHeartbeat(t device.Twin, hb Heartbeat, now time.Time, fresh bool) device.Twin {
	t = t.SetConnectionStatus(true, now)
	if !fresh {
		return t
	}
	if hb.FirmwareVersion != nil && *hb.FirmwareVersion != "" {
		t = t.SetFirmwareVersion(*hb.FirmwareVersion, now)
	}
	t.Watermark = t.Watermark.Advance(hb.Seq, hb.Timestamp)
	return t
}
