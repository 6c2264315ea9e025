package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/MarcoCaamal/SIAMP-G-Server-sub000/internal/device"
)

// Measurement names.
const (
	MeasurementState        = "light_state"
	MeasurementConnectivity = "light_connectivity"
)

// WriteTwinState records the state of a twin at the time of a report.
// The write is non-blocking.
func (c *Client) WriteTwinState(t device.Twin, at time.Time) {
	if c.accept() {
		c.writer.WritePoint(statePoint(t, at))
	}
}

// WriteConnectivity records a device going online or offline.
func (c *Client) WriteConnectivity(deviceID string, connected bool, at time.Time) {
	if c.accept() {
		c.writer.WritePoint(connectivityPoint(deviceID, connected, at))
	}
}

// statePoint renders a twin as a light_state point. The reported state is
// used when present so predictions never reach the time series.
func statePoint(t device.Twin, at time.Time) *write.Point {
	state := t.State
	if t.Confirmed != nil {
		state = *t.Confirmed
	}

	fields := map[string]any{
		"on":         state.Power == device.PowerOn,
		"brightness": state.Brightness,
	}
	if rgb, ok := state.Color.RGB(); ok {
		fields["r"] = rgb.R
		fields["g"] = rgb.G
		fields["b"] = rgb.B
	}
	if k, ok := state.Color.Temperature(); ok {
		fields["kelvin"] = k
	}
	if t.Watermark.Sequence > 0 {
		fields["seq"] = t.Watermark.Sequence
	}

	return write.NewPoint(
		MeasurementState,
		map[string]string{
			"device_id":  t.DeviceID,
			"color_mode": string(state.Color.Mode()),
		},
		fields,
		at,
	)
}

func connectivityPoint(deviceID string, connected bool, at time.Time) *write.Point {
	return write.NewPoint(
		MeasurementConnectivity,
		map[string]string{"device_id": deviceID},
		map[string]any{"connected": connected},
		at,
	)
}
