package device

import "time"

// Power is the on/off state of a light.
type Power string

const (
	PowerOn  Power = "on"
	PowerOff Power = "off"
)

// maxNameLength bounds the user-facing device name.
const maxNameLength = 100

// Descriptor is the declared identity of a light.
type Descriptor struct {
	Name            string `json:"name"`
	Type            string `json:"type"`
	Model           string `json:"model"`
	FirmwareVersion string `json:"firmwareVersion"`
	HabitatType     string `json:"habitatType"`
}

// DescriptorUpdate carries the metadata fields a user may change.
// Nil fields are left as they are.
type DescriptorUpdate struct {
	Name        *string  `json:"name,omitempty"`
	Type        *string  `json:"type,omitempty"`
	Model       *string  `json:"model,omitempty"`
	HabitatType *string  `json:"habitatType,omitempty"`
	Network     *Network `json:"network,omitempty"`
}

// Network is informational; neither field is unique.
type Network struct {
	SSID      string `json:"ssid"`
	IPAddress string `json:"ipAddress"`
}

// Connectivity tracks whether the light is believed reachable.
type Connectivity struct {
	IsConnected     bool
	LastConnectedAt *time.Time
}

// LightState is the power, brightness and colour of a light.
type LightState struct {
	Power      Power      `json:"power"`
	Brightness int        `json:"brightness"`
	Color      ColorState `json:"color"`
}

// DefaultState is off, brightness 0, 5500K.
func DefaultState() LightState {
	return LightState{
		Power:      PowerOff,
		Brightness: MinBrightness,
		Color:      DefaultColor(),
	}
}

// Delta is a control request. Nil fields are not changed.
type Delta struct {
	On         *bool         `json:"on,omitempty"`
	Brightness *int          `json:"brightness,omitempty"`
	Color      *ColorCommand `json:"color,omitempty"`
}

// ColorCommand selects a colour mode and its value.
type ColorCommand struct {
	Mode        ColorMode `json:"mode"`
	RGB         *RGB      `json:"rgb,omitempty"`
	Temperature *int      `json:"temperature,omitempty"`
}

// IsEmpty reports whether the delta changes nothing.
func (d Delta) IsEmpty() bool {
	return d.On == nil && d.Brightness == nil && d.Color == nil
}

// PendingCommand is the predicted state left by a command the device has
// not yet confirmed with a state report.
type PendingCommand struct {
	Delta    Delta     `json:"delta"`
	IssuedAt time.Time `json:"issuedAt"`
}

// Twin is the server-side record of one paired light.
//
// Twin is a value: every transition returns a new Twin and leaves the
// receiver untouched. Persisting the result is the caller's job.
type Twin struct {
	DeviceID     string
	OwnerID      string
	Descriptor   Descriptor
	Network      Network
	Connectivity Connectivity

	// State is the best current view: the last report with any pending
	// command applied on top.
	State LightState

	// Confirmed is the state from the last device report, nil before the
	// first report.
	Confirmed *LightState

	// Pending is set when a command changed State ahead of the device.
	Pending *PendingCommand

	Watermark Watermark

	// Version is the optimistic-concurrency token checked by Update.
	Version int64

	CreatedAt time.Time
	UpdatedAt time.Time
}
