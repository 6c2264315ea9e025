package device

import (
	"encoding/json"
	"fmt"
)

// Range limits for light state.
const (
	MinBrightness = 0
	MaxBrightness = 100

	MinChannel = 0
	MaxChannel = 255

	MinKelvin     = 1000
	MaxKelvin     = 10000
	DefaultKelvin = 5500
)

// ColorMode names the active variant of a ColorState.
type ColorMode string

const (
	ColorModeRGB         ColorMode = "rgb"
	ColorModeTemperature ColorMode = "temperature"
)

// RGB is a colour with each channel in 0..255.
type RGB struct {
	R int `json:"r"`
	G int `json:"g"`
	B int `json:"b"`
}

// Valid reports whether every channel is within 0..255.
func (c RGB) Valid() bool {
	return inRange(c.R, MinChannel, MaxChannel) &&
		inRange(c.G, MinChannel, MaxChannel) &&
		inRange(c.B, MinChannel, MaxChannel)
}

// ColorState is the light colour: either an RGB value or a white temperature.
//
// Exactly one mode is active. The values of the inactive mode are kept so
// switching back restores them, but the accessors never return them as
// current.
type ColorState struct {
	mode   ColorMode
	rgb    RGB
	kelvin int
}

// DefaultColor is the colour of a freshly paired light: 5500K white.
func DefaultColor() ColorState {
	return ColorState{
		mode:   ColorModeTemperature,
		rgb:    RGB{R: MaxChannel, G: MaxChannel, B: MaxChannel},
		kelvin: DefaultKelvin,
	}
}

// RestoreColor rebuilds a ColorState from its stored parts.
func RestoreColor(mode ColorMode, rgb RGB, kelvin int) (ColorState, error) {
	if mode != ColorModeRGB && mode != ColorModeTemperature {
		return ColorState{}, fmt.Errorf("%w: unknown colour mode %q", ErrInvalidDelta, mode)
	}
	if !rgb.Valid() {
		return ColorState{}, fmt.Errorf("%w: rgb %v", ErrOutOfRange, rgb)
	}
	if !inRange(kelvin, MinKelvin, MaxKelvin) {
		return ColorState{}, fmt.Errorf("%w: temperature %dK", ErrOutOfRange, kelvin)
	}
	return ColorState{mode: mode, rgb: rgb, kelvin: kelvin}, nil
}

// Mode returns the active mode.
func (c ColorState) Mode() ColorMode {
	return c.mode
}

// RGB returns the colour and true when the rgb mode is active.
func (c ColorState) RGB() (RGB, bool) {
	if c.mode != ColorModeRGB {
		return RGB{}, false
	}
	return c.rgb, true
}

// Temperature returns the kelvin value and true when the temperature mode is active.
func (c ColorState) Temperature() (int, bool) {
	if c.mode != ColorModeTemperature {
		return 0, false
	}
	return c.kelvin, true
}

// StoredRGB returns the rgb value regardless of the active mode.
// Use it only for persistence.
func (c ColorState) StoredRGB() RGB {
	return c.rgb
}

// StoredTemperature returns the kelvin value regardless of the active mode.
// Use it only for persistence.
func (c ColorState) StoredTemperature() int {
	return c.kelvin
}

func (c ColorState) withRGB(rgb RGB) ColorState {
	c.mode = ColorModeRGB
	c.rgb = rgb
	return c
}

func (c ColorState) withTemperature(kelvin int) ColorState {
	c.mode = ColorModeTemperature
	c.kelvin = kelvin
	return c
}

type colorJSON struct {
	Mode        ColorMode `json:"mode"`
	RGB         RGB       `json:"rgb"`
	Temperature int       `json:"temperature"`
}

// MarshalJSON stores both variants with the active mode.
func (c ColorState) MarshalJSON() ([]byte, error) {
	return json.Marshal(colorJSON{Mode: c.mode, RGB: c.rgb, Temperature: c.kelvin})
}

// UnmarshalJSON validates the stored variants.
func (c *ColorState) UnmarshalJSON(data []byte) error {
	var raw colorJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	restored, err := RestoreColor(raw.Mode, raw.RGB, raw.Temperature)
	if err != nil {
		return err
	}
	*c = restored
	return nil
}

func inRange(v, lo, hi int) bool {
	return v >= lo && v <= hi
}
