package device

import (
	"fmt"
	"strings"
	"time"
)

// New creates the twin of a newly paired light: off, brightness 0, 5500K,
// disconnected, version 0.
//
// Parameters:
//   - ownerID: The user the light is paired to
//   - deviceID: The device's own stable identifier
//   - d: Declared identity; Name is required
//   - now: Creation time
//
// Returns:
//   - Twin: The new twin
//   - error: ErrInvalidDescriptor if an id or the name is invalid
func New(ownerID, deviceID string, d Descriptor, now time.Time) (Twin, error) {
	if strings.TrimSpace(ownerID) == "" || strings.TrimSpace(deviceID) == "" {
		return Twin{}, fmt.Errorf("%w: owner and device id are required", ErrInvalidDescriptor)
	}
	d.Name = strings.TrimSpace(d.Name)
	if err := validateName(d.Name); err != nil {
		return Twin{}, err
	}

	now = now.UTC()
	return Twin{
		DeviceID:   deviceID,
		OwnerID:    ownerID,
		Descriptor: d,
		State:      DefaultState(),
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

func validateName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidDescriptor)
	}
	if len(name) > maxNameLength {
		return fmt.Errorf("%w: name exceeds %d characters", ErrInvalidDescriptor, maxNameLength)
	}
	return nil
}

// touch moves UpdatedAt forward to now; it never moves it back.
func (t Twin) touch(now time.Time) Twin {
	if now = now.UTC(); now.After(t.UpdatedAt) {
		t.UpdatedAt = now
	}
	return t
}

func timePtr(t time.Time) *time.Time {
	t = t.UTC()
	return &t
}

// TurnOn switches the light on. Being able to switch it on is evidence the
// device is reachable, so LastConnectedAt is refreshed too.
func (t Twin) TurnOn(now time.Time) Twin {
	t.State.Power = PowerOn
	t.Connectivity.LastConnectedAt = timePtr(now)
	return t.touch(now)
}

// TurnOff switches the light off.
func (t Twin) TurnOff(now time.Time) Twin {
	t.State.Power = PowerOff
	return t.touch(now)
}

// SetBrightness sets brightness in 0..100.
func (t Twin) SetBrightness(v int, now time.Time) (Twin, error) {
	if !inRange(v, MinBrightness, MaxBrightness) {
		return t, fmt.Errorf("%w: brightness %d not in [%d,%d]", ErrOutOfRange, v, MinBrightness, MaxBrightness)
	}
	t.State.Brightness = v
	return t.touch(now), nil
}

// SetRGBColor switches to rgb mode with the given channels (each 0..255).
func (t Twin) SetRGBColor(r, g, b int, now time.Time) (Twin, error) {
	rgb := RGB{R: r, G: g, B: b}
	if !rgb.Valid() {
		return t, fmt.Errorf("%w: rgb (%d,%d,%d) channel not in [%d,%d]", ErrOutOfRange, r, g, b, MinChannel, MaxChannel)
	}
	t.State.Color = t.State.Color.withRGB(rgb)
	return t.touch(now), nil
}

// SetTemperature switches to temperature mode with k kelvin (1000..10000).
func (t Twin) SetTemperature(k int, now time.Time) (Twin, error) {
	if !inRange(k, MinKelvin, MaxKelvin) {
		return t, fmt.Errorf("%w: temperature %dK not in [%d,%d]", ErrOutOfRange, k, MinKelvin, MaxKelvin)
	}
	t.State.Color = t.State.Color.withTemperature(k)
	return t.touch(now), nil
}

// SetConnectionStatus records reachability. Every connected=true call
// refreshes LastConnectedAt, which is what the liveness watchdog reads.
func (t Twin) SetConnectionStatus(connected bool, now time.Time) Twin {
	t.Connectivity.IsConnected = connected
	if connected {
		t.Connectivity.LastConnectedAt = timePtr(now)
	}
	return t.touch(now)
}

// CanBeControlled reports whether commands may be sent to the light.
func (t Twin) CanBeControlled() bool {
	return t.Connectivity.IsConnected
}

// Apply applies a control delta: power first, then brightness, then colour.
// On the first failure the original twin is returned with the error.
func (t Twin) Apply(d Delta, now time.Time) (Twin, error) {
	if d.IsEmpty() {
		return t, fmt.Errorf("%w: nothing to change", ErrInvalidDelta)
	}

	out := t
	if d.On != nil {
		if *d.On {
			out = out.TurnOn(now)
		} else {
			out = out.TurnOff(now)
		}
	}

	var err error
	if d.Brightness != nil {
		if out, err = out.SetBrightness(*d.Brightness, now); err != nil {
			return t, err
		}
	}

	if d.Color != nil {
		if out, err = out.applyColor(*d.Color, now); err != nil {
			return t, err
		}
	}
	return out, nil
}

func (t Twin) applyColor(c ColorCommand, now time.Time) (Twin, error) {
	switch c.Mode {
	case ColorModeRGB:
		if c.RGB == nil {
			return t, fmt.Errorf("%w: rgb mode without rgb value", ErrInvalidDelta)
		}
		return t.SetRGBColor(c.RGB.R, c.RGB.G, c.RGB.B, now)
	case ColorModeTemperature:
		if c.Temperature == nil {
			return t, fmt.Errorf("%w: temperature mode without temperature value", ErrInvalidDelta)
		}
		return t.SetTemperature(*c.Temperature, now)
	default:
		return t, fmt.Errorf("%w: unknown colour mode %q", ErrInvalidDelta, c.Mode)
	}
}

// Rename changes the user-facing name.
func (t Twin) Rename(name string, now time.Time) (Twin, error) {
	name = strings.TrimSpace(name)
	if err := validateName(name); err != nil {
		return t, err
	}
	t.Descriptor.Name = name
	return t.touch(now), nil
}

// UpdateDescriptor changes metadata only; light state is untouched.
func (t Twin) UpdateDescriptor(u DescriptorUpdate, now time.Time) (Twin, error) {
	out := t
	if u.Name != nil {
		var err error
		if out, err = out.Rename(*u.Name, now); err != nil {
			return t, err
		}
	}
	if u.Type != nil {
		out.Descriptor.Type = *u.Type
	}
	if u.Model != nil {
		out.Descriptor.Model = *u.Model
	}
	if u.HabitatType != nil {
		out.Descriptor.HabitatType = *u.HabitatType
	}
	if u.Network != nil {
		out.Network = *u.Network
	}
	return out.touch(now), nil
}

// SetFirmwareVersion records the firmware a device reports.
func (t Twin) SetFirmwareVersion(v string, now time.Time) Twin {
	t.Descriptor.FirmwareVersion = v
	return t.touch(now)
}

// WithPending marks d as issued but not yet confirmed by the device.
func (t Twin) WithPending(d Delta, now time.Time) Twin {
	t.Pending = &PendingCommand{Delta: d, IssuedAt: now.UTC()}
	return t.touch(now)
}

// Confirm records the current State as device-confirmed and drops any
// pending overlay.
func (t Twin) Confirm(now time.Time) Twin {
	confirmed := t.State
	t.Confirmed = &confirmed
	t.Pending = nil
	return t.touch(now)
}
