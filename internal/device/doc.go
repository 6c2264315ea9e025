// Package device models the device twin: the server's record of a paired
// smart light.
//
// A Twin holds declared identity (Descriptor, Network), connectivity, and
// light state. State changes go through pure transitions that validate
// their input and return a new Twin:
//
//	next, err := twin.Apply(delta, now)
//	if errors.Is(err, device.ErrOutOfRange) { ... }
//
// Brightness, RGB and colour temperature are rejected when out of range,
// never clamped. ColorState is a two-variant type; only the active mode's
// value is observable through RGB() and Temperature().
//
// Commands leave a Pending overlay; a device state report sets Confirmed
// and clears it. Watermark orders device events, and IsStale decides
// liveness from LastConnectedAt.
//
// Persistence goes through Repository. SQLiteRepository enforces
// optimistic concurrency on Version.
package device
