package mqtt

import "strings"

// DefaultTopicPrefix is the root of every light topic when none is configured.
const DefaultTopicPrefix = "lights"

// Device channel names, the last segment of a device topic.
const (
	ChannelCommand   = "command"
	ChannelState     = "state"
	ChannelHeartbeat = "heartbeat"
)

// Topics builds the per-device topic tree:
//
//	{prefix}/{deviceId}/command    server -> device
//	{prefix}/{deviceId}/state      device -> server
//	{prefix}/{deviceId}/heartbeat  device -> server
//	{prefix}/$server/status        server presence (retained, LWT)
//
// The zero value uses DefaultTopicPrefix.
type Topics struct {
	Prefix string
}

// NewTopics returns a Topics rooted at prefix, trimming stray slashes.
func NewTopics(prefix string) Topics {
	return Topics{Prefix: strings.Trim(prefix, "/")}
}

func (t Topics) root() string {
	if t.Prefix == "" {
		return DefaultTopicPrefix
	}
	return t.Prefix
}

func (t Topics) device(deviceID, channel string) string {
	return t.root() + "/" + deviceID + "/" + channel
}

// DeviceCommand returns the command channel of a device.
//
// Example: lights/lamp-01/command
func (t Topics) DeviceCommand(deviceID string) string {
	return t.device(deviceID, ChannelCommand)
}

// DeviceState returns the state-report channel of a device.
//
// Example: lights/lamp-01/state
func (t Topics) DeviceState(deviceID string) string {
	return t.device(deviceID, ChannelState)
}

// DeviceHeartbeat returns the heartbeat channel of a device.
//
// Example: lights/lamp-01/heartbeat
func (t Topics) DeviceHeartbeat(deviceID string) string {
	return t.device(deviceID, ChannelHeartbeat)
}

// AllDeviceStates matches the state channel of every device.
//
// Pattern: lights/+/state
func (t Topics) AllDeviceStates() string {
	return t.device("+", ChannelState)
}

// AllDeviceHeartbeats matches the heartbeat channel of every device.
//
// Pattern: lights/+/heartbeat
func (t Topics) AllDeviceHeartbeats() string {
	return t.device("+", ChannelHeartbeat)
}

// ServerStatus is the retained presence topic of this server.
// "$" keeps it clear of the device-id segment matched by "+" wildcards.
//
// Example: lights/$server/status
func (t Topics) ServerStatus() string {
	return t.root() + "/$server/status"
}

// ParseDeviceTopic splits a device topic into its device id and channel.
// It reports false for topics outside the prefix, for an empty device id,
// and for paths with extra segments.
func (t Topics) ParseDeviceTopic(topic string) (deviceID, channel string, ok bool) {
	rest, found := strings.CutPrefix(topic, t.root()+"/")
	if !found {
		return "", "", false
	}
	deviceID, channel, found = strings.Cut(rest, "/")
	if !found || deviceID == "" || channel == "" || strings.Contains(channel, "/") {
		return "", "", false
	}
	return deviceID, channel, true
}
