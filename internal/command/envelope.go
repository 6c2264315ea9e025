package command

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/MarcoCaamal/SIAMP-G-Server-sub000/internal/device"
)

// Action names a command understood by the device firmware.
type Action string

const (
	ActionPair      Action = "pair"
	ActionControl   Action = "control"
	ActionUnpair    Action = "unpair"
	ActionGetStatus Action = "get_status"
)

// Valid reports whether a is part of the command protocol.
func (a Action) Valid() bool {
	switch a {
	case ActionPair, ActionControl, ActionUnpair, ActionGetStatus:
		return true
	}
	return false
}

// Reserved envelope keys. A payload cannot override them.
const (
	keyAction    = "action"
	keyTimestamp = "timestamp"
)

// Envelope encodes {action, ...payload, timestamp}.
func Envelope(action Action, payload map[string]any, issuedAt time.Time) ([]byte, error) {
	msg := make(map[string]any, len(payload)+2)
	for k, v := range payload {
		msg[k] = v
	}
	msg[keyAction] = string(action)
	msg[keyTimestamp] = issuedAt.UTC().Format(time.RFC3339)

	body, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encoding %s envelope: %w", action, err)
	}
	return body, nil
}

// ControlPayload renders a delta in the control wire format:
//
//	{"on"?: bool, "brightness"?: int, "color"?: {"mode", "rgb"?: {r,g,b}, "temperature"?: int}}
func ControlPayload(d device.Delta) map[string]any {
	payload := make(map[string]any, 3)
	if d.On != nil {
		payload["on"] = *d.On
	}
	if d.Brightness != nil {
		payload["brightness"] = *d.Brightness
	}
	if c := d.Color; c != nil {
		color := map[string]any{"mode": string(c.Mode)}
		if c.RGB != nil {
			color["rgb"] = *c.RGB
		}
		if c.Temperature != nil {
			color["temperature"] = *c.Temperature
		}
		payload["color"] = color
	}
	return payload
}
