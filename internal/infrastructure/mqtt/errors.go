package mqtt

import "errors"

// Broker link failures. Command dispatch retries these.
var (
	ErrNotConnected     = errors.New("mqtt: broker link down")
	ErrConnectionFailed = errors.New("mqtt: cannot reach light broker")
	ErrPublishFailed    = errors.New("mqtt: broker did not acknowledge publish")

	ErrSubscribeFailed   = errors.New("mqtt: device channel subscription refused")
	ErrUnsubscribeFailed = errors.New("mqtt: device channel unsubscribe refused")
)

// Argument errors, returned before anything reaches the broker. Command
// dispatch never retries them.
var (
	ErrInvalidQoS   = errors.New("mqtt: qos outside 0..2")
	ErrInvalidTopic = errors.New("mqtt: empty topic")
)
