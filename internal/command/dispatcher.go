package command

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"

	"github.com/MarcoCaamal/SIAMP-G-Server-sub000/internal/device"
	"github.com/MarcoCaamal/SIAMP-G-Server-sub000/internal/infrastructure/config"
	"github.com/MarcoCaamal/SIAMP-G-Server-sub000/internal/infrastructure/metrics"
	"github.com/MarcoCaamal/SIAMP-G-Server-sub000/internal/infrastructure/mqtt"
)

// Publisher is the broker operation the dispatcher needs. *mqtt.Client
// satisfies it; its Publish already waits at most the publish timeout.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// Recorder receives dispatch outcomes. *metrics.Metrics satisfies it.
type Recorder interface {
	CommandDispatched(action, result string)
	BreakerStateChanged(state string)
}

// Logger is the logging interface used by the dispatcher.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

type noopRecorder struct{}

func (noopRecorder) CommandDispatched(string, string) {}
func (noopRecorder) BreakerStateChanged(string)       {}

// Options bound the effort spent on one dispatch.
type Options struct {
	QoS byte

	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int

	InitialInterval time.Duration
	MaxInterval     time.Duration

	// BreakerFailures consecutive failed dispatches open the circuit for
	// BreakerOpen. Zero disables the breaker.
	BreakerFailures int
	BreakerOpen     time.Duration
}

// OptionsFromConfig maps the mqtt section onto dispatch options.
func OptionsFromConfig(cfg config.MQTTConfig) Options {
	return Options{
		QoS:             byte(cfg.QoS), //nolint:gosec // validated 0..2 by config
		MaxRetries:      cfg.Publish.MaxRetries,
		InitialInterval: time.Duration(cfg.Publish.InitialInterval) * time.Millisecond,
		MaxInterval:     time.Duration(cfg.Publish.MaxInterval) * time.Millisecond,
		BreakerFailures: cfg.Publish.BreakerFailures,
		BreakerOpen:     time.Duration(cfg.Publish.BreakerOpenSeconds) * time.Second,
	}
}

// Dispatcher publishes command envelopes to device command channels.
//
// Thread Safety: all methods are safe for concurrent use.
type Dispatcher struct {
	pub     Publisher
	topics  mqtt.Topics
	opts    Options
	breaker *gobreaker.CircuitBreaker
	metrics Recorder
	logger  Logger
	now     func() time.Time
}

// NewDispatcher creates a dispatcher.
//
// Parameters:
//   - pub: Broker publisher, normally *mqtt.Client
//   - topics: Topic builder for the configured prefix
//   - opts: Retry and breaker bounds
//   - rec: Outcome recorder (may be nil)
//   - logger: Logger instance (may be nil)
func NewDispatcher(pub Publisher, topics mqtt.Topics, opts Options, rec Recorder, logger Logger) *Dispatcher {
	if logger == nil {
		logger = noopLogger{}
	}
	if rec == nil {
		rec = noopRecorder{}
	}
	d := &Dispatcher{
		pub:     pub,
		topics:  topics,
		opts:    opts,
		metrics: rec,
		logger:  logger,
		now:     time.Now,
	}
	d.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "mqtt-dispatch",
		Timeout: opts.BreakerOpen,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return opts.BreakerFailures > 0 && c.ConsecutiveFailures >= uint32(opts.BreakerFailures) //nolint:gosec // small positive config value
		},
		IsSuccessful: func(err error) bool {
			// A caller giving up says nothing about the broker.
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			d.logger.Warn("dispatch circuit breaker state changed",
				"breaker", name, "from", from.String(), "to", to.String())
			d.metrics.BreakerStateChanged(to.String())
		},
	})
	return d
}

// Dispatch publishes {action, ...payload, timestamp} to the device's
// command channel.
//
// Returns:
//   - error: nil once the broker accepted the message, or:
//   - ErrInvalidDevice / ErrUnknownAction (never retried)
//   - ErrDispatchFailed wrapping the last publish error
func (d *Dispatcher) Dispatch(ctx context.Context, deviceID string, action Action, payload map[string]any) error {
	if deviceID == "" {
		d.metrics.CommandDispatched(string(action), metrics.ResultRejected)
		return ErrInvalidDevice
	}
	if !action.Valid() {
		d.metrics.CommandDispatched(string(action), metrics.ResultRejected)
		return fmt.Errorf("%w: %q", ErrUnknownAction, action)
	}

	body, err := Envelope(action, payload, d.now())
	if err != nil {
		d.metrics.CommandDispatched(string(action), metrics.ResultRejected)
		return err
	}
	topic := d.topics.DeviceCommand(deviceID)

	_, err = d.breaker.Execute(func() (any, error) {
		return nil, d.publishWithRetry(ctx, topic, body)
	})
	if err != nil {
		d.metrics.CommandDispatched(string(action), metrics.ResultFailed)
		d.logger.Warn("command dispatch failed",
			"device_id", deviceID, "action", string(action), "error", err)
		return fmt.Errorf("%w: %s to %s: %w", ErrDispatchFailed, action, deviceID, err)
	}

	d.metrics.CommandDispatched(string(action), metrics.ResultOK)
	d.logger.Debug("command dispatched", "device_id", deviceID, "action", string(action), "topic", topic)
	return nil
}

func (d *Dispatcher) publishWithRetry(ctx context.Context, topic string, body []byte) error {
	bo := backoff.NewExponentialBackOff()
	if d.opts.InitialInterval > 0 {
		bo.InitialInterval = d.opts.InitialInterval
	}
	if d.opts.MaxInterval > 0 {
		bo.MaxInterval = d.opts.MaxInterval
	}
	// The retry count is the budget, not elapsed time.
	bo.MaxElapsedTime = 0

	retries := d.opts.MaxRetries
	if retries < 0 {
		retries = 0
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(bo, uint64(retries)), ctx)

	attempt := 0
	return backoff.Retry(func() error {
		attempt++
		err := d.pub.Publish(topic, body, d.opts.QoS, false)
		if err == nil {
			return nil
		}
		if errors.Is(err, mqtt.ErrInvalidTopic) || errors.Is(err, mqtt.ErrInvalidQoS) {
			return backoff.Permanent(err)
		}
		d.logger.Debug("publish attempt failed", "topic", topic, "attempt", attempt, "error", err)
		return err
	}, policy)
}

// Pair tells a device which user now owns it.
func (d *Dispatcher) Pair(ctx context.Context, deviceID, userID string) error {
	return d.Dispatch(ctx, deviceID, ActionPair, map[string]any{"userId": userID})
}

// Control sends a control delta.
func (d *Dispatcher) Control(ctx context.Context, deviceID string, delta device.Delta) error {
	return d.Dispatch(ctx, deviceID, ActionControl, ControlPayload(delta))
}

// Unpair tells a device it no longer has an owner.
func (d *Dispatcher) Unpair(ctx context.Context, deviceID string) error {
	return d.Dispatch(ctx, deviceID, ActionUnpair, nil)
}

// GetStatus asks a device to publish a state report.
func (d *Dispatcher) GetStatus(ctx context.Context, deviceID string) error {
	return d.Dispatch(ctx, deviceID, ActionGetStatus, nil)
}

// BreakerState reports the circuit breaker state ("closed", "half-open", "open").
func (d *Dispatcher) BreakerState() string {
	return d.breaker.State().String()
}
