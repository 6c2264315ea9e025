// Package reconcile applies asynchronous device events to twins.
//
// State reports and heartbeats arrive on the device event channels,
// possibly duplicated and out of order. The Reconciler drops events from
// unknown devices, drops state reports older than the twin's watermark,
// applies the rest and persists with a version compare-and-swap. A stale
// heartbeat still counts as liveness. Nothing is ever returned to the
// transport: a device cannot receive an error response.
//
// The Watchdog is the other half of liveness: it flips twins offline when
// they stop sending events.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MarcoCaamal/SIAMP-G-Server-sub000/internal/device"
	"github.com/MarcoCaamal/SIAMP-G-Server-sub000/internal/infrastructure/metrics"
	"github.com/MarcoCaamal/SIAMP-G-Server-sub000/internal/infrastructure/mqtt"
)

// Event kinds, used in logs and metrics.
const (
	KindState     = "state"
	KindHeartbeat = "heartbeat"
)

// messageTimeout bounds the repository work done for one inbound message.
const messageTimeout = 10 * time.Second

const defaultConflictRetries = 3

// Notifier is told about every twin the reconciler persists.
type Notifier interface {
	TwinUpdated(t device.Twin)
}

// Telemetry receives reconciled state for time-series storage.
// *influxdb.Client satisfies it.
type Telemetry interface {
	WriteTwinState(t device.Twin, at time.Time)
	WriteConnectivity(deviceID string, connected bool, at time.Time)
}

// Recorder counts event outcomes. *metrics.Metrics satisfies it.
type Recorder interface {
	EventReceived(kind, result string)
	TwinMarkedOffline()
}

// Logger is the logging interface used by the reconciler.
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

func (noopRecorder) EventReceived(string, string) {}
func (noopRecorder) TwinMarkedOffline()           {}

// Options configures the reconciler.
type Options struct {
	// DedupWindow suppresses identical redelivered messages. Zero disables it.
	DedupWindow time.Duration

	// ConflictRetries bounds reload-and-reapply after a version conflict.
	ConflictRetries int

	// Now is the clock; nil means time.Now.
	Now func() time.Time
}

// Reconciler applies device events to twins.
//
// Thread Safety: safe for concurrent use from MQTT handler goroutines.
type Reconciler struct {
	repo      device.Repository
	topics    mqtt.Topics
	dedup     *Deduper
	opts      Options
	notifier  Notifier
	telemetry Telemetry
	metrics   Recorder
	logger    Logger
}

// New creates a reconciler.
func New(repo device.Repository, topics mqtt.Topics, opts Options, logger Logger) *Reconciler {
	if logger == nil {
		logger = noopLogger{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.ConflictRetries <= 0 {
		opts.ConflictRetries = defaultConflictRetries
	}
	return &Reconciler{
		repo:    repo,
		topics:  topics,
		dedup:   NewDeduper(opts.DedupWindow, 0),
		opts:    opts,
		metrics: noopRecorder{},
		logger:  logger,
	}
}

// SetNotifier sets the change notifier.
func (r *Reconciler) SetNotifier(n Notifier) { r.notifier = n }

// SetTelemetry sets the time-series sink.
func (r *Reconciler) SetTelemetry(t Telemetry) { r.telemetry = t }

// SetRecorder sets the metrics recorder.
func (r *Reconciler) SetRecorder(rec Recorder) {
	if rec != nil {
		r.metrics = rec
	}
}

func (r *Reconciler) now() time.Time {
	return r.opts.Now().UTC()
}

// HandleMessage is the MQTT handler for the state and heartbeat channels.
// It always returns nil; failures are logged and counted.
func (r *Reconciler) HandleMessage(topic string, payload []byte) error {
	deviceID, channel, ok := r.topics.ParseDeviceTopic(topic)
	if !ok {
		r.logger.Warn("ignoring message on unexpected topic", "topic", topic)
		return nil
	}
	if channel != mqtt.ChannelState && channel != mqtt.ChannelHeartbeat {
		r.logger.Debug("ignoring message on non-event channel", "topic", topic)
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), messageTimeout)
	defer cancel()

	if !r.dedup.ShouldProcess(topic, payload, r.now()) && !r.awaitingConfirmation(ctx, channel, deviceID) {
		r.logger.Debug("duplicate message suppressed", "topic", topic)
		r.metrics.EventReceived(channel, metrics.ResultDropped)
		return nil
	}

	var err error
	switch channel {
	case mqtt.ChannelState:
		var report StateReport
		if report, err = DecodeStateReport(payload); err == nil {
			err = r.OnStateReport(ctx, deviceID, report)
		}
	case mqtt.ChannelHeartbeat:
		var hb Heartbeat
		if hb, err = DecodeHeartbeat(payload); err == nil {
			err = r.OnHeartbeat(ctx, deviceID, hb)
		}
	}

	if err != nil {
		if retryable(err) {
			r.dedup.Forget(topic, payload)
		}
		r.logger.Warn("device event dropped", "device_id", deviceID, "kind", channel, "error", err)
	}
	return nil
}

// awaitingConfirmation reports whether a repeated state report must still
// be applied because the twin carries a pending command overlay. A device
// that echoes its unchanged state is confirming, not redelivering.
func (r *Reconciler) awaitingConfirmation(ctx context.Context, channel, deviceID string) bool {
	if channel != mqtt.ChannelState {
		return false
	}
	twin, err := r.repo.FindByDeviceID(ctx, deviceID)
	return err == nil && twin.Pending != nil
}

// retryable reports whether a failed event may succeed if redelivered.
// Unknown devices, stale events and rejected payloads never will.
func retryable(err error) bool {
	switch {
	case errors.Is(err, ErrUnknownDevice), errors.Is(err, ErrStaleEvent),
		errors.Is(err, ErrInvalidReport), errors.Is(err, device.ErrOutOfRange):
		return false
	}
	return true
}

// OnStateReport applies a state report to the device's twin.
//
// Returns:
//   - error: nil when applied, or:
//   - ErrUnknownDevice if no twin exists
//   - ErrStaleEvent if the report is older than the watermark
//   - ErrInvalidReport or device.ErrOutOfRange if a field is rejected
//   - a wrapped repository error if persisting failed
func (r *Reconciler) OnStateReport(ctx context.Context, deviceID string, report StateReport) error {
	now := r.now()
	saved, err := r.reconcile(ctx, deviceID, report.Seq, report.Timestamp, func(t device.Twin, fresh bool) (device.Twin, error) {
		if !fresh {
			return device.Twin{}, fmt.Errorf("%w: %s below watermark %d", ErrStaleEvent, deviceID, t.Watermark.Sequence)
		}
		return ApplyStateReport(t, report, now)
	})
	r.count(KindState, err)
	if err != nil {
		return err
	}

	if r.telemetry != nil {
		r.telemetry.WriteTwinState(saved, now)
	}
	r.logger.Debug("state report applied", "device_id", deviceID, "version", saved.Version)
	return nil
}

// OnHeartbeat records liveness and firmware from a heartbeat.
//
// Every heartbeat from a paired device marks it connected, even one below
// the watermark; ordering only decides whether the firmware version and
// the watermark move. It never returns ErrStaleEvent, otherwise the same
// errors as OnStateReport.
func (r *Reconciler) OnHeartbeat(ctx context.Context, deviceID string, hb Heartbeat) error {
	now := r.now()
	var wasConnected, stale bool
	saved, err := r.reconcile(ctx, deviceID, hb.Seq, hb.Timestamp, func(t device.Twin, fresh bool) (device.Twin, error) {
		wasConnected, stale = t.Connectivity.IsConnected, !fresh
		return ApplyHeartbeat(t, hb, now, fresh), nil
	})
	r.count(KindHeartbeat, err)
	if err != nil {
		return err
	}

	if !wasConnected {
		r.logger.Info("device came online", "device_id", deviceID)
	}
	if r.telemetry != nil {
		r.telemetry.WriteConnectivity(deviceID, true, now)
	}
	r.logger.Debug("heartbeat applied", "device_id", deviceID, "version", saved.Version, "stale", stale)
	return nil
}

// reconcile loads the twin, admits the event against its watermark and
// persists apply's result, reloading and re-admitting on version
// conflicts. apply learns whether the event is fresh; for a fresh event
// the twin's watermark is already rebased after a counter reset.
func (r *Reconciler) reconcile(ctx context.Context, deviceID string, seq *uint64, at *time.Time, apply func(t device.Twin, fresh bool) (device.Twin, error)) (device.Twin, error) {
	var lastErr error
	for attempt := 0; attempt <= r.opts.ConflictRetries; attempt++ {
		twin, err := r.repo.FindByDeviceID(ctx, deviceID)
		if err != nil {
			if errors.Is(err, device.ErrTwinNotFound) {
				return device.Twin{}, fmt.Errorf("%w: %s", ErrUnknownDevice, deviceID)
			}
			return device.Twin{}, fmt.Errorf("loading twin %s: %w", deviceID, err)
		}

		// Re-checked on every attempt: a fresher event may have won the race.
		base, fresh := twin.Watermark.Admit(seq, at)
		if fresh {
			twin.Watermark = base
		}

		next, err := apply(twin, fresh)
		if err != nil {
			return device.Twin{}, err
		}

		saved, err := r.repo.Update(ctx, next)
		switch {
		case err == nil:
			r.notify(saved)
			return saved, nil
		case errors.Is(err, device.ErrConflict):
			lastErr = err
		case errors.Is(err, device.ErrTwinNotFound):
			// Unpaired while we were applying.
			return device.Twin{}, fmt.Errorf("%w: %s", ErrUnknownDevice, deviceID)
		default:
			return device.Twin{}, fmt.Errorf("saving twin %s: %w", deviceID, err)
		}
	}
	return device.Twin{}, fmt.Errorf("saving twin %s after %d attempts: %w", deviceID, r.opts.ConflictRetries+1, lastErr)
}

func (r *Reconciler) notify(t device.Twin) {
	if r.notifier != nil {
		r.notifier.TwinUpdated(t)
	}
}

func (r *Reconciler) count(kind string, err error) {
	switch {
	case err == nil:
		r.metrics.EventReceived(kind, metrics.ResultOK)
	case errors.Is(err, ErrUnknownDevice), errors.Is(err, ErrStaleEvent):
		r.metrics.EventReceived(kind, metrics.ResultDropped)
	case errors.Is(err, ErrInvalidReport), errors.Is(err, device.ErrOutOfRange):
		r.metrics.EventReceived(kind, metrics.ResultRejected)
	default:
		r.metrics.EventReceived(kind, metrics.ResultFailed)
	}
}

// Subscribe registers the reconciler on every device's state and heartbeat
// channel.
func (r *Reconciler) Subscribe(sub Subscriber, qos byte) error {
	for _, topic := range []string{r.topics.AllDeviceStates(), r.topics.AllDeviceHeartbeats()} {
		if err := sub.Subscribe(topic, qos, r.HandleMessage); err != nil {
			return fmt.Errorf("subscribing to %s: %w", topic, err)
		}
	}
	return nil
}

// Subscriber is the broker operation Subscribe needs. *mqtt.Client satisfies it.
type Subscriber interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
}
