package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MarcoCaamal/SIAMP-G-Server-sub000/internal/device"
)

// Watchdog marks twins offline when no event has arrived within the
// liveness threshold.
type Watchdog struct {
	repo      device.Repository
	threshold time.Duration
	interval  time.Duration
	notifier  Notifier
	telemetry Telemetry
	metrics   Recorder
	logger    Logger
	now       func() time.Time
}

// NewWatchdog creates a watchdog sweeping every interval. A threshold of
// zero or less makes Sweep a no-op.
func NewWatchdog(repo device.Repository, threshold, interval time.Duration, logger Logger) *Watchdog {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Watchdog{
		repo:      repo,
		threshold: threshold,
		interval:  interval,
		metrics:   noopRecorder{},
		logger:    logger,
		now:       time.Now,
	}
}

// SetNotifier sets the change notifier.
func (w *Watchdog) SetNotifier(n Notifier) { w.notifier = n }

// SetTelemetry sets the time-series sink.
func (w *Watchdog) SetTelemetry(t Telemetry) { w.telemetry = t }

// SetRecorder sets the metrics recorder.
func (w *Watchdog) SetRecorder(rec Recorder) {
	if rec != nil {
		w.metrics = rec
	}
}

// Sweep flips every connected, stale twin offline and returns how many
// were flipped. A twin written concurrently is skipped; the next sweep
// looks at it again.
func (w *Watchdog) Sweep(ctx context.Context, now time.Time) (int, error) {
	if w.threshold <= 0 {
		return 0, nil
	}

	twins, err := w.repo.FindConnected(ctx)
	if err != nil {
		return 0, fmt.Errorf("listing connected twins: %w", err)
	}

	flipped := 0
	for _, t := range twins {
		if !t.IsStale(now, w.threshold) {
			continue
		}

		saved, err := w.repo.Update(ctx, t.SetConnectionStatus(false, now))
		switch {
		case err == nil:
		case errors.Is(err, device.ErrConflict), errors.Is(err, device.ErrTwinNotFound):
			w.logger.Debug("twin changed during sweep, skipping", "device_id", t.DeviceID)
			continue
		default:
			return flipped, fmt.Errorf("marking %s offline: %w", t.DeviceID, err)
		}

		flipped++
		w.metrics.TwinMarkedOffline()
		w.logger.Info("device marked offline",
			"device_id", t.DeviceID, "last_connected_at", t.Connectivity.LastConnectedAt)
		if w.notifier != nil {
			w.notifier.TwinUpdated(saved)
		}
		if w.telemetry != nil {
			w.telemetry.WriteConnectivity(t.DeviceID, false, now)
		}
	}
	return flipped, nil
}

// Run sweeps on every tick until ctx is cancelled.
func (w *Watchdog) Run(ctx context.Context) {
	if w.threshold <= 0 || w.interval <= 0 {
		w.logger.Info("liveness watchdog disabled")
		return
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := w.Sweep(ctx, w.now().UTC()); err != nil && ctx.Err() == nil {
				w.logger.Error("liveness sweep failed", "error", err)
			}
		}
	}
}
