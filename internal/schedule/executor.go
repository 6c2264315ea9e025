package schedule

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MarcoCaamal/SIAMP-G-Server-sub000/internal/device"
	"github.com/MarcoCaamal/SIAMP-G-Server-sub000/internal/failure"
	"github.com/MarcoCaamal/SIAMP-G-Server-sub000/internal/infrastructure/metrics"
)

// Controller applies a control delta on behalf of an owner.
// *control.Service satisfies it.
type Controller interface {
	Control(ctx context.Context, ownerID, deviceID string, delta device.Delta) (device.Twin, error)
}

// Recorder counts executor outcomes. *metrics.Metrics satisfies it.
type Recorder interface {
	ScheduleExecuted(result string)
}

type noopRecorder struct{}

func (noopRecorder) ScheduleExecuted(string) {}

// Default executor timing.
const (
	DefaultTickInterval = 20 * time.Second
	DefaultGraceWindow  = 5 * time.Minute
)

// Executor fires due schedules through the control service.
//
// A slot fires at most once: after a successful firing, or a failure
// that retrying cannot fix, the slot is recorded as executed. Transient
// failures (device offline, broker unreachable, write conflicts) leave
// the slot open so later ticks inside the grace window try again.
type Executor struct {
	repo     Repository
	control  Controller
	interval time.Duration
	grace    time.Duration
	metrics  Recorder
	logger   Logger
	now      func() time.Time
}

// NewExecutor creates an executor ticking every interval and firing slots
// up to grace late. Non-positive values take the defaults.
func NewExecutor(repo Repository, control Controller, interval, grace time.Duration, logger Logger) *Executor {
	if logger == nil {
		logger = noopLogger{}
	}
	if interval <= 0 {
		interval = DefaultTickInterval
	}
	if grace <= 0 {
		grace = DefaultGraceWindow
	}
	return &Executor{
		repo:     repo,
		control:  control,
		interval: interval,
		grace:    grace,
		metrics:  noopRecorder{},
		logger:   logger,
		now:      time.Now,
	}
}

// SetRecorder sets the metrics recorder.
func (e *Executor) SetRecorder(rec Recorder) {
	if rec != nil {
		e.metrics = rec
	}
}

// Tick fires every schedule due at now and returns how many fired
// successfully. One schedule's failure does not stop the others.
func (e *Executor) Tick(ctx context.Context, now time.Time) (int, error) {
	schedules, err := e.repo.FindForExecution(ctx)
	if err != nil {
		return 0, fmt.Errorf("listing active schedules: %w", err)
	}

	fired := 0
	for _, s := range schedules {
		if ctx.Err() != nil {
			return fired, ctx.Err()
		}
		slot, due := DueSlot(s, now, e.grace)
		if !due {
			continue
		}
		if e.fire(ctx, s, slot, now) {
			fired++
		}
	}
	return fired, nil
}

// fire runs one due slot and reports whether the control call succeeded.
func (e *Executor) fire(ctx context.Context, s Schedule, slot, now time.Time) bool {
	_, err := e.control.Control(ctx, s.OwnerID, s.DeviceID, s.Action.Delta())
	if err != nil {
		f := failure.As(err)
		if retryable(f) {
			e.metrics.ScheduleExecuted(metrics.ResultFailed)
			e.logger.Warn("scheduled action failed, will retry",
				"schedule_id", s.ID, "device_id", s.DeviceID, "slot", slot, "code", f.Code, "error", err)
			return false
		}
		e.metrics.ScheduleExecuted(metrics.ResultRejected)
		e.logger.Error("scheduled action rejected",
			"schedule_id", s.ID, "device_id", s.DeviceID, "slot", slot, "code", f.Code, "error", err)
	} else {
		e.metrics.ScheduleExecuted(metrics.ResultOK)
		e.logger.Info("schedule executed",
			"schedule_id", s.ID, "device_id", s.DeviceID, "slot", slot, "state", s.Action.State)
	}

	e.record(ctx, s, slot, now)
	return err == nil
}

// record stores the execution of slot. A once schedule is deactivated.
func (e *Executor) record(ctx context.Context, s Schedule, slot, now time.Time) {
	executed := s.MarkAsExecuted(now, nil)
	if s.Recurrence.Type == RecurrenceOnce {
		executed.Status = StatusInactive
	} else if next, ok := NextOccurrence(executed, slot); ok {
		executed.NextExecutionAt = &next
	}

	err := e.repo.Update(ctx, executed)
	switch {
	case err == nil:
	case errors.Is(err, ErrScheduleNotFound):
		e.logger.Debug("schedule deleted while executing", "schedule_id", s.ID)
	default:
		e.logger.Error("recording schedule execution failed", "schedule_id", s.ID, "error", err)
	}
}

func retryable(f *failure.Failure) bool {
	switch f.Code {
	case failure.CodeOffline, failure.CodeCommunicationError, failure.CodeConflict, failure.CodeInternal:
		return true
	default:
		return false
	}
}

// Run ticks until ctx is cancelled.
func (e *Executor) Run(ctx context.Context) {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	e.logger.Info("schedule executor started", "tick", e.interval, "grace", e.grace)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := e.Tick(ctx, e.now().UTC()); err != nil && ctx.Err() == nil {
				e.logger.Error("schedule tick failed", "error", err)
			}
		}
	}
}
