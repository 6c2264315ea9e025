package schedule

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/MarcoCaamal/SIAMP-G-Server-sub000/internal/device"
	"github.com/MarcoCaamal/SIAMP-G-Server-sub000/internal/failure"
)

// TwinFinder resolves the device a schedule targets.
// device.Repository satisfies it.
type TwinFinder interface {
	FindByDeviceID(ctx context.Context, deviceID string) (device.Twin, error)
}

// Logger is the logging interface used by this package.
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

// Draft is the user-editable part of a schedule.
type Draft struct {
	DeviceID      string     `json:"deviceId"`
	Name          string     `json:"name"`
	ScheduledTime string     `json:"scheduledTime"`
	Timezone      string     `json:"timezone"`
	Action        Action     `json:"scheduledAction"`
	Recurrence    Recurrence `json:"recurrence"`
}

// Service manages schedules on behalf of their owners.
// Errors returned to callers are always *failure.Failure.
type Service struct {
	repo   Repository
	twins  TwinFinder
	logger Logger
	now    func() time.Time
}

// NewService creates a schedule service.
func NewService(repo Repository, twins TwinFinder, logger Logger) *Service {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Service{
		repo:   repo,
		twins:  twins,
		logger: logger,
		now:    time.Now,
	}
}

// Create validates and stores a new active schedule for a device the
// owner has paired.
func (s *Service) Create(ctx context.Context, ownerID string, d Draft) (Schedule, error) {
	if err := s.checkDevice(ctx, ownerID, d.DeviceID); err != nil {
		return Schedule{}, err
	}

	now := s.now().UTC()
	sched := Schedule{
		ID:        uuid.NewString(),
		OwnerID:   ownerID,
		Status:    StatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	sched = d.applyTo(sched)

	if err := sched.Validate(now); err != nil {
		return Schedule{}, failure.Validation(scheduleProblem(err), err)
	}
	if err := s.checkNameFree(ctx, ownerID, sched.Name); err != nil {
		return Schedule{}, err
	}

	sched.NextExecutionAt = nextAfter(sched, now)
	if err := s.repo.Save(ctx, sched); err != nil {
		if errors.Is(err, ErrScheduleExists) {
			return Schedule{}, nameTaken(sched.Name, err)
		}
		return Schedule{}, failure.Internal(err)
	}

	s.logger.Info("schedule created",
		"schedule_id", sched.ID, "device_id", sched.DeviceID, "recurrence", sched.Recurrence.Type)
	return sched, nil
}

// Update replaces the editable fields of an owned schedule. Execution
// bookkeeping is kept; the next execution time is recomputed.
func (s *Service) Update(ctx context.Context, ownerID, id string, d Draft) (Schedule, error) {
	current, err := s.loadOwned(ctx, ownerID, id)
	if err != nil {
		return Schedule{}, err
	}
	if d.DeviceID == "" {
		d.DeviceID = current.DeviceID
	}
	if d.DeviceID != current.DeviceID {
		if err := s.checkDevice(ctx, ownerID, d.DeviceID); err != nil {
			return Schedule{}, err
		}
	}

	now := s.now().UTC()
	updated := d.applyTo(current)
	updated.UpdatedAt = now

	if err := updated.Validate(now); err != nil {
		return Schedule{}, failure.Validation(scheduleProblem(err), err)
	}
	if updated.Name != current.Name {
		if err := s.checkNameFree(ctx, ownerID, updated.Name); err != nil {
			return Schedule{}, err
		}
	}

	updated.NextExecutionAt = nextAfter(updated, now)
	if err := s.repo.Update(ctx, updated); err != nil {
		return Schedule{}, s.storeFailure(id, updated.Name, err)
	}
	return updated, nil
}

// SetStatus activates or deactivates an owned schedule.
func (s *Service) SetStatus(ctx context.Context, ownerID, id string, status Status) (Schedule, error) {
	if status != StatusActive && status != StatusInactive {
		return Schedule{}, failure.Validation(fmt.Sprintf("status %q is not active or inactive", status), nil)
	}
	current, err := s.loadOwned(ctx, ownerID, id)
	if err != nil {
		return Schedule{}, err
	}
	if current.Status == status {
		return current, nil
	}

	now := s.now().UTC()
	current.Status = status
	current.UpdatedAt = now
	if status == StatusActive {
		current.NextExecutionAt = nextAfter(current, now)
	} else {
		current.NextExecutionAt = nil
	}

	if err := s.repo.Update(ctx, current); err != nil {
		return Schedule{}, s.storeFailure(id, current.Name, err)
	}
	s.logger.Info("schedule status changed", "schedule_id", id, "status", status)
	return current, nil
}

// Delete removes an owned schedule.
func (s *Service) Delete(ctx context.Context, ownerID, id string) error {
	if _, err := s.loadOwned(ctx, ownerID, id); err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return s.storeFailure(id, "", err)
	}
	s.logger.Info("schedule deleted", "schedule_id", id)
	return nil
}

// Get returns an owned schedule.
func (s *Service) Get(ctx context.Context, ownerID, id string) (Schedule, error) {
	return s.loadOwned(ctx, ownerID, id)
}

// ListByOwner returns every schedule of ownerID.
func (s *Service) ListByOwner(ctx context.Context, ownerID string) ([]Schedule, error) {
	list, err := s.repo.FindByUserID(ctx, ownerID)
	if err != nil {
		return nil, failure.Internal(err)
	}
	return list, nil
}

func (s *Service) loadOwned(ctx context.Context, ownerID, id string) (Schedule, error) {
	sched, err := s.repo.FindByID(ctx, id)
	switch {
	case errors.Is(err, ErrScheduleNotFound):
		return Schedule{}, failure.NotFound(fmt.Sprintf("schedule %s not found", id))
	case err != nil:
		return Schedule{}, failure.Internal(err)
	}
	if sched.OwnerID != ownerID {
		return Schedule{}, failure.Unauthorized(fmt.Sprintf("schedule %s belongs to another user", id))
	}
	return sched, nil
}

func (s *Service) checkDevice(ctx context.Context, ownerID, deviceID string) error {
	if strings.TrimSpace(deviceID) == "" {
		return failure.Validation("deviceId is required", nil)
	}
	twin, err := s.twins.FindByDeviceID(ctx, deviceID)
	switch {
	case errors.Is(err, device.ErrTwinNotFound):
		return failure.NotFound(fmt.Sprintf("device %s not found", deviceID))
	case err != nil:
		return failure.Internal(err)
	}
	if twin.OwnerID != ownerID {
		return failure.Unauthorized(fmt.Sprintf("device %s belongs to another user", deviceID))
	}
	return nil
}

func (s *Service) checkNameFree(ctx context.Context, ownerID, name string) error {
	taken, err := s.repo.ExistsByUserIDAndName(ctx, ownerID, name)
	if err != nil {
		return failure.Internal(err)
	}
	if taken {
		return nameTaken(name, ErrScheduleExists)
	}
	return nil
}

func (s *Service) storeFailure(id, name string, err error) error {
	switch {
	case errors.Is(err, ErrScheduleNotFound):
		return failure.NotFound(fmt.Sprintf("schedule %s not found", id))
	case errors.Is(err, ErrScheduleExists):
		return nameTaken(name, err)
	default:
		return failure.Internal(err)
	}
}

// applyTo copies the draft's fields onto s. An empty timezone means UTC.
func (d Draft) applyTo(s Schedule) Schedule {
	s.DeviceID = d.DeviceID
	s.Name = strings.TrimSpace(d.Name)
	s.ScheduledTime = d.ScheduledTime
	s.Timezone = d.Timezone
	if s.Timezone == "" {
		s.Timezone = "UTC"
	}
	s.Action = d.Action
	s.Recurrence = d.Recurrence
	return s
}

func nextAfter(s Schedule, now time.Time) *time.Time {
	if !s.IsActive() {
		return nil
	}
	next, ok := NextOccurrence(s, now)
	if !ok {
		return nil
	}
	return &next
}

func nameTaken(name string, err error) error {
	return failure.Wrap(failure.CodeConflict, fmt.Sprintf("a schedule named %q already exists", name), err)
}

// scheduleProblem strips the sentinel prefix for the client message.
func scheduleProblem(err error) string {
	msg := err.Error()
	if rest, ok := strings.CutPrefix(msg, ErrInvalidSchedule.Error()+": "); ok {
		return rest
	}
	return msg
}
