// Package control orchestrates user-initiated operations on paired lights.
//
// Every operation loads the twin fresh from the repository, checks
// preconditions, talks to the device through the command dispatcher where
// needed, and persists the resulting twin with a version compare-and-swap.
// Errors returned to callers are always *failure.Failure.
package control

import (
	"context"
	"errors"
	"time"

	"github.com/MarcoCaamal/SIAMP-G-Server-sub000/internal/device"
	"github.com/MarcoCaamal/SIAMP-G-Server-sub000/internal/failure"
)

// Dispatcher sends commands to devices. *command.Dispatcher satisfies it.
type Dispatcher interface {
	Pair(ctx context.Context, deviceID, userID string) error
	Control(ctx context.Context, deviceID string, delta device.Delta) error
	Unpair(ctx context.Context, deviceID string) error
	GetStatus(ctx context.Context, deviceID string) error
}

// Notifier is told about every twin change the service persists.
type Notifier interface {
	TwinUpdated(t device.Twin)
	TwinDeleted(ownerID, deviceID string)
}

// Logger is the logging interface used by the service.
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

// defaultConflictRetries is how many times a persist is retried after a
// version conflict before giving up with CONFLICT.
const defaultConflictRetries = 3

// Options configures the service.
type Options struct {
	// LivenessThreshold treats a connected twin with no event for this long
	// as offline. Zero disables the check.
	LivenessThreshold time.Duration

	// ConflictRetries bounds reload-and-reapply after a version conflict.
	ConflictRetries int

	// Now is the clock; nil means time.Now.
	Now func() time.Time
}

// Service implements pairing, control and unpairing.
//
// Thread Safety: safe for concurrent use; concurrent writers to the same
// twin are serialised by the repository's version check.
type Service struct {
	repo       device.Repository
	dispatcher Dispatcher
	notifier   Notifier
	opts       Options
	logger     Logger
}

// NewService creates a control service.
//
// Parameters:
//   - repo: Twin repository
//   - dispatcher: Command dispatcher
//   - opts: Liveness and retry settings
//   - logger: Logger instance (may be nil)
func NewService(repo device.Repository, dispatcher Dispatcher, opts Options, logger Logger) *Service {
	if logger == nil {
		logger = noopLogger{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.ConflictRetries <= 0 {
		opts.ConflictRetries = defaultConflictRetries
	}
	return &Service{repo: repo, dispatcher: dispatcher, opts: opts, logger: logger}
}

// SetNotifier sets the change notifier. Call before serving requests.
func (s *Service) SetNotifier(n Notifier) {
	s.notifier = n
}

func (s *Service) now() time.Time {
	return s.opts.Now().UTC()
}

// Pair creates the twin of a new light and tells the device its owner.
//
// The twin is persisted before the pair command is sent; a failed dispatch
// is logged and the pairing stands, since devices also announce themselves
// by heartbeat.
//
// Returns:
//   - device.Twin: The new twin
//   - error: ALREADY_PAIRED, VALIDATION or INTERNAL
func (s *Service) Pair(ctx context.Context, ownerID, deviceID string, d device.Descriptor) (device.Twin, error) {
	exists, err := s.repo.ExistsByDeviceID(ctx, deviceID)
	if err != nil {
		return device.Twin{}, failure.Internal(err)
	}
	if exists {
		return device.Twin{}, failure.AlreadyPaired(deviceID)
	}

	twin, err := device.New(ownerID, deviceID, d, s.now())
	if err != nil {
		return device.Twin{}, failure.Validation(err.Error(), err)
	}

	if err := s.repo.Save(ctx, twin); err != nil {
		if errors.Is(err, device.ErrTwinExists) {
			return device.Twin{}, failure.AlreadyPaired(deviceID)
		}
		return device.Twin{}, failure.Internal(err)
	}
	s.logger.Info("device paired", "device_id", deviceID, "owner_id", ownerID)

	if err := s.dispatcher.Pair(ctx, deviceID, ownerID); err != nil {
		s.logger.Warn("pair command not delivered, waiting for device heartbeat",
			"device_id", deviceID, "error", err)
	}

	s.notifyUpdated(twin)
	return twin, nil
}

// Control applies a delta to a light.
//
// Preconditions are checked in order: the twin exists, belongs to ownerID,
// is connected and not stale, and the delta is in range. Only then is the
// control command published. If the broker accepts it, the predicted state
// is persisted with a pending overlay that the next state report replaces.
//
// Returns:
//   - device.Twin: The twin with the predicted state
//   - error: NOT_FOUND, UNAUTHORIZED, OFFLINE, OUT_OF_RANGE, VALIDATION,
//     COMMUNICATION_ERROR, CONFLICT or INTERNAL
func (s *Service) Control(ctx context.Context, ownerID, deviceID string, delta device.Delta) (device.Twin, error) {
	twin, err := s.loadOwned(ctx, ownerID, deviceID)
	if err != nil {
		return device.Twin{}, err
	}

	now := s.now()
	if !twin.CanBeControlled() || twin.IsStale(now, s.opts.LivenessThreshold) {
		return device.Twin{}, failure.Offline(deviceID)
	}

	// Validate against a copy before anything leaves the server.
	if _, err := twin.Apply(delta, now); err != nil {
		return device.Twin{}, applyFailure(err)
	}

	if err := s.dispatcher.Control(ctx, deviceID, delta); err != nil {
		return device.Twin{}, failure.CommunicationError(err)
	}

	saved, err := s.persist(ctx, ownerID, twin, func(t device.Twin) (device.Twin, error) {
		next, err := t.Apply(delta, now)
		if err != nil {
			return t, err
		}
		return next.WithPending(delta, now), nil
	})
	if err != nil {
		return device.Twin{}, err
	}

	s.logger.Debug("device controlled", "device_id", deviceID, "version", saved.Version)
	s.notifyUpdated(saved)
	return saved, nil
}

// Unpair sends the unpair command (best effort) and deletes the twin.
//
// Returns:
//   - error: NOT_FOUND, UNAUTHORIZED or INTERNAL
func (s *Service) Unpair(ctx context.Context, ownerID, deviceID string) error {
	if _, err := s.loadOwned(ctx, ownerID, deviceID); err != nil {
		return err
	}

	if err := s.dispatcher.Unpair(ctx, deviceID); err != nil {
		s.logger.Warn("unpair command not delivered, deleting twin anyway",
			"device_id", deviceID, "error", err)
	}

	if err := s.repo.Delete(ctx, deviceID); err != nil {
		if errors.Is(err, device.ErrTwinNotFound) {
			return failure.NotFound("device " + deviceID + " not found")
		}
		return failure.Internal(err)
	}

	s.logger.Info("device unpaired", "device_id", deviceID, "owner_id", ownerID)
	if s.notifier != nil {
		s.notifier.TwinDeleted(ownerID, deviceID)
	}
	return nil
}

// UpdateDescriptor changes metadata. Nothing is sent to the device.
func (s *Service) UpdateDescriptor(ctx context.Context, ownerID, deviceID string, u device.DescriptorUpdate) (device.Twin, error) {
	return s.mutate(ctx, ownerID, deviceID, func(t device.Twin) (device.Twin, error) {
		return t.UpdateDescriptor(u, s.now())
	})
}

// Rename changes the user-facing name. Nothing is sent to the device.
func (s *Service) Rename(ctx context.Context, ownerID, deviceID, name string) (device.Twin, error) {
	return s.mutate(ctx, ownerID, deviceID, func(t device.Twin) (device.Twin, error) {
		return t.Rename(name, s.now())
	})
}

// Get returns one of the owner's twins.
func (s *Service) Get(ctx context.Context, ownerID, deviceID string) (device.Twin, error) {
	return s.loadOwned(ctx, ownerID, deviceID)
}

// ListByOwner returns all of the owner's twins.
func (s *Service) ListByOwner(ctx context.Context, ownerID string) ([]device.Twin, error) {
	twins, err := s.repo.FindByUserID(ctx, ownerID)
	if err != nil {
		return nil, failure.Internal(err)
	}
	return twins, nil
}

// RequestStatus asks the device to publish a state report. The twin is not
// changed; the report, if it comes, goes through the reconciler.
func (s *Service) RequestStatus(ctx context.Context, ownerID, deviceID string) error {
	if _, err := s.loadOwned(ctx, ownerID, deviceID); err != nil {
		return err
	}
	if err := s.dispatcher.GetStatus(ctx, deviceID); err != nil {
		return failure.CommunicationError(err)
	}
	return nil
}

func (s *Service) loadOwned(ctx context.Context, ownerID, deviceID string) (device.Twin, error) {
	twin, err := s.repo.FindByDeviceID(ctx, deviceID)
	if err != nil {
		if errors.Is(err, device.ErrTwinNotFound) {
			return device.Twin{}, failure.NotFound("device " + deviceID + " not found")
		}
		return device.Twin{}, failure.Internal(err)
	}
	if twin.OwnerID != ownerID {
		return device.Twin{}, failure.Unauthorized("device " + deviceID + " belongs to another user")
	}
	return twin, nil
}

// mutate loads an owned twin and persists fn applied to it.
func (s *Service) mutate(ctx context.Context, ownerID, deviceID string, fn func(device.Twin) (device.Twin, error)) (device.Twin, error) {
	twin, err := s.loadOwned(ctx, ownerID, deviceID)
	if err != nil {
		return device.Twin{}, err
	}
	saved, err := s.persist(ctx, ownerID, twin, fn)
	if err != nil {
		return device.Twin{}, err
	}
	s.notifyUpdated(saved)
	return saved, nil
}

// persist writes fn(twin). On a version conflict the twin is reloaded and
// fn re-applied to the fresh copy, up to ConflictRetries times.
func (s *Service) persist(ctx context.Context, ownerID string, twin device.Twin, fn func(device.Twin) (device.Twin, error)) (device.Twin, error) {
	var lastErr error
	for attempt := 0; attempt <= s.opts.ConflictRetries; attempt++ {
		if attempt > 0 {
			fresh, err := s.loadOwned(ctx, ownerID, twin.DeviceID)
			if err != nil {
				return device.Twin{}, err
			}
			twin = fresh
		}

		next, err := fn(twin)
		if err != nil {
			return device.Twin{}, applyFailure(err)
		}

		saved, err := s.repo.Update(ctx, next)
		switch {
		case err == nil:
			return saved, nil
		case errors.Is(err, device.ErrConflict):
			lastErr = err
			s.logger.Debug("twin version conflict, retrying", "device_id", twin.DeviceID, "attempt", attempt+1)
		case errors.Is(err, device.ErrTwinNotFound):
			return device.Twin{}, failure.NotFound("device " + twin.DeviceID + " not found")
		default:
			return device.Twin{}, failure.Internal(err)
		}
	}
	return device.Twin{}, failure.Conflict(lastErr)
}

func (s *Service) notifyUpdated(t device.Twin) {
	if s.notifier != nil {
		s.notifier.TwinUpdated(t)
	}
}

// applyFailure maps a twin transition error to its failure.
func applyFailure(err error) error {
	switch {
	case errors.Is(err, device.ErrOutOfRange):
		return failure.OutOfRange(err)
	case errors.Is(err, device.ErrInvalidDelta), errors.Is(err, device.ErrInvalidDescriptor):
		return failure.Validation(err.Error(), err)
	default:
		return failure.Internal(err)
	}
}
