// Package devicetest provides an in-memory device.Repository for tests.
package devicetest

import (
	"context"
	"sort"
	"sync"

	"github.com/MarcoCaamal/SIAMP-G-Server-sub000/internal/device"
)

// Repository is an in-memory device.Repository with the same version
// compare-and-swap semantics as the SQLite implementation.
//
// The error fields, when set, are returned by the matching methods.
// BeforeUpdate runs inside Update before the version check, which lets a
// test simulate a concurrent writer.
type Repository struct {
	mu    sync.Mutex
	twins map[string]device.Twin

	FindErr   error
	SaveErr   error
	UpdateErr error
	DeleteErr error

	BeforeUpdate func(r *Repository, t device.Twin)

	updates int
}

// NewRepository creates an empty repository seeded with twins.
func NewRepository(twins ...device.Twin) *Repository {
	r := &Repository{twins: make(map[string]device.Twin)}
	for _, t := range twins {
		r.twins[t.DeviceID] = t
	}
	return r
}

// Put stores t as-is, bypassing version checks.
func (r *Repository) Put(t device.Twin) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.twins[t.DeviceID] = t
}

// Get returns the stored twin without error injection.
func (r *Repository) Get(deviceID string) (device.Twin, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.twins[deviceID]
	return t, ok
}

// Updates returns how many Update calls succeeded.
func (r *Repository) Updates() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.updates
}

// FindByDeviceID implements device.Repository.
func (r *Repository) FindByDeviceID(_ context.Context, deviceID string) (device.Twin, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.FindErr != nil {
		return device.Twin{}, r.FindErr
	}
	t, ok := r.twins[deviceID]
	if !ok {
		return device.Twin{}, device.ErrTwinNotFound
	}
	return t, nil
}

// FindByUserIDAndDeviceID implements device.Repository.
func (r *Repository) FindByUserIDAndDeviceID(ctx context.Context, userID, deviceID string) (device.Twin, error) {
	t, err := r.FindByDeviceID(ctx, deviceID)
	if err != nil {
		return device.Twin{}, err
	}
	if t.OwnerID != userID {
		return device.Twin{}, device.ErrTwinNotFound
	}
	return t, nil
}

// FindByUserID implements device.Repository.
func (r *Repository) FindByUserID(_ context.Context, userID string) ([]device.Twin, error) {
	return r.filter(func(t device.Twin) bool { return t.OwnerID == userID })
}

// FindConnected implements device.Repository.
func (r *Repository) FindConnected(_ context.Context) ([]device.Twin, error) {
	return r.filter(func(t device.Twin) bool { return t.Connectivity.IsConnected })
}

func (r *Repository) filter(keep func(device.Twin) bool) ([]device.Twin, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.FindErr != nil {
		return nil, r.FindErr
	}
	out := []device.Twin{}
	for _, t := range r.twins {
		if keep(t) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DeviceID < out[j].DeviceID })
	return out, nil
}

// Save implements device.Repository.
func (r *Repository) Save(_ context.Context, t device.Twin) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.SaveErr != nil {
		return r.SaveErr
	}
	if _, ok := r.twins[t.DeviceID]; ok {
		return device.ErrTwinExists
	}
	r.twins[t.DeviceID] = t
	return nil
}

// Update implements device.Repository.
func (r *Repository) Update(_ context.Context, t device.Twin) (device.Twin, error) {
	if hook := r.BeforeUpdate; hook != nil {
		hook(r, t)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.UpdateErr != nil {
		return device.Twin{}, r.UpdateErr
	}
	stored, ok := r.twins[t.DeviceID]
	if !ok {
		return device.Twin{}, device.ErrTwinNotFound
	}
	if stored.Version != t.Version {
		return device.Twin{}, device.ErrConflict
	}
	t.Version++
	r.twins[t.DeviceID] = t
	r.updates++
	return t, nil
}

// Delete implements device.Repository.
func (r *Repository) Delete(_ context.Context, deviceID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.DeleteErr != nil {
		return r.DeleteErr
	}
	if _, ok := r.twins[deviceID]; !ok {
		return device.ErrTwinNotFound
	}
	delete(r.twins, deviceID)
	return nil
}

// ExistsByDeviceID implements device.Repository.
func (r *Repository) ExistsByDeviceID(_ context.Context, deviceID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.FindErr != nil {
		return false, r.FindErr
	}
	_, ok := r.twins[deviceID]
	return ok, nil
}

var _ device.Repository = (*Repository)(nil)
