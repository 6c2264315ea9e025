package control

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MarcoCaamal/SIAMP-G-Server-sub000/internal/device"
	"github.com/MarcoCaamal/SIAMP-G-Server-sub000/internal/device/devicetest"
	"github.com/MarcoCaamal/SIAMP-G-Server-sub000/internal/failure"
)

// ============================================================================
// Mocks
// ============================================================================

type dispatchCall struct {
	action   string
	deviceID string
	delta    device.Delta
}

type mockDispatcher struct {
	mu    sync.Mutex
	calls []dispatchCall
	err   error
}

func (m *mockDispatcher) record(action, deviceID string, delta device.Delta) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, dispatchCall{action: action, deviceID: deviceID, delta: delta})
	return m.err
}

func (m *mockDispatcher) Pair(_ context.Context, deviceID, _ string) error {
	return m.record("pair", deviceID, device.Delta{})
}

func (m *mockDispatcher) Control(_ context.Context, deviceID string, d device.Delta) error {
	return m.record("control", deviceID, d)
}

func (m *mockDispatcher) Unpair(_ context.Context, deviceID string) error {
	return m.record("unpair", deviceID, device.Delta{})
}

func (m *mockDispatcher) GetStatus(_ context.Context, deviceID string) error {
	return m.record("get_status", deviceID, device.Delta{})
}

func (m *mockDispatcher) count(action string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if c.action == action {
			n++
		}
	}
	return n
}

type mockNotifier struct {
	mu      sync.Mutex
	updated []device.Twin
	deleted []string
}

func (n *mockNotifier) TwinUpdated(t device.Twin) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.updated = append(n.updated, t)
}

func (n *mockNotifier) TwinDeleted(_, deviceID string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.deleted = append(n.deleted, deviceID)
}

// ============================================================================
// Helpers
// ============================================================================

var t0 = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

func boolPtr(b bool) *bool { return &b }
func intPtr(i int) *int    { return &i }

type fixture struct {
	svc      *Service
	repo     *devicetest.Repository
	dispatch *mockDispatcher
	notifier *mockNotifier
	clock    time.Time
}

func newFixture(t *testing.T, twins ...device.Twin) *fixture {
	t.Helper()
	f := &fixture{
		repo:     devicetest.NewRepository(twins...),
		dispatch: &mockDispatcher{},
		notifier: &mockNotifier{},
		clock:    t0,
	}
	f.svc = NewService(f.repo, f.dispatch, Options{
		LivenessThreshold: 2 * time.Minute,
		Now:               func() time.Time { return f.clock },
	}, nil)
	f.svc.SetNotifier(f.notifier)
	return f
}

// connectedTwin returns a twin for owner U1 that heartbeated at t0.
func connectedTwin(t *testing.T, deviceID string) device.Twin {
	t.Helper()
	twin, err := device.New("U1", deviceID, device.Descriptor{Name: "Lamp " + deviceID}, t0.Add(-time.Hour))
	if err != nil {
		t.Fatalf("device.New() error = %v", err)
	}
	return twin.SetConnectionStatus(true, t0)
}

func wantCode(t *testing.T, err error, code failure.Code) {
	t.Helper()
	if err == nil {
		t.Fatalf("error = nil, want %s", code)
	}
	var f *failure.Failure
	if !errors.As(err, &f) {
		t.Fatalf("error %v is not a *failure.Failure", err)
	}
	if f.Code != code {
		t.Fatalf("code = %s, want %s (%v)", f.Code, code, err)
	}
}

// ============================================================================
// Pair
// ============================================================================

func TestPair_CreatesDefaultTwin(t *testing.T) {
	f := newFixture(t)

	twin, err := f.svc.Pair(context.Background(), "U1", "D1", device.Descriptor{Name: "Desk"})
	if err != nil {
		t.Fatalf("Pair() error = %v", err)
	}

	stored, ok := f.repo.Get("D1")
	if !ok {
		t.Fatal("twin not persisted")
	}
	if stored.OwnerID != "U1" || twin.OwnerID != "U1" {
		t.Errorf("OwnerID = %q, want U1", stored.OwnerID)
	}
	if stored.State.Power != device.PowerOff || stored.State.Brightness != 0 {
		t.Errorf("state = %+v, want off/0", stored.State)
	}
	if k, ok := stored.State.Color.Temperature(); !ok || k != 5500 {
		t.Errorf("Temperature() = %d, %v; want 5500, true", k, ok)
	}
	if stored.Connectivity.IsConnected {
		t.Error("new twin should be disconnected")
	}
	if f.dispatch.count("pair") != 1 {
		t.Errorf("pair dispatches = %d, want 1", f.dispatch.count("pair"))
	}
	if len(f.notifier.updated) != 1 {
		t.Errorf("notifications = %d, want 1", len(f.notifier.updated))
	}
}

func TestPair_AlreadyPaired(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	original, err := f.svc.Pair(ctx, "U1", "D1", device.Descriptor{Name: "Desk"})
	if err != nil {
		t.Fatalf("first Pair() error = %v", err)
	}

	_, err = f.svc.Pair(ctx, "U2", "D1", device.Descriptor{Name: "Stolen"})
	wantCode(t, err, failure.CodeAlreadyPaired)

	stored, _ := f.repo.Get("D1")
	if stored.OwnerID != original.OwnerID || stored.Descriptor.Name != "Desk" {
		t.Errorf("original twin changed: %+v", stored)
	}
	if f.dispatch.count("pair") != 1 {
		t.Errorf("pair dispatches = %d, want 1", f.dispatch.count("pair"))
	}
}

func TestPair_DispatchFailureKeepsTwin(t *testing.T) {
	f := newFixture(t)
	f.dispatch.err = errors.New("broker down")

	if _, err := f.svc.Pair(context.Background(), "U1", "D1", device.Descriptor{Name: "Desk"}); err != nil {
		t.Fatalf("Pair() error = %v, want nil", err)
	}
	if _, ok := f.repo.Get("D1"); !ok {
		t.Error("twin should persist when the pair command fails")
	}
}

func TestPair_InvalidDescriptor(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Pair(context.Background(), "U1", "D1", device.Descriptor{Name: "  "})
	wantCode(t, err, failure.CodeValidation)
	if f.dispatch.count("pair") != 0 {
		t.Error("invalid pairing must not dispatch")
	}
}

// ============================================================================
// Control
// ============================================================================

func TestControl_Preconditions(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(t *testing.T) device.Twin
		ownerID string
		advance time.Duration
		delta   device.Delta
		want    failure.Code
	}{
		{
			name:    "not found",
			setup:   func(t *testing.T) device.Twin { return connectedTwin(t, "OTHER") },
			ownerID: "U1",
			delta:   device.Delta{On: boolPtr(true)},
			want:    failure.CodeNotFound,
		},
		{
			name:    "unauthorized",
			setup:   func(t *testing.T) device.Twin { return connectedTwin(t, "D1") },
			ownerID: "U2",
			delta:   device.Delta{On: boolPtr(true)},
			want:    failure.CodeUnauthorized,
		},
		{
			name: "offline",
			setup: func(t *testing.T) device.Twin {
				return connectedTwin(t, "D1").SetConnectionStatus(false, t0)
			},
			ownerID: "U1",
			delta:   device.Delta{On: boolPtr(true)},
			want:    failure.CodeOffline,
		},
		{
			name:    "stale",
			setup:   func(t *testing.T) device.Twin { return connectedTwin(t, "D1") },
			ownerID: "U1",
			advance: 3 * time.Minute,
			delta:   device.Delta{On: boolPtr(true)},
			want:    failure.CodeOffline,
		},
		{
			name:    "brightness out of range",
			setup:   func(t *testing.T) device.Twin { return connectedTwin(t, "D1") },
			ownerID: "U1",
			delta:   device.Delta{Brightness: intPtr(101)},
			want:    failure.CodeOutOfRange,
		},
		{
			name:    "kelvin out of range",
			setup:   func(t *testing.T) device.Twin { return connectedTwin(t, "D1") },
			ownerID: "U1",
			delta: device.Delta{Color: &device.ColorCommand{
				Mode: device.ColorModeTemperature, Temperature: intPtr(999),
			}},
			want: failure.CodeOutOfRange,
		},
		{
			name:    "empty delta",
			setup:   func(t *testing.T) device.Twin { return connectedTwin(t, "D1") },
			ownerID: "U1",
			delta:   device.Delta{},
			want:    failure.CodeValidation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := tt.setup(t)
			f := newFixture(t, before)
			f.clock = t0.Add(tt.advance)

			_, err := f.svc.Control(context.Background(), tt.ownerID, "D1", tt.delta)
			wantCode(t, err, tt.want)

			if f.dispatch.count("control") != 0 {
				t.Error("rejected control must not dispatch")
			}
			after, _ := f.repo.Get(before.DeviceID)
			if after.UpdatedAt != before.UpdatedAt || after.Version != before.Version {
				t.Error("rejected control must not mutate the twin")
			}
		})
	}
}

func TestControl_CommunicationErrorLeavesTwin(t *testing.T) {
	before := connectedTwin(t, "D1")
	f := newFixture(t, before)
	f.dispatch.err = errors.New("publish timeout")

	_, err := f.svc.Control(context.Background(), "U1", "D1", device.Delta{On: boolPtr(true)})
	wantCode(t, err, failure.CodeCommunicationError)

	after, _ := f.repo.Get("D1")
	if after.State.Power != device.PowerOff || after.Version != before.Version {
		t.Errorf("twin mutated after failed dispatch: %+v", after.State)
	}
}

func TestControl_PersistsPredictedStateWithPending(t *testing.T) {
	f := newFixture(t, connectedTwin(t, "D1"))
	delta := device.Delta{On: boolPtr(true), Brightness: intPtr(75)}

	twin, err := f.svc.Control(context.Background(), "U1", "D1", delta)
	if err != nil {
		t.Fatalf("Control() error = %v", err)
	}

	if twin.State.Power != device.PowerOn || twin.State.Brightness != 75 {
		t.Errorf("state = %+v, want on/75", twin.State)
	}
	if twin.Pending == nil || !twin.Pending.IssuedAt.Equal(t0) {
		t.Fatalf("Pending = %+v, want overlay issued at t0", twin.Pending)
	}
	if twin.Version != 1 {
		t.Errorf("Version = %d, want 1", twin.Version)
	}
	stored, _ := f.repo.Get("D1")
	if stored.State.Brightness != 75 {
		t.Errorf("stored brightness = %d, want 75", stored.State.Brightness)
	}
	if f.dispatch.count("control") != 1 {
		t.Errorf("control dispatches = %d, want 1", f.dispatch.count("control"))
	}
}

func TestControl_ConflictReappliesOnFreshTwin(t *testing.T) {
	f := newFixture(t, connectedTwin(t, "D1"))

	// A concurrent reconciler write lands between load and persist.
	raced := false
	f.repo.BeforeUpdate = func(r *devicetest.Repository, _ device.Twin) {
		if raced {
			return
		}
		raced = true
		stored, _ := r.Get("D1")
		stored, _ = stored.SetRGBColor(10, 20, 30, t0)
		stored.Version++
		r.Put(stored)
	}

	twin, err := f.svc.Control(context.Background(), "U1", "D1", device.Delta{Brightness: intPtr(40)})
	if err != nil {
		t.Fatalf("Control() error = %v", err)
	}

	if twin.State.Brightness != 40 {
		t.Errorf("brightness = %d, want 40", twin.State.Brightness)
	}
	if rgb, ok := twin.State.Color.RGB(); !ok || rgb != (device.RGB{R: 10, G: 20, B: 30}) {
		t.Errorf("concurrent colour lost: %v, %v", rgb, ok)
	}
	if twin.Version != 2 {
		t.Errorf("Version = %d, want 2", twin.Version)
	}
	if f.dispatch.count("control") != 1 {
		t.Errorf("conflict retry must not re-dispatch, got %d", f.dispatch.count("control"))
	}
}

func TestControl_PersistentConflict(t *testing.T) {
	f := newFixture(t, connectedTwin(t, "D1"))
	f.repo.BeforeUpdate = func(r *devicetest.Repository, _ device.Twin) {
		stored, _ := r.Get("D1")
		stored.Version++
		r.Put(stored)
	}

	_, err := f.svc.Control(context.Background(), "U1", "D1", device.Delta{On: boolPtr(false)})
	wantCode(t, err, failure.CodeConflict)
}

// ============================================================================
// Unpair, metadata, queries
// ============================================================================

func TestUnpair(t *testing.T) {
	f := newFixture(t, connectedTwin(t, "D1"))
	f.dispatch.err = errors.New("broker down")

	if err := f.svc.Unpair(context.Background(), "U1", "D1"); err != nil {
		t.Fatalf("Unpair() error = %v", err)
	}
	if _, ok := f.repo.Get("D1"); ok {
		t.Error("twin should be deleted even when the unpair command fails")
	}
	if f.dispatch.count("unpair") != 1 {
		t.Errorf("unpair dispatches = %d, want 1", f.dispatch.count("unpair"))
	}
	if len(f.notifier.deleted) != 1 || f.notifier.deleted[0] != "D1" {
		t.Errorf("deleted notifications = %v, want [D1]", f.notifier.deleted)
	}
}

func TestUnpair_Preconditions(t *testing.T) {
	f := newFixture(t, connectedTwin(t, "D1"))
	ctx := context.Background()

	wantCode(t, f.svc.Unpair(ctx, "U1", "NOPE"), failure.CodeNotFound)
	wantCode(t, f.svc.Unpair(ctx, "U2", "D1"), failure.CodeUnauthorized)

	if _, ok := f.repo.Get("D1"); !ok {
		t.Error("twin deleted by unauthorised unpair")
	}
	if f.dispatch.count("unpair") != 0 {
		t.Error("rejected unpair must not dispatch")
	}
}

func TestRenameAndUpdateDescriptor(t *testing.T) {
	f := newFixture(t, connectedTwin(t, "D1"))
	ctx := context.Background()

	twin, err := f.svc.Rename(ctx, "U1", "D1", "Reading lamp")
	if err != nil {
		t.Fatalf("Rename() error = %v", err)
	}
	if twin.Descriptor.Name != "Reading lamp" {
		t.Errorf("Name = %q", twin.Descriptor.Name)
	}

	habitat := "bedroom"
	twin, err = f.svc.UpdateDescriptor(ctx, "U1", "D1", device.DescriptorUpdate{
		HabitatType: &habitat,
		Network:     &device.Network{SSID: "home", IPAddress: "10.0.0.7"},
	})
	if err != nil {
		t.Fatalf("UpdateDescriptor() error = %v", err)
	}
	if twin.Descriptor.HabitatType != "bedroom" || twin.Network.IPAddress != "10.0.0.7" {
		t.Errorf("descriptor = %+v network = %+v", twin.Descriptor, twin.Network)
	}
	if twin.Version != 2 {
		t.Errorf("Version = %d, want 2", twin.Version)
	}
	if len(f.dispatch.calls) != 0 {
		t.Errorf("metadata updates dispatched %d commands", len(f.dispatch.calls))
	}

	_, err = f.svc.Rename(ctx, "U1", "D1", "")
	wantCode(t, err, failure.CodeValidation)
	_, err = f.svc.Rename(ctx, "U2", "D1", "Mine now")
	wantCode(t, err, failure.CodeUnauthorized)
}

func TestGetAndList(t *testing.T) {
	other, _ := device.New("U2", "D9", device.Descriptor{Name: "Other"}, t0)
	f := newFixture(t, connectedTwin(t, "D1"), connectedTwin(t, "D2"), other)
	ctx := context.Background()

	if _, err := f.svc.Get(ctx, "U1", "D1"); err != nil {
		t.Errorf("Get() error = %v", err)
	}
	_, err := f.svc.Get(ctx, "U1", "D9")
	wantCode(t, err, failure.CodeUnauthorized)

	twins, err := f.svc.ListByOwner(ctx, "U1")
	if err != nil {
		t.Fatalf("ListByOwner() error = %v", err)
	}
	if len(twins) != 2 {
		t.Errorf("ListByOwner() = %d twins, want 2", len(twins))
	}
}

func TestRequestStatus(t *testing.T) {
	before := connectedTwin(t, "D1")
	f := newFixture(t, before)
	ctx := context.Background()

	if err := f.svc.RequestStatus(ctx, "U1", "D1"); err != nil {
		t.Fatalf("RequestStatus() error = %v", err)
	}
	if f.dispatch.count("get_status") != 1 {
		t.Errorf("get_status dispatches = %d, want 1", f.dispatch.count("get_status"))
	}
	if after, _ := f.repo.Get("D1"); after.Version != before.Version {
		t.Error("RequestStatus must not mutate the twin")
	}

	f.dispatch.err = errors.New("broker down")
	wantCode(t, f.svc.RequestStatus(ctx, "U1", "D1"), failure.CodeCommunicationError)
}

func TestRepositoryErrorsAreInternal(t *testing.T) {
	f := newFixture(t, connectedTwin(t, "D1"))
	f.repo.FindErr = errors.New("disk I/O error")

	_, err := f.svc.Get(context.Background(), "U1", "D1")
	wantCode(t, err, failure.CodeInternal)
}
