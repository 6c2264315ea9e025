package device

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/MarcoCaamal/SIAMP-G-Server-sub000/internal/infrastructure/config"
	"github.com/MarcoCaamal/SIAMP-G-Server-sub000/internal/infrastructure/database"
	"github.com/MarcoCaamal/SIAMP-G-Server-sub000/migrations"
)

// setupTestDB opens a migrated database in a temporary directory.
func setupTestDB(t *testing.T) *database.DB {
	t.Helper()

	db, err := database.Open(config.DatabaseConfig{
		Path:        filepath.Join(t.TempDir(), "twins.db"),
		BusyTimeout: 1,
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // test cleanup

	if err := db.Migrate(context.Background(), migrations.FS); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}
	return db
}

func TestSQLiteRepository_SaveAndFind(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t).DB)
	ctx := context.Background()

	twin := newTestTwin(t)
	twin.Network = Network{SSID: "home", IPAddress: "10.0.0.2"}
	if err := repo.Save(ctx, twin); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	got, err := repo.FindByDeviceID(ctx, "D1")
	if err != nil {
		t.Fatalf("FindByDeviceID() error = %v", err)
	}
	if got.OwnerID != "U1" || got.Descriptor.Name != "Desk lamp" || got.Network.IPAddress != "10.0.0.2" {
		t.Errorf("FindByDeviceID() = %+v", got)
	}
	if k, ok := got.State.Color.Temperature(); !ok || k != DefaultKelvin {
		t.Errorf("Temperature() = (%d, %v)", k, ok)
	}
	if !got.CreatedAt.Equal(twin.CreatedAt) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, twin.CreatedAt)
	}

	if err := repo.Save(ctx, twin); !errors.Is(err, ErrTwinExists) {
		t.Errorf("second Save() error = %v, want ErrTwinExists", err)
	}

	if _, err := repo.FindByDeviceID(ctx, "missing"); !errors.Is(err, ErrTwinNotFound) {
		t.Errorf("FindByDeviceID(missing) error = %v, want ErrTwinNotFound", err)
	}
}

func TestSQLiteRepository_FindByOwner(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t).DB)
	ctx := context.Background()

	for _, tc := range []struct{ owner, id, name string }{
		{"U1", "D1", "Bedroom"},
		{"U1", "D2", "Attic"},
		{"U2", "D3", "Garage"},
	} {
		twin, err := New(tc.owner, tc.id, Descriptor{Name: tc.name}, t0)
		if err != nil {
			t.Fatalf("New() error = %v", err)
		}
		if err := repo.Save(ctx, twin); err != nil {
			t.Fatalf("Save() error = %v", err)
		}
	}

	list, err := repo.FindByUserID(ctx, "U1")
	if err != nil {
		t.Fatalf("FindByUserID() error = %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("FindByUserID() = %d twins, want 2", len(list))
	}
	if list[0].DeviceID != "D2" {
		t.Errorf("FindByUserID()[0] = %q, want D2 (ordered by name)", list[0].DeviceID)
	}

	if _, err := repo.FindByUserIDAndDeviceID(ctx, "U1", "D3"); !errors.Is(err, ErrTwinNotFound) {
		t.Errorf("FindByUserIDAndDeviceID(other owner) error = %v, want ErrTwinNotFound", err)
	}
	if got, err := repo.FindByUserIDAndDeviceID(ctx, "U2", "D3"); err != nil || got.DeviceID != "D3" {
		t.Errorf("FindByUserIDAndDeviceID() = %v, %v", got.DeviceID, err)
	}

	empty, err := repo.FindByUserID(ctx, "nobody")
	if err != nil || empty == nil || len(empty) != 0 {
		t.Errorf("FindByUserID(nobody) = %v, %v; want empty non-nil slice", empty, err)
	}
}

func TestSQLiteRepository_UpdateRoundtrip(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t).DB)
	ctx := context.Background()

	twin := newTestTwin(t)
	if err := repo.Save(ctx, twin); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	at := t0.Add(time.Minute)
	changed, err := twin.SetConnectionStatus(true, at).Apply(Delta{
		On:    boolPtr(true),
		Color: &ColorCommand{Mode: ColorModeRGB, RGB: &RGB{R: 10, G: 20, B: 30}},
	}, at)
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	changed = changed.Confirm(at).WithPending(Delta{Brightness: intPtr(40)}, at)
	changed.Watermark = changed.Watermark.Advance(u64(7), &at)

	updated, err := repo.Update(ctx, changed)
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if updated.Version != 1 {
		t.Errorf("Update() version = %d, want 1", updated.Version)
	}

	got, err := repo.FindByDeviceID(ctx, "D1")
	if err != nil {
		t.Fatalf("FindByDeviceID() error = %v", err)
	}
	if got.Version != 1 || !got.Connectivity.IsConnected || got.State.Power != PowerOn {
		t.Errorf("stored twin = %+v", got)
	}
	if rgb, ok := got.State.Color.RGB(); !ok || rgb != (RGB{10, 20, 30}) {
		t.Errorf("RGB() = (%v, %v)", rgb, ok)
	}
	if got.State.Color.StoredTemperature() != DefaultKelvin {
		t.Errorf("retained temperature = %d, want %d", got.State.Color.StoredTemperature(), DefaultKelvin)
	}
	if got.Confirmed == nil || got.Confirmed.Power != PowerOn {
		t.Errorf("Confirmed = %+v", got.Confirmed)
	}
	if got.Pending == nil || got.Pending.Delta.Brightness == nil || *got.Pending.Delta.Brightness != 40 {
		t.Errorf("Pending = %+v", got.Pending)
	}
	if got.Watermark.Sequence != 7 || got.Watermark.ReportedAt == nil {
		t.Errorf("Watermark = %+v", got.Watermark)
	}

	connected, err := repo.FindConnected(ctx)
	if err != nil || len(connected) != 1 {
		t.Errorf("FindConnected() = %d, %v; want 1", len(connected), err)
	}
}

func TestSQLiteRepository_UpdateConflict(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t).DB)
	ctx := context.Background()

	twin := newTestTwin(t)
	if err := repo.Save(ctx, twin); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	// Two writers read version 0; the second write must lose.
	if _, err := repo.Update(ctx, twin.TurnOn(t0)); err != nil {
		t.Fatalf("first Update() error = %v", err)
	}
	if _, err := repo.Update(ctx, twin.TurnOff(t0)); !errors.Is(err, ErrConflict) {
		t.Errorf("stale Update() error = %v, want ErrConflict", err)
	}

	ghost := twin
	ghost.DeviceID = "ghost"
	if _, err := repo.Update(ctx, ghost); !errors.Is(err, ErrTwinNotFound) {
		t.Errorf("Update(missing) error = %v, want ErrTwinNotFound", err)
	}
}

func TestSQLiteRepository_Delete(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t).DB)
	ctx := context.Background()

	if err := repo.Save(ctx, newTestTwin(t)); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if err := repo.Delete(ctx, "D1"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}

	exists, err := repo.ExistsByDeviceID(ctx, "D1")
	if err != nil || exists {
		t.Errorf("ExistsByDeviceID() = %v, %v; want false", exists, err)
	}
	if err := repo.Delete(ctx, "D1"); !errors.Is(err, ErrTwinNotFound) {
		t.Errorf("second Delete() error = %v, want ErrTwinNotFound", err)
	}
}
