package device

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Repository is the persistence contract for twins.
type Repository interface {
	// FindByDeviceID returns ErrTwinNotFound when no twin exists.
	FindByDeviceID(ctx context.Context, deviceID string) (Twin, error)

	// FindByUserIDAndDeviceID returns ErrTwinNotFound unless the twin
	// exists and belongs to userID.
	FindByUserIDAndDeviceID(ctx context.Context, userID, deviceID string) (Twin, error)

	// FindByUserID lists an owner's twins ordered by name.
	FindByUserID(ctx context.Context, userID string) ([]Twin, error)

	// FindConnected lists twins currently marked connected.
	FindConnected(ctx context.Context) ([]Twin, error)

	// Save inserts a new twin. Returns ErrTwinExists for a taken device id.
	Save(ctx context.Context, t Twin) error

	// Update writes t if the stored version still equals t.Version and
	// returns t with the incremented version. Returns ErrConflict on a
	// version mismatch and ErrTwinNotFound if the twin is gone.
	Update(ctx context.Context, t Twin) (Twin, error)

	// Delete hard-deletes a twin. Returns ErrTwinNotFound if absent.
	Delete(ctx context.Context, deviceID string) error

	// ExistsByDeviceID reports whether any twin uses deviceID.
	ExistsByDeviceID(ctx context.Context, deviceID string) (bool, error)
}

// SQLiteRepository implements Repository on the device_twins table.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a repository over an open SQLite connection.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const twinColumns = `
	device_id, owner_id, name, type, model, firmware_version, habitat_type,
	ssid, ip_address, is_connected, last_connected_at,
	power, brightness, color_mode, color_r, color_g, color_b, color_temperature,
	confirmed_state, pending_command, watermark_seq, watermark_at,
	version, created_at, updated_at`

// FindByDeviceID retrieves a twin by device id.
func (r *SQLiteRepository) FindByDeviceID(ctx context.Context, deviceID string) (Twin, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+twinColumns+" FROM device_twins WHERE device_id = ?", deviceID)
	return scanOne(row)
}

// FindByUserIDAndDeviceID retrieves a twin owned by userID.
func (r *SQLiteRepository) FindByUserIDAndDeviceID(ctx context.Context, userID, deviceID string) (Twin, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT "+twinColumns+" FROM device_twins WHERE device_id = ? AND owner_id = ?",
		deviceID, userID)
	return scanOne(row)
}

// FindByUserID lists an owner's twins.
func (r *SQLiteRepository) FindByUserID(ctx context.Context, userID string) ([]Twin, error) {
	return r.query(ctx,
		"SELECT "+twinColumns+" FROM device_twins WHERE owner_id = ? ORDER BY name, device_id",
		userID)
}

// FindConnected lists connected twins for the liveness watchdog.
func (r *SQLiteRepository) FindConnected(ctx context.Context) ([]Twin, error) {
	return r.query(ctx,
		"SELECT "+twinColumns+" FROM device_twins WHERE is_connected = 1 ORDER BY device_id")
}

// Save inserts a new twin.
func (r *SQLiteRepository) Save(ctx context.Context, t Twin) error {
	args, err := twinArgs(t)
	if err != nil {
		return err
	}

	query := `INSERT INTO device_twins (` + twinColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	values := append([]any{t.DeviceID, t.OwnerID}, args...)
	values = append(values, t.Version, formatTime(t.CreatedAt), formatTime(t.UpdatedAt))

	if _, err := r.db.ExecContext(ctx, query, values...); err != nil {
		if isUniqueConstraintError(err) {
			return ErrTwinExists
		}
		return fmt.Errorf("inserting twin: %w", err)
	}
	return nil
}

// Update performs a compare-and-swap on version.
func (r *SQLiteRepository) Update(ctx context.Context, t Twin) (Twin, error) {
	args, err := twinArgs(t)
	if err != nil {
		return Twin{}, err
	}

	query := `
		UPDATE device_twins SET
			name = ?, type = ?, model = ?, firmware_version = ?, habitat_type = ?,
			ssid = ?, ip_address = ?, is_connected = ?, last_connected_at = ?,
			power = ?, brightness = ?, color_mode = ?, color_r = ?, color_g = ?, color_b = ?, color_temperature = ?,
			confirmed_state = ?, pending_command = ?, watermark_seq = ?, watermark_at = ?,
			owner_id = ?, updated_at = ?, version = version + 1
		WHERE device_id = ? AND version = ?`

	values := append(args, t.OwnerID, formatTime(t.UpdatedAt), t.DeviceID, t.Version)

	result, err := r.db.ExecContext(ctx, query, values...)
	if err != nil {
		return Twin{}, fmt.Errorf("updating twin: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return Twin{}, fmt.Errorf("checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		exists, err := r.ExistsByDeviceID(ctx, t.DeviceID)
		if err != nil {
			return Twin{}, err
		}
		if !exists {
			return Twin{}, ErrTwinNotFound
		}
		return Twin{}, ErrConflict
	}

	t.Version++
	return t, nil
}

// Delete removes a twin.
func (r *SQLiteRepository) Delete(ctx context.Context, deviceID string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM device_twins WHERE device_id = ?", deviceID)
	if err != nil {
		return fmt.Errorf("deleting twin: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrTwinNotFound
	}
	return nil
}

// ExistsByDeviceID reports whether a twin uses deviceID.
func (r *SQLiteRepository) ExistsByDeviceID(ctx context.Context, deviceID string) (bool, error) {
	var count int
	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM device_twins WHERE device_id = ?", deviceID).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("checking twin exists: %w", err)
	}
	return count > 0, nil
}

func (r *SQLiteRepository) query(ctx context.Context, query string, args ...any) ([]Twin, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying twins: %w", err)
	}
	defer rows.Close()

	twins := []Twin{}
	for rows.Next() {
		t, err := scanTwin(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning twin: %w", err)
		}
		twins = append(twins, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating twins: %w", err)
	}
	return twins, nil
}

// twinArgs renders the mutable columns in the order shared by INSERT
// (after device_id, owner_id) and UPDATE.
func twinArgs(t Twin) ([]any, error) {
	confirmed, err := nullableJSON(t.Confirmed)
	if err != nil {
		return nil, fmt.Errorf("marshalling confirmed state: %w", err)
	}
	pending, err := nullableJSON(t.Pending)
	if err != nil {
		return nil, fmt.Errorf("marshalling pending command: %w", err)
	}

	rgb := t.State.Color.StoredRGB()
	return []any{
		t.Descriptor.Name,
		t.Descriptor.Type,
		t.Descriptor.Model,
		t.Descriptor.FirmwareVersion,
		t.Descriptor.HabitatType,
		t.Network.SSID,
		t.Network.IPAddress,
		boolToInt(t.Connectivity.IsConnected),
		nullableTime(t.Connectivity.LastConnectedAt),
		string(t.State.Power),
		t.State.Brightness,
		string(t.State.Color.Mode()),
		rgb.R, rgb.G, rgb.B,
		t.State.Color.StoredTemperature(),
		confirmed,
		pending,
		int64(t.Watermark.Sequence), //nolint:gosec // sequences stay far below 2^63
		nullableTime(t.Watermark.ReportedAt),
	}, nil
}

// rowScanner is implemented by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanOne(row *sql.Row) (Twin, error) {
	t, err := scanTwin(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Twin{}, ErrTwinNotFound
		}
		return Twin{}, fmt.Errorf("querying twin: %w", err)
	}
	return t, nil
}

func scanTwin(scanner rowScanner) (Twin, error) {
	var t Twin
	var isConnected int
	var lastConnectedAt, watermarkAt sql.NullString
	var power, colorMode string
	var rgb RGB
	var kelvin int
	var confirmed, pending sql.NullString
	var seq int64
	var createdAt, updatedAt string

	err := scanner.Scan(
		&t.DeviceID, &t.OwnerID,
		&t.Descriptor.Name, &t.Descriptor.Type, &t.Descriptor.Model,
		&t.Descriptor.FirmwareVersion, &t.Descriptor.HabitatType,
		&t.Network.SSID, &t.Network.IPAddress,
		&isConnected, &lastConnectedAt,
		&power, &t.State.Brightness, &colorMode, &rgb.R, &rgb.G, &rgb.B, &kelvin,
		&confirmed, &pending, &seq, &watermarkAt,
		&t.Version, &createdAt, &updatedAt,
	)
	if err != nil {
		return Twin{}, err
	}

	t.Connectivity.IsConnected = isConnected != 0
	t.State.Power = Power(power)
	if t.State.Color, err = RestoreColor(ColorMode(colorMode), rgb, kelvin); err != nil {
		return Twin{}, fmt.Errorf("restoring colour of %s: %w", t.DeviceID, err)
	}
	t.Watermark.Sequence = uint64(seq) //nolint:gosec // written from a uint64

	if t.Connectivity.LastConnectedAt, err = parseNullableTime(lastConnectedAt); err != nil {
		return Twin{}, err
	}
	if t.Watermark.ReportedAt, err = parseNullableTime(watermarkAt); err != nil {
		return Twin{}, err
	}
	if t.CreatedAt, err = parseTime(createdAt); err != nil {
		return Twin{}, err
	}
	if t.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return Twin{}, err
	}

	if confirmed.Valid {
		var s LightState
		if err := json.Unmarshal([]byte(confirmed.String), &s); err != nil {
			return Twin{}, fmt.Errorf("unmarshalling confirmed state: %w", err)
		}
		t.Confirmed = &s
	}
	if pending.Valid {
		var p PendingCommand
		if err := json.Unmarshal([]byte(pending.String), &p); err != nil {
			return Twin{}, fmt.Errorf("unmarshalling pending command: %w", err)
		}
		t.Pending = &p
	}
	return t, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing time %q: %w", s, err)
	}
	return t, nil
}

func parseNullableTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// nullableTime stores optional times as RFC3339Nano text.
func nullableTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

// nullableJSON stores a nil pointer as NULL and anything else as JSON text.
func nullableJSON[T any](v *T) (sql.NullString, error) {
	if v == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// isUniqueConstraintError checks for a SQLite unique/primary key violation.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "unique constraint")
}
