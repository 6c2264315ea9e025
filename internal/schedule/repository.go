package schedule

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MarcoCaamal/SIAMP-G-Server-sub000/internal/device"
)

// Repository is the persistence contract for schedules.
type Repository interface {
	// FindByID returns ErrScheduleNotFound when absent.
	FindByID(ctx context.Context, id string) (Schedule, error)

	// FindByUserID lists an owner's schedules ordered by name.
	FindByUserID(ctx context.Context, userID string) ([]Schedule, error)

	// FindForExecution lists every active schedule.
	FindForExecution(ctx context.Context) ([]Schedule, error)

	// Save inserts a schedule. Returns ErrScheduleExists for a duplicate
	// (owner, name).
	Save(ctx context.Context, s Schedule) error

	// Update replaces a schedule. Returns ErrScheduleNotFound when absent.
	Update(ctx context.Context, s Schedule) error

	// Delete removes a schedule. Returns ErrScheduleNotFound when absent.
	Delete(ctx context.Context, id string) error

	// ExistsByUserIDAndName reports whether the owner already uses name.
	ExistsByUserIDAndName(ctx context.Context, userID, name string) (bool, error)
}

// SQLiteRepository implements Repository on the schedules table.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a repository over an open SQLite connection.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const scheduleColumns = `
	id, owner_id, device_id, name, scheduled_time, timezone, status,
	action_state, action_brightness, lighting_mode_id,
	recurrence_type, days_of_week, end_date,
	last_executed_at, next_execution_at, execution_count,
	created_at, updated_at`

// FindByID retrieves a schedule by id.
func (r *SQLiteRepository) FindByID(ctx context.Context, id string) (Schedule, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+scheduleColumns+" FROM schedules WHERE id = ?", id)
	s, err := scanSchedule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Schedule{}, ErrScheduleNotFound
	}
	if err != nil {
		return Schedule{}, fmt.Errorf("querying schedule: %w", err)
	}
	return s, nil
}

// FindByUserID lists an owner's schedules.
func (r *SQLiteRepository) FindByUserID(ctx context.Context, userID string) ([]Schedule, error) {
	return r.query(ctx,
		"SELECT "+scheduleColumns+" FROM schedules WHERE owner_id = ? ORDER BY name, id", userID)
}

// FindForExecution lists active schedules for the executor.
func (r *SQLiteRepository) FindForExecution(ctx context.Context) ([]Schedule, error) {
	return r.query(ctx,
		"SELECT "+scheduleColumns+" FROM schedules WHERE status = ? ORDER BY id", string(StatusActive))
}

// Save inserts a new schedule.
func (r *SQLiteRepository) Save(ctx context.Context, s Schedule) error {
	query := `INSERT INTO schedules (` + scheduleColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	values := append([]any{s.ID, s.OwnerID, s.DeviceID}, scheduleArgs(s)...)
	values = append(values, formatTime(s.CreatedAt), formatTime(s.UpdatedAt))

	if _, err := r.db.ExecContext(ctx, query, values...); err != nil {
		if isUniqueConstraintError(err) {
			return ErrScheduleExists
		}
		return fmt.Errorf("inserting schedule: %w", err)
	}
	return nil
}

// Update replaces every mutable column of a schedule.
func (r *SQLiteRepository) Update(ctx context.Context, s Schedule) error {
	query := `
		UPDATE schedules SET
			name = ?, scheduled_time = ?, timezone = ?, status = ?,
			action_state = ?, action_brightness = ?, lighting_mode_id = ?,
			recurrence_type = ?, days_of_week = ?, end_date = ?,
			last_executed_at = ?, next_execution_at = ?, execution_count = ?,
			updated_at = ?
		WHERE id = ?`

	values := append(scheduleArgs(s), formatTime(s.UpdatedAt), s.ID)

	result, err := r.db.ExecContext(ctx, query, values...)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrScheduleExists
		}
		return fmt.Errorf("updating schedule: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrScheduleNotFound
	}
	return nil
}

// Delete removes a schedule.
func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM schedules WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting schedule: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrScheduleNotFound
	}
	return nil
}

// ExistsByUserIDAndName reports whether the owner already has a schedule named name.
func (r *SQLiteRepository) ExistsByUserIDAndName(ctx context.Context, userID, name string) (bool, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM schedules WHERE owner_id = ? AND name = ?", userID, name).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("checking schedule name: %w", err)
	}
	return count > 0, nil
}

func (r *SQLiteRepository) query(ctx context.Context, query string, args ...any) ([]Schedule, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying schedules: %w", err)
	}
	defer rows.Close()

	schedules := []Schedule{}
	for rows.Next() {
		s, err := scanSchedule(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning schedule: %w", err)
		}
		schedules = append(schedules, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating schedules: %w", err)
	}
	return schedules, nil
}

// scheduleArgs renders the mutable columns in the order shared by INSERT
// (after id, owner_id, device_id) and UPDATE.
func scheduleArgs(s Schedule) []any {
	var days sql.NullInt64
	if s.Recurrence.DaysOfWeek != nil {
		days = sql.NullInt64{Int64: int64(*s.Recurrence.DaysOfWeek), Valid: true}
	}
	var endDate sql.NullString
	if s.Recurrence.EndDate != nil {
		endDate = sql.NullString{String: s.Recurrence.EndDate.Format(DateLayout), Valid: true}
	}
	var mode sql.NullString
	if s.Action.LightingModeID != nil {
		mode = sql.NullString{String: *s.Action.LightingModeID, Valid: true}
	}

	return []any{
		s.Name, s.ScheduledTime, s.Timezone, string(s.Status),
		string(s.Action.State), s.Action.Brightness, mode,
		string(s.Recurrence.Type), days, endDate,
		nullableTime(s.LastExecutedAt), nullableTime(s.NextExecutionAt), s.ExecutionCount,
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSchedule(scanner rowScanner) (Schedule, error) {
	var (
		s                        Schedule
		status, state, recurType string
		mode, endDate            sql.NullString
		days                     sql.NullInt64
		lastExec, nextExec       sql.NullString
		createdAt, updatedAt     string
	)

	err := scanner.Scan(
		&s.ID, &s.OwnerID, &s.DeviceID, &s.Name, &s.ScheduledTime, &s.Timezone, &status,
		&state, &s.Action.Brightness, &mode,
		&recurType, &days, &endDate,
		&lastExec, &nextExec, &s.ExecutionCount,
		&createdAt, &updatedAt,
	)
	if err != nil {
		return Schedule{}, err
	}

	s.Status = Status(status)
	s.Action.State = device.Power(state)
	if mode.Valid {
		m := mode.String
		s.Action.LightingModeID = &m
	}
	s.Recurrence.Type = RecurrenceType(recurType)
	if days.Valid {
		s.Recurrence.DaysOfWeek = DaysOfWeek(days.Int64).Ptr() //nolint:gosec // 7-bit mask
	}
	if endDate.Valid {
		d, err := time.Parse(DateLayout, endDate.String)
		if err != nil {
			return Schedule{}, fmt.Errorf("parsing end_date: %w", err)
		}
		s.Recurrence.EndDate = &d
	}

	if s.LastExecutedAt, err = parseNullableTime(lastExec); err != nil {
		return Schedule{}, err
	}
	if s.NextExecutionAt, err = parseNullableTime(nextExec); err != nil {
		return Schedule{}, err
	}
	if s.CreatedAt, err = parseTime(createdAt); err != nil {
		return Schedule{}, err
	}
	if s.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return Schedule{}, err
	}
	return s, nil
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

func nullableTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
