package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/crucial707/resource-scheduler/internal/models"
	"github.com/google/uuid"
)

// ErrNotFound is returned when a schedule does not exist in the caller's workspace.
var ErrNotFound = errors.New("schedule not found")

// scheduleColumns is the select list shared by every query that scans a full schedule.
const scheduleColumns = `id, workspace_id, provider, resource_type, resource_id, resource_name, action,
		schedule_type, schedule_time, timezone, is_enabled,
		last_run_at, last_run_status, last_run_error, next_run_at, claimed_until,
		created_at, updated_at`

// ScheduleRepo persists resource schedules and owns their execution state transitions.
type ScheduleRepo struct {
	DB *sql.DB
}

// NewScheduleRepo returns a new ScheduleRepo.
func NewScheduleRepo(db *sql.DB) *ScheduleRepo {
	return &ScheduleRepo{DB: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSchedule(row rowScanner) (*models.Schedule, error) {
	var (
		s            models.Schedule
		lastRunAt    sql.NullTime
		lastStatus   sql.NullString
		lastError    sql.NullString
		nextRunAt    sql.NullTime
		claimedUntil sql.NullTime
	)
	err := row.Scan(&s.ID, &s.WorkspaceID, &s.Provider, &s.ResourceType, &s.ResourceID, &s.ResourceName, &s.Action,
		&s.ScheduleType, &s.ScheduleTime, &s.Timezone, &s.IsEnabled,
		&lastRunAt, &lastStatus, &lastError, &nextRunAt, &claimedUntil,
		&s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	s.LastRunAt = timePtr(lastRunAt)
	s.NextRunAt = timePtr(nextRunAt)
	s.ClaimedUntil = timePtr(claimedUntil)
	if lastStatus.Valid {
		st := models.RunStatus(lastStatus.String)
		s.LastRunStatus = &st
	}
	if lastError.Valid {
		e := lastError.String
		s.LastRunError = &e
	}
	return &s, nil
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// nextRunAt computes the next occurrence after now, or nil while disabled.
// Recurrence errors are returned unchanged so callers can surface them per field.
func nextRunAt(s *models.Schedule, now time.Time) (*time.Time, error) {
	rule, err := s.Rule()
	if err != nil {
		return nil, err
	}
	if !s.IsEnabled {
		return nil, nil
	}
	next := rule.Next(now)
	return &next, nil
}

// Count returns the number of schedules in a workspace.
func (r *ScheduleRepo) Count(ctx context.Context, workspaceID string) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM resource_schedules WHERE workspace_id = $1`, workspaceID,
	).Scan(&n)
	return n, err
}

// List returns a workspace's schedules, most recent first.
func (r *ScheduleRepo) List(ctx context.Context, workspaceID string, limit, offset int) ([]models.Schedule, error) {
	query := `
		SELECT ` + scheduleColumns + `
		FROM resource_schedules
		WHERE workspace_id = $1
		ORDER BY created_at DESC, id
		LIMIT $2 OFFSET $3
	`
	rows, err := r.DB.QueryContext(ctx, query, workspaceID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	list := []models.Schedule{}
	for rows.Next() {
		s, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *s)
	}
	return list, rows.Err()
}

// Get returns one schedule, or ErrNotFound if it is missing or belongs to another workspace.
func (r *ScheduleRepo) Get(ctx context.Context, workspaceID, id string) (*models.Schedule, error) {
	query := `
		SELECT ` + scheduleColumns + `
		FROM resource_schedules
		WHERE id = $1 AND workspace_id = $2
	`
	s, err := scanSchedule(r.DB.QueryRowContext(ctx, query, id, workspaceID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Create validates the recurrence, computes next_run_at from now and inserts the schedule.
// The returned schedule carries the generated id and timestamps.
func (r *ScheduleRepo) Create(ctx context.Context, s *models.Schedule, now time.Time) (*models.Schedule, error) {
	next, err := nextRunAt(s, now)
	if err != nil {
		return nil, err
	}
	if s.ID == "" {
		s.ID = uuid.NewString()
	}

	query := `
		INSERT INTO resource_schedules (id, workspace_id, provider, resource_type, resource_id, resource_name, action,
			schedule_type, schedule_time, timezone, is_enabled, next_run_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $13)
		RETURNING ` + scheduleColumns
	return scanSchedule(r.DB.QueryRowContext(ctx, query,
		s.ID, s.WorkspaceID, s.Provider, s.ResourceType, s.ResourceID, s.ResourceName, s.Action,
		s.ScheduleType, s.ScheduleTime, s.Timezone, s.IsEnabled, nullTime(next), now.UTC(),
	))
}

// Update applies a patch inside a transaction. next_run_at is recomputed from now only
// when the recurrence or the enabled flag actually changes; disabling clears it.
func (r *ScheduleRepo) Update(ctx context.Context, workspaceID, id string, patch models.SchedulePatch, now time.Time) (*models.Schedule, error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	cur, err := scanSchedule(tx.QueryRowContext(ctx, `
		SELECT `+scheduleColumns+`
		FROM resource_schedules
		WHERE id = $1 AND workspace_id = $2
		FOR UPDATE
	`, id, workspaceID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	updated := *cur
	recompute := false
	if patch.ScheduleType != nil && *patch.ScheduleType != cur.ScheduleType {
		updated.ScheduleType = *patch.ScheduleType
		recompute = true
	}
	if patch.ScheduleTime != nil && *patch.ScheduleTime != cur.ScheduleTime {
		updated.ScheduleTime = *patch.ScheduleTime
		recompute = true
	}
	if patch.Timezone != nil && *patch.Timezone != cur.Timezone {
		updated.Timezone = *patch.Timezone
		recompute = true
	}
	if patch.IsEnabled != nil && *patch.IsEnabled != cur.IsEnabled {
		updated.IsEnabled = *patch.IsEnabled
		recompute = true
	}
	if patch.ResourceName != nil {
		updated.ResourceName = *patch.ResourceName
	}
	if recompute {
		updated.NextRunAt, err = nextRunAt(&updated, now)
		if err != nil {
			return nil, err
		}
	}

	out, err := scanSchedule(tx.QueryRowContext(ctx, `
		UPDATE resource_schedules
		SET schedule_type = $1, schedule_time = $2, timezone = $3, resource_name = $4,
			is_enabled = $5, next_run_at = $6, updated_at = $7
		WHERE id = $8 AND workspace_id = $9
		RETURNING `+scheduleColumns,
		updated.ScheduleType, updated.ScheduleTime, updated.Timezone, updated.ResourceName,
		updated.IsEnabled, nullTime(updated.NextRunAt), now.UTC(), id, workspaceID,
	))
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return out, nil
}

// Delete removes a schedule. Its run history is kept.
func (r *ScheduleRepo) Delete(ctx context.Context, workspaceID, id string) error {
	res, err := r.DB.ExecContext(ctx,
		`DELETE FROM resource_schedules WHERE id = $1 AND workspace_id = $2`, id, workspaceID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ClaimDue leases up to limit enabled schedules whose next_run_at has passed and whose
// previous lease (if any) has expired. Selection and lease happen in one statement;
// SKIP LOCKED makes concurrent callers partition the due rows instead of sharing them.
func (r *ScheduleRepo) ClaimDue(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]models.Schedule, error) {
	query := `
		UPDATE resource_schedules
		SET claimed_until = $2
		WHERE id IN (
			SELECT id FROM resource_schedules
			WHERE is_enabled
				AND next_run_at IS NOT NULL
				AND next_run_at <= $1
				AND (claimed_until IS NULL OR claimed_until < $1)
			ORDER BY next_run_at
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + scheduleColumns
	rows, err := r.DB.QueryContext(ctx, query, now.UTC(), now.Add(lease).UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("claim due schedules: %w", err)
	}
	defer rows.Close()

	var claimed []models.Schedule
	for rows.Next() {
		s, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		claimed = append(claimed, *s)
	}
	return claimed, rows.Err()
}

// Outcome is the result of executing one claimed occurrence.
type Outcome struct {
	Schedule     models.Schedule
	Status       models.RunStatus
	Error        string
	ScheduledFor time.Time  // the claimed next_run_at
	NextRunAt    *time.Time // nil when the recurrence can no longer be resolved
	StartedAt    time.Time
	FinishedAt   time.Time
	InstanceID   string
}

// Run converts the outcome into its history row.
func (o Outcome) Run() models.Run {
	return models.Run{
		ScheduleID:   o.Schedule.ID,
		WorkspaceID:  o.Schedule.WorkspaceID,
		Provider:     o.Schedule.Provider,
		ResourceType: o.Schedule.ResourceType,
		ResourceID:   o.Schedule.ResourceID,
		Action:       o.Schedule.Action,
		Status:       o.Status,
		Error:        o.Error,
		ScheduledFor: o.ScheduledFor,
		StartedAt:    o.StartedAt,
		FinishedAt:   o.FinishedAt,
		InstanceID:   o.InstanceID,
	}
}

// RecordOutcome releases the lease, writes the last_run_* fields and appends the run to
// history in one transaction. next_run_at only advances while the row is enabled and still
// points at the claimed occurrence, so an edit made during execution is not overwritten.
func (r *ScheduleRepo) RecordOutcome(ctx context.Context, o Outcome) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("record outcome: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		UPDATE resource_schedules
		SET claimed_until = NULL,
			last_run_status = $1,
			last_run_at = $2,
			last_run_error = $3,
			next_run_at = CASE WHEN is_enabled AND next_run_at = $4 THEN $5 ELSE next_run_at END
		WHERE id = $6
	`, o.Status, o.FinishedAt.UTC(), nullString(o.Error), o.ScheduledFor.UTC(), nullTime(o.NextRunAt), o.Schedule.ID)
	if err != nil {
		return fmt.Errorf("record outcome: %w", err)
	}
	if err := insertRun(ctx, tx, o.Run()); err != nil {
		return fmt.Errorf("record outcome: %w", err)
	}
	return tx.Commit()
}

// ReleaseClaim drops a lease without touching next_run_at, leaving the occurrence due
// for the next claimer. It only clears the lease it was given.
func (r *ScheduleRepo) ReleaseClaim(ctx context.Context, id string, claimedUntil time.Time) error {
	_, err := r.DB.ExecContext(ctx,
		`UPDATE resource_schedules SET claimed_until = NULL WHERE id = $1 AND claimed_until = $2`,
		id, claimedUntil.UTC())
	if err != nil {
		return fmt.Errorf("release claim: %w", err)
	}
	return nil
}
