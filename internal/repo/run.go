package repo

import (
	"context"
	"database/sql"

	"github.com/crucial707/resource-scheduler/internal/models"
)

// RunRepo reads the append-only schedule execution history.
type RunRepo struct {
	db *sql.DB
}

// NewRunRepo returns a new RunRepo.
func NewRunRepo(db *sql.DB) *RunRepo {
	return &RunRepo{db: db}
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// insertRun appends one history row. It runs inside RecordOutcome's transaction.
func insertRun(ctx context.Context, db execer, run models.Run) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO schedule_runs (schedule_id, workspace_id, provider, resource_type, resource_id, action,
			status, error, scheduled_for, started_at, finished_at, instance_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		run.ScheduleID, run.WorkspaceID, run.Provider, run.ResourceType, run.ResourceID, run.Action,
		run.Status, nullString(run.Error), run.ScheduledFor.UTC(), run.StartedAt.UTC(), run.FinishedAt.UTC(),
		nullString(run.InstanceID),
	)
	return err
}

// ListBySchedule returns a schedule's runs, newest first.
func (r *RunRepo) ListBySchedule(ctx context.Context, workspaceID, scheduleID string, limit, offset int) ([]models.Run, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, schedule_id, workspace_id, provider, resource_type, resource_id, action, status,
			COALESCE(error, ''), scheduled_for, started_at, finished_at, COALESCE(instance_id, '')
		FROM schedule_runs
		WHERE workspace_id = $1 AND schedule_id = $2
		ORDER BY started_at DESC, id DESC
		LIMIT $3 OFFSET $4`,
		workspaceID, scheduleID, limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	runs := []models.Run{}
	for rows.Next() {
		var run models.Run
		if err := rows.Scan(&run.ID, &run.ScheduleID, &run.WorkspaceID, &run.Provider, &run.ResourceType,
			&run.ResourceID, &run.Action, &run.Status, &run.Error, &run.ScheduledFor, &run.StartedAt,
			&run.FinishedAt, &run.InstanceID); err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}
