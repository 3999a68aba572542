package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/cryptotracker/tracker_service/internal/domain/entities"
)

const runColumns = `
	id, address_id, function_name, status, started_at, last_run_at,
	next_run_at, run_count, error_count, last_error`

// ScheduledRunRepository persists per-address polling schedules
type ScheduledRunRepository struct {
	db *sqlx.DB
}

// NewScheduledRunRepository creates a new scheduled run repository
func NewScheduledRunRepository(db *sqlx.DB) *ScheduledRunRepository {
	return &ScheduledRunRepository{db: db}
}

// GetActive returns the active run for (address, function) or nil
func (r *ScheduledRunRepository) GetActive(ctx context.Context, addressID uuid.UUID, functionName string) (*entities.ScheduledRun, error) {
	query := `SELECT ` + runColumns + `
		FROM scheduled_runs
		WHERE address_id = $1 AND function_name = $2 AND status = 'active'
		ORDER BY started_at DESC
		LIMIT 1`

	return r.getOne(ctx, query, addressID, functionName)
}

// GetCurrent returns the newest active or stopping run, or nil
func (r *ScheduledRunRepository) GetCurrent(ctx context.Context, addressID uuid.UUID, functionName string) (*entities.ScheduledRun, error) {
	query := `SELECT ` + runColumns + `
		FROM scheduled_runs
		WHERE address_id = $1 AND function_name = $2 AND status IN ('active', 'stopping')
		ORDER BY started_at DESC
		LIMIT 1`

	return r.getOne(ctx, query, addressID, functionName)
}

// GetLatest returns the newest run in any status, or nil
func (r *ScheduledRunRepository) GetLatest(ctx context.Context, addressID uuid.UUID, functionName string) (*entities.ScheduledRun, error) {
	query := `SELECT ` + runColumns + `
		FROM scheduled_runs
		WHERE address_id = $1 AND function_name = $2
		ORDER BY started_at DESC
		LIMIT 1`

	return r.getOne(ctx, query, addressID, functionName)
}

func (r *ScheduledRunRepository) getOne(ctx context.Context, query string, args ...interface{}) (*entities.ScheduledRun, error) {
	var run entities.ScheduledRun
	if err := r.db.GetContext(ctx, &run, query, args...); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get scheduled run: %w", err)
	}
	return &run, nil
}

// CreateActive inserts an active run. It returns false when another active run
// already exists for the same (address, function).
func (r *ScheduledRunRepository) CreateActive(ctx context.Context, run *entities.ScheduledRun) (bool, error) {
	query := `
		INSERT INTO scheduled_runs (
			id, address_id, function_name, status, started_at, last_run_at, run_count
		) VALUES ($1, $2, $3, 'active', $4, $5, $6)
		ON CONFLICT (address_id, function_name) WHERE status = 'active' DO NOTHING
		RETURNING id
	`

	var id uuid.UUID
	err := r.db.QueryRowxContext(ctx, query,
		run.ID,
		run.AddressID,
		run.FunctionName,
		run.StartedAt,
		run.LastRunAt,
		run.RunCount,
	).Scan(&id)
	if err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("failed to create scheduled run: %w", err)
	}

	run.Status = entities.RunStatusActive
	return true, nil
}

// MarkStopping moves every active run of (address, function) to stopping
func (r *ScheduledRunRepository) MarkStopping(ctx context.Context, addressID uuid.UUID, functionName string) (int64, error) {
	query := `
		UPDATE scheduled_runs
		SET status = 'stopping'
		WHERE address_id = $1 AND function_name = $2 AND status = 'active'
	`

	result, err := r.db.ExecContext(ctx, query, addressID, functionName)
	if err != nil {
		return 0, fmt.Errorf("failed to mark scheduled run stopping: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows, nil
}

// MarkStopped finalizes a run. Already stopped rows are left untouched.
func (r *ScheduledRunRepository) MarkStopped(ctx context.Context, id uuid.UUID, at time.Time) error {
	query := `
		UPDATE scheduled_runs
		SET status = 'stopped', last_run_at = $2, next_run_at = NULL
		WHERE id = $1 AND status IN ('active', 'stopping')
	`

	if _, err := r.db.ExecContext(ctx, query, id, at); err != nil {
		return fmt.Errorf("failed to mark scheduled run stopped: %w", err)
	}
	return nil
}

// StopSuperseded finalizes the stopping runs of (address, function) other
// than keepID. A stop followed by a start leaves such rows behind.
func (r *ScheduledRunRepository) StopSuperseded(ctx context.Context, addressID uuid.UUID, functionName string, keepID uuid.UUID, at time.Time) (int64, error) {
	query := `
		UPDATE scheduled_runs
		SET status = 'stopped', last_run_at = $4, next_run_at = NULL
		WHERE address_id = $1 AND function_name = $2 AND status = 'stopping' AND id <> $3
	`

	result, err := r.db.ExecContext(ctx, query, addressID, functionName, keepID, at)
	if err != nil {
		return 0, fmt.Errorf("failed to stop superseded runs: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows, nil
}

// CompleteRun records a finished poll cycle on a run that is still active.
// It returns false when the row left the active state in the meantime.
func (r *ScheduledRunRepository) CompleteRun(ctx context.Context, id uuid.UUID, completion entities.RunCompletion) (bool, error) {
	query := `
		UPDATE scheduled_runs
		SET last_run_at = $2,
			next_run_at = $3,
			run_count = $4,
			error_count = $5,
			last_error = $6
		WHERE id = $1 AND status = 'active'
	`

	result, err := r.db.ExecContext(ctx, query,
		id,
		completion.LastRunAt,
		completion.NextRunAt,
		completion.RunCount,
		completion.ErrorCount,
		completion.LastError,
	)
	if err != nil {
		return false, fmt.Errorf("failed to complete scheduled run: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows > 0, nil
}

// ListStaleActive returns active runs whose last run is older than before
func (r *ScheduledRunRepository) ListStaleActive(ctx context.Context, functionName string, before time.Time) ([]*entities.ScheduledRun, error) {
	query := `SELECT ` + runColumns + `
		FROM scheduled_runs
		WHERE function_name = $1 AND status = 'active' AND last_run_at < $2
		ORDER BY last_run_at ASC`

	var runs []*entities.ScheduledRun
	if err := r.db.SelectContext(ctx, &runs, query, functionName, before); err != nil {
		return nil, fmt.Errorf("failed to list stale scheduled runs: %w", err)
	}
	return runs, nil
}

// ListActive returns every active run for a function
func (r *ScheduledRunRepository) ListActive(ctx context.Context, functionName string) ([]*entities.ScheduledRun, error) {
	query := `SELECT ` + runColumns + `
		FROM scheduled_runs
		WHERE function_name = $1 AND status = 'active'
		ORDER BY last_run_at ASC`

	var runs []*entities.ScheduledRun
	if err := r.db.SelectContext(ctx, &runs, query, functionName); err != nil {
		return nil, fmt.Errorf("failed to list active scheduled runs: %w", err)
	}
	return runs, nil
}
