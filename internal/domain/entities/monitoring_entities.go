package entities

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// FunctionProcessTransactionFetch names the poll loop schedule
const FunctionProcessTransactionFetch = "processTransactionFetch"

// RunStatus represents the lifecycle of a scheduled run
type RunStatus string

const (
	RunStatusActive   RunStatus = "active"
	RunStatusStopping RunStatus = "stopping"
	RunStatusStopped  RunStatus = "stopped"
)

// ValidRunTransitions defines allowed status transitions. Stopped is terminal;
// a later start always creates a fresh row.
var ValidRunTransitions = map[RunStatus][]RunStatus{
	RunStatusActive:   {RunStatusActive, RunStatusStopping, RunStatusStopped},
	RunStatusStopping: {RunStatusStopped},
	RunStatusStopped:  {},
}

// IsValid checks if the status is known
func (s RunStatus) IsValid() bool {
	_, ok := ValidRunTransitions[s]
	return ok
}

// CanTransitionTo checks if transition to new status is allowed
func (s RunStatus) CanTransitionTo(next RunStatus) bool {
	for _, status := range ValidRunTransitions[s] {
		if status == next {
			return true
		}
	}
	return false
}

// IsTerminal returns true for stopped
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusStopped
}

// ValidateTransition returns an error if the transition is not allowed
func (s RunStatus) ValidateTransition(next RunStatus) error {
	if !next.IsValid() {
		return fmt.Errorf("invalid run status: %s", next)
	}
	if !s.CanTransitionTo(next) {
		return fmt.Errorf("invalid status transition from %s to %s", s, next)
	}
	return nil
}

// ScheduledRun tracks the polling lineage of one address
type ScheduledRun struct {
	ID           uuid.UUID  `json:"id" db:"id"`
	AddressID    uuid.UUID  `json:"address_id" db:"address_id"`
	FunctionName string     `json:"function_name" db:"function_name"`
	Status       RunStatus  `json:"status" db:"status"`
	StartedAt    time.Time  `json:"started_at" db:"started_at"`
	LastRunAt    time.Time  `json:"last_run_at" db:"last_run_at"`
	NextRunAt    *time.Time `json:"next_run_at,omitempty" db:"next_run_at"`
	RunCount     int        `json:"run_count" db:"run_count"`
	ErrorCount   *int       `json:"error_count,omitempty" db:"error_count"`
	LastError    *string    `json:"last_error,omitempty" db:"last_error"`
}

// RunCompletion is the patch applied to an active run after a poll cycle
type RunCompletion struct {
	LastRunAt  time.Time
	NextRunAt  time.Time
	RunCount   int
	ErrorCount *int
	LastError  *string
}

// CleanupResult summarizes a stale sweep
type CleanupResult struct {
	CleanedCount   int            `json:"cleaned_count"`
	StaleFunctions []ScheduledRun `json:"stale_functions"`
}

// RestartResult summarizes a restart pass
type RestartResult struct {
	RestartedCount int `json:"restarted_count"`
	TotalListening int `json:"total_listening"`
}

// CleanupRequest overrides the stale threshold for a manual sweep
type CleanupRequest struct {
	ThresholdMs *int64 `json:"threshold_ms,omitempty" binding:"omitempty,min=1000"`
}
