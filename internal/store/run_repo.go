// Package store declares interfaces for persisting analysis run metadata.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound signals that the requested record does not exist.
var ErrNotFound = errors.New("analysis run not found")

// RunStatus mirrors the analysis_runs.status column.
type RunStatus string

// Run statuses persisted in analysis_runs.status.
const (
	RunRunning   RunStatus = "running"
	RunSuccess   RunStatus = "success"
	RunError     RunStatus = "error"
	RunCancelled RunStatus = "cancelled"
)

// Terminal reports whether the status ends a run.
func (s RunStatus) Terminal() bool {
	return s == RunSuccess || s == RunError || s == RunCancelled
}

// ParseRunStatus accepts the persisted values plus a few common aliases.
func ParseRunStatus(input string) (RunStatus, error) {
	switch strings.ToLower(strings.TrimSpace(input)) {
	case "running":
		return RunRunning, nil
	case "success", "complete", "completed":
		return RunSuccess, nil
	case "error", "failed", "failure":
		return RunError, nil
	case "cancelled", "canceled":
		return RunCancelled, nil
	default:
		return "", fmt.Errorf("invalid status %q", input)
	}
}

// Run models one row of analysis_runs. It carries metadata only; the event
// stream and the result payload are never stored.
type Run struct {
	// ID is the run identifier returned to clients in X-Run-ID.
	ID uuid.UUID
	// URL is the analyzed site as submitted.
	URL string
	// MaxPages is the page cap passed to the worker; 0 means unlimited.
	MaxPages int
	// StartedAt is when the gateway started the worker.
	StartedAt time.Time
	// FinishedAt is nil while the run is running.
	FinishedAt *time.Time
	// Status is running/success/error/cancelled.
	Status RunStatus
	// Stages counts progress events relayed so far.
	Stages int
	// Score is the overall score from the result payload, when present.
	Score *int
	// ErrorMessage holds the terminal error or cancellation note.
	ErrorMessage *string
}

// RunRepository persists run lifecycle metadata.
type RunRepository interface {
	// StartRun inserts a running row; repeating it for the same ID is a no-op.
	StartRun(ctx context.Context, run Run) error
	// AddStages increments the stage counter of a running run.
	AddStages(ctx context.Context, id uuid.UUID, delta int) error
	// CompleteRun records the terminal status.
	CompleteRun(
		ctx context.Context,
		id uuid.UUID,
		finishedAt time.Time,
		status RunStatus,
		score *int,
		errMsg *string,
	) error

	// GetRun loads a single run or returns ErrNotFound.
	GetRun(ctx context.Context, id uuid.UUID) (Run, error)
	// ListRuns returns runs, newest first, filtered by optional status.
	ListRuns(ctx context.Context, status *RunStatus, limit, offset int) ([]Run, error)
}
