package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
)

// MockRunRepository is a mock implementation of RunRepository for testing.
type MockRunRepository struct {
	mock.Mock
}

var _ RunRepository = (*MockRunRepository)(nil)

// StartRun is the mock implementation of the StartRun method.
func (m *MockRunRepository) StartRun(ctx context.Context, run Run) error {
	args := m.Called(ctx, run)
	return args.Error(0) //nolint:wrapcheck
}

// AddStages is the mock implementation of the AddStages method.
func (m *MockRunRepository) AddStages(ctx context.Context, id uuid.UUID, delta int) error {
	args := m.Called(ctx, id, delta)
	return args.Error(0) //nolint:wrapcheck
}

// CompleteRun is the mock implementation of the CompleteRun method.
func (m *MockRunRepository) CompleteRun(
	ctx context.Context,
	id uuid.UUID,
	finishedAt time.Time,
	status RunStatus,
	score *int,
	errMsg *string,
) error {
	args := m.Called(ctx, id, finishedAt, status, score, errMsg)
	return args.Error(0) //nolint:wrapcheck
}

// GetRun is the mock implementation of the GetRun method.
func (m *MockRunRepository) GetRun(ctx context.Context, id uuid.UUID) (Run, error) {
	args := m.Called(ctx, id)
	run, _ := args.Get(0).(Run)
	return run, args.Error(1) //nolint:wrapcheck
}

// ListRuns is the mock implementation of the ListRuns method.
func (m *MockRunRepository) ListRuns(ctx context.Context, status *RunStatus, limit, offset int) ([]Run, error) {
	args := m.Called(ctx, status, limit, offset)
	runs, _ := args.Get(0).([]Run)
	return runs, args.Error(1) //nolint:wrapcheck
}
