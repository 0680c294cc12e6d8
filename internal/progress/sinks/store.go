package sinks

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/siteaudit-bridge/internal/progress"
	"github.com/JakeFAU/siteaudit-bridge/internal/store"
)

// StoreSink persists run metadata via a store.RunRepository. Stage records are
// collapsed per run so a batch costs one counter update per run.
type StoreSink struct {
	repo   store.RunRepository
	logger *zap.Logger
}

// NewStoreSink constructs a StoreSink for the provided repository.
func NewStoreSink(repo store.RunRepository, logger *zap.Logger) *StoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreSink{repo: repo, logger: logger}
}

// Consume applies the batch in order. It respects ctx deadlines and returns
// the first repository error.
func (s *StoreSink) Consume(ctx context.Context, batch []progress.Record) error {
	if s == nil || s.repo == nil {
		return nil
	}
	pending := make(map[uuid.UUID]int)
	var order []uuid.UUID

	flush := func(id uuid.UUID) error {
		delta := pending[id]
		if delta == 0 {
			return nil
		}
		delete(pending, id)
		if err := s.repo.AddStages(ctx, id, delta); err != nil {
			return fmt.Errorf("add stages: %w", err)
		}
		return nil
	}

	for _, rec := range batch {
		id := rec.RunUUID()
		switch {
		case rec.Kind == progress.KindRunStart:
			run := store.Run{ID: id, URL: rec.URL, MaxPages: rec.MaxPages, StartedAt: rec.TS}
			if err := s.repo.StartRun(ctx, run); err != nil {
				return fmt.Errorf("start run: %w", err)
			}
		case rec.Kind == progress.KindStage:
			if _, seen := pending[id]; !seen {
				order = append(order, id)
			}
			pending[id]++
		case rec.Kind.Terminal():
			if err := flush(id); err != nil {
				return err
			}
			if err := s.complete(ctx, id, rec); err != nil {
				return err
			}
		}
	}
	for _, id := range order {
		if err := flush(id); err != nil {
			return err
		}
	}
	return nil
}

func (s *StoreSink) complete(ctx context.Context, id uuid.UUID, rec progress.Record) error {
	var note *string
	if rec.Note != "" {
		note = &rec.Note
	}
	if err := s.repo.CompleteRun(ctx, id, rec.TS, statusFor(rec.Kind), rec.Score, note); err != nil {
		return fmt.Errorf("complete run: %w", err)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *StoreSink) Close(context.Context) error {
	return nil
}

func statusFor(kind progress.Kind) store.RunStatus {
	switch kind {
	case progress.KindRunSuccess:
		return store.RunSuccess
	case progress.KindRunCancel:
		return store.RunCancelled
	default:
		return store.RunError
	}
}
