package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/siteaudit-bridge/internal/progress"
)

// LogSink emits structured logs for the run audit trail. It is useful during
// development or where a durable store is unavailable.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each record in the batch using structured fields. Stage
// records are logged at debug to keep production logs to one line per run
// transition.
func (s *LogSink) Consume(_ context.Context, batch []progress.Record) error {
	for _, rec := range batch {
		fields := []zap.Field{
			zap.Stringer("run_id", rec.RunUUID()),
			zap.String("kind", string(rec.Kind)),
			zap.Time("ts", rec.TS),
		}
		switch rec.Kind {
		case progress.KindRunStart:
			fields = append(fields, zap.String("url", rec.URL), zap.Int("max_pages", rec.MaxPages))
		case progress.KindStage:
			fields = append(fields, zap.String("stage", rec.Stage), zap.String("detail", rec.Detail))
			s.logger.Debug("run record", fields...)
			continue
		default:
			fields = append(fields,
				zap.Int("stages", rec.Stages),
				zap.Duration("dur", rec.Dur),
				zap.String("note", rec.Note),
			)
			if rec.Score != nil {
				fields = append(fields, zap.Int("score", *rec.Score))
			}
		}
		s.logger.Info("run record", fields...)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
