package sinks

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/siteaudit-bridge/internal/progress"
	"github.com/JakeFAU/siteaudit-bridge/internal/publisher"
)

// Notification is the message published when a run finishes.
type Notification struct {
	RunID      string    `json:"run_id"`
	URL        string    `json:"url"`
	Status     string    `json:"status"`
	Score      *int      `json:"score,omitempty"`
	Error      string    `json:"error,omitempty"`
	FinishedAt time.Time `json:"finished_at"`
	DurationMS int64     `json:"duration_ms"`
	Stages     int       `json:"stages"`
}

// PublisherSink publishes a Notification for every terminal record. Start and
// stage records are ignored.
type PublisherSink struct {
	pub    publisher.Publisher
	topic  string
	logger *zap.Logger
}

// NewPublisherSink constructs a PublisherSink sending to topic.
func NewPublisherSink(pub publisher.Publisher, topic string, logger *zap.Logger) *PublisherSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PublisherSink{pub: pub, topic: topic, logger: logger}
}

// Consume publishes notifications in batch order. A failed publish is
// returned after the remaining notifications have been attempted.
func (s *PublisherSink) Consume(ctx context.Context, batch []progress.Record) error {
	if s == nil || s.pub == nil {
		return nil
	}
	var firstErr error
	for _, rec := range batch {
		if !rec.Kind.Terminal() {
			continue
		}
		msg := notificationFor(rec)
		id, err := s.pub.Publish(ctx, s.topic, msg)
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("publish run %s: %w", msg.RunID, err)
			}
			continue
		}
		s.logger.Debug("run notification published",
			zap.String("run_id", msg.RunID),
			zap.String("message_id", id),
		)
	}
	return firstErr
}

// Close stops the publisher when it supports stopping.
func (s *PublisherSink) Close(context.Context) error {
	if s == nil || s.pub == nil {
		return nil
	}
	if stopper, ok := s.pub.(interface{ Stop() error }); ok {
		if err := stopper.Stop(); err != nil {
			return fmt.Errorf("stop publisher: %w", err)
		}
	}
	return nil
}

func notificationFor(rec progress.Record) Notification {
	return Notification{
		RunID:      rec.RunUUID().String(),
		URL:        rec.URL,
		Status:     string(statusFor(rec.Kind)),
		Score:      rec.Score,
		Error:      rec.Note,
		FinishedAt: rec.TS.UTC(),
		DurationMS: rec.Dur.Milliseconds(),
		Stages:     rec.Stages,
	}
}
