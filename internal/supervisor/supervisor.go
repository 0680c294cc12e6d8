// Package supervisor owns one analysis worker invocation per request and turns
// its raw output into an ordered sequence of events.
package supervisor

import (
	"context"
	"iter"

	"go.uber.org/zap"

	"github.com/JakeFAU/siteaudit-bridge/internal/event"
	"github.com/JakeFAU/siteaudit-bridge/internal/frame"
	"github.com/JakeFAU/siteaudit-bridge/internal/metrics"
)

// Worker modes selectable through configuration.
const (
	ModeProcess = "process"
	ModeRemote  = "remote"
)

// Request is one analysis job.
type Request struct {
	// URL is the site to analyze.
	URL string
	// MaxPages caps the pages the worker visits; 0 means unlimited.
	MaxPages int
}

// Supervisor starts analysis workers.
//
// Start returns a lazy, finite, non-restartable sequence. Ranging over it runs
// exactly one worker; breaking out of the range, or cancelling ctx, terminates
// that worker before the range statement returns. The end of the sequence is
// the Done signal. A worker that cannot be started yields a single error event.
type Supervisor interface {
	Start(ctx context.Context, req Request) iter.Seq[event.Event]
}

// decodeEvent parses one frame and counts it as dropped when it is not a
// recognizable event.
func decodeEvent(f frame.Frame, logger *zap.Logger) (event.Event, bool) {
	evt, err := event.Parse(f.Payload)
	if err != nil {
		metrics.ObserveFrameDropped(metrics.BoundaryWorker)
		logger.Debug("dropping unparseable worker record",
			zap.Error(err),
			zap.Int("bytes", len(f.Payload)),
		)
		return event.Event{}, false
	}
	return evt, true
}
