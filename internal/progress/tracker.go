package progress

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/JakeFAU/siteaudit-bridge/internal/event"
)

// RunTracker turns the events relayed for one run into lifecycle records. It
// is used by the single goroutine serving the run and is not safe for
// concurrent use.
type RunTracker struct {
	emitter  Emitter
	id       [16]byte
	url      string
	now      func() time.Time
	started  time.Time
	stages   int
	terminal bool
}

// StartRun emits the run_start record and returns the tracker for the run.
// A nil emitter yields a tracker that records nothing.
func StartRun(emitter Emitter, id uuid.UUID, url string, maxPages int, now func() time.Time) *RunTracker {
	if now == nil {
		now = time.Now
	}
	t := &RunTracker{emitter: emitter, id: UUIDToBytes(id), url: url, now: now, started: now()}
	t.emit(Record{Kind: KindRunStart, URL: url, MaxPages: maxPages, TS: t.started})
	return t
}

// Observe records one relayed event.
func (t *RunTracker) Observe(evt event.Event) {
	if t.terminal {
		return
	}
	switch evt.Kind {
	case event.KindProgress:
		t.stages++
		t.emit(Record{Kind: KindStage, Stage: evt.Stage, Detail: evt.Detail, TS: t.now()})
	case event.KindResult:
		t.finish(Record{Kind: KindRunSuccess, Score: resultScore(evt.Data)})
	case event.KindError:
		t.finish(Record{Kind: KindRunError, Note: evt.Message})
	}
}

// Finish closes a run that ended without a terminal event. cancelled marks a
// client disconnect; otherwise the stream simply ran out.
func (t *RunTracker) Finish(cancelled bool) {
	if t.terminal {
		return
	}
	if cancelled {
		t.finish(Record{Kind: KindRunCancel, Note: "client disconnected"})
		return
	}
	t.finish(Record{Kind: KindRunError, Note: "worker produced no result"})
}

// Stages returns the number of progress events observed.
func (t *RunTracker) Stages() int {
	return t.stages
}

func (t *RunTracker) finish(rec Record) {
	t.terminal = true
	rec.TS = t.now()
	rec.Dur = rec.TS.Sub(t.started)
	if rec.Dur < 0 {
		rec.Dur = 0
	}
	rec.Stages = t.stages
	rec.URL = t.url
	t.emit(rec)
}

func (t *RunTracker) emit(rec Record) {
	if t.emitter == nil {
		return
	}
	rec.RunID = t.id
	t.emitter.Emit(rec)
}

// resultScore extracts the top-level "score" of an analysis result, if any.
func resultScore(data json.RawMessage) *int {
	var payload struct {
		Score *float64 `json:"score"`
	}
	if err := json.Unmarshal(data, &payload); err != nil || payload.Score == nil {
		return nil
	}
	score := int(*payload.Score)
	return &score
}
