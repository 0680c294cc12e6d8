// Package progress defines the lifecycle records emitted for analysis runs.
package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Kind denotes which lifecycle milestone a Record represents.
type Kind string

// Supported record kinds.
const (
	KindRunStart   Kind = "run_start"
	KindStage      Kind = "stage"
	KindRunSuccess Kind = "run_success"
	KindRunError   Kind = "run_error"
	KindRunCancel  Kind = "run_cancel"
)

// Terminal reports whether k closes a run.
func (k Kind) Terminal() bool {
	return k == KindRunSuccess || k == KindRunError || k == KindRunCancel
}

// Record captures a single milestone of an analysis run.
type Record struct {
	// RunID uniquely identifies the run using the 16-byte UUID form.
	RunID [16]byte
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Kind denotes which lifecycle milestone occurred.
	Kind Kind
	// URL is the analyzed site; required on run_start and repeated on terminal records.
	URL string
	// MaxPages is the page cap of the run, set on run_start.
	MaxPages int
	// Stage and Detail mirror the progress event for stage records.
	Stage  string
	Detail string
	// Score is the overall score, set on run_success when the result has one.
	Score *int
	// Stages is the number of progress events relayed, set on terminal records.
	Stages int
	// Dur is the run's wall time on terminal records.
	Dur time.Duration
	// Note carries the error message or cancellation reason.
	Note string
}

// Validate performs coarse validation on Record payloads.
func (r Record) Validate() error {
	if r.RunID == [16]byte{} {
		return errors.New("run id is required")
	}
	if r.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch r.Kind {
	case KindRunStart:
		if r.URL == "" {
			return errors.New("run start requires url")
		}
	case KindStage:
		if r.Stage == "" {
			return errors.New("stage record requires stage")
		}
	case KindRunSuccess, KindRunError, KindRunCancel:
	default:
		return fmt.Errorf("unknown kind %q", r.Kind)
	}
	if r.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// RunUUID converts the binary run ID to uuid.UUID for repositories.
func (r Record) RunUUID() uuid.UUID {
	return uuid.UUID(r.RunID)
}

// UUIDToBytes encodes a uuid.UUID into the Record form.
func UUIDToBytes(id uuid.UUID) [16]byte {
	var dest [16]byte
	copy(dest[:], id[:])
	return dest
}
