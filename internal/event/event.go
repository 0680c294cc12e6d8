// Package event defines the typed records that flow from an analysis worker to
// the client: progress updates, the final result and terminal errors.
package event

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Kind discriminates the Event variants.
type Kind string

// Supported event kinds. The string values are the wire "type" field.
const (
	KindProgress Kind = "progress"
	KindResult   Kind = "result"
	KindError    Kind = "error"
)

// Well-known progress stages emitted by the analysis worker.
const (
	StageDomain        = "domain"
	StageRobots        = "robots"
	StageSitemap       = "sitemap"
	StageAgentFiles    = "agent_files"
	StagePage          = "page"
	StageInternalLinks = "internal_links"
	StageComplete      = "complete"
)

// ErrUnrecognized reports a payload that is valid JSON but not a known event shape.
var ErrUnrecognized = errors.New("unrecognized event")

// Event is one parsed unit of the analysis stream. Exactly one variant is
// populated according to Kind:
//   - KindProgress: Stage (required) and optional Detail.
//   - KindResult: Data holds the opaque analysis result.
//   - KindError: Message describes the failure.
type Event struct {
	Kind    Kind
	Stage   string
	Detail  string
	Data    json.RawMessage
	Message string

	// raw keeps the bytes the event was parsed from so relays stay byte-faithful.
	raw []byte
}

type wireEvent struct {
	Type    string          `json:"type"`
	Stage   *string         `json:"stage,omitempty"`
	Detail  string          `json:"detail,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
	Message *string         `json:"message,omitempty"`
}

// NewProgress builds a progress event.
func NewProgress(stage, detail string) Event {
	return Event{Kind: KindProgress, Stage: stage, Detail: detail}
}

// NewResult builds a result event around an opaque JSON payload.
func NewResult(data json.RawMessage) Event {
	return Event{Kind: KindResult, Data: data}
}

// NewError builds an error event.
func NewError(message string) Event {
	return Event{Kind: KindError, Message: message}
}

// Parse decodes a single frame payload into an Event. Payloads that are not
// JSON objects, or that do not match one of the known shapes, return an error
// and must be skipped by the caller.
func Parse(payload []byte) (Event, error) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 {
		return Event{}, fmt.Errorf("parse event: %w", ErrUnrecognized)
	}
	var wire wireEvent
	if err := json.Unmarshal(trimmed, &wire); err != nil {
		return Event{}, fmt.Errorf("parse event: %w", err)
	}
	evt := Event{Kind: Kind(wire.Type)}
	switch evt.Kind {
	case KindProgress:
		if wire.Stage != nil {
			evt.Stage = *wire.Stage
		}
		evt.Detail = wire.Detail
	case KindResult:
		evt.Data = wire.Data
	case KindError:
		if wire.Message == nil {
			return Event{}, fmt.Errorf("parse event: error without message: %w", ErrUnrecognized)
		}
		evt.Message = *wire.Message
	}
	if err := evt.Validate(); err != nil {
		return Event{}, fmt.Errorf("parse event: %w", err)
	}
	evt.raw = append([]byte(nil), trimmed...)
	return evt, nil
}

// Validate checks that the populated fields match the Kind.
func (e Event) Validate() error {
	switch e.Kind {
	case KindProgress:
		if e.Stage == "" {
			return fmt.Errorf("progress without stage: %w", ErrUnrecognized)
		}
	case KindResult:
		data := bytes.TrimSpace(e.Data)
		if len(data) == 0 || bytes.Equal(data, []byte("null")) {
			return fmt.Errorf("result without data: %w", ErrUnrecognized)
		}
	case KindError:
	default:
		return fmt.Errorf("type %q: %w", e.Kind, ErrUnrecognized)
	}
	return nil
}

// Terminal reports whether the event ends a job (result or error).
func (e Event) Terminal() bool {
	return e.Kind == KindResult || e.Kind == KindError
}

// JSON returns the wire encoding of the event. Parsed events return the exact
// bytes they were parsed from.
func (e Event) JSON() ([]byte, error) {
	if e.raw != nil {
		return e.raw, nil
	}
	if err := e.Validate(); err != nil {
		return nil, fmt.Errorf("encode event: %w", err)
	}
	wire := wireEvent{Type: string(e.Kind)}
	switch e.Kind {
	case KindProgress:
		wire.Stage = &e.Stage
		wire.Detail = e.Detail
	case KindResult:
		wire.Data = e.Data
	case KindError:
		wire.Message = &e.Message
	}
	data, err := json.Marshal(wire)
	if err != nil {
		return nil, fmt.Errorf("encode event: %w", err)
	}
	return data, nil
}

// MarshalJSON implements json.Marshaler.
func (e Event) MarshalJSON() ([]byte, error) {
	return e.JSON()
}
