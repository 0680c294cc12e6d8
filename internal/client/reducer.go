package client

import (
	"slices"

	"github.com/JakeFAU/siteaudit-bridge/internal/event"
)

// Reduce folds one event into s and returns the new state. It never mutates
// s. Events only apply while the job is loading: once a job is Complete or
// Error it stays there until the session starts another job or resets.
func Reduce(s State, evt event.Event) State {
	if s.Status != StatusLoading {
		return s
	}
	switch evt.Kind {
	case event.KindProgress:
		label := Label(evt.Stage, evt.Detail)
		s.ProgressSteps = append(slices.Clip(s.ProgressSteps), Step{
			Stage:  evt.Stage,
			Detail: evt.Detail,
			Label:  label,
		})
		s.CurrentStageLabel = label
	case event.KindResult:
		s.Result = slices.Clone(evt.Data)
		s.Error = ""
		s.Status = StatusComplete
	case event.KindError:
		s.Error = evt.Message
		s.Result = nil
		s.Status = StatusError
	}
	return s
}

// fail moves a loading job to Error with msg. Terminal states are kept.
func fail(s State, msg string) State {
	return Reduce(s, event.NewError(msg))
}
