// Package client consumes the gateway's event stream and folds it into the
// state a user interface renders: a status, the ordered progress history, and
// the final result or error.
package client

import (
	"encoding/json"
	"slices"
	"strings"

	"github.com/JakeFAU/siteaudit-bridge/internal/event"
)

// Status is the lifecycle position of a session's current job.
type Status string

// Session statuses.
const (
	StatusIdle     Status = "idle"
	StatusLoading  Status = "loading"
	StatusComplete Status = "complete"
	StatusError    Status = "error"
)

// Step is one entry of the progress history.
type Step struct {
	Stage  string `json:"stage"`
	Detail string `json:"detail,omitempty"`
	Label  string `json:"label"`
}

// State is the view model of one analysis session.
type State struct {
	Status            Status          `json:"status"`
	ProgressSteps     []Step          `json:"progressSteps"`
	CurrentStageLabel string          `json:"currentStageLabel,omitempty"`
	Result            json.RawMessage `json:"result,omitempty"`
	Error             string          `json:"error,omitempty"`
}

// Clone returns a deep copy safe to hand to another goroutine.
func (s State) Clone() State {
	s.ProgressSteps = slices.Clone(s.ProgressSteps)
	s.Result = slices.Clone(s.Result)
	return s
}

// loadingState is the state every new job starts from.
func loadingState() State {
	return State{Status: StatusLoading, ProgressSteps: []Step{}}
}

const maxDetailRunes = 60

var stageLabels = map[string]string{
	event.StageDomain:        "Checking domain strategy",
	event.StageRobots:        "Fetching robots.txt",
	event.StageSitemap:       "Fetching sitemap.xml",
	event.StageAgentFiles:    "Checking AI agent files (llms.txt)",
	event.StageInternalLinks: "Analyzing internal link structure",
	event.StagePage:          "Analyzing pages",
	event.StageComplete:      "Building report",
}

// Label returns the human-readable text for a progress stage. Unknown stages
// are shown as their raw name.
func Label(stage, detail string) string {
	if stage == event.StagePage && detail != "" {
		return "Analyzing " + shortenURL(detail)
	}
	if label, ok := stageLabels[stage]; ok {
		return label
	}
	return stage
}

func shortenURL(raw string) string {
	s := raw
	for _, prefix := range []string{"https://", "http://"} {
		if rest, ok := strings.CutPrefix(s, prefix); ok {
			s = rest
			break
		}
	}
	runes := []rune(s)
	if len(runes) <= maxDetailRunes {
		return s
	}
	return string(runes[:maxDetailRunes]) + "…"
}
