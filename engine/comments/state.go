// Package comments walks the paginated top-level comment listing of a video,
// expands every thread's replies and decides when to stop.
package comments

import "math"

// Budgets for consecutive failures and consecutive empty pages.
const (
	MaxTransientErrors = 3
	MaxEmptyPages      = 3
)

// ObservationKind classifies the outcome of one page attempt.
type ObservationKind int

const (
	// Failed is a transport, status or parse failure of the page or of one
	// of its reply expansions.
	Failed ObservationKind = iota
	// Empty is a valid response without a comment list.
	Empty
	// Page is a valid response with at least one comment.
	Page
)

// Observation is what the collector saw for the current page.
type Observation struct {
	Kind ObservationKind
	// NewTopLevel is the number of top-level comments not seen before.
	NewTopLevel int
	// NewReplies is the sum of reported reply counts of those comments.
	NewReplies int
}

// Action tells the collector what to do next.
type Action int

const (
	Retry Action = iota
	Advance
	Stop
)

func (a Action) String() string {
	switch a {
	case Retry:
		return "retry"
	case Advance:
		return "advance"
	default:
		return "stop"
	}
}

// StopReason records why a run ended.
type StopReason string

const (
	StopCoverage    StopReason = "coverage"
	StopStall       StopReason = "stall"
	StopRetryBudget StopReason = "retry-budget"
	StopEmptyBudget StopReason = "empty-budget"
	StopCanceled    StopReason = "canceled"
)

// Decision is the result of one transition.
type Decision struct {
	Action Action
	Reason StopReason
}

// State is the per-run pagination state. It is a value; Next never mutates
// its receiver.
type State struct {
	Page         int
	TopLevel     int
	Total        int
	PrevTopLevel int
	Empty        int
	Errors       int
	Target       int
}

// NewState starts at page 0 with target floor(reported * fraction).
func NewState(reported int64, fraction float64) State {
	target := 0
	if reported > 0 {
		target = int(math.Floor(float64(reported) * fraction))
	}
	return State{Target: target}
}

// Next applies one observation and returns the successor state.
func (s State) Next(o Observation) (State, Decision) {
	switch o.Kind {
	case Failed:
		s.Errors++
		if s.Errors >= MaxTransientErrors {
			return s, Decision{Action: Stop, Reason: StopRetryBudget}
		}
		return s, Decision{Action: Retry}

	case Empty:
		s.Errors = 0
		s.Empty++
		if s.Empty >= MaxEmptyPages {
			return s, Decision{Action: Stop, Reason: StopEmptyBudget}
		}
		s.Page++
		return s, Decision{Action: Advance}
	}

	s.Errors = 0
	s.Empty = 0
	s.TopLevel += o.NewTopLevel
	s.Total += o.NewTopLevel + o.NewReplies

	if s.Total >= s.Target {
		return s, Decision{Action: Stop, Reason: StopCoverage}
	}
	if s.TopLevel == s.PrevTopLevel {
		return s, Decision{Action: Stop, Reason: StopStall}
	}
	s.PrevTopLevel = s.TopLevel
	s.Page++
	return s, Decision{Action: Advance}
}

// Coverage is the percentage of the target reached so far.
func (s State) Coverage() float64 {
	if s.Target == 0 {
		return 100
	}
	return float64(s.Total) / float64(s.Target) * 100
}
