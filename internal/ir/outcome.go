package ir

import (
	"fmt"
	"time"
)

// OutcomeStatus is the result of one stack in one deployment cycle.
type OutcomeStatus string

const (
	OutcomeDeployed OutcomeStatus = "deployed"
	OutcomeSkipped  OutcomeStatus = "skipped"
	OutcomeFailed   OutcomeStatus = "failed"
	OutcomeStopped  OutcomeStatus = "stopped"
)

// Skip reasons.
const (
	ReasonDependencyFailed = "dependency failed"
	ReasonShutdown         = "shutdown"
	ReasonDependentRunning = "dependent still running"
)

// Outcome records what happened to a single stack during a cycle.
type Outcome struct {
	Stack    string
	Status   OutcomeStatus
	Reason   string // set for skipped stacks
	CausedBy string // failed stack that caused the skip, if any
	Err      error  // set for failed stacks
	Duration time.Duration
}

func (o Outcome) String() string {
	switch o.Status {
	case OutcomeSkipped:
		if o.CausedBy != "" {
			return fmt.Sprintf("%s: skipped (%s: %s)", o.Stack, o.Reason, o.CausedBy)
		}
		return fmt.Sprintf("%s: skipped (%s)", o.Stack, o.Reason)
	case OutcomeFailed:
		return fmt.Sprintf("%s: failed: %v", o.Stack, o.Err)
	default:
		return fmt.Sprintf("%s: %s", o.Stack, o.Status)
	}
}

// OutcomeSummary counts outcomes by status.
type OutcomeSummary struct {
	Deployed int
	Skipped  int
	Failed   int
	Stopped  int
}

// Summarize counts the outcomes of a cycle.
func Summarize(outcomes []Outcome) OutcomeSummary {
	var s OutcomeSummary
	for _, o := range outcomes {
		switch o.Status {
		case OutcomeDeployed:
			s.Deployed++
		case OutcomeSkipped:
			s.Skipped++
		case OutcomeFailed:
			s.Failed++
		case OutcomeStopped:
			s.Stopped++
		}
	}
	return s
}
