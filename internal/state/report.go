package state

import (
	"time"

	"github.com/picklr-io/stackdeploy/internal/ir"
)

// Report describes the most recent non-trivial sync cycle. It is written for
// operators and the status command. No cycle reads it back to make a
// decision, and it never contains secret values.
type Report struct {
	CycleID    string        `json:"cycle_id"`
	Host       string        `json:"host"`
	Commit     string        `json:"commit,omitempty"`
	Sync       string        `json:"sync"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Error      string        `json:"error,omitempty"`
	Stacks     []StackReport `json:"stacks"`
}

// StackReport is the outcome of one stack.
type StackReport struct {
	Name       string `json:"name"`
	Status     string `json:"status"`
	Reason     string `json:"reason,omitempty"`
	CausedBy   string `json:"caused_by,omitempty"`
	Error      string `json:"error,omitempty"`
	DurationMS int64  `json:"duration_ms"`
}

// StackReports converts cycle outcomes for a report.
func StackReports(outcomes []ir.Outcome) []StackReport {
	out := make([]StackReport, 0, len(outcomes))
	for _, o := range outcomes {
		r := StackReport{
			Name:       o.Stack,
			Status:     string(o.Status),
			Reason:     o.Reason,
			CausedBy:   o.CausedBy,
			DurationMS: o.Duration.Milliseconds(),
		}
		if o.Err != nil {
			r.Error = o.Err.Error()
		}
		out = append(out, r)
	}
	return out
}

// Summary counts the stacks in the report by status.
func (r *Report) Summary() ir.OutcomeSummary {
	var s ir.OutcomeSummary
	for _, st := range r.Stacks {
		switch ir.OutcomeStatus(st.Status) {
		case ir.OutcomeDeployed:
			s.Deployed++
		case ir.OutcomeSkipped:
			s.Skipped++
		case ir.OutcomeFailed:
			s.Failed++
		case ir.OutcomeStopped:
			s.Stopped++
		}
	}
	return s
}

// Duration returns how long the cycle took.
func (r *Report) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}
