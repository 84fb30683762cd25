package models

import (
	"fmt"
	"time"
)

// ItemState is the lifecycle position of one item inside the orchestrator.
type ItemState int

const (
	StatePending ItemState = iota
	StateFetching
	StateRunning
	StateParsing
	StateDone
	StateFailed
)

func (s ItemState) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateFetching:
		return "fetching"
	case StateRunning:
		return "running"
	case StateParsing:
		return "parsing"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// IsTerminal reports whether no further transition is allowed.
func (s ItemState) IsTerminal() bool {
	return s == StateDone || s == StateFailed
}

// CanTransition reports whether from -> to is a legal step. Each non-terminal
// state advances to exactly the next one or fails.
func CanTransition(from, to ItemState) bool {
	if from.IsTerminal() {
		return false
	}
	if to == StateFailed {
		return true
	}
	return to == from+1
}

// ItemFailure records why one item did not produce a summary.
type ItemFailure struct {
	ID    string
	Stage ItemState
	Err   error
}

func (f ItemFailure) Error() string {
	return fmt.Sprintf("%s failed while %s: %v", f.ID, f.Stage, f.Err)
}

func (f ItemFailure) Unwrap() error {
	return f.Err
}

// RunReport holds the overall result of an orchestrator run.
type RunReport struct {
	RunID     string
	Dataset   []*ItemSummary
	Failures  []ItemFailure
	Succeeded int
	Failed    int
	Abandoned int
	StartTime time.Time
	EndTime   time.Time
}

// Total is the number of items handed to the run.
func (r *RunReport) Total() int {
	return r.Succeeded + r.Failed + r.Abandoned
}
