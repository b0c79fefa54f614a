package session

import (
	"fmt"
	"time"
)

// State is a session lifecycle state.
type State string

const (
	StateIdle             State = "idle"
	StateResolving        State = "resolving"
	StateStartingMonitors State = "starting-monitors"
	StateBenchmarkRunning State = "benchmark-running"
	StateStoppingMonitors State = "stopping-monitors"
	StateAggregating      State = "aggregating"
	StateComplete         State = "complete"
	StateFailed           State = "failed"
)

// Terminal reports whether no further transitions can happen.
func (s State) Terminal() bool {
	return s == StateComplete || s == StateFailed
}

// next lists the allowed successors of each non-terminal state. Failed is
// reachable from all of them.
var next = map[State]State{
	StateIdle:             StateResolving,
	StateResolving:        StateStartingMonitors,
	StateStartingMonitors: StateBenchmarkRunning,
	StateBenchmarkRunning: StateStoppingMonitors,
	StateStoppingMonitors: StateAggregating,
	StateAggregating:      StateComplete,
}

// CanTransition reports whether from -> to is a legal step.
func CanTransition(from, to State) bool {
	if from.Terminal() {
		return false
	}
	return to == StateFailed || next[from] == to
}

// Reason classifies a failed session.
type Reason string

const (
	ReasonSetup          Reason = "setup"
	ReasonTargetNotFound Reason = "target-not-found"
	ReasonArchiveFailed  Reason = "archive-failed"
	// ReasonInterrupted is a stop request before the workload started.
	ReasonInterrupted Reason = "interrupted"
)

// Transition records when a state was entered.
type Transition struct {
	State State     `json:"state"`
	At    time.Time `json:"at"`
}

// WarningKind classifies a recoverable anomaly.
type WarningKind string

const (
	WarnMonitorSkipped      WarningKind = "monitor-skipped"
	WarnMonitorLaunchFailed WarningKind = "monitor-launch-failed"
	WarnMonitorForced       WarningKind = "monitor-forced"
	WarnMonitorCrashed      WarningKind = "monitor-crashed"
	WarnWorkloadExit        WarningKind = "workload-exit"
	WarnWorkloadTimeout     WarningKind = "workload-timeout"
	WarnWorkloadStartFailed WarningKind = "workload-start-failed"
	WarnInterrupted         WarningKind = "interrupted"
	WarnHandOffFailed       WarningKind = "hand-off-failed"
	WarnPublishFailed       WarningKind = "publish-failed"
	WarnTeardownFailed      WarningKind = "teardown-failed"
)

// Warning is an anomaly that did not stop the session.
type Warning struct {
	Kind    WarningKind `json:"kind"`
	Monitor string      `json:"monitor,omitempty"`
	Message string      `json:"message"`
	At      time.Time   `json:"at"`
}

// FailedError is returned for sessions that ended in StateFailed.
type FailedError struct {
	Reason Reason
	Err    error
}

func (e *FailedError) Error() string {
	return fmt.Sprintf("session failed (%s): %v", e.Reason, e.Err)
}

func (e *FailedError) Unwrap() error {
	return e.Err
}
