package models

import "time"

// Outcome is the terminal result of one device reboot task.
type Outcome string

// Task outcomes.
const (
	OutcomeSucceeded     Outcome = "succeeded"
	OutcomeFailed        Outcome = "failed"
	OutcomeDryRunSkipped Outcome = "skipped-dry-run"
	OutcomeAborted       Outcome = "aborted"   // stopped before the reboot command was sent
	OutcomeCancelled     Outcome = "cancelled" // rebooted, stopped before it was confirmed online
)

// Pipeline stage identifiers.
const (
	StageLogin         = "login"
	StageLoadInventory = "load-inventory"
	StageRebootAll     = "reboot-all"
)

// EventStatus is the lifecycle position carried by a ProgressEvent.
type EventStatus string

// Event statuses.
const (
	StatusPending   EventStatus = "pending"
	StatusRunning   EventStatus = "running"
	StatusSucceeded EventStatus = "succeeded"
	StatusFailed    EventStatus = "failed"
	StatusSkipped   EventStatus = "skipped"
)

// ProgressEvent is one ordered progress notification. Task is the device MAC
// for per-device events and empty for stage events.
type ProgressEvent struct {
	Stage  string
	Task   string
	Status EventStatus
	Title  string
	Time   time.Time
}

// RebootResult holds the result of one device reboot task.
type RebootResult struct {
	MAC       string
	Name      string
	Outcome   Outcome
	Commanded bool // the reboot command was accepted
	Polls     int
	Duration  time.Duration
	Error     error
}

// RunSummary holds the aggregated result of one run.
type RunSummary struct {
	RunID      string
	Site       string
	DryRun     bool
	StartTime  time.Time
	Duration   time.Duration
	Discovered int
	Results    []RebootResult

	// Error info (if failed).
	FailedStage string
	Error       error
}

// Count returns the number of results with the given outcome.
func (s RunSummary) Count(o Outcome) int {
	n := 0
	for _, r := range s.Results {
		if r.Outcome == o {
			n++
		}
	}
	return n
}
