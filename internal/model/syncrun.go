package model

import "time"

// RunState is the coordinator's top-level state machine position, spec §4.7.
type RunState string

const (
	RunInit        RunState = "INIT"
	RunDetecting   RunState = "DETECTING"
	RunReconciling RunState = "RECONCILING"
	RunDispatching RunState = "DISPATCHING"
	RunFinalized   RunState = "FINALIZED"
	RunAborted     RunState = "ABORTED"
)

// SyncRun is a single end-to-end invocation of detection + reconciliation +
// action, identified by a UUID.
type SyncRun struct {
	ID         string
	State      RunState
	StartedAt  time.Time
	FinishedAt *time.Time
	Summary    RunSummary
}

// RunSummary holds the per-outcome-class counters surfaced to operators, per
// spec §7 ("the run summary surfaces counts by outcome class").
type RunSummary struct {
	EventsDetected  int
	EventsProcessed int
	EventsPartial   int
	EventsError     int
	EventsSkipped   int

	ActionsAttempted int
	ActionsSucceeded int
	ActionsFailed    int

	PerPlatform map[PlatformTag]PlatformSummary
}

// PlatformSummary is the per-marketplace slice of a RunSummary.
type PlatformSummary struct {
	Fetched         int
	Creates         int
	Updates         int
	Removes         int
	DetectionError  string
	DetectionTimeIn time.Duration
}

// NewRunSummary returns a zeroed summary with an initialized per-platform map.
func NewRunSummary() RunSummary {
	s := RunSummary{PerPlatform: make(map[PlatformTag]PlatformSummary)}
	for _, p := range AllPlatforms() {
		s.PerPlatform[p] = PlatformSummary{}
	}
	return s
}
