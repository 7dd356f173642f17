// Package watchdog computes bubble liveness purely from a state snapshot
// and wall-clock time (spec §4.F). It never reads the filesystem or
// blocks — the caller supplies `now` so the result is reproducible in
// tests, the same discipline the teacher applies to its pure
// daemon-tick decision helpers.
package watchdog

import (
	"math"
	"time"

	"github.com/felho/pairflow/internal/state"
)

// Status is the outcome of evaluating a bubble's watchdog at a point
// in time.
type Status struct {
	Monitored       bool
	Deadline        *time.Time
	RemainingSeconds int
	Expired         bool
}

var trackedStates = map[state.Lifecycle]bool{
	state.StateRunning:           true,
	state.StateWaitingHuman:      true,
	state.StateReadyForApproval:  true,
	state.StateApprovedForCommit: true,
	state.StateCommitted:         true,
}

// Evaluate computes the watchdog status of snap given timeout and the
// current instant now.
func Evaluate(snap *state.Snapshot, timeout time.Duration, now time.Time) Status {
	monitored := trackedStates[snap.State] && snap.ActiveAgent != nil
	if !monitored {
		return Status{Monitored: false}
	}

	var reference time.Time
	switch {
	case snap.LastCommandAt != nil:
		reference = *snap.LastCommandAt
	case snap.ActiveSince != nil:
		reference = *snap.ActiveSince
	default:
		// No reference timestamp available: report non-expired with no deadline.
		return Status{Monitored: true}
	}
	if reference.IsZero() {
		return Status{Monitored: true}
	}

	deadline := reference.Add(timeout)
	remaining := deadline.Sub(now)
	remainingSeconds := int(math.Ceil(remaining.Seconds()))
	if remainingSeconds < 0 {
		remainingSeconds = 0
	}

	return Status{
		Monitored:        true,
		Deadline:         &deadline,
		RemainingSeconds: remainingSeconds,
		Expired:          remaining <= 0,
	}
}
