package protocol

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/felho/pairflow/internal/lock"
	"github.com/felho/pairflow/internal/paths"
	"github.com/felho/pairflow/internal/registry"
	"github.com/felho/pairflow/internal/state"
	"github.com/felho/pairflow/internal/tmux"
	"github.com/felho/pairflow/internal/watchdog"
)

// StaleReason names why Reconcile flagged a runtime registry entry.
type StaleReason string

const (
	// StaleReasonNoSession: the registry names a tmux session that no
	// longer exists — the session died or was killed outside PairFlow.
	StaleReasonNoSession StaleReason = "no_live_session"
	// StaleReasonTerminalState: the bubble's own state.json has already
	// reached a terminal state, so the session (if any) is vestigial.
	StaleReasonTerminalState StaleReason = "bubble_terminal"
)

// StaleEntry is one registry row Reconcile found inconsistent with
// live tmux state or the bubble's own lifecycle.
type StaleEntry struct {
	BubbleID string
	Reason   StaleReason
	Removed  bool
}

// StuckBubble is a running bubble whose watchdog has expired: work sits
// on an agent's hook with nobody driving it. Reconcile only reports
// these — it never forces a pass or cancels a bubble on a human's
// behalf, the same restraint the teacher's daemon GUPP check applies
// ("if you have work on your hook, you run it" is a nudge, not an
// automatic reassignment).
type StuckBubble struct {
	BubbleID    string
	State       state.Lifecycle
	ActiveAgent string
	ActiveRole  string
	OverdueBy   time.Duration
}

// Report is the full result of one reconciliation pass.
type Report struct {
	StaleEntries []StaleEntry
	StuckBubbles []StuckBubble
}

// DefaultStuckMultiple is how many watchdog periods of continuous
// inactivity must elapse before Reconcile calls a bubble "likely
// stuck" rather than merely watchdog-expired: a single missed
// watchdog tick is routine (an operator reading a long diff); three in
// a row is what the teacher's GUPP check would escalate.
const DefaultStuckMultiple = 3

// Reconcile cross-checks the runtime session registry against live
// tmux sessions and each bubble's persisted lifecycle state (spec
// §4.H), and separately flags bubbles whose watchdog reference is at
// least stuckMultiple × watchdogTimeout old as "likely stuck" (spec
// §4.F, the GUPP-style check). Unless dryRun is set, stale registry
// rows are removed; stuck bubbles are always report-only — Reconcile
// never passes the turn or cancels a bubble itself.
func Reconcile(repoPath string, watchdogTimeout time.Duration, stuckMultiple int, dryRun bool, now time.Time) (*Report, error) {
	if stuckMultiple <= 0 {
		stuckMultiple = DefaultStuckMultiple
	}
	canon, err := filepath.EvalSymlinks(repoPath)
	if err != nil {
		return nil, fmt.Errorf("resolving repo path %q: %w", repoPath, err)
	}
	canon, err = filepath.Abs(canon)
	if err != nil {
		return nil, fmt.Errorf("absolute path for %q: %w", canon, err)
	}
	sessionsFile := filepath.Join(canon, ".pairflow", "runtime", "sessions.json")
	registryLock := filepath.Join(canon, ".pairflow", "runtime", "sessions.lock")

	bubblesRoot, err := paths.BubblesRoot(canon)
	if err != nil {
		return nil, err
	}

	t := tmux.New()
	liveSessions, err := t.ListSessions()
	if err != nil {
		return nil, fmt.Errorf("listing live multiplexer sessions: %w", err)
	}
	live := map[string]bool{}
	for _, s := range liveSessions {
		live[s] = true
	}

	report := &Report{}

	err = lock.WithFileLock(context.Background(), registryLock, DefaultLockTimeout, func() error {
		reg, err := registry.Load(sessionsFile)
		if err != nil {
			return err
		}

		for bubbleID, entry := range reg {
			stateFile := filepath.Join(bubblesRoot, bubbleID, "state.json")
			snap, readErr := state.ReadSnapshot(stateFile)

			var reason StaleReason
			stale := false
			switch {
			case !live[entry.TmuxSessionName]:
				reason = StaleReasonNoSession
				stale = true
			case readErr == nil && snap.Snapshot.State.Terminal():
				reason = StaleReasonTerminalState
				stale = true
			}

			if !stale {
				continue
			}

			removed := false
			if !dryRun {
				if err := registry.Remove(sessionsFile, bubbleID); err != nil {
					return fmt.Errorf("removing stale registry entry %s: %w", bubbleID, err)
				}
				removed = true
			}
			report.StaleEntries = append(report.StaleEntries, StaleEntry{BubbleID: bubbleID, Reason: reason, Removed: removed})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	ids, err := listBubbleIDs(bubblesRoot)
	if err != nil {
		return nil, err
	}
	for _, bubbleID := range ids {
		stateFile := filepath.Join(bubblesRoot, bubbleID, "state.json")
		snap, err := state.ReadSnapshot(stateFile)
		if err != nil {
			continue
		}
		stuckTimeout := watchdogTimeout * time.Duration(stuckMultiple)
		status := watchdog.Evaluate(&snap.Snapshot, stuckTimeout, now)
		if !status.Monitored || !status.Expired || status.Deadline == nil {
			continue
		}
		report.StuckBubbles = append(report.StuckBubbles, StuckBubble{
			BubbleID:    bubbleID,
			State:       snap.Snapshot.State,
			ActiveAgent: activeAgentName(&snap.Snapshot),
			ActiveRole:  activeRoleName(&snap.Snapshot),
			OverdueBy:   now.Sub(*status.Deadline),
		})
	}

	return report, nil
}

func listBubbleIDs(bubblesRoot string) ([]string, error) {
	entries, err := os.ReadDir(bubblesRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("listing bubbles directory %s: %w", bubblesRoot, err)
	}
	var ids []string
	for _, entry := range entries {
		if entry.IsDir() {
			ids = append(ids, entry.Name())
		}
	}
	return ids, nil
}
