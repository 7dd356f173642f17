package watchdog

import (
	"testing"
	"time"

	"github.com/felho/pairflow/internal/state"
)

func strPtr(s string) *string        { return &s }
func rolePtr(r state.Role) *state.Role { return &r }
func timePtr(t time.Time) *time.Time { return &t }

func TestEvaluateNotMonitoredForUntrackedState(t *testing.T) {
	snap := &state.Snapshot{State: state.StateCreated}
	status := Evaluate(snap, 10*time.Minute, time.Now())
	if status.Monitored {
		t.Fatal("CREATED should never be monitored")
	}
}

func TestEvaluateNotMonitoredWithoutActiveAgent(t *testing.T) {
	snap := &state.Snapshot{State: state.StateRunning}
	status := Evaluate(snap, 10*time.Minute, time.Now())
	if status.Monitored {
		t.Fatal("RUNNING with nil active_agent should not be monitored")
	}
}

func TestEvaluateUsesLastCommandAtOverActiveSince(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	lastCommand := now.Add(-5 * time.Minute)
	activeSince := now.Add(-50 * time.Minute)

	snap := &state.Snapshot{
		State:         state.StateRunning,
		ActiveAgent:   strPtr("codex"),
		ActiveSince:   timePtr(activeSince),
		ActiveRole:    rolePtr(state.RoleImplementer),
		LastCommandAt: timePtr(lastCommand),
	}

	status := Evaluate(snap, 10*time.Minute, now)
	if !status.Monitored {
		t.Fatal("expected monitored")
	}
	if status.Expired {
		t.Fatal("5 minutes elapsed against a 10 minute timeout should not be expired")
	}
	if status.RemainingSeconds != 5*60 {
		t.Fatalf("expected 300 remaining seconds, got %d", status.RemainingSeconds)
	}
}

func TestEvaluateExpired(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	lastCommand := now.Add(-15 * time.Minute)

	snap := &state.Snapshot{
		State:         state.StateWaitingHuman,
		ActiveAgent:   strPtr("claude"),
		ActiveSince:   timePtr(now.Add(-20 * time.Minute)),
		ActiveRole:    rolePtr(state.RoleReviewer),
		LastCommandAt: timePtr(lastCommand),
	}

	status := Evaluate(snap, 10*time.Minute, now)
	if !status.Expired {
		t.Fatal("expected expired watchdog")
	}
	if status.RemainingSeconds != 0 {
		t.Fatalf("expected 0 remaining seconds once expired, got %d", status.RemainingSeconds)
	}
}

func TestEvaluateNoReferenceTimestamp(t *testing.T) {
	snap := &state.Snapshot{
		State:       state.StateRunning,
		ActiveAgent: strPtr("codex"),
		ActiveRole:  rolePtr(state.RoleImplementer),
	}
	status := Evaluate(snap, 10*time.Minute, time.Now())
	if !status.Monitored {
		t.Fatal("expected monitored")
	}
	if status.Deadline != nil {
		t.Fatal("expected nil deadline when no reference timestamp is available")
	}
	if status.Expired {
		t.Fatal("should not report expired with no reference timestamp")
	}
}
