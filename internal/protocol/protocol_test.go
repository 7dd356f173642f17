package protocol

import (
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/felho/pairflow/internal/bubble"
	"github.com/felho/pairflow/internal/envelope"
	"github.com/felho/pairflow/internal/paths"
	"github.com/felho/pairflow/internal/state"
)

func requireTmux(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("tmux not supported on Windows")
	}
	if _, err := exec.LookPath("tmux"); err != nil {
		t.Skip("tmux not installed")
	}
}

func initTestRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	run := func(args ...string) {
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		if err := cmd.Run(); err != nil {
			t.Fatalf("git %v: %v", args, err)
		}
	}
	run("init", "-b", "main")
	run("config", "user.email", "test@test.com")
	run("config", "user.name", "Test User")
	if err := os.WriteFile(filepath.Join(dir, "README.md"), []byte("# Test\n"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	run("add", ".")
	run("commit", "-m", "initial")
	return dir
}

func newTestEngine(t *testing.T, repoDir, bubbleID string) *Engine {
	t.Helper()
	p, err := paths.Resolve(repoDir, bubbleID)
	if err != nil {
		t.Fatalf("paths.Resolve: %v", err)
	}
	cfg, err := bubble.NewConfig(bubbleID, repoDir, "main", bubble.AgentCodex, bubble.AgentClaude)
	if err != nil {
		t.Fatalf("bubble.NewConfig: %v", err)
	}
	clock := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	e := NewEngine(p, cfg)
	e.Now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}
	e.LockTimeout = time.Second
	return e
}

func TestCreateWritesInitialArtifacts(t *testing.T) {
	repoDir := initTestRepo(t)
	e := newTestEngine(t, repoDir, "b_create1")

	snap, err := e.Create("implement the thing")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if snap.Snapshot.State != state.StateCreated {
		t.Fatalf("expected CREATED, got %s", snap.Snapshot.State)
	}

	if _, err := os.Stat(e.Paths.ConfigFile); err != nil {
		t.Fatalf("expected bubble.toml to exist: %v", err)
	}
	taskBytes, err := os.ReadFile(e.Paths.TaskFile)
	if err != nil || string(taskBytes) != "implement the thing" {
		t.Fatalf("expected task.md content to round-trip, got %q (err=%v)", taskBytes, err)
	}

	envelopes, err := os.ReadFile(e.Paths.TranscriptFile)
	if err != nil {
		t.Fatalf("reading transcript: %v", err)
	}
	if len(envelopes) == 0 {
		t.Fatal("expected a TASK envelope to have been appended")
	}
}

func TestCreateRefusesWhenBubbleAlreadyExists(t *testing.T) {
	repoDir := initTestRepo(t)
	e := newTestEngine(t, repoDir, "b_dup1")

	if _, err := e.Create("task one"); err != nil {
		t.Fatalf("first Create: %v", err)
	}
	if _, err := e.Create("task two"); err == nil {
		t.Fatal("expected second Create against the same bubble id to fail")
	}
}

func TestFullLifecycleHappyPath(t *testing.T) {
	requireTmux(t)
	repoDir := initTestRepo(t)
	e := newTestEngine(t, repoDir, "b_happy1")
	t.Cleanup(func() {
		_, _ = e.Delete(true)
	})

	if _, err := e.Create("ship the feature"); err != nil {
		t.Fatalf("Create: %v", err)
	}

	running, err := e.Start()
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if running.Snapshot.State != state.StateRunning {
		t.Fatalf("expected RUNNING after Start, got %s", running.Snapshot.State)
	}
	if running.Snapshot.ActiveAgent == nil || *running.Snapshot.ActiveAgent != string(bubble.AgentCodex) {
		t.Fatalf("expected implementer (codex) to hold the turn after Start, got %+v", running.Snapshot.ActiveAgent)
	}
	if len(running.Snapshot.RoundRoleHistory) != 1 || running.Snapshot.RoundRoleHistory[0].Round != 0 {
		t.Fatalf("expected one round-0 history entry, got %+v", running.Snapshot.RoundRoleHistory)
	}

	passed, err := e.Pass(string(bubble.AgentCodex), envelope.PassIntentReview, "ready for review", nil)
	if err != nil {
		t.Fatalf("Pass: %v", err)
	}
	if passed.Snapshot.ActiveAgent == nil || *passed.Snapshot.ActiveAgent != string(bubble.AgentClaude) {
		t.Fatalf("expected reviewer (claude) to hold the turn after Pass, got %+v", passed.Snapshot.ActiveAgent)
	}

	converged, err := e.Converged("looks good")
	if err != nil {
		t.Fatalf("Converged: %v", err)
	}
	if converged.Snapshot.State != state.StateReadyForApproval {
		t.Fatalf("expected READY_FOR_APPROVAL, got %s", converged.Snapshot.State)
	}

	if err := e.ApprovalRequest(); err != nil {
		t.Fatalf("ApprovalRequest: %v", err)
	}

	approved, err := e.ApprovalDecision(envelope.DecisionApprove)
	if err != nil {
		t.Fatalf("ApprovalDecision: %v", err)
	}
	if approved.Snapshot.State != state.StateApprovedForCommit {
		t.Fatalf("expected APPROVED_FOR_COMMIT, got %s", approved.Snapshot.State)
	}

	done, err := e.Commit("feature complete", []string{"b_happy1"})
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if done.Snapshot.State != state.StateDone {
		t.Fatalf("expected DONE, got %s", done.Snapshot.State)
	}
	if done.Snapshot.ActiveAgent != nil {
		t.Fatalf("expected active tuple cleared in a terminal state, got %+v", done.Snapshot.ActiveAgent)
	}
}

func TestAskHumanAndReplyRoundTrip(t *testing.T) {
	requireTmux(t)
	repoDir := initTestRepo(t)
	e := newTestEngine(t, repoDir, "b_ask1")
	t.Cleanup(func() {
		_, _ = e.Delete(true)
	})

	if _, err := e.Create("needs a decision"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := e.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	waiting, err := e.AskHuman("should we use postgres or sqlite?", nil)
	if err != nil {
		t.Fatalf("AskHuman: %v", err)
	}
	if waiting.Snapshot.State != state.StateWaitingHuman {
		t.Fatalf("expected WAITING_HUMAN, got %s", waiting.Snapshot.State)
	}

	inbox, err := os.ReadFile(e.Paths.InboxFile)
	if err != nil || len(inbox) == 0 {
		t.Fatalf("expected HUMAN_QUESTION recorded in inbox: %v", err)
	}

	resumed, err := e.HumanReply("use postgres")
	if err != nil {
		t.Fatalf("HumanReply: %v", err)
	}
	if resumed.Snapshot.State != state.StateRunning {
		t.Fatalf("expected RUNNING after HumanReply, got %s", resumed.Snapshot.State)
	}
}

func TestResumeSendsDefaultReply(t *testing.T) {
	requireTmux(t)
	repoDir := initTestRepo(t)
	e := newTestEngine(t, repoDir, "b_resume1")
	t.Cleanup(func() {
		_, _ = e.Delete(true)
	})

	if _, err := e.Create("needs a decision"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := e.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := e.AskHuman("anyone there?", nil); err != nil {
		t.Fatalf("AskHuman: %v", err)
	}

	resumed, err := e.Resume()
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if resumed.Snapshot.State != state.StateRunning {
		t.Fatalf("expected RUNNING after Resume, got %s", resumed.Snapshot.State)
	}
}

func TestApprovalDecisionReviseStartsNewRound(t *testing.T) {
	requireTmux(t)
	repoDir := initTestRepo(t)
	e := newTestEngine(t, repoDir, "b_revise1")
	t.Cleanup(func() {
		_, _ = e.Delete(true)
	})

	if _, err := e.Create("first pass"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := e.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := e.Pass(string(bubble.AgentCodex), envelope.PassIntentReview, "look at this", nil); err != nil {
		t.Fatalf("Pass: %v", err)
	}
	if _, err := e.Converged("mostly good"); err != nil {
		t.Fatalf("Converged: %v", err)
	}

	revised, err := e.ApprovalDecision(envelope.DecisionRevise)
	if err != nil {
		t.Fatalf("ApprovalDecision(revise): %v", err)
	}
	if revised.Snapshot.State != state.StateRunning {
		t.Fatalf("expected RUNNING after revise, got %s", revised.Snapshot.State)
	}
	if revised.Snapshot.Round != 1 {
		t.Fatalf("expected round to advance to 1, got %d", revised.Snapshot.Round)
	}
	if len(revised.Snapshot.RoundRoleHistory) != 2 {
		t.Fatalf("expected a second round_role_history entry, got %+v", revised.Snapshot.RoundRoleHistory)
	}
	if revised.Snapshot.ActiveAgent == nil || *revised.Snapshot.ActiveAgent != string(bubble.AgentCodex) {
		t.Fatalf("expected implementer to hold the turn again after revise, got %+v", revised.Snapshot.ActiveAgent)
	}
}

func TestApprovalDecisionRejectCancelsBubble(t *testing.T) {
	requireTmux(t)
	repoDir := initTestRepo(t)
	e := newTestEngine(t, repoDir, "b_reject1")
	t.Cleanup(func() {
		_, _ = e.Delete(true)
	})

	if _, err := e.Create("won't fly"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := e.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := e.Pass(string(bubble.AgentCodex), envelope.PassIntentReview, "done", nil); err != nil {
		t.Fatalf("Pass: %v", err)
	}
	if _, err := e.Converged("done"); err != nil {
		t.Fatalf("Converged: %v", err)
	}

	cancelled, err := e.ApprovalDecision(envelope.DecisionReject)
	if err != nil {
		t.Fatalf("ApprovalDecision(reject): %v", err)
	}
	if cancelled.Snapshot.State != state.StateCancelled {
		t.Fatalf("expected CANCELLED, got %s", cancelled.Snapshot.State)
	}
	if cancelled.Snapshot.ActiveAgent != nil {
		t.Fatalf("expected active tuple cleared after cancellation, got %+v", cancelled.Snapshot.ActiveAgent)
	}
}

func TestPassRejectsWrongActor(t *testing.T) {
	requireTmux(t)
	repoDir := initTestRepo(t)
	e := newTestEngine(t, repoDir, "b_wrongactor1")
	t.Cleanup(func() {
		_, _ = e.Delete(true)
	})

	if _, err := e.Create("task"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := e.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if _, err := e.Pass(string(bubble.AgentClaude), envelope.PassIntentReview, "not my turn", nil); err == nil {
		t.Fatal("expected Pass from the non-active agent to fail")
	}
}

func TestDeleteRefusesWithUncommittedWorkThenForceRemoves(t *testing.T) {
	requireTmux(t)
	repoDir := initTestRepo(t)
	e := newTestEngine(t, repoDir, "b_delete1")

	if _, err := e.Create("task"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := e.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if err := os.WriteFile(filepath.Join(e.Paths.WorktreePath, "scratch.txt"), []byte("wip"), 0o644); err != nil {
		t.Fatalf("write scratch file: %v", err)
	}

	if _, err := e.Delete(false); err == nil {
		t.Fatal("expected Delete without force to refuse given uncommitted work")
	}

	if _, err := os.Stat(e.Paths.BubbleDir); err != nil {
		t.Fatalf("expected bubble directory to survive a refused delete: %v", err)
	}

	if _, err := e.Delete(true); err != nil {
		t.Fatalf("Delete(force): %v", err)
	}
	if _, err := os.Stat(e.Paths.BubbleDir); !os.IsNotExist(err) {
		t.Fatalf("expected bubble directory removed after forced delete, stat err=%v", err)
	}
}

func TestReconcileRemovesStaleRegistryEntry(t *testing.T) {
	requireTmux(t)
	repoDir := initTestRepo(t)
	e := newTestEngine(t, repoDir, "b_reconcile1")

	if _, err := e.Create("task"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := e.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	// Simulate the multiplexer session having died outside PairFlow.
	killCmd := exec.Command("tmux", "kill-session", "-t", "pf-b_reconcile1")
	_ = killCmd.Run()

	report, err := Reconcile(repoDir, 10*time.Minute, DefaultStuckMultiple, false, time.Now().UTC())
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	found := false
	for _, entry := range report.StaleEntries {
		if entry.BubbleID == "b_reconcile1" && entry.Reason == StaleReasonNoSession {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected b_reconcile1 flagged as stale, got %+v", report.StaleEntries)
	}

	_, _ = e.Delete(true)
}

func TestPathsExistsReflectsCreate(t *testing.T) {
	repoDir := initTestRepo(t)
	p, err := paths.Resolve(repoDir, "b_exists1")
	if err != nil {
		t.Fatalf("paths.Resolve: %v", err)
	}
	if p.Exists() {
		t.Fatal("expected bubble to not exist before Create")
	}

	e := newTestEngine(t, repoDir, "b_exists1")
	if _, err := e.Create("task"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if !p.Exists() {
		t.Fatal("expected bubble to exist after Create")
	}
}
