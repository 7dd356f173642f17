package protocol

import (
	"fmt"
	"os"

	"github.com/felho/pairflow/internal/envelope"
	"github.com/felho/pairflow/internal/git"
	"github.com/felho/pairflow/internal/metrics"
	"github.com/felho/pairflow/internal/pferrors"
	"github.com/felho/pairflow/internal/pflog"
	"github.com/felho/pairflow/internal/registry"
	"github.com/felho/pairflow/internal/state"
	"github.com/felho/pairflow/internal/tmux"
	"github.com/felho/pairflow/internal/transcript"
	"github.com/felho/pairflow/internal/workspace"
)

// Commit performs the external git commit against the bubble's
// worktree, then advances the bubble through COMMITTED to DONE,
// appending the closing DONE_PACKAGE envelope. Pre-state:
// APPROVED_FOR_COMMIT.
func (e *Engine) Commit(message string, refs []string) (snap *state.Fingerprinted, err error) {
	err = e.withLock(func() error {
		current, readErr := state.ReadSnapshot(e.Paths.StateFile)
		if readErr != nil {
			return readErr
		}
		if current.Snapshot.State != state.StateApprovedForCommit {
			return pferrors.NewInvalidState([]string{string(state.StateApprovedForCommit)}, string(current.Snapshot.State))
		}

		worktreeRepo := git.New(e.Paths.WorktreePath)
		status, err := worktreeRepo.CheckUncommittedWork()
		if err != nil {
			return fmt.Errorf("checking worktree before commit: %w", err)
		}
		if !status.Clean() {
			if err := worktreeRepo.Add("."); err != nil {
				return fmt.Errorf("staging worktree changes: %w", err)
			}
			if err := worktreeRepo.Commit(message); err != nil {
				return fmt.Errorf("committing worktree changes: %w", err)
			}
		}

		committed := current.Snapshot
		committed.State = state.StateCommitted
		committed.LastCommandAt = timePtr(e.now())
		writtenCommitted, writeErr := state.WriteSnapshot(e.Paths.StateFile, &committed, state.WriteOptions{ExpectedFingerprint: current.Fingerprint, ExpectedState: state.StateApprovedForCommit})
		if writeErr != nil {
			return writeErr
		}

		env := envelope.New(
			e.Paths.BubbleID,
			envelope.ParticipantOrchestrator,
			envelope.ParticipantHuman,
			envelope.TypeDonePackage,
			committed.Round,
			envelope.Payload{Summary: message},
			refs,
		)
		if _, err := transcript.AppendEnvelope(e.Paths.TranscriptFile, env); err != nil {
			return err
		}

		done := writtenCommitted.Snapshot
		done.State = state.StateDone
		done.ActiveAgent = nil
		done.ActiveRole = nil
		done.ActiveSince = nil
		written, writeErr := state.WriteSnapshot(e.Paths.StateFile, &done, state.WriteOptions{ExpectedFingerprint: writtenCommitted.Fingerprint, ExpectedState: state.StateCommitted})
		if writeErr != nil {
			return writeErr
		}
		snap = written
		metrics.EmitBestEffort(e.Paths.BubbleID, "commit", done.Round, "orchestrator", e.now())
		return nil
	})
	return snap, err
}

// Delete tears down a bubble's workspace, runtime registration, and
// on-disk directory. Unless force is set, it refuses when the
// worktree has uncommitted changes, stashes, or unpushed commits,
// returning a WorkspaceBusy error (exit code 2) and leaving everything
// untouched.
func (e *Engine) Delete(force bool) (*workspace.TeardownResult, error) {
	var result *workspace.TeardownResult
	err := e.withLock(func() error {
		repo := git.New(e.Paths.RepoRoot)
		teardown, err := workspace.TeardownWorktree(repo, e.Paths.WorktreePath, e.Config.BubbleBranch, force)
		if err != nil {
			result = teardown
			return err
		}
		result = teardown

		if err := e.withRegistryLock(func() error {
			return registry.Remove(e.Paths.SessionsFile, e.Paths.BubbleID)
		}); err != nil {
			return fmt.Errorf("removing registry entry: %w", err)
		}

		sessionName := registry.SessionName(e.Paths.BubbleID)
		if hasSession, hasErr := tmux.New().HasSession(sessionName); hasErr == nil && hasSession {
			// Best-effort: a session that refuses to die doesn't block
			// deletion of the bubble's own files.
			if killErr := tmux.New().KillSession(sessionName); killErr != nil {
				pflog.Default().Warnf("killing multiplexer session %s: %v", sessionName, killErr)
			}
		}

		if err := os.RemoveAll(e.Paths.BubbleDir); err != nil {
			return fmt.Errorf("removing bubble directory: %w", err)
		}
		metrics.EmitBestEffort(e.Paths.BubbleID, "delete", 0, "orchestrator", e.now())
		return nil
	})
	return result, err
}
