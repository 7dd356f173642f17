// Package workspace implements the two workspace-lifecycle contracts
// spec §4.G names: bootstrapping a bubble's dedicated git worktree and
// tearing it down again. It is a thin orchestration layer over
// internal/git, the same relationship the teacher's crew.Manager has
// to its own internal/git wrapper when it clones a worker's workspace.
package workspace

import (
	"fmt"

	"github.com/felho/pairflow/internal/git"
	"github.com/felho/pairflow/internal/pferrors"
)

// BootstrapWorktree ensures bubbleBranch points at baseBranch's current
// HEAD and that a worktree checking it out exists at worktreePath. It
// is idempotent: calling it again against an already-bootstrapped
// bubble only checks that the existing worktree is on bubbleBranch.
func BootstrapWorktree(repo *git.Git, baseBranch, bubbleBranch, worktreePath string) error {
	baseHead, err := repo.Rev(baseBranch)
	if err != nil {
		return fmt.Errorf("resolving base branch %q: %w", baseBranch, err)
	}

	exists, err := repo.BranchExists(bubbleBranch)
	if err != nil {
		return fmt.Errorf("checking bubble branch %q: %w", bubbleBranch, err)
	}

	worktreeRepo := git.New(worktreePath)
	if worktreeRepo.IsRepo() {
		// Already bootstrapped; verify it is on the expected branch.
		current, err := worktreeRepo.CurrentBranch()
		if err != nil {
			return fmt.Errorf("checking existing worktree branch: %w", err)
		}
		if current != bubbleBranch {
			return pferrors.NewWorkspaceBusy(fmt.Sprintf("worktree at %s is on branch %q, expected %q", worktreePath, current, bubbleBranch))
		}
		return nil
	}

	if !exists {
		if err := repo.CreateBranchFrom(bubbleBranch, baseHead); err != nil {
			return fmt.Errorf("creating bubble branch %q: %w", bubbleBranch, err)
		}
		if err := repo.WorktreeAddExisting(worktreePath, bubbleBranch); err != nil {
			return fmt.Errorf("adding worktree at %s: %w", worktreePath, err)
		}
		return nil
	}

	// Branch already exists (e.g. a retried start after a crash between
	// branch-create and worktree-add): re-converge it onto baseHead, then
	// attach the worktree.
	if err := repo.ResetBranchTo(bubbleBranch, baseHead); err != nil {
		return fmt.Errorf("re-converging bubble branch %q onto %q: %w", bubbleBranch, baseBranch, err)
	}
	if err := repo.WorktreeAddExisting(worktreePath, bubbleBranch); err != nil {
		return fmt.Errorf("adding worktree at %s: %w", worktreePath, err)
	}
	return nil
}

// TeardownResult reports what TeardownWorktree found or did.
type TeardownResult struct {
	Removed        bool
	ExternalWork   *git.UncommittedWorkStatus
	ArtifactsExist bool
}

// TeardownWorktree removes worktreePath and bubbleBranch. Unless force
// is set, it refuses to destroy anything when external artifacts
// (uncommitted changes, stashes, unpushed commits) are present,
// reporting them instead via TeardownResult.
func TeardownWorktree(repo *git.Git, worktreePath, bubbleBranch string, force bool) (*TeardownResult, error) {
	worktreeRepo := git.New(worktreePath)
	if !worktreeRepo.IsRepo() {
		// Nothing to tear down; still try to clean up a dangling branch.
		_ = repo.DeleteBranch(bubbleBranch, force)
		return &TeardownResult{Removed: true}, nil
	}

	status, err := worktreeRepo.CheckUncommittedWork()
	if err != nil {
		return nil, fmt.Errorf("checking worktree state before teardown: %w", err)
	}

	if !status.Clean() && !force {
		return &TeardownResult{
			Removed:        false,
			ExternalWork:   status,
			ArtifactsExist: true,
		}, pferrors.NewWorkspaceBusy(fmt.Sprintf("worktree %s has external artifacts: %s", worktreePath, status))
	}

	if err := repo.WorktreeRemove(worktreePath, true); err != nil {
		return nil, fmt.Errorf("removing worktree %s: %w", worktreePath, err)
	}
	if err := repo.WorktreePrune(); err != nil {
		return nil, fmt.Errorf("pruning worktree metadata: %w", err)
	}
	if err := repo.DeleteBranch(bubbleBranch, true); err != nil {
		return nil, fmt.Errorf("deleting bubble branch %q: %w", bubbleBranch, err)
	}

	return &TeardownResult{Removed: true, ExternalWork: status}, nil
}
