// Package git wraps the git subcommands PairFlow's workspace manager
// needs via subprocess, the same way the teacher's internal/git wraps
// git for crew/rig worktree management. Only the surface spec §6
// names is kept: show-toplevel, worktree add/remove/list, branch
// create, commit, status — plus the uncommitted-work check delete
// uses to decide whether a bubble's worktree may be torn down.
package git

import (
	"bytes"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/felho/pairflow/internal/pferrors"
)

// Git wraps git operations for a working directory.
type Git struct {
	workDir string
}

// New creates a Git wrapper rooted at workDir.
func New(workDir string) *Git {
	return &Git{workDir: workDir}
}

// WorkDir returns the working directory this wrapper operates in.
func (g *Git) WorkDir() string { return g.workDir }

// run executes a git command in workDir and returns trimmed stdout. A
// non-zero exit is reported as a *pferrors.ExternalCommandFailed
// carrying the raw stderr and exit code, mirroring the teacher's
// "observe raw output, don't interpret" GitError philosophy.
func (g *Git) run(args ...string) (string, error) {
	cmd := exec.Command("git", args...)
	if g.workDir != "" {
		cmd.Dir = g.workDir
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		exitCode := -1
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		}
		return "", pferrors.NewExternalCommandFailed("git", args, exitCode, strings.TrimSpace(stderr.String()), err)
	}
	return strings.TrimSpace(stdout.String()), nil
}

// ShowTopLevel runs `git rev-parse --show-toplevel`, resolving the
// repository root for a path inside it.
func (g *Git) ShowTopLevel() (string, error) {
	return g.run("rev-parse", "--show-toplevel")
}

// IsRepo reports whether workDir is inside a git repository.
func (g *Git) IsRepo() bool {
	_, err := g.run("rev-parse", "--git-dir")
	return err == nil
}

// CurrentBranch returns the name of the currently checked-out branch.
func (g *Git) CurrentBranch() (string, error) {
	return g.run("rev-parse", "--abbrev-ref", "HEAD")
}

// Rev resolves ref to a commit SHA.
func (g *Git) Rev(ref string) (string, error) {
	return g.run("rev-parse", ref)
}

// BranchExists reports whether a local branch exists.
func (g *Git) BranchExists(name string) (bool, error) {
	_, err := g.run("show-ref", "--verify", "--quiet", "refs/heads/"+name)
	if err != nil {
		var cmdErr *pferrors.ExternalCommandFailed
		if asExternalCommandFailed(err, &cmdErr) && cmdErr.ExitCode == 1 {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// CreateBranchFrom creates branch name pointed at ref. It is the
// primitive bootstrapWorktree uses to make bubbleBranch track
// baseBranch's HEAD.
func (g *Git) CreateBranchFrom(name, ref string) error {
	_, err := g.run("branch", name, ref)
	return err
}

// ResetBranchTo force-moves an existing branch to point at ref, used
// by bootstrapWorktree to re-converge bubbleBranch with baseBranch's
// current HEAD when the branch already exists (idempotent retry).
func (g *Git) ResetBranchTo(name, ref string) error {
	_, err := g.run("branch", "-f", name, ref)
	return err
}

// DeleteBranch removes a local branch.
func (g *Git) DeleteBranch(name string, force bool) error {
	flag := "-d"
	if force {
		flag = "-D"
	}
	_, err := g.run("branch", flag, name)
	return err
}

// WorktreeAddFromRef creates a worktree at path on a new branch
// starting from startPoint.
func (g *Git) WorktreeAddFromRef(path, branch, startPoint string) error {
	_, err := g.run("worktree", "add", "-b", branch, path, startPoint)
	return err
}

// WorktreeAddExisting creates a worktree at path checking out an
// already-existing branch, used when bootstrapWorktree retries after
// CreateBranchFrom already ran.
func (g *Git) WorktreeAddExisting(path, branch string) error {
	_, err := g.run("worktree", "add", path, branch)
	return err
}

// WorktreeRemove removes a worktree.
func (g *Git) WorktreeRemove(path string, force bool) error {
	args := []string{"worktree", "remove", path}
	if force {
		args = append(args, "--force")
	}
	_, err := g.run(args...)
	return err
}

// WorktreePrune removes worktree administrative entries for paths that
// no longer exist on disk.
func (g *Git) WorktreePrune() error {
	_, err := g.run("worktree", "prune")
	return err
}

// Worktree describes one entry from `git worktree list --porcelain`.
type Worktree struct {
	Path   string
	Branch string
	Commit string
}

// WorktreeList enumerates every worktree registered against this repo.
func (g *Git) WorktreeList() ([]Worktree, error) {
	out, err := g.run("worktree", "list", "--porcelain")
	if err != nil {
		return nil, err
	}

	var worktrees []Worktree
	var current Worktree
	for _, line := range strings.Split(out, "\n") {
		if line == "" {
			if current.Path != "" {
				worktrees = append(worktrees, current)
				current = Worktree{}
			}
			continue
		}
		switch {
		case strings.HasPrefix(line, "worktree "):
			current.Path = strings.TrimPrefix(line, "worktree ")
		case strings.HasPrefix(line, "HEAD "):
			current.Commit = strings.TrimPrefix(line, "HEAD ")
		case strings.HasPrefix(line, "branch "):
			current.Branch = strings.TrimPrefix(line, "branch refs/heads/")
		}
	}
	if current.Path != "" {
		worktrees = append(worktrees, current)
	}
	return worktrees, nil
}

// Add stages the given paths.
func (g *Git) Add(paths ...string) error {
	args := append([]string{"add"}, paths...)
	_, err := g.run(args...)
	return err
}

// Commit creates a commit with message, assuming the caller already
// staged what it wants committed.
func (g *Git) Commit(message string) error {
	_, err := g.run("commit", "-m", message)
	return err
}

// GitStatus is a parsed `git status --porcelain` report.
type GitStatus struct {
	Clean     bool
	Modified  []string
	Added     []string
	Deleted   []string
	Untracked []string
}

// Status returns the current working-tree status.
func (g *Git) Status() (*GitStatus, error) {
	out, err := g.run("status", "--porcelain")
	if err != nil {
		return nil, err
	}

	status := &GitStatus{Clean: true}
	if out == "" {
		return status, nil
	}
	status.Clean = false
	for _, line := range strings.Split(out, "\n") {
		if len(line) < 3 {
			continue
		}
		code := line[:2]
		file := line[3:]
		switch {
		case strings.Contains(code, "M"):
			status.Modified = append(status.Modified, file)
		case strings.Contains(code, "A"):
			status.Added = append(status.Added, file)
		case strings.Contains(code, "D"):
			status.Deleted = append(status.Deleted, file)
		case strings.Contains(code, "?"):
			status.Untracked = append(status.Untracked, file)
		}
	}
	return status, nil
}

// StashCount returns the number of stash entries.
func (g *Git) StashCount() (int, error) {
	out, err := g.run("stash", "list")
	if err != nil {
		return 0, err
	}
	if out == "" {
		return 0, nil
	}
	count := 0
	for _, line := range strings.Split(out, "\n") {
		if line != "" {
			count++
		}
	}
	return count, nil
}

// UnpushedCommits counts commits on HEAD not present on its upstream.
// Returns 0, not an error, when no upstream is configured — the common
// case for a bubble branch that was never pushed.
func (g *Git) UnpushedCommits() (int, error) {
	upstream, err := g.run("rev-parse", "--abbrev-ref", "@{u}")
	if err != nil {
		return 0, nil
	}
	out, err := g.run("rev-list", "--count", upstream+"..HEAD")
	if err != nil {
		return 0, err
	}
	count, err := strconv.Atoi(out)
	if err != nil {
		return 0, fmt.Errorf("parsing unpushed count: %w", err)
	}
	return count, nil
}

// UncommittedWorkStatus summarizes the external artifacts teardownWorktree
// must report rather than destroy, unless force is requested.
type UncommittedWorkStatus struct {
	HasUncommittedChanges bool
	StashCount            int
	UnpushedCommits       int
	ModifiedFiles         []string
	UntrackedFiles        []string
}

// Clean reports whether there is no uncommitted work of any kind.
func (s *UncommittedWorkStatus) Clean() bool {
	return !s.HasUncommittedChanges && s.StashCount == 0 && s.UnpushedCommits == 0
}

// String renders a short human-readable summary, used in the
// WorkspaceBusy error message `bubble delete` surfaces.
func (s *UncommittedWorkStatus) String() string {
	var issues []string
	if s.HasUncommittedChanges {
		issues = append(issues, fmt.Sprintf("%d uncommitted change(s)", len(s.ModifiedFiles)+len(s.UntrackedFiles)))
	}
	if s.StashCount > 0 {
		issues = append(issues, fmt.Sprintf("%d stash(es)", s.StashCount))
	}
	if s.UnpushedCommits > 0 {
		issues = append(issues, fmt.Sprintf("%d unpushed commit(s)", s.UnpushedCommits))
	}
	if len(issues) == 0 {
		return "clean"
	}
	return strings.Join(issues, ", ")
}

// CheckUncommittedWork performs the full external-artifact survey
// teardownWorktree needs before it may safely delete a worktree.
func (g *Git) CheckUncommittedWork() (*UncommittedWorkStatus, error) {
	gitStatus, err := g.Status()
	if err != nil {
		return nil, fmt.Errorf("checking git status: %w", err)
	}

	status := &UncommittedWorkStatus{
		HasUncommittedChanges: !gitStatus.Clean,
		ModifiedFiles:         append(append([]string{}, gitStatus.Modified...), gitStatus.Added...),
		UntrackedFiles:        gitStatus.Untracked,
	}
	status.ModifiedFiles = append(status.ModifiedFiles, gitStatus.Deleted...)

	stashCount, err := g.StashCount()
	if err != nil {
		return nil, fmt.Errorf("checking stashes: %w", err)
	}
	status.StashCount = stashCount

	unpushed, err := g.UnpushedCommits()
	if err != nil {
		return nil, fmt.Errorf("checking unpushed commits: %w", err)
	}
	status.UnpushedCommits = unpushed

	return status, nil
}

func asExternalCommandFailed(err error, target **pferrors.ExternalCommandFailed) bool {
	if e, ok := err.(*pferrors.ExternalCommandFailed); ok {
		*target = e
		return true
	}
	return false
}
