package workspace

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/felho/pairflow/internal/git"
)

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

func TestBootstrapWorktreeCreatesBranchAndWorktree(t *testing.T) {
	repoDir := initTestRepo(t)
	repo := git.New(repoDir)
	worktreePath := filepath.Join(t.TempDir(), "b_1")

	if err := BootstrapWorktree(repo, "main", "bubble/b_1", worktreePath); err != nil {
		t.Fatalf("BootstrapWorktree: %v", err)
	}

	exists, err := repo.BranchExists("bubble/b_1")
	if err != nil || !exists {
		t.Fatalf("expected bubble/b_1 branch to exist: exists=%v err=%v", exists, err)
	}

	worktreeRepo := git.New(worktreePath)
	if !worktreeRepo.IsRepo() {
		t.Fatal("expected worktree path to be a git repo")
	}
	branch, err := worktreeRepo.CurrentBranch()
	if err != nil || branch != "bubble/b_1" {
		t.Fatalf("expected worktree on bubble/b_1, got %q (err=%v)", branch, err)
	}
}

func TestBootstrapWorktreeIsIdempotent(t *testing.T) {
	repoDir := initTestRepo(t)
	repo := git.New(repoDir)
	worktreePath := filepath.Join(t.TempDir(), "b_1")

	if err := BootstrapWorktree(repo, "main", "bubble/b_1", worktreePath); err != nil {
		t.Fatalf("first bootstrap: %v", err)
	}
	if err := BootstrapWorktree(repo, "main", "bubble/b_1", worktreePath); err != nil {
		t.Fatalf("second bootstrap should be a no-op, got: %v", err)
	}
}

func TestTeardownWorktreeRefusesWithUncommittedWork(t *testing.T) {
	repoDir := initTestRepo(t)
	repo := git.New(repoDir)
	worktreePath := filepath.Join(t.TempDir(), "b_1")

	if err := BootstrapWorktree(repo, "main", "bubble/b_1", worktreePath); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	if err := os.WriteFile(filepath.Join(worktreePath, "scratch.txt"), []byte("wip"), 0o644); err != nil {
		t.Fatalf("write scratch file: %v", err)
	}

	result, err := TeardownWorktree(repo, worktreePath, "bubble/b_1", false)
	if err == nil {
		t.Fatal("expected WorkspaceBusy error for dirty worktree without force")
	}
	if result.Removed {
		t.Fatal("expected teardown to refuse removal")
	}
	if !result.ArtifactsExist {
		t.Fatal("expected ArtifactsExist to be true")
	}
}

func TestTeardownWorktreeForceRemoves(t *testing.T) {
	repoDir := initTestRepo(t)
	repo := git.New(repoDir)
	worktreePath := filepath.Join(t.TempDir(), "b_1")

	if err := BootstrapWorktree(repo, "main", "bubble/b_1", worktreePath); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	if err := os.WriteFile(filepath.Join(worktreePath, "scratch.txt"), []byte("wip"), 0o644); err != nil {
		t.Fatalf("write scratch file: %v", err)
	}

	result, err := TeardownWorktree(repo, worktreePath, "bubble/b_1", true)
	if err != nil {
		t.Fatalf("TeardownWorktree with force: %v", err)
	}
	if !result.Removed {
		t.Fatal("expected removal with force")
	}
	if _, statErr := os.Stat(worktreePath); !os.IsNotExist(statErr) {
		t.Fatal("expected worktree directory to be gone")
	}
}
