// Package paths computes every on-disk location the engine touches for a
// given (repo, bubble) pair. It is a pure function of its inputs — no I/O
// beyond symlink resolution of the repo root — so every other package
// depends on it instead of assembling paths itself (spec §4.A).
package paths

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
)

// BubbleIDPattern is the required shape of a bubble identifier (spec §3).
var BubbleIDPattern = regexp.MustCompile(`^b_[A-Za-z0-9_]+$`)

// ValidBubbleID reports whether id matches the bubble identifier grammar.
func ValidBubbleID(id string) bool {
	return BubbleIDPattern.MatchString(id)
}

// BubblePaths names every file and directory the engine will read or
// write for one bubble. All writes performed anywhere in the engine are
// confined to these paths.
type BubblePaths struct {
	RepoRoot string // canonicalized repo root
	BubbleID string

	PairflowDir    string // <repo>/.pairflow
	BubblesDir     string // <repo>/.pairflow/bubbles
	BubbleDir      string // <repo>/.pairflow/bubbles/<id>
	ConfigFile     string // .../bubble.toml
	StateFile      string // .../state.json
	TranscriptFile string // .../transcript.ndjson
	InboxFile      string // .../inbox.ndjson
	ArtifactsDir   string // .../artifacts
	TaskFile       string // .../artifacts/task.md
	MessagesDir    string // .../artifacts/messages

	LocksDir     string // <repo>/.pairflow/locks
	BubbleLock   string // <repo>/.pairflow/locks/<id>.lock
	RuntimeDir   string // <repo>/.pairflow/runtime
	SessionsFile string // <repo>/.pairflow/runtime/sessions.json
	RegistryLock string // <repo>/.pairflow/runtime/sessions.lock

	WorktreesRoot string // <repoParent>/.pairflow-worktrees/<repoName>
	WorktreePath  string // .../<id>
}

// Resolve canonicalizes repoPath (following symlinks) and computes every
// path the engine needs for bubbleID under it. It performs no writes.
func Resolve(repoPath, bubbleID string) (*BubblePaths, error) {
	canon, err := filepath.EvalSymlinks(repoPath)
	if err != nil {
		return nil, fmt.Errorf("resolving repo path %q: %w", repoPath, err)
	}
	canon, err = filepath.Abs(canon)
	if err != nil {
		return nil, fmt.Errorf("absolute path for %q: %w", canon, err)
	}

	pairflowDir := filepath.Join(canon, ".pairflow")
	bubblesDir := filepath.Join(pairflowDir, "bubbles")
	bubbleDir := filepath.Join(bubblesDir, bubbleID)
	artifactsDir := filepath.Join(bubbleDir, "artifacts")
	locksDir := filepath.Join(pairflowDir, "locks")
	runtimeDir := filepath.Join(pairflowDir, "runtime")

	repoParent := filepath.Dir(canon)
	repoName := filepath.Base(canon)
	worktreesRoot := filepath.Join(repoParent, ".pairflow-worktrees", repoName)

	return &BubblePaths{
		RepoRoot: canon,
		BubbleID: bubbleID,

		PairflowDir:    pairflowDir,
		BubblesDir:     bubblesDir,
		BubbleDir:      bubbleDir,
		ConfigFile:     filepath.Join(bubbleDir, "bubble.toml"),
		StateFile:      filepath.Join(bubbleDir, "state.json"),
		TranscriptFile: filepath.Join(bubbleDir, "transcript.ndjson"),
		InboxFile:      filepath.Join(bubbleDir, "inbox.ndjson"),
		ArtifactsDir:   artifactsDir,
		TaskFile:       filepath.Join(artifactsDir, "task.md"),
		MessagesDir:    filepath.Join(artifactsDir, "messages"),

		LocksDir:     locksDir,
		BubbleLock:   filepath.Join(locksDir, bubbleID+".lock"),
		RuntimeDir:   runtimeDir,
		SessionsFile: filepath.Join(runtimeDir, "sessions.json"),
		RegistryLock: filepath.Join(runtimeDir, "sessions.lock"),

		WorktreesRoot: worktreesRoot,
		WorktreePath:  filepath.Join(worktreesRoot, bubbleID),
	}, nil
}

// EnsureBubbleDirs creates every directory the bubble needs (but not the
// files themselves). Called once by create().
func (p *BubblePaths) EnsureBubbleDirs() error {
	for _, dir := range []string{p.BubbleDir, p.ArtifactsDir, p.MessagesDir, p.LocksDir, p.RuntimeDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating %s: %w", dir, err)
		}
	}
	return nil
}

// Exists reports whether this bubble's directory already exists on disk.
func (p *BubblePaths) Exists() bool {
	info, err := os.Stat(p.BubbleDir)
	return err == nil && info.IsDir()
}

// BubblesRoot resolves only the repo-level .pairflow/bubbles directory,
// used by `bubble list` to enumerate bubble ids without needing one up
// front.
func BubblesRoot(repoPath string) (string, error) {
	canon, err := filepath.EvalSymlinks(repoPath)
	if err != nil {
		return "", fmt.Errorf("resolving repo path %q: %w", repoPath, err)
	}
	return filepath.Join(canon, ".pairflow", "bubbles"), nil
}
