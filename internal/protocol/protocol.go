// Package protocol implements the bubble lifecycle's protocol handlers
// (spec §4.I): the only code in the engine that ever emits an envelope
// or writes state.json. Every handler follows the same skeleton —
// resolve, lock, read, validate precondition, append, CAS-write,
// release — composing internal/paths, internal/lock, internal/state,
// internal/transcript, internal/envelope, internal/workspace,
// internal/git, internal/tmux, and internal/registry the way the
// teacher's crew.Manager composes its own lock/git/mail helpers around
// one higher-level operation per method.
package protocol

import (
	"context"
	"fmt"
	"time"

	"github.com/felho/pairflow/internal/bubble"
	"github.com/felho/pairflow/internal/envelope"
	"github.com/felho/pairflow/internal/git"
	"github.com/felho/pairflow/internal/lock"
	"github.com/felho/pairflow/internal/metrics"
	"github.com/felho/pairflow/internal/paths"
	"github.com/felho/pairflow/internal/pferrors"
	"github.com/felho/pairflow/internal/registry"
	"github.com/felho/pairflow/internal/state"
	"github.com/felho/pairflow/internal/tmux"
	"github.com/felho/pairflow/internal/transcript"
	"github.com/felho/pairflow/internal/util"
	"github.com/felho/pairflow/internal/workspace"
)

// DefaultLockTimeout is used when Engine.LockTimeout is left at zero,
// satisfying spec §5's "configurable, default ≥ 5s" requirement.
const DefaultLockTimeout = 5 * time.Second

// Engine executes protocol handlers for exactly one bubble.
type Engine struct {
	Paths       *paths.BubblePaths
	Config      *bubble.Config
	LockTimeout time.Duration
	// Now returns the current instant; overridable for deterministic tests.
	Now func() time.Time
}

// NewEngine builds an Engine with spec-compliant defaults.
func NewEngine(p *paths.BubblePaths, cfg *bubble.Config) *Engine {
	return &Engine{Paths: p, Config: cfg, LockTimeout: DefaultLockTimeout, Now: func() time.Time { return time.Now().UTC() }}
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now().UTC()
}

func (e *Engine) timeout() time.Duration {
	if e.LockTimeout > 0 {
		return e.LockTimeout
	}
	return DefaultLockTimeout
}

func (e *Engine) withLock(fn func() error) error {
	return lock.WithFileLock(context.Background(), e.Paths.BubbleLock, e.timeout(), fn)
}

func (e *Engine) withRegistryLock(fn func() error) error {
	return lock.WithFileLock(context.Background(), e.Paths.RegistryLock, e.timeout(), fn)
}

func strPtr(s string) *string          { return &s }
func timePtr(t time.Time) *time.Time   { return &t }
func rolePtr(r state.Role) *state.Role { return &r }

func participantForAgent(a bubble.Agent) envelope.Participant {
	switch a {
	case bubble.AgentCodex:
		return envelope.ParticipantCodex
	case bubble.AgentClaude:
		return envelope.ParticipantClaude
	default:
		return envelope.ParticipantOrchestrator
	}
}

// Create writes bubble.toml, the task.md artifact, the initial
// CREATED state snapshot, and the opening TASK envelope. Pre-state:
// file absence (spec §4.I).
func (e *Engine) Create(taskText string) (snap *state.Fingerprinted, err error) {
	err = e.withLock(func() error {
		if e.Paths.Exists() {
			return fmt.Errorf("bubble %s already exists", e.Paths.BubbleID)
		}
		if err := e.Paths.EnsureBubbleDirs(); err != nil {
			return err
		}
		if err := bubble.WriteFile(e.Paths.ConfigFile, e.Config); err != nil {
			return err
		}
		if err := util.AtomicWriteFile(e.Paths.TaskFile, []byte(taskText), 0o644); err != nil {
			return err
		}

		env := envelope.New(
			e.Paths.BubbleID,
			envelope.ParticipantOrchestrator,
			participantForAgent(e.Config.Agents.Implementer),
			envelope.TypeTask,
			0,
			envelope.Payload{Summary: taskText},
			nil,
		)
		if _, err := transcript.AppendEnvelope(e.Paths.TranscriptFile, env); err != nil {
			return err
		}

		initial := &state.Snapshot{
			BubbleID: e.Paths.BubbleID,
			State:    state.StateCreated,
			Round:    0,
		}
		written, err := state.WriteSnapshot(e.Paths.StateFile, initial, state.WriteOptions{RequireAbsent: true})
		if err != nil {
			return err
		}
		snap = written
		metrics.EmitBestEffort(e.Paths.BubbleID, "create", 0, "orchestrator", e.now())
		return nil
	})
	return snap, err
}

// Start bootstraps the worktree, registers the multiplexer session,
// and transitions CREATED → PREPARING_WORKSPACE → RUNNING, appending
// the round-0 role history entry. It is safe to retry if a previous
// Start crashed mid-bootstrap while state.json already reads
// PREPARING_WORKSPACE.
func (e *Engine) Start() (snap *state.Fingerprinted, err error) {
	err = e.withLock(func() error {
		current, readErr := state.ReadSnapshot(e.Paths.StateFile)
		if readErr != nil {
			return readErr
		}
		if current.Snapshot.State != state.StateCreated && current.Snapshot.State != state.StatePreparingWorkspace {
			return pferrors.NewInvalidState([]string{string(state.StateCreated), string(state.StatePreparingWorkspace)}, string(current.Snapshot.State))
		}

		fingerprint := current.Fingerprint
		if current.Snapshot.State == state.StateCreated {
			prepping := current.Snapshot
			prepping.State = state.StatePreparingWorkspace
			written, writeErr := state.WriteSnapshot(e.Paths.StateFile, &prepping, state.WriteOptions{ExpectedFingerprint: fingerprint})
			if writeErr != nil {
				return writeErr
			}
			fingerprint = written.Fingerprint
		}

		repo := git.New(e.Paths.RepoRoot)
		if err := workspace.BootstrapWorktree(repo, e.Config.BaseBranch, e.Config.BubbleBranch, e.Paths.WorktreePath); err != nil {
			return fmt.Errorf("bootstrapping workspace: %w", err)
		}

		sessionName := registry.SessionName(e.Paths.BubbleID)
		t := tmux.New()
		hasSession, err := t.HasSession(sessionName)
		if err != nil {
			return fmt.Errorf("checking multiplexer session: %w", err)
		}
		if !hasSession {
			if err := t.NewSession(sessionName, e.Paths.WorktreePath, ""); err != nil {
				return fmt.Errorf("creating multiplexer session: %w", err)
			}
		}

		now := e.now()
		if err := e.withRegistryLock(func() error {
			return registry.Upsert(e.Paths.SessionsFile, e.Paths.BubbleID, e.Paths.RepoRoot, e.Paths.WorktreePath, now)
		}); err != nil {
			return fmt.Errorf("registering session: %w", err)
		}

		running := current.Snapshot
		running.State = state.StateRunning
		implementer := string(e.Config.Agents.Implementer)
		running.ActiveAgent = strPtr(implementer)
		running.ActiveSince = timePtr(now)
		running.ActiveRole = rolePtr(state.RoleImplementer)
		running.RoundRoleHistory = append(running.RoundRoleHistory, state.RoundRoleEntry{
			Round:       0,
			Implementer: string(e.Config.Agents.Implementer),
			Reviewer:    string(e.Config.Agents.Reviewer),
			SwitchedAt:  now,
		})

		written, writeErr := state.WriteSnapshot(e.Paths.StateFile, &running, state.WriteOptions{ExpectedFingerprint: fingerprint})
		if writeErr != nil {
			return writeErr
		}
		snap = written
		metrics.EmitBestEffort(e.Paths.BubbleID, "start", 0, implementer, now)
		return nil
	})
	return snap, err
}
