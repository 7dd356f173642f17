// Package tmux wraps the small slice of the tmux CLI PairFlow's runtime
// registry needs: session existence, enumeration, creation, and
// attach/switch (spec §6's multiplexer contract: "create session, list
// sessions, respawn pane, switch/attach"). It follows the same
// subprocess-wrapper shape as internal/git's Git type — a thin struct
// around os/exec with one `run` helper — since the teacher's own tmux
// driver was not part of the reference material pulled for this
// rework.
package tmux

import (
	"bytes"
	"os"
	"os/exec"
	"strings"

	"github.com/felho/pairflow/internal/pferrors"
)

// Tmux wraps the tmux binary on PATH.
type Tmux struct{}

// New returns a Tmux wrapper.
func New() *Tmux { return &Tmux{} }

func (t *Tmux) run(args ...string) (string, error) {
	cmd := exec.Command("tmux", args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		exitCode := -1
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		}
		return "", pferrors.NewExternalCommandFailed("tmux", args, exitCode, strings.TrimSpace(stderr.String()), err)
	}
	return strings.TrimSpace(stdout.String()), nil
}

// HasSession reports whether a tmux session named name currently exists.
func (t *Tmux) HasSession(name string) (bool, error) {
	_, err := t.run("has-session", "-t", name)
	if err != nil {
		var cmdErr *pferrors.ExternalCommandFailed
		if e, ok := err.(*pferrors.ExternalCommandFailed); ok {
			cmdErr = e
		}
		if cmdErr != nil && cmdErr.ExitCode == 1 {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// ListSessions returns the names of every live tmux session.
func (t *Tmux) ListSessions() ([]string, error) {
	out, err := t.run("list-sessions", "-F", "#{session_name}")
	if err != nil {
		if e, ok := err.(*pferrors.ExternalCommandFailed); ok && e.ExitCode == 1 {
			// "no server running" — treat as zero sessions.
			return nil, nil
		}
		return nil, err
	}
	if out == "" {
		return nil, nil
	}
	return strings.Split(out, "\n"), nil
}

// NewSession creates a detached tmux session named name with workDir as
// its starting directory, running command inside it.
func (t *Tmux) NewSession(name, workDir, command string) error {
	args := []string{"new-session", "-d", "-s", name}
	if workDir != "" {
		args = append(args, "-c", workDir)
	}
	if command != "" {
		args = append(args, command)
	}
	_, err := t.run(args...)
	return err
}

// KillSession terminates a tmux session.
func (t *Tmux) KillSession(name string) error {
	_, err := t.run("kill-session", "-t", name)
	return err
}

// AttachSession attaches the caller's terminal to an existing session.
// If TMUX is set in the environment (the caller is already inside a
// tmux client), it switches the client instead of attaching, per spec
// §6's environment-variable contract.
func (t *Tmux) AttachSession(name string) error {
	if os.Getenv("TMUX") != "" {
		_, err := t.run("switch-client", "-t", name)
		return err
	}
	cmd := exec.Command("tmux", "attach-session", "-t", name)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}
