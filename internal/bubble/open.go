package bubble

import (
	"fmt"

	"github.com/felho/pairflow/internal/paths"
	"github.com/felho/pairflow/internal/pferrors"
	"github.com/felho/pairflow/internal/registry"
	"github.com/felho/pairflow/internal/tmux"
)

// Open resolves a bubble id to its multiplexer session and attaches
// the caller's terminal to it (or switches the current client, per
// Tmux.AttachSession's TMUX-env contract). The bubble must already be
// running — Open never creates a session itself, that's Start's job.
func Open(repoPath, bubbleID string) error {
	p, err := paths.Resolve(repoPath, bubbleID)
	if err != nil {
		return err
	}
	if !p.Exists() {
		return pferrors.NotFound(bubbleID)
	}

	sessionName := registry.SessionName(bubbleID)
	t := tmux.New()
	hasSession, err := t.HasSession(sessionName)
	if err != nil {
		return fmt.Errorf("checking multiplexer session: %w", err)
	}
	if !hasSession {
		return fmt.Errorf("bubble %s has no running multiplexer session, run start first", bubbleID)
	}
	return t.AttachSession(sessionName)
}
