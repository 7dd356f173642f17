package bubble

import (
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/felho/pairflow/internal/envelope"
	"github.com/felho/pairflow/internal/paths"
	"github.com/felho/pairflow/internal/pferrors"
	"github.com/felho/pairflow/internal/state"
	"github.com/felho/pairflow/internal/transcript"
	"github.com/felho/pairflow/internal/watchdog"
)

// StatusView is the read-only composite a CLI or dashboard renders for
// one bubble: config, lifecycle snapshot, and derived watchdog/inbox
// figures, composed the way the teacher's polecat.SessionManager.List
// joins rig config against live tmux state for its table output.
type StatusView struct {
	BubbleID          string
	State             state.Lifecycle
	Round             int
	ActiveAgent       string
	ActiveRole        string
	ActiveSince       *time.Time
	BaseBranch        string
	BubbleBranch      string
	WorktreePath      string
	Watchdog          watchdog.Status
	PendingInboxCount int

	// Transcript summary (spec §4.J): total messages exchanged so far,
	// the most recent envelope's type, and when it was appended. Zero
	// values (0, "", nil) mean the transcript is still empty.
	TranscriptMessageCount int
	LastMessageType        envelope.Type
	LastMessageAt          *time.Time
}

// Status loads a single bubble's config and state and derives its
// read-only view. It performs no mutation and takes no lock — a
// concurrent writer may race it, which is fine for a status read (spec
// §4.J: "status is read-only and returns a BubbleStatusView").
func Status(repoPath, bubbleID string, now time.Time) (*StatusView, error) {
	p, err := paths.Resolve(repoPath, bubbleID)
	if err != nil {
		return nil, err
	}
	if !p.Exists() {
		return nil, pferrors.NotFound(bubbleID)
	}

	cfg, err := ParseFile(p.ConfigFile)
	if err != nil {
		return nil, fmt.Errorf("reading bubble config: %w", err)
	}

	snap, err := state.ReadSnapshot(p.StateFile)
	if err != nil {
		return nil, err
	}

	inbox, err := transcript.ReadEnvelopes(p.InboxFile)
	if err != nil {
		return nil, err
	}
	full, err := transcript.ReadEnvelopes(p.TranscriptFile)
	if err != nil {
		return nil, err
	}
	pending := transcript.PendingInboxItems(inbox, full)

	timeout := time.Duration(cfg.WatchdogTimeoutMinutes) * time.Minute
	wd := watchdog.Evaluate(&snap.Snapshot, timeout, now)

	view := &StatusView{
		BubbleID:          bubbleID,
		State:             snap.Snapshot.State,
		Round:             snap.Snapshot.Round,
		BaseBranch:        cfg.BaseBranch,
		BubbleBranch:      cfg.BubbleBranch,
		WorktreePath:      p.WorktreePath,
		Watchdog:          wd,
		PendingInboxCount: len(pending),
		ActiveSince:       snap.Snapshot.ActiveSince,
	}
	if snap.Snapshot.ActiveAgent != nil {
		view.ActiveAgent = *snap.Snapshot.ActiveAgent
	}
	if snap.Snapshot.ActiveRole != nil {
		view.ActiveRole = string(*snap.Snapshot.ActiveRole)
	}
	view.TranscriptMessageCount = len(full)
	if len(full) > 0 {
		last := full[len(full)-1]
		view.LastMessageType = last.Type
		ts := last.Timestamp
		view.LastMessageAt = &ts
	}
	return view, nil
}

// Summary is one row of `bubble list`'s output.
type Summary struct {
	BubbleID    string
	State       state.Lifecycle
	Round       int
	ActiveAgent string
}

// List enumerates every bubble under repoPath's .pairflow/bubbles
// directory, reading just enough of each to produce a one-line
// summary, in the style of the teacher's rig.Manager.ListRigNames
// paired with a per-entry detail lookup.
func List(repoPath string) ([]Summary, error) {
	root, err := paths.BubblesRoot(repoPath)
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("listing bubbles directory %s: %w", root, err)
	}

	var summaries []Summary
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		bubbleID := entry.Name()
		p, err := paths.Resolve(repoPath, bubbleID)
		if err != nil {
			continue
		}
		snap, err := state.ReadSnapshot(p.StateFile)
		if err != nil {
			continue
		}
		s := Summary{BubbleID: bubbleID, State: snap.Snapshot.State, Round: snap.Snapshot.Round}
		if snap.Snapshot.ActiveAgent != nil {
			s.ActiveAgent = *snap.Snapshot.ActiveAgent
		}
		summaries = append(summaries, s)
	}

	sort.Slice(summaries, func(i, j int) bool { return summaries[i].BubbleID < summaries[j].BubbleID })
	return summaries, nil
}
