// Package registry persists runtime/sessions.json, the map from bubble
// id to the live multiplexer session backing it (spec §4.H). All
// mutations happen under a dedicated registry lock distinct from any
// bubble's own file lock, and writes reuse util.AtomicWriteJSON the
// same way internal/state does for state.json.
package registry

import (
	"encoding/json"
	"os"
	"time"

	"github.com/felho/pairflow/internal/util"
)

// Entry is one row of the runtime-session registry.
type Entry struct {
	BubbleID        string    `json:"bubbleId"`
	RepoPath        string    `json:"repoPath"`
	WorktreePath    string    `json:"worktreePath"`
	TmuxSessionName string    `json:"tmuxSessionName"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// Registry is the full bubbleId -> Entry mapping.
type Registry map[string]Entry

// SessionName is the canonical tmux session name for a bubble, per
// spec §5's "one session per bubble" rule.
func SessionName(bubbleID string) string {
	return "pf-" + bubbleID
}

// Load reads the registry file. A missing file is treated as an empty
// registry, not an error.
func Load(path string) (Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Registry{}, nil
		}
		return nil, err
	}
	var reg Registry
	if err := json.Unmarshal(data, &reg); err != nil {
		return nil, err
	}
	if reg == nil {
		reg = Registry{}
	}
	return reg, nil
}

// Save atomically overwrites the registry file. Callers must hold the
// registry lock (internal/lock, on paths.RegistryLock).
func Save(path string, reg Registry) error {
	return util.EnsureDirAndWriteJSON(path, reg, 0o644)
}

// Upsert inserts or refreshes the entry for bubbleID, setting
// UpdatedAt to now, and saves the registry.
func Upsert(path string, bubbleID, repoPath, worktreePath string, now time.Time) error {
	reg, err := Load(path)
	if err != nil {
		return err
	}
	reg[bubbleID] = Entry{
		BubbleID:        bubbleID,
		RepoPath:        repoPath,
		WorktreePath:    worktreePath,
		TmuxSessionName: SessionName(bubbleID),
		UpdatedAt:       now,
	}
	return Save(path, reg)
}

// Remove deletes bubbleID's entry, if present, and saves the registry.
func Remove(path string, bubbleID string) error {
	reg, err := Load(path)
	if err != nil {
		return err
	}
	if _, ok := reg[bubbleID]; !ok {
		return nil
	}
	delete(reg, bubbleID)
	return Save(path, reg)
}
