// Package metrics is the opt-in, best-effort event feed protocol
// handlers emit to when PAIRFLOW_METRICS_EVENTS_ROOT is set (spec
// §6). Call sites follow the teacher's own events.LogFeed discipline —
// `_ = metrics.Emit(...)`, a one-line fire-and-forget call that never
// affects control flow — though the teacher's own events package was
// not part of the retrieved reference material, so this file is
// written from scratch against that calling convention rather than
// adapted from a teacher source file.
package metrics

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// EnvRoot is the environment variable spec §6 names; an empty value
// disables the feed entirely.
const EnvRoot = "PAIRFLOW_METRICS_EVENTS_ROOT"

// Event is one append-only JSONL record.
type Event struct {
	Timestamp time.Time `json:"ts"`
	BubbleID  string    `json:"bubble_id"`
	Event     string    `json:"event"`
	Round     int       `json:"round"`
	Actor     string    `json:"actor"`
}

// Emit appends one event to <root>/<YYYY-MM-DD>.jsonl, where root is
// read fresh from EnvRoot on every call so tests can toggle it with
// t.Setenv. It is a silent no-op when the env var is unset; write
// failures are returned to the caller. Protocol handlers call
// EmitBestEffort, which discards them — metrics are observational,
// never a reason to fail a protocol handler.
func Emit(bubbleID, event string, round int, actor string, now time.Time) error {
	root := os.Getenv(EnvRoot)
	if root == "" {
		return nil
	}

	if err := os.MkdirAll(root, 0o755); err != nil {
		return fmt.Errorf("creating metrics events root %s: %w", root, err)
	}

	path := filepath.Join(root, now.UTC().Format("2006-01-02")+".jsonl")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening metrics events file %s: %w", path, err)
	}
	defer f.Close()

	line, err := json.Marshal(Event{Timestamp: now.UTC(), BubbleID: bubbleID, Event: event, Round: round, Actor: actor})
	if err != nil {
		return fmt.Errorf("marshaling metrics event: %w", err)
	}
	line = append(line, '\n')
	_, err = f.Write(line)
	return err
}

// EmitBestEffort calls Emit and discards any error, the same
// `_ = events.LogFeed(...)` shape used throughout the teacher's
// command layer.
func EmitBestEffort(bubbleID, event string, round int, actor string, now time.Time) {
	_ = Emit(bubbleID, event, round, actor, now)
}
