// Package transcript implements the two append-only NDJSON envelope
// streams every bubble keeps: transcript.ndjson (the full protocol
// history) and inbox.ndjson (only the envelope types a human must act
// on). It reads the same way the teacher's beads.LoadRoutes scans a
// JSONL file line by line with bufio.Scanner, but writes are true
// appends — spec §4.E requires O_APPEND, not "load all, rewrite all"
// like the teacher's WriteRoutes.
package transcript

import (
	"bufio"
	"fmt"
	"os"

	"github.com/felho/pairflow/internal/envelope"
	"github.com/felho/pairflow/internal/pferrors"
)

// Appended is the result of a successful append: the envelope together
// with its 0-based line index within the stream (spec §4.E's
// "sequence number").
type Appended struct {
	Envelope envelope.Envelope
	Sequence int
}

// AppendEnvelope opens path in append-exclusive mode, writes env as one
// NDJSON line, and fsyncs before returning. Callers must already hold
// the bubble's file lock (spec §4.B); AppendEnvelope does not lock.
func AppendEnvelope(path string, env *envelope.Envelope) (*Appended, error) {
	if err := env.Validate(); err != nil {
		return nil, fmt.Errorf("refusing to append invalid envelope: %w", err)
	}

	seq, err := countLines(path)
	if err != nil {
		return nil, err
	}

	line, err := envelope.SerializeLine(env)
	if err != nil {
		return nil, err
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening %s for append: %w", path, err)
	}
	defer f.Close()

	if _, err := f.Write(line); err != nil {
		return nil, fmt.Errorf("appending to %s: %w", path, err)
	}
	if err := f.Sync(); err != nil {
		return nil, fmt.Errorf("fsyncing %s: %w", path, err)
	}

	return &Appended{Envelope: *env, Sequence: seq}, nil
}

// countLines returns the number of existing NDJSON lines in path, i.e.
// the sequence number the next append will receive. A missing file
// counts as zero lines.
func countLines(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	count := 0
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		count++
	}
	if err := scanner.Err(); err != nil {
		return 0, fmt.Errorf("scanning %s: %w", path, err)
	}
	return count, nil
}

// ReadEnvelopes streams every envelope in path from the start, in
// order. A missing file yields an empty slice, not an error — a
// bubble's transcript and inbox do not exist until the first append.
func ReadEnvelopes(path string) ([]envelope.Envelope, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	var envelopes []envelope.Envelope
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		env, err := envelope.ParseLine(scanner.Bytes())
		if err != nil {
			return nil, pferrors.NewEnvelopeParse(lineNo, err)
		}
		envelopes = append(envelopes, *env)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scanning %s: %w", path, err)
	}
	return envelopes, nil
}

// PendingInboxItem is one inbox entry awaiting human resolution.
type PendingInboxItem struct {
	Envelope envelope.Envelope
	Sequence int
}

// PendingInboxItems computes invariant I5: the inbox envelopes that
// have no corresponding resolving envelope later in the transcript. A
// HUMAN_QUESTION is resolved by the next HUMAN_REPLY; an
// APPROVAL_REQUEST by the next APPROVAL_DECISION. Resolution is
// matched by transcript order, not by an explicit cross-reference
// field, mirroring the strictly-serialized-per-bubble ordering
// guarantee in spec §5.
func PendingInboxItems(inbox, transcriptEnvelopes []envelope.Envelope) []PendingInboxItem {
	resolvedCounts := map[envelope.Type]int{}
	for _, env := range transcriptEnvelopes {
		for pendingType, resolvingType := range resolvingTypeIndex() {
			if env.Type == resolvingType {
				resolvedCounts[pendingType]++
			}
		}
	}

	// Walk the inbox in order, matching the i-th pending envelope of a
	// given type against the i-th resolution of that type seen in the
	// transcript so far.
	seenPending := map[envelope.Type]int{}
	var pending []PendingInboxItem
	for i, env := range inbox {
		if !envelope.IsInboxType(env.Type) {
			continue
		}
		seenPending[env.Type]++
		if seenPending[env.Type] > resolvedCounts[env.Type] {
			pending = append(pending, PendingInboxItem{Envelope: env, Sequence: i})
		}
	}
	return pending
}

func resolvingTypeIndex() map[envelope.Type]envelope.Type {
	return map[envelope.Type]envelope.Type{
		envelope.TypeHumanQuestion:   envelope.TypeHumanReply,
		envelope.TypeApprovalRequest: envelope.TypeApprovalDecision,
	}
}
