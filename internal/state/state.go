// Package state persists a bubble's lifecycle snapshot to state.json and
// enforces the compare-and-set guard every protocol handler writes
// through (spec §4.D). It replaces the teacher's global enable/disable
// toggle file with the same atomic-write discipline (util.AtomicWriteJSON,
// temp file + fsync + rename) applied to a much richer document.
package state

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/felho/pairflow/internal/pferrors"
	"github.com/felho/pairflow/internal/util"
)

// Lifecycle is one of the bubble's finite-state-machine states (spec §3).
type Lifecycle string

const (
	StateCreated            Lifecycle = "CREATED"
	StatePreparingWorkspace Lifecycle = "PREPARING_WORKSPACE"
	StateRunning            Lifecycle = "RUNNING"
	StateWaitingHuman       Lifecycle = "WAITING_HUMAN"
	StateReadyForApproval   Lifecycle = "READY_FOR_APPROVAL"
	StateApprovedForCommit  Lifecycle = "APPROVED_FOR_COMMIT"
	StateCommitted          Lifecycle = "COMMITTED"
	StateDone               Lifecycle = "DONE"
	StateFailed             Lifecycle = "FAILED"
	StateCancelled          Lifecycle = "CANCELLED"
)

// Terminal reports whether s is one of the lifecycle's terminal states.
func (s Lifecycle) Terminal() bool {
	switch s {
	case StateDone, StateFailed, StateCancelled:
		return true
	default:
		return false
	}
}

// activeTupleRequired reports whether invariant I1 requires the
// active-turn tuple to be non-null in state s.
func activeTupleRequired(s Lifecycle) bool {
	switch s {
	case StateCreated, StatePreparingWorkspace, StateDone, StateFailed, StateCancelled:
		return false
	default:
		return true
	}
}

// Role is which side of the implementer/reviewer pair currently holds
// the turn.
type Role string

const (
	RoleImplementer Role = "implementer"
	RoleReviewer    Role = "reviewer"
)

// RoundRoleEntry records which agent played implementer/reviewer during
// one round, and when the round began.
type RoundRoleEntry struct {
	Round       int       `json:"round"`
	Implementer string    `json:"implementer"`
	Reviewer    string    `json:"reviewer"`
	SwitchedAt  time.Time `json:"switched_at"`
}

// Snapshot is the full persisted content of state.json.
type Snapshot struct {
	BubbleID  string    `json:"bubble_id"`
	State     Lifecycle `json:"state"`
	Round     int       `json:"round"`

	ActiveAgent *string    `json:"active_agent"`
	ActiveSince *time.Time `json:"active_since"`
	ActiveRole  *Role      `json:"active_role"`

	RoundRoleHistory []RoundRoleEntry `json:"round_role_history"`

	LastCommandAt *time.Time `json:"last_command_at"`
}

// Fingerprinted pairs a Snapshot with the content-hash fingerprint of
// the exact bytes it was read from.
type Fingerprinted struct {
	Snapshot    Snapshot
	Fingerprint string
}

// fingerprint computes a stable content hash over canonical JSON bytes.
// Two snapshots with byte-identical canonical encoding get the same
// fingerprint, satisfying invariant I3 (every persisted transition
// changes the fingerprint).
func fingerprint(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// canonicalize re-marshals v through Go's map/struct-field-ordered
// encoding so that fingerprinting is insensitive to incidental
// formatting differences (indentation, trailing newline) between what
// was written and what is later read back.
func canonicalize(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

// ReadSnapshot reads and schema-validates the state file at path,
// returning the snapshot together with its fingerprint.
func ReadSnapshot(path string) (*Fingerprinted, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading state file %s: %w", path, err)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, pferrors.NewSchemaValidation([]pferrors.FieldError{
			{Path: "$", Message: fmt.Sprintf("invalid JSON: %v", err)},
		})
	}

	if errs := Validate(&snap); len(errs) > 0 {
		return nil, pferrors.NewSchemaValidation(errs)
	}
	if errs := validateAgainstSchema(data); len(errs) > 0 {
		return nil, pferrors.NewSchemaValidation(errs)
	}

	canon, err := canonicalize(&snap)
	if err != nil {
		return nil, fmt.Errorf("canonicalizing state: %w", err)
	}

	return &Fingerprinted{Snapshot: snap, Fingerprint: fingerprint(canon)}, nil
}

// WriteOptions constrains a CAS write.
type WriteOptions struct {
	// ExpectedFingerprint must match the on-disk fingerprint, or the
	// write fails with StateConflict. Ignored when RequireAbsent is set.
	ExpectedFingerprint string
	// ExpectedState, if non-empty, must additionally match the on-disk
	// lifecycle state.
	ExpectedState Lifecycle
	// RequireAbsent indicates the caller expects no file to exist yet
	// (used by create).
	RequireAbsent bool
}

// WriteSnapshot validates newState, verifies the on-disk fingerprint
// (and, if set, on-disk lifecycle state) still match opts' expectations,
// then atomically overwrites path. Callers must already hold the
// bubble's file lock (spec §4.B) — WriteSnapshot does not lock.
func WriteSnapshot(path string, newState *Snapshot, opts WriteOptions) (*Fingerprinted, error) {
	if errs := Validate(newState); len(errs) > 0 {
		return nil, pferrors.NewSchemaValidation(errs)
	}

	existing, err := ReadSnapshot(path)
	if err != nil {
		if underlyingNotExist(err) == nil {
			return nil, err
		}
		existing = nil
	}

	if opts.RequireAbsent {
		if existing != nil {
			return nil, pferrors.NewStateConflict(newState.BubbleID, "<absent>", existing.Fingerprint)
		}
	} else {
		if existing == nil {
			return nil, pferrors.NewStateConflict(newState.BubbleID, opts.ExpectedFingerprint, "<absent>")
		}
		if existing.Fingerprint != opts.ExpectedFingerprint {
			return nil, pferrors.NewStateConflict(newState.BubbleID, opts.ExpectedFingerprint, existing.Fingerprint)
		}
		if opts.ExpectedState != "" && existing.Snapshot.State != opts.ExpectedState {
			return nil, pferrors.NewStateConflict(newState.BubbleID, opts.ExpectedFingerprint, existing.Fingerprint)
		}
	}

	canon, err := canonicalize(newState)
	if err != nil {
		return nil, fmt.Errorf("canonicalizing state: %w", err)
	}
	newFingerprint := fingerprint(canon)
	if existing != nil && newFingerprint == existing.Fingerprint {
		return nil, fmt.Errorf("refusing no-op write: new snapshot is byte-identical to the one on disk (violates I3)")
	}

	if err := util.AtomicWriteJSON(path, newState, 0o644); err != nil {
		return nil, fmt.Errorf("writing state file %s: %w", path, err)
	}

	return &Fingerprinted{Snapshot: *newState, Fingerprint: newFingerprint}, nil
}

// underlyingNotExist extracts an os.IsNotExist-compatible error, if any,
// from a possibly-wrapped ReadSnapshot error. ReadSnapshot wraps
// os.ReadFile's error with fmt.Errorf("...: %w", err), so errors.Is-style
// unwrapping is needed to see through the wrapper.
func underlyingNotExist(err error) error {
	type unwrapper interface{ Unwrap() error }
	for e := err; e != nil; {
		if os.IsNotExist(e) {
			return e
		}
		u, ok := e.(unwrapper)
		if !ok {
			return nil
		}
		e = u.Unwrap()
	}
	return nil
}

// Validate checks a Snapshot against every schema rule spec §4.D and §3
// require: active-triple all-or-nothing (I1), timestamp well-formedness,
// round monotonicity inside round_role_history (I4), and
// implementer != reviewer in every history entry.
func Validate(s *Snapshot) []pferrors.FieldError {
	var errs []pferrors.FieldError

	if s.BubbleID == "" {
		errs = append(errs, pferrors.FieldError{Path: "bubble_id", Message: "must not be empty"})
	}
	if !validLifecycle(s.State) {
		errs = append(errs, pferrors.FieldError{Path: "state", Message: fmt.Sprintf("unrecognized lifecycle state %q", s.State)})
	}
	if s.Round < 0 {
		errs = append(errs, pferrors.FieldError{Path: "round", Message: "must be non-negative"})
	}

	activeNil := s.ActiveAgent == nil && s.ActiveSince == nil && s.ActiveRole == nil
	activeSet := s.ActiveAgent != nil && s.ActiveSince != nil && s.ActiveRole != nil
	if !activeNil && !activeSet {
		errs = append(errs, pferrors.FieldError{Path: "active_*", Message: "active_agent, active_since, active_role must be all-null or all-set"})
	} else if activeTupleRequired(s.State) && activeNil {
		errs = append(errs, pferrors.FieldError{Path: "active_*", Message: fmt.Sprintf("state %q requires a non-null active tuple", s.State)})
	} else if !activeTupleRequired(s.State) && activeSet {
		errs = append(errs, pferrors.FieldError{Path: "active_*", Message: fmt.Sprintf("state %q requires a null active tuple", s.State)})
	}

	if s.ActiveRole != nil && *s.ActiveRole != RoleImplementer && *s.ActiveRole != RoleReviewer {
		errs = append(errs, pferrors.FieldError{Path: "active_role", Message: fmt.Sprintf("must be %q or %q", RoleImplementer, RoleReviewer)})
	}

	lastRound := -1
	seenRounds := map[int]bool{}
	for i, entry := range s.RoundRoleHistory {
		path := fmt.Sprintf("round_role_history[%d]", i)
		if entry.Round <= lastRound {
			errs = append(errs, pferrors.FieldError{Path: path + ".round", Message: "round values must be strictly increasing"})
		}
		if seenRounds[entry.Round] {
			errs = append(errs, pferrors.FieldError{Path: path + ".round", Message: "at most one entry is allowed per round (I4)"})
		}
		seenRounds[entry.Round] = true
		lastRound = entry.Round

		if entry.Implementer == "" || entry.Reviewer == "" {
			errs = append(errs, pferrors.FieldError{Path: path, Message: "implementer and reviewer must both be set"})
		}
		if entry.Implementer != "" && entry.Implementer == entry.Reviewer {
			errs = append(errs, pferrors.FieldError{Path: path, Message: "implementer and reviewer must differ"})
		}
		if entry.SwitchedAt.IsZero() {
			errs = append(errs, pferrors.FieldError{Path: path + ".switched_at", Message: "must be a valid RFC-3339 UTC timestamp"})
		}
	}

	return errs
}

func validLifecycle(s Lifecycle) bool {
	switch s {
	case StateCreated, StatePreparingWorkspace, StateRunning, StateWaitingHuman,
		StateReadyForApproval, StateApprovedForCommit, StateCommitted, StateDone,
		StateFailed, StateCancelled:
		return true
	default:
		return false
	}
}

// LegalTransitions enumerates the lifecycle edges spec §3 draws, keyed
// by source state, for use by handlers that need to assert a
// precondition in one place.
var LegalTransitions = map[Lifecycle][]Lifecycle{
	StateCreated:            {StatePreparingWorkspace, StateCancelled},
	StatePreparingWorkspace: {StateRunning, StateFailed, StateCancelled},
	StateRunning:            {StateWaitingHuman, StateReadyForApproval, StateFailed, StateCancelled},
	StateWaitingHuman:       {StateRunning, StateFailed, StateCancelled},
	StateReadyForApproval:   {StateApprovedForCommit, StateRunning, StateCancelled, StateFailed},
	StateApprovedForCommit:  {StateCommitted, StateFailed, StateCancelled},
	StateCommitted:          {StateDone, StateFailed},
	StateDone:               {},
	StateFailed:             {},
	StateCancelled:          {},
}

// CanTransition reports whether to is a legal successor of from per
// LegalTransitions.
func CanTransition(from, to Lifecycle) bool {
	for _, candidate := range LegalTransitions[from] {
		if candidate == to {
			return true
		}
	}
	return false
}
