// Package envelope defines the protocol record exchanged between the
// implementer, reviewer, orchestrator, and human participants of a
// bubble, and its NDJSON wire encoding (spec §4.C). It plays the role
// the teacher's mail.Message plays for beads-routed messages, but the
// envelope is the atomic unit of an append-only transcript rather than
// a mutable mailbox row: once appended, an envelope is never edited.
package envelope

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Participant identifies a sender or recipient.
type Participant string

const (
	ParticipantCodex        Participant = "codex"
	ParticipantClaude       Participant = "claude"
	ParticipantOrchestrator Participant = "orchestrator"
	ParticipantHuman        Participant = "human"
)

// Type is the envelope's protocol message type.
type Type string

const (
	TypeTask             Type = "TASK"
	TypePass             Type = "PASS"
	TypeHumanQuestion    Type = "HUMAN_QUESTION"
	TypeHumanReply       Type = "HUMAN_REPLY"
	TypeConvergence      Type = "CONVERGENCE"
	TypeApprovalRequest  Type = "APPROVAL_REQUEST"
	TypeApprovalDecision Type = "APPROVAL_DECISION"
	TypeDonePackage      Type = "DONE_PACKAGE"
)

// PassIntent is the required value of payload.pass_intent on a PASS envelope.
type PassIntent string

const (
	PassIntentTask       PassIntent = "task"
	PassIntentReview     PassIntent = "review"
	PassIntentFixRequest PassIntent = "fix_request"
)

// Decision is the required value of payload.decision on an
// APPROVAL_DECISION envelope.
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
	DecisionRevise  Decision = "revise"
)

// Payload carries the type-specific fields of an envelope. Every field is
// optional at the Go type level; Validate enforces the per-Type subset
// spec §4.C requires.
type Payload struct {
	Summary    string                 `json:"summary,omitempty"`
	Question   string                 `json:"question,omitempty"`
	Message    string                 `json:"message,omitempty"`
	Decision   Decision               `json:"decision,omitempty"`
	PassIntent PassIntent             `json:"pass_intent,omitempty"`
	Findings   []string               `json:"findings,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// Envelope is one line of a transcript or inbox NDJSON stream.
type Envelope struct {
	ID        string      `json:"id"`
	Timestamp time.Time   `json:"ts"`
	BubbleID  string      `json:"bubble_id"`
	Sender    Participant `json:"sender"`
	Recipient Participant `json:"recipient"`
	Type      Type        `json:"type"`
	Round     int         `json:"round"`
	Payload   Payload     `json:"payload"`
	Refs      []string    `json:"refs,omitempty"`
}

// New builds an envelope with a generated id and the current UTC time.
// Round must be non-negative; callers validate the result before emitting
// it with Validate.
func New(bubbleID string, sender, recipient Participant, typ Type, round int, payload Payload, refs []string) *Envelope {
	return &Envelope{
		ID:        generateID(),
		Timestamp: time.Now().UTC(),
		BubbleID:  bubbleID,
		Sender:    sender,
		Recipient: recipient,
		Type:      typ,
		Round:     round,
		Payload:   payload,
		Refs:      refs,
	}
}

// generateID creates a random envelope id, falling back to a time-based
// id on the vanishingly rare failure of crypto/rand (same fallback
// discipline as the teacher's mail.generateID).
func generateID() string {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("env-%x", time.Now().UnixNano())
	}
	return "env-" + hex.EncodeToString(b)
}

// Validate checks the envelope's structural invariants and the
// per-Type payload subset spec §4.C requires. It does not check
// lifecycle preconditions — those belong to the protocol handler that
// is about to emit this envelope.
func (e *Envelope) Validate() error {
	if strings.TrimSpace(e.ID) == "" {
		return fmt.Errorf("id must not be empty")
	}
	if e.Timestamp.IsZero() {
		return fmt.Errorf("ts must not be zero")
	}
	if strings.TrimSpace(e.BubbleID) == "" {
		return fmt.Errorf("bubble_id must not be empty")
	}
	if !validParticipant(e.Sender) {
		return fmt.Errorf("sender %q is not a recognized participant", e.Sender)
	}
	if !validParticipant(e.Recipient) {
		return fmt.Errorf("recipient %q is not a recognized participant", e.Recipient)
	}
	if e.Round < 0 {
		return fmt.Errorf("round must be non-negative, got %d", e.Round)
	}

	switch e.Type {
	case TypeTask:
		// payload.summary is conventional but not required.
	case TypePass:
		switch e.Payload.PassIntent {
		case PassIntentTask, PassIntentReview, PassIntentFixRequest:
		default:
			return fmt.Errorf("PASS requires payload.pass_intent in {task, review, fix_request}, got %q", e.Payload.PassIntent)
		}
	case TypeHumanQuestion:
		if strings.TrimSpace(e.Payload.Question) == "" {
			return fmt.Errorf("HUMAN_QUESTION requires payload.question")
		}
	case TypeHumanReply:
		if strings.TrimSpace(e.Payload.Message) == "" {
			return fmt.Errorf("HUMAN_REPLY requires payload.message")
		}
	case TypeConvergence:
		if strings.TrimSpace(e.Payload.Summary) == "" {
			return fmt.Errorf("CONVERGENCE requires payload.summary")
		}
	case TypeApprovalRequest:
		// inbox-only; no required payload field beyond the common ones.
	case TypeApprovalDecision:
		switch e.Payload.Decision {
		case DecisionApprove, DecisionReject, DecisionRevise:
		default:
			return fmt.Errorf("APPROVAL_DECISION requires payload.decision in {approve, reject, revise}, got %q", e.Payload.Decision)
		}
	case TypeDonePackage:
		if strings.TrimSpace(e.Payload.Summary) == "" {
			return fmt.Errorf("DONE_PACKAGE requires payload.summary")
		}
	default:
		return fmt.Errorf("unrecognized envelope type %q", e.Type)
	}
	return nil
}

func validParticipant(p Participant) bool {
	switch p {
	case ParticipantCodex, ParticipantClaude, ParticipantOrchestrator, ParticipantHuman:
		return true
	default:
		return false
	}
}

// SerializeLine renders e as one NDJSON line, including the trailing
// newline. Validate should be called before serializing.
func SerializeLine(e *Envelope) ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshaling envelope %s: %w", e.ID, err)
	}
	return append(data, '\n'), nil
}

// ParseLine parses one NDJSON line into an Envelope. Empty or
// whitespace-only lines are rejected, per spec §4.C.
func ParseLine(line []byte) (*Envelope, error) {
	if strings.TrimSpace(string(line)) == "" {
		return nil, fmt.Errorf("empty or whitespace-only line")
	}
	var e Envelope
	if err := json.Unmarshal(line, &e); err != nil {
		return nil, fmt.Errorf("parsing envelope line: %w", err)
	}
	return &e, nil
}

// ResolvingType reports, for inbox items, the envelope Type that
// resolves a given pending type per invariant I5 (HUMAN_QUESTION is
// resolved by HUMAN_REPLY, APPROVAL_REQUEST by APPROVAL_DECISION).
func ResolvingType(pending Type) (Type, bool) {
	switch pending {
	case TypeHumanQuestion:
		return TypeHumanReply, true
	case TypeApprovalRequest:
		return TypeApprovalDecision, true
	default:
		return "", false
	}
}

// IsInboxType reports whether typ is one of the types that can appear
// as a pending inbox item.
func IsInboxType(typ Type) bool {
	_, ok := ResolvingType(typ)
	return ok
}
