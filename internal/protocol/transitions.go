package protocol

import (
	"fmt"

	"github.com/felho/pairflow/internal/envelope"
	"github.com/felho/pairflow/internal/metrics"
	"github.com/felho/pairflow/internal/pferrors"
	"github.com/felho/pairflow/internal/state"
	"github.com/felho/pairflow/internal/transcript"
)

// appendBoth writes env to the transcript and, when its type is one of
// the inbox types (spec §4.E), also to inbox.ndjson.
func (e *Engine) appendBoth(env *envelope.Envelope) error {
	if _, err := transcript.AppendEnvelope(e.Paths.TranscriptFile, env); err != nil {
		return err
	}
	if envelope.IsInboxType(env.Type) {
		if _, err := transcript.AppendEnvelope(e.Paths.InboxFile, env); err != nil {
			return err
		}
	}
	return nil
}

func activeAgentName(s *state.Snapshot) string {
	if s.ActiveAgent == nil {
		return ""
	}
	return *s.ActiveAgent
}

func activeRoleName(s *state.Snapshot) string {
	if s.ActiveRole == nil {
		return ""
	}
	return string(*s.ActiveRole)
}

// Pass hands the turn from actingAgent to its counterpart, recording
// intent and an optional summary/refs. Pre-state: RUNNING, and
// actingAgent must be the currently active agent (spec §4.I).
func (e *Engine) Pass(actingAgent string, intent envelope.PassIntent, summary string, refs []string) (snap *state.Fingerprinted, err error) {
	err = e.withLock(func() error {
		current, readErr := state.ReadSnapshot(e.Paths.StateFile)
		if readErr != nil {
			return readErr
		}
		if current.Snapshot.State != state.StateRunning {
			return pferrors.NewInvalidState([]string{string(state.StateRunning)}, string(current.Snapshot.State))
		}
		if activeAgentName(&current.Snapshot) != actingAgent {
			return fmt.Errorf("bubble %s: %s does not hold the turn (active agent is %s)", e.Paths.BubbleID, actingAgent, activeAgentName(&current.Snapshot))
		}

		fromRole := activeRoleName(&current.Snapshot)
		toRole := bubbleOtherRole(fromRole)
		toAgent := e.Config.AgentForRole(toRole)

		env := envelope.New(
			e.Paths.BubbleID,
			e.currentParticipant(&current.Snapshot),
			participantForAgent(toAgent),
			envelope.TypePass,
			current.Snapshot.Round,
			envelope.Payload{Summary: summary, PassIntent: intent},
			refs,
		)
		if err := e.appendBoth(env); err != nil {
			return err
		}

		now := e.now()
		next := current.Snapshot
		next.ActiveAgent = strPtr(string(toAgent))
		next.ActiveRole = rolePtr(state.Role(toRole))
		next.ActiveSince = timePtr(now)
		next.LastCommandAt = timePtr(now)

		written, writeErr := state.WriteSnapshot(e.Paths.StateFile, &next, state.WriteOptions{ExpectedFingerprint: current.Fingerprint, ExpectedState: state.StateRunning})
		if writeErr != nil {
			return writeErr
		}
		snap = written
		metrics.EmitBestEffort(e.Paths.BubbleID, "pass", current.Snapshot.Round, actingAgent, now)
		return nil
	})
	return snap, err
}

func bubbleOtherRole(role string) string {
	if role == "implementer" {
		return "reviewer"
	}
	return "implementer"
}

// AskHuman moves the bubble into WAITING_HUMAN and records a
// HUMAN_QUESTION envelope on both streams. Pre-state: RUNNING.
func (e *Engine) AskHuman(question string, refs []string) (snap *state.Fingerprinted, err error) {
	err = e.withLock(func() error {
		current, readErr := state.ReadSnapshot(e.Paths.StateFile)
		if readErr != nil {
			return readErr
		}
		if current.Snapshot.State != state.StateRunning {
			return pferrors.NewInvalidState([]string{string(state.StateRunning)}, string(current.Snapshot.State))
		}

		env := envelope.New(
			e.Paths.BubbleID,
			e.currentParticipant(&current.Snapshot),
			envelope.ParticipantHuman,
			envelope.TypeHumanQuestion,
			current.Snapshot.Round,
			envelope.Payload{Question: question},
			refs,
		)
		if err := e.appendBoth(env); err != nil {
			return err
		}

		next := current.Snapshot
		next.State = state.StateWaitingHuman
		next.LastCommandAt = timePtr(e.now())

		written, writeErr := state.WriteSnapshot(e.Paths.StateFile, &next, state.WriteOptions{ExpectedFingerprint: current.Fingerprint, ExpectedState: state.StateRunning})
		if writeErr != nil {
			return writeErr
		}
		snap = written
		metrics.EmitBestEffort(e.Paths.BubbleID, "ask_human", current.Snapshot.Round, string(e.currentParticipant(&current.Snapshot)), e.now())
		return nil
	})
	return snap, err
}

// HumanReply resolves the pending HUMAN_QUESTION and returns the
// bubble to RUNNING. Pre-state: WAITING_HUMAN.
func (e *Engine) HumanReply(message string) (snap *state.Fingerprinted, err error) {
	err = e.withLock(func() error {
		current, readErr := state.ReadSnapshot(e.Paths.StateFile)
		if readErr != nil {
			return readErr
		}
		if current.Snapshot.State != state.StateWaitingHuman {
			return pferrors.NewInvalidState([]string{string(state.StateWaitingHuman)}, string(current.Snapshot.State))
		}

		env := envelope.New(
			e.Paths.BubbleID,
			envelope.ParticipantHuman,
			e.currentParticipant(&current.Snapshot),
			envelope.TypeHumanReply,
			current.Snapshot.Round,
			envelope.Payload{Message: message},
			nil,
		)
		if err := e.appendBoth(env); err != nil {
			return err
		}

		now := e.now()
		next := current.Snapshot
		next.State = state.StateRunning
		next.LastCommandAt = timePtr(now)

		written, writeErr := state.WriteSnapshot(e.Paths.StateFile, &next, state.WriteOptions{ExpectedFingerprint: current.Fingerprint, ExpectedState: state.StateWaitingHuman})
		if writeErr != nil {
			return writeErr
		}
		snap = written
		metrics.EmitBestEffort(e.Paths.BubbleID, "human_reply", current.Snapshot.Round, "human", now)
		return nil
	})
	return snap, err
}

// Resume re-issues the default "please continue" reply against a
// bubble parked in WAITING_HUMAN, the documented default for an
// operator who wants to unblock a bubble without answering its
// question directly.
func (e *Engine) Resume() (*state.Fingerprinted, error) {
	return e.HumanReply("Please continue.")
}

// Converged records the reviewer's CONVERGENCE verdict and moves the
// bubble to READY_FOR_APPROVAL. Pre-state: RUNNING with the reviewer
// holding the turn.
func (e *Engine) Converged(summary string) (snap *state.Fingerprinted, err error) {
	err = e.withLock(func() error {
		current, readErr := state.ReadSnapshot(e.Paths.StateFile)
		if readErr != nil {
			return readErr
		}
		if current.Snapshot.State != state.StateRunning {
			return pferrors.NewInvalidState([]string{string(state.StateRunning)}, string(current.Snapshot.State))
		}
		if activeRoleName(&current.Snapshot) != string(state.RoleReviewer) {
			return fmt.Errorf("bubble %s: CONVERGENCE requires the reviewer to hold the turn, got %q", e.Paths.BubbleID, activeRoleName(&current.Snapshot))
		}

		env := envelope.New(
			e.Paths.BubbleID,
			e.currentParticipant(&current.Snapshot),
			envelope.ParticipantOrchestrator,
			envelope.TypeConvergence,
			current.Snapshot.Round,
			envelope.Payload{Summary: summary},
			nil,
		)
		if err := e.appendBoth(env); err != nil {
			return err
		}

		next := current.Snapshot
		next.State = state.StateReadyForApproval
		next.LastCommandAt = timePtr(e.now())

		written, writeErr := state.WriteSnapshot(e.Paths.StateFile, &next, state.WriteOptions{ExpectedFingerprint: current.Fingerprint, ExpectedState: state.StateRunning})
		if writeErr != nil {
			return writeErr
		}
		snap = written
		metrics.EmitBestEffort(e.Paths.BubbleID, "converged", current.Snapshot.Round, string(e.currentParticipant(&current.Snapshot)), e.now())
		return nil
	})
	return snap, err
}

// ApprovalRequest appends an APPROVAL_REQUEST to both streams without
// changing lifecycle state; a bubble may sit in READY_FOR_APPROVAL
// across multiple reminders before a human decides.
func (e *Engine) ApprovalRequest() error {
	return e.withLock(func() error {
		current, readErr := state.ReadSnapshot(e.Paths.StateFile)
		if readErr != nil {
			return readErr
		}
		if current.Snapshot.State != state.StateReadyForApproval {
			return pferrors.NewInvalidState([]string{string(state.StateReadyForApproval)}, string(current.Snapshot.State))
		}

		env := envelope.New(
			e.Paths.BubbleID,
			envelope.ParticipantOrchestrator,
			envelope.ParticipantHuman,
			envelope.TypeApprovalRequest,
			current.Snapshot.Round,
			envelope.Payload{},
			nil,
		)
		if err := e.appendBoth(env); err != nil {
			return err
		}
		metrics.EmitBestEffort(e.Paths.BubbleID, "approval_request", current.Snapshot.Round, string(envelope.ParticipantOrchestrator), e.now())
		return nil
	})
}

// ApprovalDecision records the human's decision and transitions the
// bubble accordingly: approve → APPROVED_FOR_COMMIT, revise → RUNNING
// with a new round and swapped roles, reject → CANCELLED. Pre-state:
// READY_FOR_APPROVAL.
func (e *Engine) ApprovalDecision(decision envelope.Decision) (snap *state.Fingerprinted, err error) {
	err = e.withLock(func() error {
		current, readErr := state.ReadSnapshot(e.Paths.StateFile)
		if readErr != nil {
			return readErr
		}
		if current.Snapshot.State != state.StateReadyForApproval {
			return pferrors.NewInvalidState([]string{string(state.StateReadyForApproval)}, string(current.Snapshot.State))
		}

		env := envelope.New(
			e.Paths.BubbleID,
			envelope.ParticipantHuman,
			envelope.ParticipantOrchestrator,
			envelope.TypeApprovalDecision,
			current.Snapshot.Round,
			envelope.Payload{Decision: decision},
			nil,
		)
		if err := e.appendBoth(env); err != nil {
			return err
		}

		now := e.now()
		next := current.Snapshot

		switch decision {
		case envelope.DecisionApprove:
			next.State = state.StateApprovedForCommit
		case envelope.DecisionReject:
			next.State = state.StateCancelled
			next.ActiveAgent = nil
			next.ActiveRole = nil
			next.ActiveSince = nil
		case envelope.DecisionRevise:
			next.State = state.StateRunning
			next.Round++
			// Revision hands the turn back to the implementer for a
			// fresh pass at the same pairing, per the role-swap rule.
			implementer := string(e.Config.Agents.Implementer)
			next.ActiveAgent = strPtr(implementer)
			next.ActiveRole = rolePtr(state.RoleImplementer)
			next.ActiveSince = timePtr(now)
			next.RoundRoleHistory = append(next.RoundRoleHistory, state.RoundRoleEntry{
				Round:       next.Round,
				Implementer: string(e.Config.Agents.Implementer),
				Reviewer:    string(e.Config.Agents.Reviewer),
				SwitchedAt:  now,
			})
		default:
			return fmt.Errorf("unrecognized decision %q", decision)
		}
		next.LastCommandAt = timePtr(now)

		written, writeErr := state.WriteSnapshot(e.Paths.StateFile, &next, state.WriteOptions{ExpectedFingerprint: current.Fingerprint, ExpectedState: state.StateReadyForApproval})
		if writeErr != nil {
			return writeErr
		}
		snap = written
		metrics.EmitBestEffort(e.Paths.BubbleID, "approval_decision_"+string(decision), current.Snapshot.Round, "human", now)
		return nil
	})
	return snap, err
}

// currentParticipant maps the snapshot's active agent to the matching
// envelope participant, falling back to orchestrator when no agent
// currently holds the turn.
func (e *Engine) currentParticipant(s *state.Snapshot) envelope.Participant {
	switch activeAgentName(s) {
	case string(e.Config.Agents.Implementer):
		return participantForAgent(e.Config.Agents.Implementer)
	case string(e.Config.Agents.Reviewer):
		return participantForAgent(e.Config.Agents.Reviewer)
	default:
		return envelope.ParticipantOrchestrator
	}
}
