package transcript

import (
	"path/filepath"
	"testing"

	"github.com/felho/pairflow/internal/envelope"
)

func taskEnvelope() *envelope.Envelope {
	return envelope.New("b_1", envelope.ParticipantOrchestrator, envelope.ParticipantCodex, envelope.TypeTask, 0, envelope.Payload{Summary: "do the thing"}, nil)
}

func TestAppendEnvelopeAssignsSequentialIndices(t *testing.T) {
	path := filepath.Join(t.TempDir(), "transcript.ndjson")

	a1, err := AppendEnvelope(path, taskEnvelope())
	if err != nil {
		t.Fatalf("first append: %v", err)
	}
	if a1.Sequence != 0 {
		t.Fatalf("expected sequence 0, got %d", a1.Sequence)
	}

	pass := envelope.New("b_1", envelope.ParticipantCodex, envelope.ParticipantClaude, envelope.TypePass, 0, envelope.Payload{PassIntent: envelope.PassIntentTask}, nil)
	a2, err := AppendEnvelope(path, pass)
	if err != nil {
		t.Fatalf("second append: %v", err)
	}
	if a2.Sequence != 1 {
		t.Fatalf("expected sequence 1, got %d", a2.Sequence)
	}

	envs, err := ReadEnvelopes(path)
	if err != nil {
		t.Fatalf("ReadEnvelopes: %v", err)
	}
	if len(envs) != 2 {
		t.Fatalf("expected 2 envelopes, got %d", len(envs))
	}
	if envs[0].Type != envelope.TypeTask || envs[1].Type != envelope.TypePass {
		t.Fatalf("unexpected order: %+v", envs)
	}
}

func TestAppendEnvelopeRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "transcript.ndjson")
	bad := envelope.New("b_1", envelope.ParticipantOrchestrator, envelope.ParticipantCodex, envelope.TypeHumanQuestion, 0, envelope.Payload{}, nil)
	if _, err := AppendEnvelope(path, bad); err == nil {
		t.Fatal("expected validation error for HUMAN_QUESTION missing payload.question")
	}
}

func TestReadEnvelopesOfMissingFileIsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "does-not-exist.ndjson")
	envs, err := ReadEnvelopes(path)
	if err != nil {
		t.Fatalf("expected no error for missing file, got %v", err)
	}
	if len(envs) != 0 {
		t.Fatalf("expected empty slice, got %d entries", len(envs))
	}
}

func TestPendingInboxItemsMatchesI5(t *testing.T) {
	question := envelope.New("b_1", envelope.ParticipantCodex, envelope.ParticipantHuman, envelope.TypeHumanQuestion, 0, envelope.Payload{Question: "continue?"}, nil)
	reply := envelope.New("b_1", envelope.ParticipantHuman, envelope.ParticipantCodex, envelope.TypeHumanReply, 0, envelope.Payload{Message: "yes"}, nil)

	inbox := []envelope.Envelope{*question}
	transcriptBeforeReply := []envelope.Envelope{*question}
	pending := PendingInboxItems(inbox, transcriptBeforeReply)
	if len(pending) != 1 {
		t.Fatalf("expected 1 pending item before reply, got %d", len(pending))
	}

	transcriptAfterReply := []envelope.Envelope{*question, *reply}
	pending = PendingInboxItems(inbox, transcriptAfterReply)
	if len(pending) != 0 {
		t.Fatalf("expected 0 pending items after reply, got %d", len(pending))
	}
}

func TestPendingInboxItemsIgnoresNonInboxTypes(t *testing.T) {
	task := taskEnvelope()
	pending := PendingInboxItems([]envelope.Envelope{*task}, nil)
	if len(pending) != 0 {
		t.Fatalf("TASK should never be a pending inbox item, got %d", len(pending))
	}
}
