package envelope

import (
	"strings"
	"testing"
)

func validEnvelopeOfType(typ Type) *Envelope {
	e := New("b_test", ParticipantOrchestrator, ParticipantCodex, typ, 0, Payload{}, nil)
	switch typ {
	case TypePass:
		e.Payload.PassIntent = PassIntentTask
	case TypeHumanQuestion:
		e.Payload.Question = "proceed?"
	case TypeHumanReply:
		e.Payload.Message = "yes"
	case TypeConvergence:
		e.Payload.Summary = "looks good"
	case TypeApprovalDecision:
		e.Payload.Decision = DecisionApprove
	case TypeDonePackage:
		e.Payload.Summary = "shipped"
	}
	return e
}

func TestValidateRequiresTypeSpecificFields(t *testing.T) {
	types := []Type{
		TypeTask, TypePass, TypeHumanQuestion, TypeHumanReply,
		TypeConvergence, TypeApprovalRequest, TypeApprovalDecision, TypeDonePackage,
	}
	for _, typ := range types {
		e := validEnvelopeOfType(typ)
		if err := e.Validate(); err != nil {
			t.Errorf("%s: expected valid envelope to pass, got %v", typ, err)
		}
	}
}

func TestValidateRejectsMissingRequiredPayload(t *testing.T) {
	cases := []Type{TypePass, TypeHumanQuestion, TypeHumanReply, TypeConvergence, TypeApprovalDecision, TypeDonePackage}
	for _, typ := range cases {
		e := New("b_test", ParticipantOrchestrator, ParticipantCodex, typ, 0, Payload{}, nil)
		if err := e.Validate(); err == nil {
			t.Errorf("%s: expected validation error for missing payload field", typ)
		}
	}
}

func TestValidateRejectsBadParticipant(t *testing.T) {
	e := validEnvelopeOfType(TypeTask)
	e.Sender = "robot"
	if err := e.Validate(); err == nil {
		t.Fatal("expected error for unrecognized sender")
	}
}

func TestValidateRejectsNegativeRound(t *testing.T) {
	e := validEnvelopeOfType(TypeTask)
	e.Round = -1
	if err := e.Validate(); err == nil {
		t.Fatal("expected error for negative round")
	}
}

func TestRoundTripSerialization(t *testing.T) {
	e := validEnvelopeOfType(TypeConvergence)
	e.Refs = []string{"artifact://foo"}
	e.Payload.Metadata = map[string]interface{}{"x": "y"}

	line, err := SerializeLine(e)
	if err != nil {
		t.Fatalf("SerializeLine: %v", err)
	}
	if !strings.HasSuffix(string(line), "\n") {
		t.Fatal("expected trailing newline")
	}

	parsed, err := ParseLine(line[:len(line)-1])
	if err != nil {
		t.Fatalf("ParseLine: %v", err)
	}
	if parsed.ID != e.ID || parsed.Type != e.Type || parsed.Payload.Summary != e.Payload.Summary {
		t.Fatalf("round trip mismatch: got %+v, want %+v", parsed, e)
	}
	if parsed.Refs[0] != "artifact://foo" {
		t.Fatalf("refs did not round trip: %+v", parsed.Refs)
	}
}

func TestParseLineRejectsEmptyLine(t *testing.T) {
	if _, err := ParseLine([]byte("   ")); err == nil {
		t.Fatal("expected error for whitespace-only line")
	}
	if _, err := ParseLine([]byte("")); err == nil {
		t.Fatal("expected error for empty line")
	}
}

func TestResolvingType(t *testing.T) {
	if resolved, ok := ResolvingType(TypeHumanQuestion); !ok || resolved != TypeHumanReply {
		t.Fatalf("expected HUMAN_QUESTION to resolve via HUMAN_REPLY, got %v/%v", resolved, ok)
	}
	if resolved, ok := ResolvingType(TypeApprovalRequest); !ok || resolved != TypeApprovalDecision {
		t.Fatalf("expected APPROVAL_REQUEST to resolve via APPROVAL_DECISION, got %v/%v", resolved, ok)
	}
	if _, ok := ResolvingType(TypeTask); ok {
		t.Fatal("TASK should not be an inbox type")
	}
}
