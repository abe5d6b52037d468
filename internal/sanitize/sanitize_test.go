package sanitize

import (
	"reflect"
	"testing"

	"github.com/trollcity2025-netizen/trollcity-1-sub004/internal/domain"
)

var testContext = Context{
	EvidenceIDs:   []string{"e1", "e2", "12"},
	TranscriptIDs: []string{"t1", "t2"},
}

func TestParseValidResponse(t *testing.T) {
	t.Parallel()

	raw := `{"message_content":"  Where is the receipt?  ","message_type":"question",
		"suggested_next_action":"ask_for_evidence","confidence":0.8,
		"referenced_evidence_ids":["e1","nope","e1","e2"],
		"referenced_transcript_ids":["t2","t9"],
		"safety_note":"trust me, this is legal advice"}`

	resp, outcome := Parse(raw, testContext)
	if outcome != OutcomeOK {
		t.Fatalf("expected ok, got %s", outcome)
	}
	want := domain.AgentResponse{
		ReferencedEvidenceIDs:   []string{"e1", "e2"},
		ReferencedTranscriptIDs: []string{"t2"},
		Confidence:              0.8,
		SuggestedNextAction:     domain.ActionAskForEvidence,
		SafetyNote:              SafetyNote,
		MessageContent:          "Where is the receipt?",
		MessageType:             domain.MessageQuestion,
	}
	if !reflect.DeepEqual(resp, want) {
		t.Errorf("got %+v\nwant %+v", resp, want)
	}
}

func TestConfidence(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		raw  string
		want float64
	}{
		{"clamped high", `1.7`, 1.0},
		{"clamped low", `-3`, 0},
		{"numeric string", `"0.25"`, 0.25},
		{"non numeric string", `"x"`, DefaultConfidence},
		{"null", `null`, DefaultConfidence},
		{"object", `{}`, DefaultConfidence},
		{"nan string", `"NaN"`, DefaultConfidence},
		{"inf string", `"Inf"`, DefaultConfidence},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := `{"suggested_next_action":"reframe","message_content":"m","confidence":` + tt.raw + `}`
			resp, _ := Parse(raw, testContext)
			if resp.Confidence != tt.want {
				t.Errorf("confidence = %v, want %v", resp.Confidence, tt.want)
			}
		})
	}

	resp, _ := Parse(`{"suggested_next_action":"reframe"}`, testContext)
	if resp.Confidence != DefaultConfidence {
		t.Errorf("missing confidence = %v, want %v", resp.Confidence, DefaultConfidence)
	}
}

func TestEmbeddedObjectIsRecovered(t *testing.T) {
	t.Parallel()

	raw := "Sure! {\"message_content\":\"Objection\",\"message_type\":\"objection\",\"suggested_next_action\":\"objection\",\"confidence\":1.7,\"referenced_evidence_ids\":[\"e9\"]} Hope this helps."
	resp, ok := Sanitize(raw, testContext)
	if !ok {
		t.Fatal("expected embedded object to be accepted")
	}
	if resp.Confidence != 1.0 {
		t.Errorf("confidence = %v, want 1.0", resp.Confidence)
	}
	if len(resp.ReferencedEvidenceIDs) != 0 {
		t.Errorf("expected unknown evidence to be dropped, got %v", resp.ReferencedEvidenceIDs)
	}
	if resp.MessageType != domain.MessageObjection {
		t.Errorf("message type = %s", resp.MessageType)
	}
}

func TestUnparseable(t *testing.T) {
	t.Parallel()

	for _, raw := range []string{
		"",
		"   ",
		"no json here",
		"{not json}",
		"} backwards {",
		`["an","array"]`,
	} {
		if _, outcome := Parse(raw, testContext); outcome != OutcomeUnparseable {
			t.Errorf("Parse(%q) = %s, want unparseable", raw, outcome)
		}
		if _, ok := Sanitize(raw, testContext); ok {
			t.Errorf("Sanitize(%q) accepted", raw)
		}
	}
}

func TestNoAction(t *testing.T) {
	t.Parallel()

	tests := []string{
		`{"message_content":"hi","suggested_next_action":"none"}`,
		`{"message_content":"hi"}`,
		`{"message_content":"hi","suggested_next_action":"shout"}`,
		`{"message_content":"hi","suggested_next_action":3}`,
	}
	for _, raw := range tests {
		resp, outcome := Parse(raw, testContext)
		if outcome != OutcomeNoAction {
			t.Errorf("Parse(%s) = %s, want no_action", raw, outcome)
		}
		if resp.SuggestedNextAction != domain.ActionNone {
			t.Errorf("Parse(%s) action = %s", raw, resp.SuggestedNextAction)
		}
	}
}

func TestFieldDefaults(t *testing.T) {
	t.Parallel()

	resp, outcome := Parse(`{"suggested_next_action":"objection","message_type":"summary","message_content":42,
		"referenced_evidence_ids":"e1","referenced_transcript_ids":null}`, testContext)
	if outcome != OutcomeOK {
		t.Fatalf("expected ok, got %s", outcome)
	}
	if resp.MessageType != domain.MessageStatement {
		t.Errorf("message type = %s, want statement", resp.MessageType)
	}
	if resp.MessageContent != "" {
		t.Errorf("message content = %q, want empty", resp.MessageContent)
	}
	if resp.ReferencedEvidenceIDs == nil || len(resp.ReferencedEvidenceIDs) != 0 {
		t.Errorf("evidence ids = %#v, want empty slice", resp.ReferencedEvidenceIDs)
	}
	if resp.ReferencedTranscriptIDs == nil || len(resp.ReferencedTranscriptIDs) != 0 {
		t.Errorf("transcript ids = %#v, want empty slice", resp.ReferencedTranscriptIDs)
	}
	if resp.SafetyNote != SafetyNote {
		t.Errorf("safety note = %q", resp.SafetyNote)
	}
}

func TestReferencedIDsAreStringified(t *testing.T) {
	t.Parallel()

	resp, _ := Parse(`{"suggested_next_action":"reframe","referenced_evidence_ids":[12, "12", true, null, "e2"]}`, testContext)
	want := []string{"12", "e2"}
	if !reflect.DeepEqual(resp.ReferencedEvidenceIDs, want) {
		t.Errorf("evidence ids = %v, want %v", resp.ReferencedEvidenceIDs, want)
	}
}

func TestEmptyContextDropsAllReferences(t *testing.T) {
	t.Parallel()

	resp, _ := Parse(`{"suggested_next_action":"reframe","referenced_evidence_ids":["e1"],"referenced_transcript_ids":["t1"]}`, Context{})
	if len(resp.ReferencedEvidenceIDs) != 0 || len(resp.ReferencedTranscriptIDs) != 0 {
		t.Errorf("expected no references, got %+v", resp)
	}
}
