package agent

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/trollcity2025-netizen/trollcity-1-sub004/internal/domain"
	"github.com/trollcity2025-netizen/trollcity-1-sub004/internal/llm"
)

var personas = map[domain.Role]string{
	domain.RoleProsecutor: "You are the prosecutor in Troll Court, a live-streamed mock courtroom. " +
		"You press the case against the defendant, point out contradictions and ask for evidence. " +
		"Stay sharp but civil, and keep every reply under three sentences.",
	domain.RoleDefense: "You are the defense attorney in Troll Court, a live-streamed mock courtroom. " +
		"You protect the defendant, challenge weak claims and reframe the story. " +
		"Stay calm and civil, and keep every reply under three sentences.",
	domain.RoleClerk: "You are the court clerk in Troll Court, a live-streamed mock courtroom. " +
		"You review how the session went and give the participants honest, constructive feedback.",
}

func agentSchema() string {
	types := make([]string, 0, len(domain.AgentMessageTypes))
	for _, t := range domain.AgentMessageTypes {
		types = append(types, string(t))
	}
	actions := make([]string, 0, len(domain.NextActions))
	for _, a := range domain.NextActions {
		actions = append(actions, string(a))
	}
	return "Reply with a single JSON object and nothing else. Fields:\n" +
		"- message_content: what you say in court\n" +
		"- message_type: one of " + strings.Join(types, ", ") + "\n" +
		"- suggested_next_action: one of " + strings.Join(actions, ", ") + "; use none to stay silent\n" +
		"- confidence: number between 0 and 1\n" +
		"- referenced_evidence_ids: evidence ids you rely on, only from the context\n" +
		"- referenced_transcript_ids: transcript ids you respond to, only from the context\n" +
		"- safety_note: short disclaimer"
}

const summarySchema = "Reply with a single JSON object and nothing else. Fields:\n" +
	"- summary: a short paragraph on how the session went\n" +
	"- strengths: up to 5 short strings\n" +
	"- improvements: up to 5 short strings\n" +
	"- score: overall quality from 0 to 100"

type promptEvidence struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

type promptMessage struct {
	ID          string `json:"id"`
	Role        string `json:"role"`
	Content     string `json:"content"`
	MessageType string `json:"message_type"`
}

type promptContext struct {
	CaseTitle        string           `json:"case_title"`
	CaseSummary      string           `json:"case_summary,omitempty"`
	Evidence         []promptEvidence `json:"evidence"`
	Transcript       []promptMessage  `json:"transcript"`
	TriggerMessageID string           `json:"trigger_message_id,omitempty"`
	HighActivity     bool             `json:"high_activity"`
}

func newPromptContext(c *domain.Case, recent []domain.TranscriptMessage, triggerID string, highActivity bool) promptContext {
	pc := promptContext{
		CaseTitle:        c.Title,
		CaseSummary:      c.Summary,
		Evidence:         make([]promptEvidence, 0, len(c.Evidence)),
		Transcript:       make([]promptMessage, 0, len(recent)),
		TriggerMessageID: triggerID,
		HighActivity:     highActivity,
	}
	for _, e := range c.Evidence {
		pc.Evidence = append(pc.Evidence, promptEvidence(e))
	}
	for _, m := range recent {
		pc.Transcript = append(pc.Transcript, promptMessage{
			ID:          m.ID,
			Role:        string(m.Role),
			Content:     m.Content,
			MessageType: string(m.MessageType),
		})
	}
	return pc
}

func buildMessages(role domain.Role, schema string, pc promptContext) ([]llm.Message, error) {
	persona, ok := personas[role]
	if !ok {
		return nil, fmt.Errorf("no persona for role %q", role)
	}
	body, err := json.Marshal(pc)
	if err != nil {
		return nil, fmt.Errorf("marshal prompt context: %w", err)
	}
	system := persona + "\nRole: " + string(role) + "\n\n" + schema
	return []llm.Message{
		{Role: "system", Content: system},
		{Role: "user", Content: "Courtroom context:\n" + string(body)},
	}, nil
}
