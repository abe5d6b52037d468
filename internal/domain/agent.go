package domain

// Role is the author role of a transcript message.
type Role string

const (
	// RoleProsecutor is the primary automated role.
	RoleProsecutor Role = "prosecutor"
	// RoleDefense is the secondary automated role.
	RoleDefense Role = "defense"
	// RoleClerk writes summary feedback on request.
	RoleClerk Role = "clerk"
	// RoleSystem is used for platform notices.
	RoleSystem Role = "system"

	RoleJudge     Role = "judge"
	RolePlaintiff Role = "plaintiff"
	RoleDefendant Role = "defendant"
	RoleSpectator Role = "spectator"
)

// IsAutomated reports whether r is authored by an agent.
func (r Role) IsAutomated() bool {
	return r == RoleProsecutor || r == RoleDefense || r == RoleClerk
}

// TriggersAgents reports whether a message authored by r may start an
// orchestration pass. Agent and system messages never do.
func (r Role) TriggersAgents() bool {
	return !r.IsAutomated() && r != RoleSystem
}

// MessageType categorizes a transcript message.
type MessageType string

const (
	MessageStatement       MessageType = "statement"
	MessageObjection       MessageType = "objection"
	MessageQuestion        MessageType = "question"
	MessageContradiction   MessageType = "contradiction"
	MessageMissingEvidence MessageType = "missing_evidence"
	MessageCivilityWarning MessageType = "civility_warning"
	MessageChat            MessageType = "chat"
	// MessageSummary is only written by the clerk and is never accepted
	// from model output.
	MessageSummary MessageType = "summary"
)

// AgentMessageTypes lists the message types an agent may produce.
var AgentMessageTypes = []MessageType{
	MessageStatement,
	MessageObjection,
	MessageQuestion,
	MessageContradiction,
	MessageMissingEvidence,
	MessageCivilityWarning,
	MessageChat,
}

// NextAction is the agent's suggested follow-up.
type NextAction string

const (
	ActionAskForEvidence NextAction = "ask_for_evidence"
	ActionObjection      NextAction = "objection"
	ActionReframe        NextAction = "reframe"
	ActionNone           NextAction = "none"
)

// NextActions lists the accepted next actions.
var NextActions = []NextAction{ActionAskForEvidence, ActionObjection, ActionReframe, ActionNone}

// AgentResponse is a validated agent reply. It is only ever built by the
// sanitizer; raw model output is never stored.
type AgentResponse struct {
	ReferencedEvidenceIDs   []string    `json:"referenced_evidence_ids"`
	ReferencedTranscriptIDs []string    `json:"referenced_transcript_ids"`
	Confidence              float64     `json:"confidence"`
	SuggestedNextAction     NextAction  `json:"suggested_next_action"`
	SafetyNote              string      `json:"safety_note"`
	MessageContent          string      `json:"message_content"`
	MessageType             MessageType `json:"message_type"`
}

// SummaryFeedback is the validated output of the clerk.
type SummaryFeedback struct {
	Summary      string   `json:"summary"`
	Strengths    []string `json:"strengths"`
	Improvements []string `json:"improvements"`
	Score        float64  `json:"score"`
	SafetyNote   string   `json:"safety_note"`
}
