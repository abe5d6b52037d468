// Package domain contains the core domain types shared by the event bus,
// the agent orchestrator and the task engine.
package domain

import (
	"time"
)

// Evidence is a piece of case evidence that agents may cite by ID.
type Evidence struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

// Case is a courtroom session. Role enablement lives here because it is
// configured per session.
type Case struct {
	ID               string     `json:"id"`
	Title            string     `json:"title"`
	Summary          string     `json:"summary"`
	Evidence         []Evidence `json:"evidence"`
	HighActivity     bool       `json:"high_activity"`
	PrimaryEnabled   bool       `json:"primary_enabled"`
	SecondaryEnabled bool       `json:"secondary_enabled"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// EvidenceIDs returns the IDs of the case evidence in order.
func (c *Case) EvidenceIDs() []string {
	ids := make([]string, 0, len(c.Evidence))
	for _, e := range c.Evidence {
		ids = append(ids, e.ID)
	}
	return ids
}

// RoleEnabled reports whether the automated role may speak in this case.
func (c *Case) RoleEnabled(r Role) bool {
	switch r {
	case RoleProsecutor:
		return c.PrimaryEnabled
	case RoleDefense:
		return c.SecondaryEnabled
	}
	return false
}

// TranscriptMessage is one entry of the shared case transcript.
type TranscriptMessage struct {
	ID          string         `json:"id"`
	CaseID      string         `json:"case_id"`
	Role        Role           `json:"role"`
	AuthorID    string         `json:"author_id,omitempty"`
	Content     string         `json:"content"`
	MessageType MessageType    `json:"message_type"`
	Payload     map[string]any `json:"payload,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// RecentMessages returns the last n messages of a chronological slice.
func RecentMessages(msgs []TranscriptMessage, n int) []TranscriptMessage {
	if n <= 0 || n >= len(msgs) {
		return msgs
	}
	return msgs[len(msgs)-n:]
}
