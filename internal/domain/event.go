package domain

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"
)

// EventType identifies a domain action published on the event bus.
type EventType string

const (
	EventChatMessage     EventType = "chat_message"
	EventGiftSent        EventType = "gift_sent"
	EventAIDecision      EventType = "ai_decision"
	EventMatchResult     EventType = "match_result"
	EventStreamMinutes   EventType = "stream_minutes"
	EventCaseOpened      EventType = "case_opened"
	EventCaseVerdict     EventType = "case_verdict"
	EventSummaryFeedback EventType = "summary_feedback"
)

// Valid reports whether t is one of the known event types.
func (t EventType) Valid() bool {
	switch t {
	case EventChatMessage, EventGiftSent, EventAIDecision, EventMatchResult,
		EventStreamMinutes, EventCaseOpened, EventCaseVerdict, EventSummaryFeedback:
		return true
	}
	return false
}

// Event is an immutable domain event. ID and CreatedAt never take part in
// duplicate detection.
type Event struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"type"`
	SubjectID string         `json:"subject_id"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Payload   Payload        `json:"-"`
	CreatedAt time.Time      `json:"created_at"`
}

// Payload is implemented by the closed set of typed event payloads.
type Payload interface {
	eventType() EventType
}

// ChatMessagePayload is carried by chat_message events.
type ChatMessagePayload struct {
	CaseID    string
	SessionID string
	MessageID string
	Role      Role
	Content   string
}

// GiftPayload is carried by gift_sent events.
type GiftPayload struct {
	GiftID      string
	RecipientID string
	Coins       float64
	Count       float64
}

// AIDecisionPayload is carried by ai_decision events.
type AIDecisionPayload struct {
	CaseID              string
	SessionID           string
	Role                Role
	MessageID           string
	MessageType         MessageType
	Confidence          float64
	SuggestedNextAction NextAction
	Score               float64
}

// MatchResultPayload is carried by match_result events.
type MatchResultPayload struct {
	MatchID string
	Won     bool
	Score   float64
}

// StreamMinutesPayload is carried by stream_minutes events.
type StreamMinutesPayload struct {
	StreamID string
	Minutes  float64
}

// CaseVerdictPayload is carried by case_opened, case_verdict and
// summary_feedback events.
type CaseVerdictPayload struct {
	CaseID  string
	Verdict string
	Score   float64
}

func (ChatMessagePayload) eventType() EventType {
	return EventChatMessage
}

func (GiftPayload) eventType() EventType {
	return EventGiftSent
}

func (AIDecisionPayload) eventType() EventType {
	return EventAIDecision
}

func (MatchResultPayload) eventType() EventType {
	return EventMatchResult
}

func (StreamMinutesPayload) eventType() EventType {
	return EventStreamMinutes
}

func (CaseVerdictPayload) eventType() EventType {
	return EventCaseVerdict
}

// DecodePayload builds the typed payload for an event type from its
// metadata. Unknown types yield nil. Missing or mistyped fields are left at
// their zero value.
func DecodePayload(t EventType, md map[string]any) Payload {
	switch t {
	case EventChatMessage:
		return ChatMessagePayload{
			CaseID:    MetaString(md, "case_id"),
			SessionID: MetaString(md, "session_id"),
			MessageID: MetaString(md, "message_id"),
			Role:      Role(MetaString(md, "role")),
			Content:   MetaString(md, "content"),
		}
	case EventGiftSent:
		coins, _ := MetaFloat(md, "coins")
		count, ok := MetaFloat(md, "count")
		if !ok {
			count = 1
		}
		return GiftPayload{
			GiftID:      MetaString(md, "gift_id"),
			RecipientID: MetaString(md, "recipient_id"),
			Coins:       coins,
			Count:       count,
		}
	case EventAIDecision:
		confidence, _ := MetaFloat(md, "confidence")
		score, _ := MetaFloat(md, "score")
		return AIDecisionPayload{
			CaseID:              MetaString(md, "case_id"),
			SessionID:           MetaString(md, "session_id"),
			Role:                Role(MetaString(md, "role")),
			MessageID:           MetaString(md, "message_id"),
			MessageType:         MessageType(MetaString(md, "message_type")),
			Confidence:          confidence,
			SuggestedNextAction: NextAction(MetaString(md, "suggested_next_action")),
			Score:               score,
		}
	case EventMatchResult:
		score, _ := MetaFloat(md, "score")
		won, _ := md["won"].(bool)
		return MatchResultPayload{MatchID: MetaString(md, "match_id"), Won: won, Score: score}
	case EventStreamMinutes:
		minutes, _ := MetaFloat(md, "minutes")
		return StreamMinutesPayload{StreamID: MetaString(md, "stream_id"), Minutes: minutes}
	case EventCaseOpened, EventCaseVerdict, EventSummaryFeedback:
		score, _ := MetaFloat(md, "score")
		return CaseVerdictPayload{
			CaseID:  MetaString(md, "case_id"),
			Verdict: MetaString(md, "verdict"),
			Score:   score,
		}
	}
	return nil
}

// MetaString returns md[key] as a string, or "" when absent or not a string.
func MetaString(md map[string]any, key string) string {
	if md == nil {
		return ""
	}
	s, _ := md[key].(string)
	return s
}

// MetaFloat returns md[key] as a finite float64. Numeric strings are
// accepted.
func MetaFloat(md map[string]any, key string) (float64, bool) {
	if md == nil {
		return 0, false
	}
	var f float64
	switch v := md[key].(type) {
	case float64:
		f = v
	case float32:
		f = float64(v)
	case int:
		f = float64(v)
	case int64:
		f = float64(v)
	case json.Number:
		parsed, err := v.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}
