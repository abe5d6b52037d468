// Package sanitize turns untrusted completion output into validated agent
// responses. Nothing the model writes reaches the transcript without
// passing through here.
package sanitize

import (
	"math"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/trollcity2025-netizen/trollcity-1-sub004/internal/domain"
)

// SafetyNote replaces whatever safety text the model produced.
const SafetyNote = "AI-generated roleplay commentary. Not legal advice."

// DefaultConfidence is used when confidence is missing or not numeric.
const DefaultConfidence = 0.5

// Context carries the IDs the model was shown. References to anything else
// are dropped.
type Context struct {
	EvidenceIDs   []string
	TranscriptIDs []string
}

// Outcome classifies a parse.
type Outcome int

const (
	// OutcomeOK is an actionable response.
	OutcomeOK Outcome = iota
	// OutcomeUnparseable means no JSON object could be recovered.
	OutcomeUnparseable
	// OutcomeNoAction means the response resolved to next action "none".
	OutcomeNoAction
)

func (o Outcome) String() string {
	switch o {
	case OutcomeOK:
		return "ok"
	case OutcomeUnparseable:
		return "unparseable"
	case OutcomeNoAction:
		return "no_action"
	}
	return "unknown"
}

// Sanitize validates raw and reports whether the caller may persist it.
func Sanitize(raw string, c Context) (domain.AgentResponse, bool) {
	resp, outcome := Parse(raw, c)
	return resp, outcome == OutcomeOK
}

// Parse validates raw field by field. Invalid fields fall back to defaults
// instead of rejecting the payload.
func Parse(raw string, c Context) (domain.AgentResponse, Outcome) {
	obj, ok := extractObject(raw)
	if !ok {
		return domain.AgentResponse{}, OutcomeUnparseable
	}

	resp := domain.AgentResponse{
		ReferencedEvidenceIDs:   filterIDs(obj.Get("referenced_evidence_ids"), c.EvidenceIDs),
		ReferencedTranscriptIDs: filterIDs(obj.Get("referenced_transcript_ids"), c.TranscriptIDs),
		Confidence:              confidence(obj.Get("confidence")),
		SuggestedNextAction:     nextAction(obj.Get("suggested_next_action")),
		SafetyNote:              SafetyNote,
		MessageContent:          stringField(obj.Get("message_content")),
		MessageType:             messageType(obj.Get("message_type")),
	}

	if resp.SuggestedNextAction == domain.ActionNone {
		return resp, OutcomeNoAction
	}
	return resp, OutcomeOK
}

// extractObject parses the whole payload, then falls back to the span
// between the first '{' and the last '}'.
func extractObject(raw string) (gjson.Result, bool) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return gjson.Result{}, false
	}
	if gjson.Valid(trimmed) {
		if r := gjson.Parse(trimmed); r.IsObject() {
			return r, true
		}
	}

	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return gjson.Result{}, false
	}
	candidate := raw[start : end+1]
	if !gjson.Valid(candidate) {
		return gjson.Result{}, false
	}
	r := gjson.Parse(candidate)
	if !r.IsObject() {
		return gjson.Result{}, false
	}
	return r, true
}

// filterIDs stringifies every element and keeps only those in allowed,
// without duplicates and in model order.
func filterIDs(v gjson.Result, allowed []string) []string {
	out := []string{}
	if !v.IsArray() || len(allowed) == 0 {
		return out
	}
	allowedSet := make(map[string]struct{}, len(allowed))
	for _, id := range allowed {
		allowedSet[id] = struct{}{}
	}
	seen := make(map[string]struct{})
	for _, elem := range v.Array() {
		id := stringify(elem)
		if _, ok := allowedSet[id]; !ok {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func stringify(v gjson.Result) string {
	switch v.Type {
	case gjson.Null:
		return "null"
	case gjson.String, gjson.Number, gjson.True, gjson.False:
		return v.String()
	}
	return v.Raw
}

func confidence(v gjson.Result) float64 {
	var f float64
	switch v.Type {
	case gjson.Number:
		f = v.Num
	case gjson.String:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(v.Str), 64)
		if err != nil {
			return DefaultConfidence
		}
		f = parsed
	default:
		return DefaultConfidence
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return DefaultConfidence
	}
	return clamp(f, 0, 1)
}

func nextAction(v gjson.Result) domain.NextAction {
	if v.Type != gjson.String {
		return domain.ActionNone
	}
	for _, a := range domain.NextActions {
		if v.Str == string(a) {
			return a
		}
	}
	return domain.ActionNone
}

func messageType(v gjson.Result) domain.MessageType {
	if v.Type != gjson.String {
		return domain.MessageStatement
	}
	for _, t := range domain.AgentMessageTypes {
		if v.Str == string(t) {
			return t
		}
	}
	return domain.MessageStatement
}

func stringField(v gjson.Result) string {
	if v.Type != gjson.String {
		return ""
	}
	return strings.TrimSpace(v.Str)
}

func clamp(f, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, f))
}
