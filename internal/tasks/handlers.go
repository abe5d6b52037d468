package tasks

import (
	"math"

	"github.com/trollcity2025-netizen/trollcity-1-sub004/internal/domain"
)

// AIEvaluated maps the 0-100 score of an ai_decision onto a share of the
// target. Non-finite or non-positive scores contribute nothing.
func AIEvaluated(event domain.Event, def domain.TaskDefinition) (float64, bool) {
	if def.ProgressType != domain.ProgressAIEvaluated {
		return 0, false
	}
	if def.EventType != "" && def.EventType != domain.EventAIDecision {
		return 0, false
	}
	p, ok := event.Payload.(domain.AIDecisionPayload)
	if !ok {
		return 0, false
	}
	score := p.Score
	if math.IsNaN(score) || math.IsInf(score, 0) || score <= 0 {
		return 0, true
	}
	return def.TargetValue * math.Min(score, 100) / 100, true
}

func bound(event domain.Event, def domain.TaskDefinition, pt domain.ProgressType) bool {
	return def.ProgressType == pt && def.EventType == event.Type
}

// Count adds one per event, or the event's count when it carries one.
func Count(event domain.Event, def domain.TaskDefinition) (float64, bool) {
	if !bound(event, def, domain.ProgressCount) {
		return 0, false
	}
	if n, ok := domain.MetaFloat(event.Metadata, "count"); ok && n > 0 {
		return n, true
	}
	return 1, true
}

// Boolean marks the task done on the first matching event.
func Boolean(event domain.Event, def domain.TaskDefinition) (float64, bool) {
	if !bound(event, def, domain.ProgressBoolean) {
		return 0, false
	}
	if p, ok := event.Payload.(domain.MatchResultPayload); ok && !p.Won {
		return 0, false
	}
	return 1, true
}

// Time adds the minutes carried by the event.
func Time(event domain.Event, def domain.TaskDefinition) (float64, bool) {
	if !bound(event, def, domain.ProgressTime) {
		return 0, false
	}
	if p, ok := event.Payload.(domain.StreamMinutesPayload); ok {
		return p.Minutes, true
	}
	minutes, ok := domain.MetaFloat(event.Metadata, "minutes")
	return minutes, ok
}

// Score adds the score carried by the event.
func Score(event domain.Event, def domain.TaskDefinition) (float64, bool) {
	if !bound(event, def, domain.ProgressScore) {
		return 0, false
	}
	return domain.MetaFloat(event.Metadata, "score")
}

var allEventTypes = []domain.EventType{
	domain.EventChatMessage,
	domain.EventGiftSent,
	domain.EventAIDecision,
	domain.EventMatchResult,
	domain.EventStreamMinutes,
	domain.EventCaseOpened,
	domain.EventCaseVerdict,
	domain.EventSummaryFeedback,
}

// RegisterDefaultHandlers registers AIEvaluated for ai_decision and the
// EventType-bound handlers for every event type.
func (e *Engine) RegisterDefaultHandlers() {
	e.Register(domain.EventAIDecision, AIEvaluated)
	for _, t := range allEventTypes {
		e.Register(t, Count)
		e.Register(t, Boolean)
		e.Register(t, Time)
		e.Register(t, Score)
	}
}
