package agent

import (
	"context"
	"fmt"

	"github.com/trollcity2025-netizen/trollcity-1-sub004/internal/domain"
	"github.com/trollcity2025-netizen/trollcity-1-sub004/internal/llm"
	"github.com/trollcity2025-netizen/trollcity-1-sub004/internal/sanitize"
)

// SummarizeCase asks the clerk for feedback on a case, stores it as a
// summary transcript message and publishes summary_feedback for userID.
// It is a single pass: no rate limiting and no turn-taking.
func (o *Orchestrator) SummarizeCase(ctx context.Context, caseID, userID string) (domain.TranscriptMessage, error) {
	if o.client == nil {
		return domain.TranscriptMessage{}, ErrCompletionDisabled
	}
	c, err := o.store.GetCase(ctx, caseID)
	if err != nil {
		return domain.TranscriptMessage{}, fmt.Errorf("get case: %w", err)
	}
	if c == nil {
		return domain.TranscriptMessage{}, ErrCaseNotFound
	}

	recent, err := o.store.RecentTranscriptMessages(ctx, caseID, o.cfg.SummaryMessages)
	if err != nil {
		return domain.TranscriptMessage{}, fmt.Errorf("recent transcript: %w", err)
	}
	messages, err := buildMessages(domain.RoleClerk, summarySchema, newPromptContext(c, recent, "", c.HighActivity))
	if err != nil {
		return domain.TranscriptMessage{}, err
	}

	raw, err := o.client.Complete(ctx, llm.Request{
		Model:       o.cfg.Model,
		Messages:    messages,
		Temperature: o.cfg.Temperature,
		MaxTokens:   o.cfg.MaxTokens,
		JSONMode:    true,
	})
	if err != nil {
		o.logger.Warn("summary completion failed", "case_id", caseID, "error", err)
		return domain.TranscriptMessage{}, fmt.Errorf("%w: %v", ErrNoSummary, err)
	}
	fb, ok := sanitize.SanitizeSummary(raw)
	if !ok {
		o.logger.Info("clerk produced no usable summary", "case_id", caseID)
		return domain.TranscriptMessage{}, ErrNoSummary
	}

	msg := &domain.TranscriptMessage{
		CaseID:      caseID,
		Role:        domain.RoleClerk,
		Content:     fb.Summary,
		MessageType: domain.MessageSummary,
		Payload: map[string]any{
			"strengths":    fb.Strengths,
			"improvements": fb.Improvements,
			"score":        fb.Score,
			"safety_note":  fb.SafetyNote,
			"requested_by": userID,
		},
	}
	if err := o.store.AppendTranscriptMessage(ctx, msg); err != nil {
		return domain.TranscriptMessage{}, fmt.Errorf("append summary: %w", err)
	}
	o.metrics.AgentCommit(string(domain.RoleClerk))

	o.bus.Publish(ctx, domain.EventSummaryFeedback, userID, map[string]any{
		"case_id":    caseID,
		"message_id": msg.ID,
		"score":      fb.Score,
	})
	return *msg, nil
}
