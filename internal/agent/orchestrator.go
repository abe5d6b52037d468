package agent

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/trollcity2025-netizen/trollcity-1-sub004/internal/domain"
	"github.com/trollcity2025-netizen/trollcity-1-sub004/internal/eventbus"
	"github.com/trollcity2025-netizen/trollcity-1-sub004/internal/llm"
	"github.com/trollcity2025-netizen/trollcity-1-sub004/internal/metrics"
	"github.com/trollcity2025-netizen/trollcity-1-sub004/internal/ratelimit"
	"github.com/trollcity2025-netizen/trollcity-1-sub004/internal/sanitize"
)

// turnOrder lists the competing roles by priority. At most one of them
// speaks per trigger.
var turnOrder = []domain.Role{domain.RoleProsecutor, domain.RoleDefense}

// Orchestrator runs one orchestration pass per triggering transcript
// message.
type Orchestrator struct {
	store   Store
	limiter Limiter
	bus     Publisher
	client  llm.Client
	cfg     Config
	metrics *metrics.Metrics
	logger  *slog.Logger
	now     func() time.Time

	mu       sync.Mutex
	inFlight map[string]struct{}
	wg       sync.WaitGroup
}

// New creates an orchestrator. A nil client leaves it idle.
func New(store Store, limiter Limiter, bus Publisher, client llm.Client, cfg Config, m *metrics.Metrics) *Orchestrator {
	def := DefaultConfig()
	if cfg.ContextMessages <= 0 {
		cfg.ContextMessages = def.ContextMessages
	}
	if cfg.SummaryMessages <= 0 {
		cfg.SummaryMessages = def.SummaryMessages
	}
	if cfg.HighActivityThreshold <= 0 {
		cfg.HighActivityThreshold = def.HighActivityThreshold
	}
	if cfg.HighActivityWindow <= 0 {
		cfg.HighActivityWindow = def.HighActivityWindow
	}
	return &Orchestrator{
		store:    store,
		limiter:  limiter,
		bus:      bus,
		client:   client,
		cfg:      cfg,
		metrics:  m,
		logger:   slog.Default().With("component", "agent"),
		now:      time.Now,
		inFlight: make(map[string]struct{}),
	}
}

// Listener adapts the orchestrator to the event bus. Each chat_message
// starts a pass on its own goroutine so delivery is never blocked.
func (o *Orchestrator) Listener() eventbus.Listener {
	return func(ctx context.Context, event domain.Event) error {
		p, ok := event.Payload.(domain.ChatMessagePayload)
		if !ok || p.CaseID == "" || !p.Role.TriggersAgents() {
			return nil
		}
		msg := domain.TranscriptMessage{
			ID:          p.MessageID,
			CaseID:      p.CaseID,
			Role:        p.Role,
			AuthorID:    event.SubjectID,
			Content:     p.Content,
			MessageType: domain.MessageChat,
			Payload:     map[string]any{"session_id": p.SessionID},
		}
		passCtx := context.WithoutCancel(ctx)
		o.wg.Add(1)
		go func() {
			defer o.wg.Done()
			o.HandleTranscriptMessage(passCtx, msg)
		}()
		return nil
	}
}

// Wait blocks until every pass started by Listener has finished.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// pass is the context assembled for one trigger.
type pass struct {
	trigger       domain.TranscriptMessage
	sessionID     string
	c             *domain.Case
	highActivity  bool
	evidenceIDs   []string
	transcriptIDs []string
	prompt        promptContext
}

// HandleTranscriptMessage decides whether an automated role answers msg and
// commits the answer. It never returns an error; failures are logged and
// end the pass without side effects.
func (o *Orchestrator) HandleTranscriptMessage(ctx context.Context, msg domain.TranscriptMessage) (outcome Outcome) {
	defer func() {
		o.metrics.AgentPass(string(outcome))
	}()

	if msg.CaseID == "" || !msg.Role.TriggersAgents() {
		return OutcomeFiltered
	}
	if o.client == nil {
		return OutcomeDisabled
	}
	if !o.acquire(msg.CaseID) {
		o.logger.Debug("orchestration pass already running, dropping trigger",
			"case_id", msg.CaseID, "message_id", msg.ID)
		return OutcomeBusy
	}
	defer o.release(msg.CaseID)

	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("orchestration pass panicked", "case_id", msg.CaseID, "panic", r)
			outcome = OutcomeFailed
		}
	}()

	p, err := o.assemble(ctx, msg)
	if err != nil {
		o.logger.Warn("failed to assemble agent context", "case_id", msg.CaseID, "error", err)
		return OutcomeFailed
	}
	if p == nil {
		return OutcomeIdle
	}

	for _, role := range turnOrder {
		resp, ok := o.attempt(ctx, role, p)
		if !ok {
			continue
		}
		if err := o.commit(ctx, role, p, resp); err != nil {
			o.logger.Error("failed to commit agent response",
				"case_id", msg.CaseID, "role", role, "error", err)
			return OutcomeFailed
		}
		return OutcomeCommitted
	}
	return OutcomeIdle
}

func (o *Orchestrator) acquire(caseID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, busy := o.inFlight[caseID]; busy {
		return false
	}
	o.inFlight[caseID] = struct{}{}
	return true
}

func (o *Orchestrator) release(caseID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.inFlight, caseID)
}

// assemble loads the case and recent transcript. It returns nil when the
// case is not configured.
func (o *Orchestrator) assemble(ctx context.Context, msg domain.TranscriptMessage) (*pass, error) {
	c, err := o.store.GetCase(ctx, msg.CaseID)
	if err != nil {
		return nil, fmt.Errorf("get case: %w", err)
	}
	if c == nil {
		o.logger.Debug("case not configured, agents stay idle", "case_id", msg.CaseID)
		return nil, nil
	}
	if !c.PrimaryEnabled && !c.SecondaryEnabled {
		return nil, nil
	}

	recent, err := o.store.RecentTranscriptMessages(ctx, msg.CaseID, o.cfg.ContextMessages)
	if err != nil {
		return nil, fmt.Errorf("recent transcript: %w", err)
	}

	highActivity := c.HighActivity
	if !highActivity {
		since := o.now().Add(-o.cfg.HighActivityWindow)
		n, err := o.store.CountHumanMessagesSince(ctx, msg.CaseID, since)
		if err != nil {
			o.logger.Warn("failed to count recent activity", "case_id", msg.CaseID, "error", err)
		} else {
			highActivity = n >= o.cfg.HighActivityThreshold
		}
	}

	transcriptIDs := make([]string, 0, len(recent))
	for _, m := range recent {
		transcriptIDs = append(transcriptIDs, m.ID)
	}

	sessionID := domain.MetaString(msg.Payload, "session_id")
	if sessionID == "" {
		sessionID = msg.CaseID
	}

	return &pass{
		trigger:       msg,
		sessionID:     sessionID,
		c:             c,
		highActivity:  highActivity,
		evidenceIDs:   c.EvidenceIDs(),
		transcriptIDs: transcriptIDs,
		prompt:        newPromptContext(c, recent, msg.ID, highActivity),
	}, nil
}

// attempt asks one role for a response. Anything other than an actionable,
// non-empty response counts as "no response".
func (o *Orchestrator) attempt(ctx context.Context, role domain.Role, p *pass) (resp domain.AgentResponse, ok bool) {
	log := o.logger.With("case_id", p.trigger.CaseID, "role", role)
	defer func() {
		if r := recover(); r != nil {
			log.Error("agent attempt panicked", "panic", r)
			resp, ok = domain.AgentResponse{}, false
		}
	}()

	if !p.c.RoleEnabled(role) {
		return domain.AgentResponse{}, false
	}
	// Rate limits are keyed by case so every viewer shares the budget.
	decision := o.limiter.Check(ctx, p.trigger.CaseID, role, ratelimit.Options{HighActivity: p.highActivity})
	if !decision.Allowed {
		log.Debug("role rate limited", "reason", decision.Reason)
		return domain.AgentResponse{}, false
	}

	messages, err := buildMessages(role, agentSchema(), p.prompt)
	if err != nil {
		log.Warn("failed to build prompt", "error", err)
		return domain.AgentResponse{}, false
	}
	raw, err := o.client.Complete(ctx, llm.Request{
		Model:       o.cfg.Model,
		Messages:    messages,
		Temperature: o.cfg.Temperature,
		MaxTokens:   o.cfg.MaxTokens,
		JSONMode:    true,
	})
	if err != nil {
		log.Warn("completion failed", "error", err)
		return domain.AgentResponse{}, false
	}

	resp, outcome := sanitize.Parse(raw, sanitize.Context{
		EvidenceIDs:   p.evidenceIDs,
		TranscriptIDs: p.transcriptIDs,
	})
	if outcome != sanitize.OutcomeOK {
		log.Debug("agent produced no action", "outcome", outcome.String())
		return domain.AgentResponse{}, false
	}
	if resp.MessageContent == "" {
		log.Debug("agent produced empty content")
		return domain.AgentResponse{}, false
	}
	return resp, true
}

func (o *Orchestrator) commit(ctx context.Context, role domain.Role, p *pass, resp domain.AgentResponse) error {
	caseID := p.trigger.CaseID
	o.limiter.RecordAct(ctx, caseID, role)

	msg := &domain.TranscriptMessage{
		CaseID:      caseID,
		Role:        role,
		Content:     resp.MessageContent,
		MessageType: resp.MessageType,
		Payload: map[string]any{
			"referenced_evidence_ids":   resp.ReferencedEvidenceIDs,
			"referenced_transcript_ids": resp.ReferencedTranscriptIDs,
			"confidence":                resp.Confidence,
			"suggested_next_action":     string(resp.SuggestedNextAction),
			"safety_note":               resp.SafetyNote,
			"trigger_message_id":        p.trigger.ID,
		},
	}
	if err := o.store.AppendTranscriptMessage(ctx, msg); err != nil {
		return fmt.Errorf("append transcript message: %w", err)
	}
	o.metrics.AgentCommit(string(role))

	metadata := map[string]any{
		"case_id":                   caseID,
		"session_id":                p.sessionID,
		"role":                      string(role),
		"message_id":                msg.ID,
		"message_type":              string(resp.MessageType),
		"confidence":                resp.Confidence,
		"suggested_next_action":     string(resp.SuggestedNextAction),
		"referenced_evidence_ids":   resp.ReferencedEvidenceIDs,
		"referenced_transcript_ids": resp.ReferencedTranscriptIDs,
		"trigger_message_id":        p.trigger.ID,
		"score":                     math.Round(resp.Confidence * 100),
	}
	if _, delivered := o.bus.Publish(ctx, domain.EventAIDecision, p.trigger.AuthorID, metadata); !delivered {
		o.logger.Debug("ai_decision not delivered", "case_id", caseID, "message_id", msg.ID)
	}

	o.logger.Info("agent response committed",
		"case_id", caseID,
		"role", role,
		"message_id", msg.ID,
		"message_type", resp.MessageType,
		"high_activity", p.highActivity,
	)
	return nil
}
