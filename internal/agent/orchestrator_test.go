package agent

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/trollcity2025-netizen/trollcity-1-sub004/internal/domain"
	"github.com/trollcity2025-netizen/trollcity-1-sub004/internal/eventbus"
	"github.com/trollcity2025-netizen/trollcity-1-sub004/internal/llm"
	"github.com/trollcity2025-netizen/trollcity-1-sub004/internal/ratelimit"
	"github.com/trollcity2025-netizen/trollcity-1-sub004/internal/sanitize"
	"github.com/trollcity2025-netizen/trollcity-1-sub004/internal/store"
)

const (
	prosecutorReply = `{"message_content":"Where is the receipt?","message_type":"question",
		"suggested_next_action":"ask_for_evidence","confidence":0.72,"referenced_evidence_ids":["e1","ghost"]}`
	defenseReply = `Sure! {"message_content":"Objection!","message_type":"objection","suggested_next_action":"objection"}`
	silentReply  = `{"message_content":"...","suggested_next_action":"none"}`
)

type fakeCompleter struct {
	mu       sync.Mutex
	replies  map[domain.Role]string
	errs     map[domain.Role]error
	calls    []domain.Role
	requests []llm.Request
	started  chan struct{}
	block    chan struct{}
}

func roleOf(req llm.Request) domain.Role {
	for _, line := range strings.Split(req.Messages[0].Content, "\n") {
		if r, ok := strings.CutPrefix(line, "Role: "); ok {
			return domain.Role(r)
		}
	}
	return ""
}

func (f *fakeCompleter) Complete(_ context.Context, req llm.Request) (string, error) {
	role := roleOf(req)
	f.mu.Lock()
	f.calls = append(f.calls, role)
	f.requests = append(f.requests, req)
	reply, err := f.replies[role], f.errs[role]
	f.mu.Unlock()

	if f.started != nil {
		f.started <- struct{}{}
	}
	if f.block != nil {
		<-f.block
	}
	return reply, err
}

func (f *fakeCompleter) callsFor() []domain.Role {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.Role(nil), f.calls...)
}

type eventLog struct {
	mu     sync.Mutex
	events []domain.Event
}

func (l *eventLog) listener(_ context.Context, e domain.Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
	return nil
}

func (l *eventLog) ofType(t domain.EventType) []domain.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []domain.Event
	for _, e := range l.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

type harness struct {
	store   *store.SQLiteStore
	bus     *eventbus.Bus
	limiter *ratelimit.Limiter
	llm     *fakeCompleter
	orch    *Orchestrator
	events  *eventLog
}

func newHarness(t *testing.T, primary, secondary bool) *harness {
	t.Helper()
	s, err := store.NewSQLite(filepath.Join(t.TempDir(), "agent.db"))
	if err != nil {
		t.Fatalf("NewSQLite failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	err = s.UpsertCase(context.Background(), &domain.Case{
		ID:      "case-1",
		Title:   "The People v. Stolen Crown",
		Summary: "A crown vanished during the stream.",
		Evidence: []domain.Evidence{
			{ID: "e1", Title: "Receipt"},
			{ID: "e2", Title: "Clip"},
		},
		PrimaryEnabled:   primary,
		SecondaryEnabled: secondary,
	})
	if err != nil {
		t.Fatalf("UpsertCase failed: %v", err)
	}

	bus := eventbus.New(eventbus.Options{})
	events := &eventLog{}
	bus.Subscribe(events.listener)

	limiter := ratelimit.New(s, ratelimit.DefaultConfig(), nil)
	fake := &fakeCompleter{replies: map[domain.Role]string{}, errs: map[domain.Role]error{}}
	return &harness{
		store:   s,
		bus:     bus,
		limiter: limiter,
		llm:     fake,
		orch:    New(s, limiter, bus, fake, DefaultConfig(), nil),
		events:  events,
	}
}

func (h *harness) humanMessage(t *testing.T, content string) domain.TranscriptMessage {
	t.Helper()
	msg := &domain.TranscriptMessage{
		CaseID:   "case-1",
		Role:     domain.RolePlaintiff,
		AuthorID: "user-1",
		Content:  content,
	}
	if err := h.store.AppendTranscriptMessage(context.Background(), msg); err != nil {
		t.Fatalf("AppendTranscriptMessage failed: %v", err)
	}
	return *msg
}

func (h *harness) agentMessages(t *testing.T) []domain.TranscriptMessage {
	t.Helper()
	msgs, err := h.store.RecentTranscriptMessages(context.Background(), "case-1", 100)
	if err != nil {
		t.Fatalf("RecentTranscriptMessages failed: %v", err)
	}
	var out []domain.TranscriptMessage
	for _, m := range msgs {
		if m.Role.IsAutomated() {
			out = append(out, m)
		}
	}
	return out
}

func TestPrimaryRoleSpeaksAndSecondaryIsNotInvoked(t *testing.T) {
	t.Parallel()

	h := newHarness(t, true, true)
	h.llm.replies[domain.RoleProsecutor] = prosecutorReply
	h.llm.replies[domain.RoleDefense] = defenseReply

	trigger := h.humanMessage(t, "He took it!")
	if got := h.orch.HandleTranscriptMessage(context.Background(), trigger); got != OutcomeCommitted {
		t.Fatalf("outcome = %s, want committed", got)
	}

	if calls := h.llm.callsFor(); len(calls) != 1 || calls[0] != domain.RoleProsecutor {
		t.Fatalf("completion calls = %v, want only prosecutor", calls)
	}

	msgs := h.agentMessages(t)
	if len(msgs) != 1 {
		t.Fatalf("expected 1 agent message, got %d", len(msgs))
	}
	m := msgs[0]
	if m.Role != domain.RoleProsecutor || m.MessageType != domain.MessageQuestion || m.Content != "Where is the receipt?" {
		t.Errorf("unexpected message: %+v", m)
	}
	refs, _ := m.Payload["referenced_evidence_ids"].([]any)
	if len(refs) != 1 || refs[0] != "e1" {
		t.Errorf("referenced evidence = %v, want [e1]", m.Payload["referenced_evidence_ids"])
	}
	if m.Payload["safety_note"] != sanitize.SafetyNote {
		t.Errorf("safety note = %v", m.Payload["safety_note"])
	}

	decisions := h.events.ofType(domain.EventAIDecision)
	if len(decisions) != 1 {
		t.Fatalf("expected 1 ai_decision, got %d", len(decisions))
	}
	d := decisions[0]
	if d.SubjectID != "user-1" {
		t.Errorf("subject = %s, want user-1", d.SubjectID)
	}
	p, ok := d.Payload.(domain.AIDecisionPayload)
	if !ok {
		t.Fatalf("payload type %T", d.Payload)
	}
	if p.MessageID != m.ID || p.Role != domain.RoleProsecutor || p.Score != 72 || p.SessionID != "case-1" {
		t.Errorf("unexpected decision payload: %+v", p)
	}
	if d.Metadata["trigger_message_id"] != trigger.ID {
		t.Errorf("trigger_message_id = %v, want %s", d.Metadata["trigger_message_id"], trigger.ID)
	}

	state, err := h.store.GetRateLimitState(context.Background(), "case-1", domain.RoleProsecutor)
	if err != nil || state == nil || state.InterruptionsCount != 1 {
		t.Errorf("expected one recorded act, got %+v (err=%v)", state, err)
	}
}

func TestSecondaryRoleFallback(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		primary bool
		setup   func(h *harness)
		calls   []domain.Role
	}{
		{
			name:    "primary disabled",
			primary: false,
			calls:   []domain.Role{domain.RoleDefense},
		},
		{
			name:    "primary chose none",
			primary: true,
			setup: func(h *harness) {
				h.llm.replies[domain.RoleProsecutor] = silentReply
			},
			calls: []domain.Role{domain.RoleProsecutor, domain.RoleDefense},
		},
		{
			name:    "primary unparseable",
			primary: true,
			setup: func(h *harness) {
				h.llm.replies[domain.RoleProsecutor] = "I'd rather not."
			},
			calls: []domain.Role{domain.RoleProsecutor, domain.RoleDefense},
		},
		{
			name:    "primary completion failed",
			primary: true,
			setup: func(h *harness) {
				h.llm.errs[domain.RoleProsecutor] = errors.New("upstream 503")
			},
			calls: []domain.Role{domain.RoleProsecutor, domain.RoleDefense},
		},
		{
			name:    "primary rate limited",
			primary: true,
			setup: func(h *harness) {
				h.llm.replies[domain.RoleProsecutor] = prosecutorReply
				for i := 0; i < 5; i++ {
					h.limiter.RecordAct(context.Background(), "case-1", domain.RoleProsecutor)
				}
			},
			calls: []domain.Role{domain.RoleDefense},
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			h := newHarness(t, tt.primary, true)
			h.llm.replies[domain.RoleDefense] = defenseReply
			if tt.setup != nil {
				tt.setup(h)
			}

			trigger := h.humanMessage(t, "Objection, your honor")
			if got := h.orch.HandleTranscriptMessage(context.Background(), trigger); got != OutcomeCommitted {
				t.Fatalf("outcome = %s, want committed", got)
			}
			calls := h.llm.callsFor()
			if len(calls) != len(tt.calls) {
				t.Fatalf("calls = %v, want %v", calls, tt.calls)
			}
			for i := range calls {
				if calls[i] != tt.calls[i] {
					t.Fatalf("calls = %v, want %v", calls, tt.calls)
				}
			}

			msgs := h.agentMessages(t)
			if len(msgs) != 1 || msgs[0].Role != domain.RoleDefense {
				t.Fatalf("expected exactly one defense message, got %+v", msgs)
			}
			if msgs[0].MessageType != domain.MessageObjection || msgs[0].Payload["confidence"] != 0.5 {
				t.Errorf("unexpected defense message: %+v", msgs[0])
			}
		})
	}
}

func TestIdleWhenNoRoleActs(t *testing.T) {
	t.Parallel()

	h := newHarness(t, true, true)
	h.llm.replies[domain.RoleProsecutor] = silentReply
	h.llm.replies[domain.RoleDefense] = `{"message_content":"","suggested_next_action":"reframe"}`

	got := h.orch.HandleTranscriptMessage(context.Background(), h.humanMessage(t, "hello"))
	if got != OutcomeIdle {
		t.Fatalf("outcome = %s, want idle", got)
	}
	if msgs := h.agentMessages(t); len(msgs) != 0 {
		t.Errorf("expected no agent messages, got %d", len(msgs))
	}
	if d := h.events.ofType(domain.EventAIDecision); len(d) != 0 {
		t.Errorf("expected no ai_decision events, got %d", len(d))
	}
}

func TestAutomatedAndSystemMessagesAreFiltered(t *testing.T) {
	t.Parallel()

	h := newHarness(t, true, true)
	h.llm.replies[domain.RoleProsecutor] = prosecutorReply

	for _, role := range []domain.Role{domain.RoleProsecutor, domain.RoleDefense, domain.RoleClerk, domain.RoleSystem} {
		msg := domain.TranscriptMessage{ID: "m-" + string(role), CaseID: "case-1", Role: role}
		if got := h.orch.HandleTranscriptMessage(context.Background(), msg); got != OutcomeFiltered {
			t.Errorf("role %s: outcome = %s, want filtered", role, got)
		}
	}
	if calls := h.llm.callsFor(); len(calls) != 0 {
		t.Errorf("expected no completion calls, got %v", calls)
	}
}

func TestConcurrentTriggerIsDropped(t *testing.T) {
	t.Parallel()

	h := newHarness(t, true, false)
	h.llm.replies[domain.RoleProsecutor] = prosecutorReply
	h.llm.started = make(chan struct{}, 4)
	h.llm.block = make(chan struct{})

	first := h.humanMessage(t, "first")
	second := h.humanMessage(t, "second")

	done := make(chan Outcome, 1)
	go func() {
		done <- h.orch.HandleTranscriptMessage(context.Background(), first)
	}()

	select {
	case <-h.llm.started:
	case <-time.After(5 * time.Second):
		t.Fatal("first pass never reached the completion service")
	}
	if got := h.orch.HandleTranscriptMessage(context.Background(), second); got != OutcomeBusy {
		t.Errorf("second trigger outcome = %s, want busy", got)
	}
	close(h.llm.block)

	if got := <-done; got != OutcomeCommitted {
		t.Fatalf("first pass outcome = %s, want committed", got)
	}
	if msgs := h.agentMessages(t); len(msgs) != 1 {
		t.Errorf("expected 1 agent message, got %d", len(msgs))
	}

	// The flag is released once the pass ends.
	h.llm.started = nil
	if got := h.orch.HandleTranscriptMessage(context.Background(), second); got == OutcomeBusy {
		t.Error("case still marked in flight after pass finished")
	}
}

func TestHighActivityIsInferredFromRecentMessages(t *testing.T) {
	t.Parallel()

	h := newHarness(t, true, false)
	h.llm.replies[domain.RoleProsecutor] = silentReply

	var last domain.TranscriptMessage
	for i := 0; i < 8; i++ {
		last = h.humanMessage(t, "spam")
	}
	h.orch.HandleTranscriptMessage(context.Background(), last)

	h.llm.mu.Lock()
	defer h.llm.mu.Unlock()
	if len(h.llm.requests) != 1 {
		t.Fatalf("expected 1 request, got %d", len(h.llm.requests))
	}
	if !strings.Contains(h.llm.requests[0].Messages[1].Content, `"high_activity":true`) {
		t.Errorf("expected high activity in prompt context: %s", h.llm.requests[0].Messages[1].Content)
	}
}

func TestNilClientStaysIdle(t *testing.T) {
	t.Parallel()

	h := newHarness(t, true, true)
	orch := New(h.store, h.limiter, h.bus, nil, DefaultConfig(), nil)
	if got := orch.HandleTranscriptMessage(context.Background(), h.humanMessage(t, "hi")); got != OutcomeDisabled {
		t.Errorf("outcome = %s, want disabled", got)
	}
}

func TestListenerRunsPassForChatMessages(t *testing.T) {
	t.Parallel()

	h := newHarness(t, true, false)
	h.llm.replies[domain.RoleProsecutor] = prosecutorReply
	h.bus.Subscribe(h.orch.Listener())

	trigger := h.humanMessage(t, "I saw everything")
	_, delivered := h.bus.Publish(context.Background(), domain.EventChatMessage, "user-1", map[string]any{
		"case_id":    "case-1",
		"session_id": "sess-9",
		"message_id": trigger.ID,
		"role":       string(domain.RolePlaintiff),
		"content":    trigger.Content,
	})
	if !delivered {
		t.Fatal("chat_message not delivered")
	}
	h.orch.Wait()

	decisions := h.events.ofType(domain.EventAIDecision)
	if len(decisions) != 1 {
		t.Fatalf("expected 1 ai_decision, got %d", len(decisions))
	}
	if got := decisions[0].Metadata["session_id"]; got != "sess-9" {
		t.Errorf("session_id = %v, want sess-9", got)
	}

	// Agent-authored chat never starts a pass.
	h.bus.Publish(context.Background(), domain.EventChatMessage, "user-1", map[string]any{
		"case_id": "case-1",
		"role":    string(domain.RoleDefense),
		"content": "loop?",
	})
	h.orch.Wait()
	if calls := h.llm.callsFor(); len(calls) != 1 {
		t.Errorf("expected 1 completion call, got %v", calls)
	}
}
