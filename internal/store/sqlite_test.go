package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/trollcity2025-netizen/trollcity-1-sub004/internal/domain"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "court.db"))
	if err != nil {
		t.Fatalf("NewSQLite failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestCaseRoundTripReplacesEvidence(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	c := &domain.Case{
		ID:             "case-1",
		Title:          "The Stolen Crown",
		Summary:        "A crown went missing during a stream.",
		PrimaryEnabled: true,
		Evidence: []domain.Evidence{
			{ID: "ev-1", Title: "Clip"},
			{ID: "ev-2", Title: "Chat log"},
		},
	}
	if err := s.UpsertCase(ctx, c); err != nil {
		t.Fatalf("UpsertCase failed: %v", err)
	}

	c.Evidence = []domain.Evidence{{ID: "ev-3", Title: "Receipt"}}
	c.SecondaryEnabled = true
	if err := s.UpsertCase(ctx, c); err != nil {
		t.Fatalf("second UpsertCase failed: %v", err)
	}

	got, err := s.GetCase(ctx, "case-1")
	if err != nil {
		t.Fatalf("GetCase failed: %v", err)
	}
	if got == nil {
		t.Fatal("expected case")
	}
	if !got.PrimaryEnabled || !got.SecondaryEnabled {
		t.Fatalf("unexpected role enablement: %+v", got)
	}
	if ids := got.EvidenceIDs(); len(ids) != 1 || ids[0] != "ev-3" {
		t.Fatalf("expected evidence replaced, got %v", ids)
	}

	missing, err := s.GetCase(ctx, "nope")
	if err != nil || missing != nil {
		t.Fatalf("expected (nil, nil) for missing case, got %v, %v", missing, err)
	}
}

func TestTranscriptRecentIsChronologicalAndIdempotent(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	base := time.Now().Add(-time.Minute)
	for i, content := range []string{"one", "two", "three"} {
		msg := &domain.TranscriptMessage{
			ID:        "m" + content,
			CaseID:    "case-1",
			Role:      domain.RolePlaintiff,
			Content:   content,
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}
		if err := s.AppendTranscriptMessage(ctx, msg); err != nil {
			t.Fatalf("append %s: %v", content, err)
		}
	}
	dup := &domain.TranscriptMessage{ID: "mone", CaseID: "case-1", Role: domain.RolePlaintiff, Content: "changed"}
	if err := s.AppendTranscriptMessage(ctx, dup); err != nil {
		t.Fatalf("duplicate append: %v", err)
	}

	msgs, err := s.RecentTranscriptMessages(ctx, "case-1", 2)
	if err != nil {
		t.Fatalf("RecentTranscriptMessages failed: %v", err)
	}
	if len(msgs) != 2 || msgs[0].Content != "two" || msgs[1].Content != "three" {
		t.Fatalf("unexpected recent messages: %+v", msgs)
	}

	all, err := s.RecentTranscriptMessages(ctx, "case-1", 10)
	if err != nil {
		t.Fatalf("RecentTranscriptMessages failed: %v", err)
	}
	if len(all) != 3 || all[0].Content != "one" {
		t.Fatalf("expected duplicate append to be ignored, got %+v", all)
	}
}

func TestCountHumanMessagesSinceSkipsAgents(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	for _, role := range []domain.Role{domain.RolePlaintiff, domain.RoleProsecutor, domain.RoleSystem, domain.RoleDefendant} {
		if err := s.AppendTranscriptMessage(ctx, &domain.TranscriptMessage{CaseID: "c", Role: role, Content: "x"}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	n, err := s.CountHumanMessagesSince(ctx, "c", time.Now().Add(-time.Minute))
	if err != nil {
		t.Fatalf("CountHumanMessagesSince failed: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 human messages, got %d", n)
	}
}

func TestIncrementRateLimitRestartsExpiredWindow(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()
	window := 10 * time.Minute
	start := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		if err := s.IncrementRateLimit(ctx, "sess", domain.RoleProsecutor, start.Add(time.Duration(i)*time.Minute), window); err != nil {
			t.Fatalf("increment: %v", err)
		}
	}
	st, err := s.GetRateLimitState(ctx, "sess", domain.RoleProsecutor)
	if err != nil || st == nil {
		t.Fatalf("GetRateLimitState: %v, %v", st, err)
	}
	if st.InterruptionsCount != 3 || !st.WindowStart.Equal(start) {
		t.Fatalf("unexpected state: %+v", st)
	}

	later := start.Add(30 * time.Minute)
	if err := s.IncrementRateLimit(ctx, "sess", domain.RoleProsecutor, later, window); err != nil {
		t.Fatalf("increment after window: %v", err)
	}
	st, _ = s.GetRateLimitState(ctx, "sess", domain.RoleProsecutor)
	if st.InterruptionsCount != 1 || !st.WindowStart.Equal(later) || !st.LastInterruptionAt.Equal(later) {
		t.Fatalf("expected restarted window, got %+v", st)
	}

	deleted, err := s.DeleteStaleRateLimitStates(ctx, later.Add(time.Second))
	if err != nil {
		t.Fatalf("DeleteStaleRateLimitStates: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("expected 1 deleted row, got %d", deleted)
	}
}

func TestTaskProgressCompletionIsMonotonic(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	done := &domain.TaskProgress{TaskID: "t1", UserID: "u1", CycleID: "2026-W42", ProgressValue: 5, CompletionPercentage: 100, IsCompleted: true}
	if err := s.UpsertTaskProgress(ctx, done); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	regress := &domain.TaskProgress{TaskID: "t1", UserID: "u1", CycleID: "2026-W42", ProgressValue: 1, CompletionPercentage: 20}
	if err := s.UpsertTaskProgress(ctx, regress); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	got, err := s.GetTaskProgress(ctx, "t1", "u1", "2026-W42")
	if err != nil || got == nil {
		t.Fatalf("GetTaskProgress: %v, %v", got, err)
	}
	if !got.IsCompleted {
		t.Fatal("expected completion to stay set")
	}
	completed, err := s.HasCompletedTask(ctx, "t1", "u1")
	if err != nil || !completed {
		t.Fatalf("HasCompletedTask = %v, %v", completed, err)
	}
}

func TestTaskDefinitionsOnlyActive(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	defs := []*domain.TaskDefinition{
		{ID: "a", Tier: domain.TierEasy, ProgressType: domain.ProgressCount, TargetValue: 3, Dependencies: []string{"b"}, Active: true},
		{ID: "b", Tier: domain.TierHard, ProgressType: domain.ProgressBoolean, TargetValue: 1, Active: false},
	}
	for _, d := range defs {
		if err := s.UpsertTaskDefinition(ctx, d); err != nil {
			t.Fatalf("upsert %s: %v", d.ID, err)
		}
	}
	if err := s.UpsertTaskDefinition(ctx, &domain.TaskDefinition{ID: "bad", ProgressType: domain.ProgressCount}); err == nil {
		t.Fatal("expected zero target to be rejected")
	}

	got, err := s.ListActiveTaskDefinitions(ctx)
	if err != nil {
		t.Fatalf("ListActiveTaskDefinitions: %v", err)
	}
	if len(got) != 1 || got[0].ID != "a" || len(got[0].Dependencies) != 1 || got[0].Dependencies[0] != "b" {
		t.Fatalf("unexpected definitions: %+v", got)
	}
}

func TestActiveCycleSwitches(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now()

	first := &domain.Cycle{ID: "w1", StartsAt: now.Add(-time.Hour), EndsAt: now.Add(time.Hour), Active: true}
	second := &domain.Cycle{ID: "w2", StartsAt: now.Add(-time.Minute), EndsAt: now.Add(time.Hour), Active: true}
	for _, c := range []*domain.Cycle{first, second} {
		if err := s.UpsertCycle(ctx, c); err != nil {
			t.Fatalf("UpsertCycle %s: %v", c.ID, err)
		}
	}
	got, err := s.GetActiveCycle(ctx, now)
	if err != nil || got == nil || got.ID != "w2" {
		t.Fatalf("expected w2 active, got %+v, %v", got, err)
	}
	none, err := s.GetActiveCycle(ctx, now.Add(2*time.Hour))
	if err != nil || none != nil {
		t.Fatalf("expected no active cycle, got %+v, %v", none, err)
	}
}
