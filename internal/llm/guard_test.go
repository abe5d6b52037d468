package llm

import (
	"testing"
	"time"
)

func TestGuardOpensAndRecovers(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	g := NewGuard(2, time.Minute)
	g.now = func() time.Time {
		return now
	}

	g.RecordFailure()
	if !g.Allow() {
		t.Fatal("guard opened after one failure")
	}
	g.RecordFailure()
	if g.Allow() {
		t.Fatal("guard should be open after two failures")
	}

	now = now.Add(61 * time.Second)
	if !g.Allow() {
		t.Fatal("guard should allow after cooldown")
	}
	g.RecordSuccess()
	if g.Failures() != 0 {
		t.Fatalf("failures = %d after success", g.Failures())
	}
}

func TestNilGuardAllows(t *testing.T) {
	t.Parallel()

	var g *Guard
	g.RecordFailure()
	if !g.Allow() {
		t.Fatal("nil guard must allow")
	}
}
