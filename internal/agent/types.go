// Package agent arbitrates which automated courtroom role may answer a
// transcript message, and commits validated answers.
package agent

import (
	"errors"
	"time"
)

var (
	// ErrCaseNotFound is returned when a case has not been configured.
	ErrCaseNotFound = errors.New("case not found")
	// ErrCompletionDisabled is returned when no completion client is set.
	ErrCompletionDisabled = errors.New("completion service disabled")
	// ErrNoSummary is returned when the clerk produced nothing usable.
	ErrNoSummary = errors.New("no usable summary produced")
)

// Config holds orchestrator tuning.
type Config struct {
	// ContextMessages is how many recent transcript entries the model sees.
	ContextMessages int
	// SummaryMessages is the transcript depth used for summary feedback.
	SummaryMessages int
	// HighActivityThreshold is the number of human messages within
	// HighActivityWindow that switches to the strict rate limit policy.
	HighActivityThreshold int
	HighActivityWindow    time.Duration
	Model                 string
	Temperature           float32
	MaxTokens             int
}

// DefaultConfig returns default orchestrator configuration.
func DefaultConfig() Config {
	return Config{
		ContextMessages:       12,
		SummaryMessages:       40,
		HighActivityThreshold: 8,
		HighActivityWindow:    2 * time.Minute,
		Temperature:           0.4,
		MaxTokens:             400,
	}
}

// Outcome describes how an orchestration pass ended.
type Outcome string

const (
	// OutcomeFiltered means the author role never triggers agents.
	OutcomeFiltered Outcome = "filtered"
	// OutcomeDisabled means no completion client is configured.
	OutcomeDisabled Outcome = "disabled"
	// OutcomeBusy means another pass was already running for the case.
	OutcomeBusy Outcome = "busy"
	// OutcomeIdle means no role produced an actionable response.
	OutcomeIdle Outcome = "idle"
	// OutcomeCommitted means one role's response was stored and published.
	OutcomeCommitted Outcome = "committed"
	// OutcomeFailed means the pass was aborted by an error.
	OutcomeFailed Outcome = "failed"
)
