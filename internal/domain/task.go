package domain

import "time"

// Tier is the difficulty bucket of a task.
type Tier string

const (
	TierEasy   Tier = "easy"
	TierMedium Tier = "medium"
	TierHard   Tier = "hard"
)

// ProgressType selects how a delta is accumulated.
type ProgressType string

const (
	ProgressCount       ProgressType = "count"
	ProgressBoolean     ProgressType = "boolean"
	ProgressTime        ProgressType = "time"
	ProgressScore       ProgressType = "score"
	ProgressAIEvaluated ProgressType = "ai_evaluated"
)

// Valid reports whether p is a known progress type.
func (p ProgressType) Valid() bool {
	switch p {
	case ProgressCount, ProgressBoolean, ProgressTime, ProgressScore, ProgressAIEvaluated:
		return true
	}
	return false
}

// TaskDefinition is a catalog entry. The engine never mutates definitions.
type TaskDefinition struct {
	ID           string       `json:"id"`
	Title        string       `json:"title"`
	Tier         Tier         `json:"tier"`
	Category     string       `json:"category"`
	ProgressType ProgressType `json:"progress_type"`
	TargetValue  float64      `json:"target_value"`
	// EventType binds the definition to the default handlers. Empty means
	// only explicitly registered handlers can make progress.
	EventType    EventType `json:"event_type,omitempty"`
	Dependencies []string  `json:"dependencies,omitempty"`
	Repeatable   bool      `json:"repeatable"`
	ResetCycle   string    `json:"reset_cycle"`
	Active       bool      `json:"active"`
}

// TaskProgress is a user's progress on one task within one cycle.
type TaskProgress struct {
	TaskID               string    `json:"task_id"`
	UserID               string    `json:"user_id"`
	CycleID              string    `json:"cycle_id"`
	ProgressValue        float64   `json:"progress_value"`
	CompletionPercentage float64   `json:"completion_percentage"`
	IsCompleted          bool      `json:"is_completed"`
	IsFailed             bool      `json:"is_failed"`
	UpdatedAt            time.Time `json:"updated_at"`
}

// Cycle is a periodic window against which progress accumulates.
type Cycle struct {
	ID       string    `json:"id"`
	StartsAt time.Time `json:"starts_at"`
	EndsAt   time.Time `json:"ends_at"`
	Active   bool      `json:"active"`
}
