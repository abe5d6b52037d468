package domain

import (
	"time"
)

// RateLimitState is the persisted throttle state for one automated role in
// one session.
type RateLimitState struct {
	SessionID          string
	Role               Role
	InterruptionsCount int
	WindowStart        time.Time
	LastInterruptionAt time.Time
}
