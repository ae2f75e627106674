package quota

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned by administrative queries against an identity that
// has no bucket.
var ErrNotFound = errors.New("identity not found")

// Rejection reasons surfaced to the HTTP layer.
const (
	ReasonRateLimit    = "rate_limit_exceeded"
	ReasonMonthlyQuota = "monthly_quota_exceeded"
)

// LimitExceededError is the typed rejection returned by CheckAndConsume.
// Both variants are recoverable: the caller retries after RetryAfter seconds.
type LimitExceededError struct {
	Reason     string
	Message    string
	RetryAfter int64 // seconds
	ResetAt    int64 // unix seconds
}

func (e *LimitExceededError) Error() string {
	return fmt.Sprintf("%s: %s", e.Reason, e.Message)
}

func newRateLimitError(limit uint64, resetAt int64) *LimitExceededError {
	return &LimitExceededError{
		Reason:     ReasonRateLimit,
		Message:    fmt.Sprintf("Rate limit exceeded. Max %d/min", limit),
		RetryAfter: 60,
		ResetAt:    resetAt,
	}
}

func newMonthlyQuotaError(tier Tier, resetAt int64) *LimitExceededError {
	return &LimitExceededError{
		Reason:     ReasonMonthlyQuota,
		Message:    fmt.Sprintf("Monthly quota exceeded for tier %s", tier),
		RetryAfter: 86400,
		ResetAt:    resetAt,
	}
}
