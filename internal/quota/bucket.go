package quota

import (
	"math"
	"time"
)

// TokenBucket is the per-identity quota state. One exists per authenticated
// identity, created lazily on first request, full at the tier's per-minute
// limit. All mutation happens under the owning store entry's lock.
type TokenBucket struct {
	Identity          string    `json:"identity"`
	Tier              Tier      `json:"tier"`
	AvailableTokens   float64   `json:"available_tokens"`
	LastRefill        time.Time `json:"last_refill"`
	MonthStart        time.Time `json:"month_start"`
	RequestsThisMonth uint64    `json:"requests_this_month"`
	TotalRequests     uint64    `json:"total_requests"`
	LastSeen          time.Time `json:"last_seen"`
}

func newTokenBucket(identity string, tier Tier, limits Limits, now time.Time) *TokenBucket {
	return &TokenBucket{
		Identity:        identity,
		Tier:            tier,
		AvailableTokens: float64(limits.MinuteLimit()),
		LastRefill:      now,
		MonthStart:      startOfMonth(now),
		LastSeen:        now,
	}
}

// refill tops the bucket up once a full minute interval has elapsed since the
// last refill. Shorter gaps are a no-op: this is deliberately not a
// continuous drip. The balance is capped at the tier's burst ceiling.
func (b *TokenBucket) refill(limits Limits, now time.Time) {
	elapsed := now.Sub(b.LastRefill)
	if elapsed < time.Minute {
		return
	}

	rate := float64(limits.MinuteLimit()) * elapsed.Seconds() / 60.0
	b.AvailableTokens = math.Min(limits.BurstCeiling(), b.AvailableTokens+rate)
	b.LastRefill = now
}

// rolloverMonth zeroes the monthly counter once the calendar month that
// MonthStart belongs to has passed.
func (b *TokenBucket) rolloverMonth(now time.Time) {
	start := startOfMonth(now)
	if start.After(b.MonthStart) {
		b.MonthStart = start
		b.RequestsThisMonth = 0
	}
}

// consume spends cost tokens and bumps the lifetime counters. The caller has
// already verified the balance covers the cost.
func (b *TokenBucket) consume(cost float64, now time.Time) {
	b.AvailableTokens -= cost
	b.RequestsThisMonth++
	b.TotalRequests++
	b.LastSeen = now
}

// monthlyRemaining reports how much of the monthly quota is left, or the
// unlimited sentinel for tiers without one.
func (b *TokenBucket) monthlyRemaining(limits Limits) uint64 {
	monthly, finite := limits.MonthlyQuota()
	if !finite {
		return UnlimitedSentinel
	}
	if b.RequestsThisMonth >= monthly {
		return 0
	}
	return monthly - b.RequestsThisMonth
}

func startOfMonth(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
}

func startOfNextMonth(t time.Time) time.Time {
	return startOfMonth(t).AddDate(0, 1, 0)
}
