package quota

import (
	"log"
	"sync"
	"time"
)

// Result is returned to the HTTP layer when a request is admitted.
type Result struct {
	Allowed          bool   `json:"allowed"`
	Remaining        uint64 `json:"remaining"`
	ResetAt          int64  `json:"reset_at"`
	Tier             Tier   `json:"tier"`
	MonthlyRemaining uint64 `json:"monthly_remaining"`
}

// QuotaStatus is the administrative view of one identity's bucket.
type QuotaStatus struct {
	Identity          string  `json:"identity"`
	Tier              Tier    `json:"tier"`
	AvailableTokens   float64 `json:"available_tokens"`
	LastRefill        int64   `json:"last_refill"`
	RequestsThisMonth uint64  `json:"requests_this_month"`
	TotalRequests     uint64  `json:"total_requests"`
}

// TierInfo is one row of the tier registry query.
type TierInfo struct {
	Name            Tier        `json:"name"`
	MinuteLimit     interface{} `json:"minute_limit"`
	MonthlyQuota    interface{} `json:"monthly_quota"`
	BurstMultiplier float64     `json:"burst_multiplier"`
}

// RateLimiter decides, per request, whether to admit it. It owns no quota
// state itself: everything lives in the QuotaStore, and policy comes from the
// TierPolicy. Both windows are enforced per identity; unauthenticated
// requests fall back to a fixed per-IP window.
type RateLimiter struct {
	policy    *TierPolicy
	store     *QuotaStore
	metrics   *Collector
	persister Persister
	now       func() time.Time

	costMu sync.RWMutex
	costs  map[string]float64

	sweepOnce sync.Once
	sweepStop chan struct{}
}

// Option configures a RateLimiter.
type Option func(*RateLimiter)

// WithClock injects the time source, used by tests to advance time.
func WithClock(now func() time.Time) Option {
	return func(rl *RateLimiter) { rl.now = now }
}

// WithPersister enables write-behind persistence of bucket snapshots.
func WithPersister(p Persister) Option {
	return func(rl *RateLimiter) { rl.persister = p }
}

// WithServiceLabel sets the service label on exported metrics.
func WithServiceLabel(service string) Option {
	return func(rl *RateLimiter) { rl.metrics = NewCollector(service) }
}

// NewRateLimiter creates a limiter with an empty store.
func NewRateLimiter(policy *TierPolicy, opts ...Option) *RateLimiter {
	if policy == nil {
		policy = DefaultTierPolicy()
	}

	rl := &RateLimiter{
		policy:    policy,
		store:     NewQuotaStore(),
		metrics:   NewCollector("fingerprint-api"),
		now:       time.Now,
		costs:     make(map[string]float64),
		sweepStop: make(chan struct{}),
	}

	for _, opt := range opts {
		opt(rl)
	}

	return rl
}

// RegisterEndpoint sets the token cost for an endpoint. Unregistered
// endpoints cost 1.0.
func (rl *RateLimiter) RegisterEndpoint(endpoint string, cost float64) {
	rl.costMu.Lock()
	rl.costs[endpoint] = cost
	rl.costMu.Unlock()
}

// endpointCost resolves the cost for a path, falling back to the longest
// registered prefix so /compare/abc bills like /compare.
func (rl *RateLimiter) endpointCost(endpoint string) float64 {
	rl.costMu.RLock()
	defer rl.costMu.RUnlock()

	if cost, ok := rl.costs[endpoint]; ok {
		return cost
	}
	for i := len(endpoint) - 1; i > 0; i-- {
		if endpoint[i] != '/' {
			continue
		}
		if cost, ok := rl.costs[endpoint[:i]]; ok {
			return cost
		}
	}
	return 1.0
}

// CheckAndConsume decides whether the request is admitted and, if so,
// consumes its cost atomically. identity may be empty for unauthenticated
// requests, which are limited per client IP instead; with neither identity
// nor IP there is nothing to key on and the request passes.
//
// On rejection the returned error is a *LimitExceededError carrying the
// retry-after and reset timestamps for the 429 response.
func (rl *RateLimiter) CheckAndConsume(identity string, tier Tier, endpoint string, clientIP string) (Result, error) {
	rl.metrics.IncRequests()

	now := rl.now()
	cost := rl.endpointCost(endpoint)
	limits := rl.policy.Limits(tier)

	// Zero-cost endpoints (health probes and the like) pass without touching
	// any bucket.
	if cost == 0 {
		return Result{
			Allowed:          true,
			Remaining:        limits.MinuteLimit(),
			ResetAt:          now.Add(time.Minute).Unix(),
			Tier:             tier,
			MonthlyRemaining: UnlimitedSentinel,
		}, nil
	}

	if identity != "" {
		return rl.checkUser(identity, tier, limits, cost, now)
	}

	if clientIP != "" {
		return rl.checkIP(clientIP, cost, now)
	}

	return Result{
		Allowed:          true,
		Remaining:        limits.MinuteLimit(),
		ResetAt:          now.Add(time.Minute).Unix(),
		Tier:             tier,
		MonthlyRemaining: UnlimitedSentinel,
	}, nil
}

func (rl *RateLimiter) checkUser(identity string, tier Tier, limits Limits, cost float64, now time.Time) (Result, error) {
	var (
		result   Result
		rejected *LimitExceededError
		snap     BucketSnapshot
	)

	hit := rl.store.WithBucket(identity,
		func() *TokenBucket { return newTokenBucket(identity, tier, limits, now) },
		func(b *TokenBucket) {
			b.rolloverMonth(now)
			b.refill(limits, now)

			// The monthly ceiling is checked before the minute window so a
			// caller whose month is spent gets the right reason even with
			// tokens still in the bucket.
			if monthly, finite := limits.MonthlyQuota(); finite && b.RequestsThisMonth >= monthly {
				rejected = newMonthlyQuotaError(tier, startOfNextMonth(now).Unix())
				return
			}

			if b.AvailableTokens < cost {
				rejected = newRateLimitError(limits.MinuteLimit(), now.Add(time.Minute).Unix())
				return
			}

			b.consume(cost, now)

			result = Result{
				Allowed:          true,
				Remaining:        uint64(b.AvailableTokens),
				ResetAt:          now.Add(time.Minute).Unix(),
				Tier:             tier,
				MonthlyRemaining: b.monthlyRemaining(limits),
			}

			snap = BucketSnapshot{
				Identity:          b.Identity,
				Tier:              b.Tier,
				AvailableTokens:   b.AvailableTokens,
				LastRefill:        b.LastRefill.Unix(),
				MonthStart:        b.MonthStart.Unix(),
				RequestsThisMonth: b.RequestsThisMonth,
				TotalRequests:     b.TotalRequests,
			}
		})

	if hit {
		rl.metrics.IncHits()
	} else {
		rl.metrics.IncMisses()
	}

	if rejected != nil {
		rl.metrics.IncRejected()
		return Result{}, rejected
	}

	if rl.persister != nil {
		rl.persister.Enqueue(snap)
	}

	return result, nil
}

func (rl *RateLimiter) checkIP(clientIP string, cost float64, now time.Time) (Result, error) {
	// A cost above the whole window can never fit, reject before a window
	// gets created so the IP is not penalized for it.
	if cost > IPRequestsPerMinute {
		rl.metrics.IncRejected()
		return Result{}, &LimitExceededError{
			Reason:     ReasonRateLimit,
			Message:    "IP rate limit exceeded. Max 30/min without API key",
			RetryAfter: 60,
			ResetAt:    now.Add(time.Minute).Unix(),
		}
	}

	allowed := true
	remaining := uint64(0)
	if left := IPRequestsPerMinute - cost; left > 0 {
		remaining = uint64(left)
	}

	rl.store.WithWindow(clientIP,
		func() *IPWindow { return newIPWindow(clientIP, cost, now) },
		func(w *IPWindow) {
			allowed = w.allow(cost, now)
			remaining = w.remaining()
		})

	if !allowed {
		rl.metrics.IncRejected()
		return Result{}, &LimitExceededError{
			Reason:     ReasonRateLimit,
			Message:    "IP rate limit exceeded. Max 30/min without API key",
			RetryAfter: 60,
			ResetAt:    now.Add(time.Minute).Unix(),
		}
	}

	return Result{
		Allowed:          true,
		Remaining:        remaining,
		ResetAt:          now.Add(time.Minute).Unix(),
		Tier:             TierFree,
		MonthlyRemaining: 0,
	}, nil
}

// Status returns the administrative view of one identity's bucket, or
// ErrNotFound.
func (rl *RateLimiter) Status(identity string) (QuotaStatus, error) {
	var status QuotaStatus

	found := rl.store.ViewBucket(identity, func(b *TokenBucket) {
		status = QuotaStatus{
			Identity:          b.Identity,
			Tier:              b.Tier,
			AvailableTokens:   b.AvailableTokens,
			LastRefill:        b.LastRefill.Unix(),
			RequestsThisMonth: b.RequestsThisMonth,
			TotalRequests:     b.TotalRequests,
		}
	})

	if !found {
		return QuotaStatus{}, ErrNotFound
	}
	return status, nil
}

// Reset clears an identity's bucket entirely, or returns ErrNotFound.
func (rl *RateLimiter) Reset(identity string) error {
	if !rl.store.DeleteBucket(identity) {
		return ErrNotFound
	}
	return nil
}

// TierRegistry lists each tier with its limits, using "unlimited" in place of
// absent caps.
func (rl *RateLimiter) TierRegistry() []TierInfo {
	tiers := rl.policy.Tiers()
	infos := make([]TierInfo, 0, len(tiers))

	for _, tier := range tiers {
		limits := rl.policy.Limits(tier)
		info := TierInfo{Name: tier, BurstMultiplier: limits.BurstMultiplier}

		if limits.PerMinute != nil {
			info.MinuteLimit = *limits.PerMinute
		} else {
			info.MinuteLimit = "unlimited"
		}
		if limits.Monthly != nil {
			info.MonthlyQuota = *limits.Monthly
		} else {
			info.MonthlyQuota = "unlimited"
		}

		infos = append(infos, info)
	}

	return infos
}

// MetricsSnapshot returns the counters plus store sizes.
func (rl *RateLimiter) MetricsSnapshot() Snapshot {
	return rl.metrics.Snapshot(rl.store.UserCount(), rl.store.IPCount())
}

// ExportMetrics renders the Prometheus text exposition.
func (rl *RateLimiter) ExportMetrics() string {
	return rl.metrics.Export(rl.MetricsSnapshot())
}

// StartSweeper periodically evicts entries idle longer than retention so the
// identity map does not grow without bound in long-lived processes.
func (rl *RateLimiter) StartSweeper(interval, retention time.Duration) {
	rl.sweepOnce.Do(func() {
		go func() {
			ticker := time.NewTicker(interval)
			defer ticker.Stop()

			for {
				select {
				case <-ticker.C:
					if removed := rl.store.Sweep(retention, rl.now()); removed > 0 {
						log.Printf("Quota sweep removed %d stale entries", removed)
					}
				case <-rl.sweepStop:
					return
				}
			}
		}()
	})
}

// Close stops the sweeper.
func (rl *RateLimiter) Close() {
	select {
	case <-rl.sweepStop:
	default:
		close(rl.sweepStop)
	}
}
