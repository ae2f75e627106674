package quota

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestLimiter(clk *fakeClock) *RateLimiter {
	return NewRateLimiter(DefaultTierPolicy(), WithClock(clk.Now))
}

func TestFreeTierMinuteExhaustion(t *testing.T) {
	clk := newFakeClock()
	rl := newTestLimiter(clk)

	for i := 0; i < 100; i++ {
		res, err := rl.CheckAndConsume("user1", TierFree, "/identify", "")
		require.NoError(t, err, "request %d should be allowed", i+1)
		assert.True(t, res.Allowed)
	}

	_, err := rl.CheckAndConsume("user1", TierFree, "/identify", "")
	require.Error(t, err)

	var rejected *LimitExceededError
	require.True(t, errors.As(err, &rejected))
	assert.Equal(t, ReasonRateLimit, rejected.Reason)
	assert.Equal(t, int64(60), rejected.RetryAfter)
}

func TestEndpointCostTwoTokens(t *testing.T) {
	clk := newFakeClock()
	rl := newTestLimiter(clk)
	rl.RegisterEndpoint("/compare", 2.0)

	for i := 0; i < 50; i++ {
		_, err := rl.CheckAndConsume("user1", TierFree, "/compare", "")
		require.NoError(t, err, "request %d should be allowed", i+1)
	}

	_, err := rl.CheckAndConsume("user1", TierFree, "/compare", "")
	var rejected *LimitExceededError
	require.True(t, errors.As(err, &rejected))
	assert.Equal(t, ReasonRateLimit, rejected.Reason)
}

func TestBucketRefillsAfterIdleMinute(t *testing.T) {
	clk := newFakeClock()
	rl := newTestLimiter(clk)

	for i := 0; i < 100; i++ {
		_, err := rl.CheckAndConsume("user1", TierFree, "/identify", "")
		require.NoError(t, err)
	}
	_, err := rl.CheckAndConsume("user1", TierFree, "/identify", "")
	require.Error(t, err)

	clk.Advance(61 * time.Second)

	res, err := rl.CheckAndConsume("user1", TierFree, "/identify", "")
	require.NoError(t, err)
	assert.True(t, res.Allowed)

	status, err := rl.Status("user1")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, status.AvailableTokens, 99.0)
	assert.LessOrEqual(t, status.AvailableTokens, 150.0)
}

func TestMonthlyQuotaCheckedBeforeMinuteWindow(t *testing.T) {
	clk := newFakeClock()
	rl := newTestLimiter(clk)

	// Seed a bucket, then pin its monthly counter at the quota while leaving
	// plenty of minute tokens.
	_, err := rl.CheckAndConsume("user1", TierFree, "/identify", "")
	require.NoError(t, err)

	rl.store.WithBucket("user1", nil, func(b *TokenBucket) {
		b.RequestsThisMonth = 50_000
		b.AvailableTokens = 99.0
	})

	_, err = rl.CheckAndConsume("user1", TierFree, "/identify", "")
	var rejected *LimitExceededError
	require.True(t, errors.As(err, &rejected))
	assert.Equal(t, ReasonMonthlyQuota, rejected.Reason)
	assert.Equal(t, int64(86400), rejected.RetryAfter)
	assert.Equal(t, time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC).Unix(), rejected.ResetAt)
}

func TestMonthlyCounterResetsNextMonth(t *testing.T) {
	clk := newFakeClock()
	rl := newTestLimiter(clk)

	_, err := rl.CheckAndConsume("user1", TierFree, "/identify", "")
	require.NoError(t, err)

	rl.store.WithBucket("user1", nil, func(b *TokenBucket) {
		b.RequestsThisMonth = 50_000
	})
	_, err = rl.CheckAndConsume("user1", TierFree, "/identify", "")
	require.Error(t, err)

	clk.Advance(31 * 24 * time.Hour)

	res, err := rl.CheckAndConsume("user1", TierFree, "/identify", "")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestIPWindowThirtyPerMinute(t *testing.T) {
	clk := newFakeClock()
	rl := newTestLimiter(clk)

	for i := 0; i < 30; i++ {
		res, err := rl.CheckAndConsume("", TierFree, "/identify", "10.0.0.1")
		require.NoError(t, err, "request %d should be allowed", i+1)
		assert.True(t, res.Allowed)
	}

	_, err := rl.CheckAndConsume("", TierFree, "/identify", "10.0.0.1")
	var rejected *LimitExceededError
	require.True(t, errors.As(err, &rejected))
	assert.Equal(t, ReasonRateLimit, rejected.Reason)

	// A fresh window admits traffic again.
	clk.Advance(61 * time.Second)
	res, err := rl.CheckAndConsume("", TierFree, "/identify", "10.0.0.1")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestIPWindowsAreIndependent(t *testing.T) {
	clk := newFakeClock()
	rl := newTestLimiter(clk)

	for i := 0; i < 30; i++ {
		_, err := rl.CheckAndConsume("", TierFree, "/identify", "10.0.0.1")
		require.NoError(t, err)
	}
	_, err := rl.CheckAndConsume("", TierFree, "/identify", "10.0.0.1")
	require.Error(t, err)

	_, err = rl.CheckAndConsume("", TierFree, "/identify", "10.0.0.2")
	require.NoError(t, err)
}

func TestNoIdentityNoIPAlwaysAllowed(t *testing.T) {
	clk := newFakeClock()
	rl := newTestLimiter(clk)

	for i := 0; i < 200; i++ {
		res, err := rl.CheckAndConsume("", TierFree, "/identify", "")
		require.NoError(t, err)
		assert.True(t, res.Allowed)
	}
}

func TestZeroCostEndpointPassesExhaustedBucket(t *testing.T) {
	clk := newFakeClock()
	rl := newTestLimiter(clk)
	rl.RegisterEndpoint("/ping", 0)

	for i := 0; i < 100; i++ {
		_, err := rl.CheckAndConsume("user1", TierFree, "/identify", "")
		require.NoError(t, err)
	}
	_, err := rl.CheckAndConsume("user1", TierFree, "/identify", "")
	require.Error(t, err)

	res, err := rl.CheckAndConsume("user1", TierFree, "/ping", "")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestUnlimitedTierNeverRejected(t *testing.T) {
	clk := newFakeClock()
	rl := newTestLimiter(clk)

	for i := 0; i < 5_000; i++ {
		res, err := rl.CheckAndConsume("ent1", TierEnterprise, "/identify", "")
		require.NoError(t, err)
		assert.True(t, res.Allowed)
		assert.Equal(t, UnlimitedSentinel, res.MonthlyRemaining)
	}
}

func TestConcurrentConsumeNoDoubleSpend(t *testing.T) {
	clk := newFakeClock()
	rl := newTestLimiter(clk)

	// Seed the bucket, then pin the balance at exactly 10 tokens.
	_, err := rl.CheckAndConsume("user1", TierPro, "/identify", "")
	require.NoError(t, err)
	rl.store.WithBucket("user1", nil, func(b *TokenBucket) {
		b.AvailableTokens = 10
	})

	const workers = 50
	var wg sync.WaitGroup
	var mu sync.Mutex
	successes := 0

	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			if _, err := rl.CheckAndConsume("user1", TierPro, "/identify", ""); err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, successes)
}

func TestStatusAndReset(t *testing.T) {
	clk := newFakeClock()
	rl := newTestLimiter(clk)

	_, err := rl.Status("ghost")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, rl.Reset("ghost"), ErrNotFound)

	_, err = rl.CheckAndConsume("user1", TierPro, "/identify", "")
	require.NoError(t, err)

	status, err := rl.Status("user1")
	require.NoError(t, err)
	assert.Equal(t, "user1", status.Identity)
	assert.Equal(t, TierPro, status.Tier)
	assert.Equal(t, 999.0, status.AvailableTokens)
	assert.Equal(t, uint64(1), status.TotalRequests)

	require.NoError(t, rl.Reset("user1"))
	_, err = rl.Status("user1")
	assert.ErrorIs(t, err, ErrNotFound)

	// A reset identity starts over with a full bucket.
	res, err := rl.CheckAndConsume("user1", TierPro, "/identify", "")
	require.NoError(t, err)
	assert.Equal(t, uint64(999), res.Remaining)
}

func TestTierRegistry(t *testing.T) {
	rl := newTestLimiter(newFakeClock())

	infos := rl.TierRegistry()
	require.Len(t, infos, 4)

	byName := make(map[Tier]TierInfo, len(infos))
	for _, info := range infos {
		byName[info.Name] = info
	}

	assert.Equal(t, uint64(100), byName[TierFree].MinuteLimit)
	assert.Equal(t, uint64(50_000), byName[TierFree].MonthlyQuota)
	assert.Equal(t, 1.5, byName[TierFree].BurstMultiplier)
	assert.Equal(t, uint64(1_000), byName[TierPro].MinuteLimit)
	assert.Equal(t, "unlimited", byName[TierEnterprise].MinuteLimit)
	assert.Equal(t, "unlimited", byName[TierPartner].MonthlyQuota)
}

func TestResultFields(t *testing.T) {
	clk := newFakeClock()
	rl := newTestLimiter(clk)

	res, err := rl.CheckAndConsume("user1", TierFree, "/identify", "")
	require.NoError(t, err)

	assert.Equal(t, uint64(99), res.Remaining)
	assert.Equal(t, clk.Now().Add(time.Minute).Unix(), res.ResetAt)
	assert.Equal(t, TierFree, res.Tier)
	assert.Equal(t, uint64(49_999), res.MonthlyRemaining)
}

func TestSweepEvictsIdleEntries(t *testing.T) {
	clk := newFakeClock()
	rl := newTestLimiter(clk)

	for i := 0; i < 5; i++ {
		_, err := rl.CheckAndConsume(fmt.Sprintf("user%d", i), TierFree, "/identify", "")
		require.NoError(t, err)
	}
	_, err := rl.CheckAndConsume("", TierFree, "/identify", "10.0.0.9")
	require.NoError(t, err)

	clk.Advance(2 * time.Hour)
	_, err = rl.CheckAndConsume("user0", TierFree, "/identify", "")
	require.NoError(t, err)

	removed := rl.store.Sweep(time.Hour, clk.Now())
	assert.Equal(t, 5, removed)
	assert.Equal(t, 1, rl.store.UserCount())
	assert.Equal(t, 0, rl.store.IPCount())
}

func TestEndpointCostPrefixFallback(t *testing.T) {
	clk := newFakeClock()
	rl := newTestLimiter(clk)
	rl.RegisterEndpoint("/compare", 2.0)

	res, err := rl.CheckAndConsume("user1", TierFree, "/compare/abc123", "")
	require.NoError(t, err)
	assert.Equal(t, uint64(98), res.Remaining)

	res, err = rl.CheckAndConsume("user1", TierFree, "/unknown/path", "")
	require.NoError(t, err)
	assert.Equal(t, uint64(97), res.Remaining)
}

func TestIPWindowRemainingNeverExceedsBudget(t *testing.T) {
	clk := newFakeClock()
	rl := newTestLimiter(clk)
	rl.RegisterEndpoint("/bulk", 31.0)
	rl.RegisterEndpoint("/full", 30.0)

	// A cost larger than the whole window is rejected outright and must not
	// poison the window for later requests.
	_, err := rl.CheckAndConsume("", TierFree, "/bulk", "10.0.0.40")
	var rejected *LimitExceededError
	require.True(t, errors.As(err, &rejected))
	assert.Equal(t, ReasonRateLimit, rejected.Reason)

	res, err := rl.CheckAndConsume("", TierFree, "/identify", "10.0.0.40")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.LessOrEqual(t, res.Remaining, uint64(30))

	// A cost that exactly fills a fresh window leaves zero remaining.
	res, err = rl.CheckAndConsume("", TierFree, "/full", "10.0.0.41")
	require.NoError(t, err)
	assert.Equal(t, uint64(0), res.Remaining)

	_, err = rl.CheckAndConsume("", TierFree, "/identify", "10.0.0.41")
	require.Error(t, err)
}
