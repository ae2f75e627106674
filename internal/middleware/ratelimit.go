package middleware

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/vistone/fingerprint-gateway/internal/quota"
)

// RateLimit enforces per-identity token buckets and monthly quotas on every
// proxied request. Authenticated callers are limited by API key id and tier;
// anonymous ones fall back to a fixed per-IP window. Paths in exempt skip the
// check entirely.
func RateLimit(limiter *quota.RateLimiter, exempt map[string]bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		if exempt[c.Request.URL.Path] {
			c.Next()
			return
		}

		identity := c.GetString("identity")
		tier := quota.ParseTier(c.GetString("tier"))

		result, err := limiter.CheckAndConsume(identity, tier, c.Request.URL.Path, c.ClientIP())
		if err != nil {
			var rejection *quota.LimitExceededError
			if errors.As(err, &rejection) {
				c.Header("Retry-After", strconv.FormatInt(rejection.RetryAfter, 10))
				c.Header("X-RateLimit-Remaining", "0")
				c.Header("X-RateLimit-Reset", strconv.FormatInt(rejection.ResetAt, 10))
				c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
					"error":    rejection.Reason,
					"message":  rejection.Message,
					"reset_at": rejection.ResetAt,
				})
				return
			}
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"error":   "internal_error",
				"message": "rate limit check failed",
			})
			return
		}

		c.Header("X-RateLimit-Remaining", strconv.FormatUint(result.Remaining, 10))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt, 10))
		if identity != "" {
			c.Header("X-Quota-Tier", string(result.Tier))
			c.Header("X-Quota-Monthly-Remaining", strconv.FormatUint(result.MonthlyRemaining, 10))
		}

		c.Next()
	}
}
