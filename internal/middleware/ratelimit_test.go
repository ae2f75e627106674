package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vistone/fingerprint-gateway/internal/quota"
)

func newTestRouter(limiter *quota.RateLimiter, identity, tier string) *gin.Engine {
	gin.SetMode(gin.TestMode)

	router := gin.New()
	router.Use(func(c *gin.Context) {
		if identity != "" {
			c.Set("identity", identity)
			c.Set("tier", tier)
		}
		c.Next()
	})
	router.Use(RateLimit(limiter, map[string]bool{"/health": true}))
	router.GET("/identify", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})

	return router
}

func doRequest(router *gin.Engine, path, ip string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.RemoteAddr = ip + ":12345"
	router.ServeHTTP(w, req)
	return w
}

func TestRateLimitHeadersOnSuccess(t *testing.T) {
	limiter := quota.NewRateLimiter(quota.DefaultTierPolicy())
	router := newTestRouter(limiter, "key-1", "free")

	w := doRequest(router, "/identify", "10.0.0.1")

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "99", w.Header().Get("X-RateLimit-Remaining"))
	assert.Equal(t, "free", w.Header().Get("X-Quota-Tier"))
	assert.NotEmpty(t, w.Header().Get("X-RateLimit-Reset"))
	assert.NotEmpty(t, w.Header().Get("X-Quota-Monthly-Remaining"))
}

func TestRateLimitRejectionResponse(t *testing.T) {
	limiter := quota.NewRateLimiter(quota.DefaultTierPolicy())
	router := newTestRouter(limiter, "key-2", "free")

	for i := 0; i < 100; i++ {
		w := doRequest(router, "/identify", "10.0.0.1")
		require.Equal(t, http.StatusOK, w.Code)
	}

	w := doRequest(router, "/identify", "10.0.0.1")
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "60", w.Header().Get("Retry-After"))
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "rate_limit_exceeded", body["error"])
	assert.Contains(t, body["message"], "Max 100/min")
	assert.NotZero(t, body["reset_at"])
}

func TestRateLimitAnonymousFallsBackToIP(t *testing.T) {
	limiter := quota.NewRateLimiter(quota.DefaultTierPolicy())
	router := newTestRouter(limiter, "", "")

	for i := 0; i < 30; i++ {
		w := doRequest(router, "/identify", "172.16.0.9")
		require.Equal(t, http.StatusOK, w.Code, "request %d", i)
	}

	w := doRequest(router, "/identify", "172.16.0.9")
	require.Equal(t, http.StatusTooManyRequests, w.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Contains(t, body["message"], "Max 30/min without API key")

	// A different address is unaffected
	w = doRequest(router, "/identify", "172.16.0.10")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRateLimitExemptPathSkipsCheck(t *testing.T) {
	limiter := quota.NewRateLimiter(quota.DefaultTierPolicy())
	router := newTestRouter(limiter, "", "")

	for i := 0; i < 50; i++ {
		w := doRequest(router, "/health", "172.16.0.20")
		require.Equal(t, http.StatusOK, w.Code)
	}

	assert.Zero(t, limiter.MetricsSnapshot().TotalRequests)
}
