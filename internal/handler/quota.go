package handler

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/vistone/fingerprint-gateway/internal/models"
	"github.com/vistone/fingerprint-gateway/internal/quota"
	"github.com/vistone/fingerprint-gateway/internal/repository"
	"github.com/vistone/fingerprint-gateway/internal/storage"
)

// QuotaHandler exposes the engine state over the admin API: per-identity
// quota status, resets, the tier table, metrics and usage history.
type QuotaHandler struct {
	limiter   *quota.RateLimiter
	snapshots *storage.QuotaSnapshotStore
	logs      *repository.RequestLogRepository
}

func NewQuotaHandler(limiter *quota.RateLimiter, snapshots *storage.QuotaSnapshotStore, logs *repository.RequestLogRepository) *QuotaHandler {
	return &QuotaHandler{limiter: limiter, snapshots: snapshots, logs: logs}
}

func (h *QuotaHandler) Tiers(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"tiers": h.limiter.TierRegistry()})
}

// Status reports live bucket state for one identity. When the identity has
// aged out of memory the Redis snapshot, if any, is served instead.
func (h *QuotaHandler) Status(c *gin.Context) {
	identity := c.Param("identity")

	status, err := h.limiter.Status(identity)
	if err == nil {
		c.JSON(http.StatusOK, gin.H{"source": "memory", "quota": status})
		return
	}
	if !errors.Is(err, quota.ErrNotFound) {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "quota lookup failed"})
		return
	}

	if h.snapshots != nil {
		snap, err := h.snapshots.ReadSnapshot(c.Request.Context(), identity)
		if err == nil && snap != nil {
			c.JSON(http.StatusOK, gin.H{"source": "snapshot", "quota": snap})
			return
		}
	}

	c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "no quota state for identity"})
}

// Reset discards the identity's bucket so the next request starts fresh.
func (h *QuotaHandler) Reset(c *gin.Context) {
	identity := c.Param("identity")

	err := h.limiter.Reset(identity)
	if err != nil && !errors.Is(err, quota.ErrNotFound) {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "quota reset failed"})
		return
	}

	if h.snapshots != nil {
		h.snapshots.DeleteSnapshot(c.Request.Context(), identity)
	}

	if errors.Is(err, quota.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "no quota state for identity"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "quota reset", "identity": identity})
}

// Metrics serves the Prometheus text exposition. Mounted unauthenticated so
// scrapers can reach it.
func (h *QuotaHandler) Metrics(c *gin.Context) {
	c.Data(http.StatusOK, "text/plain; version=0.0.4; charset=utf-8", []byte(h.limiter.ExportMetrics()))
}

// MetricsJSON is the admin view of the same counters.
func (h *QuotaHandler) MetricsJSON(c *gin.Context) {
	c.JSON(http.StatusOK, h.limiter.MetricsSnapshot())
}

// Usage queries the request log history. Defaults to the last 24 hours.
func (h *QuotaHandler) Usage(c *gin.Context) {
	if h.logs == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "unavailable", "message": "request logging is not configured"})
		return
	}

	to := time.Now()
	from := to.Add(-24 * time.Hour)
	if v := c.Query("from"); v != "" {
		if ts, err := strconv.ParseInt(v, 10, 64); err == nil {
			from = time.Unix(ts, 0)
		}
	}
	if v := c.Query("to"); v != "" {
		if ts, err := strconv.ParseInt(v, 10, 64); err == nil {
			to = time.Unix(ts, 0)
		}
	}

	limit := 100
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 1000 {
			limit = n
		}
	}
	offset := 0
	if v := c.Query("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}

	var (
		logs []models.RequestLog
		err  error
	)
	if keyID := c.Query("api_key_id"); keyID != "" {
		parsed, perr := uuid.Parse(keyID)
		if perr != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "api_key_id must be a UUID"})
			return
		}
		logs, err = h.logs.FindByAPIKey(c.Request.Context(), parsed, from, to, limit, offset)
	} else {
		logs, err = h.logs.FindByTimeRange(c.Request.Context(), from, to, limit, offset)
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "usage query failed"})
		return
	}

	rejected, err := h.logs.CountRejected(c.Request.Context(), from, to)
	if err != nil {
		rejected = -1
	}

	c.JSON(http.StatusOK, gin.H{
		"from":           from.Unix(),
		"to":             to.Unix(),
		"count":          len(logs),
		"rejected_total": rejected,
		"logs":           logs,
	})
}
