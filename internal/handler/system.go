package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/vistone/fingerprint-gateway/internal/proxy"
)

// SystemHandler reports gateway health and backend state.
type SystemHandler struct {
	pools map[string]*proxy.Pool
}

func NewSystemHandler(pools map[string]*proxy.Pool) *SystemHandler {
	return &SystemHandler{pools: pools}
}

func (h *SystemHandler) Health(c *gin.Context) {
	overall := "healthy"
	backends := gin.H{}

	for path, pool := range h.pools {
		health := pool.OverallHealth().String()
		backends[path] = health
		if health != "healthy" && overall == "healthy" {
			overall = health
		}
	}

	status := http.StatusOK
	if overall == "unhealthy" {
		status = http.StatusServiceUnavailable
	}

	c.JSON(status, gin.H{
		"status":   overall,
		"backends": backends,
	})
}

func (h *SystemHandler) BackendStatus(c *gin.Context) {
	out := gin.H{}
	for path, pool := range h.pools {
		out[path] = gin.H{
			"health":   pool.HealthStatus(),
			"breakers": pool.BreakerMetrics(),
		}
	}

	c.JSON(http.StatusOK, out)
}

func (h *SystemHandler) ResetBreakers(c *gin.Context) {
	for _, pool := range h.pools {
		pool.ResetBreakers()
	}

	c.JSON(http.StatusOK, gin.H{"message": "circuit breakers reset"})
}
