package quota

import (
	"fmt"
	"strings"
	"sync/atomic"
)

// Collector keeps the engine's counters. All increments are atomic so the hot
// path never takes a lock for accounting; reads for export are relaxed
// snapshots.
type Collector struct {
	service string

	totalRequests atomic.Uint64
	totalRejected atomic.Uint64
	cacheHits     atomic.Uint64
	cacheMisses   atomic.Uint64
}

// NewCollector creates a collector whose exported series carry the given
// service label.
func NewCollector(service string) *Collector {
	return &Collector{service: service}
}

func (c *Collector) IncRequests() { c.totalRequests.Add(1) }
func (c *Collector) IncRejected() { c.totalRejected.Add(1) }
func (c *Collector) IncHits()     { c.cacheHits.Add(1) }
func (c *Collector) IncMisses()   { c.cacheMisses.Add(1) }

// Snapshot is a relaxed point-in-time view of the counters plus the derived
// ratios and the store sizes supplied by the caller.
type Snapshot struct {
	TotalRequests uint64  `json:"total_requests"`
	TotalRejected uint64  `json:"total_rejected"`
	RejectionRate float64 `json:"rejection_rate"`
	CacheHits     uint64  `json:"cache_hits"`
	CacheMisses   uint64  `json:"cache_misses"`
	CacheHitRatio float64 `json:"cache_hit_ratio"`
	ActiveUsers   int     `json:"active_users"`
	ActiveIPs     int     `json:"active_ips"`
}

// Snapshot reads the counters and computes the derived ratios.
func (c *Collector) Snapshot(activeUsers, activeIPs int) Snapshot {
	s := Snapshot{
		TotalRequests: c.totalRequests.Load(),
		TotalRejected: c.totalRejected.Load(),
		CacheHits:     c.cacheHits.Load(),
		CacheMisses:   c.cacheMisses.Load(),
		ActiveUsers:   activeUsers,
		ActiveIPs:     activeIPs,
	}

	if s.TotalRequests > 0 {
		s.RejectionRate = float64(s.TotalRejected) / float64(s.TotalRequests)
	}
	if lookups := s.CacheHits + s.CacheMisses; lookups > 0 {
		s.CacheHitRatio = float64(s.CacheHits) / float64(lookups)
	}

	return s
}

// Export renders the snapshot as a Prometheus text exposition. The series
// names, label, blank-line separation and 4-decimal ratios are a stable
// contract with the scrape configs already deployed against this service.
func (c *Collector) Export(s Snapshot) string {
	lines := []string{
		"# HELP rate_limit_total_requests Total requests processed",
		"# TYPE rate_limit_total_requests counter",
		fmt.Sprintf(`rate_limit_total_requests{service=%q} %d`, c.service, s.TotalRequests),
		"",
		"# HELP rate_limit_rejected_total Total requests rejected",
		"# TYPE rate_limit_rejected_total counter",
		fmt.Sprintf(`rate_limit_rejected_total{service=%q} %d`, c.service, s.TotalRejected),
		"",
		"# HELP rate_limit_rejection_ratio Request rejection ratio",
		"# TYPE rate_limit_rejection_ratio gauge",
		fmt.Sprintf(`rate_limit_rejection_ratio{service=%q} %.4f`, c.service, s.RejectionRate),
		"",
		"# HELP cache_hits_total Cache hit count",
		"# TYPE cache_hits_total counter",
		fmt.Sprintf(`cache_hits_total{service=%q} %d`, c.service, s.CacheHits),
		"",
		"# HELP cache_hit_ratio Cache hit ratio",
		"# TYPE cache_hit_ratio gauge",
		fmt.Sprintf(`cache_hit_ratio{service=%q} %.4f`, c.service, s.CacheHitRatio),
		"",
		"# HELP rate_limit_active_users Active users count",
		"# TYPE rate_limit_active_users gauge",
		fmt.Sprintf(`rate_limit_active_users{service=%q} %d`, c.service, s.ActiveUsers),
		"",
	}

	return strings.Join(lines, "\n")
}
