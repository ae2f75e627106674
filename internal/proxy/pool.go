package proxy

import (
	"errors"
	"log"
	"net/http"
	"net/http/httputil"
	"net/url"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/vistone/fingerprint-gateway/internal/circuitbreaker"
	"github.com/vistone/fingerprint-gateway/internal/healthcheck"
	"github.com/vistone/fingerprint-gateway/internal/loadbalancer"
)

// Pool proxies one route to a group of fingerprint backends. Each backend
// has its own circuit breaker so one bad instance trips alone; unhealthy
// backends are removed from rotation by the health checker.
type Pool struct {
	name     string
	proxies  map[string]*httputil.ReverseProxy
	breakers *circuitbreaker.Registry
	balancer loadbalancer.Strategy
	checker  *healthcheck.Checker
}

type Config struct {
	Name                 string
	Targets              []string
	LoadBalancerStrategy string
	CircuitBreaker       circuitbreaker.Config
	HealthCheck          healthcheck.Config
}

func NewPool(cfg Config) (*Pool, error) {
	if len(cfg.Targets) == 0 {
		return nil, errors.New("pool needs at least one target")
	}

	balancer, err := loadbalancer.NewStrategy(cfg.LoadBalancerStrategy)
	if err != nil {
		return nil, err
	}

	proxies := make(map[string]*httputil.ReverseProxy, len(cfg.Targets))
	for _, raw := range cfg.Targets {
		target, err := url.Parse(raw)
		if err != nil {
			return nil, err
		}
		proxies[raw] = httputil.NewSingleHostReverseProxy(target)
	}

	if cfg.HealthCheck.Targets == nil {
		cfg.HealthCheck.Targets = cfg.Targets
	}
	checker := healthcheck.NewChecker(cfg.HealthCheck)
	checker.Start()

	p := &Pool{
		name:     cfg.Name,
		proxies:  proxies,
		breakers: circuitbreaker.NewRegistry(cfg.CircuitBreaker),
		balancer: balancer,
		checker:  checker,
	}

	log.Printf("backend pool %s ready: %d targets, %s", cfg.Name, len(cfg.Targets), balancer.Name())

	return p, nil
}

func (p *Pool) Name() string { return p.name }

// Handle forwards the request to a healthy backend. A 5xx response counts as
// a failure against that backend's breaker.
func (p *Pool) Handle(c *gin.Context) {
	healthy := p.checker.HealthyTargets()
	if len(healthy) == 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":   "no_backends",
			"message": "no healthy backend servers available",
		})
		return
	}

	selected := p.balancer.Next(healthy)
	if selected == "" {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":   "no_backends",
			"message": "failed to select a backend server",
		})
		return
	}

	rp, ok := p.proxies[selected]
	if !ok {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":   "internal_error",
			"message": "backend not configured",
		})
		return
	}

	if lc, ok := p.balancer.(*loadbalancer.LeastConnections); ok {
		lc.Acquire(selected)
		defer lc.Release(selected)
	}

	target, _ := url.Parse(selected)

	err := p.breakers.Get(selected).Call(func() error {
		recorder := &statusRecorder{ResponseWriter: c.Writer, status: http.StatusOK}

		req := c.Request
		req.URL.Scheme = target.Scheme
		req.URL.Host = target.Host
		req.Header.Set("X-Forwarded-Host", req.Host)
		if clientIP := c.ClientIP(); clientIP != "" {
			req.Header.Set("X-Forwarded-For", clientIP)
		}
		req.Host = target.Host

		c.Header("X-Backend-Server", selected)
		c.Set("backend_server", selected)

		c.Writer = recorder
		rp.ServeHTTP(c.Writer, req)

		if recorder.status >= 500 {
			return errors.New("backend error")
		}
		return nil
	})

	if errors.Is(err, circuitbreaker.ErrOpen) {
		log.Printf("circuit open for backend %s", selected)
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":   "circuit_open",
			"message": "backend temporarily unavailable",
		})
	}
}

// ResetBreakers closes every breaker in the pool.
func (p *Pool) ResetBreakers() {
	p.breakers.ResetAll()
}

func (p *Pool) BreakerMetrics() map[string]circuitbreaker.Metrics {
	return p.breakers.AllMetrics()
}

func (p *Pool) HealthStatus() map[string]healthcheck.Status {
	return p.checker.AllStatus()
}

func (p *Pool) OverallHealth() healthcheck.HealthStatus {
	return p.checker.OverallHealth()
}

func (p *Pool) Stop() {
	p.checker.Stop()
}

// DefaultCircuitBreaker is applied to pools without explicit settings.
var DefaultCircuitBreaker = circuitbreaker.Config{
	MaxFailures:     5,
	Timeout:         30 * time.Second,
	HalfOpenSuccess: 1,
}

type statusRecorder struct {
	gin.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
