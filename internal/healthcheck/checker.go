package healthcheck

import (
	"context"
	"log"
	"net/http"
	"sync"
	"time"
)

// Checker probes each backend's health endpoint on an interval and keeps a
// list of targets that are currently safe to route to. Targets start healthy
// and are only removed after maxFailures consecutive failed probes.
type Checker struct {
	mu      sync.RWMutex
	targets []string
	status  map[string]*Status
	healthy []string

	endpoint    string
	interval    time.Duration
	timeout     time.Duration
	maxFailures int
	client      *http.Client

	stop    chan struct{}
	running bool
}

type Config struct {
	Targets     []string
	Endpoint    string        // default "/health"
	Interval    time.Duration // default 10s
	Timeout     time.Duration // default 5s
	MaxFailures int           // default 3
}

func NewChecker(cfg Config) *Checker {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "/health"
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 3
	}

	c := &Checker{
		targets:     cfg.Targets,
		status:      make(map[string]*Status, len(cfg.Targets)),
		healthy:     append([]string(nil), cfg.Targets...),
		endpoint:    cfg.Endpoint,
		interval:    cfg.Interval,
		timeout:     cfg.Timeout,
		maxFailures: cfg.MaxFailures,
		client:      &http.Client{Timeout: cfg.Timeout},
		stop:        make(chan struct{}),
	}

	for _, target := range cfg.Targets {
		c.status[target] = &Status{
			Target:    target,
			IsHealthy: true,
			LastCheck: time.Now(),
		}
	}

	return c
}

func (c *Checker) Start() {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return
	}
	c.running = true
	c.mu.Unlock()

	log.Printf("health checker started for %d targets, interval %v", len(c.targets), c.interval)

	c.checkAll()

	go func() {
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				c.checkAll()
			case <-c.stop:
				return
			}
		}
	}()
}

func (c *Checker) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		close(c.stop)
		c.running = false
	}
}

func (c *Checker) checkAll() {
	var wg sync.WaitGroup
	for _, target := range c.targets {
		wg.Add(1)
		go func(t string) {
			defer wg.Done()
			c.probe(t)
		}(target)
	}
	wg.Wait()

	c.mu.Lock()
	healthy := c.healthy[:0]
	for _, target := range c.targets {
		if c.status[target].IsHealthy {
			healthy = append(healthy, target)
		}
	}
	c.healthy = healthy
	c.mu.Unlock()
}

func (c *Checker) probe(target string) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target+c.endpoint, nil)
	if err != nil {
		c.recordFailure(target)
		return
	}

	resp, err := c.client.Do(req)
	if err != nil {
		c.recordFailure(target)
		return
	}
	resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 400 {
		c.recordSuccess(target)
	} else {
		c.recordFailure(target)
	}
}

func (c *Checker) recordSuccess(target string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.status[target]
	s.LastCheck = time.Now()
	s.LastSuccess = s.LastCheck
	s.FailureCount = 0

	if !s.IsHealthy {
		log.Printf("backend %s recovered", target)
		s.IsHealthy = true
	}
}

func (c *Checker) recordFailure(target string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.status[target]
	s.LastCheck = time.Now()
	s.LastFailure = s.LastCheck
	s.FailureCount++

	if s.IsHealthy && s.FailureCount >= c.maxFailures {
		log.Printf("backend %s marked unhealthy after %d failed probes", target, s.FailureCount)
		s.IsHealthy = false
	}
}

// HealthyTargets returns a copy of the currently routable targets.
func (c *Checker) HealthyTargets() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]string, len(c.healthy))
	copy(out, c.healthy)
	return out
}

func (c *Checker) AllTargets() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]string, len(c.targets))
	copy(out, c.targets)
	return out
}

func (c *Checker) AllStatus() map[string]Status {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[string]Status, len(c.status))
	for target, s := range c.status {
		out[target] = *s
	}
	return out
}

func (c *Checker) OverallHealth() HealthStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()

	switch {
	case len(c.healthy) == 0:
		return Unhealthy
	case len(c.healthy) < len(c.targets):
		return Degraded
	default:
		return Healthy
	}
}
