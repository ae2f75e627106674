package circuitbreaker

import "sync"

// Registry holds one breaker per backend target so a failing instance trips
// alone instead of taking the whole pool offline.
type Registry struct {
	mu       sync.Mutex
	cfg      Config
	breakers map[string]*Breaker
}

func NewRegistry(cfg Config) *Registry {
	return &Registry{
		cfg:      cfg,
		breakers: make(map[string]*Breaker),
	}
}

func (r *Registry) Get(target string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.breakers[target]
	if !ok {
		b = New(r.cfg)
		r.breakers[target] = b
	}
	return b
}

func (r *Registry) ResetAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, b := range r.breakers {
		b.Reset()
	}
}

func (r *Registry) AllMetrics() map[string]Metrics {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string]Metrics, len(r.breakers))
	for target, b := range r.breakers {
		out[target] = b.Metrics()
	}
	return out
}
