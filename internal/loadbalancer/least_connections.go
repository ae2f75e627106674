package loadbalancer

import "sync"

// LeastConnections routes to the backend with the fewest in-flight requests.
// The proxy calls Acquire/Release around each forwarded request.
type LeastConnections struct {
	mu       sync.Mutex
	inFlight map[string]int
}

func NewLeastConnections() *LeastConnections {
	return &LeastConnections{inFlight: make(map[string]int)}
}

func (l *LeastConnections) Next(targets []string) string {
	if len(targets) == 0 {
		return ""
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	selected := targets[0]
	min := l.inFlight[selected]
	for _, target := range targets[1:] {
		if n := l.inFlight[target]; n < min {
			min = n
			selected = target
		}
	}

	return selected
}

func (l *LeastConnections) Acquire(target string) {
	l.mu.Lock()
	l.inFlight[target]++
	l.mu.Unlock()
}

func (l *LeastConnections) Release(target string) {
	l.mu.Lock()
	if l.inFlight[target] > 0 {
		l.inFlight[target]--
	}
	l.mu.Unlock()
}

func (l *LeastConnections) Name() string {
	return "least_connections"
}
