package loadbalancer

import "fmt"

// Strategy picks which backend serves the next request. Implementations must
// be safe for concurrent use; the proxy calls Next from every request.
type Strategy interface {
	Next(targets []string) string
	Name() string
}

// NewStrategy builds a strategy by config name. Empty defaults to round robin.
func NewStrategy(name string) (Strategy, error) {
	switch name {
	case "round-robin", "round_robin", "":
		return NewRoundRobin(), nil
	case "random":
		return NewRandom(), nil
	case "least-connections", "least_connections":
		return NewLeastConnections(), nil
	default:
		return nil, fmt.Errorf("unknown load balancing strategy: %s", name)
	}
}
