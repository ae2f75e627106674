package loadbalancer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var targets = []string{"http://a:3001", "http://b:3002", "http://c:3003"}

func TestRoundRobinCycles(t *testing.T) {
	rr := NewRoundRobin()

	assert.Equal(t, targets[0], rr.Next(targets))
	assert.Equal(t, targets[1], rr.Next(targets))
	assert.Equal(t, targets[2], rr.Next(targets))
	assert.Equal(t, targets[0], rr.Next(targets))
}

func TestRoundRobinEmptyTargets(t *testing.T) {
	assert.Empty(t, NewRoundRobin().Next(nil))
}

func TestRandomStaysWithinTargets(t *testing.T) {
	r := NewRandom()

	for i := 0; i < 50; i++ {
		assert.Contains(t, targets, r.Next(targets))
	}
	assert.Empty(t, r.Next(nil))
}

func TestLeastConnectionsPrefersIdle(t *testing.T) {
	lc := NewLeastConnections()

	lc.Acquire(targets[0])
	lc.Acquire(targets[0])
	lc.Acquire(targets[1])

	assert.Equal(t, targets[2], lc.Next(targets))

	lc.Acquire(targets[2])
	lc.Acquire(targets[2])
	lc.Release(targets[0])
	lc.Release(targets[0])

	assert.Equal(t, targets[0], lc.Next(targets))
}

func TestNewStrategy(t *testing.T) {
	for name, want := range map[string]string{
		"":                  "round_robin",
		"round-robin":       "round_robin",
		"random":            "random",
		"least_connections": "least_connections",
	} {
		s, err := NewStrategy(name)
		require.NoError(t, err)
		assert.Equal(t, want, s.Name())
	}

	_, err := NewStrategy("bogus")
	assert.Error(t, err)
}
