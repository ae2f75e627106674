package circuitbreaker

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBackend = errors.New("backend down")

func failing() error { return errBackend }
func passing() error { return nil }

func TestBreakerOpensAfterMaxFailures(t *testing.T) {
	b := New(Config{MaxFailures: 3, Timeout: time.Minute})

	for i := 0; i < 3; i++ {
		assert.ErrorIs(t, b.Call(failing), errBackend)
	}

	assert.Equal(t, StateOpen, b.State())
	assert.ErrorIs(t, b.Call(passing), ErrOpen)
}

func TestBreakerRecoversThroughHalfOpen(t *testing.T) {
	b := New(Config{MaxFailures: 1, Timeout: 10 * time.Millisecond})

	require.Error(t, b.Call(failing))
	require.Equal(t, StateOpen, b.State())

	time.Sleep(20 * time.Millisecond)

	require.NoError(t, b.Call(passing))
	assert.Equal(t, StateClosed, b.State())
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	b := New(Config{MaxFailures: 1, Timeout: 10 * time.Millisecond})

	require.Error(t, b.Call(failing))
	time.Sleep(20 * time.Millisecond)

	require.Error(t, b.Call(failing))
	assert.Equal(t, StateOpen, b.State())
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	b := New(Config{MaxFailures: 2, Timeout: time.Minute})

	require.Error(t, b.Call(failing))
	require.NoError(t, b.Call(passing))
	require.Error(t, b.Call(failing))

	assert.Equal(t, StateClosed, b.State())
}

func TestBreakerReset(t *testing.T) {
	b := New(Config{MaxFailures: 1, Timeout: time.Hour})

	require.Error(t, b.Call(failing))
	require.Equal(t, StateOpen, b.State())

	b.Reset()
	assert.Equal(t, StateClosed, b.State())
	assert.NoError(t, b.Call(passing))
}

func TestRegistryIsolatesTargets(t *testing.T) {
	r := NewRegistry(Config{MaxFailures: 1, Timeout: time.Hour})

	require.Error(t, r.Get("http://a:3001").Call(failing))

	assert.Equal(t, StateOpen, r.Get("http://a:3001").State())
	assert.Equal(t, StateClosed, r.Get("http://b:3002").State())

	r.ResetAll()
	assert.Equal(t, StateClosed, r.Get("http://a:3001").State())

	metrics := r.AllMetrics()
	assert.Len(t, metrics, 2)
}
