package health

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckAllHealthy(t *testing.T) {
	c := NewChecker()
	c.Register(Component{Name: "platform", Critical: true, Check: func(context.Context) error { return nil }})
	c.Register(Component{Name: "journal", Check: func(context.Context) error { return nil }})

	results := c.Check(context.Background())
	require.Len(t, results, 2)
	assert.Equal(t, "journal", results[0].Name)
	assert.Equal(t, "platform", results[1].Name)
	assert.Equal(t, StatusHealthy, Overall(results))
}

func TestCriticalFailureIsUnhealthy(t *testing.T) {
	c := NewChecker()
	c.Register(Component{Name: "platform", Critical: true, Check: func(context.Context) error {
		return errors.New("bridge down")
	}})
	c.Register(Component{Name: "journal", Check: func(context.Context) error { return nil }})

	results := c.Check(context.Background())
	assert.Equal(t, StatusUnhealthy, Overall(results))
}

func TestNonCriticalFailureDegrades(t *testing.T) {
	c := NewChecker()
	c.Register(Component{Name: "platform", Critical: true, Check: func(context.Context) error { return nil }})
	c.Register(Component{Name: "journal", Check: func(context.Context) error {
		return errors.New("database locked")
	}})

	results := c.Check(context.Background())
	assert.Equal(t, StatusDegraded, Overall(results))
}

func TestCheckTimeout(t *testing.T) {
	c := NewChecker()
	c.Register(Component{
		Name:    "slow",
		Timeout: 50 * time.Millisecond,
		Check: func(ctx context.Context) error {
			<-ctx.Done()
			time.Sleep(time.Second)
			return nil
		},
	})

	start := time.Now()
	results := c.Check(context.Background())
	require.Len(t, results, 1)
	assert.False(t, results[0].Healthy)
	assert.Contains(t, results[0].Error, "timed out")
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestCheckPanicRecovered(t *testing.T) {
	c := NewChecker()
	c.Register(Component{Name: "flaky", Check: func(context.Context) error {
		panic("boom")
	}})

	results := c.Check(context.Background())
	require.Len(t, results, 1)
	assert.False(t, results[0].Healthy)
	assert.Contains(t, results[0].Error, "panicked")
}

func TestUnregister(t *testing.T) {
	c := NewChecker()
	c.Register(Component{Name: "gone", Check: func(context.Context) error { return nil }})
	c.Unregister("gone")
	assert.Empty(t, c.Check(context.Background()))
}
