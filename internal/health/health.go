// Package health runs component health checks for the sentryd daemon.
//
// Components register a check function; the Checker runs them in
// parallel with a per-component timeout and aggregates the results.
// Critical components decide overall health, non-critical ones only
// degrade it. Results are surfaced to clients over IPC.
package health

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Status is an overall health verdict.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// Component is one checkable part of the daemon.
type Component struct {
	// Name identifies the component in results.
	Name string

	// Critical components make the daemon unhealthy when they fail.
	// Non-critical failures only degrade it.
	Critical bool

	// Check returns nil when the component is healthy.
	Check func(ctx context.Context) error

	// Timeout bounds a single check run. Zero means 5 seconds.
	Timeout time.Duration
}

// Result is the outcome of one component check.
type Result struct {
	Name     string        `json:"name"`
	Healthy  bool          `json:"healthy"`
	Critical bool          `json:"critical"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration_ns"`
}

// Checker runs registered component checks.
type Checker struct {
	mu         sync.RWMutex
	components map[string]Component
}

// NewChecker creates an empty Checker.
func NewChecker() *Checker {
	return &Checker{components: make(map[string]Component)}
}

// Register adds or replaces a component.
func (c *Checker) Register(comp Component) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if comp.Timeout == 0 {
		comp.Timeout = 5 * time.Second
	}
	c.components[comp.Name] = comp
}

// Unregister removes a component by name.
func (c *Checker) Unregister(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.components, name)
}

// Check runs every registered component check in parallel and returns
// the results sorted by component name.
func (c *Checker) Check(ctx context.Context) []Result {
	c.mu.RLock()
	components := make([]Component, 0, len(c.components))
	for _, comp := range c.components {
		components = append(components, comp)
	}
	c.mu.RUnlock()

	results := make([]Result, len(components))
	var wg sync.WaitGroup
	for i, comp := range components {
		wg.Add(1)
		go func(i int, comp Component) {
			defer wg.Done()
			results[i] = runCheck(ctx, comp)
		}(i, comp)
	}
	wg.Wait()

	sort.Slice(results, func(i, j int) bool { return results[i].Name < results[j].Name })
	return results
}

// Overall aggregates results: any failed critical component is
// unhealthy, any other failure is degraded.
func Overall(results []Result) Status {
	status := StatusHealthy
	for _, r := range results {
		if r.Healthy {
			continue
		}
		if r.Critical {
			return StatusUnhealthy
		}
		status = StatusDegraded
	}
	return status
}

func runCheck(ctx context.Context, comp Component) Result {
	start := time.Now()
	result := Result{Name: comp.Name, Critical: comp.Critical}

	ctx, cancel := context.WithTimeout(ctx, comp.Timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("check panicked: %v", r)
			}
		}()
		done <- comp.Check(ctx)
	}()

	select {
	case err := <-done:
		result.Duration = time.Since(start)
		if err != nil {
			result.Error = err.Error()
		} else {
			result.Healthy = true
		}
	case <-ctx.Done():
		result.Duration = time.Since(start)
		result.Error = fmt.Sprintf("check timed out after %v", comp.Timeout)
	}
	return result
}
